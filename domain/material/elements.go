package material

// Element holds the per-element data used by the chemical screening filters.
// Electronegativity is on the Pauling scale, zero when undefined.
// IonicRadius is the Shannon radius in angstrom for the first listed oxidation state, zero when unknown.
type Element struct {
	Symbol            string
	Number            int
	Electronegativity float64
	OxidationStates   []int
	IonicRadius       float64
	Metal             bool
}

// HasElectronegativity reports whether a Pauling value is tabulated
func (e Element) HasElectronegativity() bool {
	return e.Electronegativity > 0
}

// NegativeStates returns the anionic oxidation states
func (e Element) NegativeStates() []int {
	var out []int
	for _, s := range e.OxidationStates {
		if s < 0 {
			out = append(out, s)
		}
	}
	return out
}

func el(sym string, z int, chi float64, radius float64, metal bool, states ...int) Element {
	return Element{Symbol: sym, Number: z, Electronegativity: chi, OxidationStates: states, IonicRadius: radius, Metal: metal}
}

var elementTable = []Element{
	el("H", 1, 2.20, 0, false, 1, -1),
	el("He", 2, 0, 0, false),
	el("Li", 3, 0.98, 0.76, true, 1),
	el("Be", 4, 1.57, 0.45, true, 2),
	el("B", 5, 2.04, 0.27, false, 3, -3),
	el("C", 6, 2.55, 0.16, false, 4, -4, 2),
	el("N", 7, 3.04, 1.46, false, -3, 3, 5),
	el("O", 8, 3.44, 1.40, false, -2),
	el("F", 9, 3.98, 1.33, false, -1),
	el("Ne", 10, 0, 0, false),
	el("Na", 11, 0.93, 1.02, true, 1),
	el("Mg", 12, 1.31, 0.72, true, 2),
	el("Al", 13, 1.61, 0.535, true, 3),
	el("Si", 14, 1.90, 0.40, false, 4, -4),
	el("P", 15, 2.19, 0.38, false, 5, 3, -3),
	el("S", 16, 2.58, 1.84, false, -2, 4, 6),
	el("Cl", 17, 3.16, 1.81, false, -1, 1, 5, 7),
	el("Ar", 18, 0, 0, false),
	el("K", 19, 0.82, 1.38, true, 1),
	el("Ca", 20, 1.00, 1.00, true, 2),
	el("Sc", 21, 1.36, 0.745, true, 3),
	el("Ti", 22, 1.54, 0.605, true, 4, 3, 2),
	el("V", 23, 1.63, 0.54, true, 5, 4, 3, 2),
	el("Cr", 24, 1.66, 0.615, true, 3, 6, 2),
	el("Mn", 25, 1.55, 0.83, true, 2, 3, 4, 7),
	el("Fe", 26, 1.83, 0.78, true, 2, 3),
	el("Co", 27, 1.88, 0.745, true, 2, 3),
	el("Ni", 28, 1.91, 0.69, true, 2),
	el("Cu", 29, 1.90, 0.73, true, 1, 2),
	el("Zn", 30, 1.65, 0.74, true, 2),
	el("Ga", 31, 1.81, 0.62, true, 3),
	el("Ge", 32, 2.01, 0.53, false, 4, 2),
	el("As", 33, 2.18, 0.58, false, 3, 5, -3),
	el("Se", 34, 2.55, 1.98, false, -2, 4, 6),
	el("Br", 35, 2.96, 1.96, false, -1, 1, 5),
	el("Kr", 36, 3.00, 0, false),
	el("Rb", 37, 0.82, 1.52, true, 1),
	el("Sr", 38, 0.95, 1.18, true, 2),
	el("Y", 39, 1.22, 0.90, true, 3),
	el("Zr", 40, 1.33, 0.72, true, 4),
	el("Nb", 41, 1.6, 0.64, true, 5, 3),
	el("Mo", 42, 2.16, 0.59, true, 6, 4),
	el("Tc", 43, 1.9, 0.645, true, 7, 4),
	el("Ru", 44, 2.2, 0.62, true, 3, 4),
	el("Rh", 45, 2.28, 0.665, true, 3),
	el("Pd", 46, 2.20, 0.86, true, 2, 4),
	el("Ag", 47, 1.93, 1.15, true, 1),
	el("Cd", 48, 1.69, 0.95, true, 2),
	el("In", 49, 1.78, 0.80, true, 3),
	el("Sn", 50, 1.96, 0.69, true, 4, 2),
	el("Sb", 51, 2.05, 0.76, false, 3, 5, -3),
	el("Te", 52, 2.1, 2.21, false, -2, 4, 6),
	el("I", 53, 2.66, 2.20, false, -1, 1, 5, 7),
	el("Xe", 54, 2.6, 0, false),
	el("Cs", 55, 0.79, 1.67, true, 1),
	el("Ba", 56, 0.89, 1.35, true, 2),
	el("La", 57, 1.10, 1.032, true, 3),
	el("Ce", 58, 1.12, 1.01, true, 3, 4),
	el("Pr", 59, 1.13, 0.99, true, 3),
	el("Nd", 60, 1.14, 0.983, true, 3),
	el("Pm", 61, 1.13, 0.97, true, 3),
	el("Sm", 62, 1.17, 0.958, true, 3, 2),
	el("Eu", 63, 1.2, 0.947, true, 3, 2),
	el("Gd", 64, 1.20, 0.938, true, 3),
	el("Tb", 65, 1.2, 0.923, true, 3),
	el("Dy", 66, 1.22, 0.912, true, 3),
	el("Ho", 67, 1.23, 0.901, true, 3),
	el("Er", 68, 1.24, 0.89, true, 3),
	el("Tm", 69, 1.25, 0.88, true, 3),
	el("Yb", 70, 1.1, 0.868, true, 3, 2),
	el("Lu", 71, 1.27, 0.861, true, 3),
	el("Hf", 72, 1.3, 0.71, true, 4),
	el("Ta", 73, 1.5, 0.64, true, 5),
	el("W", 74, 2.36, 0.60, true, 6, 4),
	el("Re", 75, 1.9, 0.63, true, 4, 7),
	el("Os", 76, 2.2, 0.63, true, 4),
	el("Ir", 77, 2.20, 0.68, true, 3, 4),
	el("Pt", 78, 2.28, 0.80, true, 2, 4),
	el("Au", 79, 2.54, 0.85, true, 3, 1),
	el("Hg", 80, 2.00, 1.02, true, 2, 1),
	el("Tl", 81, 1.62, 1.50, true, 1, 3),
	el("Pb", 82, 2.33, 1.19, true, 2, 4),
	el("Bi", 83, 2.02, 1.03, true, 3),
	el("Po", 84, 2.0, 0.94, true, 4, 2),
	el("At", 85, 2.2, 0, false, -1),
	el("Rn", 86, 2.2, 0, false),
	el("Fr", 87, 0.7, 1.80, true, 1),
	el("Ra", 88, 0.9, 1.48, true, 2),
	el("Ac", 89, 1.1, 1.12, true, 3),
	el("Th", 90, 1.3, 0.94, true, 4),
	el("Pa", 91, 1.5, 0.78, true, 5, 4),
	el("U", 92, 1.38, 0.73, true, 6, 4),
	el("Np", 93, 1.36, 0.75, true, 5),
	el("Pu", 94, 1.28, 0.86, true, 4),
}

var elementsBySymbol = func() map[string]Element {
	m := make(map[string]Element, len(elementTable))
	for _, e := range elementTable {
		m[e.Symbol] = e
	}
	return m
}()

// LookupElement returns the tabulated data for a symbol
func LookupElement(symbol string) (Element, bool) {
	e, ok := elementsBySymbol[symbol]
	return e, ok
}

// IsIntermetallic reports whether every element of the composition is a metal
func (c Composition) IsIntermetallic() bool {
	if len(c.Elements) < 2 {
		return false
	}
	for _, ec := range c.Elements {
		e, ok := LookupElement(ec.Symbol)
		if !ok || !e.Metal {
			return false
		}
	}
	return true
}
