package feasibility

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gomatter/domain/material"
)

// prototype families keyed by integer stoichiometric ratio, cations first and the anion last
var ionicPrototypes = map[string][]string{
	"1:1":   {"rock-salt", "cesium-chloride", "zinc-blende", "wurtzite"},
	"1:2":   {"fluorite", "rutile"},
	"2:1":   {"anti-fluorite"},
	"2:3":   {"corundum", "bixbyite"},
	"1:3":   {"ReO3"},
	"3:4":   {"spinel"},
	"1:1:3": {"perovskite", "ilmenite"},
	"1:2:4": {"spinel", "inverse-spinel", "olivine"},
}

var intermetallicPrototypes = map[string][]string{
	"1:1": {"B2", "L1_0"},
	"1:3": {"L1_2", "D0_19"},
	"1:2": {"C15-Laves", "C14-Laves"},
}

var elementalPrototypes = []string{"fcc", "bcc", "hcp"}

// maxScale bounds the multiplier tried when turning fractional counts into integers
const maxScale = 12

// RatioKey returns the reduced integer stoichiometry used to select prototypes.
// Ionic compositions list cation counts ascending followed by the anion count;
// intermetallics list all counts ascending.
func RatioKey(comp material.Composition, roles Roles) (string, bool) {
	counts, ok := integerCounts(comp)
	if !ok {
		return "", false
	}
	if roles.Elemental {
		return "1", true
	}

	var ordered []int
	if roles.Intermetallic {
		for _, ec := range comp.Elements {
			ordered = append(ordered, counts[ec.Symbol])
		}
		sort.Ints(ordered)
	} else {
		for _, sym := range roles.Cations {
			ordered = append(ordered, counts[sym])
		}
		// Binary keys keep cation:anion orientation
		if len(ordered) > 1 {
			sort.Ints(ordered)
		}
		ordered = append(ordered, counts[roles.Anion])
	}

	g := ordered[0]
	for _, c := range ordered[1:] {
		g = gcdInt(g, c)
	}
	parts := make([]string, len(ordered))
	for i, c := range ordered {
		parts[i] = fmt.Sprint(c / g)
	}
	return strings.Join(parts, ":"), true
}

// Prototypes returns the candidate structure families for a composition, possibly none
func Prototypes(comp material.Composition, roles Roles) []string {
	if roles.Elemental {
		return append([]string(nil), elementalPrototypes...)
	}
	key, ok := RatioKey(comp, roles)
	if !ok {
		return nil
	}
	table := ionicPrototypes
	if roles.Intermetallic {
		table = intermetallicPrototypes
	}
	return append([]string(nil), table[key]...)
}

func integerCounts(comp material.Composition) (map[string]int, bool) {
	for scale := 1; scale <= maxScale; scale++ {
		out := make(map[string]int, comp.NumElements())
		ok := true
		for _, ec := range comp.Elements {
			v := ec.Count * float64(scale)
			r := math.Round(v)
			if math.Abs(v-r) > 1e-6 || r < 1 {
				ok = false
				break
			}
			out[ec.Symbol] = int(r)
		}
		if ok {
			return out, true
		}
	}
	return nil, false
}

func gcdInt(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
