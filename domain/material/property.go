package material

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Well-known property names shared by the database adapters, rules and analysis
const (
	PropBandGap             = "band_gap"
	PropDensity             = "density"
	PropEnergyAboveHull     = "energy_above_hull"
	PropFormationEnergy     = "formation_energy"
	PropBulkModulus         = "bulk_modulus"
	PropShearModulus        = "shear_modulus"
	PropThermalConductivity = "thermal_conductivity"
	PropIsMetal             = "is_metal"
	PropCrystalSystem       = "crystal_system"
	PropNumElements         = "num_elements"
)

// ValueKind tags the dynamic type carried by a Value
type ValueKind string

const (
	KindNumber ValueKind = "number"
	KindText   ValueKind = "text"
	KindBool   ValueKind = "bool"
)

// Value is a numeric, categorical or boolean property value
type Value struct {
	Kind ValueKind
	Num  float64
	Text string
	Bool bool
}

func Number(f float64) Value { return Value{Kind: KindNumber, Num: f} }
func Text(s string) Value    { return Value{Kind: KindText, Text: s} }
func Bool(b bool) Value      { return Value{Kind: KindBool, Bool: b} }

// String renders the value for prompts and reports
func (v Value) String() string {
	switch v.Kind {
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	default:
		return v.Text
	}
}

// Interface returns the plain Go value
func (v Value) Interface() interface{} {
	switch v.Kind {
	case KindNumber:
		return v.Num
	case KindBool:
		return v.Bool
	default:
		return v.Text
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ValueOf(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ValueOf converts a decoded JSON or database value into a Value
func ValueOf(raw interface{}) (Value, error) {
	switch x := raw.(type) {
	case float64:
		return Number(x), nil
	case float32:
		return Number(float64(x)), nil
	case int:
		return Number(float64(x)), nil
	case int64:
		return Number(float64(x)), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return Value{}, err
		}
		return Number(f), nil
	case bool:
		return Bool(x), nil
	case string:
		return Text(x), nil
	default:
		return Value{}, fmt.Errorf("unsupported property value type %T", raw)
	}
}

// PropertyRecord maps property names to values
type PropertyRecord map[string]Value

// PropertyRecordFromMap converts a loosely-typed map, dropping nulls and nested values
func PropertyRecordFromMap(m map[string]interface{}) PropertyRecord {
	out := make(PropertyRecord, len(m))
	for k, raw := range m {
		if raw == nil {
			continue
		}
		v, err := ValueOf(raw)
		if err != nil {
			continue
		}
		out[k] = v
	}
	return out
}

// Get returns a value and whether it is present
func (p PropertyRecord) Get(field string) (Value, bool) {
	v, ok := p[field]
	return v, ok
}

// Number returns a numeric field
func (p PropertyRecord) Number(field string) (float64, bool) {
	v, ok := p[field]
	if !ok || v.Kind != KindNumber {
		return 0, false
	}
	return v.Num, true
}

// Has reports whether a field is present
func (p PropertyRecord) Has(field string) bool {
	_, ok := p[field]
	return ok
}

// Keys returns field names in sorted order
func (p PropertyRecord) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns an independent copy
func (p PropertyRecord) Clone() PropertyRecord {
	if p == nil {
		return nil
	}
	out := make(PropertyRecord, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Map returns the record as plain Go values
func (p PropertyRecord) Map() map[string]interface{} {
	out := make(map[string]interface{}, len(p))
	for k, v := range p {
		out[k] = v.Interface()
	}
	return out
}
