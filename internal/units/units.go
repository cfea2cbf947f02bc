// Package units rewrites unit-suffixed settings values into simrun's
// canonical unit system: lengths in millimetres, energies in keV.
package units

import (
	"strconv"
	"strings"
)

// Unit is a suffix token and the factor that converts one of it into the
// canonical unit of its dimension.
type Unit struct {
	Token  string
	Factor float64
}

// Table is an ordered list of units. The first entry whose token is a suffix
// of a value wins, so a token that ends another token ("m" in "mm", "eV" in
// "keV") has to come after it.
type Table []Unit

// DefaultTable is the canonical unit table.
var DefaultTable = Table{
	{Token: "mm", Factor: 1},
	{Token: "cm", Factor: 10},
	{Token: "um", Factor: 1e-3},
	{Token: "nm", Factor: 1e-6},
	{Token: "km", Factor: 1e6},
	{Token: "m", Factor: 1000},
	{Token: "keV", Factor: 1},
	{Token: "MeV", Factor: 1000},
	{Token: "GeV", Factor: 1e6},
	{Token: "eV", Factor: 1e-3},
}

// Match returns the first unit whose token is a suffix of s.
func (t Table) Match(s string) (Unit, bool) {
	for _, u := range t {
		if strings.HasSuffix(s, u.Token) {
			return u, true
		}
	}
	return Unit{}, false
}

// Normalizer converts settings values using its table.
type Normalizer struct {
	Table Table
}

// NewNormalizer returns a Normalizer over DefaultTable.
func NewNormalizer() *Normalizer {
	return &Normalizer{Table: DefaultTable}
}

// Normalize rewrites every convertible string value of settings in place,
// descending into nested maps and lists, and returns settings.
// Numbers and strings without a recognized suffix are left as they are,
// so normalizing twice gives the same result as normalizing once.
func (n *Normalizer) Normalize(settings map[string]any) map[string]any {
	for k, v := range settings {
		settings[k] = n.value(v)
	}
	return settings
}

func (n *Normalizer) value(v any) any {
	switch x := v.(type) {
	case string:
		if out, ok := n.Convert(x); ok {
			return out
		}
		return x
	case map[string]any:
		return n.Normalize(x)
	case []any:
		for i := range x {
			x[i] = n.value(x[i])
		}
		return x
	default:
		return v
	}
}

// Convert converts a single unit-suffixed string. A scalar such as "3 cm"
// becomes float64(30); a whitespace separated vector such as "0 0 1 cm"
// becomes []any{0.0, 0.0, 10.0}. The bool is false when s carries no
// recognized token or the remainder is not numeric. Only the first
// matching table entry is tried.
func (n *Normalizer) Convert(s string) (any, bool) {
	table := n.Table
	if table == nil {
		table = DefaultTable
	}

	trimmed := strings.TrimSpace(s)
	u, ok := table.Match(trimmed)
	if !ok {
		return nil, false
	}

	fields := strings.Fields(strings.TrimSuffix(trimmed, u.Token))
	if len(fields) == 0 {
		return nil, false
	}

	nums := make([]float64, len(fields))
	for i, f := range fields {
		x, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, false
		}
		nums[i] = x * u.Factor
	}

	if len(nums) == 1 {
		return nums[0], true
	}
	out := make([]any, len(nums))
	for i, x := range nums {
		out[i] = x
	}
	return out, true
}

// Normalize applies the default normalizer to settings.
func Normalize(settings map[string]any) map[string]any {
	return NewNormalizer().Normalize(settings)
}
