package catalog

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	dec "github.com/rezonia/nfse-dps/internal/decimal"
)

// rateKeys are the field names the parameters API has used for the rate,
// in order of preference. Matching is case-insensitive.
var rateKeys = []string{"aliquota", "aliq", "paliq", "valoraliquota", "percentualaliquota"}

// ExtractRate finds the first numeric rate in a catalog payload. Direct
// fields of a map win over nested ones; nested maps are searched in key order.
func ExtractRate(payload map[string]any) (decimal.Decimal, bool) {
	return findRate(payload, 0)
}

func findRate(v any, depth int) (decimal.Decimal, bool) {
	if depth > 8 {
		return decimal.Zero, false
	}

	switch t := v.(type) {
	case map[string]any:
		lower := make(map[string]any, len(t))
		keys := make([]string, 0, len(t))
		for k, val := range t {
			lower[strings.ToLower(k)] = val
			keys = append(keys, k)
		}
		for _, rk := range rateKeys {
			if val, ok := lower[rk]; ok {
				if d, ok := toDecimal(val); ok {
					return d, true
				}
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			if d, ok := findRate(t[k], depth+1); ok {
				return d, true
			}
		}
	case []any:
		for _, item := range t {
			if d, ok := findRate(item, depth+1); ok {
				return d, true
			}
		}
	}
	return decimal.Zero, false
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(t), true
	case string:
		d, err := dec.FromLocalized(t)
		return d, err == nil
	}
	return decimal.Zero, false
}
