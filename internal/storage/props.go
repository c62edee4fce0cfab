package storage

import "math"

// normalizeProps undoes the JSON round trip so reloaded values compare
// equal to freshly built ones: integral float64 back to int, homogeneous
// string arrays back to []string.
func normalizeProps(props map[string]any) map[string]any {
	if props == nil {
		return nil
	}
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case float64:
		if val == math.Trunc(val) && !math.IsInf(val, 0) {
			return int(val)
		}
		return val
	case []any:
		strs := make([]string, 0, len(val))
		allStrings := true
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				allStrings = false
				break
			}
			strs = append(strs, s)
		}
		if allStrings {
			return strs
		}
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	case map[string]any:
		return normalizeProps(val)
	default:
		return v
	}
}
