package converter

// preservedKeys survive cleaning even when their value is empty. They apply
// to the Bundle itself, its entries and their requests, never inside a resource.
var preservedKeys = map[string]bool{
	"resourceType": true,
	"type":         true,
	"entry":        true,
	"request":      true,
	"method":       true,
	"url":          true,
}

// Clean strips null, "", "null", "undefined" and containers left empty by
// that removal, bottom-up. Running it on its own output changes nothing.
func Clean(doc map[string]any) map[string]any {
	out, _ := cleanMap(doc, true)
	if out == nil {
		return map[string]any{}
	}
	return out
}

// cleanValue returns the cleaned value and whether it should be kept.
// structural reports whether v sits on the Bundle/entry/request path.
func cleanValue(v any, structural bool) (any, bool) {
	switch t := v.(type) {
	case nil:
		return nil, false
	case string:
		if t == "" || t == "null" || t == "undefined" {
			return nil, false
		}
		return t, true
	case map[string]any:
		m, ok := cleanMap(t, structural)
		return m, ok
	case []any:
		s, ok := cleanSlice(t, structural)
		return s, ok
	default:
		return v, true
	}
}

func cleanMap(m map[string]any, structural bool) (map[string]any, bool) {
	out := make(map[string]any, len(m))
	for k, v := range m {
		cleaned, keep := cleanValue(v, structural && (k == "entry" || k == "request"))
		if keep {
			out[k] = cleaned
			continue
		}
		if structural && preservedKeys[k] {
			out[k] = emptyLike(v)
		}
	}
	return out, len(out) > 0
}

func cleanSlice(s []any, structural bool) ([]any, bool) {
	out := make([]any, 0, len(s))
	for _, v := range s {
		if cleaned, keep := cleanValue(v, structural); keep {
			out = append(out, cleaned)
		}
	}
	return out, len(out) > 0
}

// emptyLike gives a preserved key the empty form of its original kind.
func emptyLike(v any) any {
	switch v.(type) {
	case map[string]any:
		return map[string]any{}
	case []any:
		return []any{}
	default:
		return ""
	}
}
