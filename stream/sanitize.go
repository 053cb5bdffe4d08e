package stream

import "strings"

var keyReplacer = strings.NewReplacer(" ", "_", "-", "_", "&", "_", "/", "_")

// SanitizeKey replaces characters that are not valid in identifiers of
// strictly typed destinations.
func SanitizeKey(key string) string {
	return keyReplacer.Replace(key)
}

// SanitizeKeys rewrites every object key in v, depth first through nested
// objects and arrays. Leaf values are returned unchanged.
func SanitizeKeys(v interface{}) interface{} {
	switch x := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(x))
		for k, val := range x {
			out[SanitizeKey(k)] = SanitizeKeys(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, val := range x {
			out[i] = SanitizeKeys(val)
		}
		return out
	default:
		return v
	}
}
