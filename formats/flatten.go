package formats

import (
	"sort"
)

// envelope are the record keys that describe the hit rather than the document.
var envelope = map[string]bool{
	"_id":     true,
	"_index":  true,
	"_type":   true,
	"_score":  true,
	"_source": true,
	"sort":    true,
}

// document returns the source of a record with the promoted replication key
// put back in.
func document(rec map[string]interface{}) map[string]interface{} {
	doc := make(map[string]interface{}, len(rec))
	if src, ok := rec["_source"].(map[string]interface{}); ok {
		for k, v := range src {
			doc[k] = v
		}
	}
	for k, v := range rec {
		if envelope[k] {
			continue
		}
		doc[k] = v
	}
	return doc
}

// flatten adds a dotted key for every value of a nested object. The nested
// objects themselves are kept.
func flatten(document map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(document))
	flattenInto(out, "", document)
	return out
}

func flattenInto(out map[string]interface{}, prefix string, document map[string]interface{}) {
	for k, v := range document {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		out[key] = v
		if nested, ok := v.(map[string]interface{}); ok {
			flattenInto(out, key, nested)
		}
	}
}

// leafKeys returns the sorted keys of all values that are not objects.
func leafKeys(flat map[string]interface{}) []string {
	keys := make([]string, 0, len(flat))
	for k, v := range flat {
		if _, ok := v.(map[string]interface{}); ok {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
