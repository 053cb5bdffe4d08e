package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pteich/elastic-tap/elastic"
)

// SchemaProvider supplies the JSON schema emitted for a stream.
type SchemaProvider interface {
	Schema(ctx context.Context, def Definition) (json.RawMessage, error)
}

// GenericSchema describes the search hit envelope with an arbitrary
// _source object. Incremental streams get their promoted key as well.
type GenericSchema struct{}

func (GenericSchema) Schema(_ context.Context, def Definition) (json.RawMessage, error) {
	nullableString := map[string]interface{}{"type": []string{"null", "string"}}
	properties := map[string]interface{}{
		"_index":  nullableString,
		"_id":     nullableString,
		"_type":   nullableString,
		"_score":  map[string]interface{}{"type": []string{"null", "number"}},
		"sort":    map[string]interface{}{"type": []string{"null", "array"}},
		"_source": map[string]interface{}{"type": []string{"null", "object"}, "additionalProperties": true},
	}

	if def.Incremental() {
		properties[def.BookmarkProperty()] = keySchema(def.KeyKind)
	}

	return elastic.JSON.Marshal(map[string]interface{}{
		"type":       "object",
		"properties": properties,
	})
}

func keySchema(kind Kind) map[string]interface{} {
	switch kind {
	case KindTimestamp:
		return map[string]interface{}{"type": []string{"null", "string"}, "format": "date-time"}
	case KindEpoch:
		return map[string]interface{}{"type": []string{"null", "integer"}}
	case KindNumeric:
		return map[string]interface{}{"type": []string{"null", "number"}}
	case KindString:
		return map[string]interface{}{"type": []string{"null", "string"}}
	}
	return map[string]interface{}{}
}

// DirSchema reads <dir>/<stream>.json and falls back to the generic schema
// when the file does not exist.
type DirSchema struct {
	Dir string
}

func (d DirSchema) Schema(ctx context.Context, def Definition) (json.RawMessage, error) {
	if len(def.Schema) > 0 {
		return def.Schema, nil
	}

	path := filepath.Join(d.Dir, def.Name+".json")
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return GenericSchema{}.Schema(ctx, def)
	case err != nil:
		return nil, fmt.Errorf("read schema %s: %w", path, err)
	}

	var schema map[string]interface{}
	if err := elastic.JSON.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("schema %s is not a JSON object: %w", path, err)
	}
	return data, nil
}
