package formats

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/pteich/elastic-tap/elastic"
	"github.com/pteich/elastic-tap/stream"
)

// CatalogEntry describes one discovered stream.
type CatalogEntry struct {
	TapStreamID       string          `json:"tap_stream_id"`
	Stream            string          `json:"stream"`
	Index             string          `json:"index"`
	KeyProperties     []string        `json:"key_properties"`
	ReplicationMethod stream.Mode     `json:"replication_method"`
	ReplicationKey    string          `json:"replication_key,omitempty"`
	ReplicationKind   stream.Kind     `json:"replication_key_kind,omitempty"`
	Schema            json.RawMessage `json:"schema"`
}

type Catalog struct {
	Streams []CatalogEntry `json:"streams"`
}

// WriteCatalog writes the catalog of the given streams as indented JSON.
func WriteCatalog(ctx context.Context, w io.Writer, defs []stream.Definition, schemas stream.SchemaProvider) error {
	catalog := Catalog{Streams: make([]CatalogEntry, 0, len(defs))}
	for _, def := range defs {
		schema, err := schemas.Schema(ctx, def)
		if err != nil {
			return fmt.Errorf("schema of %s: %w", def.Name, err)
		}

		entry := CatalogEntry{
			TapStreamID:       def.Name,
			Stream:            def.Name,
			Index:             def.Index,
			KeyProperties:     def.KeyProperties(),
			ReplicationMethod: def.Mode,
			Schema:            schema,
		}
		if def.Incremental() {
			entry.ReplicationKey = def.BookmarkProperty()
			entry.ReplicationKind = def.KeyKind
		}
		catalog.Streams = append(catalog.Streams, entry)
	}

	data, err := elastic.JSON.MarshalIndent(catalog, "", "  ")
	if err != nil {
		return err
	}
	_, err = w.Write(append(data, '\n'))
	return err
}
