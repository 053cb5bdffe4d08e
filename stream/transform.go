package stream

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/pteich/elastic-tap/elastic"
)

// Record is one output unit of a stream.
type Record map[string]interface{}

var (
	ErrNoSource        = errors.New("hit has no _source")
	ErrMalformedSource = errors.New("hit _source is not a JSON object")
	ErrVetoed          = errors.New("record vetoed")
)

// VetoFunc returns true to drop a record.
type VetoFunc func(Record) bool

// Transformer turns raw hits into records. All errors it returns mean the
// hit is skipped; none of them is fatal.
type Transformer struct {
	def  Definition
	veto VetoFunc
}

func NewTransformer(def Definition, veto VetoFunc) *Transformer {
	return &Transformer{def: def, veto: veto}
}

func (t *Transformer) Transform(hit elastic.Hit) (Record, error) {
	raw := bytes.TrimSpace(hit.Source)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, fmt.Errorf("%s: %w", hit.ID, ErrNoSource)
	}

	var source map[string]interface{}
	if err := elastic.JSON.Unmarshal(raw, &source); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", hit.ID, ErrMalformedSource, err)
	}

	rec := Record{
		"_id":    hit.ID,
		"_index": hit.Index,
		"_score": hit.Score,
		"sort":   hit.Sort,
	}
	if hit.Type != "" {
		rec["_type"] = hit.Type
	}

	if t.def.Incremental() {
		if v, ok := popPath(source, t.def.sourceKey()); ok {
			rec[t.def.BookmarkProperty()] = v
		}
	}

	rec["_source"] = SanitizeKeys(source)

	if t.veto != nil && t.veto(rec) {
		return nil, fmt.Errorf("%s: %w", hit.ID, ErrVetoed)
	}
	return rec, nil
}

// popPath removes the value at path from m. A key containing dots is tried
// literally before it is treated as a nested path.
func popPath(m map[string]interface{}, path string) (interface{}, bool) {
	if v, ok := m[path]; ok {
		delete(m, path)
		return v, true
	}

	parts := strings.Split(path, ".")
	cur := m
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur = next
	}

	leaf := parts[len(parts)-1]
	v, ok := cur[leaf]
	if ok {
		delete(cur, leaf)
	}
	return v, ok
}
