package elastic

import (
	"context"
	"encoding/json"
)

// Client is a version specific Elasticsearch client that can page through
// search results and list index aliases.
type Client interface {
	PageFetcher
	Discoverer
	Stop()
}

// PageFetcher executes exactly one search request per call against the
// named index or alias. Implementations never retry.
type PageFetcher interface {
	Search(ctx context.Context, index string, body SearchBody) (*Page, error)
}

// Discoverer lists the indices of a cluster together with their aliases.
type Discoverer interface {
	Aliases(ctx context.Context) (map[string][]string, error)
}

type Query interface {
	Build() map[string]interface{}
}

// Page is one response of a paged search request.
type Page struct {
	Hits []Hit

	// Total is the hit count reported by the cluster. It is only meaningful
	// when TotalKnown is set and may be a lower bound, see TotalRelation.
	Total         int64
	TotalRelation string
	TotalKnown    bool
}

// TotalExact reports whether Total is an exact count instead of a lower bound.
func (p *Page) TotalExact() bool {
	return p.TotalKnown && (p.TotalRelation == "" || p.TotalRelation == "eq")
}

// LastSort returns the sort values of the last hit, or nil.
func (p *Page) LastSort() []interface{} {
	if len(p.Hits) == 0 {
		return nil
	}
	return p.Hits[len(p.Hits)-1].Sort
}

// Hit is a single raw document of a search response.
type Hit struct {
	ID     string          `json:"_id"`
	Index  string          `json:"_index"`
	Type   string          `json:"_type,omitempty"`
	Score  *float64        `json:"_score"`
	Source json.RawMessage `json:"_source,omitempty"`
	Sort   []interface{}   `json:"sort,omitempty"`
}
