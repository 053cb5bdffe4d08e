// Package elastictest provides an in-memory stand-in for the parts of an
// Elasticsearch cluster used by the tap: _search with sort, search_after,
// range filters, size and _source filtering, plus _alias discovery.
package elastictest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

// Doc is a stored document. A nil Source is served without _source.
type Doc struct {
	ID     string
	Source map[string]interface{}
}

// Cluster is a mock cluster served by an httptest.Server that is closed via
// t.Cleanup.
type Cluster struct {
	URL string

	mu       sync.Mutex
	indices  map[string][]Doc
	aliases  map[string][]string
	searches []map[string]interface{}

	failStatus int
	failBody   string
	bodyError  bool

	// TotalCap caps the reported total, reporting relation "gte" above it.
	TotalCap int
	// LegacyTotal reports hits.total as a bare integer.
	LegacyTotal bool
	// TotalOverride, when non-negative, replaces the computed total.
	TotalOverride int
	// OmitSort drops sort values from every hit.
	OmitSort bool
}

func NewCluster(t testing.TB) *Cluster {
	c := &Cluster{
		indices:       make(map[string][]Doc),
		aliases:       make(map[string][]string),
		TotalOverride: -1,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", c.handle)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	c.URL = srv.URL

	return c
}

// AddIndex creates index with the given aliases.
func (c *Cluster) AddIndex(index string, aliases ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.indices[index]; !ok {
		c.indices[index] = nil
	}
	c.aliases[index] = append(c.aliases[index], aliases...)
}

// Index stores docs in index, creating it if needed.
func (c *Cluster) Index(index string, docs ...Doc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.indices[index] = append(c.indices[index], docs...)
}

// FailSearch makes every following search answer with status and body.
func (c *Cluster) FailSearch(status int, body string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failStatus = status
	c.failBody = body
}

// FailSearchInBody makes every following search answer 200 with an error
// object in the body.
func (c *Cluster) FailSearchInBody() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bodyError = true
}

// Searches returns the decoded bodies of all search requests received.
func (c *Cluster) Searches() []map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]map[string]interface{}(nil), c.searches...)
}

func (c *Cluster) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")

	path := strings.Trim(r.URL.Path, "/")
	switch {
	case path == "":
		fmt.Fprint(w, `{"name":"elastictest","cluster_name":"elastictest","version":{"number":"8.15.0","build_flavor":"default"},"tagline":"You Know, for Search"}`)
	case path == "_alias" || path == "_aliases":
		c.handleAliases(w)
	case strings.HasSuffix(path, "/_search"):
		c.handleSearch(w, r, strings.TrimSuffix(path, "/_search"))
	default:
		http.Error(w, `{"error":"unsupported"}`, http.StatusNotFound)
	}
}

func (c *Cluster) handleAliases(w http.ResponseWriter) {
	c.mu.Lock()
	defer c.mu.Unlock()

	resp := make(map[string]interface{}, len(c.indices))
	for index := range c.indices {
		aliases := make(map[string]interface{})
		for _, alias := range c.aliases[index] {
			aliases[alias] = map[string]interface{}{}
		}
		resp[index] = map[string]interface{}{"aliases": aliases}
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func (c *Cluster) handleSearch(w http.ResponseWriter, r *http.Request, target string) {
	var body map[string]interface{}
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		http.Error(w, fmt.Sprintf(`{"error":{"type":"parse_exception","reason":%q}}`, err.Error()), http.StatusBadRequest)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.searches = append(c.searches, body)

	if c.failStatus != 0 {
		w.WriteHeader(c.failStatus)
		fmt.Fprint(w, c.failBody)
		return
	}
	if c.bodyError {
		fmt.Fprint(w, `{"error":{"type":"search_phase_execution_exception","reason":"all shards failed"},"status":400}`)
		return
	}

	type indexed struct {
		index string
		doc   Doc
	}
	targets := c.resolve(target)
	if len(targets) == 0 {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, `{"error":{"type":"index_not_found_exception","reason":"no such index [%s]"},"status":404}`, target)
		return
	}

	var docs []indexed
	for _, index := range targets {
		for _, doc := range c.indices[index] {
			docs = append(docs, indexed{index: index, doc: doc})
		}
	}

	query, _ := body["query"].(map[string]interface{})
	matched := docs[:0:0]
	for _, d := range docs {
		if matches(query, d.doc) {
			matched = append(matched, d)
		}
	}

	total := len(matched)

	sortFields := parseSort(body["sort"])
	sort.SliceStable(matched, func(i, j int) bool {
		return compareTuple(sortValues(sortFields, matched[i].doc), sortValues(sortFields, matched[j].doc)) < 0
	})

	if after, ok := body["search_after"].([]interface{}); ok {
		start := len(matched)
		for i, d := range matched {
			if compareTuple(sortValues(sortFields, d.doc), after) > 0 {
				start = i
				break
			}
		}
		matched = matched[start:]
	}

	size := 10
	if n, ok := body["size"].(json.Number); ok {
		if v, err := n.Int64(); err == nil {
			size = int(v)
		}
	}
	if len(matched) > size {
		matched = matched[:size]
	}

	includes := sourceFields(body["_source"])
	hits := make([]map[string]interface{}, 0, len(matched))
	for _, d := range matched {
		hit := map[string]interface{}{
			"_index": d.index,
			"_id":    d.doc.ID,
			"_score": nil,
		}
		if d.doc.Source != nil {
			hit["_source"] = filterSource(d.doc.Source, includes)
		}
		if len(sortFields) > 0 && !c.OmitSort {
			hit["sort"] = sortValues(sortFields, d.doc)
		}
		hits = append(hits, hit)
	}

	if c.TotalOverride >= 0 {
		total = c.TotalOverride
	}
	var totalValue interface{} = map[string]interface{}{"value": total, "relation": "eq"}
	if c.TotalCap > 0 && total > c.TotalCap {
		totalValue = map[string]interface{}{"value": c.TotalCap, "relation": "gte"}
	}
	if c.LegacyTotal {
		totalValue = total
	}

	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(map[string]interface{}{
		"took":      1,
		"timed_out": false,
		"hits": map[string]interface{}{
			"total":     totalValue,
			"max_score": nil,
			"hits":      hits,
		},
	})
	_, _ = w.Write(buf.Bytes())
}

func (c *Cluster) resolve(target string) []string {
	if _, ok := c.indices[target]; ok {
		return []string{target}
	}
	var indices []string
	for index, aliases := range c.aliases {
		for _, alias := range aliases {
			if alias == target {
				indices = append(indices, index)
			}
		}
	}
	sort.Strings(indices)
	return indices
}

func matches(query map[string]interface{}, doc Doc) bool {
	if len(query) == 0 {
		return true
	}
	if _, ok := query["match_all"]; ok {
		return true
	}
	if rq, ok := query["range"].(map[string]interface{}); ok {
		for field, bounds := range rq {
			b, _ := bounds.(map[string]interface{})
			v := fieldValue(doc, field)
			if v == nil {
				return false
			}
			if gte, ok := b["gte"]; ok && compare(v, gte) < 0 {
				return false
			}
			if lte, ok := b["lte"]; ok && compare(v, lte) > 0 {
				return false
			}
		}
		return true
	}
	if bq, ok := query["bool"].(map[string]interface{}); ok {
		for _, occur := range []string{"filter", "must"} {
			clauses, _ := bq[occur].([]interface{})
			for _, clause := range clauses {
				if q, ok := clause.(map[string]interface{}); ok && !matches(q, doc) {
					return false
				}
			}
		}
		return true
	}
	return false
}

func sourceFields(raw interface{}) []string {
	list, _ := raw.([]interface{})
	fields := make([]string, 0, len(list))
	for _, f := range list {
		if s, ok := f.(string); ok {
			fields = append(fields, s)
		}
	}
	return fields
}

// filterSource keeps the listed fields. Dots address nested objects.
func filterSource(src map[string]interface{}, fields []string) map[string]interface{} {
	if len(fields) == 0 {
		return src
	}
	out := make(map[string]interface{})
	for _, field := range fields {
		if v, ok := src[field]; ok {
			out[field] = v
			continue
		}
		parts := strings.Split(field, ".")
		cur, dst := src, out
		for i, part := range parts {
			v, ok := cur[part]
			if !ok {
				break
			}
			if i == len(parts)-1 {
				dst[part] = v
				break
			}
			next, ok := v.(map[string]interface{})
			if !ok {
				break
			}
			child, _ := dst[part].(map[string]interface{})
			if child == nil {
				child = make(map[string]interface{})
				dst[part] = child
			}
			cur, dst = next, child
		}
	}
	return out
}

func parseSort(raw interface{}) []string {
	entries, _ := raw.([]interface{})
	fields := make([]string, 0, len(entries))
	for _, entry := range entries {
		switch e := entry.(type) {
		case string:
			fields = append(fields, e)
		case map[string]interface{}:
			for field := range e {
				fields = append(fields, field)
			}
		}
	}
	return fields
}

func sortValues(fields []string, doc Doc) []interface{} {
	values := make([]interface{}, 0, len(fields))
	for _, field := range fields {
		values = append(values, fieldValue(doc, field))
	}
	return values
}

func fieldValue(doc Doc, field string) interface{} {
	if field == "_id" {
		return doc.ID
	}
	var cur interface{} = doc.Source
	for _, part := range strings.Split(field, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur = m[part]
	}
	return cur
}

func compareTuple(a, b []interface{}) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return len(a) - len(b)
}

// compare orders numbers numerically, RFC 3339 timestamps chronologically
// and everything else as strings. Missing values sort last.
func compare(a, b interface{}) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}

	af, aNum := number(a)
	bf, bNum := number(b)
	if aNum && bNum {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	}

	as, bs := fmt.Sprint(a), fmt.Sprint(b)
	at, aErr := time.Parse(time.RFC3339Nano, as)
	bt, bErr := time.Parse(time.RFC3339Nano, bs)
	if aErr == nil && bErr == nil {
		return at.Compare(bt)
	}
	return strings.Compare(as, bs)
}

func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
