package elastic

const SortAsc = "asc"

// SearchBody is the request body of a single page request.
type SearchBody struct {
	Size        int
	Query       Query
	Sort        []SortField
	SearchAfter []interface{}
	// Source limits the returned _source to these fields, all when empty.
	Source []string
}

// SortField is one entry of the sort specification.
type SortField struct {
	Field string
	Order string
}

func (b SearchBody) Build() map[string]interface{} {
	body := make(map[string]interface{})
	if b.Size > 0 {
		body["size"] = b.Size
	}
	if b.Query != nil {
		body["query"] = b.Query.Build()
	}
	if len(b.Sort) > 0 {
		sort := make([]interface{}, 0, len(b.Sort))
		for _, s := range b.Sort {
			order := s.Order
			if order == "" {
				order = SortAsc
			}
			sort = append(sort, map[string]interface{}{
				s.Field: map[string]interface{}{"order": order},
			})
		}
		body["sort"] = sort
	}
	if len(b.SearchAfter) > 0 {
		body["search_after"] = b.SearchAfter
	}
	if len(b.Source) > 0 {
		body["_source"] = b.Source
	}
	return body
}

type QueryBuilder struct {
	query map[string]interface{}
}

func NewQueryBuilder() *QueryBuilder {
	return &QueryBuilder{
		query: make(map[string]interface{}),
	}
}

func (q *QueryBuilder) Build() map[string]interface{} {
	return q.query
}

type BoolQuery struct {
	builder *QueryBuilder
}

func NewBoolQuery() *BoolQuery {
	return &BoolQuery{
		builder: NewQueryBuilder(),
	}
}

func (q *BoolQuery) Filter(query Query) *BoolQuery {
	q.appendClause("filter", query)
	return q
}

func (q *BoolQuery) appendClause(occur string, query Query) {
	if q.builder.query["bool"] == nil {
		q.builder.query["bool"] = make(map[string]interface{})
	}
	boolQuery := q.builder.query["bool"].(map[string]interface{})
	if boolQuery[occur] == nil {
		boolQuery[occur] = []interface{}{}
	}
	boolQuery[occur] = append(boolQuery[occur].([]interface{}), query.Build())
}

func (q *BoolQuery) Build() map[string]interface{} {
	if len(q.builder.query) == 0 {
		return NewMatchAllQuery().Build()
	}
	return q.builder.Build()
}

type RangeQuery struct {
	builder *QueryBuilder
	field   string
}

func NewRangeQuery(field string) *RangeQuery {
	return &RangeQuery{
		builder: NewQueryBuilder(),
		field:   field,
	}
}

func (q *RangeQuery) Gte(value interface{}) *RangeQuery {
	q.bound()["gte"] = value
	return q
}

func (q *RangeQuery) bound() map[string]interface{} {
	if q.builder.query["range"] == nil {
		q.builder.query["range"] = make(map[string]interface{})
	}
	rangeQuery := q.builder.query["range"].(map[string]interface{})
	if rangeQuery[q.field] == nil {
		rangeQuery[q.field] = make(map[string]interface{})
	}
	return rangeQuery[q.field].(map[string]interface{})
}

func (q *RangeQuery) Build() map[string]interface{} {
	return q.builder.Build()
}

type MatchAllQuery struct {
	builder *QueryBuilder
}

func NewMatchAllQuery() *MatchAllQuery {
	return &MatchAllQuery{
		builder: NewQueryBuilder(),
	}
}

func (q *MatchAllQuery) Build() map[string]interface{} {
	q.builder.query["match_all"] = map[string]interface{}{}
	return q.builder.Build()
}
