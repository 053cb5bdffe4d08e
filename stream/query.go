package stream

import (
	"errors"
	"fmt"

	"github.com/pteich/elastic-tap/elastic"
)

const DefaultPageSize = 1000

// ErrCursorMismatch is returned when a cursor does not fit the sort of the
// stream, e.g. after the sort settings changed between two pages.
var ErrCursorMismatch = errors.New("search_after cursor does not match sort specification")

// Cursor is the search_after value taken from the last hit of a page.
type Cursor []interface{}

// Strategy builds the query and sort of one replication mode.
type Strategy interface {
	Query(def Definition, start Bookmark) elastic.Query
	Sort(def Definition) []elastic.SortField
}

var strategies = map[Mode]Strategy{
	ModeFull:        fullStrategy{},
	ModeIncremental: incrementalStrategy{},
}

// StrategyFor returns the strategy registered for mode.
func StrategyFor(mode Mode) (Strategy, error) {
	s, ok := strategies[mode]
	if !ok {
		return nil, fmt.Errorf("no query strategy for replication mode %q", mode)
	}
	return s, nil
}

type fullStrategy struct{}

func (fullStrategy) Query(Definition, Bookmark) elastic.Query {
	return elastic.NewMatchAllQuery()
}

func (fullStrategy) Sort(def Definition) []elastic.SortField {
	return withTiebreaker(sortBy(def.KeyProperties()...), def.Tiebreaker)
}

type incrementalStrategy struct{}

func (incrementalStrategy) Query(def Definition, start Bookmark) elastic.Query {
	if start.IsZero() {
		return elastic.NewMatchAllQuery()
	}
	return elastic.NewBoolQuery().Filter(
		elastic.NewRangeQuery(def.sourceKey()).Gte(start.QueryValue()),
	)
}

func (incrementalStrategy) Sort(def Definition) []elastic.SortField {
	return withTiebreaker(sortBy(def.sourceKey()), def.Tiebreaker)
}

// BuildSearch creates the request body for the next page of def. cursor is
// nil for the first page.
func BuildSearch(def Definition, start Bookmark, cursor Cursor, pageSize int) (elastic.SearchBody, error) {
	strategy, err := StrategyFor(def.Mode)
	if err != nil {
		return elastic.SearchBody{}, err
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	body := elastic.SearchBody{
		Size:   pageSize,
		Query:  strategy.Query(def, start),
		Sort:   strategy.Sort(def),
		Source: def.sourceFields(),
	}

	if cursor != nil {
		if len(cursor) != len(body.Sort) {
			return elastic.SearchBody{}, fmt.Errorf("%w: %d values for %d sort fields", ErrCursorMismatch, len(cursor), len(body.Sort))
		}
		body.SearchAfter = cursor
	}

	return body, nil
}

func sortBy(fields ...string) []elastic.SortField {
	sort := make([]elastic.SortField, 0, len(fields)+1)
	for _, f := range fields {
		sort = append(sort, elastic.SortField{Field: f, Order: elastic.SortAsc})
	}
	return sort
}

func withTiebreaker(sort []elastic.SortField, tiebreaker string) []elastic.SortField {
	if tiebreaker == "" {
		return sort
	}
	for _, s := range sort {
		if s.Field == tiebreaker {
			return sort
		}
	}
	return append(sort, elastic.SortField{Field: tiebreaker, Order: elastic.SortAsc})
}
