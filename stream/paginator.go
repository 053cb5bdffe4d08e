package stream

import (
	"github.com/pteich/elastic-tap/elastic"
)

// State of a Paginator. Exhausted is terminal.
type State int

const (
	Active State = iota
	Exhausted
)

func (s State) String() string {
	if s == Exhausted {
		return "EXHAUSTED"
	}
	return "ACTIVE"
}

// Reasons reported in a Decision.
const (
	ReasonMore        = ""
	ReasonEmptyPage   = "empty page"
	ReasonMissingSort = "missing sort value"
	ReasonShortPage   = "short page"
	ReasonTotal       = "total reached"
)

// Decision is the outcome of one Advance call.
type Decision struct {
	Cursor  Cursor
	HasMore bool
	Reason  string
}

// Paginator decides from each page whether another page has to be
// requested and with which cursor. A page shorter than the page size always
// ends the sequence; the reported total may only end it earlier, and only
// when the cluster reports it as exact.
type Paginator struct {
	pageSize int
	state    State
	cursor   Cursor
	pages    int
	hits     int64
	reason   string
}

func NewPaginator(pageSize int) *Paginator {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Paginator{pageSize: pageSize}
}

func (p *Paginator) State() State {
	return p.state
}

// Cursor is the search_after value for the next request, nil before the
// first page.
func (p *Paginator) Cursor() Cursor {
	return p.cursor
}

// Pages returns the number of pages consumed.
func (p *Paginator) Pages() int {
	return p.pages
}

// Hits returns the number of raw hits consumed.
func (p *Paginator) Hits() int64 {
	return p.hits
}

// Advance consumes page. Calling it once exhausted is a no-op.
func (p *Paginator) Advance(page *elastic.Page) Decision {
	if p.state == Exhausted {
		return Decision{Cursor: p.cursor, Reason: p.reason}
	}

	p.pages++
	n := 0
	if page != nil {
		n = len(page.Hits)
	}
	p.hits += int64(n)

	if n == 0 {
		return p.exhaust(ReasonEmptyPage)
	}

	last := page.LastSort()
	if len(last) == 0 {
		return p.exhaust(ReasonMissingSort)
	}
	p.cursor = Cursor(last)

	if n < p.pageSize {
		return p.exhaust(ReasonShortPage)
	}

	if page.TotalExact() && int64(p.pages)*int64(p.pageSize) >= page.Total {
		return p.exhaust(ReasonTotal)
	}

	return Decision{Cursor: p.cursor, HasMore: true, Reason: ReasonMore}
}

func (p *Paginator) exhaust(reason string) Decision {
	p.state = Exhausted
	p.reason = reason
	return Decision{Cursor: p.cursor, Reason: reason}
}
