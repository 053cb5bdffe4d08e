package stream

import (
	"fmt"
)

// Tracker keeps the highest replication key value of one stream run,
// starting from the bookmark the run was seeded with.
type Tracker struct {
	property string
	bookmark Bookmark
}

func NewTracker(def Definition, start Bookmark) *Tracker {
	if start.Key == "" {
		start.Key = def.BookmarkProperty()
	}
	if start.Kind == "" {
		start.Kind = def.KeyKind
	}
	return &Tracker{property: def.BookmarkProperty(), bookmark: start}
}

// Observe reads the promoted replication key of rec. A value that cannot be
// compared with the kind of the bookmark is an error: ordering it as some
// other type would silently corrupt the bookmark.
func (t *Tracker) Observe(rec Record) error {
	v, ok := rec[t.property]
	if !ok || v == nil {
		return nil
	}
	next, moved, err := t.bookmark.Advance(v)
	if err != nil {
		return fmt.Errorf("record %v: %w", rec["_id"], err)
	}
	if moved {
		t.bookmark = next
	}
	return nil
}

// Bookmark returns the current high-water mark.
func (t *Tracker) Bookmark() Bookmark {
	return t.bookmark
}
