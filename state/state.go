// Package state persists stream bookmarks between runs.
package state

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/pteich/elastic-tap/stream"
)

// State is the Singer state document.
type State struct {
	Bookmarks map[string]stream.Bookmark `json:"bookmarks"`
}

func New() State {
	return State{Bookmarks: make(map[string]stream.Bookmark)}
}

// Clone returns a deep enough copy for handing to another goroutine.
func (s State) Clone() State {
	c := New()
	for k, v := range s.Bookmarks {
		c.Bookmarks[k] = v
	}
	return c
}

// Store loads and saves state.
type Store interface {
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, s State) error
	Close() error
}

// Open picks the store for path: no path keeps state in memory, a .db,
// .sqlite or .sqlite3 file uses SQLite and anything else a JSON file.
func Open(ctx context.Context, path string) (Store, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case "":
		if path == "" {
			return &MemoryStore{}, nil
		}
	case ".db", ".sqlite", ".sqlite3":
		return OpenSQLite(ctx, path)
	}
	return NewFileStore(path), nil
}

// MemoryStore keeps state for the lifetime of the process.
type MemoryStore struct {
	state State
}

func (m *MemoryStore) Load(context.Context) (State, error) {
	if m.state.Bookmarks == nil {
		return New(), nil
	}
	return m.state.Clone(), nil
}

func (m *MemoryStore) Save(_ context.Context, s State) error {
	m.state = s.Clone()
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
