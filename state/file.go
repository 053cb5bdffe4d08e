package state

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pteich/elastic-tap/elastic"
	"github.com/pteich/elastic-tap/stream"
)

// FileStore keeps the state as a JSON document. Saves replace the file
// atomically so a crash leaves either the old or the new state.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Load(_ context.Context) (State, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return New(), nil
	}
	if err != nil {
		return State{}, fmt.Errorf("read state %s: %w", f.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return New(), nil
	}

	// the Singer state message wraps the document in "value"
	var doc struct {
		State
		Value *State `json:"value"`
	}
	if err := elastic.JSON.Unmarshal(data, &doc); err != nil {
		return State{}, fmt.Errorf("parse state %s: %w", f.path, err)
	}
	s := doc.State
	if doc.Value != nil {
		s = *doc.Value
	}
	if s.Bookmarks == nil {
		s.Bookmarks = make(map[string]stream.Bookmark)
	}
	return s, nil
}

func (f *FileStore) Save(_ context.Context, s State) error {
	data, err := elastic.JSON.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return atomicWriteFile(f.path, append(data, '\n'))
}

func (f *FileStore) Close() error {
	return nil
}

func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".state-*")
	if err != nil {
		return fmt.Errorf("create temp state in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp state %s: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp state %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename state %s: %w", path, err)
	}
	success = true

	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		d.Close()
	}
	return nil
}
