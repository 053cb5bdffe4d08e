package stream

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// Mode is the replication strategy of a stream.
type Mode string

const (
	ModeFull        Mode = "FULL_TABLE"
	ModeIncremental Mode = "INCREMENTAL"
)

// ParseMode accepts the Singer names as well as FULL.
func ParseMode(s string) (Mode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "FULL", "FULL_TABLE":
		return ModeFull, nil
	case "INCREMENTAL":
		return ModeIncremental, nil
	}
	return "", fmt.Errorf("unknown replication mode %q", s)
}

// Definition describes one logical stream. It is built at discovery time and
// not modified during a run.
type Definition struct {
	Name        string
	Index       string
	PrimaryKeys []string

	// ReplicationKey is the source field used for incremental replication.
	// A leading "_source." is accepted and dots address nested fields.
	ReplicationKey string
	KeyKind        Kind
	Mode           Mode

	// Tiebreaker is an optional unique field appended to the sort.
	Tiebreaker string

	// Fields limits the fetched _source to these fields. The replication key
	// is always fetched so the bookmark can advance.
	Fields []string

	Schema json.RawMessage
}

// Incremental reports whether the stream resumes from a bookmark.
func (d Definition) Incremental() bool {
	return d.Mode == ModeIncremental && d.sourceKey() != ""
}

// BookmarkProperty is the top level record field that carries the promoted
// replication key value.
func (d Definition) BookmarkProperty() string {
	return SanitizeKey(d.sourceKey())
}

func (d Definition) sourceKey() string {
	return strings.TrimPrefix(d.ReplicationKey, "_source.")
}

func (d Definition) sourceFields() []string {
	if len(d.Fields) == 0 {
		return nil
	}
	fields := append([]string(nil), d.Fields...)
	if d.Incremental() && !slices.Contains(fields, d.sourceKey()) {
		fields = append(fields, d.sourceKey())
	}
	return fields
}

// KeyProperties are the primary key fields, _id when none are configured.
func (d Definition) KeyProperties() []string {
	if len(d.PrimaryKeys) == 0 {
		return []string{"_id"}
	}
	return d.PrimaryKeys
}

// Validate checks the definition for settings the query builder cannot
// turn into a request.
func (d Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("stream without name")
	}
	if d.Index == "" {
		return fmt.Errorf("stream %s: missing index", d.Name)
	}
	switch d.Mode {
	case ModeFull:
	case ModeIncremental:
		if d.sourceKey() == "" {
			return fmt.Errorf("stream %s: incremental replication requires a replication key", d.Name)
		}
	default:
		return fmt.Errorf("stream %s: unknown replication mode %q", d.Name, d.Mode)
	}
	if d.KeyKind != "" {
		if _, err := ParseKind(string(d.KeyKind)); err != nil {
			return fmt.Errorf("stream %s: %w", d.Name, err)
		}
	}
	return nil
}
