package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // register pure-Go SQLite driver

	"github.com/pteich/elastic-tap/elastic"
	"github.com/pteich/elastic-tap/stream"
)

const bookmarksTable = `CREATE TABLE IF NOT EXISTS tap_bookmarks (
    stream          TEXT PRIMARY KEY,
    replication_key TEXT NOT NULL,
    kind            TEXT NOT NULL,
    value           TEXT,
    updated_at      TEXT NOT NULL
);`

// SQLiteStore keeps one row per stream.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(ctx context.Context, dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open state db %s: %w", dsn, err)
	}
	// a single writer keeps SQLite from returning SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, bookmarksTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create state table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context) (State, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT stream, replication_key, kind, value FROM tap_bookmarks`)
	if err != nil {
		return State{}, fmt.Errorf("load state: %w", err)
	}
	defer rows.Close()

	st := New()
	for rows.Next() {
		var name, key, kind string
		var value sql.NullString
		if err := rows.Scan(&name, &key, &kind, &value); err != nil {
			return State{}, fmt.Errorf("scan state: %w", err)
		}

		raw := "null"
		if value.Valid {
			raw = value.String
		}
		doc := fmt.Sprintf(`{"replication_key":%q,"replication_key_kind":%q,"replication_key_value":%s}`, key, kind, raw)
		var b stream.Bookmark
		if err := elastic.JSON.Unmarshal([]byte(doc), &b); err != nil {
			return State{}, fmt.Errorf("decode bookmark of %s: %w", name, err)
		}
		st.Bookmarks[name] = b
	}
	return st, rows.Err()
}

func (s *SQLiteStore) Save(ctx context.Context, st State) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for name, b := range st.Bookmarks {
		var value sql.NullString
		if !b.IsZero() {
			data, err := elastic.JSON.Marshal(b.Value)
			if err != nil {
				return fmt.Errorf("encode bookmark of %s: %w", name, err)
			}
			value = sql.NullString{String: string(data), Valid: true}
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO tap_bookmarks (stream, replication_key, kind, value, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(stream) DO UPDATE SET
    replication_key = excluded.replication_key,
    kind = excluded.kind,
    value = excluded.value,
    updated_at = excluded.updated_at`,
			name, b.Key, string(b.Kind), value, now)
		if err != nil {
			return fmt.Errorf("save bookmark of %s: %w", name, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
