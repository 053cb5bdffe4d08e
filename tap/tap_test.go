package tap

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/pteich/elastic-tap/elastic"
	"github.com/pteich/elastic-tap/elastic/elastictest"
	"github.com/pteich/elastic-tap/flags"
	"github.com/pteich/elastic-tap/formats"
	"github.com/pteich/elastic-tap/state"
	"github.com/pteich/elastic-tap/stream"
)

func seedLogs(c *elastictest.Cluster, from, to int) {
	c.AddIndex("logs")
	for i := from; i <= to; i++ {
		c.Index("logs", elastictest.Doc{
			ID: fmt.Sprintf("%d", i),
			Source: map[string]interface{}{
				"updated_at": fmt.Sprintf("2024-01-%02dT00:00:00Z", i),
				"message":    fmt.Sprintf("message %d", i),
				"user-name":  "alice",
			},
		})
	}
}

func testConf(t *testing.T, c *elastictest.Cluster, version int) *flags.Flags {
	t.Helper()
	dir := t.TempDir()
	conf := flags.Defaults()
	conf.ElasticURL = c.URL
	conf.ElasticVersion = version
	conf.PageSize = 2
	conf.ReplicationKey = "updated_at"
	conf.Outfile = filepath.Join(dir, "out.jsonl")
	conf.StatePath = filepath.Join(dir, "state.json")
	return &conf
}

func readMessages(t *testing.T, r io.Reader) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 1024*1024), 1024*1024)
	for sc.Scan() {
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m), sc.Text())
		out = append(out, m)
	}
	require.NoError(t, sc.Err())
	return out
}

func readOutput(t *testing.T, path string) []map[string]interface{} {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	return readMessages(t, f)
}

func byType(msgs []map[string]interface{}, typ string) []map[string]interface{} {
	var out []map[string]interface{}
	for _, m := range msgs {
		if m["type"] == typ {
			out = append(out, m)
		}
	}
	return out
}

func bookmarkValue(t *testing.T, stateMsg map[string]interface{}, stream string) interface{} {
	t.Helper()
	value, ok := stateMsg["value"].(map[string]interface{})
	require.True(t, ok, "state value: %v", stateMsg["value"])
	bookmarks, ok := value["bookmarks"].(map[string]interface{})
	require.True(t, ok)
	b, ok := bookmarks[stream].(map[string]interface{})
	require.True(t, ok, "no bookmark for %s", stream)
	return b["replication_key_value"]
}

func TestRun_Incremental(t *testing.T) {
	for _, version := range []int{7, 8, 9} {
		t.Run(fmt.Sprintf("v%d", version), func(t *testing.T) {
			c := elastictest.NewCluster(t)
			seedLogs(c, 1, 5)
			conf := testConf(t, c, version)

			require.NoError(t, Run(context.Background(), conf, zap.NewNop()))

			msgs := readOutput(t, conf.Outfile)
			require.NotEmpty(t, msgs)
			assert.Equal(t, "SCHEMA", msgs[0]["type"])
			assert.Equal(t, []interface{}{"updated_at"}, msgs[0]["bookmark_properties"])
			assert.Equal(t, []interface{}{"_id"}, msgs[0]["key_properties"])

			records := byType(msgs, "RECORD")
			require.Len(t, records, 5)
			first := records[0]["record"].(map[string]interface{})
			assert.Equal(t, "1", first["_id"])
			assert.Equal(t, "2024-01-01T00:00:00Z", first["updated_at"])
			assert.Equal(t, map[string]interface{}{"message": "message 1", "user_name": "alice"}, first["_source"])
			assert.NotEmpty(t, records[0]["time_extracted"])

			states := byType(msgs, "STATE")
			require.Len(t, states, 1)
			assert.Equal(t, "STATE", msgs[len(msgs)-1]["type"])
			assert.Equal(t, "2024-01-05T00:00:00Z", bookmarkValue(t, states[0], "logs"))

			// three pages of 2, 2 and 1 hits
			assert.Len(t, c.Searches(), 3)

			// resume from the stored bookmark
			c.Index("logs", elastictest.Doc{ID: "6", Source: map[string]interface{}{"updated_at": "2024-01-06T00:00:00Z"}})
			conf.Outfile = filepath.Join(t.TempDir(), "second.jsonl")
			require.NoError(t, Run(context.Background(), conf, zap.NewNop()))

			msgs = readOutput(t, conf.Outfile)
			records = byType(msgs, "RECORD")
			require.Len(t, records, 2, "the bookmarked document is read again")
			assert.Equal(t, "5", records[0]["record"].(map[string]interface{})["_id"])
			assert.Equal(t, "6", records[1]["record"].(map[string]interface{})["_id"])
			assert.Equal(t, "2024-01-06T00:00:00Z", bookmarkValue(t, byType(msgs, "STATE")[0], "logs"))

			searches := c.Searches()
			last := searches[len(searches)-1]
			query, err := json.Marshal(last["query"])
			require.NoError(t, err)
			assert.JSONEq(t, `{"bool":{"filter":[{"range":{"updated_at":{"gte":"2024-01-05T00:00:00Z"}}}]}}`, string(query))
		})
	}
}

func TestRun_StartDate(t *testing.T) {
	c := elastictest.NewCluster(t)
	seedLogs(c, 1, 5)
	conf := testConf(t, c, 8)
	conf.StartDate = "2024-01-04"
	conf.ReplicationKeyKind = "timestamp"

	require.NoError(t, Run(context.Background(), conf, nil))

	records := byType(readOutput(t, conf.Outfile), "RECORD")
	require.Len(t, records, 2)
	assert.Equal(t, "4", records[0]["record"].(map[string]interface{})["_id"])
}

func TestRun_CheckpointPerPageSQLite(t *testing.T) {
	c := elastictest.NewCluster(t)
	seedLogs(c, 1, 5)
	conf := testConf(t, c, 8)
	conf.Checkpoint = flags.CheckpointPage
	conf.StatePath = filepath.Join(t.TempDir(), "state.db")

	require.NoError(t, Run(context.Background(), conf, zap.NewNop()))

	msgs := readOutput(t, conf.Outfile)
	states := byType(msgs, "STATE")
	require.Len(t, states, 4, "one per page and one at the end")
	assert.Equal(t, "2024-01-02T00:00:00Z", bookmarkValue(t, states[0], "logs"))
	assert.Equal(t, "2024-01-04T00:00:00Z", bookmarkValue(t, states[1], "logs"))

	// every STATE follows the records it covers
	seen := 0
	for _, m := range msgs {
		switch m["type"] {
		case "RECORD":
			seen++
		case "STATE":
			assert.LessOrEqual(t, "2024-01-0"+fmt.Sprint(seen)+"T00:00:00Z", bookmarkValue(t, m, "logs"))
		}
	}

	store, err := state.OpenSQLite(context.Background(), conf.StatePath)
	require.NoError(t, err)
	defer store.Close()
	st, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2024-01-05T00:00:00Z", st.Bookmarks["logs"].Value)
}

func TestRun_FullTable(t *testing.T) {
	c := elastictest.NewCluster(t)
	c.AddIndex("users-v1", "users")
	c.Index("users-v1",
		elastictest.Doc{ID: "b", Source: map[string]interface{}{"name": "bob"}},
		elastictest.Doc{ID: "a", Source: map[string]interface{}{"name": "alice"}},
		elastictest.Doc{ID: "c"},
	)
	conf := testConf(t, c, 8)
	conf.ReplicationKey = ""

	core, logs := observer.New(zapcore.DebugLevel)
	require.NoError(t, Run(context.Background(), conf, zap.New(core)))

	msgs := readOutput(t, conf.Outfile)
	assert.Equal(t, "users", msgs[0]["stream"])
	assert.Nil(t, msgs[0]["bookmark_properties"])

	records := byType(msgs, "RECORD")
	require.Len(t, records, 2, "the document without _source is skipped")
	assert.Equal(t, "a", records[0]["record"].(map[string]interface{})["_id"])
	assert.Empty(t, byType(msgs, "STATE"))

	synced := logs.FilterMessage("stream synced").All()
	require.Len(t, synced, 1)
	assert.Equal(t, int64(1), synced[0].ContextMap()["skipped"])
}

func TestRun_SortOnIDWarning(t *testing.T) {
	tests := []struct {
		name    string
		version int
		modify  func(*flags.Flags)
		warned  bool
	}{
		{"full table on v8", 8, func(f *flags.Flags) { f.ReplicationKey = "" }, true},
		{"full table on v9", 9, func(f *flags.Flags) { f.ReplicationKey = "" }, true},
		{"full table on v7", 7, func(f *flags.Flags) { f.ReplicationKey = "" }, false},
		{"keyword primary key", 8, func(f *flags.Flags) {
			f.ReplicationKey = ""
			f.PrimaryKeyList = "message"
		}, false},
		{"incremental", 8, func(f *flags.Flags) {}, false},
		{"incremental with _id tiebreaker", 8, func(f *flags.Flags) { f.Tiebreaker = "_id" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := elastictest.NewCluster(t)
			seedLogs(c, 1, 1)
			conf := testConf(t, c, tt.version)
			tt.modify(conf)

			core, logs := observer.New(zapcore.WarnLevel)
			require.NoError(t, Run(context.Background(), conf, zap.New(core)))

			warnings := logs.FilterMessageSnippet("sorting on _id").All()
			if !tt.warned {
				assert.Empty(t, warnings)
				return
			}
			require.Len(t, warnings, 1)
			assert.Equal(t, "logs", warnings[0].ContextMap()["stream"])
		})
	}
}

func TestRun_Formats(t *testing.T) {
	c := elastictest.NewCluster(t)
	seedLogs(c, 1, 3)

	t.Run("csv", func(t *testing.T) {
		conf := testConf(t, c, 8)
		conf.OutFormat = flags.FormatCSV
		conf.Outfile = filepath.Join(t.TempDir(), "out.csv")
		conf.Fieldlist = "message,updated_at"

		require.NoError(t, Run(context.Background(), conf, nil))
		assert.Equal(t, []interface{}{"message", "updated_at"}, c.Searches()[0]["_source"])

		data, err := os.ReadFile(conf.Outfile)
		require.NoError(t, err)
		assert.Equal(t, "message,updated_at\n"+
			"message 1,2024-01-01T00:00:00Z\n"+
			"message 2,2024-01-02T00:00:00Z\n"+
			"message 3,2024-01-03T00:00:00Z\n", string(data))
	})

	t.Run("csv without the replication key column", func(t *testing.T) {
		conf := testConf(t, c, 8)
		conf.OutFormat = flags.FormatCSV
		conf.Outfile = filepath.Join(t.TempDir(), "out.csv")
		conf.Fieldlist = "message"

		require.NoError(t, Run(context.Background(), conf, nil))
		searches := c.Searches()
		assert.Equal(t, []interface{}{"message", "updated_at"}, searches[len(searches)-1]["_source"])

		data, err := os.ReadFile(conf.Outfile)
		require.NoError(t, err)
		assert.Equal(t, "message\nmessage 1\nmessage 2\nmessage 3\n", string(data))

		st, err := state.NewFileStore(conf.StatePath).Load(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "2024-01-03T00:00:00Z", st.Bookmarks["logs"].Value)
	})

	t.Run("json", func(t *testing.T) {
		conf := testConf(t, c, 8)
		conf.OutFormat = flags.FormatJSON

		require.NoError(t, Run(context.Background(), conf, nil))

		docs := readOutput(t, conf.Outfile)
		require.Len(t, docs, 3)
		assert.Equal(t, map[string]interface{}{
			"message":    "message 1",
			"updated_at": "2024-01-01T00:00:00Z",
			"user_name":  "alice",
		}, docs[0])
	})

	t.Run("gzip", func(t *testing.T) {
		conf := testConf(t, c, 8)
		conf.Outfile = filepath.Join(t.TempDir(), "out.jsonl.gz")

		require.NoError(t, Run(context.Background(), conf, nil))

		f, err := os.Open(conf.Outfile)
		require.NoError(t, err)
		defer f.Close()
		zr, err := gzip.NewReader(f)
		require.NoError(t, err)

		msgs := readMessages(t, zr)
		assert.Len(t, byType(msgs, "RECORD"), 3)
		assert.Len(t, byType(msgs, "STATE"), 1)
	})
}

func TestRun_Discover(t *testing.T) {
	c := elastictest.NewCluster(t)
	c.AddIndex("logs-2024", "logs")
	c.AddIndex("users")
	c.AddIndex(".kibana")

	conf := testConf(t, c, 8)
	conf.Discover = true

	require.NoError(t, Run(context.Background(), conf, nil))

	data, err := os.ReadFile(conf.Outfile)
	require.NoError(t, err)
	var catalog formats.Catalog
	require.NoError(t, json.Unmarshal(data, &catalog))

	require.Len(t, catalog.Streams, 2)
	assert.Equal(t, "logs", catalog.Streams[0].Stream)
	assert.Equal(t, "updated_at", catalog.Streams[0].ReplicationKey)
	assert.Equal(t, "users", catalog.Streams[1].Stream)
	assert.Empty(t, c.Searches())
}

func TestRun_StreamSelection(t *testing.T) {
	c := elastictest.NewCluster(t)
	seedLogs(c, 1, 2)
	c.AddIndex("users")

	conf := testConf(t, c, 8)
	conf.StreamList = "logs"
	require.NoError(t, Run(context.Background(), conf, nil))
	for _, m := range readOutput(t, conf.Outfile) {
		if s, ok := m["stream"]; ok {
			assert.Equal(t, "logs", s)
		}
	}

	conf = testConf(t, c, 8)
	conf.StreamList = "logs,missing"
	err := Run(context.Background(), conf, nil)
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
	assert.Contains(t, err.Error(), "missing")
}

func TestRun_ConfigurationErrors(t *testing.T) {
	c := elastictest.NewCluster(t)

	tests := []struct {
		name   string
		modify func(*flags.Flags)
	}{
		{"missing url", func(f *flags.Flags) { f.ElasticURL = "" }},
		{"bad version", func(f *flags.Flags) { f.ElasticVersion = 6 }},
		{"bad start date", func(f *flags.Flags) { f.StartDate = "yesterday"; f.ReplicationKeyKind = "timestamp" }},
		{"incremental without key", func(f *flags.Flags) { f.ReplicationKey = ""; f.ReplicationMethod = "INCREMENTAL" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seedLogs(c, 1, 1)
			conf := testConf(t, c, 8)
			tt.modify(conf)

			err := Run(context.Background(), conf, nil)
			require.Error(t, err)
			assert.True(t, IsConfigurationError(err), err.Error())
		})
	}
}

func TestRun_InvalidStartDateSendsNoRequest(t *testing.T) {
	tests := []struct {
		name string
		kind string
	}{
		{"inferred kind", ""},
		{"timestamp kind", "timestamp"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := elastictest.NewCluster(t)
			seedLogs(c, 1, 3)
			c.AddIndex("zeta")
			c.Index("zeta", elastictest.Doc{ID: "z", Source: map[string]interface{}{"updated_at": "2024-01-01T00:00:00Z"}})

			conf := testConf(t, c, 8)
			conf.StartDate = "yesterday"
			conf.ReplicationKeyKind = tt.kind

			// a stored bookmark lets logs run without the start date
			saved := state.New()
			saved.Bookmarks["logs"] = stream.Bookmark{Key: "updated_at", Kind: stream.KindTimestamp, Value: "2024-01-02T00:00:00Z"}
			require.NoError(t, state.NewFileStore(conf.StatePath).Save(context.Background(), saved))

			err := Run(context.Background(), conf, nil)
			require.Error(t, err)
			assert.True(t, IsConfigurationError(err), err.Error())
			assert.Contains(t, err.Error(), "yesterday")
			assert.Empty(t, c.Searches())

			_, statErr := os.Stat(conf.Outfile)
			assert.True(t, os.IsNotExist(statErr), "no output is written")
		})
	}
}

func TestRun_NumericStartDate(t *testing.T) {
	c := elastictest.NewCluster(t)
	c.AddIndex("events")
	for i := 1; i <= 5; i++ {
		c.Index("events", elastictest.Doc{ID: fmt.Sprint(i), Source: map[string]interface{}{"seq": i}})
	}
	conf := testConf(t, c, 8)
	conf.ReplicationKey = "seq"
	conf.StartDate = "4"

	require.NoError(t, Run(context.Background(), conf, nil))

	records := byType(readOutput(t, conf.Outfile), "RECORD")
	require.Len(t, records, 2)
	assert.Equal(t, "4", records[0]["record"].(map[string]interface{})["_id"])

	query, err := json.Marshal(c.Searches()[0]["query"])
	require.NoError(t, err)
	assert.JSONEq(t, `{"bool":{"filter":[{"range":{"seq":{"gte":4}}}]}}`, string(query))
}

func TestRun_RemoteError(t *testing.T) {
	c := elastictest.NewCluster(t)
	seedLogs(c, 1, 3)
	c.FailSearch(500, `{"error":{"type":"search_phase_execution_exception"},"status":500}`)

	conf := testConf(t, c, 8)
	err := Run(context.Background(), conf, nil)
	require.Error(t, err)

	var remote *elastic.RemoteError
	require.True(t, errors.As(err, &remote), err.Error())
	assert.Equal(t, 500, remote.Status)

	// nothing was acknowledged, so nothing was saved
	_, statErr := os.Stat(conf.StatePath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRun_ConnectionError(t *testing.T) {
	conf := flags.Defaults()
	conf.ElasticURL = "http://127.0.0.1:1"
	conf.Outfile = filepath.Join(t.TempDir(), "out.jsonl")

	err := Run(context.Background(), &conf, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, elastic.ErrConnection)
}

func TestRun_Canceled(t *testing.T) {
	c := elastictest.NewCluster(t)
	seedLogs(c, 1, 5)
	conf := testConf(t, c, 8)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Run(ctx, conf, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, c.Searches())
}
