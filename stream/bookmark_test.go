package stream

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		a, b interface{}
		want int
	}{
		{"timestamps across zones", KindTimestamp, "2024-01-01T10:00:00+02:00", "2024-01-01T09:00:00Z", -1},
		{"timestamp and date", KindTimestamp, "2024-01-02", "2024-01-01T23:59:59Z", 1},
		{"equal timestamps", KindTimestamp, "2024-01-01T00:00:00Z", "2024-01-01T00:00:00.000Z", 0},
		{"numeric is not lexicographic", KindNumeric, json.Number("9"), json.Number("10"), -1},
		{"numeric mixed types", KindNumeric, 2.5, json.Number("2"), 1},
		{"big numbers", KindNumeric, json.Number("9007199254740993"), json.Number("9007199254740992"), 1},
		{"epoch from date", KindEpoch, "2024-01-01", json.Number("1704067200"), 0},
		{"epoch numbers", KindEpoch, int64(5), json.Number("4"), 1},
		{"strings", KindString, "b", "a", 1},
		{"numeric strings as strings", KindString, "9", "10", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Compare(tt.kind, tt.a, tt.b)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompare_KindMismatch(t *testing.T) {
	_, err := Compare(KindTimestamp, "2024-01-01", "yesterday")
	assert.ErrorIs(t, err, ErrKindMismatch)

	_, err = Compare(KindNumeric, json.Number("1"), "one")
	assert.ErrorIs(t, err, ErrKindMismatch)

	_, err = Compare(KindString, "a", map[string]interface{}{})
	assert.ErrorIs(t, err, ErrKindMismatch)

	_, err = Compare("date", "a", "b")
	assert.Error(t, err)
}

func TestInferKind(t *testing.T) {
	assert.Equal(t, KindNumeric, InferKind(json.Number("3")))
	assert.Equal(t, KindNumeric, InferKind(3.5))
	assert.Equal(t, KindTimestamp, InferKind("2024-01-01T00:00:00Z"))
	assert.Equal(t, KindTimestamp, InferKind("2024-01-01"))
	assert.Equal(t, KindString, InferKind("abc"))
}

func TestParseStart(t *testing.T) {
	tests := []struct {
		name      string
		kind      Kind
		in        string
		wantKind  Kind
		wantValue interface{}
	}{
		{"inferred date", "", "2024-01-04", KindTimestamp, "2024-01-04"},
		{"inferred timestamp", "", " 2024-01-04T10:00:00Z ", KindTimestamp, "2024-01-04T10:00:00Z"},
		{"inferred number", "", "-12.5", KindNumeric, json.Number("-12.5")},
		{"epoch from date", KindEpoch, "2024-01-01", KindEpoch, int64(1704067200)},
		{"numeric", KindNumeric, "42", KindNumeric, json.Number("42")},
		{"string", KindString, "yesterday", KindString, "yesterday"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, value, err := ParseStart(tt.kind, tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, kind)
			assert.Equal(t, tt.wantValue, value)
		})
	}

	for _, bad := range []struct {
		kind Kind
		in   string
	}{
		{"", "yesterday"},
		{"", "inf"},
		{"", "0x10"},
		{KindTimestamp, "yesterday"},
		{KindNumeric, "2024-01-01"},
		{KindEpoch, "soon"},
	} {
		_, _, err := ParseStart(bad.kind, bad.in)
		assert.ErrorIs(t, err, ErrKindMismatch, "%s %q", bad.kind, bad.in)
	}
}

func TestBookmark_Advance(t *testing.T) {
	b := Bookmark{Key: "ts"}
	assert.True(t, b.IsZero())

	b, moved, err := b.Advance("2024-01-02T00:00:00Z")
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, KindTimestamp, b.Kind)

	same, moved, err := b.Advance("2024-01-01T00:00:00Z")
	require.NoError(t, err)
	assert.False(t, moved)
	assert.Equal(t, b, same)

	b, moved, err = b.Advance("2024-01-03T00:00:00Z")
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, "2024-01-03T00:00:00Z", b.Value)

	_, _, err = b.Advance(json.Number("17"))
	assert.ErrorIs(t, err, ErrKindMismatch)

	unchanged, moved, err := b.Advance(nil)
	require.NoError(t, err)
	assert.False(t, moved)
	assert.Equal(t, b, unchanged)
}

func TestBookmark_JSONRoundTrip(t *testing.T) {
	for _, b := range []Bookmark{
		{Key: "ts", Kind: KindTimestamp, Value: "2024-01-01T00:00:00Z"},
		{Key: "created", Kind: KindEpoch, Value: int64(1704067200)},
		{Key: "seq", Kind: KindNumeric, Value: json.Number("9007199254740993")},
		{Key: "name", Kind: KindString, Value: "m"},
		{Key: "ts", Kind: KindTimestamp},
	} {
		data, err := json.Marshal(b)
		require.NoError(t, err)

		var got Bookmark
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Equal(t, b, got, string(data))
	}
}

func TestBookmark_UnmarshalInfersKind(t *testing.T) {
	var b Bookmark
	require.NoError(t, json.Unmarshal([]byte(`{"replication_key":"ts","replication_key_value":"2024-01-01T00:00:00Z"}`), &b))
	assert.Equal(t, KindTimestamp, b.Kind)

	err := json.Unmarshal([]byte(`{"replication_key":"ts","replication_key_kind":"timestamp","replication_key_value":"soon"}`), &b)
	assert.ErrorIs(t, err, ErrKindMismatch)
}

func TestTracker(t *testing.T) {
	def := Definition{Name: "logs", Index: "logs", Mode: ModeIncremental, ReplicationKey: "updated-at"}
	start, err := NewBookmark("updated_at", "", "2024-01-02T00:00:00Z")
	require.NoError(t, err)

	tr := NewTracker(def, start)
	values := []interface{}{"2024-01-03T00:00:00Z", "2024-01-05T00:00:00Z", nil, "2024-01-04T00:00:00Z"}
	for i, v := range values {
		rec := Record{"_id": i}
		if v != nil {
			rec["updated_at"] = v
		}
		require.NoError(t, tr.Observe(rec))
	}

	final := tr.Bookmark()
	assert.Equal(t, "updated_at", final.Key)
	assert.Equal(t, "2024-01-05T00:00:00Z", final.Value)
	for _, v := range values {
		if v == nil {
			continue
		}
		c, err := final.Compare(v)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, c, 0)
	}

	err = tr.Observe(Record{"_id": "bad", "updated_at": "not a date"})
	assert.ErrorIs(t, err, ErrKindMismatch)
	assert.Equal(t, final, tr.Bookmark())
}

func TestTracker_KeepsStartWhenNothingIsNewer(t *testing.T) {
	def := Definition{Name: "logs", Index: "logs", Mode: ModeIncremental, ReplicationKey: "n", KeyKind: KindNumeric}
	start, err := NewBookmark("n", KindNumeric, json.Number("10"))
	require.NoError(t, err)

	tr := NewTracker(def, start)
	require.NoError(t, tr.Observe(Record{"n": json.Number("10")}))
	assert.Equal(t, start, tr.Bookmark())

	empty := NewTracker(def, Bookmark{})
	assert.Equal(t, Bookmark{Key: "n", Kind: KindNumeric}, empty.Bookmark())
}
