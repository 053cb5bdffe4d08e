package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pteich/elastic-tap/elastic"
)

// Kind is the semantic type of a replication key. Comparisons follow the
// kind, never the Go type the value happened to be decoded into.
type Kind string

const (
	KindTimestamp Kind = "timestamp"
	// KindEpoch is a unix timestamp in seconds. Date strings, such as a
	// configured start date, are converted.
	KindEpoch   Kind = "epoch"
	KindNumeric Kind = "numeric"
	KindString  Kind = "string"
)

var ErrKindMismatch = errors.New("replication key value does not match its kind")

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseKind parses a kind name. The empty string means the kind is inferred
// from the first value seen.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case "", KindTimestamp, KindEpoch, KindNumeric, KindString:
		return k, nil
	}
	return "", fmt.Errorf("unknown replication key kind %q", s)
}

// InferKind guesses the kind of a value: numbers are numeric, strings that
// parse as a date are timestamps, anything else is a string.
func InferKind(v interface{}) Kind {
	switch x := v.(type) {
	case json.Number, float64, float32, int, int64, int32, uint64:
		return KindNumeric
	case time.Time:
		return KindTimestamp
	case string:
		if _, err := parseTime(x); err == nil {
			return KindTimestamp
		}
	}
	return KindString
}

// ParseStart reads a configured start value. Without a kind the value has to
// be a timestamp or a number, which then decides the kind.
func ParseStart(kind Kind, s string) (Kind, interface{}, error) {
	s = strings.TrimSpace(s)
	if kind == "" {
		if _, err := parseTime(s); err == nil {
			return KindTimestamp, s, nil
		}
		if isJSONNumber(s) {
			return KindNumeric, json.Number(s), nil
		}
		return "", nil, fmt.Errorf("%w: %q is neither a timestamp nor a number", ErrKindMismatch, s)
	}
	v, err := normalize(kind, s)
	if err != nil {
		return "", nil, err
	}
	return kind, v, nil
}

var jsonNumber = regexp.MustCompile(`^-?(0|[1-9][0-9]*)(\.[0-9]+)?([eE][+-]?[0-9]+)?$`)

func isJSONNumber(s string) bool {
	return jsonNumber.MatchString(s)
}

// Bookmark is the persisted high-water mark of a stream.
type Bookmark struct {
	Key   string      `json:"replication_key"`
	Kind  Kind        `json:"replication_key_kind,omitempty"`
	Value interface{} `json:"replication_key_value"`
}

// NewBookmark normalizes value for kind. An empty kind is inferred.
func NewBookmark(key string, kind Kind, value interface{}) (Bookmark, error) {
	if value == nil {
		return Bookmark{Key: key, Kind: kind}, nil
	}
	if kind == "" {
		kind = InferKind(value)
	}
	v, err := normalize(kind, value)
	if err != nil {
		return Bookmark{}, fmt.Errorf("bookmark %s: %w", key, err)
	}
	return Bookmark{Key: key, Kind: kind, Value: v}, nil
}

func (b Bookmark) IsZero() bool {
	return b.Value == nil
}

// QueryValue is the lower bound sent in the range filter.
func (b Bookmark) QueryValue() interface{} {
	return b.Value
}

// Compare returns -1, 0 or 1 when the bookmark is lower than, equal to or
// greater than v. A zero bookmark is lower than every value.
func (b Bookmark) Compare(v interface{}) (int, error) {
	if b.IsZero() {
		if v == nil {
			return 0, nil
		}
		return -1, nil
	}
	return Compare(b.Kind, b.Value, v)
}

// Advance returns the bookmark moved up to v if v is greater.
func (b Bookmark) Advance(v interface{}) (Bookmark, bool, error) {
	if v == nil {
		return b, false, nil
	}
	if b.IsZero() {
		next, err := NewBookmark(b.Key, b.Kind, v)
		return next, err == nil, err
	}
	c, err := b.Compare(v)
	if err != nil {
		return b, false, err
	}
	if c >= 0 {
		return b, false, nil
	}
	next, err := NewBookmark(b.Key, b.Kind, v)
	if err != nil {
		return b, false, err
	}
	return next, true, nil
}

// UnmarshalJSON restores the typed value after a round trip through JSON.
func (b *Bookmark) UnmarshalJSON(data []byte) error {
	var raw struct {
		Key   string      `json:"replication_key"`
		Kind  Kind        `json:"replication_key_kind"`
		Value interface{} `json:"replication_key_value"`
	}
	if err := elastic.JSON.Unmarshal(data, &raw); err != nil {
		return err
	}
	restored, err := NewBookmark(raw.Key, raw.Kind, raw.Value)
	if err != nil {
		return err
	}
	*b = restored
	return nil
}

// Compare orders two replication key values according to kind.
func Compare(kind Kind, a, b interface{}) (int, error) {
	av, err := normalize(kind, a)
	if err != nil {
		return 0, err
	}
	bv, err := normalize(kind, b)
	if err != nil {
		return 0, err
	}

	switch kind {
	case KindTimestamp:
		at, _ := parseTime(av.(string))
		bt, _ := parseTime(bv.(string))
		return at.Compare(bt), nil
	case KindEpoch:
		x, y := av.(int64), bv.(int64)
		switch {
		case x < y:
			return -1, nil
		case x > y:
			return 1, nil
		}
		return 0, nil
	case KindNumeric:
		x, _ := new(big.Float).SetString(string(av.(json.Number)))
		y, _ := new(big.Float).SetString(string(bv.(json.Number)))
		return x.Cmp(y), nil
	default:
		return strings.Compare(av.(string), bv.(string)), nil
	}
}

func normalize(kind Kind, v interface{}) (interface{}, error) {
	switch kind {
	case KindTimestamp:
		switch x := v.(type) {
		case time.Time:
			return x.UTC().Format(time.RFC3339Nano), nil
		case string:
			if _, err := parseTime(x); err != nil {
				return nil, fmt.Errorf("%w: %q is not a timestamp", ErrKindMismatch, x)
			}
			return x, nil
		}
	case KindEpoch:
		if s, ok := v.(string); ok {
			if t, err := parseTime(s); err == nil {
				return t.Unix(), nil
			}
		}
		n, err := toNumber(v)
		if err != nil {
			return nil, err
		}
		f, _ := new(big.Float).SetString(string(n))
		i, _ := f.Int64()
		return i, nil
	case KindNumeric:
		return toNumber(v)
	case KindString:
		switch x := v.(type) {
		case string:
			return x, nil
		case json.Number:
			return string(x), nil
		}
	default:
		return nil, fmt.Errorf("unknown replication key kind %q", kind)
	}
	return nil, fmt.Errorf("%w: %v (%T) is not a %s value", ErrKindMismatch, v, v, kind)
}

func toNumber(v interface{}) (json.Number, error) {
	switch x := v.(type) {
	case json.Number:
		if _, ok := new(big.Float).SetString(string(x)); ok {
			return x, nil
		}
	case float64:
		if !math.IsNaN(x) && !math.IsInf(x, 0) {
			return json.Number(strconv.FormatFloat(x, 'f', -1, 64)), nil
		}
	case float32:
		return json.Number(strconv.FormatFloat(float64(x), 'f', -1, 32)), nil
	case int:
		return json.Number(strconv.Itoa(x)), nil
	case int32:
		return json.Number(strconv.FormatInt(int64(x), 10)), nil
	case int64:
		return json.Number(strconv.FormatInt(x, 10)), nil
	case uint64:
		return json.Number(strconv.FormatUint(x, 10)), nil
	case string:
		if _, ok := new(big.Float).SetString(x); ok {
			return json.Number(x), nil
		}
	}
	return "", fmt.Errorf("%w: %v (%T) is not numeric", ErrKindMismatch, v, v)
}

func parseTime(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range timeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
