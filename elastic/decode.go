package elastic

import (
	"bytes"
	"fmt"
	"io"
	"sort"

	jsoniter "github.com/json-iterator/go"
)

// JSON keeps numbers as json.Number so that sort values survive the round
// trip into search_after without losing precision.
var JSON = jsoniter.Config{
	EscapeHTML:             true,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
	UseNumber:              true,
}.Froze()

type searchResponse struct {
	Error jsoniter.RawMessage `json:"error"`
	Hits  *struct {
		Total jsoniter.RawMessage `json:"total"`
		Hits  []Hit               `json:"hits"`
	} `json:"hits"`
}

type totalObject struct {
	Value    int64  `json:"value"`
	Relation string `json:"relation"`
}

// DecodePage parses a _search response body. A body carrying an error
// object is reported as *RemoteError even if the status was 200.
func DecodePage(r io.Reader) (*Page, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", err)
	}

	var resp searchResponse
	if err := JSON.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	if len(resp.Error) > 0 && !bytes.Equal(resp.Error, []byte("null")) {
		return nil, &RemoteError{Body: string(data)}
	}

	page := &Page{}
	if resp.Hits == nil {
		return page, nil
	}
	page.Hits = resp.Hits.Hits

	total := bytes.TrimSpace(resp.Hits.Total)
	switch {
	case len(total) == 0 || bytes.Equal(total, []byte("null")):
	case total[0] == '{':
		var obj totalObject
		if err := JSON.Unmarshal(total, &obj); err != nil {
			return nil, fmt.Errorf("decode hits.total: %w", err)
		}
		page.Total = obj.Value
		page.TotalRelation = obj.Relation
		page.TotalKnown = true
	default:
		var n int64
		if err := JSON.Unmarshal(total, &n); err != nil {
			return nil, fmt.Errorf("decode hits.total: %w", err)
		}
		page.Total = n
		page.TotalKnown = true
	}

	return page, nil
}

type aliasEntry struct {
	Aliases map[string]jsoniter.RawMessage `json:"aliases"`
}

// DecodeAliases parses a GET _alias response into index name -> alias names.
func DecodeAliases(r io.Reader) (map[string][]string, error) {
	var resp map[string]aliasEntry
	if err := JSON.NewDecoder(r).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode aliases response: %w", err)
	}

	indices := make(map[string][]string, len(resp))
	for index, entry := range resp {
		names := make([]string, 0, len(entry.Aliases))
		for alias := range entry.Aliases {
			names = append(names, alias)
		}
		sort.Strings(names)
		indices[index] = names
	}
	return indices, nil
}
