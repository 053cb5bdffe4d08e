package v7

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/olivere/elastic/v7"

	tapelastic "github.com/pteich/elastic-tap/elastic"
)

type Client struct {
	client *elastic.Client
}

func NewClient(esOpts []elastic.ClientOptionFunc) (*Client, error) {
	client, err := elastic.NewClient(esOpts...)
	if err != nil {
		return nil, &tapelastic.ConnectionError{Op: "connect", Err: err}
	}
	return &Client{client: client}, nil
}

// Options returns the client options shared by every caller. Numbers are
// decoded as json.Number so sort values can be passed back unchanged.
func Options(url string, httpClient *http.Client, errorLog *log.Logger) []elastic.ClientOptionFunc {
	opts := []elastic.ClientOptionFunc{
		elastic.SetURL(url),
		elastic.SetSniff(false),
		elastic.SetHealthcheckInterval(60 * time.Second),
		elastic.SetDecoder(&elastic.NumberDecoder{}),
		elastic.SetMaxRetries(0),
	}
	if httpClient != nil {
		opts = append(opts, elastic.SetHttpClient(httpClient))
	}
	if errorLog != nil {
		opts = append(opts, elastic.SetErrorLog(errorLog))
	}
	return opts
}

func (c *Client) Search(ctx context.Context, index string, body tapelastic.SearchBody) (*tapelastic.Page, error) {
	res, err := c.client.Search(index).Source(body.Build()).Do(ctx)
	if err != nil {
		return nil, classify("search "+index, err)
	}

	page := &tapelastic.Page{}
	if res.Hits == nil {
		return page, nil
	}
	if res.Hits.TotalHits != nil {
		page.Total = res.Hits.TotalHits.Value
		page.TotalRelation = res.Hits.TotalHits.Relation
		page.TotalKnown = true
	}

	page.Hits = make([]tapelastic.Hit, 0, len(res.Hits.Hits))
	for _, hit := range res.Hits.Hits {
		page.Hits = append(page.Hits, tapelastic.Hit{
			ID:     hit.Id,
			Index:  hit.Index,
			Type:   hit.Type,
			Score:  hit.Score,
			Source: hit.Source,
			Sort:   hit.Sort,
		})
	}

	return page, nil
}

func (c *Client) Aliases(ctx context.Context) (map[string][]string, error) {
	res, err := c.client.Aliases().Do(ctx)
	if err != nil {
		return nil, classify("get aliases", err)
	}

	indices := make(map[string][]string, len(res.Indices))
	for index, result := range res.Indices {
		names := make([]string, 0, len(result.Aliases))
		for _, alias := range result.Aliases {
			names = append(names, alias.AliasName)
		}
		indices[index] = names
	}
	return indices, nil
}

func (c *Client) Stop() {
	c.client.Stop()
}

func classify(op string, err error) error {
	var esErr *elastic.Error
	if errors.As(err, &esErr) {
		body := esErr.Error()
		if esErr.Details != nil {
			if data, mErr := tapelastic.JSON.Marshal(esErr.Details); mErr == nil {
				body = string(data)
			}
		}
		return &tapelastic.RemoteError{Status: esErr.Status, Body: body}
	}
	// no usable response from the cluster
	return &tapelastic.ConnectionError{Op: op, Err: err}
}
