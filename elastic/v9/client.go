package v9

import (
	"bytes"
	"context"
	"net/http"

	"github.com/elastic/go-elasticsearch/v9"
	"github.com/elastic/go-elasticsearch/v9/esapi"

	"github.com/pteich/elastic-tap/elastic"
)

type Client struct {
	client *elasticsearch.Client
}

func NewClient(cfg elasticsearch.Config) (*Client, error) {
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Client{client: client}, nil
}

// NewConfig builds the client configuration. Retries are disabled, every
// call is exactly one request.
func NewConfig(url string, username string, password string, userAgent string, httpClient *http.Client) elasticsearch.Config {
	cfg := elasticsearch.Config{
		Addresses:    []string{url},
		Username:     username,
		Password:     password,
		DisableRetry: true,
	}
	var transport http.RoundTripper
	if httpClient != nil {
		transport = httpClient.Transport
	}
	if userAgent != "" {
		transport = elastic.WithUserAgent(transport, userAgent)
	}
	cfg.Transport = transport
	return cfg
}

func (c *Client) Search(ctx context.Context, index string, body elastic.SearchBody) (*elastic.Page, error) {
	var buf bytes.Buffer
	if err := elastic.JSON.NewEncoder(&buf).Encode(body.Build()); err != nil {
		return nil, err
	}

	req := esapi.SearchRequest{
		Index: []string{index},
		Body:  &buf,
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return nil, &elastic.ConnectionError{Op: "search " + index, Err: err}
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, elastic.NewRemoteError(res.StatusCode, res.Body)
	}

	return elastic.DecodePage(res.Body)
}

func (c *Client) Aliases(ctx context.Context) (map[string][]string, error) {
	req := esapi.IndicesGetAliasRequest{}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return nil, &elastic.ConnectionError{Op: "get aliases", Err: err}
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, elastic.NewRemoteError(res.StatusCode, res.Body)
	}

	return elastic.DecodeAliases(res.Body)
}

func (c *Client) Stop() {}
