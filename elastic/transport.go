package elastic

import (
	"net/http"
)

type userAgentTransport struct {
	base  http.RoundTripper
	agent string
}

// WithUserAgent returns a RoundTripper that replaces the User-Agent header
// set by the client library with agent.
func WithUserAgent(base http.RoundTripper, agent string) http.RoundTripper {
	if agent == "" {
		return base
	}
	if base == nil {
		base = http.DefaultTransport
	}
	return &userAgentTransport{base: base, agent: agent}
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.agent)
	return t.base.RoundTrip(req)
}
