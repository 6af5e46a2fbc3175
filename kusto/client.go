package kusto

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/samber/mo"

	"sift/lib/timer"
)

const queryPath = "/v2/rest/query"

// TokenProvider supplies the bearer token attached to query requests. Token
// acquisition (caching, refresh, device flows) lives entirely behind this
// interface.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenProvider for a pre-issued token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}

type ClientConfig struct {
	// Endpoint is the base URL of the query service, e.g.
	// "https://telemetry.kusto.example.net".
	Endpoint string
	// Auth optionally signs requests; absent means anonymous access.
	Auth mo.Option[TokenProvider]
	// HTTPClient overrides the default client, mostly for tests.
	HTTPClient *http.Client
}

// Client issues queries against the analytical query service and exposes
// each progressive response as a frame stream.
type Client struct {
	endpoint *url.URL
	auth     mo.Option[TokenProvider]
	http     *http.Client
}

func NewClient(cfg ClientConfig) (*Client, error) {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to parse endpoint [%s]: %v", cfg.Endpoint, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("endpoint [%s] is not an absolute URL", cfg.Endpoint)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	httpclient := cfg.HTTPClient
	if httpclient == nil {
		httpclient = &http.Client{}
	}
	return &Client{endpoint: u, auth: cfg.Auth, http: httpclient}, nil
}

// Query runs statement against database and returns the frame stream of the
// progressive response. The request runs under ctx; cancelling ctx aborts
// both the request and any in-flight body reads. The caller owns the stream
// and must Close it.
func (c *Client) Query(ctx context.Context, database, statement string) (*FrameStream, error) {
	defer timer.Start("kusto.Query").Stop()
	payload, err := json.Marshal(map[string]string{"db": database, "csl": statement})
	if err != nil {
		return nil, fmt.Errorf("marshal query request: %w", err)
	}
	u := *c.endpoint
	u.Path = u.Path + queryPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.auth.IsPresent() {
		token, err := c.auth.MustGet().Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquire token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("query failed: %s: %s", resp.Status, bytes.TrimSpace(body))
	}
	return NewFrameStream(resp.Body), nil
}
