package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tapedeck-io/tapedeck/internal/assemble"
)

// DefaultTimeout bounds a single chunk request. There is no built-in
// retry: a failed fetch surfaces as a terminal error for the load.
const DefaultTimeout = 10 * time.Second

// HTTP fetches chunks from a recording-service endpoint:
//
//	GET {base}/sessions/{sessionID}/chunks          -> [{"start":...,"end":...}, ...]
//	GET {base}/chunks?start={start}&end={end}       -> raw chunk payload
type HTTP struct {
	base   string
	client *http.Client
	token  string
}

// HTTPOption configures an HTTP fetcher.
type HTTPOption func(*HTTP)

// WithClient replaces the default HTTP client.
func WithClient(c *http.Client) HTTPOption {
	return func(h *HTTP) { h.client = c }
}

// WithToken sets a bearer token attached to every request.
func WithToken(token string) HTTPOption {
	return func(h *HTTP) { h.token = token }
}

// NewHTTP creates a fetcher against the given base URL. If no client
// is supplied, a default client with a 10s timeout is used.
func NewHTTP(base string, opts ...HTTPOption) *HTTP {
	h := &HTTP{
		base:   strings.TrimRight(base, "/"),
		client: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ListSources retrieves the session's chunk locators in service order.
func (h *HTTP) ListSources(ctx context.Context, sessionID string) ([]assemble.Locator, error) {
	u := fmt.Sprintf("%s/sessions/%s/chunks", h.base, url.PathEscape(sessionID))
	raw, err := h.get(ctx, u)
	if err != nil {
		return nil, err
	}

	var locators []assemble.Locator
	if err := json.Unmarshal(raw, &locators); err != nil {
		return nil, fmt.Errorf("parse chunk listing: %w", err)
	}
	return locators, nil
}

// FetchChunk retrieves one chunk's raw payload.
func (h *HTTP) FetchChunk(ctx context.Context, loc assemble.Locator) ([]byte, error) {
	q := url.Values{"start": {loc.Start}}
	if loc.End != "" {
		q.Set("end", loc.End)
	}
	return h.get(ctx, h.base+"/chunks?"+q.Encode())
}

func (h *HTTP) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("recording service returned %d for %s", resp.StatusCode, u)
	}
	return io.ReadAll(resp.Body)
}
