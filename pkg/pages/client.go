// Package pages talks to the dashboard's page API. The batch pipeline upserts
// one page record per input row before fetching HTML or generating schema.
package pages

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

// UpsertOutcome is the dashboard's verdict on an upsert request.
type UpsertOutcome string

const (
	OutcomeCreated UpsertOutcome = "created"
	OutcomeUpdated UpsertOutcome = "updated"
	OutcomeSkipped UpsertOutcome = "skipped"
)

// Client defines the page API operations used by the pipeline.
type Client interface {
	Upsert(ctx context.Context, req UpsertRequest) (*UpsertResponse, error)
}

// UpsertRequest is the body for POST /api/pages/upsert. When Overwrite is
// false an existing page at the same (domain, path) is left untouched and the
// response outcome is "skipped".
type UpsertRequest struct {
	Domain    string `json:"domain"`
	Path      string `json:"path"`
	PageType  string `json:"page_type"`
	Category  string `json:"category"`
	Overwrite bool   `json:"overwrite"`
}

// UpsertResponse is the response from POST /api/pages/upsert.
type UpsertResponse struct {
	ID      string        `json:"id"`
	Outcome UpsertOutcome `json:"outcome"`
}

// APIError is returned when the page API responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("pages: HTTP %d: %s", e.StatusCode, e.Body)
}

// HTTPStatus exposes the status code for retry classification.
func (e *APIError) HTTPStatus() int {
	return e.StatusCode
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.hc = hc
	}
}

type httpClient struct {
	baseURL string
	apiKey  string
	hc      *http.Client
}

// NewClient creates a page API client for the dashboard at baseURL.
func NewClient(baseURL, apiKey string, opts ...Option) Client {
	c := &httpClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		hc:      &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Upsert(ctx context.Context, req UpsertRequest) (*UpsertResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "pages: marshal upsert request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/pages/upsert", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "pages: build upsert request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.hc.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "pages: upsert")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "pages: read upsert response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var out UpsertResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, eris.Wrap(err, "pages: decode upsert response")
	}
	return &out, nil
}
