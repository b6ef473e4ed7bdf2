// Package search wraps the Brave web search API.
//
// Search results are best-effort enrichment for generation prompts: every
// error here is non-fatal and callers simply continue without results.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultEndpoint = "https://api.search.brave.com/res/v1/web/search"
	resultCount     = 5
	formatTop       = 3
)

// Result is one web search hit.
type Result struct {
	Title       string
	URL         string
	Description string
}

// Option is a functional option for configuring the Client.
type Option func(*Client)

// WithEndpoint overrides the API endpoint. Used by tests.
func WithEndpoint(u string) Option {
	return func(c *Client) { c.endpoint = u }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// Client talks to the Brave search API. Safe for concurrent use.
type Client struct {
	apiKey   string
	endpoint string
	http     *http.Client
}

// New creates a Client. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("search: apiKey must not be empty")
	}
	c := &Client{
		apiKey:   apiKey,
		endpoint: defaultEndpoint,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

// Search runs a Russian-language web query and returns the top hits.
func (c *Client) Search(ctx context.Context, query string) ([]Result, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("search: parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("count", fmt.Sprint(resultCount))
	q.Set("search_lang", "ru")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("search: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search: status %d", resp.StatusCode)
	}

	var br braveResponse
	if err := json.NewDecoder(resp.Body).Decode(&br); err != nil {
		return nil, fmt.Errorf("search: decode response: %w", err)
	}

	results := make([]Result, 0, len(br.Web.Results))
	for _, r := range br.Web.Results {
		results = append(results, Result{
			Title:       r.Title,
			URL:         r.URL,
			Description: r.Description,
		})
	}
	return results, nil
}

// Format renders the top results as a prompt context block. Returns "" when
// there is nothing to show.
func Format(results []Result) string {
	if len(results) == 0 {
		return ""
	}
	n := len(results)
	if n > formatTop {
		n = formatTop
	}

	var b strings.Builder
	b.WriteString("Результаты поиска в интернете:\n")
	for i, r := range results[:n] {
		fmt.Fprintf(&b, "%d. %s\n%s\n", i+1, r.Title, r.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}
