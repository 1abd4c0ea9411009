// Package search wraps the Tavily web search API.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	internal "github.com/ZanzyTHEbar/coffee-gpt/cgpt"
	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/config"
	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/schema"

	"github.com/rs/zerolog"
)

const (
	DefaultBaseURL = "https://api.tavily.com/search"

	adapterName = "web_search"
	maxBodySize = 2 << 20
)

// Client calls the Tavily search endpoint.
type Client struct {
	apiKey      string
	baseURL     string
	searchDepth string
	maxResults  int
	httpClient  *http.Client
	logger      zerolog.Logger
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithBaseURL overrides the search endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithSearchDepth selects "basic" or "advanced" search.
func WithSearchDepth(depth string) Option {
	return func(c *Client) {
		if depth != "" {
			c.searchDepth = depth
		}
	}
}

// WithMaxResults sets the fixed result count.
func WithMaxResults(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxResults = n
		}
	}
}

// WithLogger sets the logger used for request diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Tavily client.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:      apiKey,
		baseURL:     DefaultBaseURL,
		searchDepth: "basic",
		maxResults:  internal.DefaultPageSize,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewFromConfig builds a Client from the search config section.
func NewFromConfig(cfg config.SearchConfig, logger zerolog.Logger) *Client {
	opts := []Option{
		WithTimeout(cfg.Timeout),
		WithSearchDepth(cfg.SearchDepth),
		WithMaxResults(cfg.MaxResults),
		WithLogger(logger.With().Str("component", "search").Logger()),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, WithBaseURL(cfg.BaseURL))
	}
	return New(cfg.APIKey, opts...)
}

type searchRequest struct {
	APIKey        string `json:"api_key"`
	Query         string `json:"query"`
	SearchDepth   string `json:"search_depth"`
	MaxResults    int    `json:"max_results"`
	IncludeAnswer bool   `json:"include_answer"`
}

type searchResponse struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

type errorResponse struct {
	Detail json.RawMessage `json:"detail"`
	Error  string          `json:"error"`
}

// WebSearch runs one search and returns the hits in API order.
func (c *Client) WebSearch(ctx context.Context, query string) ([]schema.SearchResultRecord, error) {
	if c.apiKey == "" {
		return nil, internal.NewAdapterError(adapterName, internal.ErrUpstreamUnavailable, nil, "Error: web search is not configured")
	}
	if strings.TrimSpace(query) == "" {
		return nil, internal.NewAdapterError(adapterName, internal.ErrMalformedResponse, nil, "Error: a search query is required")
	}

	buf, err := json.Marshal(searchRequest{
		APIKey:      c.apiKey,
		Query:       query,
		SearchDepth: c.searchDepth,
		MaxResults:  c.maxResults,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, internal.NewAdapterError(adapterName, internal.ErrUpstreamUnavailable, err, "Error: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, internal.NewAdapterError(adapterName, internal.ErrUpstreamUnavailable, err, "Error: %v", err)
	}

	c.logger.Debug().Int("status", resp.StatusCode).Dur("duration", time.Since(start)).Msg("web search request")

	if resp.StatusCode != http.StatusOK {
		kind := internal.ErrMalformedResponse
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			kind = internal.ErrUpstreamUnavailable
		}
		return nil, internal.NewAdapterError(adapterName, kind, nil, "Error: %s", errorMessage(body, resp.StatusCode))
	}

	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, internal.NewAdapterError(adapterName, internal.ErrMalformedResponse, err, "Error: unexpected response from web search")
	}

	records := make([]schema.SearchResultRecord, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		text := strings.Join(strings.Fields(r.Content), " ")
		if text == "" {
			continue
		}
		records = append(records, schema.SearchResultRecord{
			Text:   text,
			Source: Citation(r.Title, r.URL),
		})
	}
	return records, nil
}

// Citation formats a source as a markdown link. An untitled source links
// its own URL.
func Citation(title, url string) string {
	title = strings.TrimSpace(title)
	switch {
	case url == "":
		return title
	case title == "":
		return "[" + url + "](" + url + ")"
	default:
		return "[" + strings.NewReplacer("[", "(", "]", ")").Replace(title) + "](" + url + ")"
	}
}

func errorMessage(body []byte, status int) string {
	var e errorResponse
	if err := json.Unmarshal(body, &e); err == nil {
		if e.Error != "" {
			return e.Error
		}
		var detail struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(e.Detail, &detail) == nil && detail.Error != "" {
			return detail.Error
		}
		var s string
		if json.Unmarshal(e.Detail, &s) == nil && s != "" {
			return s
		}
	}
	return http.StatusText(status)
}
