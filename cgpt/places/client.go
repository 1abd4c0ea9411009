// Package places wraps the Google Places (New) and Geocoding APIs. Every call
// is a single request with no retry; failures come back as *cgpt.AdapterError
// carrying the user-visible message.
package places

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	internal "github.com/ZanzyTHEbar/coffee-gpt/cgpt"
	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/config"

	"github.com/rs/zerolog"
)

const (
	DefaultPlacesBaseURL = "https://places.googleapis.com/v1"
	DefaultGeocodeURL    = "https://maps.googleapis.com/maps/api/geocode/json"

	adapterName = "places"
	// maxBodySize bounds how much of a response body is read.
	maxBodySize = 2 << 20
)

// Client talks to the Places and Geocoding endpoints.
type Client struct {
	apiKey        string
	placesBaseURL string
	geocodeURL    string
	httpClient    *http.Client
	pageSize      int
	radius        int
	photoWidth    int
	logger        zerolog.Logger
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

// WithPlacesBaseURL points the Places calls elsewhere (tests, proxies).
func WithPlacesBaseURL(u string) Option {
	return func(c *Client) { c.placesBaseURL = u }
}

// WithGeocodeURL points the Geocoding call elsewhere.
func WithGeocodeURL(u string) Option {
	return func(c *Client) { c.geocodeURL = u }
}

// WithPageSize sets the fixed result count for searches.
func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithRadius sets the default search radius in meters.
func WithRadius(m int) Option {
	return func(c *Client) {
		if m > 0 {
			c.radius = m
		}
	}
}

// WithPhotoWidth sets maxWidthPx for photo media lookups.
func WithPhotoWidth(px int) Option {
	return func(c *Client) {
		if px > 0 {
			c.photoWidth = px
		}
	}
}

// WithLogger sets the logger used for request diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client with the public Google endpoints.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:        apiKey,
		placesBaseURL: DefaultPlacesBaseURL,
		geocodeURL:    DefaultGeocodeURL,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		pageSize:      internal.DefaultPageSize,
		radius:        internal.DefaultRadiusMeters,
		photoWidth:    400,
		logger:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewFromConfig builds a Client from the places and photos config sections.
func NewFromConfig(cfg config.PlacesConfig, photos config.PhotosConfig, logger zerolog.Logger) *Client {
	opts := []Option{
		WithTimeout(cfg.Timeout),
		WithPageSize(cfg.PageSize),
		WithRadius(cfg.RadiusMeters),
		WithPhotoWidth(photos.MaxWidthPx),
		WithLogger(logger.With().Str("component", "places").Logger()),
	}
	if cfg.PlacesBaseURL != "" {
		opts = append(opts, WithPlacesBaseURL(cfg.PlacesBaseURL))
	}
	if cfg.GeocodeBaseURL != "" {
		opts = append(opts, WithGeocodeURL(cfg.GeocodeBaseURL))
	}
	return New(cfg.APIKey, opts...)
}

// apiError is the error envelope returned by the Places API.
type apiError struct {
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// do sends a request and returns the status code and body. Only transport
// failures are errors here; status handling is left to the caller.
func (c *Client) do(ctx context.Context, method, url string, payload any, fieldMask string) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Key", c.apiKey)
	if fieldMask != "" {
		req.Header.Set("X-Goog-FieldMask", fieldMask)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}

	c.logger.Debug().
		Str("method", method).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("places request")

	return resp.StatusCode, data, nil
}

// kindForStatus maps an HTTP status onto the error taxonomy.
func kindForStatus(code int) error {
	switch {
	case code == http.StatusNotFound:
		return internal.ErrNotFound
	case code >= 500 || code == http.StatusTooManyRequests:
		return internal.ErrUpstreamUnavailable
	default:
		return internal.ErrMalformedResponse
	}
}

// transportError classifies a failed round trip. Context errors are kept in
// the chain so callers can tell cancellation from an outage.
func transportError(err error, format string, args ...any) *internal.AdapterError {
	return internal.NewAdapterError(adapterName, internal.ErrUpstreamUnavailable, err, format, args...)
}

// errorMessage extracts the API error message, falling back to the raw body.
func errorMessage(body []byte) string {
	var envelope apiError
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	if len(body) == 0 {
		return "empty response"
	}
	return string(body)
}
