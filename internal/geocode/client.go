// Package geocode resolves free text place names to coordinates with the
// Geoapify forward geocoding API.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lox/daasclimate/internal/config"
	"github.com/lox/daasclimate/internal/httputil"
	"github.com/lox/daasclimate/internal/metrics"
	"github.com/lox/daasclimate/internal/models"
)

const provider = "geoapify"

// ErrNotFound is returned when the query matches no place.
var ErrNotFound = errors.New("geocode: location not found")

// Geocoder resolves a place name to a location.
type Geocoder interface {
	Geocode(ctx context.Context, text string) (models.Location, error)
}

// Fetcher returns the raw search response for a query.
type Fetcher interface {
	Fetch(ctx context.Context, text string) ([]byte, error)
}

// Client implements Geocoder and Fetcher against the Geoapify API.
type Client struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
	newBackOff func() backoff.BackOff
}

// NewClient creates a Geoapify geocoding client.
func NewClient(cfg config.Geocode, logger *slog.Logger) *Client {
	return &Client{
		apiKey:     cfg.APIKey,
		httpClient: httputil.NewClient(cfg.Timeout),
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		logger:     logger,
		newBackOff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.MaxElapsedTime = 30 * time.Second
			return bo
		},
	}
}

// Geocode returns the first match for text.
func (c *Client) Geocode(ctx context.Context, text string) (models.Location, error) {
	body, err := c.Fetch(ctx, text)
	if err != nil {
		return models.Location{}, err
	}
	return Parse(text, body)
}

// Fetch performs the search request, retrying rate limits, server errors
// and network failures until ctx is done or the backoff gives up.
func (c *Client) Fetch(ctx context.Context, text string) ([]byte, error) {
	params := url.Values{
		"text":   {text},
		"apiKey": {c.apiKey},
	}
	fullURL := c.baseURL + "/v1/geocode/search?" + params.Encode()

	start := time.Now()
	var body []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("geocode request: %w", err)
		}
		defer resp.Body.Close()

		if err := httputil.CheckResponse(resp); err != nil {
			var se *httputil.StatusError
			if errors.As(err, &se) && se.Retryable() {
				return fmt.Errorf("geoapify: %w", err)
			}
			return backoff.Permanent(fmt.Errorf("geoapify: %w", err))
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("geocode retry", "query", text, "error", err, "wait", wait)
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(c.newBackOff(), ctx), notify)
	metrics.ProviderLatency.WithLabelValues(provider).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ProviderCallsTotal.WithLabelValues(provider, "error").Inc()
		return nil, err
	}
	metrics.ProviderCallsTotal.WithLabelValues(provider, "ok").Inc()
	return body, nil
}

// Parse extracts the first feature of a search response.
func Parse(text string, body []byte) (models.Location, error) {
	var r response
	if err := json.Unmarshal(body, &r); err != nil {
		return models.Location{}, fmt.Errorf("decode response: %w", err)
	}
	if len(r.Features) == 0 {
		return models.Location{}, fmt.Errorf("%w: %q", ErrNotFound, text)
	}
	p := r.Features[0].Properties
	if p.Lat == nil || p.Lon == nil {
		return models.Location{}, fmt.Errorf("%w: %q has no coordinates", ErrNotFound, text)
	}
	return models.Location{
		Query:     text,
		Lat:       *p.Lat,
		Lon:       *p.Lon,
		Formatted: p.Formatted,
	}, nil
}

// Geoapify API response types.

type response struct {
	Features []feature `json:"features"`
}

type feature struct {
	Properties properties `json:"properties"`
}

type properties struct {
	Lat       *float64 `json:"lat"`
	Lon       *float64 `json:"lon"`
	Formatted string   `json:"formatted"`
	Country   string   `json:"country"`
}
