// Package soil looks up the World Reference Base soil class of a point
// from ISRIC SoilGrids.
package soil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lox/daasclimate/internal/config"
	"github.com/lox/daasclimate/internal/httputil"
	"github.com/lox/daasclimate/internal/metrics"
	"github.com/lox/daasclimate/internal/store"
)

const provider = "soilgrids"

// NotFound is the class reported when SoilGrids does not answer in time.
const NotFound = "not found"

// DefaultTimeout bounds a classification query. SoilGrids is slow and the
// soil class is optional context, so the lookup gives up early.
const DefaultTimeout = 3 * time.Second

// PayloadStore persists raw provider responses. *store.Store implements it.
type PayloadStore interface {
	GetLookup(ctx context.Context, provider, key string, maxAge time.Duration) (*store.LookupEntry, error)
	PutLookup(ctx context.Context, provider, key string, payload []byte) (bool, error)
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	timeout    time.Duration
	store      PayloadStore
	logger     *slog.Logger
}

// NewClient creates a SoilGrids client. st may be nil.
func NewClient(cfg config.Soil, st PayloadStore, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		httpClient: httputil.NewClient(timeout),
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		timeout:    timeout,
		store:      st,
		logger:     logger,
	}
}

// Classify returns the WRB class name at lat, lon. A timeout yields
// NotFound and a nil error.
func (c *Client) Classify(ctx context.Context, lat, lon float64) (string, error) {
	key := fmt.Sprintf("%.4f,%.4f", lat, lon)
	if c.store != nil {
		if e, err := c.store.GetLookup(ctx, provider, key, 0); err != nil {
			c.logger.Warn("lookup cache read failed", "provider", provider, "error", err)
		} else if e != nil {
			if name, err := parse(e.Payload); err == nil {
				metrics.CacheLookups.WithLabelValues(provider, "store_hit").Inc()
				return name, nil
			}
		}
		metrics.CacheLookups.WithLabelValues(provider, "miss").Inc()
	}

	start := time.Now()
	body, err := c.fetch(ctx, lat, lon)
	metrics.ProviderLatency.WithLabelValues(provider).Observe(time.Since(start).Seconds())
	if err != nil {
		if isTimeout(err) && ctx.Err() == nil {
			metrics.ProviderCallsTotal.WithLabelValues(provider, "timeout").Inc()
			c.logger.Info("soil lookup timed out", "lat", lat, "lon", lon, "timeout", c.timeout)
			return NotFound, nil
		}
		metrics.ProviderCallsTotal.WithLabelValues(provider, "error").Inc()
		return "", err
	}

	name, err := parse(body)
	if err != nil {
		metrics.ProviderCallsTotal.WithLabelValues(provider, "error").Inc()
		return "", err
	}
	metrics.ProviderCallsTotal.WithLabelValues(provider, "ok").Inc()

	if c.store != nil {
		if _, err := c.store.PutLookup(ctx, provider, key, body); err != nil {
			c.logger.Warn("lookup cache write failed", "provider", provider, "error", err)
		}
	}
	return name, nil
}

func (c *Client) fetch(ctx context.Context, lat, lon float64) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := url.Values{
		"lon":            {strconv.FormatFloat(lon, 'f', -1, 64)},
		"lat":            {strconv.FormatFloat(lat, 'f', -1, 64)},
		"number_classes": {"5"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/soilgrids/v2.0/classification/query?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("soil request: %w", err)
	}
	defer resp.Body.Close()

	if err := httputil.CheckResponse(resp); err != nil {
		return nil, fmt.Errorf("soilgrids: %w", err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

func parse(body []byte) (string, error) {
	var r response
	if err := json.Unmarshal(body, &r); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if r.WRBClassName == nil {
		return "", errors.New("soilgrids: response has no wrb_class_name")
	}
	return *r.WRBClassName, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// SoilGrids API response types.

type response struct {
	WRBClassName  *string `json:"wrb_class_name"`
	WRBClassValue *int    `json:"wrb_class_value"`
}
