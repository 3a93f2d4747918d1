// Package fetch retrieves raw battery telemetry from the upstream REST API.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/aaronlmathis/voltwatch/internal/metrics"
	"github.com/aaronlmathis/voltwatch/internal/telemetry"
)

// ErrUpstreamStatus is wrapped by errors for non-2xx upstream responses
var ErrUpstreamStatus = errors.New("upstream returned an error status")

// Response bodies larger than this are rejected
const maxBodyBytes = 32 << 20

// Config represents the telemetry client configuration
type Config struct {
	BaseURL       string
	DevicesPath   string
	TelemetryPath string // "{device}" is replaced with the escaped device ID
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
	CacheTTL      time.Duration
	Auth          AuthConfig
}

// Device is one entry of the upstream device list
type Device struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Client talks to the upstream telemetry API. It is safe for concurrent use.
type Client struct {
	logger   *zap.Logger
	config   Config
	http     *http.Client
	limiter  *rate.Limiter
	cache    Cache
	cacheTTL time.Duration
}

// NewClient creates a telemetry client. A nil cache disables caching.
func NewClient(ctx context.Context, logger *zap.Logger, config Config, cache Cache) (*Client, error) {
	if _, err := url.ParseRequestURI(config.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid upstream base URL: %w", err)
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.RatePerSecond <= 0 {
		config.RatePerSecond = 5
	}
	if config.Burst <= 0 {
		config.Burst = 1
	}
	if cache == nil {
		cache = NopCache{}
	}

	httpClient, err := newHTTPClient(ctx, logger, config.Auth, config.Timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to configure upstream auth: %w", err)
	}

	return &Client{
		logger:   logger,
		config:   config,
		http:     httpClient,
		limiter:  rate.NewLimiter(rate.Limit(config.RatePerSecond), config.Burst),
		cache:    cache,
		cacheTTL: config.CacheTTL,
	}, nil
}

// FetchTelemetry returns the decoded telemetry payload for deviceID over
// [start, end). The result is passed to telemetry.NormalizeRawPayload.
func (c *Client) FetchTelemetry(ctx context.Context, deviceID string, start, end time.Time) (any, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device ID is required")
	}

	path := strings.ReplaceAll(c.config.TelemetryPath, "{device}", url.PathEscape(deviceID))
	params := url.Values{}
	params.Set("start", start.UTC().Format(time.RFC3339))
	params.Set("end", end.UTC().Format(time.RFC3339))

	key := cacheKey(deviceID, start, end)
	if body, ok := c.cacheGet(ctx, key); ok {
		c.logger.Debug("Returning cached telemetry payload",
			zap.String("device", deviceID),
			zap.Time("start", start),
			zap.Time("end", end))
		return telemetry.DecodePayload(body)
	}

	body, err := c.get(ctx, "telemetry", path, params)
	if err != nil {
		return nil, err
	}

	raw, err := telemetry.DecodePayload(body)
	if err != nil {
		return nil, err
	}

	if c.cacheTTL > 0 {
		if err := c.cache.Set(ctx, key, body, c.cacheTTL); err != nil {
			c.logger.Warn("Failed to cache telemetry payload", zap.String("backend", c.cache.Name()), zap.Error(err))
		}
	}
	return raw, nil
}

// ListDevices returns the devices known to the upstream API, sorted by ID.
// Accepts a list of objects, a list of IDs, or either wrapped in {"devices": ...}.
func (c *Client) ListDevices(ctx context.Context) ([]Device, error) {
	body, err := c.get(ctx, "devices", c.config.DevicesPath, nil)
	if err != nil {
		return nil, err
	}

	raw, err := telemetry.DecodePayload(body)
	if err != nil {
		return nil, err
	}
	if obj, ok := raw.(map[string]any); ok {
		raw = obj["devices"]
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected device list format")
	}

	devices := make([]Device, 0, len(list))
	for _, item := range list {
		switch v := item.(type) {
		case string:
			devices = append(devices, Device{ID: v, Name: v})
		case map[string]any:
			d := Device{ID: stringField(v, "id", "device_id", "serial"), Name: stringField(v, "name", "label")}
			if d.ID == "" {
				continue
			}
			if d.Name == "" {
				d.Name = d.ID
			}
			devices = append(devices, d)
		}
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })
	return devices, nil
}

// TestConnection checks that the device list endpoint answers
func (c *Client) TestConnection(ctx context.Context) error {
	_, err := c.get(ctx, "devices", c.config.DevicesPath, nil)
	return err
}

func (c *Client) get(ctx context.Context, endpoint, path string, params url.Values) ([]byte, error) {
	u, err := url.Parse(strings.TrimSuffix(c.config.BaseURL, "/") + "/" + strings.TrimPrefix(path, "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream URL: %w", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("Querying telemetry API", zap.String("url", u.String()))

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RecordUpstreamRequest(endpoint, 0, time.Since(start))
		return nil, fmt.Errorf("failed to query telemetry API: %w", err)
	}
	defer resp.Body.Close()
	metrics.RecordUpstreamRequest(endpoint, resp.StatusCode, time.Since(start))

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("telemetry response exceeds %d bytes", maxBodyBytes)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s %d: %s", ErrUpstreamStatus, endpoint, resp.StatusCode, truncate(string(body), 256))
	}
	return body, nil
}

func (c *Client) cacheGet(ctx context.Context, key string) ([]byte, bool) {
	if c.cacheTTL <= 0 {
		return nil, false
	}
	body, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.logger.Warn("Payload cache lookup failed", zap.String("backend", c.cache.Name()), zap.Error(err))
		return nil, false
	}
	metrics.RecordCacheLookup(c.cache.Name(), ok)
	return body, ok
}

func cacheKey(deviceID string, start, end time.Time) string {
	return fmt.Sprintf("telemetry:%s:%d:%d", deviceID, start.Unix(), end.Unix())
}

func stringField(obj map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := obj[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case fmt.Stringer:
			return v.String()
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
