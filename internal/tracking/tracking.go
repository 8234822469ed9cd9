package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/pharmadesk/internal/cache"
	"github.com/Additional-Code/pharmadesk/internal/config"
)

var trackingTracer = otel.Tracer("github.com/Additional-Code/pharmadesk/tracking")

// ErrDisabled is returned when no tracker is configured.
var ErrDisabled = errors.New("tracking lookup disabled")

// maxBody caps how much of a tracker response is read.
const maxBody = 1 << 20

// Client looks up live delivery progress for a tracking number. The payload
// is the tracker's JSON document, passed through untouched.
type Client interface {
	Lookup(ctx context.Context, trackingNumber string) (json.RawMessage, error)
}

// Module provides the tracking client to Fx.
var Module = fx.Provide(New)

// New builds the configured client. Successful lookups are cached in store.
func New(cfg config.Config, store cache.Store, logger *zap.Logger) Client {
	if !cfg.Tracking.Enabled {
		return disabledClient{}
	}
	return &httpClient{
		baseURL: strings.TrimRight(cfg.Tracking.BaseURL, "/"),
		apiKey:  cfg.Tracking.APIKey,
		timeout: cfg.Tracking.Timeout,
		http:    &http.Client{Timeout: cfg.Tracking.Timeout},
		cache:   cache.NewReadThrough(store, cfg.Cache.DefaultTTL, logger),
	}
}

type disabledClient struct{}

func (disabledClient) Lookup(context.Context, string) (json.RawMessage, error) {
	return nil, ErrDisabled
}

type httpClient struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	http    *http.Client
	cache   *cache.ReadThrough
}

func (c *httpClient) Lookup(ctx context.Context, trackingNumber string) (json.RawMessage, error) {
	ctx, span := trackingTracer.Start(ctx, "Tracking.Lookup", trace.WithAttributes(attribute.String("tracking.number", trackingNumber)))
	defer span.End()

	payload, hit, err := c.cache.Get(ctx, cacheKey(trackingNumber), func(ctx context.Context) ([]byte, error) {
		return c.fetch(ctx, trackingNumber)
	})
	span.SetAttributes(attribute.Bool("cache.hit", hit))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lookup failed")
		return nil, err
	}
	return json.RawMessage(payload), nil
}

func (c *httpClient) fetch(ctx context.Context, trackingNumber string) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.baseURL + "/" + url.PathEscape(trackingNumber)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tracker responded %d", resp.StatusCode)
	}
	if !json.Valid(body) {
		return nil, errors.New("tracker returned invalid JSON")
	}
	return json.RawMessage(body), nil
}

func cacheKey(trackingNumber string) string {
	return "tracking:" + trackingNumber
}
