package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/medsafe/go-dse/pkg/circuitbreaker"
)

// ClientConfig holds configuration for the HTTP knowledge source client.
type ClientConfig struct {
	// BaseURL is the knowledge service root, e.g. http://localhost:8090.
	BaseURL string
	// APIKey is sent as X-API-Key on every request.
	APIKey string
	// CallTimeout bounds each lookup. Lookups are the only suspending
	// operation in the engine; on timeout the fail-safe unknown-interaction
	// policy applies.
	CallTimeout time.Duration
}

// DefaultClientConfig returns client defaults.
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL:     baseURL,
		CallTimeout: 3 * time.Second,
	}
}

// Client is the HTTP implementation of Source, wrapped in a circuit breaker.
// Any transport failure, non-2xx status, or open circuit surfaces as
// ErrUnavailable so callers degrade conservatively.
type Client struct {
	config  ClientConfig
	http    *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
	tracer  trace.Tracer
}

// NewClient creates an HTTP knowledge source client.
func NewClient(cfg ClientConfig, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("knowledge base URL is required")
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 3 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	breaker, err := circuitbreaker.New(circuitbreaker.DefaultConfig("knowledge-source"), logger)
	if err != nil {
		return nil, fmt.Errorf("create breaker: %w", err)
	}

	return &Client{
		config:  cfg,
		http:    &http.Client{Timeout: cfg.CallTimeout},
		breaker: breaker,
		logger:  logger,
		tracer:  otel.Tracer("knowledge-client"),
	}, nil
}

// Interaction implements Source.
func (c *Client) Interaction(ctx context.Context, a, b string) (*Fact, error) {
	var fact Fact
	found, err := c.get(ctx, "/v1/interactions", url.Values{
		"a": {Normalize(a)},
		"b": {Normalize(b)},
	}, &fact)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	if !fact.Severity.Valid() {
		// Unrecognized severity from the upstream feed is treated the same
		// as an outage: unknown, verify manually.
		c.logger.Warn("knowledge source returned unknown severity",
			zap.String("severity", string(fact.Severity)))
		return nil, ErrUnavailable
	}
	return &fact, nil
}

// MinimumGap implements Source.
func (c *Client) MinimumGap(ctx context.Context, a, b string) (time.Duration, bool, error) {
	var body struct {
		MinimumGapMinutes int `json:"minimum_gap_minutes"`
	}
	found, err := c.get(ctx, "/v1/timing-gaps", url.Values{
		"a": {Normalize(a)},
		"b": {Normalize(b)},
	}, &body)
	if err != nil || !found {
		return 0, false, err
	}
	if body.MinimumGapMinutes <= 0 {
		return 0, false, nil
	}
	return time.Duration(body.MinimumGapMinutes) * time.Minute, true, nil
}

// Substitutes implements Source.
func (c *Client) Substitutes(ctx context.Context, drug string) ([]Substitute, error) {
	var body struct {
		Substitutes []Substitute `json:"substitutes"`
	}
	found, err := c.get(ctx, "/v1/substitutes", url.Values{
		"drug": {Normalize(drug)},
	}, &body)
	if err != nil || !found {
		return nil, err
	}
	return body.Substitutes, nil
}

// get performs one lookup through the breaker. It returns found=false for a
// 404 (no data on record, a normal answer) and ErrUnavailable for everything
// the source could not answer.
func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) (bool, error) {
	ctx, span := c.tracer.Start(ctx, "knowledge_lookup",
		trace.WithAttributes(attribute.String("path", path)))
	defer span.End()

	result, err := c.breaker.Execute(ctx, func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.config.CallTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(callCtx, http.MethodGet,
			c.config.BaseURL+path+"?"+query.Encode(), nil)
		if err != nil {
			return nil, err
		}
		if c.config.APIKey != "" {
			req.Header.Set("X-API-Key", c.config.APIKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return false, nil
		case resp.StatusCode >= 300:
			return nil, fmt.Errorf("knowledge source returned %d", resp.StatusCode)
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return true, nil
	})

	if err != nil {
		span.RecordError(err)
		c.logger.Warn("knowledge lookup failed",
			zap.String("path", path),
			zap.Error(err))
		return false, fmt.Errorf("%s: %v: %w", path, err, ErrUnavailable)
	}

	return result.(bool), nil
}
