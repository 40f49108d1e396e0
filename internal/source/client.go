package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/arwahdevops/adsync/internal/config"
	"github.com/arwahdevops/adsync/internal/engine"
	"github.com/arwahdevops/adsync/internal/metrics"
	"github.com/arwahdevops/adsync/internal/secrets"
)

// ErrorClassifier turns a non-2xx response into the engine's error
// taxonomy. Returning nil falls back to a generic APIError for the status.
// Installed via WithEnvelopeCheck it instead inspects 2xx bodies, for APIs
// that report errors inside a success envelope.
type ErrorClassifier func(statusCode int, body []byte) error

// HeaderFunc renders the auth headers for the current credentials.
type HeaderFunc func(creds *secrets.APICredentials) map[string]string

// RefreshFunc exchanges the refresh token for a fresh access token.
type RefreshFunc func(ctx context.Context, http *resty.Client, creds *secrets.APICredentials) (string, error)

// Client is the shared HTTP layer under every platform adapter: rate
// limiting, bounded retries with exponential backoff on transient errors,
// and a single transparent re-auth attempt on 401 when the platform
// supports token refresh.
type Client struct {
	platform   string
	http       *resty.Client
	limiter    *rate.Limiter
	maxRetries int
	backoff    time.Duration
	headers    HeaderFunc
	refresh    RefreshFunc
	classify   ErrorClassifier
	envelope   ErrorClassifier
	metrics    *metrics.Store
	logger     *zap.Logger

	mu    sync.Mutex
	creds *secrets.APICredentials
}

func NewClient(platform, baseURL string, cfg *config.Config, creds *secrets.APICredentials, m *metrics.Store, logger *zap.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(cfg.APITimeout).
		SetHeader("Accept", "application/json")

	return &Client{
		platform:   platform,
		http:       httpClient,
		limiter:    rate.NewLimiter(rate.Limit(cfg.APIRateLimitRPS), 1),
		maxRetries: cfg.APIMaxRetries,
		backoff:    cfg.APIRetryBackoff,
		metrics:    m,
		logger:     logger.Named(platform + "-client"),
		creds:      creds,
	}
}

// WithAuthHeaders sets how auth material is attached to each request.
func (c *Client) WithAuthHeaders(fn HeaderFunc) *Client { c.headers = fn; return c }

// WithRefresh enables the transparent single re-auth on 401.
func (c *Client) WithRefresh(fn RefreshFunc) *Client { c.refresh = fn; return c }

// WithClassifier installs the platform-specific error classifier.
func (c *Client) WithClassifier(fn ErrorClassifier) *Client { c.classify = fn; return c }

// WithEnvelopeCheck installs a classifier run against 2xx bodies, so error
// envelopes hidden behind HTTP 200 enter the same retry handling as
// transient HTTP statuses.
func (c *Client) WithEnvelopeCheck(fn ErrorClassifier) *Client { c.envelope = fn; return c }

// Request describes one API call. Query and Body are optional.
type Request struct {
	Method string
	Path   string
	Query  map[string]string
	Body   interface{}
}

// Do executes req, decoding a 2xx JSON body into out (when out is non-nil).
// Transient failures are retried up to the configured maximum; a 401 causes
// one token refresh before the request is repeated without consuming a
// retry. The returned error is terminal.
func (c *Client) Do(ctx context.Context, req Request, out interface{}) error {
	reauthed := false
	attempt := 0
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter wait: %w", err)
		}

		start := time.Now()
		resp, err := c.execute(ctx, req)
		c.metrics.APIRequestDuration.WithLabelValues(c.platform).Observe(time.Since(start).Seconds())

		var apiErr error
		switch {
		case err != nil:
			apiErr = &engine.APIError{Platform: c.platform, StatusCode: 0, Message: "request failed", Err: err}
		case resp.IsSuccess():
			if c.envelope != nil {
				apiErr = c.envelope(resp.StatusCode(), resp.Body())
			}
			if apiErr == nil {
				c.metrics.APIRequestsTotal.WithLabelValues(c.platform, "success").Inc()
				if out == nil {
					return nil
				}
				if uErr := json.Unmarshal(resp.Body(), out); uErr != nil {
					return fmt.Errorf("%s: decode response body: %w", c.platform, uErr)
				}
				return nil
			}
		case resp.StatusCode() == http.StatusUnauthorized && c.refresh != nil && !reauthed:
			c.metrics.APIRequestsTotal.WithLabelValues(c.platform, "reauth").Inc()
			c.logger.Info("Received 401, refreshing access token once.")
			if rErr := c.refreshToken(ctx); rErr != nil {
				return rErr
			}
			reauthed = true
			continue
		default:
			apiErr = c.classifyResponse(resp)
		}

		if engine.IsRetryable(apiErr) && attempt < c.maxRetries {
			attempt++
			delay := c.backoff * time.Duration(1<<uint(attempt-1))
			c.metrics.APIRequestsTotal.WithLabelValues(c.platform, "retried").Inc()
			c.logger.Warn("Transient API failure, backing off before retry.",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", c.maxRetries),
				zap.Duration("delay", delay),
				zap.Error(apiErr))
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		c.metrics.APIRequestsTotal.WithLabelValues(c.platform, "error").Inc()
		return apiErr
	}
}

func (c *Client) execute(ctx context.Context, req Request) (*resty.Response, error) {
	r := c.http.R().SetContext(ctx)
	if c.headers != nil {
		c.mu.Lock()
		r.SetHeaders(c.headers(c.creds))
		c.mu.Unlock()
	}
	if len(req.Query) > 0 {
		r.SetQueryParams(req.Query)
	}
	if req.Body != nil {
		r.SetHeader("Content-Type", "application/json").SetBody(req.Body)
	}
	return r.Execute(req.Method, req.Path)
}

func (c *Client) classifyResponse(resp *resty.Response) error {
	if c.classify != nil {
		if err := c.classify(resp.StatusCode(), resp.Body()); err != nil {
			return err
		}
	}
	if resp.StatusCode() == http.StatusRequestEntityTooLarge {
		return &engine.PayloadTooLargeError{Platform: c.platform}
	}
	return &engine.APIError{
		Platform:   c.platform,
		StatusCode: resp.StatusCode(),
		Message:    truncateBody(resp.Body()),
	}
}

func (c *Client) refreshToken(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	token, err := c.refresh(ctx, c.http, c.creds)
	if err != nil {
		return fmt.Errorf("%s: access token refresh failed: %w", c.platform, err)
	}
	c.creds.AccessToken = token
	return nil
}

// Credentials returns the current credential material under the client's
// lock; callers must not mutate the returned struct.
func (c *Client) Credentials() secrets.APICredentials {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.creds
}

func truncateBody(body []byte) string {
	const max = 512
	if len(body) > max {
		return string(body[:max]) + "...(truncated)"
	}
	return string(body)
}
