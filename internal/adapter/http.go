// Package adapter implements the external collaborators of the engine:
// the price oracle, the perps data provider and the on-chain stake reader.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/trading-arena/internal/circuitbreaker"
	apperrors "github.com/trading-arena/internal/errors"
	"github.com/trading-arena/internal/retry"
	"golang.org/x/time/rate"
)

// maxResponseBytes bounds provider response bodies
const maxResponseBytes = 8 << 20

// httpStatusError is a non-2xx provider response
type httpStatusError struct {
	StatusCode int
	Body       string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// temporary reports whether the status is worth retrying
func (e *httpStatusError) temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// requestBudget is a provider quota shared with other engine replicas
type requestBudget interface {
	Wait(ctx context.Context, cost int) error
}

// restClient is the shared GET transport of the provider clients.
// Every call waits on the rate limiter, runs inside the circuit breaker and is
// retried with exponential backoff on transient failures.
type restClient struct {
	provider string
	baseURL  string
	client   *http.Client
	limiter  *rate.Limiter
	budget   requestBudget
	breaker  *circuitbreaker.CircuitBreaker
	retryCfg *retry.RetryConfig
}

func newRestClient(provider, baseURL string, timeout time.Duration, rps, maxRetries int, breaker *circuitbreaker.CircuitBreaker) *restClient {
	if rps <= 0 {
		rps = 1
	}
	retryCfg := retry.DefaultRetryConfig()
	if maxRetries > 0 {
		retryCfg.MaxAttempts = maxRetries
	}
	retryCfg.Retryable = isTransient
	return &restClient{
		provider: provider,
		baseURL:  baseURL,
		client:   &http.Client{Timeout: timeout},
		limiter:  rate.NewLimiter(rate.Limit(rps), rps),
		breaker:  breaker,
		retryCfg: retryCfg,
	}
}

// isTransient decides both retry and breaker accounting
func isTransient(err error) bool {
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return statusErr.temporary()
	}
	return true
}

// get fetches path and returns the response body.
// Failures are wrapped as upstream errors naming the provider.
func (c *restClient) get(ctx context.Context, path string) ([]byte, error) {
	if c.budget != nil {
		if err := c.budget.Wait(ctx, 1); err != nil {
			return nil, apperrors.NewUpstreamError(c.provider, err)
		}
	}

	var body []byte
	err := retry.WithExponentialBackoff(ctx, c.retryCfg, func(ctx context.Context, attempt int) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		return c.breaker.Execute(ctx, func(ctx context.Context) error {
			b, err := c.do(ctx, path)
			if err != nil {
				return err
			}
			body = b
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperrors.NewUpstreamTimeoutError(c.provider)
		}
		return nil, apperrors.NewUpstreamError(c.provider, err)
	}
	return body, nil
}

func (c *restClient) do(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(body)
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, &httpStatusError{StatusCode: resp.StatusCode, Body: snippet}
	}
	return body, nil
}
