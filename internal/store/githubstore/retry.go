package githubstore

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/issueforge/internal/config"
	"github.com/fyrsmithlabs/issueforge/internal/logging"
)

// RetryConfig configures retry behavior for GitHub API calls.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        2,
		InitialBackoff:    time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// RetryFromConfig converts the application retry settings. MaxAttempts
// counts the first call.
func RetryFromConfig(c config.RetryConfig) RetryConfig {
	r := RetryConfig{
		MaxRetries:     c.MaxAttempts - 1,
		InitialBackoff: c.InitialBackoff.Duration(),
		MaxBackoff:     c.MaxBackoff.Duration(),
	}
	r.applyDefaults()
	return r
}

func (c *RetryConfig) applyDefaults() {
	d := DefaultRetryConfig()
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.BackoffMultiplier <= 0 {
		c.BackoffMultiplier = d.BackoffMultiplier
	}
}

// retry runs op with exponential backoff. Rate-limited responses wait for
// the reported reset, capped at MaxBackoff.
func retry(ctx context.Context, cfg RetryConfig, logger *logging.Logger, name string, op func() (*github.Response, error)) (*github.Response, error) {
	cfg.applyDefaults()

	var (
		lastErr  error
		lastResp *github.Response
	)
	backoff := cfg.InitialBackoff
	start := time.Now()

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		resp, err := op()
		if err == nil {
			if attempt > 0 {
				logger.Info(ctx, "GitHub API call recovered after retries",
					zap.String("operation", name), zap.Int("attempts", attempt+1),
					zap.Duration("total_time", time.Since(start)))
			}
			return resp, nil
		}
		lastErr, lastResp = err, resp

		if !retryable(err, resp) {
			return resp, err
		}
		if attempt == cfg.MaxRetries {
			break
		}

		wait := backoff
		if isRateLimit(resp) {
			wait = rateLimitBackoff(resp, cfg.MaxBackoff)
		}
		logger.Info(ctx, "retrying GitHub API call",
			zap.String("operation", name),
			zap.Int("attempt", attempt+1),
			zap.Int("status_code", statusCode(resp)),
			zap.Duration("backoff", wait),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%s canceled: %w", name, ctx.Err())
		case <-time.After(wait):
		}
		backoff = time.Duration(float64(backoff) * cfg.BackoffMultiplier)
		if backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}

	logger.Warn(ctx, "GitHub API call failed after retries",
		zap.String("operation", name),
		zap.Int("total_attempts", cfg.MaxRetries+1),
		zap.Int("status_code", statusCode(lastResp)),
		zap.Error(lastErr))
	return lastResp, fmt.Errorf("%s failed after %d attempts: %w", name, cfg.MaxRetries+1, lastErr)
}

func retryable(err error, resp *github.Response) bool {
	if err == nil {
		return false
	}
	if resp == nil || resp.Response == nil {
		// Network errors and timeouts.
		return true
	}
	switch code := resp.StatusCode; code {
	case http.StatusTooManyRequests:
		return true
	case http.StatusForbidden:
		// Secondary rate limits come back as 403 with rate headers.
		return resp.Rate.Limit > 0 && resp.Rate.Remaining == 0
	default:
		return code >= 500 && code < 600
	}
}

func isRateLimit(resp *github.Response) bool {
	if resp == nil || resp.Response == nil {
		return false
	}
	return resp.StatusCode == http.StatusTooManyRequests ||
		(resp.StatusCode == http.StatusForbidden && resp.Rate.Limit > 0)
}

func rateLimitBackoff(resp *github.Response, max time.Duration) time.Duration {
	if resp.Rate.Reset.Time.IsZero() {
		return max
	}
	wait := time.Until(resp.Rate.Reset.Time) + time.Second
	if wait < time.Second {
		wait = time.Second
	}
	if wait > max {
		wait = max
	}
	return wait
}

func statusCode(resp *github.Response) int {
	if resp != nil && resp.Response != nil {
		return resp.StatusCode
	}
	return 0
}

func notFound(resp *github.Response) bool {
	return statusCode(resp) == http.StatusNotFound
}
