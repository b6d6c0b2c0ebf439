package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// RetryConfig bounds the retry loop wrapped around chat-completion requests.
type RetryConfig struct {
	// MaxRetries is the number of additional attempts after the first.
	// Zero disables retrying.
	MaxRetries int
	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration
	// MaxBackoff caps the growing delay between retries.
	MaxBackoff time.Duration
	// Multiplier scales the delay after each failed attempt.
	Multiplier float64
}

// DefaultRetryConfig is tuned for interactive use: a few quick retries, then
// give up and surface the error to the user.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     8 * time.Second,
		Multiplier:     2.0,
	}
}

// apiError records the outcome of one request attempt so the retry loop can
// separate transient failures from permanent ones.
type apiError struct {
	cause      error
	statusCode int
	transient  bool
}

func (e *apiError) Error() string {
	if e.statusCode > 0 {
		return fmt.Sprintf("llm: upstream returned status %d: %v", e.statusCode, e.cause)
	}
	return fmt.Sprintf("llm: request failed: %v", e.cause)
}

func (e *apiError) Unwrap() error { return e.cause }

// transientTransportError reports whether a client-side transport failure is
// worth another attempt. Timeouts and temporary DNS failures qualify;
// anything else is permanent.
func transientTransportError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary
	}
	return false
}

// transientStatus reports whether an HTTP status signals a transient
// upstream condition: any 5xx, plus 429 rate limiting.
func transientStatus(code int) bool {
	return code >= http.StatusInternalServerError || code == http.StatusTooManyRequests
}

// retryRequest runs attempt until it succeeds, fails permanently, or the
// retry budget runs out. Context cancellation wins over any pending backoff
// sleep.
func retryRequest(ctx context.Context, cfg *RetryConfig, attempt func() error) error {
	if cfg == nil || cfg.MaxRetries <= 0 {
		return attempt()
	}

	delay := cfg.InitialBackoff
	for tries := 0; ; tries++ {
		err := attempt()
		if err == nil {
			return nil
		}

		var attemptErr *apiError
		if !errors.As(err, &attemptErr) || !attemptErr.transient {
			return err
		}
		if tries == cfg.MaxRetries {
			return fmt.Errorf("llm: retry exhausted after %d attempts: %w", tries+1, err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("llm: aborted while waiting to retry: %w", ctx.Err())
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxBackoff {
			delay = cfg.MaxBackoff
		}
	}
}
