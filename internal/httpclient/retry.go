package httpclient

import (
	"bytes"
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// jitterFraction is the maximum jitter as a fraction of the delay (±25%).
const jitterFraction = 0.25

type retryConfig struct {
	maxAttempts     int
	initialInterval time.Duration
	maxInterval     time.Duration
	multiplier      float64
}

// doWithRetry executes req, replaying its buffered body on each attempt. After
// the last attempt a retryable response is returned together with an error;
// the caller closes its body.
func (c *Client) doWithRetry(ctx context.Context, req *http.Request, resp **http.Response) error {
	bodyBytes, err := bufferRequestBody(req)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := range c.retry.maxAttempts {
		if attempt > 0 {
			if err := c.waitForRetry(ctx, req, attempt, lastErr); err != nil {
				return err
			}
		}
		resetRequestBody(req, bodyBytes)

		r, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if !isRetryable(err) {
				return err
			}
			continue
		}
		if !isRetryableStatus(r.StatusCode) {
			*resp = r
			return nil
		}

		lastErr = fmt.Errorf("HTTP %d from %s", r.StatusCode, req.URL.Path)
		if attempt == c.retry.maxAttempts-1 {
			*resp = r
			return lastErr
		}
		drainResponseBody(r)
	}
	return lastErr
}

func bufferRequestBody(req *http.Request) ([]byte, error) {
	if req.Body == nil {
		return nil, nil
	}
	bodyBytes, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("reading request body: %w", err)
	}
	_ = req.Body.Close()
	return bodyBytes, nil
}

func resetRequestBody(req *http.Request, bodyBytes []byte) {
	if bodyBytes == nil {
		return
	}
	req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
	req.ContentLength = int64(len(bodyBytes))
}

// drainResponseBody discards the body so the connection can be reused.
func drainResponseBody(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

func (c *Client) waitForRetry(ctx context.Context, req *http.Request, attempt int, lastErr error) error {
	delay := backoff(attempt, c.retry)
	zap.S().Warnw("retrying domain service request",
		"path", req.URL.Path,
		"attempt", attempt+1,
		"maxAttempts", c.retry.maxAttempts,
		"backoff", delay,
		"error", lastErr,
	)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// backoff is the delay before retry attempt (1-indexed): exponential growth
// capped at maxInterval, then ±25% jitter.
func backoff(attempt int, cfg retryConfig) time.Duration {
	multiplier := cfg.multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	delay := float64(cfg.initialInterval) * math.Pow(multiplier, float64(attempt-1))
	if cfg.maxInterval > 0 && delay > float64(cfg.maxInterval) {
		delay = float64(cfg.maxInterval)
	}

	jitter := delay * jitterFraction
	delay += jitter * (2*secureRandFloat64() - 1)
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// secureRandFloat64 returns a random float64 in [0, 1).
func secureRandFloat64() float64 {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return 0
	}
	return float64(binary.BigEndian.Uint64(b[:])>>11) / float64(uint64(1)<<53)
}

// isRetryable reports whether a transport error may succeed on retry.
// Cancellation and deadlines are final.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// isRetryableStatus reports whether a response status is transient. A 500
// carries the service's own error payload and is final.
func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}
