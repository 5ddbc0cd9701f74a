package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/darkpool-adapter/internal/metrics"
	"github.com/Checker-Finance/darkpool-adapter/internal/rate"
)

// Backoff returns the retry sleep duration for the given attempt number.
func Backoff(attempt int) time.Duration {
	switch attempt {
	case 0:
		return 100 * time.Millisecond
	case 1:
		return 250 * time.Millisecond
	default:
		return 500 * time.Millisecond
	}
}

// RequestFunc builds the request for one attempt. It is called again on every
// retry so bodies and time-bound auth headers are fresh.
type RequestFunc func(ctx context.Context) (*http.Request, error)

// StatusError is returned for 4xx responses when no error handler is set.
type StatusError struct {
	Status int
	Body   []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Status, string(e.Body))
}

// Executor handles rate-limited, retrying HTTP execution with JSON decoding.
type Executor struct {
	logger       *zap.Logger
	rateMgr      *rate.Manager
	http         *http.Client
	retryMax     int
	venueTag     string
	errorHandler func(status int, body []byte) error
}

// New creates an Executor. errorHandler is called on 4xx failure responses to produce a
// venue-specific error. If nil, a *StatusError is returned.
func New(
	logger *zap.Logger,
	rateMgr *rate.Manager,
	httpClient *http.Client,
	retryMax int,
	venueTag string,
	errorHandler func(status int, body []byte) error,
) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Executor{
		logger:       logger,
		rateMgr:      rateMgr,
		http:         httpClient,
		retryMax:     retryMax,
		venueTag:     venueTag,
		errorHandler: errorHandler,
	}
}

// DoJSON executes the request built by build with rate limiting and retries,
// then JSON-decodes a 2xx body into out. It returns the final HTTP status;
// a 204 is a success with nothing decoded.
// rateLimitKey scopes the rate limiter per credential/route.
func (e *Executor) DoJSON(ctx context.Context, build RequestFunc, rateLimitKey string, out any) (int, error) {
	var lastErr error
	for attempt := 0; attempt <= e.retryMax; attempt++ {
		if e.rateMgr != nil {
			if err := e.rateMgr.Wait(ctx, rateLimitKey); err != nil {
				return 0, fmt.Errorf("rate limit wait: %w", err)
			}
		}

		req, err := build(ctx)
		if err != nil {
			return 0, fmt.Errorf("build request: %w", err)
		}
		endpoint := req.URL.Path

		start := time.Now()
		resp, err := e.http.Do(req)
		metrics.ObserveDuration(metrics.RelayerRequestDuration, start, endpoint, req.Method)
		if err != nil {
			lastErr = err
			metrics.IncRelayerRequest(endpoint, req.Method, "error")
			e.logger.Warn(e.venueTag+".http_failed",
				zap.String("url", req.URL.String()),
				zap.Error(err),
				zap.Int("attempt", attempt))
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			if attempt < e.retryMax {
				if err := sleep(ctx, Backoff(attempt)); err != nil {
					return 0, err
				}
			}
			continue
		}

		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		elapsed := time.Since(start)
		metrics.IncRelayerRequest(endpoint, req.Method, strconv.Itoa(resp.StatusCode))

		if resp.StatusCode >= 500 {
			e.logger.Warn(e.venueTag+".server_error",
				zap.Int("status", resp.StatusCode),
				zap.String("url", req.URL.String()),
				zap.Duration("latency", elapsed))
			lastErr = &StatusError{Status: resp.StatusCode, Body: body}
			if attempt < e.retryMax {
				if err := sleep(ctx, Backoff(attempt)); err != nil {
					return resp.StatusCode, err
				}
			}
			continue
		}

		if resp.StatusCode >= 400 {
			if resp.StatusCode == http.StatusTooManyRequests && e.rateMgr != nil {
				e.rateMgr.Penalize(rateLimitKey)
			}
			e.logger.Warn(e.venueTag+".client_error",
				zap.Int("status", resp.StatusCode),
				zap.String("url", req.URL.String()))
			if e.errorHandler != nil {
				return resp.StatusCode, e.errorHandler(resp.StatusCode, body)
			}
			return resp.StatusCode, &StatusError{Status: resp.StatusCode, Body: body}
		}

		if resp.StatusCode == http.StatusNoContent {
			e.logger.Debug(e.venueTag+".no_content",
				zap.String("url", req.URL.String()),
				zap.Duration("elapsed", elapsed))
			return resp.StatusCode, nil
		}

		if out != nil && len(body) > 0 {
			if err := json.Unmarshal(body, out); err != nil {
				e.logger.Warn(e.venueTag+".decode_failed",
					zap.Error(err),
					zap.String("url", req.URL.String()),
					zap.Int("body_len", len(body)))
				return resp.StatusCode, fmt.Errorf("decode failed: %w", err)
			}
		}

		e.logger.Debug(e.venueTag+".http_success",
			zap.String("url", req.URL.String()),
			zap.Int("status", resp.StatusCode),
			zap.Duration("elapsed", elapsed))

		return resp.StatusCode, nil
	}

	return 0, fmt.Errorf("%s request failed after %d attempts: %w", e.venueTag, e.retryMax+1, lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
