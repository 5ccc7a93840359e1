package mergegate

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

const (
	// transportRetryAttempts is the maximum number of attempts for one request.
	transportRetryAttempts = 4
	// transportRetryDelay is the initial retry delay.
	transportRetryDelay = 1 * time.Second
	// transportRetryMaxDelay is the maximum retry delay.
	transportRetryMaxDelay = 15 * time.Second
	// transportRetryMaxJitter adds randomness to prevent thundering herd.
	transportRetryMaxJitter = 1 * time.Second
	// maxRequestSize limits request body size to prevent memory issues.
	maxRequestSize = 1 * 1024 * 1024 // 1MB
)

// RetryTransport wraps an http.RoundTripper and retries requests that
// failed at the transport level (connection reset, DNS, timeout) with
// exponential backoff and jitter. Requests the server answered are
// never replayed: a non-success status is a hard failure for the
// evaluation, and secondary rate limits are the ratelimit middleware's
// concern.
type RetryTransport struct {
	Base http.RoundTripper
}

// RoundTrip implements the http.RoundTripper interface.
func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Base == nil {
		t.Base = http.DefaultTransport
	}

	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(io.LimitReader(req.Body, maxRequestSize))
		if err != nil {
			return nil, err
		}
		if closeErr := req.Body.Close(); closeErr != nil {
			slog.DebugContext(req.Context(), "failed to close request body", "error", closeErr, "url", req.URL.String())
		}
	}

	var resp *http.Response
	err := retry.Do(
		func() error {
			// Reset the body for each attempt.
			if bodyBytes != nil {
				req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
			}

			start := time.Now()
			var err error
			resp, err = t.Base.RoundTrip(req) //nolint:bodyclose // Response body is handled by the caller
			if err != nil {
				slog.WarnContext(req.Context(), "HTTP request failed, may retry",
					"url", req.URL.String(),
					"error", err,
					"elapsed", time.Since(start))
				return err
			}
			return nil
		},
		retry.Context(req.Context()),
		retry.Attempts(transportRetryAttempts),
		retry.Delay(transportRetryDelay),
		retry.MaxDelay(transportRetryMaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.MaxJitter(transportRetryMaxJitter),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}
	return resp, nil
}
