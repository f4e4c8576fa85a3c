package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	// requestTimeout bounds every single attempt.
	requestTimeout = 30 * time.Second

	maxResponseSize = 10 * 1024 * 1024 // 10MB limit

	walletHeader = "X-Wallet-Address"
)

// backoffDelay returns the wait before attempt+1: base * 2^(attempt-1).
func backoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base * time.Duration(uint64(1)<<uint(attempt-1))
}

// retryingTransport sends JSON requests through a retryablehttp client.
//
// Responses with status < 500 are fatal and returned immediately. Status >= 500
// and connection-level failures are retried up to maxRetries attempts in total.
// The transport keeps no state between calls apart from the connection pool.
type retryingTransport struct {
	client     *retryablehttp.Client
	wallet     string
	userAgent  string
	maxRetries int
	baseDelay  time.Duration
	// schedule turns a computed back-off into the wait actually used.
	schedule func(time.Duration) time.Duration
	log      *logger
}

func newRetryingTransport(wallet string, cfg appConfig, log *logger) *retryingTransport {
	if log == nil {
		log = nopLogger()
	}
	attempts := cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	t := &retryingTransport{
		wallet:     wallet,
		userAgent:  cfg.UserAgent,
		maxRetries: attempts,
		baseDelay:  cfg.retryDelay(),
		schedule:   func(d time.Duration) time.Duration { return d },
		log:        log,
	}

	c := retryablehttp.NewClient()
	c.HTTPClient.Timeout = requestTimeout
	c.RetryMax = attempts - 1
	c.Logger = retryLogger{log}
	c.CheckRetry = checkRetry
	c.Backoff = t.backoff
	c.ErrorHandler = giveUp
	c.RequestLogHook = t.logAttempt
	c.ResponseLogHook = t.logResponse
	t.client = c
	return t
}

// checkRetry retries 5xx responses and connection failures. A cancelled
// context is never retried.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return false, ctxErr
	}
	if err != nil {
		return true, nil
	}
	return resp.StatusCode >= http.StatusInternalServerError, nil
}

// backoff ignores the library's min/max window: the delay is exact, with no jitter.
func (t *retryingTransport) backoff(_, _ time.Duration, attemptNum int, _ *http.Response) time.Duration {
	d := backoffDelay(t.baseDelay, attemptNum+1)
	t.log.debugf("retrying in %s", d)
	return t.schedule(d)
}

// giveUp runs once the last retryable attempt failed.
func giveUp(resp *http.Response, err error, attempts int) (*http.Response, error) {
	last := err
	if resp != nil {
		defer func() { _ = resp.Body.Close() }()
		if last == nil {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
			last = newAPIError(resp.StatusCode, b)
		}
	}
	if last == nil {
		last = errors.New("no response")
	}
	var ae *apiError
	if !errors.As(last, &ae) {
		last = &transportError{Err: last}
	}
	return nil, &retriesExhaustedError{Attempts: attempts, Last: last}
}

func (t *retryingTransport) logAttempt(_ retryablehttp.Logger, req *http.Request, retry int) {
	t.log.debugf("%s %s (attempt %d/%d)", req.Method, req.URL, retry+1, t.maxRetries)
}

func (t *retryingTransport) logResponse(_ retryablehttp.Logger, resp *http.Response) {
	if resp.StatusCode >= http.StatusInternalServerError {
		t.log.warnf("HTTP %d on %s %s", resp.StatusCode, resp.Request.Method, resp.Request.URL)
	}
}

// request performs method on rawURL and returns the decoded JSON object.
func (t *retryingTransport) request(ctx context.Context, method, rawURL string, query url.Values, body any) (map[string]any, error) {
	if len(query) > 0 {
		rawURL += "?" + query.Encode()
	}

	var raw any
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		raw = b
	}

	// Never start once the run has been cancelled.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, rawURL, raw)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", t.userAgent)
	req.Header.Set(walletHeader, t.wallet)

	resp, err := t.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var re *retriesExhaustedError
		if errors.As(err, &re) {
			re.Method, re.URL = method, rawURL
			var te *transportError
			if errors.As(re.Last, &te) {
				te.Method, te.URL = method, rawURL
			}
			t.log.warnf("giving up on %s %s after %d attempts: %v", method, rawURL, re.Attempts, re.Last)
			return nil, re
		}
		return nil, &transportError{Method: method, URL: rawURL, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &transportError{Method: method, URL: rawURL, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		ae := newAPIError(resp.StatusCode, b)
		t.log.warnf("HTTP %d error on %s %s", ae.StatusCode, method, rawURL)
		t.log.errf("API error body: %s", errorSnippet(ae))
		return nil, ae
	}

	return decodeObject(method+" "+rawURL, b)
}

// newAPIError classifies a non-2xx response: 5xx is retryable, the rest fatal.
func newAPIError(status int, body []byte) *apiError {
	class := classFatal
	if status >= http.StatusInternalServerError {
		class = classRetryable
	}
	return &apiError{StatusCode: status, Message: errorMessage(body), Body: body, Class: class}
}

// decodeObject parses a JSON object body, keeping numbers exact.
func decodeObject(op string, b []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, &protocolError{Op: op, Err: errors.New("empty response body")}
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, &protocolError{Op: op, Err: fmt.Errorf("parse response: %w", err)}
	}
	if out == nil {
		return nil, &protocolError{Op: op, Err: errors.New("response is not a JSON object")}
	}
	return out, nil
}

// errorMessage extracts a human-readable message from an error body.
func errorMessage(b []byte) string {
	var m map[string]any
	if json.Unmarshal(b, &m) != nil {
		return ""
	}
	if s, ok := m["message"].(string); ok && s != "" {
		return s
	}
	if s, ok := m["error"].(string); ok && s != "" {
		return s
	}
	return ""
}

func errorSnippet(ae *apiError) string {
	if ae.Message != "" {
		return ae.Message
	}
	s := strings.TrimSpace(string(ae.Body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
