package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// statusSequence answers each request with the next status code; once the
// list is used up it keeps answering with the last one.
func statusSequence(t *testing.T, codes ...int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		i := int(calls.Add(1)) - 1
		if i >= len(codes) {
			i = len(codes) - 1
		}
		w.WriteHeader(codes[i])
		if codes[i] == http.StatusOK {
			_, _ = w.Write([]byte(`{"ok":true,"n":12345678901234567890}`))
			return
		}
		_, _ = w.Write([]byte(`{"message":"status ` + http.StatusText(codes[i]) + `"}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newRecordingTransport(maxRetries int, base time.Duration) (*retryingTransport, *[]time.Duration) {
	cfg := defaultConfig()
	cfg.MaxRetries = maxRetries
	tr := newRetryingTransport(testWallet, cfg, nopLogger())
	tr.baseDelay = base
	return tr, recordBackoff(tr)
}

// recordBackoff captures every computed back-off and skips the actual wait.
func recordBackoff(tr *retryingTransport) *[]time.Duration {
	var sleeps []time.Duration
	tr.schedule = func(d time.Duration) time.Duration {
		sleeps = append(sleeps, d)
		return 0
	}
	return &sleeps
}

func TestBackoffDelay(t *testing.T) {
	base := 2 * time.Second
	require.Equal(t, 2*time.Second, backoffDelay(base, 1))
	require.Equal(t, 4*time.Second, backoffDelay(base, 2))
	require.Equal(t, 8*time.Second, backoffDelay(base, 3))
	require.Equal(t, 2*time.Second, backoffDelay(base, 0))
}

func TestRequest_RetriesServerErrorsThenSucceeds(t *testing.T) {
	srv, calls := statusSequence(t, 500, 500, 200)
	base := 250 * time.Millisecond
	tr, sleeps := newRecordingTransport(3, base)

	data, err := tr.request(context.Background(), http.MethodGet, srv.URL, nil, nil)
	require.NoError(t, err)
	require.Equal(t, true, data["ok"])
	require.Equal(t, "12345678901234567890", stringValue(data["n"]))
	require.EqualValues(t, 3, calls.Load())
	require.Equal(t, []time.Duration{base, 2 * base}, *sleeps)
}

func TestRequest_ClientErrorIsFatal(t *testing.T) {
	srv, calls := statusSequence(t, 404)
	tr, sleeps := newRecordingTransport(3, time.Second)

	_, err := tr.request(context.Background(), http.MethodPost, srv.URL, nil, map[string]any{"a": 1})
	require.Error(t, err)
	require.EqualValues(t, 1, calls.Load())
	require.Empty(t, *sleeps)
	require.Equal(t, classFatal, classify(err))

	var ae *apiError
	require.True(t, errors.As(err, &ae))
	require.Equal(t, http.StatusNotFound, ae.StatusCode)
	require.Equal(t, "status Not Found", ae.Message)
	require.NotErrorIs(t, err, errRetriesExhausted)
}

func TestRequest_ExhaustsRetries(t *testing.T) {
	srv, calls := statusSequence(t, 503)
	tr, sleeps := newRecordingTransport(3, time.Second)

	_, err := tr.request(context.Background(), http.MethodGet, srv.URL, nil, nil)
	require.ErrorIs(t, err, errRetriesExhausted)
	require.Equal(t, classRetryable, classify(err))
	require.EqualValues(t, 3, calls.Load())
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *sleeps)

	var ae *apiError
	require.True(t, errors.As(err, &ae), "exhausted error must wrap the last cause")
	require.Equal(t, http.StatusServiceUnavailable, ae.StatusCode)
}

func TestRequest_ConnectionFailureIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	tr, sleeps := newRecordingTransport(2, time.Millisecond)
	_, err := tr.request(context.Background(), http.MethodGet, addr, nil, nil)
	require.ErrorIs(t, err, errRetriesExhausted)

	var te *transportError
	require.True(t, errors.As(err, &te))
	require.Len(t, *sleeps, 1)
}

func TestRequest_Headers(t *testing.T) {
	var got http.Header
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		gotQuery = r.URL.Query()
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)

	tr, _ := newRecordingTransport(1, 0)
	q := url.Values{"projectId": {"p 1"}}
	_, err := tr.request(context.Background(), http.MethodGet, srv.URL, q, nil)
	require.NoError(t, err)
	require.Equal(t, testWallet, got.Get(walletHeader))
	require.Equal(t, "application/json", got.Get("Content-Type"))
	require.Equal(t, "application/json", got.Get("Accept"))
	require.Equal(t, defaultUA, got.Get("User-Agent"))
	require.Equal(t, "p 1", gotQuery.Get("projectId"))
}

func TestRequest_CancelledBeforeStart(t *testing.T) {
	srv, calls := statusSequence(t, 200)
	tr, _ := newRecordingTransport(3, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := tr.request(ctx, http.MethodPost, srv.URL, nil, map[string]any{})
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, calls.Load())
}

func TestRequest_CancelledDuringBackoff(t *testing.T) {
	srv, calls := statusSequence(t, 500)
	tr, _ := newRecordingTransport(3, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	tr.schedule = func(time.Duration) time.Duration {
		cancel()
		return time.Hour
	}
	_, err := tr.request(ctx, http.MethodGet, srv.URL, nil, nil)
	require.ErrorIs(t, err, context.Canceled)
	require.EqualValues(t, 1, calls.Load(), "no attempt may start after cancellation")
}

func TestRequest_MalformedBodyIsFatal(t *testing.T) {
	for name, body := range map[string]string{
		"empty":     "",
		"not_json":  "<html>",
		"array":     "[1,2]",
		"json_null": "null",
	} {
		t.Run(name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				_, _ = w.Write([]byte(body))
			}))
			t.Cleanup(srv.Close)

			tr, sleeps := newRecordingTransport(3, time.Second)
			_, err := tr.request(context.Background(), http.MethodGet, srv.URL, nil, nil)

			var pe *protocolError
			require.True(t, errors.As(err, &pe), "got %v", err)
			require.Equal(t, classFatal, classify(err))
			require.EqualValues(t, 1, calls.Load())
			require.Empty(t, *sleeps)
		})
	}
}

func TestRequest_SingleAttemptServerError(t *testing.T) {
	srv, calls := statusSequence(t, 502, 200)
	tr, sleeps := newRecordingTransport(1, time.Second)

	_, err := tr.request(context.Background(), http.MethodGet, srv.URL, nil, nil)
	require.ErrorIs(t, err, errRetriesExhausted)
	require.EqualValues(t, 1, calls.Load())
	require.Empty(t, *sleeps)

	var re *retriesExhaustedError
	require.True(t, errors.As(err, &re))
	require.Equal(t, 1, re.Attempts)
	require.Equal(t, http.MethodGet, re.Method)
	require.Equal(t, srv.URL, re.URL)
}

func TestCheckRetry(t *testing.T) {
	ctx := context.Background()
	for code, want := range map[int]bool{200: false, 400: false, 404: false, 429: false, 500: true, 501: true, 503: true} {
		retry, err := checkRetry(ctx, &http.Response{StatusCode: code}, nil)
		require.NoError(t, err)
		require.Equal(t, want, retry, "status %d", code)
	}

	retry, err := checkRetry(ctx, nil, errors.New("connection reset"))
	require.NoError(t, err)
	require.True(t, retry)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	retry, err = checkRetry(cancelled, &http.Response{StatusCode: 503}, nil)
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, retry)
}

func TestBackoff_ExactNoJitter(t *testing.T) {
	tr, sleeps := newRecordingTransport(4, 300*time.Millisecond)
	for i := 0; i < 3; i++ {
		require.Zero(t, tr.backoff(time.Second, 30*time.Second, i, nil))
	}
	require.Equal(t, []time.Duration{300 * time.Millisecond, 600 * time.Millisecond, 1200 * time.Millisecond}, *sleeps)
}
