package httpclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAppliesDefaults(t *testing.T) {
	t.Parallel()

	client := New(nil)
	assert.Equal(t, DefaultTimeout, client.defaultTimeout)
	assert.Equal(t, defaultUserAgent, client.userAgent)
	assert.Nil(t, client.limiter)

	client = New(&Config{DefaultTimeout: 5 * time.Second, UserAgent: "Test/1.0", RateLimit: 2})
	assert.Equal(t, 5*time.Second, client.defaultTimeout)
	assert.Equal(t, "Test/1.0", client.userAgent)
	require.NotNil(t, client.limiter)
	assert.Equal(t, 1, client.limiter.Burst())
}

func TestGetSetsHeaders(t *testing.T) {
	t.Parallel()

	var ua, key string
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
		key = r.Header.Get("apikey")
		_, _ = w.Write([]byte("ok"))
	})

	client := newTestClientWithConfig(t, &Config{Headers: map[string]string{"apikey": "secret"}})
	resp, err := client.Get(t.Context(), server.URL)
	require.NoError(t, err)
	defer closeResponseBody(t, resp)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, defaultUserAgent, ua)
	assert.Equal(t, "secret", key)
}

func TestErrorStatusesBecomeStatusErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"bad request", http.StatusBadRequest, false},
		{"unauthorized", http.StatusUnauthorized, false},
		{"throttled", http.StatusTooManyRequests, true},
		{"server error", http.StatusBadGateway, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", tt.status)
			})
			client := newTestClientWithConfig(t, nil)

			resp, err := client.Get(t.Context(), server.URL+"?token=abc")
			require.Error(t, err)
			assert.Nil(t, resp)

			var se *StatusError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.status, se.StatusCode)
			assert.NotContains(t, se.URL, "token")
			assert.Equal(t, tt.retryable, IsRetryable(err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(context.Canceled))
	assert.True(t, IsRetryable(io.ErrUnexpectedEOF))
}

func TestContextCancellation(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	})
	client := newTestClientWithConfig(t, nil)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := client.Get(ctx, server.URL)
	require.ErrorIs(t, err, context.Canceled)
}

func TestDefaultTimeoutApplies(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		w.WriteHeader(http.StatusOK)
	})
	client := newTestClientWithConfig(t, &Config{DefaultTimeout: 50 * time.Millisecond})

	_, err := client.Get(context.Background(), server.URL)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPostJSONWithMockTransport(t *testing.T) {
	t.Parallel()

	transport := httpmock.NewMockTransport()
	var got map[string]string
	transport.RegisterResponder(http.MethodPost, "https://hooks.example/push",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
			if err := json.NewDecoder(req.Body).Decode(&got); err != nil {
				return nil, err
			}
			return httpmock.NewStringResponse(http.StatusAccepted, ""), nil
		})

	client := newTestClientWithConfig(t, &Config{Transport: transport})

	var hookCalls atomic.Int32
	client.SetAfterResponseHook(func(_ *http.Request, resp *http.Response, _ time.Duration, err error) {
		assert.NoError(t, err)
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
		hookCalls.Add(1)
	})

	require.NoError(t, client.PostJSON(t.Context(), "https://hooks.example/push", map[string]string{"tag": "k"}))
	assert.Equal(t, "k", got["tag"])
	assert.Equal(t, int32(1), hookCalls.Load())
	assert.Equal(t, 1, transport.GetTotalCallCount())
}

func TestRateLimitPacesRequests(t *testing.T) {
	t.Parallel()

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, "https://api.example/x", httpmock.NewStringResponder(http.StatusOK, "[]"))

	client := newTestClientWithConfig(t, &Config{Transport: transport, RateLimit: 20, Burst: 1})

	start := time.Now()
	for range 3 {
		resp, err := client.Get(t.Context(), "https://api.example/x")
		require.NoError(t, err)
		closeResponseBody(t, resp)
	}
	// Two waits of 50ms at 20 req/s.
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}
