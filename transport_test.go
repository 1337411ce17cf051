package sentry_transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/your-org/sentry-envelope-transport/internal/transport"
)

type capturedRequest struct {
	path    string
	headers http.Header
	body    []byte
}

// newSentryServer records every request and answers with status and headers.
func newSentryServer(t *testing.T, status int, headers map[string]string) (*httptest.Server, func() []capturedRequest) {
	t.Helper()

	var mu sync.Mutex
	var captured []capturedRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var reader io.Reader = r.Body
		if r.Header.Get("Content-Encoding") == "gzip" {
			gz, err := gzip.NewReader(r.Body)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			defer gz.Close()
			reader = gz
		}
		body, _ := io.ReadAll(reader)

		mu.Lock()
		captured = append(captured, capturedRequest{path: r.URL.Path, headers: r.Header.Clone(), body: body})
		mu.Unlock()

		for k, v := range headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"id":"ok"}`))
	}))
	t.Cleanup(srv.Close)

	return srv, func() []capturedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedRequest(nil), captured...)
	}
}

func testDSN(t *testing.T, srv *httptest.Server) *DSN {
	t.Helper()
	dsn, err := ParseDSN(strings.Replace(srv.URL, "http://", "http://public@", 1) + "/42")
	require.NoError(t, err)
	return dsn
}

func newTestExecutor(t *testing.T, cfg *Config, dsn *DSN) *HTTPExecutor {
	t.Helper()
	cfg.InitDefaults()
	mock := clock.NewMock()
	mock.Set(time.Unix(1700000000, 0))
	exec, err := NewHTTPExecutor(cfg, dsn, mock, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = exec.Close() })
	return exec
}

func awaitResponse(t *testing.T, exec transport.RequestExecutor, body string) (transport.Response, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return exec.Execute(ctx, transport.Request{Body: []byte(body), ItemCount: 1}).Await(ctx)
}

func TestHTTPExecutorPostsCompressedEnvelope(t *testing.T) {
	srv, requests := newSentryServer(t, http.StatusOK, map[string]string{
		"X-Sentry-Rate-Limits": "60:transaction:key",
	})
	exec := newTestExecutor(t, &Config{
		Transport: TransportConfig{Headers: map[string]string{"X-Custom": "yes"}},
	}, testDSN(t, srv))

	body := "{\"event_id\":\"abc\"}\n{\"type\":\"event\",\"length\":2}\n{}\n"
	resp, err := awaitResponse(t, exec, body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "60:transaction:key", resp.Headers.Get("X-Sentry-Rate-Limits"))

	got := requests()
	require.Len(t, got, 1)
	assert.Equal(t, "/api/42/envelope/", got[0].path)
	assert.Equal(t, body, string(got[0].body))
	assert.Equal(t, "gzip", got[0].headers.Get("Content-Encoding"))
	assert.Equal(t, "application/x-sentry-envelope", got[0].headers.Get("Content-Type"))
	assert.Equal(t, "yes", got[0].headers.Get("X-Custom"))
	assert.Contains(t, got[0].headers.Get("X-Sentry-Auth"), "sentry_key=public")
	assert.Contains(t, got[0].headers.Get("X-Sentry-Auth"), "sentry_timestamp=1700000000")
}

func TestHTTPExecutorWithoutCompression(t *testing.T) {
	srv, requests := newSentryServer(t, http.StatusOK, nil)
	exec := newTestExecutor(t, &Config{
		Transport: TransportConfig{Compression: ptrTo(false)},
	}, testDSN(t, srv))

	_, err := awaitResponse(t, exec, "{}\n")
	require.NoError(t, err)

	got := requests()
	require.Len(t, got, 1)
	assert.Empty(t, got[0].headers.Get("Content-Encoding"))
	assert.Equal(t, "{}\n", string(got[0].body))
}

func TestHTTPExecutorResolvesErrorStatuses(t *testing.T) {
	for _, status := range []int{http.StatusTooManyRequests, http.StatusRequestEntityTooLarge, http.StatusInternalServerError} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			srv, _ := newSentryServer(t, status, map[string]string{"Retry-After": "30"})
			exec := newTestExecutor(t, &Config{}, testDSN(t, srv))

			resp, err := awaitResponse(t, exec, "{}\n")
			require.NoError(t, err, "an HTTP status is never an executor failure")
			assert.Equal(t, status, resp.StatusCode)
			assert.Equal(t, "30", resp.Headers.Get("Retry-After"))
		})
	}
}

func TestHTTPExecutorRejectsOnNetworkError(t *testing.T) {
	srv, _ := newSentryServer(t, http.StatusOK, nil)
	dsn := testDSN(t, srv)
	srv.Close()

	exec := newTestExecutor(t, &Config{}, dsn)
	_, err := awaitResponse(t, exec, "{}\n")
	require.Error(t, err)
}

func TestNoOpExecutorResolves(t *testing.T) {
	exec := &NoOpExecutor{logger: zaptest.NewLogger(t)}
	resp, err := awaitResponse(t, exec, "{}\n")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
