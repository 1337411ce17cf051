package sentry_transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/your-org/sentry-envelope-transport/internal/promise"
	"github.com/your-org/sentry-envelope-transport/internal/transport"
)

// maxDrainResponseBytes caps how much of a response body is read. The body
// has to be drained for keep-alive to reuse the connection.
const maxDrainResponseBytes = 16 << 10

// HTTPExecutor posts serialized envelopes to the Sentry envelope endpoint
type HTTPExecutor struct {
	config *TransportConfig
	dsn    *DSN
	client *http.Client
	clock  clock.Clock
	logger *zap.Logger

	compression bool
}

// NewHTTPExecutor creates a new HTTP request executor
func NewHTTPExecutor(cfg *Config, dsn *DSN, clk clock.Clock, logger *zap.Logger) (*HTTPExecutor, error) {
	httpTransport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: !cfg.sslVerify(), //nolint:gosec
		},
	}

	// Configure proxy if specified
	if cfg.Transport.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Transport.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}
		httpTransport.Proxy = http.ProxyURL(proxyURL)
	}

	if clk == nil {
		clk = clock.New()
	}

	return &HTTPExecutor{
		config: &cfg.Transport,
		dsn:    dsn,
		client: &http.Client{
			Transport: httpTransport,
			Timeout:   cfg.Transport.Timeout,
		},
		clock:       clk,
		logger:      logger,
		compression: cfg.compression(),
	}, nil
}

// Execute performs the request on its own goroutine and settles the promise
// with the status and headers. Any HTTP status resolves; only a failed
// exchange rejects.
func (e *HTTPExecutor) Execute(ctx context.Context, req transport.Request) *promise.Promise[transport.Response] {
	return promise.New(func(resolve func(transport.Response), reject func(error)) {
		go func() {
			resp, err := e.do(ctx, req)
			if err != nil {
				reject(err)
				return
			}
			resolve(resp)
		}()
	})
}

func (e *HTTPExecutor) do(ctx context.Context, req transport.Request) (transport.Response, error) {
	httpReq, err := e.createRequest(ctx, req.Body)
	if err != nil {
		return transport.Response{}, err
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		e.logger.Error("HTTP request failed",
			zap.Int("items", req.ItemCount),
			zap.Error(err))
		return transport.Response{}, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		e.logger.Debug("Envelope sent successfully",
			zap.Int("status_code", resp.StatusCode),
			zap.Int("items", req.ItemCount))
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxDrainResponseBytes))
		e.logger.Warn("Envelope rejected",
			zap.Int("status_code", resp.StatusCode),
			zap.String("response", string(body)))
	default:
		e.logger.Error("Unexpected response status",
			zap.Int("status_code", resp.StatusCode))
	}

	_, _ = io.CopyN(io.Discard, resp.Body, maxDrainResponseBytes)

	return transport.Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
	}, nil
}

// createRequest creates an HTTP request for the serialized envelope
func (e *HTTPExecutor) createRequest(ctx context.Context, envelope []byte) (*http.Request, error) {
	var body io.Reader = bytes.NewReader(envelope)
	var contentEncoding string

	if e.compression {
		var buf bytes.Buffer
		gzipWriter := gzip.NewWriter(&buf)
		if _, err := gzipWriter.Write(envelope); err != nil {
			return nil, fmt.Errorf("failed to compress payload: %w", err)
		}
		if err := gzipWriter.Close(); err != nil {
			return nil, fmt.Errorf("failed to close gzip writer: %w", err)
		}
		body = &buf
		contentEncoding = "gzip"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.dsn.EnvelopeURL(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for k, v := range e.config.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/x-sentry-envelope")
	req.Header.Set("User-Agent", sentryClient)
	req.Header.Set("X-Sentry-Auth", e.dsn.AuthHeader(e.clock.Now()))

	if contentEncoding != "" {
		req.Header.Set("Content-Encoding", contentEncoding)
	}

	return req, nil
}

// Close closes idle connections
func (e *HTTPExecutor) Close() error {
	if e.client != nil {
		e.client.CloseIdleConnections()
	}
	return nil
}

// NoOpExecutor is used when no DSN is configured. It logs and discards.
type NoOpExecutor struct {
	logger *zap.Logger
}

// Execute implements transport.RequestExecutor
func (n *NoOpExecutor) Execute(_ context.Context, req transport.Request) *promise.Promise[transport.Response] {
	n.logger.Info("Dry-run: would send envelope",
		zap.Int("items", req.ItemCount),
		zap.Int("payload_size", len(req.Body)))

	return promise.Resolve(transport.Response{StatusCode: http.StatusOK})
}
