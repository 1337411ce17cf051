package sentry_transport

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/roadrunner-server/errors"
	"go.uber.org/zap"

	"github.com/your-org/sentry-envelope-transport/internal/envelope"
	"github.com/your-org/sentry-envelope-transport/internal/ratelimit"
)

// RPC provides RPC methods for PHP communication
type RPC struct {
	plugin *Plugin
	logger *zap.Logger
}

// NewRPC creates a new RPC instance
func NewRPC(plugin *Plugin, logger *zap.Logger) *RPC {
	return &RPC{
		plugin: plugin,
		logger: logger,
	}
}

// Send sends a serialized envelope. Without Wait the result only reports
// whether the envelope was accepted.
func (r *RPC) Send(in *SendRequest, result *SendResult) error {
	const op = errors.Op("sentry_transport_rpc_send")

	if r.plugin.transport == nil {
		return errors.E(op, errors.Str("plugin not initialized"))
	}

	env, err := envelope.Parse(in.Envelope)
	if err != nil {
		return errors.E(op, err)
	}

	r.logger.Debug("Received envelope via RPC",
		zap.String("event_id", env.Header.EventID),
		zap.Int("items", len(env.Items)),
		zap.Bool("wait", in.Wait))

	result.EventID = env.Header.EventID
	result.RateLimited = r.rateLimitedCategories(env)

	task := r.plugin.send(context.Background(), env)
	if !in.Wait {
		result.Success = true
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.plugin.config.Transport.Timeout)
	defer cancel()

	resp, err := task.Await(ctx)
	if err != nil {
		result.Success = false
		result.Error = err.Error()
		return nil
	}

	result.Success = true
	result.StatusCode = resp.StatusCode
	if resp.StatusCode == http.StatusRequestEntityTooLarge {
		result.Error = "envelope too large"
	}

	return nil
}

// Flush waits up to timeoutMs for in-flight sends. A non-positive value
// uses buffer.flush_timeout.
func (r *RPC) Flush(timeoutMs int64, result *FlushResult) error {
	const op = errors.Op("sentry_transport_rpc_flush")

	if r.plugin.transport == nil {
		return errors.E(op, errors.Str("plugin not initialized"))
	}

	timeout := time.Duration(timeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = r.plugin.config.Buffer.FlushTimeout
	}

	flushed, err := r.plugin.transport.Flush(timeout).Await(context.Background())
	if err != nil {
		return errors.E(op, err)
	}

	result.Flushed = flushed
	result.Pending = r.plugin.transport.Pending()

	return nil
}

// RateLimits returns the categories that are currently rate limited
func (r *RPC) RateLimits(_ bool, result *[]RateLimitInfo) error {
	const op = errors.Op("sentry_transport_rpc_rate_limits")

	if r.plugin.transport == nil {
		return errors.E(op, errors.Str("plugin not initialized"))
	}

	limits := r.plugin.transport.RateLimits()
	info := make([]RateLimitInfo, 0, len(limits))
	for category, until := range limits {
		name := string(category)
		if category == ratelimit.CategoryAll {
			name = "all"
		}
		info = append(info, RateLimitInfo{
			Category:      name,
			DisabledUntil: until,
		})
	}
	sort.Slice(info, func(i, j int) bool {
		return info[i].Category < info[j].Category
	})

	*result = info
	return nil
}

// Stats returns transport metrics
func (r *RPC) Stats(_ bool, result *TransportMetrics) error {
	*result = *r.plugin.GetMetrics()
	return nil
}

func (r *RPC) rateLimitedCategories(env *envelope.Envelope) []string {
	var limited []string
	seen := make(map[ratelimit.Category]struct{})
	for _, item := range env.Items {
		category := ratelimit.CategoryOf(item.Type())
		if _, ok := seen[category]; ok {
			continue
		}
		seen[category] = struct{}{}
		if r.plugin.transport.IsRateLimited(category) {
			limited = append(limited, string(category))
		}
	}
	return limited
}
