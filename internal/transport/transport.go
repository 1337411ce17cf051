// Package transport delivers envelopes through an injected request executor.
//
// Send filters items against the rate-limit ledger, admits the remainder
// through a bounded buffer and feeds the response back into the ledger.
// Every item that is not delivered is reported through RecordDroppedEvent,
// except client_report items which are never accounted for.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/your-org/sentry-envelope-transport/internal/buffer"
	"github.com/your-org/sentry-envelope-transport/internal/clientreport"
	"github.com/your-org/sentry-envelope-transport/internal/envelope"
	"github.com/your-org/sentry-envelope-transport/internal/promise"
	"github.com/your-org/sentry-envelope-transport/internal/ratelimit"
)

// ErrSerialize rejects a send whose envelope could not be encoded.
var ErrSerialize = errors.New("transport: failed to serialize envelope")

// Request is what the executor puts on the wire.
type Request struct {
	Body []byte
	// ItemCount is the number of items serialized into Body.
	ItemCount int
}

// Response is the part of the server answer the transport consumes. The
// zero value is the empty result returned when nothing was sent.
type Response struct {
	StatusCode int
	Headers    http.Header
}

// RequestExecutor performs the network exchange. A rejected promise means
// the exchange itself failed; any HTTP status is a resolved promise.
type RequestExecutor interface {
	Execute(ctx context.Context, req Request) *promise.Promise[Response]
}

// ExecutorFunc adapts a function to RequestExecutor.
type ExecutorFunc func(ctx context.Context, req Request) *promise.Promise[Response]

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, req Request) *promise.Promise[Response] {
	return f(ctx, req)
}

// Options configures a Transport. Every field is optional.
type Options struct {
	// RecordDroppedEvent is called once per discarded item.
	RecordDroppedEvent func(reason clientreport.DiscardReason, category ratelimit.Category)
	// BufferCapacity bounds the in-flight sends. Defaults to buffer.DefaultCapacity.
	BufferCapacity int
	// Serialize encodes the filtered envelope. Defaults to envelope.Serialize.
	Serialize func(*envelope.Envelope) ([]byte, error)
	Clock     clock.Clock
	Logger    *zap.Logger
}

// Transport sends envelopes while honouring server rate limits.
type Transport struct {
	executor  RequestExecutor
	record    func(clientreport.DiscardReason, ratelimit.Category)
	serialize func(*envelope.Envelope) ([]byte, error)
	clock     clock.Clock
	log       *zap.Logger

	ledger *ratelimit.Ledger
	buffer *buffer.Buffer[Response]
}

// New creates a new Transport around executor.
func New(executor RequestExecutor, opts Options) *Transport {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Serialize == nil {
		opts.Serialize = envelope.Serialize
	}
	if opts.RecordDroppedEvent == nil {
		opts.RecordDroppedEvent = func(clientreport.DiscardReason, ratelimit.Category) {}
	}

	return &Transport{
		executor:  executor,
		record:    opts.RecordDroppedEvent,
		serialize: opts.Serialize,
		clock:     opts.Clock,
		log:       opts.Logger,
		ledger:    ratelimit.NewLedger(opts.Logger),
		buffer:    buffer.New[Response](opts.BufferCapacity, buffer.WithClock(opts.Clock)),
	}
}

// Send delivers env. The returned promise rejects only when the request
// executor fails for an envelope carrying more than client reports, or when
// the envelope cannot be serialized. Rate limiting, a full buffer and
// oversized payloads all resolve with the zero Response or the server's
// answer, and are visible only through RecordDroppedEvent.
func (t *Transport) Send(ctx context.Context, env *envelope.Envelope) *promise.Promise[Response] {
	now := t.clock.Now()
	filtered := env.Filter(func(item *envelope.Item) bool {
		category := ratelimit.CategoryOf(item.Type())
		if !t.ledger.IsRateLimited(category, now) {
			return true
		}
		if item.Type() != envelope.TypeClientReport {
			t.record(clientreport.ReasonRateLimitBackoff, category)
		}
		t.log.Debug("dropping rate limited item",
			zap.String("type", string(item.Type())),
			zap.Stringer("category", category),
			zap.Time("disabled_until", t.ledger.DisabledUntil(category, now)))
		return false
	})

	if len(filtered.Items) == 0 {
		return promise.Resolve(Response{})
	}

	task := t.buffer.Add(func() *promise.Promise[Response] {
		return t.dispatch(ctx, filtered)
	})

	return task.Catch(func(err error) (Response, error) {
		if !errors.Is(err, buffer.ErrBufferFull) {
			return Response{}, err
		}
		t.recordItems(clientreport.ReasonQueueOverflow, filtered)
		t.log.Warn("dispatch buffer is full, dropping envelope",
			zap.Int("capacity", t.buffer.Capacity()),
			zap.Int("items", len(filtered.Items)))
		return Response{}, nil
	})
}

// dispatch serializes env and runs the exchange. Its promise is the one the
// buffer tracks, so the ledger update is part of the tracked operation.
func (t *Transport) dispatch(ctx context.Context, env *envelope.Envelope) *promise.Promise[Response] {
	body, err := t.serialize(env)
	if err != nil {
		t.recordItems(clientreport.ReasonInternalError, env)
		t.log.Error("failed to serialize envelope", zap.Error(err))
		return promise.Reject[Response](fmt.Errorf("%w: %v", ErrSerialize, err))
	}

	exchange := t.execute(ctx, Request{Body: body, ItemCount: len(env.Items)})

	return promise.Handle(exchange,
		func(resp Response) *promise.Promise[Response] {
			if resp.StatusCode == http.StatusRequestEntityTooLarge {
				t.recordItems(clientreport.ReasonSendError, env)
				t.log.Warn("envelope rejected as too large",
					zap.Int("size", len(body)),
					zap.Int("items", len(env.Items)))
				return promise.Resolve(resp)
			}
			t.ledger.Update(resp.StatusCode, resp.Headers, t.clock.Now())
			return promise.Resolve(resp)
		},
		func(err error) *promise.Promise[Response] {
			if clientReportsOnly(env) {
				t.log.Debug("failed to send client report", zap.Error(err))
				return promise.Resolve(Response{})
			}
			t.recordItems(clientreport.ReasonNetworkError, env)
			return promise.Reject[Response](err)
		},
	)
}

// execute calls the executor, treating a panic or a nil promise as a
// failed exchange.
func (t *Transport) execute(ctx context.Context, req Request) (exchange *promise.Promise[Response]) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Error("request executor panicked", zap.Any("panic", r))
			exchange = promise.Reject[Response](fmt.Errorf("%w: %v", promise.ErrPanic, r))
		}
	}()

	exchange = t.executor.Execute(ctx, req)
	if exchange == nil {
		return promise.Reject[Response](fmt.Errorf("%w: request executor returned no result", promise.ErrPanic))
	}
	return exchange
}

// Flush waits up to timeout for in-flight sends. A non-positive timeout
// waits for all of them. It resolves false if the timeout fired first.
func (t *Transport) Flush(timeout time.Duration) *promise.Promise[bool] {
	return t.buffer.Drain(timeout)
}

// IsRateLimited reports whether category is currently suppressed.
func (t *Transport) IsRateLimited(category ratelimit.Category) bool {
	return t.ledger.IsRateLimited(category, t.clock.Now())
}

// RateLimits returns the limits still in effect.
func (t *Transport) RateLimits() ratelimit.Map {
	return t.ledger.Snapshot(t.clock.Now())
}

// Pending returns the number of sends in flight.
func (t *Transport) Pending() int {
	return t.buffer.Len()
}

// Capacity returns the dispatch buffer capacity.
func (t *Transport) Capacity() int {
	return t.buffer.Capacity()
}

func (t *Transport) recordItems(reason clientreport.DiscardReason, env *envelope.Envelope) {
	for _, item := range env.Items {
		if item.Type() == envelope.TypeClientReport {
			continue
		}
		t.record(reason, ratelimit.CategoryOf(item.Type()))
	}
}

func clientReportsOnly(env *envelope.Envelope) bool {
	for _, item := range env.Items {
		if item.Type() != envelope.TypeClientReport {
			return false
		}
	}
	return true
}
