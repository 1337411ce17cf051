package sentry_transport

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/roadrunner-server/endure/v2/dep"
	"github.com/roadrunner-server/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/your-org/sentry-envelope-transport/internal/clientreport"
	"github.com/your-org/sentry-envelope-transport/internal/envelope"
	"github.com/your-org/sentry-envelope-transport/internal/promise"
	"github.com/your-org/sentry-envelope-transport/internal/ratelimit"
	"github.com/your-org/sentry-envelope-transport/internal/transport"
)

const PluginName = "sentry_transport"

// Plugin represents the main plugin structure
type Plugin struct {
	config *Config
	logger *zap.Logger
	clock  clock.Clock

	executor  transport.RequestExecutor
	transport *transport.Transport
	recorder  *clientreport.Recorder
	metrics   *metricsCollector

	// Lifecycle
	serving  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// Configurer interface for config plugin
type Configurer interface {
	UnmarshalKey(name string, out interface{}) error
	Has(name string) bool
}

// Logger interface for logger plugin
type Logger interface {
	NamedLogger(name string) *zap.Logger
}

// Init initializes the plugin
func (p *Plugin) Init(cfg Configurer, log Logger) error {
	const op = errors.Op("sentry_transport_init")

	// Check if configuration section exists
	if !cfg.Has(PluginName) {
		return errors.E(op, errors.Disabled)
	}

	config := &Config{}
	if err := cfg.UnmarshalKey(PluginName, config); err != nil {
		return errors.E(op, err)
	}

	config.InitDefaults()
	if err := config.Validate(); err != nil {
		return errors.E(op, err)
	}

	if !config.Enabled {
		return errors.E(op, errors.Disabled)
	}

	p.config = config

	p.logger = log.NamedLogger(PluginName)
	// logging.level can only raise the level of the shared logger
	if level, err := zapcore.ParseLevel(config.Logging.Level); err == nil && level > p.logger.Level() {
		p.logger = p.logger.WithOptions(zap.IncreaseLevel(level))
	}

	if p.clock == nil {
		p.clock = clock.New()
	}

	if config.DSN != "" {
		dsn, err := ParseDSN(config.DSN)
		if err != nil {
			return errors.E(op, err)
		}
		executor, err := NewHTTPExecutor(config, dsn, p.clock, p.logger)
		if err != nil {
			return errors.E(op, err)
		}
		p.executor = executor
	} else {
		p.logger.Warn("No DSN configured, envelopes will be accepted but not transmitted")
		p.executor = &NoOpExecutor{logger: p.logger}
	}

	if config.clientReportsEnabled() {
		p.recorder = clientreport.NewRecorder(p.clock)
	}

	p.transport = transport.New(p.executor, transport.Options{
		RecordDroppedEvent: p.recordDroppedEvent,
		BufferCapacity:     config.Buffer.Capacity,
		Clock:              p.clock,
		Logger:             p.logger,
	})
	p.metrics = newMetricsCollector(p.transport.Pending, p.transport.Capacity)

	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})

	p.logger.Info("Sentry transport plugin initialized",
		zap.Bool("enabled", config.Enabled),
		zap.Bool("dsn_configured", config.DSN != ""),
		zap.Int("buffer_capacity", p.transport.Capacity()),
		zap.Bool("client_reports", p.recorder != nil))

	return nil
}

// Serve starts the plugin
func (p *Plugin) Serve() chan error {
	const op = errors.Op("sentry_transport_serve")
	errCh := make(chan error, 1)

	if p.config == nil {
		errCh <- errors.E(op, errors.Str("plugin not initialized"))
		return errCh
	}

	p.serving.Store(true)
	go p.clientReportLoop()

	p.logger.Info("Sentry transport plugin started")

	return errCh
}

// Stop ships the last client report and waits up to buffer.flush_timeout
// for in-flight sends.
func (p *Plugin) Stop(ctx context.Context) error {
	const op = errors.Op("sentry_transport_stop")

	if p.config == nil {
		return nil
	}

	p.stopOnce.Do(func() {
		close(p.stopCh)
	})

	if p.serving.Load() {
		select {
		case <-p.doneCh:
		case <-ctx.Done():
			p.logger.Warn("Plugin stop timed out")
			return errors.E(op, ctx.Err())
		}
	}

	var err error

	p.sendClientReport()

	flushed, ferr := p.transport.Flush(p.config.Buffer.FlushTimeout).Await(ctx)
	switch {
	case ferr != nil:
		err = multierr.Append(err, ferr)
	case !flushed:
		p.logger.Warn("Not all envelopes were sent before shutdown",
			zap.Int("pending", p.transport.Pending()),
			zap.Duration("flush_timeout", p.config.Buffer.FlushTimeout))
	}

	if closer, ok := p.executor.(io.Closer); ok {
		err = multierr.Append(err, closer.Close())
	}

	if err != nil {
		return errors.E(op, err)
	}

	p.logger.Info("Sentry transport plugin stopped")
	return nil
}

// Name returns the plugin name
func (p *Plugin) Name() string {
	return PluginName
}

// RPC returns the RPC interface
func (p *Plugin) RPC() interface{} {
	return NewRPC(p, p.logger)
}

// MetricsCollector exposes the plugin metrics to the metrics plugin
func (p *Plugin) MetricsCollector() []prometheus.Collector {
	return []prometheus.Collector{p.metrics}
}

// Provides returns the dependencies this plugin provides
func (p *Plugin) Provides() []*dep.Out {
	return []*dep.Out{
		dep.Bind((*SentryTransporter)(nil), p.Transport),
	}
}

// Transport returns the transport interface
func (p *Plugin) Transport() SentryTransporter {
	return p
}

// SentryTransporter interface for other plugins to use
type SentryTransporter interface {
	// SendEnvelope parses a serialized envelope and sends it in the
	// background. It returns the envelope event ID.
	SendEnvelope(ctx context.Context, data []byte) (string, error)
	// Flush waits for in-flight sends until ctx is done.
	Flush(ctx context.Context) bool
	GetMetrics() *TransportMetrics
}

// SendEnvelope implements SentryTransporter interface
func (p *Plugin) SendEnvelope(ctx context.Context, data []byte) (string, error) {
	const op = errors.Op("sentry_transport_send_envelope")

	if p.transport == nil {
		return "", errors.E(op, errors.Str("plugin not initialized"))
	}

	env, err := envelope.Parse(data)
	if err != nil {
		return "", errors.E(op, err)
	}

	p.send(context.WithoutCancel(ctx), env)

	return env.Header.EventID, nil
}

// Flush implements SentryTransporter interface
func (p *Plugin) Flush(ctx context.Context) bool {
	if p.transport == nil {
		return true
	}

	flushed, err := p.transport.Flush(0).Await(ctx)
	return err == nil && flushed
}

// GetMetrics implements SentryTransporter interface
func (p *Plugin) GetMetrics() *TransportMetrics {
	if p.transport == nil {
		return &TransportMetrics{}
	}

	m := &TransportMetrics{
		EnvelopesSent:   p.metrics.Sent(),
		EnvelopesFailed: p.metrics.Failed(),
		Pending:         p.transport.Pending(),
		Capacity:        p.transport.Capacity(),
	}
	if p.recorder != nil {
		m.PendingOutcomes = p.recorder.Len()
	}

	return m
}

// send hands env to the transport and counts the outcome.
func (p *Plugin) send(ctx context.Context, env *envelope.Envelope) *promise.Promise[transport.Response] {
	return promise.Handle(p.transport.Send(ctx, env),
		func(resp transport.Response) *promise.Promise[transport.Response] {
			switch {
			case resp.StatusCode == 0:
				// nothing left to send after filtering, or dropped locally
			case resp.StatusCode >= 200 && resp.StatusCode < 300:
				p.metrics.IncSent()
			default:
				p.metrics.IncFailed()
			}
			return promise.Resolve(resp)
		},
		func(err error) *promise.Promise[transport.Response] {
			p.metrics.IncFailed()
			p.logger.Error("Failed to send envelope",
				zap.String("event_id", env.Header.EventID),
				zap.Int("items", len(env.Items)),
				zap.Error(err))
			return promise.Reject[transport.Response](err)
		},
	)
}

func (p *Plugin) recordDroppedEvent(reason clientreport.DiscardReason, category ratelimit.Category) {
	p.metrics.IncDiscarded(reason, category)
	p.recorder.RecordDroppedEvent(reason, category)
}

// sendClientReport ships the outcomes recorded since the last report.
func (p *Plugin) sendClientReport() {
	if p.recorder == nil {
		return
	}

	item, err := p.recorder.Flush()
	if err != nil {
		p.logger.Error("Failed to build client report", zap.Error(err))
		return
	}
	if item == nil {
		return
	}

	p.logger.Debug("Sending client report", zap.Int("size", len(item.Payload)))
	p.send(context.Background(), clientreport.NewEnvelope(item, p.config.DSN, p.clock.Now()))
}

func (p *Plugin) clientReportLoop() {
	defer close(p.doneCh)

	if p.recorder == nil {
		<-p.stopCh
		return
	}

	ticker := p.clock.Ticker(p.config.ClientReports.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sendClientReport()
		}
	}
}
