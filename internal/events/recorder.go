package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"license-gateway/internal/license"
	"license-gateway/internal/metrics"
)

// Config holds recorder settings
type Config struct {
	BufferSize   int
	Workers      int
	WriteTimeout time.Duration
}

// DefaultConfig returns the default recorder settings
func DefaultConfig() Config {
	return Config{
		BufferSize:   1024,
		Workers:      2,
		WriteTimeout: 5 * time.Second,
	}
}

// Recorder writes audit events asynchronously. Record never blocks and never
// fails: when the queue is full the event is dropped and counted.
type Recorder struct {
	sink    license.EventSink
	bus     *EventBus
	metrics *metrics.Metrics
	logger  zerolog.Logger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan license.AnalyticsEvent
	wg     sync.WaitGroup

	dropped atomic.Int64
	failed  atomic.Int64
	written atomic.Int64
}

var _ license.Recorder = (*Recorder)(nil)

// NewRecorder starts a recorder. bus and m may be nil.
func NewRecorder(sink license.EventSink, bus *EventBus, m *metrics.Metrics, cfg Config, logger zerolog.Logger) *Recorder {
	def := DefaultConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}

	r := &Recorder{
		sink:    sink,
		bus:     bus,
		metrics: m,
		logger:  logger.With().Str("component", "event_recorder").Logger(),
		timeout: cfg.WriteTimeout,
		queue:   make(chan license.AnalyticsEvent, cfg.BufferSize),
	}
	for i := 0; i < cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	return r
}

// Record enqueues an event
func (r *Recorder) Record(e license.AnalyticsEvent) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	if r.bus != nil {
		r.bus.Publish(e)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.drop(e, "recorder closed")
		return
	}

	select {
	case r.queue <- e:
		if r.metrics != nil {
			r.metrics.EventQueueDepth.Set(float64(len(r.queue)))
		}
	default:
		r.drop(e, "event queue full")
	}
}

func (r *Recorder) drop(e license.AnalyticsEvent, why string) {
	r.dropped.Add(1)
	if r.metrics != nil {
		r.metrics.EventsDropped.Inc()
	}
	r.logger.Warn().
		Str("event_type", string(e.Type)).
		Str("license_id", e.LicenseID).
		Msg(why + ", dropping event")
}

func (r *Recorder) worker() {
	defer r.wg.Done()
	for e := range r.queue {
		r.write(e)
	}
}

func (r *Recorder) write(e license.AnalyticsEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if r.metrics != nil {
		r.metrics.EventQueueDepth.Set(float64(len(r.queue)))
	}

	if err := r.sink.InsertEvent(ctx, e); err != nil {
		r.failed.Add(1)
		if r.metrics != nil {
			r.metrics.EventSinkErrors.Inc()
		}
		r.logger.Error().Err(err).
			Str("event_type", string(e.Type)).
			Str("license_id", e.LicenseID).
			Msg("failed to write audit event")
		return
	}
	r.written.Add(1)
	if r.metrics != nil {
		r.metrics.EventsRecorded.Inc()
	}
}

// Close stops accepting events and waits for the queue to drain or ctx to end
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info().
			Int64("written", r.written.Load()).
			Int64("dropped", r.dropped.Load()).
			Int64("failed", r.failed.Load()).
			Msg("event recorder drained")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns the number of written, dropped and failed events
func (r *Recorder) Stats() (written, dropped, failed int64) {
	return r.written.Load(), r.dropped.Load(), r.failed.Load()
}
