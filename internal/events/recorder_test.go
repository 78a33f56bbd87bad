package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"license-gateway/internal/license"
	"license-gateway/internal/metrics"
)

type sliceSink struct {
	mu     sync.Mutex
	events []license.AnalyticsEvent
	err    error
}

func (s *sliceSink) InsertEvent(_ context.Context, e license.AnalyticsEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, e)
	return nil
}

func (s *sliceSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// gatedSink blocks every write until release is closed
type gatedSink struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
	sliceSink
}

func (g *gatedSink) InsertEvent(ctx context.Context, e license.AnalyticsEvent) error {
	g.once.Do(func() { close(g.started) })
	<-g.release
	return g.sliceSink.InsertEvent(ctx, e)
}

func TestRecorderWritesAndDrains(t *testing.T) {
	sink := &sliceSink{}
	m := metrics.New()
	r := NewRecorder(sink, nil, m, Config{BufferSize: 64, Workers: 3}, zerolog.Nop())

	for i := 0; i < 50; i++ {
		r.Record(license.AnalyticsEvent{Type: license.EventLicenseValidated, LicenseID: "l1"})
	}
	require.NoError(t, r.Close(context.Background()))

	assert.Equal(t, 50, sink.len())
	written, dropped, failed := r.Stats()
	assert.Equal(t, int64(50), written)
	assert.Zero(t, dropped)
	assert.Zero(t, failed)
	assert.Equal(t, 50.0, testutil.ToFloat64(m.EventsRecorded))

	for _, e := range sink.events {
		assert.NotEmpty(t, e.ID)
		assert.False(t, e.CreatedAt.IsZero())
	}
}

func TestRecorderDropsWhenFull(t *testing.T) {
	sink := &gatedSink{started: make(chan struct{}), release: make(chan struct{})}
	m := metrics.New()
	r := NewRecorder(sink, nil, m, Config{BufferSize: 1, Workers: 1}, zerolog.Nop())

	r.Record(license.AnalyticsEvent{Type: license.EventLicenseHeartbeat})
	<-sink.started

	r.Record(license.AnalyticsEvent{Type: license.EventLicenseHeartbeat}) // queued
	r.Record(license.AnalyticsEvent{Type: license.EventLicenseHeartbeat}) // dropped

	close(sink.release)
	require.NoError(t, r.Close(context.Background()))

	written, dropped, _ := r.Stats()
	assert.Equal(t, int64(2), written)
	assert.Equal(t, int64(1), dropped)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsDropped))
}

func TestRecorderSwallowsSinkErrors(t *testing.T) {
	sink := &sliceSink{err: errors.New("database unavailable")}
	r := NewRecorder(sink, nil, nil, Config{}, zerolog.Nop())

	r.Record(license.AnalyticsEvent{Type: license.EventLicenseActivated})
	require.NoError(t, r.Close(context.Background()))

	_, _, failed := r.Stats()
	assert.Equal(t, int64(1), failed)
}

func TestRecordAfterCloseIsDropped(t *testing.T) {
	r := NewRecorder(&sliceSink{}, nil, nil, Config{}, zerolog.Nop())
	require.NoError(t, r.Close(context.Background()))
	require.NoError(t, r.Close(context.Background()))

	assert.NotPanics(t, func() {
		r.Record(license.AnalyticsEvent{Type: license.EventLicenseValidated})
	})
	_, dropped, _ := r.Stats()
	assert.Equal(t, int64(1), dropped)
}

func TestCloseHonoursContext(t *testing.T) {
	sink := &gatedSink{started: make(chan struct{}), release: make(chan struct{})}
	r := NewRecorder(sink, nil, nil, Config{Workers: 1}, zerolog.Nop())
	r.Record(license.AnalyticsEvent{Type: license.EventLicenseValidated})
	<-sink.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Close(ctx), context.DeadlineExceeded)
	close(sink.release)
}

func TestRecorderPublishesOnBus(t *testing.T) {
	bus := NewEventBus()
	got := make(chan license.AnalyticsEvent, 1)
	unsubscribe := bus.SubscribeAll(func(e license.AnalyticsEvent) { got <- e })
	defer unsubscribe()

	r := NewRecorder(&sliceSink{}, bus, nil, Config{}, zerolog.Nop())
	defer r.Close(context.Background())

	r.Record(license.AnalyticsEvent{Type: license.EventLicenseActivated, LicenseID: "l1"})

	select {
	case e := <-got:
		assert.Equal(t, license.EventLicenseActivated, e.Type)
		assert.Equal(t, "l1", e.LicenseID)
	case <-time.After(time.Second):
		t.Fatal("event not published")
	}
}
