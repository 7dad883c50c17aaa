package ingest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visioncortex/cortex/internal/domain"
	"github.com/visioncortex/cortex/internal/eventbus"
)

type countingAdapter struct {
	name     string
	cadence  time.Duration
	calls    int32
	inFlight int32
	maxConc  int32
	emit     func(n int32) []domain.Signal
}

func (a *countingAdapter) Name() string           { return a.name }
func (a *countingAdapter) Cadence() time.Duration { return a.cadence }

func (a *countingAdapter) Poll(ctx context.Context) ([]domain.Signal, error) {
	n := atomic.AddInt32(&a.calls, 1)
	cur := atomic.AddInt32(&a.inFlight, 1)
	defer atomic.AddInt32(&a.inFlight, -1)
	if cur > atomic.LoadInt32(&a.maxConc) {
		atomic.StoreInt32(&a.maxConc, cur)
	}
	time.Sleep(5 * time.Millisecond)
	if a.emit != nil {
		return a.emit(n), nil
	}
	return nil, nil
}

func TestIngestor_NormalizesAndPublishesValidSignals(t *testing.T) {
	bus := eventbus.New(eventbus.Config{}, nil, nil)
	defer bus.Shutdown()

	var received []domain.Signal
	var mu sync.Mutex
	bus.Subscribe(eventbus.TopicSignalIngested, func(ctx context.Context, ev eventbus.Event) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, ev.Payload.(domain.Signal))
		return nil
	})

	a := &countingAdapter{name: "a1", cadence: time.Hour, emit: func(n int32) []domain.Signal {
		return []domain.Signal{{ID: " sig-1 ", Type: " foreclosure "}}
	}}

	ig := New(bus, 0, nil)
	ig.Register("real_estate", a)
	ig.pollOne(context.Background(), ig.registrations["a1"])

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, "sig-1", received[0].ID)
	assert.Equal(t, "foreclosure", received[0].Type)
	assert.False(t, received[0].ObservedAt.IsZero())
}

func TestIngestor_DropsInvalidSignalsToAuditLog(t *testing.T) {
	bus := eventbus.New(eventbus.Config{}, nil, nil)
	defer bus.Shutdown()

	var auditEvents int32
	bus.Subscribe(eventbus.TopicAuditLog, func(ctx context.Context, ev eventbus.Event) error {
		atomic.AddInt32(&auditEvents, 1)
		return nil
	})
	bus.Subscribe(eventbus.TopicSignalIngested, func(ctx context.Context, ev eventbus.Event) error {
		t.Fatal("invalid signal must not reach signal.ingested")
		return nil
	})

	a := &countingAdapter{name: "a2", cadence: time.Hour, emit: func(n int32) []domain.Signal {
		return []domain.Signal{{ID: "", Type: "foreclosure"}}
	}}

	ig := New(bus, 0, nil)
	ig.Register("real_estate", a)
	ig.pollOne(context.Background(), ig.registrations["a2"])

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&auditEvents))
}

func TestIngestor_SingleInFlightPerAdapter(t *testing.T) {
	a := &countingAdapter{name: "a3", cadence: time.Millisecond}
	ig := New(nil, 0, nil)
	ig.Register("real_estate", a)
	reg := ig.registrations["a3"]

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ig.pollOne(context.Background(), reg)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&a.maxConc))
}

func TestIngestor_BatchCapTruncates(t *testing.T) {
	bus := eventbus.New(eventbus.Config{}, nil, nil)
	defer bus.Shutdown()

	var count int32
	bus.Subscribe(eventbus.TopicSignalIngested, func(ctx context.Context, ev eventbus.Event) error {
		atomic.AddInt32(&count, 1)
		return nil
	})

	a := &countingAdapter{name: "a4", cadence: time.Hour, emit: func(n int32) []domain.Signal {
		var out []domain.Signal
		for i := 0; i < 10; i++ {
			out = append(out, domain.Signal{ID: "s", Type: "t"})
		}
		return out
	}}

	ig := New(bus, 3, nil)
	ig.Register("real_estate", a)
	ig.pollOne(context.Background(), ig.registrations["a4"])

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(3), atomic.LoadInt32(&count))
}

func TestIngestor_AdapterFailureIncrementsCounter(t *testing.T) {
	a := &countingAdapter{name: "a5", cadence: time.Hour}
	ig := New(nil, 0, nil)
	ig.Register("real_estate", a)

	reg := ig.registrations["a5"]
	reg.adapter = failingAdapter{a}
	ig.pollOne(context.Background(), reg)

	assert.Equal(t, int64(1), ig.FailureCount("a5"))
}

type failingAdapter struct {
	*countingAdapter
}

func (f failingAdapter) Poll(ctx context.Context) ([]domain.Signal, error) {
	return nil, assert.AnError
}
