package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishOrderPreservedPerSubscriber(t *testing.T) {
	b := New(Config{QueueCapacity: 16}, nil, nil)
	defer b.Shutdown()

	var mu sync.Mutex
	var seen []string

	done := make(chan struct{})
	count := 0
	b.Subscribe(TopicSignalIngested, func(_ context.Context, ev Event) error {
		mu.Lock()
		seen = append(seen, ev.EventType)
		count++
		if count == 3 {
			close(done)
		}
		mu.Unlock()
		return nil
	})

	for i, et := range []string{"a", "b", "c"} {
		_, err := b.Publish(context.Background(), TopicSignalIngested, et, i)
		require.NoError(t, err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for handlers")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b", "c"}, seen)
}

func TestBus_BackpressureTimeout(t *testing.T) {
	b := New(Config{QueueCapacity: 1, PublishDeadline: 50 * time.Millisecond}, nil, nil)
	defer b.Shutdown()

	// The only subscriber blocks on the first event, so the dispatcher
	// stops draining: the second event fills the queue (capacity 1) and
	// the third publish blocks until PublishDeadline and times out.
	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{}, 1)
	b.Subscribe(TopicAuditLog, func(_ context.Context, _ Event) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	})

	_, err := b.Publish(context.Background(), TopicAuditLog, "first", nil)
	require.NoError(t, err)
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for handler")
	}

	_, err = b.Publish(context.Background(), TopicAuditLog, "second", nil)
	require.NoError(t, err)

	_, err = b.Publish(context.Background(), TopicAuditLog, "third", nil)
	require.Error(t, err)
	var bp *BackpressureTimeout
	require.ErrorAs(t, err, &bp)
	assert.Equal(t, TopicAuditLog, bp.Topic)
}

func TestBus_MultipleSubscribersAllNotified(t *testing.T) {
	b := New(Config{QueueCapacity: 8}, nil, nil)
	defer b.Shutdown()

	var mu sync.Mutex
	gotA, gotB := false, false
	wg := sync.WaitGroup{}
	wg.Add(2)

	b.Subscribe(TopicSignalScored, func(_ context.Context, ev Event) error {
		mu.Lock()
		gotA = true
		mu.Unlock()
		wg.Done()
		return nil
	})
	b.Subscribe(TopicSignalScored, func(_ context.Context, ev Event) error {
		mu.Lock()
		gotB = true
		mu.Unlock()
		wg.Done()
		return nil
	})

	_, err := b.Publish(context.Background(), TopicSignalScored, "scored", nil)
	require.NoError(t, err)

	waitTimeout(t, &wg, time.Second)

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, gotA)
	assert.True(t, gotB)
}

func TestTopic_IsCritical(t *testing.T) {
	assert.True(t, TopicSignalIngested.IsCritical())
	assert.True(t, TopicOutreachGenerated.IsCritical())
	assert.False(t, TopicAuditLog.IsCritical())
}

func waitTimeout(t *testing.T, wg *sync.WaitGroup, d time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("timed out waiting for wait group")
	}
}
