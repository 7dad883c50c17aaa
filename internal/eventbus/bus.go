// Package eventbus implements the Vision Cortex Event Bus (spec.md
// §4.A): a typed, multi-producer multi-consumer pub/sub with bounded
// per-topic queues for backpressure, mirrored to an external transport
// for horizontal fan-out. Delivery is at-least-once; handlers must be
// idempotent.
package eventbus

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Topic is one of the closed set of bus subjects (spec.md §4.A).
type Topic string

const (
	TopicSignalRaw         Topic = "signal.raw"
	TopicSignalIngested    Topic = "signal.ingested"
	TopicSignalResolved    Topic = "signal.resolved"
	TopicSignalScored      Topic = "signal.scored"
	TopicAlertTriggered    Topic = "alert.triggered"
	TopicAlertAcknowledged Topic = "alert.acknowledged"
	TopicPlaybookRouted    Topic = "playbook.routed"
	TopicOutreachGenerated Topic = "outreach.generated"
	TopicAuditLog          Topic = "audit.log"
)

// criticalTopics must not be silently dropped on BackpressureTimeout
// (spec.md §7): "signal.ingested and later".
var criticalTopics = map[Topic]bool{
	TopicSignalIngested:    true,
	TopicSignalResolved:    true,
	TopicSignalScored:      true,
	TopicAlertTriggered:    true,
	TopicAlertAcknowledged: true,
	TopicPlaybookRouted:    true,
	TopicOutreachGenerated: true,
}

// IsCritical reports whether t must fail the upstream publish (rather
// than be dropped) on backpressure timeout.
func (t Topic) IsCritical() bool { return criticalTopics[t] }

// Event is the wire envelope every subscriber receives (spec.md §6).
// Subscribers must ignore unknown fields — in Go terms, unknown keys
// inside Payload when Payload is itself a loosely-typed map.
type Event struct {
	EventID   string
	Topic     Topic
	EventType string
	Timestamp time.Time
	Payload   interface{}
}

// Handler processes one Event. Handlers must be idempotent: the bus
// guarantees at-least-once delivery, never exactly-once.
type Handler func(ctx context.Context, ev Event) error

// Mirror pushes a copy of every published event to an external
// pub/sub endpoint for horizontal fan-out (spec.md §4.A). Mirror
// failure is logged but never aborts in-process delivery.
type Mirror interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Config controls queue capacity and publish deadlines.
type Config struct {
	QueueCapacity   int           // per-topic bounded queue depth, default 256
	PublishDeadline time.Duration // default 5s
}

func (c Config) withDefaults() Config {
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 256
	}
	if c.PublishDeadline <= 0 {
		c.PublishDeadline = 5 * time.Second
	}
	return c
}

type topicQueue struct {
	events        chan Event
	subscribers   []Handler
	subscribersMu chan struct{} // binary semaphore guarding subscribers slice
}

// Bus is the in-process primary layer, optionally mirrored externally.
type Bus struct {
	cfg    Config
	log    *zap.Logger
	mirror Mirror

	topics map[Topic]*topicQueue

	done chan struct{}
}

// New creates a Bus. mirror may be nil to run in-process only (e.g.
// in tests); production wiring passes a RedisMirror.
func New(cfg Config, mirror Mirror, log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	b := &Bus{
		cfg:    cfg.withDefaults(),
		log:    log,
		mirror: mirror,
		topics: make(map[Topic]*topicQueue),
		done:   make(chan struct{}),
	}
	for _, t := range []Topic{
		TopicSignalRaw, TopicSignalIngested, TopicSignalResolved, TopicSignalScored,
		TopicAlertTriggered, TopicAlertAcknowledged, TopicPlaybookRouted,
		TopicOutreachGenerated, TopicAuditLog,
	} {
		b.startTopic(t)
	}
	return b
}

func (b *Bus) startTopic(t Topic) {
	tq := &topicQueue{
		events:        make(chan Event, b.cfg.QueueCapacity),
		subscribersMu: make(chan struct{}, 1),
	}
	tq.subscribersMu <- struct{}{}
	b.topics[t] = tq

	// One dispatcher goroutine per topic: this is the "separate worker
	// pool per topic" from spec.md §5, and because a single goroutine
	// drains the queue and calls every subscriber in registration
	// order, per-topic publish order is preserved for every
	// subscriber trivially.
	go func() {
		for {
			select {
			case ev, ok := <-tq.events:
				if !ok {
					return
				}
				b.dispatch(tq, ev)
			case <-b.done:
				return
			}
		}
	}()
}

func (b *Bus) dispatch(tq *topicQueue, ev Event) {
	<-tq.subscribersMu
	handlers := make([]Handler, len(tq.subscribers))
	copy(handlers, tq.subscribers)
	tq.subscribersMu <- struct{}{}

	for _, h := range handlers {
		if err := h(context.Background(), ev); err != nil {
			b.log.Error("event handler returned error",
				zap.String("topic", string(ev.Topic)),
				zap.String("event_id", ev.EventID),
				zap.Error(err),
			)
		}
	}
}

// Subscribe registers handler to be invoked, in publish order, for
// every event published to topic from this point forward.
func (b *Bus) Subscribe(topic Topic, handler Handler) {
	tq, ok := b.topics[topic]
	if !ok {
		return
	}
	<-tq.subscribersMu
	tq.subscribers = append(tq.subscribers, handler)
	tq.subscribersMu <- struct{}{}
}

// Publish enqueues an event onto topic's bounded queue, blocking on
// backpressure until either capacity frees up or the earlier of ctx's
// deadline and Config.PublishDeadline elapses. It also best-effort mirrors the event externally; mirror
// failures are logged, never returned to the caller (spec.md §4.A).
func (b *Bus) Publish(ctx context.Context, topic Topic, eventType string, payload interface{}) (Event, error) {
	tq, ok := b.topics[topic]
	if !ok {
		tq = nil
	}

	ev := Event{
		EventID:   uuid.NewString(),
		Topic:     topic,
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}

	if tq != nil {
		deadline, cancel := context.WithTimeout(ctx, b.cfg.PublishDeadline)
		defer cancel()

		select {
		case tq.events <- ev:
		case <-deadline.Done():
			return ev, &BackpressureTimeout{Topic: topic}
		case <-b.done:
			return ev, &ShutdownCancelled{Op: "publish"}
		}
	}

	if b.mirror != nil {
		if err := b.mirror.Publish(ctx, ev); err != nil {
			b.log.Warn("mirror publish failed",
				zap.String("topic", string(topic)),
				zap.String("event_id", ev.EventID),
				zap.Error(err),
			)
		}
	}

	return ev, nil
}

// Shutdown stops all topic dispatchers. In-flight handler calls are
// allowed to finish; no new events are dispatched afterwards.
func (b *Bus) Shutdown() {
	close(b.done)
	if b.mirror != nil {
		_ = b.mirror.Close()
	}
}
