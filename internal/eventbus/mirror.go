package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// wireEvent is the JSON form of Event placed on the external mirror,
// matching the wire payload documented in spec.md §6.
type wireEvent struct {
	EventID   string      `json:"event_id"`
	Topic     string      `json:"topic"`
	EventType string      `json:"event_type"`
	Timestamp string      `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// BackoffPolicy is the shared retry policy from spec.md §9: base delay
// 1s, factor 2, cap 60s, max attempts configurable (default 8), jitter
// ±20%.
type BackoffPolicy struct {
	BaseDelay   time.Duration
	Factor      float64
	MaxDelay    time.Duration
	MaxAttempts int
}

// DefaultBackoffPolicy returns the documented defaults.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		BaseDelay:   1 * time.Second,
		Factor:      2,
		MaxDelay:    60 * time.Second,
		MaxAttempts: 8,
	}
}

func (p BackoffPolicy) newBackOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.BaseDelay
	eb.Multiplier = p.Factor
	eb.MaxInterval = p.MaxDelay
	eb.RandomizationFactor = 0.2 // ±20% jitter
	// WithMaxRetries counts retries after the first attempt, so
	// MaxAttempts total attempts means MaxAttempts-1 retries.
	retries := p.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithMaxRetries(eb, uint64(retries))
}

// RedisMirror publishes events to a Redis pub/sub channel per topic,
// giving the in-process Bus horizontal fan-out to other processes
// (spec.md §4.A, §6 "redis_url"). Every publish is retried under
// BackoffPolicy and wrapped as a TransportError on final failure; the
// caller (Bus.Publish) only logs it and continues.
type RedisMirror struct {
	client  *redis.Client
	policy  BackoffPolicy
	log     *zap.Logger
	channel string
}

// NewRedisMirror dials addr (a redis:// URL) and returns a ready
// RedisMirror. All published events go to a single channel, keyed by
// topic inside the payload so a single subscriber can fan out to many
// topics without N separate SUBSCRIBE calls.
func NewRedisMirror(addr string, policy BackoffPolicy, log *zap.Logger) (*RedisMirror, error) {
	opts, err := redis.ParseURL(addr)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, &TransportError{Op: "ping", Err: err}
	}

	if log == nil {
		log = zap.NewNop()
	}
	return &RedisMirror{client: client, policy: policy, log: log, channel: "vision_cortex.events"}, nil
}

// Publish marshals ev and publishes it to the mirror channel, retrying
// under the shared backoff policy. It returns a *TransportError on
// exhaustion; Bus.Publish never propagates this to its own caller.
func (m *RedisMirror) Publish(ctx context.Context, ev Event) error {
	we := wireEvent{
		EventID:   ev.EventID,
		Topic:     string(ev.Topic),
		EventType: ev.EventType,
		Timestamp: ev.Timestamp.Format(time.RFC3339),
		Payload:   ev.Payload,
	}
	data, err := json.Marshal(we)
	if err != nil {
		return fmt.Errorf("marshal mirrored event: %w", err)
	}

	op := func() error {
		return m.client.Publish(ctx, m.channel, data).Err()
	}

	if err := backoff.Retry(op, backoff.WithContext(m.policy.newBackOff(), ctx)); err != nil {
		return &TransportError{Op: "publish", Err: err}
	}
	return nil
}

// Close releases the underlying Redis connection.
func (m *RedisMirror) Close() error {
	return m.client.Close()
}
