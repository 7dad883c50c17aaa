// Package enrichment provides the Playbook Router's abstract side
// channel to the Ingestor for the "needs_enrichment" request
// described in spec.md §4.G. In a horizontally scaled deployment the
// Router and Ingestor may live in different processes, so the
// request/reply is carried over NATS rather than an in-process
// channel — the same transport the teacher pack uses for its
// JetStream-backed domain event fan-out (packages/go-core/natsclient).
package enrichment

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/visioncortex/cortex/internal/domain"
)

// SubjectEnrichmentRequest is the NATS subject the Router publishes
// enrichment requests on; the Ingestor replies on the inbox NATS
// generates automatically for a Request call.
const SubjectEnrichmentRequest = "signal.needs_enrichment"

type enrichmentRequest struct {
	SignalID string `json:"signal_id"`
	Field    string `json:"field"`
}

type enrichmentReply struct {
	Enriched bool `json:"enriched"`
}

// NATSRequester implements playbook.EnrichmentRequester over a plain
// NATS connection (not JetStream — enrichment requests are transient,
// not events requiring at-least-once durability, mirroring the
// cron-tick subjects in the teacher's notification-service scheduler).
type NATSRequester struct {
	conn *nats.Conn
	log  *zap.Logger
}

// NewNATSRequester wraps an existing connection.
func NewNATSRequester(conn *nats.Conn, log *zap.Logger) *NATSRequester {
	if log == nil {
		log = zap.NewNop()
	}
	return &NATSRequester{conn: conn, log: log}
}

// RequestEnrichment implements playbook.EnrichmentRequester. It
// returns false (never enriched) if the Ingestor does not answer
// within timeout, causing the Router to downgrade to walk.
func (r *NATSRequester) RequestEnrichment(signalID string, field domain.TriggerKey, timeout time.Duration) bool {
	payload, err := json.Marshal(enrichmentRequest{SignalID: signalID, Field: string(field)})
	if err != nil {
		r.log.Error("marshal enrichment request failed", zap.Error(err))
		return false
	}

	msg, err := r.conn.Request(SubjectEnrichmentRequest, payload, timeout)
	if err != nil {
		r.log.Warn("enrichment request timed out or failed",
			zap.String("signal_id", signalID), zap.String("field", string(field)), zap.Error(err))
		return false
	}

	var reply enrichmentReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		r.log.Error("unmarshal enrichment reply failed", zap.Error(err))
		return false
	}
	return reply.Enriched
}

// IngestorResponder is implemented by the Ingestor side: given a
// signal id and field, attempt to fetch the missing value from the
// upstream source and report whether it succeeded.
type IngestorResponder func(signalID string, field domain.TriggerKey) bool

// ServeEnrichmentRequests subscribes to SubjectEnrichmentRequest and
// answers every request with respond. Call Unsubscribe on the
// returned subscription during cooperative shutdown.
func ServeEnrichmentRequests(conn *nats.Conn, respond IngestorResponder, log *zap.Logger) (*nats.Subscription, error) {
	if log == nil {
		log = zap.NewNop()
	}
	sub, err := conn.Subscribe(SubjectEnrichmentRequest, func(msg *nats.Msg) {
		var req enrichmentRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			log.Error("malformed enrichment request", zap.Error(err))
			return
		}

		enriched := respond(req.SignalID, domain.TriggerKey(req.Field))
		out, err := json.Marshal(enrichmentReply{Enriched: enriched})
		if err != nil {
			log.Error("marshal enrichment reply failed", zap.Error(err))
			return
		}
		if err := msg.Respond(out); err != nil {
			log.Warn("failed to respond to enrichment request", zap.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe enrichment requests: %w", err)
	}
	return sub, nil
}
