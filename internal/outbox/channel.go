// Package outbox drains the transactional outbox: it claims pending rows,
// publishes their envelopes to a realtime channel, and retires them as
// published or dead.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/prepline/manifest/internal/store"
)

// Envelope is the wire form of one outbox row. The vector clock rides
// along so consumers can order the event causally against their own
// view; the schema hash lets them detect schema skew.
type Envelope struct {
	EventType   string          `json:"eventType"`
	AggregateID string          `json:"aggregateId"`
	Payload     json.RawMessage `json:"payload"`
	Seq         int64           `json:"seq"`
	VectorClock json.RawMessage `json:"vectorClock"`
	SchemaHash  string          `json:"schemaHash,omitempty"`
}

// Channel is the publish side of the realtime transport. Publish must be
// safe for concurrent use; at-least-once delivery is the contract, so a
// reclaimed row may be published twice and consumers deduplicate on
// (aggregateId, seq).
type Channel interface {
	Publish(ctx context.Context, env Envelope) error
}

// envelopeFromRow builds the wire envelope for a claimed row.
func envelopeFromRow(row store.OutboxRow) Envelope {
	return Envelope{
		EventType:   row.EventType,
		AggregateID: row.AggregateID,
		Payload:     json.RawMessage(row.Payload),
		Seq:         row.Seq,
		VectorClock: json.RawMessage(row.VectorClock),
		SchemaHash:  row.SchemaHash,
	}
}

// Encode serializes the envelope for size accounting and transports that
// want raw bytes.
func (e Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode envelope for %s seq %d: %w", e.AggregateID, e.Seq, err)
	}
	return data, nil
}
