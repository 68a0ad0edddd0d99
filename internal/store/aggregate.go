package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prepline/manifest/internal/causality"
	"github.com/prepline/manifest/internal/ir"
)

// timeFormat is used for all timestamp columns. Fractional seconds are
// fixed-width so lexicographic order matches chronological order, which
// the claim and sweep queries rely on (RFC3339Nano trims trailing zeros
// and sorts whole seconds after fractional ones).
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// AggregateRecord is a persisted aggregate row.
type AggregateRecord struct {
	AggregateType string
	AggregateID   string
	State         ir.Object
	LastSeq       int64
	Clock         causality.Clock
	UpdatedAt     time.Time
}

// EventInput is one event to append to the outbox as part of a Commit.
type EventInput struct {
	ID        string
	EventType string
	Seq       int64
	Payload   ir.Object
}

// Commit is one atomic state transition: the new aggregate state plus the
// outbox rows for every event the transition emitted.
type Commit struct {
	AggregateType string
	AggregateID   string
	State         ir.Object
	LastSeq       int64
	Clock         causality.Clock
	SchemaHash    string
	Events        []EventInput
}

// LoadAggregate reads the current state of an aggregate. Returns
// found=false when the aggregate has never been written.
func (s *Store) LoadAggregate(ctx context.Context, aggregateType, aggregateID string) (AggregateRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT state, last_seq, vector_clock, updated_at
		FROM aggregates
		WHERE aggregate_type = ? AND aggregate_id = ?`,
		aggregateType, aggregateID)

	var (
		stateJSON string
		clockJSON string
		updatedAt string
		rec       = AggregateRecord{AggregateType: aggregateType, AggregateID: aggregateID}
	)
	err := row.Scan(&stateJSON, &rec.LastSeq, &clockJSON, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return AggregateRecord{}, false, nil
	}
	if err != nil {
		return AggregateRecord{}, false, fmt.Errorf("load aggregate %s/%s: %w", aggregateType, aggregateID, err)
	}

	rec.State, err = ir.DecodeObject([]byte(stateJSON))
	if err != nil {
		return AggregateRecord{}, false, fmt.Errorf("decode state for %s/%s: %w", aggregateType, aggregateID, err)
	}
	if err := json.Unmarshal([]byte(clockJSON), &rec.Clock); err != nil {
		return AggregateRecord{}, false, fmt.Errorf("decode clock for %s/%s: %w", aggregateType, aggregateID, err)
	}
	rec.UpdatedAt, err = time.Parse(timeFormat, updatedAt)
	if err != nil {
		return AggregateRecord{}, false, fmt.Errorf("decode updated_at for %s/%s: %w", aggregateType, aggregateID, err)
	}
	return rec, true, nil
}

// Apply writes the new aggregate state and its outbox rows in a single
// transaction. Either everything lands or nothing does.
func (s *Store) Apply(ctx context.Context, c Commit) error {
	stateJSON, err := ir.MarshalCanonical(c.State)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	clockJSON, err := json.Marshal(c.Clock)
	if err != nil {
		return fmt.Errorf("encode clock: %w", err)
	}
	now := time.Now().UTC().Format(timeFormat)

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO aggregates (aggregate_type, aggregate_id, state, last_seq, vector_clock, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (aggregate_type, aggregate_id) DO UPDATE SET
				state = excluded.state,
				last_seq = excluded.last_seq,
				vector_clock = excluded.vector_clock,
				updated_at = excluded.updated_at`,
			c.AggregateType, c.AggregateID, string(stateJSON), c.LastSeq, string(clockJSON), now)
		if err != nil {
			return fmt.Errorf("upsert aggregate %s/%s: %w", c.AggregateType, c.AggregateID, err)
		}

		for _, ev := range c.Events {
			payloadJSON, err := ir.MarshalCanonical(ev.Payload)
			if err != nil {
				return fmt.Errorf("encode payload for %s seq %d: %w", ev.EventType, ev.Seq, err)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, seq, vector_clock, schema_hash, status, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'pending', ?)`,
				ev.ID, c.AggregateType, c.AggregateID, ev.EventType, string(payloadJSON), ev.Seq, string(clockJSON), c.SchemaHash, now)
			if err != nil {
				return fmt.Errorf("insert outbox row for %s seq %d: %w", ev.EventType, ev.Seq, err)
			}
		}
		return nil
	})
}
