package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Outbox row statuses.
const (
	StatusPending    = "pending"
	StatusPublishing = "publishing"
	StatusPublished  = "published"
	StatusDead       = "dead"
)

// OutboxRow is one claimed or inspected outbox entry. Payload and
// VectorClock are the canonical JSON written at commit time.
type OutboxRow struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Seq           int64
	VectorClock   []byte
	SchemaHash    string
	Status        string
	Attempts      int
	LastError     string
	CreatedAt     time.Time
}

// ClaimBatch atomically moves up to limit pending rows to publishing,
// stamping the claimant and a deadline after which the claim is
// considered abandoned.
//
// Only the earliest unfinished row per aggregate is claimable; later rows
// of the same aggregate stay pending until it is published or dead. That
// serializes delivery per aggregate in sequence order, regardless of how
// many workers poll.
func (s *Store) ClaimBatch(ctx context.Context, claimant string, limit int, claimTimeout time.Duration) ([]OutboxRow, error) {
	now := time.Now().UTC()
	deadline := now.Add(claimTimeout).Format(timeFormat)

	rows, err := s.db.QueryContext(ctx, `
		UPDATE outbox SET
			status = ?,
			claimant = ?,
			claim_deadline = ?
		WHERE id IN (
			SELECT o.id FROM outbox o
			WHERE o.status = ?
			  AND (o.not_before IS NULL OR o.not_before <= ?)
			  AND NOT EXISTS (
				SELECT 1 FROM outbox p
				WHERE p.aggregate_type = o.aggregate_type
				  AND p.aggregate_id = o.aggregate_id
				  AND p.seq < o.seq
				  AND p.status NOT IN (?, ?)
			  )
			ORDER BY o.created_at, o.seq
			LIMIT ?
		)
		RETURNING id, aggregate_type, aggregate_id, event_type, payload, seq, vector_clock, schema_hash, status, attempts, COALESCE(last_error, ''), created_at`,
		StatusPublishing, claimant, deadline,
		StatusPending, now.Format(timeFormat),
		StatusPublished, StatusDead,
		limit)
	if err != nil {
		return nil, fmt.Errorf("claim outbox batch: %w", err)
	}
	defer rows.Close()

	return scanOutboxRows(rows)
}

// MarkPublished finalizes a delivered row. A no-op if the claim was
// swept and republished by someone else in the meantime; published is a
// terminal status either way.
func (s *Store) MarkPublished(ctx context.Context, id string) error {
	now := time.Now().UTC().Format(timeFormat)
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox SET
			status = ?,
			published_at = ?,
			claimant = NULL,
			claim_deadline = NULL,
			last_error = NULL
		WHERE id = ? AND status = ?`,
		StatusPublished, now, id, StatusPublishing)
	if err != nil {
		return fmt.Errorf("mark published %s: %w", id, err)
	}
	return nil
}

// Release returns a failed row to pending for another attempt, recording
// the error and an earliest-retry time for backoff.
func (s *Store) Release(ctx context.Context, id string, cause string, notBefore time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox SET
			status = ?,
			attempts = attempts + 1,
			last_error = ?,
			not_before = ?,
			claimant = NULL,
			claim_deadline = NULL
		WHERE id = ? AND status = ?`,
		StatusPending, cause, notBefore.UTC().Format(timeFormat), id, StatusPublishing)
	if err != nil {
		return fmt.Errorf("release outbox row %s: %w", id, err)
	}
	return nil
}

// MarkDead parks a row permanently. Dead rows are never claimed again
// but stay queryable for inspection.
func (s *Store) MarkDead(ctx context.Context, id string, cause string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox SET
			status = ?,
			attempts = attempts + 1,
			last_error = ?,
			claimant = NULL,
			claim_deadline = NULL
		WHERE id = ?`,
		StatusDead, cause, id)
	if err != nil {
		return fmt.Errorf("mark dead %s: %w", id, err)
	}
	return nil
}

// SweepExpiredClaims requeues publishing rows whose claim deadline has
// passed - the claimant crashed or stalled. Returns the number of rows
// requeued.
func (s *Store) SweepExpiredClaims(ctx context.Context) (int64, error) {
	now := time.Now().UTC().Format(timeFormat)
	res, err := s.db.ExecContext(ctx, `
		UPDATE outbox SET
			status = ?,
			claimant = NULL,
			claim_deadline = NULL
		WHERE status = ? AND claim_deadline < ?`,
		StatusPending, StatusPublishing, now)
	if err != nil {
		return 0, fmt.Errorf("sweep expired claims: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep expired claims: %w", err)
	}
	return n, nil
}

// ListDead returns dead-lettered rows, oldest first.
func (s *Store) ListDead(ctx context.Context, limit int) ([]OutboxRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload, seq, vector_clock, schema_hash, status, attempts, COALESCE(last_error, ''), created_at
		FROM outbox
		WHERE status = ?
		ORDER BY created_at, seq
		LIMIT ?`,
		StatusDead, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead rows: %w", err)
	}
	defer rows.Close()

	return scanOutboxRows(rows)
}

// PendingCount reports how many rows are waiting to be published,
// including released rows still in backoff.
func (s *Store) PendingCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM outbox WHERE status = ?`, StatusPending).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending rows: %w", err)
	}
	return n, nil
}

func scanOutboxRows(rows *sql.Rows) ([]OutboxRow, error) {
	var out []OutboxRow
	for rows.Next() {
		var (
			r         OutboxRow
			payload   string
			clock     string
			createdAt string
		)
		err := rows.Scan(&r.ID, &r.AggregateType, &r.AggregateID, &r.EventType,
			&payload, &r.Seq, &clock, &r.SchemaHash, &r.Status, &r.Attempts,
			&r.LastError, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		r.Payload = []byte(payload)
		r.VectorClock = []byte(clock)
		r.CreatedAt, err = time.Parse(timeFormat, createdAt)
		if err != nil {
			return nil, fmt.Errorf("decode created_at for %s: %w", r.ID, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox rows: %w", err)
	}
	return out, nil
}
