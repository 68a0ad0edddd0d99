package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/prepline/manifest/internal/store"
)

// Config tunes the publisher. Zero values fall back to the defaults.
type Config struct {
	Workers         int           `yaml:"workers"`
	BatchSize       int           `yaml:"batch_size"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	ClaimTimeout    time.Duration `yaml:"claim_timeout"`
	MaxAttempts     int           `yaml:"max_attempts"`
	BaseBackoff     time.Duration `yaml:"base_backoff"`
	MaxBackoff      time.Duration `yaml:"max_backoff"`
	MaxPayloadBytes int           `yaml:"max_payload_bytes"`
}

// WithDefaults fills unset fields.
func (c Config) WithDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 16
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	if c.ClaimTimeout <= 0 {
		c.ClaimTimeout = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 8
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = time.Minute
	}
	if c.MaxPayloadBytes <= 0 {
		c.MaxPayloadBytes = 256 * 1024
	}
	return c
}

// Publisher drains the outbox with a pool of polling workers plus a
// sweeper that requeues rows whose claim deadline expired (crash
// recovery). Delivery is fully decoupled from command execution: the
// originating caller never waits on the channel.
type Publisher struct {
	store   *store.Store
	channel Channel
	cfg     Config
	nodeID  string
	logger  *slog.Logger
}

// NewPublisher creates a publisher draining st into ch. nodeID prefixes
// the claimant identity of each worker.
func NewPublisher(st *store.Store, ch Channel, nodeID string, cfg Config, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		store:   st,
		channel: ch,
		cfg:     cfg.WithDefaults(),
		nodeID:  nodeID,
		logger:  logger,
	}
}

// Run blocks, polling until ctx is cancelled. Cancellation is clean:
// rows claimed by an interrupted worker are recovered by the sweeper
// (here or in another process) once their claim deadline passes.
func (p *Publisher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < p.cfg.Workers; i++ {
		claimant := fmt.Sprintf("%s/worker-%d", p.nodeID, i)
		g.Go(func() error {
			return p.workerLoop(ctx, claimant)
		})
	}
	g.Go(func() error {
		return p.sweepLoop(ctx)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// Drain publishes until no pending rows remain or ctx expires. Rows in
// retry backoff count as pending, so Drain keeps going until they either
// publish or go dead.
func (p *Publisher) Drain(ctx context.Context) error {
	claimant := p.nodeID + "/drain"
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := p.publishBatch(ctx, claimant)
		if err != nil {
			return err
		}
		if n > 0 {
			continue
		}
		pending, err := p.store.PendingCount(ctx)
		if err != nil {
			return err
		}
		if pending == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.cfg.PollInterval):
		}
	}
}

func (p *Publisher) workerLoop(ctx context.Context, claimant string) error {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		// Keep claiming while there is work; fall back to the ticker
		// once a batch comes up empty.
		for {
			n, err := p.publishBatch(ctx, claimant)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				p.logger.Error("outbox batch failed", "claimant", claimant, "error", err)
				break
			}
			if n == 0 {
				break
			}
		}
	}
}

func (p *Publisher) sweepLoop(ctx context.Context) error {
	interval := p.cfg.ClaimTimeout / 2
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		n, err := p.store.SweepExpiredClaims(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Error("claim sweep failed", "error", err)
			continue
		}
		if n > 0 {
			p.logger.Warn("requeued expired claims", "rows", n)
		}
	}
}

// publishBatch claims one batch and publishes every row in it, returning
// the number of rows claimed.
func (p *Publisher) publishBatch(ctx context.Context, claimant string) (int, error) {
	rows, err := p.store.ClaimBatch(ctx, claimant, p.cfg.BatchSize, p.cfg.ClaimTimeout)
	if err != nil {
		return 0, err
	}
	for _, row := range rows {
		p.publishRow(ctx, row)
	}
	return len(rows), nil
}

// publishRow runs one row through the status machine. Row-level failures
// are recorded on the row itself, never returned: one bad row must not
// stall the rest of the batch.
func (p *Publisher) publishRow(ctx context.Context, row store.OutboxRow) {
	env := envelopeFromRow(row)

	data, err := env.Encode()
	if err != nil {
		p.markDead(ctx, row, fmt.Sprintf("unencodable envelope: %v", err))
		return
	}
	if len(data) > p.cfg.MaxPayloadBytes {
		// Oversized payloads can never succeed; retrying is pointless.
		p.markDead(ctx, row, fmt.Sprintf("payload %d bytes exceeds channel maximum %d", len(data), p.cfg.MaxPayloadBytes))
		return
	}

	if err := p.channel.Publish(ctx, env); err != nil {
		p.retryOrBury(ctx, row, err)
		return
	}

	if err := p.store.MarkPublished(ctx, row.ID); err != nil {
		p.logger.Error("mark published failed", "row_id", row.ID, "error", err)
		return
	}
	p.logger.Debug("published",
		"event_type", row.EventType,
		"aggregate_id", row.AggregateID,
		"seq", row.Seq)
}

func (p *Publisher) retryOrBury(ctx context.Context, row store.OutboxRow, cause error) {
	attempt := row.Attempts + 1
	if attempt >= p.cfg.MaxAttempts {
		p.markDead(ctx, row, fmt.Sprintf("attempt %d/%d: %v", attempt, p.cfg.MaxAttempts, cause))
		return
	}

	notBefore := time.Now().Add(p.backoff(attempt))
	if err := p.store.Release(ctx, row.ID, cause.Error(), notBefore); err != nil {
		p.logger.Error("release failed", "row_id", row.ID, "error", err)
		return
	}
	p.logger.Warn("publish failed, will retry",
		"event_type", row.EventType,
		"aggregate_id", row.AggregateID,
		"seq", row.Seq,
		"attempt", attempt,
		"error", cause)
}

func (p *Publisher) markDead(ctx context.Context, row store.OutboxRow, cause string) {
	if err := p.store.MarkDead(ctx, row.ID, cause); err != nil {
		p.logger.Error("mark dead failed", "row_id", row.ID, "error", err)
		return
	}
	p.logger.Error("outbox row dead-lettered",
		"row_id", row.ID,
		"event_type", row.EventType,
		"aggregate_id", row.AggregateID,
		"seq", row.Seq,
		"cause", cause)
}

// backoff doubles per attempt from the base, capped at MaxBackoff.
func (p *Publisher) backoff(attempt int) time.Duration {
	d := p.cfg.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.cfg.MaxBackoff {
			return p.cfg.MaxBackoff
		}
	}
	if d > p.cfg.MaxBackoff {
		return p.cfg.MaxBackoff
	}
	return d
}
