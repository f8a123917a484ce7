package scoring

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/audience-engine/internal/cache"
	"github.com/ignite/audience-engine/internal/contacts"
	"github.com/ignite/audience-engine/internal/pkg/distlock"
	"github.com/ignite/audience-engine/internal/pkg/logger"
)

// Engine computes and persists activity scores. The contact row's
// activity_score column is a derived projection; UpdateScore keeps it and
// the tenant's cached stats coherent.
type Engine struct {
	db    *sql.DB
	cache *cache.Coordinator
	cfg   Config
}

// NewEngine creates a scoring engine. coordinator may be nil in tests that
// exercise only the pure computation paths.
func NewEngine(db *sql.DB, coordinator *cache.Coordinator, cfg Config) *Engine {
	if cfg.BatchWorkers <= 0 {
		cfg.BatchWorkers = DefaultConfig().BatchWorkers
	}
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = DefaultConfig().WindowDays
	}
	if cfg.HalfLifeDays <= 0 {
		cfg.HalfLifeDays = DefaultConfig().HalfLifeDays
	}
	if cfg.CalibrationCeiling <= 0 {
		cfg.CalibrationCeiling = DefaultConfig().CalibrationCeiling
	}
	if cfg.Weights == nil {
		cfg.Weights = DefaultConfig().Weights
	}
	return &Engine{db: db, cache: coordinator, cfg: cfg}
}

// ==========================================
// SCORE COMPUTATION
// ==========================================

// scoreEvents computes the decayed weighted score for a fixed event snapshot
// and reference time. Pure and deterministic: identical snapshots always
// produce the identical value, bounded to [0,100].
func (e *Engine) scoreEvents(events []ActivityEvent, now time.Time) float64 {
	var raw float64
	for _, ev := range events {
		weight := e.cfg.Weights[ev.Type]
		if weight == 0 {
			continue
		}
		ageDays := now.Sub(ev.OccurredAt).Hours() / 24
		if ageDays < 0 {
			ageDays = 0
		}
		raw += weight * math.Exp2(-ageDays/e.cfg.HalfLifeDays)
	}

	score := raw / e.cfg.CalibrationCeiling * 100
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return math.Round(score*100) / 100
}

// recentEvents reads the bounded activity window for one contact.
func (e *Engine) recentEvents(ctx context.Context, tenantID, contactID uuid.UUID, now time.Time) ([]ActivityEvent, error) {
	since := now.AddDate(0, 0, -e.cfg.WindowDays)
	query := `
		SELECT event_type, occurred_at
		FROM activity_events
		WHERE tenant_id = $1 AND contact_id = $2 AND occurred_at >= $3`

	rows, err := e.db.QueryContext(ctx, query, tenantID, contactID, since)
	if err != nil {
		return nil, fmt.Errorf("query activity events: %w", err)
	}
	defer rows.Close()

	var events []ActivityEvent
	for rows.Next() {
		ev := ActivityEvent{ContactID: contactID}
		if err := rows.Scan(&ev.Type, &ev.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan activity event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// CalculateScore computes a contact's current activity score without
// persisting it.
func (e *Engine) CalculateScore(ctx context.Context, tenantID, contactID uuid.UUID) (float64, error) {
	now := time.Now().UTC()
	events, err := e.recentEvents(ctx, tenantID, contactID, now)
	if err != nil {
		return 0, err
	}
	return e.scoreEvents(events, now), nil
}

// ==========================================
// SCORE PERSISTENCE
// ==========================================

// UpdateScore recomputes and persists one contact's score. The tenant's
// cached distribution is invalidated before the call returns, so no reader
// observes stale stats after the update is acknowledged.
func (e *Engine) UpdateScore(ctx context.Context, tenantID, contactID uuid.UUID) error {
	score, err := e.CalculateScore(ctx, tenantID, contactID)
	if err != nil {
		return err
	}
	if err := e.writeScore(ctx, tenantID, contactID, score); err != nil {
		return err
	}

	if e.cache != nil {
		if err := e.cache.OnScoreUpdated(ctx, tenantID); err != nil {
			return fmt.Errorf("invalidate stats cache: %w", err)
		}
		if err := e.cache.PublishRecompute(ctx, tenantID, contactID); err != nil {
			logger.Warn("score event publish failed", "tenant_id", tenantID.String(), "error", err.Error())
		}
	}
	return nil
}

func (e *Engine) writeScore(ctx context.Context, tenantID, contactID uuid.UUID, score float64) error {
	query := `
		UPDATE contacts
		SET activity_score = $3, score_computed_at = $4
		WHERE tenant_id = $1 AND id = $2`
	res, err := e.db.ExecContext(ctx, query, tenantID, contactID, score, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("write score: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("write score for contact %s: %w", contactID, contacts.ErrContactNotFound)
	}
	return nil
}

// ==========================================
// BATCH RECOMPUTE
// ==========================================

// recomputeLockTTL bounds how long a crashed batch holder blocks the tenant.
const recomputeLockTTL = 10 * time.Minute

// UpdateAllScores recomputes every active contact of a tenant with bounded
// parallelism. A single contact's failure is caught, counted, and skipped;
// it never cancels sibling work. The returned BatchResult carries the
// failure tally. A racing contact edit may be read at a slightly stale
// snapshot; that is accepted eventual consistency.
func (e *Engine) UpdateAllScores(ctx context.Context, tenantID uuid.UUID) (BatchResult, error) {
	started := time.Now()

	// One batch per tenant at a time across all instances. The TTL covers a
	// crashed holder; batches that outlive it keep the lock fresh via
	// KeepAlive, and normal completion releases eagerly.
	if e.cache != nil {
		lock := distlock.New(e.cache.Client(), "recompute:"+tenantID.String(), recomputeLockTTL)
		ok, err := lock.Acquire(ctx)
		if err != nil {
			return BatchResult{}, fmt.Errorf("acquire recompute lock: %w", err)
		}
		if !ok {
			return BatchResult{}, ErrRecomputeInProgress
		}
		stopKeepAlive := lock.KeepAlive(context.WithoutCancel(ctx), recomputeLockTTL/3)
		defer func() {
			stopKeepAlive()
			lock.Release(context.WithoutCancel(ctx))
		}()
	}

	ids, err := e.activeContactIDs(ctx, tenantID)
	if err != nil {
		return BatchResult{}, err
	}

	jobs := make(chan uuid.UUID)
	var scored, failed int64
	var wg sync.WaitGroup

	for i := 0; i < e.cfg.BatchWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for contactID := range jobs {
				score, err := e.CalculateScore(ctx, tenantID, contactID)
				if err == nil {
					err = e.writeScore(ctx, tenantID, contactID, score)
				}
				if err != nil {
					atomic.AddInt64(&failed, 1)
					logger.Warn("batch score failed",
						"tenant_id", tenantID.String(),
						"contact_id", contactID.String(),
						"error", err.Error())
					continue
				}
				atomic.AddInt64(&scored, 1)
			}
		}()
	}

feed:
	for _, id := range ids {
		select {
		case jobs <- id:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	result := BatchResult{
		Scored:     int(atomic.LoadInt64(&scored)),
		Failed:     int(atomic.LoadInt64(&failed)),
		DurationMs: time.Since(started).Milliseconds(),
	}

	if ctx.Err() != nil {
		// Abandoned mid-batch: report what completed, write no cache state.
		return result, ctx.Err()
	}

	if e.cache != nil {
		if err := e.cache.OnScoreUpdated(ctx, tenantID); err != nil {
			return result, fmt.Errorf("invalidate stats cache: %w", err)
		}
		if err := e.cache.PublishRecompute(ctx, tenantID, uuid.Nil); err != nil {
			logger.Warn("score event publish failed", "tenant_id", tenantID.String(), "error", err.Error())
		}
	}

	logger.Info("batch score recompute finished",
		"tenant_id", tenantID.String(),
		"scored", result.Scored,
		"failed", result.Failed,
		"duration_ms", result.DurationMs)
	return result, nil
}

func (e *Engine) activeContactIDs(ctx context.Context, tenantID uuid.UUID) ([]uuid.UUID, error) {
	query := `SELECT id FROM contacts WHERE tenant_id = $1 AND status = 'active' ORDER BY id`
	rows, err := e.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list active contacts: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan contact id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
