package segment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/audience-engine/internal/cache"
	"github.com/ignite/audience-engine/internal/pkg/logger"
)

// AuditSink accepts fire-and-forget usage records. Implementations must not
// be load-bearing: a sink failure is logged and never fails an evaluation.
type AuditSink interface {
	RecordUsage(ctx context.Context, rec UsageRecord) error
}

// Evaluator executes compiled plans against the contact store. Evaluations
// are read-only, request-parallel, and individually bounded by the query
// timeout; no lock is held across cache operations.
type Evaluator struct {
	db        *sql.DB
	validator *Validator
	cache     *cache.Coordinator
	audit     AuditSink
	limits    Limits
}

// NewEvaluator creates an evaluator. cache and audit may be nil; evaluation
// then skips result caching and usage recording.
func NewEvaluator(db *sql.DB, limits Limits, coordinator *cache.Coordinator, audit AuditSink) *Evaluator {
	return &Evaluator{
		db:        db,
		validator: NewValidator(limits),
		cache:     coordinator,
		audit:     audit,
		limits:    limits,
	}
}

// Validator returns the evaluator's validator for pre-flight checks.
func (e *Evaluator) Validator() *Validator { return e.validator }

// preparePlan validates then compiles. Invalid trees are rejected wholesale
// with the full error list; the compiler is unreachable without a validated
// tree.
func (e *Evaluator) preparePlan(tenantID uuid.UUID, rules RuleNode) (*Plan, error) {
	vr := e.validator.Validate(rules)
	if !vr.IsValid {
		return nil, &InvalidRulesError{Errors: vr.Errors}
	}
	plan, err := NewCompiler().Compile(tenantID, rules)
	if err != nil {
		return nil, fmt.Errorf("compile rules: %w", err)
	}
	return plan, nil
}

// Evaluate runs the full pipeline: count plus a deterministic sample ordered
// by contact ID. Execution time covers the store calls only, not validation
// or compilation.
func (e *Evaluator) Evaluate(ctx context.Context, tenantID uuid.UUID, rules RuleNode, sampleSize int) (*EvaluationResult, error) {
	plan, err := e.preparePlan(tenantID, rules)
	if err != nil {
		return nil, err
	}

	if sampleSize <= 0 {
		sampleSize = 10
	}
	if sampleSize > e.limits.SampleCap {
		sampleSize = e.limits.SampleCap
	}

	cacheKey := ""
	if e.cache != nil {
		cacheKey = cache.Key(tenantID, cache.KindSearch, fmt.Sprintf("%s:%d", RuleHash(tenantID, rules), sampleSize))
		var cached EvaluationResult
		if hit, err := e.cache.GetJSON(ctx, cacheKey, &cached); err == nil && hit {
			return &cached, nil
		}
	}

	qctx, cancel := context.WithTimeout(ctx, e.limits.QueryTimeout)
	defer cancel()

	countQuery := "SELECT COUNT(*) FROM contacts c WHERE " + plan.Predicate
	sampleQuery := fmt.Sprintf(
		"SELECT c.id, c.email, c.first_name, c.last_name, c.activity_score FROM contacts c WHERE %s ORDER BY c.id LIMIT $%d",
		plan.Predicate, len(plan.Args)+1)

	started := time.Now()

	var total int
	if err := e.db.QueryRowContext(qctx, countQuery, plan.Args...).Scan(&total); err != nil {
		return nil, storeErr("count query", err)
	}

	sampleArgs := append(append([]interface{}{}, plan.Args...), sampleSize)
	rows, err := e.db.QueryContext(qctx, sampleQuery, sampleArgs...)
	if err != nil {
		return nil, storeErr("sample query", err)
	}
	defer rows.Close()

	var sample []ContactPreview
	for rows.Next() {
		var p ContactPreview
		var firstName, lastName sql.NullString
		if err := rows.Scan(&p.ID, &p.Email, &firstName, &lastName, &p.ActivityScore); err != nil {
			return nil, storeErr("scan sample row", err)
		}
		p.FirstName = firstName.String
		p.LastName = lastName.String
		sample = append(sample, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate sample rows", err)
	}

	result := &EvaluationResult{
		TotalCount:      total,
		Sample:          sample,
		ExecutionTimeMs: time.Since(started).Milliseconds(),
		GeneratedQuery:  countQuery,
		EvaluatedAt:     time.Now().UTC(),
	}

	// No partial cache writes on cancellation: the parent context gates the
	// write, not the (possibly expired) query context.
	if e.cache != nil && ctx.Err() == nil {
		if err := e.cache.SetJSON(ctx, cacheKey, result, e.cache.TTL(cache.KindSearch)); err != nil {
			logger.Warn("segment result cache write failed", "tenant_id", tenantID.String(), "error", err.Error())
		}
	}

	return result, nil
}

// EvaluateSegment evaluates a persisted segment and records a usage entry.
// Audit failures are swallowed: usage history must never fail an evaluation.
func (e *Evaluator) EvaluateSegment(ctx context.Context, seg *Segment, userID *uuid.UUID, sampleSize int) (*EvaluationResult, error) {
	result, err := e.Evaluate(ctx, seg.TenantID, seg.Rules, sampleSize)
	if err != nil {
		return nil, err
	}

	if e.audit != nil {
		rec := UsageRecord{
			SegmentID:       seg.ID,
			UserID:          userID,
			Action:          "evaluate",
			ResultCount:     result.TotalCount,
			ExecutionTimeMs: result.ExecutionTimeMs,
			OccurredAt:      time.Now().UTC(),
		}
		if err := e.audit.RecordUsage(ctx, rec); err != nil {
			logger.Warn("usage record failed", "segment_id", seg.ID.String(), "error", err.Error())
		}
	}

	return result, nil
}

// Count runs the count-only path, reusing the compiled plan without fetching
// rows.
func (e *Evaluator) Count(ctx context.Context, tenantID uuid.UUID, rules RuleNode) (int, error) {
	plan, err := e.preparePlan(tenantID, rules)
	if err != nil {
		return 0, err
	}

	qctx, cancel := context.WithTimeout(ctx, e.limits.QueryTimeout)
	defer cancel()

	var total int
	query := "SELECT COUNT(*) FROM contacts c WHERE " + plan.Predicate
	if err := e.db.QueryRowContext(qctx, query, plan.Args...).Scan(&total); err != nil {
		return 0, storeErr("count query", err)
	}
	return total, nil
}

// ContactIDs returns matching contact IDs in ascending ID order. A zero or
// negative limit is a programmer error (ErrLimitExceeded); a limit above the
// system cap is silently clamped to bound memory and query time.
func (e *Evaluator) ContactIDs(ctx context.Context, tenantID uuid.UUID, rules RuleNode, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit %d: %w", limit, ErrLimitExceeded)
	}
	if limit > e.limits.IDListCap {
		limit = e.limits.IDListCap
	}

	plan, err := e.preparePlan(tenantID, rules)
	if err != nil {
		return nil, err
	}

	qctx, cancel := context.WithTimeout(ctx, e.limits.QueryTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT c.id FROM contacts c WHERE %s ORDER BY c.id LIMIT $%d",
		plan.Predicate, len(plan.Args)+1)
	args := append(append([]interface{}{}, plan.Args...), limit)

	rows, err := e.db.QueryContext(qctx, query, args...)
	if err != nil {
		return nil, storeErr("id query", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, storeErr("scan id row", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate id rows", err)
	}
	return ids, nil
}

// EvaluateContact reports whether a single contact currently matches the
// rules, for real-time membership checks.
func (e *Evaluator) EvaluateContact(ctx context.Context, tenantID, contactID uuid.UUID, rules RuleNode) (bool, error) {
	plan, err := e.preparePlan(tenantID, rules)
	if err != nil {
		return false, err
	}

	qctx, cancel := context.WithTimeout(ctx, e.limits.QueryTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM contacts c WHERE %s AND c.id = $%d)",
		plan.Predicate, len(plan.Args)+1)
	args := append(append([]interface{}{}, plan.Args...), contactID)

	var matches bool
	if err := e.db.QueryRowContext(qctx, query, args...).Scan(&matches); err != nil {
		return false, storeErr("membership query", err)
	}
	return matches, nil
}

// storeErr maps store failures onto the evaluation error taxonomy: deadline
// expiry becomes ErrEvaluationTimeout, everything else ErrStoreUnavailable.
func storeErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, ErrEvaluationTimeout)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
}
