package segment

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store provides database operations for segments and their usage history.
// Rules are persisted as an immutable JSON snapshot and re-validated on
// every create and edit; an invalid tree is rejected wholesale and never
// written.
type Store struct {
	db        *sql.DB
	validator *Validator
}

// NewStore creates a segment store.
func NewStore(db *sql.DB, validator *Validator) *Store {
	return &Store{db: db, validator: validator}
}

// ==========================================
// SEGMENT OPERATIONS
// ==========================================

// CreateSegment validates and persists a new segment.
func (s *Store) CreateSegment(ctx context.Context, seg *Segment) error {
	if vr := s.validator.Validate(seg.Rules); !vr.IsValid {
		return &InvalidRulesError{Errors: vr.Errors}
	}

	seg.ID = uuid.New()
	seg.IsActive = true
	seg.CreatedAt = time.Now().UTC()
	seg.UpdatedAt = seg.CreatedAt

	rulesJSON, err := json.Marshal(seg.Rules)
	if err != nil {
		return fmt.Errorf("marshal rules: %w", err)
	}

	query := `
		INSERT INTO segments (
			id, tenant_id, name, description, rules, is_active,
			created_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = s.db.ExecContext(ctx, query,
		seg.ID, seg.TenantID, seg.Name, seg.Description, rulesJSON,
		seg.IsActive, seg.CreatedBy, seg.CreatedAt, seg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert segment: %w", err)
	}
	return nil
}

// GetSegment returns a tenant's segment by ID, or ErrSegmentNotFound.
func (s *Store) GetSegment(ctx context.Context, tenantID, id uuid.UUID) (*Segment, error) {
	query := `
		SELECT id, tenant_id, name, description, rules, is_active,
		       created_by, created_at, updated_at
		FROM segments
		WHERE tenant_id = $1 AND id = $2`

	var seg Segment
	var rulesJSON []byte
	var description sql.NullString
	err := s.db.QueryRowContext(ctx, query, tenantID, id).Scan(
		&seg.ID, &seg.TenantID, &seg.Name, &description, &rulesJSON,
		&seg.IsActive, &seg.CreatedBy, &seg.CreatedAt, &seg.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrSegmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get segment: %w", err)
	}

	seg.Description = description.String
	if err := json.Unmarshal(rulesJSON, &seg.Rules); err != nil {
		return nil, fmt.Errorf("unmarshal rules for segment %s: %w", seg.ID, err)
	}
	return &seg, nil
}

// ListSegments returns a tenant's segments, newest first. Inactive segments
// are included only when requested.
func (s *Store) ListSegments(ctx context.Context, tenantID uuid.UUID, includeInactive bool) ([]Segment, error) {
	query := `
		SELECT id, tenant_id, name, description, rules, is_active,
		       created_by, created_at, updated_at
		FROM segments
		WHERE tenant_id = $1`
	if !includeInactive {
		query += " AND is_active = TRUE"
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	defer rows.Close()

	var segments []Segment
	for rows.Next() {
		var seg Segment
		var rulesJSON []byte
		var description sql.NullString
		if err := rows.Scan(&seg.ID, &seg.TenantID, &seg.Name, &description, &rulesJSON,
			&seg.IsActive, &seg.CreatedBy, &seg.CreatedAt, &seg.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		seg.Description = description.String
		if err := json.Unmarshal(rulesJSON, &seg.Rules); err != nil {
			return nil, fmt.Errorf("unmarshal rules for segment %s: %w", seg.ID, err)
		}
		segments = append(segments, seg)
	}
	return segments, rows.Err()
}

// UpdateSegment re-validates and rewrites a segment's mutable fields. The
// rules snapshot is replaced atomically; there is no partial rule update.
func (s *Store) UpdateSegment(ctx context.Context, seg *Segment) error {
	if vr := s.validator.Validate(seg.Rules); !vr.IsValid {
		return &InvalidRulesError{Errors: vr.Errors}
	}

	rulesJSON, err := json.Marshal(seg.Rules)
	if err != nil {
		return fmt.Errorf("marshal rules: %w", err)
	}

	seg.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE segments
		SET name = $3, description = $4, rules = $5, updated_at = $6
		WHERE tenant_id = $1 AND id = $2`

	res, err := s.db.ExecContext(ctx, query,
		seg.TenantID, seg.ID, seg.Name, seg.Description, rulesJSON, seg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update segment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSegmentNotFound
	}
	return nil
}

// DeactivateSegment soft-deletes a segment. Segments are never hard-deleted
// while usage history references them.
func (s *Store) DeactivateSegment(ctx context.Context, tenantID, id uuid.UUID) error {
	query := `
		UPDATE segments SET is_active = FALSE, updated_at = $3
		WHERE tenant_id = $1 AND id = $2`
	res, err := s.db.ExecContext(ctx, query, tenantID, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("deactivate segment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSegmentNotFound
	}
	return nil
}

// CloneSegment creates a new segment with a deep-copied rule tree and a new
// identity.
func (s *Store) CloneSegment(ctx context.Context, tenantID, id uuid.UUID, newName string, createdBy *uuid.UUID) (*Segment, error) {
	src, err := s.GetSegment(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	clone := &Segment{
		TenantID:    tenantID,
		Name:        newName,
		Description: src.Description,
		Rules:       src.Rules.Clone(),
		CreatedBy:   createdBy,
	}
	if clone.Name == "" {
		clone.Name = src.Name + " (copy)"
	}

	if err := s.CreateSegment(ctx, clone); err != nil {
		return nil, fmt.Errorf("clone segment: %w", err)
	}
	return clone, nil
}

// ==========================================
// USAGE HISTORY
// ==========================================

// RecordUsage appends one usage record. Store satisfies AuditSink.
func (s *Store) RecordUsage(ctx context.Context, rec UsageRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = time.Now().UTC()
	}

	query := `
		INSERT INTO segment_usage (
			id, segment_id, user_id, action, context,
			result_count, execution_time_ms, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.SegmentID, rec.UserID, rec.Action, rec.Context,
		rec.ResultCount, rec.ExecutionTimeMs, rec.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// ListUsage returns a segment's most recent usage records.
func (s *Store) ListUsage(ctx context.Context, segmentID uuid.UUID, limit int) ([]UsageRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, segment_id, user_id, action, context,
		       result_count, execution_time_ms, occurred_at
		FROM segment_usage
		WHERE segment_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, segmentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}
	defer rows.Close()

	var records []UsageRecord
	for rows.Next() {
		var rec UsageRecord
		var recCtx sql.NullString
		if err := rows.Scan(&rec.ID, &rec.SegmentID, &rec.UserID, &rec.Action, &recCtx,
			&rec.ResultCount, &rec.ExecutionTimeMs, &rec.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan usage record: %w", err)
		}
		rec.Context = recCtx.String
		records = append(records, rec)
	}
	return records, rows.Err()
}
