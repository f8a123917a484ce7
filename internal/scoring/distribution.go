package scoring

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/audience-engine/internal/cache"
	"github.com/ignite/audience-engine/internal/pkg/logger"
)

// distributionCacheSub is the stats-namespace subkey for the tenant
// distribution view.
const distributionCacheSub = "distribution"

// ScoreDistribution computes bucket counts, average, and median in one pass
// over a tenant's current scores. The result is a cached view, never a
// record of truth; a cache miss simply recomputes.
func (e *Engine) ScoreDistribution(ctx context.Context, tenantID uuid.UUID) (*Distribution, error) {
	cacheKey := ""
	if e.cache != nil {
		cacheKey = cache.Key(tenantID, cache.KindStats, distributionCacheSub)
		var cached Distribution
		if hit, err := e.cache.GetJSON(ctx, cacheKey, &cached); err == nil && hit {
			return &cached, nil
		}
	}

	query := `
		SELECT activity_score
		FROM contacts
		WHERE tenant_id = $1 AND status = 'active'
		ORDER BY activity_score`
	rows, err := e.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("query scores: %w", err)
	}
	defer rows.Close()

	dist := &Distribution{
		Histogram:  make(map[string]int),
		ComputedAt: time.Now().UTC(),
	}
	var scores []float64
	var sum float64

	for rows.Next() {
		var s float64
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan score: %w", err)
		}
		scores = append(scores, s)
		sum += s

		switch {
		case s >= 70:
			dist.HighCount++
		case s >= 30:
			dist.MediumCount++
		default:
			dist.LowCount++
		}
		dist.Histogram[bucketLabel(s)]++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scores: %w", err)
	}

	dist.Total = len(scores)
	if dist.Total > 0 {
		dist.Average = round2(sum / float64(dist.Total))
		dist.Median = round2(median(scores))
	}

	if e.cache != nil {
		if err := e.cache.SetJSON(ctx, cacheKey, dist, e.cache.TTL(cache.KindStats)); err != nil {
			logger.Warn("distribution cache write failed", "tenant_id", tenantID.String(), "error", err.Error())
		}
	}
	return dist, nil
}

// ContactsInScoreRange returns contacts whose score lies in [min, max],
// descending by score with contact ID as the tie-break for stable ordering.
func (e *Engine) ContactsInScoreRange(ctx context.Context, tenantID uuid.UUID, min, max float64, limit int) ([]ContactScore, error) {
	if min > max {
		return nil, fmt.Errorf("score range [%v, %v]: %w", min, max, ErrInvertedRange)
	}
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, activity_score, score_computed_at
		FROM contacts
		WHERE tenant_id = $1 AND activity_score BETWEEN $2 AND $3
		ORDER BY activity_score DESC, id ASC
		LIMIT $4`

	rows, err := e.db.QueryContext(ctx, query, tenantID, min, max, limit)
	if err != nil {
		return nil, fmt.Errorf("query score range: %w", err)
	}
	defer rows.Close()

	var out []ContactScore
	for rows.Next() {
		var cs ContactScore
		var computedAt sql.NullTime
		if err := rows.Scan(&cs.ContactID, &cs.Score, &computedAt); err != nil {
			return nil, fmt.Errorf("scan score row: %w", err)
		}
		cs.ComputedAt = computedAt.Time
		out = append(out, cs)
	}
	return out, rows.Err()
}

// bucketLabel maps a score onto its fixed-width 10-point histogram bucket.
// The top bucket absorbs 100 so labels stay at ten.
func bucketLabel(s float64) string {
	b := int(s) / 10
	if b > 9 {
		b = 9
	}
	if b < 0 {
		b = 0
	}
	return fmt.Sprintf("%d-%d", b*10, b*10+10)
}

// median applies the standard even/odd midpoint rule over sorted scores.
func median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
