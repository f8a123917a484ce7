// Package scoring computes decayed activity scores per contact and
// tenant-wide score distributions. Scores are derived data: recomputed from
// activity events, bounded to [0,100], and cached with explicit TTL — the
// event log stays the source of truth.
package scoring

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrInvertedRange reports a score range query whose minimum exceeds its
// maximum.
var ErrInvertedRange = errors.New("score range minimum exceeds maximum")

// ErrRecomputeInProgress reports that another instance already holds the
// tenant's batch recompute lock.
var ErrRecomputeInProgress = errors.New("batch recompute already in progress for tenant")

// ActivityType categorizes a raw activity event.
type ActivityType string

const (
	ActivityOpen     ActivityType = "open"
	ActivityClick    ActivityType = "click"
	ActivityReply    ActivityType = "reply"
	ActivityPurchase ActivityType = "purchase"
	ActivityPageView ActivityType = "page_view"
)

// Config holds the scoring model parameters.
type Config struct {
	// WindowDays bounds how far back events are read.
	WindowDays int
	// Weights gives each activity type its contribution. Unknown types
	// contribute nothing.
	Weights map[ActivityType]float64
	// HalfLifeDays controls exponential time decay: an event this many days
	// old contributes half its weight.
	HalfLifeDays float64
	// CalibrationCeiling is the decayed weighted sum at which the score
	// saturates to 100.
	CalibrationCeiling float64
	// BatchWorkers bounds parallelism for tenant-wide recomputes.
	BatchWorkers int
}

// DefaultConfig returns the default scoring model. Purchases and replies
// weigh far more than opens, per the engagement model.
func DefaultConfig() Config {
	return Config{
		WindowDays: 90,
		Weights: map[ActivityType]float64{
			ActivityPurchase: 10,
			ActivityReply:    6,
			ActivityClick:    3,
			ActivityOpen:     1,
			ActivityPageView: 0.5,
		},
		HalfLifeDays:       30,
		CalibrationCeiling: 60,
		BatchWorkers:       8,
	}
}

// ActivityEvent is one raw engagement fact for a contact.
type ActivityEvent struct {
	ContactID  uuid.UUID    `json:"contact_id"`
	Type       ActivityType `json:"type"`
	OccurredAt time.Time    `json:"occurred_at"`
}

// ContactScore pairs a contact with its current activity score.
type ContactScore struct {
	ContactID  uuid.UUID `json:"contact_id"`
	Score      float64   `json:"score"`
	ComputedAt time.Time `json:"computed_at"`
}

// Distribution is the tenant-wide view over current scores. It is never
// persisted; it is recomputed on demand and cached.
type Distribution struct {
	HighCount   int            `json:"high_count"`   // score >= 70
	MediumCount int            `json:"medium_count"` // 30 <= score < 70
	LowCount    int            `json:"low_count"`    // score < 30
	Total       int            `json:"total"`
	Average     float64        `json:"average"`
	Median      float64        `json:"median"`
	Histogram   map[string]int `json:"histogram"`
	ComputedAt  time.Time      `json:"computed_at"`
}

// BatchResult reports a tenant-wide recompute as data rather than as an
// error: per-contact failures are tallied, never aborting the batch.
type BatchResult struct {
	Scored     int   `json:"scored"`
	Failed     int   `json:"failed"`
	DurationMs int64 `json:"duration_ms"`
}
