package scoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
)

func scoreRows(scores ...float64) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"activity_score"})
	for _, s := range scores {
		rows.AddRow(s)
	}
	return rows
}

func TestScoreDistribution(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	tenantID := uuid.New()
	e := NewEngine(db, nil, DefaultConfig())

	mock.ExpectQuery("SELECT activity_score").
		WithArgs(tenantID).
		WillReturnRows(scoreRows(20, 50, 85))

	dist, err := e.ScoreDistribution(context.Background(), tenantID)
	if err != nil {
		t.Fatalf("ScoreDistribution() error: %v", err)
	}

	if dist.HighCount != 1 || dist.MediumCount != 1 || dist.LowCount != 1 {
		t.Errorf("bucket counts = %d/%d/%d, want 1/1/1", dist.HighCount, dist.MediumCount, dist.LowCount)
	}
	if dist.Total != 3 {
		t.Errorf("Total = %d, want 3", dist.Total)
	}
	if dist.Average != 51.67 {
		t.Errorf("Average = %v, want 51.67", dist.Average)
	}
	if dist.Median != 50.0 {
		t.Errorf("Median = %v, want 50", dist.Median)
	}
	if dist.Histogram["20-30"] != 1 || dist.Histogram["50-60"] != 1 || dist.Histogram["80-90"] != 1 {
		t.Errorf("unexpected histogram: %v", dist.Histogram)
	}
}

func TestScoreDistribution_BoundaryScores(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	e := NewEngine(db, nil, DefaultConfig())

	// 30 and 70 sit on the inclusive lower edges of medium and high.
	mock.ExpectQuery("SELECT activity_score").
		WillReturnRows(scoreRows(0, 29.99, 30, 69.99, 70, 100))

	dist, err := e.ScoreDistribution(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("ScoreDistribution() error: %v", err)
	}
	if dist.LowCount != 2 {
		t.Errorf("LowCount = %d, want 2", dist.LowCount)
	}
	if dist.MediumCount != 2 {
		t.Errorf("MediumCount = %d, want 2", dist.MediumCount)
	}
	if dist.HighCount != 2 {
		t.Errorf("HighCount = %d, want 2", dist.HighCount)
	}

	// 100 lands in the top bucket, not an eleventh one.
	if dist.Histogram["90-100"] != 2 {
		t.Errorf("top bucket = %d, want 2 (includes score 100): %v", dist.Histogram["90-100"], dist.Histogram)
	}

	// Bucket counts always sum to the total.
	sum := 0
	for _, n := range dist.Histogram {
		sum += n
	}
	if sum != dist.Total {
		t.Errorf("histogram sums to %d, total is %d", sum, dist.Total)
	}
}

func TestScoreDistribution_Empty(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	e := NewEngine(db, nil, DefaultConfig())

	mock.ExpectQuery("SELECT activity_score").
		WillReturnRows(scoreRows())

	dist, err := e.ScoreDistribution(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("ScoreDistribution() error: %v", err)
	}
	if dist.Total != 0 || dist.Average != 0 || dist.Median != 0 {
		t.Errorf("empty tenant should produce zero stats: %+v", dist)
	}
}

func TestScoreDistribution_Cached(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	coordinator, _ := setupTestCache(t)
	tenantID := uuid.New()
	e := NewEngine(db, coordinator, DefaultConfig())

	mock.ExpectQuery("SELECT activity_score").
		WillReturnRows(scoreRows(40, 60))

	first, err := e.ScoreDistribution(context.Background(), tenantID)
	if err != nil {
		t.Fatalf("first call error: %v", err)
	}

	// Second call hits the cache; no expectation is set for it.
	second, err := e.ScoreDistribution(context.Background(), tenantID)
	if err != nil {
		t.Fatalf("cached call error: %v", err)
	}
	if second.Total != first.Total || second.Median != first.Median {
		t.Errorf("cached distribution differs: %+v vs %+v", second, first)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestContactsInScoreRange(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	tenantID := uuid.New()
	e := NewEngine(db, nil, DefaultConfig())

	id := uuid.New()
	now := time.Now().UTC()
	mock.ExpectQuery("SELECT id, activity_score, score_computed_at").
		WithArgs(tenantID, 30.0, 70.0, 100).
		WillReturnRows(sqlmock.NewRows([]string{"id", "activity_score", "score_computed_at"}).
			AddRow(id.String(), 55.5, now).
			AddRow(uuid.New().String(), 42.0, nil))

	out, err := e.ContactsInScoreRange(context.Background(), tenantID, 30, 70, 0)
	if err != nil {
		t.Fatalf("ContactsInScoreRange() error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d rows, want 2", len(out))
	}
	if out[0].ContactID != id || out[0].Score != 55.5 {
		t.Errorf("unexpected first row: %+v", out[0])
	}
	if !out[1].ComputedAt.IsZero() {
		t.Errorf("NULL computed_at should scan as zero time, got %v", out[1].ComputedAt)
	}
}

func TestContactsInScoreRange_Inverted(t *testing.T) {
	db, _, cleanup := setupTestDB(t)
	defer cleanup()

	e := NewEngine(db, nil, DefaultConfig())

	_, err := e.ContactsInScoreRange(context.Background(), uuid.New(), 70, 30, 10)
	if !errors.Is(err, ErrInvertedRange) {
		t.Errorf("want ErrInvertedRange, got %v", err)
	}
}

func TestBucketLabel(t *testing.T) {
	tests := []struct {
		score float64
		want  string
	}{
		{0, "0-10"},
		{9.99, "0-10"},
		{10, "10-20"},
		{55, "50-60"},
		{99.9, "90-100"},
		{100, "90-100"},
	}
	for _, tt := range tests {
		if got := bucketLabel(tt.score); got != tt.want {
			t.Errorf("bucketLabel(%v) = %q, want %q", tt.score, got, tt.want)
		}
	}
}

func TestMedian(t *testing.T) {
	if got := median([]float64{20, 50, 85}); got != 50 {
		t.Errorf("odd median = %v, want 50", got)
	}
	if got := median([]float64{20, 40, 60, 80}); got != 50 {
		t.Errorf("even median = %v, want 50", got)
	}
	if got := median(nil); got != 0 {
		t.Errorf("empty median = %v, want 0", got)
	}
}
