package contacts

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/audience-engine/internal/cache"
)

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	return db, mock, func() { db.Close() }
}

func setupTestCache(t *testing.T) (*cache.Coordinator, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return cache.NewCoordinator(rdb, cache.DefaultTTLConfig(), 100), mr
}

func contactRow(id, tenantID uuid.UUID) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "tenant_id", "email", "first_name", "last_name", "city", "country",
		"status", "tags", "activity_score", "total_purchases", "created_at", "last_active_at",
	}).AddRow(id.String(), tenantID.String(), "mina@example.com", "Mina", "Kim", "Seoul", "KR",
		"active", "{vip,beta}", 88.5, 12, time.Now().UTC(), nil)
}

func TestGetContact(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	tenantID, id := uuid.New(), uuid.New()
	store := NewStore(db, nil)

	mock.ExpectQuery("SELECT").
		WithArgs(tenantID, id).
		WillReturnRows(contactRow(id, tenantID))

	c, err := store.GetContact(context.Background(), tenantID, id)
	if err != nil {
		t.Fatalf("GetContact() error: %v", err)
	}
	if c.Email != "mina@example.com" || c.City != "Seoul" {
		t.Errorf("unexpected contact: %+v", c)
	}
	if len(c.Tags) != 2 || c.Tags[0] != "vip" {
		t.Errorf("tags not scanned: %v", c.Tags)
	}
	if c.LastActiveAt != nil {
		t.Errorf("NULL last_active_at should scan as nil, got %v", c.LastActiveAt)
	}
}

func TestGetContact_NotFound(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStore(db, nil)
	mock.ExpectQuery("SELECT").WillReturnError(sql.ErrNoRows)

	_, err := store.GetContact(context.Background(), uuid.New(), uuid.New())
	if !errors.Is(err, ErrContactNotFound) {
		t.Errorf("want ErrContactNotFound, got %v", err)
	}
}

func TestGetContact_ReadThroughCache(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	coordinator, mr := setupTestCache(t)
	tenantID, id := uuid.New(), uuid.New()
	store := NewStore(db, coordinator)

	mock.ExpectQuery("SELECT").
		WillReturnRows(contactRow(id, tenantID))

	// First read misses and refills.
	if _, err := store.GetContact(context.Background(), tenantID, id); err != nil {
		t.Fatalf("first GetContact() error: %v", err)
	}
	if !mr.Exists(cache.Key(tenantID, cache.KindContact, id.String())) {
		t.Fatal("entity cache entry should be refilled after a miss")
	}

	// Second read is served from cache; no expectation set.
	c, err := store.GetContact(context.Background(), tenantID, id)
	if err != nil {
		t.Fatalf("cached GetContact() error: %v", err)
	}
	if c.Email != "mina@example.com" {
		t.Errorf("cached contact mismatch: %+v", c)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestUpdateContact_InvalidatesBeforeReturn(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	coordinator, mr := setupTestCache(t)
	tenantID, id := uuid.New(), uuid.New()
	store := NewStore(db, coordinator)

	entity := cache.Key(tenantID, cache.KindContact, id.String())
	search := cache.Key(tenantID, cache.KindSearch, "somehash:10")
	if err := coordinator.SetJSON(context.Background(), entity, Contact{}, time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := coordinator.SetJSON(context.Background(), search, 1, time.Minute); err != nil {
		t.Fatal(err)
	}

	mock.ExpectExec("UPDATE contacts").
		WillReturnResult(sqlmock.NewResult(0, 1))

	c := &Contact{ID: id, TenantID: tenantID, Email: "new@example.com", Status: "active"}
	if err := store.UpdateContact(context.Background(), c); err != nil {
		t.Fatalf("UpdateContact() error: %v", err)
	}

	if mr.Exists(entity) {
		t.Error("entity cache entry should be invalidated by the update")
	}
	if mr.Exists(search) {
		t.Error("search cache should be swept by the update")
	}
}

func TestUpdateContact_NotFound(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStore(db, nil)
	mock.ExpectExec("UPDATE contacts").
		WillReturnResult(sqlmock.NewResult(0, 0))

	c := &Contact{ID: uuid.New(), TenantID: uuid.New()}
	if err := store.UpdateContact(context.Background(), c); !errors.Is(err, ErrContactNotFound) {
		t.Errorf("want ErrContactNotFound, got %v", err)
	}
}

func TestAddTag_InvalidatesOnlyThatTag(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	coordinator, mr := setupTestCache(t)
	tenantID, id := uuid.New(), uuid.New()
	store := NewStore(db, coordinator)

	vip := cache.Key(tenantID, cache.KindTag, "vip")
	beta := cache.Key(tenantID, cache.KindTag, "beta")
	entity := cache.Key(tenantID, cache.KindContact, id.String())
	for _, k := range []string{vip, beta, entity} {
		if err := coordinator.SetJSON(context.Background(), k, 1, time.Minute); err != nil {
			t.Fatal(err)
		}
	}

	mock.ExpectExec("UPDATE contacts").
		WithArgs(tenantID, id, "vip").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.AddTag(context.Background(), tenantID, id, "vip"); err != nil {
		t.Fatalf("AddTag() error: %v", err)
	}

	if mr.Exists(vip) {
		t.Error("vip tag cache should be invalidated")
	}
	if !mr.Exists(beta) {
		t.Error("beta tag cache should survive a vip tag change")
	}
	if !mr.Exists(entity) {
		t.Error("contact entity entry should survive a tag change")
	}
}

func TestRemoveTag(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStore(db, nil)
	tenantID, id := uuid.New(), uuid.New()

	mock.ExpectExec("array_remove").
		WithArgs(tenantID, id, "vip").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.RemoveTag(context.Background(), tenantID, id, "vip"); err != nil {
		t.Fatalf("RemoveTag() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestBulkDelete_EmptyIsNoop(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStore(db, nil)
	n, err := store.BulkDelete(context.Background(), uuid.New(), nil)
	if err != nil {
		t.Fatalf("BulkDelete() error: %v", err)
	}
	if n != 0 {
		t.Errorf("deleted = %d, want 0", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("store was touched: %v", err)
	}
}

func TestBulkDelete_LargeBatchSweepsTenant(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	coordinator := cache.NewCoordinator(rdb, cache.DefaultTTLConfig(), 3)

	tenantID := uuid.New()
	store := NewStore(db, coordinator)

	stats := cache.Key(tenantID, cache.KindStats, "distribution")
	if err := coordinator.SetJSON(context.Background(), stats, 1, time.Minute); err != nil {
		t.Fatal(err)
	}

	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New(), uuid.New()}
	mock.ExpectExec("DELETE FROM contacts").
		WillReturnResult(sqlmock.NewResult(0, int64(len(ids))))

	n, err := store.BulkDelete(context.Background(), tenantID, ids)
	if err != nil {
		t.Fatalf("BulkDelete() error: %v", err)
	}
	if n != len(ids) {
		t.Errorf("deleted = %d, want %d", n, len(ids))
	}
	if mr.Exists(stats) {
		t.Error("a bulk removal past the threshold should sweep the whole tenant namespace")
	}
}
