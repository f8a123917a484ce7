// Package contacts provides the tenant-scoped contact store surface the
// cache coherency contract hangs off: every mutation fires its invalidation
// synchronously, before the call returns.
package contacts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/audience-engine/internal/cache"
)

// ErrContactNotFound is returned when a contact does not exist for the tenant.
var ErrContactNotFound = errors.New("contact not found")

// Contact is the contact-store row this engine reads and mutates.
type Contact struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	TenantID        uuid.UUID  `json:"tenant_id" db:"tenant_id"`
	Email           string     `json:"email" db:"email"`
	FirstName       string     `json:"first_name,omitempty" db:"first_name"`
	LastName        string     `json:"last_name,omitempty" db:"last_name"`
	City            string     `json:"city,omitempty" db:"city"`
	Country         string     `json:"country,omitempty" db:"country"`
	Status          string     `json:"status" db:"status"`
	Tags            []string   `json:"tags,omitempty"`
	ActivityScore   float64    `json:"activity_score" db:"activity_score"`
	TotalPurchases  int        `json:"total_purchases" db:"total_purchases"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	LastActiveAt    *time.Time `json:"last_active_at,omitempty" db:"last_active_at"`
}

// Store provides contact reads and mutations. Mutations invalidate through
// the cache coordinator before acknowledging, per the coherency contract.
type Store struct {
	db    *sql.DB
	cache *cache.Coordinator
}

// NewStore creates a contact store. coordinator may be nil, which disables
// caching and invalidation (tests only).
func NewStore(db *sql.DB, coordinator *cache.Coordinator) *Store {
	return &Store{db: db, cache: coordinator}
}

const contactColumns = `
	id, tenant_id, email, first_name, last_name, city, country,
	status, tags, activity_score, total_purchases, created_at, last_active_at`

func scanContact(row interface{ Scan(...interface{}) error }) (*Contact, error) {
	var c Contact
	var firstName, lastName, city, country sql.NullString
	var lastActive sql.NullTime
	err := row.Scan(&c.ID, &c.TenantID, &c.Email, &firstName, &lastName, &city, &country,
		&c.Status, pq.Array(&c.Tags), &c.ActivityScore, &c.TotalPurchases, &c.CreatedAt, &lastActive)
	if err != nil {
		return nil, err
	}
	c.FirstName = firstName.String
	c.LastName = lastName.String
	c.City = city.String
	c.Country = country.String
	if lastActive.Valid {
		c.LastActiveAt = &lastActive.Time
	}
	return &c, nil
}

// GetContact reads one contact, consulting the entity cache first. A cache
// miss falls through to the store and refills the entry.
func (s *Store) GetContact(ctx context.Context, tenantID, id uuid.UUID) (*Contact, error) {
	cacheKey := ""
	if s.cache != nil {
		cacheKey = cache.Key(tenantID, cache.KindContact, id.String())
		var cached Contact
		if hit, err := s.cache.GetJSON(ctx, cacheKey, &cached); err == nil && hit {
			return &cached, nil
		}
	}

	query := "SELECT " + contactColumns + " FROM contacts c WHERE tenant_id = $1 AND id = $2"
	c, err := scanContact(s.db.QueryRowContext(ctx, query, tenantID, id))
	if err == sql.ErrNoRows {
		return nil, ErrContactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get contact: %w", err)
	}

	if s.cache != nil {
		// Best effort refill; losing it only loses freshness.
		_ = s.cache.SetJSON(ctx, cacheKey, c, s.cache.TTL(cache.KindContact))
	}
	return c, nil
}

// UpdateContact rewrites a contact's profile fields, then invalidates the
// contact entity plus every search, tag-filter, and stats cache for the
// tenant before returning.
func (s *Store) UpdateContact(ctx context.Context, c *Contact) error {
	query := `
		UPDATE contacts
		SET email = $3, first_name = $4, last_name = $5, city = $6,
		    country = $7, status = $8, last_active_at = $9
		WHERE tenant_id = $1 AND id = $2`
	res, err := s.db.ExecContext(ctx, query,
		c.TenantID, c.ID, c.Email, c.FirstName, c.LastName, c.City,
		c.Country, c.Status, c.LastActiveAt)
	if err != nil {
		return fmt.Errorf("update contact: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrContactNotFound
	}

	if s.cache != nil {
		if err := s.cache.OnContactChanged(ctx, c.TenantID, c.ID); err != nil {
			return fmt.Errorf("invalidate after contact update: %w", err)
		}
	}
	return nil
}

// AddTag appends a tag to a contact. Only the named tag's filter cache is
// invalidated; other tag caches and contact entity entries stay intact.
func (s *Store) AddTag(ctx context.Context, tenantID, id uuid.UUID, tag string) error {
	query := `
		UPDATE contacts
		SET tags = array_append(tags, $3)
		WHERE tenant_id = $1 AND id = $2 AND NOT (tags @> ARRAY[$3])`
	if _, err := s.db.ExecContext(ctx, query, tenantID, id, tag); err != nil {
		return fmt.Errorf("add tag: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.OnTagChanged(ctx, tenantID, tag); err != nil {
			return fmt.Errorf("invalidate after tag add: %w", err)
		}
	}
	return nil
}

// RemoveTag removes a tag from a contact, invalidating that tag's cache only.
func (s *Store) RemoveTag(ctx context.Context, tenantID, id uuid.UUID, tag string) error {
	query := `
		UPDATE contacts
		SET tags = array_remove(tags, $3)
		WHERE tenant_id = $1 AND id = $2`
	if _, err := s.db.ExecContext(ctx, query, tenantID, id, tag); err != nil {
		return fmt.Errorf("remove tag: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.OnTagChanged(ctx, tenantID, tag); err != nil {
			return fmt.Errorf("invalidate after tag remove: %w", err)
		}
	}
	return nil
}

// BulkDelete removes a batch of contacts. Invalidation is batched: past the
// coordinator's sweep threshold it collapses into one tenant-wide sweep
// instead of N individual deletes.
func (s *Store) BulkDelete(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	idStrs := make([]string, len(ids))
	for i, id := range ids {
		idStrs[i] = id.String()
	}
	query := `DELETE FROM contacts WHERE tenant_id = $1 AND id = ANY($2)`
	res, err := s.db.ExecContext(ctx, query, tenantID, pq.Array(idStrs))
	if err != nil {
		return 0, fmt.Errorf("bulk delete contacts: %w", err)
	}
	deleted, _ := res.RowsAffected()

	if s.cache != nil {
		if err := s.cache.OnBulkContactsRemoved(ctx, tenantID, ids); err != nil {
			return int(deleted), fmt.Errorf("invalidate after bulk delete: %w", err)
		}
	}
	return int(deleted), nil
}
