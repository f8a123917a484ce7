// Package cache owns the coherency contract between mutable contact data and
// cached derived views. Keys are namespaced per tenant and entity kind so
// invalidation can be scoped; a cache miss is always safe and means
// "recompute", never "empty".
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/audience-engine/internal/pkg/logger"
)

// Kind identifies a cache namespace within a tenant.
type Kind string

const (
	KindContact Kind = "contact"
	KindSearch  Kind = "search"
	KindTag     Kind = "tag"
	KindStats   Kind = "stats"
)

// Mutation identifies a store mutation that stales cached data.
type Mutation string

const (
	MutationContactChanged Mutation = "contact_changed"
	MutationTagChanged     Mutation = "tag_changed"
	MutationScoreUpdated   Mutation = "score_updated"
	MutationBulkRemoval    Mutation = "bulk_removal"
)

// sweep describes one invalidation a mutation implies. Entity sweeps delete
// the single key for the mutation's subject; namespace sweeps remove every
// key of the kind for the tenant.
type sweep struct {
	Kind   Kind
	Entity bool
}

// triggerTable is the declarative mutation-to-invalidation mapping. Keeping
// the contract in one table keeps it auditable and testable in isolation.
var triggerTable = map[Mutation][]sweep{
	// A changed or deleted contact stales its entity entry plus any search
	// result, tag filter, or stat that may reference it.
	MutationContactChanged: {
		{Kind: KindContact, Entity: true},
		{Kind: KindSearch},
		{Kind: KindTag},
		{Kind: KindStats},
	},
	// A tag add/remove stales only that tag's filter cache.
	MutationTagChanged: {
		{Kind: KindTag, Entity: true},
	},
	// A recomputed score stales tenant stats; contact entity projections do
	// not embed the score.
	MutationScoreUpdated: {
		{Kind: KindStats},
	},
	MutationBulkRemoval: {
		{Kind: KindContact, Entity: true},
		{Kind: KindSearch},
		{Kind: KindTag},
		{Kind: KindStats},
	},
}

// Key builds a namespaced cache key: tenant:{id}:{kind}:{subkey}.
func Key(tenantID uuid.UUID, kind Kind, sub string) string {
	return fmt.Sprintf("tenant:%s:%s:%s", tenantID, kind, sub)
}

// TTLConfig holds per-namespace expiries.
type TTLConfig struct {
	Contact time.Duration
	Search  time.Duration
	Stats   time.Duration
}

// DefaultTTLConfig returns the default cache expiries.
func DefaultTTLConfig() TTLConfig {
	return TTLConfig{
		Contact: 15 * time.Minute,
		Search:  5 * time.Minute,
		Stats:   10 * time.Minute,
	}
}

// ScoreEventStream is the Redis stream carrying "recompute requested" events
// for upstream batch triggers.
const ScoreEventStream = "audience:events:scores"

// Coordinator applies the invalidation contract over a Redis cache. All
// invalidations run synchronously with the mutation that triggers them, so
// callers must invoke the On* hooks before acknowledging a mutation.
type Coordinator struct {
	rdb            *redis.Client
	ttl            TTLConfig
	sweepThreshold int
}

// NewCoordinator creates a coordinator. sweepThreshold controls when a bulk
// removal collapses into a single tenant-wide sweep instead of per-contact
// invalidations.
func NewCoordinator(rdb *redis.Client, ttl TTLConfig, sweepThreshold int) *Coordinator {
	if sweepThreshold <= 0 {
		sweepThreshold = 100
	}
	return &Coordinator{rdb: rdb, ttl: ttl, sweepThreshold: sweepThreshold}
}

// Client exposes the underlying Redis client for callers that need raw
// primitives on the same connection, such as distributed locks.
func (c *Coordinator) Client() *redis.Client { return c.rdb }

// TTL returns the configured expiry for a namespace kind.
func (c *Coordinator) TTL(kind Kind) time.Duration {
	switch kind {
	case KindContact:
		return c.ttl.Contact
	case KindStats:
		return c.ttl.Stats
	default:
		return c.ttl.Search
	}
}

// ==========================================
// GENERIC GET / SET / DELETE
// ==========================================

// GetJSON loads a cached JSON value into dst. The second return is false on
// a miss; a miss is never an error.
func (c *Coordinator) GetJSON(ctx context.Context, key string, dst interface{}) (bool, error) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		// A corrupt entry behaves like a miss; the caller recomputes.
		logger.Warn("cache entry unreadable, treating as miss", "key", key, "error", err.Error())
		return false, nil
	}
	return true, nil
}

// SetJSON stores a JSON value under key with the given TTL.
func (c *Coordinator) SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache marshal %s: %w", key, err)
	}
	if err := c.rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// Delete removes keys. Deleting an absent key is a no-op, so invalidation is
// idempotent.
func (c *Coordinator) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

// ==========================================
// INVALIDATION TRIGGERS
// ==========================================

// OnContactChanged fires the invalidations for a contact update or delete.
func (c *Coordinator) OnContactChanged(ctx context.Context, tenantID, contactID uuid.UUID) error {
	return c.apply(ctx, tenantID, MutationContactChanged, contactID.String())
}

// OnTagChanged fires the invalidation for a tag add/remove on a contact.
// Only the named tag's filter cache is touched.
func (c *Coordinator) OnTagChanged(ctx context.Context, tenantID uuid.UUID, tag string) error {
	return c.apply(ctx, tenantID, MutationTagChanged, tag)
}

// OnScoreUpdated fires the invalidation for a recomputed activity score.
func (c *Coordinator) OnScoreUpdated(ctx context.Context, tenantID uuid.UUID) error {
	return c.apply(ctx, tenantID, MutationScoreUpdated, "")
}

// OnBulkContactsRemoved fires invalidations for a batch contact removal.
// Below the sweep threshold each contact is invalidated individually; at or
// above it the whole tenant namespace is swept once.
func (c *Coordinator) OnBulkContactsRemoved(ctx context.Context, tenantID uuid.UUID, contactIDs []uuid.UUID) error {
	if len(contactIDs) >= c.sweepThreshold {
		return c.sweepPattern(ctx, fmt.Sprintf("tenant:%s:*", tenantID))
	}
	for _, id := range contactIDs {
		if err := c.apply(ctx, tenantID, MutationBulkRemoval, id.String()); err != nil {
			return err
		}
	}
	return nil
}

// apply executes the trigger table for one mutation.
func (c *Coordinator) apply(ctx context.Context, tenantID uuid.UUID, m Mutation, subject string) error {
	for _, sw := range triggerTable[m] {
		if sw.Entity {
			if err := c.Delete(ctx, Key(tenantID, sw.Kind, subject)); err != nil {
				return err
			}
			continue
		}
		if err := c.sweepPattern(ctx, Key(tenantID, sw.Kind, "*")); err != nil {
			return err
		}
	}
	return nil
}

// sweepPattern deletes every key matching the pattern via SCAN, avoiding a
// blocking KEYS call on large keyspaces.
func (c *Coordinator) sweepPattern(ctx context.Context, pattern string) error {
	iter := c.rdb.Scan(ctx, 0, pattern, 200).Iterator()
	batch := make([]string, 0, 200)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= 200 {
			if err := c.Delete(ctx, batch...); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("cache sweep %s: %w", pattern, err)
	}
	return c.Delete(ctx, batch...)
}

// ==========================================
// RECOMPUTE EVENTS
// ==========================================

// PublishRecompute appends a "recompute requested" event to the score event
// stream. Failures here are the caller's to log; event delivery is best
// effort and never gates the mutation.
func (c *Coordinator) PublishRecompute(ctx context.Context, tenantID uuid.UUID, contactID uuid.UUID) error {
	values := map[string]interface{}{
		"tenant_id":    tenantID.String(),
		"requested_at": time.Now().UTC().Format(time.RFC3339),
	}
	if contactID != uuid.Nil {
		values["contact_id"] = contactID.String()
	}
	if err := c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: ScoreEventStream,
		MaxLen: 10000,
		Approx: true,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("publish recompute event: %w", err)
	}
	return nil
}
