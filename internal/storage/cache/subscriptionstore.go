// --- File: internal/storage/cache/subscriptionstore.go ---
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-webpush-service/pkg/dispatch"
)

// generationKey counts subscription writes. Each snapshot is stored under the
// generation that was current before its DB read, so a fill racing a write
// lands on a key no reader will ask for again.
const generationKey = "webpush:subscriptions:gen"

// ErrCacheMiss is returned by CacheClient.Get when the key does not exist.
var ErrCacheMiss = errors.New("cache miss")

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get decodes the value into dest, or returns ErrCacheMiss.
	Get(ctx context.Context, key string, dest any) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	// Del removes the key.
	Del(ctx context.Context, key string) error
	// Incr atomically increments an integer key and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)
}

func snapshotKey(gen int64) string {
	return fmt.Sprintf("webpush:subscriptions:all:%d", gen)
}

// CachedSubscriptionStore is a decorator that caches the broadcast snapshot
// (ListAll) in front of any SubscriptionStore. Point lookups and all writes
// go to the real store; every successful write bumps the generation.
type CachedSubscriptionStore struct {
	realStore dispatch.SubscriptionStore
	cache     CacheClient
	ttl       time.Duration
	logger    *slog.Logger
}

func NewCachedSubscriptionStore(realStore dispatch.SubscriptionStore, cache CacheClient, ttl time.Duration, logger *slog.Logger) *CachedSubscriptionStore {
	return &CachedSubscriptionStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
		logger:    logger.With("component", "CachedSubscriptionStore"),
	}
}

// --- READ PATH ---

func (s *CachedSubscriptionStore) ListAll(ctx context.Context) ([]dispatch.Subscription, error) {
	var gen int64
	if err := s.cache.Get(ctx, generationKey, &gen); err != nil && !errors.Is(err, ErrCacheMiss) {
		// Without a generation we cannot tell a fresh snapshot from a stale one.
		s.logger.Warn("Failed to read snapshot generation, bypassing cache", "err", err)
		return s.realStore.ListAll(ctx)
	}

	key := snapshotKey(gen)
	var cached []dispatch.Subscription
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return cached, nil
	}

	fresh, err := s.realStore.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	// Caching is an optimization; if Redis is down we still serve from the DB.
	if err := s.cache.Set(ctx, key, fresh, s.ttl); err != nil {
		s.logger.Warn("Failed to populate subscription snapshot", "err", err)
	}
	return fresh, nil
}

func (s *CachedSubscriptionStore) FindByEndpoint(ctx context.Context, endpoint string) (dispatch.Subscription, error) {
	return s.realStore.FindByEndpoint(ctx, endpoint)
}

// --- WRITE PATHS (Invalidate-on-Write) ---

func (s *CachedSubscriptionStore) Insert(ctx context.Context, sub dispatch.Subscription) error {
	if err := s.realStore.Insert(ctx, sub); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// DeleteByEndpoint invalidates even when nothing was removed: a prune of an
// endpoint another instance already deleted means our snapshot is stale.
func (s *CachedSubscriptionStore) DeleteByEndpoint(ctx context.Context, endpoint string) (int64, error) {
	n, err := s.realStore.DeleteByEndpoint(ctx, endpoint)
	if err != nil {
		return n, err
	}
	s.invalidate(ctx)
	return n, nil
}

func (s *CachedSubscriptionStore) invalidate(ctx context.Context) {
	gen, err := s.cache.Incr(ctx, generationKey)
	if err != nil {
		// The write itself succeeded; the snapshot expires within ttl.
		s.logger.Warn("Failed to invalidate subscription snapshot", "err", err)
		return
	}
	if err := s.cache.Del(ctx, snapshotKey(gen-1)); err != nil {
		s.logger.Debug("Failed to drop superseded snapshot", "generation", gen-1, "err", err)
	}
}
