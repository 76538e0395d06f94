// Package cache holds the precomputed item→promotion associations served by
// the read API. Entries are a memoization of the matching evaluator, keyed
// catalog:{storeID}:{itemID}, and expire on their own so a stalled sync can
// never serve permanently stale matches.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/verdantleaf/pos-catalog-sync/internal/model"
)

const keyPrefix = "catalog:"

// Stats summarizes cache health for the read API.
type Stats struct {
	TotalKeys  int64  `json:"totalKeys"`
	MemoryUsed string `json:"memoryUsed"`
}

type Store struct {
	rdb        *redis.Client
	defaultTTL time.Duration
	logger     *zap.Logger
}

func NewStore(rdb *redis.Client, defaultTTL time.Duration, logger *zap.Logger) *Store {
	return &Store{rdb: rdb, defaultTTL: defaultTTL, logger: logger}
}

func entryKey(storeID string, itemID int64) string {
	return keyPrefix + storeID + ":" + strconv.FormatInt(itemID, 10)
}

// Put writes the entry for (store, item) with its resolved promotions. The
// TTL is the latest promotion expiry still in the future, or the default
// when no promotion carries one. A Put fully replaces any previous entry.
func (s *Store) Put(ctx context.Context, st model.StoreRef, item *model.CatalogItem, promos []model.Promotion) error {
	entry := model.CacheEntry{
		InventoryID: item.InventoryID,
		ProductID:   item.ProductID,
		Name:        item.Name,
		ImageURL:    item.ImageURL,
		BrandName:   item.BrandName,
		Category:    item.Category,
		StoreID:     st.ProviderStoreID,
		StoreName:   st.StoreName,
		LastUpdated: time.Now().UTC(),
	}
	if item.UnitPrice != nil {
		entry.UnitPrice = *item.UnitPrice
	}
	for i := range promos {
		p := &promos[i]
		entry.Promotions = append(entry.Promotions, model.CachedPromotion{
			DiscountID: p.DiscountID,
			Name:       p.Name,
			Amount:     p.Amount,
			Type:       p.Type,
			ValidFrom:  p.ValidFrom,
			ValidUntil: p.ValidUntil,
			IsActive:   p.IsActive,
		})
	}

	payload, err := json.Marshal(&entry)
	if err != nil {
		return fmt.Errorf("cache: marshal entry: %w", err)
	}

	ttl := s.ttlFor(promos, time.Now())
	return s.rdb.Set(ctx, entryKey(st.ProviderStoreID, item.InventoryID), payload, ttl).Err()
}

// ttlFor picks the latest ValidUntil still ahead of now; entries whose
// promotions carry no expiry fall back to the default TTL.
func (s *Store) ttlFor(promos []model.Promotion, now time.Time) time.Duration {
	var latest time.Time
	for i := range promos {
		if promos[i].ValidUntil != nil && promos[i].ValidUntil.After(latest) {
			latest = *promos[i].ValidUntil
		}
	}
	if latest.IsZero() || !latest.After(now) {
		return s.defaultTTL
	}
	return latest.Sub(now)
}

// Get returns the entry for (store, item), or nil when absent or expired.
func (s *Store) Get(ctx context.Context, storeID string, itemID int64) (*model.CacheEntry, error) {
	data, err := s.rdb.Get(ctx, entryKey(storeID, itemID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entry model.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("cache: decode entry: %w", err)
	}
	return &entry, nil
}

// ListByStore returns every live entry for one store.
func (s *Store) ListByStore(ctx context.Context, storeID string) ([]model.CacheEntry, error) {
	return s.scan(ctx, keyPrefix+storeID+":*")
}

// ListAll returns every live entry across all stores.
func (s *Store) ListAll(ctx context.Context) ([]model.CacheEntry, error) {
	return s.scan(ctx, keyPrefix+"*")
}

func (s *Store) scan(ctx context.Context, pattern string) ([]model.CacheEntry, error) {
	keys, err := s.keys(ctx, pattern)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]model.CacheEntry, 0, len(values))
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			// key expired between SCAN and MGET
			continue
		}
		var entry model.CacheEntry
		if err := json.Unmarshal([]byte(str), &entry); err != nil {
			s.logger.Warn("cache: dropping undecodable entry", zap.Error(err))
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Evict removes every entry for one store and returns how many were removed.
func (s *Store) Evict(ctx context.Context, storeID string) (int, error) {
	keys, err := s.keys(ctx, keyPrefix+storeID+":*")
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return 0, err
	}
	return len(keys), nil
}

func (s *Store) keys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.rdb.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

var memoryPattern = regexp.MustCompile(`used_memory_human:([^\r\n]+)`)

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	size, err := s.rdb.DBSize(ctx).Result()
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{TotalKeys: size, MemoryUsed: "unknown"}
	info, err := s.rdb.Info(ctx, "memory").Result()
	if err == nil {
		if m := memoryPattern.FindStringSubmatch(info); m != nil {
			stats.MemoryUsed = m[1]
		}
	}
	return stats, nil
}
