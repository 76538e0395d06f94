// Package sync drives reconciliation passes: roster in, catalog and
// promotion snapshots fetched, applicability matched, sink and cache
// rewritten.
package sync

import (
	"context"
	"fmt"
	stdsync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/verdantleaf/pos-catalog-sync/internal/matching"
	"github.com/verdantleaf/pos-catalog-sync/internal/model"
	"github.com/verdantleaf/pos-catalog-sync/internal/sink"
	"github.com/verdantleaf/pos-catalog-sync/internal/source"
	"github.com/verdantleaf/pos-catalog-sync/internal/store"
)

// SourceClient is the slice of the provider API a sync pass needs.
type SourceClient interface {
	FetchReportingInventory(ctx context.Context, creds source.Credentials) ([]model.CatalogItem, error)
	FetchReportingDiscounts(ctx context.Context, creds source.Credentials) ([]model.Promotion, error)
}

// PromotionCache receives read-model entries for items with at least one
// applicable promotion. Cache failures never fail a pass.
type PromotionCache interface {
	Put(ctx context.Context, st model.StoreRef, item *model.CatalogItem, promos []model.Promotion) error
}

// Orchestrator walks the roster one location at a time. Locations are
// isolated: a failed store never blocks the ones after it, and only the
// roster fetch itself is fatal.
type Orchestrator struct {
	stores   store.Repository
	source   SourceClient
	cache    PromotionCache // nil when caching is disabled
	writer   sink.Writer
	interval time.Duration
	logger   *zap.Logger
}

func NewOrchestrator(stores store.Repository, src SourceClient, cache PromotionCache, writer sink.Writer, interval time.Duration, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		stores:   stores,
		source:   src,
		cache:    cache,
		writer:   writer,
		interval: interval,
		logger:   logger,
	}
}

// Run executes one full pass and returns its stats. The returned error is
// non-nil only when the pass could not start at all.
func (o *Orchestrator) Run(ctx context.Context) (Stats, error) {
	stats := Stats{StartedAt: time.Now().UTC()}

	roster, err := o.stores.ListActive(ctx)
	if err != nil {
		return stats, fmt.Errorf("sync: fetch roster: %w", err)
	}
	stats.StoresTotal = len(roster)
	o.logger.Info("sync pass started", zap.Int("stores", len(roster)))

	for i := range roster {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		st := roster[i]
		if !st.HasCredentials() {
			o.logger.Warn("store has no provider credentials, skipping",
				zap.String("store", st.Name))
			stats.StoresSkipped++
			continue
		}

		storeStats := o.syncStore(ctx, st)
		if storeStats.Failed {
			stats.StoresFailed++
		}
		stats.Stores = append(stats.Stores, storeStats)
	}

	removed, err := o.writer.CleanupPromotions(ctx)
	if err != nil {
		o.logger.Error("promotion cleanup failed", zap.Error(err))
	}
	stats.CleanupRemoved = removed

	stats.FinishedAt = time.Now().UTC()
	itemTotals, promoTotals := stats.Totals()
	o.logger.Info("sync pass finished",
		zap.Duration("took", stats.Duration()),
		zap.Int("stores", stats.StoresTotal),
		zap.Int("skipped", stats.StoresSkipped),
		zap.Int("failed", stats.StoresFailed),
		zap.Int("items_created", itemTotals.Created),
		zap.Int("promotions_created", promoTotals.Created),
		zap.Int("cleanup_removed", removed))
	return stats, nil
}

// RunForever runs a pass immediately, then on every interval tick until the
// context is cancelled. A zero interval means run once.
func (o *Orchestrator) RunForever(ctx context.Context) error {
	if _, err := o.Run(ctx); err != nil {
		o.logger.Error("sync pass failed", zap.Error(err))
	}
	if o.interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := o.Run(ctx); err != nil {
				o.logger.Error("sync pass failed", zap.Error(err))
			}
		}
	}
}

func (o *Orchestrator) syncStore(ctx context.Context, st model.Store) StoreStats {
	stats := StoreStats{StoreName: st.Name, ProviderStoreID: st.ProviderStoreID}
	logger := o.logger.With(zap.String("store", st.Name))
	creds := source.Credentials{APIKey: st.APIKey, ProviderStoreID: st.ProviderStoreID}

	var (
		wg        stdsync.WaitGroup
		items     []model.CatalogItem
		promos    []model.Promotion
		itemsErr  error
		promosErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		items, itemsErr = o.source.FetchReportingInventory(ctx, creds)
	}()
	go func() {
		defer wg.Done()
		promos, promosErr = o.source.FetchReportingDiscounts(ctx, creds)
	}()
	wg.Wait()

	if itemsErr != nil || promosErr != nil {
		logger.Error("snapshot fetch failed",
			zap.NamedError("items", itemsErr),
			zap.NamedError("promotions", promosErr))
		stats.Failed = true
		return stats
	}
	stats.ItemsFetched = len(items)
	stats.PromosFetched = len(promos)

	now := time.Now().UTC()
	ref := st.Ref()
	for i := range items {
		applicable := matching.ApplicablePromotions(&items[i], promos, now)
		if len(applicable) == 0 {
			continue
		}
		stats.Matched++
		if o.cache == nil {
			continue
		}
		if err := o.cache.Put(ctx, ref, &items[i], applicable); err != nil {
			logger.Warn("cache write failed",
				zap.Int64("inventory_id", items[i].InventoryID), zap.Error(err))
			continue
		}
		stats.Cached++
	}

	itemsRes, err := o.writer.ReplaceItems(ctx, st, items)
	stats.Items = itemsRes
	if err != nil {
		logger.Error("item reconciliation failed", zap.Error(err))
		stats.Failed = true
	}

	promosRes, err := o.writer.ReplacePromotions(ctx, st, promos)
	stats.Promotions = promosRes
	if err != nil {
		logger.Error("promotion reconciliation failed", zap.Error(err))
		stats.Failed = true
	}

	logger.Info("store synced",
		zap.Int("items_fetched", stats.ItemsFetched),
		zap.Int("promotions_fetched", stats.PromosFetched),
		zap.Int("matched", stats.Matched),
		zap.Int("cached", stats.Cached),
		zap.Int("items_created", itemsRes.Created),
		zap.Int("promotions_created", promosRes.Created))
	return stats
}
