// Package sink defines the reconciliation contract against the downstream
// store. Two write paths implement it: a direct SQL repository and a REST
// collection adapter. Both use delete-then-insert replace semantics with
// batch-scoped transactions, favoring forward progress over strict
// atomicity; the next scheduled pass self-corrects any partial state.
package sink

import (
	"context"

	"github.com/verdantleaf/pos-catalog-sync/internal/model"
)

// WriteResult reports aggregate counts for one replace operation. Batches
// commit independently, so the counts describe partial progress rather than
// an all-or-nothing outcome.
type WriteResult struct {
	Created int `json:"created"`
	Deleted int `json:"deleted"`
	Errors  int `json:"errors"`
}

func (r *WriteResult) Add(other WriteResult) {
	r.Created += other.Created
	r.Deleted += other.Deleted
	r.Errors += other.Errors
}

// Writer reconciles full per-location snapshots into the sink.
type Writer interface {
	// ReplaceItems replaces every sink item row owned by the store with
	// the fresh snapshot. Items below the quantity floor are dropped.
	ReplaceItems(ctx context.Context, store model.Store, items []model.CatalogItem) (WriteResult, error)

	// ReplacePromotions replaces the store's promotion rows, merging the
	// location membership of promotions shared with other stores.
	// Inactive, soft-deleted and expired promotions are dropped.
	ReplacePromotions(ctx context.Context, store model.Store, promos []model.Promotion) (WriteResult, error)

	// CleanupPromotions purges promotions that are expired, soft-deleted
	// or no longer referenced by any location. Runs after all stores
	// complete.
	CleanupPromotions(ctx context.Context) (int, error)
}
