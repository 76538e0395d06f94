package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/verdantleaf/pos-catalog-sync/config"
	"github.com/verdantleaf/pos-catalog-sync/internal/model"
	"github.com/verdantleaf/pos-catalog-sync/internal/sink"
)

const (
	itemsCollection  = "catalog-items"
	promosCollection = "promotions"

	// create fan-out per batch, joined before the next batch starts
	createConcurrency = 50
)

// Writer reconciles snapshots through the content API. Same replace
// semantics as the SQL path, expressed as list/delete/create calls.
type Writer struct {
	client        *Client
	batchSize     int
	batchDelay    time.Duration
	quantityFloor float64
	logger        *zap.Logger
}

func NewWriter(client *Client, cfg *config.Sync, logger *zap.Logger) *Writer {
	return &Writer{
		client:        client,
		batchSize:     cfg.BatchSize,
		batchDelay:    cfg.BatchDelay(),
		quantityFloor: cfg.QuantityFloor,
		logger:        logger,
	}
}

func (w *Writer) ReplaceItems(ctx context.Context, st model.Store, items []model.CatalogItem) (sink.WriteResult, error) {
	var res sink.WriteResult

	valid := make([]model.CatalogItem, 0, len(items))
	for i := range items {
		if items[i].QuantityAvailable >= w.quantityFloor {
			valid = append(valid, items[i])
		}
	}
	w.logger.Info("replacing catalog items",
		zap.String("store", st.Name),
		zap.Int("fresh", len(valid)),
		zap.Int("below_floor", len(items)-len(valid)))

	query := url.Values{"filters[providerStoreId][$eq]": {st.ProviderStoreID}}
	deleted, err := w.deleteMatching(ctx, itemsCollection, query, nil)
	if err != nil {
		return res, err
	}
	res.Deleted = deleted

	for start := 0; start < len(valid); start += w.batchSize {
		if start > 0 {
			if err := w.pause(ctx); err != nil {
				return res, err
			}
		}
		end := min(start+w.batchSize, len(valid))
		created, errs := w.createItems(ctx, st, valid[start:end])
		res.Created += created
		res.Errors += errs
	}
	return res, nil
}

func (w *Writer) ReplacePromotions(ctx context.Context, st model.Store, promos []model.Promotion) (sink.WriteResult, error) {
	var res sink.WriteResult
	now := time.Now().UTC()

	fresh := make([]model.Promotion, 0, len(promos))
	freshSet := make(map[int64]bool, len(promos))
	for i := range promos {
		if promos[i].Live(now) {
			fresh = append(fresh, promos[i])
			freshSet[promos[i].DiscountID] = true
		}
	}
	w.logger.Info("replacing promotions",
		zap.String("store", st.Name),
		zap.Int("fresh", len(fresh)),
		zap.Int("dropped", len(promos)-len(fresh)))

	// drop or strip promotions this store no longer offers
	ref := st.Ref()
	deleted, err := w.deleteMatching(ctx, promosCollection, nil, func(doc Document) (bool, error) {
		var existing model.Promotion
		if err := json.Unmarshal(doc.Attrs, &existing); err != nil {
			return false, nil
		}
		if freshSet[existing.DiscountID] || !refsContain(existing.AppliesTo, ref.ProviderStoreID) {
			return false, nil
		}
		if len(existing.AppliesTo) > 1 {
			existing.AppliesTo = refsWithout(existing.AppliesTo, ref.ProviderStoreID)
			_, err := w.client.Update(ctx, promosCollection, doc.DocumentID, existing)
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return res, err
	}
	res.Deleted = deleted

	for start := 0; start < len(fresh); start += w.batchSize {
		if start > 0 {
			if err := w.pause(ctx); err != nil {
				return res, err
			}
		}
		end := min(start+w.batchSize, len(fresh))
		for i := start; i < end; i++ {
			switch err := w.upsertPromotion(ctx, ref, fresh[i]); {
			case err == nil:
				res.Created++
			default:
				w.logger.Error("promotion upsert failed",
					zap.Int64("discount_id", fresh[i].DiscountID), zap.Error(err))
				res.Errors++
			}
		}
	}
	return res, nil
}

func (w *Writer) CleanupPromotions(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	return w.deleteMatching(ctx, promosCollection, nil, func(doc Document) (bool, error) {
		var promo model.Promotion
		if err := json.Unmarshal(doc.Attrs, &promo); err != nil {
			// unreadable rows are garbage, purge them
			return true, nil
		}
		if promo.IsDeleted || len(promo.AppliesTo) == 0 {
			return true, nil
		}
		return promo.ValidUntil != nil && promo.ValidUntil.Before(now), nil
	})
}

// upsertPromotion creates the promotion or, when it already exists, merges
// the store into its membership and updates in place. A create rejected on
// the unique discount id means another pass won the race; we fall back to
// update, and skip silently when the winner vanished again.
func (w *Writer) upsertPromotion(ctx context.Context, ref model.StoreRef, promo model.Promotion) error {
	query := url.Values{"filters[discountId][$eq]": {strconv.FormatInt(promo.DiscountID, 10)}}

	existing, err := w.client.FindFirst(ctx, promosCollection, query)
	if err != nil {
		return err
	}
	if existing != nil {
		return w.updateMerged(ctx, existing, ref, promo)
	}

	promo.AppliesTo = []model.StoreRef{ref}
	_, err = w.client.Create(ctx, promosCollection, promo)
	if err == nil || !isUniqueConflict(err) {
		return err
	}

	existing, err = w.client.FindFirst(ctx, promosCollection, query)
	if err != nil {
		return err
	}
	if existing == nil {
		w.logger.Debug("promotion vanished after unique conflict, skipping",
			zap.Int64("discount_id", promo.DiscountID))
		return nil
	}
	return w.updateMerged(ctx, existing, ref, promo)
}

func (w *Writer) updateMerged(ctx context.Context, existing *Document, ref model.StoreRef, promo model.Promotion) error {
	var current model.Promotion
	if err := json.Unmarshal(existing.Attrs, &current); err != nil {
		w.logger.Warn("unreadable promotion record, replacing membership",
			zap.Int64("discount_id", promo.DiscountID), zap.Error(err))
	}
	promo.AppliesTo = mergeRefs(current.AppliesTo, ref)
	_, err := w.client.Update(ctx, promosCollection, existing.DocumentID, promo)
	return err
}

func (w *Writer) createItems(ctx context.Context, st model.Store, items []model.CatalogItem) (int, int) {
	var created, errs atomic.Int64
	sem := make(chan struct{}, createConcurrency)
	var wg sync.WaitGroup

	for i := range items {
		item := items[i]
		item.ProviderStoreID = st.ProviderStoreID
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if _, err := w.client.Create(ctx, itemsCollection, item); err != nil {
				w.logger.Error("item create failed",
					zap.Int64("inventory_id", item.InventoryID), zap.Error(err))
				errs.Add(1)
				return
			}
			created.Add(1)
		}()
	}
	wg.Wait()
	return int(created.Load()), int(errs.Load())
}

// deleteMatching walks a collection and deletes the records the keep
// callback approves; a nil callback deletes everything matched by the query.
// Listing always re-requests page one because each pass shrinks the result.
func (w *Writer) deleteMatching(ctx context.Context, collection string, query url.Values, shouldDelete func(Document) (bool, error)) (int, error) {
	deleted := 0
	page := 1
	for {
		docs, pageCount, err := w.client.List(ctx, collection, query, page, w.batchSize)
		if err != nil {
			return deleted, err
		}
		if len(docs) == 0 {
			return deleted, nil
		}

		anyDeleted := false
		for _, doc := range docs {
			drop := true
			if shouldDelete != nil {
				drop, err = shouldDelete(doc)
				if err != nil {
					return deleted, err
				}
			}
			if !drop {
				continue
			}
			if err := w.client.Delete(ctx, collection, doc.DocumentID); err != nil {
				return deleted, err
			}
			deleted++
			anyDeleted = true
		}

		if anyDeleted {
			page = 1
			continue
		}
		page++
		if page > pageCount {
			return deleted, nil
		}
	}
}

func (w *Writer) pause(ctx context.Context) error {
	if w.batchDelay <= 0 {
		return nil
	}
	timer := time.NewTimer(w.batchDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func mergeRefs(existing []model.StoreRef, ref model.StoreRef) []model.StoreRef {
	out := make([]model.StoreRef, 0, len(existing)+1)
	replaced := false
	for _, r := range existing {
		if r.ProviderStoreID == ref.ProviderStoreID {
			out = append(out, ref)
			replaced = true
			continue
		}
		out = append(out, r)
	}
	if !replaced {
		out = append(out, ref)
	}
	return out
}

func refsContain(refs []model.StoreRef, providerStoreID string) bool {
	for _, r := range refs {
		if r.ProviderStoreID == providerStoreID {
			return true
		}
	}
	return false
}

func refsWithout(refs []model.StoreRef, providerStoreID string) []model.StoreRef {
	out := make([]model.StoreRef, 0, len(refs))
	for _, r := range refs {
		if r.ProviderStoreID != providerStoreID {
			out = append(out, r)
		}
	}
	return out
}

func isUniqueConflict(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == 400 && strings.Contains(strings.ToLower(apiErr.Body), "unique")
}
