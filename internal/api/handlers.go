package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/verdantleaf/pos-catalog-sync/internal/cache"
	"github.com/verdantleaf/pos-catalog-sync/internal/matching"
	"github.com/verdantleaf/pos-catalog-sync/internal/model"
)

const (
	defaultMaxDiscounts     = 6
	defaultProductsPerStore = 6
	readCacheControl        = "public, max-age=300"
)

// Cache is the slice of the cache store the read API serves from.
type Cache interface {
	ListAll(ctx context.Context) ([]model.CacheEntry, error)
	ListByStore(ctx context.Context, storeID string) ([]model.CacheEntry, error)
	Get(ctx context.Context, storeID string, itemID int64) (*model.CacheEntry, error)
	Evict(ctx context.Context, storeID string) (int, error)
	Stats(ctx context.Context) (cache.Stats, error)
}

type Handler struct {
	cache  Cache
	logger *zap.Logger
}

func NewHandler(c Cache, logger *zap.Logger) *Handler {
	return &Handler{cache: c, logger: logger}
}

// productView is a cache entry trimmed to its best promotions for display.
type productView struct {
	model.CacheEntry
	TotalDiscounts int `json:"totalDiscounts"`
	ShowingTop     int `json:"showingTop"`
}

func newProductView(entry model.CacheEntry, maxDiscounts int) productView {
	total := len(entry.Promotions)
	entry.Promotions = matching.BestPromotions(entry.Promotions, maxDiscounts)
	return productView{
		CacheEntry:     entry,
		TotalDiscounts: total,
		ShowingTop:     len(entry.Promotions),
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "connected"
	if _, err := h.cache.Stats(r.Context()); err != nil {
		status = "disconnected"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"redis":     status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.cache.Stats(r.Context())
	if err != nil {
		h.fail(w, http.StatusServiceUnavailable, "cache not available", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ListDiscountedProducts serves a cross-store listing balanced to at most
// productsPerStore entries per location, each trimmed to its best
// promotions.
func (h *Handler) ListDiscountedProducts(w http.ResponseWriter, r *http.Request) {
	page := clampInt(r.URL.Query().Get("page"), 1, 1, 1<<30)
	limit := clampInt(r.URL.Query().Get("limit"), 100, 1, 500)
	maxDiscounts := clampInt(r.URL.Query().Get("maxDiscounts"), defaultMaxDiscounts, 1, 1<<30)
	perStore := clampInt(r.URL.Query().Get("productsPerStore"), defaultProductsPerStore, 1, 1<<30)

	entries, err := h.cache.ListAll(r.Context())
	if err != nil {
		h.fail(w, http.StatusServiceUnavailable, "cache not available", err)
		return
	}

	byStore := map[string][]model.CacheEntry{}
	for _, entry := range entries {
		byStore[entry.StoreID] = append(byStore[entry.StoreID], entry)
	}
	storeIDs := make([]string, 0, len(byStore))
	for id := range byStore {
		storeIDs = append(storeIDs, id)
	}
	sort.Strings(storeIDs)

	balanced := make([]productView, 0, len(storeIDs)*perStore)
	for _, id := range storeIDs {
		group := byStore[id]
		if len(group) > perStore {
			group = group[:perStore]
		}
		for _, entry := range group {
			balanced = append(balanced, newProductView(entry, maxDiscounts))
		}
	}

	pageItems := paginate(balanced, page, limit)
	w.Header().Set("Cache-Control", readCacheControl)
	writeJSON(w, http.StatusOK, map[string]any{
		"page":             page,
		"limit":            limit,
		"total":            len(balanced),
		"totalPages":       totalPages(len(balanced), limit),
		"count":            len(pageItems),
		"storesCount":      len(byStore),
		"productsPerStore": perStore,
		"data":             pageItems,
	})
}

func (h *Handler) ListStoreDiscountedProducts(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeID")
	page := clampInt(r.URL.Query().Get("page"), 1, 1, 1<<30)
	limit := clampInt(r.URL.Query().Get("limit"), 20, 1, 100)
	maxDiscounts := clampInt(r.URL.Query().Get("maxDiscounts"), defaultMaxDiscounts, 1, 1<<30)

	entries, err := h.cache.ListByStore(r.Context(), storeID)
	if err != nil {
		h.fail(w, http.StatusServiceUnavailable, "cache not available", err)
		return
	}

	views := make([]productView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, newProductView(entry, maxDiscounts))
	}

	pageItems := paginate(views, page, limit)
	w.Header().Set("Cache-Control", readCacheControl)
	writeJSON(w, http.StatusOK, map[string]any{
		"storeId":    storeID,
		"page":       page,
		"limit":      limit,
		"total":      len(views),
		"totalPages": totalPages(len(views), limit),
		"count":      len(pageItems),
		"data":       pageItems,
	})
}

func (h *Handler) GetDiscountedProduct(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeID")
	itemID, err := strconv.ParseInt(chi.URLParam(r, "itemID"), 10, 64)
	if err != nil {
		h.fail(w, http.StatusBadRequest, "invalid item id", err)
		return
	}
	maxDiscounts := clampInt(r.URL.Query().Get("maxDiscounts"), defaultMaxDiscounts, 1, 1<<30)

	entry, err := h.cache.Get(r.Context(), storeID, itemID)
	if err != nil {
		h.fail(w, http.StatusServiceUnavailable, "cache not available", err)
		return
	}
	if entry == nil {
		h.fail(w, http.StatusNotFound, "product not found or has no promotions", nil)
		return
	}

	w.Header().Set("Cache-Control", readCacheControl)
	writeJSON(w, http.StatusOK, newProductView(*entry, maxDiscounts))
}

func (h *Handler) EvictStoreCache(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeID")
	cleared, err := h.cache.Evict(r.Context(), storeID)
	if err != nil {
		h.fail(w, http.StatusServiceUnavailable, "cache not available", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("cleared %d cached products for store %s", cleared, storeID),
		"count":   cleared,
	})
}

func (h *Handler) fail(w http.ResponseWriter, code int, msg string, err error) {
	if err != nil {
		h.logger.Error(msg, zap.Error(err))
	}
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

func paginate(views []productView, page, limit int) []productView {
	start := (page - 1) * limit
	if start >= len(views) {
		return []productView{}
	}
	return views[start:min(start+limit, len(views))]
}

func totalPages(total, limit int) int {
	return (total + limit - 1) / limit
}

func clampInt(raw string, def, lo, hi int) int {
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return max(lo, min(hi, v))
}
