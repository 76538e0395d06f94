package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/verdantleaf/pos-catalog-sync/config"
	"github.com/verdantleaf/pos-catalog-sync/internal/model"
	"github.com/verdantleaf/pos-catalog-sync/internal/retry"
)

// fakeSink is an in-memory content API good enough for the writer's listing,
// create, update and delete traffic.
type fakeSink struct {
	mu      sync.Mutex
	nextID  int64
	records map[string][]fakeRecord
}

type fakeRecord struct {
	id    int64
	docID string
	attrs map[string]any
}

func newFakeSink() *fakeSink {
	return &fakeSink{records: map[string][]fakeRecord{}}
}

func (f *fakeSink) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/{collection}", f.list)
	mux.HandleFunc("POST /api/{collection}", f.create)
	mux.HandleFunc("PUT /api/{collection}/{docID}", f.update)
	mux.HandleFunc("DELETE /api/{collection}/{docID}", f.delete)
	return mux
}

func (f *fakeSink) seed(collection string, attrs map[string]any) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	docID := fmt.Sprintf("doc-%d", f.nextID)
	f.records[collection] = append(f.records[collection], fakeRecord{id: f.nextID, docID: docID, attrs: attrs})
	return docID
}

func (f *fakeSink) list(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	collection := r.PathValue("collection")

	var data []map[string]any
	for _, rec := range f.records[collection] {
		if v := r.URL.Query().Get("filters[providerStoreId][$eq]"); v != "" && rec.attrs["providerStoreId"] != v {
			continue
		}
		if v := r.URL.Query().Get("filters[discountId][$eq]"); v != "" {
			want, _ := strconv.ParseFloat(v, 64)
			if rec.attrs["discountId"] != want {
				continue
			}
		}
		entry := map[string]any{"id": rec.id, "documentId": rec.docID}
		for k, val := range rec.attrs {
			entry[k] = val
		}
		data = append(data, entry)
	}

	pageSize, _ := strconv.Atoi(r.URL.Query().Get("pagination[pageSize]"))
	if pageSize > 0 && len(data) > pageSize {
		data = data[:pageSize]
	}
	json.NewEncoder(w).Encode(map[string]any{
		"data": data,
		"meta": map[string]any{"pagination": map[string]any{"page": 1, "pageCount": 1, "total": len(data)}},
	})
}

func (f *fakeSink) create(w http.ResponseWriter, r *http.Request) {
	collection := r.PathValue("collection")
	var envelope struct {
		Data map[string]any `json:"data"`
	}
	json.NewDecoder(r.Body).Decode(&envelope)

	f.mu.Lock()
	defer f.mu.Unlock()
	if collection == promosCollection {
		for _, rec := range f.records[collection] {
			if rec.attrs["discountId"] == envelope.Data["discountId"] {
				w.WriteHeader(http.StatusBadRequest)
				fmt.Fprint(w, `{"error":{"message":"This attribute must be unique"}}`)
				return
			}
		}
	}
	f.nextID++
	docID := fmt.Sprintf("doc-%d", f.nextID)
	f.records[collection] = append(f.records[collection], fakeRecord{id: f.nextID, docID: docID, attrs: envelope.Data})
	json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"id": f.nextID, "documentId": docID}})
}

func (f *fakeSink) update(w http.ResponseWriter, r *http.Request) {
	collection, docID := r.PathValue("collection"), r.PathValue("docID")
	var envelope struct {
		Data map[string]any `json:"data"`
	}
	json.NewDecoder(r.Body).Decode(&envelope)

	f.mu.Lock()
	defer f.mu.Unlock()
	for i, rec := range f.records[collection] {
		if rec.docID == docID {
			f.records[collection][i].attrs = envelope.Data
			json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"id": rec.id, "documentId": docID}})
			return
		}
	}
	w.WriteHeader(http.StatusNotFound)
}

func (f *fakeSink) delete(w http.ResponseWriter, r *http.Request) {
	collection, docID := r.PathValue("collection"), r.PathValue("docID")
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, rec := range f.records[collection] {
		if rec.docID == docID {
			f.records[collection] = append(f.records[collection][:i], f.records[collection][i+1:]...)
			w.WriteHeader(http.StatusOK)
			fmt.Fprint(w, `{"data":null}`)
			return
		}
	}
	w.WriteHeader(http.StatusNotFound)
}

func (f *fakeSink) promoByDiscountID(t *testing.T, id float64) model.Promotion {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.records[promosCollection] {
		if rec.attrs["discountId"] == id {
			raw, err := json.Marshal(rec.attrs)
			require.NoError(t, err)
			var promo model.Promotion
			require.NoError(t, json.Unmarshal(raw, &promo))
			return promo
		}
	}
	t.Fatalf("promotion %v not found", id)
	return model.Promotion{}
}

func newTestWriter(t *testing.T, fake *fakeSink) *Writer {
	t.Helper()
	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)

	client := NewClient(&config.Sink{RESTURL: server.URL, RESTToken: "token"},
		retry.Policy{MaxRetries: 0, BaseDelay: time.Millisecond, MaxJitter: time.Millisecond},
		zap.NewNop())
	return NewWriter(client, &config.Sync{BatchSize: 100, BatchDelayMs: 0, QuantityFloor: 5}, zap.NewNop())
}

func restTestStore() model.Store {
	return model.Store{ID: 1, Name: "Downtown", ProviderStoreID: "prov-1", APIKey: "key", IsActive: true}
}

func TestWriterReplaceItems(t *testing.T) {
	fake := newFakeSink()
	fake.seed(itemsCollection, map[string]any{"providerStoreId": "prov-1", "inventoryId": float64(1)})
	fake.seed(itemsCollection, map[string]any{"providerStoreId": "prov-2", "inventoryId": float64(2)})
	w := newTestWriter(t, fake)

	items := []model.CatalogItem{
		{InventoryID: 10, Name: "Gummies", QuantityAvailable: 12},
		{InventoryID: 11, Name: "Tincture", QuantityAvailable: 2}, // below floor
	}
	res, err := w.ReplaceItems(context.Background(), restTestStore(), items)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted, "only this store's rows get deleted")
	assert.Equal(t, 1, res.Created)
	assert.Zero(t, res.Errors)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Len(t, fake.records[itemsCollection], 2) // other store's row + fresh row
}

func TestWriterUpsertPromotionMergesMembership(t *testing.T) {
	fake := newFakeSink()
	fake.seed(promosCollection, map[string]any{
		"discountId":   float64(42),
		"discountName": "20% off",
		"isActive":     true,
		"appliesToLocations": []any{
			map[string]any{"storeId": float64(2), "storeName": "Uptown", "providerStoreId": "prov-2"},
		},
	})
	w := newTestWriter(t, fake)

	future := time.Now().Add(time.Hour)
	res, err := w.ReplacePromotions(context.Background(), restTestStore(), []model.Promotion{
		{DiscountID: 42, Name: "20% off", IsActive: true, ValidUntil: &future},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Zero(t, res.Deleted)

	promo := fake.promoByDiscountID(t, 42)
	require.Len(t, promo.AppliesTo, 2)
	ids := []string{promo.AppliesTo[0].ProviderStoreID, promo.AppliesTo[1].ProviderStoreID}
	assert.ElementsMatch(t, []string{"prov-1", "prov-2"}, ids)
}

func TestWriterReplacePromotionsStripsAndDeletes(t *testing.T) {
	fake := newFakeSink()
	// no longer offered here, shared with another store: membership strip
	fake.seed(promosCollection, map[string]any{
		"discountId": float64(7),
		"isActive":   true,
		"appliesToLocations": []any{
			map[string]any{"storeId": float64(1), "providerStoreId": "prov-1"},
			map[string]any{"storeId": float64(2), "providerStoreId": "prov-2"},
		},
	})
	// no longer offered here, sole owner: delete
	fake.seed(promosCollection, map[string]any{
		"discountId": float64(8),
		"isActive":   true,
		"appliesToLocations": []any{
			map[string]any{"storeId": float64(1), "providerStoreId": "prov-1"},
		},
	})
	w := newTestWriter(t, fake)

	res, err := w.ReplacePromotions(context.Background(), restTestStore(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)

	promo := fake.promoByDiscountID(t, 7)
	require.Len(t, promo.AppliesTo, 1)
	assert.Equal(t, "prov-2", promo.AppliesTo[0].ProviderStoreID)
}

func TestWriterCleanupPromotions(t *testing.T) {
	fake := newFakeSink()
	past := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	member := []any{map[string]any{"storeId": float64(1), "providerStoreId": "prov-1"}}

	fake.seed(promosCollection, map[string]any{"discountId": float64(1), "validUntil": past, "appliesToLocations": member})
	fake.seed(promosCollection, map[string]any{"discountId": float64(2), "isDeleted": true, "appliesToLocations": member})
	fake.seed(promosCollection, map[string]any{"discountId": float64(3), "validUntil": future})
	fake.seed(promosCollection, map[string]any{"discountId": float64(4), "validUntil": future, "appliesToLocations": member})

	w := newTestWriter(t, fake)
	n, err := w.CleanupPromotions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.records[promosCollection], 1)
}

func TestWriterReplacePromotionsIdempotent(t *testing.T) {
	fake := newFakeSink()
	w := newTestWriter(t, fake)
	future := time.Now().Add(time.Hour)
	promo := model.Promotion{DiscountID: 99, Name: "bogo", IsActive: true, ValidUntil: &future}

	// first pass creates, second pass must find and update rather than fail
	for range 2 {
		res, err := w.ReplacePromotions(context.Background(), restTestStore(), []model.Promotion{promo})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Created)
		assert.Zero(t, res.Errors)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.records[promosCollection], 1)
}

func TestIsUniqueConflict(t *testing.T) {
	assert.True(t, isUniqueConflict(&APIError{Code: 400, Body: `{"error":{"message":"This attribute must be unique"}}`}))
	assert.False(t, isUniqueConflict(&APIError{Code: 400, Body: "validation failed"}))
	assert.False(t, isUniqueConflict(&APIError{Code: 500, Body: "unique"}))
	assert.False(t, isUniqueConflict(assert.AnError))
}
