package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/verdantleaf/pos-catalog-sync/config"
	"github.com/verdantleaf/pos-catalog-sync/internal/model"
	"github.com/verdantleaf/pos-catalog-sync/internal/retry"
)

func newMockWriter(t *testing.T) (*PGWriter, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := &config.Sync{BatchSize: 100, BatchDelayMs: 0, QuantityFloor: 5}
	policy := retry.Policy{MaxRetries: 0, BaseDelay: time.Millisecond, MaxJitter: time.Millisecond}
	return NewPGWriter(sqlx.NewDb(db, "postgres"), cfg, policy, zap.NewNop()), mock
}

func testStore() model.Store {
	return model.Store{ID: 1, Name: "Downtown", ProviderStoreID: "prov-1", APIKey: "key", IsActive: true}
}

func TestReplaceItems(t *testing.T) {
	w, mock := newMockWriter(t)

	mock.ExpectExec("DELETE FROM catalog_items").
		WithArgs("prov-1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO catalog_items").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	items := []model.CatalogItem{
		{InventoryID: 10, Name: "Gummies", QuantityAvailable: 5}, // exactly at the floor
		{InventoryID: 11, Name: "Tincture", QuantityAvailable: 4},
	}
	res, err := w.ReplaceItems(context.Background(), testStore(), items)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 2, res.Deleted)
	assert.Zero(t, res.Errors)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceItemsDeleteFailureAborts(t *testing.T) {
	w, mock := newMockWriter(t)

	mock.ExpectExec("DELETE FROM catalog_items").
		WillReturnError(assert.AnError)

	_, err := w.ReplaceItems(context.Background(), testStore(), []model.CatalogItem{
		{InventoryID: 10, QuantityAvailable: 20},
	})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceItemsUniqueRaceRepairsRowByRow(t *testing.T) {
	w, mock := newMockWriter(t)

	mock.ExpectExec("DELETE FROM catalog_items").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO catalog_items").
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()
	mock.ExpectExec("INSERT INTO catalog_items").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO catalog_items").
		WillReturnResult(sqlmock.NewResult(0, 1))

	items := []model.CatalogItem{
		{InventoryID: 10, QuantityAvailable: 20},
		{InventoryID: 11, QuantityAvailable: 8},
	}
	res, err := w.ReplaceItems(context.Background(), testStore(), items)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
	assert.Zero(t, res.Errors)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplacePromotionsDropsExpiredAndDeleted(t *testing.T) {
	w, mock := newMockWriter(t)
	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT discount_id, applies_to, applies_to_store_ids").
		WillReturnRows(sqlmock.NewRows([]string{"discount_id", "applies_to", "applies_to_store_ids"}))
	mock.ExpectExec("DELETE FROM promotions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO promotions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	promos := []model.Promotion{
		{DiscountID: 1, Name: "20% off", IsActive: true, ValidUntil: &future},
		{DiscountID: 2, Name: "expired", IsActive: true, ValidUntil: &past},
		{DiscountID: 3, Name: "deleted", IsActive: true, IsDeleted: true},
	}
	res, err := w.ReplacePromotions(context.Background(), testStore(), promos)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplacePromotionsStripsMembershipForSharedRows(t *testing.T) {
	w, mock := newMockWriter(t)
	future := time.Now().Add(time.Hour)

	// discount 9 belongs to this store and another one but is no longer
	// offered here, so it gets a membership update instead of a delete
	shared := `[{"storeId":1,"storeName":"Downtown","providerStoreId":"prov-1"},` +
		`{"storeId":2,"storeName":"Uptown","providerStoreId":"prov-2"}]`

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT discount_id, applies_to, applies_to_store_ids").
		WillReturnRows(sqlmock.NewRows([]string{"discount_id", "applies_to", "applies_to_store_ids"}).
			AddRow(int64(9), []byte(shared), []byte(`{prov-1,prov-2}`)))
	mock.ExpectExec("UPDATE promotions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM promotions").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO promotions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	promos := []model.Promotion{
		{DiscountID: 1, Name: "fresh", IsActive: true, ValidUntil: &future},
	}
	res, err := w.ReplacePromotions(context.Background(), testStore(), promos)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCleanupPromotions(t *testing.T) {
	w, mock := newMockWriter(t)

	mock.ExpectExec("DELETE FROM promotions").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := w.CleanupPromotions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeRefs(t *testing.T) {
	existing := []model.StoreRef{
		{StoreID: 2, StoreName: "Uptown", ProviderStoreID: "prov-2"},
		{StoreID: 1, StoreName: "Old Name", ProviderStoreID: "prov-1"},
	}
	merged := mergeRefs(existing, model.StoreRef{StoreID: 1, StoreName: "Downtown", ProviderStoreID: "prov-1"})
	require.Len(t, merged, 2)
	assert.Equal(t, "Downtown", merged[1].StoreName)

	appended := mergeRefs(nil, model.StoreRef{StoreID: 3, ProviderStoreID: "prov-3"})
	require.Len(t, appended, 1)
}
