package repository

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/verdantleaf/pos-catalog-sync/config"
	"github.com/verdantleaf/pos-catalog-sync/internal/retry"
	"github.com/verdantleaf/pos-catalog-sync/internal/sink/rest"
)

func TestPGRepositoryListActive(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT id, name, location, provider_store_id, api_key, is_active").
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "name", "location", "provider_store_id", "api_key", "is_active"}).
			AddRow(1, "Downtown", "Denver", "prov-1", "key-1", true).
			AddRow(2, "Satellite", "Boulder", "", "", true))

	repo := NewPGRepository(sqlx.NewDb(db, "postgres"))
	stores, err := repo.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, stores, 2)
	assert.True(t, stores[0].HasCredentials())
	assert.False(t, stores[1].HasCredentials(), "roster includes credential-less stores, sync skips them")
}

func TestRESTRepositoryListActive(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("filters[isActive][$eq]"))
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"id": 1, "documentId": "doc-1", "name": "Downtown", "providerStoreId": "prov-1", "apiKey": "key-1", "isActive": true},
			},
			"meta": map[string]any{"pagination": map[string]any{"page": 1, "pageCount": 1, "total": 1}},
		})
	}))
	defer server.Close()

	client := rest.NewClient(&config.Sink{RESTURL: server.URL, RESTToken: "token"},
		retry.Policy{MaxRetries: 0, BaseDelay: time.Millisecond, MaxJitter: time.Millisecond},
		zap.NewNop())

	stores, err := NewRESTRepository(client).ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, stores, 1)
	assert.Equal(t, int64(1), stores[0].ID)
	assert.Equal(t, "prov-1", stores[0].ProviderStoreID)
}
