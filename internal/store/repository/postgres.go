package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/verdantleaf/pos-catalog-sync/internal/model"
)

type PGRepository struct {
	db *sqlx.DB
}

func NewPGRepository(db *sqlx.DB) *PGRepository {
	return &PGRepository{db: db}
}

func (r *PGRepository) ListActive(ctx context.Context) ([]model.Store, error) {
	var stores []model.Store
	err := r.db.SelectContext(ctx, &stores, `
		SELECT id, name, location, provider_store_id, api_key, is_active
		FROM stores
		WHERE is_active = TRUE
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: list active: %w", err)
	}
	return stores, nil
}
