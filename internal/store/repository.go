// Package store resolves the roster of locations a sync pass walks.
package store

import (
	"context"

	"github.com/verdantleaf/pos-catalog-sync/internal/model"
)

// Repository lists the locations eligible for synchronization. The roster
// is owned by the sink, not the provider, so credentials live alongside it.
type Repository interface {
	ListActive(ctx context.Context) ([]model.Store, error)
}
