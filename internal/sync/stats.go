package sync

import (
	"time"

	"github.com/verdantleaf/pos-catalog-sync/internal/sink"
)

// StoreStats is the outcome of one location's pass.
type StoreStats struct {
	StoreName       string           `json:"storeName"`
	ProviderStoreID string           `json:"providerStoreId"`
	ItemsFetched    int              `json:"itemsFetched"`
	PromosFetched   int              `json:"promotionsFetched"`
	Matched         int              `json:"matched"`
	Cached          int              `json:"cached"`
	Items           sink.WriteResult `json:"items"`
	Promotions      sink.WriteResult `json:"promotions"`
	Failed          bool             `json:"failed"`
}

// Stats summarizes a full sync pass across the roster.
type Stats struct {
	StartedAt      time.Time    `json:"startedAt"`
	FinishedAt     time.Time    `json:"finishedAt"`
	StoresTotal    int          `json:"storesTotal"`
	StoresSkipped  int          `json:"storesSkipped"`
	StoresFailed   int          `json:"storesFailed"`
	CleanupRemoved int          `json:"cleanupRemoved"`
	Stores         []StoreStats `json:"stores"`
}

func (s *Stats) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// Totals aggregates the per-store write results for the whole pass.
func (s *Stats) Totals() (items, promos sink.WriteResult) {
	for _, st := range s.Stores {
		items.Add(st.Items)
		promos.Add(st.Promotions)
	}
	return items, promos
}
