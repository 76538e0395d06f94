package model

// Store is one retail location. Each store carries its own upstream API
// credential; stores without one are skipped during a sync pass.
type Store struct {
	ID              int64  `db:"id" json:"id"`
	Name            string `db:"name" json:"name"`
	Location        string `db:"location" json:"location"`
	ProviderStoreID string `db:"provider_store_id" json:"providerStoreId"`
	APIKey          string `db:"api_key" json:"apiKey"`
	IsActive        bool   `db:"is_active" json:"isActive"`
}

// HasCredentials reports whether the store can be synced at all.
func (s *Store) HasCredentials() bool {
	return s.APIKey != "" && s.ProviderStoreID != ""
}

// Ref returns the association value written onto promotion rows.
func (s *Store) Ref() StoreRef {
	return StoreRef{
		StoreID:         s.ID,
		StoreName:       s.Name,
		ProviderStoreID: s.ProviderStoreID,
	}
}
