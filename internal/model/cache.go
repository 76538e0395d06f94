package model

import "time"

// CachedPromotion is the denormalized promotion snapshot held in a cache
// entry; only the fields the read API serves.
type CachedPromotion struct {
	DiscountID int64      `json:"discountId"`
	Name       string     `json:"discountName"`
	Amount     float64    `json:"discountAmount"`
	Type       string     `json:"discountType"`
	ValidFrom  *time.Time `json:"validFrom"`
	ValidUntil *time.Time `json:"validUntil"`
	IsActive   bool       `json:"isActive"`
}

// CacheEntry is the (store, item) snapshot served by the read API. It is a
// memoization of the evaluator over the store's current item and promotion
// sets, never a second source of truth: entries expire with their earliest
// useful lifetime and are fully rewritten each pass.
type CacheEntry struct {
	InventoryID int64             `json:"inventoryId"`
	ProductID   int64             `json:"productId"`
	Name        string            `json:"productName"`
	ImageURL    string            `json:"productImageUrl"`
	BrandName   string            `json:"productBrand"`
	UnitPrice   float64           `json:"productPrice"`
	Category    string            `json:"productCategory"`
	Promotions  []CachedPromotion `json:"discounts"`
	StoreID     string            `json:"storeId"`
	StoreName   string            `json:"storeName"`
	LastUpdated time.Time         `json:"lastUpdated"`
}
