package model

import "time"

// CatalogItem is one sellable inventory unit at one location. Items are
// owned by the store that reports them and are wholesale-replaced in the
// sink on every reconciliation pass.
type CatalogItem struct {
	InventoryID       int64      `db:"inventory_id" json:"inventoryId"`
	ProviderStoreID   string     `db:"provider_store_id" json:"providerStoreId,omitempty"`
	ProductID         int64      `db:"product_id" json:"productId"`
	SKU               string     `db:"sku" json:"sku"`
	Name              string     `db:"product_name" json:"productName"`
	Description       string     `db:"description" json:"description"`
	CategoryID        *int64     `db:"category_id" json:"categoryId"`
	Category          string     `db:"category" json:"category"`
	ImageURL          string     `db:"image_url" json:"imageUrl"`
	QuantityAvailable float64    `db:"quantity_available" json:"quantityAvailable"`
	QuantityUnits     string     `db:"quantity_units" json:"quantityUnits"`
	UnitPrice         *float64   `db:"unit_price" json:"unitPrice"`
	MedUnitPrice      *float64   `db:"med_unit_price" json:"medUnitPrice"`
	RecUnitPrice      *float64   `db:"rec_unit_price" json:"recUnitPrice"`
	StrainID          *int64     `db:"strain_id" json:"strainId"`
	Strain            string     `db:"strain" json:"strain"`
	StrainType        string     `db:"strain_type" json:"strainType"`
	BrandID           *int64     `db:"brand_id" json:"brandId"`
	BrandName         string     `db:"brand_name" json:"brandName"`
	VendorID          *int64     `db:"vendor_id" json:"vendorId"`
	Vendor            string     `db:"vendor" json:"vendor"`
	Tags              []string   `db:"-" json:"tags"`
	MasterCategory    string     `db:"master_category" json:"masterCategory"`
	IsCannabis        bool       `db:"is_cannabis" json:"isCannabis"`
	MedicalOnly       bool       `db:"medical_only" json:"medicalOnly"`
	LastModifiedAt    *time.Time `db:"last_modified_at" json:"lastModifiedDateUTC"`
	ExpirationDate    *time.Time `db:"expiration_date" json:"expirationDate"`

	// Absent in some provider payloads; nil means eligible.
	AllowAutomaticDiscounts *bool `db:"allow_automatic_discounts" json:"allowAutomaticDiscounts"`
}

// AutomaticDiscountsAllowed reports whether the item may receive
// automatically applied promotions.
func (i *CatalogItem) AutomaticDiscountsAllowed() bool {
	return i.AllowAutomaticDiscounts == nil || *i.AllowAutomaticDiscounts
}
