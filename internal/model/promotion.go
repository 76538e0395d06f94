package model

import "time"

const (
	DiscountTypePercent = "percentage"
	DiscountTypeFixed   = "fixed"
)

// FilterSet defines inclusion or exclusion membership for one numeric
// attribute dimension of a promotion.
type FilterSet struct {
	IDs         []int64 `json:"ids"`
	IsExclusion bool    `json:"isExclusion"`
}

// Populated reports whether the filter constrains anything at all.
func (f *FilterSet) Populated() bool {
	return f != nil && len(f.IDs) > 0
}

func (f *FilterSet) Contains(id int64) bool {
	for _, v := range f.IDs {
		if v == id {
			return true
		}
	}
	return false
}

// TagFilterSet is the string-keyed variant used for the tag dimension.
type TagFilterSet struct {
	IDs         []string `json:"ids"`
	IsExclusion bool     `json:"isExclusion"`
}

func (f *TagFilterSet) Populated() bool {
	return f != nil && len(f.IDs) > 0
}

func (f *TagFilterSet) Contains(tag string) bool {
	for _, v := range f.IDs {
		if v == tag {
			return true
		}
	}
	return false
}

// StoreRef is the location association carried on a promotion row.
type StoreRef struct {
	StoreID         int64  `json:"storeId"`
	StoreName       string `json:"storeName"`
	ProviderStoreID string `json:"providerStoreId"`
}

// Promotion is a named discount rule scoped by up to six filter dimensions
// and a validity window. A promotion with no populated filters applies to
// every eligible item at the locations it is linked to.
type Promotion struct {
	DiscountID int64      `db:"discount_id" json:"discountId"`
	Name       string     `db:"discount_name" json:"discountName"`
	Code       string     `db:"discount_code" json:"discountCode"`
	Amount     float64    `db:"discount_amount" json:"discountAmount"`
	Type       string     `db:"discount_type" json:"discountType"`
	Method     string     `db:"discount_method" json:"discountMethod"`
	IsActive   bool       `db:"is_active" json:"isActive"`
	IsDeleted  bool       `db:"is_deleted" json:"isDeleted"`
	ValidFrom  *time.Time `db:"valid_from" json:"validFrom"`
	ValidUntil *time.Time `db:"valid_until" json:"validUntil"`

	Products   *FilterSet    `db:"-" json:"products"`
	Categories *FilterSet    `db:"-" json:"productCategories"`
	Brands     *FilterSet    `db:"-" json:"brands"`
	Vendors    *FilterSet    `db:"-" json:"vendors"`
	Strains    *FilterSet    `db:"-" json:"strains"`
	Tags       *TagFilterSet `db:"-" json:"tags"`

	ThresholdType          string `db:"threshold_type" json:"thresholdType"`
	MinimumItemsRequired   *int   `db:"minimum_items_required" json:"minimumItemsRequired"`
	MaximumItemsAllowed    *int   `db:"maximum_items_allowed" json:"maximumItemsAllowed"`
	MaximumUsageCount      *int   `db:"maximum_usage_count" json:"maximumUsageCount"`
	FirstTimeCustomerOnly  bool   `db:"first_time_customer_only" json:"firstTimeCustomerOnly"`
	RequireManagerApproval bool   `db:"require_manager_approval" json:"requireManagerApproval"`
	StackOnOtherDiscounts  bool   `db:"stack_on_other_discounts" json:"stackOnOtherDiscounts"`
	IsAvailableOnline      bool   `db:"is_available_online" json:"isAvailableOnline"`
	IncludeNonCannabis     bool   `db:"include_non_cannabis" json:"includeNonCannabis"`

	// Rebuilt every pass as the union of locations currently offering the
	// promotion. Never trusted from the source payload.
	AppliesTo []StoreRef `db:"-" json:"appliesToLocations,omitempty"`
}

// Live reports whether the promotion is active, not soft-deleted and inside
// its validity window at the given instant.
func (p *Promotion) Live(at time.Time) bool {
	if !p.IsActive || p.IsDeleted {
		return false
	}
	if p.ValidFrom != nil && at.Before(*p.ValidFrom) {
		return false
	}
	if p.ValidUntil != nil && at.After(*p.ValidUntil) {
		return false
	}
	return true
}
