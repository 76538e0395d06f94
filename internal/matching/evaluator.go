// Package matching decides which promotions legally apply to which catalog
// items. It is pure: no I/O, no state, and a missing item attribute is
// treated as an unsatisfied inclusion, never an error.
package matching

import (
	"time"

	"github.com/verdantleaf/pos-catalog-sync/internal/model"
)

// Applies reports whether the promotion applies to the item at the given
// instant. Every populated filter dimension must be satisfied; an
// unpopulated dimension is vacuously satisfied. Evaluation short-circuits on
// the first failing dimension.
func Applies(item *model.CatalogItem, promo *model.Promotion, at time.Time) bool {
	if !promo.Live(at) {
		return false
	}
	if !item.AutomaticDiscountsAllowed() {
		return false
	}

	if !matchID(promo.Products, &item.ProductID) {
		return false
	}
	if !matchID(promo.Categories, item.CategoryID) {
		return false
	}
	if !matchID(promo.Brands, item.BrandID) {
		return false
	}
	if !matchID(promo.Vendors, item.VendorID) {
		return false
	}
	if !matchID(promo.Strains, item.StrainID) {
		return false
	}
	if !matchTags(promo.Tags, item.Tags) {
		return false
	}

	return true
}

// ApplicablePromotions returns every promotion that applies to the item, in
// the promotions' original order. No precedence between applicable
// promotions is computed here; ranking is a presentation concern.
func ApplicablePromotions(item *model.CatalogItem, promos []model.Promotion, at time.Time) []model.Promotion {
	var out []model.Promotion
	for i := range promos {
		if Applies(item, &promos[i], at) {
			out = append(out, promos[i])
		}
	}
	return out
}

// matchID evaluates one single-value dimension. Inclusion requires the
// attribute to be present and listed; exclusion requires it to be absent or
// unlisted.
func matchID(fs *model.FilterSet, attr *int64) bool {
	if !fs.Populated() {
		return true
	}
	if attr == nil {
		return fs.IsExclusion
	}
	if fs.IsExclusion {
		return !fs.Contains(*attr)
	}
	return fs.Contains(*attr)
}

// matchTags evaluates the tag dimension with set-intersection semantics:
// inclusion needs at least one item tag in the set, exclusion needs none.
func matchTags(fs *model.TagFilterSet, tags []string) bool {
	if !fs.Populated() {
		return true
	}

	overlap := false
	for _, tag := range tags {
		if fs.Contains(tag) {
			overlap = true
			break
		}
	}

	if fs.IsExclusion {
		return !overlap
	}
	return overlap
}
