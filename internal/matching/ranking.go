package matching

import (
	"regexp"
	"sort"
	"strconv"

	"github.com/verdantleaf/pos-catalog-sync/internal/model"
)

var (
	percentPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)%`)
	dollarPattern  = regexp.MustCompile(`\$(\d+(?:\.\d+)?)`)
)

// BestPromotions orders promotions by display value and returns the top
// limit of them: percentage descending first, fixed dollar amount breaking
// ties. The percentage is parsed from the promotion name, falling back to
// the declared amount for percentage-type promotions; this mirrors the
// upstream convention of encoding the value in free text. The ranking never
// affects which promotions are applicable.
func BestPromotions(promos []model.CachedPromotion, limit int) []model.CachedPromotion {
	if limit <= 0 || len(promos) == 0 {
		return nil
	}

	ranked := make([]model.CachedPromotion, len(promos))
	copy(ranked, promos)

	sort.SliceStable(ranked, func(i, j int) bool {
		pi, di := displayValue(&ranked[i])
		pj, dj := displayValue(&ranked[j])
		if pi != pj {
			return pi > pj
		}
		return di > dj
	})

	if limit > len(ranked) {
		limit = len(ranked)
	}
	return ranked[:limit]
}

// displayValue extracts (percentage, dollar) for ranking.
func displayValue(p *model.CachedPromotion) (float64, float64) {
	percent := parseFirst(percentPattern, p.Name)
	if percent == 0 && p.Type == model.DiscountTypePercent {
		percent = p.Amount
	}

	dollar := parseFirst(dollarPattern, p.Name)
	if dollar == 0 && p.Type == model.DiscountTypeFixed {
		dollar = p.Amount
	}

	return percent, dollar
}

func parseFirst(re *regexp.Regexp, s string) float64 {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	return v
}
