package model

import (
	"math"
	"strconv"
)

// PriceOnApplication is displayed when a property has no usable price.
const PriceOnApplication = "POA"

// Recommendation is one ranked property entry. Pointer fields are optional in
// the backend payload.
type Recommendation struct {
	PropertyID   string
	Platform     string
	Title        string
	Location     string
	Postcode     string
	Price        *float64
	Bedrooms     *int
	Bathrooms    *int
	PropertyType string
	Description  string
	URL          string
	Features     []string
	Images       []string

	RelevanceScore *float64
	Pros           []string
	Cons           []string
	Reasoning      string
}

// DisplayPrice returns the tiered price label of the property.
func (x *Recommendation) DisplayPrice() string {
	if x.Price == nil {
		return PriceOnApplication
	}
	return FormatPrice(*x.Price)
}

// MatchPercent returns the relevance score as a rounded percentage. ok is
// false when the backend did not score the property.
func (x *Recommendation) MatchPercent() (pct int, ok bool) {
	if x.RelevanceScore == nil {
		return 0, false
	}
	score := math.Max(0, math.Min(1, *x.RelevanceScore))
	return int(math.Round(score * 100)), true
}

// FormatPrice renders a price in pounds:
//   - below 1,000 the literal amount ("£999")
//   - below 1,000,000 rounded thousands ("£2k" for 1,500)
//   - otherwise millions with one decimal ("£2.3M")
//
// Zero and negative values are shown as "POA".
func FormatPrice(value float64) string {
	switch {
	case value <= 0 || math.IsNaN(value):
		return PriceOnApplication
	case value < 1_000:
		return "£" + strconv.FormatFloat(value, 'f', -1, 64)
	case value < 1_000_000:
		return "£" + strconv.FormatFloat(math.Round(value/1_000), 'f', 0, 64) + "k"
	default:
		return "£" + strconv.FormatFloat(value/1_000_000, 'f', 1, 64) + "M"
	}
}
