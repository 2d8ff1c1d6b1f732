package model

import (
	"sort"
	"time"
)

// Preference is a learned category/value pair.
type Preference struct {
	Value           string
	ConfidenceScore float64
	IsExplicit      bool
	UpdatedAt       *time.Time
}

// Preferences maps a category name (e.g. "location", "max_price") to the
// learned preference.
type Preferences map[string]*Preference

// Categories returns the category names in lexical order.
func (x Preferences) Categories() []string {
	keys := make([]string, 0, len(x))
	for k := range x {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a shallow copy of the map. Preference values are treated as
// immutable once stored.
func (x Preferences) Clone() Preferences {
	out := make(Preferences, len(x))
	for k, v := range x {
		out[k] = v
	}
	return out
}

// ConfidenceDistribution counts preferences by confidence band.
type ConfidenceDistribution struct {
	High   int
	Medium int
	Low    int
}

// Insights is the read-only summary shown in the preferences panel.
type Insights struct {
	Narrative                string
	TotalPreferences         int
	AverageConfidencePercent int
	ExplicitCount            int
	ImplicitCount            int
	CategoryCounts           map[string]int
	Distribution             ConfidenceDistribution
}
