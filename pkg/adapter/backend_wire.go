package adapter

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/m-mizutani/reagent/pkg/model"
)

type chatMessageRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

type feedbackRequest struct {
	SessionID  string `json:"session_id"`
	PropertyID string `json:"property_id"`
	Feedback   string `json:"feedback"`
}

type chatMessageResponse struct {
	Response             string                `json:"response"`
	Recommendations      []*wireRecommendation `json:"recommendations"`
	ExtractedPreferences []json.RawMessage     `json:"extracted_preferences"`
}

// wireProperty accepts both the platform listing shape and the stored
// property shape of the backend.
type wireProperty struct {
	ID           any      `json:"id"`
	ExternalID   any      `json:"external_id"`
	PropertyID   any      `json:"property_id"`
	Platform     string   `json:"platform"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Location     string   `json:"location"`
	Postcode     string   `json:"postcode"`
	Price        *float64 `json:"price"`
	Bedrooms     *float64 `json:"bedrooms"`
	Bathrooms    *float64 `json:"bathrooms"`
	PropertyType string   `json:"property_type"`
	URL          string   `json:"url"`
	Images       []any    `json:"images"`
	Features     []any    `json:"features"`

	RelevanceScore *float64 `json:"relevance_score"`
}

// wireRecommendation is either {"property": {...}, "relevance_score": ...} or
// a flat property with scoring fields.
type wireRecommendation struct {
	wireProperty
	Property *wireProperty `json:"property"`

	Pros      []string `json:"pros"`
	Cons      []string `json:"cons"`
	Reasoning string   `json:"reasoning"`
}

type recommendationsResponse struct {
	Recommendations []*wireRecommendation `json:"recommendations"`
	TotalCount      int                   `json:"total_count"`
	SessionID       string                `json:"session_id"`
}

func (x *chatMessageResponse) recommendations() []*model.Recommendation {
	return toRecommendations(x.Recommendations)
}

func toRecommendations(src []*wireRecommendation) []*model.Recommendation {
	if len(src) == 0 {
		return nil
	}

	out := make([]*model.Recommendation, 0, len(src))
	for _, w := range src {
		if w == nil {
			continue
		}
		if rec := w.toModel(); rec != nil {
			out = append(out, rec)
		}
	}
	return out
}

// toModel returns nil when the entry carries no usable property identifier
func (x *wireRecommendation) toModel() *model.Recommendation {
	p := &x.wireProperty
	score := x.RelevanceScore
	if x.Property != nil {
		p = x.Property
		if score == nil {
			score = p.RelevanceScore
		}
	}

	id := firstID(p.ExternalID, p.PropertyID, p.ID)
	if id == "" {
		return nil
	}

	return &model.Recommendation{
		PropertyID:     id,
		Platform:       p.Platform,
		Title:          p.Title,
		Location:       p.Location,
		Postcode:       p.Postcode,
		Price:          positive(p.Price),
		Bedrooms:       toInt(p.Bedrooms),
		Bathrooms:      toInt(p.Bathrooms),
		PropertyType:   p.PropertyType,
		Description:    p.Description,
		URL:            p.URL,
		Images:         toStrings(p.Images),
		Features:       toStrings(p.Features),
		RelevanceScore: score,
		Pros:           x.Pros,
		Cons:           x.Cons,
		Reasoning:      x.Reasoning,
	}
}

type historyResponse struct {
	Conversations []struct {
		MessageType string `json:"message_type"`
		Message     string `json:"message"`
		Response    string `json:"response"`
		CreatedAt   string `json:"created_at"`
	} `json:"conversations"`
	UserPreferences map[string]*wirePreference `json:"user_preferences"`
}

func (x *historyResponse) messages() []*model.Message {
	out := make([]*model.Message, 0, len(x.Conversations))
	for _, c := range x.Conversations {
		at := parseTimestamp(c.CreatedAt)
		switch model.Role(c.MessageType) {
		case model.RoleUser:
			if c.Message != "" {
				out = append(out, model.NewUserMessage(c.Message, at))
			}
		case model.RoleAgent:
			if c.Response != "" {
				out = append(out, model.NewAgentMessage(c.Response, at))
			}
		}
	}
	return out
}

// wirePreference covers both "confidence" (history) and "confidence_score"
// (preferences endpoint).
type wirePreference struct {
	Value           any      `json:"value"`
	Confidence      *float64 `json:"confidence"`
	ConfidenceScore *float64 `json:"confidence_score"`
	IsExplicit      bool     `json:"is_explicit"`
	UpdatedAt       string   `json:"updated_at"`
}

func toPreferences(src map[string]*wirePreference) model.Preferences {
	out := make(model.Preferences, len(src))
	for category, w := range src {
		if w == nil {
			continue
		}
		pref := &model.Preference{
			Value:      stringify(w.Value),
			IsExplicit: w.IsExplicit,
		}
		switch {
		case w.ConfidenceScore != nil:
			pref.ConfidenceScore = *w.ConfidenceScore
		case w.Confidence != nil:
			pref.ConfidenceScore = *w.Confidence
		}
		if w.UpdatedAt != "" {
			t := parseTimestamp(w.UpdatedAt)
			pref.UpdatedAt = &t
		}
		out[category] = pref
	}
	return out
}

type preferencesResponse struct {
	Preferences map[string]*wirePreference `json:"preferences"`
	Summary     string                     `json:"summary"`
}

type insightsResponse struct {
	Insights               string         `json:"insights"`
	TotalPreferences       int            `json:"total_preferences"`
	AverageConfidence      float64        `json:"average_confidence"`
	ExplicitPreferences    int            `json:"explicit_preferences"`
	ImplicitPreferences    int            `json:"implicit_preferences"`
	PreferenceCategories   map[string]int `json:"preference_categories"`
	ConfidenceDistribution struct {
		High   int `json:"high"`
		Medium int `json:"medium"`
		Low    int `json:"low"`
	} `json:"confidence_distribution"`
}

func (x *insightsResponse) insights() *model.Insights {
	categories := make(map[string]int, len(x.PreferenceCategories))
	for k, v := range x.PreferenceCategories {
		categories[k] = v
	}

	return &model.Insights{
		Narrative:                x.Insights,
		TotalPreferences:         x.TotalPreferences,
		AverageConfidencePercent: int(math.Round(x.AverageConfidence * 100)),
		ExplicitCount:            x.ExplicitPreferences,
		ImplicitCount:            x.ImplicitPreferences,
		CategoryCounts:           categories,
		Distribution: model.ConfidenceDistribution{
			High:   x.ConfidenceDistribution.High,
			Medium: x.ConfidenceDistribution.Medium,
			Low:    x.ConfidenceDistribution.Low,
		},
	}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// parseTimestamp returns the zero time for empty or unknown formats
func parseTimestamp(s string) time.Time {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func firstID(candidates ...any) string {
	for _, c := range candidates {
		if s := stringify(c); s != "" {
			return s
		}
	}
	return ""
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

func toStrings(src []any) []string {
	if len(src) == 0 {
		return nil
	}
	out := make([]string, 0, len(src))
	for _, v := range src {
		if s := stringify(v); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func toInt(v *float64) *int {
	if v == nil {
		return nil
	}
	n := int(math.Round(*v))
	return &n
}

func positive(v *float64) *float64 {
	if v == nil || *v <= 0 {
		return nil
	}
	return v
}
