package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
	"unicode"
)

// Category classifies a fact. The set is closed; the extraction service is
// never trusted to invent new ones.
type Category string

const (
	CategoryFamily      Category = "family"
	CategoryPreferences Category = "preferences"
	CategoryBackground  Category = "background"
	CategoryInterests   Category = "interests"
	CategoryDates       Category = "dates"
	CategoryWork        Category = "work"
	CategoryTopics      Category = "topics"
	CategoryTravel      Category = "travel"

	// CategorySummary is reserved for synthesized relationship summaries.
	// It is never produced by the extraction prompt and is exempt from the
	// full-refresh replacement of ordinary categories.
	CategorySummary Category = "summary"
)

var categoryIcons = map[Category]string{
	CategoryFamily:      "👨‍👩‍👧",
	CategoryPreferences: "⚙️",
	CategoryBackground:  "🏠",
	CategoryInterests:   "🎯",
	CategoryDates:       "📅",
	CategoryWork:        "💼",
	CategoryTopics:      "💬",
	CategoryTravel:      "✈️",
	CategorySummary:     "📊",
}

// ParseCategory validates a category string from an extraction response.
// Summary is not accepted here; only the summary generator produces it.
func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	switch c {
	case CategoryFamily, CategoryPreferences, CategoryBackground, CategoryInterests,
		CategoryDates, CategoryWork, CategoryTopics, CategoryTravel:
		return c, true
	}
	return "", false
}

// Icon returns the display icon for UI consumers.
func (c Category) Icon() string {
	if icon, ok := categoryIcons[c]; ok {
		return icon
	}
	return "📄"
}

// CandidateFact is an unvalidated fact proposed by the extraction step.
// Candidates live only within one extraction run and are never persisted.
// Confidence is the extraction service's own estimate; the validator
// replaces it on the semantic path and caps it on the fallback path.
type CandidateFact struct {
	Category   Category `json:"category"`
	Value      string   `json:"value"`
	Quote      string   `json:"quote"`
	SourceID   string   `json:"source_id"`
	SourceLink string   `json:"source_link,omitempty"`
	Confidence float64  `json:"confidence"`
}

// Fact is a persisted, validated fact about a person.
type Fact struct {
	ID                  string    `json:"id"`
	PersonID            string    `json:"person_id"`
	Category            Category  `json:"category"`
	Key                 string    `json:"key"`
	Value               string    `json:"value"`
	Confidence          float64   `json:"confidence"`
	SourceInteractionID string    `json:"source_interaction_id,omitempty"`
	SourceQuote         string    `json:"source_quote,omitempty"`
	SourceLink          string    `json:"source_link,omitempty"`
	ConfirmedByUser     bool      `json:"confirmed_by_user"`
	ExtractedAt         time.Time `json:"extracted_at"`
	CreatedAt           time.Time `json:"created_at"`
}

// FactAssociation links a fact to an additional person beyond its owner,
// for facts that describe a relationship between two people.
type FactAssociation struct {
	FactID    string `json:"fact_id"`
	PersonID  string `json:"person_id"`
	IsPrimary bool   `json:"is_primary"`
}

// NormalizeValue lowercases a fact value, strips punctuation, and collapses
// whitespace. Two wordings of the same sentence that differ only in case or
// punctuation normalize identically.
func NormalizeValue(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	lastSpace := true
	for _, r := range strings.ToLower(value) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// FactKey derives the storage identity for a fact from its category and
// normalized value. The key is never taken from the extraction service, so
// re-extractions of the same semantic fact converge on one stored row even
// when the wording drifts.
func FactKey(category Category, value string) string {
	sum := sha256.Sum256([]byte(string(category) + ":" + NormalizeValue(value)))
	return hex.EncodeToString(sum[:])[:12]
}

// ConfidenceForStrength maps a validator evidence-strength rating (1-5) to
// a stored confidence. Out-of-range values clamp to the nearest tier.
func ConfidenceForStrength(strength int) float64 {
	switch {
	case strength <= 1:
		return 0.5
	case strength >= 5:
		return 0.9
	default:
		return 0.4 + float64(strength)*0.1
	}
}
