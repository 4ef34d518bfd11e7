package validate

import (
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/person-facts/internal/model"
)

// fallbackMaxConfidence caps facts that never saw the semantic validator.
const fallbackMaxConfidence = 0.7

// universalPatterns match "facts" that are true of nearly anyone. They only
// fire on values with no specific detail beyond the pattern itself.
var universalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^has (a|an) (mother|father|mom|dad|parent|family|job|phone|email|car|home|house)\.?$`),
	regexp.MustCompile(`(?i)^(is|was) (a (person|human|man|woman)|alive|born)\.?$`),
	regexp.MustCompile(`(?i)^(works|lives|exists)( somewhere)?\.?$`),
	regexp.MustCompile(`(?i)^(likes|enjoys|has) (things|stuff|hobbies|interests|friends)\.?$`),
	regexp.MustCompile(`(?i)^(uses|checks) (email|a phone|the internet)\.?$`),
}

// validateFallback is the deterministic rule-based path used when the
// semantic validator is unavailable. It rejects on form, not meaning: short
// values, boolean-like values, universal patterns, and exact normalized
// duplicates of existing facts. Everything it keeps carries reduced
// confidence to signal the weaker vetting.
func validateFallback(personID string, candidates []model.CandidateFact, existing []model.Fact) []model.Fact {
	existingNormalized := make(map[string]bool, len(existing))
	for _, f := range existing {
		existingNormalized[string(f.Category)+":"+model.NormalizeValue(f.Value)] = true
	}

	now := time.Now().UTC()
	var kept []model.Fact
	for _, c := range candidates {
		if reason := fallbackReject(c, existingNormalized); reason != "" {
			zap.L().Debug("validate: fallback rejected candidate",
				zap.String("value", c.Value),
				zap.String("reason", reason),
			)
			continue
		}

		fact := factFromCandidate(personID, c, now)
		if fact.Confidence > fallbackMaxConfidence || fact.Confidence == 0 {
			fact.Confidence = fallbackMaxConfidence
		}
		kept = append(kept, fact)
	}
	return kept
}

func fallbackReject(c model.CandidateFact, existingNormalized map[string]bool) string {
	value := strings.TrimSpace(c.Value)

	lower := strings.ToLower(value)
	if lower == "true" || lower == "false" || lower == "yes" || lower == "no" {
		return "boolean-like"
	}

	// Universal patterns are mostly under four words too; check them first
	// so the logged reason names the sharper rule.
	for _, p := range universalPatterns {
		if p.MatchString(value) {
			return "universal pattern"
		}
	}

	if len(strings.Fields(value)) < 4 {
		return "under four words"
	}

	if existingNormalized[string(c.Category)+":"+model.NormalizeValue(value)] {
		return "exact duplicate of existing fact"
	}

	return ""
}
