package validate

import (
	"strings"

	"github.com/sells-group/person-facts/internal/model"
)

// overlapThreshold is the content-word overlap fraction at which two values
// in the same category count as the same fact.
const overlapThreshold = 0.6

// stopwords are excluded from overlap comparison. Beyond classic function
// words this includes the generic verbs and fillers extraction values lean
// on ("goes hiking", "interested in pottery"), so that only the words
// carrying the actual fact are compared.
var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "by": true, "from": true, "up": true, "about": true,
	"into": true, "over": true, "after": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true, "being": true,
	"has": true, "have": true, "had": true, "does": true, "do": true,
	"did": true, "will": true, "would": true, "could": true, "should": true,
	"their": true, "they": true, "them": true, "this": true, "that": true,
	"these": true, "those": true, "his": true, "her": true, "its": true,
	"it": true, "he": true, "she": true, "as": true, "not": true, "no": true,
	"so": true, "very": true, "also": true, "just": true, "than": true,
	"then": true, "too": true, "some": true, "any": true, "all": true,
	"goes": true, "go": true, "going": true, "went": true, "gets": true,
	"get": true, "got": true, "likes": true, "like": true, "liked": true,
	"loves": true, "love": true, "enjoys": true, "enjoy": true,
	"interested": true, "interests": true, "often": true, "sometimes": true,
	"usually": true, "recently": true, "currently": true, "new": true,
	"named": true, "name": true, "called": true, "signed": true,
	"plays": true, "play": true, "makes": true, "make": true,
	"really": true, "one": true, "two": true, "who": true, "which": true,
	"when": true, "where": true, "what": true, "how": true, "trip": true,
	"plans": true, "plan": true, "planning": true, "wants": true, "want": true,
}

// contentWords returns the normalized non-stopword word set of a value.
func contentWords(value string) map[string]bool {
	words := make(map[string]bool)
	for _, w := range strings.Fields(model.NormalizeValue(value)) {
		if !stopwords[w] {
			words[w] = true
		}
	}
	return words
}

// overlapFraction computes |a ∩ b| / min(|a|, |b|). The smaller set is the
// denominator so a short value fully contained in a longer one scores 1.0.
func overlapFraction(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	shared := 0
	for w := range small {
		if large[w] {
			shared++
		}
	}
	return float64(shared) / float64(len(small))
}

// overlapNet drops paraphrased duplicates the earlier tiers missed. A
// surviving candidate overlapping an existing fact of the same category at
// or above the threshold is dropped; among the survivors themselves, the
// longer (more detailed) value wins each collision. Runs regardless of
// which validation path produced the facts.
func overlapNet(facts []model.Fact, existing []model.Fact) []model.Fact {
	if len(facts) == 0 {
		return facts
	}

	existingWords := make([]map[string]bool, len(existing))
	for i, f := range existing {
		existingWords[i] = contentWords(f.Value)
	}

	var survivors []model.Fact
	for _, f := range facts {
		words := contentWords(f.Value)
		dup := false
		for i, e := range existing {
			// A fact updating an existing row shares its key and is meant
			// to overlap it.
			if e.Category != f.Category || e.Key == f.Key {
				continue
			}
			if overlapFraction(words, existingWords[i]) >= overlapThreshold {
				dup = true
				break
			}
		}
		if !dup {
			survivors = append(survivors, f)
		}
	}

	// Pairwise among survivors: longest value wins a collision.
	dropped := make([]bool, len(survivors))
	wordSets := make([]map[string]bool, len(survivors))
	for i, f := range survivors {
		wordSets[i] = contentWords(f.Value)
	}
	for i := 0; i < len(survivors); i++ {
		if dropped[i] {
			continue
		}
		for j := i + 1; j < len(survivors); j++ {
			if dropped[j] || survivors[i].Category != survivors[j].Category {
				continue
			}
			if overlapFraction(wordSets[i], wordSets[j]) >= overlapThreshold {
				if len(survivors[j].Value) > len(survivors[i].Value) {
					dropped[i] = true
					break
				}
				dropped[j] = true
			}
		}
	}

	out := survivors[:0]
	for i, f := range survivors {
		if !dropped[i] {
			out = append(out, f)
		}
	}
	return out
}
