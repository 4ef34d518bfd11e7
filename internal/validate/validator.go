// Package validate resolves candidate facts against existing facts through
// three tiers: a batched semantic validator on a local model, a rule-based
// fallback when that service is down, and a lexical-overlap safety net that
// always runs.
package validate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/person-facts/internal/model"
	"github.com/sells-group/person-facts/internal/resilience"
	"github.com/sells-group/person-facts/pkg/ollama"
)

// Engine validates and deduplicates candidate facts.
type Engine struct {
	local   ollama.Client
	breaker *resilience.CircuitBreaker
}

// Option configures the Engine.
type Option func(*Engine)

// WithCircuitBreaker replaces the default breaker guarding the local
// validation service.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(e *Engine) {
		e.breaker = cb
	}
}

// New creates a validation Engine backed by a local model. The circuit
// breaker trips after repeated service failures so a dead Ollama costs one
// probe per reset window instead of a timeout per run.
func New(local ollama.Client, opts ...Option) *Engine {
	e := &Engine{
		local: local,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			FailureThreshold: 3,
			ResetTimeout:     time.Minute,
		}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// decisionsResponse is the JSON contract with the validation service.
type decisionsResponse struct {
	Decisions []model.Decision `json:"decisions"`
}

// Validate resolves candidates into persistable facts. The semantic path is
// tried first; on service or parse failure the whole run degrades to the
// rule-based fallback with capped confidence. The overlap safety net runs on
// the survivors of either path.
func (e *Engine) Validate(ctx context.Context, personID string, candidates []model.CandidateFact, existing []model.Fact) []model.Fact {
	if len(candidates) == 0 {
		return nil
	}

	// Summary facts are synthesized, not deduplicated against.
	comparable := make([]model.Fact, 0, len(existing))
	for _, f := range existing {
		if f.Category != model.CategorySummary {
			comparable = append(comparable, f)
		}
	}

	facts, err := e.validateSemantic(ctx, personID, candidates, comparable)
	if err != nil {
		zap.L().Warn("validate: semantic path unavailable, using fallback",
			zap.String("person_id", personID),
			zap.Error(err),
		)
		facts = validateFallback(personID, candidates, comparable)
	}

	facts = overlapNet(facts, comparable)

	zap.L().Info("validation complete",
		zap.String("person_id", personID),
		zap.Int("candidates", len(candidates)),
		zap.Int("kept", len(facts)),
	)
	return facts
}

// validateSemantic sends all candidates and existing facts to the local
// model in one batched call and applies its per-candidate decisions.
func (e *Engine) validateSemantic(ctx context.Context, personID string, candidates []model.CandidateFact, existing []model.Fact) ([]model.Fact, error) {
	prompt := validationPrompt(candidates, existing)

	resp, err := resilience.ExecuteVal(ctx, e.breaker, func(ctx context.Context) (decisionsResponse, error) {
		var parsed decisionsResponse
		err := e.local.GenerateJSON(ctx, prompt, &parsed)
		return parsed, err
	})
	if err != nil {
		return nil, err
	}

	// Index decisions by candidate; a candidate with no decision entry is
	// rejected, never kept.
	byCandidate := make(map[int]model.Decision, len(resp.Decisions))
	for _, d := range resp.Decisions {
		byCandidate[d.Candidate] = d
	}

	now := time.Now().UTC()
	var kept []model.Fact
	for i, c := range candidates {
		d, ok := byCandidate[i]
		if !ok {
			zap.L().Debug("validate: no decision for candidate, rejecting",
				zap.Int("candidate", i), zap.String("value", c.Value))
			continue
		}

		action := model.ParseAction(d.Action)
		switch action {
		case model.ActionReject, model.ActionMerge:
			// Merged candidates are absorbed by their target, which carries
			// its own decision.
			continue
		case model.ActionUpdate, model.ActionKeep:
		}

		fact := factFromCandidate(personID, c, now)
		fact.Confidence = model.ConfidenceForStrength(d.EvidenceStrength)

		if action == model.ActionUpdate {
			switch target := decisionTarget(d, existing); {
			case target == nil:
				// Update with no resolvable target is ambiguous.
				continue
			case target.ConfirmedByUser:
				// Confirmed facts are never silently overwritten; the new
				// wording lands as a separate fact.
			default:
				fact.Key = target.Key
			}
		}

		kept = append(kept, fact)
	}
	return kept, nil
}

// decisionTarget resolves an update decision's existing-fact index.
func decisionTarget(d model.Decision, existing []model.Fact) *model.Fact {
	if d.UpdatesExisting == nil {
		return nil
	}
	i := *d.UpdatesExisting
	if i < 0 || i >= len(existing) {
		return nil
	}
	return &existing[i]
}

func factFromCandidate(personID string, c model.CandidateFact, now time.Time) model.Fact {
	return model.Fact{
		ID:                  uuid.NewString(),
		PersonID:            personID,
		Category:            c.Category,
		Key:                 model.FactKey(c.Category, c.Value),
		Value:               c.Value,
		Confidence:          c.Confidence,
		SourceInteractionID: c.SourceID,
		SourceQuote:         c.Quote,
		SourceLink:          c.SourceLink,
		ExtractedAt:         now,
		CreatedAt:           now,
	}
}

// validationPrompt lists existing facts and candidates with stable indices
// so the model can reference them in its decisions.
func validationPrompt(candidates []model.CandidateFact, existing []model.Fact) string {
	var b strings.Builder

	b.WriteString(`You are a fact validator. Decide, for each candidate fact, whether it is a
new evidenced fact, a duplicate, an update to an existing fact, or absorbed by
a better candidate in the same batch.

EXISTING FACTS (indexed):
`)
	if len(existing) == 0 {
		b.WriteString("(none)\n")
	}
	for i, f := range existing {
		fmt.Fprintf(&b, "[%d] (%s) %s\n", i, f.Category, f.Value)
	}

	b.WriteString("\nCANDIDATE FACTS (indexed):\n")
	for i, c := range candidates {
		fmt.Fprintf(&b, "[%d] (%s) %s | quote: %q\n", i, c.Category, c.Value, c.Quote)
	}

	b.WriteString(`
For EVERY candidate return one decision:
- "keep": a new fact with real evidence in its quote
- "reject": duplicate of an existing fact, universally true of anyone, vague, or unsupported by its quote
- "update": supersedes a specific existing fact; set "updates_existing" to that fact's index
- "merge": absorbed into a better candidate in this batch; set "merge_into_candidate" to that candidate's index

Also rate "evidence_strength" 1-5:
- 5: the quote states the fact explicitly and unambiguously
- 4: the quote clearly supports the fact with minor interpretation
- 3: reasonable support with some ambiguity
- 2: weak or indirect support
- 1: no real support in the quote

Return ONLY valid JSON (no markdown, no explanation):
{
  "decisions": [
    {"candidate": 0, "action": "keep", "evidence_strength": 4},
    {"candidate": 1, "action": "update", "updates_existing": 2, "evidence_strength": 5},
    {"candidate": 2, "action": "reject", "evidence_strength": 1, "reason": "universal"}
  ]
}
`)
	return b.String()
}
