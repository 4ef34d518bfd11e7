// Package facts orchestrates the extraction pipeline: sample a person's
// interaction history, enrich message threads with context, extract candidate
// facts, validate them against what is already known, synthesize relationship
// summaries, and refresh the fact store.
package facts

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/person-facts/internal/enrich"
	"github.com/sells-group/person-facts/internal/extract"
	"github.com/sells-group/person-facts/internal/model"
	"github.com/sells-group/person-facts/internal/sampler"
	"github.com/sells-group/person-facts/internal/store"
	"github.com/sells-group/person-facts/internal/validate"
)

// Service runs the full extraction pipeline for one person at a time.
type Service struct {
	store     store.Store
	extractor *extract.Extractor
	validator *validate.Engine
	enricher  *enrich.Enricher
	budget    int
}

// Option configures a Service.
type Option func(*Service)

// WithEnricher attaches a thread-context enricher. Without one, interactions
// go to extraction as-is.
func WithEnricher(e *enrich.Enricher) Option {
	return func(s *Service) { s.enricher = e }
}

// WithBudget overrides the interaction sampling budget.
func WithBudget(budget int) Option {
	return func(s *Service) {
		if budget > 0 {
			s.budget = budget
		}
	}
}

// New creates a Service.
func New(st store.Store, ex *extract.Extractor, va *validate.Engine, opts ...Option) *Service {
	s := &Service{
		store:     st,
		extractor: ex,
		validator: va,
		budget:    sampler.DefaultBudget,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ExtractFacts runs the pipeline for one person and returns the facts now
// stored for them. Degraded stages (a failed extraction batch, an unreachable
// validator, a failed summary) narrow the result rather than fail the run;
// only store errors are fatal, since without the store nothing persists.
func (s *Service) ExtractFacts(ctx context.Context, personID, personName string, interactions []model.Interaction) ([]model.Fact, error) {
	sampled := sampler.Sample(interactions, s.budget)
	if s.enricher != nil {
		sampled = s.enricher.Enrich(ctx, sampled)
	}

	known, err := s.store.ListFacts(ctx, personID, false)
	if err != nil {
		return nil, eris.Wrapf(err, "facts: list known for %s", personID)
	}

	// Relationship summaries are regenerated each run, so the prompt's
	// known-facts block only excludes ordinary facts.
	candidates := s.extractor.Extract(ctx, personID, personName, sampled, withoutSummaries(known))
	validated := s.validator.Validate(ctx, personID, candidates, known)

	summaries, err := s.extractor.SummarizeRelationship(ctx, personID, personName, sampled)
	if err != nil {
		zap.L().Warn("facts: summary generation failed",
			zap.String("person_id", personID),
			zap.Error(err),
		)
	}

	facts := dedupe(append(validated, summaries...))

	stored, err := s.store.ReplaceFacts(ctx, personID, facts)
	if err != nil {
		return nil, eris.Wrapf(err, "facts: replace for %s", personID)
	}

	zap.L().Info("pipeline complete",
		zap.String("person_id", personID),
		zap.Int("interactions", len(interactions)),
		zap.Int("sampled", len(sampled)),
		zap.Int("candidates", len(candidates)),
		zap.Int("stored", len(stored)),
	)
	return stored, nil
}

// List returns a person's stored facts.
func (s *Service) List(ctx context.Context, personID string, includeShared bool) ([]model.Fact, error) {
	return s.store.ListFacts(ctx, personID, includeShared)
}

// Confirm marks a fact as user-confirmed, exempting it from future refreshes.
func (s *Service) Confirm(ctx context.Context, factID string) error {
	return s.store.ConfirmFact(ctx, factID)
}

// Delete removes a fact.
func (s *Service) Delete(ctx context.Context, factID string) error {
	return s.store.DeleteFact(ctx, factID)
}

func withoutSummaries(facts []model.Fact) []model.Fact {
	out := make([]model.Fact, 0, len(facts))
	for _, f := range facts {
		if f.Category == model.CategorySummary {
			continue
		}
		out = append(out, f)
	}
	return out
}

// dedupe collapses facts sharing a (category, key) identity, keeping the
// higher-confidence one. Input order breaks ties.
func dedupe(facts []model.Fact) []model.Fact {
	type identity struct {
		category model.Category
		key      string
	}
	seen := make(map[identity]int, len(facts))
	out := make([]model.Fact, 0, len(facts))
	for _, f := range facts {
		id := identity{f.Category, f.Key}
		if i, ok := seen[id]; ok {
			if f.Confidence > out[i].Confidence {
				out[i] = f
			}
			continue
		}
		seen[id] = len(out)
		out = append(out, f)
	}
	return out
}
