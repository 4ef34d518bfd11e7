// Package extract turns interaction history into candidate facts via the
// Anthropic API.
package extract

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/person-facts/internal/model"
	"github.com/sells-group/person-facts/internal/resilience"
	"github.com/sells-group/person-facts/pkg/anthropic"
	"github.com/sells-group/person-facts/pkg/ollama"
)

// Config controls extraction behavior.
type Config struct {
	// Model is the Anthropic model ID. Default: claude-haiku-4-5-20251001.
	Model string

	// MaxTokens caps the response length. Default: 4096.
	MaxTokens int64

	// BatchSize is the maximum interactions per extraction call. Default: 300.
	BatchSize int

	// Concurrency limits simultaneous extraction calls. Default: 3.
	Concurrency int

	// UserName is the account owner's name, used for sender attribution in
	// the prompt. Default: "the user".
	UserName string

	// Retry overrides the retry policy for extraction calls. The zero
	// value falls back to resilience.DefaultRetryConfig.
	Retry resilience.RetryConfig
}

func (c Config) withDefaults() Config {
	if c.Model == "" {
		c.Model = "claude-haiku-4-5-20251001"
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 4096
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 300
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 3
	}
	if c.UserName == "" {
		c.UserName = "the user"
	}
	return c
}

// Extractor runs the extraction prompt over batches of interactions.
type Extractor struct {
	ai    anthropic.Client
	cfg   Config
	retry resilience.RetryConfig
}

// New creates an Extractor.
func New(ai anthropic.Client, cfg Config) *Extractor {
	retry := cfg.Retry
	if retry.MaxAttempts == 0 {
		retry = resilience.DefaultRetryConfig()
	}
	retry.OnRetry = resilience.RetryLogger("anthropic", "extract")
	return &Extractor{ai: ai, cfg: cfg.withDefaults(), retry: retry}
}

// extractionResponse is the JSON contract with the extraction service.
type extractionResponse struct {
	Facts []struct {
		Category   string  `json:"category"`
		Value      string  `json:"value"`
		Quote      string  `json:"quote"`
		SourceID   string  `json:"source_id"`
		Confidence float64 `json:"confidence"`
	} `json:"facts"`
}

// Extract proposes candidate facts about a person from their interactions.
// Interactions are processed in batches issued concurrently; a failed batch
// contributes zero candidates and never aborts its siblings. Results are
// merged in input order so reruns are deterministic.
func (e *Extractor) Extract(ctx context.Context, personID, personName string, interactions []model.Interaction, known []model.Fact) []model.CandidateFact {
	if len(interactions) == 0 {
		return nil
	}

	system := anthropic.BuildCachedSystemBlocks(extractionSystemPrompt(personName, e.cfg.UserName, known))
	batches := makeBatches(interactions, e.cfg.BatchSize)

	// With multiple batches, warm the prompt cache once so the concurrent
	// calls all read the cached system prompt.
	if len(batches) > 1 {
		_, err := anthropic.PrimerRequest(ctx, e.ai, anthropic.MessageRequest{
			Model:     e.cfg.Model,
			MaxTokens: 16,
			System:    system,
			Messages:  []anthropic.Message{{Role: "user", Content: "Reply with OK."}},
		})
		if err != nil {
			zap.L().Warn("extract: cache primer failed", zap.Error(err))
		}
	}

	results := make([][]model.CandidateFact, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for i, batch := range batches {
		g.Go(func() error {
			candidates, err := e.extractBatch(gctx, system, personName, batch)
			if err != nil {
				// Don't fail the group; a lost batch means fewer candidates.
				zap.L().Error("extract: batch failed",
					zap.String("person_id", personID),
					zap.Int("batch", i+1),
					zap.Int("batches", len(batches)),
					zap.Error(err),
				)
				return nil
			}
			results[i] = candidates
			return nil
		})
	}
	_ = g.Wait()

	var merged []model.CandidateFact
	for _, r := range results {
		merged = append(merged, r...)
	}

	zap.L().Info("extraction complete",
		zap.String("person_id", personID),
		zap.Int("interactions", len(interactions)),
		zap.Int("batches", len(batches)),
		zap.Int("candidates", len(merged)),
	)
	return merged
}

func (e *Extractor) extractBatch(ctx context.Context, system []anthropic.SystemBlock, personName string, batch []model.Interaction) ([]model.CandidateFact, error) {
	prompt := "Interactions:\n" + formatInteractions(batch, personName, e.cfg.UserName)

	resp, err := resilience.DoVal(ctx, e.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return e.ai.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     e.cfg.Model,
			MaxTokens: e.cfg.MaxTokens,
			System:    system,
			Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
		})
	})
	if err != nil {
		return nil, err
	}
	resp.Usage.LogCost(e.cfg.Model, "extract")

	return parseExtractionResponse(resp.Text(), batch), nil
}

// parseExtractionResponse converts model output into candidates. Parsing is
// tolerant about the envelope and strict about the contents: entries with
// unknown categories, bare-word or boolean values, or no quote are dropped,
// and high-confidence claims without a quote are downgraded rather than
// trusted.
func parseExtractionResponse(text string, batch []model.Interaction) []model.CandidateFact {
	payload, ok := ollama.ExtractJSON(text)
	if !ok {
		zap.L().Warn("extract: no JSON in response", zap.String("head", truncate(text, 200)))
		return nil
	}

	var parsed extractionResponse
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		zap.L().Warn("extract: unparseable response", zap.Error(err))
		return nil
	}

	candidates := make([]model.CandidateFact, 0, len(parsed.Facts))
	for _, f := range parsed.Facts {
		category, ok := model.ParseCategory(f.Category)
		if !ok {
			zap.L().Debug("extract: unknown category", zap.String("category", f.Category))
			continue
		}

		value := strings.TrimSpace(f.Value)
		if value == "" || isBooleanLike(value) {
			continue
		}

		quote := strings.TrimSpace(f.Quote)
		confidence := clamp01(f.Confidence)
		if quote == "" {
			if confidence >= 0.8 {
				confidence = 0.6
			}
		}

		sourceID, sourceLink := resolveSource(f.SourceID, batch)

		candidates = append(candidates, model.CandidateFact{
			Category:   category,
			Value:      value,
			Quote:      quote,
			SourceID:   sourceID,
			SourceLink: sourceLink,
			Confidence: confidence,
		})
	}
	return candidates
}

// resolveSource maps the model-reported source_id back to an interaction.
// Models abbreviate or mangle IDs, so an exact match is tried first, then a
// substring match. When nothing matches, the first interaction of the batch
// supplies the link so the fact still points somewhere real.
func resolveSource(sourceID string, batch []model.Interaction) (id, link string) {
	sourceID = strings.TrimSpace(strings.TrimPrefix(sourceID, "ID:"))

	if sourceID != "" {
		for _, in := range batch {
			if in.ID == sourceID {
				return in.ID, in.SourceLink
			}
		}
		for _, in := range batch {
			if strings.Contains(in.ID, sourceID) || strings.Contains(sourceID, in.ID) {
				return in.ID, in.SourceLink
			}
		}
	}

	if len(batch) > 0 {
		return batch[0].ID, batch[0].SourceLink
	}
	return "", ""
}

// isBooleanLike reports whether a value is a bare boolean rather than a fact.
func isBooleanLike(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "false", "yes", "no":
		return true
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func makeBatches(interactions []model.Interaction, size int) [][]model.Interaction {
	batches := make([][]model.Interaction, 0, (len(interactions)+size-1)/size)
	for start := 0; start < len(interactions); start += size {
		end := min(start+size, len(interactions))
		batches = append(batches, interactions[start:end])
	}
	return batches
}
