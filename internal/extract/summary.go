package extract

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/person-facts/internal/model"
	"github.com/sells-group/person-facts/internal/resilience"
	"github.com/sells-group/person-facts/pkg/anthropic"
	"github.com/sells-group/person-facts/pkg/ollama"
)

// SummaryMinInteractions is the minimum history size before relationship
// summaries are generated. Below this there is no pattern to summarize.
const SummaryMinInteractions = 10

// summaryConfidence is fixed: summaries are synthesized across interactions
// rather than evidenced by a single quote.
const summaryConfidence = 0.8

// summaryKeys is the closed set of summary fact keys. Responses with other
// keys are dropped.
var summaryKeys = map[string]bool{
	"relationship_trajectory": true,
	"key_themes":              true,
	"major_events":            true,
	"communication_style":     true,
}

type summaryResponse struct {
	Summaries []struct {
		Key      string `json:"key"`
		Value    string `json:"value"`
		Evidence string `json:"evidence"`
	} `json:"summaries"`
}

// SummarizeRelationship synthesizes summary-category facts from the whole
// sampled history. Unlike extraction candidates, summaries skip validation:
// they are keyed by their fixed names and replace in place on every run.
func (e *Extractor) SummarizeRelationship(ctx context.Context, personID, personName string, interactions []model.Interaction) ([]model.Fact, error) {
	if len(interactions) < SummaryMinInteractions {
		return nil, nil
	}

	prompt := summaryPrompt(personName, formatInteractionsForSummary(interactions))

	resp, err := resilience.DoVal(ctx, e.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return e.ai.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     e.cfg.Model,
			MaxTokens: 2048,
			Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
		})
	})
	if err != nil {
		return nil, eris.Wrap(err, "extract: summarize relationship")
	}
	resp.Usage.LogCost(e.cfg.Model, "summary")

	payload, ok := ollama.ExtractJSON(resp.Text())
	if !ok {
		return nil, eris.New("extract: no JSON in summary response")
	}

	var parsed summaryResponse
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return nil, eris.Wrap(err, "extract: unmarshal summary response")
	}

	var sourceID, sourceLink string
	if len(interactions) > 0 {
		sourceID = interactions[0].ID
		sourceLink = interactions[0].SourceLink
	}

	now := time.Now().UTC()
	facts := make([]model.Fact, 0, len(parsed.Summaries))
	for _, s := range parsed.Summaries {
		key := strings.TrimSpace(s.Key)
		value := strings.TrimSpace(s.Value)
		if !summaryKeys[key] || value == "" {
			continue
		}

		facts = append(facts, model.Fact{
			ID:                  uuid.NewString(),
			PersonID:            personID,
			Category:            model.CategorySummary,
			Key:                 key,
			Value:               value,
			Confidence:          summaryConfidence,
			SourceInteractionID: sourceID,
			SourceQuote:         strings.TrimSpace(s.Evidence),
			SourceLink:          sourceLink,
			ExtractedAt:         now,
			CreatedAt:           now,
		})
	}

	zap.L().Info("relationship summaries generated",
		zap.String("person_id", personID),
		zap.Int("summaries", len(facts)),
	)
	return facts, nil
}
