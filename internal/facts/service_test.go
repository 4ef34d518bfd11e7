package facts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/person-facts/internal/extract"
	"github.com/sells-group/person-facts/internal/model"
	"github.com/sells-group/person-facts/internal/store"
	"github.com/sells-group/person-facts/internal/validate"
	"github.com/sells-group/person-facts/pkg/anthropic"
)

// --- Anthropic Mock ---

type mockAnthropicClient struct {
	mock.Mock
}

func (m *mockAnthropicClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
	}
}

// --- Local Model Fake ---

type fakeLocal struct {
	response string
	err      error
}

func (f *fakeLocal) Generate(_ context.Context, _ string) (string, error) {
	return f.response, f.err
}

func (f *fakeLocal) GenerateJSON(ctx context.Context, prompt string, out any) error {
	text, err := f.Generate(ctx, prompt)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(text), out)
}

func (f *fakeLocal) Available(_ context.Context) bool {
	return f.err == nil
}

// --- Helpers ---

func newTestService(t *testing.T, ai anthropic.Client, local *fakeLocal) (*Service, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "facts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	ex := extract.New(ai, extract.Config{UserName: "Dana"})
	va := validate.New(local)
	return New(st, ex, va), st
}

func messageInteractions(personID string, n int) []model.Interaction {
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	out := make([]model.Interaction, n)
	for i := range out {
		out[i] = model.Interaction{
			ID:         fmt.Sprintf("i%d", i+1),
			PersonID:   personID,
			SourceType: model.SourceIMessage,
			Timestamp:  base.Add(time.Duration(i) * 48 * time.Hour),
			Title:      "→ checking in",
			Snippet:    "How was the weekend?",
		}
	}
	return out
}

func extractionJSON(facts ...map[string]any) string {
	payload, _ := json.Marshal(map[string]any{"facts": facts})
	return string(payload)
}

func keepDecisions(strengths ...int) string {
	decisions := make([]map[string]any, len(strengths))
	for i, s := range strengths {
		decisions[i] = map[string]any{"candidate": i, "action": "keep", "evidence_strength": s}
	}
	payload, _ := json.Marshal(map[string]any{"decisions": decisions})
	return string(payload)
}

// --- Tests ---

func TestExtractFacts_EndToEnd(t *testing.T) {
	ai := &mockAnthropicClient{}
	ai.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(extractionJSON(map[string]any{
			"category":   "family",
			"value":      "Has a daughter named Emma who plays soccer",
			"quote":      "Emma scored two goals at her soccer game today",
			"source_id":  "i2",
			"confidence": 0.9,
		})), nil).Once()
	local := &fakeLocal{response: keepDecisions(4)}
	svc, _ := newTestService(t, ai, local)

	stored, err := svc.ExtractFacts(context.Background(), "p1", "Alex", messageInteractions("p1", 4))
	require.NoError(t, err)
	require.Len(t, stored, 1)

	fact := stored[0]
	assert.Equal(t, model.CategoryFamily, fact.Category)
	assert.Equal(t, "Has a daughter named Emma who plays soccer", fact.Value)
	assert.InDelta(t, 0.8, fact.Confidence, 1e-9)
	assert.Equal(t, "i2", fact.SourceInteractionID)
	assert.Equal(t, "Emma scored two goals at her soccer game today", fact.SourceQuote)
	// Four interactions is below the summary threshold, so exactly one
	// extraction call was made.
	ai.AssertExpectations(t)
}

func TestExtractFacts_KnownFactsExcludeSummaries(t *testing.T) {
	const knownValue = "Has a daughter named Emma who plays soccer"
	const summaryValue = "Close collaborators who talk weekly"

	ai := &mockAnthropicClient{}
	ai.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		var sys strings.Builder
		for _, b := range req.System {
			sys.WriteString(b.Text)
		}
		// Ordinary facts feed the prompt's exclusion list; summaries are
		// regenerated each run and must not.
		return strings.Contains(sys.String(), knownValue) &&
			!strings.Contains(sys.String(), summaryValue)
	})).Return(textResponse(extractionJSON()), nil).Once()
	local := &fakeLocal{response: keepDecisions()}
	svc, st := newTestService(t, ai, local)

	ctx := context.Background()
	for _, f := range []model.Fact{
		{
			ID:         "f-family",
			PersonID:   "p1",
			Category:   model.CategoryFamily,
			Key:        model.FactKey(model.CategoryFamily, knownValue),
			Value:      knownValue,
			Confidence: 0.8,
		},
		{
			ID:         "f-summary",
			PersonID:   "p1",
			Category:   model.CategorySummary,
			Key:        "relationship_trajectory",
			Value:      summaryValue,
			Confidence: 0.8,
		},
	} {
		_, err := st.UpsertFact(ctx, f)
		require.NoError(t, err)
	}

	_, err := svc.ExtractFacts(ctx, "p1", "Alex", messageInteractions("p1", 4))
	require.NoError(t, err)
	ai.AssertExpectations(t)
}

func TestExtractFacts_DuplicateCandidatesCollapse(t *testing.T) {
	ai := &mockAnthropicClient{}
	ai.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(extractionJSON(
			map[string]any{
				"category":   "family",
				"value":      "Has a daughter named Emma who plays soccer",
				"quote":      "Emma scored two goals today",
				"source_id":  "i1",
				"confidence": 0.9,
			},
			map[string]any{
				"category":   "family",
				"value":      "Has a daughter named Emma who plays soccer",
				"quote":      "taking Emma to soccer practice",
				"source_id":  "i3",
				"confidence": 0.85,
			},
		)), nil).Once()
	local := &fakeLocal{response: keepDecisions(4, 4)}
	svc, _ := newTestService(t, ai, local)

	stored, err := svc.ExtractFacts(context.Background(), "p1", "Alex", messageInteractions("p1", 4))
	require.NoError(t, err)
	// Identical wording converges on one stored fact.
	require.Len(t, stored, 1)
	assert.Equal(t, "Has a daughter named Emma who plays soccer", stored[0].Value)
}

func TestExtractFacts_SummaryGenerated(t *testing.T) {
	ai := &mockAnthropicClient{}
	// Extraction and summary calls are told apart by their token caps.
	ai.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.MaxTokens == 4096
	})).Return(textResponse(extractionJSON(map[string]any{
		"category":   "interests",
		"value":      "Trains for triathlons",
		"quote":      "long brick workout this morning",
		"source_id":  "i1",
		"confidence": 0.8,
	})), nil).Once()
	ai.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.MaxTokens == 2048
	})).Return(textResponse(`{"summaries":[{"key":"relationship_trajectory","value":"Steady close friendship with frequent check-ins","evidence":"regular messages over a year"}]}`), nil).Once()
	local := &fakeLocal{response: keepDecisions(4)}
	svc, _ := newTestService(t, ai, local)

	stored, err := svc.ExtractFacts(context.Background(), "p1", "Alex", messageInteractions("p1", 12))
	require.NoError(t, err)
	require.Len(t, stored, 2)

	var summary *model.Fact
	for i := range stored {
		if stored[i].Category == model.CategorySummary {
			summary = &stored[i]
		}
	}
	require.NotNil(t, summary)
	assert.Equal(t, "relationship_trajectory", summary.Key)
	assert.InDelta(t, 0.8, summary.Confidence, 1e-9)
	ai.AssertExpectations(t)
}

func TestExtractFacts_SummaryFailureDoesNotAbort(t *testing.T) {
	ai := &mockAnthropicClient{}
	ai.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.MaxTokens == 4096
	})).Return(textResponse(extractionJSON(map[string]any{
		"category":   "work",
		"value":      "Leads the platform infrastructure team",
		"quote":      "my team owns the deploy pipeline",
		"source_id":  "i1",
		"confidence": 0.8,
	})), nil).Once()
	ai.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.MaxTokens == 2048
	})).Return(nil, errors.New("summary service down")).Once()
	local := &fakeLocal{response: keepDecisions(4)}
	svc, _ := newTestService(t, ai, local)

	stored, err := svc.ExtractFacts(context.Background(), "p1", "Alex", messageInteractions("p1", 12))
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, model.CategoryWork, stored[0].Category)
}

func TestExtractFacts_RefreshPreservesConfirmed(t *testing.T) {
	ai := &mockAnthropicClient{}
	ai.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(extractionJSON(map[string]any{
			"category":   "interests",
			"value":      "Started rock climbing at the local gym",
			"quote":      "hit the climbing gym again",
			"source_id":  "i1",
			"confidence": 0.8,
		})), nil).Once()
	local := &fakeLocal{response: keepDecisions(4)}
	svc, st := newTestService(t, ai, local)
	ctx := context.Background()

	confirmed := model.Fact{
		ID:         "conf-1",
		PersonID:   "p1",
		Category:   model.CategoryFamily,
		Key:        model.FactKey(model.CategoryFamily, "Married to Jordan"),
		Value:      "Married to Jordan",
		Confidence: 0.8,
	}
	stale := model.Fact{
		ID:         "stale-1",
		PersonID:   "p1",
		Category:   model.CategoryTopics,
		Key:        model.FactKey(model.CategoryTopics, "Discussed the playoffs"),
		Value:      "Discussed the playoffs",
		Confidence: 0.6,
	}
	for _, f := range []model.Fact{confirmed, stale} {
		_, err := st.UpsertFact(ctx, f)
		require.NoError(t, err)
	}
	require.NoError(t, st.ConfirmFact(ctx, confirmed.ID))

	_, err := svc.ExtractFacts(ctx, "p1", "Alex", messageInteractions("p1", 4))
	require.NoError(t, err)

	facts, err := st.ListFacts(ctx, "p1", false)
	require.NoError(t, err)
	values := make([]string, 0, len(facts))
	for _, f := range facts {
		values = append(values, f.Value)
	}
	assert.Contains(t, values, "Married to Jordan")
	assert.Contains(t, values, "Started rock climbing at the local gym")
	assert.NotContains(t, values, "Discussed the playoffs")
}

func TestExtractFacts_ValidatorDownUsesFallback(t *testing.T) {
	ai := &mockAnthropicClient{}
	ai.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(extractionJSON(map[string]any{
			"category":   "background",
			"value":      "Grew up on a farm outside Lincoln",
			"quote":      "back when I lived on the farm near Lincoln",
			"source_id":  "i1",
			"confidence": 0.9,
		})), nil).Once()
	local := &fakeLocal{err: errors.New("connection refused")}
	svc, _ := newTestService(t, ai, local)

	stored, err := svc.ExtractFacts(context.Background(), "p1", "Alex", messageInteractions("p1", 4))
	require.NoError(t, err)
	require.Len(t, stored, 1)
	// Rule-based fallback confidence is capped.
	assert.InDelta(t, 0.7, stored[0].Confidence, 1e-9)
}

func TestExtractFacts_StoreErrorIsFatal(t *testing.T) {
	ai := &mockAnthropicClient{}
	local := &fakeLocal{response: keepDecisions()}
	svc, st := newTestService(t, ai, local)
	require.NoError(t, st.Close())

	_, err := svc.ExtractFacts(context.Background(), "p1", "Alex", messageInteractions("p1", 2))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list known")
}

func TestDedupe_KeepsHigherConfidence(t *testing.T) {
	a := model.Fact{Category: model.CategoryWork, Key: "k1", Value: "first", Confidence: 0.6}
	b := model.Fact{Category: model.CategoryWork, Key: "k1", Value: "second", Confidence: 0.9}
	c := model.Fact{Category: model.CategoryWork, Key: "k2", Value: "other", Confidence: 0.5}

	out := dedupe([]model.Fact{a, b, c})
	require.Len(t, out, 2)
	assert.Equal(t, "second", out[0].Value)
	assert.Equal(t, "other", out[1].Value)
}
