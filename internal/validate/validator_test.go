package validate

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/person-facts/internal/model"
)

// fakeLocal is an ollama.Client returning canned output.
type fakeLocal struct {
	response string
	err      error
	calls    int
}

func (f *fakeLocal) Generate(_ context.Context, _ string) (string, error) {
	f.calls++
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

func candidate(cat model.Category, value, quote string) model.CandidateFact {
	return model.CandidateFact{Category: cat, Value: value, Quote: quote, Confidence: 0.8}
}

func TestValidate_SemanticKeep(t *testing.T) {
	local := &fakeLocal{response: `{
		"decisions": [
			{"candidate": 0, "action": "keep", "evidence_strength": 4},
			{"candidate": 1, "action": "reject", "evidence_strength": 1, "reason": "universal"}
		]
	}`}
	e := New(local)

	candidates := []model.CandidateFact{
		candidate(model.CategoryFamily, "Has a daughter named Emma who plays soccer", "my daughter Emma"),
		candidate(model.CategoryBackground, "Has a mother", "my mom called"),
	}

	got := e.Validate(context.Background(), "person-1", candidates, nil)

	require.Len(t, got, 1)
	assert.Equal(t, "Has a daughter named Emma who plays soccer", got[0].Value)
	assert.InDelta(t, 0.8, got[0].Confidence, 0.001) // strength 4
	assert.Equal(t, "person-1", got[0].PersonID)
	assert.Equal(t, model.FactKey(model.CategoryFamily, got[0].Value), got[0].Key)
	assert.Equal(t, 1, local.calls, "one batched call, not one per candidate")
}

func TestValidate_FailClosedOnSilence(t *testing.T) {
	// Decision covers candidate 0 only; candidate 1 gets no entry.
	local := &fakeLocal{response: `{
		"decisions": [{"candidate": 0, "action": "keep", "evidence_strength": 3}]
	}`}
	e := New(local)

	candidates := []model.CandidateFact{
		candidate(model.CategoryInterests, "Runs marathons every autumn", "marathon soon"),
		candidate(model.CategoryTravel, "Visited Portugal in the spring", "back from Portugal"),
	}

	got := e.Validate(context.Background(), "person-1", candidates, nil)

	require.Len(t, got, 1)
	assert.Equal(t, "Runs marathons every autumn", got[0].Value)
}

func TestValidate_UnknownActionRejects(t *testing.T) {
	local := &fakeLocal{response: `{
		"decisions": [{"candidate": 0, "action": "promote", "evidence_strength": 5}]
	}`}
	e := New(local)

	got := e.Validate(context.Background(), "person-1", []model.CandidateFact{
		candidate(model.CategoryWork, "Leads the platform migration project", "my project"),
	}, nil)

	assert.Empty(t, got)
}

func TestValidate_MergeDropsCandidate(t *testing.T) {
	local := &fakeLocal{response: `{
		"decisions": [
			{"candidate": 0, "action": "merge", "merge_into_candidate": 1, "evidence_strength": 3},
			{"candidate": 1, "action": "keep", "evidence_strength": 4}
		]
	}`}
	e := New(local)

	candidates := []model.CandidateFact{
		candidate(model.CategoryInterests, "Goes rock climbing", "climbing gym"),
		candidate(model.CategoryInterests, "Climbs at the bouldering gym three times a week", "at the gym again, third time this week"),
	}

	got := e.Validate(context.Background(), "person-1", candidates, nil)

	require.Len(t, got, 1)
	assert.Equal(t, "Climbs at the bouldering gym three times a week", got[0].Value)
}

func TestValidate_UpdateInheritsExistingKey(t *testing.T) {
	existing := []model.Fact{{
		PersonID: "person-1",
		Category: model.CategoryWork,
		Key:      "key-old",
		Value:    "Works on the data team",
	}}
	local := &fakeLocal{response: `{
		"decisions": [{"candidate": 0, "action": "update", "updates_existing": 0, "evidence_strength": 5}]
	}`}
	e := New(local)

	got := e.Validate(context.Background(), "person-1", []model.CandidateFact{
		candidate(model.CategoryWork, "Now manages the data team after a promotion", "got promoted to manager"),
	}, existing)

	require.Len(t, got, 1)
	assert.Equal(t, "key-old", got[0].Key, "update overwrites the existing row in place")
	assert.InDelta(t, 0.9, got[0].Confidence, 0.001)
}

func TestValidate_UpdateAgainstConfirmedKeepsAsNew(t *testing.T) {
	existing := []model.Fact{{
		PersonID:        "person-1",
		Category:        model.CategoryWork,
		Key:             "key-confirmed",
		Value:           "Works on the data team",
		ConfirmedByUser: true,
	}}
	local := &fakeLocal{response: `{
		"decisions": [{"candidate": 0, "action": "update", "updates_existing": 0, "evidence_strength": 5}]
	}`}
	e := New(local)

	got := e.Validate(context.Background(), "person-1", []model.CandidateFact{
		candidate(model.CategoryWork, "Now manages the entire data platform organization", "running the whole platform org now"),
	}, existing)

	require.Len(t, got, 1)
	assert.NotEqual(t, "key-confirmed", got[0].Key, "confirmed facts are never overwritten")
}

func TestValidate_UpdateWithoutTargetRejects(t *testing.T) {
	local := &fakeLocal{response: `{
		"decisions": [{"candidate": 0, "action": "update", "evidence_strength": 5}]
	}`}
	e := New(local)

	got := e.Validate(context.Background(), "person-1", []model.CandidateFact{
		candidate(model.CategoryWork, "Now manages the data team after a promotion", "promoted"),
	}, nil)

	assert.Empty(t, got)
}

func TestValidate_ServiceDownFallsBack(t *testing.T) {
	local := &fakeLocal{err: errors.New("connection refused")}
	e := New(local)

	got := e.Validate(context.Background(), "person-1", []model.CandidateFact{
		candidate(model.CategoryFamily, "Has a daughter named Emma who plays soccer", "my daughter Emma"),
	}, nil)

	require.Len(t, got, 1)
	assert.InDelta(t, 0.7, got[0].Confidence, 0.001, "fallback caps confidence")
}

func TestValidate_ParseFailureFallsBack(t *testing.T) {
	local := &fakeLocal{response: "not json at all"}
	e := New(local)

	got := e.Validate(context.Background(), "person-1", []model.CandidateFact{
		candidate(model.CategoryTravel, "Visited Portugal in the spring", "back from Portugal"),
	}, nil)

	require.Len(t, got, 1)
	assert.InDelta(t, 0.7, got[0].Confidence, 0.001)
}

func TestValidate_EmptyCandidates(t *testing.T) {
	local := &fakeLocal{}
	e := New(local)

	assert.Nil(t, e.Validate(context.Background(), "person-1", nil, nil))
	assert.Zero(t, local.calls)
}

func TestValidate_SummaryFactsExcludedFromComparison(t *testing.T) {
	existing := []model.Fact{{
		Category: model.CategorySummary,
		Key:      "key_themes",
		Value:    "Climbing, sourdough, travel plans to Portugal in spring",
	}}
	local := &fakeLocal{response: `{
		"decisions": [{"candidate": 0, "action": "keep", "evidence_strength": 4}]
	}`}
	e := New(local)

	got := e.Validate(context.Background(), "person-1", []model.CandidateFact{
		candidate(model.CategoryTravel, "Visited Portugal in the spring", "back from Portugal"),
	}, existing)

	require.Len(t, got, 1, "summary facts never absorb extraction candidates")
}
