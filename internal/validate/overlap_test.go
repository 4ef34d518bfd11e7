package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/person-facts/internal/model"
)

func fact(cat model.Category, value string) model.Fact {
	return model.Fact{
		Category: cat,
		Key:      model.FactKey(cat, value),
		Value:    value,
	}
}

func TestOverlapNet_CollapsesParaphrase(t *testing.T) {
	facts := []model.Fact{
		fact(model.CategoryInterests, "Goes backpacking"),
		fact(model.CategoryInterests, "Interested in backpacking and signed up for a trip"),
	}

	got := overlapNet(facts, nil)

	require.Len(t, got, 1)
	assert.Equal(t, "Interested in backpacking and signed up for a trip", got[0].Value,
		"longest value wins the collision")
}

func TestOverlapNet_DropsDuplicateOfExisting(t *testing.T) {
	existing := []model.Fact{
		fact(model.CategoryFamily, "Has a daughter named Emma"),
	}
	facts := []model.Fact{
		fact(model.CategoryFamily, "Daughter Emma plays soccer on Saturdays"),
		fact(model.CategoryFamily, "Has a brother living in Oslo"),
	}

	got := overlapNet(facts, existing)

	require.Len(t, got, 1)
	assert.Equal(t, "Has a brother living in Oslo", got[0].Value)
}

func TestOverlapNet_DifferentCategoriesNeverCollide(t *testing.T) {
	facts := []model.Fact{
		fact(model.CategoryInterests, "Spends weekends sailing around the bay"),
		fact(model.CategoryTopics, "Spends weekends sailing around the bay"),
	}

	got := overlapNet(facts, nil)
	assert.Len(t, got, 2)
}

func TestOverlapNet_LowOverlapSurvives(t *testing.T) {
	existing := []model.Fact{
		fact(model.CategoryFamily, "Has a daughter named Emma who plays soccer"),
	}
	facts := []model.Fact{
		fact(model.CategoryFamily, "Has a son named Jake who collects fossils"),
	}

	got := overlapNet(facts, existing)
	assert.Len(t, got, 1)
}

func TestOverlapNet_SameKeyAsExistingIsAnUpdate(t *testing.T) {
	existing := []model.Fact{{
		Category: model.CategoryWork,
		Key:      "key-1",
		Value:    "Works on the data team",
	}}
	facts := []model.Fact{{
		Category: model.CategoryWork,
		Key:      "key-1",
		Value:    "Now manages the data team after a promotion",
	}}

	got := overlapNet(facts, existing)
	assert.Len(t, got, 1, "updates overlap their target on purpose")
}

func TestOverlapFraction(t *testing.T) {
	a := map[string]bool{"backpacking": true}
	b := map[string]bool{"backpacking": true, "portugal": true, "spring": true}

	assert.InDelta(t, 1.0, overlapFraction(a, b), 0.001)
	assert.InDelta(t, 1.0, overlapFraction(b, a), 0.001, "symmetric")
	assert.Zero(t, overlapFraction(nil, b))
	assert.Zero(t, overlapFraction(a, nil))
}

func TestContentWords(t *testing.T) {
	words := contentWords("Goes backpacking with the dog, Max!")

	assert.True(t, words["backpacking"])
	assert.True(t, words["dog"])
	assert.True(t, words["max"])
	assert.False(t, words["goes"])
	assert.False(t, words["the"])
	assert.False(t, words["with"])
}
