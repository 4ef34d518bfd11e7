// Package sampler selects a bounded, temporally diverse, source-balanced
// subset of a person's interaction history for extraction.
package sampler

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/person-facts/internal/model"
)

// DefaultBudget is the total number of interactions sent to extraction.
const DefaultBudget = 300

// PriorityBonus is the share multiplier for high-signal sources
// (calendar, vault, granola).
const PriorityBonus = 1.5

// Age-bucket boundaries: recent (<1y), mid (1-3y), old (3y+).
const (
	recentCutoff = 365 * 24 * time.Hour
	midCutoff    = 3 * 365 * 24 * time.Hour
)

// Sample returns at most budget interactions. Small sets pass through
// unchanged; larger ones are balanced across sources and age buckets so one
// noisy channel cannot dominate and old history is not starved.
func Sample(interactions []model.Interaction, budget int) []model.Interaction {
	return SampleAt(interactions, budget, time.Now())
}

// SampleAt is Sample with an explicit reference time for bucket boundaries.
func SampleAt(interactions []model.Interaction, budget int, now time.Time) []model.Interaction {
	if budget <= 0 {
		budget = DefaultBudget
	}
	if len(interactions) <= budget {
		return interactions
	}

	bySource := make(map[model.SourceType][]model.Interaction)
	for _, in := range interactions {
		src := in.SourceType
		if src == "" {
			src = model.SourceOther
		}
		bySource[src] = append(bySource[src], in)
	}

	// Each ordinary source contributes 1.0 share, each priority source 1.5,
	// so a person who lives in one channel gets the full budget there.
	var totalShares float64
	for src := range bySource {
		if src.IsPriority() {
			totalShares += PriorityBonus
		} else {
			totalShares += 1.0
		}
	}
	perShare := float64(budget) / totalShares

	sampled := make([]model.Interaction, 0, budget)
	for src, pool := range bySource {
		alloc := int(perShare)
		if src.IsPriority() {
			alloc = int(perShare * PriorityBonus)
		}
		if alloc < 1 {
			alloc = 1
		}
		sampled = append(sampled, sampleSource(pool, alloc, now)...)
	}

	// Newest first so downstream formatting sees a consistent order.
	sort.Slice(sampled, func(i, j int) bool {
		return sampled[i].Timestamp.After(sampled[j].Timestamp)
	})
	if len(sampled) > budget {
		sampled = sampled[:budget]
	}

	zap.L().Debug("sampled interactions",
		zap.Int("total", len(interactions)),
		zap.Int("sampled", len(sampled)),
		zap.Int("sources", len(bySource)),
	)
	return sampled
}

// sampleSource picks up to alloc interactions from one source, split across
// recent/mid/old age buckets (50/30/20). A bucket smaller than its share
// hands the shortfall to buckets with spare items, so the allocation is
// exhausted whenever enough data exists.
func sampleSource(pool []model.Interaction, alloc int, now time.Time) []model.Interaction {
	if len(pool) <= alloc {
		return pool
	}

	sort.Slice(pool, func(i, j int) bool {
		return pool[i].Timestamp.After(pool[j].Timestamp)
	})

	var recent, mid, old []model.Interaction
	for _, in := range pool {
		age := now.Sub(in.Timestamp)
		switch {
		case age < recentCutoff:
			recent = append(recent, in)
		case age < midCutoff:
			mid = append(mid, in)
		default:
			old = append(old, in)
		}
	}

	buckets := [][]model.Interaction{recent, mid, old}
	want := []int{alloc * 50 / 100, alloc * 30 / 100, 0}
	want[2] = alloc - want[0] - want[1]

	take := make([]int, 3)
	taken := 0
	for i, b := range buckets {
		take[i] = min(want[i], len(b))
		taken += take[i]
	}

	// Redistribute shortfall to buckets with spare items, favoring recency.
	for i, b := range buckets {
		if taken >= alloc {
			break
		}
		spare := len(b) - take[i]
		extra := min(alloc-taken, spare)
		take[i] += extra
		taken += extra
	}

	out := make([]model.Interaction, 0, taken)
	for i, b := range buckets {
		out = append(out, b[:take[i]]...)
	}
	return out
}
