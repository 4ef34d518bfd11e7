// Package enrich attaches surrounding-conversation context to message-style
// interactions so the extractor sees threads instead of isolated lines.
package enrich

import (
	"context"
	"fmt"
	"sort"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/sells-group/person-facts/internal/model"
)

// DefaultThreadGap is the silence that ends a conversation thread.
const DefaultThreadGap = time.Hour

// ContextProvider fetches the formatted text of messages neighboring a
// thread. Implemented by the message connectors; injected here so context
// lookups can be faked in tests.
type ContextProvider interface {
	ThreadContext(ctx context.Context, personID string, source model.SourceType, start, end time.Time) (string, error)
}

// Enricher groups message interactions into threads and attaches thread
// context fetched once per thread rather than once per message.
type Enricher struct {
	provider ContextProvider
	gap      time.Duration
	cache    *gocache.Cache
}

// Option configures an Enricher.
type Option func(*Enricher)

// WithThreadGap overrides the gap that splits threads.
func WithThreadGap(gap time.Duration) Option {
	return func(e *Enricher) { e.gap = gap }
}

// New creates an Enricher backed by the given context provider.
func New(provider ContextProvider, opts ...Option) *Enricher {
	e := &Enricher{
		provider: provider,
		gap:      DefaultThreadGap,
		cache:    gocache.New(15*time.Minute, 30*time.Minute),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ResetCache clears memoized thread contexts. Used for test isolation and
// after connector re-syncs invalidate conversation history.
func (e *Enricher) ResetCache() {
	e.cache.Flush()
}

// Enrich returns a copy of interactions with Context set on every member of
// each message thread. Cardinality and order are preserved; non-message
// interactions pass through untouched.
func (e *Enricher) Enrich(ctx context.Context, interactions []model.Interaction) []model.Interaction {
	out := make([]model.Interaction, len(interactions))
	copy(out, interactions)
	if e.provider == nil {
		return out
	}

	byKey := make(map[string][]member)
	for i, in := range out {
		if !in.SourceType.IsMessage() {
			continue
		}
		k := in.PersonID + "|" + string(in.SourceType)
		byKey[k] = append(byKey[k], member{idx: i, ts: in.Timestamp})
	}

	threads := 0
	for _, members := range byKey {
		sort.Slice(members, func(i, j int) bool { return members[i].ts.Before(members[j].ts) })

		start := 0
		for i := 1; i <= len(members); i++ {
			if i < len(members) && members[i].ts.Sub(members[i-1].ts) <= e.gap {
				continue
			}
			e.enrichThread(ctx, out, members[start:i])
			threads++
			start = i
		}
	}

	zap.L().Debug("enriched message context",
		zap.Int("interactions", len(interactions)),
		zap.Int("threads", threads),
	)
	return out
}

// member tracks an interaction's position in the output slice alongside its
// timestamp for thread grouping.
type member struct {
	idx int
	ts  time.Time
}

func (e *Enricher) enrichThread(ctx context.Context, out []model.Interaction, members []member) {
	if len(members) == 0 {
		return
	}
	first := out[members[0].idx]
	start := members[0].ts
	end := members[len(members)-1].ts

	key := fmt.Sprintf("%s|%s|%d", first.PersonID, first.SourceType, start.Unix())
	text, ok := e.cache.Get(key)
	if !ok {
		fetched, err := e.provider.ThreadContext(ctx, first.PersonID, first.SourceType, start, end)
		if err != nil {
			zap.L().Warn("thread context fetch failed",
				zap.String("person_id", first.PersonID),
				zap.String("source", string(first.SourceType)),
				zap.Error(err),
			)
			return
		}
		text = fetched
		e.cache.SetDefault(key, fetched)
	}

	s, _ := text.(string)
	if s == "" {
		return
	}
	for _, m := range members {
		out[m.idx].Context = s
	}
}
