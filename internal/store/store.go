package store

import (
	"context"

	"github.com/sells-group/person-facts/internal/model"
)

// Store defines the persistence interface for person facts.
//
// Upsert conflict rules, identical across drivers:
//   - rows are unique on (person_id, category, key)
//   - a row confirmed by the user is never modified by an upsert
//   - an unconfirmed row is overwritten only by an equal-or-higher
//     confidence fact, or by a confirmed one
type Store interface {
	// UpsertFact inserts or conditionally updates one fact and returns the
	// stored row (the existing row's ID wins on conflict).
	UpsertFact(ctx context.Context, fact model.Fact) (*model.Fact, error)
	GetFact(ctx context.Context, factID string) (*model.Fact, error)
	// ListFacts returns a person's facts ordered by category then key.
	// With includeShared, facts associated via the junction table are
	// included alongside directly owned ones.
	ListFacts(ctx context.Context, personID string, includeShared bool) ([]model.Fact, error)
	ConfirmFact(ctx context.Context, factID string) error
	DeleteFact(ctx context.Context, factID string) error

	// ReplaceFacts performs a full refresh of a person's extracted facts:
	// within one transaction it deletes the person's unconfirmed,
	// non-summary rows and upserts the new set. A failure on one fact is
	// isolated; siblings still persist. Returns the stored facts.
	ReplaceFacts(ctx context.Context, personID string, facts []model.Fact) ([]model.Fact, error)

	// Associations let a relationship fact appear on both people's
	// profiles.
	AddAssociation(ctx context.Context, factID, personID string, isPrimary bool) error
	GetAssociations(ctx context.Context, factID string) ([]model.FactAssociation, error)
	RemoveAssociation(ctx context.Context, factID, personID string) error

	Migrate(ctx context.Context) error
	Close() error
}
