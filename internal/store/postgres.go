package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/person-facts/internal/db"
	"github.com/sells-group/person-facts/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"lookup_fact_key": `SELECT id, person_id, category, key, value, confidence,
	                    source_interaction_id, source_quote, source_link, extracted_at,
	                    confirmed_by_user, created_at FROM person_facts
	                    WHERE person_id = $1 AND category = $2 AND key = $3`,
	"get_fact": `SELECT id, person_id, category, key, value, confidence,
	             source_interaction_id, source_quote, source_link, extracted_at,
	             confirmed_by_user, created_at FROM person_facts WHERE id = $1`,
	"confirm_fact":       `UPDATE person_facts SET confirmed_by_user = TRUE WHERE id = $1`,
	"delete_fact":        `DELETE FROM person_facts WHERE id = $1`,
	"get_associations":   `SELECT fact_id, person_id, is_primary FROM person_fact_associations WHERE fact_id = $1`,
	"remove_association": `DELETE FROM person_fact_associations WHERE fact_id = $1 AND person_id = $2`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS person_facts (
	id                    TEXT PRIMARY KEY,
	person_id             TEXT NOT NULL,
	category              TEXT NOT NULL,
	key                   TEXT NOT NULL,
	value                 TEXT NOT NULL,
	confidence            DOUBLE PRECISION NOT NULL DEFAULT 0.5,
	source_interaction_id TEXT,
	source_quote          TEXT,
	source_link           TEXT,
	extracted_at          TIMESTAMPTZ,
	confirmed_by_user     BOOLEAN NOT NULL DEFAULT FALSE,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE(person_id, category, key)
);

CREATE TABLE IF NOT EXISTS person_fact_associations (
	fact_id    TEXT NOT NULL REFERENCES person_facts(id) ON DELETE CASCADE,
	person_id  TEXT NOT NULL,
	is_primary BOOLEAN NOT NULL DEFAULT FALSE,
	PRIMARY KEY (fact_id, person_id)
);

CREATE INDEX IF NOT EXISTS idx_person_facts_person ON person_facts(person_id);
CREATE INDEX IF NOT EXISTS idx_person_facts_category ON person_facts(category);
CREATE INDEX IF NOT EXISTS idx_fact_associations_person ON person_fact_associations(person_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

const pgFactColumns = `id, person_id, category, key, value, confidence,
	source_interaction_id, source_quote, source_link, extracted_at,
	confirmed_by_user, created_at`

// pgRunner adapts db.Pool and pgx.Tx to one shape so the upsert logic runs
// standalone or inside ReplaceFacts' transaction.
type pgRunner struct {
	exec     func(ctx context.Context, sql string, args ...any) error
	queryRow func(ctx context.Context, sql string, args ...any) pgx.Row
}

func poolRunner(p db.Pool) pgRunner {
	return pgRunner{
		exec: func(ctx context.Context, sql string, args ...any) error {
			_, err := p.Exec(ctx, sql, args...)
			return err
		},
		queryRow: p.QueryRow,
	}
}

func txRunner(tx pgx.Tx) pgRunner {
	return pgRunner{
		exec: func(ctx context.Context, sql string, args ...any) error {
			_, err := tx.Exec(ctx, sql, args...)
			return err
		},
		queryRow: tx.QueryRow,
	}
}

func (s *PostgresStore) UpsertFact(ctx context.Context, fact model.Fact) (*model.Fact, error) {
	return pgUpsert(ctx, poolRunner(s.pool), fact)
}

func pgUpsert(ctx context.Context, r pgRunner, fact model.Fact) (*model.Fact, error) {
	existing, err := scanPgFact(r.queryRow(ctx,
		`SELECT `+pgFactColumns+` FROM person_facts
		 WHERE person_id = $1 AND category = $2 AND key = $3`,
		fact.PersonID, string(fact.Category), fact.Key,
	))

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if fact.CreatedAt.IsZero() {
			fact.CreatedAt = time.Now().UTC()
		}
		err = r.exec(ctx,
			`INSERT INTO person_facts (`+pgFactColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			fact.ID, fact.PersonID, string(fact.Category), fact.Key, fact.Value,
			fact.Confidence, fact.SourceInteractionID, fact.SourceQuote,
			fact.SourceLink, fact.ExtractedAt, fact.ConfirmedByUser, fact.CreatedAt,
		)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: insert fact %s", fact.Key)
		}
		return &fact, nil

	case err != nil:
		return nil, eris.Wrapf(err, "postgres: lookup fact %s", fact.Key)
	}

	// Conflict: a confirmed or more confident stored row wins outright,
	// and the caller gets that row back untouched.
	if existing.ConfirmedByUser {
		return existing, nil
	}
	if fact.Confidence < existing.Confidence && !fact.ConfirmedByUser {
		return existing, nil
	}

	fact.ID = existing.ID
	fact.CreatedAt = existing.CreatedAt

	err = r.exec(ctx,
		`UPDATE person_facts
		 SET value = $1, confidence = $2, source_interaction_id = $3,
		     source_quote = $4, source_link = $5, extracted_at = $6,
		     confirmed_by_user = $7
		 WHERE id = $8`,
		fact.Value, fact.Confidence, fact.SourceInteractionID,
		fact.SourceQuote, fact.SourceLink, fact.ExtractedAt,
		fact.ConfirmedByUser, existing.ID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: update fact %s", fact.Key)
	}
	return &fact, nil
}

func (s *PostgresStore) GetFact(ctx context.Context, factID string) (*model.Fact, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgFactColumns+` FROM person_facts WHERE id = $1`, factID,
	)
	f, err := scanPgFact(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Errorf("fact not found: %s", factID)
	}
	return f, err
}

func (s *PostgresStore) ListFacts(ctx context.Context, personID string, includeShared bool) ([]model.Fact, error) {
	var rows pgx.Rows
	var err error
	if includeShared {
		rows, err = s.pool.Query(ctx,
			`SELECT DISTINCT f.id, f.person_id, f.category, f.key, f.value,
			        f.confidence, f.source_interaction_id, f.source_quote,
			        f.source_link, f.extracted_at, f.confirmed_by_user, f.created_at
			 FROM person_facts f
			 LEFT JOIN person_fact_associations a ON f.id = a.fact_id
			 WHERE f.person_id = $1 OR a.person_id = $1
			 ORDER BY f.category, f.key`,
			personID,
		)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+pgFactColumns+` FROM person_facts
			 WHERE person_id = $1 ORDER BY category, key`,
			personID,
		)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list facts")
	}
	defer rows.Close()

	var facts []model.Fact
	for rows.Next() {
		f, err := scanPgFact(rows)
		if err != nil {
			return nil, err
		}
		facts = append(facts, *f)
	}
	return facts, eris.Wrap(rows.Err(), "postgres: list facts iterate")
}

func (s *PostgresStore) ConfirmFact(ctx context.Context, factID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE person_facts SET confirmed_by_user = TRUE WHERE id = $1`, factID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: confirm fact %s", factID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("fact not found: %s", factID)
	}
	return nil
}

func (s *PostgresStore) DeleteFact(ctx context.Context, factID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM person_facts WHERE id = $1`, factID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete fact %s", factID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("fact not found: %s", factID)
	}
	return nil
}

func (s *PostgresStore) ReplaceFacts(ctx context.Context, personID string, facts []model.Fact) ([]model.Fact, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin replace")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Confirmed rows are user truth and summaries refresh in place; only
	// ordinary unconfirmed extractions are swept.
	_, err = tx.Exec(ctx,
		`DELETE FROM person_facts
		 WHERE person_id = $1 AND confirmed_by_user = FALSE AND category != $2`,
		personID, string(model.CategorySummary),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: sweep facts for %s", personID)
	}

	stored := make([]model.Fact, 0, len(facts))
	for _, fact := range facts {
		// A nested Begin opens a savepoint, so one bad row rolls back
		// alone instead of poisoning the whole transaction.
		sp, err := tx.Begin(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: begin savepoint")
		}
		saved, err := pgUpsert(ctx, txRunner(sp), fact)
		if err != nil {
			_ = sp.Rollback(ctx)
			zap.L().Warn("replace: fact write failed",
				zap.String("person_id", personID),
				zap.String("key", fact.Key),
				zap.Error(err),
			)
			continue
		}
		if err := sp.Commit(ctx); err != nil {
			return nil, eris.Wrap(err, "postgres: release savepoint")
		}
		stored = append(stored, *saved)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrapf(err, "postgres: commit replace for %s", personID)
	}
	return stored, nil
}

func (s *PostgresStore) AddAssociation(ctx context.Context, factID, personID string, isPrimary bool) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO person_fact_associations (fact_id, person_id, is_primary)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (fact_id, person_id) DO UPDATE SET is_primary = $3`,
		factID, personID, isPrimary,
	)
	return eris.Wrapf(err, "postgres: add association %s -> %s", factID, personID)
}

func (s *PostgresStore) GetAssociations(ctx context.Context, factID string) ([]model.FactAssociation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT fact_id, person_id, is_primary FROM person_fact_associations
		 WHERE fact_id = $1`,
		factID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get associations")
	}
	defer rows.Close()

	var assocs []model.FactAssociation
	for rows.Next() {
		var a model.FactAssociation
		if err := rows.Scan(&a.FactID, &a.PersonID, &a.IsPrimary); err != nil {
			return nil, eris.Wrap(err, "postgres: scan association")
		}
		assocs = append(assocs, a)
	}
	return assocs, eris.Wrap(rows.Err(), "postgres: get associations iterate")
}

func (s *PostgresStore) RemoveAssociation(ctx context.Context, factID, personID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM person_fact_associations WHERE fact_id = $1 AND person_id = $2`,
		factID, personID,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: remove association")
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("association not found: %s/%s", factID, personID)
	}
	return nil
}

func scanPgFact(row pgx.Row) (*model.Fact, error) {
	var f model.Fact
	var category string
	var sourceID, sourceQuote, sourceLink *string
	var extractedAt *time.Time

	err := row.Scan(&f.ID, &f.PersonID, &category, &f.Key, &f.Value,
		&f.Confidence, &sourceID, &sourceQuote, &sourceLink, &extractedAt,
		&f.ConfirmedByUser, &f.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "postgres: scan fact")
	}

	f.Category = model.Category(category)
	if sourceID != nil {
		f.SourceInteractionID = *sourceID
	}
	if sourceQuote != nil {
		f.SourceQuote = *sourceQuote
	}
	if sourceLink != nil {
		f.SourceLink = *sourceLink
	}
	if extractedAt != nil {
		f.ExtractedAt = *extractedAt
	}
	return &f, nil
}
