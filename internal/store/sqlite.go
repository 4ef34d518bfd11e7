package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/person-facts/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS person_facts (
	id                    TEXT PRIMARY KEY,
	person_id             TEXT NOT NULL,
	category              TEXT NOT NULL,
	key                   TEXT NOT NULL,
	value                 TEXT NOT NULL,
	confidence            REAL NOT NULL DEFAULT 0.5,
	source_interaction_id TEXT,
	source_quote          TEXT,
	source_link           TEXT,
	extracted_at          DATETIME,
	confirmed_by_user     INTEGER NOT NULL DEFAULT 0,
	created_at            DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE(person_id, category, key)
);

CREATE TABLE IF NOT EXISTS person_fact_associations (
	fact_id    TEXT NOT NULL REFERENCES person_facts(id) ON DELETE CASCADE,
	person_id  TEXT NOT NULL,
	is_primary INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (fact_id, person_id)
);

CREATE INDEX IF NOT EXISTS idx_person_facts_person ON person_facts(person_id);
CREATE INDEX IF NOT EXISTS idx_person_facts_category ON person_facts(category);
CREATE INDEX IF NOT EXISTS idx_fact_associations_person ON person_fact_associations(person_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sqliteFactColumns = `id, person_id, category, key, value, confidence,
	source_interaction_id, source_quote, source_link, extracted_at,
	confirmed_by_user, created_at`

// execer is satisfied by both *sql.DB and *sql.Tx so the upsert logic runs
// standalone or inside ReplaceFacts' transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) UpsertFact(ctx context.Context, fact model.Fact) (*model.Fact, error) {
	return sqliteUpsert(ctx, s.db, fact)
}

func sqliteUpsert(ctx context.Context, q execer, fact model.Fact) (*model.Fact, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+sqliteFactColumns+` FROM person_facts
		 WHERE person_id = ? AND category = ? AND key = ?`,
		fact.PersonID, string(fact.Category), fact.Key,
	)

	existing, err := scanFact(row)
	switch {
	case err == sql.ErrNoRows:
		if fact.CreatedAt.IsZero() {
			fact.CreatedAt = time.Now().UTC()
		}
		_, err = q.ExecContext(ctx,
			`INSERT INTO person_facts (`+sqliteFactColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			fact.ID, fact.PersonID, string(fact.Category), fact.Key, fact.Value,
			fact.Confidence, fact.SourceInteractionID, fact.SourceQuote,
			fact.SourceLink, fact.ExtractedAt, fact.ConfirmedByUser, fact.CreatedAt,
		)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: insert fact %s", fact.Key)
		}
		return &fact, nil

	case err != nil:
		return nil, eris.Wrapf(err, "sqlite: lookup fact %s", fact.Key)
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

	_, err = q.ExecContext(ctx,
		`UPDATE person_facts
		 SET value = ?, confidence = ?, source_interaction_id = ?,
		     source_quote = ?, source_link = ?, extracted_at = ?,
		     confirmed_by_user = ?
		 WHERE id = ?`,
		fact.Value, fact.Confidence, fact.SourceInteractionID,
		fact.SourceQuote, fact.SourceLink, fact.ExtractedAt,
		fact.ConfirmedByUser, existing.ID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: update fact %s", fact.Key)
	}
	return &fact, nil
}

func (s *SQLiteStore) GetFact(ctx context.Context, factID string) (*model.Fact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteFactColumns+` FROM person_facts WHERE id = ?`, factID,
	)
	f, err := scanFact(row)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("fact not found: %s", factID)
	}
	return f, err
}

func (s *SQLiteStore) ListFacts(ctx context.Context, personID string, includeShared bool) ([]model.Fact, error) {
	var rows *sql.Rows
	var err error
	if includeShared {
		rows, err = s.db.QueryContext(ctx,
			`SELECT DISTINCT f.id, f.person_id, f.category, f.key, f.value,
			        f.confidence, f.source_interaction_id, f.source_quote,
			        f.source_link, f.extracted_at, f.confirmed_by_user, f.created_at
			 FROM person_facts f
			 LEFT JOIN person_fact_associations a ON f.id = a.fact_id
			 WHERE f.person_id = ? OR a.person_id = ?
			 ORDER BY f.category, f.key`,
			personID, personID,
		)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+sqliteFactColumns+` FROM person_facts
			 WHERE person_id = ? ORDER BY category, key`,
			personID,
		)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list facts")
	}
	defer rows.Close()

	var facts []model.Fact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, err
		}
		facts = append(facts, *f)
	}
	return facts, eris.Wrap(rows.Err(), "sqlite: list facts iterate")
}

func (s *SQLiteStore) ConfirmFact(ctx context.Context, factID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE person_facts SET confirmed_by_user = 1 WHERE id = ?`, factID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: confirm fact %s", factID)
	}
	return checkRowsAffected(res, "fact", factID)
}

func (s *SQLiteStore) DeleteFact(ctx context.Context, factID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM person_facts WHERE id = ?`, factID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete fact %s", factID)
	}
	return checkRowsAffected(res, "fact", factID)
}

func (s *SQLiteStore) ReplaceFacts(ctx context.Context, personID string, facts []model.Fact) ([]model.Fact, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin replace")
	}
	defer tx.Rollback()

	// Confirmed rows are user truth and summaries refresh in place; only
	// ordinary unconfirmed extractions are swept.
	_, err = tx.ExecContext(ctx,
		`DELETE FROM person_facts
		 WHERE person_id = ? AND confirmed_by_user = 0 AND category != ?`,
		personID, string(model.CategorySummary),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: sweep facts for %s", personID)
	}

	stored := make([]model.Fact, 0, len(facts))
	for _, fact := range facts {
		saved, err := sqliteUpsert(ctx, tx, fact)
		if err != nil {
			// One bad row must not discard its siblings.
			zap.L().Warn("replace: fact write failed",
				zap.String("person_id", personID),
				zap.String("key", fact.Key),
				zap.Error(err),
			)
			continue
		}
		stored = append(stored, *saved)
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrapf(err, "sqlite: commit replace for %s", personID)
	}
	return stored, nil
}

func (s *SQLiteStore) AddAssociation(ctx context.Context, factID, personID string, isPrimary bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO person_fact_associations (fact_id, person_id, is_primary)
		 VALUES (?, ?, ?)`,
		factID, personID, isPrimary,
	)
	return eris.Wrapf(err, "sqlite: add association %s -> %s", factID, personID)
}

func (s *SQLiteStore) GetAssociations(ctx context.Context, factID string) ([]model.FactAssociation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT fact_id, person_id, is_primary FROM person_fact_associations
		 WHERE fact_id = ?`,
		factID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get associations")
	}
	defer rows.Close()

	var assocs []model.FactAssociation
	for rows.Next() {
		var a model.FactAssociation
		if err := rows.Scan(&a.FactID, &a.PersonID, &a.IsPrimary); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan association")
		}
		assocs = append(assocs, a)
	}
	return assocs, eris.Wrap(rows.Err(), "sqlite: get associations iterate")
}

func (s *SQLiteStore) RemoveAssociation(ctx context.Context, factID, personID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM person_fact_associations WHERE fact_id = ? AND person_id = ?`,
		factID, personID,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: remove association")
	}
	return checkRowsAffected(res, "association", factID+"/"+personID)
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanFact(row scannable) (*model.Fact, error) {
	var f model.Fact
	var category string
	var sourceID, sourceQuote, sourceLink sql.NullString
	var extractedAt sql.NullTime

	err := row.Scan(&f.ID, &f.PersonID, &category, &f.Key, &f.Value,
		&f.Confidence, &sourceID, &sourceQuote, &sourceLink, &extractedAt,
		&f.ConfirmedByUser, &f.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan fact")
	}

	f.Category = model.Category(category)
	f.SourceInteractionID = sourceID.String
	f.SourceQuote = sourceQuote.String
	f.SourceLink = sourceLink.String
	if extractedAt.Valid {
		f.ExtractedAt = extractedAt.Time
	}
	return &f, nil
}
