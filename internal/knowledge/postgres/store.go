// Package postgres persists knowledge-base terms in PostgreSQL and finds
// phonetically similar terms with pgvector.
//
// Each term row stores its precomputed representation (JSONB) and the mean of
// its articulatory feature vectors as a pgvector column. [Store.Nearest]
// ranks terms by cosine distance between those centroids, which is a cheap
// prefilter for "which known terms could this word be a misspelling of"
// before running the full distance calculator.
//
// The pgvector extension must be available in the target database; [Migrate]
// installs it automatically via CREATE EXTENSION IF NOT EXISTS.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/phonofix/internal/transcript"
	"github.com/MrWong99/phonofix/pkg/phonetic"
)

// ddlTerms returns the DDL with the centroid dimension substituted.
// The vector dimension is baked into the column type at schema creation time.
func ddlTerms(dimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS phonofix_terms (
    canonical   TEXT         PRIMARY KEY,
    aliases     TEXT[]       NOT NULL DEFAULT '{}',
    language    TEXT         NOT NULL DEFAULT '',
    metadata    JSONB        NOT NULL DEFAULT '{}',
    rep         JSONB,
    units       INTEGER      NOT NULL DEFAULT 0,
    centroid    vector(%d),
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_phonofix_terms_language
    ON phonofix_terms (language);

CREATE INDEX IF NOT EXISTS idx_phonofix_terms_centroid
    ON phonofix_terms USING hnsw (centroid vector_cosine_ops);
`, dimensions)
}

// Migrate creates or ensures the terms table and the vector extension exist.
// It is idempotent and safe to call on every application start.
//
// dimensions must match the feature vector length of the transcriber whose
// representations are stored. Changing it after the first migration requires
// a manual schema change.
func Migrate(ctx context.Context, pool *pgxpool.Pool, dimensions int) error {
	if _, err := pool.Exec(ctx, ddlTerms(dimensions)); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

// Match is one result of [Store.Nearest].
type Match struct {
	Entry    transcript.Entry `json:"entry"`
	Distance float64          `json:"distance"`
}

// Store is a PostgreSQL-backed term store. All operations are safe for
// concurrent use.
type Store struct {
	pool       *pgxpool.Pool
	dimensions int
}

// NewStore connects to the database at dsn, registers pgvector types on every
// connection, and runs [Migrate].
func NewStore(ctx context.Context, dsn string, dimensions int) (*Store, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("postgres store: dimensions must be positive, got %d", dimensions)
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so that vector columns
	// can be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, dimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool, dimensions: dimensions}, nil
}

// Close releases all connections held by the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping checks database connectivity. It is suitable as a readiness check.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Upsert inserts or replaces entries keyed by canonical form and returns the
// number written. Entries without a precomputed representation are stored
// without a centroid and never appear in [Store.Nearest].
func (s *Store) Upsert(ctx context.Context, entries []transcript.Entry) (int, error) {
	const q = `
		INSERT INTO phonofix_terms
		    (canonical, aliases, language, metadata, rep, units, centroid, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (canonical) DO UPDATE SET
		    aliases    = EXCLUDED.aliases,
		    language   = EXCLUDED.language,
		    metadata   = EXCLUDED.metadata,
		    rep        = EXCLUDED.rep,
		    units      = EXCLUDED.units,
		    centroid   = EXCLUDED.centroid,
		    updated_at = now()`

	if len(entries) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, e := range entries {
		centroid, err := s.centroid(e.Rep)
		if err != nil {
			return 0, fmt.Errorf("postgres store: upsert %q: %w", e.Canonical, err)
		}
		aliases := e.Aliases
		if aliases == nil {
			aliases = []string{}
		}
		metadata := e.Metadata
		if metadata == nil {
			metadata = map[string]string{}
		}
		batch.Queue(q, e.Canonical, aliases, e.Language, metadata, e.Rep, e.Units, centroid)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := range entries {
		if _, err := br.Exec(); err != nil {
			return i, fmt.Errorf("postgres store: upsert %q: %w", entries[i].Canonical, err)
		}
	}
	return len(entries), nil
}

// centroid returns the pgvector parameter for rep, or nil (SQL NULL) when rep
// carries no features.
func (s *Store) centroid(rep *phonetic.Representation) (any, error) {
	if rep == nil {
		return nil, nil
	}
	c := rep.Centroid()
	if c == nil {
		return nil, nil
	}
	if len(c) != s.dimensions {
		return nil, fmt.Errorf("centroid has %d dimensions, store expects %d", len(c), s.dimensions)
	}
	return pgvector.NewVector(c), nil
}

// All returns every stored term ordered by canonical form.
func (s *Store) All(ctx context.Context) ([]transcript.Entry, error) {
	const q = `
		SELECT canonical, aliases, language, metadata, rep, units
		FROM   phonofix_terms
		ORDER  BY canonical`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("postgres store: all: %w", err)
	}
	entries, err := pgx.CollectRows(rows, scanEntry)
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan rows: %w", err)
	}
	if entries == nil {
		entries = []transcript.Entry{}
	}
	return entries, nil
}

// Nearest returns up to k terms whose centroid is closest (cosine distance)
// to rep's centroid, most similar first. A rep without features yields no
// matches.
func (s *Store) Nearest(ctx context.Context, rep phonetic.Representation, k int) ([]Match, error) {
	centroid, err := s.centroid(&rep)
	if err != nil {
		return nil, fmt.Errorf("postgres store: nearest: %w", err)
	}
	if centroid == nil || k <= 0 {
		return []Match{}, nil
	}

	const q = `
		SELECT canonical, aliases, language, metadata, rep, units,
		       centroid <=> $1 AS distance
		FROM   phonofix_terms
		WHERE  centroid IS NOT NULL
		ORDER  BY distance
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, centroid, k)
	if err != nil {
		return nil, fmt.Errorf("postgres store: nearest: %w", err)
	}
	matches, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Match, error) {
		var m Match
		if err := row.Scan(
			&m.Entry.Canonical,
			&m.Entry.Aliases,
			&m.Entry.Language,
			&m.Entry.Metadata,
			&m.Entry.Rep,
			&m.Entry.Units,
			&m.Distance,
		); err != nil {
			return Match{}, err
		}
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan rows: %w", err)
	}
	if matches == nil {
		matches = []Match{}
	}
	return matches, nil
}

// Delete removes the term with the given canonical form. Deleting a missing
// term is not an error.
func (s *Store) Delete(ctx context.Context, canonical string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM phonofix_terms WHERE canonical = $1`, canonical); err != nil {
		return fmt.Errorf("postgres store: delete %q: %w", canonical, err)
	}
	return nil
}

func scanEntry(row pgx.CollectableRow) (transcript.Entry, error) {
	var e transcript.Entry
	err := row.Scan(
		&e.Canonical,
		&e.Aliases,
		&e.Language,
		&e.Metadata,
		&e.Rep,
		&e.Units,
	)
	return e, err
}
