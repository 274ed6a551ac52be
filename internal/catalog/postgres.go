package catalog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/kalam/internal/dialogue"
)

// Schema is the SQL DDL for the catalog tables. Execute it via
// [PostgresSource.Migrate] or apply it manually during deployment.
// Nested items (scenario lines, cards, phrases) are stored as JSONB.
const Schema = `
CREATE TABLE IF NOT EXISTS practice_scenarios (
    id         INTEGER PRIMARY KEY,
    slug       TEXT NOT NULL UNIQUE,
    title      TEXT NOT NULL,
    icon       TEXT NOT NULL DEFAULT '',
    lines      JSONB NOT NULL DEFAULT '[]'
);
CREATE TABLE IF NOT EXISTS flashcard_categories (
    id          INTEGER PRIMARY KEY,
    slug        TEXT NOT NULL UNIQUE,
    title       TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    icon        TEXT NOT NULL DEFAULT '',
    cards       JSONB NOT NULL DEFAULT '[]'
);
CREATE TABLE IF NOT EXISTS phrase_categories (
    id          INTEGER PRIMARY KEY,
    slug        TEXT NOT NULL UNIQUE,
    title       TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    icon        TEXT NOT NULL DEFAULT '',
    phrases     JSONB NOT NULL DEFAULT '[]'
);
CREATE TABLE IF NOT EXISTS pronunciation_tips (
    id          INTEGER PRIMARY KEY,
    title       TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT ''
);
`

// DB is the database interface used by [PostgresSource]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface; a *pgx.Conn must not be combined with
// [PostgresSource.Load], which queries concurrently.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresSource is a [Source] backed by a PostgreSQL database.
type PostgresSource struct {
	db DB
}

var _ Source = (*PostgresSource)(nil)

// NewPostgresSource returns a source reading from db. Call
// [PostgresSource.Migrate] first on a fresh database.
func NewPostgresSource(db DB) *PostgresSource {
	return &PostgresSource{db: db}
}

// Migrate executes the [Schema] DDL.
func (s *PostgresSource) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("catalog: migrate: %w", err)
	}
	return nil
}

// Load implements [Source]. The four tables are read concurrently.
func (s *PostgresSource) Load(ctx context.Context) (Data, error) {
	var d Data
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		d.Scenarios, err = s.loadScenarios(ctx)
		return err
	})
	g.Go(func() (err error) {
		d.Flashcards, err = s.loadFlashcards(ctx)
		return err
	})
	g.Go(func() (err error) {
		d.Phrases, err = s.loadPhrases(ctx)
		return err
	})
	g.Go(func() (err error) {
		d.Tips, err = s.loadTips(ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return Data{}, err
	}
	return d, nil
}

func (s *PostgresSource) loadScenarios(ctx context.Context) ([]dialogue.Scenario, error) {
	const query = `SELECT id, slug, title, icon, lines FROM practice_scenarios ORDER BY id`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("catalog: query scenarios: %w", err)
	}
	defer rows.Close()

	var out []dialogue.Scenario
	for rows.Next() {
		var sc dialogue.Scenario
		var linesJSON []byte
		if err := rows.Scan(&sc.ID, &sc.Slug, &sc.Title, &sc.Icon, &linesJSON); err != nil {
			return nil, fmt.Errorf("catalog: scan scenario: %w", err)
		}
		if err := json.Unmarshal(linesJSON, &sc.Lines); err != nil {
			return nil, fmt.Errorf("catalog: unmarshal lines of scenario %d: %w", sc.ID, err)
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: iterate scenarios: %w", err)
	}
	return out, nil
}

func (s *PostgresSource) loadFlashcards(ctx context.Context) ([]FlashcardCategory, error) {
	const query = `SELECT id, slug, title, description, icon, cards FROM flashcard_categories ORDER BY id`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("catalog: query flashcard categories: %w", err)
	}
	defer rows.Close()

	var out []FlashcardCategory
	for rows.Next() {
		var fc FlashcardCategory
		var cardsJSON []byte
		if err := rows.Scan(&fc.ID, &fc.Slug, &fc.Title, &fc.Description, &fc.Icon, &cardsJSON); err != nil {
			return nil, fmt.Errorf("catalog: scan flashcard category: %w", err)
		}
		if err := json.Unmarshal(cardsJSON, &fc.Cards); err != nil {
			return nil, fmt.Errorf("catalog: unmarshal cards of category %d: %w", fc.ID, err)
		}
		out = append(out, fc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: iterate flashcard categories: %w", err)
	}
	return out, nil
}

func (s *PostgresSource) loadPhrases(ctx context.Context) ([]PhraseCategory, error) {
	const query = `SELECT id, slug, title, description, icon, phrases FROM phrase_categories ORDER BY id`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("catalog: query phrase categories: %w", err)
	}
	defer rows.Close()

	var out []PhraseCategory
	for rows.Next() {
		var pc PhraseCategory
		var phrasesJSON []byte
		if err := rows.Scan(&pc.ID, &pc.Slug, &pc.Title, &pc.Description, &pc.Icon, &phrasesJSON); err != nil {
			return nil, fmt.Errorf("catalog: scan phrase category: %w", err)
		}
		if err := json.Unmarshal(phrasesJSON, &pc.Phrases); err != nil {
			return nil, fmt.Errorf("catalog: unmarshal phrases of category %d: %w", pc.ID, err)
		}
		out = append(out, pc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: iterate phrase categories: %w", err)
	}
	return out, nil
}

func (s *PostgresSource) loadTips(ctx context.Context) ([]Tip, error) {
	const query = `SELECT id, title, description FROM pronunciation_tips ORDER BY id`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("catalog: query tips: %w", err)
	}
	defer rows.Close()

	var out []Tip
	for rows.Next() {
		var tip Tip
		if err := rows.Scan(&tip.ID, &tip.Title, &tip.Description); err != nil {
			return nil, fmt.Errorf("catalog: scan tip: %w", err)
		}
		out = append(out, tip)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: iterate tips: %w", err)
	}
	return out, nil
}

// Seed upserts d into the catalog tables. It is used to populate a fresh
// database from the embedded content.
func (s *PostgresSource) Seed(ctx context.Context, d Data) error {
	const (
		upsertScenario = `
			INSERT INTO practice_scenarios (id, slug, title, icon, lines)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET
				slug = EXCLUDED.slug, title = EXCLUDED.title,
				icon = EXCLUDED.icon, lines = EXCLUDED.lines`
		upsertFlashcards = `
			INSERT INTO flashcard_categories (id, slug, title, description, icon, cards)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET
				slug = EXCLUDED.slug, title = EXCLUDED.title, description = EXCLUDED.description,
				icon = EXCLUDED.icon, cards = EXCLUDED.cards`
		upsertPhrases = `
			INSERT INTO phrase_categories (id, slug, title, description, icon, phrases)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET
				slug = EXCLUDED.slug, title = EXCLUDED.title, description = EXCLUDED.description,
				icon = EXCLUDED.icon, phrases = EXCLUDED.phrases`
		upsertTip = `
			INSERT INTO pronunciation_tips (id, title, description)
			VALUES ($1, $2, $3)
			ON CONFLICT (id) DO UPDATE SET
				title = EXCLUDED.title, description = EXCLUDED.description`
	)

	for _, sc := range d.Scenarios {
		linesJSON, err := json.Marshal(emptySlice(sc.Lines))
		if err != nil {
			return fmt.Errorf("catalog: marshal lines of scenario %d: %w", sc.ID, err)
		}
		if _, err := s.db.Exec(ctx, upsertScenario, sc.ID, sc.Slug, sc.Title, sc.Icon, linesJSON); err != nil {
			return fmt.Errorf("catalog: seed scenario %d: %w", sc.ID, err)
		}
	}
	for _, fc := range d.Flashcards {
		cardsJSON, err := json.Marshal(emptySlice(fc.Cards))
		if err != nil {
			return fmt.Errorf("catalog: marshal cards of category %d: %w", fc.ID, err)
		}
		if _, err := s.db.Exec(ctx, upsertFlashcards, fc.ID, fc.Slug, fc.Title, fc.Description, fc.Icon, cardsJSON); err != nil {
			return fmt.Errorf("catalog: seed flashcard category %d: %w", fc.ID, err)
		}
	}
	for _, pc := range d.Phrases {
		phrasesJSON, err := json.Marshal(emptySlice(pc.Phrases))
		if err != nil {
			return fmt.Errorf("catalog: marshal phrases of category %d: %w", pc.ID, err)
		}
		if _, err := s.db.Exec(ctx, upsertPhrases, pc.ID, pc.Slug, pc.Title, pc.Description, pc.Icon, phrasesJSON); err != nil {
			return fmt.Errorf("catalog: seed phrase category %d: %w", pc.ID, err)
		}
	}
	for _, tip := range d.Tips {
		if _, err := s.db.Exec(ctx, upsertTip, tip.ID, tip.Title, tip.Description); err != nil {
			return fmt.Errorf("catalog: seed tip %d: %w", tip.ID, err)
		}
	}
	return nil
}

func emptySlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
