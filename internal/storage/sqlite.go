// Package storage persists every pipeline relation in a single SQLite
// database. Each stage replaces its relation as a whole snapshot; only the
// human review log is append-only.
package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/kalambet/termmap/internal/glossary"
	"github.com/kalambet/termmap/internal/profile"
	"github.com/kalambet/termmap/internal/reranking"
	"github.com/kalambet/termmap/internal/retrieval"
	"github.com/kalambet/termmap/internal/vectorize"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DBFile is the database file name inside the storage directory.
const DBFile = "termmap.db"

// Store wraps a SQLite database holding the pipeline relations.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, DBFile)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite"); err != nil {
		return fmt.Errorf("setting dialect: %w", err)
	}
	return goose.Up(s.db, "migrations")
}

// SchemaVersion returns the latest applied migration version.
func (s *Store) SchemaVersion() (int64, error) {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("sqlite"); err != nil {
		return 0, fmt.Errorf("setting dialect: %w", err)
	}
	return goose.GetDBVersion(s.db)
}

// replace deletes every row of table and inserts n rows produced by args in
// one transaction.
func (s *Store) replace(table, insert string, n int, args func(i int) []any) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning %s transaction: %w", table, err)
	}
	if _, err := tx.Exec("DELETE FROM " + table); err != nil {
		tx.Rollback()
		return fmt.Errorf("clearing %s: %w", table, err)
	}
	if err := insertRows(tx, table, insert, n, args); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func insertRows(tx *sql.Tx, table, insert string, n int, args func(i int) []any) error {
	if n == 0 {
		return nil
	}
	stmt, err := tx.Prepare(insert)
	if err != nil {
		return fmt.Errorf("preparing %s insert: %w", table, err)
	}
	defer stmt.Close()
	for i := 0; i < n; i++ {
		if _, err := stmt.Exec(args(i)...); err != nil {
			return fmt.Errorf("inserting %s row %d: %w", table, i, err)
		}
	}
	return nil
}

// --- Column cards ---

// ReplaceCards stores cards as the current column_cards snapshot.
func (s *Store) ReplaceCards(cards []profile.Card) error {
	return s.replace(RelColumnCards, `
		INSERT INTO column_cards (ordinal, tbl, col, dtype, row_count, null_pct, distinct_count, samples, hints, card_text)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		len(cards), func(i int) []any {
			c := cards[i]
			return []any{i, c.Table, c.Column, c.DType, c.RowCount, c.NullPct, c.Distinct,
				encodeStrings(c.Samples), encodeStrings(c.Hints), c.Text}
		})
}

const cardColumns = `tbl, col, dtype, row_count, null_pct, distinct_count, samples, hints, card_text`

// ListCards returns all cards in profiling order.
func (s *Store) ListCards() ([]profile.Card, error) {
	return s.queryCards(`SELECT ` + cardColumns + ` FROM column_cards ORDER BY ordinal`)
}

// TableCards returns the cards of one table in column order.
func (s *Store) TableCards(table string) ([]profile.Card, error) {
	return s.queryCards(`SELECT `+cardColumns+` FROM column_cards WHERE tbl = ? ORDER BY ordinal`, table)
}

// GetCard returns the card for (table, column) or ErrNotFound.
func (s *Store) GetCard(table, column string) (profile.Card, error) {
	cards, err := s.queryCards(`SELECT `+cardColumns+` FROM column_cards WHERE tbl = ? AND col = ?`, table, column)
	if err != nil {
		return profile.Card{}, err
	}
	if len(cards) == 0 {
		return profile.Card{}, ErrNotFound
	}
	return cards[0], nil
}

// Tables returns the distinct profiled table names in profiling order.
func (s *Store) Tables() ([]string, error) {
	rows, err := s.db.Query(`SELECT tbl FROM column_cards GROUP BY tbl ORDER BY MIN(ordinal)`)
	if err != nil {
		return nil, fmt.Errorf("querying tables: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) queryCards(query string, args ...any) ([]profile.Card, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying cards: %w", err)
	}
	defer rows.Close()

	var cards []profile.Card
	for rows.Next() {
		var c profile.Card
		var samples, hints string
		if err := rows.Scan(&c.Table, &c.Column, &c.DType, &c.RowCount, &c.NullPct, &c.Distinct, &samples, &hints, &c.Text); err != nil {
			return nil, fmt.Errorf("scanning card: %w", err)
		}
		if c.Samples, err = decodeStrings(samples); err != nil {
			return nil, fmt.Errorf("decoding samples of %s.%s: %w", c.Table, c.Column, err)
		}
		if c.Hints, err = decodeStrings(hints); err != nil {
			return nil, fmt.Errorf("decoding hints of %s.%s: %w", c.Table, c.Column, err)
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

// --- Glossary ---

// ReplaceTerms stores terms as the current glossary snapshot.
func (s *Store) ReplaceTerms(terms []glossary.Term) error {
	return s.replace(RelGlossaryTerms,
		`INSERT INTO glossary_terms (ordinal, term, definition, synonyms) VALUES (?, ?, ?, ?)`,
		len(terms), func(i int) []any {
			return []any{i, terms[i].Term, terms[i].Definition, terms[i].Synonyms}
		})
}

// ListTerms returns the stored glossary in file order.
func (s *Store) ListTerms() ([]glossary.Term, error) {
	rows, err := s.db.Query(`SELECT term, definition, synonyms FROM glossary_terms ORDER BY ordinal`)
	if err != nil {
		return nil, fmt.Errorf("querying glossary: %w", err)
	}
	defer rows.Close()

	var out []glossary.Term
	for rows.Next() {
		var t glossary.Term
		if err := rows.Scan(&t.Term, &t.Definition, &t.Synonyms); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// --- Feature space and embeddings ---

// SaveEmbeddings replaces the feature space and both embedding matrices in
// one transaction so they never disagree.
func (s *Store) SaveEmbeddings(fs *vectorize.FeatureSpace, cards []CardVector, terms []TermVector) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning embeddings transaction: %w", err)
	}
	for _, t := range []string{RelFeatureSpace, RelCardEmbeddings, RelGlossaryEmbeddings} {
		if _, err := tx.Exec("DELETE FROM " + t); err != nil {
			tx.Rollback()
			return fmt.Errorf("clearing %s: %w", t, err)
		}
	}

	err = insertRows(tx, RelFeatureSpace, `INSERT INTO feature_space (ordinal, ngram, idf) VALUES (?, ?, ?)`,
		fs.Dim(), func(i int) []any { return []any{i, fs.Vocab[i], fs.IDF[i]} })
	if err == nil {
		err = insertRows(tx, RelCardEmbeddings, `INSERT INTO card_embeddings (ordinal, tbl, col, vector) VALUES (?, ?, ?, ?)`,
			len(cards), func(i int) []any { return []any{i, cards[i].Table, cards[i].Column, encodeFloat64s(cards[i].Vector)} })
	}
	if err == nil {
		err = insertRows(tx, RelGlossaryEmbeddings, `INSERT INTO glossary_embeddings (ordinal, term, vector) VALUES (?, ?, ?)`,
			len(terms), func(i int) []any { return []any{i, terms[i].Term, encodeFloat64s(terms[i].Vector)} })
	}
	if err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// LoadFeatureSpace restores the fitted feature space. It returns ErrNotFound
// when nothing has been embedded yet.
func (s *Store) LoadFeatureSpace() (*vectorize.FeatureSpace, error) {
	rows, err := s.db.Query(`SELECT ngram, idf FROM feature_space ORDER BY ordinal`)
	if err != nil {
		return nil, fmt.Errorf("querying feature space: %w", err)
	}
	defer rows.Close()

	var vocab []string
	var idf []float64
	for rows.Next() {
		var g string
		var w float64
		if err := rows.Scan(&g, &w); err != nil {
			return nil, err
		}
		vocab = append(vocab, g)
		idf = append(idf, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(vocab) == 0 {
		return nil, ErrNotFound
	}
	return vectorize.NewFeatureSpace(vocab, idf)
}

// CardEmbeddings returns card vectors in card order.
func (s *Store) CardEmbeddings() ([]CardVector, error) {
	rows, err := s.db.Query(`SELECT tbl, col, vector FROM card_embeddings ORDER BY ordinal`)
	if err != nil {
		return nil, fmt.Errorf("querying card embeddings: %w", err)
	}
	defer rows.Close()

	var out []CardVector
	for rows.Next() {
		var v CardVector
		var blob []byte
		if err := rows.Scan(&v.Table, &v.Column, &blob); err != nil {
			return nil, err
		}
		if v.Vector, err = decodeFloat64s(blob); err != nil {
			return nil, fmt.Errorf("decoding embedding of %s.%s: %w", v.Table, v.Column, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// TermEmbeddings returns glossary vectors in glossary order.
func (s *Store) TermEmbeddings() ([]TermVector, error) {
	rows, err := s.db.Query(`SELECT term, vector FROM glossary_embeddings ORDER BY ordinal`)
	if err != nil {
		return nil, fmt.Errorf("querying glossary embeddings: %w", err)
	}
	defer rows.Close()

	var out []TermVector
	for rows.Next() {
		var v TermVector
		var blob []byte
		if err := rows.Scan(&v.Term, &blob); err != nil {
			return nil, err
		}
		if v.Vector, err = decodeFloat64s(blob); err != nil {
			return nil, fmt.Errorf("decoding embedding of %s: %w", v.Term, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// --- Matches ---

// ReplaceMatches stores matches as the current column_matches snapshot.
func (s *Store) ReplaceMatches(matches []retrieval.Match) error {
	return s.replace(RelColumnMatches, `
		INSERT INTO column_matches (ordinal, tbl, col, rank, term, score) VALUES (?, ?, ?, ?, ?, ?)`,
		len(matches), func(i int) []any {
			m := matches[i]
			return []any{i, m.Table, m.Column, m.Rank, m.Term, m.Score}
		})
}

// ListMatches returns all matches in retrieval order.
func (s *Store) ListMatches() ([]retrieval.Match, error) {
	return s.queryMatches(`SELECT tbl, col, rank, term, score FROM column_matches ORDER BY ordinal`)
}

// TableMatches returns the matches of one table in retrieval order.
func (s *Store) TableMatches(table string) ([]retrieval.Match, error) {
	return s.queryMatches(`SELECT tbl, col, rank, term, score FROM column_matches WHERE tbl = ? ORDER BY ordinal`, table)
}

// ColumnMatches returns the matches of one column ordered by rank.
func (s *Store) ColumnMatches(table, column string) ([]retrieval.Match, error) {
	return s.queryMatches(`SELECT tbl, col, rank, term, score FROM column_matches WHERE tbl = ? AND col = ? ORDER BY rank`, table, column)
}

func (s *Store) queryMatches(query string, args ...any) ([]retrieval.Match, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying matches: %w", err)
	}
	defer rows.Close()

	var out []retrieval.Match
	for rows.Next() {
		var m retrieval.Match
		if err := rows.Scan(&m.Table, &m.Column, &m.Rank, &m.Term, &m.Score); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- Predictions ---

// ReplacePredictions stores preds as the current llm_predictions snapshot.
func (s *Store) ReplacePredictions(preds []reranking.Prediction) error {
	return s.replace(RelLLMPredictions, `
		INSERT INTO llm_predictions (ordinal, tbl, col, llm_term, llm_confidence, llm_reason) VALUES (?, ?, ?, ?, ?, ?)`,
		len(preds), func(i int) []any {
			p := preds[i]
			return []any{i, p.Table, p.Column, p.Term, p.Confidence, p.Reason}
		})
}

// ListPredictions returns all predictions in card order.
func (s *Store) ListPredictions() ([]reranking.Prediction, error) {
	return s.queryPredictions(`SELECT tbl, col, llm_term, llm_confidence, llm_reason FROM llm_predictions ORDER BY ordinal`)
}

// GetPrediction returns the prediction for (table, column) or ErrNotFound.
func (s *Store) GetPrediction(table, column string) (reranking.Prediction, error) {
	preds, err := s.queryPredictions(`SELECT tbl, col, llm_term, llm_confidence, llm_reason FROM llm_predictions WHERE tbl = ? AND col = ?`, table, column)
	if err != nil {
		return reranking.Prediction{}, err
	}
	if len(preds) == 0 {
		return reranking.Prediction{}, ErrNotFound
	}
	return preds[0], nil
}

func (s *Store) queryPredictions(query string, args ...any) ([]reranking.Prediction, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying predictions: %w", err)
	}
	defer rows.Close()

	var out []reranking.Prediction
	for rows.Next() {
		var p reranking.Prediction
		if err := rows.Scan(&p.Table, &p.Column, &p.Term, &p.Confidence, &p.Reason); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- Gold labels ---

// ReplaceGoldLabels stores labels as the current gold_labels snapshot.
func (s *Store) ReplaceGoldLabels(labels []GoldLabel) error {
	return s.replace(RelGoldLabels,
		`INSERT INTO gold_labels (ordinal, tbl, col, correct_term) VALUES (?, ?, ?, ?)`,
		len(labels), func(i int) []any {
			return []any{i, labels[i].Table, labels[i].Column, labels[i].CorrectTerm}
		})
}

// ListGoldLabels returns the stored gold labels in import order.
func (s *Store) ListGoldLabels() ([]GoldLabel, error) {
	rows, err := s.db.Query(`SELECT tbl, col, correct_term FROM gold_labels ORDER BY ordinal`)
	if err != nil {
		return nil, fmt.Errorf("querying gold labels: %w", err)
	}
	defer rows.Close()

	var out []GoldLabel
	for rows.Next() {
		var g GoldLabel
		if err := rows.Scan(&g.Table, &g.Column, &g.CorrectTerm); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// --- Human review ---

// AppendReview adds r to the review log. Earlier entries for the same column
// are kept.
func (s *Store) AppendReview(r Review) error {
	_, err := s.db.Exec(`
		INSERT INTO human_review (id, tbl, col, approved_term, created_at) VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.Table, r.Column, r.ApprovedTerm, r.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("appending review: %w", err)
	}
	return nil
}

// ListReviews returns the review log in append order.
func (s *Store) ListReviews() ([]Review, error) {
	rows, err := s.db.Query(`SELECT id, tbl, col, approved_term, created_at FROM human_review ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("querying reviews: %w", err)
	}
	defer rows.Close()

	var out []Review
	for rows.Next() {
		var r Review
		var createdAt string
		if err := rows.Scan(&r.ID, &r.Table, &r.Column, &r.ApprovedTerm, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at for review %s: %w", r.ID, err)
		}
		r.CreatedAt = t
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Runs ---

// StartRun records a stage as running.
func (s *Store) StartRun(r Run) error {
	_, err := s.db.Exec(`INSERT INTO runs (id, stage, status, started_at) VALUES (?, ?, 'running', ?)`,
		r.ID, r.Stage, r.StartedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("recording run start: %w", err)
	}
	return nil
}

// FinishRun marks run id as completed or failed.
func (s *Store) FinishRun(id, status string, rows int, detail string) error {
	res, err := s.db.Exec(`UPDATE runs SET status = ?, row_count = ?, detail = ?, finished_at = ? WHERE id = ?`,
		status, rows, detail, time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("recording run finish: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(limit int) ([]Run, error) {
	rows, err := s.db.Query(`
		SELECT id, stage, status, row_count, detail, started_at, COALESCE(finished_at, '')
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var started, finished string
		if err := rows.Scan(&r.ID, &r.Stage, &r.Status, &r.Rows, &r.Detail, &started, &finished); err != nil {
			return nil, err
		}
		if r.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("parsing started_at: %w", err)
		}
		if finished != "" {
			if r.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
				return nil, fmt.Errorf("parsing finished_at: %w", err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func encodeStrings(v []string) string {
	if v == nil {
		v = []string{}
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func decodeStrings(s string) ([]string, error) {
	out := []string{}
	if s == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	return out, nil
}
