package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Relation names, in pipeline order. These are also the SQLite table names.
const (
	RelColumnCards        = "column_cards"
	RelGlossaryTerms      = "glossary_terms"
	RelFeatureSpace       = "feature_space"
	RelCardEmbeddings     = "card_embeddings"
	RelGlossaryEmbeddings = "glossary_embeddings"
	RelColumnMatches      = "column_matches"
	RelLLMPredictions     = "llm_predictions"
	RelGoldLabels         = "gold_labels"
	RelHumanReview        = "human_review"
	RelRuns               = "runs"
)

// Relations lists every exportable relation.
var Relations = []string{
	RelColumnCards,
	RelGlossaryTerms,
	RelFeatureSpace,
	RelCardEmbeddings,
	RelGlossaryEmbeddings,
	RelColumnMatches,
	RelLLMPredictions,
	RelGoldLabels,
	RelHumanReview,
	RelRuns,
}

// GoldLabel is the known-correct term for a column.
type GoldLabel struct {
	Table       string `json:"table"`
	Column      string `json:"column"`
	CorrectTerm string `json:"correct_term"`
}

// Review is one human approval. The log is append-only; the latest entry per
// column is authoritative.
type Review struct {
	ID           string    `json:"id"`
	Table        string    `json:"table"`
	Column       string    `json:"column"`
	ApprovedTerm string    `json:"approved_term"`
	CreatedAt    time.Time `json:"created_at"`
}

// Run records one executed pipeline stage.
type Run struct {
	ID         string
	Stage      string
	Status     string // "running", "completed", "failed"
	Rows       int
	Detail     string
	StartedAt  time.Time
	FinishedAt time.Time
}

// CardVector is a column card's embedding.
type CardVector struct {
	Table  string
	Column string
	Vector []float64
}

// TermVector is a glossary term's embedding.
type TermVector struct {
	Term   string
	Vector []float64
}
