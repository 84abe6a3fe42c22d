// Package review records human approvals of suggested terms and assembles the
// per-column view a reviewer works from.
package review

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/termmap/internal/glossary"
	"github.com/kalambet/termmap/internal/profile"
	"github.com/kalambet/termmap/internal/reranking"
	"github.com/kalambet/termmap/internal/retrieval"
	"github.com/kalambet/termmap/internal/storage"
)

// ErrUnknownTerm is returned when an approval names a term outside the
// glossary.
var ErrUnknownTerm = errors.New("term is not in the glossary")

// ErrUnknownColumn is returned when an approval names a column with no card.
var ErrUnknownColumn = errors.New("column has no profile card")

// Store is the subset of storage the review service needs.
type Store interface {
	GetCard(table, column string) (profile.Card, error)
	ColumnMatches(table, column string) ([]retrieval.Match, error)
	GetPrediction(table, column string) (reranking.Prediction, error)
	ListTerms() ([]glossary.Term, error)
	AppendReview(r storage.Review) error
	ListReviews() ([]storage.Review, error)
}

// ColumnView is everything a reviewer sees for one column.
type ColumnView struct {
	Card       profile.Card          `json:"card"`
	Matches    []retrieval.Match     `json:"matches"`
	Prediction *reranking.Prediction `json:"prediction,omitempty"`
	Approved   *storage.Review       `json:"approved,omitempty"`
	// Default is the term the review form preselects: the prediction when it
	// is a glossary term, otherwise the first glossary term.
	Default string `json:"default_term"`
}

// Service validates and records approvals.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService creates a Service backed by store.
func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// Approve appends an approval of term for (table, column). The column must
// have a card and the term must be in the stored glossary.
func (s *Service) Approve(table, column, term string) (storage.Review, error) {
	term = strings.TrimSpace(term)
	if _, err := s.store.GetCard(table, column); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Review{}, fmt.Errorf("%w: %s.%s", ErrUnknownColumn, table, column)
		}
		return storage.Review{}, err
	}
	g, err := s.glossary()
	if err != nil {
		return storage.Review{}, err
	}
	if !g.Contains(term) {
		return storage.Review{}, fmt.Errorf("%w: %q", ErrUnknownTerm, term)
	}

	r := storage.Review{
		ID:           uuid.NewString(),
		Table:        table,
		Column:       column,
		ApprovedTerm: term,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.AppendReview(r); err != nil {
		return storage.Review{}, err
	}
	return r, nil
}

// Latest folds the append-only log into one decision per column; a later
// entry overrides an earlier one. The result keeps first-approval order.
func (s *Service) Latest() ([]storage.Review, error) {
	all, err := s.store.ListReviews()
	if err != nil {
		return nil, err
	}
	return Latest(all), nil
}

// Latest applies last-write-wins to a review log in append order.
func Latest(log []storage.Review) []storage.Review {
	type key struct{ table, column string }
	idx := make(map[key]int)
	var out []storage.Review
	for _, r := range log {
		k := key{r.Table, r.Column}
		if i, ok := idx[k]; ok {
			out[i] = r
			continue
		}
		idx[k] = len(out)
		out = append(out, r)
	}
	return out
}

// Column assembles the review view for (table, column).
func (s *Service) Column(table, column string) (ColumnView, error) {
	card, err := s.store.GetCard(table, column)
	if err != nil {
		return ColumnView{}, err
	}
	v := ColumnView{Card: card}

	if v.Matches, err = s.store.ColumnMatches(table, column); err != nil {
		return ColumnView{}, err
	}
	if len(v.Matches) > reranking.MaxCandidates {
		v.Matches = v.Matches[:reranking.MaxCandidates]
	}

	p, err := s.store.GetPrediction(table, column)
	switch {
	case err == nil:
		v.Prediction = &p
	case !errors.Is(err, storage.ErrNotFound):
		return ColumnView{}, err
	}

	latest, err := s.Latest()
	if err != nil {
		return ColumnView{}, err
	}
	for i := range latest {
		if latest[i].Table == table && latest[i].Column == column {
			v.Approved = &latest[i]
		}
	}

	terms, err := s.store.ListTerms()
	if err != nil {
		return ColumnView{}, err
	}
	if len(terms) > 0 {
		v.Default = terms[0].Term
	}
	if v.Prediction != nil {
		for _, t := range terms {
			if t.Term == v.Prediction.Term {
				v.Default = t.Term
				break
			}
		}
	}
	return v, nil
}

func (s *Service) glossary() (*glossary.Glossary, error) {
	terms, err := s.store.ListTerms()
	if err != nil {
		return nil, err
	}
	return glossary.New(terms)
}
