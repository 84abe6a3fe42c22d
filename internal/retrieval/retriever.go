// Package retrieval ranks glossary terms against column cards by cosine
// similarity in a shared TF-IDF space.
package retrieval

import (
	"fmt"

	"github.com/kalambet/termmap/internal/glossary"
	"github.com/kalambet/termmap/internal/profile"
)

// DefaultTopK is the number of candidates kept per column.
const DefaultTopK = 3

// Match is one ranked candidate term for a column. Rank is 1-based.
type Match struct {
	Table  string  `json:"table"`
	Column string  `json:"column"`
	Rank   int     `json:"rank"`
	Term   string  `json:"term"`
	Score  float64 `json:"score"`
}

// Retriever produces top-k term candidates per column.
type Retriever struct {
	k int
}

// NewRetriever creates a Retriever that keeps k candidates per column.
// Non-positive k falls back to DefaultTopK.
func NewRetriever(k int) *Retriever {
	if k <= 0 {
		k = DefaultTopK
	}
	return &Retriever{k: k}
}

// K returns the number of candidates kept per column.
func (r *Retriever) K() int { return r.k }

// Match ranks terms for every card. cardVecs and termVecs must be aligned
// with cards and terms and live in the same feature space. Each card yields
// exactly min(k, len(terms)) rows with non-increasing scores.
func (r *Retriever) Match(cards []profile.Card, cardVecs [][]float64, terms []glossary.Term, termVecs [][]float64) ([]Match, error) {
	if len(cards) != len(cardVecs) {
		return nil, fmt.Errorf("%d cards but %d card vectors", len(cards), len(cardVecs))
	}
	if len(terms) != len(termVecs) {
		return nil, fmt.Errorf("%d terms but %d term vectors", len(terms), len(termVecs))
	}

	idx := NewBruteForce(termVecs)
	var out []Match
	for i, c := range cards {
		for rank, h := range idx.Search(cardVecs[i], r.k) {
			out = append(out, Match{
				Table:  c.Table,
				Column: c.Column,
				Rank:   rank + 1,
				Term:   terms[h.Index].Term,
				Score:  h.Score,
			})
		}
	}
	return out, nil
}
