// Package glossary holds the business glossary: the fixed vocabulary that
// columns are matched against.
package glossary

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/kalambet/termmap/internal/dataset"
)

// ErrDuplicateTerm is returned when two glossary rows share a term name.
var ErrDuplicateTerm = errors.New("duplicate glossary term")

// Term is a single glossary entry. Term is the unique key.
type Term struct {
	Term       string `json:"term"`
	Definition string `json:"definition"`
	Synonyms   string `json:"synonyms"`
}

// Glossary is an ordered, immutable set of terms. Order is the file order and
// is used to break retrieval ties.
type Glossary struct {
	terms []Term
	index map[string]int
}

// New builds a Glossary from terms, rejecting duplicates.
func New(terms []Term) (*Glossary, error) {
	g := &Glossary{
		terms: make([]Term, len(terms)),
		index: make(map[string]int, len(terms)),
	}
	for i, t := range terms {
		if _, ok := g.index[t.Term]; ok {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateTerm, t.Term)
		}
		g.index[t.Term] = i
		g.terms[i] = t
	}
	return g, nil
}

// Load reads a glossary CSV with TERM, DEFINITION and SYNONYMS columns
// (header match is case-insensitive). Missing cells become empty strings.
func Load(path string) (*Glossary, error) {
	recs, err := dataset.ReadRecords(path)
	if err != nil {
		return nil, fmt.Errorf("loading glossary: %w", err)
	}
	terms := make([]Term, 0, len(recs))
	for _, r := range recs {
		t := Term{
			Term:       Clean(r["term"]),
			Definition: Clean(r["definition"]),
			Synonyms:   Clean(r["synonyms"]),
		}
		if t.Term == "" {
			continue
		}
		terms = append(terms, t)
	}
	return New(terms)
}

// Terms returns the terms in glossary order.
func (g *Glossary) Terms() []Term {
	out := make([]Term, len(g.terms))
	copy(out, g.terms)
	return out
}

// Len returns the number of terms.
func (g *Glossary) Len() int { return len(g.terms) }

// Lookup returns the term with the given name.
func (g *Glossary) Lookup(name string) (Term, bool) {
	i, ok := g.index[name]
	if !ok {
		return Term{}, false
	}
	return g.terms[i], true
}

// Contains reports whether name is a glossary term.
func (g *Glossary) Contains(name string) bool {
	_, ok := g.index[name]
	return ok
}

// Definition returns the definition of name, or "" if it is unknown.
func (g *Glossary) Definition(name string) string {
	t, _ := g.Lookup(name)
	return t.Definition
}

// Clean applies NFKC normalization, drops control characters other than
// newlines and tabs, and trims surrounding whitespace.
func Clean(s string) string {
	s = norm.NFKC.String(s)
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

// TermText renders t for vectorization. The lower-cased term name appears
// twice to raise its weight against the definition and synonyms.
func TermText(t Term) string {
	name := cases.Lower(language.Und).String(strings.TrimSpace(t.Term))
	return "Term: " + name + " " + name + "\n" +
		"Definition: " + strings.TrimSpace(t.Definition) + "\n" +
		"Synonyms: " + strings.TrimSpace(t.Synonyms)
}

// Texts renders every term of g in glossary order.
func (g *Glossary) Texts() []string {
	out := make([]string, len(g.terms))
	for i, t := range g.terms {
		out[i] = TermText(t)
	}
	return out
}
