// Package pipeline runs the matching stages in order: profile, embed,
// retrieve and rerank. Every stage reads the previous stage's relation from
// storage and replaces its own.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/termmap/internal/dataset"
	"github.com/kalambet/termmap/internal/glossary"
	"github.com/kalambet/termmap/internal/profile"
	"github.com/kalambet/termmap/internal/reranking"
	"github.com/kalambet/termmap/internal/retrieval"
	"github.com/kalambet/termmap/internal/storage"
	"github.com/kalambet/termmap/internal/vectorize"
)

// ErrMissingCard is returned when a match refers to a column that has no
// card. Stages must be run in order over the same data.
var ErrMissingCard = errors.New("match has no column card")

// Stage names as recorded in the runs relation.
const (
	StageProfile  = "profile"
	StageEmbed    = "embed"
	StageRetrieve = "retrieve"
	StageRerank   = "rerank"
)

// Stages lists the stage names in the order Run executes them.
var Stages = []string{StageProfile, StageEmbed, StageRetrieve, StageRerank}

// Config locates the input data.
type Config struct {
	DataDir      string
	GlossaryFile string
	TopK         int
}

// Summary reports what a stage produced.
type Summary struct {
	RunID  string
	Stage  string
	Rows   int
	Detail string
}

// Runner executes pipeline stages against a store.
type Runner struct {
	store *storage.Store
	cfg   Config
}

// NewRunner creates a Runner. TopK defaults to retrieval.DefaultTopK.
func NewRunner(store *storage.Store, cfg Config) *Runner {
	if cfg.TopK <= 0 {
		cfg.TopK = retrieval.DefaultTopK
	}
	return &Runner{store: store, cfg: cfg}
}

func (r *Runner) glossaryPath() string {
	if filepath.IsAbs(r.cfg.GlossaryFile) {
		return r.cfg.GlossaryFile
	}
	return filepath.Join(r.cfg.DataDir, r.cfg.GlossaryFile)
}

// stage records a runs row around fn.
func (r *Runner) stage(name string, fn func() (int, string, error)) (Summary, error) {
	s := Summary{RunID: uuid.NewString(), Stage: name}
	if err := r.store.StartRun(storage.Run{ID: s.RunID, Stage: name, StartedAt: time.Now()}); err != nil {
		return s, err
	}

	rows, detail, err := fn()
	status := "completed"
	if err != nil {
		status = "failed"
		detail = err.Error()
	}
	if ferr := r.store.FinishRun(s.RunID, status, rows, detail); ferr != nil {
		slog.Warn("pipeline: recording run failed", "stage", name, "error", ferr)
	}
	if err != nil {
		return s, fmt.Errorf("%s: %w", name, err)
	}

	s.Rows, s.Detail = rows, detail
	slog.Info("stage complete", "stage", name, "rows", rows, "detail", detail)
	return s, nil
}

// Profile loads every dataset in the data directory except the glossary and
// stores one card per column.
func (r *Runner) Profile(ctx context.Context) (Summary, error) {
	return r.stage(StageProfile, func() (int, string, error) {
		tables, err := dataset.LoadDir(r.cfg.DataDir, filepath.Base(r.glossaryPath()))
		if err != nil {
			return 0, "", err
		}
		if len(tables) == 0 {
			return 0, "", fmt.Errorf("no datasets found in %s", r.cfg.DataDir)
		}

		var cards []profile.Card
		for _, t := range tables {
			if err := ctx.Err(); err != nil {
				return 0, "", err
			}
			tc := profile.Cards([]dataset.Table{t})
			slog.Info("profiled table", "table", t.Name, "columns", len(tc), "rows", t.Rows)
			cards = append(cards, tc...)
		}
		if err := r.store.ReplaceCards(cards); err != nil {
			return 0, "", err
		}
		return len(cards), fmt.Sprintf("%d tables", len(tables)), nil
	})
}

// Embed loads the glossary, fits one feature space over all cards followed
// by all term texts and stores the space with both matrices.
func (r *Runner) Embed(ctx context.Context) (Summary, error) {
	return r.stage(StageEmbed, func() (int, string, error) {
		cards, err := r.store.ListCards()
		if err != nil {
			return 0, "", err
		}
		if len(cards) == 0 {
			return 0, "", errors.New("no column cards stored; run profile first")
		}
		g, err := glossary.Load(r.glossaryPath())
		if err != nil {
			return 0, "", err
		}
		terms := g.Terms()

		docs := make([]string, 0, len(cards)+len(terms))
		for _, c := range cards {
			docs = append(docs, c.Text)
		}
		docs = append(docs, g.Texts()...)

		fs, m := vectorize.FitTransform(docs)
		cardM, termM := vectorize.Split(m, len(cards))

		cv := make([]storage.CardVector, len(cards))
		for i, c := range cards {
			cv[i] = storage.CardVector{Table: c.Table, Column: c.Column, Vector: cardM[i]}
		}
		tv := make([]storage.TermVector, len(terms))
		for i, t := range terms {
			tv[i] = storage.TermVector{Term: t.Term, Vector: termM[i]}
		}

		if err := ctx.Err(); err != nil {
			return 0, "", err
		}
		if err := r.store.ReplaceTerms(terms); err != nil {
			return 0, "", err
		}
		if err := r.store.SaveEmbeddings(fs, cv, tv); err != nil {
			return 0, "", err
		}
		return len(cards) + len(terms), fmt.Sprintf("%d cards, %d terms, %d features", len(cards), len(terms), fs.Dim()), nil
	})
}

// Retrieve scores every card against every term in the stored feature space
// and keeps the top k terms per column.
func (r *Runner) Retrieve(ctx context.Context) (Summary, error) {
	return r.stage(StageRetrieve, func() (int, string, error) {
		cards, err := r.store.ListCards()
		if err != nil {
			return 0, "", err
		}
		cardVecs, err := r.store.CardEmbeddings()
		if err != nil {
			return 0, "", err
		}
		if len(cardVecs) != len(cards) {
			return 0, "", fmt.Errorf("%d cards but %d card embeddings; run embed again", len(cards), len(cardVecs))
		}
		cm := make([][]float64, len(cards))
		for i, v := range cardVecs {
			if v.Table != cards[i].Table || v.Column != cards[i].Column {
				return 0, "", fmt.Errorf("card embeddings are stale at %s.%s; run embed again", v.Table, v.Column)
			}
			cm[i] = v.Vector
		}

		terms, err := r.store.ListTerms()
		if err != nil {
			return 0, "", err
		}
		termVecs, err := r.store.TermEmbeddings()
		if err != nil {
			return 0, "", err
		}
		if len(termVecs) != len(terms) {
			return 0, "", fmt.Errorf("%d glossary terms but %d term embeddings; run embed again", len(terms), len(termVecs))
		}
		tm := make([][]float64, len(termVecs))
		for i, v := range termVecs {
			if v.Term != terms[i].Term {
				return 0, "", fmt.Errorf("glossary embeddings are stale at %q; run embed again", v.Term)
			}
			tm[i] = v.Vector
		}

		if err := ctx.Err(); err != nil {
			return 0, "", err
		}
		matches, err := retrieval.NewRetriever(r.cfg.TopK).Match(cards, cm, terms, tm)
		if err != nil {
			return 0, "", err
		}
		if err := r.store.ReplaceMatches(matches); err != nil {
			return 0, "", err
		}
		return len(matches), fmt.Sprintf("%d columns, k=%d", len(cards), r.cfg.TopK), nil
	})
}

// Rerank asks rr to choose among each column's top candidates and stores
// exactly one prediction per matched column. A match without a card fails the
// stage with ErrMissingCard.
func (r *Runner) Rerank(ctx context.Context, rr *reranking.LLMReranker) (Summary, error) {
	return r.stage(StageRerank, func() (int, string, error) {
		if rr == nil {
			return 0, "", errors.New("no reranker configured")
		}
		reqs, err := r.rerankRequests()
		if err != nil {
			return 0, "", err
		}

		preds := make([]reranking.Prediction, 0, len(reqs))
		fallbacks := 0
		for _, req := range reqs {
			if err := ctx.Err(); err != nil {
				return 0, "", err
			}
			p := rr.Rerank(ctx, req)
			if p.Term == "" {
				fallbacks++
			}
			slog.Info("reranked column", "table", p.Table, "column", p.Column, "term", p.Term, "confidence", p.Confidence)
			preds = append(preds, p)
		}
		if err := r.store.ReplacePredictions(preds); err != nil {
			return 0, "", err
		}
		return len(preds), fmt.Sprintf("%d fallbacks", fallbacks), nil
	})
}

// rerankRequests groups stored matches by column in card order.
func (r *Runner) rerankRequests() ([]reranking.Request, error) {
	cards, err := r.store.ListCards()
	if err != nil {
		return nil, err
	}
	matches, err := r.store.ListMatches()
	if err != nil {
		return nil, err
	}
	terms, err := r.store.ListTerms()
	if err != nil {
		return nil, err
	}
	g, err := glossary.New(terms)
	if err != nil {
		return nil, err
	}

	type key struct{ table, column string }
	byKey := make(map[key][]retrieval.Match)
	for _, m := range matches {
		k := key{m.Table, m.Column}
		byKey[k] = append(byKey[k], m)
	}

	var reqs []reranking.Request
	for _, c := range cards {
		k := key{c.Table, c.Column}
		ms, ok := byKey[k]
		if !ok {
			slog.Warn("pipeline: column has no matches, skipping rerank", "table", c.Table, "column", c.Column)
			continue
		}
		delete(byKey, k)
		reqs = append(reqs, reranking.Request{
			Table:      c.Table,
			Column:     c.Column,
			CardText:   c.Text,
			Candidates: candidates(ms, g),
		})
	}
	for k := range byKey {
		return nil, fmt.Errorf("%w: %s.%s", ErrMissingCard, k.table, k.column)
	}
	return reqs, nil
}

// candidates returns the rank-ordered top matches with their definitions.
func candidates(ms []retrieval.Match, g *glossary.Glossary) []reranking.Candidate {
	sorted := make([]retrieval.Match, len(ms))
	copy(sorted, ms)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Rank < sorted[j].Rank })
	if len(sorted) > reranking.MaxCandidates {
		sorted = sorted[:reranking.MaxCandidates]
	}

	out := make([]reranking.Candidate, len(sorted))
	for i, m := range sorted {
		out[i] = reranking.Candidate{Term: m.Term, Definition: g.Definition(m.Term), Score: m.Score}
	}
	return out
}

// Run executes all four stages in order, stopping at the first failure.
func (r *Runner) Run(ctx context.Context, rr *reranking.LLMReranker) ([]Summary, error) {
	if rr == nil {
		return nil, errors.New("no reranker configured")
	}
	var out []Summary
	steps := []func(context.Context) (Summary, error){
		r.Profile,
		r.Embed,
		r.Retrieve,
		func(ctx context.Context) (Summary, error) { return r.Rerank(ctx, rr) },
	}
	for _, step := range steps {
		s, err := step(ctx)
		if err != nil {
			return out, err
		}
		out = append(out, s)
	}
	return out, nil
}
