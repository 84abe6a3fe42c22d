// Package evaluate scores retrieval and reranking output against gold labels.
package evaluate

import (
	"fmt"
	"strings"

	"github.com/kalambet/termmap/internal/dataset"
	"github.com/kalambet/termmap/internal/reranking"
	"github.com/kalambet/termmap/internal/retrieval"
	"github.com/kalambet/termmap/internal/storage"
)

// Row is the outcome for one gold-labelled column.
type Row struct {
	Table       string  `json:"table"`
	Column      string  `json:"column"`
	CorrectTerm string  `json:"correct_term"`
	Predicted   string  `json:"predicted_term"`
	Score       float64 `json:"score"`
	Correct     bool    `json:"is_correct"`
}

// Report summarises top-1 accuracy over the evaluated columns.
type Report struct {
	Name     string  `json:"name"`
	Total    int     `json:"total"`
	Correct  int     `json:"correct"`
	Accuracy float64 `json:"accuracy"`
	Rows     []Row   `json:"rows"`
}

type key struct{ table, column string }

// Retrieval compares each gold label with the rank-1 match of its column.
// Gold rows with an empty correct term are ignored; a column without a match
// counts as wrong.
func Retrieval(gold []storage.GoldLabel, matches []retrieval.Match) Report {
	top := make(map[key]retrieval.Match)
	for _, m := range matches {
		if m.Rank == 1 {
			top[key{m.Table, m.Column}] = m
		}
	}
	return score("retrieval", gold, func(k key) (string, float64) {
		m := top[k]
		return m.Term, m.Score
	})
}

// LLM compares each gold label with the reranker's prediction for its column.
func LLM(gold []storage.GoldLabel, preds []reranking.Prediction) Report {
	byKey := make(map[key]reranking.Prediction, len(preds))
	for _, p := range preds {
		byKey[key{p.Table, p.Column}] = p
	}
	return score("llm", gold, func(k key) (string, float64) {
		p := byKey[k]
		return p.Term, p.Confidence
	})
}

func score(name string, gold []storage.GoldLabel, predict func(key) (string, float64)) Report {
	r := Report{Name: name}
	for _, g := range gold {
		if strings.TrimSpace(g.CorrectTerm) == "" {
			continue
		}
		term, s := predict(key{g.Table, g.Column})
		row := Row{
			Table:       g.Table,
			Column:      g.Column,
			CorrectTerm: g.CorrectTerm,
			Predicted:   term,
			Score:       s,
			Correct:     term == g.CorrectTerm,
		}
		r.Total++
		if row.Correct {
			r.Correct++
		}
		r.Rows = append(r.Rows, row)
	}
	if r.Total > 0 {
		r.Accuracy = float64(r.Correct) / float64(r.Total)
	}
	return r
}

// LoadGold reads a CSV with table, column and correct_term columns. When a
// column is labelled more than once the last row wins.
func LoadGold(path string) ([]storage.GoldLabel, error) {
	recs, err := dataset.ReadRecords(path)
	if err != nil {
		return nil, fmt.Errorf("loading gold labels: %w", err)
	}
	for _, h := range []string{"table", "column"} {
		if len(recs) > 0 {
			if _, ok := recs[0][h]; !ok {
				return nil, fmt.Errorf("gold labels %s: missing %q column", path, h)
			}
		}
	}

	out := make([]storage.GoldLabel, 0, len(recs))
	seen := make(map[key]int, len(recs))
	for _, r := range recs {
		term := strings.TrimSpace(r["correct_term"])
		if dataset.IsNull(term) {
			term = ""
		}
		g := storage.GoldLabel{
			Table:       strings.TrimSpace(r["table"]),
			Column:      strings.TrimSpace(r["column"]),
			CorrectTerm: term,
		}
		k := key{g.Table, g.Column}
		if i, ok := seen[k]; ok {
			out[i] = g
			continue
		}
		seen[k] = len(out)
		out = append(out, g)
	}
	return out, nil
}
