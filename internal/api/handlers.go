package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/termmap/internal/review"
	"github.com/kalambet/termmap/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Deps holds what the review API reads and writes.
type Deps struct {
	Store   *storage.Store
	Reviews *review.Service
	// Token, when set, is required as a bearer token on every route except
	// /health.
	Token string
}

// NewHandler returns the review API router.
func NewHandler(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(d.Token))
		r.Get("/tables", handleTables(d))
		r.Get("/tables/{table}/columns", handleTableColumns(d))
		r.Get("/columns/{table}/{column}", handleColumn(d))
		r.Get("/glossary", handleGlossary(d))
		r.Get("/reviews", handleListReviews(d))
		r.Post("/reviews", handleAddReview(d))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// TableSummary is one entry of GET /tables.
type TableSummary struct {
	Table   string `json:"table"`
	Columns int    `json:"columns"`
}

func handleTables(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		names, err := d.Store.Tables()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing tables: %v", err)
			return
		}
		out := make([]TableSummary, 0, len(names))
		for _, name := range names {
			cards, err := d.Store.TableCards(name)
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "listing columns of %s: %v", name, err)
				return
			}
			out = append(out, TableSummary{Table: name, Columns: len(cards)})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// ColumnSummary is one row of the per-table overview.
type ColumnSummary struct {
	Column        string   `json:"column"`
	DType         string   `json:"dtype"`
	TopTerm       string   `json:"top_term,omitempty"`
	TopScore      float64  `json:"top_score,omitempty"`
	LLMTerm       string   `json:"llm_term,omitempty"`
	LLMConfidence *float64 `json:"llm_confidence,omitempty"`
	ApprovedTerm  string   `json:"approved_term,omitempty"`
}

func handleTableColumns(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		table := chi.URLParam(r, "table")
		cards, err := d.Store.TableCards(table)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing columns: %v", err)
			return
		}
		if len(cards) == 0 {
			httpError(w, http.StatusNotFound, "not_found_error", "unknown table %q", table)
			return
		}
		matches, err := d.Store.TableMatches(table)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing matches: %v", err)
			return
		}
		preds, err := d.Store.ListPredictions()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing predictions: %v", err)
			return
		}
		latest, err := d.Reviews.Latest()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing reviews: %v", err)
			return
		}

		out := make([]ColumnSummary, len(cards))
		index := make(map[string]int, len(cards))
		for i, c := range cards {
			out[i] = ColumnSummary{Column: c.Column, DType: c.DType}
			index[c.Column] = i
		}
		for _, m := range matches {
			if i, ok := index[m.Column]; ok && m.Rank == 1 {
				out[i].TopTerm, out[i].TopScore = m.Term, m.Score
			}
		}
		for _, p := range preds {
			if i, ok := index[p.Column]; ok && p.Table == table {
				conf := p.Confidence
				out[i].LLMTerm, out[i].LLMConfidence = p.Term, &conf
			}
		}
		for _, rv := range latest {
			if i, ok := index[rv.Column]; ok && rv.Table == table {
				out[i].ApprovedTerm = rv.ApprovedTerm
			}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleColumn(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		table, column := chi.URLParam(r, "table"), chi.URLParam(r, "column")
		v, err := d.Reviews.Column(table, column)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "unknown column %s.%s", table, column)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading column: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

func handleGlossary(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		terms, err := d.Store.ListTerms()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing glossary: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, terms)
	}
}

// handleListReviews returns the latest decision per column, or the full
// append-only log with ?all=true.
func handleListReviews(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			out []storage.Review
			err error
		)
		if r.URL.Query().Get("all") == "true" {
			out, err = d.Store.ListReviews()
		} else {
			out, err = d.Reviews.Latest()
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing reviews: %v", err)
			return
		}
		if out == nil {
			out = []storage.Review{}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

type reviewRequest struct {
	Table        string `json:"table"`
	Column       string `json:"column"`
	ApprovedTerm string `json:"approved_term"`
}

func handleAddReview(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req reviewRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Table == "" || req.Column == "" || req.ApprovedTerm == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "table, column and approved_term are required")
			return
		}

		rv, err := d.Reviews.Approve(req.Table, req.Column, req.ApprovedTerm)
		switch {
		case errors.Is(err, review.ErrUnknownColumn):
			httpError(w, http.StatusNotFound, "not_found_error", "%v", err)
			return
		case errors.Is(err, review.ErrUnknownTerm):
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "saving review: %v", err)
			return
		}
		slog.Info("review saved", "table", rv.Table, "column", rv.Column, "term", rv.ApprovedTerm)
		writeJSON(w, http.StatusCreated, rv)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("api: encoding response failed", "error", err)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
