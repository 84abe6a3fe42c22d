// Package reranking asks a language model to pick the best glossary term
// among a column's retrieval candidates and turns its reply into a validated
// prediction.
package reranking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/kalambet/termmap/internal/engine"
)

// Defaults for the oracle request.
const (
	DefaultModel     = "llama-3.1-8b-instant"
	DefaultMaxTokens = 256
	// MaxCandidates is the number of retrieval candidates offered per column.
	MaxCandidates = 3
)

// Candidate is one retrieval candidate offered to the oracle.
type Candidate struct {
	Term       string
	Definition string
	Score      float64
}

// Request is the reranking input for a single column.
type Request struct {
	Table      string
	Column     string
	CardText   string
	Candidates []Candidate
}

// Prediction is the oracle's validated choice for one column. Confidence is
// always within [0, 1] and Term never contains a separator character.
type Prediction struct {
	Table      string  `json:"table"`
	Column     string  `json:"column"`
	Term       string  `json:"llm_term"`
	Confidence float64 `json:"llm_confidence"`
	Reason     string  `json:"llm_reason"`
}

// Options tunes the oracle request.
type Options struct {
	Model     string
	MaxTokens int
	// Timeout bounds a single oracle call; zero leaves it to the engine.
	Timeout  time.Duration
	JSONMode bool
}

// LLMReranker picks one candidate per column with a single synchronous,
// temperature-0 chat call.
type LLMReranker struct {
	engine engine.Engine
	opts   Options
}

// New creates an LLMReranker. A nil engine is a configuration error.
func New(eng engine.Engine, opts Options) (*LLMReranker, error) {
	if eng == nil {
		return nil, errors.New("reranker: no oracle engine configured")
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	return &LLMReranker{engine: eng, opts: opts}, nil
}

// Rerank returns exactly one prediction for req. Oracle failures and
// malformed replies degrade to an empty-term, zero-confidence prediction whose
// reason carries the failure.
func (r *LLMReranker) Rerank(ctx context.Context, req Request) Prediction {
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	raw, err := r.engine.Chat(ctx, engine.ChatRequest{
		Model:       r.opts.Model,
		Messages:    []engine.Message{{Role: "user", Content: BuildPrompt(req.CardText, req.Candidates)}},
		Temperature: 0,
		MaxTokens:   r.opts.MaxTokens,
		JSONMode:    r.opts.JSONMode,
	})

	var p Prediction
	if err != nil {
		slog.Warn("reranker: oracle call failed, using fallback", "table", req.Table, "column", req.Column, "error", err)
		p = Prediction{Reason: "oracle error: " + err.Error()}
	} else {
		p = ParseResponse(raw)
	}
	p.Table = req.Table
	p.Column = req.Column
	return p
}

// BuildPrompt renders the strict-output instruction for one column.
func BuildPrompt(cardText string, candidates []Candidate) string {
	var lines []string
	for i, c := range candidates {
		lines = append(lines, fmt.Sprintf("%d) %s - %s", i+1, c.Term, c.Definition))
	}

	return `You are a data governance assistant.

Choose the BEST matching business term from the candidates.

COLUMN DETAILS:
` + cardText + `

CANDIDATE TERMS:
` + strings.Join(lines, "\n") + `

Return STRICT JSON with EXACT format:

{
"term": "<one candidate term EXACTLY>",
"confidence": <a number between 0.0 and 1.0>,
"reason": "<10-20 word explanation>"
}

Rules:
- Confidence MUST be a FLOAT between 0.0 and 1.0.
- Higher confidence means stronger semantic match.
- Use column samples, hints, and datatype to justify the score.
- Do NOT output definition in the term.`
}

// ParseResponse turns raw oracle text into a prediction. It tries the whole
// text as a JSON object, then the span from the first '{' to the last '}'.
// When neither parses, the result has an empty term, zero confidence and the
// raw text as its reason.
func ParseResponse(raw string) Prediction {
	text := strings.TrimSpace(raw)

	obj, ok := decodeObject(text)
	if !ok {
		start := strings.Index(text, "{")
		end := strings.LastIndex(text, "}")
		if start != -1 && end > start {
			obj, ok = decodeObject(text[start : end+1])
		}
	}
	if !ok {
		slog.Debug("reranker: unparseable oracle reply", "raw", raw)
		return Prediction{Reason: text}
	}

	return Prediction{
		Term:       SanitizeTerm(stringField(obj["term"])),
		Confidence: NormalizeConfidence(obj["confidence"]),
		Reason:     stringField(obj["reason"]),
	}
}

func decodeObject(s string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

func stringField(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}

// SanitizeTerm drops everything from the first '-', '—' or ':' onwards and
// trims the rest.
func SanitizeTerm(s string) string {
	if i := strings.IndexAny(s, "-—:"); i != -1 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// NormalizeConfidence coerces an oracle confidence to [0, 1] rounded half to
// even at four decimals. Numbers, numeric strings and booleans are accepted;
// anything else, including NaN, becomes 0.
func NormalizeConfidence(v any) float64 {
	var c float64
	switch x := v.(type) {
	case float64:
		c = x
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0
		}
		c = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0
		}
		c = f
	case bool:
		if x {
			c = 1
		}
	default:
		return 0
	}

	switch {
	case math.IsNaN(c):
		return 0
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return math.RoundToEven(c*1e4) / 1e4
}
