package reranking

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/termmap/internal/engine"
)

// --- mock engine ---

type mockEngine struct {
	chatFn func(ctx context.Context, req engine.ChatRequest) (string, error)
}

func (m *mockEngine) Chat(ctx context.Context, req engine.ChatRequest) (string, error) {
	if m.chatFn != nil {
		return m.chatFn(ctx, req)
	}
	return `{"term": "Revenue", "confidence": 0.5, "reason": "ok"}`, nil
}

func testRequest() Request {
	return Request{
		Table:    "sales",
		Column:   "amt",
		CardText: "[Table] sales\n[Column] amt (float64)",
		Candidates: []Candidate{
			{Term: "Revenue", Definition: "Total income", Score: 0.4},
			{Term: "Order Date", Definition: "When ordered", Score: 0.2},
			{Term: "Customer ID", Definition: "", Score: 0.1},
		},
	}
}

// --- tests ---

func TestNew_NilEngine(t *testing.T) {
	if _, err := New(nil, Options{}); err == nil {
		t.Error("expected error for nil engine")
	}
}

func TestRerank_RequestShape(t *testing.T) {
	var got engine.ChatRequest
	eng := &mockEngine{chatFn: func(_ context.Context, req engine.ChatRequest) (string, error) {
		got = req
		return `{"term": "Revenue", "confidence": 0.91, "reason": "amounts"}`, nil
	}}
	r, err := New(eng, Options{})
	if err != nil {
		t.Fatal(err)
	}

	p := r.Rerank(context.Background(), testRequest())
	if p.Table != "sales" || p.Column != "amt" || p.Term != "Revenue" || p.Confidence != 0.91 || p.Reason != "amounts" {
		t.Errorf("prediction = %+v", p)
	}
	if got.Model != DefaultModel || got.MaxTokens != DefaultMaxTokens || got.Temperature != 0 {
		t.Errorf("request = %+v", got)
	}
	if len(got.Messages) != 1 || got.Messages[0].Role != "user" {
		t.Fatalf("messages = %+v", got.Messages)
	}
	if !strings.Contains(got.Messages[0].Content, "1) Revenue - Total income") {
		t.Errorf("prompt missing candidate line:\n%s", got.Messages[0].Content)
	}
}

func TestRerank_OracleError(t *testing.T) {
	eng := &mockEngine{chatFn: func(context.Context, engine.ChatRequest) (string, error) {
		return "", errors.New("connection refused")
	}}
	r, _ := New(eng, Options{})
	p := r.Rerank(context.Background(), testRequest())
	if p.Table != "sales" || p.Column != "amt" {
		t.Errorf("fallback lost its key: %+v", p)
	}
	if p.Term != "" || p.Confidence != 0 {
		t.Errorf("fallback = %+v, want empty term and zero confidence", p)
	}
	if !strings.HasPrefix(p.Reason, "oracle error: ") || !strings.Contains(p.Reason, "connection refused") {
		t.Errorf("Reason = %q", p.Reason)
	}
}

func TestRerank_Timeout(t *testing.T) {
	eng := &mockEngine{chatFn: func(ctx context.Context, _ engine.ChatRequest) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	r, _ := New(eng, Options{Timeout: 10 * time.Millisecond})
	p := r.Rerank(context.Background(), testRequest())
	if !strings.Contains(p.Reason, "deadline exceeded") {
		t.Errorf("Reason = %q, want deadline exceeded", p.Reason)
	}
}

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt("CARD", testRequest().Candidates)
	for _, want := range []string{
		"COLUMN DETAILS:\nCARD",
		"1) Revenue - Total income\n2) Order Date - When ordered\n3) Customer ID - ",
		`"term": "<one candidate term EXACTLY>"`,
		"Do NOT output definition in the term.",
	} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestParseResponse_ClampsConfidence(t *testing.T) {
	p := ParseResponse(`{"term": "Customer ID", "confidence": 1.4, "reason": "matches"}`)
	if p.Confidence != 1.0 {
		t.Errorf("Confidence = %v, want 1.0", p.Confidence)
	}
	if p.Term != "Customer ID" {
		t.Errorf("Term = %q", p.Term)
	}
}

func TestParseResponse_ExtractsAndSanitizes(t *testing.T) {
	p := ParseResponse(`noise {"term": "Revenue - Gross", "confidence": 0.8, "reason": "ok"} trailing`)
	if p.Term != "Revenue" {
		t.Errorf("Term = %q, want Revenue", p.Term)
	}
	if p.Confidence != 0.8 || p.Reason != "ok" {
		t.Errorf("prediction = %+v", p)
	}
}

func TestParseResponse_CodeFence(t *testing.T) {
	p := ParseResponse("```json\n{\"term\": \"Order Date\", \"confidence\": \"0.73\", \"reason\": \"dates\"}\n```")
	if p.Term != "Order Date" || p.Confidence != 0.73 {
		t.Errorf("prediction = %+v", p)
	}
}

func TestParseResponse_Fallback(t *testing.T) {
	for _, raw := range []string{
		"I think it is Revenue",
		"{not json}",
		"42",
		`} backwards {`,
	} {
		p := ParseResponse(raw)
		if p.Term != "" || p.Confidence != 0 || p.Reason != raw {
			t.Errorf("ParseResponse(%q) = %+v, want fallback", raw, p)
		}
	}
}

func TestParseResponse_MissingFields(t *testing.T) {
	p := ParseResponse(`{"term": "Revenue"}`)
	if p.Term != "Revenue" || p.Confidence != 0 || p.Reason != "" {
		t.Errorf("prediction = %+v", p)
	}
}

func TestSanitizeTerm(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Revenue", "Revenue"},
		{"  Revenue - Gross income ", "Revenue"},
		{"Order Date — the date", "Order Date"},
		{"Customer ID: unique id", "Customer ID"},
		{"E-mail", "E"},
		{"", ""},
	}
	for _, tt := range tests {
		got := SanitizeTerm(tt.in)
		if got != tt.want {
			t.Errorf("SanitizeTerm(%q) = %q, want %q", tt.in, got, tt.want)
		}
		if strings.ContainsAny(got, "-—:") {
			t.Errorf("SanitizeTerm(%q) kept a separator: %q", tt.in, got)
		}
	}
}

func TestNormalizeConfidence(t *testing.T) {
	tests := []struct {
		in   any
		want float64
	}{
		{0.5, 0.5},
		{1.4, 1.0},
		{-0.2, 0},
		{0.123456, 0.1235},
		{0.03125, 0.0312},
		{"0.9", 0.9},
		{" 0.25 ", 0.25},
		{"high", 0},
		{nil, 0},
		{math.NaN(), 0},
		{math.Inf(1), 1},
		{true, 1},
		{[]any{0.5}, 0},
	}
	for _, tt := range tests {
		if got := NormalizeConfidence(tt.in); got != tt.want {
			t.Errorf("NormalizeConfidence(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
