package retrieval

import (
	"math"
	"strings"
	"testing"

	"github.com/kalambet/termmap/internal/dataset"
	"github.com/kalambet/termmap/internal/glossary"
	"github.com/kalambet/termmap/internal/profile"
	"github.com/kalambet/termmap/internal/vectorize"
)

func TestCosine_ZeroVector(t *testing.T) {
	got := Cosine([][]float64{{0, 0}}, [][]float64{{1, 0}, {0, 0}})
	for j, v := range got[0] {
		if v != 0 || math.IsNaN(v) {
			t.Errorf("score[%d] = %v, want 0", j, v)
		}
	}
}

func TestCosine_ScaleInvariant(t *testing.T) {
	a := [][]float64{{1, 2, 3}}
	b := [][]float64{{2, 1, 0}, {4, 2, 0}}
	got := Cosine(a, b)
	if math.Abs(got[0][0]-got[0][1]) > 1e-9 {
		t.Errorf("scaled vectors score differently: %v vs %v", got[0][0], got[0][1])
	}
}

func TestTopK_StableTies(t *testing.T) {
	hits := TopK([]float64{0.5, 0.9, 0.5, 0.5}, 3)
	want := []int{1, 0, 2}
	if len(hits) != 3 {
		t.Fatalf("got %d hits, want 3", len(hits))
	}
	for i, h := range hits {
		if h.Index != want[i] {
			t.Errorf("hit %d index = %d, want %d", i, h.Index, want[i])
		}
	}
}

func TestTopK_KLargerThanInput(t *testing.T) {
	if got := TopK([]float64{0.1, 0.2}, 5); len(got) != 2 {
		t.Errorf("got %d hits, want 2", len(got))
	}
	if got := TopK([]float64{0.1}, 0); len(got) != 0 {
		t.Errorf("k=0 returned %d hits", len(got))
	}
}

func TestBruteForce_AgreesWithTopK(t *testing.T) {
	q := []float64{1, 1, 0}
	cands := [][]float64{{1, 0, 0}, {0, 1, 0}, {1, 1, 0}, {0, 0, 1}, {1, 0, 0}}
	got := NewBruteForce(cands).Search(q, 4)
	want := TopK(Cosine([][]float64{q}, cands)[0], 4)
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range got {
		if got[i].Index != want[i].Index {
			t.Errorf("hit %d: index %d, want %d", i, got[i].Index, want[i].Index)
		}
	}
}

func TestRetriever_Match(t *testing.T) {
	tbl := dataset.FromRecords("contacts", []string{"cust_email", "qty"},
		[][]string{{"a@b.com", "1"}, {"c@d.com", "2"}})
	cards := profile.Cards([]dataset.Table{tbl})
	terms := []glossary.Term{
		{Term: "Revenue", Definition: "Total income from sales"},
		{Term: "Email Address", Definition: "The electronic mail address of a contact", Synonyms: "email"},
		{Term: "Order Date", Definition: "Date an order was placed"},
		{Term: "Product Name", Definition: "Name of a product"},
	}

	docs := make([]string, 0, len(cards)+len(terms))
	for _, c := range cards {
		docs = append(docs, c.Text)
	}
	for _, tm := range terms {
		docs = append(docs, glossary.TermText(tm))
	}
	_, m := vectorize.FitTransform(docs)
	cardVecs, termVecs := vectorize.Split(m, len(cards))

	matches, err := NewRetriever(3).Match(cards, cardVecs, terms, termVecs)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(matches) != 6 {
		t.Fatalf("got %d matches, want 6", len(matches))
	}
	for i := 0; i < len(matches); i += 3 {
		for r := 0; r < 3; r++ {
			if matches[i+r].Rank != r+1 {
				t.Errorf("match %d rank = %d, want %d", i+r, matches[i+r].Rank, r+1)
			}
			if r > 0 && matches[i+r].Score > matches[i+r-1].Score {
				t.Errorf("scores increase at match %d", i+r)
			}
		}
	}

	var top Match
	for _, mt := range matches {
		if mt.Column == "cust_email" && mt.Rank == 1 {
			top = mt
		}
	}
	if !strings.EqualFold(top.Term, "Email Address") {
		t.Errorf("top term for cust_email = %q, want Email Address", top.Term)
	}
	if top.Score <= 0 {
		t.Errorf("top score for cust_email = %v, want > 0", top.Score)
	}
}

func TestRetriever_FewerTermsThanK(t *testing.T) {
	cards := []profile.Card{{ColumnProfile: profile.ColumnProfile{Table: "t", Column: "c"}}}
	terms := []glossary.Term{{Term: "A"}, {Term: "B"}}
	matches, err := NewRetriever(3).Match(cards, [][]float64{{1, 0}}, terms, [][]float64{{1, 0}, {0, 1}})
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 2 {
		t.Errorf("got %d matches, want 2", len(matches))
	}
}

func TestRetriever_MismatchedVectors(t *testing.T) {
	cards := []profile.Card{{}}
	if _, err := NewRetriever(3).Match(cards, nil, nil, nil); err == nil {
		t.Error("expected error for missing card vectors")
	}
}
