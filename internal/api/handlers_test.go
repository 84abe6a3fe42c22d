package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kalambet/termmap/internal/glossary"
	"github.com/kalambet/termmap/internal/profile"
	"github.com/kalambet/termmap/internal/reranking"
	"github.com/kalambet/termmap/internal/retrieval"
	"github.com/kalambet/termmap/internal/review"
	"github.com/kalambet/termmap/internal/storage"
	"github.com/kalambet/termmap/internal/testutil"
	"github.com/kalambet/termmap/internal/vectorize"
)

// --- helpers ---

func testTerms() []glossary.Term {
	return []glossary.Term{
		{Term: "Email Address", Definition: "Electronic mail address of a contact", Synonyms: "email"},
		{Term: "Revenue", Definition: "Total income from sales", Synonyms: "amount"},
		{Term: "Order Date", Definition: "Date an order was placed"},
	}
}

// newTestStore seeds a store with one table, a fitted feature space, matches
// and one prediction.
func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	testutil.UseTestLogger(t)
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	cards := []profile.Card{
		{ColumnProfile: profile.ColumnProfile{Table: "contacts", Column: "cust_email", DType: "object"}, Text: "Table: contacts\nColumn: cust_email"},
		{ColumnProfile: profile.ColumnProfile{Table: "contacts", Column: "signup", DType: "object"}, Text: "Table: contacts\nColumn: signup"},
	}
	if err := s.ReplaceCards(cards); err != nil {
		t.Fatal(err)
	}
	terms := testTerms()
	if err := s.ReplaceTerms(terms); err != nil {
		t.Fatal(err)
	}

	g, err := glossary.New(terms)
	if err != nil {
		t.Fatal(err)
	}
	docs := append([]string{cards[0].Text, cards[1].Text}, g.Texts()...)
	fs, m := vectorize.FitTransform(docs)
	cm, tm := vectorize.Split(m, len(cards))
	cv := []storage.CardVector{
		{Table: "contacts", Column: "cust_email", Vector: cm[0]},
		{Table: "contacts", Column: "signup", Vector: cm[1]},
	}
	tv := make([]storage.TermVector, len(terms))
	for i, term := range terms {
		tv[i] = storage.TermVector{Term: term.Term, Vector: tm[i]}
	}
	if err := s.SaveEmbeddings(fs, cv, tv); err != nil {
		t.Fatal(err)
	}

	if err := s.ReplaceMatches([]retrieval.Match{
		{Table: "contacts", Column: "cust_email", Rank: 1, Term: "Email Address", Score: 0.7},
		{Table: "contacts", Column: "cust_email", Rank: 2, Term: "Order Date", Score: 0.1},
		{Table: "contacts", Column: "signup", Rank: 1, Term: "Order Date", Score: 0.3},
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.ReplacePredictions([]reranking.Prediction{
		{Table: "contacts", Column: "cust_email", Term: "Email Address", Confidence: 0.95, Reason: "emails"},
	}); err != nil {
		t.Fatal(err)
	}
	return s
}

func newTestServer(t *testing.T, token string) (*httptest.Server, *storage.Store) {
	t.Helper()
	s := newTestStore(t)
	srv := httptest.NewServer(NewHandler(Deps{Store: s, Reviews: review.NewService(s), Token: token}))
	t.Cleanup(srv.Close)
	return srv, s
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decoding %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func postReview(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url+"/reviews", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /reviews: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// --- tests ---

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, "secret")
	if code := getJSON(t, srv.URL+"/health", nil); code != http.StatusOK {
		t.Errorf("status = %d, want 200 without a token", code)
	}
}

func TestTables(t *testing.T) {
	srv, _ := newTestServer(t, "")
	var got []TableSummary
	if code := getJSON(t, srv.URL+"/tables", &got); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(got) != 1 || got[0] != (TableSummary{Table: "contacts", Columns: 2}) {
		t.Errorf("tables = %+v", got)
	}
}

func TestTableColumns(t *testing.T) {
	srv, _ := newTestServer(t, "")
	postReview(t, srv.URL, `{"table":"contacts","column":"signup","approved_term":"Order Date"}`)

	var got []ColumnSummary
	if code := getJSON(t, srv.URL+"/tables/contacts/columns", &got); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(got) != 2 {
		t.Fatalf("got %d columns, want 2", len(got))
	}
	if got[0].TopTerm != "Email Address" || got[0].LLMTerm != "Email Address" || got[0].LLMConfidence == nil {
		t.Errorf("cust_email = %+v", got[0])
	}
	if got[1].LLMConfidence != nil || got[1].ApprovedTerm != "Order Date" {
		t.Errorf("signup = %+v", got[1])
	}

	if code := getJSON(t, srv.URL+"/tables/nope/columns", nil); code != http.StatusNotFound {
		t.Errorf("unknown table status = %d, want 404", code)
	}
}

func TestColumn(t *testing.T) {
	srv, _ := newTestServer(t, "")
	var v review.ColumnView
	if code := getJSON(t, srv.URL+"/columns/contacts/cust_email", &v); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(v.Matches) != 2 || v.Prediction == nil || v.Default != "Email Address" {
		t.Errorf("view = %+v", v)
	}
	if code := getJSON(t, srv.URL+"/columns/contacts/ghost", nil); code != http.StatusNotFound {
		t.Errorf("unknown column status = %d, want 404", code)
	}
}

func TestGlossary(t *testing.T) {
	srv, _ := newTestServer(t, "")
	var got []glossary.Term
	getJSON(t, srv.URL+"/glossary", &got)
	if len(got) != 3 || got[0].Term != "Email Address" {
		t.Errorf("glossary = %+v", got)
	}
}

func TestReviews_PostAndList(t *testing.T) {
	srv, _ := newTestServer(t, "")

	resp := postReview(t, srv.URL, `{"table":"contacts","column":"cust_email","approved_term":"Revenue"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	postReview(t, srv.URL, `{"table":"contacts","column":"cust_email","approved_term":"Email Address"}`)

	var latest []storage.Review
	getJSON(t, srv.URL+"/reviews", &latest)
	if len(latest) != 1 || latest[0].ApprovedTerm != "Email Address" {
		t.Errorf("latest = %+v", latest)
	}

	var all []storage.Review
	getJSON(t, srv.URL+"/reviews?all=true", &all)
	if len(all) != 2 {
		t.Errorf("log has %d entries, want 2", len(all))
	}
}

func TestReviews_Rejects(t *testing.T) {
	srv, _ := newTestServer(t, "")
	cases := []struct {
		body string
		want int
	}{
		{`not json`, http.StatusBadRequest},
		{`{"table":"contacts","column":"cust_email"}`, http.StatusBadRequest},
		{`{"table":"contacts","column":"cust_email","approved_term":"Gross Margin"}`, http.StatusBadRequest},
		{`{"table":"contacts","column":"ghost","approved_term":"Revenue"}`, http.StatusNotFound},
	}
	for _, c := range cases {
		resp := postReview(t, srv.URL, c.body)
		if resp.StatusCode != c.want {
			t.Errorf("%s: status = %d, want %d", c.body, resp.StatusCode, c.want)
		}
		var body map[string]map[string]string
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body["error"]["message"] == "" {
			t.Errorf("%s: error body missing (%v)", c.body, err)
		}
	}
}

func TestBearerAuth(t *testing.T) {
	srv, _ := newTestServer(t, "secret")

	if code := getJSON(t, srv.URL+"/tables", nil); code != http.StatusUnauthorized {
		t.Errorf("status without token = %d, want 401", code)
	}

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/reviews",
		bytes.NewBufferString(`{"table":"contacts","column":"signup","approved_term":"Order Date"}`))
	req.Header.Set("Authorization", "Bearer secret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("status with token = %d, want 201", resp.StatusCode)
	}
}
