package glossary

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestTermText(t *testing.T) {
	got := TermText(Term{Term: "Email Address", Definition: "The electronic mail address", Synonyms: "email, e-mail"})
	want := "Term: email address email address\nDefinition: The electronic mail address\nSynonyms: email, e-mail"
	if got != want {
		t.Errorf("TermText = %q, want %q", got, want)
	}
}

func TestTermText_MissingFields(t *testing.T) {
	got := TermText(Term{Term: "Revenue"})
	want := "Term: revenue revenue\nDefinition: \nSynonyms: "
	if got != want {
		t.Errorf("TermText = %q, want %q", got, want)
	}
}

func TestNew_RejectsDuplicates(t *testing.T) {
	_, err := New([]Term{{Term: "Revenue"}, {Term: "Revenue"}})
	if !errors.Is(err, ErrDuplicateTerm) {
		t.Errorf("err = %v, want ErrDuplicateTerm", err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "glossary.csv")
	content := "TERM,DEFINITION,SYNONYMS\n" +
		"Customer ID,Unique identifier of a customer,cust id\n" +
		"Revenue,,\n" +
		",orphan definition,\n" +
		"\"Order Date\",\"Date an order was placed, local time\",NA\n"
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	g, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if g.Len() != 3 {
		t.Fatalf("Len = %d, want 3 (blank term skipped)", g.Len())
	}
	terms := g.Terms()
	if terms[0].Term != "Customer ID" || terms[2].Term != "Order Date" {
		t.Errorf("order = %v", terms)
	}
	if g.Definition("Order Date") != "Date an order was placed, local time" {
		t.Errorf("Definition = %q", g.Definition("Order Date"))
	}
	if g.Definition("Revenue") != "" {
		t.Errorf("missing definition should be empty, got %q", g.Definition("Revenue"))
	}
	if !g.Contains("Revenue") || g.Contains("revenue") {
		t.Error("Contains should be exact-match")
	}
}

func TestClean(t *testing.T) {
	if got := Clean("  Ｃｕｓｔｏｍｅｒ\x00 "); got != "Customer" {
		t.Errorf("Clean = %q, want %q", got, "Customer")
	}
}
