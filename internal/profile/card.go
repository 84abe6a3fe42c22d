package profile

import (
	"strconv"
	"strings"

	"github.com/kalambet/termmap/internal/dataset"
)

// CardText renders p in the fixed card layout. The output is a pure function
// of the profile; any change to it shifts the shared feature space.
func CardText(p ColumnProfile) string {
	hints := "none"
	if len(p.Hints) > 0 {
		hints = strings.Join(p.Hints, ", ")
	}

	var sb strings.Builder
	sb.WriteString("[Table] " + p.Table + "\n")
	sb.WriteString("[Column] " + p.Column + " (" + p.DType + ")\n")
	sb.WriteString("[Stats] rows=" + strconv.Itoa(p.RowCount) +
		", null_pct=" + dataset.FormatFloat(p.NullPct) +
		", distinct=" + strconv.Itoa(p.Distinct) + "\n")
	sb.WriteString("[Samples] " + strings.Join(p.Samples, ", ") + "\n")
	sb.WriteString("[Hints] " + hints)
	return sb.String()
}

// Cards profiles all tables and renders their cards, in table then column order.
func Cards(tables []dataset.Table) []Card {
	var cards []Card
	for _, t := range tables {
		for _, p := range ProfileTable(t) {
			cards = append(cards, Card{ColumnProfile: p, Text: CardText(p)})
		}
	}
	return cards
}
