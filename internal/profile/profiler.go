// Package profile turns dataset columns into structural profiles and the
// canonical card text used for retrieval and reranking.
package profile

import (
	"math"
	"regexp"
	"strings"

	"github.com/kalambet/termmap/internal/dataset"
)

var (
	dateRe  = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
	phoneRe = regexp.MustCompile(`^\+?\d{7,15}$`)
)

// ProfileTable profiles every column of t in column order.
func ProfileTable(t dataset.Table) []ColumnProfile {
	out := make([]ColumnProfile, 0, len(t.Columns))
	for _, c := range t.Columns {
		out = append(out, ProfileColumn(t.Name, c))
	}
	return out
}

// ProfileColumn computes the profile of a single column.
//
// Samples are the first MaxSamples distinct present values in row order, so
// the same file always yields the same card.
func ProfileColumn(table string, c dataset.Column) ColumnProfile {
	p := ColumnProfile{
		Table:    table,
		Column:   c.Name,
		DType:    c.DType,
		RowCount: c.Len(),
		Samples:  []string{},
	}

	if p.RowCount == 0 {
		p.NullPct = 1.0
		p.Hints = Hints(nil, p.DType)
		return p
	}

	missing := 0
	seen := make(map[string]struct{})
	for i, v := range c.Values {
		if c.Missing[i] {
			missing++
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		if len(p.Samples) < MaxSamples {
			p.Samples = append(p.Samples, v)
		}
	}

	p.NullPct = round3(float64(missing) / float64(p.RowCount))
	p.Distinct = len(seen)
	p.Hints = Hints(p.Samples, p.DType)
	return p
}

// Hints derives advisory pattern hints from the samples and declared type.
// The result order is fixed: email, date, phone, numeric.
func Hints(samples []string, dtype string) []string {
	text := strings.Join(samples, " ")
	hints := []string{}
	if strings.Contains(text, "@") {
		hints = append(hints, HintEmail)
	}
	if dateRe.MatchString(text) {
		hints = append(hints, HintDate)
	}
	if phoneRe.MatchString(strings.Join(strings.Fields(text), "")) {
		hints = append(hints, HintPhone)
	}
	if dataset.IsNumeric(dtype) {
		hints = append(hints, HintNumeric)
	}
	return hints
}

// round3 rounds half to even, so 1/16 becomes 0.062.
func round3(v float64) float64 {
	return math.RoundToEven(v*1000) / 1000
}
