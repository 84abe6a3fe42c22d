// Package vectorize fits a word-bounded character n-gram TF-IDF feature space
// and projects texts into it.
package vectorize

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// N-gram length bounds, inclusive.
const (
	MinN = 3
	MaxN = 5
)

// FeatureSpace is a fitted vocabulary of n-grams with their inverse document
// frequencies. Vocab is sorted; IDF[i] belongs to Vocab[i].
type FeatureSpace struct {
	Vocab []string
	IDF   []float64

	index map[string]int
}

// NewFeatureSpace rebuilds a fitted space from persisted vocabulary and IDF
// weights.
func NewFeatureSpace(vocab []string, idf []float64) (*FeatureSpace, error) {
	if len(vocab) != len(idf) {
		return nil, fmt.Errorf("vocabulary has %d entries but idf has %d", len(vocab), len(idf))
	}
	fs := &FeatureSpace{Vocab: vocab, IDF: idf, index: make(map[string]int, len(vocab))}
	for i, g := range vocab {
		fs.index[g] = i
	}
	return fs, nil
}

// Dim returns the dimensionality of the space.
func (fs *FeatureSpace) Dim() int { return len(fs.Vocab) }

// Fit learns the vocabulary and smoothed IDF weights from docs.
func Fit(docs []string) *FeatureSpace {
	df := make(map[string]int)
	for _, d := range docs {
		seen := make(map[string]struct{})
		for _, g := range Analyze(d) {
			if _, ok := seen[g]; ok {
				continue
			}
			seen[g] = struct{}{}
			df[g]++
		}
	}

	vocab := make([]string, 0, len(df))
	for g := range df {
		vocab = append(vocab, g)
	}
	sort.Strings(vocab)

	n := float64(len(docs))
	idf := make([]float64, len(vocab))
	for i, g := range vocab {
		idf[i] = math.Log((1+n)/(1+float64(df[g]))) + 1
	}

	fs, _ := NewFeatureSpace(vocab, idf)
	return fs
}

// Transform projects docs into the space. N-grams outside the vocabulary are
// ignored. Every non-zero row has unit L2 norm.
func (fs *FeatureSpace) Transform(docs []string) [][]float64 {
	out := make([][]float64, len(docs))
	for i, d := range docs {
		row := make([]float64, len(fs.Vocab))
		for _, g := range Analyze(d) {
			if j, ok := fs.index[g]; ok {
				row[j]++
			}
		}
		var sq float64
		for j := range row {
			if row[j] == 0 {
				continue
			}
			row[j] *= fs.IDF[j]
			sq += row[j] * row[j]
		}
		if sq > 0 {
			l2 := math.Sqrt(sq)
			for j := range row {
				row[j] /= l2
			}
		}
		out[i] = row
	}
	return out
}

// FitTransform fits a space on docs and returns it with their vectors.
func FitTransform(docs []string) (*FeatureSpace, [][]float64) {
	fs := Fit(docs)
	return fs, fs.Transform(docs)
}

// Split cuts a matrix fitted over cards followed by terms back into the two
// groups.
func Split(m [][]float64, nCards int) (cards, terms [][]float64) {
	if nCards > len(m) {
		nCards = len(m)
	}
	return m[:nCards], m[nCards:]
}

// Analyze lower-cases text and returns its character n-grams. Each
// whitespace-separated word is padded with one space on both sides; n-grams
// never cross word boundaries. A padded word no longer than n is emitted once
// as a whole and ends the scan for that word.
func Analyze(text string) []string {
	var grams []string
	for _, w := range strings.Fields(strings.ToLower(text)) {
		padded := []rune(" " + w + " ")
		l := len(padded)
		for n := MinN; n <= MaxN; n++ {
			offset := 0
			grams = append(grams, string(padded[offset:min(n, l)]))
			for offset+n < l {
				offset++
				grams = append(grams, string(padded[offset:offset+n]))
			}
			if offset == 0 {
				break
			}
		}
	}
	return grams
}
