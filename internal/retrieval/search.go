package retrieval

import (
	"container/heap"
	"math"
	"sort"
)

// Epsilon is added to every L2 norm so zero vectors score 0 instead of NaN.
const Epsilon = 1e-9

// Hit is a scored candidate. Index is the candidate's position in the
// searched set.
type Hit struct {
	Index int
	Score float64
}

// Searcher finds the k nearest candidates to a query vector.
type Searcher interface {
	Search(vec []float64, k int) []Hit
}

// Compile-time check that BruteForce implements Searcher.
var _ Searcher = (*BruteForce)(nil)

// BruteForce scores a query against every candidate. Candidate norms are
// computed once at construction.
type BruteForce struct {
	vecs  [][]float64
	norms []float64
}

// NewBruteForce indexes vecs for cosine search.
func NewBruteForce(vecs [][]float64) *BruteForce {
	b := &BruteForce{vecs: vecs, norms: make([]float64, len(vecs))}
	for i, v := range vecs {
		b.norms[i] = norm(v)
	}
	return b
}

// Search returns min(k, candidates) hits ordered by descending score; equal
// scores keep candidate order.
func (b *BruteForce) Search(vec []float64, k int) []Hit {
	if k <= 0 || len(b.vecs) == 0 {
		return nil
	}
	qn := norm(vec)
	h := &hitHeap{}
	for i, v := range b.vecs {
		hit := Hit{Index: i, Score: dot(vec, v) / ((qn + Epsilon) * (b.norms[i] + Epsilon))}
		if h.Len() < k {
			heap.Push(h, hit)
		} else if hit.Score > (*h)[0].Score {
			(*h)[0] = hit
			heap.Fix(h, 0)
		}
	}

	out := make([]Hit, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(Hit)
	}
	return out
}

// Cosine returns the pairwise cosine similarity of every row of a against
// every row of b.
func Cosine(a, b [][]float64) [][]float64 {
	bn := make([]float64, len(b))
	for j, v := range b {
		bn[j] = norm(v)
	}
	out := make([][]float64, len(a))
	for i, u := range a {
		un := norm(u)
		row := make([]float64, len(b))
		for j, v := range b {
			row[j] = dot(u, v) / ((un + Epsilon) * (bn[j] + Epsilon))
		}
		out[i] = row
	}
	return out
}

// TopK ranks one row of scores and returns the best min(k, len(scores)) hits.
// The sort is stable, so ties keep their original order.
func TopK(scores []float64, k int) []Hit {
	hits := make([]Hit, len(scores))
	for i, s := range scores {
		hits[i] = Hit{Index: i, Score: s}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if k < len(hits) {
		hits = hits[:max(k, 0)]
	}
	return hits
}

func norm(v []float64) float64 {
	var sum float64
	for _, f := range v {
		sum += f * f
	}
	return math.Sqrt(sum)
}

func dot(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// hitHeap is a min-heap whose root is the weakest kept hit: lowest score,
// and among equal scores the latest candidate.
type hitHeap []Hit

func (h hitHeap) Len() int { return len(h) }
func (h hitHeap) Less(i, j int) bool {
	if h[i].Score != h[j].Score {
		return h[i].Score < h[j].Score
	}
	return h[i].Index > h[j].Index
}
func (h hitHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *hitHeap) Push(x any)   { *h = append(*h, x.(Hit)) }
func (h *hitHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
