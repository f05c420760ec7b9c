package dedup

import (
	"math"
	"sort"
)

// Cosine returns the cosine similarity of a and b, or 0 when either is empty,
// zero or the dimensions differ
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// pair is two indexes whose embeddings passed the similarity pre-filter
type pair struct {
	i, j       int
	similarity float64
}

// similarPairs returns every pair i<j at or above threshold, most similar first
func similarPairs(vectors [][]float32, threshold float64) []pair {
	var pairs []pair
	for i := 0; i < len(vectors); i++ {
		for j := i + 1; j < len(vectors); j++ {
			if sim := Cosine(vectors[i], vectors[j]); sim >= threshold {
				pairs = append(pairs, pair{i: i, j: j, similarity: sim})
			}
		}
	}
	sort.SliceStable(pairs, func(a, b int) bool {
		return pairs[a].similarity > pairs[b].similarity
	})
	return pairs
}

// unionFind groups candidates judged equivalent
type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	return &unionFind{parent: parent}
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

// union joins the sets of a and b under the smaller root
func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if rb < ra {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
}

// groups returns the members of every set ordered by their smallest member
func (u *unionFind) groups() [][]int {
	index := make(map[int]int)
	var out [][]int
	for i := range u.parent {
		root := u.find(i)
		gi, ok := index[root]
		if !ok {
			gi = len(out)
			index[root] = gi
			out = append(out, nil)
		}
		out[gi] = append(out[gi], i)
	}
	return out
}
