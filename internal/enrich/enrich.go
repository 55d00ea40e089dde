// Package enrich runs pre-ranked gene-set enrichment against pathway
// collections.
package enrich

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/rnadiff/rnadiff/internal/dataset"
	"github.com/rnadiff/rnadiff/internal/dge"
)

// RankEntry is one gene's contribution to the ranking before collapse.
type RankEntry struct {
	Symbol string
	Stat   float64
}

// Ranking is the collapsed symbol -> statistic list, sorted ascending by
// statistic. The sort fixes internal tie-breaking; the enrichment test
// itself is order-invariant on the mapping.
type Ranking struct {
	Symbols []string
	Stats   []float64
}

// BuildRanking collapses duplicate symbols by arithmetic mean, excludes
// non-finite statistics, and sorts ascending by value.
func BuildRanking(entries []RankEntry) (*Ranking, error) {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, e := range entries {
		if e.Symbol == "" || math.IsNaN(e.Stat) || math.IsInf(e.Stat, 0) {
			continue
		}
		sums[e.Symbol] += e.Stat
		counts[e.Symbol]++
	}
	if len(sums) == 0 {
		return nil, fmt.Errorf("enrich: ranked list is empty")
	}

	r := &Ranking{
		Symbols: make([]string, 0, len(sums)),
		Stats:   make([]float64, 0, len(sums)),
	}
	for sym := range sums {
		r.Symbols = append(r.Symbols, sym)
	}
	// Name order first so equal statistics rank deterministically.
	sort.Strings(r.Symbols)
	for _, sym := range r.Symbols {
		r.Stats = append(r.Stats, sums[sym]/float64(counts[sym]))
	}

	idx := make([]int, len(r.Symbols))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool {
		return r.Stats[idx[i]] < r.Stats[idx[j]]
	})

	sorted := &Ranking{
		Symbols: make([]string, len(idx)),
		Stats:   make([]float64, len(idx)),
	}
	for i, j := range idx {
		sorted.Symbols[i] = r.Symbols[j]
		sorted.Stats[i] = r.Stats[j]
	}
	return sorted, nil
}

// Len returns the number of ranked genes.
func (r *Ranking) Len() int { return len(r.Symbols) }

// Options control the permutation test.
type Options struct {
	Permutations int
	Seed         int64
	MinSetSize   int
	MaxSetSize   int
}

// PathwayResult is one pathway's enrichment outcome.
type PathwayResult struct {
	Pathway     string
	Size        int // members present in the ranking
	ES          float64
	NES         float64
	PValue      float64
	PAdj        float64
	Direction   string // "up" if NES > 0, else "down"
	LeadingEdge []string
}

// Run tests every eligible set of one collection against the ranked list.
// Each collection gets its own multiple-testing correction; results from
// different collections are never pooled.
func Run(r *Ranking, c *dataset.Collection, opts Options) ([]PathwayResult, error) {
	if r == nil || r.Len() == 0 {
		return nil, fmt.Errorf("enrich: ranked list is empty")
	}
	if c == nil || len(c.Sets) == 0 {
		return nil, fmt.Errorf("enrich: collection %q has no gene sets", collectionName(c))
	}
	if opts.Permutations <= 0 {
		opts.Permutations = 1000
	}
	if opts.MinSetSize <= 0 {
		opts.MinSetSize = 5
	}
	if opts.MaxSetSize <= 0 {
		opts.MaxSetSize = 500
	}

	// Walk order is by decreasing statistic.
	desc := make([]int, r.Len())
	for i := range desc {
		desc[i] = r.Len() - 1 - i
	}
	pos := make(map[string]int, r.Len())
	for walkIdx, ri := range desc {
		pos[r.Symbols[ri]] = walkIdx
	}
	absStats := make([]float64, r.Len())
	for walkIdx, ri := range desc {
		absStats[walkIdx] = math.Abs(r.Stats[ri])
	}

	rng := rand.New(rand.NewSource(opts.Seed))

	var results []PathwayResult
	for _, set := range c.Sets {
		var hits []int
		for _, g := range set.Genes {
			if p, ok := pos[g]; ok {
				hits = append(hits, p)
			}
		}
		if len(hits) < opts.MinSetSize || len(hits) > opts.MaxSetSize {
			continue
		}
		sort.Ints(hits)

		es, peak := enrichmentScore(absStats, hits)

		// Gene-set permutation null: random sets of the same size.
		sameSign := 0
		asExtreme := 0
		sumAbsSameSign := 0.0
		for p := 0; p < opts.Permutations; p++ {
			null, _ := enrichmentScore(absStats, randomHits(rng, r.Len(), len(hits)))
			if (null >= 0) == (es >= 0) {
				sameSign++
				sumAbsSameSign += math.Abs(null)
				if math.Abs(null) >= math.Abs(es) {
					asExtreme++
				}
			}
		}

		pval := (float64(asExtreme) + 1) / (float64(sameSign) + 1)
		if pval > 1 {
			pval = 1
		}
		nes := 0.0
		if sameSign > 0 && sumAbsSameSign > 0 {
			nes = es / (sumAbsSameSign / float64(sameSign))
		}

		res := PathwayResult{
			Pathway:     set.Name,
			Size:        len(hits),
			ES:          es,
			NES:         nes,
			PValue:      pval,
			LeadingEdge: leadingEdge(r, desc, hits, es, peak),
		}
		if res.NES > 0 {
			res.Direction = "up"
		} else {
			res.Direction = "down"
		}
		results = append(results, res)
	}

	if len(results) == 0 {
		return nil, fmt.Errorf("enrich: no set in collection %q overlaps the ranked list within size bounds", c.Name)
	}

	pvals := make([]float64, len(results))
	for i, res := range results {
		pvals[i] = res.PValue
	}
	adj := dge.AdjustBH(pvals)
	for i := range results {
		results[i].PAdj = adj[i]
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].PAdj != results[j].PAdj {
			return results[i].PAdj < results[j].PAdj
		}
		return math.Abs(results[i].NES) > math.Abs(results[j].NES)
	})
	return results, nil
}

func collectionName(c *dataset.Collection) string {
	if c == nil {
		return ""
	}
	return c.Name
}

// enrichmentScore walks the descending ranking: member genes add their
// |stat| weight, non-members subtract a constant. Returns the maximum
// deviation from zero (signed) and the walk index where it occurs.
func enrichmentScore(absStats []float64, hits []int) (float64, int) {
	n := len(absStats)
	isHit := make(map[int]bool, len(hits))
	sumHit := 0.0
	for _, h := range hits {
		isHit[h] = true
		sumHit += absStats[h]
	}

	missPenalty := 0.0
	if n > len(hits) {
		missPenalty = 1.0 / float64(n-len(hits))
	}
	unweighted := sumHit == 0

	running := 0.0
	best := 0.0
	peak := 0
	for i := 0; i < n; i++ {
		if isHit[i] {
			if unweighted {
				running += 1.0 / float64(len(hits))
			} else {
				running += absStats[i] / sumHit
			}
		} else {
			running -= missPenalty
		}
		if math.Abs(running) > math.Abs(best) {
			best = running
			peak = i
		}
	}
	return best, peak
}

// randomHits samples k distinct walk positions, the gene-set permutation.
func randomHits(rng *rand.Rand, n, k int) []int {
	return rng.Perm(n)[:k]
}

// leadingEdge returns the member genes driving the signal: those at or
// before the peak for positive scores, those after it for negative scores.
func leadingEdge(r *Ranking, desc, hits []int, es float64, peak int) []string {
	var edge []string
	for _, h := range hits {
		if es >= 0 && h <= peak {
			edge = append(edge, r.Symbols[desc[h]])
		} else if es < 0 && h > peak {
			edge = append(edge, r.Symbols[desc[h]])
		}
	}
	return edge
}
