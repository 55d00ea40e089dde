package dge

import (
	"math"
	"sort"
)

// AdjustBH applies the Benjamini-Hochberg step-up correction. NaN p-values
// stay NaN and do not count toward the number of tests.
func AdjustBH(pvals []float64) []float64 {
	fdr := make([]float64, len(pvals))
	var idx []int
	for i, p := range pvals {
		if math.IsNaN(p) {
			fdr[i] = math.NaN()
			continue
		}
		idx = append(idx, i)
	}
	n := len(idx)
	if n == 0 {
		return fdr
	}

	sort.Slice(idx, func(i, j int) bool {
		return pvals[idx[i]] < pvals[idx[j]]
	})

	minP := 1.0
	for i := n - 1; i >= 0; i-- {
		origIdx := idx[i]
		rank := i + 1
		adjusted := pvals[origIdx] * float64(n) / float64(rank)
		if adjusted > 1 {
			adjusted = 1
		}
		if adjusted < minP {
			minP = adjusted
		} else {
			adjusted = minP
		}
		fdr[origIdx] = adjusted
	}
	return fdr
}
