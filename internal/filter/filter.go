// Package filter builds keep-masks over count-matrix rows.
package filter

import (
	"fmt"

	"github.com/rnadiff/rnadiff/internal/config"
	"github.com/rnadiff/rnadiff/internal/dataset"
)

// Report accounts for what each mask removed. Kept plus the per-mask drops
// of the combined mask always sum back to the input row count.
type Report struct {
	Input             int
	Kept              int
	DroppedExpression int
	DroppedBiotype    int
	DroppedChromosome int
}

// smallestGroupSize returns the size of the smallest group. With a single
// group label the whole cohort is that group.
func smallestGroupSize(groups []string) int {
	sizes := make(map[string]int)
	for _, g := range groups {
		sizes[g]++
	}
	min := 0
	for _, n := range sizes {
		if min == 0 || n < min {
			min = n
		}
	}
	return min
}

// ExpressionMask keeps genes with at least minCount in at least minSamples
// samples. A minSamples of zero derives the threshold from the smallest
// group, so a gene expressed in every sample of one cohort survives even if
// silent in the other.
func ExpressionMask(m *dataset.CountMatrix, groups []string, minCount, minSamples int) ([]bool, error) {
	if len(groups) != m.NSamples() {
		return nil, fmt.Errorf("filter: %d group labels for %d samples", len(groups), m.NSamples())
	}
	if minSamples <= 0 {
		minSamples = smallestGroupSize(groups)
	}
	if minSamples > m.NSamples() {
		minSamples = m.NSamples()
	}

	keep := make([]bool, m.NGenes())
	for i, row := range m.Counts {
		n := 0
		for _, v := range row {
			if v >= float64(minCount) {
				n++
			}
		}
		keep[i] = n >= minSamples
	}
	return keep, nil
}

// BiotypeMask keeps genes whose biotype annotation exactly matches biotype.
func BiotypeMask(m *dataset.CountMatrix, biotype string) []bool {
	keep := make([]bool, m.NGenes())
	for i, g := range m.Genes {
		keep[i] = g.Biotype == biotype
	}
	return keep
}

// ChromosomeMask keeps genes whose chromosome is not in the excluded set.
func ChromosomeMask(m *dataset.CountMatrix, exclude []string) []bool {
	excluded := make(map[string]bool, len(exclude))
	for _, c := range exclude {
		excluded[c] = true
	}
	keep := make([]bool, m.NGenes())
	for i, g := range m.Genes {
		keep[i] = !excluded[g.Chromosome]
	}
	return keep
}

// And combines masks with logical AND. All masks must have equal length.
func And(masks ...[]bool) ([]bool, error) {
	if len(masks) == 0 {
		return nil, fmt.Errorf("filter: no masks to combine")
	}
	n := len(masks[0])
	for _, m := range masks[1:] {
		if len(m) != n {
			return nil, fmt.Errorf("filter: mask length mismatch: %d vs %d", len(m), n)
		}
	}
	out := make([]bool, n)
	for i := range out {
		out[i] = true
		for _, m := range masks {
			if !m[i] {
				out[i] = false
				break
			}
		}
	}
	return out, nil
}

// Apply runs the configured filters and returns the combined keep-mask with
// a drop report. Each optional mask is independent; drops are attributed to
// the first mask that rejects a gene, in expression, biotype, chromosome
// order.
func Apply(cfg config.FilterConfig, m *dataset.CountMatrix, groups []string) ([]bool, Report, error) {
	rep := Report{Input: m.NGenes()}

	expr, err := ExpressionMask(m, groups, cfg.MinCount, cfg.MinSamples)
	if err != nil {
		return nil, rep, err
	}

	var biotype, chrom []bool
	if cfg.Biotype != "" {
		biotype = BiotypeMask(m, cfg.Biotype)
	}
	if cfg.RemoveSexChrom {
		chrom = ChromosomeMask(m, cfg.ExcludeChromosomes)
	}

	keep := make([]bool, m.NGenes())
	for i := range keep {
		switch {
		case !expr[i]:
			rep.DroppedExpression++
		case biotype != nil && !biotype[i]:
			rep.DroppedBiotype++
		case chrom != nil && !chrom[i]:
			rep.DroppedChromosome++
		default:
			keep[i] = true
			rep.Kept++
		}
	}
	return keep, rep, nil
}
