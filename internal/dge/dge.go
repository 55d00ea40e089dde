// Package dge fits a per-gene negative-binomial model and computes a Wald
// contrast between two sample groups.
package dge

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/rnadiff/rnadiff/internal/dataset"
)

// Design names the factors explaining variation: a group level per sample,
// which level is the baseline, which level it is contrasted against, and an
// optional batch label per sample for an additive batch term.
type Design struct {
	Groups    []string
	Reference string
	Contrast  string // empty with exactly two levels picks the other one
	Batches   []string
}

// Result holds the contrast statistics for one gene. PValue and PAdj are
// NaN when the statistic is undefined (a group mean of zero); such rows are
// dropped, with accounting, by the annotator.
type Result struct {
	Gene           dataset.Gene
	BaseMean       float64
	MeanReference  float64
	MeanContrast   float64
	Log2FoldChange float64
	Stat           float64
	PValue         float64
	PAdj           float64
}

var stdNormal = distuv.Normal{Mu: 0, Sigma: 1}

// resolve validates the design against the matrix and returns the column
// indices of the reference and contrast samples.
func (d *Design) resolve(m *dataset.CountMatrix) (refCols, conCols []int, err error) {
	if len(d.Groups) != m.NSamples() {
		return nil, nil, fmt.Errorf("dge: %d group labels for %d samples", len(d.Groups), m.NSamples())
	}
	if len(d.Batches) != 0 && len(d.Batches) != m.NSamples() {
		return nil, nil, fmt.Errorf("dge: %d batch labels for %d samples", len(d.Batches), m.NSamples())
	}

	levels := make(map[string]int)
	for _, g := range d.Groups {
		levels[g]++
	}
	if _, ok := levels[d.Reference]; !ok {
		return nil, nil, fmt.Errorf("dge: reference level %q not present in group labels", d.Reference)
	}

	contrast := d.Contrast
	if contrast == "" {
		if len(levels) != 2 {
			return nil, nil, fmt.Errorf("dge: contrast level required with %d group levels", len(levels))
		}
		for g := range levels {
			if g != d.Reference {
				contrast = g
			}
		}
		d.Contrast = contrast
	}
	if _, ok := levels[contrast]; !ok {
		return nil, nil, fmt.Errorf("dge: contrast level %q not present in group labels", contrast)
	}
	if contrast == d.Reference {
		return nil, nil, fmt.Errorf("dge: contrast and reference are both %q", contrast)
	}

	for j, g := range d.Groups {
		switch g {
		case d.Reference:
			refCols = append(refCols, j)
		case contrast:
			conCols = append(conCols, j)
		}
	}
	return refCols, conCols, nil
}

// Run computes the contrast for every gene in the filtered count matrix.
// Counts are scaled by the supplied size factors before fitting; a batch
// term in the design removes per-batch shifts from the scaled counts first.
// When design.Contrast is empty it is filled in with the resolved level.
func Run(m *dataset.CountMatrix, factors []float64, design *Design, minDispersion float64) ([]Result, error) {
	if design == nil {
		return nil, fmt.Errorf("dge: nil design")
	}
	if len(factors) != m.NSamples() {
		return nil, fmt.Errorf("dge: %d size factors for %d samples", len(factors), m.NSamples())
	}
	if m.NGenes() == 0 {
		return nil, fmt.Errorf("dge: empty count matrix")
	}
	if minDispersion <= 0 {
		minDispersion = 1e-8
	}

	refCols, conCols, err := design.resolve(m)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, m.NGenes())
	scaled := make([]float64, m.NSamples())
	for i, row := range m.Counts {
		for j, v := range row {
			scaled[j] = v / factors[j]
		}
		if len(design.Batches) > 0 {
			removeBatchShift(scaled, design.Batches)
		}

		muRef, varRef := meanVar(scaled, refCols)
		muCon, varCon := meanVar(scaled, conCols)

		r := Result{
			Gene:          m.Genes[i],
			BaseMean:      (muRef*float64(len(refCols)) + muCon*float64(len(conCols))) / float64(len(refCols)+len(conCols)),
			MeanReference: muRef,
			MeanContrast:  muCon,
		}

		alpha := pooledDispersion(muRef, varRef, len(refCols), muCon, varCon, len(conCols))
		if alpha < minDispersion {
			alpha = minDispersion
		}

		r.Log2FoldChange, r.Stat, r.PValue = waldContrast(muRef, muCon, len(refCols), len(conCols), alpha)
		r.PAdj = math.NaN()
		results = append(results, r)
	}

	adj := AdjustBH(pvalues(results))
	for i := range results {
		results[i].PAdj = adj[i]
	}
	return results, nil
}

// removeBatchShift centers scaled counts within each batch and restores the
// grand mean, the additive batch term of the design. Negative values from
// extreme shifts are clamped to zero.
func removeBatchShift(scaled []float64, batches []string) {
	grand := 0.0
	for _, v := range scaled {
		grand += v
	}
	grand /= float64(len(scaled))

	byBatch := make(map[string][]int)
	for j, b := range batches {
		byBatch[b] = append(byBatch[b], j)
	}
	for _, cols := range byBatch {
		bm := 0.0
		for _, j := range cols {
			bm += scaled[j]
		}
		bm /= float64(len(cols))
		for _, j := range cols {
			scaled[j] += grand - bm
			if scaled[j] < 0 {
				scaled[j] = 0
			}
		}
	}
}

func meanVar(scaled []float64, cols []int) (mean, variance float64) {
	n := float64(len(cols))
	if n == 0 {
		return 0, 0
	}
	for _, j := range cols {
		mean += scaled[j]
	}
	mean /= n
	if len(cols) < 2 {
		return mean, 0
	}
	for _, j := range cols {
		d := scaled[j] - mean
		variance += d * d
	}
	variance /= n - 1
	return mean, variance
}

// pooledDispersion is a method-of-moments estimate of the NB dispersion,
// var = mu + alpha*mu^2, pooled across both groups with n-1 weights.
func pooledDispersion(mu1, var1 float64, n1 int, mu2, var2 float64, n2 int) float64 {
	var num, den float64
	if n1 > 1 && mu1 > 0 {
		a := (var1 - mu1) / (mu1 * mu1)
		if a > 0 {
			num += a * float64(n1-1)
		}
		den += float64(n1 - 1)
	}
	if n2 > 1 && mu2 > 0 {
		a := (var2 - mu2) / (mu2 * mu2)
		if a > 0 {
			num += a * float64(n2-1)
		}
		den += float64(n2 - 1)
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// waldContrast returns the log2 fold-change of contrast over reference, the
// Wald statistic and its two-sided normal p-value. A zero mean on either
// side leaves the statistic undefined (NaN p-value).
func waldContrast(muRef, muCon float64, nRef, nCon int, alpha float64) (lfc, stat, p float64) {
	if muRef <= 0 || muCon <= 0 {
		lfc = math.Log2((muCon + 0.5) / (muRef + 0.5))
		return lfc, math.NaN(), math.NaN()
	}

	lfc = math.Log2(muCon / muRef)

	// Delta-method variance of log2(mu_hat), NB sampling variance mu+alpha*mu^2
	// averaged over the group's samples.
	ln2sq := math.Ln2 * math.Ln2
	seSq := (1/(float64(nRef)*muRef) + alpha/float64(nRef) +
		1/(float64(nCon)*muCon) + alpha/float64(nCon)) / ln2sq
	if seSq <= 0 {
		return lfc, math.NaN(), math.NaN()
	}

	stat = lfc / math.Sqrt(seSq)
	p = 2 * stdNormal.CDF(-math.Abs(stat))
	return lfc, stat, p
}

func pvalues(results []Result) []float64 {
	p := make([]float64, len(results))
	for i, r := range results {
		p[i] = r.PValue
	}
	return p
}
