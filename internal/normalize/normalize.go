// Package normalize computes size factors, the variance-stabilizing
// transform and the visualization-only batch correction.
package normalize

import (
	"fmt"
	"math"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/rnadiff/rnadiff/internal/dataset"
)

// Matrix is a gene x sample real-valued expression matrix derived from raw
// counts. It is never mutated; every transform returns a new one.
type Matrix struct {
	Genes   []dataset.Gene
	Samples []string
	Values  [][]float64
}

// Clone returns a deep copy of the matrix values.
func (m *Matrix) Clone() *Matrix {
	out := &Matrix{Genes: m.Genes, Samples: m.Samples, Values: make([][]float64, len(m.Values))}
	for i, row := range m.Values {
		cp := make([]float64, len(row))
		copy(cp, row)
		out.Values[i] = cp
	}
	return out
}

// SizeFactors estimates one scaling factor per sample with the
// median-of-ratios method: each count is divided by its gene's geometric
// mean across samples, and a sample's factor is the median of those ratios.
// Only genes with positive counts in every sample contribute to the
// reference. All-zero rows are a precondition violation and reported.
func SizeFactors(m *dataset.CountMatrix) ([]float64, error) {
	if m.NGenes() == 0 || m.NSamples() == 0 {
		return nil, fmt.Errorf("normalize: empty count matrix")
	}

	allZero := 0
	for _, row := range m.Counts {
		zero := true
		for _, v := range row {
			if v != 0 {
				zero = false
				break
			}
		}
		if zero {
			allZero++
		}
	}
	if allZero > 0 {
		return nil, fmt.Errorf("normalize: %d all-zero gene rows present; filter before normalization", allZero)
	}

	// Geometric mean reference per gene, restricted to rows with no zeros
	// so the log is defined everywhere.
	type refRow struct {
		idx int
		ref float64
	}
	var refs []refRow
	for i, row := range m.Counts {
		usable := true
		logSum := 0.0
		for _, v := range row {
			if v <= 0 {
				usable = false
				break
			}
			logSum += math.Log(v)
		}
		if usable {
			refs = append(refs, refRow{idx: i, ref: math.Exp(logSum / float64(len(row)))})
		}
	}
	if len(refs) == 0 {
		return nil, fmt.Errorf("normalize: no gene has positive counts in every sample; cannot build reference")
	}

	factors := make([]float64, m.NSamples())
	ratios := make([]float64, len(refs))
	for j := range m.Samples {
		for k, r := range refs {
			ratios[k] = m.Counts[r.idx][j] / r.ref
		}
		med, err := stats.Median(ratios)
		if err != nil {
			return nil, fmt.Errorf("normalize: median of ratios for sample %s: %w", m.Samples[j], err)
		}
		if !(med > 0) || math.IsInf(med, 0) {
			return nil, fmt.Errorf("normalize: size factor for sample %s is %g; must be positive and finite", m.Samples[j], med)
		}
		factors[j] = med
	}
	return factors, nil
}

// VST maps raw counts to variance-stabilized values,
// log2(count/sizeFactor + pseudocount). Used for visualization and ranking
// only; the differential test works on raw counts.
func VST(m *dataset.CountMatrix, factors []float64, pseudocount float64) (*Matrix, error) {
	if len(factors) != m.NSamples() {
		return nil, fmt.Errorf("normalize: %d size factors for %d samples", len(factors), m.NSamples())
	}
	out := &Matrix{Genes: m.Genes, Samples: m.Samples, Values: make([][]float64, m.NGenes())}
	for i, row := range m.Counts {
		vals := make([]float64, len(row))
		for j, v := range row {
			vals[j] = math.Log2(v/factors[j] + pseudocount)
		}
		out.Values[i] = vals
	}
	return out, nil
}

// BatchCorrect removes the additive batch effect from a transformed matrix
// by centering each gene's values within each batch and restoring the grand
// mean. The corrected matrix is for visualization only and is never fed to
// the differential test.
func BatchCorrect(m *Matrix, batches []string) (*Matrix, error) {
	if len(batches) != len(m.Samples) {
		return nil, fmt.Errorf("normalize: %d batch labels for %d samples", len(batches), len(m.Samples))
	}

	byBatch := make(map[string][]int)
	for j, b := range batches {
		byBatch[b] = append(byBatch[b], j)
	}

	out := m.Clone()
	for i, row := range out.Values {
		grand := 0.0
		for _, v := range row {
			grand += v
		}
		grand /= float64(len(row))

		for _, cols := range byBatch {
			bm := 0.0
			for _, j := range cols {
				bm += row[j]
			}
			bm /= float64(len(cols))
			for _, j := range cols {
				row[j] += grand - bm
			}
		}
		out.Values[i] = row
	}
	return out, nil
}

// PCACoords holds per-sample coordinates on the first two principal
// components and the fraction of variance each explains.
type PCACoords struct {
	Samples []string
	X, Y    []float64
	VarX    float64
	VarY    float64
}

// PCA projects samples onto the first two principal components of the
// transformed matrix (samples as observations, genes as variables).
func PCA(m *Matrix) (*PCACoords, error) {
	n := len(m.Samples)
	d := len(m.Genes)
	if n < 2 || d < 2 {
		return nil, fmt.Errorf("normalize: PCA needs at least 2 samples and 2 genes, have %dx%d", n, d)
	}

	// Samples as rows, mean-centered per gene.
	data := mat.NewDense(n, d, nil)
	for i := 0; i < d; i++ {
		mean := 0.0
		for j := 0; j < n; j++ {
			mean += m.Values[i][j]
		}
		mean /= float64(n)
		for j := 0; j < n; j++ {
			data.Set(j, i, m.Values[i][j]-mean)
		}
	}

	var pc stat.PC
	if ok := pc.PrincipalComponents(data, nil); !ok {
		return nil, fmt.Errorf("normalize: principal component decomposition failed")
	}

	// The eigenvector matrix is d x min(n, d).
	k := n
	if d < k {
		k = d
	}
	vecs := mat.NewDense(d, k, nil)
	pc.VectorsTo(vecs)
	vars := pc.VarsTo(nil)
	if len(vars) < 2 {
		return nil, fmt.Errorf("normalize: fewer than 2 principal components")
	}

	var proj mat.Dense
	proj.Mul(data, vecs.Slice(0, d, 0, 2))

	total := 0.0
	for _, v := range vars {
		total += v
	}

	out := &PCACoords{
		Samples: m.Samples,
		X:       make([]float64, n),
		Y:       make([]float64, n),
	}
	if total > 0 {
		out.VarX = vars[0] / total
		out.VarY = vars[1] / total
	}
	for j := 0; j < n; j++ {
		out.X[j] = proj.At(j, 0)
		out.Y[j] = proj.At(j, 1)
	}
	return out, nil
}
