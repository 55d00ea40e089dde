package report

import (
	"fmt"
	"math"
	"sort"

	"github.com/fogleman/gg"

	"github.com/rnadiff/rnadiff/internal/normalize"
	"github.com/rnadiff/rnadiff/pkg/colormap"
)

// Heatmap renders an expression matrix restricted to the given gene
// symbols, with sample columns grouped and a group annotation strip on
// top. With zscore set, rows are standardized and drawn on the diverging
// colormap; otherwise raw transformed units on the sequential one.
func (r *Renderer) Heatmap(m *normalize.Matrix, symbols []string, groups []string, zscore bool) ([]byte, error) {
	if len(groups) != len(m.Samples) {
		return nil, fmt.Errorf("report: %d group labels for %d samples", len(groups), len(m.Samples))
	}

	wanted := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		wanted[s] = true
	}
	var rowIdx []int
	for i, g := range m.Genes {
		if wanted[g.Symbol] {
			rowIdx = append(rowIdx, i)
		}
	}
	if len(rowIdx) == 0 {
		return nil, fmt.Errorf("report: none of the %d requested genes are in the matrix", len(symbols))
	}

	// Group-split column order, stable within group.
	colIdx := make([]int, len(m.Samples))
	for j := range colIdx {
		colIdx[j] = j
	}
	sort.SliceStable(colIdx, func(a, b int) bool {
		return groups[colIdx[a]] < groups[colIdx[b]]
	})

	groupLevels := map[string]int{}
	for _, j := range colIdx {
		if _, ok := groupLevels[groups[j]]; !ok {
			groupLevels[groups[j]] = len(groupLevels)
		}
	}

	values := make([][]float64, len(rowIdx))
	lo, hi := math.Inf(1), math.Inf(-1)
	for k, i := range rowIdx {
		row := make([]float64, len(colIdx))
		for c, j := range colIdx {
			row[c] = m.Values[i][j]
		}
		if zscore {
			standardize(row)
		}
		for _, v := range row {
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		values[k] = row
	}
	if hi == lo {
		hi = lo + 1
	}
	if zscore {
		// Symmetric scale so zero maps to the diverging midpoint.
		bound := math.Max(math.Abs(lo), math.Abs(hi))
		lo, hi = -bound, bound
	}

	cmap := r.cmap
	if zscore {
		cmap = colormap.RdBu
	}

	const labelW, cellW, cellH = 140.0, 22.0, 16.0
	const stripH, topPad = 14.0, 40.0
	width := int(labelW + cellW*float64(len(colIdx)) + 30)
	height := int(topPad + stripH + 4 + cellH*float64(len(rowIdx)) + 30)

	dc := gg.NewContext(width, height)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	// Annotation strip: one color per group.
	for c, j := range colIdx {
		dc.SetColor(colormap.Categorical.AtIndex(groupLevels[groups[j]]))
		dc.DrawRectangle(labelW+cellW*float64(c), topPad, cellW, stripH)
		dc.Fill()
	}

	gridTop := topPad + stripH + 4
	for k, row := range values {
		for c, v := range row {
			t := (v - lo) / (hi - lo)
			dc.SetColor(cmap.At(t))
			dc.DrawRectangle(labelW+cellW*float64(c), gridTop+cellH*float64(k), cellW, cellH)
			dc.Fill()
		}
		dc.SetRGB(0, 0, 0)
		dc.DrawStringAnchored(m.Genes[rowIdx[k]].Symbol, labelW-6, gridTop+cellH*float64(k)+cellH/2, 1, 0.5)
	}

	return encodePNG(dc)
}

// standardize z-scores a row in place; a constant row becomes all zeros.
func standardize(row []float64) {
	mean := 0.0
	for _, v := range row {
		mean += v
	}
	mean /= float64(len(row))

	sd := 0.0
	for _, v := range row {
		d := v - mean
		sd += d * d
	}
	if len(row) > 1 {
		sd = math.Sqrt(sd / float64(len(row)-1))
	}
	for i := range row {
		if sd > 0 {
			row[i] = (row[i] - mean) / sd
		} else {
			row[i] = 0
		}
	}
}
