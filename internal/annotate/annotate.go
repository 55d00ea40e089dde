// Package annotate joins differential expression results to gene symbols
// and selects the top genes for reporting.
package annotate

import (
	"math"
	"sort"

	"github.com/rnadiff/rnadiff/internal/dge"
)

// Row is one annotated, reportable DE result.
type Row struct {
	GeneID         string
	Symbol         string
	BaseMean       float64
	Log2FoldChange float64
	Stat           float64
	PValue         float64
	PAdj           float64
}

// DropReport records rows excluded from downstream ranking and reporting
// and why. The original analysis lost these silently; here kept plus
// dropped always equals the input row count.
type DropReport struct {
	Input         int
	Kept          int
	MissingSymbol int
	MissingPValue int
}

// Annotate joins DE results to their gene symbols. Rows without a symbol or
// without a finite p-value are dropped from everything downstream, with the
// drop accounted for in the report.
func Annotate(results []dge.Result) ([]Row, DropReport) {
	rep := DropReport{Input: len(results)}
	rows := make([]Row, 0, len(results))
	for _, r := range results {
		if r.Gene.Symbol == "" {
			rep.MissingSymbol++
			continue
		}
		if math.IsNaN(r.PValue) || math.IsInf(r.PValue, 0) {
			rep.MissingPValue++
			continue
		}
		rep.Kept++
		rows = append(rows, Row{
			GeneID:         r.Gene.ID,
			Symbol:         r.Gene.Symbol,
			BaseMean:       r.BaseMean,
			Log2FoldChange: r.Log2FoldChange,
			Stat:           r.Stat,
			PValue:         r.PValue,
			PAdj:           r.PAdj,
		})
	}
	return rows, rep
}

// TopGenes filters rows to |log2FC| >= minAbsLFC and p <= maxP, sorts by
// descending |log2FC| then ascending p-value, and returns the first n.
func TopGenes(rows []Row, minAbsLFC, maxP float64, n int) []Row {
	var top []Row
	for _, r := range rows {
		if math.Abs(r.Log2FoldChange) < minAbsLFC || r.PValue > maxP {
			continue
		}
		top = append(top, r)
	}
	sort.Slice(top, func(i, j int) bool {
		ai, aj := math.Abs(top[i].Log2FoldChange), math.Abs(top[j].Log2FoldChange)
		if ai != aj {
			return ai > aj
		}
		return top[i].PValue < top[j].PValue
	})
	if n > 0 && len(top) > n {
		top = top[:n]
	}
	return top
}
