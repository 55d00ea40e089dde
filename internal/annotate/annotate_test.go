package annotate

import (
	"math"
	"testing"

	"github.com/rnadiff/rnadiff/internal/dataset"
	"github.com/rnadiff/rnadiff/internal/dge"
)

func result(id, symbol string, lfc, p float64) dge.Result {
	return dge.Result{
		Gene:           dataset.Gene{ID: id, Symbol: symbol},
		Log2FoldChange: lfc,
		PValue:         p,
		PAdj:           p,
	}
}

func TestAnnotateDropAccounting(t *testing.T) {
	results := []dge.Result{
		result("G1", "TP53", 2.0, 0.001),
		result("G2", "", 1.5, 0.01),          // no symbol
		result("G3", "MYC", 0.5, math.NaN()), // no computable p
		result("G4", "BAX", -2.5, 0.002),
	}
	rows, rep := Annotate(results)

	if rep.Input != 4 {
		t.Errorf("input = %d, want 4", rep.Input)
	}
	if rep.Kept != 2 || rep.MissingSymbol != 1 || rep.MissingPValue != 1 {
		t.Errorf("unexpected drop report: %+v", rep)
	}
	if rep.Kept+rep.MissingSymbol+rep.MissingPValue != rep.Input {
		t.Errorf("drop report does not sum to input: %+v", rep)
	}
	if len(rows) != 2 || rows[0].Symbol != "TP53" || rows[1].Symbol != "BAX" {
		t.Errorf("unexpected kept rows: %+v", rows)
	}
}

func TestTopGenesRespectsCutoffs(t *testing.T) {
	rows := []Row{
		{Symbol: "A", Log2FoldChange: 3.0, PValue: 0.001},
		{Symbol: "B", Log2FoldChange: -2.5, PValue: 0.002},
		{Symbol: "C", Log2FoldChange: 0.5, PValue: 0.0001}, // below LFC cutoff
		{Symbol: "D", Log2FoldChange: 4.0, PValue: 0.2},    // above p cutoff
		{Symbol: "E", Log2FoldChange: 1.5, PValue: 0.01},
	}
	top := TopGenes(rows, 1.0, 0.05, 10)

	if len(top) != 3 {
		t.Fatalf("expected 3 top genes, got %d", len(top))
	}
	for _, r := range top {
		if math.Abs(r.Log2FoldChange) < 1.0 {
			t.Errorf("gene %s below fold-change cutoff leaked into top list", r.Symbol)
		}
		if r.PValue > 0.05 {
			t.Errorf("gene %s above p-value cutoff leaked into top list", r.Symbol)
		}
	}
	// Sorted by |lfc| descending.
	if top[0].Symbol != "A" || top[1].Symbol != "B" || top[2].Symbol != "E" {
		t.Errorf("unexpected order: %v, %v, %v", top[0].Symbol, top[1].Symbol, top[2].Symbol)
	}
}

func TestTopGenesTieBreakByPValue(t *testing.T) {
	rows := []Row{
		{Symbol: "X", Log2FoldChange: 2.0, PValue: 0.01},
		{Symbol: "Y", Log2FoldChange: -2.0, PValue: 0.001},
	}
	top := TopGenes(rows, 1.0, 0.05, 2)
	if top[0].Symbol != "Y" {
		t.Errorf("equal |lfc| should break ties by p-value, got %s first", top[0].Symbol)
	}
}

func TestTopGenesTruncates(t *testing.T) {
	rows := []Row{
		{Symbol: "A", Log2FoldChange: 3.0, PValue: 0.001},
		{Symbol: "B", Log2FoldChange: 2.0, PValue: 0.001},
		{Symbol: "C", Log2FoldChange: 1.5, PValue: 0.001},
	}
	top := TopGenes(rows, 1.0, 0.05, 2)
	if len(top) != 2 {
		t.Errorf("expected truncation to 2, got %d", len(top))
	}
}
