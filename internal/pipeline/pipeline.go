// Package pipeline runs the full analysis: load, filter, normalize, test,
// annotate, enrich, report. Each stage consumes the previous stage's output
// and returns a new artifact; nothing is mutated in place.
package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/rnadiff/rnadiff/internal/annotate"
	"github.com/rnadiff/rnadiff/internal/config"
	"github.com/rnadiff/rnadiff/internal/dataset"
	"github.com/rnadiff/rnadiff/internal/dge"
	"github.com/rnadiff/rnadiff/internal/enrich"
	"github.com/rnadiff/rnadiff/internal/filter"
	"github.com/rnadiff/rnadiff/internal/normalize"
	"github.com/rnadiff/rnadiff/internal/report"
	"github.com/rnadiff/rnadiff/internal/resultstore"
	"github.com/rnadiff/rnadiff/logger"
)

// Summary reports what a completed run produced and what each stage dropped.
type Summary struct {
	RunID       string
	Samples     int
	Filter      filter.Report
	Annotate    annotate.DropReport
	Collections []string
	OutputDir   string
}

// Run executes the pipeline described by cfg and writes every table and
// figure under the configured output directory. When a store path is
// configured the run and its tables are also persisted there.
func Run(cfg *config.Config) (*Summary, error) {
	counts, err := dataset.LoadCounts(cfg.Inputs.CountsPath)
	if err != nil {
		return nil, err
	}
	meta, err := dataset.LoadMetadata(cfg.Inputs.MetadataPath)
	if err != nil {
		return nil, err
	}
	if err := meta.Aligned(counts); err != nil {
		return nil, err
	}
	logger.Info("inputs loaded",
		zap.Int("genes", counts.NGenes()),
		zap.Int("samples", counts.NSamples()))

	groups, ok := meta.Column(cfg.DE.GroupColumn)
	if !ok {
		return nil, fmt.Errorf("pipeline: metadata has no column %q", cfg.DE.GroupColumn)
	}
	var batches []string
	if cfg.DE.BatchColumn != "" {
		batches, ok = meta.Column(cfg.DE.BatchColumn)
		if !ok {
			return nil, fmt.Errorf("pipeline: metadata has no column %q", cfg.DE.BatchColumn)
		}
	}

	keep, filterRep, err := filter.Apply(cfg.Filter, counts, groups)
	if err != nil {
		return nil, err
	}
	filtered, err := counts.Subset(keep)
	if err != nil {
		return nil, err
	}
	logger.Info("genes filtered",
		zap.Int("input", filterRep.Input),
		zap.Int("kept", filterRep.Kept),
		zap.Int("dropped_expression", filterRep.DroppedExpression),
		zap.Int("dropped_biotype", filterRep.DroppedBiotype),
		zap.Int("dropped_chromosome", filterRep.DroppedChromosome))
	if filtered.NGenes() == 0 {
		return nil, fmt.Errorf("pipeline: no genes survive filtering")
	}

	factors, err := normalize.SizeFactors(filtered)
	if err != nil {
		return nil, err
	}
	logger.Info("size factors estimated", zap.Int("samples", len(factors)))

	design := dge.Design{
		Groups:    groups,
		Reference: cfg.DE.Reference,
		Contrast:  cfg.DE.Contrast,
	}
	if cfg.DE.BatchInDesign && len(batches) > 0 {
		design.Batches = batches
	}
	results, err := dge.Run(filtered, factors, &design, cfg.DE.MinDispersion)
	if err != nil {
		return nil, err
	}
	// Record the resolved level so the persisted config snapshot names it
	// even when de.contrast was left empty.
	cfg.DE.Contrast = design.Contrast
	logger.Info("contrast computed",
		zap.String("reference", design.Reference),
		zap.String("contrast", design.Contrast),
		zap.Int("genes", len(results)))

	rows, dropRep := annotate.Annotate(results)
	logger.Info("results annotated",
		zap.Int("kept", dropRep.Kept),
		zap.Int("missing_symbol", dropRep.MissingSymbol),
		zap.Int("missing_pvalue", dropRep.MissingPValue))
	if len(rows) == 0 {
		return nil, fmt.Errorf("pipeline: no annotated rows remain for ranking")
	}

	vst, err := normalize.VST(filtered, factors, cfg.Normalize.Pseudocount)
	if err != nil {
		return nil, err
	}
	visual := vst
	if cfg.Normalize.ApplyBatchCorrection && len(batches) > 0 {
		visual, err = normalize.BatchCorrect(vst, batches)
		if err != nil {
			return nil, err
		}
		logger.Info("batch correction applied", zap.String("column", cfg.DE.BatchColumn))
	}

	renderer := report.NewRenderer(cfg.Report)
	if err := os.MkdirAll(cfg.Report.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("pipeline: create output dir: %w", err)
	}

	if err := writeDETable(cfg.Report.OutputDir, "de_results.tsv", rows); err != nil {
		return nil, err
	}
	top := annotate.TopGenes(rows, cfg.Annotate.MinAbsLog2FC, cfg.Annotate.MaxP, cfg.Annotate.TopN)
	if err := writeDETable(cfg.Report.OutputDir, "top_genes.tsv", top); err != nil {
		return nil, err
	}

	if err := renderFigures(renderer, cfg, rows, top, visual, groups); err != nil {
		return nil, err
	}

	enrichments, collections, err := runEnrichment(cfg, renderer, rows)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		Samples:     filtered.NSamples(),
		Filter:      filterRep,
		Annotate:    dropRep,
		Collections: collections,
		OutputDir:   cfg.Report.OutputDir,
	}

	if cfg.Store.SQLitePath != "" {
		runID, err := persist(cfg, rows, enrichments, filtered)
		if err != nil {
			return nil, err
		}
		summary.RunID = runID
	}

	logger.Info("run complete",
		zap.String("run_id", summary.RunID),
		zap.String("output_dir", summary.OutputDir))
	return summary, nil
}

func writeDETable(dir, name string, rows []annotate.Row) error {
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return fmt.Errorf("pipeline: create %s: %w", name, err)
	}
	if err := report.WriteDETable(f, rows); err != nil {
		f.Close()
		return fmt.Errorf("pipeline: write %s: %w", name, err)
	}
	return f.Close()
}

func writeEnrichmentTable(dir, name string, results []enrich.PathwayResult) error {
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return fmt.Errorf("pipeline: create %s: %w", name, err)
	}
	if err := report.WriteEnrichmentTable(f, results); err != nil {
		f.Close()
		return fmt.Errorf("pipeline: write %s: %w", name, err)
	}
	return f.Close()
}

func renderFigures(renderer *report.Renderer, cfg *config.Config, rows, top []annotate.Row, visual *normalize.Matrix, groups []string) error {
	volcano, err := renderer.VolcanoPlot(rows, cfg.Annotate.MinAbsLog2FC)
	if err != nil {
		return err
	}
	if err := renderer.WriteFile("volcano.png", volcano); err != nil {
		return err
	}

	heatmapRows := top
	if cfg.Report.HeatmapGenes > 0 && len(heatmapRows) > cfg.Report.HeatmapGenes {
		heatmapRows = heatmapRows[:cfg.Report.HeatmapGenes]
	}
	if len(heatmapRows) > 0 {
		symbols := make([]string, len(heatmapRows))
		for i, r := range heatmapRows {
			symbols[i] = r.Symbol
		}
		// Both units: raw transformed values and row z-scores.
		raw, err := renderer.Heatmap(visual, symbols, groups, false)
		if err != nil {
			return err
		}
		if err := renderer.WriteFile("heatmap_vst.png", raw); err != nil {
			return err
		}
		zscored, err := renderer.Heatmap(visual, symbols, groups, true)
		if err != nil {
			return err
		}
		if err := renderer.WriteFile("heatmap_zscore.png", zscored); err != nil {
			return err
		}
	} else {
		logger.Warn("no genes pass the top-gene thresholds, skipping heatmap")
	}

	pc, err := normalize.PCA(visual)
	if err != nil {
		return err
	}
	pcaPlot, err := renderer.PCAPlot(pc, groups)
	if err != nil {
		return err
	}
	return renderer.WriteFile("pca.png", pcaPlot)
}

func runEnrichment(cfg *config.Config, renderer *report.Renderer, rows []annotate.Row) (map[string][]enrich.PathwayResult, []string, error) {
	if len(cfg.Inputs.GeneSets) == 0 {
		logger.Info("no gene-set collections configured, skipping enrichment")
		return nil, nil, nil
	}

	entries := make([]enrich.RankEntry, len(rows))
	for i, r := range rows {
		entries[i] = enrich.RankEntry{Symbol: r.Symbol, Stat: r.Stat}
	}
	ranking, err := enrich.BuildRanking(entries)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("ranking built", zap.Int("symbols", ranking.Len()))

	// Collection order is fixed so permutation streams are reproducible.
	names := make([]string, 0, len(cfg.Inputs.GeneSets))
	for name := range cfg.Inputs.GeneSets {
		names = append(names, name)
	}
	sort.Strings(names)

	opts := enrich.Options{
		Permutations: cfg.Enrich.Permutations,
		Seed:         cfg.Enrich.Seed,
		MinSetSize:   cfg.Enrich.MinSetSize,
		MaxSetSize:   cfg.Enrich.MaxSetSize,
	}

	enrichments := make(map[string][]enrich.PathwayResult, len(names))
	for _, name := range names {
		collection, err := dataset.LoadGMT(name, cfg.Inputs.GeneSets[name])
		if err != nil {
			return nil, nil, err
		}

		results, err := enrich.Run(ranking, collection, opts)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("collection tested",
			zap.String("collection", name),
			zap.Int("sets", len(results)))
		enrichments[name] = results

		if err := writeEnrichmentTable(cfg.Report.OutputDir, "enrichment_"+name+".tsv", results); err != nil {
			return nil, nil, err
		}

		items := make([]report.BarItem, 0, len(results))
		for _, res := range results {
			items = append(items, report.BarItem{Label: res.Pathway, Effect: res.NES, PAdj: res.PAdj})
		}
		items = report.SelectBars(items, cfg.Report.Alpha, cfg.Report.MaxItems)
		if len(items) == 0 {
			logger.Warn("no pathways pass the figure cutoff", zap.String("collection", name))
			continue
		}
		chart, err := renderer.BarChart(items, name+" enrichment", "NES")
		if err != nil {
			return nil, nil, err
		}
		if err := renderer.WriteFile("enrichment_"+name+".png", chart); err != nil {
			return nil, nil, err
		}
	}
	return enrichments, names, nil
}

func persist(cfg *config.Config, rows []annotate.Row, enrichments map[string][]enrich.PathwayResult, m *dataset.CountMatrix) (string, error) {
	store, err := resultstore.NewStore(cfg.Store.SQLitePath)
	if err != nil {
		return "", err
	}
	defer store.Close()

	run, err := store.CreateRun(cfg, len(rows), m.NSamples())
	if err != nil {
		return "", err
	}
	if err := store.InsertDEResults(run.ID, rows); err != nil {
		return "", err
	}
	for name, results := range enrichments {
		if err := store.InsertEnrichment(run.ID, name, results); err != nil {
			return "", err
		}
	}
	logger.Info("run persisted",
		zap.String("run_id", run.ID),
		zap.String("sqlite", cfg.Store.SQLitePath))
	return run.ID, nil
}
