package config

import (
	"os"
	"path/filepath"
	"testing"
)

func loadFromString(t *testing.T, content string) *Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "rnadiff.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg := loadFromString(t, `
inputs:
  counts_path: "/data/counts.tsv"
  metadata_path: "/data/samples.tsv"
de:
  reference: "control"
`)

	if cfg.Filter.MinCount != 10 {
		t.Errorf("expected default min_count 10, got %d", cfg.Filter.MinCount)
	}
	if cfg.Enrich.Permutations != 1000 {
		t.Errorf("expected default permutations 1000, got %d", cfg.Enrich.Permutations)
	}
	if cfg.Report.Alpha != 0.05 {
		t.Errorf("expected default alpha 0.05, got %g", cfg.Report.Alpha)
	}
	if cfg.DE.GroupColumn != "group" {
		t.Errorf("expected default group column 'group', got %q", cfg.DE.GroupColumn)
	}
	if len(cfg.Filter.ExcludeChromosomes) == 0 {
		t.Error("expected default excluded chromosome set")
	}
}

func TestLoadExplicitValuesWin(t *testing.T) {
	cfg := loadFromString(t, `
inputs:
  counts_path: "/data/counts.tsv.gz"
  metadata_path: "/data/samples.tsv"
  gene_sets:
    hallmark: "/data/h.all.gmt"
    reactome: "/data/reactome.gmt"
filter:
  min_count: 5
  biotype: "protein_coding"
  remove_sex_chromosomes: true
de:
  reference: "wt"
  contrast: "ko"
  batch_column: "run"
  batch_in_design: true
enrich:
  permutations: 500
  seed: 42
`)

	if cfg.Filter.MinCount != 5 {
		t.Errorf("expected min_count 5, got %d", cfg.Filter.MinCount)
	}
	if !cfg.Filter.RemoveSexChrom {
		t.Error("expected remove_sex_chromosomes to be set")
	}
	if cfg.DE.Contrast != "ko" || cfg.DE.Reference != "wt" {
		t.Errorf("unexpected contrast/reference: %q vs %q", cfg.DE.Contrast, cfg.DE.Reference)
	}
	if !cfg.DE.BatchInDesign {
		t.Error("expected batch_in_design to be set")
	}
	if cfg.Enrich.Seed != 42 {
		t.Errorf("expected seed 42, got %d", cfg.Enrich.Seed)
	}
	if len(cfg.Inputs.GeneSets) != 2 {
		t.Fatalf("expected 2 gene set collections, got %d", len(cfg.Inputs.GeneSets))
	}
	if cfg.Inputs.GeneSets["hallmark"] != "/data/h.all.gmt" {
		t.Errorf("unexpected hallmark path: %s", cfg.Inputs.GeneSets["hallmark"])
	}
}

func TestLoadMissingRequired(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("filter:\n  min_count: 3\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for config without input paths and reference")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/no/such/rnadiff.yaml"); err == nil {
		t.Error("expected error for missing config file")
	}
}
