// Package config handles configuration loading for the rnadiff pipeline.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the full pipeline configuration.
type Config struct {
	Inputs    InputsConfig    `yaml:"inputs"`
	Filter    FilterConfig    `yaml:"filter"`
	Normalize NormalizeConfig `yaml:"normalize"`
	DE        DEConfig        `yaml:"de"`
	Annotate  AnnotateConfig  `yaml:"annotate"`
	Enrich    EnrichConfig    `yaml:"enrich"`
	Report    ReportConfig    `yaml:"report"`
	Store     StoreConfig     `yaml:"store"`
	Server    ServerConfig    `yaml:"server"`
}

// InputsConfig contains paths to the raw input tables.
type InputsConfig struct {
	CountsPath   string            `yaml:"counts_path"`
	MetadataPath string            `yaml:"metadata_path"`
	GeneSets     map[string]string `yaml:"gene_sets"` // collection name -> GMT path
}

// FilterConfig controls gene filtering ahead of normalization.
type FilterConfig struct {
	MinCount           int      `yaml:"min_count"`
	MinSamples         int      `yaml:"min_samples"` // 0 = size of the smallest group
	Biotype            string   `yaml:"biotype"`     // empty = no biotype filter
	RemoveSexChrom     bool     `yaml:"remove_sex_chromosomes"`
	ExcludeChromosomes []string `yaml:"exclude_chromosomes"`
}

// NormalizeConfig controls size factors and the stabilizing transform.
type NormalizeConfig struct {
	Pseudocount          float64 `yaml:"pseudocount"`
	ApplyBatchCorrection bool    `yaml:"apply_batch_correction"` // visualization matrix only
}

// DEConfig controls the differential expression contrast.
type DEConfig struct {
	GroupColumn   string  `yaml:"group_column"`
	BatchColumn   string  `yaml:"batch_column"`
	Reference     string  `yaml:"reference"` // baseline group level
	Contrast      string  `yaml:"contrast"`  // level compared against the reference
	BatchInDesign bool    `yaml:"batch_in_design"`
	MinDispersion float64 `yaml:"min_dispersion"`
}

// AnnotateConfig controls top-gene selection after the symbol join.
type AnnotateConfig struct {
	TopN         int     `yaml:"top_n"`
	MaxP         float64 `yaml:"max_p"`
	MinAbsLog2FC float64 `yaml:"min_abs_log2fc"`
}

// EnrichConfig controls pre-ranked gene-set enrichment.
type EnrichConfig struct {
	Permutations int   `yaml:"permutations"`
	Seed         int64 `yaml:"seed"`
	MinSetSize   int   `yaml:"min_set_size"`
	MaxSetSize   int   `yaml:"max_set_size"`
}

// ReportConfig controls rendered tables and figures.
type ReportConfig struct {
	OutputDir    string  `yaml:"output_dir"`
	Alpha        float64 `yaml:"alpha"`     // adjusted p-value cutoff for figures
	MaxItems     int     `yaml:"max_items"` // max bars per chart
	HeatmapGenes int     `yaml:"heatmap_genes"`
	Colormap     string  `yaml:"colormap"`
}

// StoreConfig controls SQLite persistence of run results.
type StoreConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// ServerConfig contains report viewer settings (serve mode).
type ServerConfig struct {
	Enabled          bool     `yaml:"enabled"`
	Port             int      `yaml:"port"`
	CORSOrigins      []string `yaml:"cors_origins"`
	FigureCacheMB    int      `yaml:"figure_cache_mb"`
	FigureTTLMinutes int      `yaml:"figure_ttl_minutes"`
	QueryCacheSize   int      `yaml:"query_cache_size"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Filter: FilterConfig{
			MinCount:           10,
			ExcludeChromosomes: []string{"X", "Y", "chrX", "chrY", "MT", "chrM"},
		},
		Normalize: NormalizeConfig{
			Pseudocount: 1.0,
		},
		DE: DEConfig{
			GroupColumn:   "group",
			MinDispersion: 1e-8,
		},
		Annotate: AnnotateConfig{
			TopN:         30,
			MaxP:         0.05,
			MinAbsLog2FC: 1.0,
		},
		Enrich: EnrichConfig{
			Permutations: 1000,
			MinSetSize:   5,
			MaxSetSize:   500,
		},
		Report: ReportConfig{
			OutputDir:    "./results",
			Alpha:        0.05,
			MaxItems:     20,
			HeatmapGenes: 30,
			Colormap:     "viridis",
		},
		Store: StoreConfig{
			SQLitePath: "./results/rnadiff.sqlite",
		},
		Server: ServerConfig{
			Port:             8080,
			CORSOrigins:      []string{"http://localhost:3000", "http://localhost:5173"},
			FigureCacheMB:    128,
			FigureTTLMinutes: 10,
			QueryCacheSize:   256,
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Filter.MinCount == 0 {
		cfg.Filter.MinCount = defaults.Filter.MinCount
	}
	if len(cfg.Filter.ExcludeChromosomes) == 0 {
		cfg.Filter.ExcludeChromosomes = defaults.Filter.ExcludeChromosomes
	}
	if cfg.Normalize.Pseudocount == 0 {
		cfg.Normalize.Pseudocount = defaults.Normalize.Pseudocount
	}
	if cfg.DE.GroupColumn == "" {
		cfg.DE.GroupColumn = defaults.DE.GroupColumn
	}
	if cfg.DE.MinDispersion == 0 {
		cfg.DE.MinDispersion = defaults.DE.MinDispersion
	}
	if cfg.Annotate.TopN == 0 {
		cfg.Annotate.TopN = defaults.Annotate.TopN
	}
	if cfg.Annotate.MaxP == 0 {
		cfg.Annotate.MaxP = defaults.Annotate.MaxP
	}
	if cfg.Annotate.MinAbsLog2FC == 0 {
		cfg.Annotate.MinAbsLog2FC = defaults.Annotate.MinAbsLog2FC
	}
	if cfg.Enrich.Permutations == 0 {
		cfg.Enrich.Permutations = defaults.Enrich.Permutations
	}
	if cfg.Enrich.MinSetSize == 0 {
		cfg.Enrich.MinSetSize = defaults.Enrich.MinSetSize
	}
	if cfg.Enrich.MaxSetSize == 0 {
		cfg.Enrich.MaxSetSize = defaults.Enrich.MaxSetSize
	}
	if cfg.Report.OutputDir == "" {
		cfg.Report.OutputDir = defaults.Report.OutputDir
	}
	if cfg.Report.Alpha == 0 {
		cfg.Report.Alpha = defaults.Report.Alpha
	}
	if cfg.Report.MaxItems == 0 {
		cfg.Report.MaxItems = defaults.Report.MaxItems
	}
	if cfg.Report.HeatmapGenes == 0 {
		cfg.Report.HeatmapGenes = defaults.Report.HeatmapGenes
	}
	if cfg.Report.Colormap == "" {
		cfg.Report.Colormap = defaults.Report.Colormap
	}
	if cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = defaults.Store.SQLitePath
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if cfg.Server.FigureCacheMB == 0 {
		cfg.Server.FigureCacheMB = defaults.Server.FigureCacheMB
	}
	if cfg.Server.FigureTTLMinutes == 0 {
		cfg.Server.FigureTTLMinutes = defaults.Server.FigureTTLMinutes
	}
	if cfg.Server.QueryCacheSize == 0 {
		cfg.Server.QueryCacheSize = defaults.Server.QueryCacheSize
	}
}

// Validate checks settings that have no sensible default.
func (c *Config) Validate() error {
	if c.Inputs.CountsPath == "" {
		return fmt.Errorf("config: inputs.counts_path is required")
	}
	if c.Inputs.MetadataPath == "" {
		return fmt.Errorf("config: inputs.metadata_path is required")
	}
	if c.DE.Reference == "" {
		return fmt.Errorf("config: de.reference (baseline group level) is required")
	}
	if c.Filter.MinCount < 0 {
		return fmt.Errorf("config: filter.min_count must be non-negative")
	}
	if c.Enrich.Permutations < 0 {
		return fmt.Errorf("config: enrich.permutations must be non-negative")
	}
	if c.Normalize.Pseudocount <= 0 {
		return fmt.Errorf("config: normalize.pseudocount must be positive")
	}
	return nil
}
