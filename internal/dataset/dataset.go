// Package dataset loads raw count matrices, sample metadata and gene-set
// collections from delimited files.
package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Gene holds the annotation columns of one count-matrix row.
type Gene struct {
	ID         string
	Chromosome string
	Biotype    string
	Symbol     string
}

// CountMatrix is a gene x sample matrix of raw counts plus gene annotation.
// Counts are integer-valued; they are stored as float64 for downstream math.
type CountMatrix struct {
	Genes   []Gene
	Samples []string
	Counts  [][]float64 // one row per gene, len(Samples) columns
}

// NGenes returns the number of gene rows.
func (m *CountMatrix) NGenes() int { return len(m.Genes) }

// NSamples returns the number of sample columns.
func (m *CountMatrix) NSamples() int { return len(m.Samples) }

// Subset returns a new matrix containing only rows where keep is true.
// The sample column set is unchanged.
func (m *CountMatrix) Subset(keep []bool) (*CountMatrix, error) {
	if len(keep) != len(m.Genes) {
		return nil, fmt.Errorf("dataset: keep mask length %d does not match %d genes", len(keep), len(m.Genes))
	}
	out := &CountMatrix{Samples: m.Samples}
	for i, k := range keep {
		if !k {
			continue
		}
		out.Genes = append(out.Genes, m.Genes[i])
		out.Counts = append(out.Counts, m.Counts[i])
	}
	return out, nil
}

// SampleTable is the sample metadata: one row per sample with labelled
// attribute columns (group, batch, ...).
type SampleTable struct {
	Samples []string
	columns map[string][]string
}

// Column returns the values of a named attribute column, aligned to Samples.
func (t *SampleTable) Column(name string) ([]string, bool) {
	vals, ok := t.columns[name]
	return vals, ok
}

// Columns returns the available attribute column names.
func (t *SampleTable) Columns() []string {
	names := make([]string, 0, len(t.columns))
	for name := range t.columns {
		names = append(names, name)
	}
	return names
}

// Aligned reports whether the metadata sample set matches the count-matrix
// columns, in the same order. Misalignment upstream would silently pair
// counts with the wrong group labels, so callers must treat it as fatal.
func (t *SampleTable) Aligned(m *CountMatrix) error {
	if len(t.Samples) != len(m.Samples) {
		return fmt.Errorf("dataset: metadata has %d samples but count matrix has %d", len(t.Samples), len(m.Samples))
	}
	for i, s := range t.Samples {
		if s != m.Samples[i] {
			return fmt.Errorf("dataset: sample mismatch at column %d: metadata %q vs counts %q", i, s, m.Samples[i])
		}
	}
	return nil
}

// openMaybeGzip opens path, transparently decoding .gz files.
func openMaybeGzip(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, ".gz") {
		return f, nil
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("dataset: open gzip %s: %w", path, err)
	}
	return &gzipReadCloser{gz: gz, f: f}, nil
}

type gzipReadCloser struct {
	gz *gzip.Reader
	f  *os.File
}

func (g *gzipReadCloser) Read(p []byte) (int, error) { return g.gz.Read(p) }

func (g *gzipReadCloser) Close() error {
	if err := g.gz.Close(); err != nil {
		g.f.Close()
		return err
	}
	return g.f.Close()
}

func newTableReader(r io.Reader, path string) *csv.Reader {
	cr := csv.NewReader(r)
	if strings.HasSuffix(strings.TrimSuffix(path, ".gz"), ".csv") {
		cr.Comma = ','
	} else {
		cr.Comma = '\t'
	}
	cr.FieldsPerRecord = -1 // length checked per record with context
	return cr
}

// Annotation column headers recognized in the counts file. Any header not
// in this set is taken to be a sample column.
var annotationAliases = map[string]string{
	"gene_id":      "id",
	"geneid":       "id",
	"ensembl_id":   "id",
	"chromosome":   "chromosome",
	"chr":          "chromosome",
	"seqnames":     "chromosome",
	"biotype":      "biotype",
	"gene_biotype": "biotype",
	"gene_type":    "biotype",
	"symbol":       "symbol",
	"gene_symbol":  "symbol",
	"gene_name":    "symbol",
}

// LoadCounts reads a raw count table. The first header column must be the
// gene ID; further annotation columns (chromosome, biotype, symbol) are
// recognized by name and every remaining column is a sample.
func LoadCounts(path string) (*CountMatrix, error) {
	r, err := openMaybeGzip(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: open counts %s: %w", path, err)
	}
	defer r.Close()
	return ParseCounts(newTableReader(r, path))
}

// ParseCounts parses a count table from an already-opened delimited reader.
func ParseCounts(cr *csv.Reader) (*CountMatrix, error) {
	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("dataset: counts table is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("dataset: read counts header: %w", err)
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("dataset: counts header needs a gene ID column and at least one sample")
	}

	// Map annotation columns; everything unrecognized is a sample.
	annCols := map[int]string{0: "id"} // first column is always the gene ID
	var samples []string
	var sampleCols []int
	for i := 1; i < len(header); i++ {
		name := strings.ToLower(strings.TrimSpace(header[i]))
		if role, ok := annotationAliases[name]; ok {
			annCols[i] = role
			continue
		}
		samples = append(samples, header[i])
		sampleCols = append(sampleCols, i)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("dataset: counts table has no sample columns")
	}

	m := &CountMatrix{Samples: samples}
	seen := make(map[string]int)
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("dataset: read counts line %d: %w", line+1, err)
		}
		line++
		if len(rec) != len(header) {
			return nil, fmt.Errorf("dataset: counts line %d has %d fields, header has %d", line, len(rec), len(header))
		}

		var g Gene
		for col, role := range annCols {
			v := strings.TrimSpace(rec[col])
			switch role {
			case "id":
				g.ID = v
			case "chromosome":
				g.Chromosome = v
			case "biotype":
				g.Biotype = v
			case "symbol":
				g.Symbol = v
			}
		}
		if g.ID == "" {
			return nil, fmt.Errorf("dataset: counts line %d has an empty gene ID", line)
		}
		if prev, dup := seen[g.ID]; dup {
			return nil, fmt.Errorf("dataset: duplicate gene ID %q at lines %d and %d", g.ID, prev, line)
		}
		seen[g.ID] = line

		row := make([]float64, len(sampleCols))
		for j, col := range sampleCols {
			n, err := strconv.ParseFloat(strings.TrimSpace(rec[col]), 64)
			if err != nil {
				return nil, fmt.Errorf("dataset: counts line %d, sample %s: %w", line, samples[j], err)
			}
			if n < 0 || n != math.Trunc(n) || math.IsInf(n, 0) || math.IsNaN(n) {
				return nil, fmt.Errorf("dataset: counts line %d, sample %s: %g is not a non-negative integer", line, samples[j], n)
			}
			row[j] = n
		}
		m.Genes = append(m.Genes, g)
		m.Counts = append(m.Counts, row)
	}

	if len(m.Genes) == 0 {
		return nil, fmt.Errorf("dataset: counts table has no gene rows")
	}
	return m, nil
}

// LoadMetadata reads a sample metadata table. The first column is the sample
// ID; every further column is an attribute (group, batch, ...).
func LoadMetadata(path string) (*SampleTable, error) {
	r, err := openMaybeGzip(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: open metadata %s: %w", path, err)
	}
	defer r.Close()
	return ParseMetadata(newTableReader(r, path))
}

// ParseMetadata parses a sample metadata table from a delimited reader.
func ParseMetadata(cr *csv.Reader) (*SampleTable, error) {
	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("dataset: metadata table is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("dataset: read metadata header: %w", err)
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("dataset: metadata needs a sample ID column and at least one attribute")
	}

	t := &SampleTable{columns: make(map[string][]string)}
	seen := make(map[string]bool)
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("dataset: read metadata line %d: %w", line+1, err)
		}
		line++
		if len(rec) != len(header) {
			return nil, fmt.Errorf("dataset: metadata line %d has %d fields, header has %d", line, len(rec), len(header))
		}

		id := strings.TrimSpace(rec[0])
		if id == "" {
			return nil, fmt.Errorf("dataset: metadata line %d has an empty sample ID", line)
		}
		if seen[id] {
			return nil, fmt.Errorf("dataset: duplicate sample ID %q at line %d", id, line)
		}
		seen[id] = true
		t.Samples = append(t.Samples, id)

		for i := 1; i < len(header); i++ {
			name := strings.TrimSpace(header[i])
			t.columns[name] = append(t.columns[name], strings.TrimSpace(rec[i]))
		}
	}

	if len(t.Samples) == 0 {
		return nil, fmt.Errorf("dataset: metadata table has no sample rows")
	}
	return t, nil
}
