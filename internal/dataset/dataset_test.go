package dataset

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func parseCountsString(t *testing.T, content string) (*CountMatrix, error) {
	t.Helper()
	cr := csv.NewReader(strings.NewReader(content))
	cr.Comma = '\t'
	cr.FieldsPerRecord = -1
	return ParseCounts(cr)
}

func parseMetaString(t *testing.T, content string) (*SampleTable, error) {
	t.Helper()
	cr := csv.NewReader(strings.NewReader(content))
	cr.Comma = '\t'
	cr.FieldsPerRecord = -1
	return ParseMetadata(cr)
}

const countsOK = "gene_id\tchromosome\tbiotype\tsymbol\tS1\tS2\tS3\n" +
	"ENSG1\t1\tprotein_coding\tTP53\t10\t12\t8\n" +
	"ENSG2\tX\tlincRNA\tXIST\t0\t5\t3\n" +
	"ENSG3\t2\tprotein_coding\tMYC\t100\t90\t110\n"

func TestParseCounts(t *testing.T) {
	m, err := parseCountsString(t, countsOK)
	if err != nil {
		t.Fatalf("parse counts: %v", err)
	}
	if m.NGenes() != 3 || m.NSamples() != 3 {
		t.Fatalf("expected 3x3 matrix, got %dx%d", m.NGenes(), m.NSamples())
	}
	if m.Genes[0].Symbol != "TP53" || m.Genes[1].Chromosome != "X" {
		t.Errorf("annotation columns not parsed: %+v", m.Genes[:2])
	}
	if m.Samples[2] != "S3" {
		t.Errorf("expected sample S3, got %s", m.Samples[2])
	}
	if m.Counts[2][0] != 100 {
		t.Errorf("expected count 100, got %g", m.Counts[2][0])
	}
}

func TestLoadCountsGzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counts.tsv.gz")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := gzip.NewWriter(f)
	if _, err := zw.Write([]byte(countsOK)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	m, err := LoadCounts(path)
	if err != nil {
		t.Fatalf("load gzipped counts: %v", err)
	}
	if m.NGenes() != 3 || m.NSamples() != 3 {
		t.Fatalf("expected 3x3 matrix, got %dx%d", m.NGenes(), m.NSamples())
	}
	if m.Counts[2][2] != 110 {
		t.Errorf("expected count 110, got %g", m.Counts[2][2])
	}
}

func TestParseCountsRejectsDuplicateGene(t *testing.T) {
	bad := "gene_id\tS1\nENSG1\t3\nENSG1\t4\n"
	if _, err := parseCountsString(t, bad); err == nil {
		t.Error("expected error for duplicate gene ID")
	}
}

func TestParseCountsRejectsNonIntegerCounts(t *testing.T) {
	for _, v := range []string{"-1", "3.5", "NA"} {
		bad := "gene_id\tS1\nENSG1\t" + v + "\n"
		if _, err := parseCountsString(t, bad); err == nil {
			t.Errorf("expected error for count %q", v)
		}
	}
}

func TestParseCountsRejectsEmptyTable(t *testing.T) {
	if _, err := parseCountsString(t, "gene_id\tS1\n"); err == nil {
		t.Error("expected error for table without gene rows")
	}
	if _, err := parseCountsString(t, ""); err == nil {
		t.Error("expected error for empty input")
	}
}

func TestParseMetadataAndAlignment(t *testing.T) {
	meta, err := parseMetaString(t, "sample_id\tgroup\tbatch\nS1\tA\tb1\nS2\tA\tb2\nS3\tB\tb1\n")
	if err != nil {
		t.Fatalf("parse metadata: %v", err)
	}
	groups, ok := meta.Column("group")
	if !ok || len(groups) != 3 || groups[2] != "B" {
		t.Fatalf("group column not parsed: %v", groups)
	}

	m, err := parseCountsString(t, countsOK)
	if err != nil {
		t.Fatal(err)
	}
	if err := meta.Aligned(m); err != nil {
		t.Errorf("expected aligned metadata, got %v", err)
	}
}

func TestAlignmentFailsFast(t *testing.T) {
	m, err := parseCountsString(t, countsOK)
	if err != nil {
		t.Fatal(err)
	}

	// Wrong order
	meta, err := parseMetaString(t, "sample_id\tgroup\nS2\tA\nS1\tA\nS3\tB\n")
	if err != nil {
		t.Fatal(err)
	}
	if err := meta.Aligned(m); err == nil {
		t.Error("expected error for out-of-order samples")
	}

	// Wrong cardinality
	meta, err = parseMetaString(t, "sample_id\tgroup\nS1\tA\nS2\tB\n")
	if err != nil {
		t.Fatal(err)
	}
	if err := meta.Aligned(m); err == nil {
		t.Error("expected error for missing sample")
	}
}

func TestSubsetKeepsColumns(t *testing.T) {
	m, err := parseCountsString(t, countsOK)
	if err != nil {
		t.Fatal(err)
	}
	sub, err := m.Subset([]bool{true, false, true})
	if err != nil {
		t.Fatal(err)
	}
	if sub.NGenes() != 2 {
		t.Errorf("expected 2 genes after subset, got %d", sub.NGenes())
	}
	if sub.NSamples() != m.NSamples() {
		t.Errorf("subset must not change sample columns: %d vs %d", sub.NSamples(), m.NSamples())
	}
	if sub.Genes[1].ID != "ENSG3" {
		t.Errorf("expected ENSG3 kept, got %s", sub.Genes[1].ID)
	}

	if _, err := m.Subset([]bool{true}); err == nil {
		t.Error("expected error for mask length mismatch")
	}
}

func TestParseGMT(t *testing.T) {
	gmt := "HALLMARK_APOPTOSIS\tprogrammed cell death\tTP53\tBAX\tCASP3\n" +
		"HALLMARK_MYC_TARGETS\thttps://www.gsea-msigdb.org/gsea/msigdb\tMYC\tMAX\tMYC\n"
	c, err := ParseGMT("hallmark", strings.NewReader(gmt))
	if err != nil {
		t.Fatalf("parse gmt: %v", err)
	}
	if len(c.Sets) != 2 {
		t.Fatalf("expected 2 sets, got %d", len(c.Sets))
	}
	if len(c.Sets[0].Genes) != 3 {
		t.Errorf("expected 3 genes in first set, got %d", len(c.Sets[0].Genes))
	}
	// Duplicate member genes are collapsed.
	if len(c.Sets[1].Genes) != 2 {
		t.Errorf("expected duplicate MYC collapsed, got %v", c.Sets[1].Genes)
	}
}

func TestParseGMTErrors(t *testing.T) {
	if _, err := ParseGMT("x", strings.NewReader("")); err == nil {
		t.Error("expected error for empty collection")
	}
	if _, err := ParseGMT("x", strings.NewReader("A\tdesc\n")); err == nil {
		t.Error("expected error for set without genes")
	}
	if _, err := ParseGMT("x", strings.NewReader("A\td\tG1\nA\td\tG2\n")); err == nil {
		t.Error("expected error for duplicate set name")
	}
}
