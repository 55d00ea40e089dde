package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/rnadiff/rnadiff/internal/annotate"
	"github.com/rnadiff/rnadiff/internal/enrich"
)

// WriteDETable writes annotated DE rows as a TSV table.
func WriteDETable(w io.Writer, rows []annotate.Row) error {
	if _, err := fmt.Fprintln(w, "gene_id\tsymbol\tbase_mean\tlog2_fold_change\tstat\tpvalue\tpadj"); err != nil {
		return err
	}
	for _, r := range rows {
		_, err := fmt.Fprintf(w, "%s\t%s\t%.4f\t%.4f\t%.4f\t%.6g\t%.6g\n",
			r.GeneID, r.Symbol, r.BaseMean, r.Log2FoldChange, r.Stat, r.PValue, r.PAdj)
		if err != nil {
			return err
		}
	}
	return nil
}

// WriteEnrichmentTable writes pathway results as a TSV table.
func WriteEnrichmentTable(w io.Writer, results []enrich.PathwayResult) error {
	if _, err := fmt.Fprintln(w, "pathway\tsize\tes\tnes\tpvalue\tpadj\tdirection\tleading_edge"); err != nil {
		return err
	}
	for _, r := range results {
		_, err := fmt.Fprintf(w, "%s\t%d\t%.4f\t%.4f\t%.6g\t%.6g\t%s\t%s\n",
			r.Pathway, r.Size, r.ES, r.NES, r.PValue, r.PAdj, r.Direction,
			strings.Join(r.LeadingEdge, ","))
		if err != nil {
			return err
		}
	}
	return nil
}
