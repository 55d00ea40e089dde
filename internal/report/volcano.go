package report

import (
	"fmt"
	"math"

	"github.com/fogleman/gg"

	"github.com/rnadiff/rnadiff/internal/annotate"
)

// VolcanoPlot renders log2 fold-change against -log10(p), highlighting
// genes past both the fold-change and adjusted-p cutoffs.
func (r *Renderer) VolcanoPlot(rows []annotate.Row, minAbsLFC float64) ([]byte, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("report: no rows for volcano plot")
	}

	const width, height = 800, 600
	const padL, padR, padT, padB = 70.0, 30.0, 50.0, 60.0

	maxLFC, maxNegLogP := 1.0, 1.0
	for _, row := range rows {
		if a := math.Abs(row.Log2FoldChange); a > maxLFC {
			maxLFC = a
		}
		if nl := negLog10(row.PValue); nl > maxNegLogP {
			maxNegLogP = nl
		}
	}

	dc := gg.NewContext(width, height)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	plotW := float64(width) - padL - padR
	plotH := float64(height) - padT - padB
	xAt := func(lfc float64) float64 { return padL + plotW/2 + (lfc/maxLFC)*(plotW/2) }
	yAt := func(nl float64) float64 { return padT + plotH - (nl/maxNegLogP)*plotH }

	// Cutoff guides
	dc.SetRGBA(0, 0, 0, 0.25)
	dc.DrawLine(xAt(minAbsLFC), padT, xAt(minAbsLFC), padT+plotH)
	dc.DrawLine(xAt(-minAbsLFC), padT, xAt(-minAbsLFC), padT+plotH)
	dc.DrawLine(padL, yAt(negLog10(r.cfg.Alpha)), padL+plotW, yAt(negLog10(r.cfg.Alpha)))
	dc.Stroke()

	for _, row := range rows {
		x := xAt(row.Log2FoldChange)
		y := yAt(negLog10(row.PValue))

		significant := row.PAdj < r.cfg.Alpha && math.Abs(row.Log2FoldChange) >= minAbsLFC
		switch {
		case significant && row.Log2FoldChange > 0:
			dc.SetRGB(0.7, 0.09, 0.17)
		case significant:
			dc.SetRGB(0.13, 0.4, 0.67)
		default:
			dc.SetRGBA(0.5, 0.5, 0.5, 0.6)
		}
		dc.DrawCircle(x, y, 3)
		dc.Fill()
	}

	dc.SetRGB(0, 0, 0)
	dc.DrawStringAnchored("volcano", float64(width)/2, padT/2, 0.5, 0.5)
	dc.DrawStringAnchored("log2 fold-change", float64(width)/2, float64(height)-20, 0.5, 0.5)
	dc.Push()
	dc.RotateAbout(-math.Pi/2, 20, float64(height)/2)
	dc.DrawStringAnchored("-log10(p)", 20, float64(height)/2, 0.5, 0.5)
	dc.Pop()

	return encodePNG(dc)
}

func negLog10(p float64) float64 {
	if p <= 0 {
		return 320 // display ceiling for underflowed p-values
	}
	return -math.Log10(p)
}
