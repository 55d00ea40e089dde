// Package report renders result tables and figures from pipeline artifacts.
package report

import (
	"bytes"
	"fmt"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/fogleman/gg"

	"github.com/rnadiff/rnadiff/internal/config"
	"github.com/rnadiff/rnadiff/pkg/colormap"
)

// Renderer draws figures for DE and enrichment results.
type Renderer struct {
	cfg  config.ReportConfig
	cmap colormap.Colormap
}

// NewRenderer creates a renderer from report configuration.
func NewRenderer(cfg config.ReportConfig) *Renderer {
	return &Renderer{cfg: cfg, cmap: colormap.ByName(cfg.Colormap)}
}

func encodePNG(dc *gg.Context) ([]byte, error) {
	var buf bytes.Buffer
	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(&buf, dc.Image()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteFile writes rendered bytes under the configured output directory.
func (r *Renderer) WriteFile(name string, data []byte) error {
	if err := os.MkdirAll(r.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("report: create output dir: %w", err)
	}
	path := filepath.Join(r.cfg.OutputDir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("report: write %s: %w", name, err)
	}
	return nil
}

// BarItem is one row of a bar chart: a label, a signed effect magnitude
// (log2 fold-change or NES) and its adjusted p-value.
type BarItem struct {
	Label  string
	Effect float64
	PAdj   float64
}

// SelectBars filters items to adjusted p below alpha, sorts by descending
// absolute effect and truncates to maxItems.
func SelectBars(items []BarItem, alpha float64, maxItems int) []BarItem {
	var kept []BarItem
	for _, it := range items {
		if math.IsNaN(it.PAdj) || it.PAdj >= alpha {
			continue
		}
		kept = append(kept, it)
	}
	sort.Slice(kept, func(i, j int) bool {
		return math.Abs(kept[i].Effect) > math.Abs(kept[j].Effect)
	})
	if maxItems > 0 && len(kept) > maxItems {
		kept = kept[:maxItems]
	}
	return kept
}

// SignificanceMarker returns the tier marker for an adjusted p-value:
// one star below 0.05, two below 0.01, three below 0.001.
func SignificanceMarker(p float64) string {
	switch {
	case p < 0.001:
		return "***"
	case p < 0.01:
		return "**"
	case p < 0.05:
		return "*"
	}
	return ""
}

// BarChart renders a horizontal bar chart with significance-tier markers.
// Items are assumed to be pre-selected with SelectBars.
func (r *Renderer) BarChart(items []BarItem, title, xlabel string) ([]byte, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("report: no items to draw for %q", title)
	}

	const width = 900
	labelW := 280.0
	topPad := 50.0
	rowH := 26.0
	height := int(topPad + rowH*float64(len(items)) + 50)

	dc := gg.NewContext(width, height)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	dc.SetRGB(0, 0, 0)
	dc.DrawStringAnchored(title, float64(width)/2, topPad/2, 0.5, 0.5)

	maxAbs := 0.0
	for _, it := range items {
		if a := math.Abs(it.Effect); a > maxAbs {
			maxAbs = a
		}
	}
	if maxAbs == 0 {
		maxAbs = 1
	}

	plotW := float64(width) - labelW - 90
	zeroX := labelW + plotW/2
	scale := (plotW / 2) / maxAbs

	// Zero axis
	dc.SetRGBA(0, 0, 0, 0.4)
	dc.DrawLine(zeroX, topPad, zeroX, float64(height)-40)
	dc.Stroke()

	for i, it := range items {
		y := topPad + rowH*float64(i)
		barY := y + 4
		barH := rowH - 8

		// Color by sign of the effect via the diverging map.
		tcol := 0.5 + 0.5*(it.Effect/maxAbs)/1.0001
		dc.SetColor(colormap.RdBu.At(tcol))

		w := it.Effect * scale
		if w >= 0 {
			dc.DrawRectangle(zeroX, barY, w, barH)
		} else {
			dc.DrawRectangle(zeroX+w, barY, -w, barH)
		}
		dc.Fill()

		dc.SetRGB(0, 0, 0)
		dc.DrawStringAnchored(it.Label, labelW-8, y+rowH/2, 1, 0.5)

		marker := SignificanceMarker(it.PAdj)
		if marker != "" {
			mx := zeroX + w + 6
			anchor := 0.0
			if w < 0 {
				mx = zeroX + w - 6
				anchor = 1
			}
			dc.DrawStringAnchored(marker, mx, y+rowH/2, anchor, 0.5)
		}
	}

	dc.SetRGB(0, 0, 0)
	dc.DrawStringAnchored(xlabel, labelW+plotW/2, float64(height)-18, 0.5, 0.5)

	return encodePNG(dc)
}
