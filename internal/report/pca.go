package report

import (
	"fmt"
	"math"

	"github.com/fogleman/gg"

	"github.com/rnadiff/rnadiff/internal/normalize"
	"github.com/rnadiff/rnadiff/pkg/colormap"
)

// PCAPlot renders samples on the first two principal components, colored
// by group.
func (r *Renderer) PCAPlot(pc *normalize.PCACoords, groups []string) ([]byte, error) {
	if pc == nil || len(pc.X) == 0 {
		return nil, fmt.Errorf("report: no PCA coordinates")
	}
	if len(groups) != len(pc.Samples) {
		return nil, fmt.Errorf("report: %d group labels for %d samples", len(groups), len(pc.Samples))
	}

	const width, height = 700, 600
	const pad = 70.0

	maxAbsX, maxAbsY := 1e-12, 1e-12
	for i := range pc.X {
		if a := math.Abs(pc.X[i]); a > maxAbsX {
			maxAbsX = a
		}
		if a := math.Abs(pc.Y[i]); a > maxAbsY {
			maxAbsY = a
		}
	}

	dc := gg.NewContext(width, height)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	cx, cy := float64(width)/2, float64(height)/2
	scaleX := (float64(width)/2 - pad) / maxAbsX
	scaleY := (float64(height)/2 - pad) / maxAbsY

	dc.SetRGBA(0, 0, 0, 0.2)
	dc.DrawLine(pad, cy, float64(width)-pad, cy)
	dc.DrawLine(cx, pad, cx, float64(height)-pad)
	dc.Stroke()

	levels := map[string]int{}
	for _, g := range groups {
		if _, ok := levels[g]; !ok {
			levels[g] = len(levels)
		}
	}

	for i := range pc.X {
		x := cx + pc.X[i]*scaleX
		y := cy - pc.Y[i]*scaleY
		dc.SetColor(colormap.Categorical.AtIndex(levels[groups[i]]))
		dc.DrawCircle(x, y, 6)
		dc.Fill()
		dc.SetRGB(0, 0, 0)
		dc.DrawStringAnchored(pc.Samples[i], x, y-10, 0.5, 1)
	}

	dc.SetRGB(0, 0, 0)
	dc.DrawStringAnchored(fmt.Sprintf("PC1 (%.1f%%)", pc.VarX*100), cx, float64(height)-24, 0.5, 0.5)
	dc.Push()
	dc.RotateAbout(-math.Pi/2, 22, cy)
	dc.DrawStringAnchored(fmt.Sprintf("PC2 (%.1f%%)", pc.VarY*100), 22, cy, 0.5, 0.5)
	dc.Pop()

	return encodePNG(dc)
}
