package analysis

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

const (
	chartWidth  = 1200
	chartHeight = 675
	chartMargin = 60
	// Rendered at double size and downsampled with Lanczos so the
	// polylines come out anti-aliased.
	superSample = 2
)

var (
	chartBackground = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	chartGrid       = color.NRGBA{R: 225, G: 225, B: 225, A: 255}
	chartAxis       = color.NRGBA{R: 120, G: 120, B: 120, A: 255}
	priceColor      = color.NRGBA{R: 31, G: 119, B: 180, A: 255}
	fundamentalCol  = color.NRGBA{R: 255, G: 127, B: 14, A: 255}
	returnColor     = color.NRGBA{R: 44, G: 160, B: 44, A: 255}
	zeroLineColor   = color.NRGBA{R: 214, G: 39, B: 40, A: 255}
)

// Renderer writes run charts as PNG files into a report directory.
type Renderer struct {
	dir string
}

// NewRenderer creates the report directory if needed.
func NewRenderer(dir string) (*Renderer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create report directory: %w", err)
	}
	return &Renderer{dir: dir}, nil
}

// PriceChart renders the printed price path against the fundamental and
// returns the written file path.
func (r *Renderer) PriceChart(label string, prices, fundamentals []float64) (string, error) {
	if len(prices) == 0 && len(fundamentals) == 0 {
		return "", fmt.Errorf("no series to chart for %q", label)
	}
	lo, hi := seriesRange(prices, fundamentals)

	canvas := newCanvas()
	drawFrame(canvas)
	plotSeries(canvas, fundamentals, lo, hi, fundamentalCol)
	plotSeries(canvas, prices, lo, hi, priceColor)

	return r.save("price_"+sanitizeLabel(label)+".png", canvas)
}

// ReturnsChart renders the log return series around its zero line and
// returns the written file path.
func (r *Renderer) ReturnsChart(label string, returns []float64) (string, error) {
	if len(returns) == 0 {
		return "", fmt.Errorf("no returns to chart for %q", label)
	}
	lo, hi := seriesRange(returns, nil)

	canvas := newCanvas()
	drawFrame(canvas)
	if lo < 0 && hi > 0 {
		y := valueToY(0, lo, hi)
		drawLine(canvas, scaled(chartMargin), y, scaled(chartWidth-chartMargin), y, zeroLineColor)
	}
	plotSeries(canvas, returns, lo, hi, returnColor)

	return r.save("returns_"+sanitizeLabel(label)+".png", canvas)
}

func (r *Renderer) save(name string, canvas *image.NRGBA) (string, error) {
	final := imaging.Resize(canvas, chartWidth, chartHeight, imaging.Lanczos)
	path := filepath.Join(r.dir, name)
	if err := imaging.Save(final, path); err != nil {
		return "", fmt.Errorf("failed to save chart: %w", err)
	}
	return path, nil
}

func newCanvas() *image.NRGBA {
	return imaging.New(scaled(chartWidth), scaled(chartHeight), chartBackground)
}

func scaled(v int) int { return v * superSample }

// seriesRange finds the padded value range covering both series. A flat
// range widens by one unit so the plot stays drawable.
func seriesRange(a, b []float64) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, s := range [][]float64{a, b} {
		for _, v := range s {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	if math.IsInf(lo, 1) {
		return 0, 1
	}
	if lo == hi {
		return lo - 1, hi + 1
	}
	pad := (hi - lo) * 0.05
	return lo - pad, hi + pad
}

func drawFrame(canvas *image.NRGBA) {
	left, right := scaled(chartMargin), scaled(chartWidth-chartMargin)
	top, bottom := scaled(chartMargin), scaled(chartHeight-chartMargin)

	for i := 0; i <= 4; i++ {
		y := top + (bottom-top)*i/4
		drawLine(canvas, left, y, right, y, chartGrid)
	}
	drawLine(canvas, left, top, left, bottom, chartAxis)
	drawLine(canvas, left, bottom, right, bottom, chartAxis)
}

func plotSeries(canvas *image.NRGBA, series []float64, lo, hi float64, col color.NRGBA) {
	if len(series) == 0 {
		return
	}
	if len(series) == 1 {
		x := indexToX(0, 1)
		drawDot(canvas, x, valueToY(series[0], lo, hi), col)
		return
	}
	for i := 1; i < len(series); i++ {
		x0 := indexToX(i-1, len(series))
		y0 := valueToY(series[i-1], lo, hi)
		x1 := indexToX(i, len(series))
		y1 := valueToY(series[i], lo, hi)
		drawLine(canvas, x0, y0, x1, y1, col)
	}
}

func indexToX(i, n int) int {
	left, right := scaled(chartMargin), scaled(chartWidth-chartMargin)
	if n <= 1 {
		return left
	}
	return left + (right-left)*i/(n-1)
}

func valueToY(v, lo, hi float64) int {
	top, bottom := scaled(chartMargin), scaled(chartHeight-chartMargin)
	frac := (v - lo) / (hi - lo)
	return bottom - int(frac*float64(bottom-top))
}

// drawLine rasterizes a thick segment by stepping along its longer
// axis, dotting each sample.
func drawLine(canvas *image.NRGBA, x0, y0, x1, y1 int, col color.NRGBA) {
	dx, dy := x1-x0, y1-y0
	steps := max(abs(dx), abs(dy))
	if steps == 0 {
		drawDot(canvas, x0, y0, col)
		return
	}
	for s := 0; s <= steps; s++ {
		t := float64(s) / float64(steps)
		drawDot(canvas, x0+int(t*float64(dx)), y0+int(t*float64(dy)), col)
	}
}

func drawDot(canvas *image.NRGBA, x, y int, col color.NRGBA) {
	for ox := 0; ox < superSample; ox++ {
		for oy := 0; oy < superSample; oy++ {
			canvas.SetNRGBA(x+ox, y+oy, col)
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func sanitizeLabel(label string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(label) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_':
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "run"
	}
	return b.String()
}
