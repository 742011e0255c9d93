// Package chart draws the monthly present and future climate series as PNG
// line charts.
package chart

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomedium"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/lox/daasclimate/internal/climate"
)

const (
	Width  = 800
	Height = 420

	marginLeft   = 70
	marginRight  = 30
	marginTop    = 60
	marginBottom = 60
)

var monthLabels = [12]string{"J", "F", "M", "A", "M", "J", "J", "A", "S", "O", "N", "D"}

var (
	background = color.RGBA{255, 255, 255, 255}
	axisColor  = color.RGBA{120, 120, 120, 255}
	gridColor  = color.RGBA{230, 230, 230, 255}
	textColor  = color.RGBA{40, 40, 40, 255}

	PresentColor = color.RGBA{31, 119, 180, 255}
	FutureColor  = color.RGBA{214, 39, 40, 255}
)

var (
	fontTitle font.Face
	fontLabel font.Face
	fontOnce  sync.Once
	fontErr   error
)

func loadFonts() {
	fontOnce.Do(func() {
		medium, err := opentype.Parse(gomedium.TTF)
		if err != nil {
			fontErr = fmt.Errorf("parse Go Medium: %w", err)
			return
		}
		fontTitle, err = opentype.NewFace(medium, &opentype.FaceOptions{
			Size:    20,
			DPI:     72,
			Hinting: font.HintingFull,
		})
		if err != nil {
			fontErr = fmt.Errorf("create title face: %w", err)
			return
		}

		regular, err := opentype.Parse(goregular.TTF)
		if err != nil {
			fontErr = fmt.Errorf("parse Go Regular: %w", err)
			return
		}
		fontLabel, err = opentype.NewFace(regular, &opentype.FaceOptions{
			Size:    13,
			DPI:     72,
			Hinting: font.HintingFull,
		})
		if err != nil {
			fontErr = fmt.Errorf("create label face: %w", err)
			return
		}
	})
}

// Series is one line on the chart.
type Series struct {
	Name   string
	Color  color.Color
	Values [12]float64 // NaN values leave a gap
}

// LineChart describes a twelve month chart.
type LineChart struct {
	Title  string
	YLabel string
	Series []Series
}

// ErrNoData is returned when every value is missing.
var ErrNoData = errors.New("chart: no values to plot")

// FromRows builds the present/future chart of a climate table.
func FromRows(title, ylabel string, rows []climate.MonthRow) LineChart {
	var present, future [12]float64
	for i := range present {
		present[i], future[i] = math.NaN(), math.NaN()
	}
	for _, r := range rows {
		i := int(r.Month) - 1
		if i < 0 || i >= 12 {
			continue
		}
		present[i], future[i] = r.Present, r.Future
	}
	return LineChart{
		Title:  title,
		YLabel: ylabel,
		Series: []Series{
			{Name: "Present", Color: PresentColor, Values: present},
			{Name: "Future", Color: FutureColor, Values: future},
		},
	}
}

// bounds returns a padded value range covering every finite value.
func (c LineChart) bounds() (lo, hi float64, ok bool) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, s := range c.Series {
		for _, v := range s.Values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			lo, hi = math.Min(lo, v), math.Max(hi, v)
		}
	}
	if math.IsInf(lo, 1) {
		return 0, 0, false
	}
	if hi-lo < 1e-9 {
		lo, hi = lo-1, hi+1
	}
	pad := (hi - lo) * 0.1
	return lo - pad, hi + pad, true
}

// Render draws the chart and encodes it as PNG.
func (c LineChart) Render() ([]byte, error) {
	loadFonts()
	if fontErr != nil {
		return nil, fmt.Errorf("load fonts: %w", fontErr)
	}
	lo, hi, ok := c.bounds()
	if !ok {
		return nil, ErrNoData
	}

	img := image.NewRGBA(image.Rect(0, 0, Width, Height))
	draw.Draw(img, img.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)

	plotW := float64(Width - marginLeft - marginRight)
	plotH := float64(Height - marginTop - marginBottom)
	xAt := func(i int) float64 { return marginLeft + plotW*float64(i)/11 }
	yAt := func(v float64) float64 { return marginTop + plotH*(hi-v)/(hi-lo) }

	// Horizontal grid with five value labels.
	for i := 0; i <= 4; i++ {
		v := lo + (hi-lo)*float64(i)/4
		y := yAt(v)
		drawLine(img, marginLeft, y, Width-marginRight, y, gridColor, 1)
		label := fmt.Sprintf("%.1f", v)
		drawText(img, label, marginLeft-10-textWidth(label, fontLabel), int(y)+4, textColor, fontLabel)
	}
	for i, m := range monthLabels {
		x := xAt(i)
		drawLine(img, x, Height-marginBottom, x, Height-marginBottom+5, axisColor, 1)
		drawText(img, m, int(x)-textWidth(m, fontLabel)/2, Height-marginBottom+20, textColor, fontLabel)
	}
	drawLine(img, marginLeft, marginTop, marginLeft, Height-marginBottom, axisColor, 1)
	drawLine(img, marginLeft, Height-marginBottom, Width-marginRight, Height-marginBottom, axisColor, 1)

	for _, s := range c.Series {
		for i := 0; i < 11; i++ {
			a, b := s.Values[i], s.Values[i+1]
			if math.IsNaN(a) || math.IsNaN(b) {
				continue
			}
			drawLine(img, xAt(i), yAt(a), xAt(i+1), yAt(b), s.Color, 3)
		}
		for i, v := range s.Values {
			if !math.IsNaN(v) {
				drawDot(img, xAt(i), yAt(v), 4, s.Color)
			}
		}
	}

	drawText(img, c.Title, marginLeft, 30, textColor, fontTitle)
	if c.YLabel != "" {
		drawText(img, c.YLabel, 10, marginTop-12, axisColor, fontLabel)
	}
	c.drawLegend(img)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode chart: %w", err)
	}
	return buf.Bytes(), nil
}

func (c LineChart) drawLegend(img *image.RGBA) {
	x := Width - marginRight
	for i := len(c.Series) - 1; i >= 0; i-- {
		s := c.Series[i]
		x -= textWidth(s.Name, fontLabel)
		drawText(img, s.Name, x, 30, textColor, fontLabel)
		x -= 26
		drawLine(img, float64(x), 25, float64(x+18), 25, s.Color, 3)
		x -= 16
	}
}

// drawText draws text with its baseline at y.
func drawText(img *image.RGBA, text string, x, y int, col color.Color, face font.Face) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(col),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

func textWidth(text string, face font.Face) int {
	return font.MeasureString(face, text).Ceil()
}

// drawLine steps along the segment stamping a square brush of the given
// width.
func drawLine(img *image.RGBA, x0, y0, x1, y1 float64, col color.Color, width int) {
	steps := int(math.Max(math.Abs(x1-x0), math.Abs(y1-y0))) + 1
	half := width / 2
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		x := int(math.Round(x0 + (x1-x0)*t))
		y := int(math.Round(y0 + (y1-y0)*t))
		for dy := -half; dy <= half-(1-width%2); dy++ {
			for dx := -half; dx <= half-(1-width%2); dx++ {
				img.Set(x+dx, y+dy, col)
			}
		}
	}
}

func drawDot(img *image.RGBA, cx, cy float64, r int, col color.Color) {
	x0, y0 := int(math.Round(cx)), int(math.Round(cy))
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			if dx*dx+dy*dy <= r*r {
				img.Set(x0+dx, y0+dy, col)
			}
		}
	}
}
