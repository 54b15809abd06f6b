package render

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"time"
)

const (
	defaultPlotWidth  = 800
	defaultPlotHeight = 400

	tickMarkLength = 5
	gridDash       = 2
	legendBox      = 10
	marginSmall    = 20
	marginAxis     = 70
)

var (
	axisColor      = color.Black
	gridColor      = color.RGBA{R: 0xc0, G: 0xc0, B: 0xc0, A: 0xff}
	watermarkColor = color.RGBA{R: 0x80, G: 0x80, B: 0x80, A: 0xff}

	// ErrNoSeries is returned when a plot has nothing to draw.
	ErrNoSeries = errors.New("no series to plot")
)

// Series is one line of a LinePlot. NaN values break the line.
type Series struct {
	Label     string
	Color     color.Color
	Width     int // Line width in pixels, 1 when zero
	Times     []time.Time
	Values    []float64
	RightAxis bool // Values are in right axis units
}

// Axis is the left value axis. Min == Max selects the range from the data.
type Axis struct {
	Label string
	Min   float64
	Max   float64
}

// RightAxis is a secondary axis whose values are left*Scale + Shift.
type RightAxis struct {
	Label string
	Scale float64
	Shift float64
}

func (r *RightAxis) fromLeft(v float64) float64 { return v*r.Scale + r.Shift }
func (r *RightAxis) toLeft(v float64) float64   { return (v - r.Shift) / r.Scale }

// LinePlot is a time-series line chart.
type LinePlot struct {
	Title     string
	Width     int // Plot area width in pixels
	Height    int // Plot area height in pixels
	Start     time.Time
	End       time.Time // Start and End default to the data range
	Y         Axis
	Right     *RightAxis
	Series    []Series
	Footer    []string
	Watermark string
	FontSize  float64
}

// Render draws the plot.
func (p *LinePlot) Render() (*image.RGBA, error) {
	if len(p.Series) == 0 {
		return nil, ErrNoSeries
	}
	if p.Right != nil && p.Right.Scale == 0 {
		return nil, fmt.Errorf("right axis scale must not be zero")
	}

	width, height := p.Width, p.Height
	if width <= 0 {
		width = defaultPlotWidth
	}
	if height <= 0 {
		height = defaultPlotHeight
	}

	start, end := p.timeRange()
	if !end.After(start) {
		end = start.Add(time.Hour)
	}
	yMin, yMax := p.valueRange()

	// measure with a throwaway canvas of the right font size
	probe, err := newCanvas(1, 1, p.FontSize, color.White)
	if err != nil {
		return nil, err
	}
	lineHeight := probe.fontHeight() + 4
	_ = probe.Close()

	right := marginSmall
	if p.Right != nil {
		right = marginAxis
	}
	area := image.Rect(marginAxis, 2*lineHeight+marginSmall/2, marginAxis+width, 2*lineHeight+marginSmall/2+height)

	extraLines := 1 + len(p.Footer) // legend row plus the footer
	if p.Watermark != "" {
		extraLines++
	}
	fullHeight := area.Max.Y + tickMarkLength + lineHeight + extraLines*lineHeight + marginSmall/2

	c, err := newCanvas(area.Max.X+right, fullHeight, p.FontSize, color.White)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	xOf := func(t time.Time) int {
		ratio := float64(t.Sub(start)) / float64(end.Sub(start))
		return area.Min.X + int(math.Round(ratio*float64(width-1)))
	}
	yOf := func(v float64) int {
		ratio := (v - yMin) / (yMax - yMin)
		y := area.Max.Y - 1 - int(math.Round(ratio*float64(height-1)))
		return min(max(y, area.Min.Y), area.Max.Y-1)
	}

	if err = p.drawValueAxes(c, area, yMin, yMax, yOf); err != nil {
		return nil, err
	}
	if err = drawTimeAxis(c, area, start, end, xOf, ""); err != nil {
		return nil, err
	}

	for _, s := range p.Series {
		p.drawSeries(c, s, start, end, xOf, yOf)
	}
	drawFrame(c, area)

	if err = c.text(p.Title, (area.Min.X+area.Max.X)/2, lineHeight, AlignCenter, axisColor); err != nil {
		return nil, err
	}

	y := area.Max.Y + tickMarkLength + 2*lineHeight
	if err = p.drawLegend(c, area.Min.X, y); err != nil {
		return nil, err
	}
	for _, line := range p.Footer {
		y += lineHeight
		if err = c.text(line, area.Min.X, y, AlignLeft, axisColor); err != nil {
			return nil, err
		}
	}
	if p.Watermark != "" {
		y += lineHeight
		if err = c.text(p.Watermark, area.Max.X, y, AlignRight, watermarkColor); err != nil {
			return nil, err
		}
	}

	return c.img, nil
}

func (p *LinePlot) timeRange() (start, end time.Time) {
	start, end = p.Start, p.End
	if !start.IsZero() && !end.IsZero() {
		return start, end
	}

	var lo, hi time.Time
	for _, s := range p.Series {
		for _, t := range s.Times {
			if lo.IsZero() || t.Before(lo) {
				lo = t
			}
			if hi.IsZero() || t.After(hi) {
				hi = t
			}
		}
	}
	if start.IsZero() {
		start = lo
	}
	if end.IsZero() {
		end = hi
	}
	return start, end
}

func (p *LinePlot) valueRange() (float64, float64) {
	if p.Y.Max > p.Y.Min {
		return p.Y.Min, p.Y.Max
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, s := range p.Series {
		for _, v := range s.Values {
			if math.IsNaN(v) {
				continue
			}
			if s.RightAxis && p.Right != nil {
				v = p.Right.toLeft(v)
			}
			lo, hi = math.Min(lo, v), math.Max(hi, v)
		}
	}

	switch {
	case math.IsInf(lo, 1):
		return 0, 1
	case hi-lo < 1e-9:
		return lo - 1, hi + 1
	}

	pad := (hi - lo) * 0.05
	return lo - pad, hi + pad
}

func (p *LinePlot) drawValueAxes(c *canvas, area image.Rectangle, yMin, yMax float64, yOf func(float64) int) error {
	step := niceStep(yMax-yMin, area.Dy())
	for _, v := range ticks(yMin, yMax, step) {
		y := yOf(v)
		c.dashedHLine(area.Min.X, area.Max.X-1, y, gridDash, gridColor)
		c.hline(area.Min.X-tickMarkLength, area.Min.X-1, y, axisColor)
		if err := c.textMiddle(formatTick(v, step), area.Min.X-tickMarkLength-3, y, AlignRight, axisColor); err != nil {
			return err
		}

		if p.Right != nil {
			c.hline(area.Max.X, area.Max.X+tickMarkLength-1, y, axisColor)
			label := formatTick(p.Right.fromLeft(v), step*math.Abs(p.Right.Scale))
			if err := c.textMiddle(label, area.Max.X+tickMarkLength+3, y, AlignLeft, axisColor); err != nil {
				return err
			}
		}
	}

	labelY := area.Min.Y - 6
	if err := c.text(p.Y.Label, area.Min.X, labelY, AlignLeft, axisColor); err != nil {
		return err
	}
	if p.Right != nil {
		if err := c.text(p.Right.Label, area.Max.X, labelY, AlignRight, axisColor); err != nil {
			return err
		}
	}
	return nil
}

func drawTimeAxis(c *canvas, area image.Rectangle, start, end time.Time, xOf func(time.Time) int, layout string) error {
	step := niceTimeStep(end.Sub(start), area.Dx())
	if layout == "" {
		layout = timeFormat(step)
	}

	baseline := area.Max.Y + tickMarkLength + c.fontHeight()
	lastRight := math.MinInt
	for _, t := range timeTicks(start, end, step) {
		x := xOf(t)
		c.dashedVLine(x, area.Min.Y, area.Max.Y-1, gridDash, gridColor)
		c.vline(x, area.Max.Y, area.Max.Y+tickMarkLength-1, axisColor)

		label := t.Format(layout)
		w := c.textWidth(label)
		if x-w/2 <= lastRight {
			continue // would overlap the previous label
		}
		if err := c.text(label, x, baseline, AlignCenter, axisColor); err != nil {
			return err
		}
		lastRight = x + w/2 + 4
	}
	return nil
}

func (p *LinePlot) drawSeries(c *canvas, s Series, start, end time.Time, xOf func(time.Time) int, yOf func(float64) int) {
	width := max(1, s.Width)
	col := s.Color
	if col == nil {
		col = axisColor
	}

	havePrev := false
	var px, py int
	for i, t := range s.Times {
		if i >= len(s.Values) {
			break
		}

		v := s.Values[i]
		if math.IsNaN(v) || t.Before(start) || t.After(end) {
			havePrev = false
			continue
		}
		if s.RightAxis && p.Right != nil {
			v = p.Right.toLeft(v)
		}

		x, y := xOf(t), yOf(v)
		if havePrev {
			c.line(px, py, x, y, width, col)
		} else {
			c.line(x, y, x, y, width, col)
		}
		px, py, havePrev = x, y, true
	}
}

func (p *LinePlot) drawLegend(c *canvas, x, baseline int) error {
	for _, s := range p.Series {
		if s.Label == "" {
			continue
		}
		col := s.Color
		if col == nil {
			col = axisColor
		}

		top := baseline - legendBox
		c.fill(image.Rect(x, top, x+legendBox, top+legendBox), col)
		if err := c.text(s.Label, x+legendBox+4, baseline, AlignLeft, axisColor); err != nil {
			return err
		}
		x += legendBox + 4 + c.textWidth(s.Label) + marginSmall
	}
	return nil
}

func drawFrame(c *canvas, area image.Rectangle) {
	c.hline(area.Min.X, area.Max.X-1, area.Min.Y, axisColor)
	c.hline(area.Min.X, area.Max.X-1, area.Max.Y-1, axisColor)
	c.vline(area.Min.X, area.Min.Y, area.Max.Y-1, axisColor)
	c.vline(area.Max.X-1, area.Min.Y, area.Max.Y-1, axisColor)
}
