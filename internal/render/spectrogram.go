package render

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/roman-kulish/kiwi-spectrum/internal/spectrum"
)

const (
	sentinelPower = spectrum.SentinelPower

	defaultTimeLayout     = "2006-01-02 15"
	defaultDatetimeLayout = time.DateTime
	defaultColorBarLabel  = "Power (dBm / bin)"

	colorBarWidth = 20
	colorBarGap   = 15
)

// ErrNoSpectra is returned when a spectrogram has no rows.
var ErrNoSpectra = errors.New("no spectra to plot")

// Spectrogram renders spectra over time: time on the x axis, frequency on the y axis
// with the highest frequency at the top.
type Spectrogram struct {
	Title   string
	Times   []time.Time // Row timestamps in ascending order
	Spectra spectrum.SampleMatrix
	Band    spectrum.FrequencyBand

	Bounds PowerBounds
	Theme  ColorTheme

	Width  int // Plot area width in pixels, defaults to one column per row
	Height int // Plot area height in pixels, defaults to one row per bin

	TimeLayout    string // Time axis label layout
	ColorBarLabel string
	FontSize      float64
}

// Render draws the spectrogram.
func (s *Spectrogram) Render() (*image.RGBA, error) {
	if len(s.Spectra) == 0 || len(s.Times) == 0 {
		return nil, ErrNoSpectra
	}
	if len(s.Times) != len(s.Spectra) {
		return nil, fmt.Errorf("%d timestamps for %d spectra", len(s.Times), len(s.Spectra))
	}

	bins := s.Band.Bins
	if bins <= 0 {
		bins = len(s.Spectra[0])
	}

	width, height := s.Width, s.Height
	if width <= 0 {
		width = min(max(len(s.Spectra), 200), 2000)
	}
	if height <= 0 {
		height = min(max(bins, 200), 1024)
	}

	layout := s.TimeLayout
	if layout == "" {
		layout = defaultTimeLayout
	}
	barLabel := s.ColorBarLabel
	if barLabel == "" {
		barLabel = defaultColorBarLabel
	}

	probe, err := newCanvas(1, 1, s.FontSize, color.White)
	if err != nil {
		return nil, err
	}
	lineHeight := probe.fontHeight() + 4
	labelWidth := probe.textWidth("-000.0")
	_ = probe.Close()

	top := 2*lineHeight + marginSmall/2
	area := image.Rect(marginAxis, top, marginAxis+width, top+height)
	bar := image.Rect(area.Max.X+colorBarGap, area.Min.Y, area.Max.X+colorBarGap+colorBarWidth, area.Max.Y)
	fullWidth := bar.Max.X + tickMarkLength + labelWidth + marginSmall
	fullHeight := area.Max.Y + tickMarkLength + 3*lineHeight + marginSmall/2

	c, err := newCanvas(fullWidth, fullHeight, s.FontSize, color.White)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	mapper := NewColorMapper(s.Theme, s.Bounds)
	start, end := s.Times[0], s.Times[len(s.Times)-1]
	if !end.After(start) {
		end = start.Add(time.Minute)
	}

	s.drawCells(c, area, mapper, bins, start, end)
	drawFrame(c, area)

	xOf := func(t time.Time) int {
		ratio := float64(t.Sub(start)) / float64(end.Sub(start))
		return area.Min.X + int(math.Round(ratio*float64(width-1)))
	}
	if err = drawTimeAxis(c, area, start, end, xOf, layout); err != nil {
		return nil, fmt.Errorf("drawing time scale: %w", err)
	}
	if err = s.drawFrequencyAxis(c, area); err != nil {
		return nil, fmt.Errorf("drawing frequency scale: %w", err)
	}
	if err = drawColorBar(c, bar, mapper, barLabel); err != nil {
		return nil, fmt.Errorf("drawing color bar: %w", err)
	}

	if err = c.text(s.Title, (area.Min.X+area.Max.X)/2, lineHeight, AlignCenter, axisColor); err != nil {
		return nil, err
	}
	info := s.infoLine(start, end)
	if err = c.text(info, area.Min.X, fullHeight-marginSmall/2, AlignLeft, axisColor); err != nil {
		return nil, fmt.Errorf("drawing info text: %w", err)
	}

	return c.img, nil
}

// drawCells maps every plot pixel to the row recorded at or before its time and the
// bin under its frequency. Columns further than maxGap from any row stay no-data.
func (s *Spectrogram) drawCells(c *canvas, area image.Rectangle, mapper *ColorMapper, bins int, start, end time.Time) {
	width, height := area.Dx(), area.Dy()
	maxGap := 3 * medianInterval(s.Times)
	span := end.Sub(start)

	for x := 0; x < width; x++ {
		t := start.Add(time.Duration(float64(span) * (float64(x) + 0.5) / float64(width)))
		i := sort.Search(len(s.Times), func(i int) bool { return s.Times[i].After(t) }) - 1
		if i < 0 {
			i = 0
		}

		var row spectrum.PowerRow
		if maxGap <= 0 || absDuration(t.Sub(s.Times[i])) <= maxGap {
			row = s.Spectra[i]
		}

		for y := 0; y < height; y++ {
			col := NoDataColor
			if row != nil {
				bin := int((1 - (float64(y)+0.5)/float64(height)) * float64(bins))
				if bin >= 0 && bin < len(row) {
					col = mapper.GetColor(row[bin])
				}
			}
			c.img.Set(area.Min.X+x, area.Min.Y+y, col)
		}
	}
}

func (s *Spectrogram) drawFrequencyAxis(c *canvas, area image.Rectangle) error {
	lo, hi := s.Band.LowerKHz/1e3, s.Band.UpperKHz/1e3
	if hi <= lo {
		return nil
	}

	step := niceStep(hi-lo, area.Dy())
	for _, mhz := range ticks(lo, hi, step) {
		ratio := (mhz - lo) / (hi - lo)
		y := area.Max.Y - 1 - int(math.Round(ratio*float64(area.Dy()-1)))
		c.hline(area.Min.X-tickMarkLength, area.Min.X-1, y, axisColor)
		if err := c.textMiddle(formatTick(mhz, step), area.Min.X-tickMarkLength-3, y, AlignRight, axisColor); err != nil {
			return err
		}
	}
	return c.text("Frequency (MHz)", area.Min.X, area.Min.Y-6, AlignLeft, axisColor)
}

func drawColorBar(c *canvas, bar image.Rectangle, mapper *ColorMapper, label string) error {
	bounds := mapper.Bounds()
	for y := bar.Min.Y; y < bar.Max.Y; y++ {
		ratio := 1 - float64(y-bar.Min.Y)/float64(bar.Dy()-1)
		col := mapper.GetColor(bounds.Min + ratio*(bounds.Max-bounds.Min))
		c.hline(bar.Min.X, bar.Max.X-1, y, col)
	}
	drawFrame(c, bar)

	step := niceStep(bounds.Max-bounds.Min, bar.Dy())
	for _, v := range ticks(bounds.Min, bounds.Max, step) {
		ratio := (v - bounds.Min) / (bounds.Max - bounds.Min)
		y := bar.Max.Y - 1 - int(math.Round(ratio*float64(bar.Dy()-1)))
		c.hline(bar.Max.X, bar.Max.X+tickMarkLength-1, y, axisColor)
		if err := c.textMiddle(formatTick(v, step), bar.Max.X+tickMarkLength+3, y, AlignLeft, axisColor); err != nil {
			return err
		}
	}
	return c.text(label, bar.Max.X, bar.Min.Y-6, AlignRight, axisColor)
}

func (s *Spectrogram) infoLine(start, end time.Time) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Freq: %s - %s", FormatFrequency(s.Band.LowerKHz), FormatFrequency(s.Band.UpperKHz)))
	sb.WriteString("; ")
	sb.WriteString(fmt.Sprintf("Time: %s - %s UTC", start.UTC().Format(defaultDatetimeLayout), end.UTC().Format(defaultDatetimeLayout)))
	if rbw := s.Band.RBW(); rbw > 0 {
		sb.WriteString("; ")
		sb.WriteString(fmt.Sprintf("RBW: %s", FormatFrequency(rbw)))
	}
	return sb.String()
}

// medianInterval returns the median spacing between consecutive timestamps
func medianInterval(times []time.Time) time.Duration {
	if len(times) < 2 {
		return 0
	}

	gaps := make([]time.Duration, 0, len(times)-1)
	for i := 1; i < len(times); i++ {
		gaps = append(gaps, times[i].Sub(times[i-1]))
	}
	sort.Slice(gaps, func(i, j int) bool { return gaps[i] < gaps[j] })
	return gaps[len(gaps)/2]
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
