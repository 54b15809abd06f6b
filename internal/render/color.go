package render

import (
	"image/color"
	"math"

	"github.com/lucasb-eyer/go-colorful"
)

// ColorTheme represents a predefined color scheme for power visualization.
type ColorTheme string

const (
	JetTheme       ColorTheme = "jet"       // Dark blue to cyan to yellow to dark red
	ClassicTheme   ColorTheme = "classic"   // Blue to red transition
	GrayscaleTheme ColorTheme = "grayscale" // Black to white transition
	ThermalTheme   ColorTheme = "thermal"   // Black to red to yellow to white

	DefaultColorMapSize = 256 // Default number of colors in the map
)

// NoDataColor is used for unknown and sentinel values.
var NoDataColor color.Color = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}

// PowerBounds is the power range mapped onto the color scale.
type PowerBounds struct {
	Min float64 // dB at the bottom of the scale
	Max float64 // dB at the top of the scale
}

// gradientStop is a color at a normalized position of the scale
type gradientStop struct {
	pos float64
	col colorful.Color
}

var jetStops = []gradientStop{
	{0, colorful.Color{R: 0, G: 0, B: 0.5}},
	{0.11, colorful.Color{R: 0, G: 0, B: 1}},
	{0.125, colorful.Color{R: 0, G: 0, B: 1}},
	{0.34, colorful.Color{R: 0, G: 0.86, B: 1}},
	{0.35, colorful.Color{R: 0, G: 0.9, B: 0.97}},
	{0.64, colorful.Color{R: 1, G: 1, B: 0}},
	{0.65, colorful.Color{R: 1, G: 0.96, B: 0}},
	{0.89, colorful.Color{R: 1, G: 0, B: 0}},
	{1, colorful.Color{R: 0.5, G: 0, B: 0}},
}

var thermalStops = []gradientStop{
	{0, colorful.Color{R: 0, G: 0, B: 0}},
	{0.33, colorful.Color{R: 1, G: 0, B: 0}},
	{0.66, colorful.Color{R: 1, G: 1, B: 0}},
	{1, colorful.Color{R: 1, G: 1, B: 1}},
}

// blend interpolates linearly in RGB between the stops surrounding pos
func blend(stops []gradientStop, pos float64) colorful.Color {
	if pos <= stops[0].pos {
		return stops[0].col
	}
	for i := 1; i < len(stops); i++ {
		if pos <= stops[i].pos {
			lo, hi := stops[i-1], stops[i]
			t := (pos - lo.pos) / (hi.pos - lo.pos)
			return lo.col.BlendRgb(hi.col, t).Clamped()
		}
	}
	return stops[len(stops)-1].col
}

func getColorTheme(theme ColorTheme) func(float64) color.Color {
	switch theme {
	case ClassicTheme:
		return func(power float64) color.Color {
			return colorful.Hsv(240-(power*240), 0.9+(power*0.1), math.Pow(power, 0.7))
		}

	case GrayscaleTheme:
		return func(power float64) color.Color {
			v := math.Pow(power, 0.7)
			return colorful.Color{R: v, G: v, B: v}
		}

	case ThermalTheme:
		return func(power float64) color.Color {
			return blend(thermalStops, power)
		}

	default:
		return func(power float64) color.Color {
			return blend(jetStops, power)
		}
	}
}

// ColorMapper provides power-to-color mapping over a pre-computed table.
type ColorMapper struct {
	colorMap      []color.Color // Pre-computed colors
	size          int
	powerPerIndex float64
	bounds        PowerBounds
}

// NewColorMapper creates a new color mapper with the default size.
func NewColorMapper(theme ColorTheme, bounds PowerBounds) *ColorMapper {
	return NewColorMapperWithSize(theme, bounds, DefaultColorMapSize)
}

// NewColorMapperWithSize creates a new color mapper with size pre-computed colors.
func NewColorMapperWithSize(theme ColorTheme, bounds PowerBounds, size int) *ColorMapper {
	if size <= 1 {
		size = DefaultColorMapSize
	}

	cm := &ColorMapper{
		colorMap: make([]color.Color, size),
		size:     size,
	}

	fn := getColorTheme(theme)
	for i := 0; i < size; i++ {
		cm.colorMap[i] = fn(float64(i) / float64(size-1))
	}

	cm.UpdateBounds(bounds)
	return cm
}

// UpdateBounds changes the power range of the scale.
func (cm *ColorMapper) UpdateBounds(bounds PowerBounds) {
	if bounds.Max <= bounds.Min {
		bounds.Max = bounds.Min + 1
	}
	cm.bounds = bounds
	cm.powerPerIndex = (bounds.Max - bounds.Min) / float64(cm.size-1)
}

// Bounds returns the power range of the scale.
func (cm *ColorMapper) Bounds() PowerBounds {
	return cm.bounds
}

// GetColor returns the color for power. Values outside the bounds are clamped; NaN and
// values at or below the sentinel magnitude get NoDataColor.
func (cm *ColorMapper) GetColor(power float64) color.Color {
	if math.IsNaN(power) || power <= sentinelPower {
		return NoDataColor
	}

	index := int((power - cm.bounds.Min) / cm.powerPerIndex)
	if index < 0 {
		return cm.colorMap[0]
	}
	if index >= cm.size {
		return cm.colorMap[cm.size-1]
	}
	return cm.colorMap[index]
}

// ParseColor parses a "#rrggbb" color, as used for series colors.
func ParseColor(hex string) (color.Color, error) {
	c, err := colorful.Hex(hex)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// MustParseColor is ParseColor for constant colors.
func MustParseColor(hex string) color.Color {
	c, err := ParseColor(hex)
	if err != nil {
		panic(err)
	}
	return c
}
