package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"

	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomono"
)

const (
	dpi             = 72.0
	defaultFontSize = 12.0
)

var (
	parsedFont     *truetype.Font
	parsedFontOnce sync.Once
	parsedFontErr  error
)

func loadFont() (*truetype.Font, error) {
	parsedFontOnce.Do(func() {
		parsedFont, parsedFontErr = freetype.ParseFont(gomono.TTF)
		if parsedFontErr != nil {
			parsedFontErr = fmt.Errorf("parsing font: %w", parsedFontErr)
		}
	})
	return parsedFont, parsedFontErr
}

// Align positions text horizontally relative to the anchor point.
type Align int

const (
	AlignLeft Align = iota
	AlignCenter
	AlignRight
)

// canvas is an RGBA image with a text context
type canvas struct {
	img      *image.RGBA
	context  *freetype.Context
	fontFace font.Face
	fontSize float64
}

func newCanvas(width, height int, fontSize float64, background color.Color) (*canvas, error) {
	f, err := loadFont()
	if err != nil {
		return nil, err
	}
	if fontSize <= 0 {
		fontSize = defaultFontSize
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)

	ctx := freetype.NewContext()
	ctx.SetDPI(dpi)
	ctx.SetFont(f)
	ctx.SetFontSize(fontSize)
	ctx.SetHinting(font.HintingNone)
	ctx.SetSrc(image.Black)
	ctx.SetClip(img.Bounds())
	ctx.SetDst(img)

	return &canvas{
		img:      img,
		context:  ctx,
		fontSize: fontSize,
		fontFace: truetype.NewFace(f, &truetype.Options{
			Size:    fontSize,
			DPI:     dpi,
			Hinting: font.HintingNone,
		}),
	}, nil
}

func (c *canvas) Close() error {
	if c.fontFace != nil {
		return c.fontFace.Close()
	}
	return nil
}

// fontHeight returns the height of a line of text in pixels
func (c *canvas) fontHeight() int {
	metrics := c.fontFace.Metrics()
	return (metrics.Ascent + metrics.Descent).Round()
}

func (c *canvas) textWidth(s string) int {
	return font.MeasureString(c.fontFace, s).Round()
}

// text draws s with its baseline at y
func (c *canvas) text(s string, x, y int, align Align, col color.Color) error {
	switch align {
	case AlignCenter:
		x -= c.textWidth(s) / 2
	case AlignRight:
		x -= c.textWidth(s)
	}

	c.context.SetSrc(image.NewUniform(col))
	if _, err := c.context.DrawString(s, freetype.Pt(x, y)); err != nil {
		return fmt.Errorf("drawing %q: %w", s, err)
	}
	return nil
}

// textMiddle draws s vertically centred on y
func (c *canvas) textMiddle(s string, x, y int, align Align, col color.Color) error {
	metrics := c.fontFace.Metrics()
	return c.text(s, x, y+c.fontHeight()/2-metrics.Descent.Round(), align, col)
}

func (c *canvas) fill(r image.Rectangle, col color.Color) {
	draw.Draw(c.img, r.Intersect(c.img.Bounds()), image.NewUniform(col), image.Point{}, draw.Src)
}

func (c *canvas) hline(x0, x1, y int, col color.Color) {
	for x := min(x0, x1); x <= max(x0, x1); x++ {
		c.img.Set(x, y, col)
	}
}

func (c *canvas) vline(x, y0, y1 int, col color.Color) {
	for y := min(y0, y1); y <= max(y0, y1); y++ {
		c.img.Set(x, y, col)
	}
}

// dashedHLine draws a grid line, dash pixels on and dash pixels off
func (c *canvas) dashedHLine(x0, x1, y, dash int, col color.Color) {
	for x := min(x0, x1); x <= max(x0, x1); x++ {
		if ((x-x0)/dash)%2 == 0 {
			c.img.Set(x, y, col)
		}
	}
}

func (c *canvas) dashedVLine(x, y0, y1, dash int, col color.Color) {
	for y := min(y0, y1); y <= max(y0, y1); y++ {
		if ((y-y0)/dash)%2 == 0 {
			c.img.Set(x, y, col)
		}
	}
}

// line draws a straight line of the given width using Bresenham's algorithm
func (c *canvas) line(x0, y0, x1, y1, width int, col color.Color) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}

	half := (width - 1) / 2
	e := dx + dy
	for {
		if width <= 1 {
			c.img.Set(x0, y0, col)
		} else {
			c.fill(image.Rect(x0-half, y0-half, x0-half+width, y0-half+width), col)
		}

		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
