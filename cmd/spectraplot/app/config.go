package app

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/roman-kulish/kiwi-spectrum/internal/render"
)

const (
	defaultHours   = 72
	defaultCmapMin = -110.0
	defaultCmapMax = -30.0
	defaultTitle   = "KiwiSDR"
)

// Config holds the plotting program options
type Config struct {
	LogPath      string
	Hours        int
	CmapMin      float64
	CmapMax      float64
	CmapAuto     bool // Derive the colormap range from the data
	Clip         bool
	Spectrograph string // Output image path, empty to skip
	RXPower      string // Output image path, empty to skip
	Title        string
	Theme        render.ColorTheme
	Verbose      bool
}

// Window returns the time window to read and clip.
func (c *Config) Window() time.Duration {
	return time.Duration(c.Hours) * time.Hour
}

// NewConfigFromArgs parses the command line: flags followed by the spectra log path.
func NewConfigFromArgs(args []string, output io.Writer) (*Config, error) {
	c := Config{}
	flags := flag.NewFlagSet("spectraplot", flag.ContinueOnError)
	flags.SetOutput(output)
	flags.Usage = func() {
		_, _ = fmt.Fprintln(flags.Output(), "Usage: spectraplot [flags] <spectra log>")
		flags.PrintDefaults()
	}

	var theme string
	flags.IntVar(&c.Hours, "hours", defaultHours, "How many hours to plot")
	flags.Float64Var(&c.CmapMin, "cmap-min", defaultCmapMin, "Colormap minimum value (dBm)")
	flags.Float64Var(&c.CmapMax, "cmap-max", defaultCmapMax, "Colormap maximum value (dBm)")
	flags.BoolVar(&c.CmapAuto, "cmap-auto", false, "Derive the colormap range from the data, -cmap-min/-cmap-max are the fallback")
	flags.BoolVar(&c.Clip, "clip", false, "Clip the file to the hour limit specified with -hours")
	flags.StringVar(&c.Spectrograph, "spectrograph", "", "Save the spectrograph to this file (png, jpeg)")
	flags.StringVar(&c.RXPower, "rxpower", "", "Save the RX power plot to this file (png, jpeg)")
	flags.StringVar(&c.Title, "title", defaultTitle, "KiwiSDR name, for plot titles")
	flags.StringVar(&theme, "theme", string(render.JetTheme), "Spectrograph color theme [jet, classic, grayscale, thermal]")
	flags.BoolVar(&c.Verbose, "v", false, "Enable more verbose output")

	if err := flags.Parse(args); err != nil {
		return nil, err
	}
	c.LogPath = flags.Arg(0)
	c.Theme = render.ColorTheme(theme)

	var err error
	switch {
	case flags.NArg() != 1:
		err = errors.New("exactly one spectra log path is required")
	case c.Hours <= 0:
		err = fmt.Errorf("invalid hours %d", c.Hours)
	case c.CmapMax <= c.CmapMin:
		err = fmt.Errorf("invalid colormap range %.1f..%.1f", c.CmapMin, c.CmapMax)
	}
	if err == nil {
		err = validateOutput(c.Spectrograph, c.RXPower)
	}
	if err == nil {
		err = validateTheme(c.Theme)
	}

	if err != nil {
		flags.Usage()
		return nil, err
	}
	return &c, nil
}

func validateOutput(paths ...string) error {
	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, err := render.FormatFromPath(path); err != nil {
			return err
		}
	}
	return nil
}

func validateTheme(theme render.ColorTheme) error {
	switch theme {
	case render.JetTheme, render.ClassicTheme, render.GrayscaleTheme, render.ThermalTheme:
		return nil
	default:
		return fmt.Errorf("invalid color theme: %s", theme)
	}
}
