package app

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/roman-kulish/kiwi-spectrum/internal/spectrum"
)

const (
	defaultStep      = 300 * time.Second
	defaultTitle     = "KiwiSDR"
	defaultWatermark = "kiwi-spectrum"
)

// Config holds the graphing program options
type Config struct {
	Host      string
	Band      spectrum.BandConfig
	Step      time.Duration
	StorePath string // Round-robin store, derived from host and band when empty
	OutputDir string
	Title     string
	Watermark string
	Verbose   bool
}

// Name returns the base name of the graphs, the store file name without extension.
func (c *Config) Name() string {
	base := filepath.Base(c.StorePath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// NewConfigFromArgs parses the command line.
func NewConfigFromArgs(args []string, output io.Writer) (*Config, error) {
	c := Config{Band: spectrum.BandConfig{Bins: spectrum.DefaultBins}}
	flags := flag.NewFlagSet("snrgraph", flag.ContinueOnError)
	flags.SetOutput(output)

	var step int
	flags.StringVar(&c.Host, "s", "", "Server name, used to derive the store name")
	flags.IntVar(&step, "t", int(defaultStep/time.Second), "Expected timestep between samples in seconds")
	flags.IntVar(&c.Band.Zoom, "z", 0, "Zoom factor")
	flags.IntVar(&c.Band.OffsetKHz, "o", 0, "Start frequency in kHz")
	flags.StringVar(&c.StorePath, "rrd", "", "Round-robin store path (default <host>_<lower>_<upper>.rrd)")
	flags.StringVar(&c.OutputDir, "out", ".", "Directory to write the graphs to")
	flags.StringVar(&c.Title, "title", defaultTitle, "KiwiSDR name, for graph titles")
	flags.StringVar(&c.Watermark, "watermark", defaultWatermark, "Watermark text")
	flags.BoolVar(&c.Verbose, "v", false, "Enable more verbose output")

	if err := flags.Parse(args); err != nil {
		return nil, err
	}
	c.Step = time.Duration(step) * time.Second

	var err error
	switch {
	case c.StorePath == "" && c.Host == "":
		err = errors.New("either a server name or a store path is required")
	case c.Step <= 0:
		err = fmt.Errorf("invalid step %s", c.Step)
	default:
		err = c.Band.Validate()
	}
	if err != nil {
		flags.Usage()
		return nil, err
	}

	if c.StorePath == "" {
		c.StorePath = c.Band.StoreName(c.Host) + ".rrd"
	}
	return &c, nil
}
