package app

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roman-kulish/kiwi-spectrum/internal/kiwi"
	"github.com/roman-kulish/kiwi-spectrum/internal/spectra"
)

const (
	// PasswordEnv is the environment variable holding the server password.
	PasswordEnv = "KIWI_PASSWORD"

	defaultLength  = 100
	defaultStep    = 300 * time.Second
	defaultTimeout = time.Second
)

// Config represents the sampling program configuration
type Config struct {
	Server kiwi.Config `yaml:"server"`

	Length         int           `yaml:"length"`         // Number of waterfall rows to collect
	MinSamples     int           `yaml:"minSamples"`     // Rows required to reduce a partial collection
	Step           time.Duration `yaml:"step"`           // Expected interval between runs
	ConnectTimeout time.Duration `yaml:"connectTimeout"` // Bound for connecting and the websocket upgrade
	MaxDuration    time.Duration `yaml:"maxDuration"`    // Overall wall-clock cap, zero for none

	Spectra     string `yaml:"spectra"`     // Average spectra log
	SpectraPeak string `yaml:"spectraPeak"` // Peak spectra log, derived from Spectra when empty
	Store   string `yaml:"rrd"`     // Round-robin store path, derived from host and band when empty

	Verbose bool `yaml:"verbose"`
}

// NewConfig returns a configuration with defaults.
func NewConfig() *Config {
	return &Config{
		Server:         kiwi.DefaultConfig(),
		Length:         defaultLength,
		Step:           defaultStep,
		ConnectTimeout: defaultTimeout,
	}
}

// PeakSpectra returns the path of the peak spectra log, empty when peak logging is off.
func (c *Config) PeakSpectra() string {
	if c.SpectraPeak != "" {
		return c.SpectraPeak
	}
	if c.Spectra == "" {
		return ""
	}
	return spectra.PeakPath(c.Spectra)
}

// StorePath returns the round-robin store path.
func (c *Config) StorePath() string {
	if c.Store != "" {
		return c.Store
	}
	return c.Server.Band.StoreName(c.Server.Host) + ".rrd"
}

// LoadConfig decodes a YAML configuration file over c.
func (c *Config) LoadConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading configuration file: %w", err)
	}
	if err = yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing configuration file %s: %w", path, err)
	}
	return nil
}

// Validate checks the configuration for values that cannot be served.
func (c *Config) Validate() error {
	switch {
	case c.Server.Host == "":
		return errors.New("server host is required")
	case c.Server.Port <= 0 || c.Server.Port > 65535:
		return fmt.Errorf("invalid port %d", c.Server.Port)
	case c.Length <= 0:
		return fmt.Errorf("invalid length %d: at least one sample is required", c.Length)
	case c.MinSamples < 0 || c.MinSamples > c.Length:
		return fmt.Errorf("invalid min-samples %d: expected 0..%d", c.MinSamples, c.Length)
	case c.Step <= 0:
		return fmt.Errorf("invalid step %s", c.Step)
	case c.ConnectTimeout <= 0 || c.Server.ReceiveTimeout <= 0:
		return errors.New("timeouts must be positive")
	case c.MaxDuration < 0:
		return fmt.Errorf("invalid max-duration %s", c.MaxDuration)
	case c.Server.Speed < 1 || c.Server.Speed > 4:
		return fmt.Errorf("invalid waterfall speed %d: expected 1..4", c.Server.Speed)
	case c.Server.MaxDB <= c.Server.MinDB:
		return fmt.Errorf("invalid dB range %d..%d", c.Server.MinDB, c.Server.MaxDB)
	}
	return c.Server.Band.Validate()
}

// RequiredSamples returns the number of rows a collection needs to be reduced.
func (c *Config) RequiredSamples() int {
	if c.MinSamples <= 0 {
		return c.Length
	}
	return c.MinSamples
}

// ParseArgs builds the configuration from defaults, an optional YAML file given with -c
// and the command line, in increasing order of precedence. The password falls back to
// the environment.
func ParseArgs(args []string, getenv func(string) string, output io.Writer) (*Config, error) {
	c := NewConfig()
	flags := flag.NewFlagSet("kiwisnr", flag.ContinueOnError)
	flags.SetOutput(output)

	var (
		configPath  string
		host        string
		port        int
		password    string
		length      int
		minSamples  int
		step        int
		timeout     float64
		maxDuration time.Duration
		zoom        int
		offset      int
		bins        int
		calibration float64
		minDB       int
		maxDB       int
		speed       int
		spectraPath string
		peakPath    string
		storePath   string
		verbose     bool
	)

	flags.StringVar(&configPath, "c", "", "Path to the YAML configuration file")
	flags.StringVar(&host, "s", "", "Server name")
	flags.IntVar(&port, "p", kiwi.DefaultPort, "Port number")
	flags.StringVar(&password, "password", "", "Server password, defaults to $"+PasswordEnv)
	flags.IntVar(&length, "l", defaultLength, "How many samples to draw from the server")
	flags.IntVar(&minSamples, "min-samples", 0, "Reduce a partial collection of at least this many samples (0: require all)")
	flags.IntVar(&step, "t", int(defaultStep/time.Second), "Expected timestep between samples in seconds")
	flags.Float64Var(&timeout, "timeout", defaultTimeout.Seconds(), "Connection timeout in seconds")
	flags.DurationVar(&maxDuration, "max-duration", 0, "Overall limit for the sampling run (0: none)")
	flags.IntVar(&zoom, "z", 0, "Zoom factor")
	flags.IntVar(&offset, "o", 0, "Start frequency in kHz")
	flags.IntVar(&bins, "bins", c.Server.Band.Bins, "Number of waterfall bins")
	flags.Float64Var(&calibration, "calibration", c.Server.CalibrationDB, "Waterfall calibration offset in dB")
	flags.IntVar(&minDB, "min-db", c.Server.MinDB, "Lower end of the waterfall dB range")
	flags.IntVar(&maxDB, "max-db", c.Server.MaxDB, "Upper end of the waterfall dB range")
	flags.IntVar(&speed, "speed", c.Server.Speed, "Waterfall speed (1-4)")
	flags.StringVar(&spectraPath, "spectra", "", "Spectra output file, the peak file is written next to it")
	flags.StringVar(&peakPath, "spectra-peak", "", "Peak spectra output file (default <spectra>_peak<ext>)")
	flags.StringVar(&storePath, "rrd", "", "Round-robin store path (default <host>_<lower>_<upper>.rrd)")
	flags.BoolVar(&verbose, "v", false, "Enable more verbose output")

	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	if configPath != "" {
		if err := c.LoadConfig(configPath); err != nil {
			return nil, err
		}
	}

	timeoutDuration := time.Duration(timeout * float64(time.Second))
	apply := map[string]func(){
		"s":            func() { c.Server.Host = host },
		"p":            func() { c.Server.Port = port },
		"password":     func() { c.Server.Password = password },
		"l":            func() { c.Length = length },
		"min-samples":  func() { c.MinSamples = minSamples },
		"t":            func() { c.Step = time.Duration(step) * time.Second },
		"max-duration": func() { c.MaxDuration = maxDuration },
		"z":            func() { c.Server.Band.Zoom = zoom },
		"o":            func() { c.Server.Band.OffsetKHz = offset },
		"bins":         func() { c.Server.Band.Bins = bins },
		"calibration":  func() { c.Server.CalibrationDB = calibration },
		"min-db":       func() { c.Server.MinDB = minDB },
		"max-db":       func() { c.Server.MaxDB = maxDB },
		"speed":        func() { c.Server.Speed = speed },
		"spectra":      func() { c.Spectra = spectraPath },
		"spectra-peak": func() { c.SpectraPeak = peakPath },
		"rrd":          func() { c.Store = storePath },
		"v":            func() { c.Verbose = verbose },
		"timeout": func() {
			c.ConnectTimeout = timeoutDuration
			c.Server.ReceiveTimeout = timeoutDuration
		},
	}
	flags.Visit(func(f *flag.Flag) {
		if fn, ok := apply[f.Name]; ok {
			fn()
		}
	})

	if c.Server.Password == "" && getenv != nil {
		c.Server.Password = getenv(PasswordEnv)
	}

	if err := c.Validate(); err != nil {
		flags.Usage()
		return nil, err
	}

	return c, nil
}
