package app

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func noEnv(string) string { return "" }

func TestParseArgs_Defaults(t *testing.T) {
	c, err := ParseArgs([]string{"-s", "kiwi.local"}, noEnv, io.Discard)
	if err != nil {
		t.Fatalf("Failed to parse args: %v", err)
	}

	if c.Length != defaultLength || c.Step != defaultStep || c.ConnectTimeout != defaultTimeout {
		t.Errorf("Unexpected defaults: length %d, step %s, timeout %s", c.Length, c.Step, c.ConnectTimeout)
	}
	if c.Server.CalibrationDB != 13 || c.Server.MinDB != -100 || c.Server.MaxDB != 0 || c.Server.Speed != 4 {
		t.Errorf("Unexpected waterfall defaults: %+v", c.Server)
	}
	if c.RequiredSamples() != c.Length {
		t.Errorf("Expected all samples to be required, got %d", c.RequiredSamples())
	}
	if got := c.StorePath(); got != "kiwi.local_0_30000.rrd" {
		t.Errorf("Expected default store name, got %q", got)
	}
	if c.PeakSpectra() != "" {
		t.Errorf("Expected spectra logging to be off, got %q", c.PeakSpectra())
	}
}

func TestParseArgs_Flags(t *testing.T) {
	args := []string{
		"-s", "kiwi.local", "-p", "8074", "-l", "50", "-t", "60", "-timeout", "2.5",
		"-z", "2", "-o", "7000", "-spectra", "out/spectra.log", "-min-samples", "40",
		"-max-duration", "2m", "-v",
	}
	c, err := ParseArgs(args, noEnv, io.Discard)
	if err != nil {
		t.Fatalf("Failed to parse args: %v", err)
	}

	if c.Server.Port != 8074 || c.Length != 50 || c.Step != time.Minute || !c.Verbose {
		t.Errorf("Flags not applied: %+v", c)
	}
	if c.ConnectTimeout != 2500*time.Millisecond || c.Server.ReceiveTimeout != 2500*time.Millisecond {
		t.Errorf("Expected 2.5s timeouts, got %s / %s", c.ConnectTimeout, c.Server.ReceiveTimeout)
	}
	if c.Server.Band.Zoom != 2 || c.Server.Band.OffsetKHz != 7000 {
		t.Errorf("Band flags not applied: %+v", c.Server.Band)
	}
	if c.RequiredSamples() != 40 || c.MaxDuration != 2*time.Minute {
		t.Errorf("Unexpected min-samples %d / max-duration %s", c.RequiredSamples(), c.MaxDuration)
	}
	if c.PeakSpectra() != filepath.Join("out", "spectra_peak.log") {
		t.Errorf("Unexpected peak path %q", c.PeakSpectra())
	}
	if got := c.StorePath(); got != "kiwi.local_7000_14500.rrd" {
		t.Errorf("Unexpected store name %q", got)
	}
}

func TestParseArgs_PeakOverride(t *testing.T) {
	c, err := ParseArgs([]string{"-s", "kiwi.local", "-spectra", "avg.log", "-spectra-peak", "max.log"}, noEnv, io.Discard)
	if err != nil {
		t.Fatalf("Failed to parse args: %v", err)
	}
	if c.Spectra != "avg.log" || c.PeakSpectra() != "max.log" {
		t.Errorf("Expected explicit peak path, got %q / %q", c.Spectra, c.PeakSpectra())
	}

	c, err = ParseArgs([]string{"-s", "kiwi.local", "-spectra-peak", "max.log"}, noEnv, io.Discard)
	if err != nil {
		t.Fatalf("Failed to parse args: %v", err)
	}
	if c.Spectra != "" || c.PeakSpectra() != "max.log" {
		t.Errorf("Expected peak-only logging, got %q / %q", c.Spectra, c.PeakSpectra())
	}
}

func TestParseArgs_YAMLPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kiwisnr.yaml")
	yaml := `
server:
  host: yaml.local
  port: 9000
  band:
    zoom: 1
length: 20
step: 10m
spectra: yaml.log
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	c, err := ParseArgs([]string{"-c", path, "-l", "30"}, noEnv, io.Discard)
	if err != nil {
		t.Fatalf("Failed to parse args: %v", err)
	}

	if c.Server.Host != "yaml.local" || c.Server.Port != 9000 || c.Server.Band.Zoom != 1 {
		t.Errorf("YAML values not applied: %+v", c.Server)
	}
	if c.Step != 10*time.Minute || c.Spectra != "yaml.log" {
		t.Errorf("YAML values not applied: step %s, spectra %q", c.Step, c.Spectra)
	}
	if c.Length != 30 {
		t.Errorf("Expected the explicit flag to win, got length %d", c.Length)
	}
	if c.Server.Speed != 4 {
		t.Errorf("Expected defaults to survive YAML decoding, got speed %d", c.Server.Speed)
	}
}

func TestParseArgs_Password(t *testing.T) {
	env := func(key string) string {
		if key == PasswordEnv {
			return "from-env"
		}
		return ""
	}

	c, err := ParseArgs([]string{"-s", "kiwi.local"}, env, io.Discard)
	if err != nil {
		t.Fatalf("Failed to parse args: %v", err)
	}
	if c.Server.Password != "from-env" {
		t.Errorf("Expected password from the environment, got %q", c.Server.Password)
	}

	c, err = ParseArgs([]string{"-s", "kiwi.local", "-password", "from-flag"}, env, io.Discard)
	if err != nil {
		t.Fatalf("Failed to parse args: %v", err)
	}
	if c.Server.Password != "from-flag" {
		t.Errorf("Expected password from the flag, got %q", c.Server.Password)
	}
}

func TestParseArgs_Invalid(t *testing.T) {
	tests := map[string][]string{
		"no host":         {},
		"zero length":     {"-s", "h", "-l", "0"},
		"min-samples":     {"-s", "h", "-l", "10", "-min-samples", "11"},
		"zoom":            {"-s", "h", "-z", "15"},
		"speed":           {"-s", "h", "-speed", "5"},
		"dB range":        {"-s", "h", "-min-db", "0", "-max-db", "-10"},
		"unknown flag":    {"-s", "h", "-nope"},
		"missing config":  {"-s", "h", "-c", "/nonexistent/kiwisnr.yaml"},
		"negative offset": {"-s", "h", "-o", "-5"},
	}

	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseArgs(args, noEnv, io.Discard); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}
