package kiwi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/roman-kulish/kiwi-spectrum/internal/spectrum"
)

const (
	// DefaultPort is the KiwiSDR web port.
	DefaultPort = 8073

	// MalformedFramesThreshold defines the number of consecutive malformed frames allowed
	MalformedFramesThreshold = 5

	defaultMaxDB   = 0
	defaultMinDB   = -100
	defaultWFSpeed = 4
)

// ErrTooManyMalformedFrames is returned when the number of consecutive malformed frames
// exceeds the threshold
var ErrTooManyMalformedFrames = errors.New("too many consecutive malformed frames")

// State is the terminal state of a session that reached the collection phase.
type State int

const (
	StateDone           State = iota // Target number of rows collected
	StatePartialFailure              // Collection stopped early, matrix holds what arrived
)

func (s State) String() string {
	switch s {
	case StateDone:
		return "done"
	case StatePartialFailure:
		return "partial"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config describes the server, the band and the waterfall settings of a session.
type Config struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Password string `yaml:"-" json:"-"`

	Band spectrum.BandConfig `yaml:"band" json:"band"`

	MaxDB         int     `yaml:"maxDB" json:"maxDB"`                 // Upper end of the dB display range
	MinDB         int     `yaml:"minDB" json:"minDB"`                 // Lower end of the dB display range
	Speed         int     `yaml:"speed" json:"speed"`                 // Waterfall speed, 4 is the maximum
	CalibrationDB float64 `yaml:"calibrationDB" json:"calibrationDB"` // Receiver calibration offset in dB

	ReceiveTimeout time.Duration `yaml:"receiveTimeout" json:"receiveTimeout"` // Bound for one receive
}

// DefaultConfig returns a configuration with the stock waterfall settings.
func DefaultConfig() Config {
	return Config{
		Port:           DefaultPort,
		Band:           spectrum.BandConfig{Bins: spectrum.DefaultBins},
		MaxDB:          defaultMaxDB,
		MinDB:          defaultMinDB,
		Speed:          defaultWFSpeed,
		CalibrationDB:  DefaultCalibrationDB,
		ReceiveTimeout: time.Second,
	}
}

// Commands returns the configuration commands in the order they must be sent.
func (c Config) Commands() []string {
	return []string{
		"SET auth t=kiwi p=" + c.Password,
		fmt.Sprintf("SET zoom=%d start=%d", c.Band.Zoom, c.Band.StartParameter()),
		fmt.Sprintf("SET maxdb=%d mindb=%d", c.MaxDB, c.MinDB),
		fmt.Sprintf("SET wf_speed=%d", c.Speed),
		"SET wf_comp=0",
	}
}

// Result is the outcome of a session that reached the collection phase.
type Result struct {
	State     State
	Matrix    spectrum.SampleMatrix // Rows in arrival order, len(Matrix) == Collected
	Collected int                   // Number of decoded waterfall rows
	Target    int                   // Requested number of rows
	Skipped   int                   // Malformed waterfall frames that were dropped
	Chatter   int                   // Non-waterfall messages that were discarded
	Err       error                 // Why collection stopped early, nil when done
	Started   time.Time
	Finished  time.Time
}

// WithLogger sets the logger for the session
func WithLogger(logger *slog.Logger) func(s *Session) {
	return func(s *Session) {
		s.logger = logger.With(
			slog.String("server", s.config.Host),
			slog.Int("port", s.config.Port),
		)
	}
}

// WithMalformedFramesThreshold sets the threshold for consecutive malformed frames.
// Zero keeps MalformedFramesThreshold.
func WithMalformedFramesThreshold(threshold uint8) func(s *Session) {
	return func(s *Session) {
		if threshold == 0 {
			threshold = MalformedFramesThreshold
		}
		s.malformedThreshold = threshold
	}
}

// WithClock replaces the time source used for the request URI and result timestamps.
func WithClock(now func() time.Time) func(s *Session) {
	return func(s *Session) {
		s.now = now
	}
}

// Session runs one bounded waterfall sampling exchange with a KiwiSDR server. It
// exclusively owns the connection and the matrix under construction.
type Session struct {
	dialer Dialer
	config Config

	malformedThreshold uint8
	now                func() time.Time
	logger             *slog.Logger
}

// NewSession creates a new Session instance with a discard logger
func NewSession(dialer Dialer, config Config, options ...func(s *Session)) *Session {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	s := Session{
		dialer:             dialer,
		config:             config,
		malformedThreshold: MalformedFramesThreshold,
		now:                time.Now,
		logger:             logger,
	}

	for _, option := range options {
		option(&s)
	}

	return &s
}

// Run connects, configures the waterfall and collects up to target rows.
//
// An error is returned only when the session fails before collection begins
// (ErrConnect, ErrHandshake, ErrConfigure). Timeouts and dropped connections during
// collection yield a Result in StatePartialFailure. The connection is closed on
// every path; close failures are logged.
func (s *Session) Run(ctx context.Context, target int) (*Result, error) {
	if target <= 0 {
		return nil, fmt.Errorf("invalid session length %d", target)
	}

	path := fmt.Sprintf("/%d/W/F", s.now().Unix())
	s.logger.Debug("connecting", slog.String("path", path))

	conn, err := s.dialer.Dial(ctx, s.config.Host, s.config.Port, path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cErr := conn.Close(); cErr != nil {
			s.logger.Warn(fmt.Sprintf("closing connection: %s", cErr.Error()))
		}
	}()

	for _, cmd := range s.config.Commands() {
		if err := conn.WriteText(cmd); err != nil {
			return nil, fmt.Errorf("%w: sending %q: %w", ErrConfigure, redact(cmd), err)
		}
		s.logger.Debug("command sent", slog.String("command", redact(cmd)))
	}

	s.logger.Info("starting to retrieve waterfall data", slog.Int("length", target))
	return s.collect(ctx, conn, target), nil
}

func (s *Session) collect(ctx context.Context, conn Conn, target int) *Result {
	bins := s.config.Band.Band().Bins

	res := &Result{
		State:   StateDone,
		Matrix:  make(spectrum.SampleMatrix, 0, target),
		Target:  target,
		Started: s.now().UTC(),
	}

	var malformed uint8
	for res.Collected < target {
		if err := ctx.Err(); err != nil {
			res.Err = err
			break
		}

		msg, err := conn.ReadMessage(s.config.ReceiveTimeout)
		if err != nil {
			res.Err = err
			break
		}

		if !IsWaterfall(msg) {
			res.Chatter++ // chatter between client and server
			continue
		}

		row, err := s.decode(msg, bins)
		if err != nil {
			res.Skipped++
			malformed++
			s.logger.Warn(fmt.Sprintf("dropping waterfall frame: %s", err.Error()))

			if malformed >= s.malformedThreshold {
				res.Err = fmt.Errorf("%w: %w", ErrTooManyMalformedFrames, err)
				break
			}
			continue
		}

		malformed = 0 // reset counter
		res.Matrix = append(res.Matrix, row)
		res.Collected++
		s.logger.Debug("waterfall row received", slog.Int("row", res.Collected))
	}

	res.Finished = s.now().UTC()
	if res.Collected < target {
		res.State = StatePartialFailure
		s.logger.Warn("did not gather all required samples",
			slog.Int("collected", res.Collected),
			slog.Int("length", target),
			slog.String("reason", errString(res.Err)))
	}

	return res
}

func (s *Session) decode(msg []byte, bins int) (spectrum.PowerRow, error) {
	payload, err := Payload(msg)
	if err != nil {
		return nil, err
	}
	return Decode(payload, bins, s.config.CalibrationDB)
}

func redact(cmd string) string {
	const auth = "SET auth t=kiwi p="
	if strings.HasPrefix(cmd, auth) && len(cmd) > len(auth) {
		return auth + "***"
	}
	return cmd
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
