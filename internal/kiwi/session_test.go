package kiwi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/roman-kulish/kiwi-spectrum/internal/spectrum"
)

type fakeConn struct {
	messages [][]byte
	tail     error // returned once messages are exhausted
	writeErr error

	sent   []string
	closed int
}

func (c *fakeConn) WriteText(msg string) error {
	if c.writeErr != nil {
		return c.writeErr
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeConn) ReadMessage(time.Duration) ([]byte, error) {
	if len(c.messages) == 0 {
		return nil, c.tail
	}
	msg := c.messages[0]
	c.messages = c.messages[1:]
	return msg, nil
}

func (c *fakeConn) Close() error {
	c.closed++
	return errors.New("close failures are only logged")
}

type fakeDialer struct {
	conn *fakeConn
	err  error
	path string
}

func (d *fakeDialer) Dial(_ context.Context, _ string, _ int, path string) (Conn, error) {
	d.path = path
	if d.err != nil {
		return nil, d.err
	}
	return d.conn, nil
}

func waterfallMessage(value byte, bins int) []byte {
	header := append([]byte("W/F"), make([]byte, HeaderSize-3)...)
	return append(header, bytes.Repeat([]byte{value}, bins)...)
}

func testConfig() Config {
	config := DefaultConfig()
	config.Host = "kiwi.local"
	return config
}

func TestSession_Done(t *testing.T) {
	conn := &fakeConn{tail: ErrReceiveTimeout}
	for i := 0; i < 10; i++ {
		conn.messages = append(conn.messages, []byte("MSG wf_setup"), waterfallMessage(242, 1024))
	}
	dialer := &fakeDialer{conn: conn}

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	session := NewSession(dialer, testConfig(), WithClock(func() time.Time { return now }))

	res, err := session.Run(context.Background(), 10)
	if err != nil {
		t.Fatalf("Failed to run session: %v", err)
	}

	if res.State != StateDone || res.Collected != 10 || len(res.Matrix) != 10 {
		t.Fatalf("Expected done with 10 rows, got %s with %d rows", res.State, len(res.Matrix))
	}
	if res.Chatter != 10 {
		t.Errorf("Expected 10 discarded chatter messages, got %d", res.Chatter)
	}
	for i, row := range res.Matrix {
		if len(row) != 1024 {
			t.Fatalf("Row %d: expected 1024 bins, got %d", i, len(row))
		}
		for j, v := range row {
			if v != -26 {
				t.Fatalf("Row %d bin %d: expected -26 dB, got %.1f", i, j, v)
			}
		}
	}

	rec, err := spectrum.Reduce(res.Matrix, testConfig().Band.Band(), res.Finished)
	if err != nil {
		t.Fatalf("Failed to reduce: %v", err)
	}
	if rec.MedianPower != -26 || rec.P95Power != -26 || rec.SNREstimate != 0 {
		t.Errorf("Expected median == p95 == -26 and snr 0, got %.1f/%.1f/%.1f", rec.MedianPower, rec.P95Power, rec.SNREstimate)
	}

	if expected := fmt.Sprintf("/%d/W/F", now.Unix()); dialer.path != expected {
		t.Errorf("Expected path %q, got %q", expected, dialer.path)
	}
	if conn.closed != 1 {
		t.Errorf("Expected connection to be closed once, got %d", conn.closed)
	}
}

func TestSession_CommandOrder(t *testing.T) {
	conn := &fakeConn{messages: [][]byte{waterfallMessage(200, 1024)}}
	config := testConfig()
	config.Password = "secret"
	config.Band = spectrum.BandConfig{Zoom: 2, OffsetKHz: 7000, Bins: 1024}

	if _, err := NewSession(&fakeDialer{conn: conn}, config).Run(context.Background(), 1); err != nil {
		t.Fatalf("Failed to run session: %v", err)
	}

	expected := []string{
		"SET auth t=kiwi p=secret",
		"SET zoom=2 start=3877546",
		"SET maxdb=0 mindb=-100",
		"SET wf_speed=4",
		"SET wf_comp=0",
	}
	if len(conn.sent) != len(expected) {
		t.Fatalf("Expected %d commands, got %d: %v", len(expected), len(conn.sent), conn.sent)
	}
	for i, cmd := range expected {
		if conn.sent[i] != cmd {
			t.Errorf("Command %d: expected %q, got %q", i, cmd, conn.sent[i])
		}
	}
}

func TestSession_PartialFailure(t *testing.T) {
	testCases := []struct {
		name string
		tail error
	}{
		{"timeout", fmt.Errorf("%w: i/o timeout", ErrReceiveTimeout)},
		{"closed", fmt.Errorf("%w: EOF", ErrConnectionClosed)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			conn := &fakeConn{tail: tc.tail}
			for i := 0; i < 3; i++ {
				conn.messages = append(conn.messages, waterfallMessage(242, 1024))
			}

			res, err := NewSession(&fakeDialer{conn: conn}, testConfig()).Run(context.Background(), 10)
			if err != nil {
				t.Fatalf("Partial failure must not be returned as error, got %v", err)
			}
			if res.State != StatePartialFailure {
				t.Errorf("Expected partial failure, got %s", res.State)
			}
			if res.Collected != 3 || len(res.Matrix) != 3 {
				t.Errorf("Expected 3 rows, got %d", len(res.Matrix))
			}
			if !IsRecoverable(res.Err) {
				t.Errorf("Expected recoverable stop reason, got %v", res.Err)
			}
			if conn.closed != 1 {
				t.Errorf("Expected connection to be closed once, got %d", conn.closed)
			}
		})
	}
}

func TestSession_MalformedFramesSkipped(t *testing.T) {
	conn := &fakeConn{
		messages: [][]byte{
			waterfallMessage(242, 1024),
			waterfallMessage(242, 512),
			[]byte("W/F"),
			waterfallMessage(242, 1024),
		},
		tail: ErrReceiveTimeout,
	}

	res, err := NewSession(&fakeDialer{conn: conn}, testConfig()).Run(context.Background(), 2)
	if err != nil {
		t.Fatalf("Failed to run session: %v", err)
	}
	if res.State != StateDone || res.Collected != 2 {
		t.Errorf("Expected done with 2 rows, got %s with %d", res.State, res.Collected)
	}
	if res.Skipped != 2 {
		t.Errorf("Expected 2 skipped frames, got %d", res.Skipped)
	}
}

func TestSession_TooManyMalformedFrames(t *testing.T) {
	conn := &fakeConn{tail: ErrReceiveTimeout}
	for i := 0; i < 4; i++ {
		conn.messages = append(conn.messages, waterfallMessage(242, 100))
	}

	res, err := NewSession(&fakeDialer{conn: conn}, testConfig(), WithMalformedFramesThreshold(3)).Run(context.Background(), 5)
	if err != nil {
		t.Fatalf("Failed to run session: %v", err)
	}
	if !errors.Is(res.Err, ErrTooManyMalformedFrames) {
		t.Errorf("Expected ErrTooManyMalformedFrames, got %v", res.Err)
	}
	if res.Skipped != 3 || res.State != StatePartialFailure {
		t.Errorf("Expected partial failure after 3 skipped frames, got %s after %d", res.State, res.Skipped)
	}
}

func TestSession_ZeroThresholdKeepsDefault(t *testing.T) {
	conn := &fakeConn{tail: ErrReceiveTimeout}
	for i := 0; i < MalformedFramesThreshold-1; i++ {
		conn.messages = append(conn.messages, waterfallMessage(242, 100))
	}
	conn.messages = append(conn.messages, waterfallMessage(242, 1024))

	res, err := NewSession(&fakeDialer{conn: conn}, testConfig(), WithMalformedFramesThreshold(0)).Run(context.Background(), 1)
	if err != nil {
		t.Fatalf("Failed to run session: %v", err)
	}
	if res.State != StateDone || res.Skipped != MalformedFramesThreshold-1 {
		t.Errorf("Expected done after %d skipped frames, got %s after %d", MalformedFramesThreshold-1, res.State, res.Skipped)
	}
}

func TestSession_Failed(t *testing.T) {
	t.Run("connect", func(t *testing.T) {
		dialer := &fakeDialer{err: fmt.Errorf("%w: refused", ErrConnect)}
		res, err := NewSession(dialer, testConfig()).Run(context.Background(), 10)
		if !errors.Is(err, ErrConnect) || res != nil {
			t.Errorf("Expected ErrConnect without result, got %v / %v", err, res)
		}
	})

	t.Run("configure", func(t *testing.T) {
		conn := &fakeConn{writeErr: ErrConnectionClosed}
		res, err := NewSession(&fakeDialer{conn: conn}, testConfig()).Run(context.Background(), 10)
		if !errors.Is(err, ErrConfigure) || res != nil {
			t.Errorf("Expected ErrConfigure without result, got %v / %v", err, res)
		}
		if conn.closed != 1 {
			t.Errorf("Expected connection to be closed on failure, got %d", conn.closed)
		}
	})

	t.Run("invalid length", func(t *testing.T) {
		if _, err := NewSession(&fakeDialer{}, testConfig()).Run(context.Background(), 0); err == nil {
			t.Error("Expected error for zero length")
		}
	})
}

func TestSession_ContextCancelled(t *testing.T) {
	conn := &fakeConn{messages: [][]byte{waterfallMessage(242, 1024)}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := NewSession(&fakeDialer{conn: conn}, testConfig()).Run(ctx, 3)
	if err != nil {
		t.Fatalf("Failed to run session: %v", err)
	}
	if !errors.Is(res.Err, context.Canceled) || res.State != StatePartialFailure {
		t.Errorf("Expected cancelled partial result, got %s / %v", res.State, res.Err)
	}
}
