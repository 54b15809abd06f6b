package kiwi

import (
	"errors"
	"fmt"
)

var (
	// ErrConnect is returned when the transport connection to the server cannot be opened.
	ErrConnect = errors.New("connect failed")

	// ErrHandshake is returned when the websocket upgrade of an open connection fails.
	ErrHandshake = errors.New("handshake failed")

	// ErrConfigure is returned when a configuration command cannot be sent.
	ErrConfigure = errors.New("configuration failed")

	// ErrReceiveTimeout is returned when no message arrives within the receive timeout.
	ErrReceiveTimeout = errors.New("receive timeout")

	// ErrConnectionClosed is returned when the server closes or drops the connection.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrMalformedFrame is returned for waterfall frames that cannot be decoded.
	ErrMalformedFrame = errors.New("malformed waterfall frame")
)

// MalformedFrameError describes a waterfall payload whose length does not match
// the configured bin count.
type MalformedFrameError struct {
	Got  int // Payload length in bytes
	Want int // Configured bin count
}

func (e *MalformedFrameError) Error() string {
	return fmt.Sprintf("%s: payload has %d bytes, expected %d", ErrMalformedFrame, e.Got, e.Want)
}

func (e *MalformedFrameError) Unwrap() error {
	return ErrMalformedFrame
}

// IsRecoverable reports whether err ends a collection loop without failing the
// session. Timeouts and dropped connections leave a partial matrix behind.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrReceiveTimeout) || errors.Is(err, ErrConnectionClosed)
}
