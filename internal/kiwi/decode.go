package kiwi

import (
	"bytes"
	"fmt"

	"github.com/roman-kulish/kiwi-spectrum/internal/spectrum"
)

const (
	// HeaderSize is the size of the fixed protocol header preceding the waterfall payload.
	HeaderSize = 16

	// DefaultCalibrationDB is the typical KiwiSDR waterfall calibration offset.
	DefaultCalibrationDB = 13.0

	maxMagnitude = 255
)

// waterfallMarker identifies a message as waterfall data rather than protocol chatter.
var waterfallMarker = []byte("W/F")

// IsWaterfall reports whether msg carries waterfall data.
func IsWaterfall(msg []byte) bool {
	return bytes.Contains(msg, waterfallMarker)
}

// Payload strips the fixed protocol header from a waterfall message.
func Payload(msg []byte) ([]byte, error) {
	if len(msg) < HeaderSize {
		return nil, fmt.Errorf("%w: message of %d bytes is shorter than the %d byte header", ErrMalformedFrame, len(msg), HeaderSize)
	}
	return msg[HeaderSize:], nil
}

// Decode converts a waterfall payload into a calibrated PowerRow. Each byte is an
// unsigned magnitude mapped to dB as -(255 - b) - calibration.
func Decode(payload []byte, bins int, calibration float64) (spectrum.PowerRow, error) {
	if len(payload) != bins {
		return nil, &MalformedFrameError{Got: len(payload), Want: bins}
	}

	row := make(spectrum.PowerRow, bins)
	for i, b := range payload {
		row[i] = -float64(maxMagnitude-int(b)) - calibration
	}
	return row, nil
}
