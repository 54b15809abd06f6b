package kiwi

import (
	"bytes"
	"errors"
	"testing"
)

func TestDecode(t *testing.T) {
	payload := []byte{0, 128, 242, 255}

	row, err := Decode(payload, len(payload), 13)
	if err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}

	expected := []float64{-268, -140, -26, -13}
	for i, v := range expected {
		if row[i] != v {
			t.Errorf("Bin %d: expected %.1f dB, got %.1f dB", i, v, row[i])
		}
	}

	again, err := Decode(payload, len(payload), 13)
	if err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	for i := range row {
		if row[i] != again[i] {
			t.Fatalf("Decode is not deterministic at bin %d: %.1f vs %.1f", i, row[i], again[i])
		}
	}
}

func TestDecode_LengthMismatch(t *testing.T) {
	testCases := []struct {
		name    string
		payload []byte
		bins    int
	}{
		{"short", bytes.Repeat([]byte{200}, 1000), 1024},
		{"long", bytes.Repeat([]byte{200}, 1030), 1024},
		{"empty", nil, 1024},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.payload, tc.bins, DefaultCalibrationDB)
			if !errors.Is(err, ErrMalformedFrame) {
				t.Fatalf("Expected ErrMalformedFrame, got %v", err)
			}

			var mfErr *MalformedFrameError
			if !errors.As(err, &mfErr) {
				t.Fatalf("Expected *MalformedFrameError, got %T", err)
			}
			if mfErr.Got != len(tc.payload) || mfErr.Want != tc.bins {
				t.Errorf("Expected got=%d want=%d, got got=%d want=%d", len(tc.payload), tc.bins, mfErr.Got, mfErr.Want)
			}
		})
	}
}

func TestPayload(t *testing.T) {
	msg := append([]byte("W/F"), make([]byte, HeaderSize-3)...)
	msg = append(msg, 1, 2, 3)

	if !IsWaterfall(msg) {
		t.Error("Expected message to be classified as waterfall data")
	}
	if IsWaterfall([]byte("MSG client_public_ip=127.0.0.1")) {
		t.Error("Expected chatter not to be classified as waterfall data")
	}

	payload, err := Payload(msg)
	if err != nil {
		t.Fatalf("Failed to strip header: %v", err)
	}
	if !bytes.Equal(payload, []byte{1, 2, 3}) {
		t.Errorf("Unexpected payload %v", payload)
	}

	if _, err = Payload([]byte("W/F")); !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("Expected ErrMalformedFrame for short message, got %v", err)
	}
}
