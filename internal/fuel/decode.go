package fuel

import (
	"errors"
	"strconv"
	"strings"
)

// maxFuelFrequency is the highest frequency a digital fuel sensor can report.
// Anything above it means the sensor had no reading for this cycle.
const maxFuelFrequency = 0xFFF

const (
	frequencyPrefix = "F="
	fuelPartPrefix  = "N="
)

var (
	// ErrBlankPayload reports an empty or whitespace-only digital payload.
	ErrBlankPayload = errors.New("blank sensor payload")

	// ErrMalformedPayload reports a digital payload that does not match the
	// "F=<hex> <temperature> N=<hex>[.<fraction>]" form.
	ErrMalformedPayload = errors.New("malformed sensor payload")

	// ErrFrequencyRange reports a fuel frequency above the sensor's valid
	// range, which marks the whole reading as carrying no value.
	ErrFrequencyRange = errors.New("fuel frequency out of range")
)

// DecodeDigitalPayload extracts the raw fuel points from a digital sensor
// payload of exactly three whitespace-separated tokens: frequency, sensor
// temperature (ignored) and fuel level points. Frequency and points are hex;
// a fractional points suffix after '.' is discarded.
func DecodeDigitalPayload(payload string) (float64, error) {
	fields := strings.Fields(payload)
	if len(fields) == 0 {
		return 0, ErrBlankPayload
	}
	if len(fields) != 3 {
		return 0, ErrMalformedPayload
	}

	freqHex, ok := strings.CutPrefix(fields[0], frequencyPrefix)
	if !ok {
		return 0, ErrMalformedPayload
	}
	freq, err := strconv.ParseUint(freqHex, 16, 64)
	if err != nil {
		return 0, ErrMalformedPayload
	}
	if freq > maxFuelFrequency {
		return 0, ErrFrequencyRange
	}

	pointsHex, ok := strings.CutPrefix(fields[2], fuelPartPrefix)
	if !ok {
		return 0, ErrMalformedPayload
	}
	if dot := strings.IndexByte(pointsHex, '.'); dot >= 0 {
		pointsHex = pointsHex[:dot]
	}
	points, err := strconv.ParseUint(pointsHex, 16, 64)
	if err != nil {
		return 0, ErrMalformedPayload
	}

	return float64(points), nil
}
