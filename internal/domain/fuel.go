package domain

import (
	"strconv"
	"time"
)

// ProcessMode selects whether a reading comes from live traffic or from the
// warm-start replay of persisted history. Backfill readings rebuild window
// state but never produce fuel activities.
type ProcessMode int

const (
	ModeLive ProcessMode = iota
	ModeBackfill
)

func (m ProcessMode) String() string {
	if m == ModeBackfill {
		return "backfill"
	}
	return "live"
}

// StoredEventCode is the lowest event code that marks a reading as
// originating from storage rather than a live device report.
const StoredEventCode = 100

// Reading is one fuel-sensor report from a device. A non-nil FuelLevel on an
// incoming reading marks an already-processed row (warm-start replay); such
// rows enter the window as-is and skip decode, calibration and smoothing.
type Reading struct {
	DeviceID   string    `json:"device_id"`
	SensorID   int       `json:"sensor_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	ReceivedAt time.Time `json:"received_at,omitempty"`

	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`

	// SensorData carries the digital payload ("F=<hex> <temp> N=<hex>"),
	// empty when the sensor reports over the analog channel.
	SensorData string `json:"sensor_data,omitempty"`
	AnalogRaw  *int64 `json:"analog_raw,omitempty"`

	RawPoints float64  `json:"raw_points,omitempty"`
	FuelLevel *float64 `json:"fuel_level,omitempty"`
	EventCode int      `json:"event_code,omitempty"`
}

// Level returns the calibrated fuel level in litres, zero when unset.
func (r *Reading) Level() float64 {
	if r.FuelLevel == nil {
		return 0
	}
	return *r.FuelLevel
}

func (r *Reading) SetLevel(litres float64) {
	r.FuelLevel = &litres
}

// Normalize prepares an ingested reading: it stamps server receipt time,
// falls back to it when the device clock is missing, and clears the computed
// fields the pipeline owns so a payload cannot pose as an already-processed
// row.
func (r *Reading) Normalize(now time.Time) {
	r.ReceivedAt = now
	if r.Timestamp.IsZero() {
		r.Timestamp = now
	}
	r.RawPoints = 0
	r.FuelLevel = nil
}

// SensorKey identifies one fuel sensor on one device. All window state,
// detector state and locking is scoped to this key.
type SensorKey struct {
	DeviceID string
	SensorID int
}

func (k SensorKey) String() string {
	return k.DeviceID + "_" + strconv.Itoa(k.SensorID)
}

// Fuel sensor channel types, as stored in the sensor registry.
const (
	SensorTypeDigital = "fuelDigital"
	SensorTypeAnalog  = "fuelAnalog"
)

// SensorLink associates a fuel sensor with a device in the registry.
type SensorLink struct {
	SensorID int    `json:"sensor_id"`
	TypeName string `json:"type_name"`
}

// CalibrationPoint is one breakpoint of a piecewise-linear calibration curve:
// at RawPoints raw units the tank holds FuelLevel litres, and each further
// litre adds PointsPerLitre raw units until the next breakpoint.
type CalibrationPoint struct {
	RawPoints      float64 `json:"raw_points" yaml:"raw_points"`
	FuelLevel      float64 `json:"fuel_level" yaml:"fuel_level"`
	PointsPerLitre float64 `json:"points_per_litre" yaml:"points_per_litre"`
}

// CalibrationCurve holds breakpoints ordered ascending by RawPoints.
type CalibrationCurve struct {
	Points []CalibrationPoint `json:"points" yaml:"points"`
}

type ActivityType string

const (
	ActivityNone  ActivityType = "NONE"
	ActivityFill  ActivityType = "FUEL_FILL"
	ActivityDrain ActivityType = "FUEL_DRAIN"
)

// FuelActivity is a confirmed fill or drain event. Volume is signed: negative
// for drains, positive for fills.
type FuelActivity struct {
	ID       string       `json:"id"`
	DeviceID string       `json:"device_id"`
	SensorID int          `json:"sensor_id"`
	Type     ActivityType `json:"type"`

	Volume float64 `json:"volume_liters"`

	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	StartLatitude  float64 `json:"start_latitude"`
	StartLongitude float64 `json:"start_longitude"`
	EndLatitude    float64 `json:"end_latitude"`
	EndLongitude   float64 `json:"end_longitude"`

	DetectedAt time.Time `json:"detected_at"`
}
