package fuel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"fleet-monitor/fuel-analytics/internal/domain"
)

// SensorRegistry resolves the fuel sensors linked to a device. A nil or
// empty slice means the device has none.
type SensorRegistry interface {
	LinkedSensors(ctx context.Context, deviceID string) ([]domain.SensorLink, error)
}

// CalibrationSource fetches the calibration curve for one sensor. The bool
// reports whether a curve exists; absence is not an error.
type CalibrationSource interface {
	Calibration(ctx context.Context, deviceID string, sensorID int) (*domain.CalibrationCurve, bool, error)
}

// ReadingHistory retrieves persisted readings for warm-start replay, ordered
// by device timestamp.
type ReadingHistory interface {
	ReadingsInRange(ctx context.Context, deviceID string, from, to time.Time) ([]*domain.Reading, error)
}

// ActivitySink receives confirmed fuel activities. Publishing is
// fire-and-forget: sink failures never affect reading processing.
type ActivitySink interface {
	Publish(ctx context.Context, activity *domain.FuelActivity)
}

// SkipReason classifies the expected conditions under which a reading leaves
// the pipeline early. Skips are normal traffic, not faults.
type SkipReason string

const (
	SkipNone            SkipReason = ""
	SkipNoLinkedSensors SkipReason = "no_linked_sensors"
	SkipNoSensorMatch   SkipReason = "no_sensor_match"
	SkipNoRawValue      SkipReason = "no_raw_value"
	SkipBadPayload      SkipReason = "bad_payload"
	SkipFrequencyRange  SkipReason = "invalid_frequency"
	SkipNoCalibration   SkipReason = "no_calibration"
	SkipBelowMinimum    SkipReason = "below_minimum_sample"
)

// Result reports what processing one reading produced. Reading is always the
// input, mutated in place where stages ran. At most one of Activity, Skip
// and Err is meaningful per reading.
type Result struct {
	Reading  *domain.Reading
	Activity *domain.FuelActivity
	Skip     SkipReason
	Err      error
}

// Params tunes the engine's window, smoothing and detection behavior.
type Params struct {
	// WindowCap bounds each sensor's reading window.
	WindowCap int
	// SmoothingTarget is the number of prior readings folded into the
	// moving average; zero disables smoothing.
	SmoothingTarget int
	// DetectionTarget is the sample size the detector requires.
	DetectionTarget int

	LookAround time.Duration
	LookBack   time.Duration

	// Level-change thresholds, in litres, per sensor channel.
	DigitalThreshold float64
	AnalogThreshold  float64
	// ErrorThreshold scales a candidate volume into the minimum raw change
	// required to confirm it.
	ErrorThreshold float64
}

// Engine runs the fuel pipeline for one reading at a time per sensor:
// decode, calibrate, smooth, store, detect. Callers may invoke Process
// concurrently; readings for the same sensor are serialized while distinct
// sensors proceed in parallel.
type Engine struct {
	registry     SensorRegistry
	calibrations CalibrationSource
	sink         ActivitySink

	params   Params
	window   *WindowStore
	selector *Selector
	detector *Detector

	lockMu sync.Mutex
	locks  map[domain.SensorKey]*sync.Mutex
}

func NewEngine(registry SensorRegistry, calibrations CalibrationSource, sink ActivitySink, params Params) *Engine {
	return &Engine{
		registry:     registry,
		calibrations: calibrations,
		sink:         sink,
		params:       params,
		window:       NewWindowStore(params.WindowCap),
		selector:     &Selector{LookAround: params.LookAround, LookBack: params.LookBack},
		detector:     NewDetector(params.ErrorThreshold),
		locks:        make(map[domain.SensorKey]*sync.Mutex),
	}
}

// Process runs one reading through the pipeline. The returned result always
// carries the reading; a failure never halts the stream, it is reported in
// Result.Err and the reading passes through unchanged.
func (e *Engine) Process(ctx context.Context, r *domain.Reading, mode domain.ProcessMode) Result {
	res := e.process(ctx, r, mode)
	if res.Activity != nil && e.sink != nil {
		e.sink.Publish(ctx, res.Activity)
	}
	return res
}

func (e *Engine) process(ctx context.Context, r *domain.Reading, mode domain.ProcessMode) Result {
	links, err := e.registry.LinkedSensors(ctx, r.DeviceID)
	if err != nil {
		return Result{Reading: r, Err: fmt.Errorf("sensor registry lookup for %s: %w", r.DeviceID, err)}
	}
	if len(links) == 0 {
		return Result{Reading: r, Skip: SkipNoLinkedSensors}
	}

	link, ok := resolveSensor(links, r.SensorID)
	if !ok {
		return Result{Reading: r, Skip: SkipNoSensorMatch}
	}
	r.SensorID = link.SensorID
	key := domain.SensorKey{DeviceID: r.DeviceID, SensorID: link.SensorID}

	unlock := e.lock(key)
	defer unlock()

	// Rows replayed from storage already carry a level; they only rebuild
	// window state.
	if r.FuelLevel != nil {
		e.window.Upsert(key, r)
		return Result{Reading: r}
	}

	var raw float64
	switch {
	case r.SensorData != "":
		raw, err = DecodeDigitalPayload(r.SensorData)
		if err != nil {
			return Result{Reading: r, Skip: skipForDecode(err)}
		}
	case r.AnalogRaw != nil:
		raw = float64(*r.AnalogRaw)
	default:
		return Result{Reading: r, Skip: SkipNoRawValue}
	}
	r.RawPoints = raw

	curve, ok, err := e.calibrations.Calibration(ctx, key.DeviceID, key.SensorID)
	if err != nil {
		return Result{Reading: r, Err: fmt.Errorf("calibration lookup for %s: %w", key, err)}
	}
	if !ok {
		return Result{Reading: r, Skip: SkipNoCalibration}
	}

	level, err := VolumeAt(curve, raw)
	if err != nil {
		return Result{Reading: r, Err: fmt.Errorf("calibrate %s raw=%v: %w", key, raw, err)}
	}
	r.SetLevel(level)

	smoothing := e.selector.Select(e.window.All(key), r, e.params.SmoothingTarget)
	r.SetLevel(SmoothedLevel(smoothing, r.Level()))

	e.window.Upsert(key, r)

	if mode != domain.ModeLive {
		return Result{Reading: r}
	}

	sample := e.selector.Select(e.window.All(key), r, e.params.DetectionTarget)
	if len(sample) < e.params.DetectionTarget {
		return Result{Reading: r, Skip: SkipBelowMinimum}
	}

	threshold := e.params.AnalogThreshold
	if r.SensorData != "" {
		threshold = e.params.DigitalThreshold
	}
	return Result{Reading: r, Activity: e.detector.Check(key, sample, threshold)}
}

// resolveSensor matches a reading to one linked sensor: by id when the
// reading names one, otherwise the first analog fuel sensor on the device.
func resolveSensor(links []domain.SensorLink, sensorID int) (domain.SensorLink, bool) {
	if sensorID > 0 {
		for _, l := range links {
			if l.SensorID == sensorID {
				return l, true
			}
		}
		return domain.SensorLink{}, false
	}
	for _, l := range links {
		if l.TypeName == domain.SensorTypeAnalog {
			return l, true
		}
	}
	return domain.SensorLink{}, false
}

func skipForDecode(err error) SkipReason {
	if errors.Is(err, ErrFrequencyRange) {
		return SkipFrequencyRange
	}
	return SkipBadPayload
}

// lock serializes processing per sensor key. Locks are created on first use
// and live for the process lifetime, like the windows they guard.
func (e *Engine) lock(key domain.SensorKey) func() {
	e.lockMu.Lock()
	mu, ok := e.locks[key]
	if !ok {
		mu = &sync.Mutex{}
		e.locks[key] = mu
	}
	e.lockMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// WindowLen reports the current window size for a sensor.
func (e *Engine) WindowLen(key domain.SensorKey) int {
	return e.window.Len(key)
}

// Armed reports whether a sensor has an unresolved candidate event.
func (e *Engine) Armed(key domain.SensorKey) bool {
	return e.detector.Armed(key)
}
