package fuel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-monitor/fuel-analytics/internal/domain"
)

type fakeRegistry struct {
	links map[string][]domain.SensorLink
	err   error
}

func (f *fakeRegistry) LinkedSensors(_ context.Context, deviceID string) ([]domain.SensorLink, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.links[deviceID], nil
}

type fakeCalibrations struct {
	curves map[domain.SensorKey]*domain.CalibrationCurve
	err    error
}

func (f *fakeCalibrations) Calibration(_ context.Context, deviceID string, sensorID int) (*domain.CalibrationCurve, bool, error) {
	if f.err != nil {
		return nil, false, f.err
	}
	c, ok := f.curves[domain.SensorKey{DeviceID: deviceID, SensorID: sensorID}]
	return c, ok, nil
}

type fakeSink struct {
	mu         sync.Mutex
	activities []*domain.FuelActivity
}

func (f *fakeSink) Publish(_ context.Context, a *domain.FuelActivity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activities = append(f.activities, a)
}

func (f *fakeSink) all() []*domain.FuelActivity {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*domain.FuelActivity(nil), f.activities...)
}

// identityCurve maps raw points one-to-one onto litres.
func identityCurve() *domain.CalibrationCurve {
	return &domain.CalibrationCurve{Points: []domain.CalibrationPoint{
		{RawPoints: 0, FuelLevel: 0, PointsPerLitre: 1},
	}}
}

func testParams() Params {
	return Params{
		WindowCap:        100,
		SmoothingTarget:  0,
		DetectionTarget:  5,
		LookAround:       time.Minute,
		LookBack:         10 * time.Minute,
		DigitalThreshold: 5,
		AnalogThreshold:  5,
		ErrorThreshold:   0.5,
	}
}

func analogEngine(device string, sensor int) (*Engine, *fakeSink) {
	key := domain.SensorKey{DeviceID: device, SensorID: sensor}
	reg := &fakeRegistry{links: map[string][]domain.SensorLink{
		device: {{SensorID: sensor, TypeName: domain.SensorTypeAnalog}},
	}}
	cal := &fakeCalibrations{curves: map[domain.SensorKey]*domain.CalibrationCurve{
		key: identityCurve(),
	}}
	sink := &fakeSink{}
	return NewEngine(reg, cal, sink, testParams()), sink
}

func analogReading(device string, sensor int, ts time.Time, raw int64) *domain.Reading {
	return &domain.Reading{
		DeviceID:  device,
		SensorID:  sensor,
		Timestamp: ts,
		AnalogRaw: &raw,
	}
}

func feedDrainSequence(t *testing.T, e *Engine, device string, sensor int, base time.Time) []Result {
	t.Helper()
	var results []Result
	for i := 0; i < 10; i++ {
		raw := int64(50)
		if i >= 5 {
			raw = 40
		}
		r := analogReading(device, sensor, base.Add(time.Duration(i)*time.Minute), raw)
		res := e.Process(context.Background(), r, domain.ModeLive)
		require.NoError(t, res.Err)
		results = append(results, res)
	}
	return results
}

func TestEngineDetectsDrainFromLiveStream(t *testing.T) {
	e, sink := analogEngine("truck-1", 1)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	results := feedDrainSequence(t, e, "truck-1", 1, base)

	var acts []*domain.FuelActivity
	for _, res := range results {
		if res.Activity != nil {
			acts = append(acts, res.Activity)
		}
	}
	require.Len(t, acts, 1)

	act := acts[0]
	assert.Equal(t, domain.ActivityDrain, act.Type)
	assert.Equal(t, -10.0, act.Volume)
	assert.Equal(t, "truck-1", act.DeviceID)
	assert.Equal(t, 1, act.SensorID)
	assert.True(t, act.StartTime.Before(act.EndTime))

	require.Len(t, sink.all(), 1)
	assert.Same(t, act, sink.all()[0])
}

func TestEngineDetectsFill(t *testing.T) {
	e, sink := analogEngine("truck-1", 1)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		raw := int64(40)
		if i >= 5 {
			raw = 50
		}
		r := analogReading("truck-1", 1, base.Add(time.Duration(i)*time.Minute), raw)
		res := e.Process(context.Background(), r, domain.ModeLive)
		require.NoError(t, res.Err)
	}

	acts := sink.all()
	require.Len(t, acts, 1)
	assert.Equal(t, domain.ActivityFill, acts[0].Type)
	assert.Equal(t, 10.0, acts[0].Volume)
}

func TestEngineBackfillNeverEmitsActivities(t *testing.T) {
	e, sink := analogEngine("truck-1", 1)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		raw := int64(50)
		if i >= 5 {
			raw = 40
		}
		r := analogReading("truck-1", 1, base.Add(time.Duration(i)*time.Minute), raw)
		res := e.Process(context.Background(), r, domain.ModeBackfill)
		require.NoError(t, res.Err)
		assert.Nil(t, res.Activity)
	}

	assert.Empty(t, sink.all())
	key := domain.SensorKey{DeviceID: "truck-1", SensorID: 1}
	assert.False(t, e.Armed(key))
	assert.Equal(t, 10, e.WindowLen(key))
}

func TestEngineWarmStartFeedsLiveDetection(t *testing.T) {
	e, sink := analogEngine("truck-1", 1)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	// Replayed history: five settled readings at 50 litres.
	for i := 0; i < 5; i++ {
		r := &domain.Reading{
			DeviceID:  "truck-1",
			SensorID:  1,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}
		r.SetLevel(50)
		res := e.Process(context.Background(), r, domain.ModeBackfill)
		require.NoError(t, res.Err)
		assert.Equal(t, SkipNone, res.Skip)
	}

	// Live traffic at 40 litres: detection works immediately because the
	// window was rebuilt from history.
	for i := 5; i < 10; i++ {
		r := analogReading("truck-1", 1, base.Add(time.Duration(i)*time.Minute), 40)
		res := e.Process(context.Background(), r, domain.ModeLive)
		require.NoError(t, res.Err)
	}

	acts := sink.all()
	require.Len(t, acts, 1)
	assert.Equal(t, domain.ActivityDrain, acts[0].Type)
	assert.Equal(t, -10.0, acts[0].Volume)
}

func TestEngineStoredRowSkipsRecomputation(t *testing.T) {
	e, _ := analogEngine("truck-1", 1)

	r := &domain.Reading{
		DeviceID:   "truck-1",
		SensorID:   1,
		Timestamp:  time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		SensorData: "garbage that must never be decoded",
	}
	r.SetLevel(33)

	res := e.Process(context.Background(), r, domain.ModeLive)
	require.NoError(t, res.Err)
	assert.Equal(t, SkipNone, res.Skip)
	assert.Equal(t, 33.0, res.Reading.Level())
	assert.Equal(t, 1, e.WindowLen(domain.SensorKey{DeviceID: "truck-1", SensorID: 1}))
}

func TestEngineSmoothingOverwritesLevel(t *testing.T) {
	params := testParams()
	params.SmoothingTarget = 2
	key := domain.SensorKey{DeviceID: "truck-1", SensorID: 1}
	reg := &fakeRegistry{links: map[string][]domain.SensorLink{
		"truck-1": {{SensorID: 1, TypeName: domain.SensorTypeAnalog}},
	}}
	cal := &fakeCalibrations{curves: map[domain.SensorKey]*domain.CalibrationCurve{key: identityCurve()}}
	e := NewEngine(reg, cal, &fakeSink{}, params)

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	raws := []int64{10, 12, 14}
	var lvls []float64
	for i, raw := range raws {
		res := e.Process(context.Background(), analogReading("truck-1", 1, base.Add(time.Duration(i)*time.Minute), raw), domain.ModeLive)
		require.NoError(t, res.Err)
		lvls = append(lvls, res.Reading.Level())
	}

	assert.Equal(t, 10.0, lvls[0])
	assert.Equal(t, 11.0, lvls[1])
	assert.InDelta(t, 35.0/3.0, lvls[2], 1e-9)
}

func TestEngineSkipReasons(t *testing.T) {
	key := domain.SensorKey{DeviceID: "truck-1", SensorID: 1}
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	raw := int64(50)

	tests := []struct {
		name    string
		links   map[string][]domain.SensorLink
		curves  map[domain.SensorKey]*domain.CalibrationCurve
		reading *domain.Reading
		skip    SkipReason
	}{
		{
			name:    "device without sensors",
			reading: &domain.Reading{DeviceID: "truck-1", SensorID: 1, Timestamp: base, AnalogRaw: &raw},
			skip:    SkipNoLinkedSensors,
		},
		{
			name:    "sensor id not linked",
			links:   map[string][]domain.SensorLink{"truck-1": {{SensorID: 2, TypeName: domain.SensorTypeAnalog}}},
			reading: &domain.Reading{DeviceID: "truck-1", SensorID: 1, Timestamp: base, AnalogRaw: &raw},
			skip:    SkipNoSensorMatch,
		},
		{
			name:    "no analog sensor for anonymous reading",
			links:   map[string][]domain.SensorLink{"truck-1": {{SensorID: 1, TypeName: domain.SensorTypeDigital}}},
			reading: &domain.Reading{DeviceID: "truck-1", Timestamp: base, AnalogRaw: &raw},
			skip:    SkipNoSensorMatch,
		},
		{
			name:    "neither payload nor analog value",
			links:   map[string][]domain.SensorLink{"truck-1": {{SensorID: 1, TypeName: domain.SensorTypeAnalog}}},
			reading: &domain.Reading{DeviceID: "truck-1", SensorID: 1, Timestamp: base},
			skip:    SkipNoRawValue,
		},
		{
			name:    "malformed payload",
			links:   map[string][]domain.SensorLink{"truck-1": {{SensorID: 1, TypeName: domain.SensorTypeDigital}}},
			reading: &domain.Reading{DeviceID: "truck-1", SensorID: 1, Timestamp: base, SensorData: "bogus"},
			skip:    SkipBadPayload,
		},
		{
			name:    "frequency out of range",
			links:   map[string][]domain.SensorLink{"truck-1": {{SensorID: 1, TypeName: domain.SensorTypeDigital}}},
			reading: &domain.Reading{DeviceID: "truck-1", SensorID: 1, Timestamp: base, SensorData: "F=1000 T=20 N=ABC"},
			skip:    SkipFrequencyRange,
		},
		{
			name:    "no calibration curve",
			links:   map[string][]domain.SensorLink{"truck-1": {{SensorID: 1, TypeName: domain.SensorTypeAnalog}}},
			curves:  map[domain.SensorKey]*domain.CalibrationCurve{},
			reading: &domain.Reading{DeviceID: "truck-1", SensorID: 1, Timestamp: base, AnalogRaw: &raw},
			skip:    SkipNoCalibration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			curves := tt.curves
			if curves == nil {
				curves = map[domain.SensorKey]*domain.CalibrationCurve{key: identityCurve()}
			}
			e := NewEngine(&fakeRegistry{links: tt.links}, &fakeCalibrations{curves: curves}, &fakeSink{}, testParams())

			res := e.Process(context.Background(), tt.reading, domain.ModeLive)
			require.NoError(t, res.Err)
			assert.Equal(t, tt.skip, res.Skip)
			assert.Nil(t, res.Activity)
			assert.Nil(t, res.Reading.FuelLevel)
		})
	}
}

func TestEngineWarmupReportsBelowMinimum(t *testing.T) {
	e, _ := analogEngine("truck-1", 1)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	res := e.Process(context.Background(), analogReading("truck-1", 1, base, 50), domain.ModeLive)
	require.NoError(t, res.Err)
	assert.Equal(t, SkipBelowMinimum, res.Skip)
	assert.Equal(t, 50.0, res.Reading.Level())
	assert.Equal(t, 1, e.WindowLen(domain.SensorKey{DeviceID: "truck-1", SensorID: 1}))
}

func TestEngineBelowCurveIsTypedError(t *testing.T) {
	key := domain.SensorKey{DeviceID: "truck-1", SensorID: 1}
	reg := &fakeRegistry{links: map[string][]domain.SensorLink{
		"truck-1": {{SensorID: 1, TypeName: domain.SensorTypeAnalog}},
	}}
	cal := &fakeCalibrations{curves: map[domain.SensorKey]*domain.CalibrationCurve{
		key: {Points: []domain.CalibrationPoint{{RawPoints: 100, FuelLevel: 10, PointsPerLitre: 20}}},
	}}
	e := NewEngine(reg, cal, &fakeSink{}, testParams())

	res := e.Process(context.Background(), analogReading("truck-1", 1, time.Now(), 50), domain.ModeLive)
	assert.ErrorIs(t, res.Err, ErrBelowCurve)
	assert.Nil(t, res.Reading.FuelLevel)
}

func TestEngineCollaboratorFaultDoesNotHaltStream(t *testing.T) {
	reg := &fakeRegistry{err: errors.New("registry down")}
	e := NewEngine(reg, &fakeCalibrations{}, &fakeSink{}, testParams())

	r := analogReading("truck-1", 1, time.Now(), 50)
	res := e.Process(context.Background(), r, domain.ModeLive)
	require.Error(t, res.Err)
	assert.Same(t, r, res.Reading)

	// Recovery: the same engine keeps serving once the registry is back.
	reg.err = nil
	reg.links = map[string][]domain.SensorLink{"truck-1": {{SensorID: 1, TypeName: domain.SensorTypeAnalog}}}
	e.calibrations = &fakeCalibrations{curves: map[domain.SensorKey]*domain.CalibrationCurve{
		{DeviceID: "truck-1", SensorID: 1}: identityCurve(),
	}}
	res = e.Process(context.Background(), analogReading("truck-1", 1, time.Now(), 50), domain.ModeLive)
	assert.NoError(t, res.Err)
}

func TestEngineDigitalPathEndToEnd(t *testing.T) {
	key := domain.SensorKey{DeviceID: "truck-1", SensorID: 7}
	reg := &fakeRegistry{links: map[string][]domain.SensorLink{
		"truck-1": {{SensorID: 7, TypeName: domain.SensorTypeDigital}},
	}}
	cal := &fakeCalibrations{curves: map[domain.SensorKey]*domain.CalibrationCurve{key: identityCurve()}}
	e := NewEngine(reg, cal, &fakeSink{}, testParams())

	r := &domain.Reading{
		DeviceID:   "truck-1",
		SensorID:   7,
		Timestamp:  time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		SensorData: "F=100 T=20 N=64",
	}
	res := e.Process(context.Background(), r, domain.ModeLive)
	require.NoError(t, res.Err)
	assert.Equal(t, 100.0, r.RawPoints)
	assert.Equal(t, 100.0, r.Level())
}

func TestEngineDigitalPayloadWinsOverAnalog(t *testing.T) {
	key := domain.SensorKey{DeviceID: "truck-1", SensorID: 7}
	reg := &fakeRegistry{links: map[string][]domain.SensorLink{
		"truck-1": {{SensorID: 7, TypeName: domain.SensorTypeDigital}},
	}}
	cal := &fakeCalibrations{curves: map[domain.SensorKey]*domain.CalibrationCurve{key: identityCurve()}}
	e := NewEngine(reg, cal, &fakeSink{}, testParams())

	analog := int64(999)
	r := &domain.Reading{
		DeviceID:   "truck-1",
		SensorID:   7,
		Timestamp:  time.Now(),
		SensorData: "F=100 T=20 N=64",
		AnalogRaw:  &analog,
	}
	res := e.Process(context.Background(), r, domain.ModeLive)
	require.NoError(t, res.Err)
	assert.Equal(t, 100.0, r.RawPoints)
}

func TestEngineKeysProcessIndependently(t *testing.T) {
	keyA := domain.SensorKey{DeviceID: "truck-a", SensorID: 1}
	keyB := domain.SensorKey{DeviceID: "truck-b", SensorID: 1}
	reg := &fakeRegistry{links: map[string][]domain.SensorLink{
		"truck-a": {{SensorID: 1, TypeName: domain.SensorTypeAnalog}},
		"truck-b": {{SensorID: 1, TypeName: domain.SensorTypeAnalog}},
	}}
	cal := &fakeCalibrations{curves: map[domain.SensorKey]*domain.CalibrationCurve{
		keyA: identityCurve(),
		keyB: identityCurve(),
	}}
	sink := &fakeSink{}
	e := NewEngine(reg, cal, sink, testParams())
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for _, dev := range []string{"truck-a", "truck-b"} {
		wg.Add(1)
		go func(dev string) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				raw := int64(50)
				if i >= 5 {
					raw = 40
				}
				r := analogReading(dev, 1, base.Add(time.Duration(i)*time.Minute), raw)
				e.Process(context.Background(), r, domain.ModeLive)
			}
		}(dev)
	}
	wg.Wait()

	acts := sink.all()
	require.Len(t, acts, 2)
	devices := map[string]int{}
	for _, a := range acts {
		assert.Equal(t, domain.ActivityDrain, a.Type)
		assert.Equal(t, -10.0, a.Volume)
		devices[a.DeviceID]++
	}
	assert.Equal(t, map[string]int{"truck-a": 1, "truck-b": 1}, devices)
}
