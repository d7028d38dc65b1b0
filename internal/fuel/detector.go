package fuel

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"fleet-monitor/fuel-analytics/internal/domain"
)

// armedEvent is the transient state of a suspected fill or drain, captured
// when the level first moves and held until a later sample confirms it.
type armedEvent struct {
	startLevel     float64
	startTime      time.Time
	startLatitude  float64
	startLongitude float64

	// errorCheckStart is the oldest level of the arming sample, compared
	// against the newest level of the confirming sample to reject noise.
	errorCheckStart float64
}

// Detector turns split-mean shifts in a sample of smoothed readings into
// confirmed fuel activities. It keeps one armed event per sensor key at a
// time; arming never overwrites and only a confirmed fill or drain clears it.
type Detector struct {
	// errorThreshold scales the detected volume into the minimum raw level
	// change required across the arm/confirm interval.
	errorThreshold float64

	mu    sync.Mutex
	armed map[domain.SensorKey]*armedEvent
}

func NewDetector(errorThreshold float64) *Detector {
	return &Detector{
		errorThreshold: errorThreshold,
		armed:          make(map[domain.SensorKey]*armedEvent),
	}
}

// Check compares the means of the two halves of the sample, anchored at the
// midpoint. A difference above threshold arms the key with the midpoint as
// the candidate start; a later sample whose difference falls back below the
// threshold resolves the event, provided the raw level change across the
// whole interval agrees in direction and magnitude. Returns a confirmed
// activity or nil.
func (d *Detector) Check(key domain.SensorKey, sample []*domain.Reading, threshold float64) *domain.FuelActivity {
	n := len(sample)
	mid := (n - 1) / 2

	var leftSum, rightSum float64
	for i := 0; i <= mid; i++ {
		leftSum += sample[i].Level()
		rightSum += sample[i+mid].Level()
	}
	leftMean := leftSum / float64(mid+1)
	rightMean := rightSum / float64(mid+1)
	diff := math.Abs(leftMean - rightMean)

	d.mu.Lock()
	defer d.mu.Unlock()
	meta := d.armed[key]

	if diff > threshold && meta == nil {
		start := sample[mid]
		d.armed[key] = &armedEvent{
			startLevel:      start.Level(),
			startTime:       start.Timestamp,
			startLatitude:   start.Latitude,
			startLongitude:  start.Longitude,
			errorCheckStart: sample[0].Level(),
		}
		return nil
	}

	if diff < threshold && meta != nil {
		end := sample[mid]
		changeVolume := end.Level() - meta.startLevel
		errorCheckChange := sample[n-1].Level() - meta.errorCheckStart
		errorCheck := changeVolume * d.errorThreshold

		var kind domain.ActivityType
		switch {
		case changeVolume < 0 && errorCheckChange < errorCheck:
			kind = domain.ActivityDrain
		case changeVolume > 0 && errorCheckChange > errorCheck:
			kind = domain.ActivityFill
		default:
			// Level moved but the raw boundaries disagree: noise. The
			// armed state stays until a real fill or drain resolves it.
			return nil
		}

		delete(d.armed, key)
		return &domain.FuelActivity{
			ID:             uuid.NewString(),
			DeviceID:       key.DeviceID,
			SensorID:       key.SensorID,
			Type:           kind,
			Volume:         changeVolume,
			StartTime:      meta.startTime,
			EndTime:        end.Timestamp,
			StartLatitude:  meta.startLatitude,
			StartLongitude: meta.startLongitude,
			EndLatitude:    end.Latitude,
			EndLongitude:   end.Longitude,
			DetectedAt:     time.Now().UTC(),
		}
	}

	return nil
}

// Armed reports whether key currently has an unresolved candidate event.
func (d *Detector) Armed(key domain.SensorKey) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.armed[key] != nil
}
