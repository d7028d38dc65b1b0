package fuel

import (
	"errors"
	"sort"

	"fleet-monitor/fuel-analytics/internal/domain"
)

var (
	// ErrEmptyCurve reports a calibration curve with no breakpoints.
	ErrEmptyCurve = errors.New("calibration curve has no points")

	// ErrBelowCurve reports a raw value below the lowest breakpoint, where
	// the curve is undefined.
	ErrBelowCurve = errors.New("raw value below lowest calibration point")
)

// VolumeAt converts a raw sensor value to litres using the floor breakpoint
// of the curve: the volume at the breakpoint plus the raw distance past it
// divided by the breakpoint's points-per-litre slope. Points must be ordered
// ascending by RawPoints.
func VolumeAt(curve *domain.CalibrationCurve, raw float64) (float64, error) {
	pts := curve.Points
	if len(pts) == 0 {
		return 0, ErrEmptyCurve
	}

	i := sort.Search(len(pts), func(i int) bool { return pts[i].RawPoints > raw })
	if i == 0 {
		return 0, ErrBelowCurve
	}

	p := pts[i-1]
	return p.FuelLevel + (raw-p.RawPoints)/p.PointsPerLitre, nil
}
