package fuel

import (
	"sort"
	"time"

	"fleet-monitor/fuel-analytics/internal/domain"
)

// Selector picks the sub-window of readings relevant to an incoming reading.
// The same policy serves both smoothing and detection; only the target size
// differs.
type Selector struct {
	// LookAround bounds the window consulted around a stored-origin reading.
	LookAround time.Duration
	// LookBack bounds the trailing window consulted for a live reading.
	LookBack time.Duration
}

// Select returns up to target readings from the ordered window win, relative
// to reading r:
//
//   - stored-origin readings (event code >= 100) select everything within
//     LookAround of the reading's timestamp, exclusive below and inclusive
//     above;
//   - when the window holds at most target readings, the whole window;
//   - otherwise the trailing LookBack slice ending at the reading's
//     timestamp — the whole window again if that slice is small enough, or
//     else the target readings immediately preceding the slice's most
//     recent entry.
func (s *Selector) Select(win []*domain.Reading, r *domain.Reading, target int) []*domain.Reading {
	if len(win) == 0 {
		return nil
	}

	t := r.Timestamp
	if r.EventCode >= domain.StoredEventCode {
		return between(win, t.Add(-s.LookAround), t.Add(s.LookAround))
	}

	if len(win) <= target {
		return win
	}

	recent := between(win, t.Add(-s.LookBack), t)
	if len(recent) <= target {
		return win
	}
	return recent[len(recent)-1-target : len(recent)-1]
}

// between returns the readings of the ordered slice win with timestamps in
// (from, to].
func between(win []*domain.Reading, from, to time.Time) []*domain.Reading {
	lo := sort.Search(len(win), func(i int) bool { return win[i].Timestamp.After(from) })
	hi := sort.Search(len(win), func(i int) bool { return win[i].Timestamp.After(to) })
	return win[lo:hi]
}

// SmoothedLevel folds the current calibrated level into the mean of the
// selected readings' levels.
func SmoothedLevel(selected []*domain.Reading, current float64) float64 {
	sum := current
	for _, r := range selected {
		sum += r.Level()
	}
	return sum / float64(len(selected)+1)
}
