package fuel

import (
	"sort"
	"sync"
	"time"

	"fleet-monitor/fuel-analytics/internal/domain"
)

// WindowStore keeps a bounded, time-ordered window of processed readings per
// sensor key. Ordering follows the device timestamp, not arrival order;
// readings with equal timestamps are kept in insertion order. When an insert
// pushes a window past its cap the earliest reading is evicted.
//
// The store-level lock guards only the key map. Each window carries its own
// lock, so sensors never contend with each other.
type WindowStore struct {
	cap int

	mu      sync.RWMutex
	windows map[domain.SensorKey]*sensorWindow
}

type sensorWindow struct {
	mu       sync.Mutex
	readings []*domain.Reading
}

func NewWindowStore(cap int) *WindowStore {
	if cap < 1 {
		cap = 1
	}
	return &WindowStore{
		cap:     cap,
		windows: make(map[domain.SensorKey]*sensorWindow),
	}
}

func (s *WindowStore) get(key domain.SensorKey) (*sensorWindow, bool) {
	s.mu.RLock()
	w, ok := s.windows[key]
	s.mu.RUnlock()
	return w, ok
}

func (s *WindowStore) getOrCreate(key domain.SensorKey) *sensorWindow {
	if w, ok := s.get(key); ok {
		return w
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.windows[key]; ok {
		return w
	}
	w := &sensorWindow{}
	s.windows[key] = w
	return w
}

// Upsert inserts the reading at its timestamp position and evicts the oldest
// entry if the window now exceeds the cap.
func (s *WindowStore) Upsert(key domain.SensorKey, r *domain.Reading) {
	w := s.getOrCreate(key)
	w.mu.Lock()
	defer w.mu.Unlock()

	win := w.readings
	i := sort.Search(len(win), func(i int) bool {
		return win[i].Timestamp.After(r.Timestamp)
	})

	win = append(win, nil)
	copy(win[i+1:], win[i:])
	win[i] = r

	if len(win) > s.cap {
		win = win[1:]
	}
	w.readings = win
}

// Query returns the readings with timestamps in (from, to], ordered.
func (s *WindowStore) Query(key domain.SensorKey, from, to time.Time) []*domain.Reading {
	w, ok := s.get(key)
	if !ok {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	win := w.readings
	lo := sort.Search(len(win), func(i int) bool { return win[i].Timestamp.After(from) })
	hi := sort.Search(len(win), func(i int) bool { return win[i].Timestamp.After(to) })

	out := make([]*domain.Reading, hi-lo)
	copy(out, win[lo:hi])
	return out
}

// All returns an ordered snapshot of the window for key.
func (s *WindowStore) All(key domain.SensorKey) []*domain.Reading {
	w, ok := s.get(key)
	if !ok {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]*domain.Reading, len(w.readings))
	copy(out, w.readings)
	return out
}

// Len reports the current window size for key.
func (s *WindowStore) Len(key domain.SensorKey) int {
	w, ok := s.get(key)
	if !ok {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.readings)
}
