// Package dashboard holds the selected device and query window and the latest
// telemetry snapshot built for them.
package dashboard

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrNoDeviceSelected is returned by Refresh before a device has been chosen
	ErrNoDeviceSelected = errors.New("no device selected")

	// ErrInvalidSelection wraps every Selection validation failure
	ErrInvalidSelection = errors.New("invalid selection")
)

// Selection is what the dashboard is currently looking at. A zero Start selects
// the rolling window [now-Window, now).
type Selection struct {
	DeviceID string
	Window   time.Duration
	Start    time.Time
	End      time.Time
	MinHour  int
	MaxHour  int
}

// Fixed reports whether the selection has an explicit start and end
func (s Selection) Fixed() bool {
	return !s.Start.IsZero()
}

// Bounds returns the query window. Rolling windows end at now truncated to the
// minute so repeated refreshes within a minute ask for the same range.
func (s Selection) Bounds(now time.Time) (time.Time, time.Time) {
	if s.Fixed() {
		return s.Start, s.End
	}
	end := now.Truncate(time.Minute)
	return end.Add(-s.Window), end
}

// Validate checks the hour range and the window
func (s Selection) Validate() error {
	if s.MinHour < 0 || s.MinHour > 23 || s.MaxHour < 0 || s.MaxHour > 23 {
		return fmt.Errorf("%w: hours must be within 0-23 (got %d-%d)", ErrInvalidSelection, s.MinHour, s.MaxHour)
	}
	if s.MinHour > s.MaxHour {
		return fmt.Errorf("%w: minHour %d is after maxHour %d", ErrInvalidSelection, s.MinHour, s.MaxHour)
	}
	if s.Fixed() {
		if !s.End.After(s.Start) {
			return fmt.Errorf("%w: end must be after start", ErrInvalidSelection)
		}
		return nil
	}
	if s.Window <= 0 {
		return fmt.Errorf("%w: window must be positive", ErrInvalidSelection)
	}
	return nil
}

// State is the shared dashboard state. The snapshot pointer is swapped whole so
// readers never see a partially built series.
type State struct {
	mu         sync.RWMutex
	selection  Selection
	generation uint64

	snapshot atomic.Pointer[Snapshot]
}

// NewState creates a state with an initial selection
func NewState(initial Selection) *State {
	return &State{selection: initial}
}

// Selection returns the current selection
func (s *State) Selection() Selection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selection
}

// SetSelection validates and replaces the selection. The snapshot is dropped when
// the device changes.
func (s *State) SetSelection(sel Selection) error {
	if err := sel.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sel.DeviceID != s.selection.DeviceID {
		s.snapshot.Store(nil)
	}
	s.selection = sel
	s.generation++
	return nil
}

// current returns the selection and its generation
func (s *State) current() (Selection, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selection, s.generation
}

// publish stores snap unless the selection changed since generation was read
func (s *State) publish(snap *Snapshot, generation uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.generation != generation {
		return false
	}
	s.snapshot.Store(snap)
	return true
}

// Snapshot returns the latest snapshot, or nil before the first refresh
func (s *State) Snapshot() *Snapshot {
	return s.snapshot.Load()
}
