// Package transfer tracks the progress of a long-running, pausable transfer
// session and produces a paced throughput estimate for it.
package transfer

import (
	"sync"
	"time"
)

// State holds the live counters of one transfer session. It is created when
// the session starts, mutated by the active transfer command and by the
// speed sampler, and discarded when the session ends. The sampler never
// mutates while the session is paused.
type State struct {
	mu               sync.Mutex
	paused           bool
	forcePaused      bool
	totalItems       int
	transferredItems int
	totalBytes       int64
	transferredBytes int64
	lastSampledBytes int64
	speed            int64 // bytes per second
}

// Status is an immutable snapshot of a State for display.
type Status struct {
	Paused           bool  `json:"paused"`
	ForcePaused      bool  `json:"force_paused"`
	TotalItems       int   `json:"total_items"`
	TransferredItems int   `json:"transferred_items"`
	TotalBytes       int64 `json:"total_bytes"`
	TransferredBytes int64 `json:"transferred_bytes"`
	SpeedBytesPerSec int64 `json:"speed_bytes_per_sec"`
}

// NewState creates a session covering totalItems items and totalBytes bytes.
func NewState(totalItems int, totalBytes int64) *State {
	return &State{
		totalItems: totalItems,
		totalBytes: totalBytes,
	}
}

// AddBytes records bytes transferred by the active command.
func (s *State) AddBytes(n int64) {
	s.mu.Lock()
	s.transferredBytes += n
	s.mu.Unlock()
}

// CompleteItem records one fully transferred item.
func (s *State) CompleteItem() {
	s.mu.Lock()
	s.transferredItems++
	s.mu.Unlock()
}

// AddItem grows the session by one item of the given size.
func (s *State) AddItem(bytes int64) {
	s.mu.Lock()
	s.totalItems++
	s.totalBytes += bytes
	s.mu.Unlock()
}

// Pause suspends the session. force marks a pause imposed by a conflicting
// external operation rather than the user.
func (s *State) Pause(force bool) {
	s.mu.Lock()
	s.paused = true
	s.forcePaused = force
	s.mu.Unlock()
}

// Resume clears both pause flags.
func (s *State) Resume() {
	s.mu.Lock()
	s.paused = false
	s.forcePaused = false
	s.mu.Unlock()
}

// IsPaused reports whether the session is paused for any reason.
func (s *State) IsPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// IsForcePaused reports whether the pause was imposed externally.
func (s *State) IsForcePaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.forcePaused
}

// ResetProgress zeroes the transferred counters, used when the session
// restarts from scratch. The sampler tolerates the counter moving backwards.
func (s *State) ResetProgress() {
	s.mu.Lock()
	s.transferredItems = 0
	s.transferredBytes = 0
	s.mu.Unlock()
}

// Status returns a snapshot of the current counters.
func (s *State) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Paused:           s.paused,
		ForcePaused:      s.forcePaused,
		TotalItems:       s.totalItems,
		TransferredItems: s.transferredItems,
		TotalBytes:       s.totalBytes,
		TransferredBytes: s.transferredBytes,
		SpeedBytesPerSec: s.speed,
	}
}

// ProgressPercentage calculates the completion percentage (0-100).
func (s *Status) ProgressPercentage() float64 {
	if s.TotalBytes == 0 {
		return 0.0
	}
	return float64(s.TransferredBytes) / float64(s.TotalBytes) * 100.0
}

// sampleSpeed recomputes the throughput over one sampling interval. The
// sampled watermark is clamped to the live counter first, so a session
// restart that moved the counter backwards yields a zero delta instead of
// a negative one.
func (s *State) sampleSpeed(interval time.Duration) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastSampledBytes > s.transferredBytes {
		s.lastSampledBytes = s.transferredBytes
	}
	delta := s.transferredBytes - s.lastSampledBytes
	s.speed = delta * int64(time.Second/interval)
	s.lastSampledBytes = s.transferredBytes
	return s.speed
}

func (s *State) setSpeed(v int64) {
	s.mu.Lock()
	s.speed = v
	s.mu.Unlock()
}
