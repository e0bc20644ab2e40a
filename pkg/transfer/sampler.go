package transfer

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultSampleInterval is the fixed pace of speed recomputation.
const DefaultSampleInterval = 500 * time.Millisecond

// SpeedSampler drives paced throughput measurement for a transfer session.
// Each Start issues a fresh run identifier; every scheduled tick compares
// its captured identifier against the current one and self-terminates when
// superseded, so restarting the sampler needs no cancellation token beyond
// the identity comparison.
type SpeedSampler struct {
	mu       sync.Mutex
	interval time.Duration
	current  string
}

// NewSpeedSampler creates a sampler at the default 500 ms interval.
func NewSpeedSampler() *SpeedSampler {
	return NewSpeedSamplerWithInterval(DefaultSampleInterval)
}

// NewSpeedSamplerWithInterval creates a sampler with a custom interval.
func NewSpeedSamplerWithInterval(interval time.Duration) *SpeedSampler {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	return &SpeedSampler{interval: interval}
}

// Start begins a new sampling run for the given session, superseding any
// previous run on its next tick. The run identifier is returned for
// inspection.
func (s *SpeedSampler) Start(state *State) string {
	runID := uuid.New().String()
	s.mu.Lock()
	s.current = runID
	s.mu.Unlock()
	time.AfterFunc(s.interval, func() { s.tick(runID, state) })
	return runID
}

// Stop ends the active run; the scheduled tick observes the mismatch and
// terminates.
func (s *SpeedSampler) Stop() {
	s.mu.Lock()
	s.current = ""
	s.mu.Unlock()
}

// tick performs one paced measurement step. A paused session reports zero
// once and stops rescheduling; resuming requires a new Start.
func (s *SpeedSampler) tick(runID string, state *State) {
	s.mu.Lock()
	active := s.current == runID
	s.mu.Unlock()
	if !active || state == nil {
		return
	}
	if state.IsPaused() {
		state.setSpeed(0)
		return
	}
	state.sampleSpeed(s.interval)
	time.AfterFunc(s.interval, func() { s.tick(runID, state) })
}
