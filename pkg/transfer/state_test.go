package transfer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateCounters(t *testing.T) {
	state := NewState(2, 10000)
	state.AddBytes(4000)
	state.CompleteItem()
	state.AddItem(500)

	status := state.Status()
	assert.Equal(t, 3, status.TotalItems)
	assert.Equal(t, 1, status.TransferredItems)
	assert.Equal(t, int64(10500), status.TotalBytes)
	assert.Equal(t, int64(4000), status.TransferredBytes)
	assert.InDelta(t, 38.09, status.ProgressPercentage(), 0.01)
}

func TestStatePauseResume(t *testing.T) {
	state := NewState(1, 100)

	state.Pause(false)
	assert.True(t, state.IsPaused())
	assert.False(t, state.IsForcePaused())

	state.Pause(true)
	assert.True(t, state.IsForcePaused())

	state.Resume()
	assert.False(t, state.IsPaused())
	assert.False(t, state.IsForcePaused())
}

func TestSampleSpeed(t *testing.T) {
	state := NewState(1, 20000)

	// First sample establishes the 5000-byte baseline.
	state.AddBytes(5000)
	assert.Equal(t, int64(10000), state.sampleSpeed(500*time.Millisecond))

	// 5000 more bytes over a 500 ms interval is 10000 bytes/sec.
	state.AddBytes(5000)
	assert.Equal(t, int64(10000), state.sampleSpeed(500*time.Millisecond))

	// No movement yields zero.
	assert.Equal(t, int64(0), state.sampleSpeed(500*time.Millisecond))
}

func TestSampleSpeedToleratesCounterReset(t *testing.T) {
	state := NewState(1, 10000)
	state.AddBytes(8000)
	state.sampleSpeed(500 * time.Millisecond)

	// A session restart moves the live counter below the sampled watermark.
	state.ResetProgress()
	assert.Equal(t, int64(0), state.sampleSpeed(500*time.Millisecond))

	state.AddBytes(1000)
	assert.Equal(t, int64(2000), state.sampleSpeed(500*time.Millisecond))
}

func TestSamplerMeasuresAndStopsWhenPaused(t *testing.T) {
	state := NewState(1, 1<<20)
	sampler := NewSpeedSamplerWithInterval(20 * time.Millisecond)
	sampler.Start(state)

	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-time.After(5 * time.Millisecond):
				state.AddBytes(1000)
			}
		}
	}()

	require.Eventually(t, func() bool {
		return state.Status().SpeedBytesPerSec > 0
	}, 2*time.Second, 10*time.Millisecond, "sampler never measured a speed")

	close(stop)
	state.Pause(false)

	// The next tick reports zero once and the chain stops rescheduling.
	require.Eventually(t, func() bool {
		return state.Status().SpeedBytesPerSec == 0
	}, 2*time.Second, 10*time.Millisecond, "paused sampler did not zero the speed")

	watermark := func() int64 {
		state.mu.Lock()
		defer state.mu.Unlock()
		return state.lastSampledBytes
	}
	before := watermark()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, before, watermark(), "paused chain kept sampling")
}

func TestSamplerNewRunSupersedesOld(t *testing.T) {
	state := NewState(1, 1<<20)
	sampler := NewSpeedSamplerWithInterval(20 * time.Millisecond)

	first := sampler.Start(state)
	second := sampler.Start(state)
	assert.NotEqual(t, first, second)

	sampler.mu.Lock()
	current := sampler.current
	sampler.mu.Unlock()
	assert.Equal(t, second, current)

	sampler.Stop()

	// A tick carrying a stale run identifier must not touch the state.
	state.setSpeed(1234)
	sampler.tick(first, state)
	assert.Equal(t, int64(1234), state.Status().SpeedBytesPerSec)
}
