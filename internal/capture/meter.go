package capture

import (
	"math"
	"sync"
)

// peakDecay controls how quickly the reported level falls after a loud
// sample window. A fast attack with a slow decay reads naturally on a
// level indicator.
const peakDecay = 0.85

// meter tracks microphone loudness as a normalized 0-1 level, computed from
// the RMS of each signed 16-bit little-endian sample window.
type meter struct {
	mu    sync.Mutex
	level float64
}

// update folds one PCM window into the level and returns the new value.
func (m *meter) update(pcm []byte) float64 {
	var sum float64
	n := 0
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		sum += float64(sample) * float64(sample)
		n++
	}

	var norm float64
	if n > 0 {
		norm = math.Sqrt(sum/float64(n)) / 32768.0
	}
	if norm > 1 {
		norm = 1
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	decayed := m.level * peakDecay
	if norm > decayed {
		m.level = norm
	} else {
		m.level = decayed
	}
	return m.level
}

// value returns the current normalized level.
func (m *meter) value() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

// reset drops the level to zero.
func (m *meter) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.level = 0
}
