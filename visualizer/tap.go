// Package visualizer draws a live frequency bar chart of the mixed stream.
package visualizer

import (
	"sync"

	"meetrec/mixer"
)

// Tap copies the mixed stream into a ring buffer for FFT analysis. It only
// reads the stream; Close detaches it.
type Tap struct {
	mu    sync.Mutex
	buf   []float64
	pos   int
	size  int
	unsub func()
}

func NewTap(dest *mixer.Destination, bufSize int) *Tap {
	t := &Tap{
		buf:  make([]float64, bufSize),
		size: bufSize,
	}
	t.unsub = dest.Subscribe(t.write)
	return t
}

func (t *Tap) write(samples []int16) {
	t.mu.Lock()
	for _, s := range samples {
		t.buf[t.pos] = float64(s) / 32768
		t.pos = (t.pos + 1) % t.size
	}
	t.mu.Unlock()
}

// Samples returns the last n samples from the ring buffer in chronological order.
func (t *Tap) Samples(n int) []float64 {
	if n > t.size {
		n = t.size
	}
	out := make([]float64, n)
	t.mu.Lock()
	start := (t.pos - n + t.size) % t.size
	for i := range n {
		out[i] = t.buf[(start+i)%t.size]
	}
	t.mu.Unlock()
	return out
}

func (t *Tap) Close() {
	if t.unsub != nil {
		t.unsub()
		t.unsub = nil
	}
}
