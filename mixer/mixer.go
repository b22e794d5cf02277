// Package mixer combines live capture sources into a single mixed stream.
//
// The first connected source drives the graph: every block it delivers is
// summed with whatever the other sources have buffered (zero-padded when they
// lag behind) and handed to the destination's subscribers.
package mixer

import (
	"encoding/binary"
	"errors"
	"sync"

	"meetrec/audio"
)

// maxPending bounds the samples buffered for a secondary source, two seconds
// at the capture rate. Older samples are discarded when it overflows.
const maxPending = 2 * audio.SampleRate

var ErrClosed = errors.New("mixer: graph closed")

type input struct {
	src     audio.CaptureDevice
	pending []int16
}

type Graph struct {
	mu     sync.Mutex
	inputs []*input
	dest   *Destination
	closed bool
}

func New() *Graph {
	g := &Graph{}
	g.dest = &Destination{g: g}
	return g
}

// Connect routes src into the graph. The caller still owns src and is
// responsible for starting and stopping it.
func (g *Graph) Connect(src audio.CaptureDevice) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrClosed
	}
	in := &input{src: src}
	clock := len(g.inputs) == 0
	g.inputs = append(g.inputs, in)
	src.SetCallback(func(data []byte, _ uint32) {
		g.feed(in, clock, decode(data))
	})
	return nil
}

// Inputs returns the number of connected sources.
func (g *Graph) Inputs() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.inputs)
}

func (g *Graph) Destination() *Destination {
	return g.dest
}

// Close detaches every source and drops all subscribers. Safe to call more
// than once.
func (g *Graph) Close() {
	g.mu.Lock()
	inputs := g.inputs
	g.inputs = nil
	g.closed = true
	g.dest.subs = nil
	g.mu.Unlock()
	for _, in := range inputs {
		in.src.ClearCallback()
	}
}

func (g *Graph) feed(in *input, clock bool, samples []int16) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	if !clock {
		in.pending = append(in.pending, samples...)
		if over := len(in.pending) - maxPending; over > 0 {
			in.pending = in.pending[over:]
		}
		return
	}

	mixed := make([]int32, len(samples))
	for i, s := range samples {
		mixed[i] = int32(s)
	}
	for _, other := range g.inputs {
		if other == in {
			continue
		}
		n := min(len(other.pending), len(mixed))
		for i := 0; i < n; i++ {
			mixed[i] += int32(other.pending[i])
		}
		other.pending = other.pending[n:]
	}

	out := make([]int16, len(mixed))
	for i, s := range mixed {
		out[i] = clip(s)
	}
	g.dest.publish(out)
}

// Destination is the graph's output. Subscribers receive every mixed block
// on the capture goroutine while the graph lock is held, so they must not
// call back into the graph and must not modify the slice.
type Destination struct {
	g      *Graph
	nextID int
	subs   map[int]func([]int16)
}

func (d *Destination) Subscribe(fn func(samples []int16)) (unsubscribe func()) {
	d.g.mu.Lock()
	defer d.g.mu.Unlock()
	if d.subs == nil {
		d.subs = make(map[int]func([]int16))
	}
	id := d.nextID
	d.nextID++
	d.subs[id] = fn
	return func() {
		d.g.mu.Lock()
		delete(d.subs, id)
		d.g.mu.Unlock()
	}
}

// Subscribers reports how many sinks are attached.
func (d *Destination) Subscribers() int {
	d.g.mu.Lock()
	defer d.g.mu.Unlock()
	return len(d.subs)
}

func (d *Destination) publish(block []int16) {
	for _, fn := range d.subs {
		fn(block)
	}
}

func decode(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}

func clip(s int32) int16 {
	if s > 32767 {
		return 32767
	}
	if s < -32768 {
		return -32768
	}
	return int16(s)
}
