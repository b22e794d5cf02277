// Package recorder encodes a mixed stream and hands the encoded bytes out in
// periodic chunks.
package recorder

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"meetrec/encoder"
	"meetrec/mixer"
)

const DefaultTimeslice = time.Second

type Options struct {
	// Preferences lists encodings by name or MIME type, most preferred first.
	Preferences []string
	// Timeslice is the chunk flush interval. Zero flushes only on Stop.
	Timeslice time.Duration
	// OnChunk receives each chunk on the encoder goroutine. Chunks concatenated
	// in order form the payload.
	OnChunk func(chunk []byte)
}

type Stats struct {
	Frames     uint64
	EncodeTime time.Duration
	Bytes      int
}

type Recorder struct {
	format   encoder.Format
	fellBack bool
	enc      encoder.Encoder
	onChunk  func([]byte)

	unsubscribe func()
	blockChan   chan []int16
	encodeDone  chan struct{}
	sampleBuf   []int16
	bufMu       sync.Mutex
	paused      atomic.Bool
	flushed     int
	encodeErr   error

	stopOnce sync.Once
	stopErr  error
}

// Start negotiates an encoding from opts.Preferences, falling back to
// encoder.Fallback, and begins consuming dest.
func Start(dest *mixer.Destination, opts Options) (*Recorder, error) {
	format, fellBack := encoder.Negotiate(opts.Preferences)
	enc, err := format.New()
	if err != nil {
		return nil, fmt.Errorf("creating %s encoder: %w", format.Name, err)
	}
	onChunk := opts.OnChunk
	if onChunk == nil {
		onChunk = func([]byte) {}
	}

	r := &Recorder{
		format:     format,
		fellBack:   fellBack,
		enc:        enc,
		onChunk:    onChunk,
		blockChan:  make(chan []int16, 64),
		encodeDone: make(chan struct{}),
	}
	go r.encodeLoop(opts.Timeslice)
	r.unsubscribe = dest.Subscribe(r.feed)
	return r, nil
}

func (r *Recorder) Format() encoder.Format { return r.format }

// FellBack reports whether none of the preferred encodings were available.
func (r *Recorder) FellBack() bool { return r.fellBack }

func (r *Recorder) Pause()       { r.paused.Store(true) }
func (r *Recorder) Resume()      { r.paused.Store(false) }
func (r *Recorder) Paused() bool { return r.paused.Load() }

func (r *Recorder) feed(samples []int16) {
	if r.paused.Load() {
		return
	}
	r.bufMu.Lock()
	r.sampleBuf = append(r.sampleBuf, samples...)
	var blocks [][]int16
	for len(r.sampleBuf) >= encoder.BlockSize {
		block := make([]int16, encoder.BlockSize)
		copy(block, r.sampleBuf[:encoder.BlockSize])
		r.sampleBuf = r.sampleBuf[encoder.BlockSize:]
		blocks = append(blocks, block)
	}
	r.bufMu.Unlock()

	for _, block := range blocks {
		r.blockChan <- block
	}
}

func (r *Recorder) encodeLoop(timeslice time.Duration) {
	defer close(r.encodeDone)

	var tick <-chan time.Time
	if timeslice > 0 {
		ticker := time.NewTicker(timeslice)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case block, ok := <-r.blockChan:
			if !ok {
				if err := r.enc.Close(); err != nil && r.encodeErr == nil {
					r.encodeErr = err
				}
				r.flush()
				return
			}
			start := time.Now()
			if err := r.enc.EncodeBlock(block); err != nil && r.encodeErr == nil {
				r.encodeErr = err
			}
			r.enc.AddEncodeTime(time.Since(start))
		case <-tick:
			r.flush()
		}
	}
}

func (r *Recorder) flush() {
	data := r.enc.Bytes()
	if len(data) <= r.flushed {
		return
	}
	chunk := make([]byte, len(data)-r.flushed)
	copy(chunk, data[r.flushed:])
	r.flushed = len(data)
	r.onChunk(chunk)
}

// Stop detaches from the stream, encodes whatever is buffered and emits the
// final chunk before returning the negotiated MIME type. Later calls return
// the same result.
func (r *Recorder) Stop() (string, error) {
	r.stopOnce.Do(func() {
		r.unsubscribe()

		r.bufMu.Lock()
		if len(r.sampleBuf) > 0 {
			partial := make([]int16, len(r.sampleBuf))
			copy(partial, r.sampleBuf)
			r.sampleBuf = nil
			r.blockChan <- partial
		}
		r.bufMu.Unlock()

		close(r.blockChan)
		<-r.encodeDone
		if r.encodeErr != nil {
			r.stopErr = fmt.Errorf("encoding %s: %w", r.format.Name, r.encodeErr)
		}
	})
	return r.format.MIMEType, r.stopErr
}

// Stats is only stable after Stop.
func (r *Recorder) Stats() Stats {
	return Stats{
		Frames:     r.enc.TotalFrames(),
		EncodeTime: r.enc.EncodeTime(),
		Bytes:      r.flushed,
	}
}
