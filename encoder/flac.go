package encoder

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"
)

// FlacEncoder writes a mono 16 kHz FLAC stream into memory. The buffer only
// grows: the recorder hands out the new tail on every timeslice, and the
// chunks joined in order decode as one stream. Without a seekable writer the
// StreamInfo sample count and MD5 stay zero, which decoders treat as unknown.
type FlacEncoder struct {
	mu      sync.Mutex
	out     bytes.Buffer
	stream  *flac.Encoder
	scratch []int32

	frames  uint64
	elapsed time.Duration
}

func NewFlac() (*FlacEncoder, error) {
	e := &FlacEncoder{}
	stream, err := flac.NewEncoder(&e.out, &meta.StreamInfo{
		BlockSizeMin:  BlockSize,
		BlockSizeMax:  BlockSize,
		SampleRate:    SampleRate,
		NChannels:     Channels,
		BitsPerSample: BitsPerSample,
	})
	if err != nil {
		return nil, fmt.Errorf("creating flac encoder: %w", err)
	}
	// Meetings carry long silences; fixed and constant predictors shrink
	// them far below verbatim frames.
	stream.EnablePredictionAnalysis(true)
	e.stream = stream
	return e, nil
}

// EncodeBlock writes block as one frame. The last block of a recording may
// be shorter than BlockSize.
func (e *FlacEncoder) EncodeBlock(block []int16) error {
	if len(block) == 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.stream.WriteFrame(e.monoFrame(block)); err != nil {
		return fmt.Errorf("writing flac frame: %w", err)
	}
	e.frames += uint64(len(block))
	return nil
}

// monoFrame widens block into the scratch buffer, which WriteFrame has
// finished with by the next call.
func (e *FlacEncoder) monoFrame(block []int16) *frame.Frame {
	if cap(e.scratch) < len(block) {
		e.scratch = make([]int32, len(block))
	}
	samples := e.scratch[:len(block)]
	for i, s := range block {
		samples[i] = int32(s)
	}
	return &frame.Frame{
		Header: frame.Header{
			BlockSize:     uint16(len(block)),
			SampleRate:    SampleRate,
			Channels:      frame.ChannelsMono,
			BitsPerSample: BitsPerSample,
		},
		Subframes: []*frame.Subframe{{
			SubHeader: frame.SubHeader{Pred: frame.PredVerbatim},
			Samples:   samples,
			NSamples:  len(block),
		}},
	}
}

func (e *FlacEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stream.Close()
}

// Bytes returns everything written so far. The slice aliases the internal
// buffer and must be copied before the next EncodeBlock.
func (e *FlacEncoder) Bytes() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.out.Bytes()
}

func (e *FlacEncoder) TotalFrames() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frames
}

func (e *FlacEncoder) AddEncodeTime(d time.Duration) {
	e.mu.Lock()
	e.elapsed += d
	e.mu.Unlock()
}

func (e *FlacEncoder) EncodeTime() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.elapsed
}
