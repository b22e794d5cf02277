package audio

import (
	"context"
	"sync"
	"time"
)

const (
	fakeFrameSize     = 1024
	fakeBytesPerFrame = 2 // 16-bit mono
)

// FakeContext serves canned PCM instead of real devices. The error fields let
// tests steer CaptureSystem and CaptureMicrophone down their failure paths.
type FakeContext struct {
	pcm      []byte
	realtime bool

	SystemErr     error
	SystemNoAudio bool
	MicErr        error

	mu       sync.Mutex
	captures []*FakeCapture
}

func NewFakeContext(pcm []byte, realtime bool) *FakeContext {
	return &FakeContext{pcm: pcm, realtime: realtime}
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) {
	return []DeviceInfo{{ID: "fake-mic", Name: "Fake Microphone"}, {ID: "fake-monitor", Name: "Monitor of Fake Output"}}, nil
}

func (f *FakeContext) Close() {}

func (f *FakeContext) NewCapture(device *DeviceInfo, _ CaptureConfig) (CaptureDevice, error) {
	name := "fake"
	if device != nil {
		name = device.Name
	}
	return f.newCapture(name), nil
}

func (f *FakeContext) CaptureSystem(ctx context.Context, _ CaptureConfig) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, ErrCancelled
	}
	if f.SystemErr != nil {
		return nil, f.SystemErr
	}
	if f.SystemNoAudio {
		return NewStream(&fakeVideoTrack{}), nil
	}
	return NewStream(f.newCapture("fake system")), nil
}

func (f *FakeContext) CaptureMicrophone(ctx context.Context, _ *DeviceInfo, _ CaptureConfig) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, ErrCancelled
	}
	if f.MicErr != nil {
		return nil, f.MicErr
	}
	return NewStream(f.newCapture("fake mic")), nil
}

// Captures returns every capture handed out so far, in creation order.
func (f *FakeContext) Captures() []*FakeCapture {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeCapture(nil), f.captures...)
}

func (f *FakeContext) newCapture(name string) *FakeCapture {
	c := &FakeCapture{name: name, pcm: f.pcm, realtime: f.realtime}
	f.mu.Lock()
	f.captures = append(f.captures, c)
	f.mu.Unlock()
	return c
}

type FakeCapture struct {
	endNotifier

	name     string
	pcm      []byte
	realtime bool

	mu       sync.Mutex
	cb       DataCallback
	started  bool
	stopped  bool
	stopCh   chan struct{}
	feedDone chan struct{}
}

func (f *FakeCapture) Kind() Kind { return KindAudio }

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeCapture) DeviceName() string { return f.name }

// Emit delivers pcm to the registered callback as if the device produced it.
func (f *FakeCapture) Emit(pcm []byte) {
	f.mu.Lock()
	cb := f.cb
	f.mu.Unlock()
	if cb != nil && len(pcm) > 0 {
		cb(pcm, uint32(len(pcm)/fakeBytesPerFrame))
	}
}

// End simulates the source going away on its own.
func (f *FakeCapture) End() {
	f.fire()
}

func (f *FakeCapture) Started() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

func (f *FakeCapture) Stopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

func (f *FakeCapture) Start() error {
	f.mu.Lock()
	f.started = true
	f.stopped = false
	f.stopCh = make(chan struct{})
	f.feedDone = make(chan struct{})
	stopCh, feedDone := f.stopCh, f.feedDone
	f.mu.Unlock()

	if !f.realtime || len(f.pcm) == 0 {
		close(feedDone)
		return nil
	}

	chunkBytes := fakeFrameSize * fakeBytesPerFrame
	interval := time.Duration(fakeFrameSize) * time.Second / time.Duration(SampleRate)
	go func() {
		defer close(feedDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		pos := 0
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
			}
			end := min(pos+chunkBytes, len(f.pcm))
			chunk := make([]byte, end-pos)
			copy(chunk, f.pcm[pos:end])
			f.Emit(chunk)
			pos = end
			if pos >= len(f.pcm) {
				pos = 0
			}
		}
	}()
	return nil
}

func (f *FakeCapture) Stop() {
	f.mu.Lock()
	stopCh, feedDone := f.stopCh, f.feedDone
	f.stopped = true
	f.mu.Unlock()
	if stopCh == nil {
		return
	}
	select {
	case <-stopCh:
	default:
		close(stopCh)
	}
	<-feedDone
}

func (f *FakeCapture) Close() {}

// fakeVideoTrack stands in for a screen share granted without audio.
type fakeVideoTrack struct {
	endNotifier
}

func (*fakeVideoTrack) Kind() Kind               { return KindVideo }
func (*fakeVideoTrack) Start() error             { return nil }
func (*fakeVideoTrack) Stop()                    {}
func (*fakeVideoTrack) Close()                   {}
func (*fakeVideoTrack) SetCallback(DataCallback) {}
func (*fakeVideoTrack) ClearCallback()           {}
func (*fakeVideoTrack) DeviceName() string       { return "fake screen" }
