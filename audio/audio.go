package audio

import (
	"context"
	"errors"
	"strings"
	"sync"
)

const (
	SampleRate = 16000
	Channels   = 1
)

var (
	// ErrPermissionDenied is returned when the platform refuses a capture request.
	ErrPermissionDenied = errors.New("audio: capture permission denied")
	// ErrCancelled is returned when the user dismisses a capture prompt.
	ErrCancelled = errors.New("audio: capture cancelled")
	ErrNoDevice  = errors.New("audio: no capture device")
)

var btKeywords = []string{
	"airpods", "beats", "bose", "wh-1000", "wf-1000",
	"sony wh-", "sony wf-",
	"jabra", "galaxy buds", "pixel buds", "powerbeats",
	"jbl ", "sennheiser momentum", "plantronics",
	"bluetooth", " bt ", " bt)", " bt]",
}

func IsBluetooth(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range btKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

var loopbackKeywords = []string{"blackhole", "loopback", "soundflower", "stereo mix", "monitor of"}

// IsLoopback reports whether a capture device name looks like a system audio loopback.
func IsLoopback(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range loopbackKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

type DataCallback func(data []byte, frameCount uint32)

// Constraints mirror the processing switches a capture request can ask for.
// System audio is captured with all of them off, the microphone with all on.
type Constraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

var (
	SystemConstraints     = Constraints{}
	MicrophoneConstraints = Constraints{EchoCancellation: true, NoiseSuppression: true, AutoGainControl: true}
)

type CaptureConfig struct {
	SampleRate  uint32
	Channels    uint32
	Constraints Constraints
}

func DefaultConfig(c Constraints) CaptureConfig {
	return CaptureConfig{SampleRate: SampleRate, Channels: Channels, Constraints: c}
}

type DeviceInfo struct {
	ID   string // opaque platform-specific identifier
	Name string
}

type Context interface {
	Devices() ([]DeviceInfo, error)
	NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error)
	// CaptureSystem requests system/display audio. A granted request may still
	// return a stream without audio tracks; callers must check AudioTracks.
	CaptureSystem(ctx context.Context, config CaptureConfig) (*Stream, error)
	CaptureMicrophone(ctx context.Context, device *DeviceInfo, config CaptureConfig) (*Stream, error)
	Close()
}

type CaptureDevice interface {
	Start() error
	Stop()
	Close()
	SetCallback(cb DataCallback)
	ClearCallback()
	DeviceName() string
}

type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Track is a capture device that can end on its own, e.g. when the user stops
// sharing from the desktop or the source is unplugged.
type Track interface {
	CaptureDevice
	Kind() Kind
	// OnEnded registers fn to run once if the track ends without Stop being
	// called. The returned func removes the registration.
	OnEnded(fn func()) (unsubscribe func())
}

type Stream struct {
	mu     sync.Mutex
	tracks []Track
}

func NewStream(tracks ...Track) *Stream {
	return &Stream{tracks: tracks}
}

func (s *Stream) Tracks() []Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Track(nil), s.tracks...)
}

func (s *Stream) AudioTracks() []Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Track
	for _, t := range s.tracks {
		if t.Kind() == KindAudio {
			out = append(out, t)
		}
	}
	return out
}

// Stop stops and releases every track. Safe to call more than once.
func (s *Stream) Stop() {
	s.mu.Lock()
	tracks := s.tracks
	s.tracks = nil
	s.mu.Unlock()
	for _, t := range tracks {
		t.ClearCallback()
		t.Stop()
		t.Close()
	}
}

// endNotifier is embedded by track implementations to fan out end events.
type endNotifier struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]func()
	fired  bool
}

// OnEnded runs fn once when the track ends. A track that already ended runs
// fn before OnEnded returns.
func (n *endNotifier) OnEnded(fn func()) func() {
	n.mu.Lock()
	if n.fired {
		n.mu.Unlock()
		fn()
		return func() {}
	}
	defer n.mu.Unlock()
	if n.subs == nil {
		n.subs = make(map[int]func())
	}
	id := n.nextID
	n.nextID++
	n.subs[id] = fn
	return func() {
		n.mu.Lock()
		delete(n.subs, id)
		n.mu.Unlock()
	}
}

func (n *endNotifier) fire() {
	n.mu.Lock()
	if n.fired {
		n.mu.Unlock()
		return
	}
	n.fired = true
	subs := make([]func(), 0, len(n.subs))
	for _, fn := range n.subs {
		subs = append(subs, fn)
	}
	n.subs = nil
	n.mu.Unlock()
	for _, fn := range subs {
		fn()
	}
}
