package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
)

func TestIsLoopback(t *testing.T) {
	for _, tt := range []struct {
		name string
		want bool
	}{
		{"BlackHole 2ch", true},
		{"Monitor of Built-in Audio Analog Stereo", true},
		{"Stereo Mix (Realtek Audio)", true},
		{"MacBook Pro Microphone", false},
		{"Jabra Evolve 65", false},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsLoopback(tt.name); got != tt.want {
				t.Errorf("IsLoopback(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestStreamAudioTracks(t *testing.T) {
	s := NewStream(&fakeVideoTrack{}, &FakeCapture{name: "a"})
	if n := len(s.Tracks()); n != 2 {
		t.Fatalf("Tracks() = %d, want 2", n)
	}
	audio := s.AudioTracks()
	if len(audio) != 1 || audio[0].DeviceName() != "a" {
		t.Fatalf("AudioTracks() = %v, want the single audio track", audio)
	}

	s.Stop()
	s.Stop()
	if len(s.Tracks()) != 0 {
		t.Error("tracks should be released after Stop")
	}
}

func TestOnEndedUnsubscribe(t *testing.T) {
	c := &FakeCapture{}
	var a, b int
	unsubA := c.OnEnded(func() { a++ })
	c.OnEnded(func() { b++ })
	unsubA()

	c.End()
	c.End()

	if a != 0 {
		t.Errorf("unsubscribed handler ran %d times", a)
	}
	if b != 1 {
		t.Errorf("handler ran %d times, want exactly 1", b)
	}
}

func TestOnEndedAfterEnd(t *testing.T) {
	c := &FakeCapture{}
	c.End()

	var n int
	unsub := c.OnEnded(func() { n++ })
	unsub()
	c.End()

	if n != 1 {
		t.Errorf("late handler ran %d times, want exactly 1", n)
	}
}

func pcm16(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func TestApplyConstraints(t *testing.T) {
	read := func(b []byte, i int) int16 { return int16(binary.LittleEndian.Uint16(b[i*2:])) }

	t.Run("system untouched", func(t *testing.T) {
		data := pcm16(10, 1000, -20000)
		applyConstraints(data, SystemConstraints)
		if read(data, 0) != 10 || read(data, 1) != 1000 || read(data, 2) != -20000 {
			t.Errorf("system audio was modified: %v", data)
		}
	})

	t.Run("microphone gated and amplified", func(t *testing.T) {
		data := pcm16(10, 1000, -20000)
		applyConstraints(data, MicrophoneConstraints)
		if got := read(data, 0); got != 0 {
			t.Errorf("sample below gate = %d, want 0", got)
		}
		if got := read(data, 1); got != 1000*autoGain {
			t.Errorf("amplified sample = %d, want %d", got, 1000*autoGain)
		}
		if got := read(data, 2); got != -32768 {
			t.Errorf("clipped sample = %d, want -32768", got)
		}
	})
}

func TestFakeContextFailures(t *testing.T) {
	ctx := context.Background()

	f := NewFakeContext(nil, false)
	f.SystemErr = ErrPermissionDenied
	if _, err := f.CaptureSystem(ctx, DefaultConfig(SystemConstraints)); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("CaptureSystem err = %v, want ErrPermissionDenied", err)
	}

	f = NewFakeContext(nil, false)
	f.SystemNoAudio = true
	s, err := f.CaptureSystem(ctx, DefaultConfig(SystemConstraints))
	if err != nil {
		t.Fatal(err)
	}
	if len(s.AudioTracks()) != 0 {
		t.Error("expected a stream without audio tracks")
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := f.CaptureMicrophone(cancelled, nil, DefaultConfig(MicrophoneConstraints)); !errors.Is(err, ErrCancelled) {
		t.Errorf("CaptureMicrophone err = %v, want ErrCancelled", err)
	}
}

func TestFakeCaptureEmit(t *testing.T) {
	c := &FakeCapture{}
	var frames uint32
	c.SetCallback(func(_ []byte, n uint32) { frames += n })
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	c.Emit(pcm16(1, 2, 3))
	c.Stop()
	c.ClearCallback()
	c.Emit(pcm16(4))

	if frames != 3 {
		t.Errorf("frames = %d, want 3", frames)
	}
	if !c.Started() || !c.Stopped() {
		t.Error("expected capture to report started and stopped")
	}
}
