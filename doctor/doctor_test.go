package doctor

import (
	"encoding/binary"
	"math"
	"strings"
	"testing"
	"time"

	"meetrec/audio"
	"meetrec/encoder"
)

func pcm(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func TestPeakOf(t *testing.T) {
	tests := []struct {
		samples []int16
		want    float64
	}{
		{nil, 0},
		{[]int16{0, 0}, 0},
		{[]int16{100, -16384, 50}, 0.5},
		{[]int16{-32768}, 1},
	}
	for _, tt := range tests {
		if got := peakOf(tt.samples); got != tt.want {
			t.Errorf("peakOf(%v) = %v, want %v", tt.samples, got, tt.want)
		}
	}
}

func TestLevelBar(t *testing.T) {
	got := levelBar(0.5, 10)
	if !strings.HasPrefix(got, "[#####-----]") {
		t.Errorf("levelBar(0.5) = %q", got)
	}
	if !strings.Contains(got, "-6.0 dBFS") {
		t.Errorf("levelBar(0.5) = %q, want -6.0 dBFS", got)
	}
	if got := levelBar(0, 4); !strings.Contains(got, "[----]") || !strings.Contains(got, "-Inf") {
		t.Errorf("levelBar(0) = %q", got)
	}
	if got := levelBar(2, 4); !strings.HasPrefix(got, "[####]") {
		t.Errorf("levelBar clamps above 1, got %q", got)
	}
}

func TestRecordClip(t *testing.T) {
	samples := make([]int16, encoder.SampleRate/4)
	for i := range samples {
		samples[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/encoder.SampleRate))
	}

	fc := audio.NewFakeContext(pcm(samples), true)
	dev, err := fc.NewCapture(nil, audio.DefaultConfig(audio.MicrophoneConstraints))
	if err != nil {
		t.Fatal(err)
	}
	capture := dev.(*audio.FakeCapture)

	cl, err := recordClip(capture, timer(300*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	if cl.MIMEType != encoder.FLAC.MIMEType {
		t.Errorf("MIMEType = %q", cl.MIMEType)
	}
	if cl.Frames == 0 {
		t.Error("expected captured frames")
	}
	if len(cl.Data) < 4 || string(cl.Data[:4]) != "fLaC" {
		t.Errorf("payload is not flac")
	}
	if cl.Peak < 0.2 || cl.Peak > 0.25 {
		t.Errorf("Peak = %v, want ~0.244", cl.Peak)
	}
	if !capture.Stopped() {
		t.Error("track should be stopped after the clip")
	}
	if !strings.Contains(cl.describe(), "audio/flac") {
		t.Errorf("describe() = %q", cl.describe())
	}
}

func TestRecordClipSilentTrack(t *testing.T) {
	fc := audio.NewFakeContext(nil, false)
	dev, _ := fc.NewCapture(nil, audio.DefaultConfig(audio.SystemConstraints))
	stop := make(chan struct{})
	close(stop)
	if _, err := recordClip(dev.(*audio.FakeCapture), stop); err == nil {
		t.Error("expected an error when nothing was captured")
	}
}
