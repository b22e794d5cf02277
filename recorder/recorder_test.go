package recorder

import (
	"bytes"
	"encoding/binary"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/mewkiz/flac"

	"meetrec/audio"
	"meetrec/encoder"
	"meetrec/mixer"
)

type chunks struct {
	mu  sync.Mutex
	all [][]byte
}

func (c *chunks) add(b []byte) {
	c.mu.Lock()
	c.all = append(c.all, b)
	c.mu.Unlock()
}

func (c *chunks) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.all)
}

func (c *chunks) joined() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bytes.Join(c.all, nil)
}

func setup(t *testing.T) (*audio.FakeCapture, *mixer.Graph) {
	t.Helper()
	f := audio.NewFakeContext(nil, false)
	dev, err := f.NewCapture(nil, audio.DefaultConfig(audio.SystemConstraints))
	if err != nil {
		t.Fatal(err)
	}
	src := dev.(*audio.FakeCapture)
	g := mixer.New()
	if err := g.Connect(src); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(g.Close)
	return src, g
}

func tone(samples int) []byte {
	out := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(i%2000-1000)))
	}
	return out
}

func TestRecorderFlac(t *testing.T) {
	src, g := setup(t)
	var c chunks
	r, err := Start(g.Destination(), Options{Preferences: []string{"audio/webm", "flac"}, OnChunk: c.add})
	if err != nil {
		t.Fatal(err)
	}
	if r.FellBack() {
		t.Error("flac is supported, should not fall back")
	}

	src.Emit(tone(encoder.BlockSize*2 + 100))

	mime, err := r.Stop()
	if err != nil {
		t.Fatal(err)
	}
	if mime != "audio/flac" {
		t.Errorf("mime = %q, want audio/flac", mime)
	}
	payload := c.joined()
	if string(payload[:4]) != "fLaC" {
		t.Fatal("payload does not start with FLAC magic")
	}
	if got := r.Stats().Frames; got != encoder.BlockSize*2+100 {
		t.Errorf("frames = %d, want %d", got, encoder.BlockSize*2+100)
	}
	if g.Destination().Subscribers() != 0 {
		t.Error("recorder still subscribed after Stop")
	}

	mime2, _ := r.Stop()
	if mime2 != mime {
		t.Error("second Stop returned a different mime")
	}
}

func TestRecorderFlacChunksDecode(t *testing.T) {
	src, g := setup(t)
	var c chunks
	r, err := Start(g.Destination(), Options{Preferences: []string{"flac"}, Timeslice: time.Millisecond, OnChunk: c.add})
	if err != nil {
		t.Fatal(err)
	}

	// Several blocks apart so the timeslice flushes between frames.
	pcm := tone(encoder.BlockSize*3 + 123)
	for i := 0; i < 3; i++ {
		src.Emit(pcm[i*encoder.BlockSize*2 : (i+1)*encoder.BlockSize*2])
		before := c.count()
		deadline := time.Now().Add(2 * time.Second)
		for c.count() == before && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
	}
	src.Emit(pcm[encoder.BlockSize*3*2:])
	if _, err := r.Stop(); err != nil {
		t.Fatal(err)
	}
	if c.count() < 3 {
		t.Fatalf("got %d chunk(s), want the stream split across at least 3", c.count())
	}

	stream, err := flac.New(bytes.NewReader(c.joined()))
	if err != nil {
		t.Fatalf("decoding joined chunks: %v", err)
	}
	var got []int16
	for {
		f, err := stream.ParseNext()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("ParseNext: %v", err)
		}
		for _, s := range f.Subframes[0].Samples {
			got = append(got, int16(s))
		}
	}
	if len(got) != len(pcm)/2 {
		t.Fatalf("decoded %d samples, want %d", len(got), len(pcm)/2)
	}
	for i, s := range got {
		if want := int16(binary.LittleEndian.Uint16(pcm[i*2:])); s != want {
			t.Fatalf("sample %d = %d, want %d", i, s, want)
		}
	}
}

func TestRecorderFallbackWav(t *testing.T) {
	src, g := setup(t)
	var c chunks
	r, err := Start(g.Destination(), Options{Preferences: []string{"audio/mp4"}, OnChunk: c.add})
	if err != nil {
		t.Fatal(err)
	}
	if !r.FellBack() {
		t.Error("expected fallback")
	}
	src.Emit(tone(10))
	mime, err := r.Stop()
	if err != nil {
		t.Fatal(err)
	}
	if mime != "audio/wav" {
		t.Errorf("mime = %q, want audio/wav", mime)
	}
	if n := len(c.joined()); n != encoder.WavHeaderSize+20 {
		t.Errorf("payload = %d bytes, want %d", n, encoder.WavHeaderSize+20)
	}
}

func TestRecorderTimeslice(t *testing.T) {
	src, g := setup(t)
	var c chunks
	r, err := Start(g.Destination(), Options{Preferences: []string{"wav"}, Timeslice: 5 * time.Millisecond, OnChunk: c.add})
	if err != nil {
		t.Fatal(err)
	}

	src.Emit(tone(encoder.BlockSize))
	deadline := time.Now().Add(2 * time.Second)
	for c.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if c.count() == 0 {
		t.Fatal("no chunk flushed before Stop")
	}

	src.Emit(tone(encoder.BlockSize))
	r.Stop()
	if n := len(c.joined()); n != encoder.WavHeaderSize+encoder.BlockSize*4 {
		t.Errorf("payload = %d bytes, want %d", n, encoder.WavHeaderSize+encoder.BlockSize*4)
	}
}

func TestRecorderPause(t *testing.T) {
	src, g := setup(t)
	var c chunks
	r, err := Start(g.Destination(), Options{Preferences: []string{"wav"}, OnChunk: c.add})
	if err != nil {
		t.Fatal(err)
	}
	src.Emit(tone(4))
	r.Pause()
	src.Emit(tone(100))
	r.Resume()
	src.Emit(tone(4))
	r.Stop()

	if got := r.Stats().Frames; got != 8 {
		t.Errorf("frames = %d, want 8", got)
	}
}
