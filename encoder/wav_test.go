package encoder

import (
	"encoding/binary"
	"testing"
)

func TestWavEncoder(t *testing.T) {
	enc := NewWav()
	if err := enc.EncodeBlock([]int16{1, -1, 256}); err != nil {
		t.Fatal(err)
	}
	enc.Close()

	out := PatchWavHeader(append([]byte(nil), enc.Bytes()...))
	if len(out) != WavHeaderSize+6 {
		t.Fatalf("len = %d, want %d", len(out), WavHeaderSize+6)
	}
	if string(out[0:4]) != "RIFF" || string(out[8:12]) != "WAVE" || string(out[36:40]) != "data" {
		t.Fatal("malformed header")
	}
	if got := binary.LittleEndian.Uint32(out[40:44]); got != 6 {
		t.Errorf("data size = %d, want 6", got)
	}
	if got := binary.LittleEndian.Uint32(out[4:8]); got != 36+6 {
		t.Errorf("riff size = %d, want %d", got, 36+6)
	}
	if got := binary.LittleEndian.Uint32(out[24:28]); got != SampleRate {
		t.Errorf("sample rate = %d", got)
	}
	if got := int16(binary.LittleEndian.Uint16(out[WavHeaderSize+2:])); got != -1 {
		t.Errorf("second sample = %d, want -1", got)
	}
	if enc.TotalFrames() != 3 {
		t.Errorf("TotalFrames = %d, want 3", enc.TotalFrames())
	}
}

func TestPatchWavHeaderShort(t *testing.T) {
	in := []byte("RIFF")
	if out := PatchWavHeader(in); string(out) != "RIFF" {
		t.Errorf("short payload modified: %q", out)
	}
}

func TestNegotiate(t *testing.T) {
	tests := []struct {
		name     string
		prefs    []string
		want     string
		fellBack bool
	}{
		{"first supported", []string{"flac", "wav"}, "audio/flac", false},
		{"skips unsupported", []string{"audio/webm;codecs=opus", "audio/mp4", "wav"}, "audio/wav", false},
		{"mime form", []string{"audio/flac"}, "audio/flac", false},
		{"none supported", []string{"audio/mp4", "audio/webm"}, "audio/wav", true},
		{"no preference", nil, "audio/wav", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, fellBack := Negotiate(tt.prefs)
			if f.MIMEType != tt.want || fellBack != tt.fellBack {
				t.Errorf("Negotiate(%v) = %s, %v; want %s, %v", tt.prefs, f.MIMEType, fellBack, tt.want, tt.fellBack)
			}
		})
	}
}

func TestExtension(t *testing.T) {
	for mime, want := range map[string]string{
		"audio/flac":             "flac",
		"audio/wav":              "wav",
		"audio/mp4":              "mp4",
		"audio/webm;codecs=opus": "webm",
		"":                       "webm",
	} {
		if got := Extension(mime); got != want {
			t.Errorf("Extension(%q) = %q, want %q", mime, got, want)
		}
	}
	if got := MIMEType(".FLAC"); got != "audio/flac" {
		t.Errorf("MIMEType(.FLAC) = %q", got)
	}
}
