package encoder

import (
	"strings"
	"time"
)

const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16
	BlockSize     = 4096
)

type Encoder interface {
	EncodeBlock(block []int16) error
	Close() error
	Bytes() []byte
	TotalFrames() uint64
	AddEncodeTime(d time.Duration)
	EncodeTime() time.Duration
}

// Format describes one output encoding. Finalize, when set, rewrites the
// assembled payload once recording has stopped (e.g. to patch lengths that
// were unknown while streaming).
type Format struct {
	Name      string
	MIMEType  string
	Extension string
	New       func() (Encoder, error)
	Finalize  func(payload []byte) []byte
}

var (
	FLAC = Format{Name: "flac", MIMEType: "audio/flac", Extension: "flac", New: func() (Encoder, error) { return NewFlac() }}
	WAV  = Format{Name: "wav", MIMEType: "audio/wav", Extension: "wav", New: func() (Encoder, error) { return NewWav(), nil }, Finalize: PatchWavHeader}
)

// Fallback is always available and is used when no preference matches.
var Fallback = WAV

var formats = []Format{FLAC, WAV}

// Lookup finds a supported format by name ("flac") or MIME type ("audio/flac").
func Lookup(pref string) (Format, bool) {
	pref = strings.ToLower(strings.TrimSpace(pref))
	for _, f := range formats {
		if pref == f.Name || pref == f.MIMEType {
			return f, true
		}
	}
	return Format{}, false
}

// Negotiate returns the first supported format in prefs, or Fallback.
// fellBack reports whether none of prefs could be honored.
func Negotiate(prefs []string) (f Format, fellBack bool) {
	for _, p := range prefs {
		if f, ok := Lookup(p); ok {
			return f, false
		}
	}
	return Fallback, len(prefs) > 0
}

// Extension maps a MIME type to a file extension. Container types the
// recorder never produces itself are still mapped so imported payloads get
// sensible names.
func Extension(mime string) string {
	base, _, _ := strings.Cut(strings.ToLower(mime), ";")
	switch strings.TrimSpace(base) {
	case "audio/flac", "audio/x-flac":
		return "flac"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return "wav"
	case "audio/mpeg", "audio/mp3":
		return "mp3"
	case "audio/mp4", "video/mp4":
		return "mp4"
	case "audio/ogg":
		return "ogg"
	default:
		return "webm"
	}
}

// MIMEType is the inverse of Extension for files read from disk.
func MIMEType(ext string) string {
	switch strings.TrimPrefix(strings.ToLower(ext), ".") {
	case "flac":
		return "audio/flac"
	case "wav":
		return "audio/wav"
	case "mp3":
		return "audio/mpeg"
	case "mp4", "m4a":
		return "audio/mp4"
	case "ogg":
		return "audio/ogg"
	default:
		return "audio/webm"
	}
}
