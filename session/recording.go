package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"meetrec/encoder"
)

type Recording struct {
	ID        string
	Name      string
	MIMEType  string
	Data      []byte
	Handle    *Handle
	CreatedAt time.Time
	Duration  int // whole seconds

	Transcription string
	Summary       string
}

func (r *Recording) Analyzed() bool {
	return r.Transcription != "" || r.Summary != ""
}

func newRecording(data []byte, mimeType string, duration int, now time.Time) *Recording {
	name := FileName(now, mimeType)
	return &Recording{
		ID:        uuid.NewString(),
		Name:      name,
		MIMEType:  mimeType,
		Data:      data,
		Handle:    &Handle{data: data, name: name},
		CreatedAt: now,
		Duration:  duration,
	}
}

// FileName builds Meeting_<YYYY-MM-DD>_<HH><MM>.<ext> from the creation time
// and the negotiated MIME type.
func FileName(t time.Time, mimeType string) string {
	return fmt.Sprintf("Meeting_%s_%s.%s", t.Format("2006-01-02"), t.Format("1504"), encoder.Extension(mimeType))
}

// Handle gives players a file path for a recording. The file is written on
// first use and removed by Release.
type Handle struct {
	data []byte
	name string

	mu       sync.Mutex
	path     string
	released bool
}

var ErrReleased = errors.New("session: recording handle released")

func (h *Handle) Path() (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return "", ErrReleased
	}
	if h.path != "" {
		return h.path, nil
	}
	dir, err := os.MkdirTemp("", "meetrec-")
	if err != nil {
		return "", err
	}
	p := filepath.Join(dir, h.name)
	if err := os.WriteFile(p, h.data, 0600); err != nil {
		os.RemoveAll(dir)
		return "", err
	}
	h.path = p
	return p, nil
}

func (h *Handle) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return
	}
	h.released = true
	if h.path != "" {
		os.RemoveAll(filepath.Dir(h.path))
		h.path = ""
	}
}

func (h *Handle) Released() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}
