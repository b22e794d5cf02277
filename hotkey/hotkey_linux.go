//go:build linux

package hotkey

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const inputGroupHint = "run: sudo usermod -aG input $USER, then log in again"

type evdevHotkey struct {
	combo   Combo
	keydown chan struct{}
	keyup   chan struct{}

	mu      sync.Mutex
	devices []*os.File
	closed  bool
}

// New watches every keyboard event device for combo. Reading evdev works
// under X11 and Wayland alike but needs membership in the input group.
func New(combo Combo) Hotkey {
	return &evdevHotkey{
		combo:   combo,
		keydown: make(chan struct{}, 1),
		keyup:   make(chan struct{}, 1),
	}
}

func (h *evdevHotkey) Register() error {
	paths, err := keyboards(h.combo)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			continue
		}
		h.devices = append(h.devices, f)
		go h.watch(f)
	}
	if len(h.devices) == 0 {
		return fmt.Errorf("cannot open any of %d keyboard device(s) (%s)", len(paths), inputGroupHint)
	}
	return nil
}

// watch runs until the device is closed by Unregister.
func (h *evdevHotkey) watch(f *os.File) {
	m := newMatcher(h.combo)
	buf := make([]byte, inputEventSize*16)
	for {
		n, err := f.Read(buf)
		if err != nil {
			return
		}
		for _, e := range m.feed(buf[:n]) {
			ch := h.keydown
			if e == edgeUp {
				ch = h.keyup
			}
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}
}

func (h *evdevHotkey) Unregister() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, f := range h.devices {
		f.Close()
	}
}

func (h *evdevHotkey) Keydown() <-chan struct{} { return h.keydown }
func (h *evdevHotkey) Keyup() <-chan struct{}   { return h.keyup }

// keyboards lists event devices able to produce the combo's key.
func keyboards(c Combo) ([]string, error) {
	entries, err := os.ReadDir("/dev/input")
	if err != nil {
		return nil, fmt.Errorf("scanning input devices: %w", err)
	}
	code := evdevCodes[c.Key]
	var out []string
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "event") {
			continue
		}
		caps, err := os.ReadFile(filepath.Join("/sys/class/input", e.Name(), "device", "capabilities", "key"))
		if err != nil || !hasKey(string(caps), code) {
			continue
		}
		out = append(out, filepath.Join("/dev/input", e.Name()))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no keyboard with %s found", strings.ToUpper(c.Key))
	}
	return out, nil
}

// Diagnose reports whether combo can be watched without registering it.
func Diagnose(c Combo) (string, error) {
	paths, err := keyboards(c)
	if err != nil {
		return "", err
	}
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			continue
		}
		f.Close()
		return fmt.Sprintf("%s via evdev: %d keyboard(s), opened %s", c, len(paths), p), nil
	}
	return "", fmt.Errorf("found %d keyboard(s) but cannot open any (%s)", len(paths), inputGroupHint)
}
