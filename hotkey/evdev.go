package hotkey

import (
	"encoding/binary"
	"strconv"
	"strings"
)

const (
	evKey      = 1
	keyPress   = 1
	keyRelease = 0

	keyLCtrl  = 29
	keyRCtrl  = 97
	keyLShift = 42
	keyRShift = 54
	keyLAlt   = 56
	keyRAlt   = 100
	keyLMeta  = 125
	keyRMeta  = 126
)

// struct input_event on 64-bit: 16 bytes of timeval, then type, code, value.
const inputEventSize = 24

// matcher tracks modifier state across one keyboard's event stream. Auto
// repeat of the key (value 2) does not produce extra presses.
type matcher struct {
	combo Combo
	code  uint16

	ctrl, shift, alt, super bool
	held                    bool
}

func newMatcher(c Combo) *matcher {
	return &matcher{combo: c, code: evdevCodes[c.Key]}
}

type edge int

const (
	edgeNone edge = iota
	edgeDown
	edgeUp
)

// feed decodes every whole input_event in buf and returns the edges seen.
func (m *matcher) feed(buf []byte) []edge {
	var edges []edge
	for i := 0; i+inputEventSize <= len(buf); i += inputEventSize {
		typ := binary.LittleEndian.Uint16(buf[i+16:])
		code := binary.LittleEndian.Uint16(buf[i+18:])
		value := int32(binary.LittleEndian.Uint32(buf[i+20:]))
		if typ != evKey {
			continue
		}
		if e := m.event(code, value); e != edgeNone {
			edges = append(edges, e)
		}
	}
	return edges
}

func (m *matcher) event(code uint16, value int32) edge {
	pressed := value == keyPress
	released := value == keyRelease
	track := func(held *bool) {
		*held = pressed || (!released && *held)
	}

	switch code {
	case keyLCtrl, keyRCtrl:
		track(&m.ctrl)
	case keyLShift, keyRShift:
		track(&m.shift)
	case keyLAlt, keyRAlt:
		track(&m.alt)
	case keyLMeta, keyRMeta:
		track(&m.super)
	case m.code:
		if pressed && !m.held && m.modifiersHeld() {
			m.held = true
			return edgeDown
		}
		if released && m.held {
			m.held = false
			return edgeUp
		}
	}
	return edgeNone
}

// modifiersHeld matches exactly, so ctrl+r does not fire on ctrl+shift+r.
func (m *matcher) modifiersHeld() bool {
	c := m.combo
	return m.ctrl == c.Ctrl && m.shift == c.Shift && m.alt == c.Alt && m.super == c.Super
}

// hasKey reports whether a sysfs capabilities/key bitmap lists code. The
// bitmap is hex words of 64 bits, most significant word first.
func hasKey(caps string, code uint16) bool {
	words := strings.Fields(caps)
	idx := int(code) / 64
	if idx >= len(words) {
		return false
	}
	w, err := strconv.ParseUint(words[len(words)-1-idx], 16, 64)
	if err != nil {
		return false
	}
	return w&(1<<(code%64)) != 0
}
