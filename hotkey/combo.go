package hotkey

import (
	"fmt"
	"strings"
)

// Default is the combination used when none is configured.
const Default = "ctrl+shift+r"

// Combo is a key plus the modifiers that must be held with it.
type Combo struct {
	Ctrl, Shift, Alt, Super bool
	// Key is lower case: a-z, 0-9, f1-f12 or space.
	Key string
}

// Parse reads combinations like "ctrl+shift+r" or "Alt+F9". At least one
// modifier is required so plain typing never toggles recording.
func Parse(s string) (Combo, error) {
	var c Combo
	parts := strings.Split(strings.ToLower(strings.TrimSpace(s)), "+")
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if i == len(parts)-1 {
			if _, ok := evdevCodes[p]; !ok {
				return Combo{}, fmt.Errorf("hotkey %q: unsupported key %q", s, p)
			}
			c.Key = p
			break
		}
		switch p {
		case "ctrl", "control":
			c.Ctrl = true
		case "shift":
			c.Shift = true
		case "alt", "option", "opt":
			c.Alt = true
		case "super", "cmd", "command", "win", "meta":
			c.Super = true
		default:
			return Combo{}, fmt.Errorf("hotkey %q: unknown modifier %q", s, p)
		}
	}
	if !c.Ctrl && !c.Shift && !c.Alt && !c.Super {
		return Combo{}, fmt.Errorf("hotkey %q: needs at least one modifier", s)
	}
	return c, nil
}

// MustParse is Parse for combinations known to be valid.
func MustParse(s string) Combo {
	c, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Combo) String() string {
	var parts []string
	if c.Ctrl {
		parts = append(parts, "Ctrl")
	}
	if c.Shift {
		parts = append(parts, "Shift")
	}
	if c.Alt {
		parts = append(parts, "Alt")
	}
	if c.Super {
		parts = append(parts, "Super")
	}
	key := strings.ToUpper(c.Key)
	if c.Key == "space" {
		key = "Space"
	}
	return strings.Join(append(parts, key), "+")
}

// Linux input-event-codes for the supported keys.
var evdevCodes = map[string]uint16{
	"1": 2, "2": 3, "3": 4, "4": 5, "5": 6, "6": 7, "7": 8, "8": 9, "9": 10, "0": 11,
	"q": 16, "w": 17, "e": 18, "r": 19, "t": 20, "y": 21, "u": 22, "i": 23, "o": 24, "p": 25,
	"a": 30, "s": 31, "d": 32, "f": 33, "g": 34, "h": 35, "j": 36, "k": 37, "l": 38,
	"z": 44, "x": 45, "c": 46, "v": 47, "b": 48, "n": 49, "m": 50,
	"space": 57,
	"f1": 59, "f2": 60, "f3": 61, "f4": 62, "f5": 63, "f6": 64, "f7": 65, "f8": 66, "f9": 67, "f10": 68,
	"f11": 87, "f12": 88,
}
