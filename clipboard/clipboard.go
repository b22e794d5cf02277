package clipboard

import (
	"errors"
	"strings"

	cb "github.com/atotto/clipboard"
)

var ErrEmpty = errors.New("clipboard: nothing to copy")

// Unsupported reports whether no clipboard utility is available (e.g. no
// xclip/xsel/wl-copy on Linux).
func Unsupported() bool {
	return cb.Unsupported
}

func Read() (string, error) {
	return cb.ReadAll()
}

func Copy(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmpty
	}
	return cb.WriteAll(text)
}
