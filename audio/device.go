package audio

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

// Microphones returns the capture devices that are not system audio loopbacks.
func Microphones(ctx Context) ([]DeviceInfo, error) {
	devices, err := ctx.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}
	var mics []DeviceInfo
	for _, d := range devices {
		if !IsLoopback(d.Name) {
			mics = append(mics, d)
		}
	}
	return mics, nil
}

// FindMicrophone returns the microphone with the given name, or nil.
func FindMicrophone(ctx Context, name string) *DeviceInfo {
	if name == "" {
		return nil
	}
	mics, err := Microphones(ctx)
	if err != nil {
		return nil
	}
	for i := range mics {
		if mics[i].Name == name {
			return &mics[i]
		}
	}
	return nil
}

// SelectDevice presents an interactive microphone picker and returns the
// selected device. With a single microphone it returns it without prompting.
func SelectDevice(ctx Context) (*DeviceInfo, error) {
	devices, err := Microphones(ctx)
	if err != nil {
		return nil, err
	}

	if len(devices) == 0 {
		return nil, ErrNoDevice
	}

	if len(devices) == 1 {
		return &devices[0], nil
	}

	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("setting raw mode: %w", err)
	}

	defer term.Restore(fd, oldState)

	cursor := 0
	renderList := func() {
		fmt.Print("\r\x1b[J")
		fmt.Print("Select microphone to mix with system audio (↑/↓, Enter to confirm):\r\n\r\n")
		for i, d := range devices {
			btTag := ""
			if IsBluetooth(d.Name) {
				btTag = " \x1b[33m[bluetooth: mic switches headset to low quality]\x1b[0m"
			}
			if i == cursor {
				fmt.Printf("  \x1b[1;36m▶ %s%s\x1b[0m\r\n", d.Name, btTag)
			} else {
				fmt.Printf("    %s%s\r\n", d.Name, btTag)
			}
		}
	}

	renderList()

	buf := make([]byte, 3)
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("reading input: %w", err)
		}

		if n == 1 {
			switch buf[0] {
			case 13: // Enter
				fmt.Print("\r\n")
				term.Restore(fd, oldState)
				return &devices[cursor], nil
			case 3, 'q': // Ctrl+C
				fmt.Print("\r\n")
				return nil, ErrCancelled
			case 'j': // vim down
				if cursor < len(devices)-1 {
					cursor++
				}
			case 'k': // vim up
				if cursor > 0 {
					cursor--
				}
			}
		} else if n == 3 && buf[0] == 0x1b && buf[1] == '[' {
			switch buf[2] {
			case 'A': // Up arrow
				if cursor > 0 {
					cursor--
				}
			case 'B': // Down arrow
				if cursor < len(devices)-1 {
					cursor++
				}
			}
		}

		lines := len(devices) + 2
		fmt.Printf("\x1b[%dA", lines)
		renderList()
	}
}
