package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"meetrec/analyzer"
	"meetrec/audio"
	"meetrec/beep"
	"meetrec/config"
	"meetrec/hotkey"
	"meetrec/log"
	"meetrec/session"
	"meetrec/shutdown"
)

type recorderOptions struct {
	configPath string
	setup      bool
	quiet      bool
	noHotkey   bool
}

var (
	tuiProgram *tea.Program
	tuiMu      sync.Mutex
)

// sendToTUI delivers msg to the running program, if any. Safe from any
// goroutine.
func sendToTUI(msg tea.Msg) {
	tuiMu.Lock()
	p := tuiProgram
	tuiMu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

func runRecorder(cfg config.Config, opts recorderOptions) error {
	if opts.quiet || opts.noHotkey {
		beep.Disable()
	}
	go beep.Init()
	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()

	actx, err := audio.NewContext()
	if err != nil {
		log.Errorf("audio context init error: %v", err)
		return fmt.Errorf("initializing audio: %w", err)
	}
	defer actx.Close()

	mic := audio.FindMicrophone(actx, cfg.Microphone)
	if cfg.Microphone != "" && mic == nil {
		log.Warnf("configured microphone %q not found, using default", cfg.Microphone)
	}
	if opts.setup && cfg.IncludeMicrophone {
		mic = setupMicrophone(actx, &cfg, opts.configPath, mic)
	}

	an, err := analyzer.New(cfg.Analyzer())
	if err != nil {
		return err
	}

	ctrl := session.New(session.Options{
		Audio:    actx,
		Analyzer: an,
		Sources: session.Sources{
			System:     cfg.IncludeSystem,
			Microphone: cfg.IncludeMicrophone,
		},
		Microphone: mic,
		Encodings:  cfg.Encodings,
		Timeslice:  cfg.ChunkInterval.Duration,
		OnChange:   func() { sendToTUI(changedMsg{}) },
	})
	defer ctrl.Close()

	combo := cfg.HotkeyCombo()
	m := newTUIModel(ctrl, tuiConfig{
		exportDir:  cfg.ExportDir,
		provider:   an.Name(),
		hasKey:     cfg.APIKey() != "",
		microphone: micLabel(cfg, mic),
	})
	if !opts.noHotkey {
		m.cfg.hotkey = combo.String()
	}

	if !opts.noHotkey {
		stopHotkey, err := startHotkey(combo)
		if err != nil {
			log.Warnf("global hotkey unavailable: %v", err)
			m.status = "global hotkey unavailable: " + err.Error()
			m.statusErr = true
		} else {
			defer stopHotkey()
		}
	}

	tuiMu.Lock()
	tuiProgram = tea.NewProgram(m, tea.WithAltScreen())
	p := tuiProgram
	tuiMu.Unlock()
	defer func() {
		tuiMu.Lock()
		tuiProgram = nil
		tuiMu.Unlock()
	}()

	stopSignals := shutdown.OnSignal(p.Quit)
	defer stopSignals()

	if _, err := p.Run(); err != nil {
		log.Errorf("TUI error: %v", err)
		return err
	}
	return nil
}

// startHotkey forwards presses of combo to the TUI.
func startHotkey(combo hotkey.Combo) (stop func(), err error) {
	hk := hotkey.New(combo)
	if err := hk.Register(); err != nil {
		return nil, err
	}
	toggle := hotkey.NewToggle(hk)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-toggle.C():
				sendToTUI(hotkeyMsg{})
			}
		}
	}()
	return func() {
		close(done)
		toggle.Close()
		hk.Unregister()
	}, nil
}

// setupMicrophone runs the interactive picker and persists the choice.
// Any failure keeps current.
func setupMicrophone(actx audio.Context, cfg *config.Config, path string, current *audio.DeviceInfo) *audio.DeviceInfo {
	dev, err := audio.SelectDevice(actx)
	switch {
	case errors.Is(err, audio.ErrCancelled):
		return current
	case err != nil:
		log.Warnf("device selection failed: %v", err)
		fmt.Printf("Warning: device selection failed: %v\n", err)
		fmt.Println("Falling back to default device")
		return current
	}
	fmt.Printf("Using microphone: %s\n", dev.Name)
	cfg.Microphone = dev.Name
	if path != "" {
		if err := config.Save(path, *cfg); err != nil {
			log.Warnf("saving config: %v", err)
			fmt.Printf("Warning: could not save config: %v\n", err)
		}
	}
	return dev
}

func micLabel(cfg config.Config, mic *audio.DeviceInfo) string {
	if !cfg.IncludeMicrophone {
		return "off"
	}
	name := "system default"
	if mic != nil {
		name = mic.Name
		if audio.IsBluetooth(mic.Name) {
			name += " (BT!)"
		}
	}
	return strings.TrimSpace(name)
}
