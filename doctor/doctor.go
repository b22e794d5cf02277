package doctor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"meetrec/analyzer"
	"meetrec/audio"
	"meetrec/clipboard"
	"meetrec/config"
	"meetrec/encoder"
	"meetrec/hotkey"
	"meetrec/mixer"
	"meetrec/recorder"
	"meetrec/session"
)

const (
	clipLength = 3 * time.Second
	// Peaks below this are reported as silence.
	silenceThreshold = 0.01
)

type checker struct {
	cfg    config.Config
	reader *bufio.Reader
	actx   audio.Context
	micRec *clip
}

// Run executes interactive diagnostic checks and returns an exit code (0=all pass, 1=any fail).
func Run(cfg config.Config) int {
	resetTerminal()
	setupInterruptHandler()

	fmt.Println("meetrec doctor - interactive system diagnostics")
	fmt.Println("===============================================")

	c := &checker{cfg: cfg, reader: bufio.NewReader(os.Stdin)}
	defer func() {
		if c.actx != nil {
			c.actx.Close()
		}
	}()

	checks := []struct {
		name string
		fn   func() bool
	}{
		{"Audio backend", c.checkBackend},
		{"System audio", c.checkSystemAudio},
		{"Microphone", c.checkMicrophone},
		{"Global hotkey", c.checkHotkey},
		{"Clipboard", c.checkClipboard},
		{"Analysis provider", c.checkAnalyzer},
	}

	failed := 0
	for i, ch := range checks {
		fmt.Println()
		fmt.Printf("[%d/%d] %s\n", i+1, len(checks), ch.name)
		if !ch.fn() {
			failed++
		}
		// the backend is a prerequisite for both capture checks
		if i == 0 && c.actx == nil {
			fmt.Println()
			fmt.Println("Audio backend unavailable, skipping remaining checks.")
			return 1
		}
	}

	fmt.Println()
	if failed == 0 {
		fmt.Println("All checks passed!")
		return 0
	}
	fmt.Printf("%d check(s) failed. See details above.\n", failed)
	return 1
}

func (c *checker) checkBackend() bool {
	actx, err := audio.NewContext()
	if err != nil {
		fmt.Printf("  FAIL: cannot connect to audio: %v\n", err)
		return false
	}
	c.actx = actx

	devices, err := actx.Devices()
	if err != nil {
		fmt.Printf("  FAIL: cannot list devices: %v\n", err)
		return false
	}
	if len(devices) == 0 {
		fmt.Println("  FAIL: no capture devices found")
		return false
	}
	for _, d := range devices {
		tag := ""
		switch {
		case audio.IsLoopback(d.Name):
			tag = " (system audio)"
		case audio.IsBluetooth(d.Name):
			tag = " (bluetooth)"
		}
		fmt.Printf("  - %s%s\n", d.Name, tag)
	}
	fmt.Printf("  PASS: %d capture device(s)\n", len(devices))
	return true
}

func (c *checker) checkSystemAudio() bool {
	if !c.cfg.IncludeSystem {
		fmt.Println("  SKIP: include_system is off")
		return true
	}
	c.prompt("Start playing some audio, then press Enter...")

	stream, err := c.actx.CaptureSystem(context.Background(), audio.DefaultConfig(audio.SystemConstraints))
	if err != nil {
		fmt.Printf("  FAIL: system capture: %v\n", err)
		return false
	}
	defer stream.Stop()

	tracks := stream.AudioTracks()
	if len(tracks) == 0 {
		fmt.Printf("  FAIL: %v\n", session.ErrNoSystemAudio)
		return false
	}

	cl, err := recordClip(tracks[0], timer(clipLength))
	if err != nil {
		fmt.Printf("  FAIL: recording error: %v\n", err)
		return false
	}
	fmt.Printf("  Level %s\n", levelBar(cl.Peak, 30))
	if cl.Peak < silenceThreshold {
		fmt.Println("  FAIL: captured only silence (is the monitor source muted?)")
		return false
	}
	fmt.Printf("  PASS: %s from %s\n", cl.describe(), tracks[0].DeviceName())
	return true
}

func (c *checker) checkMicrophone() bool {
	if !c.cfg.IncludeMicrophone {
		fmt.Println("  SKIP: include_microphone is off")
		return true
	}
	device := audio.FindMicrophone(c.actx, c.cfg.Microphone)
	if c.cfg.Microphone != "" && device == nil {
		fmt.Printf("  Configured microphone %q not found, using default\n", c.cfg.Microphone)
	}
	c.prompt("Press Enter and speak for 3 seconds...")

	stream, err := c.actx.CaptureMicrophone(context.Background(), device, audio.DefaultConfig(audio.MicrophoneConstraints))
	if err != nil {
		fmt.Printf("  FAIL: microphone capture: %v\n", err)
		return false
	}
	defer stream.Stop()

	tracks := stream.AudioTracks()
	if len(tracks) == 0 {
		fmt.Println("  FAIL: microphone stream has no audio track")
		return false
	}
	cl, err := recordClip(tracks[0], timer(clipLength))
	if err != nil {
		fmt.Printf("  FAIL: recording error: %v\n", err)
		return false
	}
	fmt.Printf("  Level %s\n", levelBar(cl.Peak, 30))
	if cl.Peak < silenceThreshold {
		fmt.Println("  FAIL: no speech detected (check input volume)")
		return false
	}
	c.micRec = cl
	fmt.Printf("  PASS: %s from %s\n", cl.describe(), tracks[0].DeviceName())
	return true
}

func (c *checker) checkHotkey() bool {
	combo := c.cfg.HotkeyCombo()
	info, err := hotkey.Diagnose(combo)
	if err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		return false
	}
	fmt.Printf("  %s\n", info)
	fmt.Printf("Press %s...\n", combo)

	hk := hotkey.New(combo)
	if err := hk.Register(); err != nil {
		fmt.Printf("  FAIL: could not register hotkey: %v\n", err)
		return false
	}
	defer hk.Unregister()

	select {
	case <-hk.Keydown():
		fmt.Println("  PASS: hotkey detected")
		select {
		case <-hk.Keyup():
		case <-time.After(5 * time.Second):
		}
		// the hotkey reader may leave the terminal in raw mode
		resetTerminal()
		return true
	case <-time.After(10 * time.Second):
		fmt.Println("  FAIL: timeout waiting for hotkey")
		return false
	}
}

func (c *checker) checkClipboard() bool {
	if clipboard.Unsupported() {
		fmt.Println("  FAIL: no clipboard utility found (install xclip, xsel or wl-clipboard)")
		return false
	}
	previous, _ := clipboard.Read()

	const sentinel = "meetrec-doctor-test"
	if err := clipboard.Copy(sentinel); err != nil {
		fmt.Printf("  FAIL: clipboard copy failed: %v\n", err)
		return false
	}
	got, err := clipboard.Read()
	if previous != "" {
		clipboard.Copy(previous)
	}
	if err != nil {
		fmt.Printf("  FAIL: could not read clipboard: %v\n", err)
		return false
	}
	if got != sentinel {
		fmt.Printf("  FAIL: clipboard round trip got %q, want %q\n", got, sentinel)
		return false
	}
	fmt.Println("  PASS: copy and read verified")
	return true
}

func (c *checker) checkAnalyzer() bool {
	an, err := analyzer.New(c.cfg.Analyzer())
	if err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		return false
	}
	if c.cfg.APIKey() == "" {
		fmt.Printf("  FAIL: no %s API key (set %s_API_KEY or add it to the config file)\n",
			an.Name(), strings.ToUpper(an.Name()))
		return false
	}
	fmt.Printf("  %s API key present\n", an.Name())

	if c.micRec == nil {
		fmt.Println("  PASS: key configured (no microphone clip to test with)")
		return true
	}
	if !c.confirm(fmt.Sprintf("Send the microphone clip to %s? [y/n]: ", an.Name())) {
		fmt.Println("  PASS: key configured (request skipped)")
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	res, err := an.Analyze(ctx, c.micRec.Data, c.micRec.MIMEType)
	if err != nil {
		fmt.Printf("  FAIL: analysis error: %v\n", err)
		return false
	}
	text := strings.TrimSpace(res.Transcription)
	if text == "" {
		text = "(no speech detected)"
	}
	fmt.Printf("\n  Transcribed text: %s\n", text)
	if res.Metrics != nil {
		fmt.Printf("  %s\n", res.Metrics)
	}
	fmt.Println()

	if c.confirm("Is this correct? [y/n]: ") {
		fmt.Println("  PASS: transcription verified by user")
		return true
	}
	fmt.Println("  FAIL: transcription not confirmed")
	return false
}

func (c *checker) prompt(msg string) {
	fmt.Print(msg)
	c.reader.ReadString('\n')
}

func (c *checker) confirm(msg string) bool {
	resetTerminal()
	fmt.Print(msg)
	answer, _ := c.reader.ReadString('\n')
	answer = strings.TrimSpace(strings.ToLower(answer))
	return answer == "y" || answer == "yes"
}

func timer(d time.Duration) <-chan struct{} {
	stop := make(chan struct{})
	go func() {
		time.Sleep(d)
		close(stop)
	}()
	return stop
}

type clip struct {
	Data     []byte
	MIMEType string
	Frames   uint64
	Peak     float64 // 0..1
}

func (c *clip) describe() string {
	secs := float64(c.Frames) / float64(encoder.SampleRate)
	return fmt.Sprintf("%.1fs, %.1f KB %s", secs, float64(len(c.Data))/1024, c.MIMEType)
}

// recordClip runs track through the same graph and recorder a session uses
// until stop is closed.
func recordClip(track audio.Track, stop <-chan struct{}) (*clip, error) {
	g := mixer.New()
	defer g.Close()
	if err := g.Connect(track); err != nil {
		return nil, err
	}

	var (
		mu   sync.Mutex
		peak float64
	)
	unsubscribe := g.Destination().Subscribe(func(samples []int16) {
		p := peakOf(samples)
		mu.Lock()
		peak = math.Max(peak, p)
		mu.Unlock()
	})
	defer unsubscribe()

	var data []byte
	rec, err := recorder.Start(g.Destination(), recorder.Options{
		Preferences: []string{encoder.FLAC.MIMEType},
		Timeslice:   recorder.DefaultTimeslice,
		OnChunk:     func(chunk []byte) { data = append(data, chunk...) },
	})
	if err != nil {
		return nil, err
	}

	if err := track.Start(); err != nil {
		rec.Stop()
		return nil, fmt.Errorf("starting capture: %w", err)
	}
	fmt.Print("  Recording")
	dots := time.NewTicker(500 * time.Millisecond)
loop:
	for {
		select {
		case <-stop:
			break loop
		case <-dots.C:
			fmt.Print(".")
		}
	}
	dots.Stop()
	track.Stop()
	fmt.Println(" done")

	mime, err := rec.Stop()
	if err != nil {
		return nil, err
	}
	stats := rec.Stats()
	if stats.Frames == 0 {
		return nil, errors.New("no audio captured")
	}
	if f, ok := encoder.Lookup(mime); ok && f.Finalize != nil {
		data = f.Finalize(data)
	}

	mu.Lock()
	defer mu.Unlock()
	return &clip{Data: data, MIMEType: mime, Frames: stats.Frames, Peak: peak}, nil
}

func peakOf(samples []int16) float64 {
	var peak int
	for _, s := range samples {
		v := int(s)
		if v < 0 {
			v = -v
		}
		peak = max(peak, v)
	}
	return float64(peak) / 32768
}

// levelBar renders peak as a meter with its dBFS value.
func levelBar(peak float64, width int) string {
	peak = math.Min(math.Max(peak, 0), 1)
	filled := int(math.Round(peak * float64(width)))
	db := math.Inf(-1)
	if peak > 0 {
		db = 20 * math.Log10(peak)
	}
	return fmt.Sprintf("[%s%s] %.1f dBFS", strings.Repeat("#", filled), strings.Repeat("-", width-filled), db)
}
