// Package session owns the capture/mix/record lifecycle and the in-memory
// list of finished recordings.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"meetrec/analyzer"
	"meetrec/audio"
	"meetrec/encoder"
	"meetrec/log"
	"meetrec/mixer"
	"meetrec/recorder"
)

type State int

const (
	StateIdle State = iota
	StatePreparing
	StateRecording
	StatePaused
	StateProcessing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePreparing:
		return "preparing"
	case StateRecording:
		return "recording"
	case StatePaused:
		return "paused"
	case StateProcessing:
		return "processing"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var (
	// ErrNoSystemAudio means the system capture was granted but carried no
	// audio track.
	ErrNoSystemAudio = errors.New(`no system audio in the shared stream: enable "Share system audio" ` +
		`(PulseAudio: a "Monitor of ..." source for your output; macOS: a BlackHole loopback device; ` +
		`Windows: WASAPI loopback) and start again`)
	ErrBusy      = errors.New("session: busy")
	ErrNotFound  = errors.New("session: recording not found")
	ErrNoSources = errors.New("session: neither system audio nor microphone is enabled")
	ErrClosed    = errors.New("session: controller closed")
)

type Sources struct {
	System     bool
	Microphone bool
}

type Options struct {
	Audio    audio.Context
	Analyzer analyzer.Analyzer
	Sources  Sources
	// Microphone selects a specific input; nil uses the platform default.
	Microphone *audio.DeviceInfo
	// Encodings is the ordered preference list handed to the recorder.
	Encodings []string
	Timeslice time.Duration

	NewTicker func(time.Duration) Ticker
	Now       func() time.Time
	// OnChange is called after any state, counter or list change. It runs
	// without the controller lock held and may come from any goroutine.
	OnChange func()
}

type Controller struct {
	opts Options

	mu         sync.Mutex
	state      State
	elapsed    int
	store      store
	processing map[string]bool
	notice     string
	active     *capture

	closed      bool
	starting    sync.WaitGroup
	cancelStart context.CancelFunc
}

func New(opts Options) *Controller {
	if opts.NewTicker == nil {
		opts.NewTicker = newRealTicker
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Timeslice == 0 {
		opts.Timeslice = recorder.DefaultTimeslice
	}
	if opts.Encodings == nil {
		opts.Encodings = []string{encoder.FLAC.MIMEType}
	}
	return &Controller{opts: opts, processing: make(map[string]bool)}
}

// capture is everything one recording session holds open.
type capture struct {
	system *audio.Stream
	mic    *audio.Stream
	graph  *mixer.Graph
	rec    *recorder.Recorder

	chunkMu sync.Mutex
	chunks  [][]byte

	ticker    Ticker
	done      chan struct{}
	unsubEnd  func()
	startedAt time.Time

	endOnce sync.Once
	ended   chan struct{}
}

// markEnded records that the primary source went away.
func (c *capture) markEnded() {
	c.endOnce.Do(func() { close(c.ended) })
}

func (c *capture) hasEnded() bool {
	select {
	case <-c.ended:
		return true
	default:
		return false
	}
}

func (c *capture) addChunk(b []byte) {
	c.chunkMu.Lock()
	c.chunks = append(c.chunks, b)
	c.chunkMu.Unlock()
}

func (c *capture) payload() ([]byte, int) {
	c.chunkMu.Lock()
	defer c.chunkMu.Unlock()
	var n int
	for _, ch := range c.chunks {
		n += len(ch)
	}
	out := make([]byte, 0, n)
	for _, ch := range c.chunks {
		out = append(out, ch...)
	}
	return out, len(c.chunks)
}

func (c *capture) tracks() []audio.Track {
	var out []audio.Track
	for _, s := range []*audio.Stream{c.system, c.mic} {
		if s != nil {
			out = append(out, s.AudioTracks()...)
		}
	}
	return out
}

// release stops and frees every source, the graph and the counter. Safe to
// call on a partially built capture and more than once.
func (c *capture) release() {
	if c.unsubEnd != nil {
		c.unsubEnd()
		c.unsubEnd = nil
	}
	if c.ticker != nil {
		c.ticker.Stop()
		c.ticker = nil
	}
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
	if c.system != nil {
		c.system.Stop()
	}
	if c.mic != nil {
		c.mic.Stop()
	}
	if c.graph != nil {
		c.graph.Close()
	}
}

func (c *Controller) notify() {
	if c.opts.OnChange != nil {
		c.opts.OnChange()
	}
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.notify()
}

// Start acquires the configured sources and begins recording. A cancelled or
// denied system capture returns nil and leaves the controller idle. Close
// cancels ctx for an in-flight Start and waits for it.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrBusy
	}
	c.state = StatePreparing
	c.notice = ""
	ctx, cancel := context.WithCancel(ctx)
	c.cancelStart = cancel
	c.starting.Add(1)
	c.mu.Unlock()
	c.notify()

	defer func() {
		c.mu.Lock()
		c.cancelStart = nil
		c.mu.Unlock()
		cancel()
		c.starting.Done()
	}()

	cs, err := c.acquire(ctx)
	if err != nil {
		cs.release()
		c.setState(StateIdle)
		if errors.Is(err, audio.ErrCancelled) || errors.Is(err, audio.ErrPermissionDenied) {
			log.Infof("capture not granted: %v", err)
			return nil
		}
		log.Errorf("start failed: %v", err)
		return err
	}

	c.mu.Lock()
	c.active = cs
	c.elapsed = 0
	c.state = StateRecording
	c.mu.Unlock()

	go c.count(cs, cs.ticker, cs.done)
	log.SessionStart(cs.system != nil, cs.mic != nil, cs.rec.Format().Name)
	c.notify()

	// The primary source may have ended before the session was published.
	if cs.hasEnded() {
		c.stopCapture(cs)
	}
	return nil
}

func (c *Controller) acquire(ctx context.Context) (*capture, error) {
	src := c.opts.Sources
	cs := &capture{startedAt: c.opts.Now(), ended: make(chan struct{})}
	if !src.System && !src.Microphone {
		return cs, ErrNoSources
	}

	var err error
	if src.System {
		cs.system, err = c.opts.Audio.CaptureSystem(ctx, audio.DefaultConfig(audio.SystemConstraints))
		if err != nil {
			return cs, fmt.Errorf("capturing system audio: %w", err)
		}
		if len(cs.system.AudioTracks()) == 0 {
			return cs, ErrNoSystemAudio
		}
	}

	if src.Microphone {
		cs.mic, err = c.opts.Audio.CaptureMicrophone(ctx, c.opts.Microphone, audio.DefaultConfig(audio.MicrophoneConstraints))
		if err != nil {
			if !src.System {
				return cs, fmt.Errorf("capturing microphone: %w", err)
			}
			cs.mic = nil
			log.Warnf("microphone unavailable, recording system audio only: %v", err)
			c.addNotice("microphone unavailable, recording system audio only")
		}
	}

	tracks := cs.tracks()
	if len(tracks) == 0 {
		return cs, fmt.Errorf("capturing: %w", audio.ErrNoDevice)
	}
	cs.graph = mixer.New()
	for _, t := range tracks {
		if err := cs.graph.Connect(t); err != nil {
			return cs, fmt.Errorf("connecting %s: %w", t.DeviceName(), err)
		}
	}

	cs.rec, err = recorder.Start(cs.graph.Destination(), recorder.Options{
		Preferences: c.opts.Encodings,
		Timeslice:   c.opts.Timeslice,
		OnChunk:     cs.addChunk,
	})
	if err != nil {
		return cs, fmt.Errorf("starting recorder: %w", err)
	}
	if cs.rec.FellBack() {
		log.Warnf("none of %v available, recording %s", c.opts.Encodings, cs.rec.Format().Name)
		c.addNotice("preferred encoding unavailable, using " + cs.rec.Format().Name)
	}

	for _, t := range tracks {
		if err := t.Start(); err != nil {
			cs.rec.Stop()
			return cs, fmt.Errorf("starting %s: %w", t.DeviceName(), err)
		}
	}

	// The primary source ending on its own (sharing stopped, device
	// unplugged) ends the session.
	primary := tracks[0]
	cs.unsubEnd = primary.OnEnded(func() {
		log.Warnf("%s ended, stopping recording", primary.DeviceName())
		cs.markEnded()
		go c.stopCapture(cs)
	})

	cs.ticker = c.opts.NewTicker(time.Second)
	cs.done = make(chan struct{})
	return cs, nil
}

func (c *Controller) addNotice(n string) {
	c.mu.Lock()
	if c.notice != "" {
		c.notice += "; "
	}
	c.notice += n
	c.mu.Unlock()
}

func (c *Controller) count(cs *capture, t Ticker, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-t.C():
			c.mu.Lock()
			advanced := c.active == cs && c.state == StateRecording
			if advanced {
				c.elapsed++
			}
			c.mu.Unlock()
			if advanced {
				c.notify()
			}
		}
	}
}

// Stop finalizes the active recording. It returns nil, nil when nothing is
// being recorded or when the session captured no audio.
func (c *Controller) Stop() (*Recording, error) {
	c.mu.Lock()
	cs := c.active
	c.mu.Unlock()
	if cs == nil {
		return nil, nil
	}
	return c.stopCapture(cs)
}

func (c *Controller) stopCapture(cs *capture) (*Recording, error) {
	c.mu.Lock()
	if c.active != cs || (c.state != StateRecording && c.state != StatePaused) {
		c.mu.Unlock()
		return nil, nil
	}
	c.active = nil
	elapsed := c.elapsed
	c.state = StateProcessing
	c.mu.Unlock()
	c.notify()

	cs.release()
	mime, err := cs.rec.Stop()
	stats := cs.rec.Stats()

	var rec *Recording
	if err == nil && stats.Frames > 0 {
		payload, chunks := cs.payload()
		if f, ok := encoder.Lookup(mime); ok && f.Finalize != nil {
			payload = f.Finalize(payload)
		}
		rec = newRecording(payload, mime, elapsed, c.opts.Now())
		log.RecordingSaved(log.RecordingInfo{
			ID:           rec.ID,
			Name:         rec.Name,
			MIMEType:     mime,
			DurationS:    elapsed,
			SizeKB:       float64(len(payload)) / 1024,
			RawSizeKB:    float64(stats.Frames*2) / 1024,
			EncodeTimeMs: float64(stats.EncodeTime.Milliseconds()),
			Chunks:       chunks,
		})
	} else if err == nil {
		log.Warn("recording captured no audio, discarded")
	} else {
		log.Errorf("finalizing recording: %v", err)
	}

	c.mu.Lock()
	if rec != nil {
		c.store.prepend(rec)
	}
	c.elapsed = 0
	c.state = StateIdle
	c.mu.Unlock()
	c.notify()
	return rec, err
}

// Toggle starts when idle and stops when recording or paused.
func (c *Controller) Toggle(ctx context.Context) error {
	switch c.State() {
	case StateIdle:
		return c.Start(ctx)
	case StateRecording, StatePaused:
		_, err := c.Stop()
		return err
	}
	return ErrBusy
}

func (c *Controller) Pause() bool {
	c.mu.Lock()
	if c.state != StateRecording {
		c.mu.Unlock()
		return false
	}
	c.state = StatePaused
	c.active.rec.Pause()
	c.mu.Unlock()
	c.notify()
	return true
}

func (c *Controller) Resume() bool {
	c.mu.Lock()
	if c.state != StatePaused {
		c.mu.Unlock()
		return false
	}
	c.state = StateRecording
	c.active.rec.Resume()
	c.mu.Unlock()
	c.notify()
	return true
}

// Delete removes the recording and releases its handle. Other entries keep
// their order.
func (c *Controller) Delete(id string) error {
	c.mu.Lock()
	r, ok := c.store.remove(id)
	c.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	r.Handle.Release()
	c.notify()
	return nil
}

// Analyze sends the recording to the analyzer and attaches the result. On
// failure the recording is left untouched. The processing mark is cleared
// on every path.
func (c *Controller) Analyze(ctx context.Context, id string) error {
	c.mu.Lock()
	r, ok := c.store.get(id)
	if !ok {
		c.mu.Unlock()
		return ErrNotFound
	}
	if c.processing[id] {
		c.mu.Unlock()
		return ErrBusy
	}
	c.processing[id] = true
	data, mime := r.Data, r.MIMEType
	c.mu.Unlock()
	c.notify()

	defer func() {
		c.mu.Lock()
		delete(c.processing, id)
		c.mu.Unlock()
		c.notify()
	}()

	a := c.opts.Analyzer
	if a == nil {
		return fmt.Errorf("%w: no analysis provider configured", analyzer.ErrMissingCredential)
	}

	res, err := a.Analyze(ctx, data, mime)
	info := log.AnalysisInfo{Provider: a.Name(), RecordingID: id}
	if err == nil && res.Metrics != nil {
		info.TTFBMs = float64(res.Metrics.TTFB.Milliseconds())
		info.TotalTimeMs = float64(res.Metrics.Total.Milliseconds())
		info.ConnReused = res.Metrics.ConnReused
		info.TLSProtocol = res.Metrics.TLSProtocol
	}
	log.Analysis(info, err)
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok = c.store.get(id)
	if !ok {
		return ErrNotFound
	}
	r.Transcription = res.Transcription
	r.Summary = res.Summary
	return nil
}

// Export writes the recording into dir under its display name, adding a
// numeric suffix rather than overwriting an existing file.
func (c *Controller) Export(id, dir string) (string, error) {
	c.mu.Lock()
	r, ok := c.store.get(id)
	c.mu.Unlock()
	if !ok {
		return "", ErrNotFound
	}
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	ext := filepath.Ext(r.Name)
	base := strings.TrimSuffix(r.Name, ext)
	for i := 0; ; i++ {
		name := r.Name
		if i > 0 {
			name = fmt.Sprintf("%s-%d%s", base, i, ext)
		}
		p := filepath.Join(dir, name)
		f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", err
		}
		if _, err := f.Write(r.Data); err != nil {
			f.Close()
			return "", err
		}
		return p, f.Close()
	}
}

// Close ends any active or starting session and releases every stored
// recording. Start fails with ErrClosed afterwards.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.cancelStart != nil {
		c.cancelStart()
	}
	c.mu.Unlock()
	c.starting.Wait()

	c.Stop()
	c.mu.Lock()
	items := c.store.clear()
	c.mu.Unlock()
	for _, r := range items {
		r.Handle.Release()
	}
	log.SessionEnd(len(items))
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Elapsed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.elapsed
}

func (c *Controller) Recordings() []Recording {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.list()
}

func (c *Controller) Recording(id string) (Recording, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.store.get(id)
	if !ok {
		return Recording{}, false
	}
	return *r, true
}

func (c *Controller) Processing(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processing[id]
}

// Notice returns fallbacks taken by the last Start, e.g. recording without
// the microphone.
func (c *Controller) Notice() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notice
}

// Destination is the active mixed stream, or nil when not recording.
func (c *Controller) Destination() *mixer.Destination {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return nil
	}
	return c.active.graph.Destination()
}

// Sources returns the configured source toggles.
func (c *Controller) Sources() Sources {
	return c.opts.Sources
}
