package session

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meetrec/analyzer"
	"meetrec/audio"
	"meetrec/encoder"
)

var fixedNow = time.Date(2024, 5, 6, 7, 8, 9, 0, time.Local)

type manualTicker struct {
	ch      chan time.Time
	mu      sync.Mutex
	stopped bool
}

func (m *manualTicker) C() <-chan time.Time { return m.ch }

func (m *manualTicker) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
}

type harness struct {
	t       *testing.T
	audio   *audio.FakeContext
	c       *Controller
	mu      sync.Mutex
	tickers []*manualTicker
}

func newHarness(t *testing.T, sources Sources, a analyzer.Analyzer) *harness {
	t.Helper()
	h := &harness{t: t, audio: audio.NewFakeContext(nil, false)}
	h.c = New(Options{
		Audio:     h.audio,
		Analyzer:  a,
		Sources:   sources,
		Encodings: []string{"wav"},
		Timeslice: -1,
		Now:       func() time.Time { return fixedNow },
		NewTicker: func(time.Duration) Ticker {
			mt := &manualTicker{ch: make(chan time.Time)}
			h.mu.Lock()
			h.tickers = append(h.tickers, mt)
			h.mu.Unlock()
			return mt
		},
	})
	t.Cleanup(h.c.Close)
	return h
}

func (h *harness) ticker() *manualTicker {
	h.mu.Lock()
	defer h.mu.Unlock()
	require.NotEmpty(h.t, h.tickers)
	return h.tickers[len(h.tickers)-1]
}

// tick advances the counter and waits until it is visible.
func (h *harness) tick() {
	want := h.c.Elapsed() + 1
	h.ticker().ch <- time.Now()
	require.Eventually(h.t, func() bool { return h.c.Elapsed() == want }, time.Second, time.Millisecond)
}

func (h *harness) capture(i int) *audio.FakeCapture {
	caps := h.audio.Captures()
	require.Greater(h.t, len(caps), i)
	return caps[i]
}

func (h *harness) record(samples ...int16) *Recording {
	h.t.Helper()
	require.NoError(h.t, h.c.Start(context.Background()))
	h.capture(len(h.audio.Captures()) - 1).Emit(pcm(samples...))
	rec, err := h.c.Stop()
	require.NoError(h.t, err)
	require.NotNil(h.t, rec)
	return rec
}

func pcm(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func samplesOf(t *testing.T, wav []byte) []int16 {
	t.Helper()
	require.GreaterOrEqual(t, len(wav), encoder.WavHeaderSize)
	require.Equal(t, "RIFF", string(wav[:4]))
	data := wav[encoder.WavHeaderSize:]
	require.Equal(t, uint32(len(data)), binary.LittleEndian.Uint32(wav[40:44]))
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}

var systemOnly = Sources{System: true}

func TestStartStopCreatesRecording(t *testing.T) {
	h := newHarness(t, systemOnly, nil)

	require.NoError(t, h.c.Start(context.Background()))
	assert.Equal(t, StateRecording, h.c.State())
	assert.NotNil(t, h.c.Destination())

	sys := h.capture(0)
	assert.True(t, sys.Started())
	for i := 0; i < 3; i++ {
		h.tick()
	}
	sys.Emit(pcm(1, 2, 3))

	rec, err := h.c.Stop()
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, 3, rec.Duration)
	assert.Equal(t, "audio/wav", rec.MIMEType)
	assert.Equal(t, "Meeting_2024-05-06_0708.wav", rec.Name)
	assert.Equal(t, []int16{1, 2, 3}, samplesOf(t, rec.Data))
	assert.NotEmpty(t, rec.ID)

	assert.Equal(t, StateIdle, h.c.State())
	assert.Zero(t, h.c.Elapsed())
	assert.Nil(t, h.c.Destination())
	assert.Len(t, h.c.Recordings(), 1)
	assert.True(t, sys.Stopped(), "source must be released on stop")
	assert.True(t, h.ticker().stopped, "elapsed ticker must be cancelled on stop")
}

func TestStopWhenIdleIsNoop(t *testing.T) {
	h := newHarness(t, systemOnly, nil)
	rec, err := h.c.Stop()
	assert.NoError(t, err)
	assert.Nil(t, rec)
	assert.Empty(t, h.c.Recordings())
}

func TestOneRecordingPerStop(t *testing.T) {
	h := newHarness(t, systemOnly, nil)

	first := h.record(1)
	second := h.record(2)
	h.c.Stop()
	h.c.Stop()

	recs := h.c.Recordings()
	require.Len(t, recs, 2)
	assert.Equal(t, second.ID, recs[0].ID, "most recent first")
	assert.Equal(t, first.ID, recs[1].ID)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestSilentSessionIsDiscarded(t *testing.T) {
	h := newHarness(t, systemOnly, nil)
	require.NoError(t, h.c.Start(context.Background()))
	rec, err := h.c.Stop()
	assert.NoError(t, err)
	assert.Nil(t, rec)
	assert.Empty(t, h.c.Recordings())
	assert.Equal(t, StateIdle, h.c.State())
}

func TestDeleteKeepsOrder(t *testing.T) {
	h := newHarness(t, systemOnly, nil)
	a := h.record(1)
	b := h.record(2)
	c := h.record(3)

	_, err := b.Handle.Path()
	require.NoError(t, err)

	require.NoError(t, h.c.Delete(b.ID))
	recs := h.c.Recordings()
	require.Len(t, recs, 2)
	assert.Equal(t, c.ID, recs[0].ID)
	assert.Equal(t, a.ID, recs[1].ID)
	assert.True(t, b.Handle.Released())
	assert.False(t, a.Handle.Released())

	assert.ErrorIs(t, h.c.Delete(b.ID), ErrNotFound)
	assert.Len(t, h.c.Recordings(), 2)
}

func TestNoSystemAudio(t *testing.T) {
	h := newHarness(t, Sources{System: true, Microphone: true}, nil)
	h.audio.SystemNoAudio = true

	err := h.c.Start(context.Background())
	require.ErrorIs(t, err, ErrNoSystemAudio)
	assert.Contains(t, err.Error(), "Share system audio")
	assert.Equal(t, StateIdle, h.c.State())
	assert.Empty(t, h.c.Recordings())
	assert.Nil(t, h.c.Destination())
}

func TestDeniedOrCancelledIsSilent(t *testing.T) {
	for _, denial := range []error{audio.ErrPermissionDenied, audio.ErrCancelled} {
		t.Run(denial.Error(), func(t *testing.T) {
			h := newHarness(t, systemOnly, nil)
			h.audio.SystemErr = denial
			assert.NoError(t, h.c.Start(context.Background()))
			assert.Equal(t, StateIdle, h.c.State())
		})
	}
}

func TestAcquisitionErrorCleansUp(t *testing.T) {
	h := newHarness(t, systemOnly, nil)
	boom := errors.New("device busy")
	h.audio.SystemErr = boom

	err := h.c.Start(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateIdle, h.c.State())

	h.audio.SystemErr = nil
	require.NoError(t, h.c.Start(context.Background()), "controller must be reusable after a failed start")
}

func TestNoSourcesEnabled(t *testing.T) {
	h := newHarness(t, Sources{}, nil)
	assert.ErrorIs(t, h.c.Start(context.Background()), ErrNoSources)
	assert.Equal(t, StateIdle, h.c.State())
}

func TestMicrophoneFailureDegrades(t *testing.T) {
	h := newHarness(t, Sources{System: true, Microphone: true}, nil)
	h.audio.MicErr = audio.ErrPermissionDenied

	require.NoError(t, h.c.Start(context.Background()))
	assert.Equal(t, StateRecording, h.c.State())
	assert.Contains(t, h.c.Notice(), "microphone")
	require.Len(t, h.audio.Captures(), 1)

	h.capture(0).Emit(pcm(7, 8))
	rec, err := h.c.Stop()
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, []int16{7, 8}, samplesOf(t, rec.Data))
}

func TestMicrophoneOnlyFailureIsFatal(t *testing.T) {
	h := newHarness(t, Sources{Microphone: true}, nil)
	h.audio.MicErr = audio.ErrNoDevice
	assert.ErrorIs(t, h.c.Start(context.Background()), audio.ErrNoDevice)
	assert.Equal(t, StateIdle, h.c.State())
}

func TestSystemAndMicrophoneAreMixed(t *testing.T) {
	h := newHarness(t, Sources{System: true, Microphone: true}, nil)
	require.NoError(t, h.c.Start(context.Background()))
	sys, mic := h.capture(0), h.capture(1)

	mic.Emit(pcm(10, 20))
	sys.Emit(pcm(1, 1, 1))

	rec, err := h.c.Stop()
	require.NoError(t, err)
	assert.Equal(t, []int16{11, 21, 1}, samplesOf(t, rec.Data))
	assert.True(t, sys.Stopped())
	assert.True(t, mic.Stopped())
}

func TestSystemTrackEndStopsRecording(t *testing.T) {
	h := newHarness(t, systemOnly, nil)
	require.NoError(t, h.c.Start(context.Background()))
	sys := h.capture(0)
	sys.Emit(pcm(5))

	sys.End()

	require.Eventually(t, func() bool { return h.c.State() == StateIdle }, time.Second, time.Millisecond)
	assert.Len(t, h.c.Recordings(), 1)
	assert.True(t, sys.Stopped())
}

// endingContext hands out a system track that ends while Start is still
// wiring it up.
type endingContext struct {
	*audio.FakeContext
	beforeSubscribe bool
}

func (e *endingContext) CaptureSystem(ctx context.Context, cfg audio.CaptureConfig) (*audio.Stream, error) {
	s, err := e.FakeContext.CaptureSystem(ctx, cfg)
	if err != nil {
		return nil, err
	}
	fc := s.AudioTracks()[0].(*audio.FakeCapture)
	return audio.NewStream(&endingTrack{FakeCapture: fc, beforeSubscribe: e.beforeSubscribe}), nil
}

type endingTrack struct {
	*audio.FakeCapture
	beforeSubscribe bool
}

func (t *endingTrack) OnEnded(fn func()) func() {
	if t.beforeSubscribe {
		t.End()
		return t.FakeCapture.OnEnded(fn)
	}
	unsub := t.FakeCapture.OnEnded(fn)
	t.End()
	return unsub
}

func TestTrackEndDuringStartStopsRecording(t *testing.T) {
	for _, tc := range []struct {
		name            string
		beforeSubscribe bool
	}{
		{"ended before subscription", true},
		{"ended before publish", false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			fake := audio.NewFakeContext(nil, false)
			c := New(Options{
				Audio:     &endingContext{FakeContext: fake, beforeSubscribe: tc.beforeSubscribe},
				Sources:   systemOnly,
				Encodings: []string{"wav"},
				Timeslice: -1,
			})
			t.Cleanup(c.Close)

			require.NoError(t, c.Start(context.Background()))

			require.Eventually(t, func() bool { return c.State() == StateIdle }, time.Second, time.Millisecond)
			assert.Nil(t, c.Destination())
			require.Len(t, fake.Captures(), 1)
			assert.True(t, fake.Captures()[0].Stopped())
		})
	}
}

// slowContext blocks CaptureSystem until release is closed, ignoring ctx.
type slowContext struct {
	*audio.FakeContext
	entered chan struct{}
	release chan struct{}
}

func (s *slowContext) CaptureSystem(ctx context.Context, cfg audio.CaptureConfig) (*audio.Stream, error) {
	close(s.entered)
	<-s.release
	return s.FakeContext.CaptureSystem(context.Background(), cfg)
}

func TestCloseWaitsForStart(t *testing.T) {
	fake := audio.NewFakeContext(nil, false)
	sc := &slowContext{FakeContext: fake, entered: make(chan struct{}), release: make(chan struct{})}
	c := New(Options{Audio: sc, Sources: systemOnly, Encodings: []string{"wav"}, Timeslice: -1})

	started := make(chan error, 1)
	go func() { started <- c.Start(context.Background()) }()
	<-sc.entered
	assert.Equal(t, StatePreparing, c.State())

	closed := make(chan struct{})
	go func() {
		c.Close()
		close(closed)
	}()
	select {
	case <-closed:
		t.Fatal("Close returned while Start was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(sc.release)
	require.NoError(t, <-started)
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close did not return after Start finished")
	}

	assert.Equal(t, StateIdle, c.State())
	assert.Nil(t, c.Destination())
	require.Len(t, fake.Captures(), 1)
	assert.True(t, fake.Captures()[0].Stopped())
	assert.ErrorIs(t, c.Start(context.Background()), ErrClosed)
}

func TestStartAfterClose(t *testing.T) {
	h := newHarness(t, systemOnly, nil)
	h.c.Close()
	assert.ErrorIs(t, h.c.Start(context.Background()), ErrClosed)
	assert.Empty(t, h.audio.Captures())
}

func TestStartWhileRecordingIsBusy(t *testing.T) {
	h := newHarness(t, systemOnly, nil)
	require.NoError(t, h.c.Start(context.Background()))
	assert.ErrorIs(t, h.c.Start(context.Background()), ErrBusy)
	assert.Len(t, h.audio.Captures(), 1)
}

func TestPauseDropsAudioAndFreezesCounter(t *testing.T) {
	h := newHarness(t, systemOnly, nil)
	require.NoError(t, h.c.Start(context.Background()))
	sys := h.capture(0)

	h.tick()
	sys.Emit(pcm(1))

	require.True(t, h.c.Pause())
	assert.Equal(t, StatePaused, h.c.State())
	assert.False(t, h.c.Pause())
	sys.Emit(pcm(99))
	h.ticker().ch <- time.Now()
	h.ticker().ch <- time.Now()

	rec, err := h.c.Stop()
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Duration)
	assert.Equal(t, []int16{1}, samplesOf(t, rec.Data))
}

func TestResume(t *testing.T) {
	h := newHarness(t, systemOnly, nil)
	assert.False(t, h.c.Resume())
	require.NoError(t, h.c.Start(context.Background()))
	require.True(t, h.c.Pause())
	require.True(t, h.c.Resume())
	assert.Equal(t, StateRecording, h.c.State())
	h.tick()
	assert.Equal(t, 1, h.c.Elapsed())
}

func TestToggle(t *testing.T) {
	h := newHarness(t, systemOnly, nil)
	require.NoError(t, h.c.Toggle(context.Background()))
	assert.Equal(t, StateRecording, h.c.State())
	h.capture(0).Emit(pcm(1))
	require.NoError(t, h.c.Toggle(context.Background()))
	assert.Equal(t, StateIdle, h.c.State())
	assert.Len(t, h.c.Recordings(), 1)
}

const twoSections = "## Transcription\nAlice: ship it\n\n## Summary\n- ship it"

func TestAnalyzeSuccess(t *testing.T) {
	fake := analyzer.NewFake(twoSections, nil)
	h := newHarness(t, systemOnly, fake)
	rec := h.record(1, 2)

	require.NoError(t, h.c.Analyze(context.Background(), rec.ID))

	got, ok := h.c.Recording(rec.ID)
	require.True(t, ok)
	assert.Equal(t, "Alice: ship it", got.Transcription)
	assert.Equal(t, "- ship it", got.Summary)
	assert.True(t, got.Analyzed())
	assert.False(t, h.c.Processing(rec.ID))
	assert.Equal(t, rec.Data, fake.LastPayload())
}

func TestAnalyzeFailureLeavesRecording(t *testing.T) {
	fake := analyzer.NewFake("", errors.New("quota"))
	h := newHarness(t, systemOnly, fake)
	rec := h.record(1)

	err := h.c.Analyze(context.Background(), rec.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota")

	got, _ := h.c.Recording(rec.ID)
	assert.Empty(t, got.Transcription)
	assert.Empty(t, got.Summary)
	assert.False(t, h.c.Processing(rec.ID))
}

func TestAnalyzeMarksProcessing(t *testing.T) {
	fake := analyzer.NewFake(twoSections, nil)
	fake.Block = make(chan struct{})
	h := newHarness(t, systemOnly, fake)
	rec := h.record(1)

	done := make(chan error, 1)
	go func() { done <- h.c.Analyze(context.Background(), rec.ID) }()

	require.Eventually(t, func() bool { return h.c.Processing(rec.ID) }, time.Second, time.Millisecond)
	assert.ErrorIs(t, h.c.Analyze(context.Background(), rec.ID), ErrBusy)

	close(fake.Block)
	require.NoError(t, <-done)
	assert.False(t, h.c.Processing(rec.ID))
	assert.Equal(t, 1, fake.Calls())
}

func TestAnalyzeWithoutProvider(t *testing.T) {
	h := newHarness(t, systemOnly, nil)
	rec := h.record(1)
	assert.ErrorIs(t, h.c.Analyze(context.Background(), rec.ID), analyzer.ErrMissingCredential)
	assert.False(t, h.c.Processing(rec.ID))
	assert.ErrorIs(t, h.c.Analyze(context.Background(), "missing"), ErrNotFound)
}

func TestExport(t *testing.T) {
	h := newHarness(t, systemOnly, nil)
	rec := h.record(1, 2)
	dir := t.TempDir()

	p1, err := h.c.Export(rec.ID, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, rec.Name), p1)

	p2, err := h.c.Export(rec.ID, dir)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(p2, "-1.wav"), p2)

	data, err := os.ReadFile(p2)
	require.NoError(t, err)
	assert.Equal(t, rec.Data, data)

	_, err = h.c.Export("nope", dir)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCloseReleasesEverything(t *testing.T) {
	h := newHarness(t, systemOnly, nil)
	rec := h.record(1)
	path, err := rec.Handle.Path()
	require.NoError(t, err)
	require.NoError(t, h.c.Start(context.Background()))
	sys := h.capture(1)

	h.c.Close()

	assert.Empty(t, h.c.Recordings())
	assert.True(t, rec.Handle.Released())
	assert.True(t, sys.Stopped())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "recording", StateRecording.String())
	assert.Equal(t, "State(42)", State(42).String())
}
