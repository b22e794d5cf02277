package analyzer

import (
	"context"
	"fmt"
	"sync"
)

// Fake returns a canned response, or Err when set. Calls are counted.
type Fake struct {
	Response string
	Err      error
	// Block, when non-nil, is waited on before answering.
	Block chan struct{}

	mu    sync.Mutex
	calls int
	last  []byte
}

func NewFake(response string, err error) *Fake {
	return &Fake{Response: response, Err: err}
}

func (f *Fake) Name() string { return "fake" }

func (f *Fake) Analyze(ctx context.Context, audio []byte, _ string) (*Result, error) {
	f.mu.Lock()
	f.calls++
	f.last = audio
	f.mu.Unlock()

	if f.Block != nil {
		select {
		case <-f.Block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.Err != nil {
		return nil, fmt.Errorf("fake analyzer error: %w", f.Err)
	}
	t, s := ParseSections(f.Response)
	return &Result{Transcription: t, Summary: s}, nil
}

func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *Fake) LastPayload() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}
