// Package analyzer sends recorded audio to a remote model and returns a
// transcription and a summary.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrMissingCredential is returned before any request is made when the
// provider has no API key configured.
var ErrMissingCredential = errors.New("analyzer: missing API key")

// ErrTooLarge is returned before any request is made when the recording
// exceeds what the provider accepts in one upload.
var ErrTooLarge = errors.New("analyzer: recording too large")

const DefaultPrompt = `You are given a recording of a meeting.
Produce two sections using these exact markers:

## Transcription
A verbatim transcription of the conversation, one paragraph per speaker turn.

## Summary
A concise summary with the key decisions and action items as a bulleted list.`

type Result struct {
	Transcription string
	Summary       string
	Metrics       *NetworkMetrics // nil when the provider does not expose it
}

type Analyzer interface {
	Name() string
	Analyze(ctx context.Context, audio []byte, mimeType string) (*Result, error)
}

type Config struct {
	Provider   string // "gemini" | "groq"
	Model      string
	GeminiKey  string
	GroqKey    string
	Prompt     string
	GroqAPIURL string // overrides the Groq base URL, for tests and proxies
}

// New builds the analyzer named by cfg.Provider. A missing key is not an
// error here; it is reported by Analyze so the recorder stays usable.
func New(cfg Config) (Analyzer, error) {
	prompt := cfg.Prompt
	if strings.TrimSpace(prompt) == "" {
		prompt = DefaultPrompt
	}
	switch strings.ToLower(cfg.Provider) {
	case "", "gemini", "google":
		return NewGemini(cfg.GeminiKey, cfg.Model, prompt), nil
	case "groq":
		g := NewGroq(cfg.GroqKey, cfg.Model, prompt)
		if cfg.GroqAPIURL != "" {
			g.baseURL = strings.TrimRight(cfg.GroqAPIURL, "/")
		}
		return g, nil
	default:
		return nil, fmt.Errorf("unknown analysis provider %q", cfg.Provider)
	}
}
