package analyzer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"google.golang.org/genai"

	"meetrec/log"
)

const (
	DefaultGeminiModel = "gemini-2.5-flash"

	// Inline audio is base64 encoded into a request capped at 20 MB.
	geminiMaxInline    = 14 << 20
	geminiPollInterval = 2 * time.Second
)

// geminiFiles is the part of the Files API used for long recordings.
type geminiFiles interface {
	Upload(ctx context.Context, r io.Reader, config *genai.UploadFileConfig) (*genai.File, error)
	Get(ctx context.Context, name string, config *genai.GetFileConfig) (*genai.File, error)
	Delete(ctx context.Context, name string, config *genai.DeleteFileConfig) (*genai.DeleteFileResponse, error)
}

// Gemini sends the audio together with the prompt in a single request and
// parses the sectioned reply. Recordings too large to inline go through the
// Files API first.
type Gemini struct {
	apiKey string
	model  string
	prompt string

	maxInline    int
	pollInterval time.Duration
}

func NewGemini(apiKey, model, prompt string) *Gemini {
	if model == "" {
		model = DefaultGeminiModel
	}
	return &Gemini{
		apiKey:       apiKey,
		model:        model,
		prompt:       prompt,
		maxInline:    geminiMaxInline,
		pollInterval: geminiPollInterval,
	}
}

func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) Analyze(ctx context.Context, audio []byte, mimeType string) (*Result, error) {
	if g.apiKey == "" {
		return nil, fmt.Errorf("%w: set GEMINI_API_KEY or gemini_api_key in the config file", ErrMissingCredential)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  g.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}

	part, cleanup, err := g.audioPart(ctx, client.Files, audio, mimeType)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			part,
			genai.NewPartFromText(g.prompt),
		}, genai.RoleUser),
	}
	resp, err := client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return nil, fmt.Errorf("gemini returned an empty response")
	}
	transcription, summary := ParseSections(text)
	return &Result{Transcription: transcription, Summary: summary}, nil
}

// audioPart inlines small payloads and uploads the rest, waiting until the
// uploaded file is ready. cleanup deletes the upload and is never nil.
func (g *Gemini) audioPart(ctx context.Context, files geminiFiles, audio []byte, mimeType string) (*genai.Part, func(), error) {
	noop := func() {}
	if len(audio) <= g.maxInline {
		return genai.NewPartFromBytes(audio, mimeType), noop, nil
	}

	log.Infof("gemini: uploading %.1f MB recording", float64(len(audio))/(1<<20))
	f, err := files.Upload(ctx, bytes.NewReader(audio), &genai.UploadFileConfig{
		MIMEType:    mimeType,
		DisplayName: "meetrec recording",
	})
	if err != nil {
		return nil, noop, fmt.Errorf("gemini upload: %w", err)
	}
	name := f.Name
	cleanup := func() {
		// the request context may already be done
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := files.Delete(ctx, name, nil); err != nil {
			log.Warnf("gemini: deleting upload %s: %v", name, err)
		}
	}

	for f.State == genai.FileStateProcessing {
		select {
		case <-ctx.Done():
			cleanup()
			return nil, noop, ctx.Err()
		case <-time.After(g.pollInterval):
		}
		if f, err = files.Get(ctx, name, nil); err != nil {
			cleanup()
			return nil, noop, fmt.Errorf("gemini upload status: %w", err)
		}
	}
	if f.State == genai.FileStateFailed {
		cleanup()
		msg := "processing failed"
		if f.Error != nil && f.Error.Message != "" {
			msg = f.Error.Message
		}
		return nil, noop, errors.New("gemini upload: " + msg)
	}

	fileMIME := f.MIMEType
	if fileMIME == "" {
		fileMIME = mimeType
	}
	return genai.NewPartFromURI(f.URI, fileMIME), cleanup, nil
}
