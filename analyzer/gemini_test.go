package analyzer

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type fakeFiles struct {
	mu       sync.Mutex
	uploaded []byte
	mime     string

	// states returned by successive Get calls
	states  []genai.FileState
	gets    int
	deleted []string
	failMsg string
}

func (f *fakeFiles) Upload(_ context.Context, r io.Reader, cfg *genai.UploadFileConfig) (*genai.File, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploaded, f.mime = data, cfg.MIMEType
	return &genai.File{Name: "files/abc", URI: "https://files/abc", MIMEType: cfg.MIMEType, State: genai.FileStateProcessing}, nil
}

func (f *fakeFiles) Get(_ context.Context, name string, _ *genai.GetFileConfig) (*genai.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := genai.FileStateActive
	if f.gets < len(f.states) {
		state = f.states[f.gets]
	}
	f.gets++
	file := &genai.File{Name: name, URI: "https://files/abc", MIMEType: f.mime, State: state}
	if state == genai.FileStateFailed {
		file.Error = &genai.FileStatus{Message: f.failMsg}
	}
	return file, nil
}

func (f *fakeFiles) Delete(_ context.Context, name string, _ *genai.DeleteFileConfig) (*genai.DeleteFileResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, name)
	return &genai.DeleteFileResponse{}, nil
}

func newTestGemini(maxInline int) *Gemini {
	g := NewGemini("k", "", DefaultPrompt)
	g.maxInline = maxInline
	g.pollInterval = time.Millisecond
	return g
}

func TestGeminiSmallAudioIsInlined(t *testing.T) {
	files := &fakeFiles{}
	part, cleanup, err := newTestGemini(16).audioPart(context.Background(), files, []byte("short"), "audio/flac")
	require.NoError(t, err)
	cleanup()

	require.NotNil(t, part.InlineData)
	assert.Equal(t, []byte("short"), part.InlineData.Data)
	assert.Nil(t, files.uploaded)
	assert.Empty(t, files.deleted)
}

func TestGeminiLargeAudioIsUploaded(t *testing.T) {
	files := &fakeFiles{states: []genai.FileState{genai.FileStateProcessing, genai.FileStateActive}}
	audio := []byte("a long meeting")
	part, cleanup, err := newTestGemini(4).audioPart(context.Background(), files, audio, "audio/flac")
	require.NoError(t, err)

	assert.Nil(t, part.InlineData)
	require.NotNil(t, part.FileData)
	assert.Equal(t, "https://files/abc", part.FileData.FileURI)
	assert.Equal(t, "audio/flac", part.FileData.MIMEType)
	assert.Equal(t, audio, files.uploaded)
	assert.Equal(t, 2, files.gets)
	assert.Empty(t, files.deleted)

	cleanup()
	assert.Equal(t, []string{"files/abc"}, files.deleted)
}

func TestGeminiUploadProcessingFailed(t *testing.T) {
	files := &fakeFiles{states: []genai.FileState{genai.FileStateFailed}, failMsg: "unsupported audio"}
	_, cleanup, err := newTestGemini(4).audioPart(context.Background(), files, []byte("a long meeting"), "audio/flac")
	require.Error(t, err)
	cleanup()

	assert.Contains(t, err.Error(), "unsupported audio")
	assert.Equal(t, []string{"files/abc"}, files.deleted)
}

func TestGeminiUploadCancelled(t *testing.T) {
	files := &fakeFiles{states: []genai.FileState{genai.FileStateProcessing, genai.FileStateProcessing}}
	g := newTestGemini(4)
	g.pollInterval = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := g.audioPart(ctx, files, []byte("a long meeting"), "audio/flac")
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	assert.Equal(t, []string{"files/abc"}, files.deleted)
}
