package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"

	"meetrec/encoder"
)

const (
	groqBaseURL       = "https://api.groq.com/openai/v1"
	groqWhisperModel  = "whisper-large-v3-turbo"
	DefaultGroqModel  = "llama-3.3-70b-versatile"
	groqSummaryPrompt = "Summarize the following meeting transcript. List the key decisions and action items as bullets."

	// Whisper rejects larger uploads with a bare 413.
	groqMaxUpload = 25 << 20
)

// Groq transcribes with Whisper, then asks a chat model for the summary.
type Groq struct {
	client  *TracedClient
	apiKey  string
	model   string
	prompt  string
	baseURL string

	maxUpload int
}

func NewGroq(apiKey, model, prompt string) *Groq {
	if model == "" || strings.HasPrefix(model, "gemini") {
		model = DefaultGroqModel
	}
	return &Groq{
		client:  NewTracedClient(),
		apiKey:  apiKey,
		model:   model,
		prompt:  prompt,
		baseURL: groqBaseURL,

		maxUpload: groqMaxUpload,
	}
}

func (g *Groq) Name() string { return "groq" }

func (g *Groq) Analyze(ctx context.Context, audio []byte, mimeType string) (*Result, error) {
	if g.apiKey == "" {
		return nil, fmt.Errorf("%w: set GROQ_API_KEY or groq_api_key in the config file", ErrMissingCredential)
	}
	if len(audio) > g.maxUpload {
		return nil, fmt.Errorf("%w: %.1f MB is over Groq's %d MB transcription limit; use provider gemini for long meetings",
			ErrTooLarge, float64(len(audio))/(1<<20), g.maxUpload>>20)
	}

	metrics := &NetworkMetrics{}
	transcript, m, err := g.transcribe(ctx, audio, mimeType)
	metrics.Add(m)
	if err != nil {
		return nil, err
	}
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return &Result{Metrics: metrics}, nil
	}

	summary, m, err := g.summarize(ctx, transcript)
	metrics.Add(m)
	if err != nil {
		return nil, err
	}
	return &Result{Transcription: transcript, Summary: summary, Metrics: metrics}, nil
}

type groqTranscription struct {
	Text string `json:"text"`
}

func (g *Groq) transcribe(ctx context.Context, audio []byte, mimeType string) (string, *NetworkMetrics, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "audio."+encoder.Extension(mimeType))
	if err != nil {
		return "", nil, err
	}
	if _, err := part.Write(audio); err != nil {
		return "", nil, err
	}
	writer.WriteField("model", groqWhisperModel)
	writer.WriteField("response_format", "json")
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return "", nil, err
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := g.client.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("groq transcription: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", resp.Metrics, fmt.Errorf("groq API error %d: %s", resp.StatusCode, string(resp.Body))
	}

	var tr groqTranscription
	if err := json.Unmarshal(resp.Body, &tr); err != nil {
		return "", resp.Metrics, fmt.Errorf("groq response parse error: %w", err)
	}
	return tr.Text, resp.Metrics, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (g *Groq) summarize(ctx context.Context, transcript string) (string, *NetworkMetrics, error) {
	system := groqSummaryPrompt
	if g.prompt != DefaultPrompt {
		system = g.prompt
	}
	payload, err := json.Marshal(chatRequest{
		Model: g.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: transcript},
		},
	})
	if err != nil {
		return "", nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", nil, err
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("groq chat: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", resp.Metrics, fmt.Errorf("groq API error %d: %s", resp.StatusCode, string(resp.Body))
	}

	var cr chatResponse
	if err := json.Unmarshal(resp.Body, &cr); err != nil {
		return "", resp.Metrics, fmt.Errorf("groq response parse error: %w", err)
	}
	if len(cr.Choices) == 0 {
		return "", resp.Metrics, fmt.Errorf("groq chat returned no choices")
	}

	// A custom prompt may still answer in the sectioned format.
	text := cr.Choices[0].Message.Content
	if _, summary := ParseSections(text); summary != "" {
		return summary, resp.Metrics, nil
	}
	return strings.TrimSpace(text), resp.Metrics, nil
}
