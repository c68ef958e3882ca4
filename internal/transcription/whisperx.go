package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultWhisperXEndpoint is the hosted WhisperX inference endpoint.
const DefaultWhisperXEndpoint = "https://fin-02.inference.datacrunch.io/v1/raw/whisperx/predict"

// WhisperX transcribes audio the service downloads from a public URL.
type WhisperX struct {
	endpoint   string
	token      string
	httpClient *http.Client
}

// NewWhisperX creates a WhisperX transcriber.
func NewWhisperX(endpoint, token string, timeout time.Duration) *WhisperX {
	if endpoint == "" {
		endpoint = DefaultWhisperXEndpoint
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &WhisperX{
		endpoint: endpoint,
		token:    token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Name returns the transcriber name
func (w *WhisperX) Name() string {
	return BackendWhisperX
}

// Available reports whether a token is configured.
func (w *WhisperX) Available() bool {
	return w.token != ""
}

// Transcribe asks the service to fetch audio.URL and joins the returned
// segment texts with single spaces.
func (w *WhisperX) Transcribe(ctx context.Context, audio Audio) (*Result, error) {
	if !w.Available() {
		return nil, fmt.Errorf("whisperx not available (no token)")
	}
	if audio.URL == "" {
		return nil, fmt.Errorf("whisperx needs a public audio URL")
	}

	body, err := json.Marshal(map[string]string{"audio_input": audio.URL})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+w.token)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("whisperx error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var apiResp struct {
		Segments []struct {
			Text  string  `json:"text"`
			Start float64 `json:"start"`
			End   float64 `json:"end"`
		} `json:"segments"`
		Language string `json:"language"`
	}
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to parse whisperx response: %w", err)
	}

	texts := make([]string, 0, len(apiResp.Segments))
	var duration float64
	for _, seg := range apiResp.Segments {
		texts = append(texts, seg.Text)
		if seg.End > duration {
			duration = seg.End
		}
	}

	return &Result{
		Text:     strings.TrimSpace(strings.Join(texts, " ")),
		Language: apiResp.Language,
		Duration: duration,
	}, nil
}
