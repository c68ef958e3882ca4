package transcription

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestWhisperXTranscribe(t *testing.T) {
	var gotAuth, gotInput string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotInput = body["audio_input"]

		_, _ = w.Write([]byte(`{"segments":[{"text":" Which genre ","end":1.5},{"text":"sells best? ","end":3.2}],"language":"en"}`))
	}))
	defer server.Close()

	w := NewWhisperX(server.URL, "tok", time.Second)
	res, err := w.Transcribe(t.Context(), Audio{URL: "http://relay:8000/voice_abc.mp3"})
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}

	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q, want Bearer tok", gotAuth)
	}
	if gotInput != "http://relay:8000/voice_abc.mp3" {
		t.Errorf("audio_input = %q", gotInput)
	}
	if res.Text != "Which genre  sells best?" {
		t.Errorf("Text = %q", res.Text)
	}
	if res.Language != "en" || res.Duration != 3.2 {
		t.Errorf("Result = %+v", res)
	}
}

func TestWhisperXResponses(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantText string
		wantErr  string
	}{
		{"no segments", http.StatusOK, `{}`, "", ""},
		{"blank segments", http.StatusOK, `{"segments":[{"text":"  "}]}`, "", ""},
		{"server error", http.StatusInternalServerError, `boom`, "", "status 500"},
		{"malformed", http.StatusOK, `{"segments":`, "", "parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			res, err := NewWhisperX(server.URL, "tok", time.Second).Transcribe(t.Context(), Audio{URL: "http://x/a.mp3"})
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Transcribe() error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Transcribe() error = %v", err)
			}
			if res.Text != tt.wantText {
				t.Errorf("Text = %q, want %q", res.Text, tt.wantText)
			}
		})
	}
}

func TestWhisperXRequiresTokenAndURL(t *testing.T) {
	if _, err := NewWhisperX("", "", 0).Transcribe(t.Context(), Audio{URL: "http://x"}); err == nil {
		t.Error("Transcribe() without token should fail")
	}
	if _, err := NewWhisperX("", "tok", 0).Transcribe(t.Context(), Audio{Path: "/tmp/a.mp3"}); err == nil {
		t.Error("Transcribe() without URL should fail")
	}
}
