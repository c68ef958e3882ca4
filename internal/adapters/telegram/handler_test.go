package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/alekspetrov/nbpilot/internal/transcription"
)

// fakeBotAPI serves the Bot API methods the handler uses and records replies.
type fakeBotAPI struct {
	*httptest.Server
	mu      sync.Mutex
	replies []string
	updates [][]*Update
	offsets []string
}

func newFakeBotAPI(t *testing.T) *fakeBotAPI {
	t.Helper()
	f := &fakeBotAPI{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/bottok/sendMessage":
			var req SendMessageRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			f.mu.Lock()
			f.replies = append(f.replies, req.Text)
			f.mu.Unlock()
			_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1}}`))
		case "/bottok/getFile":
			if r.URL.Query().Get("file_id") == "broken" {
				_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request"}`))
				return
			}
			_, _ = w.Write([]byte(`{"ok":true,"result":{"file_path":"voice/file_1.oga"}}`))
		case "/file/bottok/voice/file_1.oga":
			_, _ = w.Write([]byte("OggS-voice"))
		case "/bottok/getUpdates":
			f.mu.Lock()
			f.offsets = append(f.offsets, r.URL.Query().Get("offset"))
			var batch []*Update
			if len(f.updates) > 0 {
				batch = f.updates[0]
				f.updates = f.updates[1:]
			}
			f.mu.Unlock()
			_ = json.NewEncoder(w).Encode(GetUpdatesResponse{OK: true, Result: batch})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeBotAPI) Replies() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.replies...)
}

type fakeForwarder struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (f *fakeForwarder) Push(ctx context.Context, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.texts = append(f.texts, text)
	return "id-1", nil
}

func (f *fakeForwarder) Texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

// fakeVoice copies the recording on Convert and returns a fixed transcript.
type fakeVoice struct {
	text          string
	transcribeErr error
	convertErr    error
	gotURL        string
	sawFile       bool
}

func (f *fakeVoice) Convert(ctx context.Context, in, out string) error {
	if f.convertErr != nil {
		return f.convertErr
	}
	data, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	return os.WriteFile(out, data, 0644)
}

func (f *fakeVoice) Transcribe(ctx context.Context, audio transcription.Audio) (*transcription.Result, error) {
	f.gotURL = audio.URL
	_, err := os.Stat(audio.Path)
	f.sawFile = err == nil
	if f.transcribeErr != nil {
		return nil, f.transcribeErr
	}
	return &transcription.Result{Text: f.text}, nil
}

func (f *fakeVoice) Format() string { return "mp3" }

func textUpdate(text string) *Update {
	return &Update{UpdateID: 1, Message: &Message{Chat: &Chat{ID: 42}, Text: text}}
}

func voiceUpdate(fileID string) *Update {
	return &Update{UpdateID: 1, Message: &Message{Chat: &Chat{ID: 42}, Voice: &Voice{FileID: fileID}}}
}

func TestHandlerText(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		forwardErr error
		wantReply  string
		wantPushed []string
	}{
		{"start command", "/start", nil, ReplyStart, nil},
		{"start addressed to bot", "/start@nbpilot_bot", nil, ReplyStart, nil},
		{"request forwarded verbatim", "  plot genres ", nil, ReplyOngoing, []string{"  plot genres "}},
		{"other command forwarded", "/help", nil, ReplyOngoing, []string{"/help"}},
		{"blank text", "   ", nil, ReplyNoText, nil},
		{"relay down", "plot genres", errors.New("connection refused"), ReplyTextFailed, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeBotAPI(t)
			fwd := &fakeForwarder{err: tt.forwardErr}
			h := NewHandler(NewClientWithBaseURL("tok", api.URL), fwd, nil, nil)

			h.processUpdate(t.Context(), textUpdate(tt.text))

			replies := api.Replies()
			if len(replies) != 1 || replies[0] != tt.wantReply {
				t.Errorf("replies = %q, want [%q]", replies, tt.wantReply)
			}
			if got := fwd.Texts(); len(got) != len(tt.wantPushed) || (len(got) > 0 && got[0] != tt.wantPushed[0]) {
				t.Errorf("pushed = %q, want %q", got, tt.wantPushed)
			}
		})
	}
}

func TestHandlerIgnoresEmptyMessages(t *testing.T) {
	api := newFakeBotAPI(t)
	h := NewHandler(NewClientWithBaseURL("tok", api.URL), &fakeForwarder{}, nil, nil)

	h.processUpdate(t.Context(), &Update{UpdateID: 1, Message: &Message{Chat: &Chat{ID: 42}}})
	h.processUpdate(t.Context(), &Update{UpdateID: 2})

	if replies := api.Replies(); len(replies) != 0 {
		t.Errorf("replies = %q, want none", replies)
	}
}

func TestHandlerVoice(t *testing.T) {
	tests := []struct {
		name       string
		fileID     string
		voice      *fakeVoice
		forwardErr error
		wantReply  string
		wantPushed bool
	}{
		{"transcribed and forwarded", "abc", &fakeVoice{text: " top genres "}, nil, ReplyOngoing, true},
		{"empty transcript", "abc", &fakeVoice{text: "  "}, nil, ReplyEmptyVoice, false},
		{"transcription fails", "abc", &fakeVoice{transcribeErr: errors.New("503")}, nil, ReplyVoiceFailed, false},
		{"conversion fails", "abc", &fakeVoice{convertErr: errors.New("ffmpeg")}, nil, ReplyVoiceFailed, false},
		{"download fails", "broken", &fakeVoice{text: "x"}, nil, ReplyVoiceFailed, false},
		{"relay down", "abc", &fakeVoice{text: "x"}, errors.New("refused"), ReplyVoiceFailed, false},
		{"missing file id", "", &fakeVoice{text: "x"}, nil, ReplyNoVoice, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeBotAPI(t)
			dir := t.TempDir()
			fwd := &fakeForwarder{err: tt.forwardErr}
			h := NewHandler(NewClientWithBaseURL("tok", api.URL), fwd, tt.voice, &HandlerConfig{
				AudioDir:  dir,
				PublicURL: "http://relay.example:8000/",
			})

			h.processUpdate(t.Context(), voiceUpdate(tt.fileID))

			replies := api.Replies()
			if len(replies) != 1 || replies[0] != tt.wantReply {
				t.Errorf("replies = %q, want [%q]", replies, tt.wantReply)
			}
			pushed := fwd.Texts()
			if tt.wantPushed != (len(pushed) == 1) {
				t.Errorf("pushed = %q, want pushed=%v", pushed, tt.wantPushed)
			}
			if tt.wantPushed && pushed[0] != "top genres" {
				t.Errorf("pushed text = %q, want trimmed transcript", pushed[0])
			}

			entries, _ := os.ReadDir(dir)
			if len(entries) != 0 {
				t.Errorf("voice files left behind: %v", entries)
			}
		})
	}
}

func TestHandlerVoiceURL(t *testing.T) {
	api := newFakeBotAPI(t)
	voice := &fakeVoice{text: "hi"}
	dir := filepath.Join(t.TempDir(), "mp3_files")
	h := NewHandler(NewClientWithBaseURL("tok", api.URL), &fakeForwarder{}, voice, &HandlerConfig{
		AudioDir:  dir,
		PublicURL: "http://relay.example:8000/",
	})

	h.processUpdate(t.Context(), voiceUpdate("AwAC-x_1"))

	if voice.gotURL != "http://relay.example:8000/voice_AwAC-x_1.mp3" {
		t.Errorf("transcription URL = %q", voice.gotURL)
	}
	if !voice.sawFile {
		t.Error("converted file should exist while transcribing")
	}
}

func TestHandlerVoiceNotConfigured(t *testing.T) {
	api := newFakeBotAPI(t)
	h := NewHandler(NewClientWithBaseURL("tok", api.URL), &fakeForwarder{}, nil, nil)

	h.processUpdate(t.Context(), voiceUpdate("abc"))

	if replies := api.Replies(); len(replies) != 1 || replies[0] != ReplyVoiceFailed {
		t.Errorf("replies = %q", replies)
	}
}

func TestSafeFileID(t *testing.T) {
	tests := map[string]string{
		"AwACAgIAAxkBAAIB":   "AwACAgIAAxkBAAIB",
		"a-b_c":              "a-b_c",
		"../../etc/passwd":   "______etc_passwd",
		"with space/and.dot": "with_space_and_dot",
	}
	for in, want := range tests {
		if got := safeFileID(in); got != want {
			t.Errorf("safeFileID(%q) = %q, want %q", in, got, want)
		}
	}
}
