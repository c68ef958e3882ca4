package telegram

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGetUpdates(t *testing.T) {
	tests := []struct {
		name       string
		response   GetUpdatesResponse
		statusCode int
		wantErr    error
		wantCount  int
	}{
		{
			name: "updates returned",
			response: GetUpdatesResponse{
				OK:     true,
				Result: []*Update{{UpdateID: 1}, {UpdateID: 2}},
			},
			statusCode: http.StatusOK,
			wantCount:  2,
		},
		{
			name: "conflict - another instance running",
			response: GetUpdatesResponse{
				OK:          false,
				ErrorCode:   409,
				Description: "Conflict: terminated by other getUpdates request",
			},
			statusCode: http.StatusConflict,
			wantErr:    ErrConflict,
		},
		{
			name: "other API error",
			response: GetUpdatesResponse{
				OK:          false,
				ErrorCode:   401,
				Description: "Unauthorized",
			},
			statusCode: http.StatusUnauthorized,
			wantErr:    errors.New("telegram API error"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotQuery string
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/bottest-token/getUpdates" {
					http.NotFound(w, r)
					return
				}
				gotQuery = r.URL.RawQuery
				w.WriteHeader(tt.statusCode)
				_ = json.NewEncoder(w).Encode(tt.response)
			}))
			defer server.Close()

			client := NewClientWithBaseURL("test-token", server.URL)
			updates, err := client.GetUpdates(t.Context(), 7, 25)

			if gotQuery != "offset=7&timeout=25" {
				t.Errorf("query = %q", gotQuery)
			}
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("GetUpdates() error = %v", err)
				}
				if len(updates) != tt.wantCount {
					t.Errorf("got %d updates, want %d", len(updates), tt.wantCount)
				}
				return
			}
			if err == nil {
				t.Fatal("GetUpdates() should fail")
			}
			if errors.Is(tt.wantErr, ErrConflict) != errors.Is(err, ErrConflict) {
				t.Errorf("error = %v, ErrConflict match mismatch", err)
			}
			if !errors.Is(tt.wantErr, ErrConflict) && !strings.Contains(err.Error(), tt.wantErr.Error()) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCheckSingleton(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("timeout") != "0" {
			t.Errorf("CheckSingleton should not long-poll, query %q", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode(GetUpdatesResponse{OK: true})
	}))
	defer server.Close()

	if err := NewClientWithBaseURL("tok", server.URL).CheckSingleton(t.Context()); err != nil {
		t.Errorf("CheckSingleton() error = %v", err)
	}
}

func TestSendMessage(t *testing.T) {
	var got SendMessageRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bottok/sendMessage" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":5}}`))
	}))
	defer server.Close()

	resp, err := NewClientWithBaseURL("tok", server.URL).SendMessage(t.Context(), "42", "hello", "")
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if resp.Result.MessageID != 5 {
		t.Errorf("MessageID = %d, want 5", resp.Result.MessageID)
	}
	if got.ChatID != "42" || got.Text != "hello" {
		t.Errorf("request = %+v", got)
	}
}

func TestGetFileAndDownload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/bottok/getFile":
			if r.URL.Query().Get("file_id") != "abc" {
				_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: invalid file_id"}`))
				return
			}
			_, _ = w.Write([]byte(`{"ok":true,"result":{"file_id":"abc","file_path":"voice/file_1.oga"}}`))
		case "/file/bottok/voice/file_1.oga":
			_, _ = w.Write([]byte("OggS"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := NewClientWithBaseURL("tok", server.URL)

	file, err := client.GetFile(t.Context(), "abc")
	if err != nil {
		t.Fatalf("GetFile() error = %v", err)
	}
	if file.FilePath != "voice/file_1.oga" {
		t.Errorf("FilePath = %q", file.FilePath)
	}

	data, err := client.DownloadFile(t.Context(), file.FilePath)
	if err != nil {
		t.Fatalf("DownloadFile() error = %v", err)
	}
	if string(data) != "OggS" {
		t.Errorf("data = %q", data)
	}

	if _, err := client.GetFile(t.Context(), "nope"); err == nil {
		t.Error("GetFile() with bad id should fail")
	}
	if _, err := client.DownloadFile(t.Context(), "voice/missing.oga"); err == nil {
		t.Error("DownloadFile() of missing file should fail")
	}
}
