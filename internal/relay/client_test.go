package relay

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientRoundTrip(t *testing.T) {
	_, h := newTestServer(t)
	ts := httptest.NewServer(h)
	defer ts.Close()

	c := NewClient(ts.URL + "/")
	ctx := context.Background()

	if _, err := c.GetLastMessage(ctx); !errors.Is(err, ErrNoMessage) {
		t.Fatalf("expected ErrNoMessage, got %v", err)
	}

	id, err := c.Push(ctx, "hello")
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if id == "" {
		t.Fatal("Push returned empty id")
	}

	msg, err := c.GetLastMessage(ctx)
	if err != nil {
		t.Fatalf("GetLastMessage failed: %v", err)
	}
	if msg.ID != id || msg.Text != "hello" {
		t.Errorf("got %+v, want id=%s text=hello", msg, id)
	}
}

func TestClientMalformedResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>oops</html>"))
	}))
	defer ts.Close()

	_, err := NewClient(ts.URL).GetLastMessage(context.Background())
	if err == nil || errors.Is(err, ErrNoMessage) {
		t.Errorf("expected parse error, got %v", err)
	}
}

func TestClientServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	c := NewClient(ts.URL)
	if _, err := c.GetLastMessage(context.Background()); err == nil {
		t.Error("expected error on 502")
	}
	if err := c.PushMessage(context.Background(), NewMessage("x")); err == nil {
		t.Error("expected push error on 502")
	}
}

func TestClientPushEmptyFields(t *testing.T) {
	_, h := newTestServer(t)
	ts := httptest.NewServer(h)
	defer ts.Close()

	err := NewClient(ts.URL).PushMessage(context.Background(), Message{})
	if err != nil {
		t.Fatalf("empty strings are still present fields, got %v", err)
	}
}

func TestClientURLs(t *testing.T) {
	tests := []struct {
		base string
		ws   string
		file string
	}{
		{"http://127.0.0.1:8000/", "ws://127.0.0.1:8000/ws", "http://127.0.0.1:8000/voice_1.mp3"},
		{"https://relay.example.com", "wss://relay.example.com/ws", "https://relay.example.com/voice_1.mp3"},
	}

	for _, tt := range tests {
		c := NewClient(tt.base)
		if got := c.WebSocketURL(); got != tt.ws {
			t.Errorf("WebSocketURL(%s) = %s, want %s", tt.base, got, tt.ws)
		}
		if got := c.FileURL("voice_1.mp3"); got != tt.file {
			t.Errorf("FileURL(%s) = %s, want %s", tt.base, got, tt.file)
		}
	}
}
