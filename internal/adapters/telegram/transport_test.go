package telegram

import (
	"testing"
	"time"
)

func TestTransport_isAllowed(t *testing.T) {
	tests := []struct {
		name    string
		allowed []int64
		msg     *Message
		want    bool
	}{
		{
			name: "no restrictions",
			msg:  &Message{Chat: &Chat{ID: 123}},
			want: true,
		},
		{
			name:    "chat allowed",
			allowed: []int64{123},
			msg:     &Message{Chat: &Chat{ID: 123}},
			want:    true,
		},
		{
			name:    "sender allowed",
			allowed: []int64{456},
			msg:     &Message{Chat: &Chat{ID: 999}, From: &User{ID: 456}},
			want:    true,
		},
		{
			name:    "neither allowed",
			allowed: []int64{789},
			msg:     &Message{Chat: &Chat{ID: 111}, From: &User{ID: 222}},
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := NewTransport(nil, nil, &TransportConfig{AllowedIDs: tt.allowed})
			if got := transport.isAllowed(tt.msg); got != tt.want {
				t.Errorf("isAllowed() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTransportPollsAndAcknowledges(t *testing.T) {
	api := newFakeBotAPI(t)
	api.updates = [][]*Update{
		{
			{UpdateID: 10, Message: &Message{Chat: &Chat{ID: 42}, Text: "/start"}},
			{UpdateID: 11, Message: &Message{Chat: &Chat{ID: 7}, Text: "blocked"}},
		},
	}

	client := NewClientWithBaseURL("tok", api.URL)
	fwd := &fakeForwarder{}
	handler := NewHandler(client, fwd, nil, nil)
	transport := NewTransport(client, handler, &TransportConfig{
		AllowedIDs:   []int64{42},
		PollTimeout:  1,
		ErrorBackoff: 10 * time.Millisecond,
	})

	transport.StartPolling(t.Context())

	deadline := time.Now().Add(5 * time.Second)
	for transport.Offset() != 12 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	transport.Stop()

	if transport.Offset() != 12 {
		t.Fatalf("Offset() = %d, want 12", transport.Offset())
	}
	if replies := api.Replies(); len(replies) != 1 || replies[0] != ReplyStart {
		t.Errorf("replies = %q, want only the /start reply", replies)
	}
	if texts := fwd.Texts(); len(texts) != 0 {
		t.Errorf("unauthorized message forwarded: %q", texts)
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.offsets) < 2 || api.offsets[0] != "0" || api.offsets[1] != "12" {
		t.Errorf("requested offsets = %v, want 0 then 12", api.offsets)
	}
}

func TestTransportStopIsIdempotent(t *testing.T) {
	api := newFakeBotAPI(t)
	client := NewClientWithBaseURL("tok", api.URL)
	transport := NewTransport(client, NewHandler(client, &fakeForwarder{}, nil, nil), &TransportConfig{PollTimeout: 1})

	transport.StartPolling(t.Context())
	transport.Stop()
	transport.Stop()
}
