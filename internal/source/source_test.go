package source

import (
	"errors"
	"testing"
	"time"
)

func TestSeenSet(t *testing.T) {
	s := NewSeenSet()

	if !s.Add("a") {
		t.Error("first Add should report new")
	}
	if s.Add("a") {
		t.Error("second Add should report seen")
	}
	if !s.Has("a") || s.Has("b") {
		t.Error("Has returned wrong result")
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}

func TestRetryPolicyDelay(t *testing.T) {
	tests := []struct {
		name   string
		policy RetryPolicy
		err    error
		want   time.Duration
	}{
		{"success uses interval", RetryPolicy{Interval: time.Second, Backoff: 5 * time.Second}, nil, time.Second},
		{"error uses backoff", RetryPolicy{Interval: time.Second, Backoff: 5 * time.Second}, errors.New("boom"), 5 * time.Second},
		{"zero interval defaults", RetryPolicy{}, nil, time.Second},
		{"zero backoff defaults", RetryPolicy{}, errors.New("boom"), 5 * time.Second},
		{"custom", RetryPolicy{Interval: 10 * time.Millisecond, Backoff: 20 * time.Millisecond}, errors.New("x"), 20 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.Delay(tt.err); got != tt.want {
				t.Errorf("Delay() = %v, want %v", got, tt.want)
			}
		})
	}
}
