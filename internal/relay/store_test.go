package relay

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
)

func TestMemoryStoreEmpty(t *testing.T) {
	s := NewMemoryStore()

	_, ok, err := s.Get(context.Background())
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ok {
		t.Error("new store should be empty")
	}
}

func TestMemoryStoreLastWriteWins(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		msg := Message{ID: fmt.Sprintf("id-%d", i), Text: fmt.Sprintf("text %d", i)}
		if err := s.Set(ctx, msg); err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		got, ok, err := s.Get(ctx)
		if err != nil || !ok {
			t.Fatalf("Get after Set: ok=%v err=%v", ok, err)
		}
		if got != msg {
			t.Errorf("Get = %+v, want %+v", got, msg)
		}
	}
}

func TestMemoryStoreConcurrent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = s.Set(ctx, Message{ID: fmt.Sprintf("%d", i), Text: "x"})
		}(i)
		go func() {
			defer wg.Done()
			_, _, _ = s.Get(ctx)
		}()
	}
	wg.Wait()

	if _, ok, _ := s.Get(ctx); !ok {
		t.Error("expected a message after concurrent pushes")
	}
}

func TestRedisStore(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}

	s, err := NewRedisStore(url, "nbpilot:test:last_msg")
	if err != nil {
		t.Fatalf("NewRedisStore failed: %v", err)
	}
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	if err := s.Ping(ctx); err != nil {
		t.Skipf("redis not reachable: %v", err)
	}
	_ = s.client.Del(ctx, s.key).Err()

	if _, ok, err := s.Get(ctx); err != nil || ok {
		t.Fatalf("expected empty slot, ok=%v err=%v", ok, err)
	}

	_ = s.Set(ctx, Message{ID: "a1", Text: "hello"})
	_ = s.Set(ctx, Message{ID: "a2", Text: "world"})

	got, ok, err := s.Get(ctx)
	if err != nil || !ok {
		t.Fatalf("Get failed: ok=%v err=%v", ok, err)
	}
	if got.ID != "a2" || got.Text != "world" {
		t.Errorf("Get = %+v, want a2/world", got)
	}
}

func TestNewRedisStoreBadURL(t *testing.T) {
	if _, err := NewRedisStore("not a url", ""); err == nil {
		t.Error("expected error for invalid url")
	}
}
