package source

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestConsoleReadsLines(t *testing.T) {
	in := strings.NewReader("first task\n\n   \nsecond task  \n")
	var out bytes.Buffer
	c := NewConsole(in, &out)
	ctx := context.Background()

	r1, err := c.Next(ctx)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if r1.Text != "first task" || r1.ID == "" {
		t.Errorf("got %+v", r1)
	}

	r2, err := c.Next(ctx)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if r2.Text != "second task  " {
		t.Errorf("line not returned verbatim: %q", r2.Text)
	}
	if r1.ID == r2.ID {
		t.Error("each line must get its own id")
	}

	if _, err := c.Next(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF, got %v", err)
	}

	if out.Len() != 0 {
		t.Errorf("no prompt expected for non-terminal input, got %q", out.String())
	}
}

func TestConsolePrompt(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(strings.NewReader("task\n"), &out)
	c.SetPrompt("> ")

	if _, err := c.Next(context.Background()); err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if out.String() != "> " {
		t.Errorf("prompt = %q", out.String())
	}
}

func TestConsoleContextCancelled(t *testing.T) {
	pr, pw := io.Pipe()
	defer func() { _ = pw.Close() }()

	c := NewConsole(pr, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
