package source

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
)

// DefaultPrompt is printed before each line when reading from a terminal.
const DefaultPrompt = "Enter task: "

type line struct {
	text string
	err  error
}

// Console reads one request per line of input.
type Console struct {
	in     io.Reader
	out    io.Writer
	prompt string
	lines  chan line
}

// NewConsole reads requests from in. The prompt is written to out only when
// in is a terminal.
func NewConsole(in io.Reader, out io.Writer) *Console {
	c := &Console{in: in, out: out}
	if f, ok := in.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		c.prompt = DefaultPrompt
	}
	return c
}

// SetPrompt overrides the prompt; an empty prompt disables it.
func (c *Console) SetPrompt(prompt string) {
	c.prompt = prompt
}

// Next returns the next non-blank line verbatim. It returns io.EOF when the
// input ends.
func (c *Console) Next(ctx context.Context) (Request, error) {
	if c.lines == nil {
		c.lines = make(chan line)
		go c.readLines()
	}

	for {
		if c.prompt != "" && c.out != nil {
			_, _ = fmt.Fprint(c.out, c.prompt)
		}

		select {
		case <-ctx.Done():
			return Request{}, ctx.Err()
		case l, ok := <-c.lines:
			if !ok {
				return Request{}, io.EOF
			}
			if l.err != nil {
				return Request{}, l.err
			}
			if strings.TrimSpace(l.text) == "" {
				continue
			}
			return Request{ID: uuid.New().String(), Text: l.text}, nil
		}
	}
}

func (c *Console) readLines() {
	defer close(c.lines)

	scanner := bufio.NewScanner(c.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		c.lines <- line{text: scanner.Text()}
	}
	if err := scanner.Err(); err != nil {
		c.lines <- line{err: fmt.Errorf("failed to read input: %w", err)}
	}
}
