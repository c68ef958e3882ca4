package transcription

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Converter transcodes voice recordings with ffmpeg.
type Converter struct {
	ffmpegPath string
	format     string
}

// NewConverter creates a converter producing format (e.g. "mp3").
func NewConverter(ffmpegPath, format string) *Converter {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if format == "" {
		format = "mp3"
	}
	return &Converter{
		ffmpegPath: ffmpegPath,
		format:     strings.TrimPrefix(format, "."),
	}
}

// Format returns the target format.
func (c *Converter) Format() string {
	return c.format
}

// Convert transcodes inputPath to outputPath, overwriting it.
func (c *Converter) Convert(ctx context.Context, inputPath, outputPath string) error {
	if _, err := os.Stat(inputPath); os.IsNotExist(err) {
		return fmt.Errorf("input file does not exist: %s", inputPath)
	}

	// -vn drops cover art streams some clients attach to voice notes.
	cmd := exec.CommandContext(ctx, c.ffmpegPath,
		"-i", inputPath,
		"-vn",
		"-f", c.format,
		"-y",
		outputPath,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg conversion failed: %w\nOutput: %s", err, string(output))
	}

	return nil
}

// CheckFFmpeg checks if ffmpeg is available
func CheckFFmpeg(ffmpegPath string) error {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}

	cmd := exec.Command(ffmpegPath, "-version")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg not found or not executable: %w", err)
	}
	return nil
}
