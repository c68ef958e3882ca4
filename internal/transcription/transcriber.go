// Package transcription turns recorded voice requests into text.
package transcription

import (
	"context"
	"fmt"
	"time"
)

// Audio identifies a recording. URL is used by services that fetch the audio
// themselves; Path by services that receive an upload.
type Audio struct {
	Path string
	URL  string
}

// Result represents the result of a transcription
type Result struct {
	Text     string  // Transcribed text
	Language string  // Detected language (ISO 639-1 code), if reported
	Duration float64 // Audio duration in seconds, if reported
}

// Transcriber is the interface for speech-to-text services
type Transcriber interface {
	// Transcribe converts audio to text
	Transcribe(ctx context.Context, audio Audio) (*Result, error)

	// Name returns the name of the transcriber
	Name() string

	// Available checks if the transcriber is configured
	Available() bool
}

// Backend names.
const (
	BackendWhisperX   = "whisperx"
	BackendWhisperAPI = "whisper-api"
	BackendAuto       = "auto"
)

// Config holds transcription configuration
type Config struct {
	Backend string `yaml:"backend"` // "whisperx", "whisper-api" or "auto"
	// Endpoint is the WhisperX inference URL.
	Endpoint string `yaml:"endpoint"`
	// Token authenticates against the WhisperX endpoint.
	Token        string        `yaml:"token"`
	OpenAIAPIKey string        `yaml:"openai_api_key"`
	FFmpegPath   string        `yaml:"ffmpeg_path"`
	Format       string        `yaml:"format"` // transcode target, e.g. "mp3"
	Timeout      time.Duration `yaml:"timeout"`
}

// DefaultConfig returns default transcription configuration
func DefaultConfig() *Config {
	return &Config{
		Backend:    BackendWhisperX,
		Endpoint:   DefaultWhisperXEndpoint,
		FFmpegPath: "ffmpeg",
		Format:     "mp3",
		Timeout:    60 * time.Second,
	}
}

// Service manages transcription backends
type Service struct {
	config    *Config
	primary   Transcriber
	fallback  Transcriber
	converter *Converter
}

// NewService creates a transcription service for the configured backend.
// "auto" prefers WhisperX and falls back to the Whisper API when both are
// configured.
func NewService(config *Config) (*Service, error) {
	if config == nil {
		config = DefaultConfig()
	}

	s := &Service{
		config:    config,
		converter: NewConverter(config.FFmpegPath, config.Format),
	}

	whisperX := NewWhisperX(config.Endpoint, config.Token, config.Timeout)
	whisperAPI := NewWhisperAPI(config.OpenAIAPIKey)

	switch config.Backend {
	case BackendWhisperX, "":
		if !whisperX.Available() {
			return nil, fmt.Errorf("transcription token required for whisperx (set TOKEN or transcription.token)")
		}
		s.primary = whisperX
	case BackendWhisperAPI:
		if !whisperAPI.Available() {
			return nil, fmt.Errorf("OpenAI API key required for transcription (set openai_api_key in config)")
		}
		s.primary = whisperAPI
	case BackendAuto:
		switch {
		case whisperX.Available():
			s.primary = whisperX
			if whisperAPI.Available() {
				s.fallback = whisperAPI
			}
		case whisperAPI.Available():
			s.primary = whisperAPI
		default:
			return nil, fmt.Errorf("no transcription backend available")
		}
	default:
		return nil, fmt.Errorf("unknown transcription backend %q", config.Backend)
	}

	return s, nil
}

// Transcribe transcribes the recording.
func (s *Service) Transcribe(ctx context.Context, audio Audio) (*Result, error) {
	result, err := s.primary.Transcribe(ctx, audio)
	if err != nil {
		if s.fallback != nil {
			result, err = s.fallback.Transcribe(ctx, audio)
			if err != nil {
				return nil, fmt.Errorf("transcription failed (primary and fallback): %w", err)
			}
			return result, nil
		}
		return nil, fmt.Errorf("transcription failed: %w", err)
	}

	return result, nil
}

// Convert transcodes a recording to the configured format.
func (s *Service) Convert(ctx context.Context, inputPath, outputPath string) error {
	return s.converter.Convert(ctx, inputPath, outputPath)
}

// Format returns the transcode target extension without the dot.
func (s *Service) Format() string {
	return s.converter.Format()
}

// Available returns true if at least one transcriber is available
func (s *Service) Available() bool {
	if s.primary != nil && s.primary.Available() {
		return true
	}
	if s.fallback != nil && s.fallback.Available() {
		return true
	}
	return false
}

// BackendName returns the name of the active backend
func (s *Service) BackendName() string {
	if s.primary != nil {
		return s.primary.Name()
	}
	return "none"
}
