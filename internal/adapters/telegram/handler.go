package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/alekspetrov/nbpilot/internal/logging"
	"github.com/alekspetrov/nbpilot/internal/transcription"
)

// Replies sent to the user.
const (
	ReplyStart       = "Ask your question"
	ReplyOngoing     = "Your request is ongoing."
	ReplyNoText      = "No text found."
	ReplyTextFailed  = "Something wrong happened."
	ReplyEmptyVoice  = "Request is empty"
	ReplyNoVoice     = "No request."
	ReplyVoiceFailed = "Something wrong happened"
)

// Forwarder pushes a request to the relay and returns its id.
// *relay.Client implements it.
type Forwarder interface {
	Push(ctx context.Context, text string) (string, error)
}

// VoiceProcessor transcodes and transcribes voice notes.
// *transcription.Service implements it.
type VoiceProcessor interface {
	Convert(ctx context.Context, inputPath, outputPath string) error
	Transcribe(ctx context.Context, audio transcription.Audio) (*transcription.Result, error)
	Format() string
}

// HandlerConfig holds configuration for the Telegram handler
type HandlerConfig struct {
	// AudioDir is where voice notes are stored while they are processed. The
	// relay serves the same directory.
	AudioDir string
	// PublicURL is the relay base URL the transcription service fetches
	// recordings from.
	PublicURL string
	// TranscribeTimeout bounds one transcription request.
	TranscribeTimeout time.Duration
}

// Handler processes incoming Telegram messages and forwards requests.
type Handler struct {
	client    *Client
	forwarder Forwarder
	voice     VoiceProcessor // nil when transcription is not configured
	audioDir  string
	publicURL string
	timeout   time.Duration
}

// NewHandler creates a new Telegram message handler
func NewHandler(client *Client, forwarder Forwarder, voice VoiceProcessor, config *HandlerConfig) *Handler {
	if config == nil {
		config = &HandlerConfig{}
	}
	timeout := config.TranscribeTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Handler{
		client:    client,
		forwarder: forwarder,
		voice:     voice,
		audioDir:  config.AudioDir,
		publicURL: strings.TrimSuffix(config.PublicURL, "/"),
		timeout:   timeout,
	}
}

// processUpdate routes one update: voice notes, /start, then plain text.
func (h *Handler) processUpdate(ctx context.Context, update *Update) {
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return
	}
	chatID := strconv.FormatInt(msg.Chat.ID, 10)

	switch {
	case msg.Voice != nil:
		h.handleVoice(ctx, chatID, msg.Voice)
	case isCommand(msg.Text, "start"):
		h.reply(ctx, chatID, ReplyStart)
	case msg.Text != "":
		h.handleText(ctx, chatID, msg.Text)
	default:
		logging.WithComponent("telegram").Debug("Ignoring message without text or voice",
			slog.String("chat_id", chatID))
	}
}

// handleText forwards the message text to the relay.
func (h *Handler) handleText(ctx context.Context, chatID, text string) {
	if strings.TrimSpace(text) == "" {
		h.reply(ctx, chatID, ReplyNoText)
		return
	}

	id, err := h.forwarder.Push(ctx, text)
	if err != nil {
		logging.WithComponent("telegram").Error("Issue during text processing", slog.Any("error", err))
		h.reply(ctx, chatID, ReplyTextFailed)
		return
	}

	logging.WithRequest(id).Info("Request forwarded", slog.String("chat_id", chatID), slog.String("kind", "text"))
	h.reply(ctx, chatID, ReplyOngoing)
}

// handleVoice downloads, transcodes and transcribes a voice note, then
// forwards the transcript. Local files are removed on every path.
func (h *Handler) handleVoice(ctx context.Context, chatID string, voice *Voice) {
	if voice == nil || voice.FileID == "" {
		h.reply(ctx, chatID, ReplyNoVoice)
		return
	}
	if h.voice == nil {
		logging.WithComponent("telegram").Warn("Voice message received but transcription not configured")
		h.reply(ctx, chatID, ReplyVoiceFailed)
		return
	}

	base := "voice_" + safeFileID(voice.FileID)
	srcPath := filepath.Join(h.audioDir, base+".ogg")
	outName := base + "." + h.voice.Format()
	outPath := filepath.Join(h.audioDir, outName)
	defer removeFiles(srcPath, outPath)

	text, err := h.transcribeVoice(ctx, voice.FileID, srcPath, outPath, outName)
	if err != nil {
		logging.WithComponent("telegram").Error("Issue during transcribing", slog.Any("error", err))
		h.reply(ctx, chatID, ReplyVoiceFailed)
		return
	}

	if text == "" {
		h.reply(ctx, chatID, ReplyEmptyVoice)
		return
	}

	id, err := h.forwarder.Push(ctx, text)
	if err != nil {
		logging.WithComponent("telegram").Error("Issue during transcribing", slog.Any("error", err))
		h.reply(ctx, chatID, ReplyVoiceFailed)
		return
	}

	logging.WithRequest(id).Info("Request forwarded", slog.String("chat_id", chatID), slog.String("kind", "voice"))
	h.reply(ctx, chatID, ReplyOngoing)
}

func (h *Handler) transcribeVoice(ctx context.Context, fileID, srcPath, outPath, outName string) (string, error) {
	log := logging.WithComponent("telegram")

	log.Debug("Downloading voice request", slog.String("file_id", fileID))
	if err := h.downloadAudio(ctx, fileID, srcPath); err != nil {
		return "", err
	}

	log.Debug("Converting voice request", slog.String("path", outPath))
	if err := h.voice.Convert(ctx, srcPath, outPath); err != nil {
		return "", err
	}

	log.Debug("Transcribing voice request")
	tctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	result, err := h.voice.Transcribe(tctx, transcription.Audio{
		Path: outPath,
		URL:  h.publicURL + "/" + url.PathEscape(outName),
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(result.Text), nil
}

// downloadAudio saves a Telegram file to dest.
func (h *Handler) downloadAudio(ctx context.Context, fileID, dest string) error {
	file, err := h.client.GetFile(ctx, fileID)
	if err != nil {
		return fmt.Errorf("getFile failed: %w", err)
	}

	if file.FilePath == "" {
		return fmt.Errorf("file path not available")
	}

	data, err := h.client.DownloadFile(ctx, file.FilePath)
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("failed to create audio dir: %w", err)
	}
	if err := os.WriteFile(dest, data, 0644); err != nil {
		return fmt.Errorf("failed to write voice file: %w", err)
	}
	return nil
}

func (h *Handler) reply(ctx context.Context, chatID, text string) {
	if _, err := h.client.SendMessage(ctx, chatID, text, ""); err != nil {
		logging.WithComponent("telegram").Warn("Failed to send reply",
			slog.String("chat_id", chatID), slog.Any("error", err))
	}
}

// isCommand reports whether text is /name, optionally addressed to a bot
// (/name@bot) and followed by arguments.
func isCommand(text, name string) bool {
	if !strings.HasPrefix(text, "/") {
		return false
	}
	cmd := strings.Fields(text)[0]
	cmd, _, _ = strings.Cut(cmd[1:], "@")
	return cmd == name
}

// safeFileID keeps file ids usable as file names.
func safeFileID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, id)
}

func removeFiles(paths ...string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			logging.WithComponent("telegram").Warn("Failed to remove voice file",
				slog.String("path", p), slog.Any("error", err))
		}
	}
}
