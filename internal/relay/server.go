package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alekspetrov/nbpilot/internal/logging"
)

// Config holds relay server configuration.
type Config struct {
	// Host is the network interface to bind to.
	Host string `yaml:"host"`
	// Port is the TCP port number to listen on.
	Port int `yaml:"port"`
	// PublicURL is the base URL producers, pollers and the transcription
	// service use to reach this server.
	PublicURL string `yaml:"public_url"`
	// AudioDir is the directory of recorded voice files served by the relay.
	AudioDir string `yaml:"audio_dir"`
	// AudioRetention removes audio files older than this; 0 keeps them forever.
	AudioRetention time.Duration `yaml:"audio_retention"`
	// SweepSchedule is the cron spec for the retention sweep.
	SweepSchedule string `yaml:"sweep_schedule"`
	// Store selects the slot backend: "memory" or "redis".
	Store    string `yaml:"store"`
	RedisURL string `yaml:"redis_url"`
	RedisKey string `yaml:"redis_key"`
}

// DefaultConfig returns the relay defaults.
func DefaultConfig() *Config {
	return &Config{
		Host:           "0.0.0.0",
		Port:           8000,
		PublicURL:      "http://127.0.0.1:8000/",
		AudioDir:       "mp3_files",
		AudioRetention: 24 * time.Hour,
		SweepSchedule:  "@every 1h",
		Store:          "memory",
	}
}

// Server is the relay HTTP server. It is safe for concurrent use.
type Server struct {
	config   *Config
	store    Store
	hub      *Hub
	upgrader websocket.Upgrader
	server   *http.Server
	sweeper  *Sweeper
	mu       sync.Mutex
	running  bool
}

// NewServer creates a relay server over the given store. The server is not
// started until Start is called.
func NewServer(config *Config, store Store) *Server {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Server{
		config: config,
		store:  store,
		hub:    NewHub(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				return strings.HasPrefix(origin, "http://localhost") ||
					strings.HasPrefix(origin, "http://127.0.0.1") ||
					strings.HasPrefix(origin, "https://localhost") ||
					strings.HasPrefix(origin, "https://127.0.0.1")
			},
		},
	}
}

// Handler returns the HTTP handler with all relay routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /get_last_msg", s.handleGetLastMsg)
	mux.HandleFunc("POST /push_msg", s.handlePushMsg)
	mux.HandleFunc("PUT /push_msg", s.handlePushMsg)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /all_audio", s.handleAllAudio)
	mux.HandleFunc("GET /{filename}", s.handleAudioFile)

	return mux
}

// Start starts the relay and blocks until the context is cancelled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.mu.Unlock()

	if err := os.MkdirAll(s.config.AudioDir, 0755); err != nil {
		return fmt.Errorf("failed to create audio dir: %w", err)
	}

	if s.config.AudioRetention > 0 {
		s.sweeper = NewSweeper(s.config.AudioDir, s.config.AudioRetention)
		if err := s.sweeper.Start(s.config.SweepSchedule); err != nil {
			return err
		}
		defer s.sweeper.Stop()
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logging.WithComponent("relay").Info("Relay starting",
		slog.String("addr", addr), slog.String("audio_dir", s.config.AudioDir))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.running = false
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleGetLastMsg(w http.ResponseWriter, r *http.Request) {
	msg, ok, err := s.store.Get(r.Context())
	if err != nil {
		logging.WithComponent("relay").Error("Store read failed", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "store unavailable"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "No message yet"})
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handlePushMsg(w http.ResponseWriter, r *http.Request) {
	msg, err := decodeMessage(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON, 'text' and 'id' required"})
		return
	}

	if err := s.store.Set(r.Context(), msg); err != nil {
		logging.WithComponent("relay").Error("Store write failed", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "store unavailable"})
		return
	}

	logging.WithRequest(msg.ID).Info("Message pushed", slog.Int("len", len(msg.Text)))
	s.hub.Broadcast(Event{Type: EventPush, Message: msg})

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeMessage accepts a JSON object carrying both "id" and "text". The id
// must be a non-empty string or a number. A text that is not a string is
// stored as its JSON literal; null becomes empty text.
func decodeMessage(r *http.Request) (Message, error) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil || raw == nil {
		return Message{}, ErrInvalidMessage
	}

	rawID, okID := raw["id"]
	rawText, okText := raw["text"]
	if !okID || !okText {
		return Message{}, ErrInvalidMessage
	}

	id, err := decodeID(rawID)
	if err != nil {
		return Message{}, err
	}
	return Message{ID: id, Text: decodeText(rawText)}, nil
}

func decodeID(raw json.RawMessage) (string, error) {
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		if id == "" {
			return "", ErrInvalidMessage
		}
		return id, nil
	}
	var num json.Number
	if err := json.Unmarshal(raw, &num); err != nil {
		return "", ErrInvalidMessage
	}
	return num.String(), nil
}

func decodeText(raw json.RawMessage) string {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	trimmed := bytes.TrimSpace(raw)
	if bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err != nil {
		return string(trimmed)
	}
	return compact.String()
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.WithComponent("relay").Error("WebSocket upgrade error", slog.Any("error", err))
		return
	}

	sub := s.hub.Add(conn)
	defer s.hub.Remove(sub.ID)

	logging.WithComponent("relay").Debug("Watcher connected", slog.String("subscriber", sub.ID))

	if msg, ok, err := s.store.Get(r.Context()); err == nil && ok {
		if err := sub.SendEvent(Event{Type: EventSnapshot, Message: msg}); err != nil {
			return
		}
	}

	// Watchers only listen; reading keeps control frames flowing and
	// detects disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.WithComponent("relay").Debug("Watcher error", slog.Any("error", err))
			}
			return
		}
	}
}

// Hub returns the server's subscriber hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
