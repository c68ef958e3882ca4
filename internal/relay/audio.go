package relay

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alekspetrov/nbpilot/internal/logging"
)

// AudioExt is the extension of transcodable recordings listed by /all_audio.
const AudioExt = ".mp3"

// handleAllAudio lists the mp3 recordings as links.
func (s *Server) handleAllAudio(w http.ResponseWriter, r *http.Request) {
	files, err := listAudio(s.config.AudioDir)
	if err != nil {
		http.Error(w, "audio directory unavailable", http.StatusInternalServerError)
		return
	}

	links := make([]string, 0, len(files))
	for _, f := range files {
		links = append(links, fmt.Sprintf("<a href='/%s'>%s</a><br>", f, f))
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte("<h2>MP3 Files:</h2>" + strings.Join(links, "\n")))
}

// handleAudioFile serves one file from the audio directory.
func (s *Server) handleAudioFile(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("filename")
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		http.NotFound(w, r)
		return
	}

	path := filepath.Join(s.config.AudioDir, name)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}

	http.ServeFile(w, r, path)
}

func listAudio(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), AudioExt) {
			files = append(files, e.Name())
		}
	}
	return files, nil
}

// Sweeper periodically deletes old recordings from the audio directory.
type Sweeper struct {
	dir       string
	retention time.Duration
	cron      *cron.Cron
	mu        sync.Mutex
	running   bool
}

// NewSweeper creates a sweeper for dir.
func NewSweeper(dir string, retention time.Duration) *Sweeper {
	return &Sweeper{
		dir:       dir,
		retention: retention,
		cron:      cron.New(),
	}
}

// Start schedules the sweep with a cron spec such as "@every 1h".
func (s *Sweeper) Start(schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if schedule == "" {
		schedule = "@every 1h"
	}

	if _, err := s.cron.AddFunc(schedule, func() {
		if _, err := s.Sweep(time.Now()); err != nil {
			logging.WithComponent("relay").Warn("Audio sweep failed", slog.Any("error", err))
		}
	}); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}

	s.cron.Start()
	s.running = true
	return nil
}

// Stop stops the scheduler and waits for a running sweep.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
}

// Sweep removes recordings modified before now minus the retention period
// and returns how many were removed.
func (s *Sweeper) Sweep(now time.Time) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}

	cutoff := now.Add(-s.retention)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !isRecording(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err == nil {
			removed++
		}
	}

	if removed > 0 {
		logging.WithComponent("relay").Info("Swept old recordings", slog.Int("removed", removed))
	}
	return removed, nil
}

func isRecording(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mp3", ".ogg", ".oga", ".wav":
		return true
	}
	return false
}
