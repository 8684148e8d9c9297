package main

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"ocrforge/internal/config"
	"ocrforge/internal/job"
)

// Server holds all shared state. One conversion (single file or batch) runs
// at a time.
type Server struct {
	mu      sync.Mutex
	cancel  context.CancelFunc // cancels the active conversion
	runner  *job.Runner
	profile config.Profile
	dataDir string
	log     zerolog.Logger

	status *JobStatus
	hub    *hub
}

func newServer(runner *job.Runner, profile config.Profile, dataDir string, log zerolog.Logger) *Server {
	return &Server{
		runner:  runner,
		profile: profile,
		dataDir: dataDir,
		log:     log,
		status:  &JobStatus{Phase: PhaseIdle},
		hub:     newHub(log),
	}
}

func (s *Server) uploadsDir() string { return filepath.Join(s.dataDir, "uploads") }
func (s *Server) outputsDir() string { return filepath.Join(s.dataDir, "outputs") }

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/upload", s.handleUpload)
	mux.HandleFunc("/api/convert", s.handleConvert)
	mux.HandleFunc("/api/cancel", s.handleCancel)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/history", s.handleHistory)
	mux.HandleFunc("/api/download", s.handleDownload)
	mux.HandleFunc("/ws", s.handleWS)
	return corsMiddleware(mux)
}

// Job phases reported by /api/status.
const (
	PhaseIdle       = "idle"
	PhaseProcessing = "processing"
	PhaseDone       = "done"
	PhaseError      = "error"
	PhaseCancelled  = "cancelled"
)

// JobStatus is polled by clients that do not hold a websocket.
type JobStatus struct {
	mu         sync.RWMutex
	Phase      string       `json:"phase"`
	File       string       `json:"file,omitempty"`
	Page       int          `json:"page"`
	Pages      int          `json:"pages"`
	FilesTotal int          `json:"files_total"`
	FilesDone  int          `json:"files_done"`
	Error      string       `json:"error,omitempty"`
	Results    []FileResult `json:"results,omitempty"`
}

// FileResult is the outcome of one file in the current job.
type FileResult struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (s *JobStatus) snapshot() JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return JobStatus{
		Phase:      s.Phase,
		File:       s.File,
		Page:       s.Page,
		Pages:      s.Pages,
		FilesTotal: s.FilesTotal,
		FilesDone:  s.FilesDone,
		Error:      s.Error,
		Results:    append([]FileResult(nil), s.Results...),
	}
}

// begin moves an idle or finished status to processing. It reports false if
// a job is already running.
func (s *JobStatus) begin(files int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Phase == PhaseProcessing {
		return false
	}
	s.Phase = PhaseProcessing
	s.File = ""
	s.Page, s.Pages = 0, 0
	s.FilesTotal, s.FilesDone = files, 0
	s.Error = ""
	s.Results = nil
	return true
}

func (s *JobStatus) update(fn func(*JobStatus)) {
	s.mu.Lock()
	fn(s)
	s.mu.Unlock()
}

// ========== Middleware ==========

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ========== Helpers ==========

func jsonResp(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func jsonErr(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
