// Package server exposes the REST surface of PDF Joiner Pro: uploads,
// per-page thumbnails, merge submission with async job tracking, download and
// session cleanup.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/local/pdfjoiner/internal/config"
	"github.com/local/pdfjoiner/internal/filestore"
	"github.com/local/pdfjoiner/internal/statuscheck"
	"github.com/local/pdfjoiner/internal/store"
	"github.com/local/pdfjoiner/internal/worker"
)

// Files is the session file metadata store.
type Files interface {
	SessionDir(sessionID string) (string, error)
	Path(sessionID string, meta filestore.FileMeta) string
	Add(ctx context.Context, sessionID string, meta filestore.FileMeta) error
	Get(ctx context.Context, sessionID, fileID string) (filestore.FileMeta, bool, error)
	List(ctx context.Context, sessionID string) ([]filestore.FileMeta, error)
	Delete(ctx context.Context, sessionID, fileID string) (bool, error)
	DropSession(ctx context.Context, sessionID string) error
}

// Jobs is the merge job status store.
type Jobs interface {
	Set(ctx context.Context, jobID string, j store.Job) error
	Get(ctx context.Context, jobID string) (store.Job, bool, error)
}

// Queue accepts merge jobs and delayed session-expiry messages.
type Queue interface {
	Enqueue(ctx context.Context, payload []byte) error
	EnqueueDelayed(ctx context.Context, payload []byte, executeAt time.Time) error
}

// Thumbs renders and caches page thumbnails.
type Thumbs interface {
	Get(sessionID, fileID, pdfPath string, pageNum int) (string, error)
	DropFile(sessionID, fileID string)
	DropSession(sessionID string)
}

// Limiter throttles uploads per session.
type Limiter interface {
	Allow(ctx context.Context, sessionID string) bool
}

// PDFValidator checks magic bytes of a stored upload.
type PDFValidator interface {
	IsPDF(path string) (bool, error)
}

// HealthChecker summarizes dependency readiness.
type HealthChecker interface {
	Summary(ctx context.Context) statuscheck.Summary
}

// Dependencies wires the server's collaborators.
type Dependencies struct {
	Files    Files
	Jobs     Jobs
	Queue    Queue
	Thumbs   Thumbs
	Limiter  Limiter
	Detector PDFValidator
	Health   HealthChecker
}

// Server handles the REST API.
type Server struct {
	deps Dependencies
	cfg  config.Config
}

// New creates a Server.
func New(cfg config.Config, deps Dependencies) *Server {
	return &Server{deps: deps, cfg: cfg}
}

// RegisterRoutes attaches all API handlers to mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /health/deps", s.handleHealthDeps)
	mux.HandleFunc("POST /upload", s.handleUpload)
	mux.HandleFunc("GET /pdf/{session}/{file}/thumbnail/{page}", s.handleThumbnail)
	mux.HandleFunc("GET /pdf/{session}/{file}/pages", s.handleListPages)
	mux.HandleFunc("GET /session/{session}/files", s.handleListFiles)
	mux.HandleFunc("DELETE /session/{session}/file/{file}", s.handleDeleteFile)
	mux.HandleFunc("DELETE /session/{session}", s.handleCleanupSession)
	mux.HandleFunc("POST /merge", s.handleMerge)
	mux.HandleFunc("GET /job/{job}/status", s.handleJobStatus)
	mux.HandleFunc("GET /download/{job}", s.handleDownload)
}

func (s *Server) handleHealthDeps(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health == nil {
		writeError(w, http.StatusServiceUnavailable, "health checker unavailable", "")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Health.Summary(r.Context()))
}

// errorResponse is the uniform error body.
type errorResponse struct {
	Error      string `json:"error"`
	Detail     string `json:"detail,omitempty"`
	StatusCode int    `json:"status_code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, detail string) {
	writeJSON(w, status, errorResponse{Error: msg, Detail: detail, StatusCode: status})
}

// formatFileSize renders a byte count in human-readable form, e.g. "1.5 MB".
func formatFileSize(size int64) string {
	f := float64(size)
	for _, unit := range []string{"B", "KB", "MB", "GB"} {
		if f < 1024.0 {
			return fmt.Sprintf("%.1f %s", f, unit)
		}
		f /= 1024.0
	}
	return fmt.Sprintf("%.1f TB", f)
}

// enqueueExpiry schedules the delayed session-expiry message. Best effort: the
// periodic sweep catches sessions whose message is lost.
func (s *Server) enqueueExpiry(ctx context.Context, sessionID string) {
	p := worker.Payload{Kind: worker.KindExpireSession, SessionID: sessionID}
	b, err := json.Marshal(p)
	if err != nil {
		return
	}
	_ = s.deps.Queue.EnqueueDelayed(ctx, b, time.Now().Add(s.cfg.Session.TTL))
}
