// Package worker consumes merge jobs and session-expiry messages from the
// queue and executes them against the PDF pipeline.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/pdfjoiner/internal/filestore"
	"github.com/local/pdfjoiner/internal/metrics"
	"github.com/local/pdfjoiner/internal/pdf"
	"github.com/local/pdfjoiner/internal/store"
)

// Payload kinds carried on the stream.
const (
	KindMerge         = "merge"
	KindExpireSession = "expire_session"
)

// Selection names pages of one uploaded file, in output order.
type Selection struct {
	FileID string `json:"file_id"`
	Pages  []int  `json:"pages"`
}

// Payload is the wire format of a queued message.
type Payload struct {
	Kind           string      `json:"kind"`
	JobID          string      `json:"job_id,omitempty"`
	SessionID      string      `json:"session_id"`
	Selections     []Selection `json:"selections,omitempty"`
	OutputFilename string      `json:"output_filename,omitempty"`
	AddPageNumbers bool        `json:"add_page_numbers,omitempty"`
	WatermarkText  string      `json:"watermark_text,omitempty"`
	Password       string      `json:"password,omitempty"`
}

// Queue is the consuming side of the job stream.
type Queue interface {
	Dequeue(ctx context.Context, consumer string, timeout time.Duration) (string, []byte, error)
	Ack(ctx context.Context, msgID string) error
	AddDLQ(ctx context.Context, payload []byte, reason string) error
}

// Files resolves uploaded file metadata and paths.
type Files interface {
	Get(ctx context.Context, sessionID, fileID string) (filestore.FileMeta, bool, error)
	Path(sessionID string, meta filestore.FileMeta) string
	DropSession(ctx context.Context, sessionID string) error
}

// Jobs records merge job state.
type Jobs interface {
	Set(ctx context.Context, jobID string, j store.Job) error
	Get(ctx context.Context, jobID string) (store.Job, bool, error)
}

// Thumbs drops cached thumbnails during session expiry.
type Thumbs interface {
	DropSession(sessionID string)
}

// Archiver optionally retains merged output off-box.
type Archiver interface {
	StoreMerged(ctx context.Context, localPath, sessionID, jobID, filename, password string) (string, error)
}

// Config sizes the pool.
type Config struct {
	Concurrency int
	JobTimeout  time.Duration
	MergedDir   string
}

// Worker runs the merge pool.
type Worker struct {
	cfg     Config
	q       Queue
	files   Files
	jobs    Jobs
	thumbs  Thumbs
	archive Archiver
	stop    chan struct{}
	wg      sync.WaitGroup
}

// New builds a Worker. archive may be nil.
func New(cfg Config, q Queue, files Files, jobs Jobs, thumbs Thumbs, archive Archiver) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 5 * time.Minute
	}
	return &Worker{cfg: cfg, q: q, files: files, jobs: jobs, thumbs: thumbs, archive: archive, stop: make(chan struct{})}
}

// Start launches the worker loops.
func (w *Worker) Start() {
	for i := 0; i < w.cfg.Concurrency; i++ {
		w.wg.Add(1)
		go w.loop(i)
	}
}

// Stop signals all loops to exit after their current job and waits for them,
// or until ctx expires.
func (w *Worker) Stop(ctx context.Context) error {
	close(w.stop)
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop(id int) {
	defer w.wg.Done()
	consumer := fmt.Sprintf("worker-%d", id)
	log.Info().Int("worker", id).Msg("merge worker started")
	for {
		select {
		case <-w.stop:
			log.Info().Int("worker", id).Msg("merge worker stopped")
			return
		default:
		}

		msgID, data, err := w.q.Dequeue(context.Background(), consumer, 2*time.Second)
		if err != nil {
			log.Error().Err(err).Msg("queue dequeue error")
			time.Sleep(500 * time.Millisecond)
			continue
		}
		if data == nil {
			continue
		}

		var p Payload
		if err := json.Unmarshal(data, &p); err != nil {
			log.Error().Err(err).Str("msg_id", msgID).Msg("malformed payload, sending to DLQ")
			_ = w.q.AddDLQ(context.Background(), data, "malformed payload")
			_ = w.q.Ack(context.Background(), msgID)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), w.cfg.JobTimeout)
		switch p.Kind {
		case KindMerge:
			if err := w.processMerge(ctx, p); err != nil {
				log.Error().Err(err).Str("job_id", p.JobID).Msg("merge job failed")
				_ = w.q.AddDLQ(context.Background(), data, err.Error())
			}
		case KindExpireSession:
			w.processExpiry(ctx, p.SessionID)
		default:
			log.Warn().Str("kind", p.Kind).Msg("unknown payload kind, sending to DLQ")
			_ = w.q.AddDLQ(context.Background(), data, "unknown kind")
		}
		cancel()
		_ = w.q.Ack(context.Background(), msgID)
	}
}

// processMerge builds the merged PDF for a job. Failure is terminal: the job
// record flips to failed and the client submits a fresh merge if it retries.
func (w *Worker) processMerge(ctx context.Context, p Payload) error {
	started := time.Now()

	sources := make([]pdf.Source, 0, len(p.Selections))
	for _, sel := range p.Selections {
		meta, ok, err := w.files.Get(ctx, p.SessionID, sel.FileID)
		if err != nil {
			return w.fail(ctx, p, started, fmt.Errorf("lookup file %s: %w", sel.FileID, err))
		}
		if !ok {
			return w.fail(ctx, p, started, fmt.Errorf("file %s not found in session", sel.FileID))
		}
		sources = append(sources, pdf.Source{Path: w.files.Path(p.SessionID, meta), Pages: sel.Pages})
	}

	outDir := filepath.Join(w.cfg.MergedDir, p.SessionID)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return w.fail(ctx, p, started, fmt.Errorf("create merged dir: %w", err))
	}
	outPath := filepath.Join(outDir, p.JobID+"_"+p.OutputFilename)

	pages, err := pdf.Merge(sources, outPath, pdf.MergeOptions{
		AddPageNumbers: p.AddPageNumbers,
		WatermarkText:  p.WatermarkText,
		Password:       p.Password,
	})
	if err != nil {
		return w.fail(ctx, p, started, err)
	}

	if w.archive != nil {
		if _, aerr := w.archive.StoreMerged(ctx, outPath, p.SessionID, p.JobID, p.OutputFilename, p.Password); aerr != nil {
			// Archival is best effort, the local copy serves the download.
			log.Warn().Err(aerr).Str("job_id", p.JobID).Msg("archive upload failed")
		}
	}

	end := time.Now()
	job := store.Job{
		SessionID:      p.SessionID,
		Status:         store.StatusCompleted,
		Message:        fmt.Sprintf("Merged %d pages from %d files", pages, len(sources)),
		OutputFilename: p.OutputFilename,
		OutputPath:     outPath,
		TotalPages:     pages,
		Start:          &started,
		End:            &end,
	}
	if err := w.jobs.Set(ctx, p.JobID, job); err != nil {
		return fmt.Errorf("record completion: %w", err)
	}
	metrics.ObserveMerge("completed", pages, end.Sub(started))
	log.Info().Str("job_id", p.JobID).Int("pages", pages).
		Dur("took", end.Sub(started)).Msg("merge job completed")
	return nil
}

func (w *Worker) fail(ctx context.Context, p Payload, started time.Time, cause error) error {
	end := time.Now()
	job := store.Job{
		SessionID:      p.SessionID,
		Status:         store.StatusFailed,
		Message:        cause.Error(),
		OutputFilename: p.OutputFilename,
		Start:          &started,
		End:            &end,
	}
	if err := w.jobs.Set(ctx, p.JobID, job); err != nil {
		log.Error().Err(err).Str("job_id", p.JobID).Msg("failed to record job failure")
	}
	metrics.ObserveMerge("failed", 0, end.Sub(started))
	return cause
}

// processExpiry removes everything belonging to an expired session: uploaded
// files, metadata, cached thumbnails and merged output.
func (w *Worker) processExpiry(ctx context.Context, sessionID string) {
	if sessionID == "" {
		return
	}
	if err := w.files.DropSession(ctx, sessionID); err != nil {
		log.Warn().Err(err).Str("session", sessionID).Msg("expiry: drop session files failed")
	}
	if w.thumbs != nil {
		w.thumbs.DropSession(sessionID)
	}
	_ = os.RemoveAll(filepath.Join(w.cfg.MergedDir, sessionID))
	metrics.IncSessionCleaned()
	log.Info().Str("session", sessionID).Msg("session expired and cleaned")
}
