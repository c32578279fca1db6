package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/pdfjoiner/internal/filestore"
	"github.com/local/pdfjoiner/internal/metrics"
	"github.com/local/pdfjoiner/internal/pdf"
	"github.com/local/pdfjoiner/internal/store"
	"github.com/local/pdfjoiner/internal/worker"
)

func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session")
	fileID := r.PathValue("file")
	if !filestore.ValidID(sessionID) || !filestore.ValidID(fileID) {
		writeError(w, http.StatusBadRequest, "invalid identifier", "")
		return
	}
	page, err := strconv.Atoi(r.PathValue("page"))
	if err != nil || page < 1 {
		writeError(w, http.StatusBadRequest, "page number must be a positive integer", "")
		return
	}

	meta, ok, err := s.deps.Files.Get(r.Context(), sessionID, fileID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed", err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "file not found", "")
		return
	}
	if page > meta.PageCount {
		writeError(w, http.StatusNotFound,
			fmt.Sprintf("page %d out of range, document has %d pages", page, meta.PageCount), "")
		return
	}

	path, err := s.deps.Thumbs.Get(sessionID, fileID, s.deps.Files.Path(sessionID, meta), page)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "thumbnail rendering failed", err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	http.ServeFile(w, r, path)
}

type pageInfo struct {
	PageNumber   int     `json:"page_number"`
	Width        float64 `json:"width"`
	Height       float64 `json:"height"`
	ThumbnailURL string  `json:"thumbnail_url"`
}

type pagesResponse struct {
	FileID     string     `json:"file_id"`
	Filename   string     `json:"filename"`
	TotalPages int        `json:"total_pages"`
	Page       int        `json:"page"`
	PerPage    int        `json:"per_page"`
	Pages      []pageInfo `json:"pages"`
}

// handleListPages returns one batch of page descriptors for a file. Batching
// keeps the response bounded for very large documents.
func (s *Server) handleListPages(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session")
	fileID := r.PathValue("file")
	if !filestore.ValidID(sessionID) || !filestore.ValidID(fileID) {
		writeError(w, http.StatusBadRequest, "invalid identifier", "")
		return
	}

	meta, ok, err := s.deps.Files.Get(r.Context(), sessionID, fileID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed", err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "file not found", "")
		return
	}

	batch := queryInt(r, "page", 1)
	perPage := queryInt(r, "per_page", s.cfg.Thumbnail.MaxPreviewPages)
	if batch < 1 {
		batch = 1
	}
	if perPage < 1 || perPage > s.cfg.Thumbnail.MaxPreviewPages {
		perPage = s.cfg.Thumbnail.MaxPreviewPages
	}

	start := (batch-1)*perPage + 1
	end := start + perPage - 1
	if end > meta.PageCount {
		end = meta.PageCount
	}

	dims, err := pdf.PageDims(s.deps.Files.Path(sessionID, meta))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read page dimensions", err.Error())
		return
	}

	resp := pagesResponse{
		FileID:     fileID,
		Filename:   meta.OriginalFilename,
		TotalPages: meta.PageCount,
		Page:       batch,
		PerPage:    perPage,
		Pages:      []pageInfo{},
	}
	for p := start; p <= end; p++ {
		info := pageInfo{
			PageNumber:   p,
			ThumbnailURL: fmt.Sprintf("/pdf/%s/%s/thumbnail/%d", sessionID, fileID, p),
		}
		if p-1 < len(dims) {
			info.Width = dims[p-1].Width
			info.Height = dims[p-1].Height
		}
		resp.Pages = append(resp.Pages, info)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session")
	if !filestore.ValidID(sessionID) {
		writeError(w, http.StatusBadRequest, "invalid session id", "")
		return
	}
	metas, err := s.deps.Files.List(r.Context(), sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed", err.Error())
		return
	}
	files := make([]uploadedFile, 0, len(metas))
	for _, m := range metas {
		files = append(files, uploadedFile{
			FileID:            m.FileID,
			Filename:          m.Filename,
			OriginalFilename:  m.OriginalFilename,
			PageCount:         m.PageCount,
			FileSize:          m.FileSize,
			FileSizeFormatted: formatFileSize(m.FileSize),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"files":      files,
		"count":      len(files),
	})
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session")
	fileID := r.PathValue("file")
	if !filestore.ValidID(sessionID) || !filestore.ValidID(fileID) {
		writeError(w, http.StatusBadRequest, "invalid identifier", "")
		return
	}
	ok, err := s.deps.Files.Delete(r.Context(), sessionID, fileID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "delete failed", err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "file not found", "")
		return
	}
	s.deps.Thumbs.DropFile(sessionID, fileID)
	log.Info().Str("session", sessionID).Str("file_id", fileID).Msg("file deleted")
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true, "file_id": fileID})
}

func (s *Server) handleCleanupSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session")
	if !filestore.ValidID(sessionID) {
		writeError(w, http.StatusBadRequest, "invalid session id", "")
		return
	}
	if err := s.deps.Files.DropSession(r.Context(), sessionID); err != nil {
		writeError(w, http.StatusInternalServerError, "cleanup failed", err.Error())
		return
	}
	s.deps.Thumbs.DropSession(sessionID)
	_ = os.RemoveAll(filepath.Join(s.cfg.Upload.MergedDir, sessionID))
	metrics.IncSessionCleaned()
	log.Info().Str("session", sessionID).Msg("session cleaned up")
	writeJSON(w, http.StatusOK, map[string]any{"cleaned": true, "session_id": sessionID})
}

type mergeSelection struct {
	FileID string `json:"file_id"`
	Pages  []int  `json:"pages"`
}

type mergeRequest struct {
	SessionID      string           `json:"session_id"`
	Selections     []mergeSelection `json:"selections"`
	OutputFilename string           `json:"output_filename"`
	AddPageNumbers bool             `json:"add_page_numbers"`
	WatermarkText  string           `json:"watermark_text"`
	Password       string           `json:"password"`
}

// handleMerge validates every selection up front, records the job as
// processing and enqueues it. The response carries only the job id; clients
// poll /job/{id}/status.
func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	var req mergeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", err.Error())
		return
	}
	if !filestore.ValidID(req.SessionID) {
		writeError(w, http.StatusBadRequest, "invalid session_id", "")
		return
	}
	if len(req.Selections) == 0 {
		writeError(w, http.StatusBadRequest, "no files selected for merge", "")
		return
	}

	selections := make([]worker.Selection, 0, len(req.Selections))
	totalPages := 0
	for _, sel := range req.Selections {
		if !filestore.ValidID(sel.FileID) {
			writeError(w, http.StatusBadRequest, "invalid file_id", "")
			return
		}
		if len(sel.Pages) == 0 {
			writeError(w, http.StatusBadRequest,
				fmt.Sprintf("no pages selected for file %s", sel.FileID), "")
			return
		}
		meta, ok, err := s.deps.Files.Get(r.Context(), req.SessionID, sel.FileID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "lookup failed", err.Error())
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound,
				fmt.Sprintf("file %s not found in session", sel.FileID), "")
			return
		}
		for _, p := range sel.Pages {
			if p < 1 || p > meta.PageCount {
				writeError(w, http.StatusBadRequest,
					fmt.Sprintf("page %d out of range for %s (1-%d)", p, meta.OriginalFilename, meta.PageCount), "")
				return
			}
		}
		selections = append(selections, worker.Selection{FileID: sel.FileID, Pages: sel.Pages})
		totalPages += len(sel.Pages)
	}

	outName := strings.TrimSpace(req.OutputFilename)
	if outName == "" {
		outName = "merged.pdf"
	}
	if !strings.HasSuffix(strings.ToLower(outName), ".pdf") {
		outName += ".pdf"
	}

	jobID := uuid.NewString()
	now := time.Now()
	job := store.Job{
		SessionID:      req.SessionID,
		Status:         store.StatusProcessing,
		Message:        fmt.Sprintf("Merging %d pages from %d files", totalPages, len(selections)),
		OutputFilename: outName,
		Start:          &now,
	}
	if err := s.deps.Jobs.Set(r.Context(), jobID, job); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create job", err.Error())
		return
	}

	payload := worker.Payload{
		Kind:           worker.KindMerge,
		JobID:          jobID,
		SessionID:      req.SessionID,
		Selections:     selections,
		OutputFilename: outName,
		AddPageNumbers: req.AddPageNumbers,
		WatermarkText:  req.WatermarkText,
		Password:       req.Password,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode job", err.Error())
		return
	}
	if err := s.deps.Queue.Enqueue(r.Context(), b); err != nil {
		_ = s.deps.Jobs.Set(r.Context(), jobID, store.Job{
			SessionID: req.SessionID,
			Status:    store.StatusFailed,
			Message:   "queue unavailable",
			Start:     &now,
		})
		writeError(w, http.StatusServiceUnavailable, "merge queue unavailable", err.Error())
		return
	}

	log.Info().Str("job_id", jobID).Str("session", req.SessionID).
		Int("files", len(selections)).Int("pages", totalPages).Msg("merge job submitted")
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id": jobID,
		"status": store.StatusProcessing,
	})
}

type jobStatusResponse struct {
	JobID          string     `json:"job_id"`
	Status         string     `json:"status"`
	Message        string     `json:"message,omitempty"`
	OutputFilename string     `json:"output_filename,omitempty"`
	TotalPages     int        `json:"total_pages,omitempty"`
	DownloadURL    string     `json:"download_url,omitempty"`
	Start          *time.Time `json:"start_time,omitempty"`
	End            *time.Time `json:"end_time,omitempty"`
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job")
	if !filestore.ValidID(jobID) {
		writeError(w, http.StatusBadRequest, "invalid job id", "")
		return
	}
	job, ok, err := s.deps.Jobs.Get(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed", err.Error())
		return
	}
	if !ok {
		// The job record may have been lost to a restart while the merged
		// output survived on disk. Rebuild it from the file if present.
		job, ok = s.restoreJobFromDisk(r, jobID)
		if !ok {
			writeError(w, http.StatusNotFound, "job not found", "")
			return
		}
	}

	resp := jobStatusResponse{
		JobID:          jobID,
		Status:         job.Status,
		Message:        job.Message,
		OutputFilename: job.OutputFilename,
		TotalPages:     job.TotalPages,
		Start:          job.Start,
		End:            job.End,
	}
	if job.Status == store.StatusCompleted {
		resp.DownloadURL = "/download/" + jobID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) restoreJobFromDisk(r *http.Request, jobID string) (store.Job, bool) {
	matches, err := filepath.Glob(filepath.Join(s.cfg.Upload.MergedDir, "*", jobID+"_*.pdf"))
	if err != nil || len(matches) == 0 {
		return store.Job{}, false
	}
	path := matches[0]
	sessionID := filepath.Base(filepath.Dir(path))
	filename := strings.TrimPrefix(filepath.Base(path), jobID+"_")
	job := store.Job{
		SessionID:      sessionID,
		Status:         store.StatusCompleted,
		Message:        "Restored after restart",
		OutputFilename: filename,
		OutputPath:     path,
	}
	if pages, perr := pdf.PageCount(path); perr == nil {
		job.TotalPages = pages
	}
	if err := s.deps.Jobs.Set(r.Context(), jobID, job); err != nil {
		log.Warn().Err(err).Str("job_id", jobID).Msg("restore: re-add job record failed")
	}
	log.Info().Str("job_id", jobID).Msg("restored job record from disk")
	return job, true
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job")
	if !filestore.ValidID(jobID) {
		writeError(w, http.StatusBadRequest, "invalid job id", "")
		return
	}
	job, ok, err := s.deps.Jobs.Get(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed", err.Error())
		return
	}
	if !ok {
		job, ok = s.restoreJobFromDisk(r, jobID)
		if !ok {
			writeError(w, http.StatusNotFound, "job not found", "")
			return
		}
	}
	if job.Status != store.StatusCompleted {
		writeError(w, http.StatusConflict,
			fmt.Sprintf("job is %s, output not available", job.Status), "")
		return
	}
	if _, err := os.Stat(job.OutputPath); err != nil {
		writeError(w, http.StatusNotFound, "merged output no longer available", "")
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename=%q`, job.OutputFilename))
	http.ServeFile(w, r, job.OutputPath)
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
