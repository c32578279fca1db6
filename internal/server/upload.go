package server

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/pdfjoiner/internal/filestore"
	"github.com/local/pdfjoiner/internal/filetype"
	"github.com/local/pdfjoiner/internal/metrics"
	"github.com/local/pdfjoiner/internal/pdf"
)

type uploadedFile struct {
	FileID            string `json:"file_id"`
	Filename          string `json:"filename"`
	OriginalFilename  string `json:"original_filename"`
	PageCount         int    `json:"page_count"`
	FileSize          int64  `json:"file_size"`
	FileSizeFormatted string `json:"file_size_formatted"`
}

type uploadResponse struct {
	SessionID     string         `json:"session_id"`
	UploadedFiles []uploadedFile `json:"uploaded_files"`
	Errors        []string       `json:"errors"`
	SuccessCount  int            `json:"success_count"`
	ErrorCount    int            `json:"error_count"`
}

// handleUpload accepts multipart files[] scoped to a session. Validation is
// per-file: a rejected file never blocks the rest of the batch.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	// Multipart form; memory cap only, larger parts spill to temp files.
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form", err.Error())
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	sessionID := r.FormValue("session_id")
	newSession := sessionID == ""
	if newSession {
		sessionID = uuid.NewString()
	}
	if !filestore.ValidID(sessionID) {
		writeError(w, http.StatusBadRequest, "invalid session_id", "")
		return
	}

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "no files provided", "")
		return
	}
	if len(files) > s.cfg.Upload.MaxFilesPerReq {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("too many files, maximum %d allowed", s.cfg.Upload.MaxFilesPerReq), "")
		return
	}

	if s.deps.Limiter != nil && !s.deps.Limiter.Allow(r.Context(), sessionID) {
		writeError(w, http.StatusTooManyRequests, "upload rate limit exceeded", "")
		return
	}

	if _, err := s.deps.Files.SessionDir(sessionID); err != nil {
		writeError(w, http.StatusInternalServerError, "upload failed", err.Error())
		return
	}

	resp := uploadResponse{SessionID: sessionID, UploadedFiles: []uploadedFile{}, Errors: []string{}}

	for _, hdr := range files {
		name := hdr.Filename
		if !filetype.HasPDFExtension(name) {
			resp.Errors = append(resp.Errors, fmt.Sprintf("%s: invalid file type", name))
			metrics.IncUpload("rejected")
			continue
		}
		if hdr.Size > s.cfg.Upload.MaxFileSize {
			resp.Errors = append(resp.Errors, fmt.Sprintf("%s: file size exceeds maximum limit of %s",
				name, formatFileSize(s.cfg.Upload.MaxFileSize)))
			metrics.IncUpload("rejected")
			continue
		}
		if hdr.Size == 0 {
			resp.Errors = append(resp.Errors, fmt.Sprintf("%s: file is empty", name))
			metrics.IncUpload("rejected")
			continue
		}

		meta := filestore.FileMeta{
			FileID:           uuid.NewString(),
			Filename:         filetype.SanitizeFilename(name),
			OriginalFilename: name,
			FileSize:         hdr.Size,
			UploadedAt:       time.Now(),
		}
		path := s.deps.Files.Path(sessionID, meta)
		if err := saveUpload(hdr, path); err != nil {
			resp.Errors = append(resp.Errors, fmt.Sprintf("%s: %v", name, err))
			metrics.IncUpload("rejected")
			continue
		}

		if reason, ok := s.validatePDF(path); !ok {
			_ = os.Remove(path)
			resp.Errors = append(resp.Errors, fmt.Sprintf("%s: %s", name, reason))
			metrics.IncUpload("rejected")
			continue
		}

		pages, err := pdf.PageCount(path)
		if err != nil {
			_ = os.Remove(path)
			resp.Errors = append(resp.Errors, fmt.Sprintf("%s: unreadable PDF", name))
			metrics.IncUpload("rejected")
			continue
		}
		meta.PageCount = pages

		if err := s.deps.Files.Add(r.Context(), sessionID, meta); err != nil {
			_ = os.Remove(path)
			resp.Errors = append(resp.Errors, fmt.Sprintf("%s: %v", name, err))
			metrics.IncUpload("rejected")
			continue
		}

		resp.UploadedFiles = append(resp.UploadedFiles, uploadedFile{
			FileID:            meta.FileID,
			Filename:          meta.Filename,
			OriginalFilename:  meta.OriginalFilename,
			PageCount:         meta.PageCount,
			FileSize:          meta.FileSize,
			FileSizeFormatted: formatFileSize(meta.FileSize),
		})
		metrics.IncUpload("accepted")
		log.Info().Str("session", sessionID).Str("file_id", meta.FileID).
			Str("filename", meta.OriginalFilename).Int("pages", meta.PageCount).Msg("file uploaded")
	}

	resp.SuccessCount = len(resp.UploadedFiles)
	resp.ErrorCount = len(resp.Errors)

	if resp.SuccessCount > 0 {
		s.enqueueExpiry(r.Context(), sessionID)
		writeJSON(w, http.StatusOK, resp)
		return
	}
	writeJSON(w, http.StatusBadRequest, resp)
}

func (s *Server) validatePDF(path string) (string, bool) {
	if s.deps.Detector != nil {
		ok, err := s.deps.Detector.IsPDF(path)
		if err != nil {
			return "validation error", false
		}
		if !ok {
			return "file does not appear to be a valid PDF", false
		}
	}
	if err := pdf.Validate(path); err != nil {
		return "invalid or corrupted PDF", false
	}
	return "", true
}

func saveUpload(hdr *multipart.FileHeader, path string) error {
	src, err := hdr.Open()
	if err != nil {
		return fmt.Errorf("read upload: %w", err)
	}
	defer src.Close()
	dst, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("store upload: %w", err)
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("store upload: %w", err)
	}
	return nil
}
