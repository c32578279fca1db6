// Package thumbnail renders PDF pages to small JPEGs with go-fitz and keeps a
// per-session disk cache so repeated requests never touch the renderer.
package thumbnail

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"os"
	"path/filepath"
	"time"

	fitz "github.com/gen2brain/go-fitz"
	"github.com/rs/zerolog/log"

	"github.com/local/pdfjoiner/internal/metrics"
)

// Renderer renders page thumbnails and caches them under cacheDir.
type Renderer struct {
	cacheDir string
	dpi      int
	quality  int
}

// New creates a Renderer. dpi controls output resolution (36 DPI yields roughly
// 200px wide thumbnails for letter-sized pages), quality is JPEG quality 1-100.
func New(cacheDir string, dpi, quality int) *Renderer {
	if dpi <= 0 {
		dpi = 36
	}
	if quality <= 0 || quality > 100 {
		quality = 85
	}
	return &Renderer{cacheDir: cacheDir, dpi: dpi, quality: quality}
}

// Get returns the path of the cached thumbnail for (session, file, page),
// rendering it from pdfPath first if needed. pageNum is 1-indexed.
func (r *Renderer) Get(sessionID, fileID, pdfPath string, pageNum int) (string, error) {
	dir := filepath.Join(r.cacheDir, sessionID, fileID)
	out := filepath.Join(dir, fmt.Sprintf("page_%d.jpg", pageNum))

	if _, err := os.Stat(out); err == nil {
		metrics.IncThumbnail("cached")
		return out, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create thumbnail dir: %w", err)
	}

	start := time.Now()
	data, err := r.RenderPageToJPEG(pdfPath, pageNum)
	if err != nil {
		metrics.IncThumbnail("failed")
		return "", err
	}
	metrics.IncThumbnail("rendered")
	metrics.ObserveThumbnailRender(time.Since(start))

	// Write via temp+rename so a concurrent reader never sees a partial file.
	tmp := out + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write thumbnail: %w", err)
	}
	if err := os.Rename(tmp, out); err != nil {
		return "", fmt.Errorf("publish thumbnail: %w", err)
	}
	return out, nil
}

// RenderPageToJPEG renders a single PDF page as JPEG bytes (in-memory).
func (r *Renderer) RenderPageToJPEG(pdfPath string, pageNum int) ([]byte, error) {
	doc, err := fitz.New(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	// go-fitz uses 0-based indexing
	img, err := doc.ImageDPI(pageNum-1, float64(r.dpi))
	if err != nil {
		return nil, fmt.Errorf("failed to render page %d: %w", pageNum, err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: r.quality}); err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}

	log.Debug().
		Int("page", pageNum).
		Int("jpeg_size", buf.Len()).
		Int("dpi", r.dpi).
		Msg("rendered page thumbnail")

	return buf.Bytes(), nil
}

// DropFile removes all cached thumbnails for one file.
func (r *Renderer) DropFile(sessionID, fileID string) {
	_ = os.RemoveAll(filepath.Join(r.cacheDir, sessionID, fileID))
}

// DropSession removes all cached thumbnails for a session.
func (r *Renderer) DropSession(sessionID string) {
	_ = os.RemoveAll(filepath.Join(r.cacheDir, sessionID))
}
