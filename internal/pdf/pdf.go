// Package pdf wraps pdfcpu primitives for the merge pipeline: page counting,
// structure validation, page extraction, merging, watermarking, page-number
// stamping and password protection.
package pdf

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"github.com/rs/zerolog/log"
)

// Source is one input to a merge: a PDF path and the 1-indexed pages to take,
// in the order they should appear in the output.
type Source struct {
	Path  string
	Pages []int
}

// MergeOptions carries the optional post-processing steps of a merge.
type MergeOptions struct {
	AddPageNumbers bool
	WatermarkText  string
	Password       string
}

// PageCount returns the number of pages in the PDF at path.
func PageCount(path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("pdf page count failed: %w", err)
	}
	return n, nil
}

// Validate checks that the file at path is a structurally sound PDF.
func Validate(path string) error {
	if err := api.ValidateFile(path, model.NewDefaultConfiguration()); err != nil {
		return fmt.Errorf("invalid or corrupted PDF: %w", err)
	}
	return nil
}

// PageDims returns the media box dimensions (in points) of every page.
func PageDims(path string) ([]types.Dim, error) {
	dims, err := api.PageDimsFile(path)
	if err != nil {
		return nil, fmt.Errorf("pdf page dims failed: %w", err)
	}
	return dims, nil
}

// Merge extracts the selected pages of each source, concatenates them into
// outPath and applies the requested post-processing. Page order within a
// source follows the selection, not the document, so a reordered selection
// like [2,1] comes out reversed. Returns the total page count of the output.
func Merge(sources []Source, outPath string, opts MergeOptions) (int, error) {
	if len(sources) == 0 {
		return 0, fmt.Errorf("no merge sources")
	}
	conf := model.NewDefaultConfiguration()

	tmpDir, err := os.MkdirTemp("", "pdfjoin-")
	if err != nil {
		return 0, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	total := 0
	parts := make([]string, 0, len(sources))
	for i, src := range sources {
		if len(src.Pages) == 0 {
			continue
		}
		part := filepath.Join(tmpDir, fmt.Sprintf("part_%03d.pdf", i))
		// Collect, not Trim: Trim keeps document order, Collect arranges the
		// output in selection order.
		if err := api.CollectFile(src.Path, part, PageSelection(src.Pages), conf); err != nil {
			return 0, fmt.Errorf("extract pages from %s: %w", filepath.Base(src.Path), err)
		}
		parts = append(parts, part)
		total += len(src.Pages)
	}
	if len(parts) == 0 {
		return 0, fmt.Errorf("no pages selected")
	}

	if err := api.MergeCreateFile(parts, outPath, false, conf); err != nil {
		return 0, fmt.Errorf("merge failed: %w", err)
	}

	if opts.WatermarkText != "" {
		if err := applyWatermark(outPath, opts.WatermarkText); err != nil {
			return 0, err
		}
	}
	if opts.AddPageNumbers {
		if err := stampPageNumbers(outPath); err != nil {
			return 0, err
		}
	}
	if opts.Password != "" {
		if err := encrypt(outPath, opts.Password); err != nil {
			return 0, err
		}
	}

	log.Info().Int("pages", total).Str("out", filepath.Base(outPath)).Msg("merged pdf written")
	return total, nil
}

// PageSelection converts 1-indexed page numbers into pdfcpu selection tokens.
func PageSelection(pages []int) []string {
	sel := make([]string, 0, len(pages))
	for _, p := range pages {
		sel = append(sel, strconv.Itoa(p))
	}
	return sel
}

func applyWatermark(path, text string) error {
	wm, err := api.TextWatermark(text, "scale:0.5, op:0.35, rot:45", false, false, types.POINTS)
	if err != nil {
		return fmt.Errorf("parse watermark: %w", err)
	}
	if err := api.AddWatermarksFile(path, "", nil, wm, model.NewDefaultConfiguration()); err != nil {
		return fmt.Errorf("apply watermark: %w", err)
	}
	return nil
}

func stampPageNumbers(path string) error {
	// %p expands to the current page, %P to the total.
	wm, err := api.TextWatermark("%p of %P", "points:10, pos:bc, off:0 10, scale:1 abs, rot:0", true, false, types.POINTS)
	if err != nil {
		return fmt.Errorf("parse page number stamp: %w", err)
	}
	if err := api.AddWatermarksFile(path, "", nil, wm, model.NewDefaultConfiguration()); err != nil {
		return fmt.Errorf("stamp page numbers: %w", err)
	}
	return nil
}

func encrypt(path, password string) error {
	conf := model.NewDefaultConfiguration()
	conf.UserPW = password
	conf.OwnerPW = password
	if err := api.EncryptFile(path, "", conf); err != nil {
		return fmt.Errorf("encrypt output: %w", err)
	}
	return nil
}
