// Package pdfsplit turns an uploaded PDF into per-page images ready for the
// OCR model.
package pdfsplit

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	_ "golang.org/x/image/webp"
)

// PageImage is one rendered page of a PDF document.
type PageImage struct {
	// Number is the 1-based page number within the source document.
	Number int
	Image  image.Image
	Data   []byte
	MIME   string
}

// ErrNoPages is returned when a PDF contains no extractable page images.
var ErrNoPages = errors.New("pdf contains no extractable page images")

// Pages extracts the page images of a PDF, ordered by page number. Scanned
// documents carry one full-page image per page; pages without images are
// skipped.
func Pages(data []byte) ([]PageImage, error) {
	tmpDir, err := os.MkdirTemp("", "ocrstudio-pdf-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	// pdfcpu names extracted files <basename>_<page>_<resource>.<ext>, so
	// staging the document as page.pdf yields page_1_Im0.png and friends.
	input := filepath.Join(tmpDir, "page.pdf")
	if err := os.WriteFile(input, data, 0o600); err != nil {
		return nil, fmt.Errorf("failed to stage pdf: %w", err)
	}

	outDir := filepath.Join(tmpDir, "pages")
	if err := os.MkdirAll(outDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create extraction directory: %w", err)
	}

	if err := api.ExtractImagesFile(input, outDir, nil, nil); err != nil {
		return nil, fmt.Errorf("failed to extract images from pdf: %w", err)
	}

	pages, err := collectPages(outDir)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, ErrNoPages
	}
	return pages, nil
}

// collectPages loads extracted image files and keeps the largest image per
// page, which for scanned documents is the page render itself.
func collectPages(dir string) ([]PageImage, error) {
	byPage := make(map[int]PageImage)

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		pageNum, err := parsePageFromFilename(info.Name())
		if err != nil {
			return nil
		}

		data, err := os.ReadFile(path) //nolint:gosec // G304: files were created by us above
		if err != nil {
			return nil
		}
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil
		}

		candidate := PageImage{
			Number: pageNum,
			Image:  img,
			Data:   data,
			MIME:   mimeForExt(filepath.Ext(info.Name())),
		}
		if existing, ok := byPage[pageNum]; !ok || area(candidate.Image) > area(existing.Image) {
			byPage[pageNum] = candidate
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	pages := make([]PageImage, 0, len(byPage))
	for _, page := range byPage {
		pages = append(pages, page)
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].Number < pages[j].Number })
	return pages, nil
}

func area(img image.Image) int {
	b := img.Bounds()
	return b.Dx() * b.Dy()
}

// parsePageFromFilename extracts the page number from a pdfcpu extracted
// filename such as page_1_Im0.png. The page number may be zero-padded when
// the document has ten or more pages.
func parsePageFromFilename(filename string) (int, error) {
	if !strings.HasPrefix(filename, "page_") {
		return 0, errors.New("not a page file")
	}
	parts := strings.Split(filename, "_")
	if len(parts) < 2 {
		return 0, errors.New("invalid filename format")
	}
	pageNum, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, errors.New("invalid page number")
	}
	return pageNum, nil
}

func mimeForExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	default:
		return "image/png"
	}
}
