package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/stretchr/testify/require"
)

// PDF builds a document with one page per entry in widths, each page carrying
// a single embedded white PNG of that width and a fixed height of 40 pixels.
// The distinct widths let callers verify page order after extraction.
func PDF(t *testing.T, widths ...int) []byte {
	t.Helper()

	dir := t.TempDir()
	imgFiles := make([]string, 0, len(widths))
	for i, w := range widths {
		path := filepath.Join(dir, fmt.Sprintf("scan-%d.png", i))
		require.NoError(t, os.WriteFile(path, PNG(t, w, 40), 0o600))
		imgFiles = append(imgFiles, path)
	}

	out := filepath.Join(dir, "doc.pdf")
	require.NoError(t, api.ImportImagesFile(imgFiles, out, nil, nil))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	return data
}
