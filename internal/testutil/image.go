// Package testutil provides image fixtures shared by the test suites.
package testutil

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
)

// PNGBytes renders a plain white PNG of the given dimensions.
func PNGBytes(width, height int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// PNG is the test-friendly wrapper around PNGBytes.
func PNG(t *testing.T, width, height int) []byte {
	t.Helper()
	data, err := PNGBytes(width, height)
	require.NoError(t, err)
	return data
}
