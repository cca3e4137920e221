package testsupport

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"io"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// PNG returns an encoded solid-colour PNG of the requested size.
func PNG(t testing.TB, width, height int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	fill := color.RGBA{R: 0x2a, G: 0x6f, B: 0xb0, A: 0xff}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, fill)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// PDF returns a valid PDF with the requested number of pages.
func PDF(t testing.TB, pages int) []byte {
	t.Helper()

	if pages <= 0 {
		pages = 1
	}
	api.DisableConfigDir()
	imp, err := api.Import("form:A4, pos:c, scale:1.0 rel", types.POINTS)
	if err != nil {
		t.Fatalf("import config: %v", err)
	}
	readers := make([]io.Reader, 0, pages)
	for i := 0; i < pages; i++ {
		readers = append(readers, bytes.NewReader(PNG(t, 40, 30)))
	}
	var buf bytes.Buffer
	if err := api.ImportImages(nil, &buf, readers, imp, model.NewDefaultConfiguration()); err != nil {
		t.Fatalf("build pdf: %v", err)
	}
	return buf.Bytes()
}

// Bytes returns size bytes of a repeating pattern. A size <= 0 yields a single byte.
func Bytes(size int64) []byte {
	if size <= 0 {
		size = 1
	}
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = 0x42
	}
	return buf
}
