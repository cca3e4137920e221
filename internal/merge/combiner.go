package merge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// Combiner performs the PDF primitives the engine needs.
type Combiner interface {
	// ImageToPDF renders one image onto a single page.
	ImageToPDF(ctx context.Context, img []byte) ([]byte, error)
	// PageCount parses pdf and returns its page count.
	PageCount(ctx context.Context, pdf []byte) (int, error)
	// Merge concatenates pdfs in order.
	Merge(ctx context.Context, pdfs [][]byte) ([]byte, error)
}

var disableConfigDir sync.Once

var paperForms = map[string]string{
	"A4":     "A4",
	"LETTER": "Letter",
	"LEGAL":  "Legal",
}

// PDFCPU implements Combiner with pdfcpu.
type PDFCPU struct {
	imp *pdfcpu.Import
}

// NewPDFCPU configures image pages of the given paper size with the image
// centred and scaled to fit while keeping its aspect ratio.
func NewPDFCPU(pageSize string) (*PDFCPU, error) {
	disableConfigDir.Do(api.DisableConfigDir)

	form, ok := paperForms[strings.ToUpper(strings.TrimSpace(pageSize))]
	if !ok {
		return nil, fmt.Errorf("unsupported page size %q", pageSize)
	}
	imp, err := api.Import(fmt.Sprintf("form:%s, pos:c, scale:1.0 rel", form), types.POINTS)
	if err != nil {
		return nil, fmt.Errorf("image import settings: %w", err)
	}
	return &PDFCPU{imp: imp}, nil
}

// configuration returns a fresh pdfcpu configuration; pdfcpu mutates it per command.
func (p *PDFCPU) configuration() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

func (p *PDFCPU) ImageToPDF(ctx context.Context, img []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(img) == 0 {
		return nil, errors.New("empty image")
	}
	imp := *p.imp
	var buf bytes.Buffer
	if err := api.ImportImages(nil, &buf, []io.Reader{bytes.NewReader(img)}, &imp, p.configuration()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (p *PDFCPU) PageCount(ctx context.Context, pdf []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return api.PageCount(bytes.NewReader(pdf), p.configuration())
}

func (p *PDFCPU) Merge(ctx context.Context, pdfs [][]byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch len(pdfs) {
	case 0:
		return nil, errors.New("nothing to merge")
	case 1:
		return append([]byte(nil), pdfs[0]...), nil
	}
	readers := make([]io.ReadSeeker, len(pdfs))
	for i, pdf := range pdfs {
		readers[i] = bytes.NewReader(pdf)
	}
	var buf bytes.Buffer
	if err := api.MergeRaw(readers, &buf, false, p.configuration()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
