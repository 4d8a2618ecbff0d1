package archive

import (
	"context"
	"fmt"
	"image"
	"math"
	"sync"

	"github.com/gen2brain/go-fitz"

	"github.com/spherical/comic-extractor/internal/domain"
)

// pdfPointsPerInch is the PDF user-space unit density.
const pdfPointsPerInch = 72.0

// pdfContainer exposes each PDF page as an entry. ReadEntry renders the page
// to PNG at the configured DPI.
type pdfContainer struct {
	mu      sync.Mutex
	doc     *fitz.Document
	entries []domain.Entry
	dpi     float64
}

func openPDF(path string, opts Options) (*pdfContainer, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, domain.ContainerUnsupportedError("cannot open PDF", err)
	}

	c := &pdfContainer{doc: doc, dpi: opts.PDFDPI}
	pageCount := doc.NumPage()
	c.entries = make([]domain.Entry, 0, pageCount)
	for i := 0; i < pageCount; i++ {
		c.entries = append(c.entries, domain.Entry{
			Index:     i,
			Name:      fmt.Sprintf("page_%04d.png", i+1),
			MediaType: domain.MediaImage,
		})
	}
	return c, nil
}

func (c *pdfContainer) Format() domain.Format { return domain.FormatPDF }

func (c *pdfContainer) Entries() []domain.Entry { return c.entries }

func (c *pdfContainer) BaseDPI() float64 { return c.dpi }

func (c *pdfContainer) ReadEntry(ctx context.Context, index int) ([]byte, error) {
	if err := checkIndex(index, len(c.entries)); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := c.doc.ImagePNG(index, c.dpi)
	if err != nil {
		return nil, domain.ImageOpenError(fmt.Sprintf("cannot render PDF page %d", index+1), err)
	}
	return data, nil
}

// PageSize returns the page size at dpi without rendering.
func (c *pdfContainer) PageSize(index int, dpi float64) (domain.Size, error) {
	if err := checkIndex(index, len(c.entries)); err != nil {
		return domain.Size{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	bound, err := c.doc.Bound(index)
	if err != nil {
		return domain.Size{}, domain.ImageOpenError(fmt.Sprintf("cannot read bounds of PDF page %d", index+1), err)
	}
	scale := dpi / pdfPointsPerInch
	return domain.Size{
		Width:  int(math.Round(float64(bound.Dx()) * scale)),
		Height: int(math.Round(float64(bound.Dy()) * scale)),
	}, nil
}

// Render rasterizes a page at dpi.
func (c *pdfContainer) Render(ctx context.Context, index int, dpi float64) (image.Image, error) {
	if err := checkIndex(index, len(c.entries)); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	img, err := c.doc.ImageDPI(index, dpi)
	if err != nil {
		return nil, domain.ImageOpenError(fmt.Sprintf("cannot render PDF page %d", index+1), err)
	}
	return img, nil
}

func (c *pdfContainer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doc.Close()
}
