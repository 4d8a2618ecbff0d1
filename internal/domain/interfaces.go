package domain

import (
	"context"
	"image"
	"io"
)

// Container is an opened comic archive. Implementations are safe for
// concurrent ReadEntry calls.
type Container interface {
	// Format returns the sniffed container format.
	Format() Format

	// Entries returns all entries in natural archive order. The slice is
	// enumerated once per open and must not be modified.
	Entries() []Entry

	// ReadEntry returns the raw bytes of one entry by index. Access is random.
	ReadEntry(ctx context.Context, index int) ([]byte, error)

	io.Closer
}

// Detector runs object detection over a decoded page raster.
type Detector interface {
	Detect(ctx context.Context, raster image.Image) ([]PageObject, error)
}

// Recognizer runs text recognition over a cropped raster.
type Recognizer interface {
	Recognize(ctx context.Context, raster image.Image) (string, error)
}

// Pipeline assembles a book description from a container path.
type Pipeline interface {
	// Assemble drives open -> hash/metadata -> enumerate -> detect -> assemble.
	Assemble(ctx context.Context, req AssembleRequest, eventCh chan<- StreamEvent) (*Book, error)
}

// AssembleRequest holds the caller inputs of one pipeline run.
type AssembleRequest struct {
	Path            string
	DisplayNameHint string
	Direction       Direction
	// Detector may be nil, in which case pages are probed for dimensions only.
	Detector Detector
	// Hash skips hashing when the caller already computed it.
	Hash *FileHashData
}

// PageRasterizer is implemented by containers whose entries are rendered
// rather than stored (PDF). It lets the decoder size and render a page at a
// resolution chosen for the request instead of a fixed one.
type PageRasterizer interface {
	// PageSize returns the pixel size of a page rendered at dpi.
	PageSize(index int, dpi float64) (Size, error)

	// Render rasterizes a page at dpi.
	Render(ctx context.Context, index int, dpi float64) (image.Image, error)

	// BaseDPI is the resolution ReadEntry renders at.
	BaseDPI() float64
}
