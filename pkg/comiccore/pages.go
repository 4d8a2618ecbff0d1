package comiccore

import (
	"context"
	"image"
	"time"

	"github.com/spherical/comic-extractor/internal/decode"
	"github.com/spherical/comic-extractor/internal/domain"
	"github.com/spherical/comic-extractor/internal/metrics"
)

// withPage resolves a page position of the book at path and calls fn with
// its container. The container comes from the open-book cache and must not
// be used after fn returns.
func (c *Core) withPage(ctx context.Context, path string, position int, fn func(domain.Container, domain.Page) error) error {
	b, err := c.books.acquire(ctx, path)
	if err != nil {
		return err
	}
	defer c.books.release(path, b)

	if len(b.pages) == 0 {
		return domain.EmptyBookError("container has no image entries")
	}
	if position < 0 || position >= len(b.pages) {
		return domain.PageNotFoundError(position)
	}
	return fn(b.ct, b.pages[position])
}

// ProbePage returns the natural size of a page without decoding pixels.
func (c *Core) ProbePage(ctx context.Context, path string, position int) (Size, error) {
	var size Size
	err := c.withPage(ctx, path, position, func(ct domain.Container, p domain.Page) error {
		var err error
		size, err = c.decoder.Probe(ctx, ct, p.EntryIndex)
		return err
	})
	return size, err
}

// DecodeRegion decodes a page, or the region of it, down to targetSize.
// Both region and targetSize may be nil. The result is never larger than
// the source region.
func (c *Core) DecodeRegion(ctx context.Context, path string, position int, region *Region, targetSize *Size) (*DecodedImage, error) {
	start := time.Now()
	var res *decode.Result
	err := c.withPage(ctx, path, position, func(ct domain.Container, p domain.Page) error {
		var err error
		res, err = c.decoder.DecodeRegion(ctx, ct, p.EntryIndex, region, targetSize)
		return err
	})
	metrics.RecordDecode(time.Since(start), err == nil)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// GetPageImageData returns the encoded bytes of a page as a handle that the
// caller must Release exactly once. PDF pages are rendered to PNG.
func (c *Core) GetPageImageData(ctx context.Context, path string, position int) (*PageHandle, error) {
	var h *PageHandle
	err := c.withPage(ctx, path, position, func(ct domain.Container, p domain.Page) error {
		data, err := ct.ReadEntry(ctx, p.EntryIndex)
		if err != nil {
			return err
		}
		size, format, err := decode.ProbeBytes(data)
		if err != nil {
			return err
		}
		h = c.handles.Acquire(p.Position, data, decode.MIMEType(format), size)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Release releases a page handle. A second release returns
// CODE_HANDLE_RELEASED and changes nothing.
func (c *Core) Release(h *PageHandle) error {
	if h == nil {
		return domain.ValidationError("nil page handle", nil)
	}
	return h.Release()
}

// LookupHandle returns an outstanding handle by id.
func (c *Core) LookupHandle(id string) (*PageHandle, error) {
	return c.handles.Lookup(id)
}

// DecodeHandle decodes the page held by h. The handle stays valid.
func (c *Core) DecodeHandle(ctx context.Context, h *PageHandle, region *Region, targetSize *Size) (*DecodedImage, error) {
	data, err := h.Bytes()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	res, err := c.decoder.DecodeBytes(ctx, data, region, targetSize)
	metrics.RecordDecode(time.Since(start), err == nil)
	return res, err
}

// DetectHandle decodes the page held by h at the interpreter's input size
// and runs detection. Boxes are normalised to the page.
func (c *Core) DetectHandle(ctx context.Context, interp *Interpreter, h *PageHandle) ([]PageObject, error) {
	if interp == nil {
		return nil, domain.ValidationError("interpreter is required", nil)
	}
	side := interp.InputSize()
	res, err := c.DecodeHandle(ctx, h, nil, &Size{Width: side, Height: side})
	if err != nil {
		return nil, err
	}
	objs, err := interp.Detect(ctx, res.Image)
	if err != nil {
		return nil, err
	}
	for _, o := range objs {
		metrics.RecordObjects(string(o.Class), 1)
	}
	return objs, nil
}

// CropObject cuts the pixels of a normalised box out of a raster of any
// resolution.
func CropObject(raster image.Image, box BoundingBox) image.Image {
	return decode.CropNormalized(raster, box)
}

// EncodeJPEG encodes a decoded raster for transport.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if quality <= 0 {
		quality = decode.DefaultJPEGQuality
	}
	return decode.EncodeJPEG(img, quality)
}
