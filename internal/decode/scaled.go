package decode

import (
	"context"
	"image"
	"math"

	"github.com/gen2brain/go-fitz"

	"github.com/spherical/comic-extractor/internal/domain"
)

const pointsPerInch = 72.0

// scaledFormats are codecs MuPDF can open as single-page documents. Rendering
// such a page below its natural size lets MuPDF decode at a reduced scale
// (DCT scaling for JPEG) instead of materialising every source pixel in Go.
var scaledFormats = map[string]bool{
	"jpeg": true,
	"png":  true,
	"gif":  true,
	"bmp":  true,
	"tiff": true,
}

func (d *Decoder) decodeScaled(ctx context.Context, data []byte, src domain.Size, format string, region *domain.Region, target *domain.Size) (*Result, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, domain.ImageOpenError("cannot open image for scaled decode", err)
	}
	defer doc.Close()

	bound, err := doc.Bound(0)
	if err != nil || bound.Dx() <= 0 || bound.Dy() <= 0 {
		return nil, domain.ImageOpenError("cannot read image bounds", err)
	}

	res, err := d.decodeRasterized(ctx, &scaledPage{doc: doc, src: src, bound: bound}, 0, region, target)
	if err != nil {
		return nil, err
	}
	res.Format = format
	return res, nil
}

// scaledPage presents an image document as a rasterizer whose base DPI maps
// one page unit onto one source pixel.
type scaledPage struct {
	doc   *fitz.Document
	src   domain.Size
	bound image.Rectangle
}

func (p *scaledPage) BaseDPI() float64 {
	return pointsPerInch * float64(p.src.Width) / float64(p.bound.Dx())
}

func (p *scaledPage) PageSize(_ int, dpi float64) (domain.Size, error) {
	scale := dpi / p.BaseDPI()
	return domain.Size{
		Width:  max(1, int(math.Round(float64(p.src.Width)*scale))),
		Height: max(1, int(math.Round(float64(p.src.Height)*scale))),
	}, nil
}

func (p *scaledPage) Render(ctx context.Context, index int, dpi float64) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, err := p.doc.ImageDPI(index, dpi)
	if err != nil {
		return nil, domain.ImageOpenError("cannot render scaled image", err)
	}
	return img, nil
}
