// Package decode turns container entries into pixel buffers: header-only
// size probes, and region decodes downscaled to a target size under a
// shared memory budget.
package decode

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"

	// Page codecs.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/semaphore"

	"github.com/spherical/comic-extractor/internal/domain"
	"github.com/spherical/comic-extractor/internal/observability"
)

const (
	// DefaultMemoryBudget matches the smallest heap the core must run in.
	DefaultMemoryBudget = 48 << 20
	DefaultTileSize     = 512

	bytesPerPixel = 4
	minPDFDPI     = 9.0
)

// Config tunes the decoder.
type Config struct {
	// MemoryBudget bounds the estimated bytes held by concurrent decodes. A
	// single decode estimated above it is scaled down or rejected.
	MemoryBudget int64
	// TileSize is the output tile edge used when resampling.
	TileSize int
	// MaxPixels rejects sources whose header claims more pixels. It defaults
	// to one byte per pixel of MemoryBudget.
	MaxPixels int64
}

func (c Config) withDefaults() Config {
	if c.MemoryBudget <= 0 {
		c.MemoryBudget = DefaultMemoryBudget
	}
	if c.TileSize <= 0 {
		c.TileSize = DefaultTileSize
	}
	if c.MaxPixels <= 0 {
		c.MaxPixels = c.MemoryBudget
	}
	return c
}

// Result is a decoded raster together with the natural source size.
type Result struct {
	Image  *image.NRGBA
	Source domain.Size
	Format string
}

// Decoder is safe for concurrent use.
type Decoder struct {
	cfg    Config
	budget *semaphore.Weighted
	logger *observability.Logger
}

// New creates a decoder.
func New(cfg Config, logger *observability.Logger) *Decoder {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = observability.Nop()
	}
	return &Decoder{
		cfg:    cfg,
		budget: semaphore.NewWeighted(cfg.MemoryBudget),
		logger: logger.WithComponent("decode"),
	}
}

// Probe returns the natural size of an entry without decoding pixels.
func (d *Decoder) Probe(ctx context.Context, c domain.Container, index int) (domain.Size, error) {
	if r, ok := c.(domain.PageRasterizer); ok {
		return r.PageSize(index, r.BaseDPI())
	}
	data, err := c.ReadEntry(ctx, index)
	if err != nil {
		return domain.Size{}, err
	}
	size, _, err := ProbeBytes(data)
	return size, err
}

// ProbeBytes reads only the image header.
func ProbeBytes(data []byte) (domain.Size, string, error) {
	cfg, format, err := probeConfig(data)
	if err != nil {
		return domain.Size{}, "", err
	}
	return domain.Size{Width: cfg.Width, Height: cfg.Height}, format, nil
}

func probeConfig(data []byte) (image.Config, string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return image.Config{}, "", domain.ImageOpenError("cannot read image header", err)
	}
	return cfg, format, nil
}

// DecodeRegion decodes an entry. A nil region means the whole page; a nil or
// zero target means natural resolution. The output never exceeds the source
// resolution.
func (d *Decoder) DecodeRegion(ctx context.Context, c domain.Container, index int, region *domain.Region, target *domain.Size) (*Result, error) {
	if r, ok := c.(domain.PageRasterizer); ok {
		return d.decodeRasterized(ctx, r, index, region, target)
	}
	data, err := c.ReadEntry(ctx, index)
	if err != nil {
		return nil, err
	}
	return d.DecodeBytes(ctx, data, region, target)
}

// DecodeBytes decodes an encoded image held in memory. Sources whose decoded
// pixels would not fit the memory budget go through the scaled decoder when
// their codec has one, and are rejected otherwise.
func (d *Decoder) DecodeBytes(ctx context.Context, data []byte, region *domain.Region, target *domain.Size) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	hdr, format, err := probeConfig(data)
	if err != nil {
		return nil, err
	}
	src := domain.Size{Width: hdr.Width, Height: hdr.Height}
	if int64(src.Width)*int64(src.Height) > d.cfg.MaxPixels {
		return nil, domain.ImageOpenError(fmt.Sprintf("image of %dx%d exceeds pixel limit", src.Width, src.Height), nil)
	}

	rect, err := ClampRegion(region, src)
	if err != nil {
		return nil, err
	}
	out := ClampTarget(target, domain.Size{Width: rect.Dx(), Height: rect.Dy()})

	decoded := int64(src.Width) * int64(src.Height) * sourceBytesPerPixel(hdr.ColorModel)
	weight := d.weight(decoded, rect, out)
	if weight > d.cfg.MemoryBudget {
		if scaledFormats[format] {
			d.logger.Debug().Str("format", format).Int64("estimate", weight).Msg("Routing oversized image to scaled decoder")
			return d.decodeScaled(ctx, data, src, format, region, target)
		}
		return nil, overBudget(src, weight, d.cfg.MemoryBudget)
	}

	if err := d.budget.Acquire(ctx, weight); err != nil {
		return nil, err
	}
	defer d.budget.Release(weight)

	img, err := decodeImage(ctx, data)
	if err != nil {
		return nil, err
	}
	nrgba, err := resampleTiled(ctx, img, rect, out, d.cfg.TileSize)
	if err != nil {
		return nil, err
	}
	return &Result{Image: nrgba, Source: src, Format: format}, nil
}

// decodeImage decodes through a reader that fails once ctx is done, so a
// cancelled decode stops at its next read.
func decodeImage(ctx context.Context, data []byte) (image.Image, error) {
	img, _, err := image.Decode(&ctxReader{ctx: ctx, r: bytes.NewReader(data)})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		return nil, domain.ImageOpenError("cannot decode image", err)
	}
	return img, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// decodeRasterized renders a page at the lowest DPI covering the output.
// The render is native and runs to completion; its result is dropped if the
// caller cancelled meanwhile.
func (d *Decoder) decodeRasterized(ctx context.Context, r domain.PageRasterizer, index int, region *domain.Region, target *domain.Size) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	base := r.BaseDPI()
	src, err := r.PageSize(index, base)
	if err != nil {
		return nil, err
	}
	rect, err := ClampRegion(region, src)
	if err != nil {
		return nil, err
	}
	out := ClampTarget(target, domain.Size{Width: rect.Dx(), Height: rect.Dy()})

	scale := math.Max(float64(out.Width)/float64(rect.Dx()), float64(out.Height)/float64(rect.Dy()))
	dpi := math.Max(base*math.Min(scale, 1), minPDFDPI)
	factor := dpi / base

	// MuPDF's pixmap and its Go copy are both alive until the render returns.
	rendered := int64(math.Ceil(float64(src.Width)*factor)) * int64(math.Ceil(float64(src.Height)*factor))
	weight := d.weight(2*rendered*bytesPerPixel, rect, out)
	if weight > d.cfg.MemoryBudget {
		return nil, overBudget(src, weight, d.cfg.MemoryBudget)
	}
	if err := d.budget.Acquire(ctx, weight); err != nil {
		return nil, err
	}
	defer d.budget.Release(weight)

	img, err := r.Render(ctx, index, dpi)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	scaled := image.Rect(
		int(math.Floor(float64(rect.Min.X)*factor)),
		int(math.Floor(float64(rect.Min.Y)*factor)),
		int(math.Ceil(float64(rect.Max.X)*factor)),
		int(math.Ceil(float64(rect.Max.Y)*factor)),
	).Intersect(img.Bounds())
	if scaled.Empty() {
		return nil, domain.ImageOpenError("rendered page is empty", nil)
	}

	nrgba, err := resampleTiled(ctx, img, scaled, out, d.cfg.TileSize)
	if err != nil {
		return nil, err
	}
	return &Result{Image: nrgba, Source: src, Format: "pdf"}, nil
}

// weight estimates the bytes a decode holds at once: the decoded source, one
// horizontal resampling band and the output raster.
func (d *Decoder) weight(sourceBytes int64, rect image.Rectangle, out domain.Size) int64 {
	band := int64(min(d.cfg.TileSize, out.Width)) * int64(rect.Dy()) * bytesPerPixel
	w := sourceBytes + band + int64(out.Width)*int64(out.Height)*bytesPerPixel
	return max(w, 1)
}

// sourceBytesPerPixel is the in-memory cost of one decoded pixel for the
// image type the codec produces for m.
func sourceBytesPerPixel(m color.Model) int64 {
	switch m {
	case color.GrayModel, color.AlphaModel:
		return 1
	case color.Gray16Model, color.Alpha16Model:
		return 2
	case color.YCbCrModel:
		return 3
	case color.RGBA64Model, color.NRGBA64Model:
		return 8
	}
	if _, ok := m.(color.Palette); ok {
		return 1
	}
	return bytesPerPixel
}

func overBudget(src domain.Size, weight, budget int64) error {
	return domain.ImageOpenError(fmt.Sprintf("image of %dx%d needs about %d bytes, exceeding the %d byte memory budget",
		src.Width, src.Height, weight, budget), nil)
}

// ClampRegion intersects region with the source bounds. A nil region is the
// whole source.
func ClampRegion(region *domain.Region, src domain.Size) (image.Rectangle, error) {
	full := image.Rect(0, 0, src.Width, src.Height)
	if full.Empty() {
		return image.Rectangle{}, domain.ImageOpenError("image has no pixels", nil)
	}
	if region == nil {
		return full, nil
	}
	if region.Empty() {
		return image.Rectangle{}, domain.ValidationError("region has no area", nil)
	}
	rect := image.Rect(region.X, region.Y, region.X+region.Width, region.Y+region.Height).Intersect(full)
	if rect.Empty() {
		return image.Rectangle{}, domain.ValidationError(
			fmt.Sprintf("region %+v lies outside the %dx%d page", *region, src.Width, src.Height), nil)
	}
	return rect, nil
}

// ClampTarget fits target inside the region size preserving aspect ratio and
// never upscaling. A zero dimension in target is derived from the other.
func ClampTarget(target *domain.Size, region domain.Size) domain.Size {
	if target == nil || (target.Width <= 0 && target.Height <= 0) {
		return region
	}
	sx, sy := math.Inf(1), math.Inf(1)
	if target.Width > 0 {
		sx = float64(target.Width) / float64(region.Width)
	}
	if target.Height > 0 {
		sy = float64(target.Height) / float64(region.Height)
	}
	scale := math.Min(math.Min(sx, sy), 1)
	return domain.Size{
		Width:  max(1, int(math.Round(float64(region.Width)*scale))),
		Height: max(1, int(math.Round(float64(region.Height)*scale))),
	}
}

// CropNormalized crops a normalised box out of a raster of any resolution.
func CropNormalized(raster image.Image, box domain.BoundingBox) *image.NRGBA {
	b := raster.Bounds()
	box = box.Clamp()
	rect := image.Rect(
		b.Min.X+int(math.Floor(box.XMin*float64(b.Dx()))),
		b.Min.Y+int(math.Floor(box.YMin*float64(b.Dy()))),
		b.Min.X+int(math.Ceil(box.XMax*float64(b.Dx()))),
		b.Min.Y+int(math.Ceil(box.YMax*float64(b.Dy()))),
	)
	if rect.Dx() < 1 {
		rect.Max.X = min(rect.Min.X+1, b.Max.X)
	}
	if rect.Dy() < 1 {
		rect.Max.Y = min(rect.Min.Y+1, b.Max.Y)
	}
	return imaging.Crop(raster, rect)
}
