package decode

import (
	"context"
	"image"
	"image/draw"
	"math"

	"github.com/disintegration/imaging"

	"github.com/spherical/comic-extractor/internal/domain"
)

// resampleTiled scales rect of src to out, one output tile at a time. Each
// tile resizes straight from a view of src, so only one horizontal band of
// the source is ever copied. The context is checked between tiles.
func resampleTiled(ctx context.Context, src image.Image, rect image.Rectangle, out domain.Size, tile int) (*image.NRGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if out.Width == rect.Dx() && out.Height == rect.Dy() {
		return imaging.Crop(src, rect), nil
	}

	dst := image.NewNRGBA(image.Rect(0, 0, out.Width, out.Height))
	sx := float64(rect.Dx()) / float64(out.Width)
	sy := float64(rect.Dy()) / float64(out.Height)

	for ty := 0; ty < out.Height; ty += tile {
		for tx := 0; tx < out.Width; tx += tile {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			tw := min(tile, out.Width-tx)
			th := min(tile, out.Height-ty)

			srcRect := image.Rect(
				rect.Min.X+int(math.Floor(float64(tx)*sx)),
				rect.Min.Y+int(math.Floor(float64(ty)*sy)),
				min(rect.Max.X, rect.Min.X+int(math.Ceil(float64(tx+tw)*sx))),
				min(rect.Max.Y, rect.Min.Y+int(math.Ceil(float64(ty+th)*sy))),
			)
			piece := imaging.Resize(view(src, srcRect), tw, th, imaging.Lanczos)
			draw.Draw(dst, image.Rect(tx, ty, tx+tw, ty+th), piece, image.Point{}, draw.Src)
		}
	}
	return dst, nil
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// view returns rect of src without copying pixels when the image type allows.
func view(src image.Image, rect image.Rectangle) image.Image {
	if s, ok := src.(subImager); ok {
		return s.SubImage(rect)
	}
	return imaging.Crop(src, rect)
}
