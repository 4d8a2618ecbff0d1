package detect

import (
	"context"
	"image"

	"github.com/disintegration/imaging"

	"github.com/spherical/comic-extractor/internal/domain"
)

// GutterBackend finds panels by recursively cutting the page along light
// horizontal and vertical gutters. It needs no model and is deterministic.
type GutterBackend struct {
	cfg GutterConfig
}

// NewGutterBackend creates a gutter-scan backend.
func NewGutterBackend(cfg GutterConfig) *GutterBackend {
	return &GutterBackend{cfg: cfg}
}

type lumaGrid struct {
	w, h  int
	light []bool
}

func (g *lumaGrid) rowLight(y, x0, x1 int, ratio float64) bool {
	n := 0
	for x := x0; x < x1; x++ {
		if g.light[y*g.w+x] {
			n++
		}
	}
	return float64(n) >= ratio*float64(x1-x0)
}

func (g *lumaGrid) colLight(x, y0, y1 int, ratio float64) bool {
	n := 0
	for y := y0; y < y1; y++ {
		if g.light[y*g.w+x] {
			n++
		}
	}
	return float64(n) >= ratio*float64(y1-y0)
}

type span struct{ lo, hi int }

// Infer implements Backend.
func (b *GutterBackend) Infer(ctx context.Context, raster image.Image) ([]domain.PageObject, error) {
	grid := b.grid(raster)
	if grid.w == 0 || grid.h == 0 {
		return nil, nil
	}

	var rects []image.Rectangle
	if err := b.cut(ctx, grid, image.Rect(0, 0, grid.w, grid.h), 0, &rects); err != nil {
		return nil, err
	}

	minArea := b.cfg.MinPanel * float64(grid.w*grid.h)
	objs := make([]domain.PageObject, 0, len(rects))
	for _, r := range rects {
		if float64(r.Dx()*r.Dy()) < minArea {
			continue
		}
		objs = append(objs, domain.PageObject{
			Class:       domain.ClassPanel,
			Probability: b.cfg.Confidence,
			Box: domain.BoundingBox{
				XMin: float64(r.Min.X) / float64(grid.w),
				YMin: float64(r.Min.Y) / float64(grid.h),
				XMax: float64(r.Max.X) / float64(grid.w),
				YMax: float64(r.Max.Y) / float64(grid.h),
			},
		})
	}
	return objs, nil
}

func (b *GutterBackend) grid(raster image.Image) *lumaGrid {
	src := raster
	bounds := src.Bounds()
	if max(bounds.Dx(), bounds.Dy()) > b.cfg.WorkSize {
		src = imaging.Fit(src, b.cfg.WorkSize, b.cfg.WorkSize, imaging.Box)
	}
	gray := imaging.Grayscale(src)
	gb := gray.Bounds()

	g := &lumaGrid{w: gb.Dx(), h: gb.Dy(), light: make([]bool, gb.Dx()*gb.Dy())}
	for y := 0; y < g.h; y++ {
		row := gray.Pix[y*gray.Stride:]
		for x := 0; x < g.w; x++ {
			g.light[y*g.w+x] = row[x*4] >= b.cfg.LightLevel
		}
	}
	return g
}

func (b *GutterBackend) cut(ctx context.Context, g *lumaGrid, r image.Rectangle, depth int, out *[]image.Rectangle) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	minRunY := max(1, int(b.cfg.MinGutter*float64(g.h)))
	minRunX := max(1, int(b.cfg.MinGutter*float64(g.w)))

	rows := segments(r.Min.Y, r.Max.Y, minRunY, func(y int) bool {
		return g.rowLight(y, r.Min.X, r.Max.X, b.cfg.LineRatio)
	})
	if len(rows) == 0 {
		return nil
	}
	r.Min.Y, r.Max.Y = rows[0].lo, rows[len(rows)-1].hi

	cols := segments(r.Min.X, r.Max.X, minRunX, func(x int) bool {
		return g.colLight(x, r.Min.Y, r.Max.Y, b.cfg.LineRatio)
	})
	if len(cols) == 0 {
		return nil
	}
	r.Min.X, r.Max.X = cols[0].lo, cols[len(cols)-1].hi

	if depth >= b.cfg.MaxDepth || (len(rows) == 1 && len(cols) == 1) {
		*out = append(*out, r)
		return nil
	}

	if len(rows) > 1 {
		for _, s := range rows {
			if err := b.cut(ctx, g, image.Rect(r.Min.X, s.lo, r.Max.X, s.hi), depth+1, out); err != nil {
				return err
			}
		}
		return nil
	}
	for _, s := range cols {
		if err := b.cut(ctx, g, image.Rect(s.lo, r.Min.Y, s.hi, r.Max.Y), depth+1, out); err != nil {
			return err
		}
	}
	return nil
}

// segments returns the content spans in [lo,hi) separated by runs of at
// least minRun gutter lines. Leading and trailing gutters are trimmed.
func segments(lo, hi, minRun int, isGutter func(int) bool) []span {
	var out []span
	start, gutterRun := -1, 0
	for i := lo; i < hi; i++ {
		if isGutter(i) {
			gutterRun++
			if start >= 0 && gutterRun == minRun {
				out = append(out, span{lo: start, hi: i - minRun + 1})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
		gutterRun = 0
	}
	if start >= 0 {
		end := hi
		for end > start && isGutter(end-1) {
			end--
		}
		out = append(out, span{lo: start, hi: end})
	}
	return out
}
