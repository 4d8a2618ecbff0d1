// Package ocr recognises text inside detected page objects. Recognition is
// on demand and best effort: failures become an empty result, not an error.
package ocr

import (
	"context"
	"errors"
	"image"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/spherical/comic-extractor/internal/domain"
	"github.com/spherical/comic-extractor/internal/observability"
)

// Backend recognises text in one cropped raster.
type Backend interface {
	Recognize(ctx context.Context, raster image.Image) (string, error)
}

// ErrClosed is returned by Recognize after Close.
var ErrClosed = domain.OCRError("ocr engine is closed", nil)

// Engine is a caller-owned recognition handle. Calls are serialised.
type Engine struct {
	backend Backend
	logger  *observability.Logger
	gate    *semaphore.Weighted
	closed  atomic.Bool
}

// NewEngine wraps a backend.
func NewEngine(backend Backend, logger *observability.Logger) *Engine {
	if logger == nil {
		logger = observability.Nop()
	}
	return &Engine{
		backend: backend,
		logger:  logger.WithComponent("ocr"),
		gate:    semaphore.NewWeighted(1),
	}
}

// Recognize runs the backend over raster and returns whitespace-normalised
// text.
func (e *Engine) Recognize(ctx context.Context, raster image.Image) (string, error) {
	if e.closed.Load() {
		return "", ErrClosed
	}
	if raster == nil || raster.Bounds().Empty() {
		return "", domain.ValidationError("raster is empty", nil)
	}
	if err := e.gate.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer e.gate.Release(1)

	start := time.Now()
	text, err := e.backend.Recognize(ctx, raster)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		var de *domain.DomainError
		if errors.As(err, &de) {
			return "", err
		}
		return "", domain.OCRError("recognition failed", err)
	}

	text = normaliseText(text)
	e.logger.Debug().
		Int("chars", len(text)).
		Dur("took", time.Since(start)).
		Msg("Recognition finished")
	return text, nil
}

// Close releases the engine. It is safe to call more than once.
func (e *Engine) Close() error {
	e.closed.Store(true)
	return nil
}

// normaliseText joins hyphenated line breaks and collapses whitespace, the
// shape speech balloon text needs for display and speech.
func normaliseText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "-\n", "")
	return strings.Join(strings.Fields(s), " ")
}
