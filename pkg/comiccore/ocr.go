package comiccore

import (
	"context"
	"image"

	"github.com/spherical/comic-extractor/internal/domain"
	"github.com/spherical/comic-extractor/internal/metrics"
	"github.com/spherical/comic-extractor/internal/ocr"
)

type (
	// OCRHandle is a caller-owned recognizer. At most one request is in
	// flight; a request for another object supersedes it.
	OCRHandle = ocr.Dispatcher
	OCRResult = ocr.Result
	OCRState  = ocr.State
)

const (
	OCRRecognized = ocr.StateRecognized
	OCREmpty      = ocr.StateEmpty
	OCRSuperseded = ocr.StateSuperseded
	OCRCancelled  = ocr.StateCancelled
)

// InitOCR builds the recognizer named by the configuration. The caller
// owns the handle and closes it with CloseOCR.
func (c *Core) InitOCR() (*OCRHandle, error) {
	var backend ocr.Backend
	switch c.cfg.OCR.Backend {
	case ocr.BackendRemote:
		if c.vision == nil {
			return nil, domain.ConfigError("remote ocr needs a vision api key", nil)
		}
		backend = ocr.NewRemoteBackend(c.vision, "")
	default:
		backend = ocr.NewTesseractBackend(c.cfg.OCR.Binary, c.cfg.OCR.Language, c.cfg.OCR.PSM)
	}
	return NewOCRHandle(backend, c), nil
}

// NewOCRHandle wraps a custom recognition backend.
func NewOCRHandle(backend ocr.Backend, c *Core) *OCRHandle {
	engine := ocr.NewEngine(backend, c.logger)
	return ocr.NewDispatcher(engine, c.logger)
}

// RecognizeText recognises the text in raster, usually a crop from
// CropObject. Failures come back as OCREmpty, never as an error.
func (c *Core) RecognizeText(ctx context.Context, h *OCRHandle, objectID string, raster image.Image) OCRResult {
	if h == nil {
		return OCRResult{ObjectID: objectID, State: OCREmpty, Err: domain.ValidationError("ocr handle is required", nil)}
	}
	res := h.Recognize(ctx, objectID, raster)
	metrics.RecordOCR(string(res.State))
	return res
}

// RecognizeObject crops box out of raster and recognises it under a stable
// object id derived from the book hash, page position and box.
func (c *Core) RecognizeObject(ctx context.Context, h *OCRHandle, book *Book, position int, raster image.Image, box BoundingBox) OCRResult {
	id := ocr.ObjectID(book.Hash.Hex(), position, box)
	return c.RecognizeText(ctx, h, id, CropObject(raster, box))
}

// CloseOCR cancels any in-flight request and closes the handle.
func CloseOCR(h *OCRHandle) error {
	return h.Close()
}
