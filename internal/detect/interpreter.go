package detect

import (
	"context"
	"errors"
	"image"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/semaphore"

	"github.com/spherical/comic-extractor/internal/domain"
	"github.com/spherical/comic-extractor/internal/observability"
)

// Backend produces raw, unfiltered detections for one raster.
type Backend interface {
	Infer(ctx context.Context, raster image.Image) ([]domain.PageObject, error)
}

// VisionClient is the subset of the vision chat client the remote backends use.
type VisionClient interface {
	Complete(ctx context.Context, prompt string, jpegData []byte) (string, error)
}

// ErrClosed is returned by Detect after Close.
var ErrClosed = domain.InterpreterError("interpreter is closed", nil)

// Interpreter is a loaded detection model. It is expensive to build and is
// meant to be shared by every page of a session. Calls are serialised.
type Interpreter struct {
	manifest Manifest
	identity string
	backend  Backend
	logger   *observability.Logger

	gate   *semaphore.Weighted
	closed atomic.Bool
}

// Options configure InitFromAsset.
type Options struct {
	// Vision is required by manifests using the remote backend.
	Vision VisionClient
	Logger *observability.Logger
	// DefaultThreshold overrides the built-in manifest threshold when no
	// asset is given.
	DefaultThreshold float64
}

// InitFromAsset loads a manifest from path and builds its backend. An empty
// path selects the built-in gutter-scan model.
func InitFromAsset(path string, opts Options) (*Interpreter, error) {
	m := DefaultManifest()
	if path != "" {
		var err error
		if m, err = LoadManifest(path); err != nil {
			return nil, err
		}
	} else if opts.DefaultThreshold > 0 && opts.DefaultThreshold <= 1 {
		m.DefaultThreshold = opts.DefaultThreshold
	}

	var backend Backend
	switch m.Backend {
	case BackendRemote:
		if opts.Vision == nil {
			return nil, domain.InterpreterError("remote detection backend needs a vision client", nil)
		}
		backend = NewRemoteBackend(opts.Vision, m.Remote)
	default:
		backend = NewGutterBackend(m.Gutter)
	}
	return NewInterpreter(m, backend, opts.Logger), nil
}

// NewInterpreter wraps an already constructed backend.
func NewInterpreter(m Manifest, backend Backend, logger *observability.Logger) *Interpreter {
	if logger == nil {
		logger = observability.Nop()
	}
	return &Interpreter{
		manifest: m,
		identity: m.Fingerprint(),
		backend:  backend,
		logger:   logger.WithComponent("detect"),
		gate:     semaphore.NewWeighted(1),
	}
}

// Manifest returns the loaded manifest.
func (i *Interpreter) Manifest() Manifest { return i.manifest }

// Identity names the model and settings the interpreter detects with.
func (i *Interpreter) Identity() string { return i.identity }

// InputSize is the longest raster side the model wants.
func (i *Interpreter) InputSize() int { return i.manifest.InputSize }

// Detect runs the model over raster and returns filtered objects with boxes
// normalised to the raster. Waiting for the interpreter honours ctx.
func (i *Interpreter) Detect(ctx context.Context, raster image.Image) ([]domain.PageObject, error) {
	if i.closed.Load() {
		return nil, ErrClosed
	}
	if raster == nil || raster.Bounds().Empty() {
		return nil, domain.ValidationError("raster is empty", nil)
	}
	if err := i.gate.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer i.gate.Release(1)

	b := raster.Bounds()
	if max(b.Dx(), b.Dy()) > i.manifest.InputSize {
		raster = imaging.Fit(raster, i.manifest.InputSize, i.manifest.InputSize, imaging.Linear)
	}

	start := time.Now()
	raw, err := i.backend.Infer(ctx, raster)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var de *domain.DomainError
		if errors.As(err, &de) && de.Code == domain.CodeInterpreter {
			return nil, err
		}
		return nil, domain.InterpreterError("inference failed", err)
	}

	objs := Filter(raw, i.manifest)
	i.logger.Debug().
		Int("raw", len(raw)).
		Int("kept", len(objs)).
		Dur("took", time.Since(start)).
		Msg("Detection finished")
	return objs, nil
}

// Close releases the interpreter. It is safe to call more than once.
func (i *Interpreter) Close() error {
	i.closed.Store(true)
	return nil
}
