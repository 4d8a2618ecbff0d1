package ocr

import (
	"context"
	"fmt"
	"image"
	"sync"
	"sync/atomic"

	"github.com/spherical/comic-extractor/internal/domain"
	"github.com/spherical/comic-extractor/internal/observability"
)

// State is the outcome of one recognition request.
type State string

const (
	StateRecognized State = "recognized"
	// StateEmpty covers both "no text found" and a failed recognition.
	StateEmpty      State = "empty"
	StateSuperseded State = "superseded"
	StateCancelled  State = "cancelled"
)

// Result is returned for every request; it never carries a Go error for the
// caller to handle. Err is kept for logging when State is StateEmpty.
type Result struct {
	ObjectID string `json:"object_id"`
	State    State  `json:"state"`
	Text     string `json:"text"`
	Err      error  `json:"-"`
}

// ObjectID identifies a page object by book hash, page position and box,
// since object identity does not survive re-detection otherwise.
func ObjectID(bookHash string, position int, box domain.BoundingBox) string {
	return fmt.Sprintf("%s/%d/%.4f,%.4f,%.4f,%.4f", bookHash, position, box.XMin, box.YMin, box.XMax, box.YMax)
}

type request struct {
	id         string
	cancel     context.CancelFunc
	done       chan struct{}
	superseded atomic.Bool
	result     Result
}

// Dispatcher keeps at most one recognition in flight. A request for the
// object already in flight joins it; a request for another object cancels
// the one in flight.
type Dispatcher struct {
	engine *Engine
	logger *observability.Logger

	mu      sync.Mutex
	current *request
}

// NewDispatcher creates a dispatcher over engine.
func NewDispatcher(engine *Engine, logger *observability.Logger) *Dispatcher {
	if logger == nil {
		logger = observability.Nop()
	}
	return &Dispatcher{engine: engine, logger: logger.WithComponent("ocr_dispatcher")}
}

// Recognize blocks until the request for objectID resolves.
func (d *Dispatcher) Recognize(ctx context.Context, objectID string, raster image.Image) Result {
	d.mu.Lock()
	if cur := d.current; cur != nil {
		if cur.id == objectID {
			d.mu.Unlock()
			return d.join(ctx, cur)
		}
		cur.superseded.Store(true)
		cur.cancel()
	}
	reqCtx, cancel := context.WithCancel(ctx)
	req := &request{id: objectID, cancel: cancel, done: make(chan struct{})}
	d.current = req
	d.mu.Unlock()

	text, err := d.engine.Recognize(reqCtx, raster)
	cancel()
	req.result = d.resolve(ctx, req, text, err)

	d.mu.Lock()
	if d.current == req {
		d.current = nil
	}
	d.mu.Unlock()
	close(req.done)
	return req.result
}

// Cancel abandons whatever is in flight.
func (d *Dispatcher) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current != nil {
		d.current.superseded.Store(true)
		d.current.cancel()
	}
}

// Close cancels the request in flight and closes the engine.
func (d *Dispatcher) Close() error {
	d.Cancel()
	return d.engine.Close()
}

func (d *Dispatcher) join(ctx context.Context, req *request) Result {
	select {
	case <-req.done:
		return req.result
	case <-ctx.Done():
		return Result{ObjectID: req.id, State: StateCancelled}
	}
}

func (d *Dispatcher) resolve(ctx context.Context, req *request, text string, err error) Result {
	res := Result{ObjectID: req.id}
	switch {
	case req.superseded.Load():
		res.State = StateSuperseded
	case ctx.Err() != nil:
		res.State = StateCancelled
	case err != nil:
		d.logger.Warn().Str("object", req.id).Err(err).Msg("Recognition failed")
		res.State = StateEmpty
		res.Err = err
	case text == "":
		res.State = StateEmpty
	default:
		res.State = StateRecognized
		res.Text = text
	}
	return res
}
