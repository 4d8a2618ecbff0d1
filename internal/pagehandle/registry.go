// Package pagehandle tracks encoded page handles: borrowed copies of a page's
// encoded bytes that the caller must release exactly once.
package pagehandle

import (
	"sync"

	"github.com/google/uuid"

	"github.com/spherical/comic-extractor/internal/domain"
	"github.com/spherical/comic-extractor/internal/metrics"
	"github.com/spherical/comic-extractor/internal/observability"
)

// Handle is one encoded page. It may be read any number of times until
// released.
type Handle struct {
	id       string
	position int
	mime     string
	size     domain.Size
	registry *Registry

	mu       sync.RWMutex
	data     []byte
	released bool
}

// ID returns the handle id.
func (h *Handle) ID() string { return h.id }

// Position returns the page position the handle was taken from.
func (h *Handle) Position() int { return h.position }

// MIMEType returns the media type of the encoded bytes.
func (h *Handle) MIMEType() string { return h.mime }

// Size returns the natural page size.
func (h *Handle) Size() domain.Size { return h.size }

// Bytes returns the encoded page. The slice must not be modified.
func (h *Handle) Bytes() ([]byte, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.released {
		return nil, domain.ErrHandleReleased
	}
	return h.data, nil
}

// Released reports whether Release has been called.
func (h *Handle) Released() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.released
}

// Release frees the handle. The first call returns nil; later calls change
// nothing and return ErrHandleReleased.
func (h *Handle) Release() error {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return domain.ErrHandleReleased
	}
	h.released = true
	n := int64(len(h.data))
	h.data = nil
	h.mu.Unlock()

	h.registry.forget(h.id, n)
	return nil
}

// Registry owns outstanding handles.
type Registry struct {
	logger *observability.Logger

	mu      sync.Mutex
	handles map[string]*Handle
	bytes   int64
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *observability.Logger) *Registry {
	if logger == nil {
		logger = observability.Nop()
	}
	return &Registry{
		logger:  logger.WithComponent("pagehandle"),
		handles: make(map[string]*Handle),
	}
}

// Acquire registers a new handle over data. The registry takes ownership of
// data.
func (r *Registry) Acquire(position int, data []byte, mime string, size domain.Size) *Handle {
	h := &Handle{
		id:       uuid.NewString(),
		position: position,
		mime:     mime,
		size:     size,
		registry: r,
		data:     data,
	}

	r.mu.Lock()
	r.handles[h.id] = h
	r.bytes += int64(len(data))
	count, bytes := len(r.handles), r.bytes
	r.mu.Unlock()

	metrics.SetHandlesOutstanding(count, bytes)
	return h
}

// Lookup returns an outstanding handle by id.
func (r *Registry) Lookup(id string) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[id]
	if !ok {
		return nil, domain.ErrHandleReleased
	}
	return h, nil
}

// Outstanding returns the number of unreleased handles and the bytes they hold.
func (r *Registry) Outstanding() (int, int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles), r.bytes
}

// ReleaseAll releases every outstanding handle and returns how many there
// were. Each one is a caller leak and is logged.
func (r *Registry) ReleaseAll() int {
	r.mu.Lock()
	leaked := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		leaked = append(leaked, h)
	}
	r.mu.Unlock()

	for _, h := range leaked {
		r.logger.Warn().
			Str("handle", h.id).
			Int("page", h.position).
			Msg("Releasing leaked page handle")
		_ = h.Release()
	}
	return len(leaked)
}

func (r *Registry) forget(id string, n int64) {
	r.mu.Lock()
	delete(r.handles, id)
	r.bytes -= n
	count, bytes := len(r.handles), r.bytes
	r.mu.Unlock()

	metrics.SetHandlesOutstanding(count, bytes)
}
