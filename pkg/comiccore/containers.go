package comiccore

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/spherical/comic-extractor/internal/archive"
	"github.com/spherical/comic-extractor/internal/domain"
	"github.com/spherical/comic-extractor/internal/extract"
	"github.com/spherical/comic-extractor/internal/observability"
)

// openBook is a container kept open between page requests together with
// its enumerated pages.
type openBook struct {
	ct      domain.Container
	pages   []domain.Page
	modTime time.Time
	size    int64

	refs    int
	evicted bool
}

// containerCache keeps recently used books open so tiled viewers do not
// rescan archive headers for every tile. Entries are keyed by path and
// dropped when the file's size or modification time changes. A container
// evicted while in use is closed by its last release.
type containerCache struct {
	opts   archive.Options
	logger *observability.Logger

	mu     sync.Mutex
	lru    *simplelru.LRU[string, *openBook]
	closed bool
}

func newContainerCache(size int, opts archive.Options, logger *observability.Logger) *containerCache {
	c := &containerCache{opts: opts, logger: logger}
	if size > 0 {
		c.lru, _ = simplelru.NewLRU[string, *openBook](size, c.evict)
	}
	return c
}

// evict runs with mu held.
func (c *containerCache) evict(path string, b *openBook) {
	b.evicted = true
	if b.refs == 0 {
		c.closeBook(path, b)
	}
}

func (c *containerCache) closeBook(path string, b *openBook) {
	if err := b.ct.Close(); err != nil {
		c.logger.Warn().Err(err).Str("path", path).Msg("Cannot close container")
	}
}

// acquire returns an open book for path. The caller must release it.
func (c *containerCache) acquire(ctx context.Context, path string) (*openBook, error) {
	if strings.TrimSpace(path) == "" {
		return nil, domain.ValidationError("container path cannot be empty", nil)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, domain.ContainerReadError("cannot stat "+path, err)
	}

	c.mu.Lock()
	if c.lru != nil && !c.closed {
		if b, ok := c.lru.Get(path); ok {
			if b.size == info.Size() && b.modTime.Equal(info.ModTime()) {
				b.refs++
				c.mu.Unlock()
				return b, nil
			}
			c.lru.Remove(path)
		}
	}
	c.mu.Unlock()

	ct, err := archive.Open(ctx, path, c.opts)
	if err != nil {
		return nil, err
	}
	b := &openBook{
		ct:      ct,
		pages:   extract.Enumerate(ct.Entries(), ct.Format()),
		modTime: info.ModTime(),
		size:    info.Size(),
		refs:    1,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lru == nil || c.closed {
		b.evicted = true
		return b, nil
	}
	if prev, ok := c.lru.Peek(path); ok && prev.size == b.size && prev.modTime.Equal(b.modTime) {
		// Another request opened the same file first.
		prev.refs++
		c.closeBook(path, b)
		return prev, nil
	}
	c.lru.Add(path, b)
	return b, nil
}

func (c *containerCache) release(path string, b *openBook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b.refs--
	if b.refs == 0 && b.evicted {
		c.closeBook(path, b)
	}
}

// Len reports how many books are held open.
func (c *containerCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lru == nil {
		return 0
	}
	return c.lru.Len()
}

// Close evicts every book. Books still in use close on release, and later
// acquires open uncached containers.
func (c *containerCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.lru != nil {
		c.lru.Purge()
	}
	return nil
}
