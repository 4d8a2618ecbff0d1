package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/spherical/comic-extractor/internal/domain"
	"github.com/spherical/comic-extractor/internal/metrics"
	"github.com/spherical/comic-extractor/internal/observability"
)

// InvalidateChannel carries Invalidation messages.
const InvalidateChannel = "invalidate"

// Invalidation announces that every cached description of a content hash is
// stale.
type Invalidation struct {
	Hash string `json:"hash"`
}

// BookCache stores assembled books keyed by content identity, so a moved
// file hits the same entry.
type BookCache struct {
	client   Client
	notifier Notifier
	ttl      time.Duration
	logger   *observability.Logger
}

// NewBookCache wraps client. notifier may be nil, in which case
// invalidations stay local.
func NewBookCache(client Client, notifier Notifier, ttl time.Duration, logger *observability.Logger) *BookCache {
	if logger == nil {
		logger = observability.Nop()
	}
	return &BookCache{
		client:   client,
		notifier: notifier,
		ttl:      ttl,
		logger:   logger.WithComponent("cache"),
	}
}

// NoDetector is the detector identity of books assembled without detection.
const NoDetector = "none"

// bookKey keeps the hash first so Invalidate can drop every detector's
// entry with one prefix.
func bookKey(fh domain.FileHashData, detector string) string {
	if detector == "" {
		detector = NoDetector
	}
	return CacheKey("book", fh.Hex(), strconv.FormatInt(fh.Size, 10), detector)
}

// Get returns the book cached for fh as assembled by detector, or
// ErrCacheMiss. A book whose detection found no objects is still a hit.
func (c *BookCache) Get(ctx context.Context, fh domain.FileHashData, detector string) (*domain.Book, error) {
	key := bookKey(fh, detector)
	data, err := c.client.Get(ctx, key)
	if err != nil {
		metrics.RecordCacheLookup(false)
		if errors.Is(err, ErrCacheMiss) {
			return nil, ErrCacheMiss
		}
		return nil, domain.StorageError("cache get", err)
	}

	var book domain.Book
	if err := json.Unmarshal(data, &book); err != nil {
		// Unreadable entries count as misses and are dropped.
		metrics.RecordCacheLookup(false)
		c.logger.Warn().Err(err).Str("hash", fh.Hex()).Msg("Dropping undecodable cache entry")
		_ = c.client.Delete(ctx, key)
		return nil, ErrCacheMiss
	}
	metrics.RecordCacheLookup(true)
	return &book, nil
}

// Put stores book under its content identity and the detector that
// produced its objects.
func (c *BookCache) Put(ctx context.Context, book *domain.Book, detector string) error {
	if book == nil || book.Hash.IsZero() {
		return domain.ValidationError("book has no content hash", nil)
	}
	data, err := json.Marshal(book)
	if err != nil {
		return domain.StorageError("encode book", err)
	}
	if err := c.client.Set(ctx, bookKey(book.Hash, detector), data, c.ttl); err != nil {
		return domain.StorageError("cache set", err)
	}
	return nil
}

// Invalidate drops every entry for hashHex and tells other subscribers.
func (c *BookCache) Invalidate(ctx context.Context, hashHex string) error {
	if hashHex == "" {
		return domain.ValidationError("empty hash", nil)
	}
	if err := c.client.DeleteByPrefix(ctx, CacheKey("book", hashHex)+":"); err != nil {
		return domain.StorageError("cache invalidate", err)
	}
	if c.notifier == nil {
		return nil
	}
	if err := c.notifier.Publish(ctx, InvalidateChannel, Invalidation{Hash: hashHex}); err != nil {
		return domain.StorageError("publish invalidation", err)
	}
	return nil
}

// Watch calls fn for every invalidation received until ctx ends or the
// returned stop func is called. Without a notifier it returns a no-op stop.
func (c *BookCache) Watch(ctx context.Context, fn func(hashHex string)) (func(), error) {
	if c.notifier == nil {
		return func() {}, nil
	}
	ch, unsubscribe, err := c.notifier.Subscribe(ctx, InvalidateChannel)
	if err != nil {
		return nil, domain.StorageError("subscribe invalidations", err)
	}

	go func() {
		for payload := range ch {
			var msg Invalidation
			if err := json.Unmarshal(payload, &msg); err != nil || msg.Hash == "" {
				c.logger.Warn().Str("payload", string(payload)).Msg("Ignoring malformed invalidation")
				continue
			}
			fn(msg.Hash)
		}
	}()
	return unsubscribe, nil
}

// Close closes the underlying client.
func (c *BookCache) Close() error {
	return c.client.Close()
}
