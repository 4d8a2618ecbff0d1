// Package comiccore is the public entry point of the comic extractor. It
// opens comic containers, assembles book descriptions, serves page images
// and regions, and runs on-demand text recognition.
package comiccore

import (
	"context"
	"errors"

	"github.com/spherical/comic-extractor/internal/archive"
	"github.com/spherical/comic-extractor/internal/cache"
	"github.com/spherical/comic-extractor/internal/catalog"
	"github.com/spherical/comic-extractor/internal/config"
	"github.com/spherical/comic-extractor/internal/decode"
	"github.com/spherical/comic-extractor/internal/detect"
	"github.com/spherical/comic-extractor/internal/domain"
	"github.com/spherical/comic-extractor/internal/extract"
	"github.com/spherical/comic-extractor/internal/hash"
	"github.com/spherical/comic-extractor/internal/llm"
	"github.com/spherical/comic-extractor/internal/observability"
	"github.com/spherical/comic-extractor/internal/ocr"
	"github.com/spherical/comic-extractor/internal/pagehandle"
)

// Re-export types for the public API
type (
	Book              = domain.Book
	Page              = domain.Page
	PageObject        = domain.PageObject
	BoundingBox       = domain.BoundingBox
	FileHashData      = domain.FileHashData
	ComicRackMetadata = domain.ComicRackMetadata
	Direction         = domain.Direction
	Region            = domain.Region
	Size              = domain.Size
	StreamEvent       = domain.StreamEvent
	Code              = domain.Code
	Interpreter       = detect.Interpreter
	PageHandle        = pagehandle.Handle
	DecodedImage      = decode.Result
)

const (
	DirectionLTR = domain.DirectionLTR
	DirectionRTL = domain.DirectionRTL
)

// CodeOf returns the stable error code carried by err.
func CodeOf(err error) Code { return domain.CodeOf(err) }

// Options wires a Core. Every field is optional.
type Options struct {
	Config  *config.Config
	Logger  *observability.Logger
	Catalog *catalog.Store
	Cache   *cache.BookCache
	// Vision serves remote detection and remote OCR backends.
	Vision VisionClient
}

// VisionClient is a vision chat model able to answer in one piece, for
// detection, or streamed, for OCR.
type VisionClient interface {
	detect.VisionClient
	ocr.VisionClient
}

// Core is safe for concurrent use across different containers.
type Core struct {
	cfg      *config.Config
	logger   *observability.Logger
	archive  archive.Options
	decoder  *decode.Decoder
	pipeline *extract.Service
	handles  *pagehandle.Registry
	catalog  *catalog.Store
	cache    *cache.BookCache
	vision   VisionClient
	books    *containerCache

	closers []func() error
}

// New builds a Core from already constructed dependencies.
func New(opts Options) *Core {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.Nop()
	}

	archiveOpts := archive.Options{
		MaxEntryBytes: cfg.Decode.MaxEntryBytes,
		PDFDPI:        cfg.Decode.PDFDPI,
	}
	decoder := decode.New(decode.Config{
		MemoryBudget: cfg.Decode.MemoryBudget,
		TileSize:     cfg.Decode.TileSize,
	}, logger)

	return &Core{
		cfg:     cfg,
		logger:  logger.WithComponent("comiccore"),
		archive: archiveOpts,
		decoder: decoder,
		pipeline: extract.NewService(extract.Config{
			Archive:       archiveOpts,
			DetectionSize: cfg.Decode.DetectionSize,
			Workers:       cfg.Decode.Workers,
		}, decoder, logger),
		handles: pagehandle.NewRegistry(logger),
		catalog: opts.Catalog,
		cache:   opts.Cache,
		vision:  opts.Vision,
		books:   newContainerCache(cfg.Decode.OpenContainers, archiveOpts, logger),
	}
}

// Open builds a Core and the catalog, cache and vision client named by cfg.
// The returned Core owns them and closes them in Close.
func Open(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*Core, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{
			Level:  cfg.Observability.LogLevel,
			Format: cfg.Observability.LogFormat,
		})
	}

	store, err := catalog.Open(ctx, catalog.Config{
		Driver:       cfg.Catalog.Driver,
		DSN:          cfg.Catalog.DSN,
		MaxOpenConns: cfg.Catalog.MaxOpenConns,
	})
	if err != nil {
		return nil, err
	}

	var books *cache.BookCache
	switch cfg.Cache.Driver {
	case "redis":
		rc, err := cache.NewRedisClient(cache.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			PoolSize: cfg.Cache.Redis.PoolSize,
			Prefix:   cfg.Cache.Redis.Prefix,
		})
		if err != nil {
			store.Close()
			return nil, domain.StorageError("connect cache", err)
		}
		books = cache.NewBookCache(rc, rc, cfg.Cache.TTL, logger)
	default:
		mc := cache.NewMemoryClient(cfg.Cache.MaxEntries)
		books = cache.NewBookCache(mc, mc, cfg.Cache.TTL, logger)
	}

	var vision VisionClient
	if cfg.Vision.APIKey != "" {
		vision = llm.NewClient(cfg.Vision.APIKey, cfg.Vision.Model,
			llm.WithEndpoint(cfg.Vision.Endpoint),
			llm.WithLogger(logger))
	}

	c := New(Options{
		Config:  cfg,
		Logger:  logger,
		Catalog: store,
		Cache:   books,
		Vision:  vision,
	})
	c.closers = append(c.closers, books.Close, store.Close)
	return c, nil
}

// InitInterpreterFromAsset loads a detection model once for reuse across
// every page of a session. An empty name uses the configured model path,
// and failing that the built-in gutter model. The caller owns the handle.
func (c *Core) InitInterpreterFromAsset(modelAsset string) (*Interpreter, error) {
	if modelAsset == "" {
		modelAsset = c.cfg.Detect.ModelPath
	}
	return detect.InitFromAsset(modelAsset, detect.Options{
		Vision:           c.vision,
		Logger:           c.logger,
		DefaultThreshold: c.cfg.Detect.DefaultThreshold,
	})
}

// GetComicsMetadata runs the full pipeline over path. interp may be nil to
// skip detection. Results are cached by content identity and detector
// identity when a cache is configured; the hint, path and direction always
// come from this call.
func (c *Core) GetComicsMetadata(ctx context.Context, path, displayNameHint string, direction Direction, interp *Interpreter, eventCh chan<- StreamEvent) (*Book, error) {
	fh, err := hash.File(ctx, path)
	if err != nil {
		return nil, err
	}

	detector := cache.NoDetector
	if interp != nil {
		detector = interp.Identity()
	}

	if c.cache != nil {
		cached, err := c.cache.Get(ctx, fh, detector)
		switch {
		case err == nil:
			cached.Path = path
			cached.Name = extract.DisplayName(displayNameHint, cached.Metadata, path)
			cached.Direction = extract.ResolveDirection(direction, cached.Metadata)
			return cached, nil
		case !errors.Is(err, cache.ErrCacheMiss):
			c.logger.Warn().Err(err).Msg("Cache lookup failed, assembling")
		}
	}

	req := domain.AssembleRequest{
		Path:            path,
		DisplayNameHint: displayNameHint,
		Direction:       direction,
		Hash:            &fh,
	}
	if interp != nil {
		req.Detector = interp
	}
	book, err := c.pipeline.Assemble(ctx, req, eventCh)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if err := c.cache.Put(ctx, book, detector); err != nil {
			c.logger.Warn().Err(err).Msg("Cannot cache assembled book")
		}
	}
	return book, nil
}

// GetComicFileData hashes path without opening or decoding it.
func (c *Core) GetComicFileData(ctx context.Context, path string) (FileHashData, error) {
	return hash.File(ctx, path)
}

// Invalidate drops cached descriptions of the book with the given content
// hash and notifies watchers.
func (c *Core) Invalidate(ctx context.Context, hashHex string) error {
	if c.cache == nil {
		return nil
	}
	return c.cache.Invalidate(ctx, hashHex)
}

// WatchInvalidations calls fn with the hash of every invalidated book until
// ctx ends or stop is called. Callers use it to refetch.
func (c *Core) WatchInvalidations(ctx context.Context, fn func(hashHex string)) (stop func(), err error) {
	if c.cache == nil {
		return func() {}, nil
	}
	return c.cache.Watch(ctx, fn)
}

// OutstandingHandles reports unreleased page handles and the bytes they hold.
func (c *Core) OutstandingHandles() (int, int64) {
	return c.handles.Outstanding()
}

// Close releases leaked page handles, closes cached containers and closes
// owned resources.
func (c *Core) Close() error {
	if n := c.handles.ReleaseAll(); n > 0 {
		c.logger.Warn().Int("handles", n).Msg("Released leaked page handles on close")
	}
	errs := []error{c.books.Close()}
	for _, closeFn := range c.closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
