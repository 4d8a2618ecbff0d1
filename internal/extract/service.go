// Package extract drives a container through open, hash, metadata, page
// enumeration and per-page detection to an assembled book.
package extract

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/spherical/comic-extractor/internal/archive"
	"github.com/spherical/comic-extractor/internal/decode"
	"github.com/spherical/comic-extractor/internal/domain"
	"github.com/spherical/comic-extractor/internal/hash"
	"github.com/spherical/comic-extractor/internal/metadata"
	"github.com/spherical/comic-extractor/internal/metrics"
	"github.com/spherical/comic-extractor/internal/observability"
)

// State is a pipeline state.
type State string

const (
	StateIdle             State = "idle"
	StateOpening          State = "opening"
	StateHashing          State = "hashing"
	StateMetadataParsing  State = "metadata_parsing"
	StatePageEnumeration  State = "page_enumeration"
	StatePerPageDetection State = "per_page_detection"
	StateAssembled        State = "assembled"
	StateFailed           State = "failed"
)

const (
	defaultDetectionSize = 1024
	defaultWorkers       = 2
)

// Config tunes the pipeline.
type Config struct {
	Archive archive.Options
	// DetectionSize is the longest raster side decoded for detection.
	DetectionSize int
	// Workers bounds pages decoded concurrently. Detection itself is
	// serialised by the interpreter.
	Workers int
}

// Service orchestrates the extraction process.
type Service struct {
	cfg     Config
	decoder *decode.Decoder
	logger  *observability.Logger
	now     func() time.Time
}

var _ domain.Pipeline = (*Service)(nil)

// NewService creates a new extraction service.
func NewService(cfg Config, decoder *decode.Decoder, logger *observability.Logger) *Service {
	if cfg.DetectionSize <= 0 {
		cfg.DetectionSize = defaultDetectionSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if logger == nil {
		logger = observability.Nop()
	}
	if decoder == nil {
		decoder = decode.New(decode.Config{}, logger)
	}
	return &Service{
		cfg:     cfg,
		decoder: decoder,
		logger:  logger.WithComponent("extract"),
		now:     time.Now,
	}
}

// run carries the mutable state of one Assemble call.
type run struct {
	s       *Service
	eventCh chan<- domain.StreamEvent
	logger  *observability.Logger
	state   State
	stats   domain.ProcessingStats
	format  domain.Format
}

// Assemble implements domain.Pipeline. Container-level failures return a
// typed error and no book; page-level failures are absorbed.
func (s *Service) Assemble(ctx context.Context, req domain.AssembleRequest, eventCh chan<- domain.StreamEvent) (*domain.Book, error) {
	r := &run{
		s:       s,
		eventCh: eventCh,
		logger:  s.logger.WithPath(req.Path),
		state:   StateIdle,
		format:  domain.FormatUnknown,
	}
	start := time.Now()

	book, err := r.assemble(ctx, req)
	r.stats.TotalTime = time.Since(start)
	if err != nil {
		return nil, r.fail(err)
	}

	r.transition(StateAssembled)
	metrics.RecordBook(string(r.format), string(StateAssembled), "")
	r.emit(domain.StreamEvent{
		Type:       domain.EventComplete,
		TotalPages: len(book.Pages),
		Payload: fmt.Sprintf("Assembled %d pages (%d failed) in %v",
			len(book.Pages), r.stats.FailedPages, r.stats.TotalTime.Round(time.Millisecond)),
	})
	r.logger.Info().
		Int("pages", len(book.Pages)).
		Int("failed_pages", r.stats.FailedPages).
		Dur("took", r.stats.TotalTime).
		Msg("Book assembled")
	return book, nil
}

func (r *run) assemble(ctx context.Context, req domain.AssembleRequest) (*domain.Book, error) {
	if strings.TrimSpace(req.Path) == "" {
		return nil, domain.ValidationError("container path is empty", nil)
	}

	r.transition(StateOpening)
	stageStart := time.Now()
	c, err := archive.Open(ctx, req.Path, r.s.cfg.Archive)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	r.format = c.Format()
	metrics.RecordStage(string(StateOpening), time.Since(stageStart))

	fileHash, meta, err := r.identify(ctx, req, c)
	if err != nil {
		return nil, err
	}

	r.transition(StatePageEnumeration)
	pages := Enumerate(c.Entries(), c.Format())
	if len(pages) == 0 {
		return nil, domain.EmptyBookError(fmt.Sprintf("%s has no image entries", filepath.Base(req.Path)))
	}
	for i := range pages {
		if pm, ok := meta.PageMeta(pages[i].Position); ok {
			pages[i].Metadata = pm
		}
	}

	r.transition(StatePerPageDetection)
	stageStart = time.Now()
	if err := r.processPages(ctx, c, pages, req.Detector); err != nil {
		return nil, err
	}
	metrics.RecordStage(string(StatePerPageDetection), time.Since(stageStart))

	return &domain.Book{
		Name:      DisplayName(req.DisplayNameHint, meta, req.Path),
		Path:      req.Path,
		Format:    c.Format(),
		Direction: ResolveDirection(req.Direction, meta),
		Hash:      fileHash,
		Pages:     pages,
		Metadata:  meta,
		CreatedAt: r.s.now(),
	}, nil
}

// identify hashes the container and parses its metadata concurrently.
// Metadata problems never fail the book.
func (r *run) identify(ctx context.Context, req domain.AssembleRequest, c domain.Container) (domain.FileHashData, *domain.ComicRackMetadata, error) {
	r.transition(StateHashing)
	r.transition(StateMetadataParsing)

	var (
		fileHash domain.FileHashData
		meta     *domain.ComicRackMetadata
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if req.Hash != nil && !req.Hash.IsZero() {
			fileHash = *req.Hash
			return nil
		}
		start := time.Now()
		h, err := hash.File(gctx, req.Path)
		if err != nil {
			return err
		}
		fileHash = h
		metrics.RecordStage(string(StateHashing), time.Since(start))
		return nil
	})
	g.Go(func() error {
		start := time.Now()
		idx, ok := archive.FindMetadataEntry(c.Entries())
		if !ok {
			return nil
		}
		data, err := c.ReadEntry(gctx, idx)
		if err != nil {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			r.logger.Warn().Err(err).Msg("Cannot read ComicInfo.xml, continuing without metadata")
			return nil
		}
		m, err := metadata.Parse(data)
		if err != nil {
			r.logger.Warn().Err(err).Msg("Ignoring malformed ComicInfo.xml")
			return nil
		}
		meta = m
		metrics.RecordStage(string(StateMetadataParsing), time.Since(start))
		return nil
	})
	if err := g.Wait(); err != nil {
		return domain.FileHashData{}, nil, err
	}
	return fileHash, meta, nil
}

func (r *run) processPages(ctx context.Context, c domain.Container, pages []domain.Page, detector domain.Detector) error {
	var decoded, failed atomic.Int32
	total := len(pages)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.s.cfg.Workers)
	for i := range pages {
		if gctx.Err() != nil {
			break
		}
		page := &pages[i]
		g.Go(func() error {
			r.emit(domain.StreamEvent{
				Type:       domain.EventPageProcessing,
				PageNumber: page.Position + 1,
				TotalPages: total,
			})

			err := r.processPage(gctx, c, page, detector)
			if gctx.Err() != nil {
				return gctx.Err()
			}
			if page.Width > 0 {
				decoded.Add(1)
			}
			if err != nil {
				failed.Add(1)
				metrics.RecordPage(false)
				r.logger.Warn().Int("page", page.Position).Str("entry", page.Name).Err(err).Msg("Page failed")
				r.emit(domain.StreamEvent{
					Type:       domain.EventPageFailed,
					PageNumber: page.Position + 1,
					TotalPages: total,
					Payload:    err.Error(),
				})
				return nil
			}

			metrics.RecordPage(true)
			r.emit(domain.StreamEvent{
				Type:       domain.EventPageComplete,
				PageNumber: page.Position + 1,
				TotalPages: total,
				Payload:    len(page.Objects),
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.stats.PagesProcessed = total
	r.stats.FailedPages = int(failed.Load())
	r.stats.SuccessfulPages = total - r.stats.FailedPages
	if decoded.Load() == 0 {
		return domain.ImageOpenError("no page of the book could be decoded", nil)
	}
	return nil
}

// processPage fills in dimensions and objects. Without a detector only the
// header is probed.
func (r *run) processPage(ctx context.Context, c domain.Container, page *domain.Page, detector domain.Detector) error {
	if detector == nil {
		size, err := r.s.decoder.Probe(ctx, c, page.EntryIndex)
		if err != nil {
			return err
		}
		page.Width, page.Height = size.Width, size.Height
		return nil
	}

	target := domain.Size{Width: r.s.cfg.DetectionSize, Height: r.s.cfg.DetectionSize}
	res, err := r.s.decoder.DecodeRegion(ctx, c, page.EntryIndex, nil, &target)
	if err != nil {
		return err
	}
	page.Width, page.Height = res.Source.Width, res.Source.Height

	objs, err := detector.Detect(ctx, res.Image)
	if err != nil {
		page.DetectFailed = true
		return err
	}
	page.Objects = objs
	for _, o := range objs {
		metrics.RecordObjects(string(o.Class), 1)
	}
	return nil
}

func (r *run) transition(to State) {
	r.logger.Debug().Str("from", string(r.state)).Str("to", string(to)).Msg("State change")
	r.state = to
	r.emit(domain.StreamEvent{Type: domain.EventStateChange, State: string(to)})
}

func (r *run) fail(err error) error {
	code := domain.CodeOf(err)
	r.transition(StateFailed)
	metrics.RecordBook(string(r.format), string(StateFailed), string(code))
	r.emit(domain.StreamEvent{Type: domain.EventError, State: string(StateFailed), Payload: err.Error()})

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		r.logger.Info().Msg("Pipeline cancelled")
		return domain.NewError(domain.CodeCancelled, "pipeline cancelled", err)
	}
	r.logger.Error().Str("code", string(code)).Err(err).Msg("Pipeline failed")
	return err
}

// emit safely emits an event to the channel
func (r *run) emit(event domain.StreamEvent) {
	if r.eventCh == nil {
		return
	}
	event.Timestamp = time.Now()
	select {
	case r.eventCh <- event:
	default:
		r.logger.Debug().Str("type", string(event.Type)).Msg("Event channel full, dropping event")
	}
}

// Enumerate turns classified entries into pages. Archive pages are ordered
// by a natural sort of their names with archive order breaking ties; PDF
// pages keep document order.
func Enumerate(entries []domain.Entry, format domain.Format) []domain.Page {
	images := make([]domain.Entry, 0, len(entries))
	for _, e := range entries {
		if e.MediaType == domain.MediaImage {
			images = append(images, e)
		}
	}
	if format != domain.FormatPDF {
		sort.SliceStable(images, func(i, j int) bool {
			return archive.NaturalLess(images[i].Name, images[j].Name)
		})
	}

	pages := make([]domain.Page, len(images))
	for i, e := range images {
		pages[i] = domain.Page{
			Position:   i,
			EntryIndex: e.Index,
			Name:       e.Name,
			Objects:    []domain.PageObject{},
		}
	}
	return pages
}

// DisplayName picks the hinted name, then the metadata title, then the file
// name without extension.
func DisplayName(hint string, meta *domain.ComicRackMetadata, path string) string {
	if h := strings.TrimSpace(hint); h != "" {
		return h
	}
	if meta != nil && meta.Title != nil {
		return *meta.Title
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ResolveDirection prefers an explicit request, then the metadata manga
// flag, then left-to-right.
func ResolveDirection(requested domain.Direction, meta *domain.ComicRackMetadata) domain.Direction {
	if requested != "" {
		return requested
	}
	if meta.RightToLeft() {
		return domain.DirectionRTL
	}
	return domain.DirectionLTR
}
