package comiccore

import (
	"context"
	"errors"
	"os"

	"github.com/spherical/comic-extractor/internal/catalog"
	"github.com/spherical/comic-extractor/internal/domain"
	"github.com/spherical/comic-extractor/internal/hash"
	"github.com/spherical/comic-extractor/internal/metrics"
)

// AddResultType is the caller-visible outcome of AddBook.
type AddResultType string

const (
	// Added: a new book was assembled and recorded.
	Added AddResultType = "added"
	// AlreadyExists: the same content is already recorded and its file is
	// still in place.
	AlreadyExists AddResultType = "already_exists"
	// Moved: known content whose old file is gone; the path was updated
	// without re-running detection.
	Moved AddResultType = "moved"
	// Replaced: the file at a known path changed; the record was rebuilt.
	Replaced AddResultType = "replaced"
	// Rejected: the book could not be added; Code says why.
	Rejected AddResultType = "rejected"
)

// AddResult is the tagged result of AddBook.
type AddResult struct {
	Type AddResultType
	// Code is set only for Rejected.
	Code Code
	Err  error
	// Book is set for Added and Replaced.
	Book *Book
	// Record is the catalog entry after the call, unset for Rejected.
	Record *catalog.Record
	// PreviousPath is set for Moved.
	PreviousPath string
}

// AddBook identifies path by content, consults the catalog and assembles
// the book only when it is new or changed. Failures are reported as
// Rejected with a code rather than as an error.
func (c *Core) AddBook(ctx context.Context, path, displayNameHint string, direction Direction, interp *Interpreter) AddResult {
	res := c.addBook(ctx, path, displayNameHint, direction, interp)
	metrics.RecordAddResult(string(res.Type))
	if res.Type == Rejected {
		c.logger.WithPath(path).Warn().Str("code", string(res.Code)).Err(res.Err).Msg("Book rejected")
	}
	return res
}

func (c *Core) addBook(ctx context.Context, path, hint string, direction Direction, interp *Interpreter) AddResult {
	if c.catalog == nil {
		return rejected(domain.ConfigError("no catalog configured", nil))
	}

	fh, err := hash.File(ctx, path)
	if err != nil {
		return rejected(err)
	}

	rec, match, err := c.catalog.FindByContentOrPath(ctx, fh, path)
	if err != nil && !errors.Is(err, catalog.ErrNotFound) {
		return rejected(err)
	}

	switch match {
	case catalog.MatchContent:
		if rec.Path == path || fileExists(rec.Path) {
			return AddResult{Type: AlreadyExists, Record: rec}
		}
		previous := rec.Path
		if err := c.catalog.UpdatePath(ctx, rec.ID, path); err != nil {
			return rejected(err)
		}
		rec.Path = path
		return AddResult{Type: Moved, Record: rec, PreviousPath: previous}

	case catalog.MatchPath:
		book, err := c.GetComicsMetadata(ctx, path, hint, direction, interp, nil)
		if err != nil {
			return rejected(err)
		}
		oldHash := rec.Hash.Hex()
		fillRecord(rec, book)
		if err := c.catalog.Replace(ctx, rec); err != nil {
			return rejected(err)
		}
		if err := c.Invalidate(ctx, oldHash); err != nil {
			c.logger.Warn().Err(err).Msg("Cannot invalidate replaced book")
		}
		return AddResult{Type: Replaced, Book: book, Record: rec}
	}

	book, err := c.GetComicsMetadata(ctx, path, hint, direction, interp, nil)
	if err != nil {
		return rejected(err)
	}
	rec = &catalog.Record{Path: path}
	fillRecord(rec, book)
	if err := c.catalog.Save(ctx, rec); err != nil {
		return rejected(err)
	}
	return AddResult{Type: Added, Book: book, Record: rec}
}

func fillRecord(rec *catalog.Record, book *Book) {
	rec.Hash = book.Hash
	rec.Name = book.Name
	rec.Format = book.Format
	rec.Direction = book.Direction
	rec.PageCount = len(book.Pages)
}

func rejected(err error) AddResult {
	return AddResult{Type: Rejected, Code: domain.CodeOf(err), Err: err}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
