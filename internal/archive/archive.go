// Package archive opens comic containers (ZIP, RAR, 7z, PDF) behind one
// random-access entry interface. The format is sniffed from magic bytes.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spherical/comic-extractor/internal/domain"
)

const (
	// DefaultMaxEntryBytes bounds a single decompressed entry.
	DefaultMaxEntryBytes = 256 << 20
	// DefaultPDFDPI is the resolution PDF pages are rendered at by ReadEntry.
	DefaultPDFDPI = 150.0

	readChunk = 64 << 10
)

// Options configures Open.
type Options struct {
	MaxEntryBytes int64
	PDFDPI        float64
}

func (o Options) withDefaults() Options {
	if o.MaxEntryBytes <= 0 {
		o.MaxEntryBytes = DefaultMaxEntryBytes
	}
	if o.PDFDPI <= 0 {
		o.PDFDPI = DefaultPDFDPI
	}
	return o
}

// Open opens the container at path. I/O failures return CODE_CONTAINER_READ;
// unknown or corrupt formats return CODE_CONTAINER_OPEN_UNSUPPORTED.
func Open(ctx context.Context, path string, opts Options) (domain.Container, error) {
	if strings.TrimSpace(path) == "" {
		return nil, domain.ValidationError("container path cannot be empty", nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	f, err := os.Open(path)
	if err != nil {
		return nil, domain.ContainerReadError(fmt.Sprintf("cannot open %s", path), err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, domain.ContainerReadError(fmt.Sprintf("cannot stat %s", path), err)
	}
	if info.IsDir() {
		f.Close()
		return nil, domain.ContainerUnsupportedError(fmt.Sprintf("path is a directory: %s", path), nil)
	}

	header := make([]byte, SniffLen)
	n, err := io.ReadFull(f, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		f.Close()
		return nil, domain.ContainerReadError("cannot read container header", err)
	}
	format := Sniff(header[:n])

	var c domain.Container
	switch format {
	case domain.FormatZIP:
		c, err = openZIP(f, info.Size(), opts)
	case domain.FormatRAR:
		c, err = openRAR(f, opts)
	case domain.FormatSevenZip:
		c, err = openSevenZip(f, info.Size(), opts)
	case domain.FormatPDF:
		// go-fitz opens by path; the probe handle is no longer needed.
		f.Close()
		pc, err := openPDF(path, opts)
		if err != nil {
			return nil, err
		}
		return pc, nil
	default:
		f.Close()
		return nil, domain.ContainerUnsupportedError("unrecognized container format", nil)
	}
	if err != nil {
		f.Close()
		return nil, err
	}
	return c, nil
}

// readAll reads r to the end in chunks, checking ctx between chunks and
// refusing more than limit bytes.
func readAll(ctx context.Context, r io.Reader, sizeHint, limit int64) ([]byte, error) {
	capacity := sizeHint
	if capacity <= 0 || capacity > limit {
		capacity = readChunk
	}
	buf := make([]byte, 0, capacity)
	chunk := make([]byte, readChunk)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := r.Read(chunk)
		if int64(len(buf)+n) > limit {
			return nil, domain.ContainerReadError(fmt.Sprintf("entry exceeds %d bytes", limit), nil)
		}
		buf = append(buf, chunk[:n]...)
		if errors.Is(err, io.EOF) {
			return buf, nil
		}
		if err != nil {
			return nil, domain.ContainerReadError("cannot read entry", err)
		}
	}
}

func checkIndex(index, count int) error {
	if index < 0 || index >= count {
		return domain.ValidationError(fmt.Sprintf("entry index %d out of range [0,%d)", index, count), nil)
	}
	return nil
}
