package archive

import (
	"context"
	"os"
	"sync"

	"github.com/bodgit/sevenzip"

	"github.com/spherical/comic-extractor/internal/domain"
)

type sevenZipContainer struct {
	// mu serialises decompression; solid 7z blocks share decoder state.
	mu      sync.Mutex
	file    *os.File
	files   []*sevenzip.File
	entries []domain.Entry
	opts    Options
}

func openSevenZip(f *os.File, size int64, opts Options) (*sevenZipContainer, error) {
	r, err := sevenzip.NewReader(f, size)
	if err != nil {
		return nil, domain.ContainerUnsupportedError("corrupt 7z archive", err)
	}

	c := &sevenZipContainer{file: f, opts: opts}
	for _, sf := range r.File {
		info := sf.FileInfo()
		if info.IsDir() {
			continue
		}
		c.entries = append(c.entries, domain.Entry{
			Index:     len(c.entries),
			Name:      sf.Name,
			Size:      info.Size(),
			MediaType: Classify(sf.Name),
		})
		c.files = append(c.files, sf)
	}
	return c, nil
}

func (c *sevenZipContainer) Format() domain.Format { return domain.FormatSevenZip }

func (c *sevenZipContainer) Entries() []domain.Entry { return c.entries }

func (c *sevenZipContainer) ReadEntry(ctx context.Context, index int) ([]byte, error) {
	if err := checkIndex(index, len(c.files)); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	sf := c.files[index]
	rc, err := sf.Open()
	if err != nil {
		return nil, domain.ContainerUnsupportedError("cannot open 7z entry "+sf.Name, err)
	}
	defer rc.Close()
	return readAll(ctx, rc, c.entries[index].Size, c.opts.MaxEntryBytes)
}

func (c *sevenZipContainer) Close() error {
	return c.file.Close()
}
