package archive

import (
	"archive/zip"
	"context"
	"os"

	"github.com/spherical/comic-extractor/internal/domain"
)

type zipContainer struct {
	file    *os.File
	reader  *zip.Reader
	files   []*zip.File
	entries []domain.Entry
	opts    Options
}

func openZIP(f *os.File, size int64, opts Options) (*zipContainer, error) {
	zr, err := zip.NewReader(f, size)
	if err != nil {
		return nil, domain.ContainerUnsupportedError("corrupt zip archive", err)
	}

	c := &zipContainer{file: f, reader: zr, opts: opts}
	for _, zf := range zr.File {
		if zf.FileInfo().IsDir() {
			continue
		}
		c.entries = append(c.entries, domain.Entry{
			Index:     len(c.entries),
			Name:      zf.Name,
			Size:      int64(zf.UncompressedSize64),
			MediaType: Classify(zf.Name),
		})
		c.files = append(c.files, zf)
	}
	return c, nil
}

func (c *zipContainer) Format() domain.Format { return domain.FormatZIP }

func (c *zipContainer) Entries() []domain.Entry { return c.entries }

func (c *zipContainer) ReadEntry(ctx context.Context, index int) ([]byte, error) {
	if err := checkIndex(index, len(c.files)); err != nil {
		return nil, err
	}
	zf := c.files[index]
	rc, err := zf.Open()
	if err != nil {
		return nil, domain.ContainerUnsupportedError("cannot open zip entry "+zf.Name, err)
	}
	defer rc.Close()
	return readAll(ctx, rc, int64(zf.UncompressedSize64), c.opts.MaxEntryBytes)
}

func (c *zipContainer) Close() error {
	return c.file.Close()
}
