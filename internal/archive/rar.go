package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"

	"github.com/nwaples/rardecode"

	"github.com/spherical/comic-extractor/internal/domain"
)

// exhausted marks a cursor that must be rewound before the next read.
const exhausted = math.MaxInt

// rarContainer gives random access over a forward-only RAR stream. A read
// behind the current cursor rewinds the file and re-scans from the start;
// reads ahead of it continue the scan, so in-order reads stay linear.
type rarContainer struct {
	mu      sync.Mutex
	file    *os.File
	entries []domain.Entry
	// ordinals maps entry index to the header ordinal in the stream.
	ordinals []int
	opts     Options

	cur    *rardecode.Reader
	curOrd int
}

func openRAR(f *os.File, opts Options) (*rarContainer, error) {
	c := &rarContainer{file: f, opts: opts, curOrd: -1}
	if err := c.rewind(); err != nil {
		return nil, err
	}

	for ord := 0; ; ord++ {
		hdr, err := c.cur.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, domain.ContainerUnsupportedError("corrupt rar archive", err)
		}
		c.curOrd = ord
		if hdr.IsDir {
			continue
		}
		c.entries = append(c.entries, domain.Entry{
			Index:     len(c.entries),
			Name:      hdr.Name,
			Size:      hdr.UnPackedSize,
			MediaType: Classify(hdr.Name),
		})
		c.ordinals = append(c.ordinals, ord)
	}
	// Leave the cursor exhausted so the first read rewinds.
	c.curOrd = exhausted
	return c, nil
}

func (c *rarContainer) rewind() error {
	if _, err := c.file.Seek(0, io.SeekStart); err != nil {
		return domain.ContainerReadError("cannot seek rar archive", err)
	}
	r, err := rardecode.NewReader(c.file, "")
	if err != nil {
		return domain.ContainerUnsupportedError("invalid rar archive", err)
	}
	c.cur = r
	c.curOrd = -1
	return nil
}

func (c *rarContainer) Format() domain.Format { return domain.FormatRAR }

func (c *rarContainer) Entries() []domain.Entry { return c.entries }

func (c *rarContainer) ReadEntry(ctx context.Context, index int) ([]byte, error) {
	if err := checkIndex(index, len(c.entries)); err != nil {
		return nil, err
	}
	target := c.ordinals[index]

	c.mu.Lock()
	defer c.mu.Unlock()

	if target <= c.curOrd {
		if err := c.rewind(); err != nil {
			return nil, err
		}
	}
	for c.curOrd < target {
		if err := ctx.Err(); err != nil {
			// The stream position is unknown after an abandoned scan.
			c.curOrd = exhausted
			return nil, err
		}
		if _, err := c.cur.Next(); err != nil {
			c.curOrd = exhausted
			return nil, domain.ContainerReadError(fmt.Sprintf("cannot reach rar entry %d", index), err)
		}
		c.curOrd++
	}

	data, err := readAll(ctx, c.cur, c.entries[index].Size, c.opts.MaxEntryBytes)
	if err != nil {
		c.curOrd = exhausted
		return nil, err
	}
	return data, nil
}

func (c *rarContainer) Close() error {
	return c.file.Close()
}
