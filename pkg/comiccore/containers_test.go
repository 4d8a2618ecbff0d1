package comiccore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/comic-extractor/internal/archive"
	"github.com/spherical/comic-extractor/internal/domain"
	"github.com/spherical/comic-extractor/internal/observability"
)

func TestPageRequests_ReuseOpenContainer(t *testing.T) {
	c := newTestCore(t)
	ctx := context.Background()
	path := fivePageBook(t, t.TempDir())

	_, err := c.ProbePage(ctx, path, 0)
	require.NoError(t, err)
	first, ok := c.books.lru.Peek(path)
	require.True(t, ok)

	_, err = c.DecodeRegion(ctx, path, 3, nil, &Size{Width: 50})
	require.NoError(t, err)
	h, err := c.GetPageImageData(ctx, path, 4)
	require.NoError(t, err)
	require.NoError(t, c.Release(h))

	again, ok := c.books.lru.Peek(path)
	require.True(t, ok)
	assert.Same(t, first, again)
	assert.Equal(t, 1, c.books.Len())
	assert.Zero(t, again.refs)
}

func TestPageRequests_ReopenChangedFile(t *testing.T) {
	c := newTestCore(t)
	ctx := context.Background()
	dir := t.TempDir()
	path := fivePageBook(t, dir)

	_, err := c.ProbePage(ctx, path, 4)
	require.NoError(t, err)
	stale, _ := c.books.lru.Peek(path)

	page := twoPanelPage(t)
	writeZip(t, path, []entry{{"p1.jpg", page}, {"p2.jpg", page}})
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, later, later))

	_, err = c.ProbePage(ctx, path, 4)
	assert.Equal(t, domain.CodePageNotFound, CodeOf(err))
	_, err = c.ProbePage(ctx, path, 1)
	require.NoError(t, err)

	fresh, _ := c.books.lru.Peek(path)
	assert.NotSame(t, stale, fresh)
	assert.True(t, stale.evicted)
	_, err = stale.ct.ReadEntry(ctx, 0)
	assert.Error(t, err, "replaced container is closed")
}

func TestContainerCache_EvictedInUseClosesOnRelease(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	page := twoPanelPage(t)
	a := writeZip(t, filepath.Join(dir, "a.cbz"), []entry{{"p1.jpg", page}})
	b := writeZip(t, filepath.Join(dir, "b.cbz"), []entry{{"p1.jpg", page}})

	books := newContainerCache(1, archive.Options{}, observability.Nop())
	defer books.Close()

	held, err := books.acquire(ctx, a)
	require.NoError(t, err)
	other, err := books.acquire(ctx, b)
	require.NoError(t, err)
	books.release(b, other)

	assert.True(t, held.evicted)
	_, err = held.ct.ReadEntry(ctx, 0)
	require.NoError(t, err, "evicted container stays open while in use")

	books.release(a, held)
	_, err = held.ct.ReadEntry(ctx, 0)
	assert.Error(t, err)
	assert.Equal(t, 1, books.Len())
}

func TestContainerCache_Disabled(t *testing.T) {
	ctx := context.Background()
	path := fivePageBook(t, t.TempDir())

	books := newContainerCache(0, archive.Options{}, observability.Nop())
	first, err := books.acquire(ctx, path)
	require.NoError(t, err)
	books.release(path, first)
	second, err := books.acquire(ctx, path)
	require.NoError(t, err)
	defer books.release(path, second)

	assert.NotSame(t, first, second)
	assert.Zero(t, books.Len())
	_, err = first.ct.ReadEntry(ctx, 0)
	assert.Error(t, err)
}

func TestContainerCache_CloseWaitsForRelease(t *testing.T) {
	ctx := context.Background()
	path := fivePageBook(t, t.TempDir())

	books := newContainerCache(2, archive.Options{}, observability.Nop())
	held, err := books.acquire(ctx, path)
	require.NoError(t, err)

	require.NoError(t, books.Close())
	assert.Zero(t, books.Len())
	_, err = held.ct.ReadEntry(ctx, 0)
	require.NoError(t, err)

	books.release(path, held)
	_, err = held.ct.ReadEntry(ctx, 0)
	assert.Error(t, err)

	_, err = books.acquire(ctx, "  ")
	assert.Equal(t, domain.CodeInvalidArgument, CodeOf(err))
	_, err = books.acquire(ctx, filepath.Join(t.TempDir(), "missing.cbz"))
	assert.Equal(t, domain.CodeContainerRead, CodeOf(err))
}
