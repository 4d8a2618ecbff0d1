package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/comic-extractor/internal/domain"
)

func TestMemoryClient_GetSetDelete(t *testing.T) {
	c := NewMemoryClient(10)
	defer c.Close()
	ctx := context.Background()

	_, err := c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(got))

	require.NoError(t, c.Delete(ctx, "k"))
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryClient_Expiry(t *testing.T) {
	c := NewMemoryClient(10)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Millisecond))
	time.Sleep(5 * time.Millisecond)
	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryClient_EvictsSoonestExpiry(t *testing.T) {
	c := NewMemoryClient(2)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "forever", []byte("1"), 0))
	require.NoError(t, c.Set(ctx, "short", []byte("2"), time.Hour))
	require.NoError(t, c.Set(ctx, "new", []byte("3"), 2*time.Hour))

	assert.Equal(t, 2, c.Len())
	_, err := c.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = c.Get(ctx, "forever")
	assert.NoError(t, err)
}

func TestMemoryClient_DeleteByPrefix(t *testing.T) {
	c := NewMemoryClient(10)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "book:aa:1", []byte("1"), 0))
	require.NoError(t, c.Set(ctx, "book:aa:2", []byte("2"), 0))
	require.NoError(t, c.Set(ctx, "book:ab:1", []byte("3"), 0))

	require.NoError(t, c.DeleteByPrefix(ctx, "book:aa:"))
	assert.Equal(t, 1, c.Len())
}

func TestMemoryClient_PubSub(t *testing.T) {
	c := NewMemoryClient(10)
	ctx := context.Background()

	ch, unsubscribe, err := c.Subscribe(ctx, "events")
	require.NoError(t, err)

	require.NoError(t, c.Publish(ctx, "events", map[string]string{"a": "b"}))
	require.NoError(t, c.Publish(ctx, "other", "ignored"))

	select {
	case msg := <-ch:
		assert.JSONEq(t, `{"a":"b"}`, string(msg))
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}

	unsubscribe()
	unsubscribe()
	_, open := <-ch
	assert.False(t, open)

	require.NoError(t, c.Close())
	_, _, err = c.Subscribe(ctx, "events")
	assert.Error(t, err)
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "book:abc:12", CacheKey("book", "abc", "12"))
	assert.Equal(t, "", CacheKey())
}

func testBook(hash byte, size int64) *domain.Book {
	return &domain.Book{
		Name:      "Book",
		Path:      "/books/b.cbz",
		Format:    domain.FormatZIP,
		Direction: domain.DirectionRTL,
		Hash:      domain.FileHashData{Hash: []byte{hash, 1, 2, 3}, Size: size},
		Pages: []domain.Page{{
			Position: 0, Name: "01.jpg", Width: 10, Height: 20,
			Objects: []domain.PageObject{{
				Class: domain.ClassPanel, Probability: 0.9,
				Box: domain.BoundingBox{XMax: 1, YMax: 0.5},
			}},
		}},
	}
}

func TestBookCache_RoundTrip(t *testing.T) {
	mem := NewMemoryClient(10)
	bc := NewBookCache(mem, mem, 0, nil)
	defer bc.Close()
	ctx := context.Background()

	book := testBook(1, 100)
	_, err := bc.Get(ctx, book.Hash, "gutter-1")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, bc.Put(ctx, book, "gutter-1"))
	got, err := bc.Get(ctx, book.Hash, "gutter-1")
	require.NoError(t, err)
	assert.Equal(t, book.Name, got.Name)
	assert.Equal(t, domain.DirectionRTL, got.Direction)
	require.Len(t, got.Pages, 1)
	assert.Equal(t, book.Pages[0].Objects, got.Pages[0].Objects)

	// Same hash with another size is another book.
	_, err = bc.Get(ctx, domain.FileHashData{Hash: book.Hash.Hash, Size: 101}, "gutter-1")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestBookCache_DetectorsHaveSeparateEntries(t *testing.T) {
	mem := NewMemoryClient(10)
	bc := NewBookCache(mem, nil, 0, nil)
	defer bc.Close()
	ctx := context.Background()

	loose := testBook(1, 100)
	strict := testBook(1, 100)
	strict.Pages[0].Objects = []domain.PageObject{}
	require.NoError(t, bc.Put(ctx, loose, "gutter-loose"))

	_, err := bc.Get(ctx, loose.Hash, "gutter-strict")
	assert.ErrorIs(t, err, ErrCacheMiss, "another detector's objects are not reused")
	_, err = bc.Get(ctx, loose.Hash, NoDetector)
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, bc.Put(ctx, strict, "gutter-strict"))
	got, err := bc.Get(ctx, strict.Hash, "gutter-strict")
	require.NoError(t, err, "a detected book without objects is a hit")
	assert.Empty(t, got.Pages[0].Objects)

	got, err = bc.Get(ctx, loose.Hash, "gutter-loose")
	require.NoError(t, err)
	assert.Len(t, got.Pages[0].Objects, 1)

	require.NoError(t, bc.Invalidate(ctx, loose.Hash.Hex()))
	assert.Equal(t, 0, mem.Len(), "invalidation drops every detector's entry")
}

func TestBookCache_PutRequiresHash(t *testing.T) {
	bc := NewBookCache(NewMemoryClient(1), nil, 0, nil)
	defer bc.Close()
	err := bc.Put(context.Background(), &domain.Book{Name: "x"}, NoDetector)
	assert.Equal(t, domain.CodeInvalidArgument, domain.CodeOf(err))
}

func TestBookCache_UndecodableEntryIsMiss(t *testing.T) {
	mem := NewMemoryClient(10)
	bc := NewBookCache(mem, nil, 0, nil)
	defer bc.Close()
	ctx := context.Background()

	fh := domain.FileHashData{Hash: []byte{1}, Size: 1}
	require.NoError(t, mem.Set(ctx, bookKey(fh, ""), []byte("{not json"), 0))

	_, err := bc.Get(ctx, fh, NoDetector)
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.Equal(t, 0, mem.Len())
}

func TestBookCache_InvalidateAndWatch(t *testing.T) {
	mem := NewMemoryClient(10)
	bc := NewBookCache(mem, mem, 0, nil)
	defer bc.Close()
	ctx := context.Background()

	book := testBook(1, 100)
	other := testBook(2, 100)
	require.NoError(t, bc.Put(ctx, book, "gutter-1"))
	require.NoError(t, bc.Put(ctx, other, "gutter-1"))

	seen := make(chan string, 1)
	stop, err := bc.Watch(ctx, func(h string) { seen <- h })
	require.NoError(t, err)
	defer stop()

	require.NoError(t, bc.Invalidate(ctx, book.Hash.Hex()))

	_, err = bc.Get(ctx, book.Hash, "gutter-1")
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = bc.Get(ctx, other.Hash, "gutter-1")
	assert.NoError(t, err)

	select {
	case h := <-seen:
		assert.Equal(t, book.Hash.Hex(), h)
	case <-time.After(time.Second):
		t.Fatal("invalidation not delivered")
	}

	assert.Equal(t, domain.CodeInvalidArgument, domain.CodeOf(bc.Invalidate(ctx, "")))
}

func TestBookCache_WatchWithoutNotifier(t *testing.T) {
	bc := NewBookCache(NewMemoryClient(1), nil, 0, nil)
	defer bc.Close()
	stop, err := bc.Watch(context.Background(), func(string) {})
	require.NoError(t, err)
	stop()
}
