package archive

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/comic-extractor/internal/domain"
)

type zipFile struct {
	name string
	data []byte
}

func writeZip(t *testing.T, files []zipFile) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "book.cbz")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for _, zf := range files {
		w, err := zw.Create(zf.name)
		require.NoError(t, err)
		_, err = w.Write(zf.data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func TestSniff(t *testing.T) {
	tests := []struct {
		name   string
		header []byte
		want   domain.Format
	}{
		{"zip local header", []byte("PK\x03\x04rest"), domain.FormatZIP},
		{"empty zip", []byte("PK\x05\x06"), domain.FormatZIP},
		{"rar4", []byte("Rar!\x1a\x07\x00"), domain.FormatRAR},
		{"rar5", []byte("Rar!\x1a\x07\x01\x00"), domain.FormatRAR},
		{"7z", []byte{'7', 'z', 0xBC, 0xAF, 0x27, 0x1C, 0, 4}, domain.FormatSevenZip},
		{"pdf", []byte("%PDF-1.7\n"), domain.FormatPDF},
		{"pdf after junk", append([]byte("garbage\n"), []byte("%PDF-1.4")...), domain.FormatPDF},
		{"png is not a container", []byte("\x89PNG\r\n\x1a\n"), domain.FormatUnknown},
		{"empty", nil, domain.FormatUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sniff(tt.header))
		})
	}
}

func TestClassify(t *testing.T) {
	tests := map[string]domain.MediaType{
		"p1.jpg":                   domain.MediaImage,
		"chapter/P2.JPEG":          domain.MediaImage,
		"scan.webp":                domain.MediaImage,
		"ComicInfo.xml":            domain.MediaMetadata,
		"sub/comicinfo.XML":        domain.MediaMetadata,
		"__MACOSX/._p1.jpg":        domain.MediaIgnored,
		"sub/__MACOSX/p1.jpg":      domain.MediaIgnored,
		".hidden.png":              domain.MediaIgnored,
		"Thumbs.db":                domain.MediaIgnored,
		"readme.txt":               domain.MediaIgnored,
		"windows\\path\\page.png":  domain.MediaImage,
	}
	for name, want := range tests {
		assert.Equal(t, want, Classify(name), name)
	}
}

func TestNaturalLess(t *testing.T) {
	names := []string{"p10.jpg", "p2.jpg", "P1.jpg", "p02.jpg", "cover.jpg", "p1a.jpg"}
	sort.SliceStable(names, func(i, j int) bool { return NaturalLess(names[i], names[j]) })
	assert.Equal(t, []string{"cover.jpg", "P1.jpg", "p1a.jpg", "p2.jpg", "p02.jpg", "p10.jpg"}, names)

	assert.False(t, NaturalLess("a", "a"))
	assert.True(t, NaturalLess("a", "ab"))
}

func TestFindMetadataEntry(t *testing.T) {
	entries := []domain.Entry{
		{Index: 0, Name: "sub/ComicInfo.xml", MediaType: domain.MediaMetadata},
		{Index: 1, Name: "p1.jpg", MediaType: domain.MediaImage},
		{Index: 2, Name: "ComicInfo.xml", MediaType: domain.MediaMetadata},
	}
	idx, ok := FindMetadataEntry(entries)
	require.True(t, ok)
	assert.Equal(t, 2, idx)

	idx, ok = FindMetadataEntry(entries[:2])
	require.True(t, ok)
	assert.Equal(t, 0, idx)

	_, ok = FindMetadataEntry(entries[1:2])
	assert.False(t, ok)
}

func TestOpenZip_RandomAccess(t *testing.T) {
	path := writeZip(t, []zipFile{
		{"p1.jpg", []byte("one")},
		{"dir/", nil},
		{"p2.jpg", []byte("two")},
		{"ComicInfo.xml", []byte("<ComicInfo/>")},
	})

	c, err := Open(context.Background(), path, Options{})
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, domain.FormatZIP, c.Format())
	entries := c.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "p1.jpg", entries[0].Name)
	assert.Equal(t, domain.MediaImage, entries[1].MediaType)
	assert.Equal(t, domain.MediaMetadata, entries[2].MediaType)

	// Out of order reads.
	data, err := c.ReadEntry(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))
	data, err = c.ReadEntry(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, "one", string(data))

	_, err = c.ReadEntry(context.Background(), 3)
	assert.Equal(t, domain.CodeInvalidArgument, domain.CodeOf(err))
}

func TestOpenZip_EntryLimit(t *testing.T) {
	path := writeZip(t, []zipFile{{"big.png", make([]byte, 4096)}})
	c, err := Open(context.Background(), path, Options{MaxEntryBytes: 1024})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.ReadEntry(context.Background(), 0)
	assert.Equal(t, domain.CodeContainerRead, domain.CodeOf(err))
}

func TestOpenZip_CancelledRead(t *testing.T) {
	path := writeZip(t, []zipFile{{"p1.png", []byte("x")}})
	c, err := Open(context.Background(), path, Options{})
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.ReadEntry(ctx, 0)
	assert.Equal(t, domain.CodeCancelled, domain.CodeOf(err))
}

func TestOpen_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Open(context.Background(), filepath.Join(dir, "missing.cbz"), Options{})
	assert.Equal(t, domain.CodeContainerRead, domain.CodeOf(err))

	unknown := filepath.Join(dir, "notes.cbz")
	require.NoError(t, os.WriteFile(unknown, []byte("just some text"), 0o644))
	_, err = Open(context.Background(), unknown, Options{})
	assert.Equal(t, domain.CodeContainerUnsupported, domain.CodeOf(err))

	corrupt := filepath.Join(dir, "corrupt.cbz")
	require.NoError(t, os.WriteFile(corrupt, []byte("PK\x03\x04truncated"), 0o644))
	_, err = Open(context.Background(), corrupt, Options{})
	assert.Equal(t, domain.CodeContainerUnsupported, domain.CodeOf(err))

	_, err = Open(context.Background(), dir, Options{})
	assert.Equal(t, domain.CodeContainerUnsupported, domain.CodeOf(err))

	_, err = Open(context.Background(), " ", Options{})
	assert.Equal(t, domain.CodeInvalidArgument, domain.CodeOf(err))
}

func TestOpen_SniffsIgnoringExtension(t *testing.T) {
	path := writeZip(t, []zipFile{{"p1.png", []byte("x")}})
	renamed := filepath.Join(filepath.Dir(path), "book.pdf")
	require.NoError(t, os.Rename(path, renamed))

	c, err := Open(context.Background(), renamed, Options{})
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, domain.FormatZIP, c.Format())
}
