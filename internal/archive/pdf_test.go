package archive

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/comic-extractor/internal/domain"
)

// writePDF writes a PDF of blank pages, each 144x216 points.
func writePDF(t *testing.T, pages int) string {
	t.Helper()

	var objs []string
	objs = append(objs, "<< /Type /Catalog /Pages 2 0 R >>")
	kids := ""
	for i := 0; i < pages; i++ {
		kids += fmt.Sprintf("%d 0 R ", 3+i)
	}
	objs = append(objs, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids, pages))
	for i := 0; i < pages; i++ {
		objs = append(objs, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 144 216] >>")
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, o := range objs {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, o)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)

	path := filepath.Join(t.TempDir(), "book.pdf")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestOpen_PDF(t *testing.T) {
	path := writePDF(t, 2)

	c, err := Open(context.Background(), path, Options{PDFDPI: 72})
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, domain.FormatPDF, c.Format())
	entries := c.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "page_0001.png", entries[0].Name)
	assert.Equal(t, domain.MediaImage, entries[1].MediaType)

	data, err := c.ReadEntry(context.Background(), 1)
	require.NoError(t, err)
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 144, cfg.Width)
	assert.Equal(t, 216, cfg.Height)

	pc, ok := c.(*pdfContainer)
	require.True(t, ok)
	size, err := pc.PageSize(0, 144)
	require.NoError(t, err)
	assert.Equal(t, domain.Size{Width: 288, Height: 432}, size)

	_, err = c.ReadEntry(context.Background(), 2)
	assert.Equal(t, domain.CodeInvalidArgument, domain.CodeOf(err))
}

func TestOpen_PDFCancelled(t *testing.T) {
	path := writePDF(t, 1)
	c, err := Open(context.Background(), path, Options{})
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.ReadEntry(ctx, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpen_PDFWithoutPages(t *testing.T) {
	path := writePDF(t, 0)
	c, err := Open(context.Background(), path, Options{})
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, domain.FormatPDF, c.Format())
	assert.Empty(t, c.Entries())
}
