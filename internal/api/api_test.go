package api

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/comic-extractor/internal/cache"
	"github.com/spherical/comic-extractor/internal/catalog"
	"github.com/spherical/comic-extractor/internal/config"
	"github.com/spherical/comic-extractor/internal/domain"
	"github.com/spherical/comic-extractor/pkg/comiccore"
)

func panelPage(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 200, 300))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	for _, p := range []image.Rectangle{image.Rect(10, 10, 190, 140), image.Rect(10, 160, 190, 290)} {
		for y := p.Min.Y; y < p.Max.Y; y++ {
			for x := p.Min.X; x < p.Max.X; x++ {
				img.Set(x, y, color.Black)
			}
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func writeZip(t *testing.T, path string, files map[string][]byte) string {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, data := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

type upperOCR struct{}

func (upperOCR) Recognize(ctx context.Context, raster image.Image) (string, error) {
	return "WHAM!", nil
}

type fixture struct {
	router http.Handler
	core   *comiccore.Core
	book   string
	page   []byte
	dir    string
}

func newFixture(t *testing.T, withModels bool) *fixture {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Decode.DetectionSize = 100

	store, err := catalog.Open(context.Background(), catalog.Config{
		Driver: catalog.DriverSQLite,
		DSN:    filepath.Join(dir, "catalog.db"),
	})
	require.NoError(t, err)
	mem := cache.NewMemoryClient(10)
	books := cache.NewBookCache(mem, mem, 0, nil)
	core := comiccore.New(comiccore.Options{Config: cfg, Catalog: store, Cache: books})

	var (
		interp *comiccore.Interpreter
		ocr    *comiccore.OCRHandle
	)
	if withModels {
		interp, err = core.InitInterpreterFromAsset("")
		require.NoError(t, err)
		ocr = comiccore.NewOCRHandle(upperOCR{}, core)
	}
	t.Cleanup(func() {
		if interp != nil {
			interp.Close()
			ocr.Close()
		}
		core.Close()
		books.Close()
		store.Close()
	})

	page := panelPage(t)
	path := writeZip(t, filepath.Join(dir, "book.cbz"), map[string][]byte{
		"01.jpg": page, "02.jpg": page, "03.jpg": page,
	})
	return &fixture{
		router: NewRouter(NewServer(core, interp, ocr, nil), 0),
		core:   core,
		book:   path,
		page:   page,
		dir:    dir,
	}
}

func (f *fixture) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(method, target, reader))
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorDTO {
	t.Helper()
	var e ErrorDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	return e
}

func pageURL(endpoint, path string, extra string) string {
	u := "/v1/pages/" + endpoint + "?path=" + url.QueryEscape(path)
	if extra != "" {
		u += "&" + extra
	}
	return u
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)

	rec = f.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "comic_extractor_http_requests_total")
}

func TestBookHash(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(t, http.MethodPost, "/v1/books/hash", BookRequestDTO{Path: f.book})
	require.Equal(t, http.StatusOK, rec.Code)
	var h HashDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &h))
	info, err := os.Stat(f.book)
	require.NoError(t, err)
	assert.Equal(t, info.Size(), h.Size)
	assert.NotEmpty(t, h.Hash)
}

func TestBookMetadata(t *testing.T) {
	f := newFixture(t, true)

	rec := f.do(t, http.MethodPost, "/v1/books/metadata", BookRequestDTO{Path: f.book, DisplayName: "Hinted", Direction: "rtl", Detect: true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var book domain.Book
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &book))
	assert.Equal(t, "Hinted", book.Name)
	assert.Equal(t, domain.DirectionRTL, book.Direction)
	require.Len(t, book.Pages, 3)
	for _, p := range book.Pages {
		assert.Len(t, p.Objects, 2)
	}
}

func TestBookMetadata_Errors(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(t, http.MethodPost, "/v1/books/metadata", BookRequestDTO{Path: f.book, Detect: true})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, domain.CodeConfig, decodeError(t, rec).Code)

	rec = f.do(t, http.MethodPost, "/v1/books/metadata", BookRequestDTO{Path: filepath.Join(f.dir, "nope.cbz")})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, domain.CodeContainerRead, decodeError(t, rec).Code)

	empty := writeZip(t, filepath.Join(f.dir, "empty.cbz"), map[string][]byte{"a.txt": []byte("x")})
	rec = f.do(t, http.MethodPost, "/v1/books/metadata", BookRequestDTO{Path: empty})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, domain.CodeEmptyBook, decodeError(t, rec).Code)

	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/books/metadata", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, domain.CodeInvalidArgument, decodeError(t, rec).Code)
}

func TestAddBook(t *testing.T) {
	f := newFixture(t, true)

	rec := f.do(t, http.MethodPost, "/v1/books/add", BookRequestDTO{Path: f.book})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var added AddResultDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &added))
	assert.Equal(t, "added", added.Result)
	assert.NotEmpty(t, added.ID)
	require.NotNil(t, added.Book)

	rec = f.do(t, http.MethodPost, "/v1/books/add", BookRequestDTO{Path: f.book})
	require.Equal(t, http.StatusOK, rec.Code)
	var again AddResultDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &again))
	assert.Equal(t, "already_exists", again.Result)
	assert.Equal(t, added.ID, again.ID)

	empty := writeZip(t, filepath.Join(f.dir, "empty.cbz"), map[string][]byte{"a.txt": []byte("x")})
	rec = f.do(t, http.MethodPost, "/v1/books/add", BookRequestDTO{Path: empty})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var rejected AddResultDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rejected))
	assert.Equal(t, "rejected", rejected.Result)
	assert.Equal(t, domain.CodeEmptyBook, rejected.Code)
}

func TestInvalidate(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(t, http.MethodPost, "/v1/books/invalidate", HashDTO{Hash: "ABCDEF"})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/books/invalidate", HashDTO{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPageSizeAndRegion(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(t, http.MethodGet, pageURL("size", f.book, "page=1"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"width":200,"height":300}`, rec.Body.String())

	rec = f.do(t, http.MethodGet, pageURL("region", f.book, "page=0&x=0&y=0&w=100&h=150&tw=50&th=75"), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, "200", rec.Header().Get("X-Source-Width"))
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Width)
	assert.Equal(t, 75, cfg.Height)

	rec = f.do(t, http.MethodGet, pageURL("region", f.book, "page=0&tw=4000&th=4000"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cfg, err = jpeg.DecodeConfig(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 200, cfg.Width, "never upscales")

	rec = f.do(t, http.MethodGet, pageURL("region", f.book, "page=abc"), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, pageURL("region", f.book, "page=9"), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, domain.CodePageNotFound, decodeError(t, rec).Code)

	rec = f.do(t, http.MethodGet, "/v1/pages/region?page=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPageRaw(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(t, http.MethodGet, pageURL("raw", f.book, "page=2"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, f.page, rec.Body.Bytes())

	count, _ := f.core.OutstandingHandles()
	assert.Zero(t, count, "handles are released after the response")
}

func TestRecognize(t *testing.T) {
	f := newFixture(t, true)

	rec := f.do(t, http.MethodPost, "/v1/ocr", OCRRequestDTO{
		Path: f.book, Page: 0,
		Box: domain.BoundingBox{XMin: 0.1, YMin: 0.1, XMax: 0.9, YMax: 0.4},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res comiccore.OCRResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, comiccore.OCRRecognized, res.State)
	assert.Equal(t, "WHAM!", res.Text)

	rec = f.do(t, http.MethodPost, "/v1/ocr", OCRRequestDTO{Path: f.book, Box: domain.BoundingBox{XMin: 0.5, XMax: 0.2, YMax: 1}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecognize_NoEngine(t *testing.T) {
	f := newFixture(t, false)
	rec := f.do(t, http.MethodPost, "/v1/ocr", OCRRequestDTO{Path: f.book, Box: domain.BoundingBox{XMax: 1, YMax: 1}})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestLibraryRoots(t *testing.T) {
	f := newFixture(t, false)
	router := NewRouter(NewServer(f.core, nil, nil, nil, WithLibraryRoots("", f.dir)), 0)
	do := func(method, target string, body any) *httptest.ResponseRecorder {
		var reader *bytes.Reader
		if body != nil {
			data, err := json.Marshal(body)
			require.NoError(t, err)
			reader = bytes.NewReader(data)
		} else {
			reader = bytes.NewReader(nil)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(method, target, reader))
		return rec
	}

	rec := do(http.MethodPost, "/v1/books/hash", BookRequestDTO{Path: f.book})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = do(http.MethodGet, pageURL("size", f.book, "page=0"), nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	outside := writeZip(t, filepath.Join(t.TempDir(), "outside.cbz"), map[string][]byte{"01.jpg": f.page})
	link := filepath.Join(f.dir, "link.cbz")
	require.NoError(t, os.Symlink(outside, link))
	escapes := []string{
		outside,
		filepath.Join(f.dir, "..", filepath.Base(filepath.Dir(outside)), "outside.cbz"),
		link,
	}
	for _, path := range escapes {
		rec = do(http.MethodPost, "/v1/books/metadata", BookRequestDTO{Path: path})
		assert.Equal(t, http.StatusForbidden, rec.Code, path)
		assert.Equal(t, domain.CodePathForbidden, decodeError(t, rec).Code)

		rec = do(http.MethodGet, pageURL("raw", path, "page=0"), nil)
		assert.Equal(t, http.StatusForbidden, rec.Code, path)
	}

	rec = do(http.MethodPost, "/v1/books/add", BookRequestDTO{Path: outside})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = do(http.MethodPost, "/v1/ocr", OCRRequestDTO{Path: outside, Box: domain.BoundingBox{XMax: 1, YMax: 1}})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// A missing file inside the library is still a read error.
	rec = do(http.MethodPost, "/v1/books/metadata", BookRequestDTO{Path: filepath.Join(f.dir, "sub", "nope.cbz")})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusFor(t *testing.T) {
	tests := map[domain.Code]int{
		domain.CodeInvalidArgument:      http.StatusBadRequest,
		domain.CodePathForbidden:        http.StatusForbidden,
		domain.CodeContainerRead:        http.StatusNotFound,
		domain.CodePageNotFound:         http.StatusNotFound,
		domain.CodeContainerUnsupported: http.StatusUnprocessableEntity,
		domain.CodeEmptyBook:            http.StatusUnprocessableEntity,
		domain.CodeImageOpen:            http.StatusUnprocessableEntity,
		domain.CodeHandleReleased:       http.StatusGone,
		domain.CodeCancelled:            http.StatusRequestTimeout,
		domain.CodeInterpreter:          http.StatusBadGateway,
		domain.CodeOCR:                  http.StatusBadGateway,
		domain.CodeStorage:              http.StatusServiceUnavailable,
		domain.CodeUnknown:              http.StatusInternalServerError,
	}
	for code, want := range tests {
		assert.Equal(t, want, StatusFor(code), string(code))
	}
}
