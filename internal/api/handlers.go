package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/spherical/comic-extractor/internal/domain"
	"github.com/spherical/comic-extractor/pkg/comiccore"
)

// ocrRasterSide bounds the page raster OCR crops are cut from.
const ocrRasterSide = 2048

// BookRequestDTO selects a container and how to describe it.
type BookRequestDTO struct {
	Path        string `json:"path"`
	DisplayName string `json:"display_name,omitempty"`
	Direction   string `json:"direction,omitempty"`
	Detect      bool   `json:"detect,omitempty"`
}

// HashDTO is a content identity.
type HashDTO struct {
	Hash string `json:"hash"`
	Size int64  `json:"size"`
}

// AddResultDTO is the body of POST /v1/books/add.
type AddResultDTO struct {
	Result       string          `json:"result"`
	Code         domain.Code     `json:"code,omitempty"`
	Message      string          `json:"message,omitempty"`
	ID           string          `json:"id,omitempty"`
	PreviousPath string          `json:"previous_path,omitempty"`
	Book         *comiccore.Book `json:"book,omitempty"`
}

// OCRRequestDTO asks for the text inside one box of a page.
type OCRRequestDTO struct {
	Path string             `json:"path"`
	Page int                `json:"page"`
	Box  domain.BoundingBox `json:"box"`
}

func (s *Server) bookMetadata(w http.ResponseWriter, r *http.Request) {
	var req BookRequestDTO
	if !s.decodeBody(w, r, &req) {
		return
	}
	if err := s.checkPath(req.Path); err != nil {
		s.writeError(w, err)
		return
	}

	var interp *comiccore.Interpreter
	if req.Detect {
		if s.interp == nil {
			s.writeError(w, domain.ConfigError("no detection model loaded", nil))
			return
		}
		interp = s.interp
	}

	book, err := s.core.GetComicsMetadata(r.Context(), req.Path, req.DisplayName, parseDirection(req.Direction), interp, nil)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (s *Server) bookHash(w http.ResponseWriter, r *http.Request) {
	var req BookRequestDTO
	if !s.decodeBody(w, r, &req) {
		return
	}
	if err := s.checkPath(req.Path); err != nil {
		s.writeError(w, err)
		return
	}
	fh, err := s.core.GetComicFileData(r.Context(), req.Path)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, HashDTO{Hash: fh.Hex(), Size: fh.Size})
}

func (s *Server) addBook(w http.ResponseWriter, r *http.Request) {
	var req BookRequestDTO
	if !s.decodeBody(w, r, &req) {
		return
	}
	if err := s.checkPath(req.Path); err != nil {
		s.writeError(w, err)
		return
	}

	res := s.core.AddBook(r.Context(), req.Path, req.DisplayName, parseDirection(req.Direction), s.interp)
	dto := AddResultDTO{
		Result:       string(res.Type),
		PreviousPath: res.PreviousPath,
		Book:         res.Book,
	}
	if res.Record != nil {
		dto.ID = res.Record.ID.String()
	}
	status := http.StatusOK
	switch res.Type {
	case comiccore.Added:
		status = http.StatusCreated
	case comiccore.Rejected:
		dto.Code = res.Code
		if res.Err != nil {
			dto.Message = res.Err.Error()
		}
		status = StatusFor(res.Code)
	}
	writeJSON(w, status, dto)
}

func (s *Server) invalidate(w http.ResponseWriter, r *http.Request) {
	var req HashDTO
	if !s.decodeBody(w, r, &req) {
		return
	}
	if err := s.core.Invalidate(r.Context(), strings.ToLower(strings.TrimSpace(req.Hash))); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) pageSize(w http.ResponseWriter, r *http.Request) {
	path, page, err := s.pageParams(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	size, err := s.core.ProbePage(r.Context(), path, page)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, size)
}

// pageRegion serves GET /v1/pages/region as JPEG. x, y, w and h select a
// region (all or none); tw and th bound the output size.
func (s *Server) pageRegion(w http.ResponseWriter, r *http.Request) {
	path, page, err := s.pageParams(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	q := r.URL.Query()

	var region *domain.Region
	if q.Has("w") || q.Has("h") {
		reg := domain.Region{}
		for key, dst := range map[string]*int{"x": &reg.X, "y": &reg.Y, "w": &reg.Width, "h": &reg.Height} {
			if *dst, err = intParam(q.Get(key), 0); err != nil {
				s.writeError(w, err)
				return
			}
		}
		region = &reg
	}

	var target *domain.Size
	if q.Has("tw") || q.Has("th") {
		size := domain.Size{}
		if size.Width, err = intParam(q.Get("tw"), 0); err != nil {
			s.writeError(w, err)
			return
		}
		if size.Height, err = intParam(q.Get("th"), 0); err != nil {
			s.writeError(w, err)
			return
		}
		target = &size
	}
	quality, err := intParam(q.Get("quality"), 0)
	if err != nil {
		s.writeError(w, err)
		return
	}

	res, err := s.core.DecodeRegion(r.Context(), path, page, region, target)
	if err != nil {
		s.writeError(w, err)
		return
	}
	data, err := comiccore.EncodeJPEG(res.Image, quality)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("X-Source-Width", strconv.Itoa(res.Source.Width))
	w.Header().Set("X-Source-Height", strconv.Itoa(res.Source.Height))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// pageRaw streams the encoded page bytes. The handle is released once the
// response is written.
func (s *Server) pageRaw(w http.ResponseWriter, r *http.Request) {
	path, page, err := s.pageParams(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	h, err := s.core.GetPageImageData(r.Context(), path, page)
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer s.core.Release(h)

	data, err := h.Bytes()
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", h.MIMEType())
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) recognize(w http.ResponseWriter, r *http.Request) {
	var req OCRRequestDTO
	if !s.decodeBody(w, r, &req) {
		return
	}
	if err := s.checkPath(req.Path); err != nil {
		s.writeError(w, err)
		return
	}
	if s.ocr == nil {
		s.writeError(w, domain.ConfigError("no ocr engine configured", nil))
		return
	}
	if !req.Box.Valid() || req.Box.Area() == 0 {
		s.writeError(w, domain.ValidationError("box must be normalised with a non-zero area", nil))
		return
	}

	ctx := r.Context()
	fh, err := s.core.GetComicFileData(ctx, req.Path)
	if err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.core.DecodeRegion(ctx, req.Path, req.Page, nil, &domain.Size{Width: ocrRasterSide, Height: ocrRasterSide})
	if err != nil {
		s.writeError(w, err)
		return
	}
	result := s.core.RecognizeObject(ctx, s.ocr, &comiccore.Book{Hash: fh}, req.Page, res.Image, req.Box)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, domain.ValidationError("invalid request body", err))
		return false
	}
	return true
}

func (s *Server) pageParams(r *http.Request) (string, int, error) {
	q := r.URL.Query()
	path := q.Get("path")
	if strings.TrimSpace(path) == "" {
		return "", 0, domain.ValidationError("path is required", nil)
	}
	if err := s.checkPath(path); err != nil {
		return "", 0, err
	}
	page, err := intParam(q.Get("page"), 0)
	if err != nil {
		return "", 0, err
	}
	return path, page, nil
}

func intParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, domain.ValidationError("invalid integer parameter "+strconv.Quote(v), err)
	}
	return n, nil
}

func parseDirection(s string) domain.Direction {
	if s == "" {
		return ""
	}
	return domain.ParseDirection(s)
}
