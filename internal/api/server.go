// Package api exposes the comic core over HTTP for out-of-process callers.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/spherical/comic-extractor/internal/domain"
	"github.com/spherical/comic-extractor/internal/metrics"
	"github.com/spherical/comic-extractor/internal/observability"
	"github.com/spherical/comic-extractor/pkg/comiccore"
)

// Server holds the long-lived handles shared by every request.
type Server struct {
	core   *comiccore.Core
	interp *comiccore.Interpreter
	ocr    *comiccore.OCRHandle
	logger *observability.Logger
	roots  []string
}

// NewServer creates a server. interp and ocr may be nil; requests needing
// them then fail with CODE_CONFIG.
func NewServer(core *comiccore.Core, interp *comiccore.Interpreter, ocr *comiccore.OCRHandle, logger *observability.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = observability.Nop()
	}
	s := &Server{
		core:   core,
		interp: interp,
		ocr:    ocr,
		logger: logger.WithComponent("api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewRouter creates the API router with all routes configured.
func NewRouter(s *Server, requestTimeout time.Duration) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(metrics.Middleware)
	if requestTimeout > 0 {
		r.Use(chimiddleware.Timeout(requestTimeout))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		count, bytes := s.core.OutstandingHandles()
		writeJSON(w, http.StatusOK, map[string]any{
			"status":              "healthy",
			"service":             "comic-extractor",
			"handles_outstanding": count,
			"handle_bytes":        bytes,
		})
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/books", func(r chi.Router) {
			r.Post("/metadata", s.bookMetadata)
			r.Post("/hash", s.bookHash)
			r.Post("/add", s.addBook)
			r.Post("/invalidate", s.invalidate)
		})
		r.Route("/pages", func(r chi.Router) {
			r.Get("/size", s.pageSize)
			r.Get("/region", s.pageRegion)
			r.Get("/raw", s.pageRaw)
		})
		r.Post("/ocr", s.recognize)
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("took", time.Since(start)).
			Msg("Request served")
	})
}

// ErrorDTO is the body of every error response.
type ErrorDTO struct {
	Code    domain.Code `json:"code"`
	Message string      `json:"message"`
}

// StatusFor maps a stable error code to an HTTP status.
func StatusFor(code domain.Code) int {
	switch code {
	case domain.CodeInvalidArgument:
		return http.StatusBadRequest
	case domain.CodePathForbidden:
		return http.StatusForbidden
	case domain.CodeContainerRead, domain.CodePageNotFound:
		return http.StatusNotFound
	case domain.CodeContainerUnsupported, domain.CodeEmptyBook, domain.CodeImageOpen:
		return http.StatusUnprocessableEntity
	case domain.CodeHandleReleased:
		return http.StatusGone
	case domain.CodeCancelled:
		return http.StatusRequestTimeout
	case domain.CodeInterpreter, domain.CodeOCR, domain.CodeAPI:
		return http.StatusBadGateway
	case domain.CodeConfig, domain.CodeStorage:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := domain.CodeOf(err)
	status := StatusFor(code)
	if status >= http.StatusInternalServerError {
		s.logger.Error().Str("code", string(code)).Err(err).Msg("Request failed")
	}
	message := err.Error()
	var de *domain.DomainError
	if errors.As(err, &de) {
		message = de.Message
	}
	writeJSON(w, status, ErrorDTO{Code: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
