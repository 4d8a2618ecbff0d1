package api

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spherical/comic-extractor/internal/domain"
)

// Option configures a Server.
type Option func(*Server)

// WithLibraryRoots restricts request paths to the given directories. No
// roots leaves every readable path open.
func WithLibraryRoots(roots ...string) Option {
	return func(s *Server) {
		for _, root := range roots {
			if strings.TrimSpace(root) == "" {
				continue
			}
			s.roots = append(s.roots, canonicalPath(root))
		}
	}
}

// canonicalPath makes p absolute and resolves symlinks in its longest
// existing prefix, so a link inside a root cannot point outside it.
func canonicalPath(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return filepath.Clean(p)
	}
	rest := ""
	for dir := abs; ; dir = filepath.Dir(dir) {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			return filepath.Join(resolved, rest)
		} else if !os.IsNotExist(err) {
			return abs
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs
		}
		rest = filepath.Join(filepath.Base(dir), rest)
	}
}

// checkPath rejects a request path outside every library root.
func (s *Server) checkPath(path string) error {
	if len(s.roots) == 0 {
		return nil
	}
	if strings.TrimSpace(path) == "" {
		return domain.ValidationError("path is required", nil)
	}
	target := canonicalPath(path)
	for _, root := range s.roots {
		rel, err := filepath.Rel(root, target)
		if err != nil {
			continue
		}
		if rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil
		}
	}
	s.logger.Warn().Str("path", path).Msg("Rejected path outside library roots")
	return domain.PathForbiddenError(path)
}
