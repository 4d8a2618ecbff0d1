package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/comic-extractor/internal/domain"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{
		"COMIC_HOST", "COMIC_PORT", "COMIC_MEMORY_BUDGET", "COMIC_TILE_SIZE",
		"COMIC_DETECTION_SIZE", "COMIC_WORKERS", "COMIC_PDF_DPI", "COMIC_MODEL_PATH",
		"COMIC_OCR_BACKEND", "COMIC_OCR_LANGUAGE", "DATABASE_URL", "REDIS_URL",
		"OPENROUTER_API_KEY", "VISION_MODEL", "LOG_LEVEL", "LOG_FORMAT",
		"COMIC_LIBRARY_ROOTS",
	} {
		t.Setenv(k, "")
	}
}

func TestDefaultConfig_IsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestLoad_NoFile(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Catalog.Driver)
	assert.Equal(t, "memory", cfg.Cache.Driver)
}

func TestLoad_YAML(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
decode:
  memory_budget: 1048576
  tile_size: 256
detect:
  model_path: models/panels.yaml
  default_threshold: 0.7
cache:
  ttl: 1h
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, int64(1<<20), cfg.Decode.MemoryBudget)
	assert.Equal(t, 256, cfg.Decode.TileSize)
	assert.Equal(t, 1024, cfg.Decode.DetectionSize, "unset keys keep defaults")
	assert.Equal(t, filepath.Join(dir, "models", "panels.yaml"), cfg.Detect.ModelPath)
	assert.Equal(t, 0.7, cfg.Detect.DefaultThreshold)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Equal(t, domain.CodeConfig, domain.CodeOf(err))

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [\n"), 0o644))
	_, err = Load(path)
	assert.Equal(t, domain.CodeConfig, domain.CodeOf(err))
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("COMIC_PORT", "7000")
	t.Setenv("COMIC_WORKERS", "4")
	t.Setenv("COMIC_PDF_DPI", "200")
	t.Setenv("DATABASE_URL", "postgres://u:p@db/comics")
	t.Setenv("REDIS_URL", "redis://cache:6379")
	t.Setenv("OPENROUTER_API_KEY", "key")
	t.Setenv("COMIC_OCR_BACKEND", "remote")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Decode.Workers)
	assert.Equal(t, 200.0, cfg.Decode.PDFDPI)
	assert.Equal(t, "postgres", cfg.Catalog.Driver)
	assert.Equal(t, "postgres://u:p@db/comics", cfg.Catalog.DSN)
	assert.Equal(t, "redis", cfg.Cache.Driver)
	assert.Equal(t, "cache:6379", cfg.Cache.Redis.Addr)
	assert.Equal(t, "remote", cfg.OCR.Backend)
	assert.Equal(t, "debug", cfg.Observability.LogLevel)
}

func TestLoad_LibraryRoots(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  library_roots: [comics, /srv/manga]
decode:
  open_containers: 0
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "comics"), "/srv/manga"}, cfg.Server.LibraryRoots)
	assert.Zero(t, cfg.Decode.OpenContainers)

	t.Setenv("COMIC_LIBRARY_ROOTS", "/a"+string(filepath.ListSeparator)+"/b")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"/a", "/b"}, cfg.Server.LibraryRoots)
	assert.Equal(t, 4, cfg.Decode.OpenContainers)
}

func TestLoad_SQLiteURL(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "sqlite:/data/comics.db")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Catalog.Driver)
	assert.Equal(t, "/data/comics.db", cfg.Catalog.DSN)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }},
		{"memory budget", func(c *Config) { c.Decode.MemoryBudget = 0 }},
		{"tile size", func(c *Config) { c.Decode.TileSize = 8 }},
		{"detection size", func(c *Config) { c.Decode.DetectionSize = 10 }},
		{"pdf dpi", func(c *Config) { c.Decode.PDFDPI = 5000 }},
		{"workers", func(c *Config) { c.Decode.Workers = 0 }},
		{"open containers", func(c *Config) { c.Decode.OpenContainers = -1 }},
		{"threshold", func(c *Config) { c.Detect.DefaultThreshold = 1.5 }},
		{"ocr backend", func(c *Config) { c.OCR.Backend = "magic" }},
		{"remote ocr without key", func(c *Config) { c.OCR.Backend = "remote" }},
		{"catalog driver", func(c *Config) { c.Catalog.Driver = "mysql" }},
		{"catalog dsn", func(c *Config) { c.Catalog.DSN = "" }},
		{"cache driver", func(c *Config) { c.Cache.Driver = "memcached" }},
		{"cache ttl", func(c *Config) { c.Cache.TTL = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Equal(t, domain.CodeConfig, domain.CodeOf(cfg.Validate()))
		})
	}
}

func TestAddrAndResolve(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "0.0.0.0:8090", cfg.Addr())
	assert.Equal(t, "/abs/x", ResolveRelativePath("/etc/c.yaml", "/abs/x"))
	assert.Equal(t, filepath.Join("/etc", "x"), ResolveRelativePath("/etc/c.yaml", "x"))
}
