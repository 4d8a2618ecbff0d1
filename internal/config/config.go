// Package config provides configuration loading for the comic extractor.
// Supports YAML files, environment variables and a .env file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/spherical/comic-extractor/internal/domain"
)

// Config holds all configuration for the comic extractor.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Decode        DecodeConfig        `yaml:"decode"`
	Detect        DetectConfig        `yaml:"detect"`
	OCR           OCRConfig           `yaml:"ocr"`
	Vision        VisionConfig        `yaml:"vision"`
	Catalog       CatalogConfig       `yaml:"catalog"`
	Cache         CacheConfig         `yaml:"cache"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
	// LibraryRoots limits request paths to these directories. Empty allows
	// any path the process can read.
	LibraryRoots []string `yaml:"library_roots"`
}

// DecodeConfig holds image decoding settings.
type DecodeConfig struct {
	MemoryBudget  int64   `yaml:"memory_budget"` // bytes
	TileSize      int     `yaml:"tile_size"`
	DetectionSize int     `yaml:"detection_size"`
	PDFDPI        float64 `yaml:"pdf_dpi"`
	MaxEntryBytes int64   `yaml:"max_entry_bytes"`
	Workers       int     `yaml:"workers"`
	// OpenContainers is how many opened books stay cached between page
	// requests. Zero reopens the book on every request.
	OpenContainers int `yaml:"open_containers"`
}

// DetectConfig holds object detection settings.
type DetectConfig struct {
	ModelPath        string  `yaml:"model_path"` // empty uses the built-in gutter manifest
	DefaultThreshold float64 `yaml:"default_threshold"`
}

// OCRConfig holds text recognition settings.
type OCRConfig struct {
	Backend  string `yaml:"backend"` // tesseract or remote
	Binary   string `yaml:"binary"`
	Language string `yaml:"language"`
	PSM      int    `yaml:"psm"`
}

// VisionConfig holds the remote vision model used by remote backends.
type VisionConfig struct {
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	Endpoint string `yaml:"endpoint"`
}

// CatalogConfig holds the identity store settings.
type CatalogConfig struct {
	Driver       string `yaml:"driver"` // sqlite or postgres
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// CacheConfig holds cache settings.
type CacheConfig struct {
	Driver     string        `yaml:"driver"` // memory or redis
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
	Redis      RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	Prefix   string `yaml:"prefix"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Load reads .env, then the YAML file at path (optional), then applies
// environment overrides and validates.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // a missing .env is fine

	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, domain.ConfigError("read config file", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, domain.ConfigError("parse config file", err)
		}
		if cfg.Detect.ModelPath != "" {
			cfg.Detect.ModelPath = ResolveRelativePath(path, cfg.Detect.ModelPath)
		}
		for i, root := range cfg.Server.LibraryRoots {
			cfg.Server.LibraryRoots[i] = ResolveRelativePath(path, root)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultConfig returns a configuration with development defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8090,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     2 * time.Minute,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 10 * time.Second,
		},
		Decode: DecodeConfig{
			MemoryBudget:   48 << 20,
			TileSize:       512,
			DetectionSize:  1024,
			PDFDPI:         150,
			MaxEntryBytes:  256 << 20,
			Workers:        2,
			OpenContainers: 4,
		},
		Detect: DetectConfig{
			DefaultThreshold: 0.5,
		},
		OCR: OCRConfig{
			Backend:  "tesseract",
			Binary:   "tesseract",
			Language: "eng",
			PSM:      6,
		},
		Catalog: CatalogConfig{
			Driver: "sqlite",
			DSN:    filepath.Join(os.TempDir(), "comic-extractor.db"),
		},
		Cache: CacheConfig{
			Driver:     "memory",
			TTL:        24 * time.Hour,
			MaxEntries: 1000,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				PoolSize: 10,
				Prefix:   "comic:",
			},
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "console",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch {
	case c.Server.Port < 1 || c.Server.Port > 65535:
		return domain.ConfigError(fmt.Sprintf("invalid server port: %d", c.Server.Port), nil)
	case c.Decode.MemoryBudget <= 0:
		return domain.ConfigError("decode.memory_budget must be positive", nil)
	case c.Decode.TileSize < 16:
		return domain.ConfigError("decode.tile_size must be at least 16", nil)
	case c.Decode.DetectionSize < 32:
		return domain.ConfigError("decode.detection_size must be at least 32", nil)
	case c.Decode.PDFDPI < 9 || c.Decode.PDFDPI > 1200:
		return domain.ConfigError("decode.pdf_dpi must be between 9 and 1200", nil)
	case c.Decode.Workers < 1:
		return domain.ConfigError("decode.workers must be at least 1", nil)
	case c.Decode.OpenContainers < 0:
		return domain.ConfigError("decode.open_containers must not be negative", nil)
	case c.Detect.DefaultThreshold < 0 || c.Detect.DefaultThreshold > 1:
		return domain.ConfigError("detect.default_threshold must be between 0 and 1", nil)
	case c.OCR.Backend != "tesseract" && c.OCR.Backend != "remote":
		return domain.ConfigError(fmt.Sprintf("invalid ocr backend: %s", c.OCR.Backend), nil)
	case c.Catalog.Driver != "sqlite" && c.Catalog.Driver != "postgres":
		return domain.ConfigError(fmt.Sprintf("invalid catalog driver: %s", c.Catalog.Driver), nil)
	case c.Catalog.DSN == "":
		return domain.ConfigError("catalog.dsn is required", nil)
	case c.Cache.Driver != "memory" && c.Cache.Driver != "redis":
		return domain.ConfigError(fmt.Sprintf("invalid cache driver: %s", c.Cache.Driver), nil)
	case c.Cache.TTL < 0:
		return domain.ConfigError("cache.ttl must not be negative", nil)
	}
	if c.OCR.Backend == "remote" && c.Vision.APIKey == "" {
		return domain.ConfigError("ocr.backend remote requires a vision api key", nil)
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("COMIC_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v, ok := envInt("COMIC_PORT"); ok {
		cfg.Server.Port = v
	}
	if v := os.Getenv("COMIC_LIBRARY_ROOTS"); v != "" {
		cfg.Server.LibraryRoots = filepath.SplitList(v)
	}
	if v, ok := envInt("COMIC_MEMORY_BUDGET"); ok {
		cfg.Decode.MemoryBudget = int64(v)
	}
	if v, ok := envInt("COMIC_TILE_SIZE"); ok {
		cfg.Decode.TileSize = v
	}
	if v, ok := envInt("COMIC_DETECTION_SIZE"); ok {
		cfg.Decode.DetectionSize = v
	}
	if v, ok := envInt("COMIC_WORKERS"); ok {
		cfg.Decode.Workers = v
	}
	if v := os.Getenv("COMIC_PDF_DPI"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Decode.PDFDPI = f
		}
	}
	if v := os.Getenv("COMIC_MODEL_PATH"); v != "" {
		cfg.Detect.ModelPath = v
	}
	if v := os.Getenv("COMIC_OCR_BACKEND"); v != "" {
		cfg.OCR.Backend = v
	}
	if v := os.Getenv("COMIC_OCR_LANGUAGE"); v != "" {
		cfg.OCR.Language = v
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		if strings.HasPrefix(v, "sqlite:") {
			cfg.Catalog.Driver = "sqlite"
			cfg.Catalog.DSN = strings.TrimPrefix(v, "sqlite:")
		} else if strings.HasPrefix(v, "postgres") {
			cfg.Catalog.Driver = "postgres"
			cfg.Catalog.DSN = v
		}
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.Driver = "redis"
		cfg.Cache.Redis.Addr = strings.TrimPrefix(v, "redis://")
	}

	if v := os.Getenv("OPENROUTER_API_KEY"); v != "" {
		cfg.Vision.APIKey = v
	}
	if v := os.Getenv("VISION_MODEL"); v != "" {
		cfg.Vision.Model = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ResolveRelativePath resolves a path relative to the config file location.
func ResolveRelativePath(configPath, targetPath string) string {
	if filepath.IsAbs(targetPath) {
		return targetPath
	}
	return filepath.Join(filepath.Dir(configPath), targetPath)
}
