// Package detect finds page objects (panels, speech balloons) on decoded
// page rasters.
package detect

import (
	"fmt"
	"os"

	"github.com/cespare/xxhash/v2"
	"gopkg.in/yaml.v3"

	"github.com/spherical/comic-extractor/internal/domain"
)

// Backend names accepted in a manifest.
const (
	BackendGutter = "gutter"
	BackendRemote = "remote"
)

// Manifest describes a detection model: which backend runs it, the raster
// size it expects and how its raw output is filtered.
type Manifest struct {
	Name    string `yaml:"name"`
	Backend string `yaml:"backend"`

	// InputSize is the longest side of the raster handed to the backend.
	InputSize int `yaml:"input_size"`

	DefaultThreshold float64                        `yaml:"default_threshold"`
	Thresholds       map[domain.ObjectClass]float64 `yaml:"thresholds"`

	// NMSIoU suppresses a same-class box overlapping a stronger one by more
	// than this ratio. Zero disables suppression.
	NMSIoU float64 `yaml:"nms_iou"`
	// MinSide drops boxes narrower or shorter than this normalised length.
	MinSide    float64 `yaml:"min_side"`
	MaxObjects int     `yaml:"max_objects"`

	Gutter GutterConfig `yaml:"gutter"`
	Remote RemoteConfig `yaml:"remote"`
}

// GutterConfig tunes the model-free panel detector.
type GutterConfig struct {
	// LightLevel is the minimum gray value counted as gutter.
	LightLevel uint8 `yaml:"light_level"`
	// LineRatio is the share of light pixels that makes a row or column a
	// gutter line.
	LineRatio float64 `yaml:"line_ratio"`
	// MinGutter is the minimum gutter thickness as a fraction of the page side.
	MinGutter float64 `yaml:"min_gutter"`
	// MinPanel is the minimum panel area as a fraction of the page.
	MinPanel   float64 `yaml:"min_panel"`
	MaxDepth   int     `yaml:"max_depth"`
	Confidence float64 `yaml:"confidence"`
	// WorkSize is the longest side the page is reduced to before scanning.
	WorkSize int `yaml:"work_size"`
}

// RemoteConfig configures the vision-model backend.
type RemoteConfig struct {
	Model       string `yaml:"model"`
	Prompt      string `yaml:"prompt"`
	JPEGQuality int    `yaml:"jpeg_quality"`
}

// DefaultManifest returns the built-in gutter-scan model.
func DefaultManifest() Manifest {
	m := Manifest{Name: "gutter-scan", Backend: BackendGutter}
	m.applyDefaults()
	return m
}

// LoadManifest reads a YAML manifest from disk.
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, domain.InterpreterError(fmt.Sprintf("cannot read model asset %s", path), err)
	}
	return ParseManifest(data)
}

// ParseManifest decodes and validates a YAML manifest.
func ParseManifest(data []byte) (Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, domain.InterpreterError("cannot parse model manifest", err)
	}
	m.applyDefaults()
	if err := m.Validate(); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

func (m *Manifest) applyDefaults() {
	if m.Backend == "" {
		m.Backend = BackendGutter
	}
	if m.InputSize <= 0 {
		m.InputSize = 1024
	}
	if m.DefaultThreshold == 0 {
		m.DefaultThreshold = 0.5
	}
	if m.MinSide == 0 {
		m.MinSide = 0.01
	}
	if m.MaxObjects <= 0 {
		m.MaxObjects = 64
	}

	g := &m.Gutter
	if g.LightLevel == 0 {
		g.LightLevel = 230
	}
	if g.LineRatio == 0 {
		g.LineRatio = 0.98
	}
	if g.MinGutter == 0 {
		g.MinGutter = 0.008
	}
	if g.MinPanel == 0 {
		g.MinPanel = 0.01
	}
	if g.MaxDepth <= 0 {
		g.MaxDepth = 6
	}
	if g.Confidence == 0 {
		g.Confidence = 0.9
	}
	if g.WorkSize <= 0 {
		g.WorkSize = 400
	}

	if m.Remote.JPEGQuality <= 0 {
		m.Remote.JPEGQuality = 85
	}
	if m.Remote.Prompt == "" {
		m.Remote.Prompt = defaultRemotePrompt
	}
}

// Validate rejects manifests the interpreter cannot run.
func (m Manifest) Validate() error {
	switch m.Backend {
	case BackendGutter, BackendRemote:
	default:
		return domain.InterpreterError(fmt.Sprintf("unknown detection backend %q", m.Backend), nil)
	}
	if m.DefaultThreshold < 0 || m.DefaultThreshold > 1 {
		return domain.InterpreterError("default_threshold must be within [0,1]", nil)
	}
	for class, th := range m.Thresholds {
		if th < 0 || th > 1 {
			return domain.InterpreterError(fmt.Sprintf("threshold for %s must be within [0,1]", class), nil)
		}
	}
	if m.NMSIoU < 0 || m.NMSIoU > 1 {
		return domain.InterpreterError("nms_iou must be within [0,1]", nil)
	}
	if m.Gutter.LineRatio <= 0 || m.Gutter.LineRatio > 1 {
		return domain.InterpreterError("gutter.line_ratio must be within (0,1]", nil)
	}
	return nil
}

// Threshold returns the acceptance threshold for class.
func (m Manifest) Threshold(class domain.ObjectClass) float64 {
	if th, ok := m.Thresholds[class]; ok {
		return th
	}
	return m.DefaultThreshold
}

// Fingerprint identifies everything in m that shapes detection output. Map
// keys marshal sorted, so equal manifests share a fingerprint.
func (m Manifest) Fingerprint() string {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Sprintf("%s-unhashable", m.Backend)
	}
	return fmt.Sprintf("%s-%016x", m.Backend, xxhash.Sum64(data))
}
