package detect

import (
	"context"
	"encoding/json"
	"image"
	"strings"

	"github.com/spherical/comic-extractor/internal/decode"
	"github.com/spherical/comic-extractor/internal/domain"
)

const defaultRemotePrompt = `You are a comic page layout analyzer.
Find every panel and every speech balloon on this page.
Return ONLY a JSON array, no prose. Each element:
{"class": "panel" | "speech_balloon", "confidence": 0..1, "box": [x_min, y_min, x_max, y_max]}
Box coordinates are fractions of the page width and height in [0,1], origin top-left.
Return [] if the page has no panels.`

// RemoteBackend asks a vision chat model for boxes.
type RemoteBackend struct {
	client VisionClient
	cfg    RemoteConfig
}

// NewRemoteBackend creates a backend over a vision client.
func NewRemoteBackend(client VisionClient, cfg RemoteConfig) *RemoteBackend {
	if cfg.Prompt == "" {
		cfg.Prompt = defaultRemotePrompt
	}
	return &RemoteBackend{client: client, cfg: cfg}
}

// Infer implements Backend.
func (b *RemoteBackend) Infer(ctx context.Context, raster image.Image) ([]domain.PageObject, error) {
	jpeg, err := decode.EncodeJPEG(raster, b.cfg.JPEGQuality)
	if err != nil {
		return nil, err
	}
	answer, err := b.client.Complete(ctx, b.cfg.Prompt, jpeg)
	if err != nil {
		return nil, err
	}
	return ParseDetections(answer)
}

type remoteObject struct {
	Class      string    `json:"class"`
	Label      string    `json:"label"`
	Confidence *float64  `json:"confidence"`
	Score      *float64  `json:"score"`
	Box        []float64 `json:"box"`
	BBox       []float64 `json:"bbox"`
}

// ParseDetections extracts objects from a model answer. The answer may wrap
// the JSON array in prose or a code fence, or return {"objects": [...]}.
func ParseDetections(answer string) ([]domain.PageObject, error) {
	payload := extractJSON(answer)
	if payload == "" {
		return nil, domain.InterpreterError("model answer contains no JSON", nil)
	}

	var items []remoteObject
	if strings.HasPrefix(payload, "{") {
		var wrapped struct {
			Objects []remoteObject `json:"objects"`
		}
		if err := json.Unmarshal([]byte(payload), &wrapped); err != nil {
			return nil, domain.InterpreterError("cannot parse model answer", err)
		}
		items = wrapped.Objects
	} else if err := json.Unmarshal([]byte(payload), &items); err != nil {
		return nil, domain.InterpreterError("cannot parse model answer", err)
	}

	objs := make([]domain.PageObject, 0, len(items))
	for _, it := range items {
		box := it.Box
		if len(box) == 0 {
			box = it.BBox
		}
		if len(box) != 4 {
			continue
		}
		class := normaliseClass(it.Class)
		if class == "" {
			class = normaliseClass(it.Label)
		}
		if class == "" {
			continue
		}
		prob := 1.0
		switch {
		case it.Confidence != nil:
			prob = *it.Confidence
		case it.Score != nil:
			prob = *it.Score
		}
		objs = append(objs, domain.PageObject{
			Class:       class,
			Probability: prob,
			Box:         domain.BoundingBox{XMin: box[0], YMin: box[1], XMax: box[2], YMax: box[3]},
		})
	}
	return objs, nil
}

func normaliseClass(s string) domain.ObjectClass {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer("-", "_", " ", "_").Replace(s)
	switch s {
	case "":
		return ""
	case "panel", "frame":
		return domain.ClassPanel
	case "speech_balloon", "balloon", "speech_bubble", "bubble", "text_bubble":
		return domain.ClassSpeechBalloon
	default:
		return domain.ObjectClass(s)
	}
}

func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	open := strings.IndexAny(s, "[{")
	if open < 0 {
		return ""
	}
	closer := "]"
	if s[open] == '{' {
		closer = "}"
	}
	end := strings.LastIndex(s, closer)
	if end < open {
		return ""
	}
	return s[open : end+1]
}

