package domain

import (
	"bytes"
	"encoding/hex"
	"time"
)

// Format identifies a container format sniffed from magic bytes.
type Format string

const (
	FormatZIP      Format = "zip"
	FormatRAR      Format = "rar"
	FormatSevenZip Format = "7z"
	FormatPDF      Format = "pdf"
	FormatUnknown  Format = "unknown"
)

// MediaType is the classification of a container entry.
type MediaType string

const (
	MediaImage    MediaType = "image"
	MediaMetadata MediaType = "metadata"
	MediaIgnored  MediaType = "ignored"
)

// Direction is the reading direction of a book.
type Direction string

const (
	DirectionLTR Direction = "ltr"
	DirectionRTL Direction = "rtl"
)

// ParseDirection returns DirectionRTL for "rtl" (any case) and DirectionLTR otherwise.
func ParseDirection(s string) Direction {
	if len(s) == 3 && (s[0]|0x20) == 'r' && (s[1]|0x20) == 't' && (s[2]|0x20) == 'l' {
		return DirectionRTL
	}
	return DirectionLTR
}

// FileHashData is the content identity of a container. It is used only for
// identity matching, never for tamper detection.
type FileHashData struct {
	Hash []byte `json:"hash"`
	Size int64  `json:"size"`
}

// Hex returns the hash as lowercase hex.
func (f FileHashData) Hex() string {
	return hex.EncodeToString(f.Hash)
}

// Equal reports whether both hash and size match.
func (f FileHashData) Equal(other FileHashData) bool {
	return f.Size == other.Size && bytes.Equal(f.Hash, other.Hash)
}

// IsZero reports whether no hash was computed.
func (f FileHashData) IsZero() bool {
	return len(f.Hash) == 0
}

// Entry is one file inside a container. Index is the natural archive order.
type Entry struct {
	Index     int       `json:"index"`
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	MediaType MediaType `json:"media_type"`
}

// ObjectClass is the detected class of a page object.
type ObjectClass string

const (
	ClassPanel         ObjectClass = "panel"
	ClassSpeechBalloon ObjectClass = "speech_balloon"
)

// BoundingBox is a box normalised to [0,1] relative to the page dimensions.
type BoundingBox struct {
	XMin float64 `json:"x_min"`
	YMin float64 `json:"y_min"`
	XMax float64 `json:"x_max"`
	YMax float64 `json:"y_max"`
}

// Valid reports whether 0 <= min <= max <= 1 holds on both axes.
func (b BoundingBox) Valid() bool {
	return 0 <= b.XMin && b.XMin <= b.XMax && b.XMax <= 1 &&
		0 <= b.YMin && b.YMin <= b.YMax && b.YMax <= 1
}

// Clamp limits all coordinates to [0,1] and orders min/max.
func (b BoundingBox) Clamp() BoundingBox {
	c := BoundingBox{
		XMin: clamp01(b.XMin), YMin: clamp01(b.YMin),
		XMax: clamp01(b.XMax), YMax: clamp01(b.YMax),
	}
	if c.XMin > c.XMax {
		c.XMin, c.XMax = c.XMax, c.XMin
	}
	if c.YMin > c.YMax {
		c.YMin, c.YMax = c.YMax, c.YMin
	}
	return c
}

// Width returns the normalised width.
func (b BoundingBox) Width() float64 { return b.XMax - b.XMin }

// Height returns the normalised height.
func (b BoundingBox) Height() float64 { return b.YMax - b.YMin }

// Area returns the normalised area.
func (b BoundingBox) Area() float64 { return b.Width() * b.Height() }

// IoU returns the intersection over union of two boxes.
func (b BoundingBox) IoU(o BoundingBox) float64 {
	ix := min(b.XMax, o.XMax) - max(b.XMin, o.XMin)
	iy := min(b.YMax, o.YMax) - max(b.YMin, o.YMin)
	if ix <= 0 || iy <= 0 {
		return 0
	}
	inter := ix * iy
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func clamp01(v float64) float64 {
	switch {
	case v != v: // NaN
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// PageObject is one immutable detection result on a page.
type PageObject struct {
	Class       ObjectClass `json:"class"`
	Probability float64     `json:"probability"`
	Box         BoundingBox `json:"box"`
}

// Page is a container entry classified as an image. Position is the only
// stable identifier; Name is used only for the initial sort.
type Page struct {
	Position   int           `json:"position"`
	EntryIndex int           `json:"entry_index"`
	Name       string        `json:"name"`
	Width      int           `json:"width"`
	Height     int           `json:"height"`
	Objects    []PageObject  `json:"objects"`
	Metadata   *PageMetadata `json:"metadata,omitempty"`
	// DetectFailed is set when detection failed for this page and Objects is
	// empty because of it rather than because nothing was found.
	DetectFailed bool `json:"detect_failed,omitempty"`
}

// Book is the assembled description of a container.
type Book struct {
	Name      string             `json:"name"`
	Path      string             `json:"path"`
	Format    Format             `json:"format"`
	Direction Direction          `json:"direction"`
	Hash      FileHashData       `json:"hash"`
	Pages     []Page             `json:"pages"`
	Metadata  *ComicRackMetadata `json:"metadata,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
}

// PageAt returns the page with the given position.
func (b *Book) PageAt(position int) (*Page, bool) {
	for i := range b.Pages {
		if b.Pages[i].Position == position {
			return &b.Pages[i], true
		}
	}
	return nil, false
}

// Region is a pixel rectangle in source image coordinates.
type Region struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Empty reports whether the region has no area.
func (r Region) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Size is a pixel size.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// EventType represents the type of stream event
type EventType string

const (
	EventStateChange    EventType = "state_change"
	EventPageProcessing EventType = "page_processing"
	EventPageComplete   EventType = "page_complete"
	EventPageFailed     EventType = "page_failed"
	EventError          EventType = "error"
	EventComplete       EventType = "complete"
)

// StreamEvent represents an event emitted during processing
type StreamEvent struct {
	Type       EventType   `json:"type"`
	State      string      `json:"state,omitempty"`
	PageNumber int         `json:"page_number,omitempty"`
	TotalPages int         `json:"total_pages,omitempty"`
	Payload    interface{} `json:"payload,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

// ProcessingStats contains metadata about one pipeline run
type ProcessingStats struct {
	TotalTime       time.Duration
	PagesProcessed  int
	SuccessfulPages int
	FailedPages     int
	Errors          []error
}
