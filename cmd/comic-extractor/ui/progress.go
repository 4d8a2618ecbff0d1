package ui

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/briandowns/spinner"
	"github.com/schollz/progressbar/v3"

	"github.com/spherical/comic-extractor/internal/domain"
)

// progressOut receives bars and spinners. Tests swap it.
var progressOut io.Writer = os.Stderr

func newBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(progressOut),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(progressOut) }),
	)
}

// IngestProgress shows which comic of an ingest run is being added.
type IngestProgress struct {
	bar  *progressbar.ProgressBar
	done int
}

// NewIngestProgress starts a bar over total comic files.
func NewIngestProgress(total int) *IngestProgress {
	return &IngestProgress{bar: newBar(total, "Adding")}
}

// Begin names the comic about to be added.
func (p *IngestProgress) Begin(path string) {
	p.bar.Describe(filepath.Base(path))
}

// Added advances past the current comic.
func (p *IngestProgress) Added() {
	p.done++
	_ = p.bar.Set(p.done)
}

// Finish completes the bar even when the run stopped early.
func (p *IngestProgress) Finish() {
	_ = p.bar.Finish()
}

// PageProgress follows the page events of one book assembly. The bar is
// created on the first page event because the page count is only known
// after enumeration.
type PageProgress struct {
	bar    *progressbar.ProgressBar
	done   int
	failed int
}

// Observe applies one pipeline event.
func (p *PageProgress) Observe(ev domain.StreamEvent) {
	switch ev.Type {
	case domain.EventPageComplete, domain.EventPageFailed:
		if p.bar == nil {
			p.bar = newBar(ev.TotalPages, "Pages")
		}
		p.done++
		if ev.Type == domain.EventPageFailed {
			p.failed++
			p.bar.Describe(fmt.Sprintf("Pages (%d failed)", p.failed))
			Debug("page %d failed: %v", ev.PageNumber, ev.Payload)
		}
		_ = p.bar.Set(p.done)
	case domain.EventStateChange:
		Debug("state: %s", ev.State)
	}
}

// Finish completes the bar and reports how many pages finished and how
// many of those failed.
func (p *PageProgress) Finish() (done, failed int) {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
	return p.done, p.failed
}

// WithSpinner runs fn while a spinner shows message.
func WithSpinner(message string, fn func() error) error {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + message
	s.Writer = progressOut
	s.Start()
	defer s.Stop()
	return fn()
}
