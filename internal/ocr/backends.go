package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os/exec"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/spherical/comic-extractor/internal/decode"
	"github.com/spherical/comic-extractor/internal/domain"
)

// Backend names accepted in configuration.
const (
	BackendTesseract = "tesseract"
	BackendRemote    = "remote"
)

// minSide is the shortest crop side handed to tesseract; smaller balloons
// are enlarged first.
const minSide = 64

// TesseractBackend shells out to the tesseract CLI, piping a PNG on stdin.
type TesseractBackend struct {
	Binary   string
	Language string
	PSM      int
}

// NewTesseractBackend fills defaults for empty settings.
func NewTesseractBackend(binary, language string, psm int) *TesseractBackend {
	if binary == "" {
		binary = "tesseract"
	}
	if language == "" {
		language = "eng"
	}
	if psm <= 0 {
		psm = 6
	}
	return &TesseractBackend{Binary: binary, Language: language, PSM: psm}
}

// Recognize implements Backend.
func (t *TesseractBackend) Recognize(ctx context.Context, raster image.Image) (string, error) {
	gray := imaging.Grayscale(raster)
	if b := gray.Bounds(); min(b.Dx(), b.Dy()) < minSide {
		scale := float64(minSide) / float64(min(b.Dx(), b.Dy()))
		gray = imaging.Resize(gray, int(float64(b.Dx())*scale+0.5), int(float64(b.Dy())*scale+0.5), imaging.CatmullRom)
	}
	png, err := decode.EncodePNG(gray)
	if err != nil {
		return "", err
	}

	cmd := exec.CommandContext(ctx, t.Binary,
		"stdin", "stdout",
		"-l", t.Language,
		"--psm", strconv.Itoa(t.PSM),
	)
	cmd.Stdin = bytes.NewReader(png)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", domain.OCRError(fmt.Sprintf("tesseract failed: %s", bytes.TrimSpace(stderr.Bytes())), err)
	}
	return stdout.String(), nil
}

const defaultRemotePrompt = `Transcribe the lettering in this comic speech balloon exactly as written.
Return only the text, without quotes or commentary. Return an empty answer if there is no text.`

// VisionClient is the subset of the vision chat client the remote backend
// uses. Chunks are sent on resultCh, which Stream does not close.
type VisionClient interface {
	Stream(ctx context.Context, prompt string, jpegData []byte, resultCh chan<- string) error
}

// RemoteBackend asks a vision chat model to transcribe the crop. The answer
// is streamed, so a superseded request stops at the next chunk instead of
// waiting for the whole transcription.
type RemoteBackend struct {
	client VisionClient
	prompt string
}

// NewRemoteBackend creates a remote backend. An empty prompt selects the
// default transcription prompt.
func NewRemoteBackend(client VisionClient, prompt string) *RemoteBackend {
	if prompt == "" {
		prompt = defaultRemotePrompt
	}
	return &RemoteBackend{client: client, prompt: prompt}
}

// Recognize implements Backend.
func (r *RemoteBackend) Recognize(ctx context.Context, raster image.Image) (string, error) {
	jpeg, err := decode.EncodeJPEG(raster, 90)
	if err != nil {
		return "", err
	}

	chunks := make(chan string, 16)
	streamErr := make(chan error, 1)
	go func() {
		defer close(chunks)
		streamErr <- r.client.Stream(ctx, r.prompt, jpeg, chunks)
	}()

	var text strings.Builder
	for chunk := range chunks {
		text.WriteString(chunk)
	}
	if err := <-streamErr; err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", domain.OCRError("remote transcription failed", err)
	}
	return strings.TrimSpace(text.String()), nil
}
