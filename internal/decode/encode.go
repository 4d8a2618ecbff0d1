package decode

import (
	"bytes"
	"image"

	"github.com/disintegration/imaging"

	"github.com/spherical/comic-extractor/internal/domain"
)

// DefaultJPEGQuality is used for region previews and model uploads.
const DefaultJPEGQuality = 85

// EncodeJPEG encodes img as JPEG.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, domain.ImageOpenError("cannot encode JPEG", err)
	}
	return buf.Bytes(), nil
}

// EncodePNG encodes img as PNG.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, domain.ImageOpenError("cannot encode PNG", err)
	}
	return buf.Bytes(), nil
}

// MIMEType maps an image.DecodeConfig format name to a media type.
func MIMEType(format string) string {
	switch format {
	case "jpeg":
		return "image/jpeg"
	case "png", "pdf":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	case "bmp":
		return "image/bmp"
	case "tiff":
		return "image/tiff"
	default:
		return "application/octet-stream"
	}
}
