package archive

import (
	"bytes"

	"github.com/spherical/comic-extractor/internal/domain"
)

// SniffLen is the number of leading bytes Sniff inspects.
const SniffLen = 1024

var (
	magicZIP      = []byte("PK\x03\x04")
	magicZIPEmpty = []byte("PK\x05\x06")
	magicZIPSpan  = []byte("PK\x07\x08")
	magicRAR      = []byte("Rar!\x1a\x07")
	magic7z       = []byte{'7', 'z', 0xBC, 0xAF, 0x27, 0x1C}
	magicPDF      = []byte("%PDF-")
)

// Sniff identifies a container format from its leading bytes. The file
// extension is never consulted.
func Sniff(header []byte) domain.Format {
	switch {
	case bytes.HasPrefix(header, magicZIP),
		bytes.HasPrefix(header, magicZIPEmpty),
		bytes.HasPrefix(header, magicZIPSpan):
		return domain.FormatZIP
	case bytes.HasPrefix(header, magicRAR):
		return domain.FormatRAR
	case bytes.HasPrefix(header, magic7z):
		return domain.FormatSevenZip
	}

	// Readers accept a PDF header anywhere in the first kilobyte.
	limit := header
	if len(limit) > SniffLen {
		limit = limit[:SniffLen]
	}
	if bytes.Contains(limit, magicPDF) {
		return domain.FormatPDF
	}
	return domain.FormatUnknown
}
