package archive

import (
	"path"
	"strings"
	"unicode"

	"github.com/spherical/comic-extractor/internal/domain"
)

// MetadataEntryName is the ComicRack metadata file name.
const MetadataEntryName = "ComicInfo.xml"

// imageExtensions are entry extensions treated as pages.
var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".webp": true, ".bmp": true, ".tif": true, ".tiff": true,
}

// Classify returns the media type of an entry from its name.
func Classify(name string) domain.MediaType {
	clean := strings.ReplaceAll(name, "\\", "/")
	base := path.Base(clean)

	if base == "" || base == "." || base == "/" {
		return domain.MediaIgnored
	}
	if strings.HasPrefix(clean, "__MACOSX/") || strings.Contains(clean, "/__MACOSX/") {
		return domain.MediaIgnored
	}
	if strings.HasPrefix(base, ".") || strings.EqualFold(base, "Thumbs.db") {
		return domain.MediaIgnored
	}
	if strings.EqualFold(base, MetadataEntryName) {
		return domain.MediaMetadata
	}
	if imageExtensions[strings.ToLower(path.Ext(base))] {
		return domain.MediaImage
	}
	return domain.MediaIgnored
}

// IsRootEntry reports whether name sits at the archive root.
func IsRootEntry(name string) bool {
	clean := strings.TrimPrefix(strings.ReplaceAll(name, "\\", "/"), "/")
	return !strings.Contains(clean, "/")
}

// FindMetadataEntry returns the index of the ComicInfo.xml entry, preferring
// one at the archive root.
func FindMetadataEntry(entries []domain.Entry) (int, bool) {
	found := -1
	for _, e := range entries {
		if e.MediaType != domain.MediaMetadata {
			continue
		}
		if IsRootEntry(e.Name) {
			return e.Index, true
		}
		if found < 0 {
			found = e.Index
		}
	}
	return found, found >= 0
}

// NaturalLess compares names treating digit runs as numbers, so "p2" sorts
// before "p10". Comparison is case-insensitive.
func NaturalLess(a, b string) bool {
	ar, br := []rune(strings.ToLower(a)), []rune(strings.ToLower(b))
	i, j := 0, 0
	for i < len(ar) && j < len(br) {
		if unicode.IsDigit(ar[i]) && unicode.IsDigit(br[j]) {
			si := i
			for i < len(ar) && unicode.IsDigit(ar[i]) {
				i++
			}
			sj := j
			for j < len(br) && unicode.IsDigit(br[j]) {
				j++
			}
			na := strings.TrimLeft(string(ar[si:i]), "0")
			nb := strings.TrimLeft(string(br[sj:j]), "0")
			if len(na) != len(nb) {
				return len(na) < len(nb)
			}
			if na != nb {
				return na < nb
			}
			// Equal value: fewer leading zeros first.
			if i-si != j-sj {
				return i-si < j-sj
			}
			continue
		}
		if ar[i] != br[j] {
			return ar[i] < br[j]
		}
		i++
		j++
	}
	return len(ar)-i < len(br)-j
}
