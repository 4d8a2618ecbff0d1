// Package metadata parses ComicInfo.xml, the ComicRack metadata entry
// carried at the root of many comic archives.
package metadata

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"

	"github.com/spherical/comic-extractor/internal/domain"
)

const rootElement = "ComicInfo"

// rawComicInfo mirrors the XML with every value kept as text so a malformed
// number drops one field instead of the whole document. Unknown elements are
// ignored by encoding/xml.
type rawComicInfo struct {
	XMLName         xml.Name
	Title           string `xml:"Title"`
	Series          string `xml:"Series"`
	Number          string `xml:"Number"`
	Count           string `xml:"Count"`
	Volume          string `xml:"Volume"`
	AlternateSeries string `xml:"AlternateSeries"`
	AlternateNumber string `xml:"AlternateNumber"`
	AlternateCount  string `xml:"AlternateCount"`
	Summary         string `xml:"Summary"`
	Notes           string `xml:"Notes"`
	Year            string `xml:"Year"`
	Month           string `xml:"Month"`
	Day             string `xml:"Day"`
	Writer          string `xml:"Writer"`
	Penciller       string `xml:"Penciller"`
	Inker           string `xml:"Inker"`
	Colorist        string `xml:"Colorist"`
	Letterer        string `xml:"Letterer"`
	CoverArtist     string `xml:"CoverArtist"`
	Editor          string `xml:"Editor"`
	Translator      string `xml:"Translator"`
	Publisher       string `xml:"Publisher"`
	Imprint         string `xml:"Imprint"`
	Genre           string `xml:"Genre"`
	Tags            string `xml:"Tags"`
	Web             string `xml:"Web"`
	PageCount       string `xml:"PageCount"`
	LanguageISO     string `xml:"LanguageISO"`
	Format          string `xml:"Format"`
	BlackAndWhite   string `xml:"BlackAndWhite"`
	Manga           string `xml:"Manga"`
	Characters      string `xml:"Characters"`
	Teams           string `xml:"Teams"`
	Locations       string `xml:"Locations"`
	ScanInformation string `xml:"ScanInformation"`
	StoryArc        string `xml:"StoryArc"`
	SeriesGroup     string `xml:"SeriesGroup"`
	AgeRating       string `xml:"AgeRating"`
	CommunityRating string `xml:"CommunityRating"`
	GTIN            string `xml:"GTIN"`
	Pages           struct {
		Page []rawPage `xml:"Page"`
	} `xml:"Pages"`
}

type rawPage struct {
	Image       string `xml:"Image,attr"`
	Type        string `xml:"Type,attr"`
	DoublePage  string `xml:"DoublePage,attr"`
	ImageSize   string `xml:"ImageSize,attr"`
	Key         string `xml:"Key,attr"`
	Bookmark    string `xml:"Bookmark,attr"`
	ImageWidth  string `xml:"ImageWidth,attr"`
	ImageHeight string `xml:"ImageHeight,attr"`
}

// Parse decodes a ComicInfo.xml document. It returns nil without error when
// data is empty or its root element is not ComicInfo. Malformed XML is an
// InvalidArgument error; callers treat it like absent metadata.
func Parse(data []byte) (*domain.ComicRackMetadata, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	dec.CharsetReader = charsetReader

	var raw rawComicInfo
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, domain.ValidationError("malformed ComicInfo.xml", err)
	}
	if !strings.EqualFold(raw.XMLName.Local, rootElement) {
		return nil, nil
	}
	return raw.convert(), nil
}

// charsetReader decodes any encoding a ComicInfo writer may declare, using
// the WHATWG label set so windows-1252 and its latin-1 aliases agree.
func charsetReader(label string, input io.Reader) (io.Reader, error) {
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("unsupported charset %q: %w", label, err)
	}
	return transform.NewReader(input, enc.NewDecoder()), nil
}

func (r *rawComicInfo) convert() *domain.ComicRackMetadata {
	m := &domain.ComicRackMetadata{
		Title:           str(r.Title),
		Series:          str(r.Series),
		Number:          str(r.Number),
		Count:           count(r.Count),
		Volume:          count(r.Volume),
		AlternateSeries: str(r.AlternateSeries),
		AlternateNumber: str(r.AlternateNumber),
		AlternateCount:  count(r.AlternateCount),
		Summary:         str(r.Summary),
		Notes:           str(r.Notes),
		Year:            count(r.Year),
		Month:           rangeInt(r.Month, 1, 12),
		Day:             rangeInt(r.Day, 1, 31),
		Writer:          str(r.Writer),
		Penciller:       str(r.Penciller),
		Inker:           str(r.Inker),
		Colorist:        str(r.Colorist),
		Letterer:        str(r.Letterer),
		CoverArtist:     str(r.CoverArtist),
		Editor:          str(r.Editor),
		Translator:      str(r.Translator),
		Publisher:       str(r.Publisher),
		Imprint:         str(r.Imprint),
		Genre:           str(r.Genre),
		Tags:            str(r.Tags),
		Web:             str(r.Web),
		PageCount:       count(r.PageCount),
		LanguageISO:     str(r.LanguageISO),
		Format:          str(r.Format),
		BlackAndWhite:   str(r.BlackAndWhite),
		Manga:           str(r.Manga),
		Characters:      str(r.Characters),
		Teams:           str(r.Teams),
		Locations:       str(r.Locations),
		ScanInformation: str(r.ScanInformation),
		StoryArc:        str(r.StoryArc),
		SeriesGroup:     str(r.SeriesGroup),
		AgeRating:       str(r.AgeRating),
		CommunityRating: rating(r.CommunityRating),
		GTIN:            str(r.GTIN),
	}

	seen := make(map[int]bool, len(r.Pages.Page))
	for _, p := range r.Pages.Page {
		image, err := strconv.Atoi(strings.TrimSpace(p.Image))
		if err != nil || image < 0 || seen[image] {
			continue
		}
		seen[image] = true
		m.Pages = append(m.Pages, domain.PageMetadata{
			Image:       image,
			Type:        str(p.Type),
			DoublePage:  boolean(p.DoublePage),
			ImageSize:   size(p.ImageSize),
			Key:         str(p.Key),
			Bookmark:    str(p.Bookmark),
			ImageWidth:  count(p.ImageWidth),
			ImageHeight: count(p.ImageHeight),
		})
	}
	return m
}

func str(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// count parses a non-negative integer. ComicRack writes -1 for unknown.
func count(s string) *int {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || v < 0 {
		return nil
	}
	return &v
}

func rangeInt(s string, lo, hi int) *int {
	v := count(s)
	if v == nil || *v < lo || *v > hi {
		return nil
	}
	return v
}

func size(s string) *int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || v < 0 {
		return nil
	}
	return &v
}

func rating(s string) *float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(s, ",", ".")), 64)
	if err != nil || v < 0 || v > 5 {
		return nil
	}
	return &v
}

func boolean(s string) *bool {
	v, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return nil
	}
	return &v
}
