package domain

import "strings"

// ComicRackMetadata is the optional ComicInfo.xml metadata of a book.
// Every scalar is nullable; Pages is matched to book pages by position.
type ComicRackMetadata struct {
	Title           *string  `json:"title,omitempty"`
	Series          *string  `json:"series,omitempty"`
	Number          *string  `json:"number,omitempty"`
	Count           *int     `json:"count,omitempty"`
	Volume          *int     `json:"volume,omitempty"`
	AlternateSeries *string  `json:"alternate_series,omitempty"`
	AlternateNumber *string  `json:"alternate_number,omitempty"`
	AlternateCount  *int     `json:"alternate_count,omitempty"`
	Summary         *string  `json:"summary,omitempty"`
	Notes           *string  `json:"notes,omitempty"`
	Year            *int     `json:"year,omitempty"`
	Month           *int     `json:"month,omitempty"`
	Day             *int     `json:"day,omitempty"`
	Writer          *string  `json:"writer,omitempty"`
	Penciller       *string  `json:"penciller,omitempty"`
	Inker           *string  `json:"inker,omitempty"`
	Colorist        *string  `json:"colorist,omitempty"`
	Letterer        *string  `json:"letterer,omitempty"`
	CoverArtist     *string  `json:"cover_artist,omitempty"`
	Editor          *string  `json:"editor,omitempty"`
	Translator      *string  `json:"translator,omitempty"`
	Publisher       *string  `json:"publisher,omitempty"`
	Imprint         *string  `json:"imprint,omitempty"`
	Genre           *string  `json:"genre,omitempty"`
	Tags            *string  `json:"tags,omitempty"`
	Web             *string  `json:"web,omitempty"`
	PageCount       *int     `json:"page_count,omitempty"`
	LanguageISO     *string  `json:"language_iso,omitempty"`
	Format          *string  `json:"format,omitempty"`
	BlackAndWhite   *string  `json:"black_and_white,omitempty"`
	Manga           *string  `json:"manga,omitempty"`
	Characters      *string  `json:"characters,omitempty"`
	Teams           *string  `json:"teams,omitempty"`
	Locations       *string  `json:"locations,omitempty"`
	ScanInformation *string  `json:"scan_information,omitempty"`
	StoryArc        *string  `json:"story_arc,omitempty"`
	SeriesGroup     *string  `json:"series_group,omitempty"`
	AgeRating       *string  `json:"age_rating,omitempty"`
	CommunityRating *float64 `json:"community_rating,omitempty"`
	GTIN            *string  `json:"gtin,omitempty"`

	Pages []PageMetadata `json:"pages,omitempty"`
}

// RightToLeft reports whether the metadata marks the book as right-to-left manga.
func (m *ComicRackMetadata) RightToLeft() bool {
	return m != nil && m.Manga != nil && strings.EqualFold(*m.Manga, "YesAndRightToLeft")
}

// PageMeta returns the per-page entry for a page position, if any.
func (m *ComicRackMetadata) PageMeta(position int) (*PageMetadata, bool) {
	if m == nil {
		return nil, false
	}
	for i := range m.Pages {
		if m.Pages[i].Image == position {
			return &m.Pages[i], true
		}
	}
	return nil, false
}

// PageMetadata is one <Page> element of ComicInfo.xml.
type PageMetadata struct {
	Image       int     `json:"image"`
	Type        *string `json:"type,omitempty"`
	DoublePage  *bool   `json:"double_page,omitempty"`
	ImageSize   *int64  `json:"image_size,omitempty"`
	Key         *string `json:"key,omitempty"`
	Bookmark    *string `json:"bookmark,omitempty"`
	ImageWidth  *int    `json:"image_width,omitempty"`
	ImageHeight *int    `json:"image_height,omitempty"`
}
