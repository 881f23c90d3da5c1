package segment

import (
	"encoding/json"
	"fmt"
)

// Locator kinds. Exactly one shape is populated depending on the kind of
// the source the segment came from.
const (
	LocatorOffset = "offset" // character range in the extracted text
	LocatorPage   = "page"   // page number in a paginated document
	LocatorTime   = "time"   // time range in an audio transcript
)

// Locator ties a segment back to its position in the original source.
type Locator struct {
	Type string `json:"type"`

	// Offset locators: rune offsets into the extracted text.
	Start int `json:"start,omitempty"`
	End   int `json:"end,omitempty"`

	// Page locators: 1-based page number.
	Page int `json:"page,omitempty"`

	// Time locators: seconds from the start of the media.
	StartSec float64 `json:"start_sec,omitempty"`
	EndSec   float64 `json:"end_sec,omitempty"`
}

// String renders the locator for logs and citation payloads.
func (l Locator) String() string {
	switch l.Type {
	case LocatorPage:
		return fmt.Sprintf("page %d", l.Page)
	case LocatorTime:
		return fmt.Sprintf("%s - %s", FormatTimestamp(l.StartSec), FormatTimestamp(l.EndSec))
	default:
		return fmt.Sprintf("chars %d-%d", l.Start, l.End)
	}
}

// MarshalString returns the locator as compact JSON for storage metadata.
func (l Locator) MarshalString() string {
	b, err := json.Marshal(l)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// ParseLocator decodes a locator previously produced by MarshalString.
func ParseLocator(s string) (Locator, error) {
	var l Locator
	if err := json.Unmarshal([]byte(s), &l); err != nil {
		return Locator{}, fmt.Errorf("parsing locator: %w", err)
	}
	return l, nil
}

// FormatTimestamp converts seconds to a MM:SS marker.
func FormatTimestamp(seconds float64) string {
	mins := int(seconds) / 60
	secs := int(seconds) % 60
	return fmt.Sprintf("%02d:%02d", mins, secs)
}

// Segment is the smallest citable unit of extracted text. Segments of a
// source form a dense sequence starting at 0; concatenated in order they
// reproduce the source's extracted text up to whitespace normalization.
type Segment struct {
	Seq     int
	Text    string
	Locator Locator
}
