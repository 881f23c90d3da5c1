package segment

import (
	"strings"
	"unicode"
)

// Size policy for built segments, in runes. Long continuous text is split
// at paragraph or sentence boundaries nearest the target; a segment is
// never allowed past the hard max, and fragments below the min are folded
// into their neighbor instead of emitted alone.
const (
	TargetSize = 500
	MinSize    = 20
	MaxSize    = 2000
)

// FromText builds offset-located segments from continuous extracted text.
func FromText(text string) []Segment {
	runes := []rune(text)
	var segs []Segment
	offset := 0
	for offset < len(runes) {
		n := splitPoint(runes[offset:])
		chunk := string(runes[offset : offset+n])
		if t := normalize(chunk); t != "" {
			segs = append(segs, Segment{
				Seq:  len(segs),
				Text: t,
				Locator: Locator{
					Type:  LocatorOffset,
					Start: offset,
					End:   offset + n,
				},
			})
		}
		offset += n
	}
	return segs
}

// FromPages builds page-located segments from per-page text. Pages longer
// than the max are split further, but a segment never spans two pages.
func FromPages(pages []string) []Segment {
	var segs []Segment
	for i, page := range pages {
		runes := []rune(page)
		offset := 0
		for offset < len(runes) {
			n := splitPoint(runes[offset:])
			if t := normalize(string(runes[offset : offset+n])); t != "" {
				segs = append(segs, Segment{
					Seq:     len(segs),
					Text:    t,
					Locator: Locator{Type: LocatorPage, Page: i + 1},
				})
			}
			offset += n
		}
	}
	return segs
}

// TimedSpan is one time-aligned utterance from the transcription engine.
type TimedSpan struct {
	StartSec float64
	EndSec   float64
	Text     string
}

// FromTranscript builds time-located segments from transcript spans.
// Consecutive spans are merged until the target size is reached; a span
// is never split across two segments, so segment boundaries always fall
// on utterance boundaries.
func FromTranscript(spans []TimedSpan) []Segment {
	var segs []Segment
	var parts []string
	var start, end float64
	size := 0

	flush := func() {
		if size == 0 {
			return
		}
		text := normalize(strings.Join(parts, " "))
		if text != "" {
			segs = append(segs, Segment{
				Seq:  len(segs),
				Text: text,
				Locator: Locator{
					Type:     LocatorTime,
					StartSec: start,
					EndSec:   end,
				},
			})
		}
		parts = parts[:0]
		size = 0
	}

	for _, sp := range spans {
		t := normalize(sp.Text)
		if t == "" {
			continue
		}
		if size == 0 {
			start = sp.StartSec
		}
		parts = append(parts, t)
		end = sp.EndSec
		size += len([]rune(t))
		if size >= TargetSize {
			flush()
		}
	}
	flush()
	return segs
}

// splitPoint returns how many runes of text make up the next segment,
// preferring a paragraph break, then a sentence end, then a space nearest
// the target size. Falls back to a hard cut at the max.
func splitPoint(runes []rune) int {
	if len(runes) <= MaxSize {
		return len(runes)
	}

	// Search backwards from just past the target for a natural boundary.
	limit := TargetSize + TargetSize/2
	if limit > len(runes) {
		limit = len(runes)
	}

	if p := lastParagraphBreak(runes[:limit]); p >= MinSize {
		return p
	}
	if p := lastSentenceEnd(runes[:limit]); p >= MinSize {
		return p
	}
	if p := lastSpace(runes[:limit]); p >= MinSize {
		return p
	}
	return MaxSize
}

func lastParagraphBreak(runes []rune) int {
	for i := len(runes) - 1; i > 0; i-- {
		if runes[i] == '\n' && runes[i-1] == '\n' {
			return i + 1
		}
	}
	return 0
}

func lastSentenceEnd(runes []rune) int {
	for i := len(runes) - 1; i > 0; i-- {
		if unicode.IsSpace(runes[i]) {
			switch runes[i-1] {
			case '.', '!', '?':
				return i + 1
			}
		}
	}
	return 0
}

func lastSpace(runes []rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if unicode.IsSpace(runes[i]) {
			return i + 1
		}
	}
	return 0
}

// normalize collapses runs of whitespace to single spaces and trims the ends.
func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
