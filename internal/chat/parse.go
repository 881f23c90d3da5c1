package chat

import (
	"encoding/json"
	"strings"
)

// CitationMap is the decoded trailing payload of a streamed answer.
type CitationMap map[string]struct {
	Name     string   `json:"name"`
	Excerpts []string `json:"excerpts"`
}

// Split separates a complete response body into answer text and citation
// map. A missing or unparseable payload yields the answer with a nil
// map; a malformed trailer never fails the whole response.
func Split(body string) (answer string, citations CitationMap) {
	answer, payload, found := strings.Cut(body, CitationDelimiter)
	if !found {
		return body, nil
	}
	var m CitationMap
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return answer, nil
	}
	return answer, m
}

// Splitter incrementally separates a streamed response into answer text
// and the trailing citation payload. Feed returns answer text safe to
// display; bytes that could begin the delimiter are held back until
// disambiguated. States: accumulating answer, then once the delimiter is
// seen, accumulating citations until Finish.
type Splitter struct {
	held      strings.Builder // potential delimiter prefix not yet released
	citations strings.Builder
	inTrailer bool
}

// Feed consumes one stream chunk and returns the answer text it is safe
// to show so far.
func (sp *Splitter) Feed(chunk string) string {
	if sp.inTrailer {
		sp.citations.WriteString(chunk)
		return ""
	}

	buf := sp.held.String() + chunk
	sp.held.Reset()

	if i := strings.Index(buf, CitationDelimiter); i >= 0 {
		sp.inTrailer = true
		sp.citations.WriteString(buf[i+len(CitationDelimiter):])
		return buf[:i]
	}

	// Hold back the longest tail that is a prefix of the delimiter; it
	// may complete in the next chunk.
	keep := delimiterPrefixLen(buf)
	sp.held.WriteString(buf[len(buf)-keep:])
	return buf[:len(buf)-keep]
}

// Finish flushes any held text and returns the citation map, nil if the
// payload was absent or malformed.
func (sp *Splitter) Finish() (tail string, citations CitationMap) {
	if sp.inTrailer {
		var m CitationMap
		if err := json.Unmarshal([]byte(sp.citations.String()), &m); err == nil {
			return "", m
		}
		return "", nil
	}
	return sp.held.String(), nil
}

// delimiterPrefixLen returns the length of the longest suffix of s that
// is a proper prefix of the delimiter.
func delimiterPrefixLen(s string) int {
	max := len(CitationDelimiter) - 1
	if max > len(s) {
		max = len(s)
	}
	for n := max; n > 0; n-- {
		if strings.HasSuffix(s, CitationDelimiter[:n]) {
			return n
		}
	}
	return 0
}
