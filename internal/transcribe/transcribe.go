// Package transcribe converts audio to time-aligned text through a local
// whisper.cpp server.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/kalambet/notebookd/internal/segment"
)

// silenceGap is the minimum gap between spans, in seconds, that gets
// recorded as an explicit silence marker so time locators stay dense.
const silenceGap = 2.0

// Client talks to a whisper.cpp server's inference endpoint.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a transcription client for the given server base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		// Transcribing an hour of audio takes a while; the caller's
		// context carries the real deadline.
		http: &http.Client{Timeout: 0},
	}
}

// IsRunning reports whether the transcription server answers at all.
func (c *Client) IsRunning(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

type inferenceResponse struct {
	Text     string `json:"text"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
	Error string `json:"error"`
}

// Transcribe sends a WAV payload for inference and returns time-aligned
// utterance spans. Callers mark silent stretches with FillGaps once the
// media duration is known.
func (c *Client) Transcribe(ctx context.Context, wav []byte) ([]segment.TimedSpan, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(wav); err != nil {
		return nil, err
	}
	if err := mw.WriteField("response_format", "verbose_json"); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/inference", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcription server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("transcription server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out inferenceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding transcription response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("transcription failed: %s", out.Error)
	}

	spans := make([]segment.TimedSpan, 0, len(out.Segments))
	for _, s := range out.Segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		spans = append(spans, segment.TimedSpan{StartSec: s.Start, EndSec: s.End, Text: text})
	}
	if len(spans) == 0 {
		return nil, fmt.Errorf("no speech recognized")
	}
	return spans, nil
}

// FillGaps inserts [silence] spans wherever utterances are separated by
// silenceGap seconds or more, including silence before the first
// utterance. totalSec is the media duration; when it is known (> 0),
// trailing silence after the last utterance is marked too, so the spans
// cover the whole recording.
func FillGaps(spans []segment.TimedSpan, totalSec float64) []segment.TimedSpan {
	out := make([]segment.TimedSpan, 0, len(spans)+2)
	prevEnd := 0.0
	for _, sp := range spans {
		if sp.StartSec-prevEnd >= silenceGap {
			out = append(out, segment.TimedSpan{
				StartSec: prevEnd,
				EndSec:   sp.StartSec,
				Text:     "[silence]",
			})
		}
		out = append(out, sp)
		prevEnd = sp.EndSec
	}
	if totalSec-prevEnd >= silenceGap {
		out = append(out, segment.TimedSpan{
			StartSec: prevEnd,
			EndSec:   totalSec,
			Text:     "[silence]",
		})
	}
	return out
}

// FormatTranscript renders spans as readable text with timestamp markers,
// one utterance per line.
func FormatTranscript(spans []segment.TimedSpan) string {
	var b strings.Builder
	for _, sp := range spans {
		fmt.Fprintf(&b, "[%s - %s] %s\n",
			segment.FormatTimestamp(sp.StartSec), segment.FormatTimestamp(sp.EndSec), sp.Text)
	}
	return strings.TrimRight(b.String(), "\n")
}

// WaitReady polls the server until it answers or the context expires.
func (c *Client) WaitReady(ctx context.Context) error {
	t := time.NewTicker(500 * time.Millisecond)
	defer t.Stop()
	for {
		if c.IsRunning(ctx) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("transcription server at %s not reachable: %w", c.baseURL, ctx.Err())
		case <-t.C:
		}
	}
}
