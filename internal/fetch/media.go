package fetch

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// MediaFetcher shells out to yt-dlp and ffmpeg to turn remote video URLs
// and uploaded audio files into mono 16kHz WAV, the input format the
// transcription server expects.
type MediaFetcher struct {
	ytdlpPath   string
	ffmpegPath  string
	ffprobePath string
}

// NewMediaFetcher locates the media binaries on PATH. Missing binaries
// surface as per-source errors when a media source is actually ingested.
func NewMediaFetcher() *MediaFetcher {
	m := &MediaFetcher{}
	if p, err := exec.LookPath("yt-dlp"); err == nil {
		m.ytdlpPath = p
	}
	if p, err := exec.LookPath("ffmpeg"); err == nil {
		m.ffmpegPath = p
	}
	if p, err := exec.LookPath("ffprobe"); err == nil {
		m.ffprobePath = p
	}
	return m
}

// DownloadAudio pulls the best audio stream of a video URL as MP3 and
// returns the payload plus the video title for use as the source name.
func (m *MediaFetcher) DownloadAudio(ctx context.Context, url string) (data []byte, title string, err error) {
	if m.ytdlpPath == "" {
		return nil, "", fmt.Errorf("yt-dlp not installed")
	}

	dir, err := os.MkdirTemp("", "notebookd-media-*")
	if err != nil {
		return nil, "", fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	out := filepath.Join(dir, "audio.%(ext)s")
	cmd := exec.CommandContext(ctx, m.ytdlpPath,
		"-f", "bestaudio",
		"-x", "--audio-format", "mp3",
		"--no-playlist",
		"--print", "after_move:title",
		"-o", out,
		url)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, "", fmt.Errorf("yt-dlp: %w: %s", err, firstLine(stderr.String()))
	}
	title = strings.TrimSpace(stdout.String())

	data, err = os.ReadFile(filepath.Join(dir, "audio.mp3"))
	if err != nil {
		return nil, "", fmt.Errorf("reading downloaded audio: %w", err)
	}
	return data, title, nil
}

// ToWAV converts any audio payload to mono 16kHz 16-bit WAV.
func (m *MediaFetcher) ToWAV(ctx context.Context, audio []byte) ([]byte, error) {
	if m.ffmpegPath == "" {
		return nil, fmt.Errorf("ffmpeg not installed")
	}

	cmd := exec.CommandContext(ctx, m.ffmpegPath,
		"-i", "pipe:0",
		"-ar", "16000", "-ac", "1", "-c:a", "pcm_s16le",
		"-f", "wav", "pipe:1")
	cmd.Stdin = bytes.NewReader(audio)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg: %w: %s", err, lastLine(stderr.String()))
	}
	return out.Bytes(), nil
}

// Duration probes an audio payload's length in seconds.
func (m *MediaFetcher) Duration(ctx context.Context, audio []byte) (float64, error) {
	if m.ffprobePath == "" {
		return 0, fmt.Errorf("ffprobe not installed")
	}

	cmd := exec.CommandContext(ctx, m.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		"-i", "pipe:0")
	cmd.Stdin = bytes.NewReader(audio)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("ffprobe: %w", err)
	}

	dur, err := strconv.ParseFloat(strings.TrimSpace(out.String()), 64)
	if err != nil {
		return 0, fmt.Errorf("parsing ffprobe duration %q: %w", out.String(), err)
	}
	return dur, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return lines[len(lines)-1]
}
