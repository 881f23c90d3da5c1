// Package ingest runs the background pipeline that turns uploaded
// payloads into ready, indexed sources: parse or transcribe, segment,
// embed, index. Each source is processed in isolation; one failure never
// touches its siblings.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/kalambet/notebookd/internal/detect"
	"github.com/kalambet/notebookd/internal/fetch"
	"github.com/kalambet/notebookd/internal/parser"
	"github.com/kalambet/notebookd/internal/segment"
	"github.com/kalambet/notebookd/internal/storage"
	"github.com/kalambet/notebookd/internal/transcribe"
)

// Stage timeouts. Parsing a document is bounded tightly; transcribing an
// hour of audio is not.
const (
	parseTimeout = 2 * time.Minute
	heavyTimeout = 30 * time.Minute
)

// Store is the slice of the storage layer the pipeline writes through.
type Store interface {
	GetSource(notebookID, name string) (storage.Source, error)
	GetSourceRaw(notebookID, name string) ([]byte, error)
	SetSourceStatus(notebookID, name, status string) error
	SetSourceError(notebookID, name, reason string) error
	SetSourceReady(notebookID, name, kind, content string) error
	ReplaceSegments(notebookID, sourceName string, segs []storage.SegmentRow) error
}

// Parser extracts text from raw payloads.
type Parser interface {
	Parse(ctx context.Context, kind, name string, data []byte) (*parser.Result, error)
}

// PageFetcher downloads web pages.
type PageFetcher interface {
	FetchPage(ctx context.Context, url string) (*fetch.Page, error)
}

// MediaTool resolves remote media and converts audio payloads.
type MediaTool interface {
	DownloadAudio(ctx context.Context, url string) (data []byte, title string, err error)
	ToWAV(ctx context.Context, audio []byte) ([]byte, error)
	Duration(ctx context.Context, audio []byte) (float64, error)
}

// Transcriber converts WAV audio to time-aligned spans.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte) ([]segment.TimedSpan, error)
}

// Indexer embeds segments and swaps them into the vector store.
type Indexer interface {
	Index(ctx context.Context, notebookID, sourceName string, segs []segment.Segment) (int, error)
}

// Config carries the pipeline's dependencies.
type Config struct {
	Store       Store
	Parser      Parser
	Pages       PageFetcher
	Media       MediaTool
	Transcriber Transcriber
	Indexer     Indexer
	Logger      *slog.Logger
}

// Worker schedules and runs ingestion jobs. Light jobs (documents) run
// up to NumCPU at once; heavy jobs (transcription) are capped at two so
// they cannot starve everything else.
type Worker struct {
	cfg   Config
	light *semaphore.Weighted
	heavy *semaphore.Weighted

	baseCtx context.Context
	wg      sync.WaitGroup

	mu   sync.Mutex
	jobs map[string]*job
}

// job is one scheduled ingestion run; the pointer identity tells a
// finished job whether its map slot still belongs to it.
type job struct {
	cancel context.CancelFunc
}

// NewWorker creates a Worker. Logger defaults to slog.Default().
func NewWorker(cfg Config) *Worker {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Worker{
		cfg:   cfg,
		light: semaphore.NewWeighted(int64(runtime.NumCPU())),
		heavy: semaphore.NewWeighted(2),
		jobs:  make(map[string]*job),
	}
}

// Start sets the context all jobs derive from. Cancelling it stops every
// in-flight job; call Wait afterwards to let them unwind.
func (w *Worker) Start(ctx context.Context) {
	w.baseCtx = ctx
}

// Wait blocks until all in-flight jobs have finished.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func jobKey(notebookID, name string) string {
	return notebookID + "\x00" + name
}

// Enqueue schedules ingestion of a source. If the same source is already
// being processed, the running job is cancelled first: the re-upload
// supersedes it and only the new payload's results land.
func (w *Worker) Enqueue(notebookID, name string) {
	key := jobKey(notebookID, name)

	ctx, cancel := context.WithCancel(w.baseCtx)
	j := &job{cancel: cancel}

	w.mu.Lock()
	if prev, ok := w.jobs[key]; ok {
		prev.cancel()
	}
	w.jobs[key] = j
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() {
			w.mu.Lock()
			// Only clear the slot if it still belongs to this job.
			if w.jobs[key] == j {
				delete(w.jobs, key)
			}
			w.mu.Unlock()
			cancel()
		}()
		w.runJob(ctx, notebookID, name)
	}()
}

// Cancel aborts an in-flight job for a source, if any. Used when the
// source is deleted mid-ingestion.
func (w *Worker) Cancel(notebookID, name string) {
	key := jobKey(notebookID, name)
	w.mu.Lock()
	defer w.mu.Unlock()
	if j, ok := w.jobs[key]; ok {
		j.cancel()
		delete(w.jobs, key)
	}
}

func (w *Worker) runJob(ctx context.Context, notebookID, name string) {
	log := w.cfg.Logger.With("notebook", notebookID, "source", name)

	src, err := w.cfg.Store.GetSource(notebookID, name)
	if err != nil {
		log.Error("loading source", "error", err)
		return
	}

	sem, timeout := w.light, parseTimeout
	if isHeavy(src) {
		sem, timeout = w.heavy, heavyTimeout
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		return // superseded or shutting down while queued
	}
	defer sem.Release(1)

	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	if err := w.process(jobCtx, src); err != nil {
		if ctx.Err() != nil {
			// Superseded or shut down; the successor owns the status row.
			log.Info("job cancelled", "error", err)
			return
		}
		log.Warn("ingestion failed", "error", err)
		if failErr := w.cfg.Store.SetSourceError(notebookID, name, reason(err)); failErr != nil {
			log.Error("recording failure", "error", failErr)
		}
		return
	}
	log.Info("source ready", "took", time.Since(start).Round(time.Millisecond))
}

// isHeavy reports whether the source needs the transcription path.
func isHeavy(src storage.Source) bool {
	return src.Kind == detect.KindAudio || src.Kind == detect.KindWeb
}

func (w *Worker) process(ctx context.Context, src storage.Source) error {
	if err := w.cfg.Store.SetSourceStatus(src.NotebookID, src.Name, storage.StatusParsing); err != nil {
		return err
	}

	raw, err := w.cfg.Store.GetSourceRaw(src.NotebookID, src.Name)
	if err != nil {
		return fmt.Errorf("loading payload: %w", err)
	}

	kind, text, segs, err := w.extract(ctx, src, raw)
	if err != nil {
		return err
	}
	if len(segs) == 0 {
		return errors.New("no usable text extracted")
	}

	if err := w.cfg.Store.SetSourceStatus(src.NotebookID, src.Name, storage.StatusEmbedding); err != nil {
		return err
	}

	if _, err := w.cfg.Indexer.Index(ctx, src.NotebookID, src.Name, segs); err != nil {
		return err
	}

	// A superseded or cancelled job must not commit over its successor.
	if err := ctx.Err(); err != nil {
		return err
	}

	rows := make([]storage.SegmentRow, len(segs))
	for i, sg := range segs {
		rows[i] = storage.SegmentRow{
			NotebookID: src.NotebookID,
			SourceName: src.Name,
			Seq:        sg.Seq,
			Text:       sg.Text,
			Locator:    sg.Locator.MarshalString(),
		}
	}
	if err := w.cfg.Store.ReplaceSegments(src.NotebookID, src.Name, rows); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return w.cfg.Store.SetSourceReady(src.NotebookID, src.Name, kind, text)
}

// extract produces the source's text and segments. The returned kind may
// differ from the stored one: a web URL that turns out to be a video is
// promoted to audio.
func (w *Worker) extract(ctx context.Context, src storage.Source, raw []byte) (string, string, []segment.Segment, error) {
	switch src.Kind {
	case detect.KindWeb:
		url := strings.TrimSpace(string(raw))
		if detect.IsYouTubeURL(url) {
			audio, _, err := w.cfg.Media.DownloadAudio(ctx, url)
			if err != nil {
				return "", "", nil, fmt.Errorf("downloading media: %w", err)
			}
			text, segs, err := w.transcribe(ctx, audio)
			return detect.KindAudio, text, segs, err
		}
		page, err := w.cfg.Pages.FetchPage(ctx, url)
		if err != nil {
			return "", "", nil, err
		}
		return detect.KindWeb, page.Text, segment.FromText(page.Text), nil

	case detect.KindAudio:
		text, segs, err := w.transcribe(ctx, raw)
		return detect.KindAudio, text, segs, err

	default:
		res, err := w.cfg.Parser.Parse(ctx, src.Kind, src.Name, raw)
		if err != nil {
			return "", "", nil, err
		}
		if len(res.Pages) > 0 {
			return src.Kind, res.Text, segment.FromPages(res.Pages), nil
		}
		return src.Kind, res.Text, segment.FromText(res.Text), nil
	}
}

// transcribe converts audio to timestamped text and time-located segments.
// Silent stretches, including leading and trailing ones, become explicit
// [silence] spans so the transcript covers the full recording.
func (w *Worker) transcribe(ctx context.Context, audio []byte) (string, []segment.Segment, error) {
	wav, err := w.cfg.Media.ToWAV(ctx, audio)
	if err != nil {
		return "", nil, fmt.Errorf("converting audio: %w", err)
	}
	spans, err := w.cfg.Transcriber.Transcribe(ctx, wav)
	if err != nil {
		return "", nil, fmt.Errorf("transcribing: %w", err)
	}
	dur, err := w.cfg.Media.Duration(ctx, wav)
	if err != nil {
		// Without a known duration trailing silence goes unmarked.
		w.cfg.Logger.Warn("probing audio duration", "error", err)
		dur = 0
	}
	spans = transcribe.FillGaps(spans, dur)
	return transcribe.FormatTranscript(spans), segment.FromTranscript(spans), nil
}

// reason trims an error chain to a user-presentable status line.
func reason(err error) string {
	msg := err.Error()
	if len(msg) > 500 {
		msg = msg[:500]
	}
	return msg
}
