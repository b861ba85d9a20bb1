package extract

import (
	"context"
	"sync"
	"time"

	"docpipe/internal/logger"
	"docpipe/internal/models"
	"docpipe/internal/session"
)

const defaultMaxParallel = 4

// Dispatcher owns the extraction of one reserved batch: download every
// file, run the primary engine over the whole batch, fall back to the
// renderer for the whole batch on any engine failure, then write one
// artifact per surviving file. A batch is never split between methods, so
// the artifacts written for it always share one kind.
type Dispatcher struct {
	downloader Downloader
	// engine is nil when no extraction engine is configured; the renderer
	// is then the sole method.
	engine      Engine
	renderer    Renderer
	store       session.Store
	dpi         int
	maxParallel int
	callTimeout time.Duration
}

type DispatcherConfig struct {
	DPI         int
	MaxParallel int
	CallTimeout time.Duration
}

func NewDispatcher(downloader Downloader, engine Engine, renderer Renderer, store session.Store, cfg DispatcherConfig) *Dispatcher {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = defaultMaxParallel
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 150
	}
	return &Dispatcher{
		downloader:  downloader,
		engine:      engine,
		renderer:    renderer,
		store:       store,
		dpi:         cfg.DPI,
		maxParallel: cfg.MaxParallel,
		callTimeout: cfg.CallTimeout,
	}
}

type downloaded struct {
	file    models.FileDescriptor
	data    []byte
	elapsed time.Duration
}

// Process extracts the batch and writes artifacts anchored to the given
// turn. It never returns an error: every failure is absorbed into the
// per-file results, and a file that yields no artifact simply renders as
// absent later.
func (d *Dispatcher) Process(ctx context.Context, key models.SessionKey, anchor string, files []models.FileDescriptor) []Result {
	if len(files) == 0 {
		return nil
	}

	ready, results := d.downloadAll(ctx, key, files)
	if len(ready) == 0 {
		return results
	}

	if d.engine != nil {
		texts, extractTimes, err := d.extractAll(ctx, ready)
		if err == nil {
			for i, dl := range ready {
				elapsed := dl.elapsed + extractTimes[i]
				artifact := models.Artifact{
					FileID:      dl.file.FileID,
					DisplayName: dl.file.DisplayName,
					Anchor:      anchor,
					Kind:        models.KindDocumentText,
					Markdown:    texts[i],
				}
				if err := d.store.PutArtifact(ctx, key, artifact); err != nil {
					logger.Error().Err(err).Str("file_id", dl.file.FileID).Msg("store artifact failed")
					d.release(ctx, key, dl.file.FileID)
					results = append(results, Result{FileID: dl.file.FileID, DisplayName: dl.file.DisplayName, Method: MethodEngine, Elapsed: elapsed, Err: err})
					continue
				}
				logger.Info().Str("session", key.String()).Str("file_id", dl.file.FileID).
					Str("name", dl.file.DisplayName).Str("anchor", anchor).
					Msg("cached document text artifact")
				results = append(results, Result{
					FileID:      dl.file.FileID,
					DisplayName: dl.file.DisplayName,
					Method:      MethodEngine,
					Kind:        models.KindDocumentText,
					Pages:       artifact.PageCount(),
					Elapsed:     elapsed,
				})
			}
			return results
		}
		// Any engine failure poisons the whole batch: partial text results
		// are discarded so the batch stays single-kind.
		logger.Warn().Err(err).Str("session", key.String()).Int("files", len(ready)).
			Msg("extraction engine failed, falling back to page rendering for batch")
	}

	return append(results, d.renderAll(ctx, key, anchor, ready)...)
}

// downloadAll fetches every file concurrently and joins before returning.
// Download failures are per-file: the reservation is released and the file
// is skipped, the rest of the batch continues.
func (d *Dispatcher) downloadAll(ctx context.Context, key models.SessionKey, files []models.FileDescriptor) ([]downloaded, []Result) {
	type slot struct {
		data    []byte
		elapsed time.Duration
		err     error
	}
	slots := make([]slot, len(files))

	var wg sync.WaitGroup
	sem := make(chan struct{}, d.maxParallel)
	for i, f := range files {
		wg.Add(1)
		go func(i int, f models.FileDescriptor) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			callCtx, cancel := d.withTimeout(ctx)
			defer cancel()
			started := time.Now()
			data, err := d.downloader.Fetch(callCtx, f.URL)
			slots[i] = slot{data: data, elapsed: time.Since(started), err: err}
		}(i, f)
	}
	wg.Wait()

	var ready []downloaded
	var failed []Result
	for i, f := range files {
		if slots[i].err != nil {
			logger.Error().Err(slots[i].err).Str("file_id", f.FileID).Str("name", f.DisplayName).
				Msg("download failed, skipping file")
			d.release(ctx, key, f.FileID)
			failed = append(failed, Result{FileID: f.FileID, DisplayName: f.DisplayName, Method: MethodDownload, Elapsed: slots[i].elapsed, Err: slots[i].err})
			continue
		}
		ready = append(ready, downloaded{file: f, data: slots[i].data, elapsed: slots[i].elapsed})
	}
	return ready, failed
}

// extractAll runs the engine over the batch concurrently and joins. The
// first error wins and fails the batch.
func (d *Dispatcher) extractAll(ctx context.Context, batch []downloaded) ([]string, []time.Duration, error) {
	texts := make([]string, len(batch))
	times := make([]time.Duration, len(batch))
	errs := make([]error, len(batch))

	var wg sync.WaitGroup
	sem := make(chan struct{}, d.maxParallel)
	for i, dl := range batch {
		wg.Add(1)
		go func(i int, dl downloaded) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			callCtx, cancel := d.withTimeout(ctx)
			defer cancel()
			started := time.Now()
			pages, err := d.engine.Extract(callCtx, dl.data)
			times[i] = time.Since(started)
			if err != nil {
				errs[i] = err
				return
			}
			texts[i] = joinPages(pages)
		}(i, dl)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, nil, err
		}
	}
	return texts, times, nil
}

// renderAll renders each file to page images. Render failures are per-file
// here: there is no further method to fall back to, so the file is released
// and skipped.
func (d *Dispatcher) renderAll(ctx context.Context, key models.SessionKey, anchor string, batch []downloaded) []Result {
	images := make([][]models.ContentPart, len(batch))
	times := make([]time.Duration, len(batch))
	errs := make([]error, len(batch))

	var wg sync.WaitGroup
	sem := make(chan struct{}, d.maxParallel)
	for i, dl := range batch {
		wg.Add(1)
		go func(i int, dl downloaded) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			callCtx, cancel := d.withTimeout(ctx)
			defer cancel()
			started := time.Now()
			images[i], errs[i] = d.renderer.Render(callCtx, dl.data, d.dpi)
			times[i] = time.Since(started)
		}(i, dl)
	}
	wg.Wait()

	results := make([]Result, 0, len(batch))
	for i, dl := range batch {
		elapsed := dl.elapsed + times[i]
		if errs[i] != nil {
			logger.Error().Err(errs[i]).Str("file_id", dl.file.FileID).Str("name", dl.file.DisplayName).
				Msg("page rendering failed, no artifact for file")
			d.release(ctx, key, dl.file.FileID)
			results = append(results, Result{FileID: dl.file.FileID, DisplayName: dl.file.DisplayName, Method: MethodRenderer, Elapsed: elapsed, Err: errs[i]})
			continue
		}
		artifact := models.Artifact{
			FileID:      dl.file.FileID,
			DisplayName: dl.file.DisplayName,
			Anchor:      anchor,
			Kind:        models.KindRenderedImages,
			Images:      images[i],
		}
		if err := d.store.PutArtifact(ctx, key, artifact); err != nil {
			logger.Error().Err(err).Str("file_id", dl.file.FileID).Msg("store artifact failed")
			d.release(ctx, key, dl.file.FileID)
			results = append(results, Result{FileID: dl.file.FileID, DisplayName: dl.file.DisplayName, Method: MethodRenderer, Elapsed: elapsed, Err: err})
			continue
		}
		logger.Info().Str("session", key.String()).Str("file_id", dl.file.FileID).
			Str("name", dl.file.DisplayName).Str("anchor", anchor).Int("pages", len(images[i])).
			Msg("cached rendered image artifact")
		results = append(results, Result{
			FileID:      dl.file.FileID,
			DisplayName: dl.file.DisplayName,
			Method:      MethodRenderer,
			Kind:        models.KindRenderedImages,
			Pages:       artifact.PageCount(),
			Elapsed:     elapsed,
		})
	}
	return results
}

func (d *Dispatcher) release(ctx context.Context, key models.SessionKey, fileID string) {
	if err := d.store.Release(ctx, key, fileID); err != nil {
		logger.Error().Err(err).Str("file_id", fileID).Msg("release reservation failed")
	}
}

func (d *Dispatcher) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.callTimeout)
}

func joinPages(pages []string) string {
	out := ""
	for i, p := range pages {
		if i > 0 {
			out += "\n\n"
		}
		out += p
	}
	return out
}
