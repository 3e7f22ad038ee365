// Package worker implements the per-image state machine (C8): existing-
// result skip check, URL resolution, GIF gate, image acquisition, optional
// local persistence, character/tag context assembly, prompt construction,
// model invocation, and outcome commit. Every failure mode is converted
// into a CaptionOutcome rather than propagated, so the orchestrator never
// sees an error from a single item. Grounded on
// gemini_caption/utils/batch_processor.py::process_single_id.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"danbooru-captioner/internal/acquire"
	"danbooru-captioner/internal/character"
	"danbooru-captioner/internal/model"
	"danbooru-captioner/internal/modelclient"
	"danbooru-captioner/internal/promptbuilder"
)

func saveBytes(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Options configures per-call local-persistence behavior.
type Options struct {
	SkipExistingCheck bool
	SaveImage         bool
	OutputDir         string
	CustomURL         string
}

// MetadataReader performs the point read backing URL resolution and prompt
// context assembly, satisfied by storegw.PicsGateway.
type MetadataReader interface {
	Get(ctx context.Context, id int64) (model.ImageRecord, error)
}

// CaptionStore is the skip-check and commit surface this worker needs,
// satisfied by storegw.CaptionsGateway.
type CaptionStore interface {
	IsSuccessfullyProcessed(ctx context.Context, id int64) (bool, error)
	Upsert(ctx context.Context, createdAt func() float64, outcome model.CaptionOutcome) error
}

// CharacterAnalyzer cross-verifies and renders the tag-relationship tree,
// satisfied by character.Analyzer.
type CharacterAnalyzer interface {
	CrossVerify(ctx context.Context, record model.ImageRecord) (map[string]character.CharDict, error)
	VisualizeTree(ctx context.Context, charDict map[string]character.CharDict, language string) (string, bool, error)
}

// ImageAcquirer fetches image bytes, satisfied by acquire.Acquirer.
type ImageAcquirer interface {
	Acquire(ctx context.Context, id int64, preferredURL string) (acquire.Result, error)
}

// Captioner invokes the captioning model, satisfied by modelclient.Client.
type Captioner interface {
	Caption(ctx context.Context, prompt string, imageBytes []byte, mime string) modelclient.Outcome
}

// Worker processes a single image id end to end.
type Worker struct {
	pics      MetadataReader
	captions  CaptionStore
	analyzer  CharacterAnalyzer
	acquirer  ImageAcquirer
	model     Captioner
	language  string
	logger    *slog.Logger
	nowSecond func() float64
}

// New returns a Worker. analyzer may be nil to disable character-tree
// enrichment. nowSecond supplies the current Unix time in fractional
// seconds (injected so outcome timestamps stay testable).
func New(pics MetadataReader, captions CaptionStore, analyzer CharacterAnalyzer,
	acquirer ImageAcquirer, model Captioner, language string, logger *slog.Logger,
	nowSecond func() float64) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		pics: pics, captions: captions, analyzer: analyzer, acquirer: acquirer,
		model: model, language: language, logger: logger, nowSecond: nowSecond,
	}
}

// Process runs the full per-id pipeline, persisting a terminal outcome to
// the caption store on every path except "skipped due to existing result".
func (w *Worker) Process(ctx context.Context, id int64, opts Options) model.CaptionOutcome {
	start := w.nowSecond()
	log := w.logger.With("id", id)
	log.Info("starting item")

	if !opts.SkipExistingCheck {
		done, err := w.captions.IsSuccessfullyProcessed(ctx, id)
		if err != nil {
			log.Warn("existing-result check failed, proceeding anyway", "err", err)
		} else if done {
			log.Info("already processed, skipping")
			return model.CaptionOutcome{ID: id, Success: true, ProcessingTime: w.nowSecond() - start}
		}
	}

	url := opts.CustomURL
	status := 200
	if url == "" {
		record, err := w.pics.Get(ctx, id)
		if err != nil {
			return w.fail(ctx, id, start, fmt.Sprintf("metadata lookup failed: %s", err), "", 500)
		}
		url, status = record.BuildURL(), record.URLStatus()
		if status != 200 {
			log.Warn("unable to resolve URL", "status", status)
			return w.fail(ctx, id, start, fmt.Sprintf("unable to resolve URL, status: %d", status), "", status)
		}
	}

	if isGIF(url) {
		log.Warn("GIF file, skipping processing")
		return w.fail(ctx, id, start, "GIF files are not processed", url, 405)
	}

	result, err := w.acquirer.Acquire(ctx, id, url)
	if err != nil {
		log.Error("image acquisition failed", "err", err)
		return w.fail(ctx, id, start, err.Error(), url, 500)
	}

	if opts.SaveImage && opts.OutputDir != "" {
		imagePath := filepath.Join(opts.OutputDir, strconv.FormatInt(id, 10)+"."+result.Ext)
		if err := saveBytes(imagePath, result.Bytes); err != nil {
			log.Warn("failed to save image locally, continuing", "err", err)
		}
	}

	record, err := w.pics.Get(ctx, id)
	if err != nil {
		log.Warn("metadata re-fetch for tagging context failed, continuing without tags", "err", err)
		record = model.NotFoundImageRecord(id)
	}

	var treeText string
	if w.analyzer != nil {
		charDict, err := w.analyzer.CrossVerify(ctx, record)
		if err != nil {
			log.Debug("character cross-verification failed, continuing without tree", "err", err)
		} else if text, ok, err := w.analyzer.VisualizeTree(ctx, charDict, w.language); err == nil && ok {
			treeText = text
		} else if err != nil {
			log.Debug("character tree visualization failed, continuing without tree", "err", err)
		}
	}

	prompt := promptbuilder.Build(promptbuilder.Input{
		Artists:    record.ArtistTags,
		Characters: record.CharacterTags,
		Tags:       record.GeneralTags,
		Language:   w.language,
		TreeText:   treeText,
	}, w.logger)

	apiResult := w.model.Caption(ctx, prompt, result.Bytes, result.Mime)
	if apiResult.StatusCode != 200 {
		log.Error("model call failed", "status_code", apiResult.StatusCode, "error", apiResult.Error)
		outcome := model.CaptionOutcome{
			ID:             id,
			Success:        false,
			StatusCode:     apiResult.StatusCode,
			ImageURL:       url,
			Error:          apiResult.Error,
			ErrorType:      apiResult.ErrorType,
			ErrorStack:     apiResult.ErrorStack,
			RawResponse:    apiResult.RawResponse,
			ProcessingTime: w.nowSecond() - start,
		}
		w.save(ctx, outcome)
		return outcome
	}

	outcome := model.CaptionOutcome{
		ID:             id,
		Success:        true,
		StatusCode:     200,
		ImageURL:       url,
		Prompt:         prompt,
		Caption:        apiResult.Caption,
		Artist:         record.ArtistTags,
		Character:      record.CharacterTags,
		Tags:           record.GeneralTags,
		ProcessingTime: w.nowSecond() - start,
	}
	w.save(ctx, outcome)
	log.Info("item complete", "processing_time", outcome.ProcessingTime)
	return outcome
}

func (w *Worker) fail(ctx context.Context, id int64, start float64, errMsg, url string, statusCode int) model.CaptionOutcome {
	outcome := model.CaptionOutcome{
		ID:             id,
		Success:        false,
		StatusCode:     statusCode,
		ImageURL:       url,
		Error:          errMsg,
		ProcessingTime: w.nowSecond() - start,
	}
	w.save(ctx, outcome)
	return outcome
}

func (w *Worker) save(ctx context.Context, outcome model.CaptionOutcome) {
	if err := w.captions.Upsert(ctx, w.nowSecond, outcome); err != nil {
		w.logger.Error("failed to persist outcome", "id", outcome.ID, "err", err)
	}
}

func isGIF(url string) bool {
	return strings.Contains(strings.ToLower(url), ".gif")
}
