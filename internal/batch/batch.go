// Package batch implements the bulk orchestrator (C9): dedup pre-scan, URL
// pre-scan, bounded fan-out over the per-item worker, and aggregate run
// statistics. Grounded on
// gemini_caption/utils/batch_processor.py::process_batch and its
// by-key/by-key-with-range/id-list siblings.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"danbooru-captioner/internal/metrics"
	"danbooru-captioner/internal/model"
	"danbooru-captioner/internal/reliability"
	"danbooru-captioner/internal/util"
	"danbooru-captioner/internal/worker"
)

const urlScanBatchSize = 10000

// Stats mirrors the original's per-run statistics dict.
type Stats struct {
	Total          int     `json:"total"`
	Success        int     `json:"success"`
	Failed         int     `json:"failed"`
	Skipped        int     `json:"skipped"`
	TotalTime      float64 `json:"total_time"`
	AvgTimePerItem float64 `json:"avg_time_per_item"`
}

// URLResolver performs the batched and ranged URL pre-scans, satisfied by
// storegw.PicsGateway.
type URLResolver interface {
	BuildURLBatch(ctx context.Context, ids []int64) (map[int64]model.URLResolution, error)
	BuildURLsInKey(ctx context.Context, key int64) (map[int64]model.URLResolution, error)
}

// OutcomeStore is the dedup pre-scan and no-URL recording surface this
// orchestrator needs, satisfied by storegw.CaptionsGateway.
type OutcomeStore interface {
	ExistingInRange(ctx context.Context, start, end int64) (map[int64]bool, error)
	Upsert(ctx context.Context, createdAt func() float64, outcome model.CaptionOutcome) error
}

// ItemProcessor processes one id end to end, satisfied by worker.Worker.
type ItemProcessor interface {
	Process(ctx context.Context, id int64, opts worker.Options) model.CaptionOutcome
}

// Orchestrator coordinates ItemProcessor calls across an ID range, a shard
// key, or an explicit ID list, bounding in-flight calls to maxConcurrency.
type Orchestrator struct {
	pics           URLResolver
	captions       OutcomeStore
	worker         ItemProcessor
	maxConcurrency int64
	saveImage      bool
	outputDir      string
	logger         *slog.Logger
	nowSecond      func() float64
	metrics        *metrics.Registry
}

// New returns an Orchestrator. metricsReg may be nil to disable
// instrumentation.
func New(pics URLResolver, captions OutcomeStore, w ItemProcessor,
	maxConcurrency int64, saveImage bool, outputDir string, logger *slog.Logger, nowSecond func() float64,
	metricsReg *metrics.Registry) *Orchestrator {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		pics: pics, captions: captions, worker: w,
		maxConcurrency: maxConcurrency, saveImage: saveImage, outputDir: outputDir,
		logger: logger, nowSecond: nowSecond, metrics: metricsReg,
	}
}

// RunRange processes every unprocessed, URL-resolvable id in [start, end),
// resolving URLs in urlScanBatchSize-sized chunks (spec.md §4.8).
func (o *Orchestrator) RunRange(ctx context.Context, start, end int64) (Stats, error) {
	urlResolver := func(ctx context.Context) (map[int64]model.URLResolution, error) {
		result := make(map[int64]model.URLResolution)
		for batchStart := start; batchStart < end; batchStart += urlScanBatchSize {
			batchEnd := batchStart + urlScanBatchSize
			if batchEnd > end {
				batchEnd = end
			}
			ids := make([]int64, 0, batchEnd-batchStart)
			for id := batchStart; id < batchEnd; id++ {
				ids = append(ids, id)
			}
			resolved, err := o.pics.BuildURLBatch(ctx, ids)
			if err != nil {
				return nil, err
			}
			for id, res := range resolved {
				result[id] = res
			}
		}
		return result, nil
	}
	return o.run(ctx, start, end, urlResolver)
}

// RunByKey processes an entire shard key's id range [key*1e5, (key+1)*1e5).
func (o *Orchestrator) RunByKey(ctx context.Context, key int64) (Stats, error) {
	return o.RunByKeyWithRange(ctx, key, 0, 100000)
}

// RunByKeyWithRange processes [key*1e5+startOffset, key*1e5+endOffset)
// within a single shard, reusing the shard's single ranged URL scan.
func (o *Orchestrator) RunByKeyWithRange(ctx context.Context, key, startOffset, endOffset int64) (Stats, error) {
	base := key * 100000
	start := base + startOffset
	end := base + endOffset

	urlResolver := func(ctx context.Context) (map[int64]model.URLResolution, error) {
		all, err := o.pics.BuildURLsInKey(ctx, key)
		if err != nil {
			return nil, err
		}
		result := make(map[int64]model.URLResolution)
		for id, res := range all {
			if id >= start && id < end {
				result[id] = res
			}
		}
		return result, nil
	}
	return o.run(ctx, start, end, urlResolver)
}

// RunList processes an explicit id list, each id's URL resolved via a
// single batched scan.
func (o *Orchestrator) RunList(ctx context.Context, ids []int64) (Stats, error) {
	if len(ids) == 0 {
		return Stats{}, nil
	}
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	min, max := sorted[0], sorted[len(sorted)-1]

	existing, err := o.captions.ExistingInRange(ctx, min, max+1)
	if err != nil {
		return Stats{}, fmt.Errorf("dedup pre-scan failed: %w", err)
	}

	resolved, err := o.pics.BuildURLBatch(ctx, ids)
	if err != nil {
		return Stats{}, fmt.Errorf("URL pre-scan failed: %w", err)
	}

	return o.processResolved(ctx, ids, existing, resolved, len(ids))
}

func (o *Orchestrator) run(ctx context.Context, start, end int64, urlResolver func(context.Context) (map[int64]model.URLResolution, error)) (Stats, error) {
	if end <= start {
		return Stats{}, nil
	}

	existing, err := o.captions.ExistingInRange(ctx, start, end)
	if err != nil {
		return Stats{}, fmt.Errorf("dedup pre-scan failed: %w", err)
	}

	resolved, err := urlResolver(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("URL pre-scan failed: %w", err)
	}

	ids := make([]int64, 0, end-start)
	for id := start; id < end; id++ {
		ids = append(ids, id)
	}

	return o.processResolved(ctx, ids, existing, resolved, int(end-start))
}

// processResolved partitions ids into already-processed (skipped),
// unresolvable (recorded as a terminal error outcome with no model call),
// and to-process, then fans the latter out under the concurrency bound.
func (o *Orchestrator) processResolved(ctx context.Context, ids []int64, existing map[int64]bool,
	resolved map[int64]model.URLResolution, total int) (Stats, error) {

	startTime := o.nowSecond()
	stats := Stats{Total: total}

	var toProcess []model.URLResolution
	for _, id := range ids {
		if existing[id] {
			stats.Skipped++
			continue
		}
		res, ok := resolved[id]
		if !ok || res.Status != 200 || res.URL == "" {
			status := 404
			if ok {
				status = res.Status
			}
			o.recordNoURL(ctx, id, status)
			stats.Failed++
			continue
		}
		toProcess = append(toProcess, res)
	}

	if len(toProcess) == 0 {
		stats.TotalTime = o.nowSecond() - startTime
		return stats, nil
	}

	sem := semaphore.NewWeighted(o.maxConcurrency)
	var success, failed int64

	// Every item gets its own errgroup goroutine; sem.Acquire bounds how
	// many actually run Process concurrently (x/sync/errgroup's WithContext
	// variant, same family as sem.Weighted, per spec.md §5).
	if err := util.ParallelForWithContext(ctx, len(toProcess), func(gctx context.Context, i int) error {
		res := toProcess[i]
		if err := sem.Acquire(gctx, 1); err != nil {
			atomic.AddInt64(&failed, 1)
			return nil
		}
		defer sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error("worker panicked, recording as failure", "id", res.ID, "panic", r)
				atomic.AddInt64(&failed, 1)
			}
		}()
		if o.metrics != nil {
			o.metrics.InflightWorkers.Inc()
			defer o.metrics.InflightWorkers.Dec()
		}
		outcome := o.worker.Process(ctx, res.ID, worker.Options{
			SkipExistingCheck: true,
			SaveImage:         o.saveImage,
			OutputDir:         o.outputDir,
			CustomURL:         res.URL,
		})
		if o.metrics != nil {
			o.metrics.ObserveOutcome(outcome.StatusCode)
		}
		if outcome.Success {
			atomic.AddInt64(&success, 1)
		} else {
			atomic.AddInt64(&failed, 1)
		}
		return nil
	}); err != nil {
		o.logger.Error("batch fan-out returned an error", "err", err)
	}

	stats.Success += int(success)
	stats.Failed += int(failed)
	stats.TotalTime = o.nowSecond() - startTime
	if len(toProcess) > 0 {
		stats.AvgTimePerItem = stats.TotalTime / float64(len(toProcess))
	}
	o.logger.Info("batch run complete",
		"total", stats.Total, "success", stats.Success, "failed", stats.Failed,
		"skipped", stats.Skipped, "total_time", stats.TotalTime)
	return stats, nil
}

// recordNoURL retries the bulk no-URL outcome write with backoff (spec.md
// §4.1: store errors "surface as typed exceptions; callers treat them as
// transient and retry at a higher level"), since this write has no
// downstream model call to retry instead.
func (o *Orchestrator) recordNoURL(ctx context.Context, id int64, status int) {
	outcome := model.CaptionOutcome{
		ID:         id,
		Success:    false,
		StatusCode: status,
		Error:      fmt.Sprintf("unable to resolve URL, status: %d", status),
	}
	_, err := reliability.RetryWithResult(ctx, reliability.DefaultRetryConfig(), func() (struct{}, error) {
		return struct{}{}, o.captions.Upsert(ctx, o.nowSecond, outcome)
	})
	if err != nil {
		o.logger.Error("failed to record no-URL outcome", "id", id, "err", err)
		return
	}
	if o.metrics != nil {
		o.metrics.ObserveOutcome(status)
	}
}
