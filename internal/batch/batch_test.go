package batch

import (
	"context"
	"testing"

	"danbooru-captioner/internal/model"
	"danbooru-captioner/internal/worker"
)

type fakeURLResolver struct {
	batch map[int64]model.URLResolution
	byKey map[int64]map[int64]model.URLResolution
}

func (f *fakeURLResolver) BuildURLBatch(ctx context.Context, ids []int64) (map[int64]model.URLResolution, error) {
	result := make(map[int64]model.URLResolution)
	for _, id := range ids {
		if res, ok := f.batch[id]; ok {
			result[id] = res
		}
	}
	return result, nil
}

func (f *fakeURLResolver) BuildURLsInKey(ctx context.Context, key int64) (map[int64]model.URLResolution, error) {
	return f.byKey[key], nil
}

type fakeOutcomeStore struct {
	existing map[int64]bool
	upserted []model.CaptionOutcome
}

func (f *fakeOutcomeStore) ExistingInRange(ctx context.Context, start, end int64) (map[int64]bool, error) {
	result := make(map[int64]bool)
	for id, ok := range f.existing {
		if ok && id >= start && id < end {
			result[id] = true
		}
	}
	return result, nil
}

func (f *fakeOutcomeStore) Upsert(ctx context.Context, createdAt func() float64, outcome model.CaptionOutcome) error {
	f.upserted = append(f.upserted, outcome)
	return nil
}

type fakeItemProcessor struct {
	statusByID map[int64]bool
}

func (f *fakeItemProcessor) Process(ctx context.Context, id int64, opts worker.Options) model.CaptionOutcome {
	success := f.statusByID[id]
	return model.CaptionOutcome{ID: id, Success: success, StatusCode: map[bool]int{true: 200, false: 500}[success]}
}

func testClock() float64 { return 0 }

func TestRunRangeSkipsExistingAndCountsFailures(t *testing.T) {
	pics := &fakeURLResolver{batch: map[int64]model.URLResolution{
		0: {ID: 0, URL: "https://cdn.donmai.us/original/ab/cd/x.jpg", Status: 200},
		1: {ID: 1, Status: 405},
		// 2 missing entirely -> unresolved
	}}
	captions := &fakeOutcomeStore{existing: map[int64]bool{3: true}}
	processor := &fakeItemProcessor{statusByID: map[int64]bool{0: true}}

	orch := New(pics, captions, processor, 4, false, "", nil, testClock, nil)
	stats, err := orch.RunRange(context.Background(), 0, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Total != 4 {
		t.Errorf("expected total=4, got %d", stats.Total)
	}
	if stats.Skipped != 1 {
		t.Errorf("expected skipped=1, got %d", stats.Skipped)
	}
	if stats.Success != 1 {
		t.Errorf("expected success=1, got %d", stats.Success)
	}
	// id 1 (status 405) and id 2 (missing) both fail URL resolution.
	if stats.Failed != 2 {
		t.Errorf("expected failed=2, got %d", stats.Failed)
	}
	if len(captions.upserted) != 2 {
		t.Errorf("expected 2 no-URL outcomes recorded, got %d", len(captions.upserted))
	}
}

func TestRunRangeEmptyRangeIsNoop(t *testing.T) {
	orch := New(&fakeURLResolver{}, &fakeOutcomeStore{}, &fakeItemProcessor{}, 1, false, "", nil, testClock, nil)
	stats, err := orch.RunRange(context.Background(), 5, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Total != 0 {
		t.Errorf("expected zero-value stats for an empty range, got %+v", stats)
	}
}

func TestRunByKeyFiltersToShardRange(t *testing.T) {
	pics := &fakeURLResolver{byKey: map[int64]map[int64]model.URLResolution{
		2: {
			200000: {ID: 200000, URL: "https://cdn.donmai.us/original/ab/cd/x.jpg", Status: 200},
			200001: {ID: 200001, URL: "https://cdn.donmai.us/original/ab/cd/y.jpg", Status: 200},
		},
	}}
	captions := &fakeOutcomeStore{}
	processor := &fakeItemProcessor{statusByID: map[int64]bool{200000: true, 200001: true}}

	orch := New(pics, captions, processor, 4, false, "", nil, testClock, nil)
	stats, err := orch.RunByKeyWithRange(context.Background(), 2, 0, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Total != 2 || stats.Success != 2 {
		t.Errorf("expected total=2 success=2, got %+v", stats)
	}
}

func TestRunListEmptyIsNoop(t *testing.T) {
	orch := New(&fakeURLResolver{}, &fakeOutcomeStore{}, &fakeItemProcessor{}, 1, false, "", nil, testClock, nil)
	stats, err := orch.RunList(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Total != 0 {
		t.Errorf("expected zero-value stats, got %+v", stats)
	}
}

func TestRunListProcessesGivenIDs(t *testing.T) {
	pics := &fakeURLResolver{batch: map[int64]model.URLResolution{
		10: {ID: 10, URL: "https://cdn.donmai.us/original/ab/cd/x.jpg", Status: 200},
		20: {ID: 20, URL: "https://cdn.donmai.us/original/ab/cd/y.jpg", Status: 200},
	}}
	captions := &fakeOutcomeStore{}
	processor := &fakeItemProcessor{statusByID: map[int64]bool{10: true, 20: false}}

	orch := New(pics, captions, processor, 4, false, "", nil, testClock, nil)
	stats, err := orch.RunList(context.Background(), []int64{10, 20})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Total != 2 || stats.Success != 1 || stats.Failed != 1 {
		t.Errorf("expected total=2 success=1 failed=1, got %+v", stats)
	}
}
