package worker

import (
	"context"
	"errors"
	"testing"

	"danbooru-captioner/internal/acquire"
	"danbooru-captioner/internal/character"
	"danbooru-captioner/internal/model"
	"danbooru-captioner/internal/modelclient"
)

type fakeMetadataReader struct {
	records map[int64]model.ImageRecord
	err     error
}

func (f *fakeMetadataReader) Get(ctx context.Context, id int64) (model.ImageRecord, error) {
	if f.err != nil {
		return model.ImageRecord{}, f.err
	}
	if r, ok := f.records[id]; ok {
		return r, nil
	}
	return model.NotFoundImageRecord(id), nil
}

type fakeCaptionStore struct {
	processed map[int64]bool
	upserted  []model.CaptionOutcome
}

func (f *fakeCaptionStore) IsSuccessfullyProcessed(ctx context.Context, id int64) (bool, error) {
	return f.processed[id], nil
}

func (f *fakeCaptionStore) Upsert(ctx context.Context, createdAt func() float64, outcome model.CaptionOutcome) error {
	f.upserted = append(f.upserted, outcome)
	return nil
}

type fakeAnalyzer struct{}

func (fakeAnalyzer) CrossVerify(ctx context.Context, record model.ImageRecord) (map[string]character.CharDict, error) {
	return nil, nil
}

func (fakeAnalyzer) VisualizeTree(ctx context.Context, charDict map[string]character.CharDict, language string) (string, bool, error) {
	return "", false, nil
}

type fakeAcquirer struct {
	result acquire.Result
	err    error
}

func (f *fakeAcquirer) Acquire(ctx context.Context, id int64, preferredURL string) (acquire.Result, error) {
	return f.result, f.err
}

type fakeCaptioner struct {
	outcome modelclient.Outcome
}

func (f *fakeCaptioner) Caption(ctx context.Context, prompt string, imageBytes []byte, mime string) modelclient.Outcome {
	return f.outcome
}

func newTestWorker(pics MetadataReader, captions CaptionStore, acquirer ImageAcquirer, model Captioner) *Worker {
	return New(pics, captions, fakeAnalyzer{}, acquirer, model, "en", nil, func() float64 { return 0 })
}

func TestProcessSkipsAlreadyProcessed(t *testing.T) {
	captions := &fakeCaptionStore{processed: map[int64]bool{42: true}}
	w := newTestWorker(&fakeMetadataReader{}, captions, &fakeAcquirer{}, &fakeCaptioner{})

	outcome := w.Process(context.Background(), 42, Options{})
	if !outcome.Success {
		t.Errorf("expected success for an already-processed id")
	}
	if len(captions.upserted) != 0 {
		t.Errorf("expected no upsert when skipping, got %d", len(captions.upserted))
	}
}

func TestProcessUnresolvableURLRecordsStatus(t *testing.T) {
	pics := &fakeMetadataReader{records: map[int64]model.ImageRecord{
		7: {ID: 7}, // missing md5/ext -> status 405
	}}
	captions := &fakeCaptionStore{}
	w := newTestWorker(pics, captions, &fakeAcquirer{}, &fakeCaptioner{})

	outcome := w.Process(context.Background(), 7, Options{})
	if outcome.Success {
		t.Errorf("expected failure for an unresolvable URL")
	}
	if outcome.StatusCode != 405 {
		t.Errorf("expected status_code 405, got %d", outcome.StatusCode)
	}
	if len(captions.upserted) != 1 {
		t.Fatalf("expected exactly one upsert, got %d", len(captions.upserted))
	}
}

func TestProcessGIFSkipped(t *testing.T) {
	captions := &fakeCaptionStore{}
	w := newTestWorker(&fakeMetadataReader{}, captions, &fakeAcquirer{}, &fakeCaptioner{})

	outcome := w.Process(context.Background(), 1, Options{CustomURL: "https://cdn.donmai.us/original/ab/cd/x.gif"})
	if outcome.Success {
		t.Errorf("expected failure for a gif url")
	}
	if outcome.StatusCode != 405 {
		t.Errorf("expected status_code 405 for gif, got %d", outcome.StatusCode)
	}
}

func TestProcessAcquisitionFailureRecordsStatus500(t *testing.T) {
	captions := &fakeCaptionStore{}
	w := newTestWorker(&fakeMetadataReader{}, captions,
		&fakeAcquirer{err: errors.New("connection reset")}, &fakeCaptioner{})

	outcome := w.Process(context.Background(), 1, Options{CustomURL: "https://cdn.donmai.us/original/ab/cd/x.jpg"})
	if outcome.StatusCode != 500 {
		t.Errorf("expected status_code 500, got %d", outcome.StatusCode)
	}
}

func TestProcessSuccessPersistsCaption(t *testing.T) {
	pics := &fakeMetadataReader{records: map[int64]model.ImageRecord{
		99: {ID: 99, MD5: "abcdef0123456789abcdef0123456789", FileExt: "jpg",
			CharacterTags: []string{"hatsune_miku"}, ArtistTags: []string{"some_artist"}},
	}}
	captions := &fakeCaptionStore{}
	caption := &model.Caption{
		RegularSummary: "a", MidjourneyStyleSummary: "b", ShortSummary: "c",
		CreationInstructionalSummary: "d", DeviantartCommissionRequest: "e",
	}
	captioner := &fakeCaptioner{outcome: modelclient.Outcome{StatusCode: 200, Caption: caption}}
	acquirer := &fakeAcquirer{result: acquire.Result{Bytes: []byte{0xFF}, Mime: "image/jpeg", Ext: "jpg"}}
	w := newTestWorker(pics, captions, acquirer, captioner)

	outcome := w.Process(context.Background(), 99, Options{})
	if !outcome.Success || outcome.StatusCode != 200 {
		t.Fatalf("expected a successful outcome, got %+v", outcome)
	}
	if outcome.Caption == nil || !outcome.Caption.Complete() {
		t.Errorf("expected a complete caption, got %+v", outcome.Caption)
	}
	if len(captions.upserted) != 1 {
		t.Fatalf("expected exactly one upsert, got %d", len(captions.upserted))
	}
}

func TestProcessModelFailurePersistsErrorOutcome(t *testing.T) {
	pics := &fakeMetadataReader{records: map[int64]model.ImageRecord{
		5: {ID: 5, MD5: "abcdef0123456789abcdef0123456789", FileExt: "jpg"},
	}}
	captions := &fakeCaptionStore{}
	captioner := &fakeCaptioner{outcome: modelclient.Outcome{StatusCode: 999, Error: "prohibited content"}}
	acquirer := &fakeAcquirer{result: acquire.Result{Bytes: []byte{0xFF}, Mime: "image/jpeg", Ext: "jpg"}}
	w := newTestWorker(pics, captions, acquirer, captioner)

	outcome := w.Process(context.Background(), 5, Options{})
	if outcome.Success {
		t.Errorf("expected failure outcome")
	}
	if outcome.StatusCode != 999 {
		t.Errorf("expected status_code 999, got %d", outcome.StatusCode)
	}
	if len(captions.upserted) != 1 {
		t.Fatalf("expected exactly one upsert, got %d", len(captions.upserted))
	}
}
