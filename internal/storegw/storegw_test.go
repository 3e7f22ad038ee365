package storegw

import (
	"context"
	"testing"
	"time"

	"danbooru-captioner/internal/model"
)

// These exercise the real gateways against a local MongoDB instance and are
// skipped when one isn't reachable, matching how the pack's other
// store-backed packages test themselves (no in-memory MongoDB fake exists in
// the pack, unlike the miniredis-backed store tests).

func connectTestClient(t *testing.T) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, err := NewClient(ctx, "mongodb://localhost:27017")
	if err != nil {
		t.Skip("MongoDB not available, skipping store integration test")
	}
	return client
}

func TestPicsGatewayRoundTrip(t *testing.T) {
	client := connectTestClient(t)
	defer client.Close(context.Background())

	gw := NewPicsGateway(client)
	ctx := context.Background()

	record, err := gw.Get(ctx, 999999999)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.Found() {
		t.Errorf("expected not-found sentinel for a nonexistent id")
	}
}

func TestCaptionsGatewayUpsertAndGet(t *testing.T) {
	client := connectTestClient(t)
	defer client.Close(context.Background())

	gw := NewCaptionsGateway(client)
	ctx := context.Background()
	id := int64(123456789)
	clock := func() float64 { return 1700000000 }

	outcome := model.CaptionOutcome{ID: id, Success: true, StatusCode: 200}
	if err := gw.Upsert(ctx, clock, outcome); err != nil {
		t.Fatalf("unexpected error on upsert: %v", err)
	}

	got, ok, err := gw.Get(ctx, id)
	if err != nil {
		t.Fatalf("unexpected error on get: %v", err)
	}
	if !ok {
		t.Fatalf("expected the just-upserted outcome to be found")
	}
	if !got.Success || got.StatusCode != 200 {
		t.Errorf("expected round-tripped outcome to match, got %+v", got)
	}

	done, err := gw.IsSuccessfullyProcessed(ctx, id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !done {
		t.Errorf("expected id to be reported as successfully processed")
	}
}

func TestTagsGatewayIsRootForUnknownTag(t *testing.T) {
	client := connectTestClient(t)
	defer client.Close(context.Background())

	gw := NewTagsGateway(client, nil)
	isRoot, err := gw.IsRoot(context.Background(), "a_tag_that_does_not_exist")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if isRoot {
		t.Errorf("expected an unknown tag to be reported as non-root")
	}
}
