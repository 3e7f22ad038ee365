package model

import "testing"

func TestBuildURL(t *testing.T) {
	cases := []struct {
		name string
		rec  ImageRecord
		want string
	}{
		{"usable jpg", ImageRecord{MD5: "abcdef0123456789abcdef0123456789", FileExt: "jpg"},
			"https://cdn.donmai.us/original/ab/cd/abcdef0123456789abcdef0123456789.jpg"},
		{"gif rejected", ImageRecord{MD5: "abcdef0123456789abcdef0123456789", FileExt: "gif"}, ""},
		{"missing md5", ImageRecord{FileExt: "jpg"}, ""},
		{"missing ext", ImageRecord{MD5: "abcdef0123456789abcdef0123456789"}, ""},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.rec.BuildURL(); got != c.want {
				t.Errorf("BuildURL() = %q, want %q", got, c.want)
			}
		})
	}
}

func TestURLStatus(t *testing.T) {
	found := ImageRecord{MD5: "abcdef0123456789abcdef0123456789", FileExt: "jpg"}
	if status := found.URLStatus(); status != 200 {
		t.Errorf("expected 200 for resolvable record, got %d", status)
	}

	gif := ImageRecord{MD5: "abcdef0123456789abcdef0123456789", FileExt: "gif"}
	if status := gif.URLStatus(); status != 405 {
		t.Errorf("expected 405 for gif record, got %d", status)
	}

	missing := NotFoundImageRecord(42)
	if status := missing.URLStatus(); status != 404 {
		t.Errorf("expected 404 for missing record, got %d", status)
	}
}

func TestShardKey(t *testing.T) {
	cases := map[int64]string{
		0:       "0",
		1:       "0",
		99999:   "0",
		100000:  "1",
		250000:  "2",
		5123456: "51",
	}
	for id, want := range cases {
		if got := ShardKey(id); got != want {
			t.Errorf("ShardKey(%d) = %q, want %q", id, got, want)
		}
	}
}

func TestCaptionComplete(t *testing.T) {
	var nilCaption *Caption
	if nilCaption.Complete() {
		t.Errorf("nil caption should not be complete")
	}

	partial := &Caption{RegularSummary: "x"}
	if partial.Complete() {
		t.Errorf("partial caption should not be complete")
	}

	full := &Caption{
		RegularSummary:               "a",
		MidjourneyStyleSummary:       "b",
		ShortSummary:                 "c",
		CreationInstructionalSummary: "d",
		DeviantartCommissionRequest:  "e",
	}
	if !full.Complete() {
		t.Errorf("fully populated caption should be complete")
	}
}

func TestProcessedPredicate(t *testing.T) {
	cases := []struct {
		name     string
		outcome  CaptionOutcome
		hasPrompt bool
		want     bool
	}{
		{"success flag", CaptionOutcome{Success: true}, false, true},
		{"has prompt", CaptionOutcome{}, true, true},
		{"status 405 done", CaptionOutcome{StatusCode: 405}, false, true},
		{"status 998 done", CaptionOutcome{StatusCode: 998}, false, true},
		{"status 500 not done", CaptionOutcome{StatusCode: 500}, false, false},
		{"zero value not done", CaptionOutcome{}, false, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := ProcessedPredicate(c.outcome, c.hasPrompt); got != c.want {
				t.Errorf("ProcessedPredicate() = %v, want %v", got, c.want)
			}
		})
	}
}
