package config

import "testing"

func TestApplyDefaultsFillsFromHardcodedFallbacks(t *testing.T) {
	var cfg Config
	ApplyDefaults(&cfg)

	if cfg.MongoDBURI == "" {
		t.Errorf("expected a default MongoDBURI")
	}
	if cfg.MaxConcurrency != 100 {
		t.Errorf("expected default MaxConcurrency=100, got %d", cfg.MaxConcurrency)
	}
	if cfg.Language != "zh" {
		t.Errorf("expected default Language=zh, got %q", cfg.Language)
	}
	if len(cfg.Regions) == 0 {
		t.Errorf("expected default Regions to be populated")
	}
}

func TestApplyDefaultsPreservesExplicitValues(t *testing.T) {
	cfg := Config{MaxConcurrency: 5, Language: "en"}
	ApplyDefaults(&cfg)

	if cfg.MaxConcurrency != 5 {
		t.Errorf("expected explicit MaxConcurrency preserved, got %d", cfg.MaxConcurrency)
	}
	if cfg.Language != "en" {
		t.Errorf("expected explicit Language preserved, got %q", cfg.Language)
	}
}

func TestNormalizeLanguageFallsBackToZh(t *testing.T) {
	cases := map[string]string{"en": "en", "zh": "zh", "fr": "zh", "": "zh"}
	for in, want := range cases {
		if got := normalizeLanguage(in); got != want {
			t.Errorf("normalizeLanguage(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValidateRejectsBothKeyAndRange(t *testing.T) {
	c := &Config{KeySet: true, RangeSet: true, MaxConcurrency: 1}
	if err := c.Validate(); err == nil {
		t.Errorf("expected an error when both --key and --start-id/--end-id are set")
	}
}

func TestValidateRejectsNeitherKeyNorRange(t *testing.T) {
	c := &Config{MaxConcurrency: 1}
	if err := c.Validate(); err == nil {
		t.Errorf("expected an error when neither --key nor --start-id/--end-id is set")
	}
}

func TestValidateRejectsEndBeforeStart(t *testing.T) {
	c := &Config{RangeSet: true, StartID: 100, EndID: 50, MaxConcurrency: 1}
	if err := c.Validate(); err == nil {
		t.Errorf("expected an error when --end-id precedes --start-id")
	}
}

func TestValidateRejectsNonPositiveConcurrency(t *testing.T) {
	c := &Config{KeySet: true, MaxConcurrency: 0}
	if err := c.Validate(); err == nil {
		t.Errorf("expected an error for non-positive --max-concurrency")
	}
}

func TestValidateAcceptsWellFormedKeySelection(t *testing.T) {
	c := &Config{KeySet: true, Key: 5, MaxConcurrency: 10}
	if err := c.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateAcceptsWellFormedRangeSelection(t *testing.T) {
	c := &Config{RangeSet: true, StartID: 0, EndID: 1000, MaxConcurrency: 10}
	if err := c.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestParseFlagsByKey(t *testing.T) {
	cfg, err := ParseFlags([]string{"--key", "7"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.KeySet || cfg.Key != 7 {
		t.Errorf("expected KeySet=true Key=7, got KeySet=%v Key=%d", cfg.KeySet, cfg.Key)
	}
	if cfg.RangeSet {
		t.Errorf("expected RangeSet=false when only --key is given")
	}
}

func TestParseFlagsByRange(t *testing.T) {
	cfg, err := ParseFlags([]string{"--start-id", "100", "--end-id", "200"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.RangeSet || cfg.StartID != 100 || cfg.EndID != 200 {
		t.Errorf("expected RangeSet=true StartID=100 EndID=200, got %+v", cfg)
	}
}

func TestParseFlagsRejectsNoSelection(t *testing.T) {
	if _, err := ParseFlags([]string{}); err == nil {
		t.Errorf("expected an error when neither --key nor --start-id/--end-id is given")
	}
}

func TestParseFlagsRejectsBothSelections(t *testing.T) {
	if _, err := ParseFlags([]string{"--key", "1", "--start-id", "0", "--end-id", "10"}); err == nil {
		t.Errorf("expected an error when both --key and a range are given")
	}
}
