// Package config loads pipeline configuration from environment variables
// (authoritative defaults) and CLI flags (overrides), per spec.md §6.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// DefaultRegions is the fixed list of Vertex AI region endpoints C7 rotates
// across (spec.md §4.7, grounded on gemini_api_client.py's default list).
var DefaultRegions = []string{
	"us-east5", "us-south1", "us-central1", "us-west4", "us-east1",
	"us-east4", "us-west1", "europe-west4", "europe-west9", "europe-west1",
	"europe-southwest1", "europe-west8", "europe-north1", "europe-central2",
}

// Config holds the fully resolved pipeline configuration.
type Config struct {
	MongoDBURI string
	ProjectID  string
	ModelID    string
	Regions    []string

	MaxConcurrency int
	Language       string // "en" or "zh"

	HFRepo         string
	HFCacheDir     string
	UseHFPicsFirst bool

	OutputDir string
	SaveImage bool

	LogLevel string
	LogFile  string

	GoogleApplicationCredentials        string
	GoogleApplicationCredentialsContent string

	MetricsAddr string

	// Selection: exactly one of Key-set or (StartID,EndID)-set must hold.
	KeySet    bool
	Key       int64
	RangeSet  bool
	StartID   int64
	EndID     int64
}

// ApplyDefaults fills zero-valued fields from environment variables, then
// from hardcoded fallbacks. Mirrors the env-var set in spec.md §6.
func ApplyDefaults(cfg *Config) {
	if cfg.MongoDBURI == "" {
		cfg.MongoDBURI = envOr("MONGODB_URI", "mongodb://localhost:27017/")
	}
	if cfg.MaxConcurrency == 0 {
		cfg.MaxConcurrency = envOrInt("MAX_CONCURRENCY", 100)
	}
	if cfg.ModelID == "" {
		cfg.ModelID = envOr("MODEL_ID", "gemini-2.0-flash-001")
	}
	if cfg.Language == "" {
		cfg.Language = normalizeLanguage(envOr("LANGUAGE", "zh"))
	}
	if cfg.HFRepo == "" {
		cfg.HFRepo = os.Getenv("HF_REPO")
	}
	if !cfg.UseHFPicsFirst {
		cfg.UseHFPicsFirst = envOrBool("USE_HFPICS_FIRST", false)
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = envOr("LOG_LEVEL", "info")
	}
	if cfg.LogFile == "" {
		cfg.LogFile = os.Getenv("LOG_FILE")
	}
	if cfg.GoogleApplicationCredentials == "" {
		cfg.GoogleApplicationCredentials = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
	}
	if cfg.GoogleApplicationCredentialsContent == "" {
		cfg.GoogleApplicationCredentialsContent = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_CONTENT")
	}
	if len(cfg.Regions) == 0 {
		cfg.Regions = DefaultRegions
	}
}

// normalizeLanguage returns the CLI-facing default-on-invalid language, "zh", per
// spec.md §6's flag table (distinct from C5's own internal fallback to
// "en" when invoked directly with an unrecognized language string).
func normalizeLanguage(lang string) string {
	switch lang {
	case "en", "zh":
		return lang
	default:
		return "zh"
	}
}

// ParseFlags parses CLI flags into a Config, applying env-var defaults
// first so flags only need to be set to override them.
func ParseFlags(args []string) (*Config, error) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	fs := flag.NewFlagSet("captioner", flag.ContinueOnError)
	key := fs.Int64("key", -1, "process shard [key*1e5, (key+1)*1e5)")
	startID := fs.Int64("start-id", -1, "range start id (requires --end-id)")
	endID := fs.Int64("end-id", -1, "range end id, exclusive (requires --start-id)")
	maxConcurrency := fs.Int("max-concurrency", cfg.MaxConcurrency, "semaphore size")
	modelID := fs.String("model-id", cfg.ModelID, "remote model identifier")
	language := fs.String("language", cfg.Language, "prompt language: zh|en")
	mongoURI := fs.String("mongodb-uri", cfg.MongoDBURI, "document-store connection uri")
	outputDir := fs.String("output-dir", cfg.OutputDir, "optional per-item JSON output directory")
	saveImage := fs.Bool("save-image", cfg.SaveImage, "persist fetched bytes under --output-dir")
	hfRepo := fs.String("hf-repo", cfg.HFRepo, "archive client repo")
	hfCacheDir := fs.String("hf-cache-dir", cfg.HFCacheDir, "archive client cache dir")
	useHFPicsFirst := fs.Bool("use-hfpics-first", cfg.UseHFPicsFirst, "prefer archive source over CDN")
	logLevel := fs.String("log-level", cfg.LogLevel, "debug|info|warning|error")
	logFile := fs.String("log-file", cfg.LogFile, "optional log file path")
	projectID := fs.String("project-id", cfg.ProjectID, "cloud project for the model endpoint")
	metricsAddr := fs.String("metrics-addr", cfg.MetricsAddr, "optional listen address for /metrics")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.MaxConcurrency = *maxConcurrency
	cfg.ModelID = *modelID
	cfg.Language = normalizeLanguage(*language)
	cfg.MongoDBURI = *mongoURI
	cfg.OutputDir = *outputDir
	cfg.SaveImage = *saveImage
	cfg.HFRepo = *hfRepo
	cfg.HFCacheDir = *hfCacheDir
	cfg.UseHFPicsFirst = *useHFPicsFirst
	cfg.LogLevel = *logLevel
	cfg.LogFile = *logFile
	cfg.ProjectID = *projectID
	cfg.MetricsAddr = *metricsAddr

	if *key >= 0 {
		cfg.KeySet = true
		cfg.Key = *key
	}
	if *startID >= 0 || *endID >= 0 {
		cfg.RangeSet = true
		cfg.StartID = *startID
		cfg.EndID = *endID
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the CLI's selection rules (spec.md §6): --key is
// mutually exclusive with --start-id/--end-id, and the latter two are
// required together.
func (c *Config) Validate() error {
	if c.KeySet && c.RangeSet {
		return fmt.Errorf("config: --key is mutually exclusive with --start-id/--end-id")
	}
	if !c.KeySet && !c.RangeSet {
		return fmt.Errorf("config: one of --key or --start-id/--end-id is required")
	}
	if c.RangeSet && (c.StartID < 0 || c.EndID < 0) {
		return fmt.Errorf("config: --start-id and --end-id are required together")
	}
	if c.RangeSet && c.EndID < c.StartID {
		return fmt.Errorf("config: --end-id must not be before --start-id")
	}
	if c.MaxConcurrency <= 0 {
		return fmt.Errorf("config: --max-concurrency must be positive")
	}
	return nil
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envOrInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		v = strings.TrimSpace(v)
		return v == "1" || strings.EqualFold(v, "true")
	}
	return def
}
