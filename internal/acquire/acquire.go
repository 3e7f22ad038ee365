// Package acquire implements the image acquirer (C4): a two-source fetch
// (archive-first or CDN-first) with an external-tool-preferred download
// path, a fixed retry schedule, and MIME inference. Grounded on
// gemini_caption/utils/image_processor.py.
package acquire

import (
	"context"
	"strings"
	"time"

	apperrors "danbooru-captioner/internal/errors"
)

// RetrySchedule is the fixed CDN-fetch retry delay schedule (spec.md §4.4),
// independent of C7's exponential schedule (spec.md §9).
var RetrySchedule = []time.Duration{
	1 * time.Second, 5 * time.Second, 30 * time.Second, 60 * time.Second, 300 * time.Second,
}

// extToMime is the fixed extension→MIME table (spec.md §4.4). Unknown
// extensions default to image/jpeg.
var extToMime = map[string]string{
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"webp": "image/webp",
	"gif":  "image/gif",
}

// MimeForExt returns the MIME type for a lowercase file extension, or
// image/jpeg if the extension is unrecognized.
func MimeForExt(ext string) string {
	if m, ok := extToMime[strings.ToLower(ext)]; ok {
		return m
	}
	return "image/jpeg"
}

// Result is a successfully acquired image's bytes plus provenance.
type Result struct {
	Bytes  []byte
	Mime   string
	Ext    string
	Source string // "url" or "hfpics"
}

// ArchiveSource is the HuggingFace-archive-hosted image source.
type ArchiveSource interface {
	// Fetch returns the image bytes for id, the file extension if known
	// (best-effort), and whether the archive had the image at all.
	Fetch(ctx context.Context, id int64) (bytes []byte, ext string, ok bool, err error)
}

// Downloader is the pluggable CDN-URL fetch strategy: the external tool
// path (wget) when available, otherwise the internal HTTP client.
type Downloader interface {
	Download(ctx context.Context, url string) (bytes []byte, ok bool, err error)
}

// Config configures an Acquirer.
type Config struct {
	PreferArchiveFirst bool
	RequestTimeout     time.Duration
}

// Acquirer is the image acquirer (C4).
type Acquirer struct {
	cfg        Config
	archive    ArchiveSource
	downloader Downloader
}

// NewAcquirer builds an Acquirer. archive may be nil (archive path
// disabled); downloader is required.
func NewAcquirer(cfg Config, archive ArchiveSource, downloader Downloader) *Acquirer {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	return &Acquirer{cfg: cfg, archive: archive, downloader: downloader}
}

// Acquire fetches image bytes for id, preferring the archive source when
// configured and no override URL is given, else using preferredURL via the
// configured downloader (spec.md §4.4). RequestTimeout bounds the archive
// fetch; the downloader applies its own per-attempt timeouts and retry
// schedule.
func (a *Acquirer) Acquire(ctx context.Context, id int64, preferredURL string) (Result, error) {
	if a.cfg.PreferArchiveFirst && preferredURL == "" && a.archive != nil {
		archiveCtx, cancel := context.WithTimeout(ctx, a.cfg.RequestTimeout)
		bytes, ext, ok, err := a.archive.Fetch(archiveCtx, id)
		cancel()
		if err == nil && ok {
			if ext == "" {
				ext = "jpg"
			}
			return Result{Bytes: bytes, Mime: MimeForExt(ext), Ext: ext, Source: "hfpics"}, nil
		}
	}

	if preferredURL == "" {
		return Result{}, apperrors.ErrSourceNotFound.WithMessage("no URL available for acquisition")
	}

	bytes, ok, err := a.downloader.Download(ctx, preferredURL)
	if err != nil {
		return Result{}, apperrors.Wrap(err, apperrors.ErrUpstreamUnavailable.WithMessage("image download failed"))
	}
	if !ok {
		return Result{}, apperrors.ErrUpstreamUnavailable.WithMessage("image download failed: no successful response")
	}

	ext := extFromURL(preferredURL)
	return Result{Bytes: bytes, Mime: MimeForExt(ext), Ext: ext, Source: "url"}, nil
}

func extFromURL(url string) string {
	idx := strings.LastIndex(url, ".")
	if idx < 0 || idx == len(url)-1 {
		return ""
	}
	ext := url[idx+1:]
	if q := strings.IndexAny(ext, "?#"); q >= 0 {
		ext = ext[:q]
	}
	return strings.ToLower(ext)
}
