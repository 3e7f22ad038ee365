package acquire

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/exec"
	"time"

	"danbooru-captioner/internal/util"
)

// HTTPDownloader is the internal-HTTP-client fallback path: iterate
// RetrySchedule with a fresh random User-Agent each attempt (spec.md §4.4).
type HTTPDownloader struct {
	client *http.Client
	logger *slog.Logger
}

// NewHTTPDownloader returns a downloader with a 60s-per-attempt client that
// follows redirects.
func NewHTTPDownloader(logger *slog.Logger) *HTTPDownloader {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPDownloader{
		client: &http.Client{Timeout: 60 * time.Second},
		logger: logger,
	}
}

// Download iterates RetrySchedule, sleeping between non-final attempts,
// returning the bytes of the first HTTP-200 response.
func (d *HTTPDownloader) Download(ctx context.Context, url string) ([]byte, bool, error) {
	var lastErr error
	attempts := len(RetrySchedule) + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}

		bytes, status, err := d.attempt(ctx, url)
		if err == nil && status == http.StatusOK {
			return bytes, true, nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("unexpected status %d", status)
		}

		if attempt < len(RetrySchedule) {
			d.logger.Debug("image download attempt failed, retrying", "url", url, "attempt", attempt, "err", lastErr)
			if !util.SleepWithContext(ctx, RetrySchedule[attempt]) {
				return nil, false, ctx.Err()
			}
		}
	}
	return nil, false, lastErr
}

func (d *HTTPDownloader) attempt(ctx context.Context, url string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	for k, v := range randomHeaders() {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

// WgetDownloader shells out to the system wget binary, mirroring the
// original's external-tool-preferred download path. Falls back to
// unavailable (ok=false, err=nil) when wget is not on PATH so the caller
// can fall through to HTTPDownloader.
type WgetDownloader struct {
	available bool
}

// NewWgetDownloader probes for a usable wget binary on PATH.
func NewWgetDownloader() *WgetDownloader {
	_, err := exec.LookPath("wget")
	return &WgetDownloader{available: err == nil}
}

// Available reports whether wget was found on PATH at construction time.
func (d *WgetDownloader) Available() bool {
	return d.available
}

// Download runs wget once against url with a 60s timeout, up to 3 tries
// (wget's --tries), a randomized User-Agent and a fixed Referer, reading the
// tempfile on success.
func (d *WgetDownloader) Download(ctx context.Context, url string) ([]byte, bool, error) {
	if !d.available {
		return nil, false, nil
	}

	tmp, err := os.CreateTemp("", "danbooru-captioner-*.img")
	if err != nil {
		return nil, false, err
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	headers := randomHeaders()
	args := []string{
		"--quiet", "--tries=3", "--timeout=60",
		"--user-agent=" + headers["User-Agent"],
		"--referer=https://danbooru.donmai.us/",
		"-O", tmpPath, url,
	}
	cmd := exec.CommandContext(ctx, "wget", args...)
	if err := cmd.Run(); err != nil {
		return nil, false, nil // fall back to HTTPDownloader, not fatal
	}

	data, err := os.ReadFile(tmpPath)
	if err != nil || len(data) == 0 {
		return nil, false, nil
	}
	return data, true, nil
}

// CompositeDownloader tries the external wget tool once, falling back to
// the internal HTTP client's retry schedule on failure or unavailability
// (spec.md §4.4 step 2: "attempt the external downloader once (if
// available); else iterate the retry schedule using an internal HTTP
// client").
type CompositeDownloader struct {
	wget *WgetDownloader
	http *HTTPDownloader
}

// NewCompositeDownloader wires the wget-preferred path ahead of the plain
// HTTP client fallback.
func NewCompositeDownloader(wget *WgetDownloader, http *HTTPDownloader) *CompositeDownloader {
	return &CompositeDownloader{wget: wget, http: http}
}

func (d *CompositeDownloader) Download(ctx context.Context, url string) ([]byte, bool, error) {
	if d.wget != nil && d.wget.Available() {
		if bytes, ok, err := d.wget.Download(ctx, url); ok && err == nil {
			return bytes, true, nil
		}
	}
	return d.http.Download(ctx, url)
}

// randomHeaders builds a randomized Chrome/Edge-flavored header set, mirroring
// the original's get_random_headers anti-throttling measure.
func randomHeaders() map[string]string {
	major := 120 + rand.Intn(10)
	minor := rand.Intn(10)
	platforms := []string{"Windows NT 10.0; Win64; x64", "Macintosh; Intel Mac OS X 10_15_7", "X11; Linux x86_64"}
	platform := platforms[rand.Intn(len(platforms))]
	brands := []string{"Chrome", "Microsoft Edge"}
	brand := brands[rand.Intn(len(brands))]

	ua := fmt.Sprintf("Mozilla/5.0 (%s) AppleWebKit/537.36 (KHTML, like Gecko) %s/%d.0.%d.0 Safari/537.36",
		platform, brand, major, minor)
	secChUA := fmt.Sprintf(`"%s";v="%d", "Chromium";v="%d", "Not=A?Brand";v="99"`, brand, major, major)

	return map[string]string{
		"User-Agent": ua,
		"sec-ch-ua":  secChUA,
		"Referer":    "https://danbooru.donmai.us/",
	}
}
