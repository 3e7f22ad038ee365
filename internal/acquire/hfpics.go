package acquire

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HFPicsSource is the HuggingFace-hosted archive image source: a plain
// HTTPS GET against the configured repo's resolve URL, keyed by id. No
// mature Go SDK for the HuggingFace Hub exists in the retrieved pack or
// ecosystem with comparable maturity to the Python huggingface_hub client
// (DESIGN.md), so this speaks the archive's plain HTTP content-resolution
// endpoint directly.
type HFPicsSource struct {
	repo   string
	client *http.Client
}

// NewHFPicsSource builds an archive source bound to repo (an
// "org/dataset"-shaped identifier).
func NewHFPicsSource(repo string) *HFPicsSource {
	return &HFPicsSource{repo: repo, client: &http.Client{Timeout: 60 * time.Second}}
}

// Fetch tries each known extension in turn against the archive's resolve
// URL for this id, returning the first that responds 200.
func (s *HFPicsSource) Fetch(ctx context.Context, id int64) ([]byte, string, bool, error) {
	if s.repo == "" {
		return nil, "", false, nil
	}
	for _, ext := range []string{"jpg", "png", "webp"} {
		url := fmt.Sprintf("https://huggingface.co/datasets/%s/resolve/main/%d.%s", s.repo, id, ext)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, "", false, err
		}
		resp, err := s.client.Do(req)
		if err != nil {
			continue
		}
		if resp.StatusCode == http.StatusOK {
			data, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			if err != nil {
				return nil, "", false, err
			}
			return data, ext, true, nil
		}
		resp.Body.Close()
	}
	return nil, "", false, nil
}
