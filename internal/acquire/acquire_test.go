package acquire

import (
	"context"
	"errors"
	"testing"
)

type fakeArchive struct {
	bytes []byte
	ext   string
	ok    bool
	err   error
}

func (f *fakeArchive) Fetch(ctx context.Context, id int64) ([]byte, string, bool, error) {
	return f.bytes, f.ext, f.ok, f.err
}

type fakeDownloader struct {
	bytes []byte
	ok    bool
	err   error
}

func (f *fakeDownloader) Download(ctx context.Context, url string) ([]byte, bool, error) {
	return f.bytes, f.ok, f.err
}

func TestMimeForExt(t *testing.T) {
	cases := map[string]string{
		"png":  "image/png",
		"JPG":  "image/jpeg",
		"jpeg": "image/jpeg",
		"webp": "image/webp",
		"gif":  "image/gif",
		"bmp":  "image/jpeg",
		"":     "image/jpeg",
	}
	for ext, want := range cases {
		if got := MimeForExt(ext); got != want {
			t.Errorf("MimeForExt(%q) = %q, want %q", ext, got, want)
		}
	}
}

func TestAcquirePrefersArchiveWhenConfigured(t *testing.T) {
	archive := &fakeArchive{bytes: []byte{1, 2, 3}, ext: "png", ok: true}
	downloader := &fakeDownloader{}
	a := NewAcquirer(Config{PreferArchiveFirst: true}, archive, downloader)

	result, err := a.Acquire(context.Background(), 1, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Source != "hfpics" {
		t.Errorf("expected hfpics source, got %q", result.Source)
	}
	if result.Mime != "image/png" {
		t.Errorf("expected image/png, got %q", result.Mime)
	}
}

// With a URL given, the archive is not consulted even when archive-first is
// configured.
func TestAcquireUsesGivenURLWhenArchiveFirst(t *testing.T) {
	archive := &fakeArchive{ok: false}
	downloader := &fakeDownloader{bytes: []byte{9}, ok: true}
	a := NewAcquirer(Config{PreferArchiveFirst: true}, archive, downloader)

	result, err := a.Acquire(context.Background(), 1, "https://cdn.donmai.us/original/ab/cd/x.jpg")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Source != "url" {
		t.Errorf("expected url source, got %q", result.Source)
	}
	if result.Ext != "jpg" {
		t.Errorf("expected ext jpg from URL, got %q", result.Ext)
	}
}

func TestAcquireNoURLAndNoArchiveFails(t *testing.T) {
	a := NewAcquirer(Config{}, nil, &fakeDownloader{})
	_, err := a.Acquire(context.Background(), 1, "")
	if err == nil {
		t.Fatalf("expected an error when no URL and no archive are available")
	}
}

func TestAcquireDownloaderErrorWrapped(t *testing.T) {
	downloader := &fakeDownloader{err: errors.New("network error")}
	a := NewAcquirer(Config{}, nil, downloader)
	_, err := a.Acquire(context.Background(), 1, "https://cdn.donmai.us/original/ab/cd/x.jpg")
	if err == nil {
		t.Fatalf("expected a wrapped downloader error")
	}
}

func TestAcquireDownloaderNotOKFails(t *testing.T) {
	downloader := &fakeDownloader{ok: false}
	a := NewAcquirer(Config{}, nil, downloader)
	_, err := a.Acquire(context.Background(), 1, "https://cdn.donmai.us/original/ab/cd/x.jpg")
	if err == nil {
		t.Fatalf("expected an error when the downloader reports not-ok")
	}
}

func TestExtFromURLStripsQueryAndFragment(t *testing.T) {
	cases := map[string]string{
		"https://cdn.donmai.us/original/ab/cd/x.jpg":       "jpg",
		"https://cdn.donmai.us/original/ab/cd/x.PNG?foo=1": "png",
		"https://cdn.donmai.us/original/ab/cd/x.webp#frag": "webp",
		"https://cdn.donmai.us/original/ab/cd/noext":       "",
	}
	for url, want := range cases {
		if got := extFromURL(url); got != want {
			t.Errorf("extFromURL(%q) = %q, want %q", url, got, want)
		}
	}
}
