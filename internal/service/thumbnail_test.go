package service

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"
	"strings"
	"testing"
)

func TestBuildThumbnailJPEGFitsBox(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		wantW, wantH  int
	}{
		{"landscape", 1920, 1080, 640, 360},
		{"portrait", 720, 1440, 320, 640},
		{"small stays", 200, 100, 200, 100},
		{"sliver", 6400, 2, 640, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			data, err := buildThumbnailJPEG(bytes.NewReader(encodePNG(t, tc.width, tc.height)))
			if err != nil {
				t.Fatalf("buildThumbnailJPEG() error = %v", err)
			}
			cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
			if err != nil {
				t.Fatalf("DecodeConfig() error = %v", err)
			}
			if cfg.Width != tc.wantW || cfg.Height != tc.wantH {
				t.Fatalf("got %dx%d, want %dx%d", cfg.Width, cfg.Height, tc.wantW, tc.wantH)
			}
		})
	}
}

func TestBuildThumbnailJPEGRejectsInvalidInput(t *testing.T) {
	for _, input := range []string{"", "GIF89a but not really"} {
		if _, err := buildThumbnailJPEG(strings.NewReader(input)); !errors.Is(err, ErrInvalidThumbnail) {
			t.Fatalf("buildThumbnailJPEG(%q) expected ErrInvalidThumbnail, got %v", input, err)
		}
	}
	oversized := bytes.Repeat([]byte{0}, thumbnailMaxSourceSize+1)
	if _, err := buildThumbnailJPEG(bytes.NewReader(oversized)); !errors.Is(err, ErrInvalidThumbnail) {
		t.Fatalf("expected ErrInvalidThumbnail for oversized source, got %v", err)
	}
}

func TestResizeImageNearestKeepsSmallImages(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 10, 10))
	if got := resizeImageNearest(src, 640, 640); got != image.Image(src) {
		t.Fatalf("expected the source image to be returned unchanged")
	}
}

func TestThumbnailStorageKey(t *testing.T) {
	if got := thumbnailStorageKey("clip.mp4"); got != "clip.mp4.thumb.jpg" || !isThumbnailKey(got) {
		t.Fatalf("unexpected thumbnail key %q", got)
	}
	if thumbnailStorageKey("  ") != "" {
		t.Fatalf("expected empty key for blank input")
	}
}
