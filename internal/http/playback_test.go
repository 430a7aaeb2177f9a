package http

import (
	"bytes"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
)

func testPayload(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func playbackRequest(method string, target string, rangeHeader string, token string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestPlaybackRanges(t *testing.T) {
	ta := newTestApp(t, false, true)
	data := testPayload(100)
	uploadVideo(t, ta.app, map[string]string{"videoId": "movie"}, "movie.mp4", data)

	tests := []struct {
		name        string
		rangeHeader string
		wantStatus  int
		wantBody    []byte
		wantRange   string
		wantAccept  string
		wantLength  string
	}{
		{"no range", "", http.StatusOK, data, "", "", "100"},
		{"bounded", "bytes=10-19", http.StatusPartialContent, data[10:20], "bytes 10-19/100", "bytes", "10"},
		{"open ended", "bytes=90-", http.StatusPartialContent, data[90:], "bytes 90-99/100", "bytes", "10"},
		{"single byte", "bytes=0-0", http.StatusPartialContent, data[:1], "bytes 0-0/100", "bytes", "1"},
		{"whole object as range", "bytes=0-99", http.StatusPartialContent, data, "bytes 0-99/100", "bytes", "100"},
		{"suffix treated as absent", "bytes=-10", http.StatusOK, data, "", "", "100"},
		{"multi range treated as absent", "bytes=0-1,5-6", http.StatusOK, data, "", "", "100"},
		{"other unit treated as absent", "items=0-1", http.StatusOK, data, "", "", "100"},
		{"start past end", "bytes=100-", http.StatusRequestedRangeNotSatisfiable, []byte{}, "bytes */100", "", "0"},
		{"end past size", "bytes=50-100", http.StatusRequestedRangeNotSatisfiable, []byte{}, "bytes */100", "", "0"},
		{"inverted", "bytes=20-10", http.StatusRequestedRangeNotSatisfiable, []byte{}, "bytes */100", "", "0"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := doRequest(t, ta.app, playbackRequest(http.MethodGet, "/videos/movie.mp4", tc.rangeHeader, ""))
			expectStatus(t, resp, tc.wantStatus)
			if got := readAll(t, resp); !bytes.Equal(got, tc.wantBody) {
				t.Fatalf("body mismatch: got %d bytes, want %d", len(got), len(tc.wantBody))
			}
			if got := resp.Header.Get("Content-Range"); got != tc.wantRange {
				t.Fatalf("Content-Range = %q, want %q", got, tc.wantRange)
			}
			if got := resp.Header.Get("Accept-Ranges"); got != tc.wantAccept {
				t.Fatalf("Accept-Ranges = %q, want %q", got, tc.wantAccept)
			}
			if got := resp.Header.Get("Content-Length"); got != tc.wantLength {
				t.Fatalf("Content-Length = %q, want %q", got, tc.wantLength)
			}
			if tc.wantStatus != http.StatusRequestedRangeNotSatisfiable {
				if got := resp.Header.Get("Content-Type"); got != "video/mp4" {
					t.Fatalf("Content-Type = %q", got)
				}
				if got := resp.Header.Get("Cache-Control"); got != "public, max-age=3600" {
					t.Fatalf("Cache-Control = %q", got)
				}
				if resp.Header.Get("ETag") == "" {
					t.Fatalf("expected ETag header")
				}
			}
		})
	}
}

func TestPlaybackHead(t *testing.T) {
	ta := newTestApp(t, false, true)
	uploadVideo(t, ta.app, map[string]string{"videoId": "movie"}, "movie.mp4", testPayload(100))

	resp := doRequest(t, ta.app, playbackRequest(http.MethodHead, "/videos/movie.mp4", "", ""))
	expectStatus(t, resp, http.StatusOK)
	if got := resp.Header.Get("Content-Length"); got != "100" {
		t.Fatalf("HEAD Content-Length = %q", got)
	}

	resp = doRequest(t, ta.app, playbackRequest(http.MethodHead, "/videos/movie.mp4", "bytes=20-29", ""))
	expectStatus(t, resp, http.StatusPartialContent)
	if got := resp.Header.Get("Content-Length"); got != "10" {
		t.Fatalf("HEAD range Content-Length = %q", got)
	}
	if got := resp.Header.Get("Content-Range"); got != "bytes 20-29/100" {
		t.Fatalf("HEAD Content-Range = %q", got)
	}
	if body := readAll(t, resp); len(body) != 0 {
		t.Fatalf("HEAD must not carry a body, got %d bytes", len(body))
	}
}

func TestPlaybackAccessAndNotFound(t *testing.T) {
	ta := newTestApp(t, false, true)
	uploadVideo(t, ta.app, map[string]string{"videoId": "hidden", "visibility": "private"}, "hidden.mp4", testPayload(10))
	uploadVideo(t, ta.app, map[string]string{"videoId": "link", "visibility": "unlisted"}, "link.webm", testPayload(10))

	expectStatus(t, doRequest(t, ta.app, playbackRequest(http.MethodGet, "/videos/hidden.mp4", "", "")), http.StatusUnauthorized)
	expectStatus(t, doRequest(t, ta.app, playbackRequest(http.MethodGet, "/videos/hidden.mp4", "", demoToken)), http.StatusOK)
	expectStatus(t, doRequest(t, ta.app, playbackRequest(http.MethodGet, "/videos/link.webm", "bytes=0-4", "")), http.StatusPartialContent)
	expectStatus(t, doRequest(t, ta.app, playbackRequest(http.MethodGet, "/videos/missing.mp4", "", "")), http.StatusNotFound)
	expectStatus(t, doRequest(t, ta.app, playbackRequest(http.MethodGet, "/videos/missing.mp4", "bytes=0-1", "")), http.StatusNotFound)
}

func TestPlaybackEmptyObject(t *testing.T) {
	ta := newTestApp(t, false, true)
	if _, err := ta.storage.Put(t.Context(), "empty.mp4", "video/mp4", nil); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	resp := doRequest(t, ta.app, playbackRequest(http.MethodGet, "/videos/empty.mp4", "", ""))
	expectStatus(t, resp, http.StatusOK)
	if got := resp.Header.Get("Content-Length"); got != "0" {
		t.Fatalf("Content-Length = %q", got)
	}

	resp = doRequest(t, ta.app, playbackRequest(http.MethodGet, "/videos/empty.mp4", "bytes=0-", ""))
	expectStatus(t, resp, http.StatusRequestedRangeNotSatisfiable)
	if got := resp.Header.Get("Content-Range"); got != "bytes */0" {
		t.Fatalf("Content-Range = %q", got)
	}
}

func TestThumbnailEndpoint(t *testing.T) {
	ta := newTestApp(t, false, true)
	var poster bytes.Buffer
	if err := png.Encode(&poster, image.NewRGBA(image.Rect(0, 0, 64, 32))); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}

	req := multipartRequest(t, "/api/upload", map[string]string{"videoId": "withposter"}, []formFile{
		{field: "video", filename: "v.mp4", contentType: "video/mp4", data: testPayload(20)},
		{field: "thumbnail", filename: "poster.png", contentType: "image/png", data: poster.Bytes()},
	}, demoToken)
	resp := doRequest(t, ta.app, req)
	expectStatus(t, resp, http.StatusOK)
	var out uploadResponse
	decodeJSON(t, resp, &out)
	if out.Video.ThumbnailURL != "/videos/withposter.mp4/thumbnail" {
		t.Fatalf("unexpected thumbnail url %q", out.Video.ThumbnailURL)
	}

	resp = doRequest(t, ta.app, playbackRequest(http.MethodGet, out.Video.ThumbnailURL, "", ""))
	expectStatus(t, resp, http.StatusOK)
	if got := resp.Header.Get("Content-Type"); got != "image/jpeg" {
		t.Fatalf("thumbnail Content-Type = %q", got)
	}
	body := readAll(t, resp)
	if strconv.Itoa(len(body)) != resp.Header.Get("Content-Length") || len(body) == 0 {
		t.Fatalf("thumbnail length mismatch: body=%d header=%s", len(body), resp.Header.Get("Content-Length"))
	}

	expectStatus(t, doRequest(t, ta.app, playbackRequest(http.MethodGet, "/videos/withposter.mp4.thumb.jpg", "", "")), http.StatusNotFound)
}
