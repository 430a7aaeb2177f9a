package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const (
	HeaderAcceptRanges = "Accept-Ranges"
	HeaderContentRange = "Content-Range"

	DefaultMaxAge = 365 * 24 * time.Hour
)

// Object describes an immutable stored blob.
type Object struct {
	Key         string
	Size        int64
	ContentType string
	ETag        string
}

// Opener reads [start, end] (inclusive) of a stored object. A negative end
// reads to EOF.
type Opener interface {
	OpenRange(ctx context.Context, key string, start int64, end int64) (io.ReadCloser, error)
}

type Response struct {
	Status  int
	Header  http.Header
	Partial bool
	Span    Range
	// Body is nil for planned (HEAD) responses.
	Body io.ReadCloser
}

func (r Response) ContentLength() int64 {
	return r.Span.Length()
}

type Responder struct {
	opener       Opener
	cacheControl string
}

func NewResponder(opener Opener, maxAge time.Duration) *Responder {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Responder{
		opener:       opener,
		cacheControl: fmt.Sprintf("public, max-age=%d", int64(maxAge/time.Second)),
	}
}

// Plan decides status, headers and span without touching storage. A
// malformed range header is ignored and the full object is planned.
func (r *Responder) Plan(obj Object, rangeHeader string) (Response, error) {
	header := make(http.Header)
	contentType := obj.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)
	header.Set("Cache-Control", r.cacheControl)
	if obj.ETag != "" {
		header.Set("ETag", obj.ETag)
	}

	span, hasRange, err := ParseRange(rangeHeader, obj.Size)
	if err != nil {
		if !errors.Is(err, ErrMalformedRange) {
			return Response{}, err
		}
		hasRange = false
	}

	if !hasRange {
		full := Range{Start: 0, End: obj.Size - 1}
		header.Set("Content-Length", strconv.FormatInt(full.Length(), 10))
		return Response{
			Status: http.StatusOK,
			Header: header,
			Span:   full,
		}, nil
	}

	header.Set(HeaderContentRange, span.ContentRange(obj.Size))
	header.Set(HeaderAcceptRanges, "bytes")
	header.Set("Content-Length", strconv.FormatInt(span.Length(), 10))
	return Response{
		Status:  http.StatusPartialContent,
		Header:  header,
		Partial: true,
		Span:    span,
	}, nil
}

// Respond plans the response and opens the body for the planned span.
func (r *Responder) Respond(ctx context.Context, obj Object, rangeHeader string) (Response, error) {
	resp, err := r.Plan(obj, rangeHeader)
	if err != nil {
		return Response{}, err
	}

	end := resp.Span.End
	if !resp.Partial {
		end = -1
	}
	body, err := r.opener.OpenRange(ctx, obj.Key, resp.Span.Start, end)
	if err != nil {
		return Response{}, fmt.Errorf("open %s: %w", obj.Key, err)
	}
	resp.Body = body
	return resp, nil
}
