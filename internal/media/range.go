package media

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrMalformedRange      = errors.New("malformed range header")
	ErrRangeNotSatisfiable = errors.New("range not satisfiable")
)

// Range is an end-inclusive byte span.
type Range struct {
	Start int64
	End   int64
}

func (r Range) Length() int64 {
	return r.End - r.Start + 1
}

func (r Range) ContentRange(size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, size)
}

// RangeError reports a well-formed range that does not fit the object.
type RangeError struct {
	Size  int64
	Start int64
	End   int64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s: bytes=%d-%d of %d", ErrRangeNotSatisfiable, e.Start, e.End, e.Size)
}

func (e *RangeError) Unwrap() error {
	return ErrRangeNotSatisfiable
}

// ContentRange is the header value sent with a 416 response.
func (e *RangeError) ContentRange() string {
	return fmt.Sprintf("bytes */%d", e.Size)
}

// ParseRange parses a single `bytes=start-end` range against an object of
// the given size. hasRange is false when the header is empty. Headers that
// do not follow the grammar return ErrMalformedRange; well-formed spans
// outside [0, size-1] return a *RangeError.
func ParseRange(raw string, size int64) (r Range, hasRange bool, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Range{}, false, nil
	}

	unit, spec, ok := strings.Cut(raw, "=")
	if !ok || !strings.EqualFold(strings.TrimSpace(unit), "bytes") {
		return Range{}, true, fmt.Errorf("%w: unsupported unit", ErrMalformedRange)
	}
	spec = strings.TrimSpace(spec)
	if strings.Contains(spec, ",") {
		return Range{}, true, fmt.Errorf("%w: multiple ranges", ErrMalformedRange)
	}

	startRaw, endRaw, ok := strings.Cut(spec, "-")
	if !ok {
		return Range{}, true, fmt.Errorf("%w: missing separator", ErrMalformedRange)
	}
	startRaw = strings.TrimSpace(startRaw)
	endRaw = strings.TrimSpace(endRaw)

	start, err := parseOffset(startRaw)
	if err != nil {
		return Range{}, true, err
	}
	end := size - 1
	if endRaw != "" {
		end, err = parseOffset(endRaw)
		if err != nil {
			return Range{}, true, err
		}
	}

	if size <= 0 || start >= size || end >= size || start > end {
		return Range{}, true, &RangeError{Size: size, Start: start, End: end}
	}
	return Range{Start: start, End: end}, true, nil
}

func parseOffset(raw string) (int64, error) {
	if raw == "" {
		return 0, fmt.Errorf("%w: missing start", ErrMalformedRange)
	}
	for _, ch := range raw {
		if ch < '0' || ch > '9' {
			return 0, fmt.Errorf("%w: invalid offset %q", ErrMalformedRange, raw)
		}
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: offset overflow", ErrMalformedRange)
	}
	return v, nil
}
