package service

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"
	"io"
	"math"
	"strings"

	_ "image/gif"
	_ "image/png"
)

const (
	thumbnailMaxDimension  = 640
	thumbnailJPEGQuality   = 80
	thumbnailMaxSourceSize = 8 * 1024 * 1024
	thumbnailContentType   = "image/jpeg"
	thumbnailKeySuffix     = ".thumb.jpg"
)

var ErrInvalidThumbnail = errors.New("invalid thumbnail image")

func thumbnailStorageKey(storageKey string) string {
	storageKey = strings.TrimSpace(storageKey)
	if storageKey == "" {
		return ""
	}
	return storageKey + thumbnailKeySuffix
}

func isThumbnailKey(key string) bool {
	return strings.HasSuffix(key, thumbnailKeySuffix)
}

// buildThumbnailJPEG decodes a poster image and re-encodes it as a JPEG that
// fits in a 640x640 box.
func buildThumbnailJPEG(reader io.Reader) ([]byte, error) {
	limited := io.LimitReader(reader, thumbnailMaxSourceSize+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 || len(data) > thumbnailMaxSourceSize {
		return nil, ErrInvalidThumbnail
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Join(ErrInvalidThumbnail, err)
	}

	resized := resizeImageNearest(src, thumbnailMaxDimension, thumbnailMaxDimension)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: thumbnailJPEGQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func resizeImageNearest(src image.Image, maxWidth int, maxHeight int) image.Image {
	bounds := src.Bounds()
	srcWidth := bounds.Dx()
	srcHeight := bounds.Dy()
	if srcWidth <= 0 || srcHeight <= 0 {
		return src
	}
	if srcWidth <= maxWidth && srcHeight <= maxHeight {
		return src
	}

	scale := math.Min(
		float64(maxWidth)/float64(srcWidth),
		float64(maxHeight)/float64(srcHeight),
	)
	dstWidth := int(math.Max(1, math.Round(float64(srcWidth)*scale)))
	dstHeight := int(math.Max(1, math.Round(float64(srcHeight)*scale)))

	dst := image.NewRGBA(image.Rect(0, 0, dstWidth, dstHeight))
	for y := 0; y < dstHeight; y++ {
		srcY := bounds.Min.Y + y*srcHeight/dstHeight
		for x := 0; x < dstWidth; x++ {
			srcX := bounds.Min.X + x*srcWidth/dstWidth
			dst.Set(x, y, src.At(srcX, srcY))
		}
	}
	return dst
}
