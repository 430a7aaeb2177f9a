package media

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryOpener struct {
	objects map[string][]byte
	opened  int
}

func (m *memoryOpener) OpenRange(_ context.Context, key string, start int64, end int64) (io.ReadCloser, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, errors.New("object not found")
	}
	m.opened++
	if end < 0 {
		end = int64(len(data)) - 1
	}
	return io.NopCloser(bytes.NewReader(data[start : end+1])), nil
}

func newTestObject(size int) ([]byte, Object) {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i * 7 % 251)
	}
	return data, Object{
		Key:         "video_1.mp4",
		Size:        int64(size),
		ContentType: "video/mp4",
		ETag:        `"abc"`,
	}
}

func readBody(t *testing.T, resp Response) []byte {
	t.Helper()
	require.NotNil(t, resp.Body)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return body
}

func TestRespondWithoutRangeReturnsFullObject(t *testing.T) {
	data, obj := newTestObject(1000)
	responder := NewResponder(&memoryOpener{objects: map[string][]byte{obj.Key: data}}, 0)

	resp, err := responder.Respond(context.Background(), obj, "")
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.Status)
	assert.False(t, resp.Partial)
	assert.Equal(t, "video/mp4", resp.Header.Get("Content-Type"))
	assert.Equal(t, "1000", resp.Header.Get("Content-Length"))
	assert.Equal(t, "public, max-age=31536000", resp.Header.Get("Cache-Control"))
	assert.Equal(t, `"abc"`, resp.Header.Get("ETag"))
	assert.Empty(t, resp.Header.Get(HeaderContentRange))
	assert.Empty(t, resp.Header.Get(HeaderAcceptRanges))
	assert.Equal(t, data, readBody(t, resp))
}

func TestRespondOpenEndedRange(t *testing.T) {
	data, obj := newTestObject(1000)
	responder := NewResponder(&memoryOpener{objects: map[string][]byte{obj.Key: data}}, time.Hour)

	resp, err := responder.Respond(context.Background(), obj, "bytes=100-")
	require.NoError(t, err)

	assert.Equal(t, http.StatusPartialContent, resp.Status)
	assert.Equal(t, "bytes 100-999/1000", resp.Header.Get(HeaderContentRange))
	assert.Equal(t, "bytes", resp.Header.Get(HeaderAcceptRanges))
	assert.Equal(t, "900", resp.Header.Get("Content-Length"))
	assert.Equal(t, "public, max-age=3600", resp.Header.Get("Cache-Control"))
	body := readBody(t, resp)
	assert.Len(t, body, 900)
	assert.Equal(t, data[100:], body)
}

func TestRespondEveryValidRangeMatchesSlice(t *testing.T) {
	data, obj := newTestObject(64)
	responder := NewResponder(&memoryOpener{objects: map[string][]byte{obj.Key: data}}, 0)

	for start := int64(0); start < obj.Size; start++ {
		for end := start; end < obj.Size; end++ {
			header := "bytes=" + strconv.FormatInt(start, 10) + "-" + strconv.FormatInt(end, 10)
			resp, err := responder.Respond(context.Background(), obj, header)
			require.NoError(t, err, header)
			require.Equal(t, http.StatusPartialContent, resp.Status, header)
			body := readBody(t, resp)
			require.Len(t, body, int(end-start+1), header)
			require.Equal(t, data[start:end+1], body, header)
		}
	}
}

func TestRespondUnsatisfiableRange(t *testing.T) {
	data, obj := newTestObject(1000)
	opener := &memoryOpener{objects: map[string][]byte{obj.Key: data}}
	responder := NewResponder(opener, 0)

	for _, header := range []string{"bytes=2000-3000", "bytes=1000-", "bytes=500-400", "bytes=900-1000"} {
		_, err := responder.Respond(context.Background(), obj, header)
		require.Error(t, err, header)
		assert.ErrorIs(t, err, ErrRangeNotSatisfiable, header)

		var rangeErr *RangeError
		require.True(t, errors.As(err, &rangeErr), header)
		assert.Equal(t, "bytes */1000", rangeErr.ContentRange())
	}
	assert.Zero(t, opener.opened)
}

func TestRespondMalformedRangeFallsBackToFullBody(t *testing.T) {
	data, obj := newTestObject(1000)
	responder := NewResponder(&memoryOpener{objects: map[string][]byte{obj.Key: data}}, 0)

	for _, header := range []string{"bytes=abc", "bytes=-200", "bytes=0-10,20-30", "items=0-1", "bytes", "bytes=+1-2"} {
		resp, err := responder.Respond(context.Background(), obj, header)
		require.NoError(t, err, header)
		assert.Equal(t, http.StatusOK, resp.Status, header)
		assert.Empty(t, resp.Header.Get(HeaderContentRange), header)
		assert.Equal(t, data, readBody(t, resp), header)
	}
}

func TestRespondIsIdempotent(t *testing.T) {
	data, obj := newTestObject(1000)
	responder := NewResponder(&memoryOpener{objects: map[string][]byte{obj.Key: data}}, 0)

	first, err := responder.Respond(context.Background(), obj, "bytes=10-99")
	require.NoError(t, err)
	second, err := responder.Respond(context.Background(), obj, "bytes=10-99")
	require.NoError(t, err)

	assert.Equal(t, first.Header, second.Header)
	assert.Equal(t, readBody(t, first), readBody(t, second))
}

func TestPlanDoesNotOpenStorage(t *testing.T) {
	_, obj := newTestObject(10)
	opener := &memoryOpener{}
	responder := NewResponder(opener, 0)

	resp, err := responder.Plan(obj, "bytes=2-5")
	require.NoError(t, err)
	assert.Nil(t, resp.Body)
	assert.Equal(t, int64(4), resp.ContentLength())
	assert.Zero(t, opener.opened)
}

func TestPlanEmptyObject(t *testing.T) {
	responder := NewResponder(&memoryOpener{}, 0)
	obj := Object{Key: "empty.webm", ContentType: "video/webm"}

	resp, err := responder.Plan(obj, "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "0", resp.Header.Get("Content-Length"))

	_, err = responder.Plan(obj, "bytes=0-")
	assert.ErrorIs(t, err, ErrRangeNotSatisfiable)
}
