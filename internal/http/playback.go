package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/shinyes/vidbox/internal/media"
	"github.com/shinyes/vidbox/internal/storage"
)

func (h *handler) playback(c *fiber.Ctx) error {
	obj, err := h.videos.Playback(c.Context(), c.Params("filename"), CurrentUser(c))
	if err != nil {
		return videoError(c, err)
	}
	return h.serveObject(c, obj)
}

func (h *handler) thumbnail(c *fiber.Ctx) error {
	obj, err := h.videos.Thumbnail(c.Context(), c.Params("filename"), CurrentUser(c))
	if err != nil {
		return videoError(c, err)
	}
	return h.serveObject(c, obj)
}

// serveObject adapts the media responder to Fiber. HEAD requests only plan
// the response and never open the object.
func (h *handler) serveObject(c *fiber.Ctx, obj media.Object) error {
	rangeHeader := c.Get(fiber.HeaderRange)

	if c.Method() == fiber.MethodHead {
		resp, err := h.responder.Plan(obj, rangeHeader)
		if err != nil {
			return mediaError(c, err)
		}
		writeMediaHeaders(c, resp)
		c.Response().Header.SetContentLength(int(resp.ContentLength()))
		return nil
	}

	resp, err := h.responder.Respond(c.Context(), obj, rangeHeader)
	if err != nil {
		return mediaError(c, err)
	}
	writeMediaHeaders(c, resp)
	// fasthttp closes the body once it has been written.
	return c.SendStream(resp.Body, int(resp.ContentLength()))
}

func writeMediaHeaders(c *fiber.Ctx, resp media.Response) {
	c.Status(resp.Status)
	for key, values := range resp.Header {
		if key == fiber.HeaderContentLength || len(values) == 0 {
			continue
		}
		c.Set(key, values[0])
	}
}

func mediaError(c *fiber.Ctx, err error) error {
	var rangeErr *media.RangeError
	switch {
	case errors.As(err, &rangeErr):
		c.Set(fiber.HeaderContentRange, rangeErr.ContentRange())
		c.Status(fiber.StatusRequestedRangeNotSatisfiable)
		return nil
	case errors.Is(err, storage.ErrObjectNotFound):
		return notFound(c, "video not found")
	default:
		return internalError(c, err)
	}
}
