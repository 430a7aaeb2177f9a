package http

import (
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gofiber/fiber/v2"

	"github.com/shinyes/vidbox/internal/models"
	"github.com/shinyes/vidbox/internal/service"
)

func (h *handler) upload(c *fiber.Ctx) error {
	user := CurrentUser(c)
	fileHeader, err := c.FormFile("video")
	if err != nil || fileHeader == nil || fileHeader.Size == 0 {
		return badRequest(c, "No video file provided")
	}
	if limit := h.videos.UploadLimit(); limit > 0 && fileHeader.Size > limit {
		return tooLarge(c, "File too large. Maximum size is "+humanize.IBytes(uint64(limit)))
	}

	var meta uploadMetadata
	if raw := strings.TrimSpace(c.FormValue("metadata")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			return badRequest(c, "invalid metadata")
		}
	}
	formOr := func(field string, fallback string) string {
		if value := strings.TrimSpace(c.FormValue(field)); value != "" {
			return value
		}
		return fallback
	}

	file, err := fileHeader.Open()
	if err != nil {
		return internalError(c, err)
	}
	defer file.Close()

	var thumbnail io.Reader
	if thumbHeader, err := c.FormFile("thumbnail"); err == nil && thumbHeader != nil && thumbHeader.Size > 0 {
		thumbFile, err := thumbHeader.Open()
		if err != nil {
			return internalError(c, err)
		}
		defer thumbFile.Close()
		thumbnail = thumbFile
	}

	videoID := formOr("videoId", meta.ID)
	creatorID := user.ID
	if videoID != "" {
		existing, err := h.videos.Get(c.Context(), videoID)
		switch {
		case err == nil:
			if !canManage(*user, existing) {
				return forbidden(c, "not allowed to modify this video")
			}
			if existing.CreatorID != 0 {
				creatorID = existing.CreatorID
			}
		case !errors.Is(err, service.ErrVideoNotFound):
			return internalError(c, err)
		}
	}

	video, err := h.videos.Upload(c.Context(), service.UploadInput{
		CreatorID:   creatorID,
		VideoID:     videoID,
		Filename:    fileHeader.Filename,
		ContentType: fileHeader.Header.Get(fiber.HeaderContentType),
		Size:        fileHeader.Size,
		Body:        file,
		Title:       formOr("title", meta.Title),
		Description: formOr("description", meta.Description),
		Category:    formOr("category", meta.Category),
		Visibility:  formOr("visibility", meta.Visibility),
		Duration:    formOr("duration", meta.Duration),
		Tags:        meta.Tags,
		Thumbnail:   thumbnail,
	})
	if err != nil {
		return videoError(c, err)
	}
	return c.JSON(uploadResponse{
		Success:   true,
		URL:       video.URL(),
		PublicURL: strings.TrimRight(h.cfg.BaseURL, "/") + video.URL(),
		Filename:  video.StorageKey,
		Video:     toAPIVideo(video),
	})
}

func (h *handler) listVideos(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(strings.TrimSpace(c.Query("limit", "0")))
	offset, _ := strconv.Atoi(strings.TrimSpace(c.Query("offset", "0")))
	videos, err := h.videos.List(c.Context(), service.ListVideosInput{
		Filter:         c.Query("filter"),
		Category:       c.Query("category"),
		Visibility:     c.Query("visibility"),
		IncludePrivate: CurrentUser(c) != nil,
		Limit:          max(limit, 0),
		Offset:         max(offset, 0),
	})
	if err != nil {
		return videoError(c, err)
	}
	resp := listVideosResponse{Videos: make([]apiVideo, 0, len(videos))}
	for _, video := range videos {
		resp.Videos = append(resp.Videos, toAPIVideo(video))
	}
	return c.JSON(resp)
}

func (h *handler) getVideo(c *fiber.Ctx) error {
	video, err := h.visibleVideo(c, c.Params("id"))
	if err != nil {
		return videoError(c, err)
	}
	doc, err := h.videos.Render(video)
	if err != nil {
		return internalError(c, err)
	}
	resp := toAPIVideo(video)
	resp.DescriptionHTML = doc.HTML
	return c.JSON(resp)
}

func (h *handler) saveVideo(c *fiber.Ctx) error {
	var req saveVideoRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if strings.TrimSpace(req.ID) == "" {
		return badRequest(c, "Video ID is required")
	}
	user := CurrentUser(c)

	video := models.Video{
		ID:          req.ID,
		CreatorID:   user.ID,
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		Visibility:  models.Visibility(req.Visibility),
		Filename:    req.Filename,
		Duration:    req.Duration,
		Tags:        req.Tags,
	}
	if raw := strings.TrimSpace(req.UploadDate); raw != "" {
		uploadDate, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return badRequest(c, "invalid uploadDate")
		}
		video.UploadDate = uploadDate
	}

	existing, err := h.videos.Get(c.Context(), req.ID)
	switch {
	case err == nil:
		if !canManage(*user, existing) {
			return forbidden(c, "not allowed to modify this video")
		}
		video.CreatorID = existing.CreatorID
	case !errors.Is(err, service.ErrVideoNotFound):
		return internalError(c, err)
	}

	saved, err := h.videos.Save(c.Context(), video)
	if err != nil {
		return videoError(c, err)
	}
	return c.JSON(toAPIVideo(saved))
}

func (h *handler) updateVideo(c *fiber.Ctx) error {
	var req updateVideoRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	existing, err := h.videos.Get(c.Context(), c.Params("id"))
	if err != nil {
		return videoError(c, err)
	}
	if !canManage(*CurrentUser(c), existing) {
		return forbidden(c, "not allowed to modify this video")
	}

	updated, err := h.videos.Update(c.Context(), existing.ID, req.toPatch())
	if err != nil {
		return videoError(c, err)
	}
	return c.JSON(toAPIVideo(updated))
}

// deleteVideo serves both DELETE /api/videos?id= and DELETE /api/videos/:id.
func (h *handler) deleteVideo(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if id == "" {
		id = strings.TrimSpace(c.Query("id"))
	}
	if id == "" {
		return badRequest(c, "Video ID is required")
	}
	existing, err := h.videos.Get(c.Context(), id)
	if err != nil {
		return videoError(c, err)
	}
	if !canManage(*CurrentUser(c), existing) {
		return forbidden(c, "not allowed to delete this video")
	}

	deleted, err := h.videos.Delete(c.Context(), existing.ID)
	if err != nil {
		return videoError(c, err)
	}
	return c.JSON(deleteVideoResponse{
		Success: true,
		Video:   toAPIVideo(deleted),
	})
}

func (h *handler) recordView(c *fiber.Ctx) error {
	video, err := h.visibleVideo(c, c.Params("id"))
	if err != nil {
		return videoError(c, err)
	}
	updated, err := h.videos.RecordView(c.Context(), video.ID)
	if err != nil {
		return videoError(c, err)
	}
	return c.JSON(toAPIVideo(updated))
}

// visibleVideo hides private videos from anonymous callers.
func (h *handler) visibleVideo(c *fiber.Ctx, id string) (models.Video, error) {
	video, err := h.videos.Get(c.Context(), id)
	if err != nil {
		return models.Video{}, err
	}
	if video.Visibility == models.VisibilityPrivate && CurrentUser(c) == nil {
		return models.Video{}, service.ErrVideoNotFound
	}
	return video, nil
}

func canManage(user models.User, video models.Video) bool {
	return video.CreatorID == 0 || video.CreatorID == user.ID || service.IsAdmin(user)
}

func videoError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrVideoNotFound):
		return notFound(c, "video not found")
	case errors.Is(err, service.ErrVideoPrivate):
		return unauthorized(c, "authentication required")
	case errors.Is(err, service.ErrNoVideoFile):
		return badRequest(c, "No video file provided")
	case errors.Is(err, service.ErrUploadTooLarge):
		return tooLarge(c, err.Error())
	case errors.Is(err, service.ErrUnsupportedMediaType):
		return badRequest(c, "unsupported media type, expected a video")
	case errors.Is(err, service.ErrInvalidVideoID):
		return badRequest(c, "invalid video id")
	case errors.Is(err, service.ErrInvalidVisibility),
		errors.Is(err, service.ErrInvalidTitle),
		errors.Is(err, service.ErrInvalidFilter):
		return badRequest(c, err.Error())
	default:
		return internalError(c, err)
	}
}
