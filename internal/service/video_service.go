package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/shinyes/vidbox/internal/markdown"
	"github.com/shinyes/vidbox/internal/media"
	"github.com/shinyes/vidbox/internal/models"
	"github.com/shinyes/vidbox/internal/storage"
	"github.com/shinyes/vidbox/internal/store"
)

var (
	ErrVideoNotFound        = errors.New("video not found")
	ErrVideoPrivate         = errors.New("video is private")
	ErrNoVideoFile          = errors.New("no video file provided")
	ErrUploadTooLarge       = errors.New("upload too large")
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrInvalidVideoID       = errors.New("invalid video id")
	ErrInvalidVisibility    = errors.New("invalid visibility")
	ErrInvalidTitle         = errors.New("invalid title")

	videoIDPattern   = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)
	extensionPattern = regexp.MustCompile(`^\.[a-z0-9]{1,8}$`)
)

const (
	defaultVideoExtension = ".mp4"
	defaultDuration       = "00:00"
	maxTitleRunes         = 200
	sniffLength           = 3072
)

var videoContentTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".webm": "video/webm",
	".ogg":  "video/ogg",
	".ogv":  "video/ogg",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
	".mkv":  "video/x-matroska",
}

// MetadataStore persists video metadata. *store.SQLStore implements it.
type MetadataStore interface {
	UpsertVideo(ctx context.Context, video models.Video) (models.Video, error)
	GetVideoByID(ctx context.Context, id string) (models.Video, error)
	GetVideoByStorageKey(ctx context.Context, key string) (models.Video, error)
	UpdateVideo(ctx context.Context, id string, update store.VideoUpdate) (models.Video, error)
	IncrementVideoViews(ctx context.Context, id string) (models.Video, error)
	DeleteVideo(ctx context.Context, id string) error
	ListVideos(ctx context.Context, prefilter store.VideoSQLPrefilter, limit int, offset int) ([]models.Video, error)
	ListVideoStorageKeys(ctx context.Context) (map[string][]string, error)
}

type VideoService struct {
	meta        MetadataStore
	storage     storage.Store
	markdown    *markdown.Service
	uploadLimit int64
}

func NewVideoService(meta MetadataStore, fileStorage storage.Store, md *markdown.Service, uploadLimit int64) *VideoService {
	if md == nil {
		md = markdown.NewService()
	}
	return &VideoService{
		meta:        meta,
		storage:     fileStorage,
		markdown:    md,
		uploadLimit: uploadLimit,
	}
}

func (s *VideoService) Storage() storage.Store {
	return s.storage
}

func (s *VideoService) UploadLimit() int64 {
	return s.uploadLimit
}

type UploadInput struct {
	CreatorID   int64
	VideoID     string
	Filename    string
	ContentType string
	// Size is the declared byte length of Body.
	Size        int64
	Body        io.Reader
	Title       string
	Description string
	Category    string
	Visibility  string
	Duration    string
	Tags        []string
	Thumbnail   io.Reader
}

// Upload stores the video bytes under "<videoID><ext>" and records its
// metadata. The stored object is removed again when metadata cannot be
// written.
func (s *VideoService) Upload(ctx context.Context, input UploadInput) (models.Video, error) {
	if input.Body == nil || input.Size <= 0 {
		return models.Video{}, ErrNoVideoFile
	}
	if s.uploadLimit > 0 && input.Size > s.uploadLimit {
		return models.Video{}, fmt.Errorf("%w: %s exceeds limit of %s",
			ErrUploadTooLarge, humanize.IBytes(uint64(input.Size)), humanize.IBytes(uint64(s.uploadLimit)))
	}

	videoID := strings.TrimSpace(input.VideoID)
	if videoID == "" {
		videoID = uuid.NewString()
	}
	if !videoIDPattern.MatchString(videoID) {
		return models.Video{}, ErrInvalidVideoID
	}
	visibility, err := normalizeVisibility(input.Visibility)
	if err != nil {
		return models.Video{}, err
	}

	filename := sanitizeFilename(input.Filename)
	ext := videoExtension(filename)
	key := videoID + ext
	if isThumbnailKey(key) {
		return models.Video{}, ErrInvalidVideoID
	}

	head := make([]byte, sniffLength)
	n, err := io.ReadFull(input.Body, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return models.Video{}, fmt.Errorf("read upload: %w", err)
	}
	head = head[:n]
	contentType := detectVideoContentType(input.ContentType, head, ext)
	if contentType == "" {
		return models.Video{}, ErrUnsupportedMediaType
	}

	previous, err := s.meta.GetVideoByID(ctx, videoID)
	hasPrevious := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return models.Video{}, err
	}

	size, err := s.storage.PutStream(ctx, key, contentType, io.MultiReader(bytes.NewReader(head), input.Body), input.Size)
	if err != nil {
		return models.Video{}, fmt.Errorf("store video: %w", err)
	}

	thumbnailKey := ""
	if input.Thumbnail != nil {
		thumbnailKey, err = s.storeThumbnail(ctx, key, input.Thumbnail)
		if err != nil {
			log.Warnf("skip thumbnail for %s: %v", key, err)
		}
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = strings.TrimSuffix(filename, filepath.Ext(filename))
	}
	if title == "" {
		title = videoID
	}
	description := strings.TrimSpace(input.Description)
	tags, err := s.collectTags(description, input.Tags)
	if err != nil {
		s.discardObjects(ctx, key, thumbnailKey)
		return models.Video{}, err
	}

	video := models.Video{
		ID:           videoID,
		CreatorID:    input.CreatorID,
		Title:        truncateRunes(title, maxTitleRunes),
		Description:  description,
		Category:     normalizeCategory(input.Category),
		Visibility:   visibility,
		Filename:     filename,
		StorageType:  s.storage.Type(),
		StorageKey:   key,
		ContentType:  contentType,
		Size:         size,
		Duration:     normalizeDuration(input.Duration),
		ThumbnailKey: thumbnailKey,
		Tags:         tags,
		UploadDate:   time.Now().UTC(),
	}
	if hasPrevious {
		if previous.CreatorID != 0 {
			video.CreatorID = previous.CreatorID
		}
		video.Views = previous.Views
		if video.ThumbnailKey == "" && previous.StorageKey == key {
			video.ThumbnailKey = previous.ThumbnailKey
		}
	}

	saved, err := s.meta.UpsertVideo(ctx, video)
	if err != nil {
		s.discardObjects(ctx, key, thumbnailKey)
		return models.Video{}, fmt.Errorf("save video metadata: %w", err)
	}

	if hasPrevious && previous.StorageKey != key {
		s.discardObjects(ctx, previous.StorageKey, previous.ThumbnailKey)
	}
	log.Infof("stored video id=%s key=%s size=%s type=%s", saved.ID, key, humanize.IBytes(uint64(size)), contentType)
	return saved, nil
}

type ListVideosInput struct {
	Filter         string
	Category       string
	Visibility     string
	IncludePrivate bool
	Limit          int
	Offset         int
}

// List returns videos newest first. Without IncludePrivate only public
// videos are listed.
func (s *VideoService) List(ctx context.Context, input ListVideosInput) ([]models.Video, error) {
	filter, err := CompileVideoFilter(input.Filter)
	if err != nil {
		return nil, err
	}

	prefilter := filter.SQLPrefilter()
	if category := strings.TrimSpace(input.Category); category != "" {
		prefilter = mergePrefilterAnd(prefilter, store.VideoSQLPrefilter{CategoryIn: []string{category}})
	}
	if raw := strings.TrimSpace(input.Visibility); raw != "" {
		visibility := models.Visibility(strings.ToLower(raw))
		if !visibility.IsValid() {
			return nil, ErrInvalidVisibility
		}
		prefilter = mergePrefilterAnd(prefilter, store.VideoSQLPrefilter{VisibilityIn: []models.Visibility{visibility}})
	}
	if !input.IncludePrivate {
		prefilter = mergePrefilterAnd(prefilter, store.VideoSQLPrefilter{VisibilityIn: []models.Visibility{models.VisibilityPublic}})
	}

	limit, offset := input.Limit, input.Offset
	if filter != nil {
		// Paging happens after the in-memory filter.
		limit, offset = 0, 0
	}
	videos, err := s.meta.ListVideos(ctx, prefilter, limit, offset)
	if err != nil {
		return nil, err
	}
	if filter == nil {
		return videos, nil
	}

	result := make([]models.Video, 0, len(videos))
	for _, video := range videos {
		ok, err := filter.Matches(video)
		if err != nil {
			return nil, err
		}
		if ok {
			result = append(result, video)
		}
	}
	return paginate(result, input.Limit, input.Offset), nil
}

func (s *VideoService) Get(ctx context.Context, id string) (models.Video, error) {
	video, err := s.meta.GetVideoByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return models.Video{}, notFoundErr(err)
	}
	return video, nil
}

// Render converts the description to HTML.
func (s *VideoService) Render(video models.Video) (markdown.Document, error) {
	return s.markdown.Render(video.Description)
}

// Save creates or replaces metadata for an object that is already in
// storage.
func (s *VideoService) Save(ctx context.Context, video models.Video) (models.Video, error) {
	video.ID = strings.TrimSpace(video.ID)
	if video.ID == "" || !videoIDPattern.MatchString(video.ID) {
		return models.Video{}, ErrInvalidVideoID
	}
	visibility, err := normalizeVisibility(string(video.Visibility))
	if err != nil {
		return models.Video{}, err
	}
	video.Visibility = visibility
	video.Title = truncateRunes(strings.TrimSpace(video.Title), maxTitleRunes)
	if video.Title == "" {
		return models.Video{}, ErrInvalidTitle
	}
	video.Description = strings.TrimSpace(video.Description)
	video.Category = normalizeCategory(video.Category)
	video.Duration = normalizeDuration(video.Duration)

	existing, err := s.meta.GetVideoByID(ctx, video.ID)
	hasExisting := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return models.Video{}, err
	}

	video.StorageKey = strings.TrimSpace(video.StorageKey)
	if video.StorageKey == "" {
		switch {
		case hasExisting:
			video.StorageKey = existing.StorageKey
		case video.Filename != "":
			video.StorageKey = video.ID + videoExtension(video.Filename)
		default:
			video.StorageKey = video.ID + defaultVideoExtension
		}
	}
	if hasExisting {
		if video.ThumbnailKey == "" {
			video.ThumbnailKey = existing.ThumbnailKey
		}
		if video.UploadDate.IsZero() {
			video.UploadDate = existing.UploadDate
		}
	}
	if video.Size <= 0 || video.ContentType == "" {
		info, err := s.storage.Stat(ctx, video.StorageKey)
		switch {
		case err == nil:
			if video.Size <= 0 {
				video.Size = info.Size
			}
			if video.ContentType == "" {
				video.ContentType = info.ContentType
			}
		case !errors.Is(err, storage.ErrObjectNotFound):
			return models.Video{}, err
		}
	}
	if video.ContentType == "" {
		video.ContentType = videoContentTypes[strings.ToLower(filepath.Ext(video.StorageKey))]
	}
	video.StorageType = s.storage.Type()

	video.Tags, err = s.collectTags(video.Description, video.Tags)
	if err != nil {
		return models.Video{}, err
	}
	return s.meta.UpsertVideo(ctx, video)
}

type VideoPatch struct {
	Title       *string
	Description *string
	Category    *string
	Visibility  *string
	Duration    *string
}

func (s *VideoService) Update(ctx context.Context, id string, patch VideoPatch) (models.Video, error) {
	var update store.VideoUpdate
	if patch.Title != nil {
		title := truncateRunes(strings.TrimSpace(*patch.Title), maxTitleRunes)
		if title == "" {
			return models.Video{}, ErrInvalidTitle
		}
		update.Title = &title
	}
	if patch.Description != nil {
		description := strings.TrimSpace(*patch.Description)
		tags, err := s.collectTags(description, nil)
		if err != nil {
			return models.Video{}, err
		}
		update.Description = &description
		update.Tags = &tags
	}
	if patch.Category != nil {
		category := normalizeCategory(*patch.Category)
		update.Category = &category
	}
	if patch.Visibility != nil {
		visibility, err := normalizeVisibility(*patch.Visibility)
		if err != nil {
			return models.Video{}, err
		}
		update.Visibility = &visibility
	}
	if patch.Duration != nil {
		duration := normalizeDuration(*patch.Duration)
		update.Duration = &duration
	}

	video, err := s.meta.UpdateVideo(ctx, strings.TrimSpace(id), update)
	if err != nil {
		return models.Video{}, notFoundErr(err)
	}
	return video, nil
}

func (s *VideoService) RecordView(ctx context.Context, id string) (models.Video, error) {
	video, err := s.meta.IncrementVideoViews(ctx, strings.TrimSpace(id))
	if err != nil {
		return models.Video{}, notFoundErr(err)
	}
	return video, nil
}

// Delete removes the stored object, its thumbnail and the metadata row.
// Objects are deleted by their recorded key.
func (s *VideoService) Delete(ctx context.Context, id string) (models.Video, error) {
	video, err := s.meta.GetVideoByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return models.Video{}, notFoundErr(err)
	}
	for _, key := range []string{video.StorageKey, video.ThumbnailKey} {
		if key == "" {
			continue
		}
		if err := s.storage.Delete(ctx, key); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
			return models.Video{}, fmt.Errorf("delete object %s: %w", key, err)
		}
	}
	if err := s.meta.DeleteVideo(ctx, video.ID); err != nil {
		return models.Video{}, notFoundErr(err)
	}
	log.Infof("deleted video id=%s key=%s", video.ID, video.StorageKey)
	return video, nil
}

// Playback resolves a stored filename into the object the media responder
// serves. Private videos need a viewer.
func (s *VideoService) Playback(ctx context.Context, filename string, viewer *models.User) (media.Object, error) {
	key, err := playbackKey(filename)
	if err != nil {
		return media.Object{}, err
	}
	// Posters are only reachable through Thumbnail.
	if isThumbnailKey(key) {
		return media.Object{}, ErrVideoNotFound
	}
	video, hasVideo, err := s.videoForKey(ctx, key)
	if err != nil {
		return media.Object{}, err
	}
	if hasVideo && video.Visibility == models.VisibilityPrivate && viewer == nil {
		return media.Object{}, ErrVideoPrivate
	}

	obj, err := s.statObject(ctx, key)
	if err != nil {
		return media.Object{}, err
	}
	if hasVideo && video.ContentType != "" {
		obj.ContentType = video.ContentType
	}
	if obj.ContentType == "" || obj.ContentType == "application/octet-stream" {
		if contentType, ok := videoContentTypes[strings.ToLower(filepath.Ext(key))]; ok {
			obj.ContentType = contentType
		}
	}
	return obj, nil
}

// Thumbnail resolves the poster image of the video stored under filename.
func (s *VideoService) Thumbnail(ctx context.Context, filename string, viewer *models.User) (media.Object, error) {
	key, err := playbackKey(filename)
	if err != nil {
		return media.Object{}, err
	}
	video, hasVideo, err := s.videoForKey(ctx, key)
	if err != nil {
		return media.Object{}, err
	}
	if !hasVideo || video.ThumbnailKey == "" {
		return media.Object{}, ErrVideoNotFound
	}
	if video.Visibility == models.VisibilityPrivate && viewer == nil {
		return media.Object{}, ErrVideoPrivate
	}
	obj, err := s.statObject(ctx, video.ThumbnailKey)
	if err != nil {
		return media.Object{}, err
	}
	obj.ContentType = thumbnailContentType
	return obj, nil
}

func (s *VideoService) videoForKey(ctx context.Context, key string) (models.Video, bool, error) {
	video, err := s.meta.GetVideoByStorageKey(ctx, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Video{}, false, nil
		}
		return models.Video{}, false, err
	}
	return video, true, nil
}

func (s *VideoService) statObject(ctx context.Context, key string) (media.Object, error) {
	info, err := s.storage.Stat(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return media.Object{}, ErrVideoNotFound
		}
		return media.Object{}, err
	}
	return media.Object{
		Key:         key,
		Size:        info.Size,
		ContentType: info.ContentType,
		ETag:        info.ETag,
	}, nil
}

func (s *VideoService) storeThumbnail(ctx context.Context, videoKey string, reader io.Reader) (string, error) {
	data, err := buildThumbnailJPEG(reader)
	if err != nil {
		return "", err
	}
	key := thumbnailStorageKey(videoKey)
	if _, err := s.storage.Put(ctx, key, thumbnailContentType, data); err != nil {
		return "", err
	}
	return key, nil
}

func (s *VideoService) discardObjects(ctx context.Context, keys ...string) {
	for _, key := range keys {
		if key == "" {
			continue
		}
		if err := s.storage.Delete(ctx, key); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
			log.Warnf("discard object %s: %v", key, err)
		}
	}
}

func (s *VideoService) collectTags(description string, extra []string) ([]string, error) {
	tags, err := s.markdown.ExtractTags(description)
	if err != nil {
		return nil, err
	}
	return markdown.NormalizeTags(append(tags, extra...)), nil
}

// detectVideoContentType prefers the declared type, then the sniffed type,
// then the extension table. It returns "" for non-video content.
func detectVideoContentType(declared string, head []byte, ext string) string {
	declared = strings.ToLower(strings.TrimSpace(declared))
	if mediaType, _, _ := strings.Cut(declared, ";"); strings.HasPrefix(mediaType, "video/") {
		return strings.TrimSpace(mediaType)
	}
	if len(head) > 0 {
		sniffed, _, _ := strings.Cut(mimetype.Detect(head).String(), ";")
		if strings.HasPrefix(sniffed, "video/") {
			return sniffed
		}
	}
	return videoContentTypes[ext]
}

func videoExtension(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if !extensionPattern.MatchString(ext) {
		return defaultVideoExtension
	}
	return ext
}

func playbackKey(filename string) (string, error) {
	key := strings.TrimSpace(filename)
	if key == "" || strings.ContainsAny(key, `/\`) || strings.HasPrefix(key, ".") {
		return "", ErrVideoNotFound
	}
	return key, nil
}

func normalizeVisibility(raw string) (models.Visibility, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return models.VisibilityPublic, nil
	}
	visibility := models.Visibility(raw)
	if !visibility.IsValid() {
		return "", ErrInvalidVisibility
	}
	return visibility, nil
}

func normalizeCategory(raw string) string {
	category := strings.ToLower(strings.TrimSpace(raw))
	if category == "" {
		return models.DefaultCategory
	}
	return category
}

func normalizeDuration(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultDuration
	}
	return raw
}

func sanitizeFilename(filename string) string {
	filename = strings.TrimSpace(filename)
	filename = filepath.Base(filepath.ToSlash(filename))
	if filename == "." || filename == "/" {
		return ""
	}
	return filename
}

func truncateRunes(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}

func paginate(videos []models.Video, limit int, offset int) []models.Video {
	if offset > 0 {
		if offset >= len(videos) {
			return []models.Video{}
		}
		videos = videos[offset:]
	}
	if limit > 0 && limit < len(videos) {
		videos = videos[:limit]
	}
	return videos
}

func notFoundErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrVideoNotFound
	}
	return err
}
