package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shinyes/vidbox/internal/models"
)

const videoColumns = `v.id, v.creator_id, v.title, v.description, v.category, v.visibility, v.filename,
	v.storage_type, v.storage_key, v.content_type, v.size, v.views, v.duration, v.thumbnail_key,
	v.tags_json, v.upload_date, v.update_time`

// uploadDateLayout keeps a fixed number of fractional digits so that
// upload_date sorts lexically.
const uploadDateLayout = "2006-01-02T15:04:05.000000000Z07:00"

type VideoUpdate struct {
	Title        *string
	Description  *string
	Category     *string
	Visibility   *models.Visibility
	Duration     *string
	ThumbnailKey *string
	Tags         *[]string
}

// UpsertVideo inserts a video or replaces every mutable column of an
// existing row with the same id. Views are kept unless the incoming count
// is larger.
func (s *SQLStore) UpsertVideo(ctx context.Context, video models.Video) (models.Video, error) {
	now := time.Now().UTC()
	if video.UploadDate.IsZero() {
		video.UploadDate = now
	}
	tagsJSON, err := marshalTags(video.Tags)
	if err != nil {
		return models.Video{}, err
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO videos (id, creator_id, title, description, category, visibility, filename,
			storage_type, storage_key, content_type, size, views, duration, thumbnail_key, tags_json,
			upload_date, update_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			creator_id = excluded.creator_id,
			title = excluded.title,
			description = excluded.description,
			category = excluded.category,
			visibility = excluded.visibility,
			filename = excluded.filename,
			storage_type = excluded.storage_type,
			storage_key = excluded.storage_key,
			content_type = excluded.content_type,
			size = excluded.size,
			views = MAX(videos.views, excluded.views),
			duration = excluded.duration,
			thumbnail_key = excluded.thumbnail_key,
			tags_json = excluded.tags_json,
			update_time = excluded.update_time`,
		video.ID,
		video.CreatorID,
		video.Title,
		video.Description,
		video.Category,
		video.Visibility,
		video.Filename,
		video.StorageType,
		video.StorageKey,
		video.ContentType,
		video.Size,
		video.Views,
		video.Duration,
		video.ThumbnailKey,
		tagsJSON,
		video.UploadDate.UTC().Format(uploadDateLayout),
		formatTime(now),
	)
	if err != nil {
		return models.Video{}, err
	}
	return s.GetVideoByID(ctx, video.ID)
}

func (s *SQLStore) GetVideoByID(ctx context.Context, id string) (models.Video, error) {
	return scanVideo(s.db.QueryRowContext(
		ctx,
		`SELECT `+videoColumns+` FROM videos v WHERE v.id = ?`,
		id,
	))
}

func (s *SQLStore) GetVideoByStorageKey(ctx context.Context, key string) (models.Video, error) {
	return scanVideo(s.db.QueryRowContext(
		ctx,
		`SELECT `+videoColumns+` FROM videos v WHERE v.storage_key = ?`,
		key,
	))
}

func (s *SQLStore) UpdateVideo(ctx context.Context, id string, update VideoUpdate) (models.Video, error) {
	assignments := make([]string, 0, 8)
	args := make([]any, 0, 8)

	if update.Title != nil {
		assignments = append(assignments, "title = ?")
		args = append(args, *update.Title)
	}
	if update.Description != nil {
		assignments = append(assignments, "description = ?")
		args = append(args, *update.Description)
	}
	if update.Category != nil {
		assignments = append(assignments, "category = ?")
		args = append(args, *update.Category)
	}
	if update.Visibility != nil {
		assignments = append(assignments, "visibility = ?")
		args = append(args, *update.Visibility)
	}
	if update.Duration != nil {
		assignments = append(assignments, "duration = ?")
		args = append(args, *update.Duration)
	}
	if update.ThumbnailKey != nil {
		assignments = append(assignments, "thumbnail_key = ?")
		args = append(args, *update.ThumbnailKey)
	}
	if update.Tags != nil {
		tagsJSON, err := marshalTags(*update.Tags)
		if err != nil {
			return models.Video{}, err
		}
		assignments = append(assignments, "tags_json = ?")
		args = append(args, tagsJSON)
	}

	assignments = append(assignments, "update_time = ?")
	args = append(args, formatTime(time.Now()))
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE videos SET %s WHERE id = ?`, strings.Join(assignments, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return models.Video{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return models.Video{}, err
	}
	if affected == 0 {
		return models.Video{}, sql.ErrNoRows
	}
	return s.GetVideoByID(ctx, id)
}

func (s *SQLStore) IncrementVideoViews(ctx context.Context, id string) (models.Video, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE videos SET views = views + 1 WHERE id = ?`, id)
	if err != nil {
		return models.Video{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return models.Video{}, err
	}
	if affected == 0 {
		return models.Video{}, sql.ErrNoRows
	}
	return s.GetVideoByID(ctx, id)
}

func (s *SQLStore) DeleteVideo(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM videos WHERE id = ?`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListVideos returns videos matching the prefilter, newest upload first.
func (s *SQLStore) ListVideos(ctx context.Context, prefilter VideoSQLPrefilter, limit int, offset int) ([]models.Video, error) {
	if prefilter.Unsatisfiable {
		return []models.Video{}, nil
	}

	query := `SELECT ` + videoColumns + ` FROM videos v WHERE 1 = 1`
	args := make([]any, 0)

	addIn := func(column string, values []any) {
		if len(values) == 0 {
			return
		}
		placeholders := strings.TrimRight(strings.Repeat("?,", len(values)), ",")
		query += ` AND ` + column + ` IN (` + placeholders + `)`
		args = append(args, values...)
	}

	creatorIDs := make([]any, 0, len(prefilter.CreatorIDs))
	for _, id := range prefilter.CreatorIDs {
		creatorIDs = append(creatorIDs, id)
	}
	addIn("v.creator_id", creatorIDs)

	categories := make([]any, 0, len(prefilter.CategoryIn))
	for _, category := range prefilter.CategoryIn {
		categories = append(categories, category)
	}
	addIn("v.category", categories)

	visibilities := make([]any, 0, len(prefilter.VisibilityIn))
	for _, visibility := range prefilter.VisibilityIn {
		visibilities = append(visibilities, visibility)
	}
	addIn("v.visibility", visibilities)

	contentTypes := make([]any, 0, len(prefilter.ContentTypeIn))
	for _, contentType := range prefilter.ContentTypeIn {
		contentTypes = append(contentTypes, contentType)
	}
	addIn("v.content_type", contentTypes)

	if prefilter.MinSize != nil {
		query += ` AND v.size >= ?`
		args = append(args, *prefilter.MinSize)
	}

	addTagGroup := func(group TagMatchGroup, exclude bool) {
		groupClauses := make([]string, 0, len(group.Options))
		groupArgs := make([]any, 0, len(group.Options))
		for _, option := range group.Options {
			switch option.Kind {
			case TagMatchExact:
				groupClauses = append(groupClauses, `jt.value = ?`)
				groupArgs = append(groupArgs, option.Value)
			case TagMatchPrefix:
				groupClauses = append(groupClauses, `jt.value LIKE ?`)
				groupArgs = append(groupArgs, option.Value+"%")
			}
		}
		if len(groupClauses) == 0 {
			return
		}
		if exclude {
			query += ` AND NOT EXISTS`
		} else {
			query += ` AND EXISTS`
		}
		query += ` (SELECT 1 FROM json_each(v.tags_json) jt WHERE ` + strings.Join(groupClauses, " OR ") + `)`
		args = append(args, groupArgs...)
	}
	for _, group := range prefilter.TagGroups {
		addTagGroup(group, false)
	}
	for _, group := range prefilter.ExcludeTagGroups {
		addTagGroup(group, true)
	}

	query += ` ORDER BY v.upload_date DESC, v.id DESC`
	if limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	videos := make([]models.Video, 0)
	for rows.Next() {
		video, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		videos = append(videos, video)
	}
	return videos, rows.Err()
}

// ListVideoStorageKeys returns every storage key and thumbnail key that
// metadata currently references, keyed by video id.
func (s *SQLStore) ListVideoStorageKeys(ctx context.Context) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, storage_key, thumbnail_key FROM videos ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string][]string)
	for rows.Next() {
		var id string
		var storageKey string
		var thumbnailKey string
		if err := rows.Scan(&id, &storageKey, &thumbnailKey); err != nil {
			return nil, err
		}
		keys := []string{storageKey}
		if thumbnailKey != "" {
			keys = append(keys, thumbnailKey)
		}
		result[id] = keys
	}
	return result, rows.Err()
}

func scanVideo(scanner rowScanner) (models.Video, error) {
	var video models.Video
	var tagsJSON string
	var uploadDate string
	var updateTime string
	if err := scanner.Scan(
		&video.ID,
		&video.CreatorID,
		&video.Title,
		&video.Description,
		&video.Category,
		&video.Visibility,
		&video.Filename,
		&video.StorageType,
		&video.StorageKey,
		&video.ContentType,
		&video.Size,
		&video.Views,
		&video.Duration,
		&video.ThumbnailKey,
		&tagsJSON,
		&uploadDate,
		&updateTime,
	); err != nil {
		return models.Video{}, err
	}
	video.Tags = make([]string, 0)
	if strings.TrimSpace(tagsJSON) != "" {
		if err := json.Unmarshal([]byte(tagsJSON), &video.Tags); err != nil {
			return models.Video{}, fmt.Errorf("decode tags of video %s: %w", video.ID, err)
		}
	}
	var err error
	video.UploadDate, err = parseTime(uploadDate)
	if err != nil {
		return models.Video{}, err
	}
	video.UpdateTime, err = parseTime(updateTime)
	if err != nil {
		return models.Video{}, err
	}
	return video, nil
}

func marshalTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	raw, err := json.Marshal(tags)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
