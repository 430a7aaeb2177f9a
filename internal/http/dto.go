package http

import (
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/shinyes/vidbox/internal/models"
	"github.com/shinyes/vidbox/internal/service"
)

type profileResponse struct {
	Version     string `json:"version"`
	UploadLimit int64  `json:"uploadLimit"`
	Storage     string `json:"storage"`
}

type getCurrentUserResponse struct {
	User apiUser `json:"user"`
}

type signInRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type signInResponse struct {
	User        apiUser `json:"user"`
	AccessToken string  `json:"accessToken"`
}

type createUserRequest struct {
	User createUserBody `json:"user"`
}

type createUserBody struct {
	Role        string `json:"role"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Password    string `json:"password"`
}

type apiUser struct {
	Name        string `json:"name"`
	Role        string `json:"role,omitempty"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
	CreateTime  string `json:"createTime,omitempty"`
	UpdateTime  string `json:"updateTime,omitempty"`
}

type apiVideo struct {
	ID               string   `json:"id"`
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	DescriptionHTML  string   `json:"descriptionHtml,omitempty"`
	Category         string   `json:"category"`
	Visibility       string   `json:"visibility"`
	Filename         string   `json:"filename"`
	OriginalFilename string   `json:"originalFilename,omitempty"`
	URL              string   `json:"url"`
	ThumbnailURL     string   `json:"thumbnailUrl,omitempty"`
	ContentType      string   `json:"contentType"`
	Size             int64    `json:"size"`
	SizeLabel        string   `json:"sizeLabel"`
	Views            int64    `json:"views"`
	Duration         string   `json:"duration"`
	Tags             []string `json:"tags"`
	Creator          string   `json:"creator,omitempty"`
	UploadDate       string   `json:"uploadDate"`
	UpdateTime       string   `json:"updateTime,omitempty"`
}

type listVideosResponse struct {
	Videos []apiVideo `json:"videos"`
}

type uploadResponse struct {
	Success   bool     `json:"success"`
	URL       string   `json:"url"`
	PublicURL string   `json:"publicUrl"`
	Filename  string   `json:"filename"`
	Video     apiVideo `json:"video"`
}

type deleteVideoResponse struct {
	Success bool     `json:"success"`
	Video   apiVideo `json:"video"`
}

// uploadMetadata is the optional JSON "metadata" form field. Plain form
// fields win over it.
type uploadMetadata struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Visibility  string   `json:"visibility"`
	Duration    string   `json:"duration"`
	Tags        []string `json:"tags"`
}

type saveVideoRequest struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Visibility  string   `json:"visibility"`
	Filename    string   `json:"filename"`
	Duration    string   `json:"duration"`
	Tags        []string `json:"tags"`
	UploadDate  string   `json:"uploadDate"`
}

type updateVideoRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Category    *string `json:"category"`
	Visibility  *string `json:"visibility"`
	Duration    *string `json:"duration"`
}

func (r updateVideoRequest) toPatch() service.VideoPatch {
	return service.VideoPatch{
		Title:       r.Title,
		Description: r.Description,
		Category:    r.Category,
		Visibility:  r.Visibility,
		Duration:    r.Duration,
	}
}

func toAPIUser(user models.User) apiUser {
	role := strings.ToUpper(strings.TrimSpace(user.Role))
	switch role {
	case service.RoleAdmin, service.RoleUser:
	default:
		role = "ROLE_UNSPECIFIED"
	}
	name := ""
	if user.ID > 0 {
		name = user.Name()
	}
	return apiUser{
		Name:        name,
		Role:        role,
		Username:    user.Username,
		DisplayName: user.DisplayName,
		CreateTime:  formatMaybeTime(user.CreateTime),
		UpdateTime:  formatMaybeTime(user.UpdateTime),
	}
}

func toAPIVideo(video models.Video) apiVideo {
	tags := video.Tags
	if tags == nil {
		tags = []string{}
	}
	creator := ""
	if video.CreatorID > 0 {
		creator = "users/" + models.Int64ToString(video.CreatorID)
	}
	size := video.Size
	if size < 0 {
		size = 0
	}
	return apiVideo{
		ID:               video.ID,
		Title:            video.Title,
		Description:      video.Description,
		Category:         video.Category,
		Visibility:       string(video.Visibility),
		Filename:         video.StorageKey,
		OriginalFilename: video.Filename,
		URL:              video.URL(),
		ThumbnailURL:     video.ThumbnailURL(),
		ContentType:      video.ContentType,
		Size:             size,
		SizeLabel:        humanize.Bytes(uint64(size)),
		Views:            video.Views,
		Duration:         video.Duration,
		Tags:             tags,
		Creator:          creator,
		UploadDate:       formatMaybeTime(video.UploadDate),
		UpdateTime:       formatMaybeTime(video.UpdateTime),
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatMaybeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return formatTime(t)
}
