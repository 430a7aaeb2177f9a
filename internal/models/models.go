package models

import (
	"strconv"
	"time"
)

type Visibility string

const (
	VisibilityPublic   Visibility = "public"
	VisibilityUnlisted Visibility = "unlisted"
	VisibilityPrivate  Visibility = "private"
)

func (v Visibility) IsValid() bool {
	return v == VisibilityPublic || v == VisibilityUnlisted || v == VisibilityPrivate
}

const DefaultCategory = "entertainment"

type User struct {
	ID           int64
	Username     string
	DisplayName  string
	PasswordHash string
	Role         string
	CreateTime   time.Time
	UpdateTime   time.Time
}

type PersonalAccessToken struct {
	ID          int64
	UserID      int64
	TokenPrefix string
	TokenHash   string
	Description string
	CreatedAt   time.Time
	LastUsedAt  *time.Time
	ExpiresAt   *time.Time
	RevokedAt   *time.Time
}

type Video struct {
	ID           string
	CreatorID    int64
	Title        string
	Description  string
	Category     string
	Visibility   Visibility
	Filename     string
	StorageType  string
	StorageKey   string
	ContentType  string
	Size         int64
	Views        int64
	Duration     string
	ThumbnailKey string
	Tags         []string
	UploadDate   time.Time
	UpdateTime   time.Time
}

// URL is the playback path served by the range responder.
func (v Video) URL() string {
	return "/videos/" + v.StorageKey
}

func (v Video) ThumbnailURL() string {
	if v.ThumbnailKey == "" {
		return ""
	}
	return v.URL() + "/thumbnail"
}

func (u User) Name() string {
	return "users/" + Int64ToString(u.ID)
}

func Int64ToString(v int64) string {
	return strconv.FormatInt(v, 10)
}
