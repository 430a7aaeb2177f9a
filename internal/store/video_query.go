package store

import "github.com/shinyes/vidbox/internal/models"

type TagMatchKind int

const (
	TagMatchExact TagMatchKind = iota + 1
	TagMatchPrefix
)

type TagMatchOption struct {
	Kind  TagMatchKind
	Value string
}

type TagMatchGroup struct {
	Options []TagMatchOption
}

// VideoSQLPrefilter narrows a video listing in SQL before the full filter
// expression is evaluated in memory. Every populated field is ANDed.
type VideoSQLPrefilter struct {
	Unsatisfiable bool

	CreatorIDs    []int64
	CategoryIn    []string
	VisibilityIn  []models.Visibility
	ContentTypeIn []string
	MinSize       *int64

	TagGroups        []TagMatchGroup
	ExcludeTagGroups []TagMatchGroup
}

func EmptyVideoPrefilter() VideoSQLPrefilter {
	return VideoSQLPrefilter{}
}
