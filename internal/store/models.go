package store

import (
	"encoding/json"
	"time"
)

// Version states of a page snapshot.
const (
	StateDraft     = "draft"
	StateInReview  = "in_review"
	StatePublished = "published"
)

// ValidState reports whether state is one of the version lifecycle states.
func ValidState(state string) bool {
	switch state {
	case StateDraft, StateInReview, StatePublished:
		return true
	default:
		return false
	}
}

type Page struct {
	ID        string
	Slug      string
	Title     string
	Content   string
	Published bool
	AuthorID  *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PagePatch carries the mutable page fields; nil means unchanged.
type PagePatch struct {
	Slug      *string
	Title     *string
	Content   *string
	Published *bool
}

// Empty reports whether the patch changes nothing.
func (p PagePatch) Empty() bool {
	return p.Slug == nil && p.Title == nil && p.Content == nil && p.Published == nil
}

// PageVersion is an immutable snapshot; rows are only ever inserted.
type PageVersion struct {
	ID        string
	PageID    string
	Title     string
	Content   string
	State     string
	AuthorID  *string
	CreatedAt time.Time
}

type PageBlock struct {
	ID         string
	PageID     string
	Type       string
	Content    json.RawMessage
	OrderIndex int
	Published  bool
	AuthorID   *string
	Version    int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// BlockPatch carries the mutable block fields; nil means unchanged.
// Content replaces the whole payload, there is no field-level merge.
type BlockPatch struct {
	Type       *string
	Content    json.RawMessage
	Published  *bool
	OrderIndex *int
}

// Empty reports whether the patch changes nothing.
func (p BlockPatch) Empty() bool {
	return p.Type == nil && p.Content == nil && p.Published == nil && p.OrderIndex == nil
}

// OrderPatch moves one block to OrderIndex provided the row is still at Version.
type OrderPatch struct {
	BlockID    string
	OrderIndex int
	Version    int
}
