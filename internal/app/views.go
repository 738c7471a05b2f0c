package app

import (
	"encoding/json"
	"time"

	"lexicms/api/internal/store"
)

type PageView struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Published bool      `json:"published"`
	AuthorID  *string   `json:"authorId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type VersionView struct {
	ID        string    `json:"id"`
	PageID    string    `json:"pageId"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	State     string    `json:"state"`
	AuthorID  *string   `json:"authorId"`
	CreatedAt time.Time `json:"createdAt"`
}

// BlockView carries advisory content warnings on writes; they never block
// the write itself.
type BlockView struct {
	ID         string          `json:"id"`
	PageID     string          `json:"pageId"`
	Type       string          `json:"type"`
	Content    json.RawMessage `json:"content"`
	OrderIndex int             `json:"orderIndex"`
	Published  bool            `json:"published"`
	AuthorID   *string         `json:"authorId"`
	Version    int             `json:"version"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
	Warnings   []string        `json:"warnings,omitempty"`
}

type PublicPageView struct {
	Page   PageView    `json:"page"`
	Blocks []BlockView `json:"blocks"`
	HTML   string      `json:"html"`
}

func pageView(page store.Page) PageView {
	return PageView{
		ID:        page.ID,
		Slug:      page.Slug,
		Title:     page.Title,
		Content:   page.Content,
		Published: page.Published,
		AuthorID:  page.AuthorID,
		CreatedAt: page.CreatedAt,
		UpdatedAt: page.UpdatedAt,
	}
}

func versionView(version store.PageVersion) VersionView {
	return VersionView{
		ID:        version.ID,
		PageID:    version.PageID,
		Title:     version.Title,
		Content:   version.Content,
		State:     version.State,
		AuthorID:  version.AuthorID,
		CreatedAt: version.CreatedAt,
	}
}

func blockView(item store.PageBlock, warnings []string) BlockView {
	content := item.Content
	if len(content) == 0 {
		content = json.RawMessage(`{}`)
	}
	return BlockView{
		ID:         item.ID,
		PageID:     item.PageID,
		Type:       item.Type,
		Content:    content,
		OrderIndex: item.OrderIndex,
		Published:  item.Published,
		AuthorID:   item.AuthorID,
		Version:    item.Version,
		CreatedAt:  item.CreatedAt,
		UpdatedAt:  item.UpdatedAt,
		Warnings:   warnings,
	}
}
