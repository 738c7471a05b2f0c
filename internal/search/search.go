// Package search indexes published pages for the public site.
package search

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Result is a single search hit returned to the caller.
type Result struct {
	ID      string `json:"id"`
	Slug    string `json:"slug"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// Query describes a search request.
type Query struct {
	Text   string
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Index is a search backend that mirrors the published pages.
type Index interface {
	Searcher
	IndexPage(page PageRecord) error
	DeletePage(id string) error
	ReplacePages(pages []PageRecord) error
}

// PageRecord is the data we index for a published page. Body is plain text.
type PageRecord struct {
	ID        string `json:"id"`
	Slug      string `json:"slug"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	UpdatedAt int64  `json:"updatedAt"`
}

var textOnly = func() *bluemonday.Policy {
	p := bluemonday.StrictPolicy()
	p.AddSpaceWhenStrippingTag(true)
	return p
}()

// PlainText strips markup from page HTML and collapses whitespace.
func PlainText(markup string) string {
	stripped := html.UnescapeString(textOnly.Sanitize(markup))
	return strings.Join(strings.Fields(stripped), " ")
}
