package draft

import (
	"fmt"

	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/hexops/gotextdiff/span"
)

// Diff is what a cached draft would change on the saved page.
type Diff struct {
	TitleChanged     bool   `json:"titleChanged"`
	PublishedChanged bool   `json:"publishedChanged"`
	Content          string `json:"content"`
}

// Empty reports whether restoring the draft would change nothing.
func (d Diff) Empty() bool {
	return !d.TitleChanged && !d.PublishedChanged && d.Content == ""
}

// Compare diffs the cached entry against the saved page fields. Content is a
// unified diff from saved to draft; empty when the bodies match.
func Compare(savedTitle, savedContent string, savedPublished bool, entry Entry) Diff {
	out := Diff{
		TitleChanged:     savedTitle != entry.Title,
		PublishedChanged: savedPublished != entry.Published,
	}
	if savedContent != entry.Content {
		edits := myers.ComputeEdits(span.URIFromPath("saved"), savedContent, entry.Content)
		out.Content = fmt.Sprint(gotextdiff.ToUnified("saved", "draft", savedContent, edits))
	}
	return out
}
