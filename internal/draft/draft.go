// Package draft holds unsaved editor work between saves, one entry per key.
package draft

import (
	"context"
	"strings"
)

// NewKey is the singleton key of the new-page composer.
const NewKey = "new"

// EditKey is the key of the draft for an existing page.
func EditKey(pageID string) string {
	return "edit:" + pageID
}

// Entry is the autosaved state of one editor form. Timestamp is unix millis.
type Entry struct {
	Title     string `json:"title"`
	Content   string `json:"content"`
	Published bool   `json:"published"`
	Timestamp int64  `json:"timestamp"`
}

// FillEmpty restores the composer: fields already typed in current win, the
// rest come from the cached entry.
func (e Entry) FillEmpty(current Entry) Entry {
	out := current
	if strings.TrimSpace(out.Title) == "" {
		out.Title = e.Title
	}
	if strings.TrimSpace(out.Content) == "" {
		out.Content = e.Content
	}
	if !out.Published {
		out.Published = e.Published
	}
	if out.Timestamp == 0 {
		out.Timestamp = e.Timestamp
	}
	return out
}

// Cache is the key-value substrate of one editor session. Write overwrites
// unconditionally; entries live until cleared.
type Cache interface {
	Read(ctx context.Context, key string) (Entry, bool, error)
	Write(ctx context.Context, key string, entry Entry) error
	Clear(ctx context.Context, key string) error
}

// Provider hands out the cache private to one editor session.
type Provider interface {
	ForSession(sessionID string) Cache
}
