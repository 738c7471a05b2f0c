package app

import (
	"context"
	"errors"
	"log"
	"strings"

	"lexicms/api/internal/auth"
	"lexicms/api/internal/draft"
	"lexicms/api/internal/rbac"
	"lexicms/api/internal/store"
	"lexicms/api/internal/util"
)

// Sources of resolved editor content, in precedence order.
const (
	SourceDraftCache       = "draft_cache"
	SourcePublishedVersion = "published_version"
	SourceInReviewVersion  = "in_review_version"
	SourceDraftVersion     = "draft_version"
	SourceCanonicalSlug    = "canonical_slug"
	SourceLivePage         = "live_page"
	SourceSeedTemplate     = "seed_template"
)

// Resolution is the content an editor starts from when opening a page.
type Resolution struct {
	Source            string `json:"source"`
	PageID            string `json:"pageId"`
	Slug              string `json:"slug"`
	Title             string `json:"title"`
	Content           string `json:"content"`
	Published         bool   `json:"published"`
	RestoredFromDraft bool   `json:"restoredFromDraft"`
	VersionID         string `json:"versionId,omitempty"`
	DraftTimestamp    int64  `json:"draftTimestamp,omitempty"`
}

func hasText(content string) bool {
	return strings.TrimSpace(content) != ""
}

// tierFailed decides whether a failed tier ends the cascade. Permission errors
// do; absence and datastore outages only skip the tier.
func tierFailed(pageID, tier string, err error) error {
	classified := classifyStoreError(err, "page")
	if errors.Is(classified, ErrNotAuthorized) {
		return classified
	}
	log.Printf("open %s: %s skipped: %v", pageID, tier, err)
	return nil
}

// OpenForEdit picks what the editor sees, stopping at the first tier with
// content: the session's local draft, then the latest published, in_review
// and draft versions, then another published page with the same slug, then
// the live row, then a built-in seed for well-known slugs. It writes nothing.
func (s *Service) OpenForEdit(ctx context.Context, identity auth.Identity, pageID string) (Resolution, error) {
	if err := s.authorize(identity, rbac.ActionEdit); err != nil {
		return Resolution{}, err
	}

	cached, ok, err := s.draftCache(identity).Read(ctx, draft.EditKey(pageID))
	if err != nil {
		if err := tierFailed(pageID, SourceDraftCache, err); err != nil {
			return Resolution{}, err
		}
	} else if ok {
		return Resolution{
			Source:            SourceDraftCache,
			PageID:            pageID,
			Title:             cached.Title,
			Content:           cached.Content,
			Published:         cached.Published,
			RestoredFromDraft: true,
			DraftTimestamp:    cached.Timestamp,
		}, nil
	}

	var (
		page      store.Page
		pageFound bool
	)
	loaded, err := s.store.GetPage(ctx, pageID)
	if err != nil {
		if err := tierFailed(pageID, SourceLivePage, err); err != nil {
			return Resolution{}, err
		}
	} else {
		page, pageFound = loaded, true
	}

	versionTiers := []struct {
		state  string
		source string
	}{
		{store.StatePublished, SourcePublishedVersion},
		{store.StateInReview, SourceInReviewVersion},
		{store.StateDraft, SourceDraftVersion},
	}
	for _, tier := range versionTiers {
		version, err := s.store.LatestVersion(ctx, pageID, tier.state)
		if err != nil {
			if err := tierFailed(pageID, tier.source, err); err != nil {
				return Resolution{}, err
			}
			continue
		}
		if version == nil || !hasText(version.Content) {
			continue
		}
		return Resolution{
			Source:    tier.source,
			PageID:    pageID,
			Slug:      page.Slug,
			Title:     version.Title,
			Content:   version.Content,
			Published: page.Published,
			VersionID: version.ID,
		}, nil
	}

	if !pageFound {
		return Resolution{}, noContentAvailable(pageID)
	}

	canonical, err := s.store.PublishedPageBySlug(ctx, page.Slug, page.ID)
	if err != nil {
		if err := tierFailed(pageID, SourceCanonicalSlug, err); err != nil {
			return Resolution{}, err
		}
	} else if canonical != nil && hasText(canonical.Content) {
		return Resolution{
			Source:    SourceCanonicalSlug,
			PageID:    pageID,
			Slug:      page.Slug,
			Title:     canonical.Title,
			Content:   canonical.Content,
			Published: canonical.Published,
		}, nil
	}

	if hasText(page.Content) {
		return liveResolution(page), nil
	}

	if seed, ok := seedFor(page.Slug); ok {
		title := page.Title
		if !hasText(title) {
			title = seed.Title
		}
		return Resolution{
			Source:    SourceSeedTemplate,
			PageID:    pageID,
			Slug:      page.Slug,
			Title:     title,
			Content:   seed.Content,
			Published: page.Published,
		}, nil
	}
	return Resolution{}, noContentAvailable(pageID)
}

func liveResolution(page store.Page) Resolution {
	return Resolution{
		Source:    SourceLivePage,
		PageID:    page.ID,
		Slug:      page.Slug,
		Title:     page.Title,
		Content:   page.Content,
		Published: page.Published,
	}
}

// LoadPublicContent resynchronizes the editor with what visitors see: the
// live published row for slug, ignoring drafts and history.
func (s *Service) LoadPublicContent(ctx context.Context, identity auth.Identity, slug string) (Resolution, error) {
	if err := s.authorize(identity, rbac.ActionEdit); err != nil {
		return Resolution{}, err
	}
	page, err := s.store.PublishedPageBySlug(ctx, util.Slugify(slug), "")
	if err != nil {
		return Resolution{}, classifyStoreError(err, "page")
	}
	if page == nil {
		return Resolution{}, noContentAvailable("")
	}
	return liveResolution(*page), nil
}

// ReloadFromServer discards the session's draft for the page and returns the
// live row as saved.
func (s *Service) ReloadFromServer(ctx context.Context, identity auth.Identity, pageID string) (Resolution, error) {
	if err := s.authorize(identity, rbac.ActionEdit); err != nil {
		return Resolution{}, err
	}
	if err := s.draftCache(identity).Clear(ctx, draft.EditKey(pageID)); err != nil {
		return Resolution{}, classifyStoreError(err, "draft")
	}
	page, err := s.store.GetPage(ctx, pageID)
	if err != nil {
		return Resolution{}, classifyStoreError(err, "page")
	}
	return liveResolution(page), nil
}
