package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"lexicms/api/internal/archive"
	"lexicms/api/internal/auth"
	"lexicms/api/internal/config"
	"lexicms/api/internal/draft"
	"lexicms/api/internal/export"
	"lexicms/api/internal/media"
	"lexicms/api/internal/rbac"
	"lexicms/api/internal/render"
	"lexicms/api/internal/search"
	"lexicms/api/internal/store"
	"lexicms/api/internal/util"
)

type dataStore interface {
	ListPages(context.Context) ([]store.Page, error)
	GetPage(context.Context, string) (store.Page, error)
	FindPageBySlug(context.Context, string, string) (*store.Page, error)
	PublishedPageBySlug(context.Context, string, string) (*store.Page, error)
	InsertPage(context.Context, store.Page) (store.Page, error)
	UpdatePage(context.Context, string, store.PagePatch) (store.Page, error)
	DeletePage(context.Context, string) error
	InsertVersion(context.Context, store.PageVersion) (store.PageVersion, error)
	LatestVersion(context.Context, string, string) (*store.PageVersion, error)
	ListVersions(context.Context, string, string, int) ([]store.PageVersion, error)
	ListBlocks(context.Context, string) ([]store.PageBlock, error)
	ListPublishedBlocks(context.Context, string) ([]store.PageBlock, error)
	GetBlock(context.Context, string) (store.PageBlock, error)
	InsertBlockAtEnd(context.Context, store.PageBlock) (store.PageBlock, error)
	UpdateBlock(context.Context, string, store.BlockPatch) (store.PageBlock, error)
	DeleteBlock(context.Context, string) error
	DuplicateBlock(context.Context, string, string, *string) (store.PageBlock, error)
	ApplyBlockOrder(context.Context, string, []store.OrderPatch) error
	Ping(context.Context) error
}

type mediaUploader interface {
	Upload(ctx context.Context, filename string, data []byte) (media.Object, error)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	drafts   draft.Provider
	search   *search.Service
	archive  *archive.Service
	media    mediaUploader
	exporter *export.Service
	now      func() time.Time
}

func New(cfg config.Config, dataStore dataStore, drafts draft.Provider) *Service {
	if cfg.BlockReorderRetries <= 0 {
		cfg.BlockReorderRetries = 3
	}
	svc := &Service{
		cfg:    cfg,
		store:  dataStore,
		drafts: drafts,
		now:    time.Now,
	}
	svc.exporter = export.NewService(svc)
	return svc
}

// SetSearch enables search indexing after commits and the public search route.
func (s *Service) SetSearch(searchService *search.Service) {
	s.search = searchService
}

// SetArchive enables the git mirror of the version history.
func (s *Service) SetArchive(archiveService *archive.Service) {
	s.archive = archiveService
}

// SetMedia enables media uploads.
func (s *Service) SetMedia(uploader mediaUploader) {
	s.media = uploader
}

type CreatePageInput struct {
	Slug      string `json:"slug"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	Published bool   `json:"published"`
}

type UpdatePageInput struct {
	Slug      *string `json:"slug"`
	Title     *string `json:"title"`
	Content   *string `json:"content"`
	Published *bool   `json:"published"`
}

// CommitInput is the editor form on save. State defaults to draft; a
// published commit also publishes the page row.
type CommitInput struct {
	Slug      *string `json:"slug"`
	Title     string  `json:"title"`
	Content   string  `json:"content"`
	Published bool    `json:"published"`
	State     string  `json:"state"`
}

type CommitResult struct {
	Page    PageView    `json:"page"`
	Version VersionView `json:"version"`
}

// IdentityFromToken verifies a bearer token issued by the identity provider.
func (s *Service) IdentityFromToken(token string) (auth.Identity, error) {
	if s.cfg.JWTSecret == "" {
		return auth.Identity{}, auth.ErrInvalidToken
	}
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return auth.Identity{}, err
	}
	return claims.Identity(), nil
}

func (s *Service) authorize(identity auth.Identity, action rbac.Action) error {
	if identity.UserID == "" {
		return notAuthorized("Sign in to edit content")
	}
	if !rbac.Can(identity.Role, action) {
		return notAuthorized(fmt.Sprintf("Role %s may not %s", identity.Role, action))
	}
	return nil
}

func authorRef(identity auth.Identity) *string {
	if identity.UserID == "" {
		return nil
	}
	id := identity.UserID
	return &id
}

func (s *Service) ListPages(ctx context.Context, identity auth.Identity) ([]PageView, error) {
	if err := s.authorize(identity, rbac.ActionRead); err != nil {
		return nil, err
	}
	pages, err := s.store.ListPages(ctx)
	if err != nil {
		return nil, classifyStoreError(err, "page")
	}
	out := make([]PageView, 0, len(pages))
	for _, page := range pages {
		out = append(out, pageView(page))
	}
	return out, nil
}

func (s *Service) GetPage(ctx context.Context, identity auth.Identity, pageID string) (PageView, error) {
	if err := s.authorize(identity, rbac.ActionRead); err != nil {
		return PageView{}, err
	}
	page, err := s.store.GetPage(ctx, pageID)
	if err != nil {
		return PageView{}, classifyStoreError(err, "page")
	}
	return pageView(page), nil
}

// CreatePage validates and inserts a page. The duplicate slug check reads
// before writing, so two concurrent creates may still share a slug.
func (s *Service) CreatePage(ctx context.Context, identity auth.Identity, input CreatePageInput) (PageView, error) {
	action := rbac.ActionEdit
	if input.Published {
		action = rbac.ActionPublish
	}
	if err := s.authorize(identity, action); err != nil {
		return PageView{}, err
	}

	title := strings.TrimSpace(input.Title)
	slug := util.Slugify(input.Slug)
	problems := map[string]string{}
	if title == "" {
		problems["title"] = "required"
	}
	if slug == "" {
		problems["slug"] = "required"
	}
	if len(problems) > 0 {
		return PageView{}, validationError("Slug and title are required", problems)
	}

	if err := s.ensureSlugFree(ctx, slug, ""); err != nil {
		return PageView{}, err
	}

	created, err := s.store.InsertPage(ctx, store.Page{
		ID:        util.NewID("pg"),
		Slug:      slug,
		Title:     title,
		Content:   input.Content,
		Published: input.Published,
		AuthorID:  authorRef(identity),
	})
	if err != nil {
		return PageView{}, classifyStoreError(err, "page")
	}
	s.syncSearch(created)
	return pageView(created), nil
}

func (s *Service) ensureSlugFree(ctx context.Context, slug, excludeID string) error {
	existing, err := s.store.FindPageBySlug(ctx, slug, excludeID)
	if err != nil {
		return classifyStoreError(err, "page")
	}
	if existing != nil {
		return duplicateSlug(slug)
	}
	return nil
}

// UpdatePage changes page metadata only; history is recorded by AppendVersion
// or CommitPage.
func (s *Service) UpdatePage(ctx context.Context, identity auth.Identity, pageID string, input UpdatePageInput) (PageView, error) {
	action := rbac.ActionEdit
	if input.Published != nil {
		action = rbac.ActionPublish
	}
	if err := s.authorize(identity, action); err != nil {
		return PageView{}, err
	}

	patch, err := s.pagePatch(ctx, pageID, input.Slug, input.Title)
	if err != nil {
		return PageView{}, err
	}
	patch.Content = input.Content
	patch.Published = input.Published
	if patch.Empty() {
		page, err := s.store.GetPage(ctx, pageID)
		if err != nil {
			return PageView{}, classifyStoreError(err, "page")
		}
		return pageView(page), nil
	}

	updated, err := s.store.UpdatePage(ctx, pageID, patch)
	if err != nil {
		return PageView{}, classifyStoreError(err, "page")
	}
	s.syncSearch(updated)
	return pageView(updated), nil
}

func (s *Service) pagePatch(ctx context.Context, pageID string, slugInput, titleInput *string) (store.PagePatch, error) {
	var patch store.PagePatch
	if titleInput != nil {
		title := strings.TrimSpace(*titleInput)
		if title == "" {
			return patch, validationError("Title is required", map[string]string{"title": "required"})
		}
		patch.Title = &title
	}
	if slugInput != nil {
		slug := util.Slugify(*slugInput)
		if slug == "" {
			return patch, validationError("Slug is required", map[string]string{"slug": "required"})
		}
		if err := s.ensureSlugFree(ctx, slug, pageID); err != nil {
			return patch, err
		}
		patch.Slug = &slug
	}
	return patch, nil
}

func (s *Service) DeletePage(ctx context.Context, identity auth.Identity, pageID string) error {
	if err := s.authorize(identity, rbac.ActionEdit); err != nil {
		return err
	}
	if err := s.store.DeletePage(ctx, pageID); err != nil {
		return classifyStoreError(err, "page")
	}
	if s.search != nil {
		s.search.DeletePage(pageID)
	}
	return nil
}

// AppendVersion records a snapshot. Versions are never updated afterwards.
func (s *Service) AppendVersion(ctx context.Context, identity auth.Identity, pageID, title, content, state string) (VersionView, error) {
	if !store.ValidState(state) {
		return VersionView{}, validationError("Unknown version state", map[string]string{"state": state})
	}
	action := rbac.ActionEdit
	if state == store.StatePublished {
		action = rbac.ActionPublish
	}
	if err := s.authorize(identity, action); err != nil {
		return VersionView{}, err
	}
	if _, err := s.store.GetPage(ctx, pageID); err != nil {
		return VersionView{}, classifyStoreError(err, "page")
	}
	created, err := s.store.InsertVersion(ctx, store.PageVersion{
		ID:       util.NewID("pv"),
		PageID:   pageID,
		Title:    title,
		Content:  content,
		State:    state,
		AuthorID: authorRef(identity),
	})
	if err != nil {
		return VersionView{}, classifyStoreError(err, "page")
	}
	return versionView(created), nil
}

// LatestVersion returns nil when the page has no version in state.
func (s *Service) LatestVersion(ctx context.Context, identity auth.Identity, pageID, state string) (*VersionView, error) {
	if !store.ValidState(state) {
		return nil, validationError("Unknown version state", map[string]string{"state": state})
	}
	if err := s.authorize(identity, rbac.ActionRead); err != nil {
		return nil, err
	}
	latest, err := s.store.LatestVersion(ctx, pageID, state)
	if err != nil {
		return nil, classifyStoreError(err, "version")
	}
	if latest == nil {
		return nil, nil
	}
	view := versionView(*latest)
	return &view, nil
}

func (s *Service) ListVersions(ctx context.Context, identity auth.Identity, pageID, state string, limit int) ([]VersionView, error) {
	if state != "" && !store.ValidState(state) {
		return nil, validationError("Unknown version state", map[string]string{"state": state})
	}
	if err := s.authorize(identity, rbac.ActionRead); err != nil {
		return nil, err
	}
	versions, err := s.store.ListVersions(ctx, pageID, state, limit)
	if err != nil {
		return nil, classifyStoreError(err, "version")
	}
	out := make([]VersionView, 0, len(versions))
	for _, version := range versions {
		out = append(out, versionView(version))
	}
	return out, nil
}

// CommitPage saves the editor form: update the page row, append a version,
// then drop the local draft. The two writes are independent; a failed
// append leaves the page updated without history.
func (s *Service) CommitPage(ctx context.Context, identity auth.Identity, pageID string, input CommitInput) (CommitResult, error) {
	state := strings.TrimSpace(input.State)
	if state == "" {
		state = store.StateDraft
	}
	if !store.ValidState(state) {
		return CommitResult{}, validationError("Unknown version state", map[string]string{"state": state})
	}
	published := input.Published || state == store.StatePublished
	action := rbac.ActionEdit
	if published {
		action = rbac.ActionPublish
	}
	if err := s.authorize(identity, action); err != nil {
		return CommitResult{}, err
	}

	title := input.Title
	patch, err := s.pagePatch(ctx, pageID, input.Slug, &title)
	if err != nil {
		return CommitResult{}, err
	}
	content := input.Content
	patch.Content = &content
	patch.Published = &published

	page, err := s.store.UpdatePage(ctx, pageID, patch)
	if err != nil {
		return CommitResult{}, classifyStoreError(err, "page")
	}
	version, err := s.store.InsertVersion(ctx, store.PageVersion{
		ID:       util.NewID("pv"),
		PageID:   pageID,
		Title:    page.Title,
		Content:  page.Content,
		State:    state,
		AuthorID: authorRef(identity),
	})
	if err != nil {
		return CommitResult{}, classifyStoreError(err, "page")
	}
	if err := s.draftCache(identity).Clear(ctx, draft.EditKey(pageID)); err != nil {
		log.Printf("commit %s: clear draft: %v", pageID, err)
	}

	s.syncSearch(page)
	s.recordArchive(identity, page, version)
	return CommitResult{Page: pageView(page), Version: versionView(version)}, nil
}

func (s *Service) syncSearch(page store.Page) {
	if s.search == nil {
		return
	}
	if !page.Published {
		s.search.DeletePage(page.ID)
		return
	}
	s.search.IndexPage(search.PageRecord{
		ID:        page.ID,
		Slug:      page.Slug,
		Title:     page.Title,
		Body:      search.PlainText(page.Content),
		UpdatedAt: page.UpdatedAt.Unix(),
	})
}

func (s *Service) recordArchive(identity auth.Identity, page store.Page, version store.PageVersion) {
	if s.archive == nil {
		return
	}
	author := identity.Email
	if author == "" {
		author = identity.UserID
	}
	if _, err := s.archive.Record(archive.Snapshot{
		VersionID: version.ID,
		PageID:    page.ID,
		Slug:      page.Slug,
		Title:     version.Title,
		State:     version.State,
		Author:    author,
		Content:   version.Content,
	}); err != nil {
		log.Printf("archive version %s: %v", version.ID, err)
	}
}

// ArchiveHistory lists the git mirror commits of an existing page.
func (s *Service) ArchiveHistory(ctx context.Context, identity auth.Identity, pageID string, limit int) ([]archive.CommitInfo, error) {
	if err := s.authorize(identity, rbac.ActionRead); err != nil {
		return nil, err
	}
	if s.archive == nil {
		return []archive.CommitInfo{}, nil
	}
	if _, err := s.store.GetPage(ctx, pageID); err != nil {
		return nil, classifyStoreError(err, "page")
	}
	history, err := s.archive.History(pageID, limit)
	if err != nil {
		return nil, fmt.Errorf("archive history: %w", err)
	}
	return history, nil
}

// ArchiveSnapshot reads a version back from the git mirror by commit hash or
// published version id.
func (s *Service) ArchiveSnapshot(ctx context.Context, identity auth.Identity, pageID, ref string) (archive.Snapshot, error) {
	if err := s.authorize(identity, rbac.ActionRead); err != nil {
		return archive.Snapshot{}, err
	}
	if s.archive == nil {
		return archive.Snapshot{}, notFound("archive")
	}
	if _, err := s.store.GetPage(ctx, pageID); err != nil {
		return archive.Snapshot{}, classifyStoreError(err, "page")
	}
	snap, err := s.archive.SnapshotAt(pageID, ref)
	if err != nil {
		log.Printf("archive snapshot %s@%s: %v", pageID, ref, err)
		return archive.Snapshot{}, notFound("archived version")
	}
	return snap, nil
}

func (s *Service) draftCache(identity auth.Identity) draft.Cache {
	return s.drafts.ForSession(identity.SessionID)
}

// ReadDraft returns nil when nothing is cached under key.
func (s *Service) ReadDraft(ctx context.Context, identity auth.Identity, key string) (*draft.Entry, error) {
	if err := s.authorize(identity, rbac.ActionEdit); err != nil {
		return nil, err
	}
	entry, ok, err := s.draftCache(identity).Read(ctx, key)
	if err != nil {
		return nil, classifyStoreError(err, "draft")
	}
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

// WriteDraft overwrites the entry under key. A zero timestamp is stamped with
// the current time.
func (s *Service) WriteDraft(ctx context.Context, identity auth.Identity, key string, entry draft.Entry) (draft.Entry, error) {
	if err := s.authorize(identity, rbac.ActionEdit); err != nil {
		return draft.Entry{}, err
	}
	if entry.Timestamp == 0 {
		entry.Timestamp = s.now().UnixMilli()
	}
	if err := s.draftCache(identity).Write(ctx, key, entry); err != nil {
		return draft.Entry{}, classifyStoreError(err, "draft")
	}
	return entry, nil
}

func (s *Service) ClearDraft(ctx context.Context, identity auth.Identity, key string) error {
	if err := s.authorize(identity, rbac.ActionEdit); err != nil {
		return err
	}
	if err := s.draftCache(identity).Clear(ctx, key); err != nil {
		return classifyStoreError(err, "draft")
	}
	return nil
}

// RestoreComposer fills the empty fields of the new-page form from the
// composer draft. restored is false when no draft exists.
func (s *Service) RestoreComposer(ctx context.Context, identity auth.Identity, current draft.Entry) (draft.Entry, bool, error) {
	cached, err := s.ReadDraft(ctx, identity, draft.NewKey)
	if err != nil {
		return current, false, err
	}
	if cached == nil {
		return current, false, nil
	}
	return cached.FillEmpty(current), true, nil
}

// DraftDiff compares the cached draft of a page with its saved row. found is
// false when the editor has no draft for the page.
func (s *Service) DraftDiff(ctx context.Context, identity auth.Identity, pageID string) (draft.Diff, bool, error) {
	cached, err := s.ReadDraft(ctx, identity, draft.EditKey(pageID))
	if err != nil || cached == nil {
		return draft.Diff{}, false, err
	}
	page, err := s.store.GetPage(ctx, pageID)
	if err != nil {
		return draft.Diff{}, false, classifyStoreError(err, "page")
	}
	return draft.Compare(page.Title, page.Content, page.Published, *cached), true, nil
}

// PublicPage is what anonymous visitors get for a slug: the published page,
// its published blocks in order and the rendered document.
func (s *Service) PublicPage(ctx context.Context, slug string) (PublicPageView, error) {
	normalized := util.Slugify(slug)
	if normalized == "" {
		return PublicPageView{}, notFound("page")
	}
	page, err := s.store.PublishedPageBySlug(ctx, normalized, "")
	if err != nil {
		return PublicPageView{}, classifyStoreError(err, "page")
	}
	if page == nil {
		return PublicPageView{}, notFound("page")
	}
	items, err := s.store.ListPublishedBlocks(ctx, page.ID)
	if err != nil {
		return PublicPageView{}, classifyStoreError(err, "page")
	}
	visible := render.Visible(page.Published, items)
	document, err := render.Document(render.Page{
		Slug:      page.Slug,
		Title:     page.Title,
		Body:      page.Content,
		Published: page.Published,
		Blocks:    visible,
	})
	if err != nil {
		return PublicPageView{}, err
	}

	blockViews := make([]BlockView, 0, len(visible))
	for _, item := range visible {
		blockViews = append(blockViews, blockView(item, nil))
	}
	return PublicPageView{Page: pageView(*page), Blocks: blockViews, HTML: document}, nil
}

// PublicDocument feeds the exporter.
func (s *Service) PublicDocument(ctx context.Context, slug string) (string, string, error) {
	view, err := s.PublicPage(ctx, slug)
	if err != nil {
		return "", "", err
	}
	return view.Page.Title, view.HTML, nil
}

func (s *Service) Export(ctx context.Context, slug string, format export.Format) (*export.Result, error) {
	return s.exporter.Export(ctx, slug, format)
}

func (s *Service) Search(q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}

func (s *Service) UploadMedia(ctx context.Context, identity auth.Identity, filename string, data []byte) (media.Object, error) {
	if err := s.authorize(identity, rbac.ActionEdit); err != nil {
		return media.Object{}, err
	}
	if s.media == nil {
		return media.Object{}, domainError(http.StatusServiceUnavailable, "MEDIA_UNAVAILABLE", "Media storage is not configured", nil)
	}
	object, err := s.media.Upload(ctx, filename, data)
	switch {
	case errors.Is(err, media.ErrUnsupportedType), errors.Is(err, media.ErrEmpty):
		return media.Object{}, validationError(err.Error(), map[string]string{"file": filename})
	case errors.Is(err, media.ErrTooLarge):
		return media.Object{}, domainError(http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", err.Error(), map[string]int{"maxBytes": media.MaxUploadBytes})
	case err != nil:
		return media.Object{}, fmt.Errorf("upload media: %w", err)
	}
	return object, nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
