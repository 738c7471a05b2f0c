package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"lexicms/api/internal/store"
)

// memStore is an in-memory dataStore. The *Fn fields override single methods
// to inject failures.
type memStore struct {
	mu       sync.Mutex
	clock    time.Time
	pages    map[string]store.Page
	versions []store.PageVersion
	blocks   map[string]store.PageBlock

	getPageFn         func(context.Context, string) (store.Page, error)
	latestVersionFn   func(context.Context, string, string) (*store.PageVersion, error)
	publishedBySlugFn func(context.Context, string, string) (*store.Page, error)
	applyBlockOrderFn func(context.Context, string, []store.OrderPatch) error
	pingFn            func(context.Context) error
}

func newMemStore() *memStore {
	return &memStore{
		clock:  time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		pages:  make(map[string]store.Page),
		blocks: make(map[string]store.PageBlock),
	}
}

func (m *memStore) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *memStore) ListPages(context.Context) ([]store.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.Page, 0, len(m.pages))
	for _, page := range m.pages {
		items = append(items, page)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].UpdatedAt.After(items[j].UpdatedAt) })
	return items, nil
}

func (m *memStore) GetPage(ctx context.Context, pageID string) (store.Page, error) {
	if m.getPageFn != nil {
		return m.getPageFn(ctx, pageID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	page, ok := m.pages[pageID]
	if !ok {
		return store.Page{}, sql.ErrNoRows
	}
	return page, nil
}

func (m *memStore) newestPage(match func(store.Page) bool) *store.Page {
	var found *store.Page
	for _, page := range m.pages {
		if !match(page) {
			continue
		}
		if found == nil || page.UpdatedAt.After(found.UpdatedAt) {
			p := page
			found = &p
		}
	}
	return found
}

func (m *memStore) FindPageBySlug(_ context.Context, slug, excludeID string) (*store.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.newestPage(func(p store.Page) bool { return p.Slug == slug && p.ID != excludeID }), nil
}

func (m *memStore) PublishedPageBySlug(ctx context.Context, slug, excludeID string) (*store.Page, error) {
	if m.publishedBySlugFn != nil {
		return m.publishedBySlugFn(ctx, slug, excludeID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.newestPage(func(p store.Page) bool { return p.Slug == slug && p.Published && p.ID != excludeID }), nil
}

func (m *memStore) InsertPage(_ context.Context, item store.Page) (store.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.tick()
	item.CreatedAt, item.UpdatedAt = now, now
	m.pages[item.ID] = item
	return item, nil
}

func (m *memStore) UpdatePage(_ context.Context, pageID string, patch store.PagePatch) (store.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	page, ok := m.pages[pageID]
	if !ok {
		return store.Page{}, sql.ErrNoRows
	}
	if patch.Slug != nil {
		page.Slug = *patch.Slug
	}
	if patch.Title != nil {
		page.Title = *patch.Title
	}
	if patch.Content != nil {
		page.Content = *patch.Content
	}
	if patch.Published != nil {
		page.Published = *patch.Published
	}
	page.UpdatedAt = m.tick()
	m.pages[pageID] = page
	return page, nil
}

func (m *memStore) DeletePage(_ context.Context, pageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pages[pageID]; !ok {
		return sql.ErrNoRows
	}
	delete(m.pages, pageID)
	for id, item := range m.blocks {
		if item.PageID == pageID {
			delete(m.blocks, id)
		}
	}
	kept := m.versions[:0]
	for _, version := range m.versions {
		if version.PageID != pageID {
			kept = append(kept, version)
		}
	}
	m.versions = kept
	return nil
}

func (m *memStore) InsertVersion(_ context.Context, item store.PageVersion) (store.PageVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item.CreatedAt = m.tick()
	m.versions = append(m.versions, item)
	return item, nil
}

func (m *memStore) LatestVersion(ctx context.Context, pageID, state string) (*store.PageVersion, error) {
	if m.latestVersionFn != nil {
		return m.latestVersionFn(ctx, pageID, state)
	}
	return m.latest(pageID, state), nil
}

func (m *memStore) latest(pageID, state string) *store.PageVersion {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found *store.PageVersion
	for _, version := range m.versions {
		if version.PageID != pageID || version.State != state {
			continue
		}
		if found == nil || !version.CreatedAt.Before(found.CreatedAt) {
			v := version
			found = &v
		}
	}
	return found
}

func (m *memStore) ListVersions(_ context.Context, pageID, state string, limit int) ([]store.PageVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	items := make([]store.PageVersion, 0)
	for i := len(m.versions) - 1; i >= 0 && len(items) < limit; i-- {
		version := m.versions[i]
		if version.PageID == pageID && (state == "" || version.State == state) {
			items = append(items, version)
		}
	}
	return items, nil
}

func (m *memStore) pageBlocks(pageID string, publishedOnly bool) []store.PageBlock {
	items := make([]store.PageBlock, 0)
	for _, item := range m.blocks {
		if item.PageID == pageID && (!publishedOnly || item.Published) {
			items = append(items, item)
		}
	}
	sortBlocks(items)
	return items
}

func (m *memStore) ListBlocks(_ context.Context, pageID string) ([]store.PageBlock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pageBlocks(pageID, false), nil
}

func (m *memStore) ListPublishedBlocks(_ context.Context, pageID string) ([]store.PageBlock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pageBlocks(pageID, true), nil
}

func (m *memStore) GetBlock(_ context.Context, blockID string) (store.PageBlock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.blocks[blockID]
	if !ok {
		return store.PageBlock{}, sql.ErrNoRows
	}
	return item, nil
}

func (m *memStore) InsertBlockAtEnd(_ context.Context, item store.PageBlock) (store.PageBlock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	maxIndex := 0
	for _, existing := range m.blocks {
		if existing.PageID == item.PageID && existing.OrderIndex > maxIndex {
			maxIndex = existing.OrderIndex
		}
	}
	now := m.tick()
	item.OrderIndex = maxIndex + 1
	item.Version = 1
	item.CreatedAt, item.UpdatedAt = now, now
	m.blocks[item.ID] = item
	return item, nil
}

func (m *memStore) UpdateBlock(_ context.Context, blockID string, patch store.BlockPatch) (store.PageBlock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.blocks[blockID]
	if !ok {
		return store.PageBlock{}, sql.ErrNoRows
	}
	if patch.Type != nil {
		item.Type = *patch.Type
	}
	if patch.Content != nil {
		item.Content = append(json.RawMessage(nil), patch.Content...)
	}
	if patch.Published != nil {
		item.Published = *patch.Published
	}
	if patch.OrderIndex != nil {
		item.OrderIndex = *patch.OrderIndex
	}
	item.Version++
	item.UpdatedAt = m.tick()
	m.blocks[blockID] = item
	return item, nil
}

func (m *memStore) DeleteBlock(_ context.Context, blockID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blocks[blockID]; !ok {
		return sql.ErrNoRows
	}
	delete(m.blocks, blockID)
	return nil
}

func (m *memStore) DuplicateBlock(_ context.Context, sourceID, newID string, authorID *string) (store.PageBlock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	source, ok := m.blocks[sourceID]
	if !ok {
		return store.PageBlock{}, sql.ErrNoRows
	}
	var page []store.PageBlock
	tied := false
	for _, item := range m.blocks {
		if item.PageID != source.PageID {
			continue
		}
		page = append(page, item)
		if item.ID != source.ID && item.OrderIndex == source.OrderIndex {
			tied = true
		}
	}
	insertAt := source.OrderIndex + 1
	if tied {
		sortBlocks(page)
		next := 1
		for _, item := range page {
			if item.OrderIndex != next {
				item.OrderIndex = next
				item.Version++
				m.blocks[item.ID] = item
			}
			next++
			if item.ID == source.ID {
				insertAt = next
				next++
			}
		}
	} else {
		for _, item := range page {
			if item.OrderIndex >= insertAt {
				item.OrderIndex++
				item.Version++
				m.blocks[item.ID] = item
			}
		}
	}
	now := m.tick()
	created := store.PageBlock{
		ID:         newID,
		PageID:     source.PageID,
		Type:       source.Type,
		Content:    append(json.RawMessage(nil), source.Content...),
		OrderIndex: insertAt,
		AuthorID:   authorID,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	m.blocks[newID] = created
	return created, nil
}

func (m *memStore) ApplyBlockOrder(ctx context.Context, pageID string, patches []store.OrderPatch) error {
	if m.applyBlockOrderFn != nil {
		if err := m.applyBlockOrderFn(ctx, pageID, patches); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, patch := range patches {
		item, ok := m.blocks[patch.BlockID]
		if !ok || item.PageID != pageID || item.Version != patch.Version {
			return store.ErrVersionConflict
		}
	}
	for _, patch := range patches {
		item := m.blocks[patch.BlockID]
		item.OrderIndex = patch.OrderIndex
		item.Version++
		m.blocks[patch.BlockID] = item
	}
	return nil
}

func (m *memStore) Ping(ctx context.Context) error {
	if m.pingFn != nil {
		return m.pingFn(ctx)
	}
	return nil
}

// seedPage inserts a page row directly, bypassing validation.
func (m *memStore) seedPage(id, slug, title, content string, published bool) store.Page {
	page, _ := m.InsertPage(context.Background(), store.Page{ID: id, Slug: slug, Title: title, Content: content, Published: published})
	return page
}

func (m *memStore) seedVersion(pageID, state, content string) store.PageVersion {
	version, _ := m.InsertVersion(context.Background(), store.PageVersion{ID: "pv_" + state + "_" + pageID, PageID: pageID, Title: state, Content: content, State: state})
	return version
}

// seedBlock inserts a block at an explicit order index.
func (m *memStore) seedBlock(id, pageID string, orderIndex int, published bool) store.PageBlock {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.tick()
	item := store.PageBlock{
		ID:         id,
		PageID:     pageID,
		Type:       "rich_text",
		Content:    json.RawMessage(`{"html":"<p>` + id + `</p>"}`),
		OrderIndex: orderIndex,
		Published:  published,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	m.blocks[id] = item
	return item
}
