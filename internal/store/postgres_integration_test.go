package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newIntegrationStore(t *testing.T) *PostgresStore {
	t.Helper()
	db, ctx := openTestDB(t)
	if err := ApplyMigrationsFS(ctx, db, os.DirFS(filepath.Join("..", "..", "db", "migrations"))); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewPostgresStore(db)
}

func TestPostgresStoreBlockLifecycle(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := t.Context()

	page, err := s.InsertPage(ctx, Page{ID: "pg_1", Slug: "home", Title: "Accueil"})
	if err != nil {
		t.Fatalf("insert page: %v", err)
	}

	ids := []string{"pb_a", "pb_b", "pb_c"}
	for i, id := range ids {
		block, err := s.InsertBlockAtEnd(ctx, PageBlock{ID: id, PageID: page.ID, Type: "rich_text", Content: json.RawMessage(`{"html":"<p>x</p>"}`)})
		if err != nil {
			t.Fatalf("insert block %s: %v", id, err)
		}
		if block.OrderIndex != i+1 {
			t.Fatalf("block %s: expected order %d, got %d", id, i+1, block.OrderIndex)
		}
		if block.Published {
			t.Fatalf("new block %s must start hidden", id)
		}
	}

	dup, err := s.DuplicateBlock(ctx, "pb_a", "pb_a2", nil)
	if err != nil {
		t.Fatalf("duplicate block: %v", err)
	}
	if dup.OrderIndex != 2 {
		t.Fatalf("expected duplicate at 2, got %d", dup.OrderIndex)
	}

	blocks, err := s.ListBlocks(ctx, page.ID)
	if err != nil {
		t.Fatalf("list blocks: %v", err)
	}
	want := []string{"pb_a", "pb_a2", "pb_b", "pb_c"}
	for i, block := range blocks {
		if block.ID != want[i] || block.OrderIndex != i+1 {
			t.Fatalf("position %d: got %s@%d", i, block.ID, block.OrderIndex)
		}
	}

	stale := blocks[2]
	if _, err := s.UpdateBlock(ctx, stale.ID, BlockPatch{Content: json.RawMessage(`{"html":"<p>y</p>"}`)}); err != nil {
		t.Fatalf("update block: %v", err)
	}
	err = s.ApplyBlockOrder(ctx, page.ID, []OrderPatch{
		{BlockID: blocks[1].ID, OrderIndex: stale.OrderIndex, Version: blocks[1].Version},
		{BlockID: stale.ID, OrderIndex: blocks[1].OrderIndex, Version: stale.Version},
	})
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
	after, err := s.GetBlock(ctx, blocks[1].ID)
	if err != nil {
		t.Fatalf("get block: %v", err)
	}
	if after.OrderIndex != blocks[1].OrderIndex {
		t.Fatal("conflicting order patch must not be partially applied")
	}

	if err := s.DeleteBlock(ctx, "pb_b"); err != nil {
		t.Fatalf("delete block: %v", err)
	}
	if err := s.DeleteBlock(ctx, "pb_b"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected no rows on second delete, got %v", err)
	}
}

func TestPostgresStoreDuplicateBlockRenumbersTiedPage(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := t.Context()

	page, err := s.InsertPage(ctx, Page{ID: "pg_tie", Slug: "tarifs", Title: "Tarifs"})
	if err != nil {
		t.Fatalf("insert page: %v", err)
	}
	for _, id := range []string{"pb_a", "pb_b", "pb_c"} {
		if _, err := s.InsertBlockAtEnd(ctx, PageBlock{ID: id, PageID: page.ID, Type: "rich_text", Content: json.RawMessage(`{"html":"<p>x</p>"}`)}); err != nil {
			t.Fatalf("insert block %s: %v", id, err)
		}
	}
	one, two := 1, 2
	if _, err := s.UpdateBlock(ctx, "pb_b", BlockPatch{OrderIndex: &one}); err != nil {
		t.Fatalf("tie pb_b: %v", err)
	}
	if _, err := s.UpdateBlock(ctx, "pb_c", BlockPatch{OrderIndex: &two}); err != nil {
		t.Fatalf("move pb_c: %v", err)
	}

	dup, err := s.DuplicateBlock(ctx, "pb_a", "pb_a2", nil)
	if err != nil {
		t.Fatalf("duplicate block: %v", err)
	}
	if dup.OrderIndex != 2 {
		t.Fatalf("expected duplicate at 2, got %d", dup.OrderIndex)
	}
	blocks, err := s.ListBlocks(ctx, page.ID)
	if err != nil {
		t.Fatalf("list blocks: %v", err)
	}
	want := []string{"pb_a", "pb_a2", "pb_b", "pb_c"}
	if len(blocks) != len(want) {
		t.Fatalf("expected %d blocks, got %d", len(want), len(blocks))
	}
	for i, block := range blocks {
		if block.ID != want[i] || block.OrderIndex != i+1 {
			t.Fatalf("position %d: got %s@%d", i, block.ID, block.OrderIndex)
		}
	}
}

func TestPostgresStoreVersionsAreAppendOnly(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := t.Context()

	if _, err := s.InsertPage(ctx, Page{ID: "pg_1", Slug: "tarifs", Title: "Tarifs"}); err != nil {
		t.Fatalf("insert page: %v", err)
	}
	for _, id := range []string{"pv_1", "pv_2"} {
		if _, err := s.InsertVersion(ctx, PageVersion{ID: id, PageID: "pg_1", Title: id, Content: "<p>" + id + "</p>", State: StatePublished}); err != nil {
			t.Fatalf("insert version: %v", err)
		}
	}

	latest, err := s.LatestVersion(ctx, "pg_1", StatePublished)
	if err != nil || latest == nil {
		t.Fatalf("latest version: %v %v", latest, err)
	}
	if latest.ID != "pv_2" {
		t.Fatalf("expected pv_2 latest, got %s", latest.ID)
	}
	none, err := s.LatestVersion(ctx, "pg_1", StateInReview)
	if err != nil || none != nil {
		t.Fatalf("expected no in_review version, got %v %v", none, err)
	}

	if _, err := s.DB().ExecContext(ctx, `UPDATE page_versions SET title='x' WHERE id='pv_1'`); err == nil {
		t.Fatal("expected update of page_versions to be rejected")
	}

	if err := s.DeletePage(ctx, "pg_1"); err != nil {
		t.Fatalf("delete page: %v", err)
	}
	versions, err := s.ListVersions(ctx, "pg_1", "", 10)
	if err != nil {
		t.Fatalf("list versions: %v", err)
	}
	if len(versions) != 0 {
		t.Fatalf("expected versions removed with page, got %d", len(versions))
	}
}

func TestPostgresStorePublishedPageBySlug(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := t.Context()

	if _, err := s.InsertPage(ctx, Page{ID: "pg_old", Slug: "contact", Title: "Old", Published: true}); err != nil {
		t.Fatalf("insert page: %v", err)
	}
	if _, err := s.InsertPage(ctx, Page{ID: "pg_new", Slug: "contact", Title: "New", Published: true}); err != nil {
		t.Fatalf("insert page: %v", err)
	}

	found, err := s.PublishedPageBySlug(ctx, "contact", "")
	if err != nil || found == nil {
		t.Fatalf("published page by slug: %v %v", found, err)
	}
	if found.ID != "pg_new" {
		t.Fatalf("expected most recently updated row, got %s", found.ID)
	}

	other, err := s.PublishedPageBySlug(ctx, "contact", "pg_new")
	if err != nil || other == nil || other.ID != "pg_old" {
		t.Fatalf("expected pg_old when excluding pg_new, got %v %v", other, err)
	}

	title := "Nouveau"
	updated, err := s.UpdatePage(ctx, "pg_old", PagePatch{Title: &title})
	if err != nil {
		t.Fatalf("update page: %v", err)
	}
	if updated.Title != title || updated.Slug != "contact" || !updated.UpdatedAt.After(updated.CreatedAt) {
		t.Fatalf("unexpected update result: %+v", updated)
	}
	if _, err := s.UpdatePage(ctx, "pg_missing", PagePatch{Title: &title}); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected no rows for missing page, got %v", err)
	}
}
