package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

type rowScanner interface {
	Scan(dest ...any) error
}

const pageColumns = `id, slug, title, content, published, author_id, created_at, updated_at`

func scanPage(row rowScanner) (Page, error) {
	var item Page
	err := row.Scan(&item.ID, &item.Slug, &item.Title, &item.Content, &item.Published, &item.AuthorID, &item.CreatedAt, &item.UpdatedAt)
	return item, err
}

func (s *PostgresStore) ListPages(ctx context.Context) ([]Page, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+pageColumns+`
		FROM pages
		ORDER BY updated_at DESC, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()

	items := make([]Page, 0)
	for rows.Next() {
		item, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pages: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetPage(ctx context.Context, pageID string) (Page, error) {
	item, err := scanPage(s.db.QueryRowContext(ctx, `SELECT `+pageColumns+` FROM pages WHERE id=$1`, pageID))
	if err != nil {
		return Page{}, err
	}
	return item, nil
}

// FindPageBySlug returns any page carrying slug other than excludeID, or nil.
func (s *PostgresStore) FindPageBySlug(ctx context.Context, slug, excludeID string) (*Page, error) {
	item, err := scanPage(s.db.QueryRowContext(ctx, `
		SELECT `+pageColumns+`
		FROM pages
		WHERE slug=$1 AND id <> $2
		ORDER BY updated_at DESC, id
		LIMIT 1
	`, slug, excludeID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find page by slug: %w", err)
	}
	return &item, nil
}

// PublishedPageBySlug returns the most recently updated published page for
// slug, skipping excludeID, or nil when there is none.
func (s *PostgresStore) PublishedPageBySlug(ctx context.Context, slug, excludeID string) (*Page, error) {
	item, err := scanPage(s.db.QueryRowContext(ctx, `
		SELECT `+pageColumns+`
		FROM pages
		WHERE slug=$1 AND published AND id <> $2
		ORDER BY updated_at DESC, id
		LIMIT 1
	`, slug, excludeID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("published page by slug: %w", err)
	}
	return &item, nil
}

func (s *PostgresStore) InsertPage(ctx context.Context, item Page) (Page, error) {
	created, err := scanPage(s.db.QueryRowContext(ctx, `
		INSERT INTO pages (id, slug, title, content, published, author_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+pageColumns,
		item.ID, item.Slug, item.Title, item.Content, item.Published, item.AuthorID))
	if err != nil {
		return Page{}, fmt.Errorf("insert page: %w", err)
	}
	return created, nil
}

// UpdatePage applies the non-nil fields of patch and bumps updated_at.
func (s *PostgresStore) UpdatePage(ctx context.Context, pageID string, patch PagePatch) (Page, error) {
	updated, err := scanPage(s.db.QueryRowContext(ctx, `
		UPDATE pages
		SET slug=COALESCE($2::text, slug),
			title=COALESCE($3::text, title),
			content=COALESCE($4::text, content),
			published=COALESCE($5::boolean, published),
			updated_at=clock_timestamp()
		WHERE id=$1
		RETURNING `+pageColumns,
		pageID, patch.Slug, patch.Title, patch.Content, patch.Published))
	if errors.Is(err, sql.ErrNoRows) {
		return Page{}, err
	}
	if err != nil {
		return Page{}, fmt.Errorf("update page: %w", err)
	}
	return updated, nil
}

// DeletePage removes the page with its blocks and versions in one transaction.
func (s *PostgresStore) DeletePage(ctx context.Context, pageID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete page: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM page_blocks WHERE page_id=$1`, pageID); err != nil {
		return fmt.Errorf("delete page blocks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM page_versions WHERE page_id=$1`, pageID); err != nil {
		return fmt.Errorf("delete page versions: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM pages WHERE id=$1`, pageID)
	if err != nil {
		return fmt.Errorf("delete page: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete page: %w", err)
	}
	return nil
}

const versionColumns = `id, page_id, title, content, state, author_id, created_at`

func scanVersion(row rowScanner) (PageVersion, error) {
	var item PageVersion
	err := row.Scan(&item.ID, &item.PageID, &item.Title, &item.Content, &item.State, &item.AuthorID, &item.CreatedAt)
	return item, err
}

func (s *PostgresStore) InsertVersion(ctx context.Context, item PageVersion) (PageVersion, error) {
	created, err := scanVersion(s.db.QueryRowContext(ctx, `
		INSERT INTO page_versions (id, page_id, title, content, state, author_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+versionColumns,
		item.ID, item.PageID, item.Title, item.Content, item.State, item.AuthorID))
	if err != nil {
		return PageVersion{}, fmt.Errorf("insert page version: %w", err)
	}
	return created, nil
}

// LatestVersion returns the newest version of pageID in state, or nil.
func (s *PostgresStore) LatestVersion(ctx context.Context, pageID, state string) (*PageVersion, error) {
	item, err := scanVersion(s.db.QueryRowContext(ctx, `
		SELECT `+versionColumns+`
		FROM page_versions
		WHERE page_id=$1 AND state=$2
		ORDER BY created_at DESC, seq DESC
		LIMIT 1
	`, pageID, state))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest page version: %w", err)
	}
	return &item, nil
}

// ListVersions returns versions newest first; an empty state matches all states.
func (s *PostgresStore) ListVersions(ctx context.Context, pageID, state string, limit int) ([]PageVersion, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+versionColumns+`
		FROM page_versions
		WHERE page_id=$1 AND ($2 = '' OR state=$2)
		ORDER BY created_at DESC, seq DESC
		LIMIT $3
	`, pageID, state, limit)
	if err != nil {
		return nil, fmt.Errorf("list page versions: %w", err)
	}
	defer rows.Close()

	items := make([]PageVersion, 0)
	for rows.Next() {
		item, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan page version: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate page versions: %w", err)
	}
	return items, nil
}

const blockColumns = `id, page_id, type, content, order_index, published, author_id, version, created_at, updated_at`

func scanBlock(row rowScanner) (PageBlock, error) {
	var item PageBlock
	var content []byte
	err := row.Scan(&item.ID, &item.PageID, &item.Type, &content, &item.OrderIndex, &item.Published, &item.AuthorID, &item.Version, &item.CreatedAt, &item.UpdatedAt)
	item.Content = content
	return item, err
}

func (s *PostgresStore) queryBlocks(ctx context.Context, query string, args ...any) ([]PageBlock, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list page blocks: %w", err)
	}
	defer rows.Close()

	items := make([]PageBlock, 0)
	for rows.Next() {
		item, err := scanBlock(rows)
		if err != nil {
			return nil, fmt.Errorf("scan page block: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate page blocks: %w", err)
	}
	return items, nil
}

// ListBlocks returns every block of pageID in display order.
func (s *PostgresStore) ListBlocks(ctx context.Context, pageID string) ([]PageBlock, error) {
	return s.queryBlocks(ctx, `
		SELECT `+blockColumns+`
		FROM page_blocks
		WHERE page_id=$1
		ORDER BY order_index, created_at, seq
	`, pageID)
}

// ListPublishedBlocks returns the visible blocks of pageID in display order.
func (s *PostgresStore) ListPublishedBlocks(ctx context.Context, pageID string) ([]PageBlock, error) {
	return s.queryBlocks(ctx, `
		SELECT `+blockColumns+`
		FROM page_blocks
		WHERE page_id=$1 AND published
		ORDER BY order_index, created_at, seq
	`, pageID)
}

func (s *PostgresStore) GetBlock(ctx context.Context, blockID string) (PageBlock, error) {
	item, err := scanBlock(s.db.QueryRowContext(ctx, `SELECT `+blockColumns+` FROM page_blocks WHERE id=$1`, blockID))
	if err != nil {
		return PageBlock{}, err
	}
	return item, nil
}

// InsertBlockAtEnd inserts item after the last block of its page. The order
// index is computed by the same statement that inserts the row.
func (s *PostgresStore) InsertBlockAtEnd(ctx context.Context, item PageBlock) (PageBlock, error) {
	created, err := scanBlock(s.db.QueryRowContext(ctx, `
		INSERT INTO page_blocks (id, page_id, type, content, order_index, published, author_id)
		SELECT $1, $2, $3, $4::jsonb, COALESCE(MAX(order_index), 0) + 1, $5, $6
		FROM page_blocks
		WHERE page_id=$2
		RETURNING `+blockColumns,
		item.ID, item.PageID, item.Type, string(item.Content), item.Published, item.AuthorID))
	if err != nil {
		return PageBlock{}, fmt.Errorf("insert page block: %w", err)
	}
	return created, nil
}

// UpdateBlock applies the non-nil fields of patch and bumps the row version.
func (s *PostgresStore) UpdateBlock(ctx context.Context, blockID string, patch BlockPatch) (PageBlock, error) {
	var content any
	if patch.Content != nil {
		content = string(patch.Content)
	}
	updated, err := scanBlock(s.db.QueryRowContext(ctx, `
		UPDATE page_blocks
		SET type=COALESCE($2::text, type),
			content=COALESCE($3::jsonb, content),
			published=COALESCE($4::boolean, published),
			order_index=COALESCE($5::integer, order_index),
			version=version + 1,
			updated_at=clock_timestamp()
		WHERE id=$1
		RETURNING `+blockColumns,
		blockID, patch.Type, content, patch.Published, patch.OrderIndex))
	if errors.Is(err, sql.ErrNoRows) {
		return PageBlock{}, err
	}
	if err != nil {
		return PageBlock{}, fmt.Errorf("update page block: %w", err)
	}
	return updated, nil
}

func (s *PostgresStore) DeleteBlock(ctx context.Context, blockID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM page_blocks WHERE id=$1`, blockID)
	if err != nil {
		return fmt.Errorf("delete page block: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DuplicateBlock clones sourceID right after itself. Later blocks are shifted
// by one and the copy inserted in the same transaction. The copy starts hidden.
func (s *PostgresStore) DuplicateBlock(ctx context.Context, sourceID, newID string, authorID *string) (PageBlock, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return PageBlock{}, fmt.Errorf("begin duplicate block: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	source, err := scanBlock(tx.QueryRowContext(ctx, `SELECT `+blockColumns+` FROM page_blocks WHERE id=$1 FOR UPDATE`, sourceID))
	if errors.Is(err, sql.ErrNoRows) {
		return PageBlock{}, err
	}
	if err != nil {
		return PageBlock{}, fmt.Errorf("lock source block: %w", err)
	}

	var ties int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM page_blocks WHERE page_id=$1 AND order_index=$2 AND id<>$3
	`, source.PageID, source.OrderIndex, source.ID).Scan(&ties); err != nil {
		return PageBlock{}, fmt.Errorf("count tied blocks: %w", err)
	}

	insertAt := source.OrderIndex + 1
	if ties > 0 {
		insertAt, err = renumberAround(ctx, tx, source)
		if err != nil {
			return PageBlock{}, err
		}
	} else if _, err := tx.ExecContext(ctx, `
		UPDATE page_blocks
		SET order_index=order_index + 1, version=version + 1, updated_at=clock_timestamp()
		WHERE page_id=$1 AND order_index >= $2
	`, source.PageID, insertAt); err != nil {
		return PageBlock{}, fmt.Errorf("shift page blocks: %w", err)
	}

	created, err := scanBlock(tx.QueryRowContext(ctx, `
		INSERT INTO page_blocks (id, page_id, type, content, order_index, published, author_id)
		VALUES ($1, $2, $3, $4::jsonb, $5, FALSE, $6)
		RETURNING `+blockColumns,
		newID, source.PageID, source.Type, string(source.Content), insertAt, authorID))
	if err != nil {
		return PageBlock{}, fmt.Errorf("insert duplicate block: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return PageBlock{}, fmt.Errorf("commit duplicate block: %w", err)
	}
	return created, nil
}

// renumberAround rewrites the page's order 1..n in list order, leaving a gap
// right after source, and returns the index of that gap.
func renumberAround(ctx context.Context, tx *sql.Tx, source PageBlock) (int, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM page_blocks
		WHERE page_id=$1
		ORDER BY order_index ASC, created_at ASC, id ASC
		FOR UPDATE
	`, source.PageID)
	if err != nil {
		return 0, fmt.Errorf("lock page blocks: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan page block: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Close(); err != nil {
		return 0, fmt.Errorf("close page blocks: %w", err)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("list page blocks: %w", err)
	}

	insertAt, next := 0, 1
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `
			UPDATE page_blocks
			SET order_index=$2, version=version + 1, updated_at=clock_timestamp()
			WHERE id=$1 AND order_index<>$2
		`, id, next); err != nil {
			return 0, fmt.Errorf("renumber page blocks: %w", err)
		}
		next++
		if id == source.ID {
			insertAt = next
			next++
		}
	}
	return insertAt, nil
}

// ApplyBlockOrder writes every patch or none. A row whose version moved since
// it was read aborts the whole set with ErrVersionConflict.
func (s *PostgresStore) ApplyBlockOrder(ctx context.Context, pageID string, patches []OrderPatch) error {
	if len(patches) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin block order: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, patch := range patches {
		res, err := tx.ExecContext(ctx, `
			UPDATE page_blocks
			SET order_index=$3, version=version + 1, updated_at=clock_timestamp()
			WHERE id=$1 AND page_id=$2 AND version=$4
		`, patch.BlockID, pageID, patch.OrderIndex, patch.Version)
		if err != nil {
			return fmt.Errorf("apply block order: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("apply block order: %w", err)
		}
		if n == 0 {
			return ErrVersionConflict
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit block order: %w", err)
	}
	return nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
