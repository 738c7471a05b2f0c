package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sort"
	"strings"

	"lexicms/api/internal/auth"
	"lexicms/api/internal/blocks"
	"lexicms/api/internal/rbac"
	"lexicms/api/internal/store"
	"lexicms/api/internal/util"
)

const (
	DirectionUp   = "up"
	DirectionDown = "down"
)

type CreateBlockInput struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
}

type UpdateBlockInput struct {
	Type       *string         `json:"type"`
	Content    json.RawMessage `json:"content"`
	Published  *bool           `json:"published"`
	OrderIndex *int            `json:"orderIndex"`
}

// BlockType describes an entry of the editor's "add block" menu.
type BlockType struct {
	Type    string          `json:"type"`
	Default json.RawMessage `json:"default"`
}

func BlockTypes() []BlockType {
	known := blocks.Known()
	out := make([]BlockType, 0, len(known))
	for _, t := range known {
		out = append(out, BlockType{Type: string(t), Default: blocks.DefaultContent(t)})
	}
	return out
}

// sortBlocks orders by orderIndex; equal indices fall back to creation order.
func sortBlocks(items []store.PageBlock) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.OrderIndex != b.OrderIndex {
			return a.OrderIndex < b.OrderIndex
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

func (s *Service) listBlocks(ctx context.Context, pageID string) ([]store.PageBlock, error) {
	items, err := s.store.ListBlocks(ctx, pageID)
	if err != nil {
		return nil, classifyStoreError(err, "page")
	}
	sortBlocks(items)
	return items, nil
}

func blockViews(items []store.PageBlock) []BlockView {
	out := make([]BlockView, 0, len(items))
	for _, item := range items {
		out = append(out, blockView(item, nil))
	}
	return out
}

func withWarnings(item store.PageBlock) BlockView {
	return blockView(item, blocks.Validate(blocks.Type(item.Type), item.Content))
}

func (s *Service) ListBlocks(ctx context.Context, identity auth.Identity, pageID string) ([]BlockView, error) {
	if err := s.authorize(identity, rbac.ActionEdit); err != nil {
		return nil, err
	}
	items, err := s.listBlocks(ctx, pageID)
	if err != nil {
		return nil, err
	}
	return blockViews(items), nil
}

// CreateBlock appends a hidden block to the page. Missing content starts from
// the type's default payload.
func (s *Service) CreateBlock(ctx context.Context, identity auth.Identity, pageID string, input CreateBlockInput) (BlockView, error) {
	if err := s.authorize(identity, rbac.ActionEdit); err != nil {
		return BlockView{}, err
	}
	blockType := strings.TrimSpace(input.Type)
	if blockType == "" {
		return BlockView{}, validationError("Block type is required", map[string]string{"type": "required"})
	}
	content, err := blockContent(blockType, input.Content)
	if err != nil {
		return BlockView{}, err
	}
	if _, err := s.store.GetPage(ctx, pageID); err != nil {
		return BlockView{}, classifyStoreError(err, "page")
	}

	created, err := s.store.InsertBlockAtEnd(ctx, store.PageBlock{
		ID:        util.NewID("pb"),
		PageID:    pageID,
		Type:      blockType,
		Content:   content,
		Published: false,
		AuthorID:  authorRef(identity),
	})
	if err != nil {
		return BlockView{}, classifyStoreError(err, "page")
	}
	return withWarnings(created), nil
}

func blockContent(blockType string, raw json.RawMessage) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return blocks.DefaultContent(blocks.Type(blockType)), nil
	}
	if !json.Valid(raw) {
		return nil, validationError("Block content must be JSON", map[string]string{"content": "invalid"})
	}
	return raw, nil
}

// UpdateBlock overwrites the given fields. There is no merge: the last writer's
// content replaces the whole payload.
func (s *Service) UpdateBlock(ctx context.Context, identity auth.Identity, blockID string, input UpdateBlockInput) (BlockView, error) {
	action := rbac.ActionEdit
	if input.Published != nil {
		action = rbac.ActionPublish
	}
	if err := s.authorize(identity, action); err != nil {
		return BlockView{}, err
	}

	patch := store.BlockPatch{Published: input.Published, OrderIndex: input.OrderIndex}
	if input.Type != nil {
		blockType := strings.TrimSpace(*input.Type)
		if blockType == "" {
			return BlockView{}, validationError("Block type is required", map[string]string{"type": "required"})
		}
		patch.Type = &blockType
	}
	if trimmed := strings.TrimSpace(string(input.Content)); trimmed != "" && trimmed != "null" {
		if !json.Valid(input.Content) {
			return BlockView{}, validationError("Block content must be JSON", map[string]string{"content": "invalid"})
		}
		patch.Content = input.Content
	}

	if patch.Empty() {
		item, err := s.store.GetBlock(ctx, blockID)
		if err != nil {
			return BlockView{}, classifyStoreError(err, "block")
		}
		return withWarnings(item), nil
	}
	updated, err := s.store.UpdateBlock(ctx, blockID, patch)
	if err != nil {
		return BlockView{}, classifyStoreError(err, "block")
	}
	return withWarnings(updated), nil
}

// SetBlockPublished toggles a block between hidden and visible.
func (s *Service) SetBlockPublished(ctx context.Context, identity auth.Identity, blockID string, published bool) (BlockView, error) {
	return s.UpdateBlock(ctx, identity, blockID, UpdateBlockInput{Published: &published})
}

// DeleteBlock leaves a gap in the order indices; the rest are not renumbered.
func (s *Service) DeleteBlock(ctx context.Context, identity auth.Identity, blockID string) error {
	if err := s.authorize(identity, rbac.ActionEdit); err != nil {
		return err
	}
	if err := s.store.DeleteBlock(ctx, blockID); err != nil {
		return classifyStoreError(err, "block")
	}
	return nil
}

// DuplicateBlock inserts a hidden copy right after the source block.
func (s *Service) DuplicateBlock(ctx context.Context, identity auth.Identity, blockID string) (BlockView, error) {
	if err := s.authorize(identity, rbac.ActionEdit); err != nil {
		return BlockView{}, err
	}
	created, err := s.store.DuplicateBlock(ctx, blockID, util.NewID("pb"), authorRef(identity))
	if err != nil {
		return BlockView{}, classifyStoreError(err, "block")
	}
	return withWarnings(created), nil
}

// MoveBlock swaps a block with its neighbour and returns the page's blocks in
// their new order. Moving past either end is a no-op. The swap is applied as
// one version-checked patch set; concurrent changes trigger a re-read, up to
// the configured number of retries.
func (s *Service) MoveBlock(ctx context.Context, identity auth.Identity, blockID, direction string) ([]BlockView, error) {
	if direction != DirectionUp && direction != DirectionDown {
		return nil, validationError("Direction must be up or down", map[string]string{"direction": direction})
	}
	if err := s.authorize(identity, rbac.ActionEdit); err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		block, err := s.store.GetBlock(ctx, blockID)
		if err != nil {
			return nil, classifyStoreError(err, "block")
		}
		items, err := s.listBlocks(ctx, block.PageID)
		if err != nil {
			return nil, err
		}

		patches := movePatches(items, blockID, direction)
		if len(patches) == 0 {
			return blockViews(items), nil
		}
		err = s.store.ApplyBlockOrder(ctx, block.PageID, patches)
		if err == nil {
			moved, err := s.listBlocks(ctx, block.PageID)
			if err != nil {
				return nil, err
			}
			return blockViews(moved), nil
		}
		if !errors.Is(err, store.ErrVersionConflict) || attempt >= s.cfg.BlockReorderRetries {
			return nil, classifyStoreError(err, "block")
		}
		log.Printf("move block %s: retrying after concurrent change (attempt %d)", blockID, attempt+1)
	}
}

// movePatches computes the order changes for moving blockID one step in
// direction over items, which must already be sorted. Two neighbours with
// distinct indices swap them; a tie renumbers the page 1..n in the new order.
func movePatches(items []store.PageBlock, blockID, direction string) []store.OrderPatch {
	index := -1
	for i, item := range items {
		if item.ID == blockID {
			index = i
			break
		}
	}
	if index < 0 {
		return nil
	}
	neighbour := index - 1
	if direction == DirectionDown {
		neighbour = index + 1
	}
	if neighbour < 0 || neighbour >= len(items) {
		return nil
	}

	a, b := items[index], items[neighbour]
	if a.OrderIndex != b.OrderIndex {
		return []store.OrderPatch{
			{BlockID: a.ID, OrderIndex: b.OrderIndex, Version: a.Version},
			{BlockID: b.ID, OrderIndex: a.OrderIndex, Version: b.Version},
		}
	}

	reordered := append([]store.PageBlock(nil), items...)
	reordered[index], reordered[neighbour] = reordered[neighbour], reordered[index]
	patches := make([]store.OrderPatch, 0, len(reordered))
	for i, item := range reordered {
		if item.OrderIndex == i+1 {
			continue
		}
		patches = append(patches, store.OrderPatch{BlockID: item.ID, OrderIndex: i + 1, Version: item.Version})
	}
	return patches
}
