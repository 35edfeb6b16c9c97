package redis

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"github.com/tendant/simple-media/pkg/simplemedia"
)

// CreateAsset writes a new asset with its ordering, tag and membership
// entries in one batch, then indexes its words in a second batch. A failure
// of the second batch is logged; the asset is visible but not yet searchable.
// Every listed collection must exist.
func (s *Store) CreateAsset(ctx context.Context, fields simplemedia.NewAsset) (*simplemedia.Asset, error) {
	now := s.now()
	asset := &simplemedia.Asset{
		ID:           s.newID(),
		FileName:     fields.FileName,
		MimeType:     fields.MimeType,
		FileSize:     fields.FileSize,
		Duration:     fields.Duration,
		Resolution:   fields.Resolution,
		Codec:        fields.Codec,
		Title:        fields.Title,
		Description:  fields.Description,
		Tags:         fields.Tags,
		Metadata:     fields.Metadata,
		StorageKey:   fields.StorageKey,
		ProxyKey:     fields.ProxyKey,
		ThumbnailKey: fields.ThumbnailKey,
		PosterKey:    fields.PosterKey,
		ProxyStatus:  fields.ProxyStatus,
		Collections:  uniqueIDs(fields.Collections),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if asset.ProxyStatus == "" {
		asset.ProxyStatus = simplemedia.ProxyStatusNone
		if asset.IsVideo() {
			asset.ProxyStatus = simplemedia.ProxyStatusPending
		}
	}

	if err := s.requireCollections(ctx, asset.Collections); err != nil {
		return nil, &simplemedia.AssetError{AssetID: asset.ID, Op: "create", Err: err}
	}

	data, err := json.Marshal(asset)
	if err != nil {
		return nil, &simplemedia.AssetError{AssetID: asset.ID, Op: "create", Err: err}
	}

	_, err = s.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, s.keyAsset(asset.ID), data, 0)
		pipe.ZAdd(ctx, s.keyAssetIndex(), goredis.Z{Score: score(asset.CreatedAt), Member: asset.ID})
		for _, tag := range simplemedia.NormalizeTags(asset.Tags) {
			pipe.ZIncrBy(ctx, s.keyTags(), 1, tag)
		}
		for _, cid := range asset.Collections {
			pipe.SAdd(ctx, s.keyMembers(cid), asset.ID)
		}
		return nil
	})
	if err != nil {
		return nil, &simplemedia.AssetError{AssetID: asset.ID, Op: "create", Err: err}
	}

	s.indexWords(ctx, asset)
	return asset, nil
}

// GetAsset returns (nil, nil) when the asset is absent or its record is unreadable.
func (s *Store) GetAsset(ctx context.Context, id string) (*simplemedia.Asset, error) {
	var asset simplemedia.Asset
	found, err := s.getJSON(ctx, s.keyAsset(id), &asset)
	if err != nil || !found {
		return nil, err
	}
	return &asset, nil
}

// UpdateAsset applies patch to an existing asset. The steps run in a fixed
// order: drop old search entries, apply tag and membership deltas together
// with the record write, re-index the merged record's words, then clear the
// cover of any collection the asset left. Collections the patch adds must
// exist.
func (s *Store) UpdateAsset(ctx context.Context, id string, patch simplemedia.AssetPatch) (*simplemedia.Asset, error) {
	merged, left, err := s.updateAsset(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	s.clearCovers(ctx, id, left)
	return merged, nil
}

func (s *Store) updateAsset(ctx context.Context, id string, patch simplemedia.AssetPatch) (*simplemedia.Asset, []string, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	old, err := s.GetAsset(ctx, id)
	if err != nil {
		return nil, nil, &simplemedia.AssetError{AssetID: id, Op: "update", Err: err}
	}
	if old == nil {
		return nil, nil, &simplemedia.AssetError{AssetID: id, Op: "update", Err: simplemedia.ErrAssetNotFound}
	}

	merged := patch.Apply(*old, s.now())
	if patch.Collections != nil {
		merged.Collections = uniqueIDs(merged.Collections)
	}

	var tagsAdded, tagsRemoved []string
	if patch.Tags != nil {
		tagsAdded, tagsRemoved = simplemedia.Diff(
			simplemedia.NormalizeTags(old.Tags), simplemedia.NormalizeTags(merged.Tags))
	}
	var collAdded, collRemoved []string
	if patch.Collections != nil {
		collAdded, collRemoved = simplemedia.Diff(old.Collections, merged.Collections)
	}
	if err := s.requireCollections(ctx, collAdded); err != nil {
		return nil, nil, &simplemedia.AssetError{AssetID: id, Op: "update", Err: err}
	}

	data, err := json.Marshal(&merged)
	if err != nil {
		return nil, nil, &simplemedia.AssetError{AssetID: id, Op: "update", Err: err}
	}

	if err := s.unindexWords(ctx, old); err != nil {
		return nil, nil, &simplemedia.AssetError{AssetID: id, Op: "update", Err: err}
	}

	_, err = s.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, tag := range tagsAdded {
			pipe.ZIncrBy(ctx, s.keyTags(), 1, tag)
		}
		for _, tag := range tagsRemoved {
			pipe.ZIncrBy(ctx, s.keyTags(), -1, tag)
		}
		if len(tagsRemoved) > 0 {
			pipe.ZRemRangeByScore(ctx, s.keyTags(), "-inf", "0")
		}
		for _, cid := range collAdded {
			pipe.SAdd(ctx, s.keyMembers(cid), id)
		}
		for _, cid := range collRemoved {
			pipe.SRem(ctx, s.keyMembers(cid), id)
		}
		pipe.Set(ctx, s.keyAsset(id), data, 0)
		return nil
	})
	if err != nil {
		return nil, nil, &simplemedia.AssetError{AssetID: id, Op: "update", Err: err}
	}

	s.indexWords(ctx, &merged)
	return &merged, collRemoved, nil
}

// DeleteAsset removes the asset and every index entry pointing at it, then
// clears any collection cover naming it. It returns false when the asset
// does not exist.
func (s *Store) DeleteAsset(ctx context.Context, id string) (bool, error) {
	deleted, err := s.deleteAsset(ctx, id)
	if err != nil || !deleted {
		return deleted, err
	}
	covered, err := s.collectionsCoveredBy(ctx, id)
	if err != nil {
		s.logger.Error("Failed to find collections covered by asset", "asset_id", id, "error", err)
	}
	s.clearCovers(ctx, id, covered)
	return true, nil
}

func (s *Store) deleteAsset(ctx context.Context, id string) (bool, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	old, err := s.GetAsset(ctx, id)
	if err != nil {
		return false, &simplemedia.AssetError{AssetID: id, Op: "delete", Err: err}
	}
	if old == nil {
		return false, nil
	}

	tags := simplemedia.NormalizeTags(old.Tags)
	_, err = s.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, word := range simplemedia.AssetWords(old) {
			pipe.SRem(ctx, s.keyWord(word), id)
		}
		pipe.Del(ctx, s.keyAsset(id))
		pipe.ZRem(ctx, s.keyAssetIndex(), id)
		for _, tag := range tags {
			pipe.ZIncrBy(ctx, s.keyTags(), -1, tag)
		}
		if len(tags) > 0 {
			pipe.ZRemRangeByScore(ctx, s.keyTags(), "-inf", "0")
		}
		for _, cid := range old.Collections {
			pipe.SRem(ctx, s.keyMembers(cid), id)
		}
		return nil
	})
	if err != nil {
		return false, &simplemedia.AssetError{AssetID: id, Op: "delete", Err: err}
	}
	return true, nil
}

// ListAssets resolves candidate ids from a collection or the ordering index,
// then filters, sorts and paginates in the application.
func (s *Store) ListAssets(ctx context.Context, req simplemedia.ListAssetsRequest) (*simplemedia.AssetPage, error) {
	page, limit := simplemedia.ClampPage(req.Page, req.Limit)

	var ids []string
	var err error
	if req.CollectionID != "" {
		ids, err = s.client.SMembers(ctx, s.keyMembers(req.CollectionID)).Result()
	} else {
		ids, err = s.client.ZRevRange(ctx, s.keyAssetIndex(), 0, -1).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("list asset ids: %w", err)
	}

	assets, err := s.loadAssets(ctx, ids)
	if err != nil {
		return nil, err
	}
	assets = simplemedia.FilterByType(assets, req.TypeFilter)
	simplemedia.SortAssets(assets, req.Sort, req.Order)
	return simplemedia.Paginate(assets, page, limit), nil
}

// requireCollections returns ErrCollectionNotFound for the first id without
// a collection record.
func (s *Store) requireCollections(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	exists := make([]*goredis.IntCmd, len(ids))
	_, err := s.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		for i, id := range ids {
			exists[i] = pipe.Exists(ctx, s.keyCollection(id))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("check collections: %w", err)
	}
	for i, cmd := range exists {
		if cmd.Val() == 0 {
			return &simplemedia.CollectionError{CollectionID: ids[i], Op: "check", Err: simplemedia.ErrCollectionNotFound}
		}
	}
	return nil
}

func uniqueIDs(ids []string) []string {
	if ids == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
