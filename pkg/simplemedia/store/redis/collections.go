package redis

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"github.com/tendant/simple-media/pkg/simplemedia"
)

// CreateCollection writes a new, empty collection.
func (s *Store) CreateCollection(ctx context.Context, fields simplemedia.NewCollection) (*simplemedia.Collection, error) {
	now := s.now()
	c := &simplemedia.Collection{
		ID:           s.newID(),
		Name:         fields.Name,
		Description:  fields.Description,
		CoverAssetID: fields.CoverAssetID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, &simplemedia.CollectionError{CollectionID: c.ID, Op: "create", Err: err}
	}
	_, err = s.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, s.keyCollection(c.ID), data, 0)
		pipe.ZAdd(ctx, s.keyCollectionIndex(), goredis.Z{Score: score(c.CreatedAt), Member: c.ID})
		return nil
	})
	if err != nil {
		return nil, &simplemedia.CollectionError{CollectionID: c.ID, Op: "create", Err: err}
	}
	return c, nil
}

// GetCollection returns (nil, nil) when the collection is absent or
// unreadable. AssetCount is taken from the membership set.
func (s *Store) GetCollection(ctx context.Context, id string) (*simplemedia.Collection, error) {
	c, err := s.readCollection(ctx, id)
	if err != nil || c == nil {
		return nil, err
	}
	count, err := s.client.SCard(ctx, s.keyMembers(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("count collection %s: %w", id, err)
	}
	c.AssetCount = count
	return c, nil
}

func (s *Store) readCollection(ctx context.Context, id string) (*simplemedia.Collection, error) {
	var c simplemedia.Collection
	found, err := s.getJSON(ctx, s.keyCollection(id), &c)
	if err != nil || !found {
		return nil, err
	}
	return &c, nil
}

func (s *Store) writeCollection(ctx context.Context, pipe goredis.Pipeliner, c *simplemedia.Collection) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	pipe.Set(ctx, s.keyCollection(c.ID), data, 0)
	return nil
}

func (s *Store) writeAsset(ctx context.Context, pipe goredis.Pipeliner, a *simplemedia.Asset) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	pipe.Set(ctx, s.keyAsset(a.ID), data, 0)
	return nil
}

// UpdateCollection merges patch over an existing collection.
func (s *Store) UpdateCollection(ctx context.Context, id string, patch simplemedia.CollectionPatch) (*simplemedia.Collection, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	old, err := s.GetCollection(ctx, id)
	if err != nil {
		return nil, &simplemedia.CollectionError{CollectionID: id, Op: "update", Err: err}
	}
	if old == nil {
		return nil, &simplemedia.CollectionError{CollectionID: id, Op: "update", Err: simplemedia.ErrCollectionNotFound}
	}
	merged := patch.Apply(*old, s.now())
	_, err = s.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		return s.writeCollection(ctx, pipe, &merged)
	})
	if err != nil {
		return nil, &simplemedia.CollectionError{CollectionID: id, Op: "update", Err: err}
	}
	return &merged, nil
}

// DeleteCollection removes the collection, its membership set and its
// ordering entry in one batch. Member assets are then rewritten one by one
// to drop the back-reference; failures there are logged and skipped.
func (s *Store) DeleteCollection(ctx context.Context, id string) (bool, error) {
	unlock := s.locks.lock(id)
	c, err := s.readCollection(ctx, id)
	if err != nil {
		unlock()
		return false, &simplemedia.CollectionError{CollectionID: id, Op: "delete", Err: err}
	}
	if c == nil {
		unlock()
		return false, nil
	}
	members, err := s.client.SMembers(ctx, s.keyMembers(id)).Result()
	if err != nil {
		unlock()
		return false, &simplemedia.CollectionError{CollectionID: id, Op: "delete", Err: err}
	}
	_, err = s.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, s.keyCollection(id), s.keyMembers(id))
		pipe.ZRem(ctx, s.keyCollectionIndex(), id)
		return nil
	})
	unlock()
	if err != nil {
		return false, &simplemedia.CollectionError{CollectionID: id, Op: "delete", Err: err}
	}

	for _, assetID := range members {
		if err := s.dropBackReference(ctx, assetID, id); err != nil {
			s.logger.Error("Failed to drop collection from asset",
				"collection_id", id, "asset_id", assetID, "error", err)
		}
	}
	return true, nil
}

func (s *Store) dropBackReference(ctx context.Context, assetID, collectionID string) error {
	unlock := s.locks.lock(assetID)
	defer unlock()

	a, err := s.GetAsset(ctx, assetID)
	if err != nil || a == nil {
		return err
	}
	if !a.InCollection(collectionID) {
		return nil
	}
	a.Collections = without(a.Collections, collectionID)
	a.UpdatedAt = s.now()
	_, err = s.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		return s.writeAsset(ctx, pipe, a)
	})
	return err
}

// clearCovers unsets the cover of each listed collection that names assetID.
// It runs after the asset's own writes; failures are logged and skipped.
func (s *Store) clearCovers(ctx context.Context, assetID string, collectionIDs []string) {
	for _, cid := range collectionIDs {
		if err := s.clearCover(ctx, assetID, cid); err != nil {
			s.logger.Error("Failed to clear collection cover",
				"collection_id", cid, "asset_id", assetID, "error", err)
		}
	}
}

func (s *Store) clearCover(ctx context.Context, assetID, collectionID string) error {
	unlock := s.locks.lock(collectionID)
	defer unlock()

	c, err := s.readCollection(ctx, collectionID)
	if err != nil || c == nil || c.CoverAssetID != assetID {
		return err
	}
	c.CoverAssetID = ""
	c.UpdatedAt = s.now()
	_, err = s.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		return s.writeCollection(ctx, pipe, c)
	})
	return err
}

// collectionsCoveredBy lists the collections whose cover is assetID,
// members or not.
func (s *Store) collectionsCoveredBy(ctx context.Context, assetID string) ([]string, error) {
	collections, err := s.ListCollections(ctx)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, c := range collections {
		if c.CoverAssetID == assetID {
			ids = append(ids, c.ID)
		}
	}
	return ids, nil
}

// ListCollections returns every collection, newest first.
func (s *Store) ListCollections(ctx context.Context) ([]*simplemedia.Collection, error) {
	ids, err := s.client.ZRevRange(ctx, s.keyCollectionIndex(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list collection ids: %w", err)
	}
	if len(ids) == 0 {
		return []*simplemedia.Collection{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.keyCollection(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget collections: %w", err)
	}

	collections := make([]*simplemedia.Collection, 0, len(ids))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var c simplemedia.Collection
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			s.logger.Warn("Skipping unreadable record", "key", keys[i], "error", err)
			continue
		}
		collections = append(collections, &c)
	}

	counts := make([]*goredis.IntCmd, len(collections))
	_, err = s.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		for i, c := range collections {
			counts[i] = pipe.SCard(ctx, s.keyMembers(c.ID))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("count collections: %w", err)
	}
	for i, c := range collections {
		c.AssetCount = counts[i].Val()
	}
	return collections, nil
}

// AddAssetToCollection makes the asset a member of the collection. It is a
// no-op when the asset is already a member.
func (s *Store) AddAssetToCollection(ctx context.Context, assetID, collectionID string) error {
	return s.setMembership(ctx, assetID, collectionID, true)
}

// RemoveAssetFromCollection drops the asset from the collection, clearing the
// cover if it pointed at the asset. It is a no-op when the asset is not a member.
func (s *Store) RemoveAssetFromCollection(ctx context.Context, assetID, collectionID string) error {
	return s.setMembership(ctx, assetID, collectionID, false)
}

func (s *Store) setMembership(ctx context.Context, assetID, collectionID string, member bool) error {
	op := "add_member"
	if !member {
		op = "remove_member"
	}
	unlock := s.locks.lock(assetID, collectionID)
	defer unlock()

	a, err := s.GetAsset(ctx, assetID)
	if err != nil {
		return &simplemedia.AssetError{AssetID: assetID, Op: op, Err: err}
	}
	if a == nil {
		return &simplemedia.AssetError{AssetID: assetID, Op: op, Err: simplemedia.ErrAssetNotFound}
	}
	c, err := s.readCollection(ctx, collectionID)
	if err != nil {
		return &simplemedia.CollectionError{CollectionID: collectionID, Op: op, Err: err}
	}
	if c == nil {
		return &simplemedia.CollectionError{CollectionID: collectionID, Op: op, Err: simplemedia.ErrCollectionNotFound}
	}

	isMember, err := s.client.SIsMember(ctx, s.keyMembers(collectionID), assetID).Result()
	if err != nil {
		return &simplemedia.CollectionError{CollectionID: collectionID, Op: op, Err: err}
	}
	if isMember == member && a.InCollection(collectionID) == member {
		return nil
	}
	count, err := s.client.SCard(ctx, s.keyMembers(collectionID)).Result()
	if err != nil {
		return &simplemedia.CollectionError{CollectionID: collectionID, Op: op, Err: err}
	}

	now := s.now()
	switch {
	case member && !isMember:
		count++
	case !member && isMember:
		count--
	}
	if member {
		if !a.InCollection(collectionID) {
			a.Collections = append(a.Collections, collectionID)
		}
	} else {
		a.Collections = without(a.Collections, collectionID)
		if c.CoverAssetID == assetID {
			c.CoverAssetID = ""
		}
	}
	a.UpdatedAt = now
	c.AssetCount = count
	c.UpdatedAt = now

	_, err = s.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		if member {
			pipe.SAdd(ctx, s.keyMembers(collectionID), assetID)
		} else {
			pipe.SRem(ctx, s.keyMembers(collectionID), assetID)
		}
		if err := s.writeAsset(ctx, pipe, a); err != nil {
			return err
		}
		return s.writeCollection(ctx, pipe, c)
	})
	if err != nil {
		return &simplemedia.CollectionError{CollectionID: collectionID, Op: op, Err: err}
	}
	return nil
}

func without(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
