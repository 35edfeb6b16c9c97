package redis

import (
	"context"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"
	"github.com/tendant/simple-media/pkg/simplemedia"
)

// ReindexResult summarizes a rebuild.
type ReindexResult struct {
	Assets      int
	Collections int
	Tags        int
	Words       int
	// Repaired counts records rewritten to drop references to missing
	// collections or assets.
	Repaired int
}

// Reindex rebuilds every derived index from the asset and collection
// records: the asset ordering index, tag counters, membership sets and word
// index. Asset back-references to missing collections and collection covers
// naming missing assets are removed from the records. It must not run
// concurrently with writers.
func (s *Store) Reindex(ctx context.Context) (*ReindexResult, error) {
	assetIDs, err := s.scanIDs(ctx, s.keyAsset("*"), func(key string) (string, bool) {
		return strings.TrimPrefix(key, s.keyAsset("")), true
	})
	if err != nil {
		return nil, err
	}
	collectionIDs, err := s.scanIDs(ctx, s.keyCollection("*"), func(key string) (string, bool) {
		id := strings.TrimPrefix(key, s.keyCollection(""))
		return id, !strings.Contains(id, ":")
	})
	if err != nil {
		return nil, err
	}

	assets, err := s.loadAssets(ctx, assetIDs)
	if err != nil {
		return nil, err
	}
	collections := make(map[string]*simplemedia.Collection, len(collectionIDs))
	for _, id := range collectionIDs {
		c, err := s.readCollection(ctx, id)
		if err != nil {
			return nil, err
		}
		if c != nil {
			collections[id] = c
		}
	}

	var stale []string
	for _, pattern := range []string{s.keyWord("*"), s.keyMembers("*")} {
		keys, err := s.scanIDs(ctx, pattern, func(key string) (string, bool) { return key, true })
		if err != nil {
			return nil, err
		}
		stale = append(stale, keys...)
	}
	stale = append(stale, s.keyTags(), s.keyAssetIndex(), s.keyCollectionIndex())

	live := make(map[string]bool, len(assets))
	for _, a := range assets {
		live[a.ID] = true
	}
	var repairedAssets []*simplemedia.Asset
	var repairedCollections []*simplemedia.Collection
	for _, c := range collections {
		if c.CoverAssetID != "" && !live[c.CoverAssetID] {
			c.CoverAssetID = ""
			repairedCollections = append(repairedCollections, c)
		}
	}

	tags := make(map[string]int64)
	words := make(map[string][]string)
	members := make(map[string][]string)
	for _, a := range assets {
		var kept []string
		for _, tag := range simplemedia.NormalizeTags(a.Tags) {
			tags[tag]++
		}
		for _, w := range simplemedia.AssetWords(a) {
			words[w] = append(words[w], a.ID)
		}
		for _, cid := range a.Collections {
			if _, ok := collections[cid]; ok {
				members[cid] = append(members[cid], a.ID)
				kept = append(kept, cid)
			}
		}
		if len(kept) != len(a.Collections) {
			a.Collections = kept
			repairedAssets = append(repairedAssets, a)
		}
	}

	_, err = s.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, key := range stale {
			pipe.Del(ctx, key)
		}
		for _, a := range assets {
			pipe.ZAdd(ctx, s.keyAssetIndex(), goredis.Z{Score: score(a.CreatedAt), Member: a.ID})
		}
		for _, c := range collections {
			pipe.ZAdd(ctx, s.keyCollectionIndex(), goredis.Z{Score: score(c.CreatedAt), Member: c.ID})
		}
		for tag, n := range tags {
			pipe.ZAdd(ctx, s.keyTags(), goredis.Z{Score: float64(n), Member: tag})
		}
		for w, ids := range words {
			pipe.SAdd(ctx, s.keyWord(w), toArgs(ids)...)
		}
		for cid, ids := range members {
			pipe.SAdd(ctx, s.keyMembers(cid), toArgs(ids)...)
		}
		for _, a := range repairedAssets {
			if err := s.writeAsset(ctx, pipe, a); err != nil {
				return err
			}
		}
		for _, c := range repairedCollections {
			if err := s.writeCollection(ctx, pipe, c); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("rebuild indexes: %w", err)
	}

	repaired := len(repairedAssets) + len(repairedCollections)
	s.logger.Info("Rebuilt derived indexes",
		"assets", len(assets), "collections", len(collections), "tags", len(tags), "words", len(words),
		"repaired", repaired)
	return &ReindexResult{
		Assets:      len(assets),
		Collections: len(collections),
		Tags:        len(tags),
		Words:       len(words),
		Repaired:    repaired,
	}, nil
}

// scanIDs walks keys matching pattern and maps each through keep.
func (s *Store) scanIDs(ctx context.Context, pattern string, keep func(string) (string, bool)) ([]string, error) {
	var out []string
	iter := s.client.Scan(ctx, 0, pattern, 500).Iterator()
	for iter.Next(ctx) {
		if v, ok := keep(iter.Val()); ok {
			out = append(out, v)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", pattern, err)
	}
	return out, nil
}

func toArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
