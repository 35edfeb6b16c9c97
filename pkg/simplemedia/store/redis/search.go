package redis

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"github.com/tendant/simple-media/pkg/simplemedia"
)

// indexWords adds the asset to the word set of every word it contains.
// Failures are logged only: the record is already correct and the next write
// to the asset re-indexes it.
func (s *Store) indexWords(ctx context.Context, asset *simplemedia.Asset) {
	words := simplemedia.AssetWords(asset)
	if len(words) == 0 {
		return
	}
	_, err := s.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, word := range words {
			pipe.SAdd(ctx, s.keyWord(word), asset.ID)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to index asset words", "asset_id", asset.ID, "words", len(words), "error", err)
	}
}

func (s *Store) unindexWords(ctx context.Context, asset *simplemedia.Asset) error {
	words := simplemedia.AssetWords(asset)
	if len(words) == 0 {
		return nil
	}
	_, err := s.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, word := range words {
			pipe.SRem(ctx, s.keyWord(word), asset.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("remove search entries: %w", err)
	}
	return nil
}

// SearchAssets returns assets containing every query word, newest first.
// A query without usable words returns an empty page.
func (s *Store) SearchAssets(ctx context.Context, req simplemedia.SearchAssetsRequest) (*simplemedia.AssetPage, error) {
	page, limit := simplemedia.ClampPage(req.Page, req.Limit)
	words := simplemedia.Tokenize(req.Query)
	if len(words) == 0 {
		return simplemedia.Paginate(nil, page, limit), nil
	}

	var ids []string
	var err error
	if len(words) == 1 {
		ids, err = s.client.SMembers(ctx, s.keyWord(words[0])).Result()
	} else {
		keys := make([]string, len(words))
		for i, w := range words {
			keys[i] = s.keyWord(w)
		}
		ids, err = s.client.SInter(ctx, keys...).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", req.Query, err)
	}

	assets, err := s.loadAssets(ctx, ids)
	if err != nil {
		return nil, err
	}
	assets = simplemedia.FilterByType(assets, req.TypeFilter)
	simplemedia.SortAssets(assets, simplemedia.SortByCreatedAt, simplemedia.OrderDesc)
	return simplemedia.Paginate(assets, page, limit), nil
}

// GetAllTags returns tags by descending usage count.
func (s *Store) GetAllTags(ctx context.Context) ([]simplemedia.TagCount, error) {
	entries, err := s.client.ZRevRangeWithScores(ctx, s.keyTags(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	tags := make([]simplemedia.TagCount, 0, len(entries))
	for _, z := range entries {
		tag, ok := z.Member.(string)
		if !ok || z.Score <= 0 {
			continue
		}
		tags = append(tags, simplemedia.TagCount{Tag: tag, Count: int64(z.Score)})
	}
	return tags, nil
}
