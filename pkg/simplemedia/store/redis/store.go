// Package redis implements simplemedia.MetadataStore on a Redis-compatible
// key-value store.
//
// Key layout (all keys carry the store's prefix):
//
//	asset:{id}                  JSON Asset record
//	assets:by_created           zset of asset ids scored by creation time (ms)
//	tags                        zset of case-folded tags scored by usage count
//	collection:{id}             JSON Collection record
//	collection:{id}:assets      set of member asset ids
//	collections:by_created      zset of collection ids scored by creation time (ms)
//	search:{word}               set of asset ids containing word
//
// Batches are sent with pipelines, which only save round trips; commands in a
// batch are not atomic with respect to each other.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/tendant/simple-media/pkg/simplemedia"
)

// mgetChunk bounds the number of keys in one MGET.
const mgetChunk = 500

// Store implements simplemedia.MetadataStore on go-redis.
type Store struct {
	client goredis.UniversalClient
	prefix string
	logger *slog.Logger
	locks  *lockset
	now    func() time.Time
	newID  func() string
}

// Option represents a functional option for configuring the store
type Option func(*Store)

// WithKeyPrefix namespaces every key. Use a hash-tagged prefix such as
// "{tenant}:" on Redis Cluster so multi-key commands stay in one slot.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithLogger sets the logger used for indexing failures and corrupt records
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithIDGenerator overrides identifier generation
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) {
		s.newID = gen
	}
}

// New creates a store over client.
func New(client goredis.UniversalClient, options ...Option) *Store {
	s := &Store{
		client: client,
		logger: slog.Default(),
		locks:  newLockset(),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
	for _, option := range options {
		option(s)
	}
	return s
}

var _ simplemedia.MetadataStore = (*Store)(nil)

func (s *Store) keyAsset(id string) string      { return s.prefix + "asset:" + id }
func (s *Store) keyAssetIndex() string          { return s.prefix + "assets:by_created" }
func (s *Store) keyTags() string                { return s.prefix + "tags" }
func (s *Store) keyCollection(id string) string { return s.prefix + "collection:" + id }
func (s *Store) keyMembers(id string) string    { return s.prefix + "collection:" + id + ":assets" }
func (s *Store) keyCollectionIndex() string     { return s.prefix + "collections:by_created" }
func (s *Store) keyWord(word string) string     { return s.prefix + "search:" + word }

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}

// getJSON loads key into v. It reports false when the key is absent or its
// value cannot be decoded; corrupt values are logged.
func (s *Store) getJSON(ctx context.Context, key string, v any) (bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		s.logger.Warn("Skipping unreadable record", "key", key, "error", err)
		return false, nil
	}
	return true, nil
}

// loadAssets bulk-fetches assets in id order, skipping absent or corrupt records.
func (s *Store) loadAssets(ctx context.Context, ids []string) ([]*simplemedia.Asset, error) {
	assets := make([]*simplemedia.Asset, 0, len(ids))
	for start := 0; start < len(ids); start += mgetChunk {
		end := start + mgetChunk
		if end > len(ids) {
			end = len(ids)
		}
		keys := make([]string, 0, end-start)
		for _, id := range ids[start:end] {
			keys = append(keys, s.keyAsset(id))
		}
		values, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, fmt.Errorf("mget assets: %w", err)
		}
		for i, v := range values {
			raw, ok := v.(string)
			if !ok {
				continue
			}
			var a simplemedia.Asset
			if err := json.Unmarshal([]byte(raw), &a); err != nil {
				s.logger.Warn("Skipping unreadable record", "key", keys[i], "error", err)
				continue
			}
			assets = append(assets, &a)
		}
	}
	return assets, nil
}

// lockset serializes writers of the same entity within this process. It is a
// fixed array of mutexes selected by hash, so it never grows.
type lockset struct {
	stripes [64]sync.Mutex
}

func newLockset() *lockset {
	return &lockset{}
}

func (l *lockset) index(id string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return int(h.Sum32() % uint32(len(l.stripes)))
}

// lock acquires the stripes for ids in index order and returns the unlock func.
func (l *lockset) lock(ids ...string) func() {
	seen := make(map[int]bool, len(ids))
	order := make([]int, 0, len(ids))
	for _, id := range ids {
		i := l.index(id)
		if !seen[i] {
			seen[i] = true
			order = append(order, i)
		}
	}
	sort.Ints(order)
	for _, i := range order {
		l.stripes[i].Lock()
	}
	return func() {
		for k := len(order) - 1; k >= 0; k-- {
			l.stripes[order[k]].Unlock()
		}
	}
}
