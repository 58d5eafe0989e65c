package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisKeyPrefix = "offline-hub"

// RedisOptions 描述 redis 存储的连接参数。
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// redisStore 将命名空间集合保存在一个 SET 中，每个命名空间对应一个 HASH。
// 多个代理实例可共享同一份缓存。
type redisStore struct {
	rdb    *redis.Client
	prefix string
}

type redisNamespace struct {
	store *redisStore
	name  string
}

type redisRecord struct {
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"body"`
	StoredAt time.Time   `json:"stored_at"`
}

// NewRedisStore 连接 redis 并校验可用性。
func NewRedisStore(ctx context.Context, opts RedisOptions) (Store, error) {
	if opts.Addr == "" {
		return nil, errors.New("redis addr required")
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = defaultRedisKeyPrefix
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	return &redisStore{rdb: rdb, prefix: prefix}, nil
}

func (s *redisStore) namespacesKey() string {
	return s.prefix + ":namespaces"
}

func (s *redisStore) entriesKey(namespace string) string {
	return s.prefix + ":ns:" + namespace
}

func (s *redisStore) Open(ctx context.Context, namespace string) (Namespace, error) {
	if err := validateNamespace(namespace); err != nil {
		return nil, err
	}
	if err := s.rdb.SAdd(ctx, s.namespacesKey(), namespace).Err(); err != nil {
		return nil, err
	}
	return &redisNamespace{store: s, name: namespace}, nil
}

func (s *redisStore) Namespaces(ctx context.Context) ([]string, error) {
	names, err := s.rdb.SMembers(ctx, s.namespacesKey()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (s *redisStore) Delete(ctx context.Context, namespace string) (bool, error) {
	var removed *redis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.SRem(ctx, s.namespacesKey(), namespace)
		pipe.Del(ctx, s.entriesKey(namespace))
		return nil
	})
	if err != nil {
		return false, err
	}
	return removed.Val() > 0, nil
}

func (s *redisStore) Close() error {
	return s.rdb.Close()
}

func (n *redisNamespace) Name() string {
	return n.name
}

func (n *redisNamespace) Put(ctx context.Context, key string, entry *Entry) error {
	if entry == nil {
		return errors.New("cache entry required")
	}
	storedAt := entry.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(redisRecord{
		Status:   entry.Status,
		Header:   entry.Header,
		Body:     entry.Body,
		StoredAt: storedAt,
	})
	if err != nil {
		return err
	}
	_, err = n.store.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, n.store.namespacesKey(), n.name)
		pipe.HSet(ctx, n.store.entriesKey(n.name), key, payload)
		return nil
	})
	return err
}

func (n *redisNamespace) Match(ctx context.Context, key string) (*Entry, error) {
	raw, err := n.store.rdb.HGet(ctx, n.store.entriesKey(n.name), key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var record redisRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("decode cached record: %w", err)
	}
	return &Entry{
		Key:      key,
		Status:   record.Status,
		Header:   record.Header,
		Body:     record.Body,
		StoredAt: record.StoredAt,
	}, nil
}

func (n *redisNamespace) Keys(ctx context.Context) ([]string, error) {
	keys, err := n.store.rdb.HKeys(ctx, n.store.entriesKey(n.name)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}
