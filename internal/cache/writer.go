package cache

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

// ErrStoreUnavailable 表示当前站点未注入缓存存储实例。
var ErrStoreUnavailable = errors.New("cache store unavailable")

// ErrNotCacheable 表示响应不满足写入条件（非 200 或 Vary: *）。
var ErrNotCacheable = errors.New("response not cacheable")

// PolicyWriter 封装“只写可缓存响应”的规则，所有 fetch 路径共用。
type PolicyWriter struct {
	store Store
	now   func() time.Time
}

// NewPolicyWriter 构造写入器，默认使用 time.Now 作为时钟。
func NewPolicyWriter(store Store) PolicyWriter {
	return PolicyWriter{
		store: store,
		now:   time.Now,
	}
}

// Enabled 返回当前是否具备缓存写入能力。
func (w PolicyWriter) Enabled() bool {
	return w.store != nil
}

// Cacheable 判断响应能否写入缓存。
func Cacheable(status int, header http.Header) bool {
	if status != http.StatusOK {
		return false
	}
	for _, value := range header.Values("Vary") {
		if strings.TrimSpace(value) == "*" {
			return false
		}
	}
	return true
}

// Put 打开命名空间并写入条目；不可缓存的响应返回 ErrNotCacheable。
func (w PolicyWriter) Put(ctx context.Context, namespace, key string, entry *Entry) error {
	if w.store == nil {
		return ErrStoreUnavailable
	}
	if entry == nil || !Cacheable(entry.Status, entry.Header) {
		return ErrNotCacheable
	}
	ns, err := w.store.Open(ctx, namespace)
	if err != nil {
		return err
	}
	stored := *entry
	if stored.StoredAt.IsZero() {
		stored.StoredAt = w.now().UTC()
	}
	return ns.Put(ctx, key, &stored)
}

// PutAll 先校验全部条目，再逐条写入；任一条目不可缓存时不写入任何数据。
func (w PolicyWriter) PutAll(ctx context.Context, namespace string, entries []*Entry) error {
	if w.store == nil {
		return ErrStoreUnavailable
	}
	for _, entry := range entries {
		if entry == nil || !Cacheable(entry.Status, entry.Header) {
			return ErrNotCacheable
		}
	}
	ns, err := w.store.Open(ctx, namespace)
	if err != nil {
		return err
	}
	storedAt := w.now().UTC()
	for _, entry := range entries {
		stored := *entry
		if stored.StoredAt.IsZero() {
			stored.StoredAt = storedAt
		}
		if err := ns.Put(ctx, stored.Key, &stored); err != nil {
			return err
		}
	}
	return nil
}
