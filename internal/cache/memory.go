package cache

import (
	"context"
	"errors"
	"sync"

	"github.com/dgraph-io/ristretto/v2"
)

// memoryLayer 在任意 Store 之前加一层 ristretto 热点缓存。
// 写入先落到底层 Store，再刷新内存；删除命名空间时整体清空内存层。
// writes 记录每个 key 的写入次数，未命中回填前后次数不一致时放弃回填，
// 避免读到的旧值覆盖并发写入的新值。
type memoryLayer struct {
	inner Store
	rc    *ristretto.Cache[string, *Entry]

	mu     sync.Mutex
	writes map[string]uint64
	// epoch 在删除命名空间时递增，使进行中的回填全部失效。
	epoch uint64
}

type memoryNamespace struct {
	inner Namespace
	layer *memoryLayer
}

// NewMemoryLayer 以 maxBytes 为容量（按正文字节计费）包装 inner。
// maxBytes <= 0 时直接返回 inner。
func NewMemoryLayer(inner Store, maxBytes int64) (Store, error) {
	if inner == nil {
		return nil, errors.New("inner store required")
	}
	if maxBytes <= 0 {
		return inner, nil
	}
	rc, err := ristretto.NewCache(&ristretto.Config[string, *Entry]{
		NumCounters: 100_000,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &memoryLayer{inner: inner, rc: rc, writes: make(map[string]uint64)}, nil
}

func (m *memoryLayer) Open(ctx context.Context, namespace string) (Namespace, error) {
	ns, err := m.inner.Open(ctx, namespace)
	if err != nil {
		return nil, err
	}
	return &memoryNamespace{inner: ns, layer: m}, nil
}

func (m *memoryLayer) Namespaces(ctx context.Context) ([]string, error) {
	return m.inner.Namespaces(ctx)
}

func (m *memoryLayer) Delete(ctx context.Context, namespace string) (bool, error) {
	existed, err := m.inner.Delete(ctx, namespace)
	// 内存层不按命名空间索引，整体清空即可：删除只在激活时发生。
	m.mu.Lock()
	m.rc.Clear()
	m.writes = make(map[string]uint64)
	m.epoch++
	m.mu.Unlock()
	return existed, err
}

func (m *memoryLayer) Close() error {
	m.rc.Close()
	return m.inner.Close()
}

func (n *memoryNamespace) Name() string {
	return n.inner.Name()
}

func (n *memoryNamespace) Put(ctx context.Context, key string, entry *Entry) error {
	memKey := memoryKey(n.inner.Name(), key)
	err := n.inner.Put(ctx, key, entry)

	n.layer.mu.Lock()
	n.layer.writes[memKey]++
	if err != nil {
		n.layer.rc.Del(memKey)
	} else {
		stored := entry.Clone()
		stored.Key = key
		n.layer.rc.Set(memKey, stored, entryCost(stored))
	}
	n.layer.rc.Wait()
	n.layer.mu.Unlock()
	return err
}

func (n *memoryNamespace) Match(ctx context.Context, key string) (*Entry, error) {
	memKey := memoryKey(n.inner.Name(), key)
	if cached, ok := n.layer.rc.Get(memKey); ok {
		return cached.Clone(), nil
	}
	n.layer.mu.Lock()
	seen, epoch := n.layer.writes[memKey], n.layer.epoch
	n.layer.mu.Unlock()

	entry, err := n.inner.Match(ctx, key)
	if err != nil {
		return nil, err
	}

	n.layer.mu.Lock()
	if n.layer.writes[memKey] == seen && n.layer.epoch == epoch {
		n.layer.rc.Set(memKey, entry.Clone(), entryCost(entry))
	}
	n.layer.mu.Unlock()
	return entry, nil
}

func (n *memoryNamespace) Keys(ctx context.Context) ([]string, error) {
	return n.inner.Keys(ctx)
}

func memoryKey(namespace, key string) string {
	return namespace + "\x00" + key
}

func entryCost(entry *Entry) int64 {
	cost := int64(len(entry.Body))
	if cost == 0 {
		cost = 1
	}
	return cost
}
