package cache

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Store 管理全部缓存命名空间，对应浏览器中的 CacheStorage。
// 实现必须并发安全：多个 fetch 处理流程会同时读写同一命名空间。
type Store interface {
	// Open 打开命名空间，不存在时创建。
	Open(ctx context.Context, namespace string) (Namespace, error)

	// Namespaces 返回当前存在的全部命名空间名称，按字典序排列。
	Namespaces(ctx context.Context) ([]string, error)

	// Delete 整体删除命名空间，返回命名空间此前是否存在。
	Delete(ctx context.Context, namespace string) (bool, error)

	// Close 释放底层连接或文件句柄。
	Close() error
}

// Namespace 是单个缓存代际的读写句柄。
type Namespace interface {
	Name() string

	// Put 以 last-writer-wins 语义覆盖 key 对应的条目。
	Put(ctx context.Context, key string, entry *Entry) error

	// Match 返回 key 对应的条目；不存在时返回 ErrNotFound。
	Match(ctx context.Context, key string) (*Entry, error)

	// Keys 返回命名空间内全部条目的 key，供诊断接口使用。
	Keys(ctx context.Context) ([]string, error)
}

// Entry 是一条缓存的响应：状态码、响应头与正文。
type Entry struct {
	Key      string      `json:"key"`
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"-"`
	StoredAt time.Time   `json:"stored_at"`
}

// Clone 返回深拷贝，避免调用方修改共享的内存条目。
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	cloned := *e
	cloned.Header = e.Header.Clone()
	if e.Body != nil {
		cloned.Body = append([]byte(nil), e.Body...)
	}
	return &cloned
}

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")

// ErrInvalidNamespace 表示命名空间名称为空或包含路径分隔符。
var ErrInvalidNamespace = errors.New("invalid cache namespace")
