package cache

import (
	"context"
	"fmt"
)

// Options 汇总构建 Store 所需的参数，由 CLI 根据全局配置填充。
type Options struct {
	Driver         string
	StoragePath    string
	MaxMemoryBytes int64
	Redis          RedisOptions
}

// Open 根据驱动类型构建 Store，并按需包一层内存缓存。
func Open(ctx context.Context, opts Options) (Store, error) {
	var (
		store Store
		err   error
	)
	switch opts.Driver {
	case "", "disk":
		store, err = NewStore(opts.StoragePath)
	case "sqlite":
		store, err = NewSQLiteStore(opts.StoragePath)
	case "redis":
		store, err = NewRedisStore(ctx, opts.Redis)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", opts.Driver)
	}
	if err != nil {
		return nil, err
	}

	layered, err := NewMemoryLayer(store, opts.MaxMemoryBytes)
	if err != nil {
		store.Close()
		return nil, err
	}
	return layered, nil
}
