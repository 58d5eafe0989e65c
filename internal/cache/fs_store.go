package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	bodySuffix = ".body"
	metaSuffix = ".meta"
)

// NewStore 以 basePath 为根目录构建磁盘缓存，整站复用一份实例。
// 磁盘布局：
//
//	<StoragePath>/<namespace>/<sha1(key)>.body   # 响应正文
//	<StoragePath>/<namespace>/<sha1(key)>.meta   # 状态码、响应头、原始 key
func NewStore(basePath string) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStore{
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}, nil
}

// fileStore 通过 entryLock 避免同一条目并发写入，同时复用 basePath。
type fileStore struct {
	basePath string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

type fileNamespace struct {
	store *fileStore
	name  string
	dir   string
}

func (s *fileStore) Open(ctx context.Context, namespace string) (Namespace, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := s.namespaceDir(namespace)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &fileNamespace{store: s, name: namespace, dir: dir}, nil
}

func (s *fileStore) Namespaces(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (s *fileStore) Delete(ctx context.Context, namespace string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	dir, err := s.namespaceDir(namespace)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, err
	}
	return true, nil
}

func (s *fileStore) Close() error {
	return nil
}

func (s *fileStore) namespaceDir(namespace string) (string, error) {
	if err := validateNamespace(namespace); err != nil {
		return "", err
	}
	dir := filepath.Join(s.basePath, namespace)
	if filepath.Dir(dir) != s.basePath {
		return "", ErrInvalidNamespace
	}
	return dir, nil
}

func (n *fileNamespace) Name() string {
	return n.name
}

func (n *fileNamespace) Put(ctx context.Context, key string, entry *Entry) error {
	if entry == nil {
		return errors.New("cache entry required")
	}
	unlock := n.store.lockEntry(n.name, key)
	defer unlock()

	if err := os.MkdirAll(n.dir, 0o755); err != nil {
		return err
	}

	stored := entry.Clone()
	stored.Key = key
	if stored.StoredAt.IsZero() {
		stored.StoredAt = time.Now().UTC()
	}
	meta, err := json.Marshal(stored)
	if err != nil {
		return err
	}

	base := n.entryBase(key)
	if err := writeAtomic(ctx, n.dir, base+bodySuffix, stored.Body); err != nil {
		return err
	}
	return writeAtomic(ctx, n.dir, base+metaSuffix, meta)
}

func (n *fileNamespace) Match(ctx context.Context, key string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	base := n.entryBase(key)

	meta, err := os.ReadFile(base + metaSuffix)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var entry Entry
	if err := json.Unmarshal(meta, &entry); err != nil {
		return nil, fmt.Errorf("decode cache meta: %w", err)
	}
	if entry.Key != key {
		return nil, ErrNotFound
	}

	body, err := os.ReadFile(base + bodySuffix)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	entry.Body = body
	return &entry, nil
}

func (n *fileNamespace) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	matches, err := filepath.Glob(filepath.Join(n.dir, "*"+metaSuffix))
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(matches))
	for _, file := range matches {
		raw, err := os.ReadFile(file)
		if err != nil {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(raw, &entry); err != nil || entry.Key == "" {
			continue
		}
		keys = append(keys, entry.Key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (n *fileNamespace) entryBase(key string) string {
	sum := sha1.Sum([]byte(key))
	return filepath.Join(n.dir, hex.EncodeToString(sum[:]))
}

func (s *fileStore) lockEntry(namespace, key string) func() {
	lockKey := namespace + "::" + key
	s.mu.Lock()
	lock := s.locks[lockKey]
	if lock == nil {
		lock = &entryLock{}
		s.locks[lockKey] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, lockKey)
		}
		s.mu.Unlock()
	}
}

// writeAtomic 先写临时文件再 rename，保证读者不会看到写了一半的文件。
func writeAtomic(ctx context.Context, dir, target string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tempFile, err := os.CreateTemp(dir, ".cache-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(data)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, target); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

func validateNamespace(namespace string) error {
	if strings.TrimSpace(namespace) == "" || strings.ContainsAny(namespace, `/\`) ||
		namespace == "." || namespace == ".." || strings.HasPrefix(namespace, ".") {
		return ErrInvalidNamespace
	}
	return nil
}
