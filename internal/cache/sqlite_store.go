package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// SQLiteFileName 是 sqlite 驱动在 StoragePath 下使用的数据库文件名。
const SQLiteFileName = "offline-hub.db"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS namespaces (
	name TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS entries (
	namespace TEXT NOT NULL,
	key TEXT NOT NULL,
	status INTEGER NOT NULL,
	header TEXT NOT NULL,
	body BLOB,
	stored_at INTEGER NOT NULL,
	PRIMARY KEY (namespace, key)
);`

type sqliteStore struct {
	db *sql.DB
}

type sqliteNamespace struct {
	db   *sql.DB
	name string
}

// NewSQLiteStore 在 basePath 下打开（或创建）单文件 sqlite 缓存。
func NewSQLiteStore(basePath string) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(basePath, SQLiteFileName))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// 单连接避免 SQLITE_BUSY：写入量很小，串行化足够。
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Open(ctx context.Context, namespace string) (Namespace, error) {
	if err := validateNamespace(namespace); err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, "INSERT OR IGNORE INTO namespaces (name) VALUES (?)", namespace); err != nil {
		return nil, err
	}
	return &sqliteNamespace{db: s.db, name: namespace}, nil
}

func (s *sqliteStore) Namespaces(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM namespaces ORDER BY name ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *sqliteStore) Delete(ctx context.Context, namespace string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM namespaces WHERE name = ?", namespace)
	if err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE namespace = ?", namespace); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

func (n *sqliteNamespace) Name() string {
	return n.name
}

func (n *sqliteNamespace) Put(ctx context.Context, key string, entry *Entry) error {
	if entry == nil {
		return errors.New("cache entry required")
	}
	header, err := json.Marshal(entry.Header)
	if err != nil {
		return err
	}
	storedAt := entry.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now().UTC()
	}
	if _, err := n.db.ExecContext(ctx, "INSERT OR IGNORE INTO namespaces (name) VALUES (?)", n.name); err != nil {
		return err
	}
	_, err = n.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO entries (namespace, key, status, header, body, stored_at) VALUES (?, ?, ?, ?, ?, ?)",
		n.name, key, entry.Status, string(header), entry.Body, storedAt.UnixNano(),
	)
	return err
}

func (n *sqliteNamespace) Match(ctx context.Context, key string) (*Entry, error) {
	var (
		status   int
		header   string
		body     []byte
		storedAt int64
	)
	err := n.db.QueryRowContext(ctx,
		"SELECT status, header, body, stored_at FROM entries WHERE namespace = ? AND key = ?",
		n.name, key,
	).Scan(&status, &header, &body, &storedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	entry := &Entry{
		Key:      key,
		Status:   status,
		Header:   http.Header{},
		Body:     body,
		StoredAt: time.Unix(0, storedAt).UTC(),
	}
	if err := json.Unmarshal([]byte(header), &entry.Header); err != nil {
		return nil, fmt.Errorf("decode cached header: %w", err)
	}
	return entry, nil
}

func (n *sqliteNamespace) Keys(ctx context.Context) ([]string, error) {
	rows, err := n.db.QueryContext(ctx, "SELECT key FROM entries WHERE namespace = ? ORDER BY key ASC", n.name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
