package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// Provider is an interface for a cache provider.
// It stores and retrieves []byte values, which represent HTTP responses,
// grouped into named caches.
//
// Implementations must be thread-safe!
// Every method is atomic on its own, there are no transactions spanning calls.
type Provider interface {
	// Create creates the named cache if it does not exist yet.
	Create(ctx context.Context, name string) error
	// Names returns the names of all caches, in creation order.
	Names(ctx context.Context) ([]string, error)
	// Drop deletes the named cache and all of its entries.
	// It returns false if there was no such cache.
	Drop(ctx context.Context, name string) (bool, error)
	// Get returns the stored response for the given key, if it exists.
	// It also returns a boolean indicating whether retrieval was successful.
	Get(ctx context.Context, name, key string) ([]byte, bool, error)
	// Put stores the response under the given key, replacing any previous entry.
	// The cache is created if needed.
	Put(ctx context.Context, name, key string, bytes []byte) error
	// Keys returns all keys of the named cache.
	Keys(ctx context.Context, name string) ([]string, error)
	// Purge removes the entry for the given key.
	Purge(ctx context.Context, name, key string) error
}

// GetProvider returns the provider with the given name.
// The connection string is a file name for sqlite and a URL for redis.
func GetProvider(provider, connectionString string) (Provider, error) {
	switch provider {
	case "memory":
		return NewMemProvider(), nil
	case "sqlite":
		p, err := NewSQLiteProvider(connectionString)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "redis":
		p, err := NewRedisProvider(connectionString)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
}

type MemProvider struct {
	mutex sync.RWMutex
	names []string
	db    map[string]map[string][]byte
}

func NewMemProvider() *MemProvider {
	return &MemProvider{
		names: make([]string, 0),
		db:    make(map[string]map[string][]byte),
	}
}

func (m *MemProvider) create(name string) map[string][]byte {
	entries, ok := m.db[name]
	if !ok {
		entries = make(map[string][]byte)
		m.db[name] = entries
		m.names = append(m.names, name)
	}
	return entries
}

func (m *MemProvider) Create(ctx context.Context, name string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.create(name)
	return nil
}

func (m *MemProvider) Names(ctx context.Context) ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	names := make([]string, len(m.names))
	copy(names, m.names)
	return names, nil
}

func (m *MemProvider) Drop(ctx context.Context, name string) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.db[name]; !ok {
		return false, nil
	}
	delete(m.db, name)
	for i, n := range m.names {
		if n == name {
			m.names = append(m.names[:i], m.names[i+1:]...)
			break
		}
	}
	return true, nil
}

func (m *MemProvider) Get(ctx context.Context, name, key string) ([]byte, bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	bytes, ok := m.db[name][key]
	return bytes, ok, nil
}

func (m *MemProvider) Put(ctx context.Context, name, key string, bytes []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.create(name)[key] = bytes
	return nil
}

func (m *MemProvider) Keys(ctx context.Context, name string) ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	keys := make([]string, 0, len(m.db[name]))
	for key := range m.db[name] {
		keys = append(keys, key)
	}
	return keys, nil
}

func (m *MemProvider) Purge(ctx context.Context, name, key string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.db[name], key)
	return nil
}

type SQLiteProvider struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteProvider opens (and creates if needed) the cache database.
// Use "file::memory:?cache=shared" for an in-memory database.
func NewSQLiteProvider(filename string) (SQLiteProvider, error) {
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return SQLiteProvider{}, err
	}
	for _, stmt := range []string{
		"CREATE TABLE IF NOT EXISTS caches (name TEXT PRIMARY KEY, created INTEGER)",
		"CREATE TABLE IF NOT EXISTS entries (cache TEXT, key TEXT, stored INTEGER, bytes BLOB, PRIMARY KEY (cache, key))",
		"PRAGMA journal_mode=WAL",
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return SQLiteProvider{}, fmt.Errorf("init sqlite cache: %w", err)
		}
	}
	return SQLiteProvider{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (s SQLiteProvider) Close() error {
	return s.db.Close()
}

func (s SQLiteProvider) Create(ctx context.Context, name string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.ExecContext(ctx, "INSERT OR IGNORE INTO caches (name, created) VALUES (?, ?)", name, time.Now().UnixNano())
	return err
}

func (s SQLiteProvider) Names(ctx context.Context) ([]string, error) {
	names := make([]string, 0)
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM caches ORDER BY created ASC, rowid ASC")
	if err != nil {
		return names, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return names, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s SQLiteProvider) Drop(ctx context.Context, name string) (bool, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE cache = ?", name); err != nil {
		return false, err
	}
	result, err := tx.ExecContext(ctx, "DELETE FROM caches WHERE name = ?", name)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, tx.Commit()
}

func (s SQLiteProvider) Get(ctx context.Context, name, key string) ([]byte, bool, error) {
	var bytes []byte
	err := s.db.QueryRowContext(ctx, "SELECT bytes FROM entries WHERE cache = ? AND key = ?", name, key).Scan(&bytes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return bytes, true, nil
}

func (s SQLiteProvider) Put(ctx context.Context, name, key string, bytes []byte) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	now := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO caches (name, created) VALUES (?, ?)", name, now.UnixNano()); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "INSERT OR REPLACE INTO entries (cache, key, stored, bytes) VALUES (?, ?, ?, ?)", name, key, now.Unix(), bytes); err != nil {
		return err
	}
	return tx.Commit()
}

func (s SQLiteProvider) Keys(ctx context.Context, name string) ([]string, error) {
	keys := make([]string, 0)
	rows, err := s.db.QueryContext(ctx, "SELECT key FROM entries WHERE cache = ?", name)
	if err != nil {
		return keys, err
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s SQLiteProvider) Purge(ctx context.Context, name, key string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.ExecContext(ctx, "DELETE FROM entries WHERE cache = ? AND key = ?", name, key)
	return err
}
