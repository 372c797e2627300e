package cache

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// CacheProvider is the storage backend for cache generations.
// It stores and retrieves []byte values, which represent HTTP responses,
// grouped in named generations.
//
// Implementations must be thread-safe!
type CacheProvider interface {
	// Create makes sure the generation exists. Creating an existing generation is a no-op.
	Create(ctx context.Context, generation string) error
	// Get returns the stored bytes for the key in the generation, if they exist.
	Get(ctx context.Context, generation, key string) ([]byte, bool, error)
	// Put stores the bytes under the key, overwriting any previous value.
	// The generation is created if it does not exist.
	Put(ctx context.Context, generation, key string, bytes []byte) error
	// Generations returns the names of all existing generations.
	Generations(ctx context.Context) ([]string, error)
	// Delete removes the generation and all its entries.
	// Deleting a missing generation is not an error.
	Delete(ctx context.Context, generation string) error
	// Keys calls the given callback for each key in the generation.
	Keys(ctx context.Context, generation string, cb func(string)) error
}

type MemCache struct {
	mutex *sync.RWMutex
	db    map[string]map[string][]byte
}

func NewMemCache() MemCache {
	return MemCache{
		mutex: &sync.RWMutex{},
		db:    make(map[string]map[string][]byte),
	}
}

func (m MemCache) Create(ctx context.Context, generation string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.db[generation]; !ok {
		m.db[generation] = make(map[string][]byte)
	}
	return nil
}

func (m MemCache) Get(ctx context.Context, generation, key string) ([]byte, bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	bytes, ok := m.db[generation][key]
	return bytes, ok, nil
}

func (m MemCache) Put(ctx context.Context, generation, key string, bytes []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	entries, ok := m.db[generation]
	if !ok {
		entries = make(map[string][]byte)
		m.db[generation] = entries
	}
	entries[key] = bytes
	return nil
}

func (m MemCache) Generations(ctx context.Context) ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	names := make([]string, 0, len(m.db))
	for name := range m.db {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m MemCache) Delete(ctx context.Context, generation string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.db, generation)
	return nil
}

func (m MemCache) Keys(ctx context.Context, generation string, cb func(string)) error {
	m.mutex.RLock()
	keys := make([]string, 0, len(m.db[generation]))
	for key := range m.db[generation] {
		keys = append(keys, key)
	}
	m.mutex.RUnlock()
	sort.Strings(keys)
	for _, key := range keys {
		cb(key)
	}
	return nil
}

type SQLiteCache struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteCache creates a new cache with the given filename as the db.
// If file name is empty, a new in-memory db is opened.
func NewSQLiteCache(filename string) (SQLiteCache, error) {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return SQLiteCache{}, err
	}
	statements := []string{
		`CREATE TABLE IF NOT EXISTS generations (
			name TEXT PRIMARY KEY,
			created_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS entries (
			generation TEXT NOT NULL,
			key TEXT NOT NULL,
			bytes BLOB,
			PRIMARY KEY (generation, key)
		)`,
		"PRAGMA journal_mode=WAL",
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return SQLiteCache{}, err
		}
	}
	return SQLiteCache{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (s SQLiteCache) Close() error {
	return s.db.Close()
}

func (s SQLiteCache) Create(ctx context.Context, generation string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	return s.create(ctx, s.db, generation)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s SQLiteCache) create(ctx context.Context, db execer, generation string) error {
	_, err := db.ExecContext(ctx,
		"INSERT OR IGNORE INTO generations (name, created_at) VALUES (?, ?)",
		generation, time.Now().Unix())
	return err
}

func (s SQLiteCache) Get(ctx context.Context, generation, key string) ([]byte, bool, error) {
	var bytes []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT bytes FROM entries WHERE generation = ? AND key = ?",
		generation, key,
	).Scan(&bytes)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return bytes, true, nil
}

func (s SQLiteCache) Put(ctx context.Context, generation, key string, bytes []byte) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := s.create(ctx, tx, generation); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO entries (generation, key, bytes) VALUES (?, ?, ?)",
		generation, key, bytes,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s SQLiteCache) Generations(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM generations ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return names, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s SQLiteCache) Delete(ctx context.Context, generation string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE generation = ?", generation); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM generations WHERE name = ?", generation); err != nil {
		return err
	}
	return tx.Commit()
}

func (s SQLiteCache) Keys(ctx context.Context, generation string, cb func(string)) error {
	rows, err := s.db.QueryContext(ctx, "SELECT key FROM entries WHERE generation = ? ORDER BY key", generation)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return err
		}
		cb(key)
	}
	return rows.Err()
}
