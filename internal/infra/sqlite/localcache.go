// Package sqlite keeps the per-browser local cache in a sqlite file so cached votes and
// drafts survive a service restart.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS local_cache (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`

// LocalCache implements localcache.Cache. Write failures are logged; the cache is best effort.
type LocalCache struct {
	db  *sql.DB
	log logrus.FieldLogger
}

// Open creates or opens the cache file at path. Use ":memory:" for a throwaway cache.
func Open(path string, log logrus.FieldLogger) (*LocalCache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open local cache: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create local cache schema: %w", err)
	}
	return &LocalCache{db: db, log: log}, nil
}

func (c *LocalCache) Get(key string) (string, bool) {
	var value string
	err := c.db.QueryRow(`SELECT value FROM local_cache WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false
	}
	if err != nil {
		c.log.WithError(err).WithField("key", key).Warn("local cache read failed")
		return "", false
	}
	return value, true
}

func (c *LocalCache) Set(key, value string) {
	_, err := c.db.Exec(`
		INSERT INTO local_cache (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UTC())
	if err != nil {
		c.log.WithError(err).WithField("key", key).Warn("local cache write failed")
	}
}

func (c *LocalCache) Remove(key string) {
	if _, err := c.db.Exec(`DELETE FROM local_cache WHERE key = ?`, key); err != nil {
		c.log.WithError(err).WithField("key", key).Warn("local cache delete failed")
	}
}

func (c *LocalCache) Close() error {
	return c.db.Close()
}
