package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"doc-qa-engine/pkg/store"

	gocache "github.com/patrickmn/go-cache"
	_ "modernc.org/sqlite"
)

// SQLiteCache persists responses in SQLite with a go-cache hot layer in
// front so repeated hits within a session never touch disk.
type SQLiteCache struct {
	db  *sql.DB
	hot *gocache.Cache
}

var _ ResponseCache = (*SQLiteCache)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS cached_responses (
	cache_key     TEXT PRIMARY KEY,
	response_data TEXT NOT NULL,
	created_at    INTEGER NOT NULL,
	expires_at    INTEGER NOT NULL,
	access_count  INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_expires_at ON cached_responses(expires_at);
`

func NewSQLiteCache(path string) (*SQLiteCache, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	// SQLite handles one writer at a time; a single connection avoids
	// SQLITE_BUSY under concurrent puts.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init cache schema: %w", err)
	}

	return &SQLiteCache{
		db:  db,
		hot: gocache.New(10*time.Minute, 30*time.Minute),
	}, nil
}

func (c *SQLiteCache) Get(ctx context.Context, key string) (*store.Response, bool) {
	if x, found := c.hot.Get(key); found {
		resp := x.(store.Response)
		return &resp, true
	}

	var data string
	var expiresAt int64
	err := c.db.QueryRowContext(ctx,
		`SELECT response_data, expires_at FROM cached_responses WHERE cache_key = ?`, key,
	).Scan(&data, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false
	}
	if err != nil {
		return nil, false
	}

	if time.Now().Unix() > expiresAt {
		_, _ = c.db.ExecContext(ctx, `DELETE FROM cached_responses WHERE cache_key = ?`, key)
		return nil, false
	}

	var resp store.Response
	if err := json.Unmarshal([]byte(data), &resp); err != nil {
		return nil, false
	}

	_, _ = c.db.ExecContext(ctx,
		`UPDATE cached_responses SET access_count = access_count + 1 WHERE cache_key = ?`, key)

	c.hot.Set(key, resp, gocache.DefaultExpiration)
	return &resp, true
}

func (c *SQLiteCache) Put(ctx context.Context, key string, resp *store.Response, ttl time.Duration) error {
	if resp == nil || !resp.Success {
		return nil
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}

	now := time.Now()
	// INSERT OR REPLACE keeps the put atomic by key.
	_, err = c.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO cached_responses (cache_key, response_data, created_at, expires_at)
		VALUES (?, ?, ?, ?)`,
		key, string(data), now.Unix(), now.Add(ttl).Unix())
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}

	c.hot.Set(key, *resp, gocache.DefaultExpiration)
	return nil
}

// CleanupExpired removes expired rows; called periodically by the server.
func (c *SQLiteCache) CleanupExpired(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx,
		`DELETE FROM cached_responses WHERE expires_at < ?`, time.Now().Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (c *SQLiteCache) Close() error {
	return c.db.Close()
}
