// Package pdfcache implements a content-addressed PDF store, using a
// sqlx + mattn/go-sqlite3 schema-as-script pattern for its metadata
// index alongside sharded on-disk file storage.
package pdfcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	agkerrors "github.com/agentic-kg/knowledge-core/internal/errors"
	"github.com/agentic-kg/knowledge-core/internal/logging"
	"github.com/agentic-kg/knowledge-core/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS pdf_cache (
	identifier TEXT PRIMARY KEY,
	content_hash TEXT NOT NULL,
	file_path TEXT NOT NULL,
	byte_size INTEGER NOT NULL,
	source TEXT NOT NULL,
	downloaded_at TIMESTAMP NOT NULL,
	last_accessed_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pdf_cache_content_hash ON pdf_cache(content_hash);
CREATE INDEX IF NOT EXISTS idx_pdf_cache_last_accessed ON pdf_cache(last_accessed_at);

CREATE TABLE IF NOT EXISTS cache_stats (
	key TEXT PRIMARY KEY,
	value INTEGER NOT NULL DEFAULT 0
);
`

// Stats mirrors the counters kept in the cache_stats table.
type Stats struct {
	TotalSize int64
	Hits      int64
	Misses    int64
	ItemCount int64
}

// HitRate returns hits / (hits+misses), or 0 if there have been no
// lookups yet.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Cache is the content-addressed PDF store: a root directory sharded
// two levels deep by SHA-256 hash, backed by a SQLite metadata
// database.
type Cache struct {
	db          *sqlx.DB
	root        string
	maxSizeByte int64
	log         *logging.Logger
}

// New opens (creating if necessary) the cache rooted at dir, with
// maxSizeBytes governing the eviction trigger.
func New(dir string, maxSizeBytes int64) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	dbPath := filepath.Join(dir, "cache.db")
	db, err := sqlx.Connect("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	db.MustExec("PRAGMA journal_mode = WAL")
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("init cache schema: %w", err)
	}
	for _, k := range []string{"total_size", "hits", "misses"} {
		db.MustExec("INSERT OR IGNORE INTO cache_stats(key, value) VALUES (?, 0)", k)
	}
	return &Cache{db: db, root: dir, maxSizeByte: maxSizeBytes, log: logging.For("pdfcache")}, nil
}

// Close releases the underlying database handle.
func (c *Cache) Close() error { return c.db.Close() }

func shardPath(root, hash string) string {
	return filepath.Join(root, hash[0:2], hash[2:4], hash+".pdf")
}

// Store writes bytes under identifier, deduplicating by content hash:
// if another identifier already holds the same bytes, the existing
// file is reused. Triggers LRU eviction afterward if the cache is
// over budget.
func (c *Cache) Store(ctx context.Context, identifier string, data []byte, source string) (*models.PDFCacheEntry, error) {
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	path := shardPath(c.root, hash)

	var existingRowCount int
	if err := c.db.GetContext(ctx, &existingRowCount, `SELECT COUNT(*) FROM pdf_cache WHERE content_hash = ?`, hash); err != nil {
		return nil, agkerrors.Transient(err, "query existing content hash")
	}

	if existingRowCount == 0 {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create shard dir: %w", err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return nil, fmt.Errorf("write pdf: %w", err)
		}
	}

	var previousSize int64
	hasPrevious := false
	if err := c.db.GetContext(ctx, &previousSize, `SELECT byte_size FROM pdf_cache WHERE identifier = ?`, identifier); err == nil {
		hasPrevious = true
	}

	now := time.Now().UTC()
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO pdf_cache(identifier, content_hash, file_path, byte_size, source, downloaded_at, last_accessed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(identifier) DO UPDATE SET
			content_hash=excluded.content_hash, file_path=excluded.file_path,
			byte_size=excluded.byte_size, source=excluded.source,
			last_accessed_at=excluded.last_accessed_at
	`, identifier, hash, path, len(data), source, now, now)
	if err != nil {
		return nil, agkerrors.Transient(err, "store pdf cache row")
	}

	delta := int64(len(data))
	if hasPrevious {
		delta -= previousSize
	}
	c.adjustTotalSize(ctx, delta)

	if err := c.maybeEvict(ctx); err != nil {
		c.log.Warn("eviction pass failed", "error", err)
	}

	return &models.PDFCacheEntry{
		Identifier: identifier, ContentHash: hash, FilePath: path,
		ByteSize: int64(len(data)), Source: source,
		DownloadedAt: now, LastAccessedAt: now,
	}, nil
}

// Get returns the PDF bytes for identifier, self-healing (deleting
// the row and treating it as a miss) if the file is missing.
func (c *Cache) Get(ctx context.Context, identifier string) ([]byte, bool, error) {
	path, ok, err := c.GetPath(ctx, identifier)
	if err != nil || !ok {
		return nil, false, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("read cached pdf: %w", err)
	}
	return data, true, nil
}

// GetPath returns the file path for identifier, updating
// last_accessed_at and hit/miss counters atomically.
func (c *Cache) GetPath(ctx context.Context, identifier string) (string, bool, error) {
	var row struct {
		FilePath string `db:"file_path"`
	}
	err := c.db.GetContext(ctx, &row, `SELECT file_path FROM pdf_cache WHERE identifier = ?`, identifier)
	if err != nil {
		c.bumpCounter(ctx, "misses")
		return "", false, nil
	}

	if _, statErr := os.Stat(row.FilePath); statErr != nil {
		c.db.ExecContext(ctx, `DELETE FROM pdf_cache WHERE identifier = ?`, identifier)
		c.bumpCounter(ctx, "misses")
		return "", false, nil
	}

	c.db.ExecContext(ctx, `UPDATE pdf_cache SET last_accessed_at = ? WHERE identifier = ?`, time.Now().UTC(), identifier)
	c.bumpCounter(ctx, "hits")
	return row.FilePath, true, nil
}

// Has reports whether identifier is present, without updating
// timestamps or hit/miss counters.
func (c *Cache) Has(ctx context.Context, identifier string) bool {
	var count int
	c.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM pdf_cache WHERE identifier = ?`, identifier)
	return count > 0
}

// Delete removes the row for identifier. The underlying file is
// removed only if no other row still references its content hash.
func (c *Cache) Delete(ctx context.Context, identifier string) error {
	var row struct {
		FilePath    string `db:"file_path"`
		ContentHash string `db:"content_hash"`
		ByteSize    int64  `db:"byte_size"`
	}
	if err := c.db.GetContext(ctx, &row, `SELECT file_path, content_hash, byte_size FROM pdf_cache WHERE identifier = ?`, identifier); err != nil {
		return nil
	}

	if _, err := c.db.ExecContext(ctx, `DELETE FROM pdf_cache WHERE identifier = ?`, identifier); err != nil {
		return agkerrors.Transient(err, "delete cache row")
	}
	c.adjustTotalSize(ctx, -row.ByteSize)

	var refCount int
	c.db.GetContext(ctx, &refCount, `SELECT COUNT(*) FROM pdf_cache WHERE content_hash = ?`, row.ContentHash)
	if refCount == 0 {
		os.Remove(row.FilePath)
	}
	return nil
}

// Clear wipes the cache entirely: all rows, all files, and the
// total_size counter reset. The hits and misses counters are kept.
func (c *Cache) Clear(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM pdf_cache`); err != nil {
		return agkerrors.Transient(err, "clear cache table")
	}
	c.db.ExecContext(ctx, `UPDATE cache_stats SET value = 0 WHERE key = 'total_size'`)
	os.RemoveAll(c.root)
	return os.MkdirAll(c.root, 0o755)
}

// Stats returns the current hit/miss/size counters.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	if err := c.db.GetContext(ctx, &s.TotalSize, `SELECT value FROM cache_stats WHERE key = 'total_size'`); err != nil {
		return s, agkerrors.Transient(err, "read total_size")
	}
	c.db.GetContext(ctx, &s.Hits, `SELECT value FROM cache_stats WHERE key = 'hits'`)
	c.db.GetContext(ctx, &s.Misses, `SELECT value FROM cache_stats WHERE key = 'misses'`)
	c.db.GetContext(ctx, &s.ItemCount, `SELECT COUNT(*) FROM pdf_cache`)
	return s, nil
}

func (c *Cache) adjustTotalSize(ctx context.Context, delta int64) {
	c.db.ExecContext(ctx, `UPDATE cache_stats SET value = value + ? WHERE key = 'total_size'`, delta)
}

func (c *Cache) bumpCounter(ctx context.Context, key string) {
	c.db.ExecContext(ctx, `UPDATE cache_stats SET value = value + 1 WHERE key = ?`, key)
}

// maybeEvict removes LRU entries until total size is at or below 80%
// of the configured budget.
func (c *Cache) maybeEvict(ctx context.Context) error {
	if c.maxSizeByte <= 0 {
		return nil
	}
	var total int64
	if err := c.db.GetContext(ctx, &total, `SELECT value FROM cache_stats WHERE key = 'total_size'`); err != nil {
		return err
	}
	if total <= c.maxSizeByte {
		return nil
	}
	target := int64(float64(c.maxSizeByte) * 0.8)

	for total > target {
		var victim string
		err := c.db.GetContext(ctx, &victim, `SELECT identifier FROM pdf_cache ORDER BY last_accessed_at ASC LIMIT 1`)
		if err != nil {
			break
		}
		if err := c.Delete(ctx, victim); err != nil {
			return err
		}
		if err := c.db.GetContext(ctx, &total, `SELECT value FROM cache_stats WHERE key = 'total_size'`); err != nil {
			return err
		}
	}
	return nil
}
