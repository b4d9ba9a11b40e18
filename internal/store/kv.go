package store

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/tahseelapp/tahseel/internal/collection"
	"go.uber.org/zap"
)

// Key layout inside the kv table:
//
//	data:<table>      — raw record list for a collection
//	cache:<cacheKey>  — Snapshot wrapper (base table or filtered variant)
//
// Read and parse failures degrade to "no data"; the engine must stay usable
// on an empty or corrupted store.
const (
	dataPrefix  = "data:"
	cachePrefix = "cache:"
)

// Get returns the raw value for a key, or nil if absent or unreadable.
func (db *DB) Get(key string) []byte {
	var value string
	err := db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		db.logger.Warn("kv read failed, treating as empty", zap.String("key", key), zap.Error(err))
		return nil
	}
	return []byte(value)
}

// Set stores a JSON-serializable value under a key.
func (db *DB) Set(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	_, err = db.Exec(`
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(raw), now)
	return err
}

// Remove deletes a key. Removing an absent key is a no-op.
func (db *DB) Remove(key string) error {
	_, err := db.Exec(`DELETE FROM kv WHERE key = ?`, key)
	return err
}

// GetCollection returns the raw record list for a table. Missing or
// unparsable data yields an empty collection, never an error.
func (db *DB) GetCollection(table string) []collection.Record {
	raw := db.Get(dataPrefix + table)
	if raw == nil {
		return nil
	}
	var records []collection.Record
	if err := json.Unmarshal(raw, &records); err != nil {
		db.logger.Warn("corrupt collection data, treating as empty",
			zap.String("table", table), zap.Error(err))
		return nil
	}
	return records
}

// SetCollection stores the raw record list for a table.
func (db *DB) SetCollection(table string, records []collection.Record) error {
	if records == nil {
		records = []collection.Record{}
	}
	return db.Set(dataPrefix+table, records)
}

// GetSnapshot returns the cached snapshot for a cache key, or nil if absent
// or unparsable.
func (db *DB) GetSnapshot(cacheKey string) *collection.Snapshot {
	raw := db.Get(cachePrefix + cacheKey)
	if raw == nil {
		return nil
	}
	var snap collection.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		db.logger.Warn("corrupt cache snapshot, treating as empty",
			zap.String("cache_key", cacheKey), zap.Error(err))
		return nil
	}
	return &snap
}

// SetSnapshot stores a snapshot under a cache key, keeping the capture
// timestamp monotonically non-decreasing per key. Writing the base (table)
// key also rewrites the plain collection for consumers bypassing the cache.
func (db *DB) SetSnapshot(table, cacheKey string, snap *collection.Snapshot) error {
	if prev := db.GetSnapshot(cacheKey); prev != nil && snap.Timestamp < prev.Timestamp {
		snap.Timestamp = prev.Timestamp
	}
	if err := db.Set(cachePrefix+cacheKey, snap); err != nil {
		return err
	}
	if cacheKey == table {
		return db.SetCollection(table, snap.Data)
	}
	return nil
}

// likeEscaper neutralizes LIKE metacharacters in table names, so a table
// called "fee_logs" cannot match sibling tables' cache keys.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func variantPattern(table string) string {
	return likeEscaper.Replace(cachePrefix+table) + ":%"
}

// DropCacheEntries deletes the base snapshot and every filtered variant for
// a table. Returns the number of entries removed.
func (db *DB) DropCacheEntries(table string) (int, error) {
	res, err := db.Exec(`DELETE FROM kv WHERE key = ? OR key LIKE ? ESCAPE '\'`,
		cachePrefix+table, variantPattern(table))
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// DropCacheVariants deletes only the filtered-cache variants for a table,
// preserving the base snapshot. Used after mutations, which rewrite the base
// snapshot in place.
func (db *DB) DropCacheVariants(table string) (int, error) {
	res, err := db.Exec(`DELETE FROM kv WHERE key LIKE ? ESCAPE '\'`, variantPattern(table))
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// DropAllCache deletes every cache snapshot for every table. The raw
// collection data is left untouched.
func (db *DB) DropAllCache() (int, error) {
	res, err := db.Exec(`DELETE FROM kv WHERE key LIKE ?`, cachePrefix+"%")
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// CacheKeys lists every cache key currently stored for a table (base and
// filtered variants).
func (db *DB) CacheKeys(table string) ([]string, error) {
	rows, err := db.Query(`SELECT key FROM kv WHERE key = ? OR key LIKE ? ESCAPE '\' ORDER BY key`,
		cachePrefix+table, variantPattern(table))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k[len(cachePrefix):])
	}
	return keys, rows.Err()
}
