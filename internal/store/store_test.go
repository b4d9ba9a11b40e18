package store

import (
	"path/filepath"
	"testing"

	"github.com/tahseelapp/tahseel/internal/collection"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestKVSetGetRemove(t *testing.T) {
	db := testDB(t)

	if err := db.Set("k", map[string]string{"a": "b"}); err != nil {
		t.Fatal(err)
	}
	if got := db.Get("k"); string(got) != `{"a":"b"}` {
		t.Errorf("Get = %s", got)
	}
	if err := db.Remove("k"); err != nil {
		t.Fatal(err)
	}
	if got := db.Get("k"); got != nil {
		t.Errorf("Get after Remove = %s, want nil", got)
	}
	// Removing an absent key is a no-op.
	if err := db.Remove("k"); err != nil {
		t.Errorf("Remove absent key: %v", err)
	}
}

func TestCollectionRoundTrip(t *testing.T) {
	db := testDB(t)

	records := []collection.Record{
		{"id": "S1", "name": "Al Noor"},
		{"id": "S2", "name": "Al Falah"},
	}
	if err := db.SetCollection("schools", records); err != nil {
		t.Fatal(err)
	}
	got := db.GetCollection("schools")
	if len(got) != 2 || got[0].ID() != "S1" {
		t.Errorf("GetCollection = %v", got)
	}
}

func TestCorruptCollectionTreatedAsEmpty(t *testing.T) {
	db := testDB(t)

	// Write garbage directly under the collection key.
	if _, err := db.Exec(`INSERT INTO kv (key, value, updated_at) VALUES ('data:fees', 'not-json', 0)`); err != nil {
		t.Fatal(err)
	}
	if got := db.GetCollection("fees"); got != nil {
		t.Errorf("corrupt collection = %v, want nil", got)
	}
}

func TestSnapshotBaseKeyWritesCollection(t *testing.T) {
	db := testDB(t)

	snap := &collection.Snapshot{
		Data:      []collection.Record{{"id": "F1", "paid": 10}},
		Timestamp: 1000,
		LastSync:  1000,
	}
	if err := db.SetSnapshot("fees", "fees", snap); err != nil {
		t.Fatal(err)
	}

	// The plain collection must be readable by consumers bypassing the cache.
	if got := db.GetCollection("fees"); len(got) != 1 || got[0].ID() != "F1" {
		t.Errorf("plain collection = %v", got)
	}
	if got := db.GetSnapshot("fees"); got == nil || got.Timestamp != 1000 {
		t.Errorf("snapshot = %+v", got)
	}
}

func TestSnapshotFilteredKeyDoesNotTouchCollection(t *testing.T) {
	db := testDB(t)

	key := collection.CacheKey("fees", collection.Filters{"grade": 4})
	snap := &collection.Snapshot{Data: []collection.Record{{"id": "F2"}}, Timestamp: 5}
	if err := db.SetSnapshot("fees", key, snap); err != nil {
		t.Fatal(err)
	}
	if got := db.GetCollection("fees"); got != nil {
		t.Errorf("plain collection = %v, want untouched (nil)", got)
	}
}

func TestSnapshotTimestampMonotonic(t *testing.T) {
	db := testDB(t)

	if err := db.SetSnapshot("fees", "fees", &collection.Snapshot{Timestamp: 2000}); err != nil {
		t.Fatal(err)
	}
	// An older capture must not roll the timestamp back.
	if err := db.SetSnapshot("fees", "fees", &collection.Snapshot{Timestamp: 1000}); err != nil {
		t.Fatal(err)
	}
	if got := db.GetSnapshot("fees"); got.Timestamp != 2000 {
		t.Errorf("timestamp = %d, want 2000 (monotonic)", got.Timestamp)
	}
}

func TestDropCacheEntries(t *testing.T) {
	db := testDB(t)

	filtered := collection.CacheKey("fees", collection.Filters{"grade": 4})
	_ = db.SetSnapshot("fees", "fees", &collection.Snapshot{Timestamp: 1})
	_ = db.SetSnapshot("fees", filtered, &collection.Snapshot{Timestamp: 1})
	_ = db.SetSnapshot("students", "students", &collection.Snapshot{Timestamp: 1})

	n, err := db.DropCacheEntries("fees")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("dropped %d entries, want 2", n)
	}
	if db.GetSnapshot("fees") != nil || db.GetSnapshot(filtered) != nil {
		t.Error("fees cache entries survived invalidation")
	}
	if db.GetSnapshot("students") == nil {
		t.Error("students cache must not be affected")
	}
}

func TestDropCacheEntriesEscapesLikeMetacharacters(t *testing.T) {
	db := testDB(t)

	// "_" in a table name must not act as a single-character wildcard and
	// reach into sibling tables' cache keys.
	target := collection.CacheKey("fee_logs", collection.Filters{"grade": 4})
	sibling := collection.CacheKey("feeXlogs", collection.Filters{"grade": 4})
	_ = db.SetSnapshot("fee_logs", "fee_logs", &collection.Snapshot{Timestamp: 1})
	_ = db.SetSnapshot("fee_logs", target, &collection.Snapshot{Timestamp: 1})
	_ = db.SetSnapshot("feeXlogs", "feeXlogs", &collection.Snapshot{Timestamp: 1})
	_ = db.SetSnapshot("feeXlogs", sibling, &collection.Snapshot{Timestamp: 1})

	n, err := db.DropCacheEntries("fee_logs")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("dropped %d entries, want 2", n)
	}
	if db.GetSnapshot("feeXlogs") == nil || db.GetSnapshot(sibling) == nil {
		t.Error("sibling table's cache entries must survive")
	}

	if _, err := db.DropCacheVariants("feeXlogs"); err != nil {
		t.Fatal(err)
	}
	if db.GetSnapshot("feeXlogs") == nil {
		t.Error("base snapshot must survive a variants-only drop")
	}

	keys, err := db.CacheKeys("feeXlogs")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || keys[0] != "feeXlogs" {
		t.Errorf("keys = %v, want only the base key", keys)
	}
}

func TestCacheKeys(t *testing.T) {
	db := testDB(t)

	filtered := collection.CacheKey("fees", collection.Filters{"grade": 4})
	_ = db.SetSnapshot("fees", "fees", &collection.Snapshot{Timestamp: 1})
	_ = db.SetSnapshot("fees", filtered, &collection.Snapshot{Timestamp: 1})

	keys, err := db.CacheKeys("fees")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 {
		t.Errorf("got %d keys, want 2: %v", len(keys), keys)
	}
}

func TestClientIDStable(t *testing.T) {
	db := testDB(t)

	id1, err := db.ClientID()
	if err != nil {
		t.Fatal(err)
	}
	if id1 == "" {
		t.Fatal("empty client id")
	}
	id2, err := db.ClientID()
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Errorf("client id changed between calls: %q vs %q", id1, id2)
	}
}
