package dbpf

import (
	"path/filepath"
	"testing"
)

func TestScanCacheRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archives.dbpfcache")

	c := NewScanCache()
	c.Record("/data/a.package", 1024, 111)
	c.Record("/data/b.package", 2048, 222)

	if err := c.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded := LoadScanCache(path)
	if !loaded.Unchanged("/data/a.package", 1024, 111) {
		t.Error("expected a.package to be recorded as unchanged")
	}
	if !loaded.Unchanged("/data/b.package", 2048, 222) {
		t.Error("expected b.package to be recorded as unchanged")
	}
}

func TestScanCacheSkipBehavior(t *testing.T) {
	c := NewScanCache()
	c.Record("/data/a.package", 1024, 111)

	if c.Unchanged("/data/a.package", 1024, 222) {
		t.Error("expected stale mtime not to count as unchanged")
	}
	if c.Unchanged("/data/a.package", 2048, 111) {
		t.Error("expected stale size not to count as unchanged")
	}
	if c.Unchanged("/data/unknown.package", 0, 0) {
		t.Error("expected unknown path not to count as unchanged")
	}
}

func TestScanCacheMissingFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.dbpfcache")
	c := LoadScanCache(path)
	if c.Unchanged("/data/a.package", 0, 0) {
		t.Error("expected missing cache file to behave as empty")
	}
}

func TestScanCacheEmptyRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.dbpfcache")

	if err := NewScanCache().Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded := LoadScanCache(path)
	if loaded.Unchanged("/data/a.package", 0, 0) {
		t.Error("expected empty cache to report nothing as unchanged")
	}
}
