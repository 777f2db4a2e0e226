package dbpf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/DataDog/zstd"
)

// scanCacheMagic tags the sidecar file so a foreign or truncated file is
// rejected before it ever reaches the zstd reader.
var scanCacheMagic = [4]byte{'D', 'S', 'C', '1'}

// CacheEntry records the size and modification time an archive had the last
// time it was successfully processed.
type CacheEntry struct {
	Path    string
	Size    int64
	ModTime int64 // Unix nanoseconds
}

// ScanCache is a filesystem-level skip-optimization, complementary to the
// in-hole signature check: if an archive's size and mtime have not changed
// since the last successful run, it is skipped before it is even opened.
// A missing or corrupt cache is treated as empty; it is never consulted for
// correctness.
type ScanCache struct {
	entries map[string]CacheEntry
}

// NewScanCache returns an empty cache.
func NewScanCache() *ScanCache {
	return &ScanCache{entries: make(map[string]CacheEntry)}
}

// Unchanged reports whether path's current size and modTime match the
// recorded entry from the last successful run.
func (c *ScanCache) Unchanged(path string, size, modTime int64) bool {
	e, ok := c.entries[path]
	return ok && e.Size == size && e.ModTime == modTime
}

// Record stores or updates path's size and modTime after a successful run.
func (c *ScanCache) Record(path string, size, modTime int64) {
	c.entries[path] = CacheEntry{Path: path, Size: size, ModTime: modTime}
}

// marshal serializes the cache to a flat record list: a uint32 count
// followed by, per entry, a uint32 path length, the path bytes, and two
// int64s (size, modTime).
func (c *ScanCache) marshal() []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(len(c.entries)))
	for _, e := range c.entries {
		binary.Write(&buf, binary.LittleEndian, uint32(len(e.Path)))
		buf.WriteString(e.Path)
		binary.Write(&buf, binary.LittleEndian, e.Size)
		binary.Write(&buf, binary.LittleEndian, e.ModTime)
	}
	return buf.Bytes()
}

func unmarshalScanCache(data []byte) (*ScanCache, error) {
	r := bytes.NewReader(data)
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("read entry count: %w", err)
	}

	c := &ScanCache{entries: make(map[string]CacheEntry, count)}
	for i := uint32(0); i < count; i++ {
		var pathLen uint32
		if err := binary.Read(r, binary.LittleEndian, &pathLen); err != nil {
			return nil, fmt.Errorf("read path length: %w", err)
		}
		pathBuf := make([]byte, pathLen)
		if _, err := io.ReadFull(r, pathBuf); err != nil {
			return nil, fmt.Errorf("read path: %w", err)
		}

		var e CacheEntry
		e.Path = string(pathBuf)
		if err := binary.Read(r, binary.LittleEndian, &e.Size); err != nil {
			return nil, fmt.Errorf("read size: %w", err)
		}
		if err := binary.Read(r, binary.LittleEndian, &e.ModTime); err != nil {
			return nil, fmt.Errorf("read modTime: %w", err)
		}
		c.entries[e.Path] = e
	}

	return c, nil
}

// LoadScanCache reads a scan cache sidecar from path. A missing file or any
// parse failure yields an empty cache rather than an error: the cache is
// pure skip-optimization, never a correctness dependency.
func LoadScanCache(path string) *ScanCache {
	f, err := os.Open(path)
	if err != nil {
		return NewScanCache()
	}
	defer f.Close()

	var magicBuf [4]byte
	if _, err := io.ReadFull(f, magicBuf[:]); err != nil || magicBuf != scanCacheMagic {
		return NewScanCache()
	}

	zr := zstd.NewReader(f)
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return NewScanCache()
	}

	c, err := unmarshalScanCache(raw)
	if err != nil {
		return NewScanCache()
	}
	return c
}

// Save writes the cache to path: a 4-byte magic tag followed by the
// zstd-compressed record list. A zstd frame is self-terminating, so no
// separate length header needs to be carried alongside it.
func (c *ScanCache) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create scan cache: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(scanCacheMagic[:]); err != nil {
		return fmt.Errorf("write scan cache magic: %w", err)
	}

	zw := zstd.NewWriterLevel(f, zstd.BestSpeed)
	if _, err := zw.Write(c.marshal()); err != nil {
		zw.Close()
		return fmt.Errorf("compress scan cache: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close scan cache stream: %w", err)
	}
	return nil
}
