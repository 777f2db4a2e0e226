package dbpf

import (
	"fmt"
	"io"
	"runtime"
	"sync"

	"github.com/goopsie/dbpfrecompress/internal/bitio"
	"github.com/goopsie/dbpfrecompress/pkg/refpack"
)

// sourceReader serializes reads against a single-cursor source handle so
// concurrent workers can each seek-then-read as one critical section.
type sourceReader struct {
	mu sync.Mutex
	r  io.ReadSeeker
}

func (s *sourceReader) readAt(pos int64, size int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return readAt(s.r, pos, size)
}

// destWriter serializes appends to the destination handle. The location a
// worker's payload lands at is whatever the write cursor reads the instant
// it acquires the lock, so callers must capture it under the same lock that
// performs the write.
type destWriter struct {
	mu  sync.Mutex
	w   io.Writer
	pos uint32
}

func (d *destWriter) write(p []byte) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	loc := d.pos
	n, err := d.w.Write(p)
	if err != nil {
		return 0, err
	}
	d.pos += uint32(n)
	return loc, nil
}

// transformRecompress implements §4.4 step 2 for Recompress mode. It
// mutates entry's Compressed/UncompressedSize fields and returns the
// payload to store.
func transformRecompress(entry *Entry, payload []byte) []byte {
	if entry.Repeated {
		return payload
	}

	wasCompressed := entry.Compressed
	working := payload

	if wasCompressed {
		dec, err := refpack.Decompress(payload)
		if err != nil {
			// The stored payload's framing header is valid but this codec
			// cannot decode its content. Leave it untouched rather than
			// risk corrupting it.
			return payload
		}
		working = dec
	}

	if comp, ok := refpack.Compress(working); ok && len(comp) < len(payload) {
		hdr, err := refpack.ParseHeader(comp)
		if err == nil {
			entry.Compressed = true
			entry.UncompressedSize = hdr.UncompressedSize
			return comp
		}
	}

	entry.Compressed = wasCompressed
	return payload
}

// transformDecompress implements §4.4 step 2 for Decompress mode.
func transformDecompress(entry *Entry, payload []byte) ([]byte, error) {
	if !entry.Compressed {
		return payload, nil
	}
	dec, err := refpack.Decompress(payload)
	if err != nil {
		return nil, fmt.Errorf("decompress %08x/%08x/%08x/%08x: %w",
			entry.Key.Type, entry.Key.Group, entry.Key.Instance, entry.Key.Resource, err)
	}
	entry.Compressed = false
	entry.UncompressedSize = 0
	return dec, nil
}

// encodeKey appends a Key's TGIR fields to buf at pos, honoring indexMinorVersion2.
func encodeKey(buf []byte, pos *int, k Key, v2 bool) {
	bitio.WriteU32LE(buf, pos, k.Type)
	bitio.WriteU32LE(buf, pos, k.Group)
	bitio.WriteU32LE(buf, pos, k.Instance)
	if v2 {
		bitio.WriteU32LE(buf, pos, k.Resource)
	}
}

// Write re-emits a complete archive to dst, reading original payloads from
// src on demand, transforming each per mode, and regenerating the index,
// CLST, and (in Recompress mode) the signature hole. It mutates a in place:
// entries gain new locations and sizes, and a synthetic CLST entry is
// appended when any entry ends up compressed.
func Write(dst io.WriteSeeker, src io.ReadSeeker, a *Archive, mode Mode) error {
	v2 := a.Header.IndexMinorVersion == 2

	headerBuf := make([]byte, HeaderSize)
	a.Header.EncodeTo(headerBuf)
	patchIndexFields(headerBuf, 0, 0, 0, 0, 0, 0)
	if _, err := dst.Write(headerBuf); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	sr := &sourceReader{r: src}
	dw := &destWriter{w: dst, pos: HeaderSize}

	if err := transformEntries(sr, dw, a, mode); err != nil {
		return err
	}

	if len(a.Entries) > 0 {
		recordWidth := 16
		if v2 {
			recordWidth = 20
		}

		var compressedCount int
		for i := range a.Entries {
			if a.Entries[i].Compressed {
				compressedCount++
			}
		}

		if compressedCount > 0 {
			clstBuf := make([]byte, compressedCount*recordWidth)
			pos := 0
			for i := range a.Entries {
				if !a.Entries[i].Compressed {
					continue
				}
				encodeKey(clstBuf, &pos, a.Entries[i].Key, v2)
				bitio.WriteU32LE(clstBuf, &pos, a.Entries[i].UncompressedSize)
			}

			clstLoc, err := dw.write(clstBuf)
			if err != nil {
				return fmt.Errorf("write CLST: %w", err)
			}
			a.Entries = append(a.Entries, Entry{
				Key:      clstKey,
				Location: clstLoc,
				Size:     uint32(len(clstBuf)),
			})
		}
	}

	stride := 20
	if v2 {
		stride = 24
	}
	indexBuf := make([]byte, len(a.Entries)*stride)
	pos := 0
	for i := range a.Entries {
		encodeKey(indexBuf, &pos, a.Entries[i].Key, v2)
		bitio.WriteU32LE(indexBuf, &pos, a.Entries[i].Location)
		bitio.WriteU32LE(indexBuf, &pos, a.Entries[i].Size)
	}

	indexLoc, err := dw.write(indexBuf)
	if err != nil {
		return fmt.Errorf("write index: %w", err)
	}

	var holeCount, holeIndexLoc, holeIndexSize uint32
	if mode == Recompress {
		holeIndexLoc = dw.pos
		holeLoc := holeIndexLoc + 8
		finalSize := holeLoc + 8

		trailer := make([]byte, 16)
		tp := 0
		bitio.WriteU32LE(trailer, &tp, holeLoc)
		bitio.WriteU32LE(trailer, &tp, 8)
		bitio.WriteU32LE(trailer, &tp, signatureWord)
		bitio.WriteU32LE(trailer, &tp, finalSize)

		if _, err := dw.write(trailer); err != nil {
			return fmt.Errorf("write signature hole: %w", err)
		}

		holeCount = 1
		holeIndexSize = 8
	}

	patchIndexFields(headerBuf, uint32(len(a.Entries)), indexLoc, uint32(len(indexBuf)), holeCount, holeIndexLoc, holeIndexSize)

	if _, err := dst.Seek(36, io.SeekStart); err != nil {
		return fmt.Errorf("seek to index fields: %w", err)
	}
	if _, err := dst.Write(headerBuf[36:60]); err != nil {
		return fmt.Errorf("patch index fields: %w", err)
	}
	if _, err := dst.Seek(int64(dw.pos), io.SeekStart); err != nil {
		return fmt.Errorf("seek to end: %w", err)
	}

	return nil
}

// transformEntries runs the per-entry transform (§4.4 step 2) across a
// worker pool, reading from sr and writing through dw. Each entry's index
// in a.Entries is owned by exactly one worker, so result fields are written
// back without further locking.
func transformEntries(sr *sourceReader, dw *destWriter, a *Archive, mode Mode) error {
	workers := runtime.NumCPU()
	if workers < 1 {
		workers = 1
	}
	if workers > len(a.Entries) {
		workers = len(a.Entries)
	}
	if workers == 0 {
		return nil
	}

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	errs := make(chan error, len(a.Entries))

	for i := range a.Entries {
		i := i
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			entry := &a.Entries[i]
			payload, err := sr.readAt(int64(entry.Location), int(entry.Size))
			if err != nil {
				errs <- fmt.Errorf("read entry %d: %w", i, err)
				return
			}

			var out []byte
			switch mode {
			case Recompress:
				out = transformRecompress(entry, payload)
			case Decompress:
				out, err = transformDecompress(entry, payload)
				if err != nil {
					errs <- err
					return
				}
			default:
				out = payload
			}

			loc, err := dw.write(out)
			if err != nil {
				errs <- fmt.Errorf("write entry %d: %w", i, err)
				return
			}
			entry.Location = loc
			entry.Size = uint32(len(out))
		}()
	}

	wg.Wait()
	close(errs)
	if err, ok := <-errs; ok {
		return err
	}
	return nil
}
