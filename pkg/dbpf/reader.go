package dbpf

import (
	"fmt"
	"io"

	"github.com/goopsie/dbpfrecompress/internal/bitio"
)

// rejected returns the sentinel "parse failed" Archive alongside a
// descriptive, displayPath-prefixed error. It never returns a nil error.
func rejected(displayPath string, err error) (*Archive, error) {
	return &Archive{Unpacked: false}, fmt.Errorf("%s: %w", displayPath, err)
}

func fileSize(r io.ReadSeeker) (int64, error) {
	pos, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	size, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := r.Seek(pos, io.SeekStart); err != nil {
		return 0, err
	}
	return size, nil
}

func readAt(r io.ReadSeeker, pos int64, size int) ([]byte, error) {
	if _, err := r.Seek(pos, io.SeekStart); err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Read parses a DBPF archive from r. On success it returns an Archive with
// Unpacked set to true. On any violation of the format's invariants it
// returns a sentinel Archive with Unpacked false and a non-nil error
// describing the rejection; this is not fatal to a caller processing a
// batch of archives.
func Read(r io.ReadSeeker, displayPath string, mode Mode) (*Archive, error) {
	size, err := fileSize(r)
	if err != nil {
		return rejected(displayPath, fmt.Errorf("stat: %w", err))
	}
	if size < HeaderSize {
		return rejected(displayPath, fmt.Errorf("header not found"))
	}

	headerBuf, err := readAt(r, 0, HeaderSize)
	if err != nil {
		return rejected(displayPath, fmt.Errorf("read header: %w", err))
	}

	h, err := DecodeFrom(headerBuf)
	if err != nil {
		return rejected(displayPath, err)
	}
	if err := h.Validate(); err != nil {
		return rejected(displayPath, err)
	}

	fsize := uint32(size)
	if size > int64(^uint32(0)) {
		return rejected(displayPath, fmt.Errorf("archive too large"))
	}

	if h.IndexLocation > fsize || h.IndexLocation+h.IndexSize > fsize {
		return rejected(displayPath, fmt.Errorf("entry index outside of bounds"))
	}
	if h.IndexEntryCount*h.IndexStride() > h.IndexSize {
		return rejected(displayPath, fmt.Errorf("entry count larger than index size"))
	}
	if h.HoleIndexLocation > fsize || h.HoleIndexLocation+h.HoleIndexSize > fsize {
		return rejected(displayPath, fmt.Errorf("hole index outside of bounds"))
	}
	if h.HoleIndexEntryCount*8 != h.HoleIndexSize {
		return rejected(displayPath, fmt.Errorf("hole count does not match hole index size"))
	}

	holeBuf, err := readAt(r, int64(h.HoleIndexLocation), int(h.HoleIndexSize))
	if err != nil {
		return rejected(displayPath, fmt.Errorf("read hole index: %w", err))
	}

	holes := make([]Hole, 0, h.HoleIndexEntryCount)
	pos := 0
	for i := uint32(0); i < h.HoleIndexEntryCount; i++ {
		loc := bitio.ReadU32LE(holeBuf, &pos)
		sz := bitio.ReadU32LE(holeBuf, &pos)
		holes = append(holes, Hole{Location: loc, Size: sz})
	}

	a := &Archive{Header: h, Holes: holes, CompressedDir: map[Key]uint32{}}

	if len(holes) == 1 && holes[0].Size == 8 {
		hole := holes[0]
		if hole.Location > fsize || hole.Location+hole.Size > fsize {
			return rejected(displayPath, fmt.Errorf("hole location outside of bounds"))
		}
		sigBuf, err := readAt(r, int64(hole.Location), 8)
		if err != nil {
			return rejected(displayPath, fmt.Errorf("read signature hole: %w", err))
		}
		sp := 0
		sig := bitio.ReadU32LE(sigBuf, &sp)
		sizeInHole := bitio.ReadU32LE(sigBuf, &sp)
		if sig == signatureWord && sizeInHole == fsize {
			a.SignaturePresent = true
		}
	}

	indexBuf, err := readAt(r, int64(h.IndexLocation), int(h.IndexSize))
	if err != nil {
		return rejected(displayPath, fmt.Errorf("read index: %w", err))
	}

	entries := make([]Entry, 0, h.IndexEntryCount)
	var clstContent []byte

	ip := 0
	for i := uint32(0); i < h.IndexEntryCount; i++ {
		var k Key
		k.Type = bitio.ReadU32LE(indexBuf, &ip)
		k.Group = bitio.ReadU32LE(indexBuf, &ip)
		k.Instance = bitio.ReadU32LE(indexBuf, &ip)
		if h.IndexMinorVersion == 2 {
			k.Resource = bitio.ReadU32LE(indexBuf, &ip)
		}
		loc := bitio.ReadU32LE(indexBuf, &ip)
		sz := bitio.ReadU32LE(indexBuf, &ip)

		if loc > fsize || loc+sz > fsize {
			return rejected(displayPath, fmt.Errorf("entry location outside of bounds"))
		}

		if k.Type == CLSTType {
			clstContent, err = readAt(r, int64(loc), int(sz))
			if err != nil {
				return rejected(displayPath, fmt.Errorf("read CLST: %w", err))
			}
			continue
		}

		entries = append(entries, Entry{Key: k, Location: loc, Size: sz})
	}

	if len(clstContent) > 0 {
		recordWidth := 16
		if h.IndexMinorVersion == 2 {
			recordWidth = 20
		}
		cp := 0
		for cp+recordWidth <= len(clstContent) {
			var k Key
			k.Type = bitio.ReadU32LE(clstContent, &cp)
			k.Group = bitio.ReadU32LE(clstContent, &cp)
			k.Instance = bitio.ReadU32LE(clstContent, &cp)
			if h.IndexMinorVersion == 2 {
				k.Resource = bitio.ReadU32LE(clstContent, &cp)
			}
			uncompressedSize := bitio.ReadU32LE(clstContent, &cp)
			a.CompressedDir[k] = uncompressedSize
		}

		for i := range entries {
			if sz, ok := a.CompressedDir[entries[i].Key]; ok {
				entries[i].Compressed = true
				entries[i].UncompressedSize = sz
			}
		}
	}

	if mode == Recompress {
		firstIndex := make(map[Key]int, len(entries))
		for i := range entries {
			if j, ok := firstIndex[entries[i].Key]; ok {
				entries[i].Repeated = true
				entries[j].Repeated = true
			} else {
				firstIndex[entries[i].Key] = i
			}
		}
	}

	a.Entries = entries
	a.Unpacked = true
	return a, nil
}
