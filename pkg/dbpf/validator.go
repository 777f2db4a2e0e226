package dbpf

import (
	"bytes"
	"fmt"
	"io"

	"github.com/goopsie/dbpfrecompress/pkg/refpack"
)

// payloadOf decompresses an entry's stored payload if it is compressed,
// otherwise returns it unchanged.
func payloadOf(r io.ReadSeeker, e Entry) ([]byte, error) {
	raw, err := readAt(r, int64(e.Location), int(e.Size))
	if err != nil {
		return nil, err
	}
	if !e.Compressed {
		return raw, nil
	}
	return refpack.Decompress(raw)
}

// Validate re-parses the just-written archive at dst and compares it
// against the pre-write state of the same archive (its header bytes and
// entry list, captured before Write mutated them) plus the original payload
// source. It implements §4.5; a non-nil error means the output must be
// discarded.
func Validate(dst io.ReadSeeker, src io.ReadSeeker, origHeaderBuf []byte, origEntries []Entry, displayPath string, mode Mode) error {
	newArchive, err := Read(dst, displayPath, Skip)
	if err != nil {
		return fmt.Errorf("validate: rewritten archive failed to parse: %w", err)
	}
	if !newArchive.Unpacked {
		return fmt.Errorf("validate: rewritten archive failed to parse")
	}

	newHeaderBuf, err := readAt(dst, 0, HeaderSize)
	if err != nil {
		return fmt.Errorf("validate: read new header: %w", err)
	}
	if !bytes.Equal(origHeaderBuf[0:36], newHeaderBuf[0:36]) || !bytes.Equal(origHeaderBuf[60:96], newHeaderBuf[60:96]) {
		return fmt.Errorf("validate: header bytes outside the index/hole fields changed")
	}

	if mode == Recompress {
		if len(newArchive.Holes) != 1 || newArchive.Holes[0].Size != 8 {
			return fmt.Errorf("validate: expected exactly one 8-byte hole, found %d", len(newArchive.Holes))
		}
		if !newArchive.SignaturePresent {
			return fmt.Errorf("validate: signature hole missing or stale")
		}
	}

	if len(newArchive.Entries) != len(origEntries) {
		return fmt.Errorf("validate: entry count changed: %d -> %d", len(origEntries), len(newArchive.Entries))
	}

	for i := range origEntries {
		if origEntries[i].Key != newArchive.Entries[i].Key {
			return fmt.Errorf("validate: entry %d TGIR changed", i)
		}
	}

	for i := range newArchive.Entries {
		e := newArchive.Entries[i]
		raw, err := readAt(dst, int64(e.Location), int(e.Size))
		if err != nil {
			return fmt.Errorf("validate: read entry %d: %w", i, err)
		}

		framed := refpack.IsCompressed(raw)
		if framed != e.Compressed {
			return fmt.Errorf("validate: entry %d CLST membership disagrees with framing header", i)
		}

		if e.Compressed {
			hdr, err := refpack.ParseHeader(raw)
			if err != nil {
				return fmt.Errorf("validate: entry %d: %w", i, err)
			}
			if hdr.UncompressedSize != e.UncompressedSize {
				return fmt.Errorf("validate: entry %d uncompressedSize disagrees with CLST", i)
			}
			if hdr.CompressedSize != e.Size {
				return fmt.Errorf("validate: entry %d compressedSize disagrees with index", i)
			}
			if hdr.CompressedSize >= hdr.UncompressedSize {
				return fmt.Errorf("validate: entry %d did not shrink", i)
			}
		}
	}

	for i := range origEntries {
		origPayload, err := payloadOf(src, origEntries[i])
		if err != nil {
			return fmt.Errorf("validate: decompress original entry %d: %w", i, err)
		}
		newPayload, err := payloadOf(dst, newArchive.Entries[i])
		if err != nil {
			return fmt.Errorf("validate: decompress new entry %d: %w", i, err)
		}
		if !bytes.Equal(origPayload, newPayload) {
			return fmt.Errorf("validate: entry %d decompressed payload changed", i)
		}
	}

	return nil
}
