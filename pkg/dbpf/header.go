// Package dbpf implements the DBPF game-asset archive container: parsing
// its fixed-layout header, resource index, hole table, and embedded
// directory of compressed resources, and rebuilding those structures with
// resources re-compressed or decompressed by the RefPack/QFS codec.
package dbpf

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/goopsie/dbpfrecompress/internal/bitio"
)

// ErrNotAPackageFile is wrapped by Validate and DecodeFrom whenever a file's
// magic or version fields don't match a Sims 2 package, so callers can
// distinguish that condition from an I/O failure with errors.Is.
var ErrNotAPackageFile = errors.New("dbpf: not a Sims 2 package file")

// ErrUnrecognizedIndexVersion is wrapped by Validate when the index minor
// version is higher than this reader understands.
var ErrUnrecognizedIndexVersion = errors.New("dbpf: unrecognized index version")

// HeaderSize is the fixed binary size of a DBPF header.
const HeaderSize = 96

// Magic is the 4-byte signature every DBPF archive starts with.
var Magic = [4]byte{'D', 'B', 'P', 'F'}

// CLSTType is the resource type identifying the directory-of-compressed-
// resources entry. It is consumed by the reader and regenerated by the
// writer; it never appears in an Archive's Entries.
const CLSTType = 0xE86B1EEF

// clstKey is the synthetic TGIR the writer assigns to the CLST resource it
// emits.
var clstKey = Key{Type: CLSTType, Group: CLSTType, Instance: 0x286B1F03}

// signatureWord is the little-endian "BRG5" marker stored in the
// compressor's signature hole.
const signatureWord uint32 = 0x35475242

// Header is the fixed 96-byte prefix of a DBPF archive.
type Header struct {
	MajorVersion        uint32
	MinorVersion        uint32
	MajorUserVersion    uint32
	MinorUserVersion    uint32
	Flags               uint32
	CreatedDate         uint32
	ModifiedDate        uint32
	IndexMajorVersion   uint32
	IndexEntryCount     uint32
	IndexLocation       uint32
	IndexSize           uint32
	HoleIndexEntryCount uint32
	HoleIndexLocation   uint32
	HoleIndexSize       uint32
	IndexMinorVersion   uint32
	Remainder           [32]byte
}

// Validate checks the header fields that are intrinsic to the header
// itself (the version numbers; the magic is checked by DecodeFrom). Bounds
// checks against the file size and index stride are performed by the
// reader, which has that context.
func (h *Header) Validate() error {
	if h.MajorVersion != 1 {
		return fmt.Errorf("%w (major version %d)", ErrNotAPackageFile, h.MajorVersion)
	}
	if h.MinorVersion > 2 {
		return fmt.Errorf("%w (minor version %d)", ErrNotAPackageFile, h.MinorVersion)
	}
	if h.IndexMajorVersion != 7 {
		return fmt.Errorf("%w (index major version %d)", ErrNotAPackageFile, h.IndexMajorVersion)
	}
	if h.IndexMinorVersion > 2 {
		return fmt.Errorf("%w: %d", ErrUnrecognizedIndexVersion, h.IndexMinorVersion)
	}
	return nil
}

// IndexStride is the per-entry byte width of the resource index: 24 bytes
// when the 4th TGIR field (Resource) is present, else 20.
func (h *Header) IndexStride() uint32 {
	if h.IndexMinorVersion == 2 {
		return 24
	}
	return 20
}

// DecodeFrom reads the header from buf, which must be at least HeaderSize
// bytes, including magic. It rejects a wrong magic but does not validate
// the versions; use Validate afterwards, matching the reader's two-step
// "magic first, then everything else" rejection order.
func DecodeFrom(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("dbpf: header not found (short read)")
	}
	if [4]byte(buf[0:4]) != Magic {
		return Header{}, fmt.Errorf("%w (magic header not found)", ErrNotAPackageFile)
	}

	var h Header
	pos := 4
	h.MajorVersion = bitio.ReadU32LE(buf, &pos)
	h.MinorVersion = bitio.ReadU32LE(buf, &pos)
	h.MajorUserVersion = bitio.ReadU32LE(buf, &pos)
	h.MinorUserVersion = bitio.ReadU32LE(buf, &pos)
	h.Flags = bitio.ReadU32LE(buf, &pos)
	h.CreatedDate = bitio.ReadU32LE(buf, &pos)
	h.ModifiedDate = bitio.ReadU32LE(buf, &pos)
	h.IndexMajorVersion = bitio.ReadU32LE(buf, &pos)
	h.IndexEntryCount = bitio.ReadU32LE(buf, &pos)
	h.IndexLocation = bitio.ReadU32LE(buf, &pos)
	h.IndexSize = bitio.ReadU32LE(buf, &pos)
	h.HoleIndexEntryCount = bitio.ReadU32LE(buf, &pos)
	h.HoleIndexLocation = bitio.ReadU32LE(buf, &pos)
	h.HoleIndexSize = bitio.ReadU32LE(buf, &pos)
	h.IndexMinorVersion = bitio.ReadU32LE(buf, &pos)
	copy(h.Remainder[:], buf[64:96])

	return h, nil
}

// EncodeTo writes the header to buf, which must be at least HeaderSize
// bytes. The index/hole fields (offsets 36-59) are written as-is from h;
// the writer fills them with placeholders and patches them later.
func (h *Header) EncodeTo(buf []byte) {
	copy(buf[0:4], Magic[:])
	pos := 4
	bitio.WriteU32LE(buf, &pos, h.MajorVersion)
	bitio.WriteU32LE(buf, &pos, h.MinorVersion)
	bitio.WriteU32LE(buf, &pos, h.MajorUserVersion)
	bitio.WriteU32LE(buf, &pos, h.MinorUserVersion)
	bitio.WriteU32LE(buf, &pos, h.Flags)
	bitio.WriteU32LE(buf, &pos, h.CreatedDate)
	bitio.WriteU32LE(buf, &pos, h.ModifiedDate)
	bitio.WriteU32LE(buf, &pos, h.IndexMajorVersion)
	bitio.WriteU32LE(buf, &pos, h.IndexEntryCount)
	bitio.WriteU32LE(buf, &pos, h.IndexLocation)
	bitio.WriteU32LE(buf, &pos, h.IndexSize)
	bitio.WriteU32LE(buf, &pos, h.HoleIndexEntryCount)
	bitio.WriteU32LE(buf, &pos, h.HoleIndexLocation)
	bitio.WriteU32LE(buf, &pos, h.HoleIndexSize)
	bitio.WriteU32LE(buf, &pos, h.IndexMinorVersion)
	copy(buf[64:96], h.Remainder[:])
}

// patchIndexFields overwrites only the index/hole fields (offsets 36-59)
// of an already-encoded header buffer, leaving bytes 0-35 and 60-95 alone.
func patchIndexFields(buf []byte, entryCount, location, size, holeCount, holeLocation, holeSize uint32) {
	binary.LittleEndian.PutUint32(buf[36:40], entryCount)
	binary.LittleEndian.PutUint32(buf[40:44], location)
	binary.LittleEndian.PutUint32(buf[44:48], size)
	binary.LittleEndian.PutUint32(buf[48:52], holeCount)
	binary.LittleEndian.PutUint32(buf[52:56], holeLocation)
	binary.LittleEndian.PutUint32(buf[56:60], holeSize)
}
