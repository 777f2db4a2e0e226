// Package refpack implements EA's RefPack/QFS block compression codec: a
// byte-oriented LZ77 variant with three back-reference opcode families plus
// a literal-run opcode and a terminator, framed by a 9-byte header.
package refpack

import (
	"errors"

	"github.com/goopsie/dbpfrecompress/internal/bitio"
)

const (
	sigByte0 = 0x10
	sigByte1 = 0xFB

	// FrameHeaderSize is the length of the framing header prefixed to every
	// compressed payload: compressedSize (u32 LE) | 0x10 0xFB | uncompressedSize (u24 BE).
	FrameHeaderSize = 9

	minMatchMedium = 4
	minMatchLong   = 5

	maxOffsetShort  = 1024
	maxOffsetMedium = 16384
	maxOffsetLong   = 131072

	maxCopyShort  = 10
	maxCopyMedium = 67
	maxCopyLong   = 1028

	// maxLiteralOpcode is the largest literal run the 0xE0-0xFB family can
	// encode. The opcode byte is 0xE0 + (run/4 - 1); run=112 lands on 0xFB,
	// the top of the family's range. A larger run would spill into the
	// 0xFC-0xFF terminator family.
	maxLiteralOpcode = 112
)

// ErrCorruptStream is returned by Decompress when an opcode reads past the
// input, a back-reference reads before the start of the output, or the
// decoded length does not match the size declared in the framing header.
var ErrCorruptStream = errors.New("refpack: corrupted stream")

// Header reports the framing header fields of a compressed payload without
// decompressing it.
type Header struct {
	CompressedSize   uint32
	UncompressedSize uint32
}

// IsCompressed reports whether buf begins with a valid RefPack framing
// header (bytes 4-5 equal to the 0x10 0xFB signature).
func IsCompressed(buf []byte) bool {
	return len(buf) >= FrameHeaderSize && buf[4] == sigByte0 && buf[5] == sigByte1
}

// ParseHeader reads the 9-byte framing header from buf.
func ParseHeader(buf []byte) (Header, error) {
	if !IsCompressed(buf) {
		return Header{}, ErrCorruptStream
	}
	pos := 0
	compressedSize := bitio.ReadU32LE(buf, &pos)
	pos = 6
	uncompressedSize := bitio.ReadU24BE(buf, &pos)
	return Header{CompressedSize: compressedSize, UncompressedSize: uncompressedSize}, nil
}

// Decompress decodes a RefPack/QFS compressed payload, including its 9-byte
// framing header, returning the decompressed bytes.
func Decompress(src []byte) ([]byte, error) {
	hdr, err := ParseHeader(src)
	if err != nil {
		return nil, err
	}

	dst := make([]byte, hdr.UncompressedSize)
	srcPos := FrameHeaderSize
	dstPos := 0

	for srcPos < len(src) {
		b0 := int(src[srcPos])
		srcPos++

		var plain, count, offset int

		switch {
		case b0 < 0x80:
			if srcPos+1 > len(src) {
				return nil, ErrCorruptStream
			}
			b1 := int(src[srcPos])
			srcPos++
			plain = b0 & 0x03
			count = ((b0 >> 2) & 0x07) + 3
			offset = ((b0 & 0x60) << 3) + b1 + 1

		case b0 < 0xC0:
			if srcPos+2 > len(src) {
				return nil, ErrCorruptStream
			}
			b1 := int(src[srcPos])
			b2 := int(src[srcPos+1])
			srcPos += 2
			plain = (b1 >> 6) & 0x03
			count = (b0 & 0x3F) + 4
			offset = ((b1 & 0x3F) << 8) + b2 + 1

		case b0 < 0xE0:
			if srcPos+3 > len(src) {
				return nil, ErrCorruptStream
			}
			b1 := int(src[srcPos])
			b2 := int(src[srcPos+1])
			b3 := int(src[srcPos+2])
			srcPos += 3
			plain = b0 & 0x03
			count = ((b0 & 0x0C) << 6) + b3 + 5
			offset = ((b0 & 0x10) << 12) + (b1 << 8) + b2 + 1

		case b0 < 0xFC:
			plain = ((b0 & 0x1F) << 2) + 4
			count = 0
			offset = 0

		default:
			plain = b0 & 0x03
			count = 0
			offset = 0
		}

		if srcPos+plain > len(src) || dstPos+plain+count > len(dst) {
			return nil, ErrCorruptStream
		}

		copy(dst[dstPos:dstPos+plain], src[srcPos:srcPos+plain])
		srcPos += plain
		dstPos += plain

		if count > 0 {
			if offset > dstPos {
				return nil, ErrCorruptStream
			}
			// Copied one byte at a time: offset may be smaller than count,
			// and later bytes must see earlier bytes this same loop wrote
			// so overlapping copies build a repeating pattern.
			from := dstPos - offset
			for i := 0; i < count; i++ {
				dst[dstPos+i] = dst[from+i]
			}
			dstPos += count
		}
	}

	if dstPos != int(hdr.UncompressedSize) {
		return nil, ErrCorruptStream
	}

	return dst, nil
}

// match describes a back-reference found by findMatches: count bytes
// starting at pos in src can be reproduced by copying from pos-offset.
type match struct {
	pos    int
	length int
	offset int
}

// findMatches runs a hash-chain search over src for the longest match at
// each candidate position, honoring the per-family minimum length and
// maximum offset bounds, and returns them in position order with no
// overlaps.
func findMatches(src []byte) []match {
	if len(src) < 3 {
		return nil
	}

	dict := make(map[[3]byte][]int)
	for i := 0; i+3 <= len(src); i++ {
		var key [3]byte
		copy(key[:], src[i:i+3])
		dict[key] = append(dict[key], i)
	}

	var matches []match

	for i := 1; i+3 <= len(src); {
		var key [3]byte
		copy(key[:], src[i:i+3])
		locations := dict[key]
		if len(locations) <= 1 {
			i++
			continue
		}

		minPos := i - maxOffsetLong
		start := 0
		if minPos > 0 {
			lo, hi := 0, len(locations)-1
			for lo < hi {
				mid := (lo + hi) / 2
				if locations[mid] > minPos {
					hi = mid
				} else {
					lo = mid + 1
				}
			}
			start = lo
		}

		var best match
		found := false

		for idx := start; idx < len(locations) && locations[idx] < i; idx++ {
			j := locations[idx]
			length := 3
			for i+length < len(src) && src[i+length] == src[j+length] && length < maxCopyLong {
				length++
			}
			offset := i - j

			fits := offset <= maxOffsetShort ||
				(offset <= maxOffsetMedium && length >= minMatchMedium) ||
				(offset <= maxOffsetLong && length >= minMatchLong)

			if fits && length >= best.length {
				best = match{pos: i, length: length, offset: offset}
				found = true
				if best.length == maxCopyLong {
					break
				}
			}

			if i+length == len(src) {
				break
			}
		}

		if found {
			matches = append(matches, best)
			i += best.length
		} else {
			i++
		}
	}

	return matches
}

// Compress attempts to RefPack/QFS-encode src, including the 9-byte framing
// header. It returns false if the encoded form would not be strictly
// smaller than src; the caller must then store src uncompressed.
func Compress(src []byte) ([]byte, bool) {
	if len(src) < 4 {
		return nil, false
	}

	matches := findMatches(src)

	dst := make([]byte, len(src)-1)
	srcPos := 0
	dstPos := FrameHeaderSize

	emitLiterals := func(n int) bool {
		for n > 3 {
			run := n - n%4
			if run > maxLiteralOpcode {
				run = maxLiteralOpcode
			}
			if dstPos+1+run > len(dst) {
				return false
			}
			dst[dstPos] = byte(0xE0 + (run>>2 - 1))
			dstPos++
			copy(dst[dstPos:dstPos+run], src[srcPos:srcPos+run])
			srcPos += run
			dstPos += run
			n -= run
		}
		return true
	}

	for _, m := range matches {
		if !emitLiterals(m.pos - srcPos) {
			return nil, false
		}

		plain := m.pos - srcPos
		count := m.length
		offset := m.offset - 1

		switch {
		case count <= maxCopyShort && offset < maxOffsetShort:
			if dstPos+plain+2 > len(dst) {
				return nil, false
			}
			dst[dstPos] = byte(((offset>>3)&0x60) + ((count-3)<<2) + plain)
			dst[dstPos+1] = byte(offset)
			dstPos += 2

		case count <= maxCopyMedium && offset < maxOffsetMedium:
			if dstPos+plain+3 > len(dst) {
				return nil, false
			}
			dst[dstPos] = byte(0x80 + (count - 4))
			dst[dstPos+1] = byte((plain << 6) + (offset >> 8))
			dst[dstPos+2] = byte(offset)
			dstPos += 3

		case count <= maxCopyLong && offset < maxOffsetLong:
			if dstPos+plain+4 > len(dst) {
				return nil, false
			}
			dst[dstPos] = byte(0xC0 + ((offset>>12)&0x10) + (((count-5)>>6)&0x0C) + plain)
			dst[dstPos+1] = byte(offset >> 8)
			dst[dstPos+2] = byte(offset)
			dst[dstPos+3] = byte(count - 5)
			dstPos += 4

		default:
			return nil, false
		}

		if plain > 0 {
			copy(dst[dstPos:dstPos+plain], src[srcPos:srcPos+plain])
			dstPos += plain
		}
		srcPos += plain + count
	}

	if !emitLiterals(len(src) - srcPos) {
		return nil, false
	}

	tail := len(src) - srcPos
	if dstPos+1+tail > len(dst) {
		return nil, false
	}
	dst[dstPos] = byte(0xFC + tail)
	dstPos++
	copy(dst[dstPos:dstPos+tail], src[srcPos:srcPos+tail])
	dstPos += tail

	pos := 0
	bitio.WriteU32LE(dst, &pos, uint32(dstPos))
	dst[4] = sigByte0
	dst[5] = sigByte1
	pos = 6
	bitio.WriteU24BE(dst, &pos, uint32(len(src)))

	return dst[:dstPos], true
}
