package refpack

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/goopsie/dbpfrecompress/internal/bitio"
)

func TestCompressDecompressRoundTrip(t *testing.T) {
	cases := map[string][]byte{
		"Zeros4096":      make([]byte, 4096),
		"RepeatingShort": bytes.Repeat([]byte("ab"), 100),
		"RepeatingLong":  bytes.Repeat([]byte("the quick brown fox "), 2000),
		"Text":           []byte("the quick brown fox jumps over the lazy dog, again and again and again"),
	}

	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			comp, ok := Compress(src)
			if !ok {
				t.Skipf("%s did not compress smaller", name)
			}

			dec, err := Decompress(comp)
			if err != nil {
				t.Fatalf("decompress: %v", err)
			}
			if !bytes.Equal(dec, src) {
				t.Fatalf("decompress(compress(x)) != x: got %d bytes, want %d", len(dec), len(src))
			}
		})
	}
}

func TestCompressFramingHeader(t *testing.T) {
	src := make([]byte, 4096)

	comp, ok := Compress(src)
	if !ok {
		t.Fatal("expected 4096 zero bytes to compress")
	}
	if len(comp) >= len(src) {
		t.Fatalf("compressed size %d not smaller than input %d", len(comp), len(src))
	}
	if comp[4] != 0x10 || comp[5] != 0xFB {
		t.Fatalf("framing signature = %x %x, want 10 fb", comp[4], comp[5])
	}

	hdr, err := ParseHeader(comp)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if hdr.UncompressedSize != uint32(len(src)) {
		t.Errorf("UncompressedSize = %d, want %d", hdr.UncompressedSize, len(src))
	}
	if hdr.CompressedSize != uint32(len(comp)) {
		t.Errorf("CompressedSize = %d, want %d", hdr.CompressedSize, len(comp))
	}

	pos := 0
	want := bitio.ReadU24BE([]byte{0x00, 0x10, 0x00}, &pos)
	if hdr.UncompressedSize != want {
		t.Errorf("UncompressedSize = %d, want %d (0x001000)", hdr.UncompressedSize, want)
	}
	if comp[6] != 0x00 || comp[7] != 0x10 || comp[8] != 0x00 {
		t.Errorf("uncompressedSize bytes = %x %x %x, want 00 10 00", comp[6], comp[7], comp[8])
	}
}

func TestCompressIncompressible(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	src := make([]byte, 64)
	r.Read(src)

	if _, ok := Compress(src); ok {
		t.Error("expected random 64-byte payload to be reported incompressible")
	}
}

func TestCompressTooShort(t *testing.T) {
	if _, ok := Compress([]byte{1, 2, 3}); ok {
		t.Error("expected inputs shorter than 4 bytes to be rejected")
	}
}

func TestDecompressBackReferenceOverlap(t *testing.T) {
	// plain=1, count=7, offset=1: one literal byte 'A' followed by a short
	// family back-reference that must produce 7 repeats of it.
	stream := []byte{
		0x11, 0x00, // opcode: plain=1, count=7, offset=1
		'A',
		0xFC, // terminator, 0 trailing literals
	}

	buf := make([]byte, FrameHeaderSize+len(stream))
	pos := 0
	bitio.WriteU32LE(buf, &pos, uint32(len(buf)))
	buf[4] = 0x10
	buf[5] = 0xFB
	pos = 6
	bitio.WriteU24BE(buf, &pos, 8)
	copy(buf[FrameHeaderSize:], stream)

	dec, err := Decompress(buf)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	want := bytes.Repeat([]byte("A"), 8)
	if !bytes.Equal(dec, want) {
		t.Fatalf("got %q, want %q", dec, want)
	}
}

func TestDecompressCorruptStream(t *testing.T) {
	buf := make([]byte, FrameHeaderSize+1)
	pos := 0
	bitio.WriteU32LE(buf, &pos, uint32(len(buf)))
	buf[4] = 0x10
	buf[5] = 0xFB
	pos = 6
	bitio.WriteU24BE(buf, &pos, 100) // declared size the opcode stream cannot reach
	buf[FrameHeaderSize] = 0xFC      // terminator with no literals, produces 0 bytes

	if _, err := Decompress(buf); err != ErrCorruptStream {
		t.Errorf("got %v, want ErrCorruptStream", err)
	}
}

func TestIsCompressed(t *testing.T) {
	if IsCompressed([]byte{0, 0, 0, 0, 0, 0}) {
		t.Error("short buffer must not report compressed")
	}
	buf := make([]byte, FrameHeaderSize)
	buf[4] = 0x10
	buf[5] = 0xFB
	if !IsCompressed(buf) {
		t.Error("expected valid framing header to report compressed")
	}
}
