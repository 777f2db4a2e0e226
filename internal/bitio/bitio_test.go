package bitio

import "testing"

func TestU32LERoundTrip(t *testing.T) {
	t.Run("RoundTrip", func(t *testing.T) {
		buf := make([]byte, 8)
		pos := 2
		WriteU32LE(buf, &pos, 0xdeadbeef)
		if pos != 6 {
			t.Fatalf("pos = %d, want 6", pos)
		}

		pos = 2
		got := ReadU32LE(buf, &pos)
		if got != 0xdeadbeef {
			t.Errorf("got %#x, want %#x", got, uint32(0xdeadbeef))
		}
		if pos != 6 {
			t.Fatalf("pos = %d, want 6", pos)
		}
	})

	t.Run("Zero", func(t *testing.T) {
		buf := []byte{0, 0, 0, 0}
		pos := 0
		if got := ReadU32LE(buf, &pos); got != 0 {
			t.Errorf("got %d, want 0", got)
		}
	})
}

func TestU24BERoundTrip(t *testing.T) {
	cases := []uint32{0, 1, 0xFF, 0x1000, 0xFFFFFF}

	for _, want := range cases {
		buf := make([]byte, 3)
		pos := 0
		WriteU24BE(buf, &pos, want)
		if pos != 3 {
			t.Fatalf("pos = %d, want 3", pos)
		}

		pos = 0
		got := ReadU24BE(buf, &pos)
		if got != want {
			t.Errorf("ReadU24BE(WriteU24BE(%d)) = %d", want, got)
		}
	}
}

func TestU24BEBigEndianLayout(t *testing.T) {
	// 0x001000 -> the framing header example from the RefPack spec: a 4096
	// byte block compresses to a header with uncompressedSize bytes
	// 0x00, 0x10, 0x00.
	buf := make([]byte, 3)
	pos := 0
	WriteU24BE(buf, &pos, 4096)

	want := []byte{0x00, 0x10, 0x00}
	for i := range want {
		if buf[i] != want[i] {
			t.Errorf("buf[%d] = %#x, want %#x", i, buf[i], want[i])
		}
	}
}
