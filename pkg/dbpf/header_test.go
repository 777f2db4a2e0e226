package dbpf

import "testing"

func TestHeaderEncodeDecodeRoundTrip(t *testing.T) {
	h := Header{
		MajorVersion:        1,
		MinorVersion:        2,
		MajorUserVersion:    3,
		MinorUserVersion:    4,
		Flags:               5,
		CreatedDate:         6,
		ModifiedDate:        7,
		IndexMajorVersion:   7,
		IndexEntryCount:     8,
		IndexLocation:       9,
		IndexSize:           10,
		HoleIndexEntryCount: 1,
		HoleIndexLocation:   11,
		HoleIndexSize:       8,
		IndexMinorVersion:   2,
	}
	copy(h.Remainder[:], []byte("some trailing bytes preserved!!"))

	buf := make([]byte, HeaderSize)
	h.EncodeTo(buf)

	got, err := DecodeFrom(buf)
	if err != nil {
		t.Fatalf("DecodeFrom: %v", err)
	}
	if got != h {
		t.Errorf("round trip mismatch:\n got  %+v\n want %+v", got, h)
	}
}

func TestHeaderValidate(t *testing.T) {
	base := Header{MajorVersion: 1, MinorVersion: 2, IndexMajorVersion: 7, IndexMinorVersion: 2}
	if err := base.Validate(); err != nil {
		t.Fatalf("expected valid header, got %v", err)
	}

	cases := []Header{
		{MajorVersion: 2, IndexMajorVersion: 7},
		{MajorVersion: 1, MinorVersion: 3, IndexMajorVersion: 7},
		{MajorVersion: 1, IndexMajorVersion: 6},
		{MajorVersion: 1, IndexMajorVersion: 7, IndexMinorVersion: 3},
	}
	for i, h := range cases {
		if err := h.Validate(); err == nil {
			t.Errorf("case %d: expected error, got nil", i)
		}
	}
}

func TestHeaderIndexStride(t *testing.T) {
	if (&Header{IndexMinorVersion: 2}).IndexStride() != 24 {
		t.Error("v2 index stride should be 24")
	}
	if (&Header{IndexMinorVersion: 0}).IndexStride() != 20 {
		t.Error("non-v2 index stride should be 20")
	}
}

func TestDecodeFromRejectsBadMagicAndShortBuffer(t *testing.T) {
	if _, err := DecodeFrom(make([]byte, 10)); err == nil {
		t.Error("expected error for short buffer")
	}

	buf := make([]byte, HeaderSize)
	copy(buf[0:4], []byte("XXXX"))
	if _, err := DecodeFrom(buf); err == nil {
		t.Error("expected error for bad magic")
	}
}

func TestPatchIndexFieldsLeavesOtherBytesAlone(t *testing.T) {
	buf := make([]byte, HeaderSize)
	for i := range buf {
		buf[i] = 0xAA
	}
	patchIndexFields(buf, 1, 2, 3, 4, 5, 6)

	for i := 0; i < 36; i++ {
		if buf[i] != 0xAA {
			t.Fatalf("byte %d was touched by patchIndexFields", i)
		}
	}
	for i := 60; i < HeaderSize; i++ {
		if buf[i] != 0xAA {
			t.Fatalf("byte %d was touched by patchIndexFields", i)
		}
	}
}
