package dbpf

// Key is the TGIR (type, group, instance, resource) tuple identifying a
// resource. Resource is meaningful only when the archive's
// IndexMinorVersion is 2; otherwise it is forced to 0. Key is comparable
// and can be used directly as a map key, which gives it a well-distributed
// hash over all four fields for free instead of the XOR-of-four-words hash
// the original tool used (see DESIGN.md).
type Key struct {
	Type     uint32
	Group    uint32
	Instance uint32
	Resource uint32
}

// Entry describes one resource listed in an archive's index.
type Entry struct {
	Key Key

	// Location and Size are the resource's byte offset and length within
	// the archive.
	Location uint32
	Size     uint32

	// UncompressedSize is only meaningful when Compressed is true; it is
	// read from (and, on write, mirrored into) the CLST directory entry.
	UncompressedSize uint32

	// Compressed reports whether this entry's TGIR is present in the
	// directory of compressed resources.
	Compressed bool

	// Repeated reports whether another entry with the same Key exists in
	// the same archive. Repeated entries are never re-compressed: their
	// payloads may alias or differ, so the writer cannot assume they are
	// interchangeable.
	Repeated bool
}

// Hole is a (location, size) record identifying space the game ignores.
type Hole struct {
	Location uint32
	Size     uint32
}

// Mode selects how the writer transforms each entry's payload.
type Mode int

const (
	// Recompress decompresses then recompresses every eligible entry,
	// keeping whichever form is smaller, and stamps the result with the
	// tool's signature hole.
	Recompress Mode = iota
	// Decompress strips compression from every entry, leaving the archive
	// fully decompressed.
	Decompress
	// Skip performs no transform; the orchestrator handles this mode
	// without invoking the writer at all.
	Skip
)

func (m Mode) String() string {
	switch m {
	case Recompress:
		return "recompress"
	case Decompress:
		return "decompress"
	case Skip:
		return "skip"
	default:
		return "unknown"
	}
}

// Archive is a fully parsed (or, when Unpacked is false, rejected) DBPF
// package: its header, resource entries, holes, and the set of TGIRs the
// CLST directory reports as compressed.
type Archive struct {
	Header Header

	Entries []Entry
	Holes   []Hole

	// CompressedDir maps the Key of every entry the CLST directory lists
	// as compressed to its declared uncompressed size.
	CompressedDir map[Key]uint32

	// SignaturePresent is true when the archive carries exactly one
	// 8-byte hole matching this tool's signature word and an accurate
	// self-reported file size — the in-hole skip-optimization marker.
	SignaturePresent bool

	// Unpacked is true only for archives the reader successfully parsed.
	// A sentinel Archive with Unpacked false is returned (alongside a
	// descriptive error) on any parse rejection.
	Unpacked bool
}
