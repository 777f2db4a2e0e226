// Package bitio provides little-endian 32-bit and big-endian 24-bit integer
// readers/writers over a byte buffer with an advancing cursor. These are the
// primitives the DBPF container and RefPack framing header are built from.
package bitio

import "encoding/binary"

// ReadU32LE reads a little-endian uint32 from buf at *pos and advances *pos
// by 4. The caller is responsible for ensuring buf[*pos:*pos+4] is in bounds.
func ReadU32LE(buf []byte, pos *int) uint32 {
	v := binary.LittleEndian.Uint32(buf[*pos : *pos+4])
	*pos += 4
	return v
}

// WriteU32LE writes v to buf at *pos as a little-endian uint32 and advances
// *pos by 4.
func WriteU32LE(buf []byte, pos *int, v uint32) {
	binary.LittleEndian.PutUint32(buf[*pos:*pos+4], v)
	*pos += 4
}

// ReadU24BE reads a big-endian 24-bit integer from buf at *pos and advances
// *pos by 3. This layout is unique to the RefPack framing header; the rest
// of the format is little-endian.
func ReadU24BE(buf []byte, pos *int) uint32 {
	b := buf[*pos : *pos+3]
	v := uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
	*pos += 3
	return v
}

// WriteU24BE writes the low 24 bits of v to buf at *pos as big-endian and
// advances *pos by 3.
func WriteU24BE(buf []byte, pos *int, v uint32) {
	buf[*pos] = byte(v >> 16)
	buf[*pos+1] = byte(v >> 8)
	buf[*pos+2] = byte(v)
	*pos += 3
}
