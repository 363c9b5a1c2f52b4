package wire

// LEB128 variable-length integer encoding, used throughout RFT's transport
// and application TLVs for lengths, windows, object/chunk identifiers.
// Unsigned values (lengths, windows, num_chunks) use the unsigned form;
// chunk_id uses the zigzag-mapped form (putVarint/readVarint) so that -1
// (the object header) round-trips.

import (
	"fmt"
	"unicode/utf8"
)

// putUvarint appends the LEB128 unsigned encoding of v to buf.
func putUvarint(buf []byte, v uint64) []byte {
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}

// readUvarint reads a LEB128 unsigned integer from buf starting at offset,
// returning the value and the number of bytes consumed.
func readUvarint(buf []byte, offset int) (uint64, int, error) {
	var result uint64
	var shift uint
	i := offset
	for {
		if i >= len(buf) {
			return 0, 0, fmt.Errorf("wire: truncated uvarint at offset %d", offset)
		}
		b := buf[i]
		i++
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
		if shift > 63 {
			return 0, 0, fmt.Errorf("wire: uvarint overflow at offset %d", offset)
		}
	}
	return result, i - offset, nil
}

// putVarint appends v to buf zigzag-mapped ((v<<1)^(v>>63)) and then
// LEB128-unsigned encoded; this is not the two's-complement signed LEB128
// form (e.g. -1 encodes as 0x01, not 0x7F).
func putVarint(buf []byte, v int64) []byte {
	uv := uint64(v) << 1
	if v < 0 {
		uv = ^uv
	}
	return putUvarint(buf, uv)
}

// readVarint reads a signed integer written by putVarint (zigzag-mapped,
// LEB128-unsigned encoded) from buf starting at offset.
func readVarint(buf []byte, offset int) (int64, int, error) {
	uv, n, err := readUvarint(buf, offset)
	if err != nil {
		return 0, 0, err
	}
	v := int64(uv >> 1)
	if uv&1 != 0 {
		v = ^v
	}
	return v, n, nil
}

// putString appends a LEB128-length-prefixed UTF-8 string to buf.
func putString(buf []byte, s string) []byte {
	buf = putUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

// readString reads a LEB128-length-prefixed UTF-8 string from buf at offset.
func readString(buf []byte, offset int) (string, int, error) {
	n, consumed, err := readUvarint(buf, offset)
	if err != nil {
		return "", 0, err
	}
	start := offset + consumed
	end := start + int(n)
	if end > len(buf) {
		return "", 0, fmt.Errorf("wire: string length %d exceeds remaining buffer", n)
	}
	s := string(buf[start:end])
	if !utf8.ValidString(s) {
		return "", 0, fmt.Errorf("wire: invalid UTF-8 in string field")
	}
	return s, consumed + int(n), nil
}
