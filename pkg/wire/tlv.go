package wire

// Shared TLV envelope helpers. Every TLV — transport or application — is
// framed identically: type (u8), length (u16, network order), body. The
// length is computed by serializing the body into a local buffer first,
// then prefixing it — no Seek on the output cursor, and it composes with
// streaming writers.

import "encoding/binary"

func encodeTLV(tag byte, body []byte) []byte {
	out := make([]byte, 0, 3+len(body))
	out = append(out, tag)
	out = binary.BigEndian.AppendUint16(out, uint16(len(body)))
	out = append(out, body...)
	return out
}

// decodeTLVHeader reads a tag + length header at offset and returns the tag,
// the body slice, and the offset of the byte following the body.
func decodeTLVHeader(buf []byte, offset int) (tag byte, body []byte, next int, err error) {
	if offset+3 > len(buf) {
		return 0, nil, 0, parseErrf("tlv-header", "truncated TLV header at offset %d", offset)
	}
	tag = buf[offset]
	length := binary.BigEndian.Uint16(buf[offset+1 : offset+3])
	start := offset + 3
	end := start + int(length)
	if end > len(buf) {
		return 0, nil, 0, parseErrf("tlv-body", "TLV at offset %d announces length %d but only %d bytes remain", offset, length, len(buf)-start)
	}
	return tag, buf[start:end], end, nil
}
