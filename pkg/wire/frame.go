// Package wire implements RFT's binary wire format: message frames,
// transport TLVs, application TLVs, and the FNV-1a32 frame checksum.
// Explicit header fields, a checksum trailer, and a symmetric
// Serialize/Deserialize pair, sequenced as a TLV stream rather than a
// single fixed struct.
package wire

import (
	"encoding/binary"
)

// ProtocolVersion is the RFT wire version this codec implements.
const ProtocolVersion uint8 = 2

// MaxFrameSize is the largest datagram RFT will attempt to send or parse.
const MaxFrameSize = 9000

// ContentChunkSize is the number of file bytes carried per content chunk.
const ContentChunkSize = 512

// MessageFrame is the outermost unit of every RFT UDP datagram.
type MessageFrame struct {
	Version   uint8
	SessionID uint64
	TLVs      []TransportTLV
}

// Serialize renders f into bytes ready to hand to a UDP socket, appending
// the trailing FNV-1a32 checksum over everything preceding it.
func (f *MessageFrame) Serialize() ([]byte, error) {
	if len(f.TLVs) > 255 {
		return nil, &ParseError{Stage: "frame", Err: errTooManyTLVs}
	}
	buf := make([]byte, 0, 1+8+1+64)
	buf = append(buf, f.Version)
	buf = binary.BigEndian.AppendUint64(buf, f.SessionID)
	buf = append(buf, byte(len(f.TLVs)))
	for _, t := range f.TLVs {
		buf = append(buf, encodeTransportTLV(t)...)
	}
	sum := checksum(buf)
	buf = binary.BigEndian.AppendUint32(buf, sum)
	return buf, nil
}

var errTooManyTLVs = parseErrf("frame", "more than 255 transport TLVs").Err

// ParseMessageFrame parses a received datagram into a MessageFrame. A frame
// whose trailing checksum does not match the computed value over the
// preceding bytes is rejected as a whole; the caller is expected to drop it
// and continue.
func ParseMessageFrame(data []byte) (*MessageFrame, error) {
	const minLen = 1 + 8 + 1 + 4
	if len(data) < minLen {
		return nil, parseErrf("frame", "frame too small: %d bytes", len(data))
	}

	bodyEnd := len(data) - 4
	wantSum := binary.BigEndian.Uint32(data[bodyEnd:])
	gotSum := checksum(data[:bodyEnd])
	if gotSum != wantSum {
		return nil, parseErrf("frame.checksum", "checksum mismatch: got %#x, want %#x", gotSum, wantSum)
	}

	version := data[0]
	sessionID := binary.BigEndian.Uint64(data[1:9])
	count := int(data[9])

	off := 10
	tlvs := make([]TransportTLV, 0, count)
	for i := 0; i < count; i++ {
		tag, body, next, err := decodeTLVHeader(data[:bodyEnd], off)
		if err != nil {
			return nil, err
		}
		tlv, err := decodeTransportTLV(tag, body)
		if err != nil {
			return nil, err
		}
		tlvs = append(tlvs, tlv)
		off = next
	}
	if off != bodyEnd {
		return nil, parseErrf("frame", "%d trailing bytes after %d TLVs", bodyEnd-off, count)
	}

	return &MessageFrame{Version: version, SessionID: sessionID, TLVs: tlvs}, nil
}
