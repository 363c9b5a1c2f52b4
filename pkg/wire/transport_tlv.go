package wire

import "encoding/binary"

// TransportTag identifies the kind of a TransportTLV by its leading type
// byte.
type TransportTag uint8

const (
	TagObjectAck        TransportTag = 0x30
	TagErrorMessage     TransportTag = 0x31
	TagObjectAckRequest TransportTag = 0x32
	TagHostInformation  TransportTag = 0x50
	TagObjectHeader     TransportTag = 0x51
	TagObjectChunk      TransportTag = 0x52
	TagObjectSkip       TransportTag = 0x53
)

// TransportTLV is implemented by every transport-level record carried in a
// MessageFrame.
type TransportTLV interface {
	Tag() TransportTag
	encodeBody() []byte
}

func encodeTransportTLV(t TransportTLV) []byte {
	return encodeTLV(byte(t.Tag()), t.encodeBody())
}

func decodeTransportTLV(tag byte, body []byte) (TransportTLV, error) {
	switch TransportTag(tag) {
	case TagHostInformation:
		return decodeHostInformation(body)
	case TagObjectHeader:
		return decodeObjectHeader(body)
	case TagObjectChunk:
		return decodeObjectChunk(body)
	case TagObjectSkip:
		return decodeObjectSkip(body)
	case TagObjectAck:
		return decodeObjectAckList(body, TagObjectAck)
	case TagObjectAckRequest:
		return decodeObjectAckList(body, TagObjectAckRequest)
	case TagErrorMessage:
		return decodeErrorMessage(body)
	default:
		return nil, parseErrf("transport-tlv", "unknown message type code %d", tag)
	}
}

// AckFrequency controls how eagerly a peer is asked to batch ObjectAck TLVs.
type AckFrequency uint8

const (
	AckFrequencyDefault AckFrequency = 0
	AckFrequencyMin     AckFrequency = 1
	AckFrequencyMax     AckFrequency = 2
)

// HostOS identifies the peer's operating system family, advertised purely
// for diagnostics.
type HostOS uint8

const (
	HostOSUnknown HostOS = 0
	HostOSLinux   HostOS = 1
	HostOSDarwin  HostOS = 2
	HostOSWindows HostOS = 3
	HostOSOther   HostOS = 255
)

// HostInformation is exchanged during the handshake. FECDataShards/
// FECParityShards are RFT's additive FEC negotiation fields; 0,0 means FEC
// is disabled. They're encoded as trailing optional bytes so an older
// peer's shorter body still decodes.
type HostInformation struct {
	ReceiveWindow   uint64
	OutOfOrderLimit uint8
	AckFrequency    AckFrequency
	OS              HostOS
	AppID           uint8
	AppVersion      uint8
	FECDataShards   uint8
	FECParityShards uint8
}

func (HostInformation) Tag() TransportTag { return TagHostInformation }

func (h HostInformation) encodeBody() []byte {
	var buf []byte
	buf = putUvarint(buf, h.ReceiveWindow)
	buf = append(buf, h.OutOfOrderLimit, byte(h.AckFrequency), byte(h.OS), h.AppID, h.AppVersion)
	buf = append(buf, h.FECDataShards, h.FECParityShards)
	return buf
}

func decodeHostInformation(body []byte) (*HostInformation, error) {
	window, n, err := readUvarint(body, 0)
	if err != nil {
		return nil, parseErrf("host-information.receive-window", "%w", err)
	}
	off := n
	need := func(k int) bool { return off+k <= len(body) }
	if !need(5) {
		return nil, parseErrf("host-information", "body too short")
	}
	h := &HostInformation{
		ReceiveWindow:   window,
		OutOfOrderLimit: body[off],
		AckFrequency:    AckFrequency(body[off+1]),
		OS:              HostOS(body[off+2]),
		AppID:           body[off+3],
		AppVersion:      body[off+4],
	}
	off += 5
	// Additive FEC fields: absent (older peer) defaults to disabled.
	if off+2 <= len(body) {
		h.FECDataShards = body[off]
		h.FECParityShards = body[off+1]
		off += 2
	}
	if off != len(body) {
		return nil, parseErrf("host-information", "%d trailing bytes unconsumed", len(body)-off)
	}
	return h, nil
}

// ObjectField describes one field of an object's header: its type tag and
// how many chunks it occupies in the chunk stream.
type ObjectField struct {
	FieldType byte
	Length    int64
}

// ObjectHeader announces a new object and its field layout. It is always the chunk_id == -1 frame for the object.
type ObjectHeader struct {
	ObjectID    uint64
	NumChunks   int64
	AckRequired bool
	ObjectType  byte
	Fields      []ObjectField
}

func (ObjectHeader) Tag() TransportTag { return TagObjectHeader }

func (h ObjectHeader) encodeBody() []byte {
	var buf []byte
	buf = putUvarint(buf, h.ObjectID)
	buf = putUvarint(buf, uint64(h.NumChunks))
	var flags byte
	if h.AckRequired {
		flags |= 0x80
	}
	buf = append(buf, flags, h.ObjectType, byte(len(h.Fields)))
	for _, f := range h.Fields {
		buf = append(buf, f.FieldType)
		buf = putUvarint(buf, uint64(f.Length))
	}
	return buf
}

func decodeObjectHeader(body []byte) (*ObjectHeader, error) {
	off := 0
	objID, n, err := readUvarint(body, off)
	if err != nil {
		return nil, parseErrf("object-header.object-id", "%w", err)
	}
	off += n
	numChunks, n, err := readUvarint(body, off)
	if err != nil {
		return nil, parseErrf("object-header.num-chunks", "%w", err)
	}
	off += n
	if off+3 > len(body) {
		return nil, parseErrf("object-header", "truncated header")
	}
	flags := body[off]
	objType := body[off+1]
	numFields := int(body[off+2])
	off += 3

	fields := make([]ObjectField, 0, numFields)
	var sum int64
	for i := 0; i < numFields; i++ {
		if off+1 > len(body) {
			return nil, parseErrf("object-header.fields", "truncated field %d", i)
		}
		ft := body[off]
		off++
		length, n, err := readUvarint(body, off)
		if err != nil {
			return nil, parseErrf("object-header.fields", "%w", err)
		}
		off += n
		fields = append(fields, ObjectField{FieldType: ft, Length: int64(length)})
		sum += int64(length)
	}
	if off != len(body) {
		return nil, parseErrf("object-header", "%d trailing bytes unconsumed", len(body)-off)
	}
	if sum != int64(numChunks) {
		return nil, parseErrf("object-header", "sum(fields.length)=%d does not match declared num_chunks=%d", sum, numChunks)
	}
	return &ObjectHeader{
		ObjectID:    objID,
		NumChunks:   int64(numChunks),
		AckRequired: flags&0x80 != 0,
		ObjectType:  objType,
		Fields:      fields,
	}, nil
}

// maxChunkPayload is the largest payload an ObjectChunk can carry: the
// packed size field is 11 bits encoding (size+1), so size maxes out at
// 2^11-1 - 1 = 2046 bytes.
const maxChunkPayload = (1 << 11) - 1 - 1

// ObjectChunk carries one chunk of an object's field stream.
type ObjectChunk struct {
	ObjectID        uint64
	ChunkID         int64
	MoreChunks      bool
	AckRequired     bool
	NumEnclosedMsgs uint8
	Data            []byte
}

func (ObjectChunk) Tag() TransportTag { return TagObjectChunk }

func (c ObjectChunk) encodeBody() []byte {
	var buf []byte
	buf = putUvarint(buf, c.ObjectID)
	buf = putVarint(buf, c.ChunkID)

	size := len(c.Data) + 1
	var word uint16
	if c.MoreChunks {
		word |= 1 << 15
	}
	if c.AckRequired {
		word |= 1 << 14
	}
	word |= uint16(size) & 0x7FF
	buf = binary.BigEndian.AppendUint16(buf, word)
	buf = append(buf, c.NumEnclosedMsgs)
	buf = append(buf, c.Data...)
	return buf
}

func decodeObjectChunk(body []byte) (*ObjectChunk, error) {
	off := 0
	objID, n, err := readUvarint(body, off)
	if err != nil {
		return nil, parseErrf("object-chunk.object-id", "%w", err)
	}
	off += n
	chunkID, n, err := readVarint(body, off)
	if err != nil {
		return nil, parseErrf("object-chunk.chunk-id", "%w", err)
	}
	off += n
	if off+3 > len(body) {
		return nil, parseErrf("object-chunk", "truncated chunk flags/count")
	}
	word := binary.BigEndian.Uint16(body[off : off+2])
	off += 2
	numEnclosed := body[off]
	off++

	size := int(word & 0x7FF)
	if size < 1 {
		return nil, parseErrf("object-chunk", "invalid packed size field %d", size)
	}
	dataLen := size - 1
	if off+dataLen != len(body) {
		return nil, parseErrf("object-chunk", "declared payload size %d does not match remaining %d bytes", dataLen, len(body)-off)
	}
	data := make([]byte, dataLen)
	copy(data, body[off:])

	return &ObjectChunk{
		ObjectID:        objID,
		ChunkID:         chunkID,
		MoreChunks:      word&(1<<15) != 0,
		AckRequired:     word&(1<<14) != 0,
		NumEnclosedMsgs: numEnclosed,
		Data:            data,
	}, nil
}

// ObjectSkip instructs the sender of the named object to advance its
// send-job cursor to chunk_id.
type ObjectSkip struct {
	ObjectID uint64
	ChunkID  int64
}

func (ObjectSkip) Tag() TransportTag { return TagObjectSkip }

func (s ObjectSkip) encodeBody() []byte {
	var buf []byte
	buf = putUvarint(buf, s.ObjectID)
	buf = putVarint(buf, s.ChunkID)
	return buf
}

func decodeObjectSkip(body []byte) (*ObjectSkip, error) {
	objID, n, err := readUvarint(body, 0)
	if err != nil {
		return nil, parseErrf("object-skip.object-id", "%w", err)
	}
	chunkID, n2, err := readVarint(body, n)
	if err != nil {
		return nil, parseErrf("object-skip.chunk-id", "%w", err)
	}
	if n+n2 != len(body) {
		return nil, parseErrf("object-skip", "trailing bytes")
	}
	return &ObjectSkip{ObjectID: objID, ChunkID: chunkID}, nil
}

// ChunkRef identifies one chunk of one object, used by ObjectAck and
// ObjectAckRequest.
type ChunkRef struct {
	ObjectID uint64
	ChunkID  int64
}

// ObjectAckList is the shared representation of ObjectAck (0x30, chunks the
// peer has received) and ObjectAckRequest (0x32, chunks whose ack is being
// solicited): both are a list of (object_id, chunk_id) pairs.
type ObjectAckList struct {
	tag    TransportTag
	Chunks []ChunkRef
}

func NewObjectAck(chunks []ChunkRef) ObjectAckList {
	return ObjectAckList{tag: TagObjectAck, Chunks: chunks}
}

func NewObjectAckRequest(chunks []ChunkRef) ObjectAckList {
	return ObjectAckList{tag: TagObjectAckRequest, Chunks: chunks}
}

func (l ObjectAckList) Tag() TransportTag { return l.tag }

func (l ObjectAckList) encodeBody() []byte {
	var buf []byte
	buf = putUvarint(buf, uint64(len(l.Chunks)))
	for _, c := range l.Chunks {
		buf = putUvarint(buf, c.ObjectID)
		buf = putVarint(buf, c.ChunkID)
	}
	return buf
}

func decodeObjectAckList(body []byte, tag TransportTag) (*ObjectAckList, error) {
	count, n, err := readUvarint(body, 0)
	if err != nil {
		return nil, parseErrf("object-ack-list.count", "%w", err)
	}
	off := n
	chunks := make([]ChunkRef, 0, count)
	for i := uint64(0); i < count; i++ {
		objID, n, err := readUvarint(body, off)
		if err != nil {
			return nil, parseErrf("object-ack-list.entry", "%w", err)
		}
		off += n
		chunkID, n2, err := readVarint(body, off)
		if err != nil {
			return nil, parseErrf("object-ack-list.entry", "%w", err)
		}
		off += n2
		chunks = append(chunks, ChunkRef{ObjectID: objID, ChunkID: chunkID})
	}
	if off != len(body) {
		return nil, parseErrf("object-ack-list", "trailing bytes")
	}
	return &ObjectAckList{tag: tag, Chunks: chunks}, nil
}

// TransportErrorCode distinguishes ErrorMessage variants.
type TransportErrorCode uint8

const (
	TransportErrUnsupportedVersion TransportErrorCode = 1
	TransportErrObjectsAborted     TransportErrorCode = 2
)

// ErrorMessage (0x31) carries a protocol-level error. Its variant payload
// depends on Code: UnsupportedVersion carries the supported version range;
// ObjectsAborted carries the ids of objects the sender gave up on.
type ErrorMessage struct {
	Code             TransportErrorCode
	MinVersion       uint8
	MaxVersion       uint8
	AbortedObjectIDs []uint64
}

func (ErrorMessage) Tag() TransportTag { return TagErrorMessage }

func (e ErrorMessage) encodeBody() []byte {
	buf := []byte{byte(e.Code)}
	switch e.Code {
	case TransportErrUnsupportedVersion:
		buf = append(buf, e.MinVersion, e.MaxVersion)
	case TransportErrObjectsAborted:
		buf = putUvarint(buf, uint64(len(e.AbortedObjectIDs)))
		for _, id := range e.AbortedObjectIDs {
			buf = putUvarint(buf, id)
		}
	}
	return buf
}

func decodeErrorMessage(body []byte) (*ErrorMessage, error) {
	if len(body) < 1 {
		return nil, parseErrf("error-message", "empty body")
	}
	code := TransportErrorCode(body[0])
	msg := &ErrorMessage{Code: code}
	switch code {
	case TransportErrUnsupportedVersion:
		if len(body) != 3 {
			return nil, parseErrf("error-message.unsupported-version", "expected 2 version bytes")
		}
		msg.MinVersion, msg.MaxVersion = body[1], body[2]
	case TransportErrObjectsAborted:
		count, n, err := readUvarint(body, 1)
		if err != nil {
			return nil, parseErrf("error-message.objects-aborted", "%w", err)
		}
		off := 1 + n
		ids := make([]uint64, 0, count)
		for i := uint64(0); i < count; i++ {
			id, n, err := readUvarint(body, off)
			if err != nil {
				return nil, parseErrf("error-message.objects-aborted", "%w", err)
			}
			off += n
			ids = append(ids, id)
		}
		if off != len(body) {
			return nil, parseErrf("error-message.objects-aborted", "trailing bytes")
		}
		msg.AbortedObjectIDs = ids
	default:
		return nil, parseErrf("error-message", "unknown error code %d", code)
	}
	return msg, nil
}
