package wire

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	f := &MessageFrame{
		Version:   ProtocolVersion,
		SessionID: 0,
		TLVs: []TransportTLV{
			HostInformation{
				ReceiveWindow:   4096,
				OutOfOrderLimit: 8,
				AckFrequency:    AckFrequencyDefault,
				OS:              HostOSLinux,
				AppID:           1,
				AppVersion:      1,
			},
		},
	}

	data, err := f.Serialize()
	if err != nil {
		t.Fatalf("Serialize error: %v", err)
	}

	got, err := ParseMessageFrame(data)
	if err != nil {
		t.Fatalf("ParseMessageFrame error: %v", err)
	}

	if got.Version != f.Version || got.SessionID != f.SessionID {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", got, f)
	}
	if len(got.TLVs) != 1 {
		t.Fatalf("expected 1 TLV, got %d", len(got.TLVs))
	}
	gotHI, ok := got.TLVs[0].(*HostInformation)
	if !ok {
		t.Fatalf("expected *HostInformation, got %T", got.TLVs[0])
	}
	if *gotHI != f.TLVs[0].(HostInformation) {
		t.Fatalf("HostInformation round-trip mismatch: got %+v", gotHI)
	}
}

func TestFrameRoundTripObjectHeaderAndChunk(t *testing.T) {
	header := ObjectHeader{
		ObjectID:    7,
		NumChunks:   3,
		AckRequired: true,
		ObjectType:  1,
		Fields: []ObjectField{
			{FieldType: 1, Length: 1},
			{FieldType: 2, Length: 2},
		},
	}
	chunk := ObjectChunk{
		ObjectID:        7,
		ChunkID:         -1,
		MoreChunks:      true,
		AckRequired:     false,
		NumEnclosedMsgs: 1,
		Data:            []byte("hello"),
	}

	f := &MessageFrame{
		Version:   ProtocolVersion,
		SessionID: 1234,
		TLVs:      []TransportTLV{header, chunk},
	}

	data, err := f.Serialize()
	if err != nil {
		t.Fatalf("Serialize error: %v", err)
	}
	got, err := ParseMessageFrame(data)
	if err != nil {
		t.Fatalf("ParseMessageFrame error: %v", err)
	}
	if len(got.TLVs) != 2 {
		t.Fatalf("expected 2 TLVs, got %d", len(got.TLVs))
	}
	gotHeader, ok := got.TLVs[0].(*ObjectHeader)
	if !ok {
		t.Fatalf("expected *ObjectHeader, got %T", got.TLVs[0])
	}
	if gotHeader.ObjectID != header.ObjectID || gotHeader.NumChunks != header.NumChunks ||
		gotHeader.AckRequired != header.AckRequired || gotHeader.ObjectType != header.ObjectType ||
		len(gotHeader.Fields) != len(header.Fields) {
		t.Fatalf("ObjectHeader round-trip mismatch: got %+v, want %+v", gotHeader, header)
	}
	gotChunk, ok := got.TLVs[1].(*ObjectChunk)
	if !ok {
		t.Fatalf("expected *ObjectChunk, got %T", got.TLVs[1])
	}
	if gotChunk.ChunkID != -1 {
		t.Fatalf("expected chunk_id -1 (header sentinel), got %d", gotChunk.ChunkID)
	}
	if !bytes.Equal(gotChunk.Data, chunk.Data) {
		t.Fatalf("chunk data mismatch: got %q, want %q", gotChunk.Data, chunk.Data)
	}
}

func TestFrameChecksumFailureOnMutatedTrailer(t *testing.T) {
	f := &MessageFrame{Version: ProtocolVersion, SessionID: 1}
	data, err := f.Serialize()
	if err != nil {
		t.Fatalf("Serialize error: %v", err)
	}
	data[len(data)-1] ^= 0xFF

	if _, err := ParseMessageFrame(data); err == nil {
		t.Fatalf("expected checksum verification error")
	}
}

func TestFrameUnknownTLVTypeDropsFrame(t *testing.T) {
	f := &MessageFrame{Version: ProtocolVersion, SessionID: 1}
	data, err := f.Serialize()
	if err != nil {
		t.Fatalf("Serialize error: %v", err)
	}

	// Splice in a single unknown TLV (type 0xFF, zero-length body) and bump
	// the TLV count, then recompute the checksum so only the type code is
	// under test.
	withCount := append([]byte{}, data[:9]...)
	withCount = append(withCount, 1) // one TLV
	withCount = append(withCount, 0xFF, 0x00, 0x00)
	sum := checksum(withCount)
	withCount = binary.BigEndian.AppendUint32(withCount, sum)

	_, err = ParseMessageFrame(withCount)
	if err == nil {
		t.Fatalf("expected unknown TLV type to fail parsing")
	}
	if got := err.Error(); !contains(got, "unknown message type code 255") {
		t.Fatalf("expected error mentioning unknown type code 255, got: %v", got)
	}
}

func contains(s, substr string) bool {
	return bytes.Contains([]byte(s), []byte(substr))
}
