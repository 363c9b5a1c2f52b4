package app

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/josephbirkner/r2ft/internal/fec"
	"github.com/josephbirkner/r2ft/pkg/wire"
)

func TestFileSendStateRoundTripsThroughFileRecvState(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "source.bin")
	content := bytes.Repeat([]byte{0x42}, 1000) // spans 2 content chunks of 512 bytes
	if err := os.WriteFile(srcPath, content, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	fs, err := NewFileSendState(3, srcPath, false, nil)
	if err != nil {
		t.Fatalf("NewFileSendState: %v", err)
	}
	if fs.numContentChunks != 2 {
		t.Fatalf("expected 2 content chunks, got %d", fs.numContentChunks)
	}

	sj := fs.NewSendJob(false)
	header := &wire.ObjectHeader{
		ObjectID:   3,
		NumChunks:  sj.ChunkCount(),
		ObjectType: objectTypeFile,
		Fields:     fs.Fields(),
	}

	destDir := t.TempDir()
	rs, err := NewFileRecvState(3, header, destDir, nil)
	if err != nil {
		t.Fatalf("NewFileRecvState: %v", err)
	}

	var done bool
	for sj.HasNext() {
		tlv, err := sj.Send()
		if err != nil {
			t.Fatalf("Send: %v", err)
		}
		chunk, ok := tlv.(wire.ObjectChunk)
		if !ok {
			continue
		}
		if chunk.ChunkID == 0 {
			done, err = rs.NotifyMetadata(chunk.Data, chunk.NumEnclosedMsgs)
		} else {
			done, err = rs.NotifyContent(chunk.ChunkID-1, chunk.Data, chunk.NumEnclosedMsgs)
		}
		if err != nil {
			t.Fatalf("apply chunk %d: %v", chunk.ChunkID, err)
		}
	}
	if !done {
		t.Fatalf("expected transfer to complete")
	}
	ok, path, err := rs.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if !ok {
		t.Fatalf("expected hash verification to succeed")
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("round-tripped content mismatch")
	}
}

// TestFileSendStateWithFEC drops one content chunk and checks that the
// receiver reconstructs it from the trailing parity field.
func TestFileSendStateWithFEC(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "source.bin")
	content := bytes.Repeat([]byte{0x7A}, 4*512) // exactly 4 content chunks: one full FEC group
	if err := os.WriteFile(srcPath, content, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	coder, err := fec.NewCoder(4, 2)
	if err != nil {
		t.Fatalf("NewCoder: %v", err)
	}
	fs, err := NewFileSendState(9, srcPath, false, coder)
	if err != nil {
		t.Fatalf("NewFileSendState: %v", err)
	}
	fields := fs.Fields()
	if len(fields) != 3 {
		t.Fatalf("expected 3 fields (metadata, content, parity), got %d", len(fields))
	}
	if fields[2].Length != 2 {
		t.Fatalf("expected 2 parity chunks for one full group, got %d", fields[2].Length)
	}

	sj := fs.NewSendJob(false)
	header := &wire.ObjectHeader{ObjectID: 9, NumChunks: sj.ChunkCount(), ObjectType: objectTypeFile, Fields: fields}
	destDir := t.TempDir()
	rs, err := NewFileRecvState(9, header, destDir, coder)
	if err != nil {
		t.Fatalf("NewFileRecvState: %v", err)
	}

	var done bool
	for sj.HasNext() {
		tlv, err := sj.Send()
		if err != nil {
			t.Fatalf("Send: %v", err)
		}
		chunk, ok := tlv.(wire.ObjectChunk)
		if !ok {
			continue
		}
		if chunk.ChunkID == 1 {
			continue // simulate loss of content chunk at field-local index 0
		}
		if chunk.ChunkID == 0 {
			done, err = rs.NotifyMetadata(chunk.Data, chunk.NumEnclosedMsgs)
		} else {
			done, err = rs.NotifyContent(chunk.ChunkID-1, chunk.Data, chunk.NumEnclosedMsgs)
		}
		if err != nil {
			t.Fatalf("apply chunk %d: %v", chunk.ChunkID, err)
		}
	}
	if !done {
		t.Fatalf("expected FEC to reconstruct the dropped chunk and complete the transfer")
	}
	ok, path, err := rs.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if !ok {
		t.Fatalf("expected hash verification to succeed after FEC reconstruction")
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("reconstructed content mismatch")
	}
}
