package app

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/josephbirkner/r2ft/pkg/wire"
	"golang.org/x/crypto/sha3"
)

func metadataChunk(t *testing.T, name string, content []byte) ([]byte, uint8) {
	t.Helper()
	sum := sha3.Sum512(content)
	entries := []wire.MetadataEntry{
		{Code: wire.MetaFileName, Content: []byte(name)},
		{Code: wire.MetaFileSize, Content: wire.EncodeMetaUint64(uint64(len(content)))},
		{Code: wire.MetaSHA3_512, Content: sum[:]},
	}
	return wire.EncodeApplicationMessages([]wire.ApplicationTLV{wire.FileMetadata{Entries: entries}})
}

func contentChunk(data []byte) ([]byte, uint8) {
	return wire.EncodeApplicationMessages([]wire.ApplicationTLV{wire.FileContent{Data: data}})
}

// TestFileRecvStateOutOfOrder exercises a two-content-chunk (600-byte) file
// whose chunks, including the metadata chunk, arrive out of wire order.
func TestFileRecvStateOutOfOrder(t *testing.T) {
	content := bytes.Repeat([]byte{0xAB}, 600)
	header := &wire.ObjectHeader{
		ObjectID:   7,
		NumChunks:  3,
		ObjectType: objectTypeFile,
		Fields:     []wire.ObjectField{{FieldType: fieldMetadata, Length: 1}, {FieldType: fieldContent, Length: 2}},
	}

	dir := t.TempDir()
	rs, err := NewFileRecvState(7, header, dir, nil)
	if err != nil {
		t.Fatalf("NewFileRecvState: %v", err)
	}

	data1, count1 := contentChunk(content[512:])
	data0, count0 := contentChunk(content[:512])
	metaData, metaCount := metadataChunk(t, "blob.bin", content)

	// Content chunk 1 arrives first, then chunk 0, then metadata last.
	if done, err := rs.NotifyContent(1, data1, count1); err != nil || done {
		t.Fatalf("NotifyContent(1): done=%v err=%v", done, err)
	}
	if done, err := rs.NotifyContent(0, data0, count0); err != nil || done {
		t.Fatalf("NotifyContent(0): done=%v err=%v", done, err)
	}
	done, err := rs.NotifyMetadata(metaData, metaCount)
	if err != nil {
		t.Fatalf("NotifyMetadata: %v", err)
	}
	if !done {
		t.Fatalf("expected transfer complete once metadata flushes buffered content")
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
		t.Fatalf("written content mismatch")
	}
	if filepath.Base(path) != "blob.bin" {
		t.Fatalf("unexpected destination name %q", path)
	}
}

func TestFileRecvStateHashMismatch(t *testing.T) {
	content := []byte("smallest file content!")
	header := &wire.ObjectHeader{
		ObjectID:   1,
		NumChunks:  2,
		ObjectType: objectTypeFile,
		Fields:     []wire.ObjectField{{FieldType: fieldMetadata, Length: 1}, {FieldType: fieldContent, Length: 1}},
	}
	dir := t.TempDir()
	rs, err := NewFileRecvState(1, header, dir, nil)
	if err != nil {
		t.Fatalf("NewFileRecvState: %v", err)
	}

	// Build metadata with a deliberately wrong hash.
	wrongSum := sha3.Sum512([]byte("not the real content"))
	entries := []wire.MetadataEntry{
		{Code: wire.MetaFileName, Content: []byte("tiny.txt")},
		{Code: wire.MetaFileSize, Content: wire.EncodeMetaUint64(uint64(len(content)))},
		{Code: wire.MetaSHA3_512, Content: wrongSum[:]},
	}
	metaData, metaCount := wire.EncodeApplicationMessages([]wire.ApplicationTLV{wire.FileMetadata{Entries: entries}})

	if _, err := rs.NotifyMetadata(metaData, metaCount); err != nil {
		t.Fatalf("NotifyMetadata: %v", err)
	}
	data, count := contentChunk(content)
	done, err := rs.NotifyContent(0, data, count)
	if err != nil {
		t.Fatalf("NotifyContent: %v", err)
	}
	if !done {
		t.Fatalf("expected single-chunk transfer to complete")
	}
	ok, _, err := rs.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if ok {
		t.Fatalf("expected hash verification to fail")
	}
}
