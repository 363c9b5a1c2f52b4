package app

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/josephbirkner/r2ft/internal/fec"
	"github.com/josephbirkner/r2ft/internal/job"
	"github.com/josephbirkner/r2ft/pkg/wire"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/sha3"
)

// Object-header field types for RFT's file object. fieldMetadata always has length
// 1 and carries chunk_id 0; fieldContent carries the file bytes; fieldParity
// is present only when FEC was negotiated via HostInformation.
const (
	fieldMetadata byte = 1
	fieldContent  byte = 2
	fieldParity   byte = 3
)

// FileSendState holds everything needed to stream one local file as an RFT
// object: the metadata chunk (SHA3-512, size, name) followed by its content
// chunks, with optional zstd compression and Reed-Solomon parity.
type FileSendState struct {
	ObjectID uint64
	Name     string
	Size     int64

	content    []byte // possibly zstd-compressed
	compressed bool
	sha3Sum    [64]byte

	numContentChunks int64
	coder            *fec.Coder
}

// NewFileSendState reads path into memory, optionally compresses it, and
// computes its layout. The object id is assigned by the caller (the state
// machine's per-connection object-id counter).
func NewFileSendState(objectID uint64, path string, compress bool, coder *fec.Coder) (*FileSendState, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("app: read %s: %w", path, err)
	}
	sum := sha3.Sum512(raw)

	content := raw
	if compress {
		var buf bytes.Buffer
		zw, err := zstd.NewWriter(&buf)
		if err != nil {
			return nil, fmt.Errorf("app: zstd writer: %w", err)
		}
		if _, err := zw.Write(raw); err != nil {
			zw.Close()
			return nil, fmt.Errorf("app: zstd compress %s: %w", path, err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("app: zstd close %s: %w", path, err)
		}
		content = buf.Bytes()
	}

	numContentChunks := int64((len(content) + wire.ContentChunkSize - 1) / wire.ContentChunkSize)
	if numContentChunks == 0 {
		numContentChunks = 1 // empty files still need one (empty) content chunk
	}

	return &FileSendState{
		ObjectID:         objectID,
		Name:             filepath.Base(path),
		Size:             int64(len(raw)),
		content:          content,
		compressed:       compress,
		sha3Sum:          sum,
		numContentChunks: numContentChunks,
		coder:            coder,
	}, nil
}

// numParityChunks is the total number of parity chunks across all groups,
// zero when FEC is disabled.
func (s *FileSendState) numParityChunks() int64 {
	if s.coder == nil {
		return 0
	}
	groups := (s.numContentChunks + int64(s.coder.GroupSize()) - 1) / int64(s.coder.GroupSize())
	return groups * int64(s.coder.ParityShards)
}

// Fields builds the ObjectHeader.Fields layout for this file.
func (s *FileSendState) Fields() []wire.ObjectField {
	fields := []wire.ObjectField{
		{FieldType: fieldMetadata, Length: 1},
		{FieldType: fieldContent, Length: s.numContentChunks},
	}
	if p := s.numParityChunks(); p > 0 {
		fields = append(fields, wire.ObjectField{FieldType: fieldParity, Length: p})
	}
	return fields
}

// NewSendJob builds the job.SendJob that streams this file: chunk 0 is the
// metadata chunk, chunks 1..numContentChunks are content, and any further
// chunks are FEC parity.
func (s *FileSendState) NewSendJob(ackRequired bool) *job.SendJob {
	return job.NewSendJob(s.ObjectID, objectTypeFile, s.Fields(), ackRequired, s.produce)
}

func (s *FileSendState) produce(chunkID int64) ([]byte, uint8, error) {
	if chunkID == 0 {
		return s.produceMetadata()
	}
	idx := chunkID - 1
	if idx < s.numContentChunks {
		return s.produceContent(idx)
	}
	return s.produceParity(idx - s.numContentChunks)
}

func (s *FileSendState) produceMetadata() ([]byte, uint8, error) {
	entries := []wire.MetadataEntry{
		{Code: wire.MetaFileName, Content: []byte(s.Name)},
		{Code: wire.MetaFileSize, Content: wire.EncodeMetaUint64(uint64(s.Size))},
		{Code: wire.MetaNumChunks, Content: wire.EncodeMetaUint64(uint64(s.numContentChunks))},
		{Code: wire.MetaSHA3_512, Content: append([]byte(nil), s.sha3Sum[:]...)},
	}
	if s.compressed {
		entries = append(entries, wire.MetadataEntry{Code: wire.MetaCompression, Content: wire.EncodeMetaUint64(1)})
	}
	data, count := wire.EncodeApplicationMessages([]wire.ApplicationTLV{wire.FileMetadata{Entries: entries}})
	return data, count, nil
}

func (s *FileSendState) produceContent(idx int64) ([]byte, uint8, error) {
	chunk := s.contentShard(idx)
	data, count := wire.EncodeApplicationMessages([]wire.ApplicationTLV{wire.FileContent{Data: chunk}})
	return data, count, nil
}

// contentShard returns the raw (un-padded) bytes for content chunk idx.
func (s *FileSendState) contentShard(idx int64) []byte {
	start := idx * wire.ContentChunkSize
	if start >= int64(len(s.content)) {
		return nil
	}
	end := start + wire.ContentChunkSize
	if end > int64(len(s.content)) {
		end = int64(len(s.content))
	}
	return s.content[start:end]
}

// paddedContentShard is contentShard zero-padded to a full ContentChunkSize,
// the fixed shard size FEC encoding requires.
func (s *FileSendState) paddedContentShard(idx int64) []byte {
	padded := make([]byte, wire.ContentChunkSize)
	if idx >= 0 && idx < s.numContentChunks {
		copy(padded, s.contentShard(idx))
	}
	return padded
}

func (s *FileSendState) produceParity(parityIdx int64) ([]byte, uint8, error) {
	if s.coder == nil {
		return nil, 0, fmt.Errorf("app: parity chunk %d requested but FEC is not configured", parityIdx)
	}
	group := int64(s.coder.GroupSize())
	parityPerGroup := int64(s.coder.ParityShards)
	groupIdx := parityIdx / parityPerGroup
	shardIdx := int(parityIdx % parityPerGroup)
	groupStart := groupIdx * group

	dataShards := make([][]byte, group)
	for i := int64(0); i < group; i++ {
		dataShards[i] = s.paddedContentShard(groupStart + i)
	}
	parity, err := s.coder.EncodeParity(dataShards)
	if err != nil {
		return nil, 0, fmt.Errorf("app: encode parity group %d: %w", groupIdx, err)
	}
	return parity[shardIdx], 0, nil
}
