// Package app implements RFT's file-transfer application layer on top of
// internal/conn's connection engine: the Startup/Connected/Finished state
// machine, its per-object receive/send state, and the directory-listing
// handler.
package app

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/josephbirkner/r2ft/internal/fec"
	"github.com/josephbirkner/r2ft/pkg/wire"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/sha3"
)

// FileRecvState tracks one in-progress file receive:
// the metadata chunk (chunk_id 0) followed by content chunks, with an
// optional trailing FEC parity field. Chunk ids are translated to field-local indices by the
// caller before reaching this type: index 0 is the first content chunk,
// continuing past numContentChunks for parity chunks.
type FileRecvState struct {
	ObjectID uint64
	DestDir  string

	metadataReceived bool
	name             string
	size             int64
	wantSHA3         [64]byte
	compressed       bool

	numContentChunks int64
	missing          map[int64]bool

	file *os.File

	coder        *fec.Coder
	parityShards map[int64][]byte

	// pending holds content/parity chunks that arrived before the metadata
	// chunk did; UDP gives no ordering guarantee, so chunk_id 0 is not
	// guaranteed to be the first datagram dispatched.
	pending []pendingChunk
}

type pendingChunk struct {
	index        int64
	data         []byte
	enclosedMsgs uint8
}

// NewFileRecvState creates receive state from a decoded ObjectHeader.
// header.Fields is expected as [metadata(1), content(N)], or
// [metadata(1), content(N), parity(P)] when FEC was negotiated.
func NewFileRecvState(objectID uint64, header *wire.ObjectHeader, destDir string, coder *fec.Coder) (*FileRecvState, error) {
	if len(header.Fields) < 2 {
		return nil, fmt.Errorf("app: file object header has %d fields, want at least 2", len(header.Fields))
	}
	contentLen := header.Fields[1].Length
	missing := make(map[int64]bool, contentLen)
	for i := int64(0); i < contentLen; i++ {
		missing[i] = true
	}
	return &FileRecvState{
		ObjectID:         objectID,
		DestDir:          destDir,
		numContentChunks: contentLen,
		missing:          missing,
		coder:            coder,
		parityShards:     make(map[int64][]byte),
	}, nil
}

// NotifyMetadata applies the metadata chunk (field-local index 0, wire
// chunk_id 0), wherever in arrival order it shows up, flushing any content
// or parity chunks that had already arrived. It returns true if doing so
// completes the transfer.
func (s *FileRecvState) NotifyMetadata(data []byte, enclosedMsgs uint8) (bool, error) {
	msgs, err := wire.DecodeApplicationMessages(data, enclosedMsgs)
	if err != nil {
		return false, fmt.Errorf("app: decode metadata chunk: %w", err)
	}
	for _, m := range msgs {
		meta, ok := m.(*wire.FileMetadata)
		if !ok {
			continue
		}
		for _, e := range meta.Entries {
			switch e.Code {
			case wire.MetaFileName:
				s.name = string(e.Content)
			case wire.MetaFileSize:
				v, err := wire.DecodeMetaUint64(e.Content)
				if err != nil {
					return false, fmt.Errorf("app: decode file size: %w", err)
				}
				s.size = int64(v)
			case wire.MetaSHA3_512:
				if len(e.Content) != len(s.wantSHA3) {
					return false, fmt.Errorf("app: sha3-512 metadata entry has %d bytes, want %d", len(e.Content), len(s.wantSHA3))
				}
				copy(s.wantSHA3[:], e.Content)
			case wire.MetaCompression:
				v, err := wire.DecodeMetaUint64(e.Content)
				if err != nil {
					return false, fmt.Errorf("app: decode compression flag: %w", err)
				}
				s.compressed = v != 0
			}
		}
	}
	if s.name == "" {
		return false, fmt.Errorf("app: file metadata missing a name")
	}
	f, err := os.Create(filepath.Join(s.DestDir, filepath.Base(s.name)))
	if err != nil {
		return false, fmt.Errorf("app: create %s: %w", s.name, err)
	}
	s.file = f
	s.metadataReceived = true

	pending := s.pending
	s.pending = nil
	for _, pc := range pending {
		if err := s.applyContentChunk(pc.index, pc.data, pc.enclosedMsgs); err != nil {
			return false, err
		}
	}
	return s.finished(), nil
}

// NotifyContent applies one content- or parity-field chunk, addressed by
// its field-local index. If the metadata chunk hasn't arrived yet, the
// chunk is buffered and applied once it does. It returns true once every
// content chunk has been accounted for, directly received or
// FEC-reconstructed.
func (s *FileRecvState) NotifyContent(index int64, data []byte, enclosedMsgs uint8) (bool, error) {
	if !s.metadataReceived {
		s.pending = append(s.pending, pendingChunk{index: index, data: append([]byte(nil), data...), enclosedMsgs: enclosedMsgs})
		return false, nil
	}
	if err := s.applyContentChunk(index, data, enclosedMsgs); err != nil {
		return false, err
	}
	return s.finished(), nil
}

func (s *FileRecvState) applyContentChunk(index int64, data []byte, enclosedMsgs uint8) error {
	if index >= s.numContentChunks {
		return s.applyParityChunk(index-s.numContentChunks, data)
	}

	msgs, err := wire.DecodeApplicationMessages(data, enclosedMsgs)
	if err != nil {
		return fmt.Errorf("app: decode content chunk %d: %w", index, err)
	}
	for _, m := range msgs {
		content, ok := m.(*wire.FileContent)
		if !ok {
			continue
		}
		if err := s.writeChunk(index, content.Data); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileRecvState) writeChunk(index int64, data []byte) error {
	if _, err := s.file.WriteAt(data, index*wire.ContentChunkSize); err != nil {
		return fmt.Errorf("app: write chunk %d: %w", index, err)
	}
	delete(s.missing, index)
	return nil
}

func (s *FileRecvState) applyParityChunk(localIdx int64, data []byte) error {
	s.parityShards[localIdx] = append([]byte(nil), data...)
	if s.coder != nil {
		return s.tryReconstructGroup(localIdx)
	}
	return nil
}

// tryReconstructGroup attempts FEC reconstruction for the content group
// that owns parity shard localIdx, once enough shards (content + parity)
// for that group are present.
func (s *FileRecvState) tryReconstructGroup(parityLocalIdx int64) error {
	group := s.coder.GroupSize()
	parityPerGroup := int64(s.coder.ParityShards)
	groupIdx := parityLocalIdx / parityPerGroup
	groupStart := groupIdx * int64(group)

	shards := make([][]byte, group+s.coder.ParityShards)
	missingInGroup := false
	for i := 0; i < group; i++ {
		idx := groupStart + int64(i)
		if idx >= s.numContentChunks {
			shards[i] = make([]byte, wire.ContentChunkSize)
			continue
		}
		if s.missing[idx] {
			missingInGroup = true
			continue
		}
		buf := make([]byte, wire.ContentChunkSize)
		n, err := s.file.ReadAt(buf, idx*wire.ContentChunkSize)
		if err != nil && n == 0 {
			missingInGroup = true
			continue
		}
		shards[i] = buf
	}
	if !missingInGroup {
		return nil
	}
	for p := 0; p < s.coder.ParityShards; p++ {
		if sh, ok := s.parityShards[groupIdx*parityPerGroup+int64(p)]; ok {
			padded := make([]byte, wire.ContentChunkSize)
			copy(padded, sh)
			shards[group+p] = padded
		}
	}
	if err := s.coder.ValidateShards(shards); err != nil {
		// Not enough shards yet for this group; wait for more to arrive.
		return nil
	}
	if err := s.coder.Reconstruct(shards); err != nil {
		return fmt.Errorf("app: fec reconstruct group %d: %w", groupIdx, err)
	}
	for i := 0; i < group; i++ {
		idx := groupStart + int64(i)
		if idx >= s.numContentChunks || !s.missing[idx] {
			continue
		}
		if err := s.writeChunk(idx, shards[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileRecvState) finished() bool { return len(s.missing) == 0 }

// Finalize closes the destination file, decompressing it first if the
// sender zstd-compressed the content, and verifies its SHA3-512 digest
// against the metadata's declared hash (taken over the original,
// uncompressed bytes). Call this only once NotifyMetadata or NotifyContent
// has reported completion.
func (s *FileRecvState) Finalize() (ok bool, path string, err error) {
	path = s.file.Name()
	if err := s.file.Close(); err != nil {
		return false, path, fmt.Errorf("app: close %s: %w", path, err)
	}
	if s.compressed {
		if err := decompressFile(path); err != nil {
			return false, path, fmt.Errorf("app: decompress %s: %w", path, err)
		}
	}
	f, err := os.Open(path)
	if err != nil {
		return false, path, fmt.Errorf("app: reopen %s for verification: %w", path, err)
	}
	defer f.Close()

	h := sha3.New512()
	if _, err := io.Copy(h, f); err != nil {
		return false, path, fmt.Errorf("app: hash %s: %w", path, err)
	}
	var got [64]byte
	copy(got[:], h.Sum(nil))
	return got == s.wantSHA3, path, nil
}

// decompressFile replaces path's contents with the zstd-decompressed form.
// The whole file is read into memory; RFT files are small enough in
// practice that a streaming rewrite isn't warranted here.
func decompressFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	zr, err := zstd.NewReader(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("open zstd reader: %w", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return fmt.Errorf("zstd decode: %w", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
