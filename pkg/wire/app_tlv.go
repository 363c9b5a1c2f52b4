package wire

// Application TLVs ride inside an ObjectChunk's Data, one or more per
// chunk (count given by NumEnclosedMsgs).

type ApplicationTag uint8

const (
	TagFileRequest      ApplicationTag = 0x20
	TagFileResume       ApplicationTag = 0x21
	TagFileMetadata     ApplicationTag = 0x22
	TagFileContent      ApplicationTag = 0x23
	TagApplicationError ApplicationTag = 0x24
	TagFileListRequest  ApplicationTag = 0x25
	TagFileListResponse ApplicationTag = 0x26
)

// ApplicationTLV is implemented by every application-level record.
type ApplicationTLV interface {
	AppTag() ApplicationTag
	encodeBody() []byte
}

// EncodeApplicationMessages packs a sequence of application TLVs into a
// single byte slice suitable as an ObjectChunk's Data, returning the bytes
// and the enclosed-message count to set on the chunk.
func EncodeApplicationMessages(msgs []ApplicationTLV) (data []byte, count uint8) {
	for _, m := range msgs {
		data = append(data, encodeTLV(byte(m.AppTag()), m.encodeBody())...)
	}
	return data, uint8(len(msgs))
}

// DecodeApplicationMessages unpacks exactly count application TLVs from
// data (an ObjectChunk's Data field).
func DecodeApplicationMessages(data []byte, count uint8) ([]ApplicationTLV, error) {
	msgs := make([]ApplicationTLV, 0, count)
	off := 0
	for i := uint8(0); i < count; i++ {
		tag, body, next, err := decodeTLVHeader(data, off)
		if err != nil {
			return nil, err
		}
		msg, err := decodeApplicationTLV(tag, body)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
		off = next
	}
	if off != len(data) {
		return nil, parseErrf("application-messages", "%d trailing bytes after %d enclosed messages", len(data)-off, count)
	}
	return msgs, nil
}

func decodeApplicationTLV(tag byte, body []byte) (ApplicationTLV, error) {
	switch ApplicationTag(tag) {
	case TagFileRequest:
		return decodeFileRequest(body)
	case TagFileResume:
		return decodeFileResume(body)
	case TagFileMetadata:
		return decodeFileMetadata(body)
	case TagFileContent:
		return decodeFileContent(body)
	case TagApplicationError:
		return decodeApplicationError(body)
	case TagFileListRequest:
		return decodeFileListRequest(body)
	case TagFileListResponse:
		return decodeFileListResponse(body)
	default:
		return nil, parseErrf("application-tlv", "unknown message type code %d", tag)
	}
}

// FileRequest (0x20): the paths the client wants transferred, and whether
// the client would like the content zstd-compressed in flight. Compress is
// an additive trailing byte: a frame encoded before this field existed
// decodes with Compress false.
type FileRequest struct {
	Paths    []string
	Compress bool
}

func (FileRequest) AppTag() ApplicationTag { return TagFileRequest }

func (r FileRequest) encodeBody() []byte {
	buf := putUvarint(nil, uint64(len(r.Paths)))
	for _, p := range r.Paths {
		buf = putString(buf, p)
	}
	var c byte
	if r.Compress {
		c = 1
	}
	buf = append(buf, c)
	return buf
}

func decodeFileRequest(body []byte) (*FileRequest, error) {
	count, n, err := readUvarint(body, 0)
	if err != nil {
		return nil, parseErrf("file-request.count", "%w", err)
	}
	off := n
	paths := make([]string, 0, count)
	for i := uint64(0); i < count; i++ {
		s, n, err := readString(body, off)
		if err != nil {
			return nil, parseErrf("file-request.path", "%w", err)
		}
		off += n
		paths = append(paths, s)
	}
	compress := false
	if off < len(body) {
		compress = body[off] != 0
		off++
	}
	if off != len(body) {
		return nil, parseErrf("file-request", "trailing bytes")
	}
	return &FileRequest{Paths: paths, Compress: compress}, nil
}

// FileResumeEntry names a previously-requested file (by the object id its
// FileResponse will use) and the content chunk id to resume from.
type FileResumeEntry struct {
	FileID        uint64
	ResumeChunkID int64
}

// FileResume (0x21): resume points for files already partially received.
type FileResume struct {
	Entries []FileResumeEntry
}

func (FileResume) AppTag() ApplicationTag { return TagFileResume }

func (r FileResume) encodeBody() []byte {
	buf := putUvarint(nil, uint64(len(r.Entries)))
	for _, e := range r.Entries {
		buf = putUvarint(buf, e.FileID)
		buf = putVarint(buf, e.ResumeChunkID)
	}
	return buf
}

func decodeFileResume(body []byte) (*FileResume, error) {
	count, n, err := readUvarint(body, 0)
	if err != nil {
		return nil, parseErrf("file-resume.count", "%w", err)
	}
	off := n
	entries := make([]FileResumeEntry, 0, count)
	for i := uint64(0); i < count; i++ {
		id, n, err := readUvarint(body, off)
		if err != nil {
			return nil, parseErrf("file-resume.entry", "%w", err)
		}
		off += n
		chunkID, n2, err := readVarint(body, off)
		if err != nil {
			return nil, parseErrf("file-resume.entry", "%w", err)
		}
		off += n2
		entries = append(entries, FileResumeEntry{FileID: id, ResumeChunkID: chunkID})
	}
	if off != len(body) {
		return nil, parseErrf("file-resume", "trailing bytes")
	}
	return &FileResume{Entries: entries}, nil
}

// MetadataCode enumerates FileMetadata entry kinds.
type MetadataCode uint8

const (
	MetaFileName    MetadataCode = 1
	MetaFilePath    MetadataCode = 2
	MetaFileSize    MetadataCode = 3
	MetaNumChunks   MetadataCode = 4
	MetaStat        MetadataCode = 5
	MetaSHA3_512    MetadataCode = 6
	MetaCompression MetadataCode = 7 // additive: RFT zstd-compression flag
)

// EncodeMetaUint64 renders a numeric metadata value (FileSize, NumChunks)
// as the LEB128-unsigned content bytes of a MetadataEntry.
func EncodeMetaUint64(v uint64) []byte { return putUvarint(nil, v) }

// DecodeMetaUint64 parses the content bytes of a numeric MetadataEntry.
func DecodeMetaUint64(content []byte) (uint64, error) {
	v, n, err := readUvarint(content, 0)
	if err != nil {
		return 0, err
	}
	if n != len(content) {
		return 0, parseErrf("metadata-entry.uint64", "trailing bytes in numeric metadata value")
	}
	return v, nil
}

// MetadataEntry is a single {code, content_bytes} pair. Numeric codes
// (FileSize, NumChunks) store their value as a LEB128-unsigned integer in
// Content; MetaSHA3_512 stores the 64 raw hash bytes; MetaFileName/
// MetaFilePath/MetaStat store their natural byte representation.
type MetadataEntry struct {
	Code    MetadataCode
	Content []byte
}

// FileMetadata (0x22): a batch of metadata entries describing a file.
type FileMetadata struct {
	Entries []MetadataEntry
}

func (FileMetadata) AppTag() ApplicationTag { return TagFileMetadata }

func (m FileMetadata) encodeBody() []byte {
	buf := putUvarint(nil, uint64(len(m.Entries)))
	for _, e := range m.Entries {
		buf = append(buf, byte(e.Code))
		buf = putUvarint(buf, uint64(len(e.Content)))
		buf = append(buf, e.Content...)
	}
	return buf
}

func decodeFileMetadata(body []byte) (*FileMetadata, error) {
	count, n, err := readUvarint(body, 0)
	if err != nil {
		return nil, parseErrf("file-metadata.count", "%w", err)
	}
	off := n
	entries := make([]MetadataEntry, 0, count)
	for i := uint64(0); i < count; i++ {
		if off+1 > len(body) {
			return nil, parseErrf("file-metadata.entry", "truncated entry %d", i)
		}
		code := MetadataCode(body[off])
		off++
		length, n, err := readUvarint(body, off)
		if err != nil {
			return nil, parseErrf("file-metadata.entry", "%w", err)
		}
		off += n
		end := off + int(length)
		if end > len(body) {
			return nil, parseErrf("file-metadata.entry", "content length %d exceeds remaining bytes", length)
		}
		content := make([]byte, length)
		copy(content, body[off:end])
		off = end
		entries = append(entries, MetadataEntry{Code: code, Content: content})
	}
	if off != len(body) {
		return nil, parseErrf("file-metadata", "trailing bytes")
	}
	return &FileMetadata{Entries: entries}, nil
}

// FileContent (0x23): a raw slice of file bytes for one content chunk.
type FileContent struct {
	Data []byte
}

func (FileContent) AppTag() ApplicationTag { return TagFileContent }

func (c FileContent) encodeBody() []byte { return c.Data }

func decodeFileContent(body []byte) (*FileContent, error) {
	data := make([]byte, len(body))
	copy(data, body)
	return &FileContent{Data: data}, nil
}

// AppErrorCode enumerates ApplicationError variants.
type AppErrorCode uint8

const (
	AppErrFileNotFound             AppErrorCode = 1
	AppErrFileChanged              AppErrorCode = 2
	AppErrFileHashError            AppErrorCode = 3
	AppErrFileAbort                AppErrorCode = 4
	AppErrInvalidFileResumeRequest AppErrorCode = 5
	AppErrInvalidDepthForList      AppErrorCode = 6
	AppErrUnknownFormatCode        AppErrorCode = 7
	AppErrNoSpaceLeftOnDisk        AppErrorCode = 8
)

// ApplicationError (0x24). Detail carries a code-specific human-readable
// string (a path for FileNotFound/FileChanged/FileAbort/NoSpaceLeftOnDisk,
// or a formatted value for the others); it is always present but may be
// empty.
type ApplicationError struct {
	Code   AppErrorCode
	Detail string
}

func (ApplicationError) AppTag() ApplicationTag { return TagApplicationError }

func (e ApplicationError) encodeBody() []byte {
	buf := []byte{byte(e.Code)}
	return putString(buf, e.Detail)
}

func decodeApplicationError(body []byte) (*ApplicationError, error) {
	if len(body) < 1 {
		return nil, parseErrf("application-error", "empty body")
	}
	code := AppErrorCode(body[0])
	detail, n, err := readString(body, 1)
	if err != nil {
		return nil, parseErrf("application-error.detail", "%w", err)
	}
	if 1+n != len(body) {
		return nil, parseErrf("application-error", "trailing bytes")
	}
	return &ApplicationError{Code: code, Detail: detail}, nil
}

// ListFormatCode selects the encoding of a FileListResponse (reserved for
// future formats beyond the flat entry list).
type ListFormatCode uint8

const ListFormatFlat ListFormatCode = 0

// FileListRequest (0x25).
type FileListRequest struct {
	Path       string
	Depth      uint64
	FormatCode ListFormatCode
}

func (FileListRequest) AppTag() ApplicationTag { return TagFileListRequest }

func (r FileListRequest) encodeBody() []byte {
	buf := putString(nil, r.Path)
	buf = putUvarint(buf, r.Depth)
	return append(buf, byte(r.FormatCode))
}

func decodeFileListRequest(body []byte) (*FileListRequest, error) {
	path, n, err := readString(body, 0)
	if err != nil {
		return nil, parseErrf("file-list-request.path", "%w", err)
	}
	off := n
	depth, n, err := readUvarint(body, off)
	if err != nil {
		return nil, parseErrf("file-list-request.depth", "%w", err)
	}
	off += n
	if off+1 != len(body) {
		return nil, parseErrf("file-list-request", "trailing bytes")
	}
	return &FileListRequest{Path: path, Depth: depth, FormatCode: ListFormatCode(body[off])}, nil
}

// FileListEntry is one row of a FileListResponse.
type FileListEntry struct {
	IsDir    bool
	ParentID uint64
	Name     string
	ChildID  uint64
}

// FileListResponse (0x26).
type FileListResponse struct {
	Entries []FileListEntry
}

func (FileListResponse) AppTag() ApplicationTag { return TagFileListResponse }

func (r FileListResponse) encodeBody() []byte {
	buf := putUvarint(nil, uint64(len(r.Entries)))
	for _, e := range r.Entries {
		var isDir byte
		if e.IsDir {
			isDir = 1
		}
		buf = append(buf, isDir)
		buf = putUvarint(buf, e.ParentID)
		buf = putString(buf, e.Name)
		buf = putUvarint(buf, e.ChildID)
	}
	return buf
}

func decodeFileListResponse(body []byte) (*FileListResponse, error) {
	count, n, err := readUvarint(body, 0)
	if err != nil {
		return nil, parseErrf("file-list-response.count", "%w", err)
	}
	off := n
	entries := make([]FileListEntry, 0, count)
	for i := uint64(0); i < count; i++ {
		if off+1 > len(body) {
			return nil, parseErrf("file-list-response.entry", "truncated entry %d", i)
		}
		isDir := body[off] != 0
		off++
		parentID, n, err := readUvarint(body, off)
		if err != nil {
			return nil, parseErrf("file-list-response.entry", "%w", err)
		}
		off += n
		name, n, err := readString(body, off)
		if err != nil {
			return nil, parseErrf("file-list-response.entry", "%w", err)
		}
		off += n
		childID, n, err := readUvarint(body, off)
		if err != nil {
			return nil, parseErrf("file-list-response.entry", "%w", err)
		}
		off += n
		entries = append(entries, FileListEntry{IsDir: isDir, ParentID: parentID, Name: name, ChildID: childID})
	}
	if off != len(body) {
		return nil, parseErrf("file-list-response", "trailing bytes")
	}
	return &FileListResponse{Entries: entries}, nil
}
