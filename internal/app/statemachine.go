package app

import (
	"fmt"

	"github.com/josephbirkner/r2ft/internal/conn"
	"github.com/josephbirkner/r2ft/internal/fec"
	"github.com/josephbirkner/r2ft/internal/job"
	"github.com/josephbirkner/r2ft/internal/obs"
	"github.com/josephbirkner/r2ft/pkg/wire"
)

// Phase is the application-level lifecycle: Startup (handshake pending),
// Connected (requests/transfers in flight), Finished (the connection closed
// or every expected transfer completed).
type Phase int

const (
	PhaseStartup Phase = iota
	PhaseConnected
	PhaseFinished
)

// Config selects the optional domain-stack features a StateMachine applies
// to every file it sends or receives. FEC is the coder used to encode
// parity for files this side sends; the coder used to decode files this
// side receives is negotiated automatically from the peer's handshake
// HostInformation, not configured here.
type Config struct {
	DestDir         string
	FEC             *fec.Coder
	RequestAckEvery bool
}

// StateMachine drives one RFT connection's file-transfer application logic:
// the client side issues FileRequest/FileListRequest control messages and
// receives files; the server side serves them.
type StateMachine struct {
	Conn     *conn.Connection
	IsServer bool
	Config   Config
	Log      *obs.Logger

	phase Phase

	nextObjectID uint64
	recvStates   map[uint64]*FileRecvState
	pendingSends int

	// recvFEC is the decode-side coder, derived from the peer's advertised
	// FECDataShards/FECParityShards once the handshake completes; nil if
	// the peer didn't negotiate FEC.
	recvFEC *fec.Coder

	// OnFileReceived fires once per completed, hash-verified (or failed)
	// file receive.
	OnFileReceived func(path string, verified bool)
	// OnFileSent fires once a file send-job has streamed its last chunk.
	OnFileSent func(name string, size int64)
	// OnListResponse fires when a FileListResponse control message
	// arrives (client side).
	OnListResponse func(entries []wire.FileListEntry)
	// OnError fires for protocol-level errors the peer reported.
	OnError func(err error)
	// OnObjectHeader fires once a new object's header arrives, giving the
	// caller numChunks up front (progress-bar sizing).
	OnObjectHeader func(objectID uint64, numChunks int64)
	// OnChunkWritten fires once per non-metadata chunk (content or parity)
	// of a file object as it is handed to FileRecvState, including chunks
	// buffered until the metadata arrives, for progress-bar updates; n is
	// the wire-encoded chunk size, not the post-decompression size.
	OnChunkWritten func(objectID uint64, n int)
}

// New creates a StateMachine bound to an already-constructed Connection.
// The Connection may still be mid-handshake; the caller keeps calling
// Conn.Tick and hands the returned events to Step.
func New(c *conn.Connection, isServer bool, cfg Config, log *obs.Logger) *StateMachine {
	if log == nil {
		log = obs.New(nil)
	}
	return &StateMachine{
		Conn:       c,
		IsServer:   isServer,
		Config:     cfg,
		Log:        log,
		recvStates: make(map[uint64]*FileRecvState),
	}
}

// Phase reports the current application lifecycle phase.
func (s *StateMachine) Phase() Phase { return s.phase }

func (s *StateMachine) allocObjectID() uint64 {
	s.nextObjectID++
	return s.nextObjectID
}

// deriveRecvCoder builds the decode-side FEC coder from a peer's
// handshake HostInformation, or nil if the peer advertised no FEC.
func deriveRecvCoder(peer *wire.HostInformation) *fec.Coder {
	if peer == nil || peer.FECDataShards == 0 || peer.FECParityShards == 0 {
		return nil
	}
	coder, err := fec.NewCoder(int(peer.FECDataShards), int(peer.FECParityShards))
	if err != nil {
		return nil
	}
	return coder
}

// RequestFiles is the client-side entry point: it enqueues a FileRequest
// control message naming paths and whether the server should
// zstd-compress their content in flight. The request itself is sent as
// soon as the handshake completes and the connection accepts sends.
func (s *StateMachine) RequestFiles(paths []string, compress bool) {
	s.sendControl(wire.FileRequest{Paths: paths, Compress: compress})
}

// RequestList is the client-side entry point for a directory listing.
func (s *StateMachine) RequestList(path string, depth uint64) {
	s.sendControl(wire.FileListRequest{Path: path, Depth: depth, FormatCode: wire.ListFormatFlat})
}

func (s *StateMachine) sendControl(msg wire.ApplicationTLV) {
	data, count := wire.EncodeApplicationMessages([]wire.ApplicationTLV{msg})
	id := s.allocObjectID()
	fields := []wire.ObjectField{{FieldType: 1, Length: 1}}
	sj := job.NewSendJob(id, objectTypeControl, fields, false, func(chunkID int64) ([]byte, uint8, error) {
		return data, count, nil
	})
	s.Conn.EnqueueSend(sj)
	s.pendingSends++
}

// SendFile is the server-side entry point: it reads path and enqueues its
// metadata + content (+ optional FEC parity) chunks as one object, honoring
// the requesting client's compression preference.
func (s *StateMachine) SendFile(path string, compress bool) error {
	id := s.allocObjectID()
	fs, err := NewFileSendState(id, path, compress, s.Config.FEC)
	if err != nil {
		return err
	}
	sj := fs.NewSendJob(s.Config.RequestAckEvery)
	name, size := fs.Name, fs.Size
	sj.OnFinished = func() {
		s.Log.FileTransmitted(name, size)
		if s.OnFileSent != nil {
			s.OnFileSent(name, size)
		}
	}
	s.Conn.EnqueueSend(sj)
	s.Log.ObjectStarted(objectTypeFile, id, sj.ChunkCount(), "send")
	return nil
}

// Step applies the events returned by one Conn.Tick call; it does not tick
// the connection itself.
func (s *StateMachine) Step(events []conn.Event) error {
	for _, ev := range events {
		if err := s.apply(ev); err != nil {
			return err
		}
	}
	return nil
}

func (s *StateMachine) apply(ev conn.Event) error {
	switch ev.Kind {
	case conn.EventHandshakeCompleted:
		s.phase = PhaseConnected
		s.recvFEC = deriveRecvCoder(s.Conn.PeerInfo())

	case conn.EventObjectHeader:
		if ev.ObjectType == objectTypeFile {
			rs, err := NewFileRecvState(ev.ObjectID, ev.Header, s.Config.DestDir, s.recvFEC)
			if err != nil {
				return err
			}
			s.recvStates[ev.ObjectID] = rs
			s.Log.ObjectStarted(ev.ObjectType, ev.ObjectID, ev.Header.NumChunks, "recv")
			if s.OnObjectHeader != nil {
				s.OnObjectHeader(ev.ObjectID, ev.Header.NumChunks)
			}
		}

	case conn.EventObjectChunk:
		if err := s.applyChunk(ev); err != nil {
			return err
		}

	case conn.EventProtocolError:
		if s.OnError != nil {
			s.OnError(fmt.Errorf("app: peer reported protocol error code %d", ev.Err.Code))
		}

	case conn.EventClosed:
		s.phase = PhaseFinished
	}
	return nil
}

func (s *StateMachine) applyChunk(ev conn.Event) error {
	if ev.ObjectType == objectTypeControl {
		msgs, err := wire.DecodeApplicationMessages(ev.ChunkData, ev.EnclosedMsgs)
		if err != nil {
			return fmt.Errorf("app: decode control chunk for object %d: %w", ev.ObjectID, err)
		}
		for _, m := range msgs {
			s.applyControlMessage(m)
		}
		return nil
	}

	rs, ok := s.recvStates[ev.ObjectID]
	if !ok {
		return nil // chunk for an object we never saw a header for; drop
	}

	var done bool
	var err error
	if ev.ChunkID == 0 {
		done, err = rs.NotifyMetadata(ev.ChunkData, ev.EnclosedMsgs)
		if err != nil {
			return fmt.Errorf("app: object %d metadata: %w", ev.ObjectID, err)
		}
	} else {
		done, err = rs.NotifyContent(ev.ChunkID-1, ev.ChunkData, ev.EnclosedMsgs)
		if err != nil {
			return fmt.Errorf("app: object %d content: %w", ev.ObjectID, err)
		}
		if s.OnChunkWritten != nil {
			s.OnChunkWritten(ev.ObjectID, len(ev.ChunkData))
		}
	}
	if !done {
		return nil
	}
	return s.finishRecv(ev.ObjectID, rs)
}

func (s *StateMachine) finishRecv(objectID uint64, rs *FileRecvState) error {
	ok, path, err := rs.Finalize()
	delete(s.recvStates, objectID)
	if err != nil {
		return fmt.Errorf("app: object %d finalize: %w", objectID, err)
	}
	if ok {
		s.Log.FileReceived(path, rs.size)
	} else {
		s.Log.HashMismatch(path)
	}
	if s.OnFileReceived != nil {
		s.OnFileReceived(path, ok)
	}
	if len(s.recvStates) == 0 {
		s.phase = PhaseFinished
	}
	return nil
}

func (s *StateMachine) applyControlMessage(m wire.ApplicationTLV) {
	switch v := m.(type) {
	case *wire.FileRequest:
		if !s.IsServer {
			return
		}
		for _, p := range v.Paths {
			if err := s.SendFile(p, v.Compress); err != nil {
				s.Log.Error(err, "failed to serve requested file")
				s.sendControl(wire.ApplicationError{Code: wire.AppErrFileNotFound, Detail: p})
			}
		}

	case *wire.FileListRequest:
		if !s.IsServer {
			return
		}
		entries, err := listDirectory(v.Path, v.Depth)
		if err != nil {
			s.Log.Error(err, "failed to list directory")
			s.sendControl(wire.ApplicationError{Code: wire.AppErrInvalidDepthForList, Detail: v.Path})
			return
		}
		s.sendControl(wire.FileListResponse{Entries: entries})

	case *wire.FileListResponse:
		if s.OnListResponse != nil {
			s.OnListResponse(v.Entries)
		}

	case *wire.ApplicationError:
		if s.OnError != nil {
			s.OnError(fmt.Errorf("app: peer application error code %d: %s", v.Code, v.Detail))
		}
	}
}
