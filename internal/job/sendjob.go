// Package job implements RFT's per-object send/receive job records. A pull
// model drives sending (ChunkProducer is called on demand by Send), and the
// connection engine returns decoded events for the caller to apply to
// receive state directly, rather than invoking a consumer closure — see
// internal/conn.Event.
package job

import (
	"fmt"

	"github.com/josephbirkner/r2ft/pkg/wire"
)

// ChunkProducer yields the bytes and enclosed application-TLV count for one
// content chunk of a send-job's object.
type ChunkProducer func(chunkID int64) (data []byte, enclosedMsgs uint8, err error)

// SendJob streams one object's header followed by its chunks, in strictly
// increasing chunk_id order. NextChunk starts at -1 (the header); the
// caller's loop calls Send repeatedly until HasNext is false.
type SendJob struct {
	ObjectID    uint64
	ObjectType  byte
	Fields      []wire.ObjectField
	AckRequired bool

	NextChunk int64
	Aborted   bool

	Produce ChunkProducer

	// OnFinished is invoked once, when Send produces the last chunk (before
	// the caller transmits it).
	OnFinished func()

	finishedNotified bool
}

// NewSendJob constructs a SendJob positioned at the header (chunk -1).
func NewSendJob(objectID uint64, objectType byte, fields []wire.ObjectField, ackRequired bool, produce ChunkProducer) *SendJob {
	return &SendJob{
		ObjectID:    objectID,
		ObjectType:  objectType,
		Fields:      fields,
		AckRequired: ackRequired,
		NextChunk:   -1,
		Produce:     produce,
	}
}

// ChunkCount returns sum(fields[i].length), the number of content chunks
// (excluding the header) this object will stream.
func (j *SendJob) ChunkCount() int64 {
	var total int64
	for _, f := range j.Fields {
		total += f.Length
	}
	return total
}

// HasNext reports whether another Send call will produce a frame. Valid
// content chunk ids range over [0, ChunkCount()-1]; NextChunk starts at -1
// (the header) and is compared against ChunkCount() itself, not
// ChunkCount()-1, since the header consumes a step of its own before any
// content id is produced.
func (j *SendJob) HasNext() bool {
	if j.Aborted {
		return false
	}
	return j.NextChunk < j.ChunkCount()
}

// Send produces the next frame (header or content chunk) and advances
// NextChunk. It does not set the frame's session id; the connection engine
// fills that in just before transmission.
func (j *SendJob) Send() (wire.TransportTLV, error) {
	if j.Aborted {
		return nil, fmt.Errorf("job: send-job for object %d is aborted", j.ObjectID)
	}
	if !j.HasNext() {
		return nil, fmt.Errorf("job: send-job for object %d has no more chunks", j.ObjectID)
	}

	if j.NextChunk == -1 {
		j.NextChunk++
		return wire.ObjectHeader{
			ObjectID:    j.ObjectID,
			NumChunks:   j.ChunkCount(),
			AckRequired: j.AckRequired,
			ObjectType:  j.ObjectType,
			Fields:      j.Fields,
		}, nil
	}

	id := j.NextChunk
	data, enclosed, err := j.Produce(id)
	if err != nil {
		return nil, fmt.Errorf("job: produce chunk %d for object %d: %w", id, j.ObjectID, err)
	}
	j.NextChunk++
	more := j.HasNext()
	if !more && !j.finishedNotified {
		j.finishedNotified = true
		if j.OnFinished != nil {
			defer j.OnFinished()
		}
	}
	return wire.ObjectChunk{
		ObjectID:        j.ObjectID,
		ChunkID:         id,
		MoreChunks:      more,
		AckRequired:     j.AckRequired,
		NumEnclosedMsgs: enclosed,
		Data:            data,
	}, nil
}

// Skip advances NextChunk to chunkID, honoring an ObjectSkip TLV from the
// peer.
func (j *SendJob) Skip(chunkID int64) {
	if chunkID > j.NextChunk {
		j.NextChunk = chunkID
	}
}

// Abort marks the job so the tick loop drops it without emitting further
// chunks.
func (j *SendJob) Abort() { j.Aborted = true }
