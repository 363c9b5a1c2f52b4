package job

// AckRequestState tracks whether/how a ReceiveJob's peer wants acks for
// this object.
type AckRequestState int64

const (
	AckRequestNone       AckRequestState = -1
	AckRequestSuppressed AckRequestState = -2
)

// ReceiveJob is created on the first ObjectHeader seen for an object_id
// that has no receive job yet; the connection engine keys receive jobs by
// object_id alone, so object_type does not distinguish two objects that
// share an id. Its header fields
// and pending-ack bookkeeping live here; the actual chunk bytes are
// delivered to the caller as decoded events by the connection engine
// so the state
// machine applies them to FileRecvState/ObjectRecvState directly instead
// of through re-entrant callbacks.
type ReceiveJob struct {
	ObjectID    uint64
	ObjectType  byte
	NumChunks   int64
	Aborted     bool
	AckRequired bool

	AckRequest AckRequestState

	// pendingAcks accumulates chunk ids observed with ack_required set
	// since the last ObjectAck batch was sent.
	pendingAcks []int64
}

// NewReceiveJob creates a job from a decoded ObjectHeader.
func NewReceiveJob(objectType byte, objectID uint64, numChunks int64, ackRequired bool) *ReceiveJob {
	return &ReceiveJob{
		ObjectID:    objectID,
		ObjectType:  objectType,
		NumChunks:   numChunks,
		AckRequired: ackRequired,
		AckRequest:  AckRequestNone,
	}
}

// RecordAck notes that chunkID has been received and should be reported
// back to the sender in the next batched ObjectAck.
func (j *ReceiveJob) RecordAck(chunkID int64) {
	if j.Aborted {
		return
	}
	j.pendingAcks = append(j.pendingAcks, chunkID)
}

// DrainPendingAcks returns and clears the chunk ids accumulated since the
// last drain, for the connection engine to batch into one ObjectAck TLV
// per tick.
func (j *ReceiveJob) DrainPendingAcks() []int64 {
	if len(j.pendingAcks) == 0 {
		return nil
	}
	out := j.pendingAcks
	j.pendingAcks = nil
	return out
}

// Abort marks the job so further chunks for this object are ignored.
func (j *ReceiveJob) Abort() { j.Aborted = true }
