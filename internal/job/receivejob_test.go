package job

import "testing"

func TestReceiveJobPendingAckBatching(t *testing.T) {
	rj := NewReceiveJob(9, 1, 3, true)
	rj.RecordAck(0)
	rj.RecordAck(1)

	got := rj.DrainPendingAcks()
	if len(got) != 2 || got[0] != 0 || got[1] != 1 {
		t.Fatalf("unexpected drained acks: %v", got)
	}
	if got2 := rj.DrainPendingAcks(); got2 != nil {
		t.Fatalf("expected second drain to be empty, got %v", got2)
	}
}

func TestReceiveJobAbortSuppressesAcks(t *testing.T) {
	rj := NewReceiveJob(9, 1, 3, true)
	rj.Abort()
	rj.RecordAck(0)
	if got := rj.DrainPendingAcks(); got != nil {
		t.Fatalf("expected aborted job to record no acks, got %v", got)
	}
}
