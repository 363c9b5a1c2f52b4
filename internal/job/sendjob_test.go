package job

import (
	"testing"

	"github.com/josephbirkner/r2ft/pkg/wire"
)

func TestSendJobEmitsHeaderThenChunksInOrder(t *testing.T) {
	fields := []wire.ObjectField{{FieldType: 1, Length: 1}, {FieldType: 2, Length: 2}}
	var produced []int64
	finished := false

	sj := NewSendJob(1, 9, fields, false, func(chunkID int64) ([]byte, uint8, error) {
		produced = append(produced, chunkID)
		return []byte{byte(chunkID)}, 1, nil
	})
	sj.OnFinished = func() { finished = true }

	var frames []wire.TransportTLV
	for sj.HasNext() {
		f, err := sj.Send()
		if err != nil {
			t.Fatalf("Send: %v", err)
		}
		frames = append(frames, f)
	}

	// header + 3 content chunks (field lengths sum to 3)
	if len(frames) != 4 {
		t.Fatalf("expected 4 frames (1 header + 3 chunks), got %d", len(frames))
	}
	if _, ok := frames[0].(wire.ObjectHeader); !ok {
		t.Fatalf("expected first frame to be ObjectHeader, got %T", frames[0])
	}
	for i, want := range []int64{0, 1, 2} {
		chunk, ok := frames[i+1].(wire.ObjectChunk)
		if !ok {
			t.Fatalf("expected ObjectChunk at %d, got %T", i+1, frames[i+1])
		}
		if chunk.ChunkID != want {
			t.Fatalf("expected chunk_id %d at position %d, got %d", want, i, chunk.ChunkID)
		}
	}
	if len(produced) != 3 || produced[0] != 0 || produced[2] != 2 {
		t.Fatalf("unexpected producer call order: %v", produced)
	}
	if !finished {
		t.Fatalf("expected OnFinished to fire after last chunk")
	}
	lastChunk := frames[3].(wire.ObjectChunk)
	if lastChunk.MoreChunks {
		t.Fatalf("expected last chunk to have more_chunks=false")
	}
}

func TestSendJobAbortStopsEmission(t *testing.T) {
	sj := NewSendJob(1, 9, []wire.ObjectField{{FieldType: 1, Length: 5}}, false, func(int64) ([]byte, uint8, error) {
		return nil, 0, nil
	})
	sj.Abort()
	if sj.HasNext() {
		t.Fatalf("expected aborted job to report no next frame")
	}
	if _, err := sj.Send(); err == nil {
		t.Fatalf("expected Send on aborted job to error")
	}
}

func TestSendJobSkipAdvancesCursor(t *testing.T) {
	sj := NewSendJob(1, 9, []wire.ObjectField{{FieldType: 1, Length: 10}}, false, func(chunkID int64) ([]byte, uint8, error) {
		return []byte{byte(chunkID)}, 1, nil
	})
	// consume header
	if _, err := sj.Send(); err != nil {
		t.Fatalf("Send header: %v", err)
	}
	sj.Skip(5)
	f, err := sj.Send()
	if err != nil {
		t.Fatalf("Send after skip: %v", err)
	}
	chunk := f.(wire.ObjectChunk)
	if chunk.ChunkID != 5 {
		t.Fatalf("expected chunk_id 5 after skip, got %d", chunk.ChunkID)
	}
}
