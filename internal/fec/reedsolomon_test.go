package fec

import "testing"

func TestEncodeParityAndReconstructAfterLoss(t *testing.T) {
	coder, err := NewCoder(4, 2)
	if err != nil {
		t.Fatalf("NewCoder: %v", err)
	}

	data := [][]byte{
		[]byte("aaaa"),
		[]byte("bbbb"),
		[]byte("cccc"),
		[]byte("dddd"),
	}
	parity, err := coder.EncodeParity(data)
	if err != nil {
		t.Fatalf("EncodeParity: %v", err)
	}
	if len(parity) != 2 {
		t.Fatalf("expected 2 parity shards, got %d", len(parity))
	}

	shards := append(append([][]byte{}, data...), parity...)
	// Simulate losing two data shards — within the coder's repair budget.
	lost := [][]byte{shards[0], shards[1]}
	shards[0] = nil
	shards[1] = nil

	if err := coder.Reconstruct(shards); err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	for i, want := range lost {
		if string(shards[i]) != string(want) {
			t.Fatalf("shard %d not reconstructed: got %q, want %q", i, shards[i], want)
		}
	}
}

func TestValidateShardsRejectsTooFewPresent(t *testing.T) {
	coder, err := NewCoder(4, 2)
	if err != nil {
		t.Fatalf("NewCoder: %v", err)
	}
	shards := make([][]byte, 6)
	shards[0] = []byte("aaaa")
	shards[1] = []byte("bbbb")
	if err := coder.ValidateShards(shards); err == nil {
		t.Fatalf("expected validation error with only 2/4 data shards present")
	}
}
