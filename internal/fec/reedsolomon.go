// Package fec implements RFT's optional forward-error-correction layer for
// file content: Coder operates on chunk-sized groups of content chunks —
// every DataShards-sized run of content chunks in an object gets
// ParityShards additional parity chunks appended as a trailing object
// field past the content field.
package fec

import (
	"fmt"

	rs "github.com/klauspost/reedsolomon"
)

// Coder wraps a Reed-Solomon encoder/decoder configured for one
// (DataShards, ParityShards) group size, negotiated via HostInformation's
// additive FEC fields.
type Coder struct {
	DataShards   int
	ParityShards int

	codec rs.Encoder
}

// NewCoder creates a Coder for the given shard counts. Passing 0,0 for
// either is the caller's responsibility to detect as "FEC disabled" before
// calling NewCoder; it is an error here.
func NewCoder(dataShards, parityShards int) (*Coder, error) {
	if dataShards <= 0 || parityShards <= 0 {
		return nil, fmt.Errorf("fec: dataShards and parityShards must be > 0")
	}
	codec, err := rs.New(dataShards, parityShards)
	if err != nil {
		return nil, fmt.Errorf("fec: construct codec: %w", err)
	}
	return &Coder{DataShards: dataShards, ParityShards: parityShards, codec: codec}, nil
}

// GroupSize is the number of content chunks (data shards) one parity group
// covers.
func (c *Coder) GroupSize() int { return c.DataShards }

// EncodeParity computes ParityShards parity shards for a group of
// DataShards equally-sized data shards. dataShards not evenly dividing the
// configured count (the final, short group of an object) should be padded
// by the caller to a common shard size before calling this.
func (c *Coder) EncodeParity(dataShards [][]byte) ([][]byte, error) {
	if len(dataShards) != c.DataShards {
		return nil, fmt.Errorf("fec: expected %d data shards, got %d", c.DataShards, len(dataShards))
	}
	shardSize := len(dataShards[0])
	shards := make([][]byte, c.DataShards+c.ParityShards)
	for i, d := range dataShards {
		if len(d) != shardSize {
			return nil, fmt.Errorf("fec: data shard %d has size %d, want %d", i, len(d), shardSize)
		}
		shards[i] = d
	}
	for i := c.DataShards; i < len(shards); i++ {
		shards[i] = make([]byte, shardSize)
	}
	if err := c.codec.Encode(shards); err != nil {
		return nil, fmt.Errorf("fec: encode: %w", err)
	}
	return shards[c.DataShards:], nil
}

// Reconstruct fills in missing shards (nil entries) given at least
// DataShards non-nil shards of consistent size, in place.
func (c *Coder) Reconstruct(shards [][]byte) error {
	if len(shards) != c.DataShards+c.ParityShards {
		return fmt.Errorf("fec: expected %d shards, got %d", c.DataShards+c.ParityShards, len(shards))
	}
	if err := c.ValidateShards(shards); err != nil {
		return err
	}
	if err := c.codec.Reconstruct(shards); err != nil {
		return fmt.Errorf("fec: reconstruct: %w", err)
	}
	return nil
}

// ValidateShards ensures present shards have a consistent size and that
// enough are present to reconstruct.
func (c *Coder) ValidateShards(shards [][]byte) error {
	if len(shards) != c.DataShards+c.ParityShards {
		return fmt.Errorf("fec: expected %d shards, got %d", c.DataShards+c.ParityShards, len(shards))
	}
	var shardLen, present int
	for i, sh := range shards {
		if sh == nil {
			continue
		}
		if shardLen == 0 {
			shardLen = len(sh)
		} else if len(sh) != shardLen {
			return fmt.Errorf("fec: shard %d has inconsistent length %d, want %d", i, len(sh), shardLen)
		}
		present++
	}
	if present < c.DataShards {
		return fmt.Errorf("fec: not enough shards present: have %d, need %d", present, c.DataShards)
	}
	return nil
}
