// Package testloss provides a deterministic packet-drop decorator for RFT's
// own end-to-end tests. This is a much simpler seeded uniform-drop wrapper,
// not a Markov-chain loss model, so RFT's tests can exercise out-of-order
// and re-delivery handling without a real lossy network.
// internal/netio.PacketConn being an interface is what makes wrapping it
// here possible without touching the connection engine.
package testloss

import (
	"math/rand"
	"net"
	"time"

	"github.com/josephbirkner/r2ft/internal/netio"
)

// Conn wraps a netio.PacketConn, dropping outbound writes with probability
// DropProbability using a seeded PRNG for reproducibility.
type Conn struct {
	netio.PacketConn
	rng             *rand.Rand
	dropProbability float64
}

// New wraps conn so that writes are dropped with the given probability
// (0.0-1.0), using seed for a reproducible sequence of drop decisions.
func New(conn netio.PacketConn, dropProbability float64, seed int64) *Conn {
	return &Conn{
		PacketConn:      conn,
		rng:             rand.New(rand.NewSource(seed)),
		dropProbability: dropProbability,
	}
}

// Write drops the datagram (reporting success to the caller, as a real
// lossy network would) with the configured probability; otherwise it
// passes through.
func (c *Conn) Write(buf []byte) (int, error) {
	if c.rng.Float64() < c.dropProbability {
		return len(buf), nil
	}
	return c.PacketConn.Write(buf)
}

var _ net.Conn = (*Conn)(nil)

// Deadline is a small helper for tests driving a non-blocking tick loop.
func Deadline(d time.Duration) time.Time { return time.Now().Add(d) }
