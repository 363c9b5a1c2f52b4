// Package netio abstracts the datagram socket RFT's connection engine sits
// on top of. The core itself only needs a send/receive surface; expressing it as
// the standard net.Conn interface, rather than threading a concrete
// *net.UDPConn through the rest of the stack, is what lets internal/testloss
// wrap it with deterministic loss in tests without touching connection
// engine code.
package netio

import (
	"net"
	"time"
)

// PacketConn is the send/receive surface the connection engine depends on.
// It is exactly net.Conn: Read/Write a single peer's datagrams, with
// SetReadDeadline used to poll without blocking.
type PacketConn = net.Conn

// DialUDP connects a UDP socket to addr, used by the client side of the
// handshake.
func DialUDP(addr string) (PacketConn, error) {
	return net.Dial("udp", addr)
}

// filteredConn adapts an unconnected net.PacketConn (bound by a Listener)
// plus a known peer address into a net.Conn: reads discard datagrams from
// any other source, writes always target the peer. The standard library has
// no portable way to reconnect an already-bound datagram socket, so RFT
// instead filters by source address on the existing listening socket, which
// is externally indistinguishable from a rebind.
type filteredConn struct {
	pc   net.PacketConn
	peer net.Addr
}

func newFilteredConn(pc net.PacketConn, peer net.Addr) PacketConn {
	return &filteredConn{pc: pc, peer: peer}
}

// NewFilteredConn is the exported constructor internal/conn's Listener uses
// once it has read a peer's first datagram off a shared net.PacketConn.
func NewFilteredConn(pc net.PacketConn, peer net.Addr) PacketConn {
	return newFilteredConn(pc, peer)
}

func (c *filteredConn) Read(buf []byte) (int, error) {
	for {
		n, from, err := c.pc.ReadFrom(buf)
		if err != nil {
			return n, err
		}
		if from.String() == c.peer.String() {
			return n, nil
		}
		// Datagram from a different source: this listener serves exactly
		// one peer, so anything else is ignored.
	}
}

func (c *filteredConn) Write(buf []byte) (int, error) {
	return c.pc.WriteTo(buf, c.peer)
}

func (c *filteredConn) Close() error { return c.pc.Close() }

func (c *filteredConn) LocalAddr() net.Addr  { return c.pc.LocalAddr() }
func (c *filteredConn) RemoteAddr() net.Addr { return c.peer }

func (c *filteredConn) SetDeadline(t time.Time) error      { return c.pc.SetDeadline(t) }
func (c *filteredConn) SetReadDeadline(t time.Time) error  { return c.pc.SetReadDeadline(t) }
func (c *filteredConn) SetWriteDeadline(t time.Time) error { return c.pc.SetWriteDeadline(t) }
