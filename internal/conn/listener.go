package conn

import (
	"fmt"
	"net"
	"time"

	"github.com/josephbirkner/r2ft/internal/netio"
	"github.com/josephbirkner/r2ft/internal/obs"
	"github.com/josephbirkner/r2ft/pkg/wire"
)

// Listener accepts server-side connections on one bound UDP socket. Go's net.PacketConn has no portable way to hand a connected
// socket off per peer, so a Listener keeps the one shared socket and hands
// each accepted Connection a netio.filteredConn view of it instead — the
// "read-then-replay" shape: the first datagram from a new peer is read here,
// then replayed as that Connection's first Tick input.
type Listener struct {
	pc  net.PacketConn
	log *obs.Logger
}

// Listen binds addr and returns a Listener ready to Accept connections.
func Listen(addr string, log *obs.Logger) (*Listener, error) {
	pc, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("conn: listen %s: %w", addr, err)
	}
	if log == nil {
		log = obs.New(nil)
	}
	return &Listener{pc: pc, log: log}, nil
}

// Addr reports the listener's bound local address.
func (l *Listener) Addr() net.Addr { return l.pc.LocalAddr() }

// Close releases the shared socket. All Connections previously handed out
// by Accept become unusable.
func (l *Listener) Close() error { return l.pc.Close() }

// Accept blocks for the next datagram from any source and returns a new
// server-side Connection scoped to that datagram's sender. The datagram that triggered
// acceptance is not discarded: it is replayed as the returned Connection's
// first Tick input, so the handshake TLV it carries is still dispatched.
//
// Accept does not itself demultiplex already-accepted peers away from new
// ones; callers that Accept in a loop are expected to stop once they have
// the one peer they're expecting.
func (l *Listener) Accept(own wire.HostInformation, idleTimeout time.Duration) (*Connection, error) {
	buf := make([]byte, wire.MaxFrameSize)
	n, peer, err := l.pc.ReadFrom(buf)
	if err != nil {
		return nil, fmt.Errorf("conn: accept: %w", err)
	}
	data := make([]byte, n)
	copy(data, buf[:n])

	fc := netio.NewFilteredConn(l.pc, peer)
	c := newConnection(fc, true, own, l.log, idleTimeout)
	c.pendingFirstDatagram = data
	return c, nil
}
