// Package relay implements a blind UDP datagram forwarder: a NAT/firewall
// traversal aid that sits between an RFT client and server, forwarding
// datagrams in both directions without parsing them. It is protocol-agnostic
// by design.
package relay

import (
	"fmt"
	"net"
	"sync"

	"github.com/josephbirkner/r2ft/internal/obs"
)

// maxDatagram mirrors pkg/wire.MaxFrameSize without importing pkg/wire: the
// relay forwards raw bytes and has no reason to depend on RFT's codec.
const maxDatagram = 9000

// Forwarder relays UDP datagrams between the first peer that sent one to its
// listen socket and a fixed upstream address. Unlike a proper NAT-traversal
// relay it tracks exactly one downstream peer at a time, matching RFT's
// single-peer-per-connection model.
type Forwarder struct {
	ListenAddr  *net.UDPAddr
	ForwardAddr *net.UDPAddr

	log *obs.Logger

	conn   *net.UDPConn
	closed chan struct{}
	wg     sync.WaitGroup

	mu       sync.Mutex
	peerAddr *net.UDPAddr
}

// NewForwarder binds listen and prepares to relay datagrams to forward.
func NewForwarder(listen, forward string, log *obs.Logger) (*Forwarder, error) {
	laddr, err := net.ResolveUDPAddr("udp", listen)
	if err != nil {
		return nil, fmt.Errorf("relay: resolve listen addr: %w", err)
	}
	faddr, err := net.ResolveUDPAddr("udp", forward)
	if err != nil {
		return nil, fmt.Errorf("relay: resolve forward addr: %w", err)
	}
	c, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("relay: listen: %w", err)
	}
	if log == nil {
		log = obs.New(nil)
	}
	return &Forwarder{
		ListenAddr:  laddr,
		ForwardAddr: faddr,
		log:         log,
		conn:        c,
		closed:      make(chan struct{}),
	}, nil
}

// Start begins forwarding datagrams in a background goroutine until Close is
// called.
func (f *Forwarder) Start() {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		buf := make([]byte, maxDatagram)
		for {
			n, from, err := f.conn.ReadFromUDP(buf)
			if err != nil {
				select {
				case <-f.closed:
					return
				default:
					f.log.Error(err, "relay read failed")
					continue
				}
			}
			dest := f.routeFor(from)
			if _, err := f.conn.WriteToUDP(buf[:n], dest); err != nil {
				f.log.Error(err, "relay forward failed")
			}
		}
	}()
}

// routeFor decides the forward destination for a datagram from src: the
// first source seen becomes the downstream peer of record and is never
// replaced; a datagram from that peer goes upstream, and anything else
// (including the upstream server's replies) goes to that peer.
func (f *Forwarder) routeFor(src *net.UDPAddr) *net.UDPAddr {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.peerAddr == nil || src.String() == f.peerAddr.String() {
		f.peerAddr = src
		return f.ForwardAddr
	}
	return f.peerAddr
}

// Close stops forwarding and releases the socket.
func (f *Forwarder) Close() error {
	close(f.closed)
	err := f.conn.Close()
	f.wg.Wait()
	return err
}
