package conn

import (
	"errors"
	"testing"
	"time"

	"github.com/josephbirkner/r2ft/internal/job"
	"github.com/josephbirkner/r2ft/pkg/wire"
)

func testHostInfo() wire.HostInformation {
	return wire.HostInformation{ReceiveWindow: 64, OutOfOrderLimit: 8, AppID: 1, AppVersion: 1}
}

// tickUntil drives c.Tick in a loop until pred returns a non-nil event or
// the deadline passes.
func tickUntil(t *testing.T, c *Connection, timeout time.Duration, pred func(Event) bool) (Event, bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		events, err := c.Tick(time.Now())
		if err != nil {
			t.Fatalf("Tick: %v", err)
		}
		for _, ev := range events {
			if pred(ev) {
				return ev, true
			}
		}
	}
	return Event{}, false
}

func TestHandshakeEndToEnd(t *testing.T) {
	ln, err := Listen("127.0.0.1:0", nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	type result struct {
		sessionID uint64
		err       error
	}
	serverDone := make(chan result, 1)
	go func() {
		sc, err := ln.Accept(testHostInfo(), time.Minute)
		if err != nil {
			serverDone <- result{err: err}
			return
		}
		ev, ok := tickUntil(t, sc, 5*time.Second, func(ev Event) bool { return ev.Kind == EventHandshakeCompleted })
		if !ok {
			serverDone <- result{err: errors.New("server handshake never completed")}
			return
		}
		serverDone <- result{sessionID: ev.SessionID}
	}()

	client, err := Dial(ln.Addr().String(), testHostInfo(), nil, time.Minute)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	ev, ok := tickUntil(t, client, 5*time.Second, func(ev Event) bool { return ev.Kind == EventHandshakeCompleted })
	if !ok {
		t.Fatalf("client handshake never completed")
	}
	clientSessionID := ev.SessionID
	if clientSessionID == 0 {
		t.Fatalf("expected nonzero session id")
	}

	res := <-serverDone
	if res.err != nil {
		t.Fatalf("server: %v", res.err)
	}
	if res.sessionID != clientSessionID {
		t.Fatalf("session id mismatch: server %d client %d", res.sessionID, clientSessionID)
	}
	if client.state != StateEstablished {
		t.Fatalf("expected client state established, got %s", client.state)
	}
}

func TestObjectTransferSingleChunk(t *testing.T) {
	ln, err := Listen("127.0.0.1:0", nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	serverConnCh := make(chan *Connection, 1)
	serverErrCh := make(chan error, 1)
	go func() {
		sc, err := ln.Accept(testHostInfo(), time.Minute)
		if err != nil {
			serverErrCh <- err
			return
		}
		if _, ok := tickUntil(t, sc, 5*time.Second, func(ev Event) bool { return ev.Kind == EventHandshakeCompleted }); !ok {
			serverErrCh <- errors.New("server handshake never completed")
			return
		}
		serverConnCh <- sc
	}()

	client, err := Dial(ln.Addr().String(), testHostInfo(), nil, time.Minute)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	if _, ok := tickUntil(t, client, 5*time.Second, func(ev Event) bool { return ev.Kind == EventHandshakeCompleted }); !ok {
		t.Fatalf("client handshake never completed")
	}

	var sc *Connection
	select {
	case sc = <-serverConnCh:
	case err := <-serverErrCh:
		t.Fatalf("server: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for server connection")
	}

	payload := []byte("hi")
	fields := []wire.ObjectField{{FieldType: 1, Length: 1}}
	sj := job.NewSendJob(42, 9, fields, false, func(chunkID int64) ([]byte, uint8, error) {
		return payload, 0, nil
	})
	client.EnqueueSend(sj)

	gotHeader := false
	var gotChunk []byte
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && gotChunk == nil {
		if _, err := client.Tick(time.Now()); err != nil {
			t.Fatalf("client Tick: %v", err)
		}
		events, err := sc.Tick(time.Now())
		if err != nil {
			t.Fatalf("server Tick: %v", err)
		}
		for _, ev := range events {
			switch ev.Kind {
			case EventObjectHeader:
				gotHeader = true
				if ev.Header.NumChunks != 1 {
					t.Fatalf("expected 1 chunk declared, got %d", ev.Header.NumChunks)
				}
			case EventObjectChunk:
				gotChunk = ev.ChunkData
			}
		}
	}
	if !gotHeader {
		t.Fatalf("never received object header")
	}
	if string(gotChunk) != "hi" {
		t.Fatalf("expected chunk data %q, got %q", "hi", gotChunk)
	}
}
