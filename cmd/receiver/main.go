// Command receiver is RFT's server-mode binary: it listens for a single client, completes the handshake, and
// serves whatever files or directory listing the client requests out of the
// process's current working directory.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/josephbirkner/r2ft/internal/app"
	"github.com/josephbirkner/r2ft/internal/conn"
	"github.com/josephbirkner/r2ft/internal/fec"
	"github.com/josephbirkner/r2ft/internal/obs"
	"github.com/josephbirkner/r2ft/pkg/utils"
	"github.com/josephbirkner/r2ft/pkg/wire"
)

func main() {
	listenAddr := flag.String("u", "127.0.0.1:42424", "server listen address")
	fecData := flag.Int("fec-data", 0, "FEC data shards per group (0 disables FEC)")
	fecParity := flag.Int("fec-parity", 0, "FEC parity shards per group")
	idleTimeout := flag.Duration("idle-timeout", 30*time.Second, "connection idle timeout")
	flag.Parse()

	log := obs.New(os.Stderr)

	var coder *fec.Coder
	if *fecData > 0 && *fecParity > 0 {
		var err error
		coder, err = fec.NewCoder(*fecData, *fecParity)
		if err != nil {
			log.Error(err, "invalid FEC shard configuration")
			os.Exit(1)
		}
	}

	own := wire.HostInformation{
		ReceiveWindow:   64,
		OutOfOrderLimit: 16,
		AppID:           1,
		AppVersion:      1,
	}
	if coder != nil {
		own.FECDataShards = uint8(*fecData)
		own.FECParityShards = uint8(*fecParity)
	}

	ln, err := conn.Listen(*listenAddr, log)
	if err != nil {
		log.Error(err, "listen failed")
		os.Exit(1)
	}
	defer ln.Close()
	fmt.Printf("listening on %s\n", ln.Addr())

	c, err := ln.Accept(own, *idleTimeout)
	if err != nil {
		log.Error(err, "accept failed")
		os.Exit(1)
	}

	sm := app.New(c, true, app.Config{FEC: coder, RequestAckEvery: false}, log)
	sm.OnError = func(err error) { log.Error(err, "client reported an error") }
	sm.OnFileSent = func(name string, size int64) {
		fmt.Printf("File %s fully transmitted (%s)\n", name, utils.HumanBytes(size))
	}

	for sm.Phase() != app.PhaseFinished {
		events, err := c.Tick(time.Now())
		if err != nil {
			log.Error(err, "tick failed")
			os.Exit(1)
		}
		if err := sm.Step(events); err != nil {
			log.Error(err, "state machine step failed")
			os.Exit(1)
		}
	}
}
