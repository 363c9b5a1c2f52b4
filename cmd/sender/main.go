// Command sender is RFT's client-mode binary: it dials a serving peer, requests the
// trailing file arguments, and writes them into the -out directory (the
// current directory by default).
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/josephbirkner/r2ft/internal/app"
	"github.com/josephbirkner/r2ft/internal/conn"
	"github.com/josephbirkner/r2ft/internal/obs"
	"github.com/josephbirkner/r2ft/pkg/wire"
)

func main() {
	sourcePort := flag.Int("t", 42424, "source port (must be >= 1024; only validated, the client socket binds an ephemeral port)")
	outDir := flag.String("out", ".", "directory to write received files into")
	compress := flag.Bool("compress", false, "request zstd-compressed transfer")
	listPath := flag.String("l", "", "request a directory listing instead of files")
	idleTimeout := flag.Duration("idle-timeout", 30*time.Second, "connection idle timeout")
	flag.Parse()

	if *sourcePort < 1024 {
		fmt.Fprintln(os.Stderr, "sender: -t must be >= 1024")
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: sender [flags] <host:port> <file...>")
		flag.Usage()
		os.Exit(1)
	}
	target := args[0]
	files := args[1:]
	if *listPath == "" && len(files) == 0 {
		fmt.Fprintln(os.Stderr, "sender: at least one file, or -l, is required")
		os.Exit(1)
	}

	log := obs.New(os.Stderr)

	own := wire.HostInformation{
		ReceiveWindow:   64,
		OutOfOrderLimit: 16,
		AppID:           1,
		AppVersion:      1,
	}

	c, err := conn.Dial(target, own, log, *idleTimeout)
	if err != nil {
		log.Error(err, "dial failed")
		os.Exit(1)
	}
	defer c.Close()

	// The sender only receives files, never serves them, so its decode-side
	// FEC coder (if any) is negotiated automatically from the server's
	// handshake HostInformation rather than configured here.
	sm := app.New(c, false, app.Config{DestDir: *outDir}, log)

	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		width = 40
	}
	var bar *progressbar.ProgressBar
	sm.OnObjectHeader = func(objectID uint64, numChunks int64) {
		bar = progressbar.NewOptions64(numChunks*wire.ContentChunkSize,
			progressbar.OptionSetDescription("receiving"),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(width/2),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}
	sm.OnChunkWritten = func(objectID uint64, n int) {
		if bar != nil {
			_ = bar.Add(n)
		}
	}

	exitCode := 0
	sm.OnFileReceived = func(path string, verified bool) {
		if verified {
			fmt.Printf("received %s\n", path)
		} else {
			fmt.Fprintf(os.Stderr, "sender: hash mismatch for %s\n", path)
			exitCode = 1
		}
	}
	listDone := false
	sm.OnListResponse = func(entries []wire.FileListEntry) {
		for _, e := range entries {
			kind := "file"
			if e.IsDir {
				kind = "dir"
			}
			fmt.Printf("%s\t%s\n", kind, e.Name)
		}
		listDone = true
	}
	sm.OnError = func(err error) {
		log.Error(err, "peer reported an error")
		exitCode = 1
	}

	requested := false
	deadline := time.Now().Add(2 * time.Minute)
	for sm.Phase() != app.PhaseFinished && !listDone && time.Now().Before(deadline) {
		events, err := c.Tick(time.Now())
		if err != nil {
			log.Error(err, "tick failed")
			os.Exit(1)
		}
		if err := sm.Step(events); err != nil {
			log.Error(err, "state machine step failed")
			os.Exit(1)
		}
		if sm.Phase() == app.PhaseConnected && !requested {
			requested = true
			if *listPath != "" {
				sm.RequestList(*listPath, 0)
			} else {
				sm.RequestFiles(files, *compress)
			}
		}
	}
	if sm.Phase() != app.PhaseFinished && !listDone {
		fmt.Fprintln(os.Stderr, "sender: timed out waiting for transfer to finish")
		os.Exit(1)
	}
	os.Exit(exitCode)
}
