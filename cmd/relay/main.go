// Command relay runs a blind UDP forwarder between an RFT client and server,
// useful when the two can't reach each other directly.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"

	"github.com/josephbirkner/r2ft/internal/obs"
	"github.com/josephbirkner/r2ft/internal/relay"
)

func main() {
	listenAddr := flag.String("listen", ":9001", "UDP address to listen on")
	forwardAddr := flag.String("forward", "127.0.0.1:42424", "upstream UDP address to forward to")
	flag.Parse()

	obsLog := obs.New(os.Stderr)

	fwd, err := relay.NewForwarder(*listenAddr, *forwardAddr, obsLog)
	if err != nil {
		log.Fatalf("create forwarder: %v", err)
	}

	log.Printf("relay listening on %s, forwarding to %s", *listenAddr, *forwardAddr)
	fwd.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	<-sigCh
	log.Println("shutting down relay")
	if err := fwd.Close(); err != nil {
		log.Printf("error closing forwarder: %v", err)
	}
}
