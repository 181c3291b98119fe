// Command penguin is the client/server CLI for the tunnel: it dials or
// listens for a WebSocket transport, multiplexes streams and datagrams over
// it, and bridges them to local TCP/UDP/SOCKS5/stdio endpoints.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
