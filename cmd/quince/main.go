// Command quince is a small client/server/probe harness over the
// transport package: it owns the UDP socket and event loop (pumping
// datagrams in and out of a *transport.Conn) but none of the protocol
// logic itself, matching spec.md's "no socket ownership beyond the
// pluggable PacketWriter interface" non-goal (SPEC_FULL.md §4).
package main

import (
	"fmt"
	"net"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "quince",
		Short: "Minimal client/server/prober for the quince QUIC transport core",
	}
	root.AddCommand(newClientCommand())
	root.AddCommand(newServerCommand())
	root.AddCommand(newProbeCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "quince:", err)
		os.Exit(1)
	}
}

// PacketWriter is the one piece of socket ownership this command needs:
// something that can address a reply back to whoever sent a datagram.
// *net.UDPConn satisfies it directly; tests can substitute a recorder.
type PacketWriter interface {
	WriteTo(b []byte, addr net.Addr) (int, error)
}
