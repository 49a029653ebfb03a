package main

import (
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"

	"github.com/quince-project/quince/transport"
)

func newProbeCommand() *cobra.Command {
	var (
		listenAddr string
		wait       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "probe <address>",
		Short: "Send a version-negotiation probe and report whether anything answers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProbe(args[0], listenAddr, wait)
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen", "0.0.0.0:0", "local UDP address to bind")
	cmd.Flags().DurationVar(&wait, "wait", 2*time.Second, "how long to wait for a response")
	return cmd
}

func runProbe(addr, listenAddr string, wait time.Duration) error {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", addr, err)
	}
	laddr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", listenAddr, err)
	}
	sock, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return err
	}
	defer sock.Close()

	destCID := randomConnectionID(transport.MaxCIDLength)
	srcCID := randomConnectionID(transport.MaxCIDLength)
	probe := transport.BuildVersionNegotiationProbe(destCID, srcCID)

	if _, err := sock.WriteTo(probe, raddr); err != nil {
		return fmt.Errorf("send probe: %w", err)
	}
	fmt.Printf("sent %d-byte probe to %s, waiting up to %s\n", len(probe), raddr, wait)

	_ = sock.SetReadDeadline(time.Now().Add(wait))
	buf := make([]byte, transport.MaxPacketLength)
	n, from, err := sock.ReadFrom(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			fmt.Println("no response: target is either silent or not speaking QUIC")
			return nil
		}
		return err
	}

	gotDest, gotSrc, versions, err := transport.ParseVersionNegotiationPacket(buf[:n])
	if err != nil {
		fmt.Printf("response from %s (%d bytes) did not parse as version negotiation: %v\n", from, n, err)
		return nil
	}
	fmt.Printf("version negotiation from %s: dest=%x src=%x versions=%x\n", from, gotDest, gotSrc, versions)
	return nil
}
