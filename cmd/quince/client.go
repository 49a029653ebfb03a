package main

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	quic "github.com/quince-project/quince"
	"github.com/quince-project/quince/transport"
)

func newClientCommand() *cobra.Command {
	var (
		listenAddr string
		configPath string
		verbose    int
		hello      string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "client <address>",
		Short: "Dial a server and drive an Initial handshake attempt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(args[0], listenAddr, configPath, verbose, hello, metricsAddr)
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen", "0.0.0.0:0", "local UDP address to bind")
	cmd.Flags().StringVar(&configPath, "config", "", "TOML config file (defaults used when empty)")
	cmd.Flags().IntVar(&verbose, "v", 2, "log verbosity: 0=off 1=error 2=info 3=debug")
	cmd.Flags().StringVar(&hello, "hello", "quince-client-hello", "bytes sent as the Initial CRYPTO stub")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (disabled when empty)")
	return cmd
}

func runClient(addr, listenAddr, configPath string, verbose int, hello, metricsAddr string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
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

	metrics := quic.NewMetrics()
	serveMetrics(metricsAddr, metrics)
	logger := quic.NewZapLogger(os.Stdout, quic.LogLevel(verbose)).WithMetrics(metrics)
	visitor := &demoVisitor{label: "client"}
	scid := randomConnectionID(transport.MaxCIDLength)

	conn, err := transport.Connect(cfg, visitor, scid, nil, logger)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	// No TLS handshake driver exists in this module (SPEC_FULL.md §4
	// non-goal), so the CRYPTO stream below never carries a real
	// ClientHello; it only exercises SendCryptoData/the Initial flight.
	if _, err := conn.SendCryptoData(transport.EncryptionInitial, []byte(hello)); err != nil {
		return fmt.Errorf("queue initial crypto data: %w", err)
	}
	drainAndSend(conn, sock, raddr)

	buf := make([]byte, transport.MaxPacketLength)
	for !conn.IsClosed() {
		wait := conn.NextTimeout()
		if wait < 0 {
			wait = time.Second
		}
		_ = sock.SetReadDeadline(time.Now().Add(wait))

		n, from, err := sock.ReadFrom(buf)
		now := time.Now().UnixNano()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if aerr := conn.AdvanceTime(now); aerr != nil {
					return aerr
				}
				drainAndSend(conn, sock, raddr)
				continue
			}
			return err
		}
		if err := conn.ProcessUdpPacket(buf[:n], from.String(), false, now); err != nil {
			fmt.Fprintln(os.Stderr, "process packet:", err)
		}
		drainAndSend(conn, sock, raddr)
	}
	return nil
}

func loadConfig(path string) (*transport.Config, error) {
	if path == "" {
		return transport.DefaultConfig(), nil
	}
	return transport.LoadConfigFile(path)
}
