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

func newServerCommand() *cobra.Command {
	var (
		listenAddr  string
		configPath  string
		verbose     int
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Accept Initial packets and demux them into per-peer connections",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(listenAddr, configPath, verbose, metricsAddr)
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen", "0.0.0.0:4433", "local UDP address to bind")
	cmd.Flags().StringVar(&configPath, "config", "", "TOML config file (defaults used when empty)")
	cmd.Flags().IntVar(&verbose, "v", 2, "log verbosity: 0=off 1=error 2=info 3=debug")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (disabled when empty)")
	return cmd
}

// peerConn pairs a connection with the address this command demuxes it
// by. Demuxing by remote address rather than connection id keeps the demo
// simple; a production listener would also track a peer's issued cids
// across migration (connid.go already supports that, see conn_path.go).
type peerConn struct {
	conn *transport.Conn
	addr net.Addr
}

func runServer(listenAddr, configPath string, verbose int, metricsAddr string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
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
	peers := make(map[string]*peerConn)

	buf := make([]byte, transport.MaxPacketLength)
	_ = sock.SetReadDeadline(time.Now().Add(time.Second))
	for {
		n, from, err := sock.ReadFrom(buf)
		now := time.Now().UnixNano()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				advanceAll(peers, sock, now)
				_ = sock.SetReadDeadline(time.Now().Add(time.Second))
				continue
			}
			return err
		}

		key := from.String()
		pc, ok := peers[key]
		if !ok {
			conn, err := acceptPeer(cfg, logger, buf[:n], key)
			if err != nil {
				fmt.Fprintln(os.Stderr, "accept from", from, ":", err)
				continue
			}
			pc = &peerConn{conn: conn, addr: from}
			peers[key] = pc
		}

		if err := pc.conn.ProcessUdpPacket(buf[:n], key, false, now); err != nil {
			fmt.Fprintln(os.Stderr, "process packet from", from, ":", err)
		}
		drainAndSend(pc.conn, sock, pc.addr)
		if pc.conn.IsClosed() {
			delete(peers, key)
		}
		_ = sock.SetReadDeadline(time.Now().Add(time.Second))
	}
}

// acceptPeer peeks the first datagram's long header to learn the client's
// chosen odcid/scid before constructing the server-side connection, which
// needs them to derive matching Initial secrets (§4.4).
func acceptPeer(cfg *transport.Config, logger *transport.Logger, datagram []byte, label string) (*transport.Conn, error) {
	h, err := transport.ParseLongHeader(datagram)
	if err != nil {
		return nil, fmt.Errorf("not a long header: %w", err)
	}
	scid := randomConnectionID(transport.MaxCIDLength)
	visitor := &demoVisitor{label: "server[" + label + "]"}
	return transport.Accept(cfg, visitor, scid, h.DestCID, h.SrcCID, logger)
}

func advanceAll(peers map[string]*peerConn, w PacketWriter, nowNano int64) {
	for key, pc := range peers {
		if err := pc.conn.AdvanceTime(nowNano); err != nil {
			fmt.Fprintln(os.Stderr, "advance", key, ":", err)
		}
		drainAndSend(pc.conn, w, pc.addr)
		if pc.conn.IsClosed() {
			delete(peers, key)
		}
	}
}
