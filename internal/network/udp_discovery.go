package network

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/gridlight-project/gridlight/internal/config"
	"github.com/gridlight-project/gridlight/internal/util"
)

// DiscoveryMagicByte is the first byte of a valid discovery probe.
// Anything else is ignored so the port can be shared with stray traffic.
const DiscoveryMagicByte = 0xD1

// StatusProvider supplies the live counters advertised in discovery
// responses.
type StatusProvider interface {
	PeerCount() int
	RoomCount() int
}

// DiscoveryAnnouncement is the JSON payload sent back to a probing
// client.
type DiscoveryAnnouncement struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	GamePort int    `json:"game_port"`
	Peers    int    `json:"peers"`
	Rooms    int    `json:"rooms"`
}

// UDPDiscoveryListener answers LAN discovery probes. Clients broadcast
// a single magic byte and receive a small JSON announcement describing
// the server, so lobby browsers can find local instances without
// configuration.
type UDPDiscoveryListener struct {
	name     string
	version  string
	gamePort int
	port     int
	status   StatusProvider
	conn     *net.UDPConn
}

// NewUDPDiscoveryListener creates a discovery responder for the given
// server identity and configuration.
func NewUDPDiscoveryListener(name, version string, server config.ServerData, discovery config.DiscoveryConfig, status StatusProvider) *UDPDiscoveryListener {
	return &UDPDiscoveryListener{
		name:     name,
		version:  version,
		gamePort: server.ListenPort,
		port:     discovery.Port,
		status:   status,
	}
}

// Start begins answering discovery probes. It blocks until ctx is
// cancelled.
func (l *UDPDiscoveryListener) Start(ctx context.Context) error {
	logger := util.ComponentLogger("discovery")

	// SO_REUSEADDR so a restart can rebind while the old socket sits
	// in TIME_WAIT.
	lc := ReuseAddrListenConfig()
	pc, err := lc.ListenPacket(ctx, "udp4", fmt.Sprintf("0.0.0.0:%d", l.port))
	if err != nil {
		return fmt.Errorf("starting discovery listener on port %d: %w", l.port, err)
	}
	l.conn = pc.(*net.UDPConn)

	logger.Info().Int("port", l.port).Msg("discovery listener started")

	go func() {
		<-ctx.Done()
		l.conn.Close()
	}()

	buf := make([]byte, 64)
	for {
		n, remoteAddr, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				logger.Info().Msg("discovery listener stopping")
				return nil
			default:
				logger.Error().Err(err).Msg("discovery read error")
				continue
			}
		}

		if n < 1 || buf[0] != DiscoveryMagicByte {
			continue
		}

		response, err := json.Marshal(l.announcement())
		if err != nil {
			logger.Error().Err(err).Msg("encoding discovery announcement")
			continue
		}

		if _, err := l.conn.WriteToUDP(response, remoteAddr); err != nil {
			logger.Warn().
				Err(err).
				Str("remote", remoteAddr.String()).
				Msg("failed to send discovery response")
			continue
		}

		logger.Trace().
			Str("remote", remoteAddr.String()).
			Msg("answered discovery probe")
	}
}

func (l *UDPDiscoveryListener) announcement() DiscoveryAnnouncement {
	ann := DiscoveryAnnouncement{
		Name:     l.name,
		Version:  l.version,
		GamePort: l.gamePort,
	}
	if l.status != nil {
		ann.Peers = l.status.PeerCount()
		ann.Rooms = l.status.RoomCount()
	}
	return ann
}

// SelfTest probes the listener over loopback and verifies a response
// arrives.
func (l *UDPDiscoveryListener) SelfTest() error {
	addr := &net.UDPAddr{
		IP:   net.IPv4(127, 0, 0, 1),
		Port: l.port,
	}

	conn, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		return fmt.Errorf("self-test dial failed: %w", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte{DiscoveryMagicByte}); err != nil {
		return fmt.Errorf("self-test write failed: %w", err)
	}

	buf := make([]byte, 1024)
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	n, err := conn.Read(buf)
	if err != nil {
		return fmt.Errorf("self-test read failed: %w", err)
	}

	var ann DiscoveryAnnouncement
	if err := json.Unmarshal(buf[:n], &ann); err != nil {
		return fmt.Errorf("self-test decode failed: %w", err)
	}
	return nil
}

// Stop closes the UDP socket.
func (l *UDPDiscoveryListener) Stop() error {
	if l.conn != nil {
		return l.conn.Close()
	}
	return nil
}
