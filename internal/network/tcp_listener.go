// Package network implements the transport listeners that feed client
// connections into the peer engine: raw TCP, WebSocket framing for
// browser builds, and the UDP LAN discovery responder.
package network

import (
	"context"
	"fmt"
	"net"

	"github.com/rs/zerolog/log"

	"github.com/gridlight-project/gridlight/internal/config"
)

// PeerAcceptor registers accepted connections. The registry implements
// it; rejection errors are the acceptor's to signal, the listener only
// logs them.
type PeerAcceptor interface {
	Accept(ctx context.Context, conn net.Conn) error
}

// TCPListener accepts game client connections on the configured
// address and hands each one to the peer acceptor.
type TCPListener struct {
	cfg      config.ServerData
	acceptor PeerAcceptor
	listener net.Listener
}

// NewTCPListener creates a listener bound to nothing yet; Start binds
// and begins accepting.
func NewTCPListener(cfg config.ServerData, acceptor PeerAcceptor) *TCPListener {
	return &TCPListener{cfg: cfg, acceptor: acceptor}
}

// Start binds the listen socket and runs the accept loop until ctx is
// cancelled. Blocks; run it in its own goroutine.
func (l *TCPListener) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", l.cfg.ListenHost, l.cfg.ListenPort)

	// SO_REUSEADDR so a restart can rebind while the old socket sits
	// in TIME_WAIT.
	lc := ReuseAddrListenConfig()
	var err error
	l.listener, err = lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("binding game listener on %s: %w", addr, err)
	}

	log.Info().Str("addr", addr).Msg("game listener started")

	go func() {
		<-ctx.Done()
		l.listener.Close()
	}()

	for {
		conn, err := l.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				log.Info().Msg("game listener stopping")
				return nil
			default:
				log.Error().Err(err).Msg("accept failed")
				continue
			}
		}

		log.Debug().
			Str("remote", conn.RemoteAddr().String()).
			Msg("new client connection")

		if err := l.acceptor.Accept(ctx, conn); err != nil {
			log.Warn().
				Err(err).
				Str("remote", conn.RemoteAddr().String()).
				Msg("connection refused")
		}
	}
}

// Addr returns the bound listen address, nil before Start.
func (l *TCPListener) Addr() net.Addr {
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

// Stop closes the listen socket.
func (l *TCPListener) Stop() error {
	if l.listener != nil {
		return l.listener.Close()
	}
	return nil
}
