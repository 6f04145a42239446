package network

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gridlight-project/gridlight/internal/config"
	"github.com/gridlight-project/gridlight/internal/util"
)

// WSListener accepts WebSocket clients and bridges them onto the same
// peer engine as the TCP listener. Browser builds cannot open raw TCP
// sockets, so they speak the identical binary protocol inside
// WebSocket binary frames.
type WSListener struct {
	cfg      config.WebSocketConfig
	acceptor PeerAcceptor
	server   *http.Server
	upgrader websocket.Upgrader
}

// NewWSListener creates a WebSocket listener handing accepted
// connections to the given acceptor.
func NewWSListener(cfg config.WebSocketConfig, acceptor PeerAcceptor) *WSListener {
	return &WSListener{
		cfg:      cfg,
		acceptor: acceptor,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Game clients connect from arbitrary origins
			// (desktop builds send none at all).
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Start serves the WebSocket endpoint. It blocks until ctx is
// cancelled or the server fails.
func (l *WSListener) Start(ctx context.Context) error {
	logger := util.ComponentLogger("ws_listener")

	path := l.cfg.Path
	if path == "" {
		path = "/ws"
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		ws, err := l.upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
			return
		}
		conn := newWSConn(ws)
		if err := l.acceptor.Accept(ctx, conn); err != nil {
			logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket connection refused")
		}
	})

	addr := fmt.Sprintf(":%d", l.cfg.Port)
	lc := ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("starting websocket listener on %s: %w", addr, err)
	}

	l.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info().Str("addr", ln.Addr().String()).Str("path", path).Msg("websocket listener started")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		l.server.Shutdown(shutdownCtx)
	}()

	if err := l.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("websocket server: %w", err)
	}
	logger.Info().Msg("websocket listener stopped")
	return nil
}

// Stop shuts the HTTP server down immediately.
func (l *WSListener) Stop() error {
	if l.server != nil {
		return l.server.Close()
	}
	return nil
}
