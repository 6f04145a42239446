package registry

import (
	"context"
	"time"

	"github.com/gridlight-project/gridlight/internal/events"
	"github.com/gridlight-project/gridlight/internal/session"
)

// Run starts the liveness and cleanup sweeps. Both stop when ctx is
// cancelled.
func (r *Registry) Run(ctx context.Context) {
	go r.livenessLoop(ctx)
	go r.cleanupLoop(ctx)
}

// livenessLoop pings idle peers and drops the ones past the inactivity
// threshold. The sweep runs at a third of the ping interval so a peer
// is probed well before it can time out.
func (r *Registry) livenessLoop(ctx context.Context) {
	interval := r.cfg.PingInterval() / 3
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.sweepLiveness(now)
		}
	}
}

func (r *Registry) sweepLiveness(now time.Time) {
	timeout := r.cfg.ConnectionTimeout()
	pingAfter := r.cfg.PingInterval()

	for _, p := range r.Peers() {
		idle := now.Sub(p.LastActivity())
		switch {
		case idle > timeout:
			r.logger.Info().
				Uint16("peer_id", p.ID()).
				Dur("idle", idle).
				Msg("peer inactive past timeout")
			p.Disconnect("inactivity timeout")
		case idle >= pingAfter && now.Sub(p.LastPingSent()) >= pingAfter:
			if err := p.SendPing(); err != nil {
				r.logger.Debug().
					Err(err).
					Uint16("peer_id", p.ID()).
					Msg("liveness ping not queued")
			}
		}
	}
}

// cleanupLoop destroys rooms that have sat empty past their TTL.
func (r *Registry) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.CleanupInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.sweepRooms(ctx, now)
		}
	}
}

func (r *Registry) sweepRooms(ctx context.Context, now time.Time) {
	for _, rm := range r.Rooms() {
		if !rm.CleanupEligible(now) {
			continue
		}
		if err := r.DestroyRoom(ctx, rm.Name(), false); err != nil {
			// A peer joined between the check and the destroy.
			r.logger.Debug().Err(err).Str("room", rm.Name()).Msg("cleanup skipped")
		}
	}
}

// Shutdown drains the server: new connections are refused, every peer
// gets a farewell, and stragglers are cut at the configured deadline.
func (r *Registry) Shutdown(ctx context.Context) {
	r.shutdownMu.Lock()
	if r.shuttingDown {
		r.shutdownMu.Unlock()
		return
	}
	r.shuttingDown = true
	r.shutdownMu.Unlock()

	r.bus.Emit(ctx, events.Event{
		Type:   events.EventServerStopping,
		Source: "registry",
		Payload: events.ServerContext{
			PeerCount: r.PeerCount(),
			RoomCount: r.RoomCount(),
		},
	})

	peers := r.Peers()
	r.logger.Info().Int("peers", len(peers)).Msg("draining peers")
	for _, p := range peers {
		p.Disconnect("server shutting down")
	}

	r.waitForPeers(peers)

	for _, rm := range r.Rooms() {
		if err := r.DestroyRoom(ctx, rm.Name(), true); err != nil {
			r.logger.Warn().Err(err).Str("room", rm.Name()).Msg("room teardown failed")
		}
	}

	r.bus.Emit(ctx, events.Event{
		Type:    events.EventServerStopped,
		Source:  "registry",
		Payload: events.ServerContext{},
	})
	r.logger.Info().Msg("registry drained")
}

// waitForPeers blocks until every peer has closed or the grace window
// runs out, then force-closes the stragglers.
func (r *Registry) waitForPeers(peers []*session.Peer) {
	deadline := time.NewTimer(r.cfg.GracefulShutdown())
	defer deadline.Stop()

	for _, p := range peers {
		select {
		case <-p.Closed():
		case <-deadline.C:
			for _, q := range peers {
				select {
				case <-q.Closed():
				default:
					q.ForceClose("server shutting down")
				}
			}
			return
		}
	}
}
