package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gridlight-project/gridlight/internal/session"
	"github.com/gridlight-project/gridlight/internal/util"
)

// handleStatus returns an aggregate snapshot of the server.
func (s *Server) handleStatus(c *gin.Context) {
	cpuUsage, _ := util.GetCPUUsage()
	memUsage, err := util.GetMemoryUsage()

	status := gin.H{
		"version":     util.Version,
		"uptime":      time.Since(s.startedAt).Round(time.Second).String(),
		"peers":       s.registry.PeerCount(),
		"rooms":       s.registry.RoomCount(),
		"cpu_percent": cpuUsage,
	}
	if err == nil {
		status["memory_used_mb"] = memUsage.Used
		status["memory_percent"] = memUsage.UsedPercent
	}

	c.JSON(http.StatusOK, status)
}

// handleListRooms returns the projection of every registered room,
// including invisible ones; this is an operator view, not the
// client-facing room list.
func (s *Server) handleListRooms(c *gin.Context) {
	rooms := s.registry.Rooms()
	out := make([]gin.H, 0, len(rooms))
	for _, rm := range rooms {
		info := rm.Info()
		out = append(out, gin.H{
			"name":         info.Name,
			"player_count": info.PlayerCount,
			"max_players":  info.MaxPlayers,
			"is_open":      info.IsOpen,
			"is_visible":   info.IsVisible,
			"master_id":    rm.MasterID(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"rooms": out, "count": len(out)})
}

// handleGetRoom returns the full detail of one room.
func (s *Server) handleGetRoom(c *gin.Context) {
	rm, ok := s.registry.Room(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}

	info := rm.Info()
	stats := rm.Stats()
	c.JSON(http.StatusOK, gin.H{
		"name":          info.Name,
		"player_count":  info.PlayerCount,
		"max_players":   info.MaxPlayers,
		"is_open":       info.IsOpen,
		"is_visible":    info.IsVisible,
		"properties":    info.Properties,
		"master_id":     rm.MasterID(),
		"member_ids":    rm.MemberIDs(),
		"cached_events": rm.CachedEventCount(),
		"created_at":    rm.CreatedAt().UTC().Format(time.RFC3339),
		"stats": gin.H{
			"joins":         stats.Joins,
			"leaves":        stats.Leaves,
			"events_raised": stats.EventsRaised,
			"events_sent":   stats.EventsSent,
		},
	})
}

// handleListPeers returns a summary row per connected peer.
func (s *Server) handleListPeers(c *gin.Context) {
	peers := s.registry.Peers()
	out := make([]gin.H, 0, len(peers))
	for _, p := range peers {
		out = append(out, peerSummary(p))
	}
	c.JSON(http.StatusOK, gin.H{"peers": out, "count": len(out)})
}

// handleGetPeer returns the full detail of one peer.
func (s *Server) handleGetPeer(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 16)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid peer id"})
		return
	}

	p, ok := s.registry.Peer(uint16(id))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "peer not found"})
		return
	}

	stats := p.Stats()
	reliable, unreliable := p.SequenceNumbers()
	detail := peerSummary(p)
	detail["properties"] = p.Properties()
	detail["connected_at"] = p.ConnectedAt().UTC().Format(time.RFC3339)
	detail["last_activity"] = p.LastActivity().UTC().Format(time.RFC3339)
	detail["reliable_seq"] = reliable
	detail["unreliable_seq"] = unreliable
	detail["stats"] = gin.H{
		"bytes_in":      stats.BytesIn,
		"bytes_out":     stats.BytesOut,
		"messages_in":   stats.MessagesIn,
		"messages_out":  stats.MessagesOut,
		"decode_errors": stats.DecodeErrors,
	}

	c.JSON(http.StatusOK, detail)
}

func peerSummary(p *session.Peer) gin.H {
	roomName := ""
	if h := p.Room(); h != nil {
		roomName = h.Name()
	}
	return gin.H{
		"id":            p.ID(),
		"remote":        p.RemoteAddr().String(),
		"state":         p.State().String(),
		"authenticated": p.Authenticated(),
		"nickname":      p.Nickname(),
		"user_id":       p.UserID(),
		"room":          roomName,
		"is_master":     p.IsMaster(),
	}
}

// handleHistorySessions serves recent session rows from the journal.
func (s *Server) handleHistorySessions(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history journal is disabled"})
		return
	}

	limit := 100
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	sessions, err := s.journal.RecentSessions(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read journal"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions, "count": len(sessions)})
}

// handleHistoryOperations serves the accumulated operation counters.
func (s *Server) handleHistoryOperations(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history journal is disabled"})
		return
	}

	stats, err := s.journal.OpStats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read journal"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"operations": stats})
}
