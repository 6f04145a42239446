package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// handleKickPeer disconnects a peer at operator request.
func (s *Server) handleKickPeer(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 16)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid peer id"})
		return
	}

	if !s.registry.KickPeer(uint16(id)) {
		c.JSON(http.StatusNotFound, gin.H{"error": "peer not found"})
		return
	}

	log.Info().Uint64("peer_id", id).Str("client_ip", c.ClientIP()).Msg("peer kicked via API")
	c.JSON(http.StatusOK, gin.H{"kicked": id})
}

// handleDestroyRoom tears a room down. Non-empty rooms require
// ?force=true, which detaches every member first.
func (s *Server) handleDestroyRoom(c *gin.Context) {
	name := c.Param("name")
	force := c.Query("force") == "true"

	if err := s.registry.DestroyRoom(c.Request.Context(), name, force); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	log.Info().Str("room", name).Bool("force", force).
		Str("client_ip", c.ClientIP()).Msg("room destroyed via API")
	c.JSON(http.StatusOK, gin.H{"destroyed": name})
}

// handleShutdown triggers a graceful server shutdown. The response is
// written before the drain starts so the caller gets an answer.
func (s *Server) handleShutdown(c *gin.Context) {
	log.Warn().Str("client_ip", c.ClientIP()).Msg("shutdown requested via API")
	c.JSON(http.StatusOK, gin.H{"shutting_down": true})

	if s.shutdown != nil {
		go s.shutdown()
	}
}
