package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/gridlight-project/gridlight/internal/config"
)

// handleGetConfig returns the full current configuration.
func (s *Server) handleGetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"server":      s.cfg.GetServer(),
		"application": s.cfg.GetApplication(),
	})
}

// handleSetServerConfig replaces the core server configuration and
// persists it. The running registry keeps the server settings it was
// started with, so every change here takes effect after a restart.
func (s *Server) handleSetServerConfig(c *gin.Context) {
	var data config.ServerData
	if err := c.ShouldBindJSON(&data); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid server configuration payload"})
		return
	}

	if err := config.ValidateServer(data); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	s.cfg.SetServer(data)
	if err := s.cfg.Save(); err != nil {
		log.Error().Err(err).Msg("failed to persist server config")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to persist configuration"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"updated": "server"})
}

// handleSetApplicationConfig replaces the ambient application settings
// and persists them. Most take effect after a restart.
func (s *Server) handleSetApplicationConfig(c *gin.Context) {
	var data config.ApplicationData
	if err := c.ShouldBindJSON(&data); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid application configuration payload"})
		return
	}

	if err := config.ValidateApplication(data); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	s.cfg.SetApplication(data)
	if err := s.cfg.Save(); err != nil {
		log.Error().Err(err).Msg("failed to persist application config")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to persist configuration"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"updated": "application"})
}
