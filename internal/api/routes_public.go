package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gridlight-project/gridlight/internal/util"
)

// handlePing is a trivial reachability probe.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"pong": time.Now().Unix()})
}

// handleHealthz reports liveness for load balancers and orchestrators.
func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// handleServerInfo returns static host and version information.
func (s *Server) handleServerInfo(c *gin.Context) {
	sysInfo := util.GetSystemInfo()
	srv := s.cfg.GetServer()
	c.JSON(http.StatusOK, gin.H{
		"version":     util.Version,
		"hostname":    sysInfo.Hostname,
		"os":          sysInfo.OS,
		"listen_host": srv.ListenHost,
		"listen_port": srv.ListenPort,
		"started_at":  s.startedAt.UTC().Format(time.RFC3339),
	})
}
