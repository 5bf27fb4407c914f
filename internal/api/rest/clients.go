package rest

import (
	"fmt"
	"net/http"
	"time"

	"github.com/KevinKickass/OpenSignageCore/internal/auth"
	"github.com/KevinKickass/OpenSignageCore/internal/protocol"
	"github.com/KevinKickass/OpenSignageCore/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type CommandRequest struct {
	Command    string         `json:"command" binding:"required"`
	Parameters map[string]any `json:"parameters"`
}

type StatusRequest struct {
	Status string `json:"status" binding:"required"`
	Reason string `json:"reason"`
}

// GET /api/v1/clients
func (s *Server) listClients(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"clients": s.lm.Hub().List()})
}

// GET /api/v1/clients/:id
func (s *Server) getClient(c *gin.Context) {
	client, err := s.lm.Hub().Get(c.Param("id"))
	if err != nil {
		s.fail(c, "CLIENT", err)
		return
	}
	c.JSON(http.StatusOK, client)
}

// GET /api/v1/clients/status/:status
func (s *Server) listClientsByStatus(c *gin.Context) {
	status, err := types.ParseClientStatus(c.Param("status"))
	if err != nil {
		s.fail(c, "CLIENT", err)
		return
	}

	matching := []types.Client{}
	for _, client := range s.lm.Hub().List() {
		if client.Status == status {
			matching = append(matching, client)
		}
	}
	c.JSON(http.StatusOK, gin.H{"clients": matching})
}

// GET /api/v1/clients/stale?timeout=2m
func (s *Server) listStaleClients(c *gin.Context) {
	timeout := s.lm.Monitor().Timeout()
	if raw := c.Query("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			s.fail(c, "CLIENT", fmt.Errorf("%w: timeout %q", types.ErrInvalidInput, raw))
			return
		}
		timeout = d
	}

	stale := s.lm.Monitor().StaleClients(timeout)
	if stale == nil {
		stale = []types.Client{}
	}
	c.JSON(http.StatusOK, gin.H{"clients": stale, "timeoutSeconds": int64(timeout.Seconds())})
}

// GET /api/v1/clients/:id/groups
func (s *Server) getClientGroups(c *gin.Context) {
	clientID := c.Param("id")
	c.JSON(http.StatusOK, gin.H{"groups": s.lm.Groups().GroupsFor(clientID)})
}

// GET /api/v1/clients/:id/playlist
func (s *Server) getClientPlaylist(c *gin.Context) {
	playlist, ok := s.lm.Playlists().ActiveForClient(c.Param("id"))
	if !ok {
		s.fail(c, "PLAYLIST", fmt.Errorf("%w: no active playlist for client %s", types.ErrNotFound, c.Param("id")))
		return
	}
	c.JSON(http.StatusOK, playlist)
}

// PUT /api/v1/clients/:id/status
func (s *Server) setClientStatus(c *gin.Context) {
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "CLIENT", err)
		return
	}
	status, err := types.ParseClientStatus(req.Status)
	if err != nil {
		s.fail(c, "CLIENT", err)
		return
	}

	reason := req.Reason
	if reason == "" {
		username, _ := auth.Caller(c)
		reason = "set by " + username
	}
	changed, err := s.lm.Monitor().SetStatus(c.Param("id"), status, reason)
	if err != nil {
		s.fail(c, "CLIENT", err)
		return
	}

	client, err := s.lm.Hub().Get(c.Param("id"))
	if err != nil {
		s.fail(c, "CLIENT", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"client": client, "changed": changed})
}

// POST /api/v1/clients/:id/command
func (s *Server) sendCommand(c *gin.Context) {
	var req CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "CLIENT", err)
		return
	}

	clientID := c.Param("id")
	env := protocol.NewCommand(clientID, req.Command, req.Parameters)
	if err := s.lm.Hub().SendTo(c.Request.Context(), clientID, env); err != nil {
		s.fail(c, "CLIENT", err)
		return
	}

	s.logger.Info("Command sent", zap.String("client_id", clientID), zap.String("command", req.Command))
	c.JSON(http.StatusOK, gin.H{"message": "command sent"})
}

// POST /api/v1/clients/command
func (s *Server) broadcastCommand(c *gin.Context) {
	var req CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "CLIENT", err)
		return
	}

	deliveries := s.lm.Hub().Broadcast(c.Request.Context(), protocol.NewCommand("", req.Command, req.Parameters))
	c.JSON(http.StatusOK, protocol.Summarize(deliveries))
}

// POST /api/v1/clients/:id/install
func (s *Server) installClient(c *gin.Context) {
	var req protocol.InstallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "CLIENT", err)
		return
	}
	if req.PackageURL == "" {
		s.fail(c, "CLIENT", fmt.Errorf("%w: packageUrl is required", types.ErrInvalidInput))
		return
	}

	clientID := c.Param("id")
	env := protocol.NewEnvelope(protocol.TypeInstallClient, clientID, req)
	if err := s.lm.Hub().SendTo(c.Request.Context(), clientID, env); err != nil {
		s.fail(c, "CLIENT", err)
		return
	}
	if _, err := s.lm.Monitor().SetStatus(clientID, types.StatusInstalling, "install requested"); err != nil {
		s.fail(c, "CLIENT", err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"message": "install requested"})
}
