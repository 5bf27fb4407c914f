package rest

import (
	"net/http"

	"github.com/KevinKickass/OpenSignageCore/internal/protocol"
	"github.com/KevinKickass/OpenSignageCore/internal/types"
	"github.com/gin-gonic/gin"
)

type AssignOverlaysRequest struct {
	OverlayIDs []string `json:"overlayIds" binding:"required"`
	ClientIDs  []string `json:"clientIds"`
}

func (s *Server) listOverlays(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"overlays": s.lm.Overlays().List()})
}

func (s *Server) getOverlay(c *gin.Context) {
	o, err := s.lm.Overlays().Get(c.Param("id"))
	if err != nil {
		s.fail(c, "OVERLAY", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"overlay":    o,
		"assignedTo": s.assignedClients(o.ID),
	})
}

func (s *Server) assignedClients(overlayID string) []string {
	clients := []string{}
	for _, client := range s.lm.Hub().List() {
		for _, id := range s.lm.Overlays().AssignedTo(client.ID) {
			if id == overlayID {
				clients = append(clients, client.ID)
				break
			}
		}
	}
	return clients
}

// GET /api/v1/overlays/:id/render
func (s *Server) renderOverlay(c *gin.Context) {
	rendered, err := s.lm.Overlays().Render(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, "OVERLAY", err)
		return
	}
	if c.Query("format") == "html" {
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(rendered.HTML))
		return
	}
	c.JSON(http.StatusOK, rendered)
}

func (s *Server) createOverlay(c *gin.Context) {
	var o types.Overlay
	if err := c.ShouldBindJSON(&o); err != nil {
		s.badRequest(c, "OVERLAY", err)
		return
	}

	created, err := s.lm.Overlays().Create(o)
	if err != nil {
		s.fail(c, "OVERLAY", err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) updateOverlay(c *gin.Context) {
	var o types.Overlay
	if err := c.ShouldBindJSON(&o); err != nil {
		s.badRequest(c, "OVERLAY", err)
		return
	}

	updated, err := s.lm.Overlays().Update(c.Param("id"), o)
	if err != nil {
		s.fail(c, "OVERLAY", err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) deleteOverlay(c *gin.Context) {
	if err := s.lm.Overlays().Delete(c.Param("id")); err != nil {
		s.fail(c, "OVERLAY", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// POST /api/v1/overlays/assign
func (s *Server) assignOverlays(c *gin.Context) {
	var req AssignOverlaysRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "OVERLAY", err)
		return
	}

	deliveries, err := s.lm.Overlays().Assign(c.Request.Context(), req.OverlayIDs, req.ClientIDs)
	if err != nil {
		s.fail(c, "OVERLAY", err)
		return
	}
	c.JSON(http.StatusOK, protocol.Summarize(deliveries))
}
