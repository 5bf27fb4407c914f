package rest

import (
	"net/http"

	"github.com/KevinKickass/OpenSignageCore/internal/auth"
	"github.com/KevinKickass/OpenSignageCore/internal/emergency"
	"github.com/KevinKickass/OpenSignageCore/internal/protocol"
	"github.com/gin-gonic/gin"
)

func (s *Server) listBroadcasts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"broadcasts": s.lm.Emergency().List()})
}

// GET /api/v1/emergency/active
func (s *Server) listActiveBroadcasts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"broadcasts": s.lm.Emergency().Active()})
}

func (s *Server) getBroadcast(c *gin.Context) {
	id := c.Param("id")
	bc, err := s.lm.Emergency().Get(id)
	if err != nil {
		s.fail(c, "EMERGENCY", err)
		return
	}
	state, err := s.lm.Emergency().State(id)
	if err != nil {
		s.fail(c, "EMERGENCY", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"broadcast": bc, "state": state})
}

func (s *Server) bindCreate(c *gin.Context) (emergency.CreateRequest, bool) {
	var req emergency.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "EMERGENCY", err)
		return req, false
	}
	if req.CreatedBy == "" {
		req.CreatedBy, _ = auth.Caller(c)
	}
	return req, true
}

func (s *Server) createBroadcast(c *gin.Context) {
	req, ok := s.bindCreate(c)
	if !ok {
		return
	}

	bc, err := s.lm.Emergency().Create(req)
	if err != nil {
		s.fail(c, "EMERGENCY", err)
		return
	}
	c.JSON(http.StatusCreated, bc)
}

// POST /api/v1/emergency/send-immediate
func (s *Server) sendImmediate(c *gin.Context) {
	req, ok := s.bindCreate(c)
	if !ok {
		return
	}

	bc, deliveries, err := s.lm.Emergency().SendImmediate(c.Request.Context(), req)
	if err != nil {
		s.fail(c, "EMERGENCY", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"broadcast": bc, "delivery": protocol.Summarize(deliveries)})
}

func (s *Server) updateBroadcast(c *gin.Context) {
	var req emergency.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "EMERGENCY", err)
		return
	}

	bc, err := s.lm.Emergency().Update(c.Param("id"), req)
	if err != nil {
		s.fail(c, "EMERGENCY", err)
		return
	}
	c.JSON(http.StatusOK, bc)
}

func (s *Server) deleteBroadcast(c *gin.Context) {
	if err := s.lm.Emergency().Delete(c.Param("id")); err != nil {
		s.fail(c, "EMERGENCY", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// POST /api/v1/emergency/:id/send
func (s *Server) sendBroadcast(c *gin.Context) {
	deliveries, err := s.lm.Emergency().Send(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, "EMERGENCY", err)
		return
	}
	c.JSON(http.StatusOK, protocol.Summarize(deliveries))
}

// POST /api/v1/emergency/:id/send/group/:groupId
func (s *Server) sendBroadcastToGroup(c *gin.Context) {
	deliveries, err := s.lm.Emergency().SendToGroup(c.Request.Context(), c.Param("id"), c.Param("groupId"))
	if err != nil {
		s.fail(c, "EMERGENCY", err)
		return
	}
	c.JSON(http.StatusOK, protocol.Summarize(deliveries))
}

// POST /api/v1/emergency/:id/clear
func (s *Server) clearBroadcast(c *gin.Context) {
	deliveries, err := s.lm.Emergency().Clear(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, "EMERGENCY", err)
		return
	}
	c.JSON(http.StatusOK, protocol.Summarize(deliveries))
}

// POST /api/v1/emergency/clear-all
func (s *Server) clearAllBroadcasts(c *gin.Context) {
	deliveries := s.lm.Emergency().ClearAll(c.Request.Context())
	c.JSON(http.StatusOK, protocol.Summarize(deliveries))
}
