package rest

import (
	"net/http"

	"github.com/KevinKickass/OpenSignageCore/internal/groups"
	"github.com/KevinKickass/OpenSignageCore/internal/protocol"
	"github.com/gin-gonic/gin"
)

type AssignPlaylistRequest struct {
	PlaylistID string `json:"playlistId" binding:"required"`
}

type PushContentRequest struct {
	ContentID string `json:"contentId" binding:"required"`
}

func (s *Server) listGroups(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"groups": s.lm.Groups().List()})
}

func (s *Server) getGroup(c *gin.Context) {
	g, err := s.lm.Groups().Get(c.Param("id"))
	if err != nil {
		s.fail(c, "GROUP", err)
		return
	}
	c.JSON(http.StatusOK, g)
}

func (s *Server) createGroup(c *gin.Context) {
	var req groups.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "GROUP", err)
		return
	}

	g, err := s.lm.Groups().Create(req)
	if err != nil {
		s.fail(c, "GROUP", err)
		return
	}
	c.JSON(http.StatusCreated, g)
}

func (s *Server) updateGroup(c *gin.Context) {
	var req groups.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "GROUP", err)
		return
	}

	g, err := s.lm.Groups().Update(c.Param("id"), req)
	if err != nil {
		s.fail(c, "GROUP", err)
		return
	}
	c.JSON(http.StatusOK, g)
}

func (s *Server) deleteGroup(c *gin.Context) {
	if err := s.lm.Groups().Delete(c.Param("id")); err != nil {
		s.fail(c, "GROUP", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// POST /api/v1/groups/:id/clients/:clientId
func (s *Server) addGroupClient(c *gin.Context) {
	g, err := s.lm.Groups().AddClient(c.Param("id"), c.Param("clientId"))
	if err != nil {
		s.fail(c, "GROUP", err)
		return
	}
	c.JSON(http.StatusOK, g)
}

// DELETE /api/v1/groups/:id/clients/:clientId
func (s *Server) removeGroupClient(c *gin.Context) {
	g, err := s.lm.Groups().RemoveClient(c.Param("id"), c.Param("clientId"))
	if err != nil {
		s.fail(c, "GROUP", err)
		return
	}
	c.JSON(http.StatusOK, g)
}

// POST /api/v1/groups/:id/playlist
func (s *Server) assignGroupPlaylist(c *gin.Context) {
	var req AssignPlaylistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "GROUP", err)
		return
	}

	deliveries, err := s.lm.Groups().AssignPlaylist(c.Request.Context(), c.Param("id"), req.PlaylistID)
	if err != nil {
		s.fail(c, "GROUP", err)
		return
	}
	c.JSON(http.StatusOK, protocol.Summarize(deliveries))
}

// POST /api/v1/groups/:id/content
func (s *Server) pushGroupContent(c *gin.Context) {
	var req PushContentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "GROUP", err)
		return
	}

	deliveries, err := s.lm.Groups().PushContent(c.Request.Context(), c.Param("id"), req.ContentID)
	if err != nil {
		s.fail(c, "GROUP", err)
		return
	}
	c.JSON(http.StatusOK, protocol.Summarize(deliveries))
}
