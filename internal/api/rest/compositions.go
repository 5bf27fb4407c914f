package rest

import (
	"net/http"

	"github.com/KevinKickass/OpenSignageCore/internal/composition"
	"github.com/KevinKickass/OpenSignageCore/internal/protocol"
	"github.com/KevinKickass/OpenSignageCore/internal/types"
	"github.com/gin-gonic/gin"
)

// PublishRequest picks the audience: a group, a list of clients, or the
// whole fleet when both are empty.
type PublishRequest struct {
	GroupID   string   `json:"groupId"`
	ClientIDs []string `json:"clientIds"`
}

type InstantiateRequest struct {
	Name string `json:"name"`
}

func (s *Server) listCompositions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"compositions": s.lm.Compositions().List()})
}

// GET /api/v1/compositions/presets
func (s *Server) listPresets(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"presets": composition.Presets()})
}

// GET /api/v1/compositions/templates
func (s *Server) listTemplates(c *gin.Context) {
	templates, err := composition.Templates()
	if err != nil {
		s.fail(c, "COMPOSITION", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"templates": templates})
}

// POST /api/v1/compositions/templates/:id
func (s *Server) instantiateTemplate(c *gin.Context) {
	var req InstantiateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.badRequest(c, "COMPOSITION", err)
			return
		}
	}

	comp, err := s.lm.Compositions().Instantiate(c.Param("id"), req.Name)
	if err != nil {
		s.fail(c, "COMPOSITION", err)
		return
	}
	c.JSON(http.StatusCreated, comp)
}

func (s *Server) getComposition(c *gin.Context) {
	comp, err := s.lm.Compositions().Get(c.Param("id"))
	if err != nil {
		s.fail(c, "COMPOSITION", err)
		return
	}
	c.JSON(http.StatusOK, comp)
}

// GET /api/v1/compositions/:id/preview
func (s *Server) previewComposition(c *gin.Context) {
	preview, err := s.lm.Compositions().Preview(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, "COMPOSITION", err)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(preview))
}

func (s *Server) createComposition(c *gin.Context) {
	var comp types.DisplayComposition
	if err := c.ShouldBindJSON(&comp); err != nil {
		s.badRequest(c, "COMPOSITION", err)
		return
	}

	created, err := s.lm.Compositions().Create(comp)
	if err != nil {
		s.fail(c, "COMPOSITION", err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) updateComposition(c *gin.Context) {
	var comp types.DisplayComposition
	if err := c.ShouldBindJSON(&comp); err != nil {
		s.badRequest(c, "COMPOSITION", err)
		return
	}

	updated, err := s.lm.Compositions().Update(c.Param("id"), comp)
	if err != nil {
		s.fail(c, "COMPOSITION", err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) deleteComposition(c *gin.Context) {
	if err := s.lm.Compositions().Delete(c.Param("id")); err != nil {
		s.fail(c, "COMPOSITION", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// POST /api/v1/compositions/:id/placements
func (s *Server) addPlacement(c *gin.Context) {
	var req composition.PlacementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "COMPOSITION", err)
		return
	}

	p, err := s.lm.Compositions().AddPlacement(c.Param("id"), req)
	if err != nil {
		s.fail(c, "COMPOSITION", err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

// PUT /api/v1/compositions/:id/placements/:placementId
func (s *Server) updatePlacement(c *gin.Context) {
	var req composition.PlacementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "COMPOSITION", err)
		return
	}

	p, err := s.lm.Compositions().UpdatePlacement(c.Param("id"), c.Param("placementId"), req)
	if err != nil {
		s.fail(c, "COMPOSITION", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// DELETE /api/v1/compositions/:id/placements/:placementId
func (s *Server) removePlacement(c *gin.Context) {
	comp, err := s.lm.Compositions().RemovePlacement(c.Param("id"), c.Param("placementId"))
	if err != nil {
		s.fail(c, "COMPOSITION", err)
		return
	}
	c.JSON(http.StatusOK, comp)
}

// PUT /api/v1/compositions/:id/background
func (s *Server) setBackground(c *gin.Context) {
	var bg types.Background
	if err := c.ShouldBindJSON(&bg); err != nil {
		s.badRequest(c, "COMPOSITION", err)
		return
	}

	comp, err := s.lm.Compositions().SetBackground(c.Param("id"), bg)
	if err != nil {
		s.fail(c, "COMPOSITION", err)
		return
	}
	c.JSON(http.StatusOK, comp)
}

// PUT /api/v1/compositions/:id/resolution
func (s *Server) setResolution(c *gin.Context) {
	var r types.Resolution
	if err := c.ShouldBindJSON(&r); err != nil {
		s.badRequest(c, "COMPOSITION", err)
		return
	}

	comp, err := s.lm.Compositions().SetResolution(c.Param("id"), r)
	if err != nil {
		s.fail(c, "COMPOSITION", err)
		return
	}
	c.JSON(http.StatusOK, comp)
}

// POST /api/v1/compositions/:id/publish
func (s *Server) publishComposition(c *gin.Context) {
	var req PublishRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.badRequest(c, "COMPOSITION", err)
			return
		}
	}

	var (
		deliveries []protocol.Delivery
		err        error
	)
	ctx, id := c.Request.Context(), c.Param("id")
	switch {
	case req.GroupID != "":
		deliveries, err = s.lm.Compositions().PublishToGroup(ctx, id, req.GroupID)
	case len(req.ClientIDs) > 0:
		deliveries, err = s.lm.Compositions().PublishTo(ctx, id, req.ClientIDs)
	default:
		deliveries, err = s.lm.Compositions().Publish(ctx, id)
	}
	if err != nil {
		s.fail(c, "COMPOSITION", err)
		return
	}
	c.JSON(http.StatusOK, protocol.Summarize(deliveries))
}
