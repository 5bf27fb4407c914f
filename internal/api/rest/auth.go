package rest

import (
	"errors"
	"net/http"

	"github.com/KevinKickass/OpenSignageCore/internal/auth"
	"github.com/KevinKickass/OpenSignageCore/internal/types"
	"github.com/gin-gonic/gin"
)

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// POST /api/v1/auth/login
func (s *Server) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("AUTH_400", "Invalid request body", err.Error()))
		return
	}

	token, err := s.authService.Login(req.Username, req.Password, c.ClientIP())
	if errors.Is(err, auth.ErrInvalidCredentials) {
		c.JSON(http.StatusUnauthorized, types.NewErrorResponse("AUTH_401", "Invalid credentials", nil))
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("AUTH_500", "Failed to issue token", err.Error()))
		return
	}

	c.JSON(http.StatusOK, token)
}

// GET /api/v1/auth/me
func (s *Server) getCurrentUser(c *gin.Context) {
	username, role := auth.Caller(c)
	c.JSON(http.StatusOK, gin.H{
		"username":    username,
		"role":        role,
		"permissions": auth.GetPermissions(c),
	})
}
