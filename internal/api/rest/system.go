package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/KevinKickass/OpenSignageCore/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GET /api/v1/system/status
func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.lm.GetCurrentStatus())
}

// GET /api/v1/system/health reports the fleet by status. It answers 503
// while the system is not running.
func (s *Server) getSystemHealth(c *gin.Context) {
	status := s.lm.GetCurrentStatus()

	byStatus := map[types.ClientStatus]int{
		types.StatusUnknown:    0,
		types.StatusOnline:     0,
		types.StatusOffline:    0,
		types.StatusInstalling: 0,
		types.StatusError:      0,
	}
	for _, client := range s.lm.Hub().List() {
		byStatus[client.Status]++
	}

	code := http.StatusOK
	if status.State != "RUNNING" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"state":                   status.State,
		"clients":                 byStatus,
		"stale":                   status.StaleClients,
		"heartbeatTimeoutSeconds": int64(s.lm.Monitor().Timeout().Seconds()),
	})
}

// POST /api/v1/system/shutdown
func (s *Server) shutdown(c *gin.Context) {
	c.JSON(http.StatusAccepted, gin.H{
		"message": "Shutdown initiated",
	})

	timeout := s.lm.Config().Server.ShutdownTimeout
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := s.lm.Shutdown(ctx); err != nil {
			s.logger.Error("Shutdown failed", zap.Error(err))
		}
	}()
}

// GET /api/v1/ws/status
func (s *Server) wsStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connectedClients": s.lm.Hub().GetClientCount(),
		"watchers":         s.lm.Events().WatcherCount(),
		"timestamp":        time.Now().Unix(),
	})
}

// GET /api/v1/events upgrades to the admin event stream.
func (s *Server) watchEvents(c *gin.Context) {
	s.lm.Events().ServeWatcher(c.Writer, c.Request)
}
