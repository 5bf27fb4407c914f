package rest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/KevinKickass/OpenSignageCore/internal/auth"
	"github.com/KevinKickass/OpenSignageCore/internal/config"
	"github.com/KevinKickass/OpenSignageCore/internal/interfaces"
	"github.com/KevinKickass/OpenSignageCore/internal/types"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Server struct {
	router      *gin.Engine
	lm          interfaces.LifecycleManager
	logger      *zap.Logger
	server      *http.Server
	authService *auth.AuthService
	addr        net.Addr
}

func NewServer(cfg *config.Config, lm interfaces.LifecycleManager, logger *zap.Logger, authService *auth.AuthService) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:      gin.New(),
		lm:          lm,
		logger:      logger,
		authService: authService,
	}

	s.router.Use(LoggerMiddleware(logger), gin.Recovery())
	s.router.Use(cors.New(cors.Config{
		AllowOrigins:  cfg.Server.CORSOrigins,
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler exposes the router for in-process tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	s.addr = lis.Addr()

	s.logger.Info("Starting REST API server", zap.String("address", s.addr.String()))
	go func() {
		if err := s.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Addr() net.Addr { return s.addr }

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

// LoggerMiddleware logs one line per request.
func LoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			logger.Error("HTTP request", fields...)
		case c.Writer.Status() >= http.StatusBadRequest:
			logger.Warn("HTTP request", fields...)
		default:
			logger.Debug("HTTP request", fields...)
		}
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthCheck)

	v1 := s.router.Group("/api/v1")

	v1.POST("/auth/login", s.login)

	// Everything below needs a token; reads are open to operators,
	// mutations need admin.
	authed := v1.Group("")
	authed.Use(s.authService.AuthMiddleware())
	authed.Use(auth.RequirePermission(auth.PermOperator))
	admin := auth.RequirePermission(auth.PermAdmin)

	authed.GET("/auth/me", s.getCurrentUser)

	clients := authed.Group("/clients")
	{
		clients.GET("", s.listClients)
		clients.GET("/stale", s.listStaleClients)
		clients.GET("/status/:status", s.listClientsByStatus)
		clients.GET("/:id", s.getClient)
		clients.GET("/:id/groups", s.getClientGroups)
		clients.GET("/:id/playlist", s.getClientPlaylist)
		clients.PUT("/:id/status", admin, s.setClientStatus)
		clients.POST("/command", admin, s.broadcastCommand)
		clients.POST("/:id/command", admin, s.sendCommand)
		clients.POST("/:id/install", admin, s.installClient)
	}

	groups := authed.Group("/groups")
	{
		groups.GET("", s.listGroups)
		groups.GET("/:id", s.getGroup)
		groups.POST("", admin, s.createGroup)
		groups.PUT("/:id", admin, s.updateGroup)
		groups.DELETE("/:id", admin, s.deleteGroup)
		groups.POST("/:id/clients/:clientId", admin, s.addGroupClient)
		groups.DELETE("/:id/clients/:clientId", admin, s.removeGroupClient)
		groups.POST("/:id/playlist", admin, s.assignGroupPlaylist)
		groups.POST("/:id/content", admin, s.pushGroupContent)
	}

	content := authed.Group("/content")
	{
		content.GET("", s.listContent)
		content.GET("/:id", s.getContent)
		content.GET("/:id/data", s.getContentData)
		content.POST("", admin, s.createContent)
		content.PUT("/:id", admin, s.updateContent)
		content.PUT("/:id/data", admin, s.replaceContentData)
		content.DELETE("/:id", admin, s.deleteContent)
		content.POST("/:id/push", admin, s.pushContent)
	}

	playlists := authed.Group("/playlists")
	{
		playlists.GET("", s.listPlaylists)
		playlists.GET("/active", s.listActivePlaylists)
		playlists.GET("/:id", s.getPlaylist)
		playlists.POST("", admin, s.createPlaylist)
		playlists.PUT("/:id", admin, s.updatePlaylist)
		playlists.DELETE("/:id", admin, s.deletePlaylist)
		playlists.POST("/:id/assign", admin, s.assignPlaylist)
	}

	overlays := authed.Group("/overlays")
	{
		overlays.GET("", s.listOverlays)
		overlays.GET("/:id", s.getOverlay)
		overlays.GET("/:id/render", s.renderOverlay)
		overlays.POST("", admin, s.createOverlay)
		overlays.PUT("/:id", admin, s.updateOverlay)
		overlays.DELETE("/:id", admin, s.deleteOverlay)
		overlays.POST("/assign", admin, s.assignOverlays)
	}

	compositions := authed.Group("/compositions")
	{
		compositions.GET("", s.listCompositions)
		compositions.GET("/presets", s.listPresets)
		compositions.GET("/templates", s.listTemplates)
		compositions.GET("/:id", s.getComposition)
		compositions.GET("/:id/preview", s.previewComposition)
		compositions.POST("", admin, s.createComposition)
		compositions.POST("/templates/:id", admin, s.instantiateTemplate)
		compositions.PUT("/:id", admin, s.updateComposition)
		compositions.DELETE("/:id", admin, s.deleteComposition)
		compositions.POST("/:id/placements", admin, s.addPlacement)
		compositions.PUT("/:id/placements/:placementId", admin, s.updatePlacement)
		compositions.DELETE("/:id/placements/:placementId", admin, s.removePlacement)
		compositions.PUT("/:id/background", admin, s.setBackground)
		compositions.PUT("/:id/resolution", admin, s.setResolution)
		compositions.POST("/:id/publish", admin, s.publishComposition)
	}

	emergency := authed.Group("/emergency")
	{
		emergency.GET("", s.listBroadcasts)
		emergency.GET("/active", s.listActiveBroadcasts)
		emergency.GET("/:id", s.getBroadcast)
		emergency.POST("", admin, s.createBroadcast)
		emergency.POST("/send-immediate", admin, s.sendImmediate)
		emergency.POST("/clear-all", admin, s.clearAllBroadcasts)
		emergency.PUT("/:id", admin, s.updateBroadcast)
		emergency.DELETE("/:id", admin, s.deleteBroadcast)
		emergency.POST("/:id/send", admin, s.sendBroadcast)
		emergency.POST("/:id/send/group/:groupId", admin, s.sendBroadcastToGroup)
		emergency.POST("/:id/clear", admin, s.clearBroadcast)
	}

	system := authed.Group("/system")
	{
		system.GET("/status", s.getSystemStatus)
		system.GET("/health", s.getSystemHealth)
		system.POST("/shutdown", admin, s.shutdown)
	}

	authed.GET("/ws/status", s.wsStatus)
	authed.GET("/events", s.watchEvents)
}

// Health check (public)
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}

// fail maps a service error onto a status code and an AREA_STATUS error
// code.
func (s *Server) fail(c *gin.Context, area string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, types.ErrInvalidInput), errors.Is(err, types.ErrMalformedMessage):
		status = http.StatusBadRequest
	case errors.Is(err, types.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, types.ErrSendFailed):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, types.NewErrorResponse(fmt.Sprintf("%s_%d", area, status), http.StatusText(status), err.Error()))
}

func (s *Server) badRequest(c *gin.Context, area string, err error) {
	c.JSON(http.StatusBadRequest, types.NewErrorResponse(area+"_400", "Invalid request body", err.Error()))
}
