package system

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/KevinKickass/OpenSignageCore/internal/api/rest"
	"github.com/KevinKickass/OpenSignageCore/internal/api/websocket"
	"github.com/KevinKickass/OpenSignageCore/internal/auth"
	"github.com/KevinKickass/OpenSignageCore/internal/clock"
	"github.com/KevinKickass/OpenSignageCore/internal/composition"
	"github.com/KevinKickass/OpenSignageCore/internal/config"
	"github.com/KevinKickass/OpenSignageCore/internal/content"
	"github.com/KevinKickass/OpenSignageCore/internal/emergency"
	"github.com/KevinKickass/OpenSignageCore/internal/eventbridge"
	"github.com/KevinKickass/OpenSignageCore/internal/groups"
	"github.com/KevinKickass/OpenSignageCore/internal/health"
	"github.com/KevinKickass/OpenSignageCore/internal/interfaces"
	"github.com/KevinKickass/OpenSignageCore/internal/overlay"
	"github.com/KevinKickass/OpenSignageCore/internal/storage"
	"github.com/KevinKickass/OpenSignageCore/internal/types"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// FleetService is the name reported by the gRPC health service.
const FleetService = "signage.fleet"

type LifecycleManager struct {
	config *config.Config
	logger *zap.Logger
	clock  clock.Clock

	store      storage.ByteStore
	closeStore func()

	hub          *websocket.Hub
	monitor      *health.Monitor
	events       *websocket.EventStream
	groups       *groups.Directory
	library      *content.Library
	playlists    *content.Playlists
	overlays     *overlay.Service
	compositions *composition.Service
	emergency    *emergency.Broadcaster
	authService  *auth.AuthService

	deviceServer *websocket.Server
	restServer   *rest.Server
	grpcServer   *grpc.Server
	grpcHealth   *grpchealth.Server
	grpcAddr     net.Addr

	mqttClient   mqtt.Client
	bridgeCancel context.CancelFunc
	bridgeDone   chan struct{}

	stateMu      sync.RWMutex
	currentState SystemState
	startedAt    time.Time

	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

// NewLifecycleManager opens the content store and wires every service.
// Nothing listens until Start.
func NewLifecycleManager(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*LifecycleManager, error) {
	clk := clock.Real()

	store, closeStore, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open content store: %w", err)
	}

	hub, err := websocket.NewHub(websocket.HubConfig{
		SendTimeout:    cfg.Fleet.SendTimeout,
		FanoutLimit:    cfg.Fleet.FanoutLimit,
		MaxMessageSize: cfg.Fleet.MaxMessageSize,
	}, clk, logger)
	if err != nil {
		closeStore()
		return nil, err
	}

	monitor := health.NewMonitor(hub, clk, cfg.Fleet.HeartbeatTimeout, cfg.Fleet.SweepInterval, logger)
	hub.SetMonitor(monitor)

	library := content.NewLibrary(store, hub, clk, logger)
	hub.SetContentLister(library)
	playlists := content.NewPlaylists(library, hub, clk, logger)

	directory := groups.NewDirectory(clk, logger)
	directory.SetDistribution(playlists, library)

	renderer := overlay.NewRenderer(overlay.RendererConfig{
		FetchTimeout:    cfg.Overlays.FetchTimeout,
		WeatherEndpoint: cfg.Overlays.WeatherEndpoint,
	}, clk, logger)
	overlays := overlay.NewService(renderer, hub, clk, logger)

	lm := &LifecycleManager{
		config:       cfg,
		logger:       logger,
		clock:        clk,
		store:        store,
		closeStore:   closeStore,
		hub:          hub,
		monitor:      monitor,
		events:       websocket.NewEventStream(hub, logger),
		groups:       directory,
		library:      library,
		playlists:    playlists,
		overlays:     overlays,
		compositions: composition.NewService(overlays, hub, directory, clk, logger),
		emergency:    emergency.NewBroadcaster(hub, directory, clk, logger),
		authService:  auth.NewAuthService(cfg.Auth, logger),
		currentState: StateInitializing,
		shutdownChan: make(chan struct{}),
	}

	lm.deviceServer = websocket.NewServer(fmt.Sprintf(":%d", cfg.Server.DevicePort), hub, logger)
	lm.restServer = rest.NewServer(cfg, lm, logger, lm.authService)

	return lm, nil
}

// Start starts the entire system
func (lm *LifecycleManager) Start() error {
	lm.logger.Info("Starting OpenSignageCore")

	if err := lm.monitor.Start(); err != nil {
		return lm.fail(fmt.Errorf("failed to start health monitor: %w", err))
	}
	go lm.events.Run(lm.monitor.Subscribe())

	if lm.config.Events.MQTT.Enabled {
		if err := lm.startEventBridge(); err != nil {
			// The fleet works without the bridge.
			lm.logger.Warn("MQTT event bridge disabled", zap.Error(err))
		}
	}

	if err := lm.startGRPCServer(); err != nil {
		return lm.fail(fmt.Errorf("failed to start gRPC: %w", err))
	}

	if err := lm.deviceServer.Start(); err != nil {
		return lm.fail(fmt.Errorf("failed to start device listener: %w", err))
	}

	if err := lm.restServer.Start(); err != nil {
		return lm.fail(fmt.Errorf("failed to start REST API: %w", err))
	}

	lm.stateMu.Lock()
	lm.startedAt = lm.clock.Now()
	lm.stateMu.Unlock()
	lm.setState(StateRunning)
	lm.grpcHealth.SetServingStatus(FleetService, healthpb.HealthCheckResponse_SERVING)

	lm.logger.Info("System started successfully",
		zap.String("device_addr", lm.deviceServer.Addr().String()),
		zap.String("http_addr", lm.restServer.Addr().String()),
		zap.String("grpc_addr", lm.grpcAddr.String()),
		zap.String("storage", lm.config.Storage.Backend))

	return nil
}

func (lm *LifecycleManager) fail(err error) error {
	lm.logger.Error("Startup failed", zap.Error(err))
	lm.setState(StateError)
	return err
}

func (lm *LifecycleManager) startEventBridge() error {
	cfg := lm.config.Events.MQTT
	client, err := eventbridge.Connect(cfg, lm.logger)
	if err != nil {
		return err
	}
	lm.mqttClient = client

	ctx, cancel := context.WithCancel(context.Background())
	lm.bridgeCancel = cancel
	lm.bridgeDone = make(chan struct{})

	sub := lm.monitor.Subscribe()
	bridge := eventbridge.NewBridge(client, cfg.TopicPrefix, cfg.QoS, lm.logger)
	go func() {
		defer close(lm.bridgeDone)
		bridge.Run(ctx, sub.C)
	}()

	lm.logger.Info("MQTT event bridge started",
		zap.String("broker", cfg.Broker),
		zap.String("topic_prefix", cfg.TopicPrefix))
	return nil
}

func (lm *LifecycleManager) startGRPCServer() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", lm.config.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	lm.grpcAddr = lis.Addr()

	lm.grpcServer = grpc.NewServer()
	lm.grpcHealth = grpchealth.NewServer()
	lm.grpcHealth.SetServingStatus(FleetService, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(lm.grpcServer, lm.grpcHealth)

	go func() {
		lm.logger.Info("gRPC server listening",
			zap.String("addr", lm.grpcAddr.String()),
			zap.String("services", "grpc.health.v1.Health"))
		if err := lm.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			lm.logger.Error("gRPC server failed", zap.Error(err))
		}
	}()

	return nil
}

// Shutdown gracefully shuts down the system
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")
		lm.setState(StateStopping)

		shutdownErr = lm.gracefulShutdown(ctx)

		lm.setState(StateStopped)
		close(lm.shutdownChan)
	})

	return shutdownErr
}

// Done is closed once Shutdown has finished.
func (lm *LifecycleManager) Done() <-chan struct{} {
	return lm.shutdownChan
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	if lm.grpcHealth != nil {
		lm.grpcHealth.Shutdown()
	}

	// No more sweeps or events; this also ends the event stream and the
	// bridge subscription.
	lm.monitor.Stop()

	var wg sync.WaitGroup
	errChan := make(chan error, 3)

	// 1. Device connections get a normal-closure frame
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := lm.deviceServer.Shutdown(ctx); err != nil {
			errChan <- fmt.Errorf("device listener shutdown failed: %w", err)
		}
	}()

	// 2. REST API Server graceful shutdown
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := lm.restServer.Shutdown(ctx); err != nil {
			errChan <- fmt.Errorf("rest api shutdown failed: %w", err)
		}
	}()

	// 3. gRPC Server graceful stop
	if lm.grpcServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lm.logger.Info("Stopping gRPC server")
			lm.grpcServer.GracefulStop()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		close(errChan)
		var errs []error
		for e := range errChan {
			errs = append(errs, e)
		}
		err = errors.Join(errs...)
	case <-ctx.Done():
		lm.logger.Warn("Shutdown timeout, forcing stop")
		if lm.grpcServer != nil {
			lm.grpcServer.Stop()
		}
		err = fmt.Errorf("shutdown timeout exceeded")
	}

	if lm.bridgeCancel != nil {
		lm.bridgeCancel()
		<-lm.bridgeDone
		lm.mqttClient.Disconnect(250)
	}
	lm.closeStore()

	if err == nil {
		lm.logger.Info("Graceful shutdown completed")
	}
	return err
}

func (lm *LifecycleManager) setState(state SystemState) {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()

	if err := ValidateTransition(lm.currentState, state); err != nil {
		lm.logger.Warn("Ignoring state change", zap.Error(err))
		return
	}
	lm.currentState = state
}

// State returns the current lifecycle state.
func (lm *LifecycleManager) State() SystemState {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	return lm.currentState
}

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	lm.stateMu.RLock()
	state, startedAt := lm.currentState, lm.startedAt
	lm.stateMu.RUnlock()

	clients := lm.hub.List()
	online := 0
	for _, c := range clients {
		if c.Status == types.StatusOnline {
			online++
		}
	}

	var uptime int64
	if !startedAt.IsZero() {
		uptime = int64(lm.clock.Now().Sub(startedAt).Seconds())
	}

	return interfaces.SystemStatus{
		State:            state.String(),
		UptimeSeconds:    uptime,
		ConnectedClients: len(clients),
		OnlineClients:    online,
		StaleClients:     len(lm.monitor.StaleClients(lm.monitor.Timeout())),
		Watchers:         lm.events.WatcherCount(),
		StorageBackend:   lm.config.Storage.Backend,
	}
}

// Addrs returns the bound device, HTTP and gRPC addresses after Start.
func (lm *LifecycleManager) Addrs() (device, api, rpc net.Addr) {
	return lm.deviceServer.Addr(), lm.restServer.Addr(), lm.grpcAddr
}

func (lm *LifecycleManager) Config() *config.Config { return lm.config }
func (lm *LifecycleManager) Hub() *websocket.Hub { return lm.hub }
func (lm *LifecycleManager) Monitor() *health.Monitor { return lm.monitor }
func (lm *LifecycleManager) Events() *websocket.EventStream { return lm.events }
func (lm *LifecycleManager) Groups() *groups.Directory { return lm.groups }
func (lm *LifecycleManager) Library() *content.Library { return lm.library }
func (lm *LifecycleManager) Playlists() *content.Playlists { return lm.playlists }
func (lm *LifecycleManager) Overlays() *overlay.Service { return lm.overlays }
func (lm *LifecycleManager) Compositions() *composition.Service { return lm.compositions }
func (lm *LifecycleManager) Emergency() *emergency.Broadcaster { return lm.emergency }
func (lm *LifecycleManager) Auth() *auth.AuthService { return lm.authService }
