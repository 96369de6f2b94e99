package system

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/KevinKickass/OpenWateringCore/internal/api/rest"
	"github.com/KevinKickass/OpenWateringCore/internal/api/websocket"
	"github.com/KevinKickass/OpenWateringCore/internal/bus"
	"github.com/KevinKickass/OpenWateringCore/internal/config"
	"github.com/KevinKickass/OpenWateringCore/internal/export"
	"github.com/KevinKickass/OpenWateringCore/internal/interfaces"
	"github.com/KevinKickass/OpenWateringCore/internal/metrics"
	"github.com/KevinKickass/OpenWateringCore/internal/pump"
	"github.com/KevinKickass/OpenWateringCore/internal/safety"
	"github.com/KevinKickass/OpenWateringCore/internal/schedule"
	"github.com/KevinKickass/OpenWateringCore/internal/state"
	"github.com/KevinKickass/OpenWateringCore/internal/status"
	"github.com/KevinKickass/OpenWateringCore/internal/storage"
	"github.com/KevinKickass/OpenWateringCore/internal/telemetry"
	"github.com/KevinKickass/OpenWateringCore/internal/types"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	schemaTimeout = 10 * time.Second

	// gRPC health service name
	healthService = "watering.Controller"
)

// Store is everything the service persists.
type Store interface {
	interfaces.ScheduleStore
	interfaces.HistoryStore
	UpdateLastRunDate(ctx context.Context, id int64, date string) error
	AddAlarm(ctx context.Context, a storage.AlarmRecord) (int64, error)
	RecentAlarms(ctx context.Context, limit int) ([]storage.AlarmRecord, error)
	EnsureSchema(ctx context.Context) error
}

type LifecycleManager struct {
	config  *config.Config
	storage Store
	logger  *zap.Logger
	metrics *metrics.Metrics

	connection  *bus.ConnectionState
	busManager  *bus.Manager
	waterLevels *state.WaterLevelStore
	pumpStates  *state.PumpStateStore
	alarmStore  *state.AlarmStore
	wsHub       *websocket.Hub
	influx      *export.Writer

	pumpService *pump.Service
	engine      *schedule.Engine
	monitor     *safety.Monitor
	reporter    *status.Reporter

	restServer   *rest.Server
	grpcServer   *grpc.Server
	healthServer *health.Server

	cancel context.CancelFunc
	loops  sync.WaitGroup

	stateMu      sync.RWMutex
	currentState SystemState
	startedAt    *time.Time

	shutdownOnce sync.Once
}

func NewLifecycleManager(store Store, cfg *config.Config, logger *zap.Logger, busOpts ...bus.Option) (*LifecycleManager, error) {
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	validator, err := telemetry.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to build payload validator: %w", err)
	}

	lm := &LifecycleManager{
		config:       cfg,
		storage:      store,
		logger:       logger,
		metrics:      m,
		connection:   bus.NewConnectionState(),
		waterLevels:  state.NewWaterLevelStore(),
		pumpStates:   state.NewPumpStateStore(),
		wsHub:        websocket.NewHub(logger, cfg.Server.CORSOrigins),
		healthServer: health.NewServer(),
		currentState: StateInitializing,
	}

	topics := bus.NewTopics(cfg.MQTT.TopicPrefix)
	lm.busManager = bus.NewManager(cfg.MQTT, topics, lm.connection, logger, busOpts...)
	lm.alarmStore = state.NewAlarmStore(cfg.Alarms, store, logger, m)

	notifiers := telemetry.Notifiers{lm.wsHub}
	if cfg.Influx.Enabled() {
		lm.influx = export.NewWriter(cfg.Influx, logger)
		notifiers = append(notifiers, lm.influx)
	}

	telemetry.NewHandler(validator, lm.waterLevels, lm.pumpStates, lm.alarmStore, notifiers, m, logger).
		Register(lm.busManager)

	lm.pumpService = pump.NewService(lm.busManager, topics, lm.waterLevels, cfg.Safety.StaleAfter(), logger, m)
	alarms := pump.NewAlarmService(lm.busManager, topics, lm.alarmStore, notifiers, logger)

	lm.engine = schedule.NewEngine(store, lm.pumpService, alarms, cfg.Scheduling.CheckInterval(), logger, m)
	lm.monitor = safety.NewMonitor(lm.pumpStates, lm.pumpService, alarms, cfg.Safety.CheckInterval(), logger, m)
	lm.reporter = status.NewReporter(lm.busManager, topics, lm.pumpStates, lm.waterLevels, lm.pumpService,
		store, lm.wsHub, cfg.SystemState.PublishInterval(), logger)

	lm.connection.OnChange(lm.onConnectionChange)
	lm.setHealth(false)

	return lm, nil
}

func (lm *LifecycleManager) onConnectionChange(s bus.ConnectionSnapshot) {
	lm.metrics.SetMQTTConnected(s.IsConnected)
	lm.wsHub.ConnectionChanged(s)
	lm.setHealth(s.IsConnected)
}

// setHealth reports NOT_SERVING while the broker is unreachable: the
// controller cannot command the pump then.
func (lm *LifecycleManager) setHealth(connected bool) {
	serving := healthpb.HealthCheckResponse_NOT_SERVING
	if connected {
		serving = healthpb.HealthCheckResponse_SERVING
	}
	lm.healthServer.SetServingStatus("", serving)
	lm.healthServer.SetServingStatus(healthService, serving)
}

// Start starts the entire system
func (lm *LifecycleManager) Start() error {
	lm.logger.Info("Starting OpenWateringCore")

	ctx, cancel := context.WithTimeout(context.Background(), schemaTimeout)
	defer cancel()

	if err := lm.storage.EnsureSchema(ctx); err != nil {
		lm.setError()
		return fmt.Errorf("failed to ensure schema: %w", err)
	}

	if err := lm.seedAlarms(ctx); err != nil {
		// not critical, the list fills up again
		lm.logger.Warn("Failed to load recent alarms", zap.Error(err))
	}

	if lm.influx != nil {
		if err := lm.influx.Health(ctx); err != nil {
			// points are buffered and retried by the client
			lm.logger.Warn("InfluxDB not reachable", zap.Error(err))
		}
	}

	loopCtx, stop := context.WithCancel(context.Background())
	lm.cancel = stop

	lm.run(loopCtx, lm.wsHub.Run)
	lm.run(loopCtx, lm.busManager.Run)
	lm.run(loopCtx, lm.engine.Run)
	lm.run(loopCtx, lm.monitor.Run)
	lm.run(loopCtx, lm.reporter.Run)

	if err := lm.startGRPCServer(); err != nil {
		lm.setError()
		return fmt.Errorf("failed to start gRPC: %w", err)
	}

	if err := lm.startRESTServer(); err != nil {
		lm.setError()
		return fmt.Errorf("failed to start REST API: %w", err)
	}

	now := time.Now().UTC()
	lm.stateMu.Lock()
	lm.startedAt = &now
	lm.stateMu.Unlock()
	lm.setState(StateRunning)

	lm.logger.Info("System started successfully",
		zap.Int("grpc_port", lm.config.Server.GRPCPort),
		zap.Int("http_port", lm.config.Server.HTTPPort),
		zap.String("broker", lm.config.MQTT.BrokerURL()),
		zap.Bool("influx_enabled", lm.influx != nil))

	return nil
}

func (lm *LifecycleManager) run(ctx context.Context, loop func(context.Context)) {
	lm.loops.Add(1)
	go func() {
		defer lm.loops.Done()
		loop(ctx)
	}()
}

func (lm *LifecycleManager) seedAlarms(ctx context.Context) error {
	records, err := lm.storage.RecentAlarms(ctx, lm.alarmStore.Capacity())
	if err != nil {
		return err
	}

	alarms := make([]types.SystemAlarmUpdate, 0, len(records))
	for _, r := range records {
		alarms = append(alarms, types.SystemAlarmUpdate{
			Type:       r.Type,
			Severity:   r.Severity,
			Message:    r.Message,
			RaisedAt:   r.RaisedAt.UTC(),
			ReceivedAt: r.ReceivedAt.UTC(),
		})
	}
	lm.alarmStore.Seed(alarms)

	lm.logger.Info("Recent alarms loaded", zap.Int("count", len(alarms)))
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
	})

	return shutdownErr
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	var errs []error

	// 1. REST first so no new commands arrive
	if lm.restServer != nil {
		if err := lm.restServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("rest api shutdown failed: %w", err))
		}
	}

	// 2. loops finish their current iteration; the bus disconnects
	if lm.cancel != nil {
		lm.cancel()
	}
	done := make(chan struct{})
	go func() {
		lm.loops.Wait()
		lm.alarmStore.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		lm.logger.Warn("Shutdown timeout, forcing stop")
		errs = append(errs, fmt.Errorf("shutdown timeout exceeded"))
	}

	// 3. gRPC
	if lm.grpcServer != nil {
		lm.logger.Info("Stopping gRPC server")
		lm.healthServer.Shutdown()
		lm.grpcServer.GracefulStop()
	}

	// 4. flush exports
	if lm.influx != nil {
		lm.influx.Close()
	}

	if len(errs) == 0 {
		lm.logger.Info("Graceful shutdown completed")
	}
	return errors.Join(errs...)
}

func (lm *LifecycleManager) startGRPCServer() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", lm.config.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	lm.grpcServer = grpc.NewServer()
	healthpb.RegisterHealthServer(lm.grpcServer, lm.healthServer)

	go func() {
		lm.logger.Info("gRPC server listening",
			zap.String("address", lis.Addr().String()),
			zap.String("services", "grpc.health.v1.Health"))
		if err := lm.grpcServer.Serve(lis); err != nil {
			lm.logger.Error("gRPC server failed", zap.Error(err))
		}
	}()

	return nil
}

func (lm *LifecycleManager) startRESTServer() error {
	lm.restServer = rest.NewServer(lm, lm.logger, lm.wsHub, lm.metrics)
	return lm.restServer.Start()
}

// setState applies a transition. Invalid transitions are logged and ignored.
func (lm *LifecycleManager) setState(next SystemState) {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()

	if err := ValidateTransition(lm.currentState, next); err != nil {
		lm.logger.Warn("Ignoring state change", zap.Error(err))
		return
	}
	lm.currentState = next
}

func (lm *LifecycleManager) setError() {
	lm.setState(StateError)
}

func (lm *LifecycleManager) State() SystemState {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	return lm.currentState
}

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()

	return interfaces.SystemStatus{
		State:            lm.currentState.String(),
		StartedAt:        lm.startedAt,
		MQTT:             lm.connection.Snapshot(),
		WebSocketClients: lm.wsHub.GetClientCount(),
	}
}

// Config returns the configuration
func (lm *LifecycleManager) Config() *config.Config {
	return lm.config
}

func (lm *LifecycleManager) Schedules() interfaces.ScheduleStore {
	return lm.storage
}

func (lm *LifecycleManager) History() interfaces.HistoryStore {
	return lm.storage
}

func (lm *LifecycleManager) Pump() interfaces.PumpController {
	return lm.pumpService
}

func (lm *LifecycleManager) WaterLevels() *state.WaterLevelStore {
	return lm.waterLevels
}

func (lm *LifecycleManager) PumpStates() *state.PumpStateStore {
	return lm.pumpStates
}

func (lm *LifecycleManager) Alarms() *state.AlarmStore {
	return lm.alarmStore
}

func (lm *LifecycleManager) Connection() *bus.ConnectionState {
	return lm.connection
}

// Health exposes the gRPC health server, used by tests.
func (lm *LifecycleManager) Health() *health.Server {
	return lm.healthServer
}
