package main

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mailmind/mailmind/api"
	"github.com/mailmind/mailmind/api/handlers"
	"github.com/mailmind/mailmind/config"
	"github.com/mailmind/mailmind/engine"
	"github.com/mailmind/mailmind/history"
	"github.com/mailmind/mailmind/internal/flagstore"
	"github.com/mailmind/mailmind/internal/metrics"
	"github.com/mailmind/mailmind/internal/server"
	"github.com/mailmind/mailmind/internal/telemetry"
	"github.com/mailmind/mailmind/orchestrator"
	"github.com/mailmind/mailmind/pageagent"
	"github.com/mailmind/mailmind/types"
)

// =============================================================================
// Daemon wiring
// =============================================================================

// Server assembles the daemon: engine registry, page agent, orchestrator,
// HTTP surface and the optional sidecars (history, flag store, telemetry,
// metrics listener, config watcher).
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger

	httpManager    *server.Manager
	metricsManager *server.Manager

	collector *metrics.Collector
	telemetry *telemetry.Providers
	histStore *history.Store
	flags     *flagstore.Store
	driver    *pageagent.ChromeDriver
	watcher   *config.Watcher

	rateLimiterCancel context.CancelFunc
}

// NewServer creates an unstarted server.
func NewServer(cfg *config.Config, configPath string, logger *zap.Logger) *Server {
	return &Server{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
	}
}

// Start brings every component up. Optional sidecars degrade with a
// warning; only the HTTP surface itself is fatal.
func (s *Server) Start() error {
	s.collector = metrics.NewCollector("mailmind", s.logger)

	providers, err := telemetry.Init(s.cfg.Telemetry, s.logger)
	if err != nil {
		s.logger.Warn("telemetry disabled", zap.Error(err))
	} else {
		s.telemetry = providers
	}

	orch := s.buildOrchestrator()

	if err := s.startHTTPServer(orch); err != nil {
		return err
	}
	if err := s.startMetricsServer(); err != nil {
		return err
	}
	s.startConfigWatcher()

	s.logger.Info("all servers started",
		zap.String("addr", s.cfg.Server.Addr),
		zap.String("metrics_addr", s.cfg.API.MetricsAddr),
		zap.String("engine_mode", s.cfg.Engine.Mode),
	)
	return nil
}

func (s *Server) buildOrchestrator() *orchestrator.Orchestrator {
	registry := engine.NewRegistry(s.logger)
	for _, kind := range []types.EngineKind{types.KindGeneration, types.KindClassification, types.KindOCR} {
		registry.Register(kind, s.engineFactory())
	}

	var page orchestrator.PageAgent
	driver, err := pageagent.NewChromeDriver(s.cfg.Page.Driver, s.logger)
	if err != nil {
		s.logger.Warn("browser driver unavailable, page actions degraded", zap.Error(err))
		page = unavailablePage{}
	} else {
		s.driver = driver
		page = pageagent.New(driver, s.cfg.Page.Agent, s.logger)
	}

	var hist orchestrator.History
	store, err := history.Open(s.cfg.History, s.logger)
	if err != nil {
		s.logger.Warn("history store unavailable, transcripts disabled", zap.Error(err))
	} else {
		s.histStore = store
		hist = store
	}

	if s.cfg.Flags.Addr != "" {
		flags, err := flagstore.New(s.cfg.Flags, s.collector, s.logger)
		if err != nil {
			s.logger.Warn("flag store unavailable", zap.Error(err))
		} else {
			s.flags = flags
		}
	}

	return orchestrator.New(registry, page, hist, s.collector, s.cfg.Orchestrator, s.logger)
}

// engineFactory returns the factory matching the configured engine mode.
// Every kind shares the mode; the registry keeps one singleton per kind.
func (s *Server) engineFactory() engine.Factory {
	switch s.cfg.Engine.Mode {
	case "offscreen":
		return func(kind types.EngineKind) (engine.Engine, error) {
			return engine.NewOffscreenEngine(kind, s.cfg.Engine.Offscreen, s.logger), nil
		}
	default:
		return func(kind types.EngineKind) (engine.Engine, error) {
			return engine.NewLocalEngine(kind, s.cfg.Engine.Runtime, s.logger), nil
		}
	}
}

func (s *Server) startHTTPServer(orch *orchestrator.Orchestrator) error {
	routerCfg := api.RouterConfig{
		Version:   Version,
		BuildTime: BuildTime,
		GitCommit: GitCommit,
	}
	if s.histStore != nil {
		routerCfg.Checks = append(routerCfg.Checks,
			handlers.NewPingHealthCheck("history", s.histStore.Ping))
	}
	if s.flags != nil {
		routerCfg.Flags = s.flags
		routerCfg.Checks = append(routerCfg.Checks,
			handlers.NewPingHealthCheck("flags", s.flags.Ping))
	}

	mux := api.NewRouter(orch, routerCfg, s.logger)

	skipAuthPaths := []string{"/healthz", "/readyz", "/version"}
	rateCtx, rateCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateCancel

	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
		RateLimiter(rateCtx, s.cfg.API.RateLimitRPS, s.cfg.API.RateLimitBurst),
		APIKeyAuth(s.cfg.API.APIKey, skipAuthPaths, s.logger),
	)

	s.httpManager = server.NewManager(handler, s.cfg.Server, s.logger)
	return s.httpManager.Start()
}

func (s *Server) startMetricsServer() error {
	if s.cfg.API.MetricsAddr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	metricsCfg := s.cfg.Server
	metricsCfg.Addr = s.cfg.API.MetricsAddr
	s.metricsManager = server.NewManager(mux, metricsCfg, s.logger)
	return s.metricsManager.Start()
}

func (s *Server) startConfigWatcher() {
	if s.configPath == "" {
		return
	}

	s.watcher = config.NewWatcher(config.NewLoader(), s.configPath, 0, s.logger)
	s.watcher.OnReload(func(cfg *config.Config) {
		// Listener and engine topology need a restart; only note it.
		s.logger.Info("config file changed; restart to apply new settings")
	})
	s.watcher.Start()
}

// WaitForShutdown blocks until the daemon is told to stop, then tears
// everything down.
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown closes all components in dependency order.
func (s *Server) Shutdown() {
	s.logger.Info("starting graceful shutdown")
	ctx := context.Background()

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}
	if s.watcher != nil {
		s.watcher.Stop()
	}
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("metrics server shutdown error", zap.Error(err))
		}
	}
	if s.driver != nil {
		if err := s.driver.Close(); err != nil {
			s.logger.Error("browser driver close error", zap.Error(err))
		}
	}
	if s.histStore != nil {
		if err := s.histStore.Close(); err != nil {
			s.logger.Error("history store close error", zap.Error(err))
		}
	}
	if s.flags != nil {
		if err := s.flags.Close(); err != nil {
			s.logger.Error("flag store close error", zap.Error(err))
		}
	}
	if s.telemetry != nil {
		if err := s.telemetry.Shutdown(ctx); err != nil {
			s.logger.Error("telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("graceful shutdown completed")
}

// unavailablePage stands in when no browser is attached. Context reads fail
// with the surface error the orchestrator folds into the prompt; actions
// come back as failed results.
type unavailablePage struct{}

func (unavailablePage) GetContext(ctx context.Context) (*types.PageContext, error) {
	return nil, types.NewError(types.ErrSurfaceUnavailable, "no browser is attached")
}

func (unavailablePage) Execute(ctx context.Context, act *types.StructuredAction) types.ActionResult {
	return types.ActionResult{Success: false, Error: "no mailbox page is attached"}
}

func (unavailablePage) Screenshot(ctx context.Context) ([]byte, error) {
	return nil, types.NewError(types.ErrSurfaceUnavailable, "no browser is attached")
}
