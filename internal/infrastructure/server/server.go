package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	apihttp "github.com/GriffinCanCode/AgentOS/framework/internal/api/http"
	"github.com/GriffinCanCode/AgentOS/framework/internal/api/middleware"
	"github.com/GriffinCanCode/AgentOS/framework/internal/api/ws"
	"github.com/GriffinCanCode/AgentOS/framework/internal/bundle"
	"github.com/GriffinCanCode/AgentOS/framework/internal/domain/ability"
	"github.com/GriffinCanCode/AgentOS/framework/internal/domain/appsched"
	"github.com/GriffinCanCode/AgentOS/framework/internal/domain/dataability"
	"github.com/GriffinCanCode/AgentOS/framework/internal/domain/form"
	"github.com/GriffinCanCode/AgentOS/framework/internal/domain/form/cache"
	"github.com/GriffinCanCode/AgentOS/framework/internal/domain/form/provider"
	"github.com/GriffinCanCode/AgentOS/framework/internal/domain/form/storage"
	"github.com/GriffinCanCode/AgentOS/framework/internal/domain/form/timer"
	"github.com/GriffinCanCode/AgentOS/framework/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/framework/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/framework/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/framework/internal/infrastructure/taskqueue"
	"github.com/GriffinCanCode/AgentOS/framework/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AgentOS/framework/internal/ipc"
	"github.com/GriffinCanCode/AgentOS/framework/internal/service/formmgr"
)

// Server wraps the HTTP server, the IPC listener and every manager.
type Server struct {
	router  *gin.Engine
	httpSrv *http.Server
	ipcSrv  *ipc.Server
	logger  *logging.Logger
	config  *config.Config
	metrics *monitoring.Metrics
	tracer  *tracing.Tracer

	apps      *appsched.LocalAppManager
	sched     *appsched.Scheduler
	abilities *ability.Manager
	forms     *formmgr.Adapter
	timers    *timer.Mgr
	providers *provider.Mgr
	connector *provider.DirectConnector
	cache     *cache.Cache
	store     *storage.Store
	tasks     *taskqueue.Queue
}

// NewServer builds the ability and form services from cfg.
func NewServer(cfg *config.Config) (*Server, error) {
	var logger *logging.Logger
	if cfg.Logging.Development {
		logger = logging.NewDevelopment()
	} else {
		l, err := logging.New(logging.Config{Level: cfg.Logging.Level})
		if err != nil {
			return nil, fmt.Errorf("failed to build logger: %w", err)
		}
		logger = l
	}

	logger.Info("Initializing ability framework",
		zap.String("port", cfg.Server.Port),
		zap.String("ipc_addr", cfg.IPC.Address),
		zap.String("form_db", cfg.Storage.FormDBPath),
	)

	metrics := monitoring.NewMetrics()
	tracer := tracing.New("framework", logger.Component("tracing"))

	catalog := bundle.NewCatalog()
	if cfg.Bundle.CatalogPath != "" {
		c, err := bundle.LoadCatalog(cfg.Bundle.CatalogPath)
		if err != nil {
			tracer.Close()
			return nil, fmt.Errorf("failed to load bundle catalog: %w", err)
		}
		catalog = c
		logger.Info("Bundle catalog loaded", zap.Int("bundles", len(catalog.BundleNames())))
	}

	s := &Server{logger: logger, config: cfg, metrics: metrics, tracer: tracer}
	if err := s.initAbilities(); err != nil {
		s.Close()
		return nil, err
	}
	dataAbilities := dataability.NewManager(dataability.Options{
		Abilities:            s.abilities,
		Apps:                 s.sched,
		Bundles:              catalog,
		LoadTimeout:          cfg.Ability.DataLoadTimeout,
		MonitorSystemClients: true,
		Metrics:              metrics,
		Logger:               logger.Component("dataability"),
	})
	s.abilities.AddObserver(dataAbilities)

	registry := ipc.NewRegistry()
	if err := s.initForms(catalog, registry); err != nil {
		s.Close()
		return nil, err
	}

	hub := ws.NewHub(logger.Component("ws"))
	handlers := apihttp.NewHandlers(apihttp.Options{
		Forms:         s.forms,
		Hosts:         hub,
		Abilities:     s.abilities,
		DataAbilities: dataAbilities,
		Logger:        logger.Component("http"),
	})

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer, apihttp.CallerHeader))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig(apihttp.CallerHeader)))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		rl := middleware.DefaultRateLimitConfig(apihttp.CallerHeader)
		rl.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		rl.Burst = cfg.RateLimit.Burst
		router.Use(middleware.RateLimit(rl))
	}

	handlers.Register(router)
	router.GET("/hosts/stream", hub.HandleConnection)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	s.router = router

	if cfg.IPC.Enabled {
		s.ipcSrv = ipc.NewServer(logger.Component("ipc"),
			grpc.ChainUnaryInterceptor(tracing.UnaryServerInterceptor(tracer)))
		supply := s.providers.Supply()
		s.ipcSrv.Register(supply.Object().ID(), provider.NewSupplyStub(supply))
	}

	logger.Info("Server initialized successfully")
	return s, nil
}

func (s *Server) initAbilities() error {
	cfg := s.config.Ability
	logger := s.logger
	s.apps = appsched.NewLocalAppManager(logger.Component("appmgr"))
	s.abilities = ability.NewManager(ability.Options{
		URIs: ability.NewURIGrants(logger.Component("urigrant")),
		Timeouts: ability.Timeouts{
			Load:          cfg.LoadTimeout,
			Active:        cfg.ActiveTimeout,
			Inactive:      cfg.InactiveTimeout,
			Background:    cfg.BackgroundTimeout,
			Terminate:     cfg.TerminateTimeout,
			ForegroundNew: cfg.ForegroundTimeout,
		},
		RestartMax: cfg.RestartMax,
		Metrics:    s.metrics,
		Logger:     logger.Component("ability"),
	})

	s.sched = appsched.NewScheduler(s.apps, logger.Component("appsched"))
	if _, err := s.sched.Init(context.Background(), appsched.ManagerCallback{Manager: s.abilities}, nil); err != nil {
		return fmt.Errorf("failed to register app state callback: %w", err)
	}
	s.abilities.SetAppScheduler(s.sched)
	return nil
}

func (s *Server) initForms(catalog *bundle.Catalog, registry *ipc.Registry) error {
	cfg := s.config.Form
	logger := s.logger

	s.tasks = taskqueue.New("form", logger.Component("form-tasks"))
	c, err := cache.New(logger.Component("form-cache"))
	if err != nil {
		return fmt.Errorf("failed to create form cache: %w", err)
	}
	s.cache = c

	ctx := context.Background()
	if dir := filepath.Dir(s.config.Storage.FormDBPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create form storage dir: %w", err)
		}
	}
	store, err := storage.Open(ctx, s.config.Storage.FormDBPath)
	if err != nil {
		return fmt.Errorf("failed to open form storage: %w", err)
	}
	s.store = store
	db := storage.NewDBCache(store, catalog, logger.Component("form-storage"))
	if err := db.Start(ctx); err != nil {
		return fmt.Errorf("failed to load stored forms: %w", err)
	}
	logger.Info("Stored forms loaded", zap.Int("forms", db.Len()))

	var adapter *formmgr.Adapter
	data := form.NewDataMgr(form.DataMgrOptions{
		IDs: form.NewIDGenerator(cfg.DeviceID),
		Limits: form.Limits{
			MaxForms:        cfg.MaxForms,
			MaxRecordPerApp: cfg.MaxRecordPerApp,
			MaxTempForms:    cfg.MaxTempForms,
		},
		Cache:      c,
		Tasks:      s.tasks,
		OnHostDied: func(remote ipc.RemoteObject) { adapter.HandleHostDied(remote) },
		Logger:     logger.Component("form-data"),
	})

	s.timers = timer.New(timer.Options{
		Tasks:  s.tasks,
		Limit:  cfg.RefreshLimit,
		Logger: logger.Component("form-timer"),
	})

	s.connector = provider.NewDirectConnector(provider.DirectConnectorOptions{
		Bundles:  catalog,
		Registry: registry,
		Caller:   ipc.Caller{UID: 0, PID: int32(os.Getpid())},
		DialOptions: []grpc.DialOption{
			grpc.WithChainUnaryInterceptor(tracing.UnaryClientInterceptor(s.tracer)),
		},
		Tasks:  s.tasks,
		Logger: logger.Component("form-connector"),
	})
	s.providers = provider.NewMgr(provider.Options{
		Data:        data,
		Cache:       c,
		Connector:   s.connector,
		MaxDataSize: cfg.MaxDataSize,
		Metrics:     s.metrics,
		Logger:      logger.Component("form-provider"),
	})
	registry.Register(s.providers.Supply().Object())

	adapter = formmgr.New(formmgr.Options{
		Data:      data,
		DB:        db,
		Cache:     c,
		Timers:    s.timers,
		Providers: s.providers,
		Bundles:   catalog,
		Abilities: s.abilities,
		Metrics:   s.metrics,
		Logger:    logger.Logger,
	})
	s.forms = adapter

	if err := s.timers.Start(); err != nil {
		return fmt.Errorf("failed to start form timers: %w", err)
	}
	return nil
}

// Run serves HTTP and, when enabled, the IPC listener. It returns when
// either stops.
func (s *Server) Run() error {
	errCh := make(chan error, 2)
	if s.ipcSrv != nil {
		lis, err := net.Listen("tcp", s.config.IPC.Address)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", s.config.IPC.Address, err)
		}
		s.logger.Info("Starting IPC server", zap.String("addr", lis.Addr().String()))
		go func() { errCh <- s.ipcSrv.Serve(lis) }()
	}

	addr := s.config.Server.Host + ":" + s.config.Server.Port
	s.httpSrv = &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	s.logger.Info("Starting HTTP server", zap.String("addr", addr))
	go func() { errCh <- s.httpSrv.ListenAndServe() }()

	err := <-errCh
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Router exposes the HTTP routes.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Close stops the listeners and every manager in reverse start order.
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")
	var errs []error

	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shut down http server: %w", err))
		}
		cancel()
	}
	if s.ipcSrv != nil {
		s.ipcSrv.Stop()
	}
	if s.timers != nil {
		s.timers.Stop()
	}
	if s.connector != nil {
		if err := s.connector.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close provider connections: %w", err))
		}
	}
	if s.tasks != nil {
		s.tasks.Close()
	}
	if s.cache != nil {
		s.cache.Close()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close form storage: %w", err))
		}
	}
	if s.abilities != nil {
		s.abilities.Close()
	}
	if s.apps != nil {
		s.apps.Close()
	}
	s.tracer.Close()

	s.logger.Sync()
	return errors.Join(errs...)
}
