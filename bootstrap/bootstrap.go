// Package bootstrap wires all dependencies and starts the application.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vidgate/vidgate/adapters/clock"
	"github.com/vidgate/vidgate/adapters/extractor"
	vhttp "github.com/vidgate/vidgate/adapters/http"
	"github.com/vidgate/vidgate/adapters/idgen"
	"github.com/vidgate/vidgate/adapters/memory"
	"github.com/vidgate/vidgate/adapters/metrics"
	"github.com/vidgate/vidgate/adapters/redisstore"
	"github.com/vidgate/vidgate/adapters/sqlite"
	"github.com/vidgate/vidgate/app"
	"github.com/vidgate/vidgate/config"
	"github.com/vidgate/vidgate/domain/auth"
	"github.com/vidgate/vidgate/domain/ratelimit"
	"github.com/vidgate/vidgate/ports"
)

// App represents the running application.
type App struct {
	Logger     zerolog.Logger
	Config     *config.Holder // nil when running from env vars only
	DB         *sqlite.DB
	HTTPServer *http.Server
	Metrics    *metrics.Collector

	// Services with hot-reloadable config
	limiter *app.LimiterService
	extract *app.ExtractService

	// Adapters (for cleanup)
	usageRecorder ports.UsageRecorder
	usageStore    *sqlite.UsageStore
	extractorC    *extractor.Client
	counters      io.Closer

	retention time.Duration
	stopCh    chan struct{}
	closeOnce sync.Once
}

// New creates and initializes the application from a config file. When
// the file exists it is watched for changes and SIGHUP triggers a reload;
// otherwise configuration comes from VIDGATE_* environment variables.
func New(configPath string) (*App, error) {
	cfg, err := config.LoadWithFallback(configPath)
	if err != nil {
		return nil, err
	}

	logger := setupLogger(cfg.Logging)
	logger.Info().Msg("initializing vidgate")

	a := &App{
		Logger:    logger,
		retention: cfg.Usage.Retention,
		stopCh:    make(chan struct{}),
	}

	// Hot reload only works with a config file.
	if _, statErr := os.Stat(configPath); configPath != "" && statErr == nil {
		holder, err := config.NewHolder(configPath, logger)
		if err != nil {
			return nil, err
		}
		a.Config = holder
		cfg = holder.Get()
	} else {
		logger.Info().Msg("no config file, running from environment variables")
	}

	if err := a.initDatabase(cfg); err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}

	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New()
		logger.Info().Msg("prometheus metrics enabled")
	}

	if err := a.initHTTPServer(cfg); err != nil {
		a.DB.Close()
		return nil, fmt.Errorf("init http server: %w", err)
	}

	if a.Config != nil {
		a.Config.OnChange(a.applyConfig)
		a.Config.OnError(func(error) {
			if a.Metrics != nil {
				a.Metrics.ConfigReloadErrors.Inc()
			}
		})
		if err := a.Config.WatchFile(); err != nil {
			logger.Warn().Err(err).Msg("config file watch unavailable")
		}
		a.Config.WatchSignals()
	}

	if cfg.Usage.Enabled {
		go a.maintenanceLoop()
	}

	return a, nil
}

func (a *App) initDatabase(cfg *config.Config) error {
	db, err := sqlite.Open(cfg.Database.DSN)
	if err != nil {
		return err
	}

	if err := db.Migrate(); err != nil {
		db.Close()
		return fmt.Errorf("migrate: %w", err)
	}

	a.DB = db
	a.Logger.Info().Str("dsn", cfg.Database.DSN).Msg("database initialized")
	return nil
}

func (a *App) initHTTPServer(cfg *config.Config) error {
	counters, err := a.buildCounterStore(cfg)
	if err != nil {
		return err
	}

	keyStore := sqlite.NewKeyStore(a.DB)
	a.usageStore = sqlite.NewUsageStore(a.DB)

	if cfg.Usage.Enabled {
		a.usageRecorder = NewLocalUsageRecorder(a.usageStore, cfg.Usage.BatchSize, cfg.Usage.FlushInterval)
	} else {
		a.usageRecorder = noopRecorder{}
	}

	client, err := extractor.NewClient(extractor.Config{
		BaseURL:         cfg.Extractor.URL,
		Timeout:         cfg.Extractor.Timeout,
		MaxIdleConns:    cfg.Extractor.MaxIdleConns,
		IdleConnTimeout: cfg.Extractor.IdleConnTimeout,
	})
	if err != nil {
		return fmt.Errorf("build extractor client: %w", err)
	}
	a.extractorC = client

	realClock := clock.Real{}

	a.limiter = app.NewLimiterService(counters, realClock, limiterConfig(cfg))
	admission := app.NewAdmissionService(app.AdmissionDeps{
		Authenticator: auth.New(cfg.Auth.Secret),
		Keys:          keyStore,
		Limiter:       a.limiter,
		Clock:         realClock,
		KeyPrefix:     cfg.Auth.KeyPrefix,
	})
	a.extract = app.NewExtractService(client, app.ExtractConfig{
		Timeout:      cfg.Extractor.Timeout,
		AllowedHosts: cfg.Extractor.AllowedHosts,
	})

	apiHandler := vhttp.NewAPIHandler(vhttp.APIDeps{
		Admission: admission,
		Extractor: a.extract,
		Usage:     a.usageRecorder,
		Clock:     realClock,
		IDGen:     idgen.UUID{},
		Logger:    a.Logger,
		Metrics:   a.Metrics,
	})
	healthHandler := vhttp.NewHealthHandler(a.extract)

	router := vhttp.NewRouter(apiHandler, healthHandler, a.Logger, vhttp.RouterConfig{
		Metrics:        a.Metrics,
		MetricsPath:    cfg.Metrics.Path,
		Index:          indexInfo(cfg),
		RequestTimeout: cfg.Server.RequestTimeout,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	a.HTTPServer = &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
		// WriteTimeout would sever long downloads; zero disables it.
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	a.Logger.Info().Str("addr", addr).Msg("http server configured")
	return nil
}

func (a *App) buildCounterStore(cfg *config.Config) (ports.CounterStore, error) {
	switch cfg.Counters.Backend {
	case "redis":
		store, err := redisstore.New(redisstore.Config{
			Addr:     cfg.Counters.Redis.Addr,
			Password: cfg.Counters.Redis.Password,
			DB:       cfg.Counters.Redis.DB,
		})
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.counters = store
		a.Logger.Info().Str("addr", cfg.Counters.Redis.Addr).Msg("using redis counter backend")
		return store, nil
	default:
		store := memory.NewCounterStore(memory.CounterStoreConfig{})
		a.counters = store
		return store, nil
	}
}

// applyConfig pushes reloaded configuration into the running services.
// Only rate limit windows, extraction policy, and the log level change
// without a restart.
func (a *App) applyConfig(cfg *config.Config) {
	a.limiter.UpdateConfig(limiterConfig(cfg))
	a.extract.UpdateConfig(app.ExtractConfig{
		Timeout:      cfg.Extractor.Timeout,
		AllowedHosts: cfg.Extractor.AllowedHosts,
	})

	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	if a.Metrics != nil {
		a.Metrics.ConfigReloads.Inc()
		a.Metrics.ConfigLastReload.SetToCurrentTime()
	}
}

// limiterConfig maps the config windows onto the limiter's definitions.
func limiterConfig(cfg *config.Config) app.LimiterConfig {
	return app.LimiterConfig{
		Download: ratelimit.Window{
			Route:  ratelimit.RouteDownload,
			Limit:  cfg.RateLimit.Download.Limit,
			Period: cfg.RateLimit.Download.Period,
		},
		Info: ratelimit.Window{
			Route:  ratelimit.RouteInfo,
			Limit:  cfg.RateLimit.Info.Limit,
			Period: cfg.RateLimit.Info.Period,
		},
		Global: ratelimit.Window{
			Route:  ratelimit.RouteGlobal,
			Limit:  cfg.RateLimit.Global.Limit,
			Period: cfg.RateLimit.Global.Period,
		},
		CountRejected: cfg.RateLimit.CountRejected,
	}
}

func indexInfo(cfg *config.Config) vhttp.IndexInfo {
	return vhttp.IndexInfo{
		Service: "vidgate",
		Endpoints: map[string]string{
			"POST /api/download": "download extracted media",
			"GET /api/info":      "fetch video metadata",
			"GET /health":        "liveness probe",
		},
		Limits: map[string]string{
			"download": windowString(cfg.RateLimit.Download),
			"info":     windowString(cfg.RateLimit.Info),
			"global":   windowString(cfg.RateLimit.Global),
		},
	}
}

func windowString(w config.WindowConfig) string {
	return fmt.Sprintf("%d per %s", w.Limit, w.Period)
}

// maintenanceLoop periodically removes usage events past the retention
// window.
func (a *App) maintenanceLoop() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			deleted, err := a.usageStore.Cleanup(ctx, time.Now().UTC().Add(-a.retention))
			cancel()
			if err != nil {
				a.Logger.Warn().Err(err).Msg("usage cleanup failed")
			} else if deleted > 0 {
				a.Logger.Debug().Int64("deleted", deleted).Msg("usage events cleaned up")
			}
		case <-a.stopCh:
			return
		}
	}
}

// Run starts the HTTP server and blocks until shutdown.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info().Str("addr", a.HTTPServer.Addr).Msg("starting http server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		a.Logger.Info().Msg("shutting down")
		return a.Shutdown()
	})

	return g.Wait()
}

// Shutdown gracefully stops the application.
func (a *App) Shutdown() error {
	var err error
	a.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		close(a.stopCh)

		if a.Config != nil {
			a.Config.Stop()
		}

		if a.HTTPServer != nil {
			if serr := a.HTTPServer.Shutdown(ctx); serr != nil {
				a.Logger.Error().Err(serr).Msg("http server shutdown error")
				err = serr
			}
		}

		if a.usageRecorder != nil {
			if cerr := a.usageRecorder.Close(); cerr != nil {
				a.Logger.Error().Err(cerr).Msg("usage recorder close error")
			}
		}

		if a.extractorC != nil {
			a.extractorC.Close()
		}

		if a.counters != nil {
			if cerr := a.counters.Close(); cerr != nil {
				a.Logger.Error().Err(cerr).Msg("counter store close error")
			}
		}

		if a.DB != nil {
			if cerr := a.DB.Close(); cerr != nil {
				a.Logger.Error().Err(cerr).Msg("database close error")
			}
		}

		a.Logger.Info().Msg("shutdown complete")
	})
	return err
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
