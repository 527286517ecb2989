// Package app wires configuration into running dependencies and serves the
// trigger endpoint.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/api/option"

	"github.com/fartrucking/far-warehousing/config"
	"github.com/fartrucking/far-warehousing/internal/handlers"
	"github.com/fartrucking/far-warehousing/pkg/auth"
	appcontext "github.com/fartrucking/far-warehousing/pkg/context"
	"github.com/fartrucking/far-warehousing/pkg/events"
	"github.com/fartrucking/far-warehousing/pkg/health"
	"github.com/fartrucking/far-warehousing/pkg/httpclient"
	"github.com/fartrucking/far-warehousing/pkg/middleware"
	"github.com/fartrucking/far-warehousing/pkg/normalize"
	"github.com/fartrucking/far-warehousing/pkg/notify"
	"github.com/fartrucking/far-warehousing/pkg/pipeline"
	"github.com/fartrucking/far-warehousing/pkg/ratelimit"
	"github.com/fartrucking/far-warehousing/pkg/redis"
	"github.com/fartrucking/far-warehousing/pkg/startup"
	"github.com/fartrucking/far-warehousing/pkg/storage"
	"github.com/fartrucking/far-warehousing/pkg/tracing"
	"github.com/fartrucking/far-warehousing/pkg/tracing/exporters"
	"github.com/fartrucking/far-warehousing/pkg/upsert"
	"github.com/fartrucking/far-warehousing/pkg/zoho"
)

// Startup dependency names.
const (
	depTracing  = "tracing"
	depRedis    = "redis"
	depStorage  = "storage"
	depKafka    = "kafka"
	depPipeline = "pipeline"
)

const shutdownTimeout = 30 * time.Second

var ErrNotStarted = errors.New("pipeline is not started")

type App struct {
	cfg     config.Config
	logger  ectologger.Logger
	startup *startup.Startup
	checker *health.Checker

	shutdownTracing func(context.Context) error
	redis           *redis.Client
	store           storage.ObjectStore
	publisher       events.Publisher
	orchestrator    *pipeline.Orchestrator
}

// New registers every enabled dependency. Nothing is dialled until Start.
func New(cfg config.Config, logger ectologger.Logger) *App {
	a := &App{
		cfg:       cfg,
		logger:    logger,
		startup:   startup.NewStartup(logger, cfg.StartupMaxAttempts),
		checker:   health.NewChecker(cfg.Version),
		publisher: events.Nop{},
	}

	a.startup.AddDependency(startup.Func{Name: depTracing, StartFunc: a.startTracing, StopFunc: a.stopTracing})
	requires := []string{depStorage}
	if cfg.RedisEnabled {
		a.startup.AddDependency(startup.Func{Name: depRedis, StartFunc: a.startRedis, StopFunc: a.stopRedis})
		requires = append(requires, depRedis)
	}
	a.startup.AddDependency(startup.Func{Name: depStorage, StartFunc: a.startStorage, StopFunc: a.stopStorage})
	if cfg.KafkaEnabled {
		a.startup.AddDependency(startup.Func{Name: depKafka, StartFunc: a.startKafka, StopFunc: a.stopKafka})
		requires = append(requires, depKafka)
	}
	a.startup.AddDependency(startup.Func{Name: depPipeline, Requires: requires, StartFunc: a.startPipeline})
	return a
}

func (a *App) Checker() *health.Checker {
	return a.checker
}

func (a *App) Start(ctx context.Context) error {
	if err := a.startup.Start(ctx); err != nil {
		return err
	}
	a.checker.SetReady(true)
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	a.checker.SetReady(false)
	return a.startup.Stop(ctx)
}

// Run processes the bucket once.
func (a *App) Run(ctx context.Context) (pipeline.Summary, error) {
	if a.orchestrator == nil {
		return pipeline.Summary{}, ErrNotStarted
	}
	return a.orchestrator.Run(ctx)
}

// RunOnce starts the dependencies, processes the bucket and shuts down.
func (a *App) RunOnce(ctx context.Context) (pipeline.Summary, error) {
	if err := a.Start(ctx); err != nil {
		return pipeline.Summary{}, err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := a.Stop(stopCtx); err != nil {
			a.logger.WithError(err).Warn("Failed to stop dependencies")
		}
	}()

	if a.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.RunTimeout)
		defer cancel()
	}
	return a.Run(appcontext.SetTrigger(ctx, "cli"))
}

// Serve runs the HTTP server until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}

	e, err := a.Router(ctx)
	if err != nil {
		_ = a.Stop(context.WithoutCancel(ctx))
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Port),
		Handler:           e,
		ReadTimeout:       time.Duration(a.cfg.HttpServerReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(a.cfg.HttpServerWriteTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(a.cfg.HttpServerIdleTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: time.Duration(a.cfg.ReadHeaderTimeoutSeconds) * time.Second,
		MaxHeaderBytes:    a.cfg.MaxHeaderBytes,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Infof("Listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err = <-serveErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	a.logger.Info("Shutting down")
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		a.logger.WithError(shutdownErr).Warn("HTTP server did not shut down cleanly")
	}
	return errors.Join(err, a.Stop(shutdownCtx))
}

// Router builds the echo instance with metrics, health and the trigger route.
func (a *App) Router(ctx context.Context) (*echo.Echo, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(a.logger)

	e.Use(otelecho.Middleware(a.cfg.AppName))
	e.Use(echomiddleware.Recover())
	e.Use(middleware.Context())
	e.Use(middleware.Logger(a.logger))
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins: a.cfg.AllowOrigins,
		AllowMethods: a.cfg.AllowMethods,
	}))

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	a.checker.RegisterRoutes(e)

	var guards []echo.MiddlewareFunc
	if a.cfg.AuthEnabled {
		verifier, err := middleware.NewOIDCVerifier(ctx, a.cfg.AuthIssuerURL, a.cfg.AuthClientID)
		if err != nil {
			return nil, fmt.Errorf("failed to create token verifier: %w", err)
		}
		guards = append(guards, middleware.Authentication(a.logger, verifier))
	}
	handlers.NewProcessHandler(a, a.checker, a.cfg.RunTimeout, a.logger).RegisterRoutes(e, guards...)

	return e, nil
}

func (a *App) startTracing(ctx context.Context) error {
	var exporter sdktrace.SpanExporter
	switch {
	case a.cfg.OTLPEnabled:
		otlp, err := exporters.NewOTLPExporter(ctx, exporters.OTLPConfig{
			Endpoint: a.cfg.OTLPEndpoint,
			Protocol: a.cfg.OTLPProtocol,
			Insecure: a.cfg.OTLPInsecure,
		})
		if err != nil {
			return err
		}
		exporter = otlp
	case a.cfg.LogLevel == "debug":
		exporter = &exporters.LogExporter{Logger: a.logger}
	default:
		return nil
	}

	shutdown, err := tracing.Setup(a.cfg.AppName, exporter)
	if err != nil {
		return err
	}
	a.shutdownTracing = shutdown
	return nil
}

func (a *App) stopTracing(ctx context.Context) error {
	if a.shutdownTracing == nil {
		return nil
	}
	return a.shutdownTracing(ctx)
}

func (a *App) startRedis(ctx context.Context) error {
	client, err := redis.NewClient(ctx, redis.Config{
		Addr:      a.cfg.RedisAddr(),
		Password:  a.cfg.RedisPassword,
		DB:        a.cfg.RedisDB,
		KeyPrefix: a.cfg.RedisKeyPrefix,
	}, a.logger)
	if err != nil {
		return err
	}
	a.redis = client
	a.checker.AddCheck(depRedis, client.Ping, false)
	return nil
}

func (a *App) stopRedis(context.Context) error {
	if a.redis == nil {
		return nil
	}
	return a.redis.Close()
}

func (a *App) startStorage(ctx context.Context) error {
	if a.cfg.StorageBackend == "local" {
		local, err := storage.NewLocal(a.cfg.LocalStorageDir, a.logger)
		if err != nil {
			return err
		}
		a.store = local
		return nil
	}

	gcs, err := storage.NewGCS(ctx, a.cfg.GCSBucketName, a.logger, option.WithUserAgent(a.cfg.AppName))
	if err != nil {
		return err
	}
	a.store = gcs
	a.checker.AddCheck(depStorage, gcs.Ping, true)
	return nil
}

func (a *App) stopStorage(context.Context) error {
	if closer, ok := a.store.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (a *App) startKafka(context.Context) error {
	a.publisher = events.NewProducer(events.Config{
		Brokers: events.ParseBrokers(a.cfg.KafkaBrokers),
		Topic:   a.cfg.KafkaTopic,
	}, a.logger)
	return nil
}

func (a *App) stopKafka(context.Context) error {
	return a.publisher.Close()
}

func (a *App) startPipeline(ctx context.Context) error {
	httpCfg := httpclient.DefaultConfig()
	httpCfg.Timeout = a.cfg.ZohoHTTPTimeout
	httpClient := httpclient.NewClient(httpCfg, a.logger)

	tokens, err := a.tokenSource(httpClient)
	if err != nil {
		return err
	}

	remote := zoho.NewClient(zoho.Config{
		BaseURL:        a.cfg.ZohoAPIURL,
		OrganizationID: a.cfg.ZohoOrganizationID,
		PerPage:        a.cfg.ZohoPerPage,
		PageDelay:      a.cfg.ZohoPageDelay,
	}, httpClient, tokens, a.logger)
	if a.redis != nil {
		window := ratelimit.NewManager(a.redis, ratelimit.Window{
			Name:     "zoho",
			Requests: int64(a.cfg.ZohoRateLimitRequests),
			Period:   a.cfg.ZohoRateLimitWindow,
		}, a.cfg.ZohoRateLimitMaxWait, a.logger)
		remote = remote.WithLimiter(window).WithThrottler(window)
	} else if a.cfg.ZohoRateLimitRequests > 0 {
		spacing := a.cfg.ZohoRateLimitWindow / time.Duration(a.cfg.ZohoRateLimitRequests)
		remote = remote.WithLimiter(ratelimit.NewInterval("zoho", spacing))
	}

	var aliases []normalize.Alias
	if a.cfg.HeaderAliasesFile != "" {
		if aliases, err = normalize.LoadAliases(a.cfg.HeaderAliasesFile); err != nil {
			return err
		}
	}

	var locker *redis.Locker
	if a.redis != nil {
		locker = redis.NewLocker(a.redis)
	}

	a.orchestrator = pipeline.NewOrchestrator(pipeline.Dependencies{
		Store:      a.store,
		Remote:     remote,
		Tokens:     tokens,
		Normalizer: normalize.NewNormalizer(normalize.NewHeaderMatcher(aliases...), a.cfg.DefaultWarehouseName, a.logger),
		ErrorLog:   storage.NewErrorLog(a.store, a.logger),
		Notifier:   a.notifier(),
		Events:     a.publisher,
		Lock:       pipeline.NewRunLock(locker, a.cfg.RunLockTTL),
	}, pipeline.Options{
		DryRun:   a.cfg.DryRun,
		Profiles: profiles(a.cfg),
	}, a.logger)

	a.checker.AddCheck("zoho_token", func(ctx context.Context) error {
		_, err := tokens.Token(ctx)
		return err
	}, false)
	a.logger.WithContext(ctx).WithFields(map[string]any{
		"bucket":  a.cfg.Bucket(),
		"dry_run": a.cfg.DryRun,
	}).Info("Pipeline ready")
	return nil
}

func (a *App) tokenSource(httpClient *httpclient.Client) (zoho.TokenSource, error) {
	if a.cfg.ZohoRefreshToken == "" {
		return auth.Static(a.cfg.ZohoAccessToken), nil
	}
	provider, err := auth.NewProvider(auth.Config{
		AccountsURL:  a.cfg.ZohoAccountsURL,
		ClientID:     a.cfg.ZohoClientID,
		ClientSecret: a.cfg.ZohoClientSecret,
		RefreshToken: a.cfg.ZohoRefreshToken,
	}, httpClient.HTTPClient(), a.logger)
	if err != nil {
		return nil, err
	}
	if a.redis != nil {
		provider = provider.WithCache(a.redis)
	}
	return provider, nil
}

func (a *App) notifier() notify.Notifier {
	channels := notify.Multi{notify.Log{Logger: a.logger}}
	if a.cfg.SMTPEnabled {
		channels = append(channels, notify.NewEmail(notify.SMTPConfig{
			Host:     a.cfg.SMTPHost,
			Port:     a.cfg.SMTPPort,
			Username: a.cfg.SMTPUsername,
			Password: a.cfg.SMTPPassword,
			From:     a.cfg.SMTPFrom,
			To:       notify.ParseRecipients(a.cfg.NotifyRecipients),
			Subject:  a.cfg.NotifySubject,
			Timeout:  a.cfg.SMTPTimeout,
		}, a.logger))
	}
	if a.cfg.KafkaEnabled {
		channels = append(channels, notify.NewEvents(a.publisher, a.cfg.NotifySubject, a.logger))
	}
	return channels
}

// profiles overrides concurrency and pacing per kind, keeping the default
// duplicate codes.
func profiles(cfg config.Config) map[string]upsert.Profile {
	out := upsert.DefaultProfiles()
	set := func(kind string, limit int, delay time.Duration) {
		p := out[kind]
		p.Limit = limit
		p.Delay = delay
		out[kind] = p
	}
	set(zoho.KindItem, cfg.ItemConcurrency, cfg.ItemDelay)
	set(zoho.KindPurchaseOrder, cfg.PurchaseOrderConcurrency, cfg.PurchaseOrderDelay)
	set(zoho.KindContact, cfg.CustomerConcurrency, cfg.CustomerDelay)
	set(zoho.KindSalesOrder, cfg.SalesOrderConcurrency, cfg.SalesOrderDelay)
	return out
}
