// Package main is the entry point for the validation execution core's HTTP
// front door.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arborvale/valicore/internal/config"
	"github.com/arborvale/valicore/internal/core/admission"
	"github.com/arborvale/valicore/internal/core/breaker"
	"github.com/arborvale/valicore/internal/core/cache"
	"github.com/arborvale/valicore/internal/core/chain"
	"github.com/arborvale/valicore/internal/core/pipeline"
	"github.com/arborvale/valicore/internal/core/registry"
	"github.com/arborvale/valicore/internal/core/resilience"
	"github.com/arborvale/valicore/internal/core/sampler"
	"github.com/arborvale/valicore/internal/core/telemetry"
	"github.com/arborvale/valicore/internal/middleware"
	"github.com/arborvale/valicore/pkg/core"
	"github.com/arborvale/valicore/pkg/logger"
	"github.com/arborvale/valicore/pkg/metrics"
	"github.com/arborvale/valicore/pkg/valcore"
	"github.com/arborvale/valicore/pkg/validator"
)

const (
	serviceName    = "validationd"
	serviceVersion = "0.1.0"
)

func main() {
	var configPath = flag.String("config", "", "Path to YAML configuration file")
	var showVersion = flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s version %s\n", serviceName, serviceVersion)
		os.Exit(0)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		Filename:   cfg.Log.Filename,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})

	log.Info("starting validation execution core", "service", serviceName, "version", serviceVersion, "environment", cfg.App.Environment)

	engine, cleanup := buildEngine(cfg, log)
	defer cleanup()

	a := newAPI(engine, log)
	stack := middleware.BuildValidationMiddlewareStack(&middleware.Config{
		Logger: log,
		RateLimiter: &middleware.RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 50,
			Burst:             100,
		},
		MaxRequestSize: 10 << 20, // 10 MiB of source per request
		RequestTimeout: cfg.Server.ReadTimeout,
	})

	router := a.router(cfg.Metrics.Enabled, cfg.Metrics.Path)
	handler := stack(router)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info("HTTP server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-quit
	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	log.Info("server exited")
}

// buildEngine is the composition root: it assembles C1-C10 in dependency
// order and hands back the public facade plus a cleanup func that stops
// every background loop.
func buildEngine(cfg *config.Config, log *slog.Logger) (*core.Core, func()) {
	aggregator := telemetry.New(cfg.Telemetry.ToCore(), log)
	aggregator.Start()
	aggregator.SubscribeAlerts(func(alert valcore.Alert) {
		log.Warn("alert", "resource", alert.Resource, "severity", alert.Severity, "message", alert.Message, "action", alert.RecommendedAction)
	})

	res, err := sampler.New(time.Second, cfg.Telemetry.ResourceRetention, log, aggregator.RecordResource)
	if err != nil {
		log.Error("failed to construct resource sampler", "error", err)
		os.Exit(1)
	}
	res.Start()

	admissionMetrics := admission.NewMetrics()
	admissionCtrl := admission.New(cfg.Admission.ToCore(), res, log, admissionMetrics)

	breakerMgr := breaker.NewManager(cfg.Breaker.ToCore(), log, breaker.NewMetrics())
	retryPolicy := resilience.NewCategoryPolicy(nil, breakerMgr, log, metrics.NewRetryMetrics())
	retryPolicy.SetCategory("validator", cfg.Retry.ToCore())

	middlewareChain := chain.New(30*time.Second, breakerMgr, retryPolicy, aggregator, log)

	reg := registry.New(log)
	registerDefaultValidators(reg)

	cacheMgr, err := cache.NewManager(cfg.Cache.ToCore(), log)
	if err != nil {
		log.Error("failed to construct result cache", "error", err)
		os.Exit(1)
	}

	p := pipeline.New(cacheMgr, admissionCtrl, middlewareChain, reg, aggregator, res)
	engine := core.New(p, reg, middlewareChain, aggregator, breakerMgr)

	var healthChecker *registry.HealthChecker
	if cfg.Discovery.EnableHealthChecks {
		healthChecker = registry.NewHealthChecker(reg, validatorHealthCheck, cfg.Discovery.HealthCheckInterval, cfg.Discovery.HealthCheckTimeout, log)
		healthChecker.Start()
	}

	cleanup := func() {
		if healthChecker != nil {
			healthChecker.Stop()
		}
		res.Stop()
		aggregator.Stop()
		admissionCtrl.Close()
		if err := cacheMgr.Close(); err != nil {
			log.Warn("error closing result cache", "error", err)
		}
	}
	return engine, cleanup
}

// registerDefaultValidators wires in the reference rule-driven validators
// (pkg/validator) for every language this build ships a capability for.
func registerDefaultValidators(reg *registry.Registry) {
	for _, v := range []valcore.Validator{validator.NewGoValidator(), validator.NewPythonValidator()} {
		if err := reg.Register(v.Language(), v, valcore.ValidatorMetadata{
			Version:  serviceVersion,
			Provider: "reference",
		}); err != nil {
			panic(fmt.Sprintf("registering default validator %q: %v", v.Language(), err))
		}
	}
}

// validatorHealthCheck exercises a validator against a trivial canned
// snippet and reports whether it completed without error, per spec §4.8's
// "a periodic healthCheck instantiates each entry and records outcomes."
func validatorHealthCheck(ctx context.Context, v valcore.Validator) valcore.Health {
	start := time.Now()
	_, err := v.Validate(ctx, []byte(""), valcore.ValidationOptions{Syntax: true})
	health := valcore.Health{Healthy: err == nil, LoadTime: time.Since(start)}
	if err != nil {
		health.LastError = err.Error()
	}
	return health
}
