package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
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
	"github.com/arborvale/valicore/pkg/core"
	"github.com/arborvale/valicore/pkg/logger"
	"github.com/arborvale/valicore/pkg/metrics"
	"github.com/arborvale/valicore/pkg/valcore"
	"github.com/arborvale/valicore/pkg/validator"
)

const serviceVersion = "0.1.0"

func main() {
	configPath := flag.String("config", "", "Path to YAML configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(4)
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

	engine, cleanup := buildEngine(cfg, log)

	cli := NewCLI(engine, log)
	// The remaining args (after flag parsing) belong to cobra's own parser.
	os.Args = append(os.Args[:1], flag.Args()...)
	runErr := cli.Execute()

	cleanup()

	if runErr != nil {
		log.Error("command failed", "error", runErr)
		os.Exit(exitInternal)
	}
	os.Exit(cli.ExitCode())
}

// buildEngine assembles the same C1-C10 composition cmd/validationd uses; it
// is duplicated rather than shared because the two binaries have no common
// internal package of their own and the teacher's equivalent tools
// (cmd/server, internal/infrastructure/migrations's CLI) each build their own
// dependency graph rather than importing one another.
func buildEngine(cfg *config.Config, log *slog.Logger) (*core.Core, func()) {
	aggregator := telemetry.New(cfg.Telemetry.ToCore(), log)
	aggregator.Start()
	aggregator.SubscribeAlerts(func(alert valcore.Alert) {
		log.Warn("alert", "resource", alert.Resource, "severity", alert.Severity, "message", alert.Message, "action", alert.RecommendedAction)
	})

	res, err := sampler.New(time.Second, cfg.Telemetry.ResourceRetention, log, aggregator.RecordResource)
	if err != nil {
		log.Error("failed to construct resource sampler", "error", err)
		os.Exit(4)
	}
	res.Start()

	admissionMetrics := admission.NewMetrics()
	admissionCtrl := admission.New(cfg.Admission.ToCore(), res, log, admissionMetrics)

	breakerMgr := breaker.NewManager(cfg.Breaker.ToCore(), log, breaker.NewMetrics())
	retryPolicy := resilience.NewCategoryPolicy(nil, breakerMgr, log, metrics.NewRetryMetrics())
	retryPolicy.SetCategory("validator", cfg.Retry.ToCore())

	middlewareChain := chain.New(30*time.Second, breakerMgr, retryPolicy, aggregator, log)

	reg := registry.New(log)
	for _, v := range []valcore.Validator{validator.NewGoValidator(), validator.NewPythonValidator()} {
		if err := reg.Register(v.Language(), v, valcore.ValidatorMetadata{Version: serviceVersion, Provider: "reference"}); err != nil {
			panic(fmt.Sprintf("registering default validator %q: %v", v.Language(), err))
		}
	}

	cacheMgr, err := cache.NewManager(cfg.Cache.ToCore(), log)
	if err != nil {
		log.Error("failed to construct result cache", "error", err)
		os.Exit(4)
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

// validatorHealthCheck exercises a validator against a trivial canned
// snippet and reports whether it completed without error.
func validatorHealthCheck(ctx context.Context, v valcore.Validator) valcore.Health {
	start := time.Now()
	_, err := v.Validate(ctx, []byte(""), valcore.ValidationOptions{Syntax: true})
	health := valcore.Health{Healthy: err == nil, LoadTime: time.Since(start)}
	if err != nil {
		health.LastError = err.Error()
	}
	return health
}
