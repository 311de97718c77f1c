package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"circulus/internal/audit"
	"circulus/internal/config"
	"circulus/internal/logging"
	"circulus/internal/metrics"
	"circulus/internal/telemetry"
)

const (
	exitOK = iota
	exitFailed
)

type options struct {
	once        bool
	metricsAddr string
}

func main() {
	configPath := flag.String("config", os.Getenv("CIRCULATION_CONFIG"), "path to a YAML config file")
	once := flag.Bool("once", false, "run the checks once and exit non-zero on failure")
	metricsAddr := flag.String("metrics-addr", ":9102", "address to serve /metrics on")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}

	code := run(cfg, options{once: *once, metricsAddr: *metricsAddr}, logger)
	_ = logger.Sync()
	os.Exit(code)
}

// run returns the process exit code. Everything it opens is closed before it returns.
func run(cfg config.Config, opts options, logger *zap.Logger) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, "circulation-audit", cfg.OTLPEndpoint)
	if err != nil {
		logger.Error("failed to start tracing", zap.Error(err))
		return exitFailed
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Warn("failed to flush traces", zap.Error(err))
		}
	}()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open database", zap.Error(err))
		return exitFailed
	}
	defer db.Close()

	auditor := audit.NewAuditor(db, logger)
	auditor.RegisterChecks()

	if opts.once {
		return runOnce(ctx, auditor, logger)
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.AuditSchedule, func() { runOnce(ctx, auditor, logger) }); err != nil {
		logger.Error("invalid audit schedule", zap.String("schedule", cfg.AuditSchedule), zap.Error(err))
		return exitFailed
	}
	scheduler.Start()

	server := &http.Server{Addr: opts.metricsAddr, Handler: metrics.Handler()}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	logger.Info("audit scheduled", zap.String("schedule", cfg.AuditSchedule))
	<-ctx.Done()

	<-scheduler.Stop().Done()
	_ = server.Shutdown(context.Background())
	return exitOK
}

func runOnce(ctx context.Context, auditor *audit.Auditor, logger *zap.Logger) int {
	report := auditor.Run(ctx)
	logger.Info("audit finished",
		zap.Bool("passed", report.Passed),
		zap.Int("violations", len(report.Violations)),
		zap.Int("errors", len(report.Errors)),
		zap.Duration("duration", report.Duration),
	)
	if !report.Passed {
		return exitFailed
	}
	return exitOK
}
