package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/basket/go-concierge/internal/breaker"
	"github.com/basket/go-concierge/internal/bus"
	"github.com/basket/go-concierge/internal/channels"
	"github.com/basket/go-concierge/internal/config"
	"github.com/basket/go-concierge/internal/generator"
	"github.com/basket/go-concierge/internal/incident"
	"github.com/basket/go-concierge/internal/lock"
	"github.com/basket/go-concierge/internal/maintenance"
	otelPkg "github.com/basket/go-concierge/internal/otel"
	"github.com/basket/go-concierge/internal/persistence"
	"github.com/basket/go-concierge/internal/recovery"
	"github.com/basket/go-concierge/internal/supervisor"
	"github.com/basket/go-concierge/internal/telemetry"
	"github.com/basket/go-concierge/internal/worker"
	"github.com/google/uuid"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.3-dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()
	if *showVersion {
		fmt.Println("goconcierge", Version)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "doctor":
			os.Exit(runDoctorCommand(ctx, args[1:]))
		default:
			fmt.Fprintf(os.Stderr, "unknown command %q (supported: doctor)\n", args[0])
			os.Exit(2)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, false)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "fingerprint", cfg.Fingerprint())

	// Create the event bus early so it can be passed to the store.
	eventBus := bus.New()

	// OpenTelemetry is a no-op when disabled.
	otelProvider, err := otelPkg.Init(ctx, cfg.Otel)
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}
	defer otelProvider.Shutdown(context.Background())

	store, err := persistence.Open(cfg.DBPath, eventBus)
	if err != nil {
		fatalStartup(logger, "E_STORE_OPEN", err)
	}
	defer store.Close()
	logger.Info("startup phase", "phase", "schema_migrated", "db_path", cfg.DBPath)

	metrics, err := otelPkg.NewMetrics(otelProvider.Meter)
	if err != nil {
		fatalStartup(logger, "E_METRICS_INIT", err)
	}
	gaugeReg, err := otelPkg.RegisterQueueDepthGauge(otelProvider.Meter, store)
	if err != nil {
		fatalStartup(logger, "E_METRICS_INIT", err)
	}
	defer func() { _ = gaugeReg.Unregister() }()
	go otelPkg.NewObserver(metrics).Watch(eventBus.Subscribe(""))

	// Requeue jobs a previous process claimed but never finished.
	staleAge := time.Duration(cfg.Maintenance.StaleClaimAgeMinutes) * time.Minute
	requeued, err := store.RecoverStaleProcessing(ctx, staleAge)
	if err != nil {
		fatalStartup(logger, "E_RECOVERY_SCAN", err)
	}
	logger.Info("startup phase", "phase", "recovery_scan_completed", "requeued", requeued)

	locks := lock.NewService(store, holderID(), logger)

	registry := channels.NewRegistry(buildSenders(cfg)...)

	if cfg.Channels.Telegram.Enabled {
		if cfg.Channels.Telegram.Token == "" {
			logger.Warn("telegram alerting enabled but token is missing")
		} else {
			alerter, err := channels.NewTelegramAlerter(cfg.Channels.Telegram.Token, cfg.Channels.Telegram.ChatID, logger)
			if err != nil {
				logger.Error("telegram alerter init failed", "error", err)
			} else {
				go alerter.Watch(eventBus.Subscribe(bus.TopicEscalationRaised))
			}
		}
	}

	sink, err := incident.NewSink(store, eventBus, cfg.HomeDir, logger)
	if err != nil {
		fatalStartup(logger, "E_INCIDENT_SINK_INIT", err)
	}
	defer sink.Close()
	go sink.Watch(eventBus.Subscribe(bus.TopicEscalationRaised))

	fallback := generator.NewTemplateResponder()
	var primary generator.Responder
	if cfg.Generator.APIKey != "" {
		p, err := generator.NewOpenAIResponder(cfg.Generator.APIKey, cfg.Generator.BaseURL, cfg.Generator.Model)
		if err != nil {
			fatalStartup(logger, "E_GENERATOR_INIT", err)
		}
		primary = p
		logger.Info("primary responder configured", "model", cfg.Generator.Model)
	} else {
		logger.Warn("no model API key configured; every reply uses the template fallback")
	}

	brk := breaker.New("generator", logger,
		breaker.WithFailureThreshold(cfg.Breaker.FailureThreshold),
		breaker.WithResetTimeout(time.Duration(cfg.Breaker.ResetTimeoutSeconds)*time.Second),
	)

	sup := supervisor.New(logger,
		supervisor.WithBus(eventBus),
		supervisor.WithMaxIterations(cfg.MaxIterations),
	)

	pool := worker.NewPool(store, logger,
		worker.WithSize(cfg.WorkerCount),
		worker.WithPollInterval(time.Duration(cfg.PollIntervalMs)*time.Millisecond),
	)
	pool.Register(persistence.JobTypeResponseGeneration,
		worker.NewResponseHandler(store, sup, brk, primary, fallback, logger))
	sendHandler := worker.NewSendHandler(store, registry, eventBus, logger)
	pool.Register(persistence.JobTypeSendWhatsApp, sendHandler)
	pool.Register(persistence.JobTypeSendInstagram, sendHandler)
	pool.Register(persistence.JobTypeUpdateScore, worker.NewScoreHandler(store, logger))

	sweeper := recovery.NewSweeper(store, eventBus, logger)

	maintSched := maintenance.NewScheduler(maintenance.Config{
		Store:  store,
		Locks:  locks,
		Logger: logger,
	})
	if err := maintSched.RegisterStandardTasks(store, sweeper, maintenance.StandardTaskConfig{
		JobRetentionDays: cfg.Maintenance.JobRetentionDays,
		StaleClaimAge:    staleAge,
		RecoveryWindow:   time.Duration(cfg.Maintenance.RecoveryWindowMinutes) * time.Minute,
	}); err != nil {
		fatalStartup(logger, "E_MAINTENANCE_INIT", err)
	}
	maintSched.Start(ctx)
	defer maintSched.Stop()

	confWatcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := confWatcher.Start(ctx); err != nil {
		fatalStartup(logger, "E_CONFIG_WATCHER_START", err)
	}
	go func() {
		for ev := range confWatcher.Events() {
			newCfg, err := config.Load()
			if err != nil {
				logger.Error("config.yaml reload failed", "error", err)
				continue
			}
			if newCfg.Fingerprint() == cfg.Fingerprint() {
				continue
			}
			// Runtime knobs (worker count, breaker thresholds) need a restart;
			// log the drift so operators know the process runs stale config.
			logger.Warn("config.yaml changed on disk; restart to apply",
				"path", ev.Path,
				"running_fingerprint", cfg.Fingerprint(),
				"disk_fingerprint", newCfg.Fingerprint())
		}
	}()

	// Workers run on their own context so signal arrival starts a bounded
	// drain instead of tearing down mid-job.
	poolCtx, poolCancel := context.WithCancel(context.Background())
	defer poolCancel()
	poolDone := make(chan struct{})
	go func() {
		pool.Run(poolCtx)
		close(poolDone)
	}()
	logger.Info("startup phase", "phase", "workers_started", "count", cfg.WorkerCount)

	<-ctx.Done()
	logger.Info("shutdown signal received")

	maintSched.Stop()
	poolCancel()
	drainTimeout := time.Duration(cfg.DrainTimeoutSeconds) * time.Second
	select {
	case <-poolDone:
		logger.Info("workers drained")
	case <-time.After(drainTimeout):
		logger.Warn("drain timeout exceeded; exiting with jobs in flight", "timeout", drainTimeout.String())
	}
	logger.Info("shutdown complete")
}

// holderID identifies this process in the distributed-lock table.
func holderID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "goconcierge"
	}
	return host + "-" + uuid.NewString()[:8]
}

func buildSenders(cfg config.Config) []channels.Sender {
	var senders []channels.Sender
	if cfg.Channels.WhatsApp.Enabled {
		senders = append(senders, channels.NewWhatsAppSender(
			cfg.Channels.WhatsApp.AccessToken,
			cfg.Channels.WhatsApp.PhoneNumberID,
			"",
		))
	}
	if cfg.Channels.Instagram.Enabled {
		senders = append(senders, channels.NewInstagramSender(
			cfg.Channels.Instagram.AccessToken,
			cfg.Channels.Instagram.PageID,
			"",
		))
	}
	return senders
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(
			os.Stderr,
			`{"timestamp":"%s","level":"ERROR","component":"runtime","trace_id":"-","msg":"startup failure","reason_code":%q,"error":%q}`+"\n",
			time.Now().UTC().Format(time.RFC3339Nano),
			reasonCode,
			message,
		)
	}
	os.Exit(1)
}
