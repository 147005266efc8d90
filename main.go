package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"powerstation-cloud/internal/auth"
	automationapp "powerstation-cloud/internal/automation/application"
	"powerstation-cloud/internal/automation/engine"
	automationrepo "powerstation-cloud/internal/automation/infrastructure/postgres"
	automationhttp "powerstation-cloud/internal/automation/interfaces/http"
	automationnotify "powerstation-cloud/internal/automation/notify"
	"powerstation-cloud/internal/config"
	"powerstation-cloud/internal/devices/control"
	devicesrepo "powerstation-cloud/internal/devices/infrastructure/postgres"
	deviceshttp "powerstation-cloud/internal/devices/interfaces/http"
	"powerstation-cloud/internal/observability/metrics"
	"powerstation-cloud/internal/telemetry"
	telemetryrepo "powerstation-cloud/internal/telemetry/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config error: %v", err)
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	snapshots := telemetry.NewSnapshotStore(telemetry.WithSnapshotTTL(cfg.SnapshotTTL))
	metrics.Init(db, snapshots, logger)

	deviceRepo := devicesrepo.NewDeviceRepository(db)
	ruleRepo := automationrepo.NewRuleRepository(db)
	logRepo := automationrepo.NewExecutionLogRepository(db)
	historyRepo := telemetryrepo.NewHistoryRepository(db)

	cooldowns := engine.NewMemoryCooldownStore()
	seedCtx, cancelSeed := context.WithTimeout(context.Background(), 10*time.Second)
	if rules, err := ruleRepo.List(seedCtx); err != nil {
		logger.Printf("cooldown seed skipped: %v", err)
	} else {
		cooldowns.Seed(rules)
	}
	cancelSeed()

	controller, err := control.NewClient(cfg.CloudBaseURL, cfg.CloudAccessKey, cfg.CloudSecretKey)
	if err != nil {
		logger.Fatalf("control client error: %v", err)
	}

	var notifier engine.Notifier
	if cfg.WebhookURL != "" {
		channelOpts := []automationnotify.WebhookOption{
			automationnotify.WithHTTPClient(&http.Client{Timeout: cfg.NotifyTimeout}),
		}
		if cfg.WebhookChannel != "" {
			channelOpts = append(channelOpts, automationnotify.WithDefaultChannel(cfg.WebhookChannel))
		}
		webhook, err := automationnotify.NewWebhookChannel(cfg.WebhookURL, channelOpts...)
		if err != nil {
			logger.Fatalf("webhook channel error: %v", err)
		}
		notifier = webhook
	}

	executor, err := engine.NewExecutor(controller, notifier)
	if err != nil {
		logger.Fatalf("executor error: %v", err)
	}

	broker := automationhttp.NewSSEBroker()
	ruleEngine, err := engine.New(ruleRepo, cooldowns, executor, logRepo,
		engine.WithPublisher(broker),
		engine.WithLogger(logger),
	)
	if err != nil {
		logger.Fatalf("engine error: %v", err)
	}

	tester, err := engine.NewTester(ruleRepo, snapshots, cooldowns, nil)
	if err != nil {
		logger.Fatalf("tester error: %v", err)
	}

	ruleService, err := automationapp.NewRuleService(ruleRepo, logRepo, tester,
		automationapp.WithCooldowns(cooldowns),
	)
	if err != nil {
		logger.Fatalf("rule service error: %v", err)
	}

	cloud, err := telemetry.NewCloudClient(cfg.CloudBaseURL, cfg.CloudAccessKey, cfg.CloudSecretKey)
	if err != nil {
		logger.Fatalf("cloud client error: %v", err)
	}

	poller, err := telemetry.NewPoller(cloud, deviceRepo, snapshots, ruleEngine,
		telemetry.WithPollerLogger(logger),
		telemetry.WithRecorder(historyRepo),
		telemetry.WithExtraBatteryTTL(cfg.ExtraBatteryTTL),
	)
	if err != nil {
		logger.Fatalf("poller error: %v", err)
	}
	if err := poller.Start(cfg.PollInterval); err != nil {
		logger.Fatalf("poller start error: %v", err)
	}
	defer poller.Stop()

	if cfg.MQTTBroker != "" {
		subscriber, err := telemetry.NewSubscriber(
			cfg.MQTTBroker, cfg.MQTTClientID, cfg.MQTTUsername, cfg.MQTTPassword,
			poller, deviceRepo,
			telemetry.WithSubscriberLogger(logger),
		)
		if err != nil {
			logger.Fatalf("mqtt subscriber error: %v", err)
		}
		if err := subscriber.Start(); err != nil {
			logger.Fatalf("mqtt start error: %v", err)
		}
		defer subscriber.Stop()
	}

	ruleHandler, err := automationhttp.NewHandler(ruleService)
	if err != nil {
		logger.Fatalf("rule handler error: %v", err)
	}
	exportHandler, err := automationhttp.NewExportHandler(ruleService)
	if err != nil {
		logger.Fatalf("export handler error: %v", err)
	}
	streamHandler := automationhttp.NewStreamHandler(broker)
	deviceHandler, err := deviceshttp.NewHandler(deviceRepo, snapshots, historyRepo)
	if err != nil {
		logger.Fatalf("device handler error: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/api/v1/rules", ruleHandler)
	mux.Handle("/api/v1/rules/", ruleHandler)
	mux.Handle("/api/v1/executions", ruleHandler)
	mux.Handle("/api/v1/executions/stream", streamHandler)
	mux.Handle("/api/v1/exports/", exportHandler)
	mux.Handle("/api/v1/devices", deviceHandler)
	mux.Handle("/api/v1/devices/", deviceHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: loggingMiddleware(authMiddleware.Wrap(mux), logger),
	}

	if cfg.HistoryRetention > 0 {
		go pruneLoop(historyRepo, logRepo, cfg.HistoryRetention, logger)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Printf("http listening on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("http server error: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("http shutdown error: %v", err)
	}
}

// pruneLoop trims telemetry history and execution logs once a day.
func pruneLoop(history *telemetryrepo.HistoryRepository, logs *automationrepo.ExecutionLogRepository, retention time.Duration, logger *log.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().UTC().Add(-retention)
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		if n, err := history.Prune(ctx, cutoff); err != nil {
			logger.Printf("history prune error: %v", err)
		} else if n > 0 {
			logger.Printf("pruned %d telemetry rows", n)
		}
		if n, err := logs.Prune(ctx, cutoff); err != nil {
			logger.Printf("execution log prune error: %v", err)
		} else if n > 0 {
			logger.Printf("pruned %d execution log rows", n)
		}
		cancel()
	}
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
