package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	alarmapp "leakwatch/internal/alarms/application"
	alarms "leakwatch/internal/alarms/domain"
	alarmhttp "leakwatch/internal/alarms/interfaces/http"
	alarmnotify "leakwatch/internal/alarms/notify"
	"leakwatch/internal/audit"
	"leakwatch/internal/auth"
	"leakwatch/internal/config"
	"leakwatch/internal/observability/metrics"
	telemetryapp "leakwatch/internal/telemetry/application"
	telemetry "leakwatch/internal/telemetry/domain"
	"leakwatch/internal/telemetry/infrastructure/memory"
	"leakwatch/internal/telemetry/infrastructure/sqlstore"
	telemetryhttp "leakwatch/internal/telemetry/interfaces/http"
	"leakwatch/internal/telemetry/interfaces/mqtt"
	"leakwatch/internal/telemetry/interfaces/redisqueue"
)

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := openBackend(ctx, cfg, logger)
	if err != nil {
		if errors.Is(err, telemetry.ErrSchemaMismatch) {
			logger.Fatalf("schema guard refused to start: %v", err)
		}
		logger.Fatalf("store error: %v", err)
	}
	defer backend.close()
	metrics.Init(backend.counter, logger)

	ingestService, err := telemetryapp.NewIngestService(backend.repo, logger)
	if err != nil {
		logger.Fatalf("ingest service error: %v", err)
	}

	var controller *alarmapp.Controller
	broker := alarmhttp.NewSSEBroker()
	notifiers, closeNotifiers := buildNotifiers(cfg, stateReaderFunc(func() alarms.State { return controller.State() }), logger)
	defer closeNotifiers()
	notifiers = append(notifiers, broker)

	controller, err = alarmapp.NewController(backend.repo, backend.repo,
		alarmapp.WithNotifier(alarmnotify.NewMultiNotifier(notifiers...)),
		alarmapp.WithLogger(logger),
	)
	if err != nil {
		logger.Fatalf("alert controller error: %v", err)
	}
	scheduler, err := alarmapp.NewScheduler(controller, cfg.Alert.PollInterval,
		alarmapp.WithTickTimeout(cfg.Alert.TickTimeout),
		alarmapp.WithSchedulerLogger(logger),
	)
	if err != nil {
		logger.Fatalf("alert scheduler error: %v", err)
	}

	router, err := newRouter(cfg, backend, ingestService, controller, broker, logger)
	if err != nil {
		logger.Fatalf("router error: %v", err)
	}

	var workers sync.WaitGroup
	startWorker := func(run func(context.Context)) {
		workers.Add(1)
		go func() {
			defer workers.Done()
			run(ctx)
		}()
	}
	startWorker(scheduler.Run)
	startUplinks(cfg, ingestService, logger, startWorker)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           loggingMiddleware(router, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Printf("http shutdown error: %v", err)
		}
	}()

	logger.Printf("http listening on %s prefix=%s driver=%s", cfg.HTTPAddr, cfg.Prefix(), cfg.Store.Driver)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("http server error: %v", err)
	}
	workers.Wait()
	logger.Printf("shutdown complete")
}

// readingRepo is what the services, controller and row-count gauge need from a store.
type readingRepo interface {
	telemetry.Repository
	Count(ctx context.Context) (int64, error)
}

type storeBackend struct {
	repo    readingRepo
	counter metrics.RowCounter
	audit   audit.Logger
	close   func()
}

func openBackend(ctx context.Context, cfg config.Config, logger *log.Logger) (*storeBackend, error) {
	if cfg.Store.Driver == "memory" {
		repo := memory.NewRepository(nil)
		logger.Printf("store: using in-memory readings")
		return &storeBackend{repo: repo, counter: repo, audit: audit.NewMemoryLogger(), close: func() {}}, nil
	}

	openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	store, err := sqlstore.Open(openCtx, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return nil, err
	}
	migration, err := store.EnsureSchema(openCtx)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	logger.Printf("store: driver=%s schema=%s", store.Dialect(), migration)

	auditRepo := audit.NewRepository(store.DB(), string(store.Dialect()))
	if err := auditRepo.EnsureTable(openCtx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return &storeBackend{
		repo:    store,
		counter: store,
		audit:   auditRepo,
		close: func() {
			if err := store.Close(); err != nil {
				logger.Printf("store close error: %v", err)
			}
		},
	}, nil
}

type stateReaderFunc func() alarms.State

func (f stateReaderFunc) State() alarms.State { return f() }

func buildNotifiers(cfg config.Config, state alarmnotify.StateReader, logger *log.Logger) ([]alarmapp.AlarmNotifier, func()) {
	var (
		notifiers []alarmapp.AlarmNotifier
		closers   []func()
	)
	if cfg.Alert.WebhookURL != "" {
		notifier, err := newWebhookNotifier(cfg, state, logger)
		if err != nil {
			logger.Printf("alert webhook disabled: %v", err)
		} else {
			notifiers = append(notifiers, notifier)
			closers = append(closers, notifier.Close)
		}
	}
	if cfg.NATS.URL != "" {
		publisher, err := alarmnotify.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.Subject, logger)
		if err != nil {
			logger.Printf("alert nats publisher disabled: %v", err)
		} else {
			notifiers = append(notifiers, publisher)
			closers = append(closers, publisher.Close)
		}
	}
	return notifiers, func() {
		for _, closeFn := range closers {
			closeFn()
		}
	}
}

func newWebhookNotifier(cfg config.Config, state alarmnotify.StateReader, logger *log.Logger) (*alarmnotify.Notifier, error) {
	channel, err := alarmnotify.NewWebhookChannel(cfg.Alert.WebhookURL)
	if err != nil {
		return nil, err
	}
	template, err := alarmnotify.NewTemplate(cfg.Alert.NotifyTemplate)
	if err != nil {
		return nil, err
	}
	return alarmnotify.NewNotifier(channel, template,
		alarmnotify.WithAsset(cfg.Asset),
		alarmnotify.WithRequestTimeout(cfg.Alert.NotifyTimeout),
		alarmnotify.WithCooldown(cfg.Alert.Cooldown),
		alarmnotify.WithDedupeWindow(cfg.Alert.DedupeWindow),
		alarmnotify.WithReminder(cfg.Alert.Reminder, state),
		alarmnotify.WithLogger(logger),
	)
}

func startUplinks(cfg config.Config, ingest *telemetryapp.IngestService, logger *log.Logger, start func(func(context.Context))) {
	if cfg.MQTT.Broker != "" {
		subscriber, err := mqtt.NewSubscriber(cfg.MQTT.Broker, ingest,
			mqtt.WithTopic(cfg.MQTT.Topic),
			mqtt.WithClientID(cfg.MQTT.ClientID),
			mqtt.WithLogger(logger),
		)
		if err != nil {
			logger.Printf("mqtt uplink disabled: %v", err)
		} else {
			start(subscriber.Run)
		}
	}
	if cfg.Redis.Addr != "" {
		consumer, err := redisqueue.NewConsumer(redisqueue.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Key:      cfg.Redis.Key,
		}, ingest, logger)
		if err != nil {
			logger.Printf("redis uplink disabled: %v", err)
		} else {
			start(func(ctx context.Context) {
				defer consumer.Close()
				consumer.Run(ctx)
			})
		}
	}
}

func newRouter(cfg config.Config, backend *storeBackend, ingest *telemetryapp.IngestService, controller alarmhttp.AlertController, broker *alarmhttp.SSEBroker, logger *log.Logger) (http.Handler, error) {
	statusService, err := telemetryapp.NewStatusService(backend.repo)
	if err != nil {
		return nil, err
	}
	historyService, err := telemetryapp.NewHistoryService(backend.repo)
	if err != nil {
		return nil, err
	}
	readings, err := telemetryhttp.NewHandler(ingest, statusService, historyService, logger)
	if err != nil {
		return nil, err
	}
	alerts, err := alarmhttp.NewHandler(controller, backend.audit, broker, logger)
	if err != nil {
		return nil, err
	}

	prefix := cfg.Prefix()
	authMiddleware := auth.NewMiddleware([]byte(cfg.Auth.JWTSecret), auth.NewDefaultPolicy(prefix, []string{"/healthz", "/metrics"}, nil))
	ingestAuth := auth.NewIngestAuthMiddleware([]byte(cfg.Ingest.HMACSecret), cfg.Ingest.MaxSkew)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)
	r.Use(authMiddleware.Wrap)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	api := chi.NewRouter()
	readings.RegisterRoutes(api, ingestAuth.Wrap)
	alerts.RegisterRoutes(api)
	if prefix == "" {
		r.Mount("/", api)
	} else {
		r.Mount(prefix, api)
	}
	return r, nil
}

// corsMiddleware allows any origin; every endpoint is public to dashboards.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := w.Header()
		header.Set("Access-Control-Allow-Origin", "*")
		header.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Ingest-Timestamp, X-Ingest-Signature")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
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

// Flush keeps the alert stream working through the logging wrapper.
func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
