package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/eternisai/push-relay/internal/api"
	"github.com/eternisai/push-relay/internal/config"
	"github.com/eternisai/push-relay/internal/fallback"
	"github.com/eternisai/push-relay/internal/gateway"
	"github.com/eternisai/push-relay/internal/logger"
	"github.com/eternisai/push-relay/internal/notifications"
	"github.com/eternisai/push-relay/internal/storage/memory"
	"github.com/eternisai/push-relay/internal/storage/pg"
)

// storage groups the backend-specific implementations.
type storage struct {
	tokens   notifications.TokenStore
	log      notifications.DeliveryLog
	contacts fallback.ContactResolver
	db       *pg.Database
}

func main() {
	cfg := config.LoadConfig()

	log := logger.New(logger.FromConfig(cfg.LogLevel, cfg.LogFormat))
	slog.SetDefault(log.Logger)

	log.Info("setting gin mode", slog.String("mode", cfg.GinMode))
	gin.SetMode(cfg.GinMode)

	ctx := context.Background()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := notifications.NewMetrics(registry)

	store, err := initStorage(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize storage", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if store.db != nil {
		defer store.db.Close()
	}

	var firebaseClients *gateway.FirebaseClients
	useFirestore := cfg.ContactResolver == "firestore"
	if cfg.PushNotificationsEnabled || useFirestore {
		firebaseClients, err = gateway.NewFirebaseClients(ctx, cfg.FirebaseProjectID, cfg.FirebaseCredJSON, useFirestore)
		if err != nil {
			log.Error("failed to initialize firebase", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer firebaseClients.Close()
	}

	var pushGateway notifications.Gateway
	if cfg.PushNotificationsEnabled {
		pushGateway = gateway.NewFCMClient(firebaseClients.Messaging, gateway.Config{
			ProjectID:       cfg.FirebaseProjectID,
			CredentialsJSON: cfg.FirebaseCredJSON,
			Envelope: gateway.EnvelopeConfig{
				AlertTTL:  cfg.AlertTTL,
				SilentTTL: cfg.SilentTTL,
			},
			DebugCurl: cfg.PushDebugCurl,
		}, log)
		log.Info("push notifications enabled", slog.String("project_id", cfg.FirebaseProjectID))
	} else {
		pushGateway = gateway.NewDisabled(log)
		log.Warn("push notifications disabled, sends are logged only")
	}

	contacts := store.contacts
	if useFirestore {
		contacts = fallback.NewFirestoreResolver(firebaseClients.Firestore, "users")
	}

	channels, closeChannels := initChannels(cfg, log)
	defer closeChannels()

	keywords := cfg.Fallback.Keywords
	if keywords == nil {
		keywords = config.DefaultFallbackKeywords
	}
	notifier := fallback.NewNotifier(contacts, channels, keywords, log)

	orchestrator := notifications.NewOrchestrator(notifications.OrchestratorConfig{
		Store:     store.tokens,
		Gateway:   pushGateway,
		Log:       store.log,
		Escalator: notifier,
		Retry: notifications.RetryPolicy{
			MaxAttempts:   cfg.RetryMaxAttempts,
			BaseDelay:     cfg.RetryBaseDelay,
			MaxDelay:      cfg.RetryMaxDelay,
			JitterPercent: cfg.RetryJitterPercent,
		},
		GatewayTimeout: cfg.GatewayTimeout,
		Metrics:        metrics,
		Logger:         log,
	})

	dispatcher := notifications.NewDispatcher(orchestrator, notifications.DispatcherConfig{
		Workers:    cfg.DispatchWorkers,
		BufferSize: cfg.DispatchBufferSize,
	}, metrics, log)

	service := notifications.NewService(store.tokens, store.log, dispatcher, metrics, log)

	probe := notifications.NewProbe(store.tokens, orchestrator, notifications.ProbeConfig{
		Schedule:           cfg.ProbeSchedule,
		FreshnessThreshold: cfg.ProbeFreshnessThreshold,
		BatchLimit:         cfg.ProbeBatchLimit,
		Concurrency:        cfg.ProbeConcurrency,
	}, metrics, log)
	if cfg.ProbeEnabled {
		if err := probe.Start(ctx); err != nil {
			log.Error("failed to start token refresh probe", slog.String("error", err.Error()))
			os.Exit(1)
		}
	} else {
		log.Info("token refresh probe disabled")
	}

	var pinger api.Pinger
	if store.db != nil {
		pinger = store.db
	}
	router := api.NewRouter(api.NewHandler(service, pinger, log), registry, log)

	port := ":" + cfg.Port
	srv := &http.Server{
		Addr:    port,
		Handler: api.WithCORS(router, cfg.CORSAllowedOrigins),
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("failed to start server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()
	log.Info("push relay listening",
		slog.String("addr", port),
		slog.String("storage", cfg.StorageBackend),
		slog.Int("workers", cfg.DispatchWorkers),
		slog.Int("fallback_channels", len(channels)))

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ServerShutdownTimeoutSeconds)*time.Second)
	defer cancel()

	// Stop accepting submissions first so nothing new reaches the dispatcher.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", slog.String("error", err.Error()))
	}

	probe.Stop(shutdownCtx)
	log.Info("token refresh probe stopped")

	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		log.Error("dispatcher did not drain before the deadline",
			slog.String("error", err.Error()),
			slog.Int64("dropped_total", dispatcher.DroppedTotal()))
	} else {
		log.Info("dispatcher drained")
	}

	log.Info("server exited")
}

func initStorage(ctx context.Context, cfg *config.Config, log *logger.Logger) (*storage, error) {
	switch cfg.StorageBackend {
	case "memory":
		tokens := memory.NewTokenStore(cfg.TokenDedupWindow, cfg.TokenLifetime)
		var contacts []fallback.Contact
		for _, r := range cfg.DevRecipients {
			tokens.AddRecipient(r.ID)
			contacts = append(contacts, fallback.Contact{RecipientID: r.ID, Email: r.Email, Phone: r.Phone})
		}
		log.Warn("using in-memory storage, state is lost on restart",
			slog.Int("recipients", len(cfg.DevRecipients)))
		return &storage{
			tokens:   tokens,
			log:      memory.NewDeliveryLog(cfg.DeliveryLogCapacity),
			contacts: fallback.NewMemoryResolver(contacts...),
		}, nil

	default:
		db, err := pg.InitDatabase(ctx, cfg.DatabaseURL, pg.PoolConfig{
			MaxOpenConns:    cfg.DBMaxOpenConns,
			MaxIdleConns:    cfg.DBMaxIdleConns,
			ConnMaxIdleTime: time.Duration(cfg.DBConnMaxIdleTime) * time.Minute,
			ConnMaxLifetime: time.Duration(cfg.DBConnMaxLifetime) * time.Minute,
		})
		if err != nil {
			return nil, err
		}
		recipients := pg.NewRecipients(db.DB)
		for _, r := range cfg.DevRecipients {
			if err := recipients.Upsert(ctx, fallback.Contact{RecipientID: r.ID, Email: r.Email, Phone: r.Phone}); err != nil {
				db.Close()
				return nil, err
			}
		}
		log.Info("database initialized",
			slog.Int64("schema_version", db.SchemaVersion),
			slog.Int("max_open_conns", cfg.DBMaxOpenConns))
		return &storage{
			tokens: pg.NewTokenStore(db.DB, pg.TokenStoreConfig{
				DedupWindow: cfg.TokenDedupWindow,
				Lifetime:    cfg.TokenLifetime,
			}),
			log:      pg.NewDeliveryLog(db.DB),
			contacts: recipients,
			db:       db,
		}, nil
	}
}

func initChannels(cfg *config.Config, log *logger.Logger) ([]fallback.Channel, func()) {
	var channels []fallback.Channel
	closeFn := func() {}

	if cfg.SMTPHost != "" {
		channels = append(channels, fallback.NewEmailChannel(fallback.SMTPConfig{
			Host:       cfg.SMTPHost,
			Port:       cfg.SMTPPort,
			Username:   cfg.SMTPUsername,
			Password:   cfg.SMTPPassword,
			FromAddr:   cfg.SMTPFrom,
			Encryption: cfg.SMTPEncryption,
		}))
		log.Info("email fallback channel enabled", slog.String("host", cfg.SMTPHost))
	}

	if cfg.NatsURL != "" {
		conn, err := fallback.ConnectNATS(cfg.NatsURL, log)
		if err != nil {
			log.Error("failed to connect to NATS, fallback channel disabled", slog.String("error", err.Error()))
		} else {
			channels = append(channels, fallback.NewNATSChannel(conn, cfg.FallbackNATSSubject))
			closeFn = func() {
				if err := conn.Drain(); err != nil {
					log.Error("failed to drain NATS connection", slog.String("error", err.Error()))
				}
			}
			log.Info("NATS fallback channel enabled", slog.String("subject", cfg.FallbackNATSSubject))
		}
	}

	return channels, closeFn
}
