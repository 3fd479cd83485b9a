package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"peertutor/api/internal/app"
	"peertutor/api/internal/config"
	"peertutor/api/internal/email"
	"peertutor/api/internal/export"
	"peertutor/api/internal/gitrepo"
	"peertutor/api/internal/jobs"
	"peertutor/api/internal/logger"
	"peertutor/api/internal/objectstore"
	"peertutor/api/internal/realtime"
	"peertutor/api/internal/search"
	"peertutor/api/internal/store"
	"peertutor/api/internal/summary"
	"peertutor/api/internal/tokenstore"
)

func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appLog, err := logger.New(cfg.Env)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer appLog.Sync()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		appLog.Fatal("database connection failed", "error", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db); err != nil {
		appLog.Fatal("migrations failed", "error", err)
	}
	if err := os.MkdirAll(cfg.NotesReposDir, 0o755); err != nil {
		appLog.Fatal("failed to create notes repos dir", "dir", cfg.NotesReposDir, "error", err)
	}

	dataStore := store.NewPostgresStore(db)
	deps := app.Deps{
		Store:    dataStore,
		History:  gitrepo.New(cfg.NotesReposDir),
		Exporter: export.NewService(),
		Log:      appLog,
	}

	// Redis carries refresh tokens and the realtime bus; without it both stay
	// on this instance (Postgres tokens, local hub).
	var bus realtime.Bus
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := tokenstore.NewRedisStore(cfg.RedisURL)
		if err != nil {
			appLog.Fatal("redis connection failed", "error", err)
		}
		defer redisStore.Close()
		deps.Tokens = redisStore
		bus = realtime.NewRedisBus(appLog, redisStore.Client(), cfg.RealtimeChannel)
		appLog.Info("using redis for refresh tokens and realtime fan-out")
	} else {
		appLog.Info("using postgres for refresh tokens; realtime is local to this instance")
	}
	broker := realtime.NewBroker(appLog, realtime.NewHub(appLog), bus)
	if err := broker.Start(ctx); err != nil {
		appLog.Fatal("realtime bus start failed", "error", err)
	}
	deps.Broker = broker

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, appLog)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, search.NewPgFTS(db), appLog)
	deps.Search = searchService

	deps.Summaries = summary.NewChain(appLog,
		summary.NewOpenAI(summary.OpenAIConfig{APIKey: cfg.OpenAIKey, BaseURL: cfg.OpenAIBaseURL, Model: cfg.OpenAIModel}, appLog),
		summary.NewClaude(summary.ClaudeConfig{APIKey: cfg.AnthropicKey, BaseURL: cfg.AnthropicURL, Model: cfg.AnthropicModel}, appLog),
		summary.NewLocal(),
	)

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		archive, err := objectstore.NewArchive(ctx, objectstore.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			appLog.Warn("report archive disabled", "error", err)
		} else {
			deps.Archive = archive
		}
	}

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if mailer.IsConfigured() {
		deps.Mailer = mailer
	}

	service := app.New(cfg, deps)

	reconciler := jobs.NewManager(appLog.With("component", "Reconciler"), dataStore, searchService)
	if err := reconciler.Start(cfg.ReconcileSchedule); err != nil {
		appLog.Fatal("reconcile schedule invalid", "schedule", cfg.ReconcileSchedule, "error", err)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, appLog)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		appLog.Info("PeerTutor API listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		appLog.Warn("http shutdown error", "error", err)
	}
	if err := service.Shutdown(shutdownCtx); err != nil {
		appLog.Warn("service shutdown error", "error", err)
	}
	reconciler.Stop()
	if err := broker.Close(); err != nil {
		appLog.Warn("realtime bus close error", "error", err)
	}
}
