package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"wardenbot/internal/analytics"
	"wardenbot/internal/automod"
	"wardenbot/internal/bot"
	"wardenbot/internal/config"
	"wardenbot/internal/lists"
	"wardenbot/internal/modules/audit"
	"wardenbot/internal/safebrowsing"
	"wardenbot/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := config.BuildLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	store, err := storage.New(cfg.DatabasePath)
	if err != nil {
		logger.Fatal("storage init failed", zap.Error(err))
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}

	fileLists, err := lists.Load(cfg.Lists.AllowFile, cfg.Lists.DenyFile)
	if err != nil {
		logger.Fatal("domain list load failed", zap.Error(err))
	}
	domainLists := lists.NewCombined(fileLists, store, logger)

	var resolver automod.Resolver
	var sbClient *safebrowsing.Client
	if cfg.Safebrowsing.APIKey != "" {
		sbClient = safebrowsing.NewClient(safebrowsing.Config{
			APIKey:         cfg.Safebrowsing.APIKey,
			ClientID:       cfg.Safebrowsing.ClientID,
			ClientVersion:  cfg.Safebrowsing.ClientVersion,
			BatchSize:      cfg.Safebrowsing.BatchSize,
			SafeTTL:        time.Duration(cfg.Safebrowsing.SafeTTLMinutes) * time.Minute,
			ResolveTimeout: time.Duration(cfg.Safebrowsing.ResolveTimeoutSeconds * float64(time.Second)),
			Retries:        cfg.Safebrowsing.Retries,
		}, logger)
		resolver = sbClient
	} else {
		logger.Warn("no reputation api key set, link reputation checks disabled")
	}

	auditLogger := audit.NewLogger(store, logger)
	analyticsService := analytics.New(store)
	buckets := automod.NewBuckets(cfg.Automod)
	engine := automod.New(cfg.Automod, buckets, domainLists, resolver, logger)

	botSvc, err := bot.New(cfg, logger, store, engine, auditLogger, analyticsService)
	if err != nil {
		logger.Fatal("bot init failed", zap.Error(err))
	}

	if err := botSvc.Start(); err != nil {
		logger.Fatal("bot start failed", zap.Error(err))
	}
	logger.Info("bot started")

	var server *http.Server
	if cfg.Health.Enabled {
		server = &http.Server{Addr: cfg.Health.Addr}
		http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		go func() {
			logger.Info("health endpoint enabled", zap.String("addr", cfg.Health.Addr))
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("health server error", zap.Error(err))
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown requested")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if server != nil {
		_ = server.Shutdown(ctx)
	}
	botSvc.Close(ctx)
	if sbClient != nil {
		sbClient.Close()
	}
}
