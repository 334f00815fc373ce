package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"

	"github.com/bark-labs/pushdispatch/internal/config"
	"github.com/bark-labs/pushdispatch/internal/credential"
	"github.com/bark-labs/pushdispatch/internal/fcm"
	"github.com/bark-labs/pushdispatch/internal/logger"
	"github.com/bark-labs/pushdispatch/internal/metrics"
	"github.com/bark-labs/pushdispatch/internal/server"
	"github.com/bark-labs/pushdispatch/internal/service"
	"github.com/bark-labs/pushdispatch/internal/storage"
	"github.com/bark-labs/pushdispatch/internal/storage/bolt"
	"github.com/bark-labs/pushdispatch/internal/storage/sqlstore"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	importKey := flag.String("import-key", "", "Store the given service-account JSON file in the system keychain and exit")
	hashPassword := flag.String("hash-password", "", "Print a bcrypt hash for auth.password and exit")
	flag.Parse()

	if *hashPassword != "" {
		hashed, err := service.HashPassword(*hashPassword)
		if err != nil {
			fatal(nil, "hash password", err)
		}
		fmt.Println(hashed)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(nil, "load config", err)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	if *importKey != "" {
		raw, err := os.ReadFile(*importKey)
		if err != nil {
			fatal(log, "read service account", err)
		}
		if err := credential.StoreServiceAccountKeyring(cfg.Credential.KeyringAccount, raw); err != nil {
			fatal(log, "store service account", err)
		}
		log.Info("service account stored in keychain", slog.String("account", cfg.Credential.KeyringAccount))
		return
	}

	account, err := loadServiceAccount(cfg)
	if err != nil {
		fatal(log, "load service account", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		fatal(log, "open store", err)
	}
	defer store.Close()

	reg := metrics.New()
	credentials := credential.NewManager(account, credential.Options{
		TokenURL:     cfg.Credential.TokenURL,
		Scope:        cfg.Credential.Scope,
		SafetyMargin: cfg.Credential.SafetyMargin,
		Timeout:      cfg.Credential.RequestTimeout,
	}, reg, log)

	projectID := firstNonEmpty(cfg.Gateway.ProjectID, credentials.ProjectID())
	gateway, err := fcm.New(cfg.Gateway.BaseURL, projectID, cfg.Gateway.SendTimeout)
	if err != nil {
		fatal(log, "init gateway client", err)
	}

	dispatcher := service.NewDispatcher(gateway, service.DispatcherOptions{
		Workers:     cfg.Dispatch.Workers,
		SendTimeout: cfg.Gateway.SendTimeout,
		Envelope: fcm.EnvelopeOptions{
			Icon:     cfg.Gateway.Icon,
			Badge:    cfg.Gateway.Badge,
			LinkBase: cfg.Gateway.LinkBase,
		},
	}, reg, log)
	notifySvc := service.NewNotifyService(
		service.NewRecipientResolver(store, log),
		credentials,
		dispatcher,
		service.NewTokenLifecycleManager(store, reg, log),
		service.NewAuditLogger(store, reg, log),
		service.NotifyOptions{
			PrefetchCredential: cfg.Dispatch.PrefetchCredential,
			ReconcileTimeout:   cfg.Dispatch.ReconcileTimeout,
			AuditTimeout:       cfg.Dispatch.AuditTimeout,
		},
		reg,
		log,
	)

	auth, err := service.NewAuthService(cfg)
	if err != nil {
		fatal(log, "auth", err)
	}
	srv := server.New(cfg, server.Services{
		Notify:  notifySvc,
		Devices: service.NewDeviceService(store),
		Logs:    service.NewDispatchLogService(store),
		Auth:    auth,
		Metrics: reg,
	}, log)

	go func() {
		if err := srv.Start(); err != nil {
			fatal(log, "server stopped", err)
		}
	}()

	// graceful shutdown
	waitForSignal()
	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.WriteTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown", slog.Any("error", err))
	}
}

func loadServiceAccount(cfg *config.Config) (*credential.ServiceAccount, error) {
	if strings.EqualFold(cfg.Credential.Source, config.SourceKeyring) {
		return credential.LoadServiceAccountKeyring(cfg.Credential.KeyringAccount)
	}
	return credential.LoadServiceAccountFile(cfg.Credential.File)
}

func openStore(cfg *config.Config) (storage.Store, error) {
	switch strings.ToLower(cfg.Storage.Driver) {
	case config.DriverPostgres:
		return sqlstore.Open(postgres.Open(cfg.Storage.DSN))
	case config.DriverSQLite:
		return sqlstore.Open(sqlite.Open(cfg.Storage.DSN))
	default:
		return bolt.New(cfg.Storage.Path)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func waitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}

func fatal(log *slog.Logger, msg string, err error) {
	if log == nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	} else {
		log.Error(msg, slog.Any("error", err))
	}
	os.Exit(1)
}
