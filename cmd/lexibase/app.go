package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/adrianmcphee/lexibase"
	"github.com/adrianmcphee/lexibase/internal/config"
)

// app holds everything a command needs; close releases it
type app struct {
	cfg      *config.Config
	logger   *lexibase.ZapLogger
	registry *prometheus.Registry
	redis    *redis.Client
	store    *lexibase.Store
}

func newLogger(cfg config.LogConfig) (*lexibase.ZapLogger, error) {
	if cfg.Development {
		return lexibase.NewDevelopmentZapLogger()
	}
	return lexibase.NewProductionZapLogger(cfg.Level)
}

func openBackend(ctx context.Context, cfg config.BackendConfig) (lexibase.Backend, error) {
	base := cfg.Bucket
	if cfg.Type == "filesystem" {
		base = cfg.Path
	}
	backend, err := lexibase.NewBackend(ctx, lexibase.BackendConfig{
		Type:            cfg.Type,
		Bucket:          base,
		Region:          cfg.Region,
		Endpoint:        cfg.Endpoint,
		PathPrefix:      cfg.Prefix,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		UseSSL:          cfg.UseSSL,
		CredentialsFile: cfg.CredentialsFile,
	})
	if err != nil {
		return nil, err
	}
	if cfg.EncryptionKey == "" {
		return backend, nil
	}
	key, err := lexibase.ParseEncryptionKey(cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}
	return lexibase.NewEncryptionBackend(backend, key)
}

func openApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	metrics := lexibase.NewPrometheusMetrics(a.registry)

	legacy, err := openBackend(ctx, cfg.Legacy)
	if err != nil {
		return nil, fmt.Errorf("legacy backend: %w", err)
	}

	opts := []lexibase.Option{
		lexibase.WithLogger(logger),
		lexibase.WithMetrics(metrics),
		lexibase.WithPreferred(lexibase.StorageType(cfg.Store.Preferred)),
		lexibase.WithNamespace(cfg.Store.Namespace),
		lexibase.WithRetention(cfg.Backup.Retention),
		lexibase.WithClearLegacyAfterMigration(cfg.Store.ClearLegacy),
		lexibase.WithAutoBackupOnSave(cfg.Backup.AutoOnSave),
	}
	if cfg.StructuredEnabled() {
		records, err := openBackend(ctx, cfg.Records)
		if err != nil {
			return nil, fmt.Errorf("records backend: %w", err)
		}
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		opts = append(opts, lexibase.WithStructured(records, a.redis))
	}

	a.store, err = lexibase.New(legacy, opts...)
	if err != nil {
		a.close()
		return nil, err
	}
	if err := a.store.EnsureReady(ctx); err != nil {
		a.close()
		return nil, err
	}
	if cfg.Store.SeedSample {
		if _, err := a.store.SeedSampleData(ctx); err != nil {
			logger.Warn("failed to seed sample data", "error", err)
		}
	}
	return a, nil
}

func (a *app) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("failed to close store", "error", err)
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	_ = a.logger.Sync()
}
