// Package core wires the branch and session subsystem from configuration.
package core

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"erp-session-core/internal/apiclient"
	"erp-session-core/internal/branch"
	"erp-session-core/internal/config"
	"erp-session-core/internal/endpoint"
	"erp-session-core/internal/kv"
	"erp-session-core/internal/logging"
	"erp-session-core/internal/session"
)

type Core struct {
	Registry  *branch.Registry
	Selection *branch.Selection
	Sessions  *session.Store
	Resolver  *endpoint.Resolver
	Client    *apiclient.Client
	Gate      *session.Gate
	Logger    *zap.Logger

	closeFn func() error
}

type Options struct {
	// Store overrides the backend selected by cfg.Store.
	Store    kv.Store
	Registry *branch.Registry
}

// OpenFromEnv loads Config from env, builds the logger it names and opens the
// core with both.
func OpenFromEnv(ctx context.Context, env config.Env, opts Options) (*Core, error) {
	cfg, err := config.LoadConfigFromEnv(env)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.Development)
	if err != nil {
		return nil, err
	}
	c, err := Open(ctx, cfg, logger, opts)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return c, nil
}

func Open(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (*Core, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	store := opts.Store
	closeFn := func() error { return nil }
	if store == nil {
		var err error
		store, closeFn, err = openStore(ctx, cfg, logger.Named("kv"))
		if err != nil {
			return nil, err
		}
	}

	registry := opts.Registry
	if registry == nil {
		registry = branch.DefaultRegistry()
	}

	selection := branch.NewSelection(store, registry, branch.Options{Logger: logger.Named("branch")})
	sessions := session.NewStore(store, session.Options{Logger: logger.Named("session")})
	resolver := endpoint.NewResolver(selection, logger.Named("endpoint"))
	client := apiclient.New(resolver, sessions, apiclient.Options{
		Timeout: cfg.HTTPTimeout,
		Logger:  logger.Named("http"),
	})
	gate := session.NewGate(sessions, selection, client, session.GateOptions{
		TTL:    cfg.SessionTTL,
		Logger: logger.Named("gate"),
	})

	logger.Info("session core ready", zap.String("store", string(cfg.Store)))
	return &Core{
		Registry:  registry,
		Selection: selection,
		Sessions:  sessions,
		Resolver:  resolver,
		Client:    client,
		Gate:      gate,
		Logger:    logger,
		closeFn:   closeFn,
	}, nil
}

func (c *Core) Close() error {
	err := c.closeFn()
	_ = c.Logger.Sync()
	return err
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (kv.Store, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Store {
	case config.StoreMemory:
		return kv.NewMemory(), noop, nil
	case config.StoreFile, "":
		if cfg.StateFile == "" {
			return nil, nil, fmt.Errorf("file store needs a state file path")
		}
		return kv.NewFileWithOptions(cfg.StateFile, kv.FileOptions{Logger: logger}), noop, nil
	case config.StoreRedis:
		rc := kv.DefaultRedisConfig()
		rc.Addr = cfg.RedisAddr
		rc.Password = cfg.RedisPassword
		rc.DB = cfg.RedisDB
		rc.Prefix = cfg.RedisPrefix
		r, err := kv.DialRedis(ctx, rc)
		if err != nil {
			return nil, nil, err
		}
		return r, r.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store)
	}
}
