package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/quillsign/signsync-go/pkg/auth"
	"github.com/quillsign/signsync-go/pkg/config"
	"github.com/quillsign/signsync-go/pkg/events"
	"github.com/quillsign/signsync-go/pkg/logger"
	"github.com/quillsign/signsync-go/pkg/service"
	"github.com/quillsign/signsync-go/pkg/signatures"
	"github.com/quillsign/signsync-go/pkg/statecache"
	badgerstore "github.com/quillsign/signsync-go/pkg/store/badger"
	redisstore "github.com/quillsign/signsync-go/pkg/store/redis"
	"github.com/quillsign/signsync-go/pkg/workflow"
)

func main() {
	app := &cli.App{
		Name:  "signsync-server",
		Usage: "Contract signature state synchronizer",
		Description: `Keeps contract signature and workflow state consistent across an
in-memory cache, a local persistent cache, and a remote document store.

The server exposes:
- Signature state queries (cached, TTL-bounded, fail-open)
- Edit-lock decisions gated by the designer's signature
- Sign/unsign commands with event notifications
- The edit/sign/send workflow stage navigator`,
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "redis-address",
				Usage:   "Remote signature store address (host:port)",
				EnvVars: []string{config.EnvRedisAddress},
				Value:   "localhost:6379",
			},
			&cli.StringFlag{
				Name:    "redis-password",
				Usage:   "Remote signature store password",
				EnvVars: []string{config.EnvRedisPassword},
			},
			&cli.IntFlag{
				Name:    "redis-db",
				Usage:   "Remote signature store database number (0-15)",
				EnvVars: []string{config.EnvRedisDB},
			},
			&cli.StringFlag{
				Name:    "redis-key-prefix",
				Usage:   "Key namespace prefix for multi-tenant deployments",
				EnvVars: []string{config.EnvRedisKeyPrefix},
			},
			&cli.StringFlag{
				Name:    "data-dir",
				Aliases: []string{"d"},
				Usage:   "Local persistent cache directory",
				EnvVars: []string{config.EnvDataDir},
				Value:   "./data",
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "HTTP server port",
				EnvVars: []string{config.EnvPort},
				Value:   8080,
			},
			&cli.DurationFlag{
				Name:    "cache-ttl",
				Usage:   "Signature state cache freshness window",
				EnvVars: []string{config.EnvCacheTTL},
				Value:   statecache.DefaultTTL,
			},
			&cli.DurationFlag{
				Name:    "refresh-interval",
				Usage:   "Auto-refresh poll interval for watched contracts (0 disables)",
				EnvVars: []string{config.EnvRefreshInterval},
			},
			&cli.StringFlag{
				Name:    "auth-token",
				Usage:   "Bearer token for the remote store (JWT, refreshed ahead of expiry)",
				EnvVars: []string{config.EnvAuthToken},
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Usage:   "Enable debug logging",
				EnvVars: []string{config.EnvVerbose},
			},
		},
		Action: runServer,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func runServer(c *cli.Context) error {
	cfg := &config.ServerConfig{
		RedisAddress:    c.String("redis-address"),
		RedisPassword:   c.String("redis-password"),
		RedisDB:         c.Int("redis-db"),
		RedisKeyPrefix:  c.String("redis-key-prefix"),
		DataDir:         c.String("data-dir"),
		Port:            c.Int("port"),
		CacheTTL:        c.Duration("cache-ttl"),
		RefreshInterval: c.Duration("refresh-interval"),
		AuthToken:       c.String("auth-token"),
		Debug:           c.Bool("verbose"),
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	zlog, err := logger.NewLogger(&logger.LoggerConfig{Debug: cfg.Debug})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = zlog.Sync() }()

	redisCfg := &redisstore.RedisConfig{
		Address:   cfg.RedisAddress,
		Password:  cfg.RedisPassword,
		DB:        cfg.RedisDB,
		KeyPrefix: cfg.RedisKeyPrefix,
	}
	if cfg.AuthToken != "" {
		tokenSource, err := auth.NewTokenSource(cfg.AuthToken, nil, zlog)
		if err != nil {
			return fmt.Errorf("invalid auth token: %w", err)
		}
		redisCfg.CredentialsProvider = tokenSource.Credentials
	}

	remote, err := redisstore.NewRedisStore(redisCfg, zlog)
	if err != nil {
		return fmt.Errorf("failed to connect remote signature store: %w", err)
	}
	defer func() { _ = remote.Close() }()

	local, err := badgerstore.NewBadgerStore(cfg.DataDir, zlog)
	if err != nil {
		return fmt.Errorf("failed to open local cache: %w", err)
	}
	defer func() { _ = local.Close() }()

	bus := events.NewBus(zlog)
	cache := statecache.NewSignatureStateCache(remote, local, zlog, &statecache.Config{TTL: cfg.CacheTTL})
	cache.AttachBus(bus)

	manager := signatures.NewManager(remote, local, cache, bus, zlog)
	navigator := workflow.NewNavigator(local, cache, bus, zlog)

	server := service.NewServer(manager, cache, navigator, local, bus, zlog, cfg.Port, cfg.RefreshInterval)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		zlog.Sugar().Infow("Shutting down", "signal", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return server.Stop(shutdownCtx)
}
