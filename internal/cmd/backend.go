package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/phosh-mobile/searchd/internal/appinfo"
	"github.com/phosh-mobile/searchd/internal/config"
	"github.com/phosh-mobile/searchd/internal/dbusapi"
	"github.com/phosh-mobile/searchd/internal/ipc"
	"github.com/phosh-mobile/searchd/internal/logging"
	"github.com/phosh-mobile/searchd/internal/searchclient"
)

// newBackend opens the transport selected with --transport. Tests replace it.
var newBackend = openBackend

func openBackend(ctx context.Context, cfg *config.Config) (searchclient.Backend, error) {
	logger := cliLogger(cfg)

	if transportName == transportSocket {
		c, err := ipc.NewClient(ctx, ipc.Options{
			SocketPath:  cfg.ResolveSocketPath(config.DefaultPaths()),
			CallTimeout: time.Duration(cfg.Client.TimeoutMs) * time.Millisecond,
			AutoStart:   cfg.Client.AutoStartDaemon,
			Logger:      logger,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	}

	c, err := dbusapi.Dial(cfg.Daemon.BusName, logger)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// openClient connects a search client with h receiving its events.
func openClient(ctx context.Context, cfg *config.Config, h searchclient.Handler) (*searchclient.Client, error) {
	backend, err := newBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}

	apps := appinfo.NewResolver(cfg.ResolveDataDirs(config.DefaultPaths()))
	client, err := searchclient.New(ctx, searchclient.Config{
		Backend: backend,
		Handler: h,
		Apps:    apps.Resolve,
		Logger:  cliLogger(cfg),
	})
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return client, nil
}

// cliLogger logs warnings to stderr, or everything with PHOSH_SEARCH_DEBUG.
func cliLogger(cfg *config.Config) *slog.Logger {
	lc := logging.DefaultConfig()
	lc.Level = slog.LevelWarn
	lc.Format = cfg.Daemon.LogFormat
	lc.Debug = logging.DebugFromEnv()
	return logging.New(lc)
}
