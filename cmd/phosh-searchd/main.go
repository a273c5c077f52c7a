// phosh-searchd is the search service of the Phosh shell. It aggregates
// the results of every installed search provider and exports them on the
// session bus and, optionally, on a local socket.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/godbus/dbus/v5"
	"github.com/spf13/cobra"

	"github.com/phosh-mobile/searchd/internal/appmonitor"
	"github.com/phosh-mobile/searchd/internal/broker"
	"github.com/phosh-mobile/searchd/internal/config"
	"github.com/phosh-mobile/searchd/internal/daemon"
	"github.com/phosh-mobile/searchd/internal/dbusapi"
	"github.com/phosh-mobile/searchd/internal/logging"
	"github.com/phosh-mobile/searchd/internal/provider"
)

type options struct {
	configPath string
	socketPath string
	debug      bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "phosh-searchd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options
	c := &cobra.Command{
		Use:           "phosh-searchd",
		Short:         "Phosh search service",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       daemon.Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}
	c.Flags().StringVar(&opts.configPath, "config", config.DefaultPaths().ConfigFile(), "configuration file")
	c.Flags().StringVar(&opts.socketPath, "socket", "", "serve the socket API on this path")
	c.Flags().BoolVar(&opts.debug, "debug", false, "enable debug logging")
	return c
}

// loadSettings reads the configuration and applies the command line on top.
func loadSettings(opts options) (*config.Config, error) {
	cfg, err := config.LoadFromFile(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.socketPath != "" {
		cfg.Daemon.SocketEnabled = true
		cfg.Daemon.SocketPath = opts.socketPath
	}
	if opts.debug {
		cfg.Daemon.LogLevel = "debug"
	}
	return cfg, nil
}

func run(ctx context.Context, opts options) error {
	cfg, err := loadSettings(opts)
	if err != nil {
		return err
	}

	logger := logging.New(&logging.Config{
		Output: os.Stderr,
		Level:  logging.ParseLevel(cfg.Daemon.LogLevel),
		Format: cfg.Daemon.LogFormat,
		Debug:  logging.DebugFromEnv(),
	})

	paths := config.DefaultPaths()

	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return fmt.Errorf("failed to connect to session bus: %w", err)
	}
	defer conn.Close()

	b := broker.New(broker.Config{
		Debounce:           cfg.Search.Debounce(),
		MaxResults:         cfg.Search.MaxResults,
		ProviderTimeout:    cfg.Search.ProviderTimeout(),
		MaxConcurrentCalls: cfg.Search.MaxConcurrentCalls,
		Logger:             logger,
	})
	defer b.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reloader, err := daemon.NewReloader(ctx, daemon.ReloaderConfig{
		ConfigPath: opts.configPath,
		Paths:      paths,
		Sink:       b,
		Connector:  &provider.DBusConnector{Conn: conn},
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	if err := reloader.Reload("startup"); err != nil {
		return err
	}

	svc := dbusapi.NewService(conn, b, cfg.Daemon.BusName, logger)
	exportTask := func(ctx context.Context) error {
		if err := svc.Start(); err != nil {
			if errors.Is(err, dbusapi.ErrNameTaken) && cfg.Daemon.SocketEnabled {
				// Another instance owns the name; keep serving the socket.
				logger.Warn("not exporting on the session bus", "error", err)
				return nil
			}
			return err
		}
		<-ctx.Done()
		svc.Stop()
		return nil
	}

	monitor := appmonitor.New(appmonitor.Config{
		Dirs: reloader.WatchDirs(),
		OnChange: func() {
			if err := reloader.Reload("files changed"); err != nil {
				logger.Warn("failed to reload providers", "error", err)
			}
		},
		Logger: logger,
	})

	runCfg := &daemon.RunConfig{
		Paths:    paths,
		ReloadFn: func() error { return reloader.Reload("SIGHUP") },
		Tasks:    []daemon.Task{exportTask, monitor.Run},
		Logger:   logger,
	}
	socketPath := ""
	if cfg.Daemon.SocketEnabled {
		socketPath = cfg.ResolveSocketPath(paths)
		runCfg.Server = &daemon.ServerConfig{
			Broker:     b,
			SocketPath: socketPath,
			Logger:     logger,
		}
	}

	logging.LogStartup(logger, logging.StartupInfo{
		Version:    daemon.Version,
		ConfigPath: opts.configPath,
		BusName:    cfg.Daemon.BusName,
		SocketPath: socketPath,
		DataDirs:   cfg.ResolveDataDirs(paths),
		PID:        os.Getpid(),
	})

	err = daemon.Run(ctx, runCfg)
	logging.LogShutdown(logger, "stopped")
	return err
}
