package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"

	"github.com/phosh-mobile/searchd/internal/appinfo"
	"github.com/phosh-mobile/searchd/internal/config"
	"github.com/phosh-mobile/searchd/internal/logging"
	"github.com/phosh-mobile/searchd/internal/provider"
)

// ProviderSink receives each rebuilt provider snapshot. *broker.Broker
// implements it.
type ProviderSink interface {
	SetProviders(snap *provider.Snapshot)
}

// ReloaderConfig configures a Reloader.
type ReloaderConfig struct {
	// ConfigPath is re-read on every reload.
	ConfigPath string

	// Paths supplies the XDG data directories.
	Paths *config.Paths

	// Sink receives the snapshots (required)
	Sink ProviderSink

	// Connector connects the provider proxies (required)
	Connector provider.Connector

	Logger *slog.Logger
}

// Reloader rebuilds the provider set from disk. Every reload is a full
// rebuild; the previous snapshot is handed to the sink to close.
type Reloader struct {
	cfg    ReloaderConfig
	ctx    context.Context
	logger *slog.Logger

	mu       sync.Mutex
	conf     *config.Config
	dataDirs []string
	apps     *appinfo.Resolver
}

// NewReloader creates a reloader. Proxy scopes derive from ctx.
func NewReloader(ctx context.Context, cfg ReloaderConfig) (*Reloader, error) {
	if cfg.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if cfg.Connector == nil {
		return nil, fmt.Errorf("connector is required")
	}
	if cfg.Paths == nil {
		cfg.Paths = config.DefaultPaths()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Reloader{cfg: cfg, ctx: ctx, logger: cfg.Logger}, nil
}

// Reload re-reads the configuration and installs a new provider snapshot.
// On a configuration error the current providers stay in place.
func (r *Reloader) Reload(reason string) error {
	conf, err := config.LoadFromFile(r.cfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	dataDirs := conf.ResolveDataDirs(r.cfg.Paths)
	if r.apps == nil || !slices.Equal(dataDirs, r.dataDirs) {
		r.apps = appinfo.NewResolver(dataDirs)
	} else {
		r.apps.Reset()
	}
	r.dataDirs = dataDirs
	r.conf = conf

	loader := provider.NewLoader(provider.LoaderConfig{
		Dirs: config.SearchProviderDirs(dataDirs),
		Filter: provider.Filter{
			Enabled:         conf.Search.Enabled,
			Disabled:        conf.Search.Disabled,
			DisableExternal: conf.Search.DisableExternal,
		},
		SortOrder:         conf.Search.SortOrder,
		SettingsDesktopID: conf.Search.SettingsDesktopID,
		Apps:              r.apps.Resolve,
		Connector:         r.cfg.Connector,
		Logger:            r.logger,
	})

	snap := loader.Load(r.ctx)
	r.cfg.Sink.SetProviders(snap)
	logging.LogProvidersReloaded(r.logger, reason, len(snap.Sources))
	return nil
}

// Config returns the configuration of the last successful reload.
func (r *Reloader) Config() *config.Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conf
}

// WatchDirs returns the directories whose changes call for a reload: the
// desktop entry and descriptor directories of the current data dirs and
// the directory of the configuration file.
func (r *Reloader) WatchDirs() []string {
	r.mu.Lock()
	dataDirs := r.dataDirs
	r.mu.Unlock()

	if dataDirs == nil {
		dataDirs = r.cfg.Paths.DataDirs()
	}
	dirs := append(config.ApplicationDirs(dataDirs), config.SearchProviderDirs(dataDirs)...)
	return append(dirs, filepath.Dir(r.cfg.ConfigPath))
}
