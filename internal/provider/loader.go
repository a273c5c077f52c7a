package provider

import (
	"context"
	"log/slog"

	"golang.org/x/text/collate"

	"github.com/phosh-mobile/searchd/internal/search"
)

// Snapshot is the result of one provider reload. It is replaced wholesale,
// never patched.
type Snapshot struct {
	// Sources in display order with positions assigned.
	Sources []search.Source
	// Providers keyed by object path, registered in display order.
	Providers *Registry
}

// Close closes every provider of the snapshot.
func (s *Snapshot) Close() {
	if s != nil {
		s.Providers.CloseAll()
	}
}

// LoaderConfig configures a Loader.
type LoaderConfig struct {
	// Dirs are the descriptor directories, highest priority first.
	Dirs []string

	Filter    Filter
	SortOrder []string

	// SettingsDesktopID names the provider always placed first.
	SettingsDesktopID string

	// Apps resolves desktop ids. Providers whose app is unknown are skipped.
	Apps search.AppResolver

	Connector Connector
	Collator  *collate.Collator
	Logger    *slog.Logger
}

// Loader builds provider snapshots from descriptor files.
type Loader struct {
	cfg LoaderConfig
}

// NewLoader creates a loader.
func NewLoader(cfg LoaderConfig) *Loader {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Collator == nil {
		cfg.Collator = NewCollator()
	}
	return &Loader{cfg: cfg}
}

// Load discovers, filters and sorts the providers and starts a proxy for
// each. Proxy scopes derive from ctx, so it should live as long as the
// snapshot.
func (l *Loader) Load(ctx context.Context) *Snapshot {
	logger := l.cfg.Logger

	type entry struct {
		desc   Descriptor
		source search.Source
	}

	var (
		settings *entry
		others   []entry
	)

	for _, d := range Discover(l.cfg.Dirs, logger) {
		if !IsEnabled(d, l.cfg.Filter) {
			logger.Debug("search provider disabled", "desktop_id", d.DesktopID, "object_path", d.ObjectPath)
			continue
		}

		app := search.AppInfo{ID: d.DesktopID}
		if l.cfg.Apps != nil {
			info, ok := l.cfg.Apps(d.DesktopID)
			if !ok {
				logger.Warn("search provider app not installed", "desktop_id", d.DesktopID, "path", d.Path)
				continue
			}
			app = info
		}

		e := entry{desc: d, source: search.Source{ID: d.ObjectPath, App: app}}
		if d.DesktopID == l.cfg.SettingsDesktopID && settings == nil {
			settings = &e
			continue
		}
		others = append(others, e)
	}

	sources := make([]search.Source, 0, len(others)+1)
	byID := make(map[string]Descriptor, len(others)+1)
	for _, e := range others {
		sources = append(sources, e.source)
		byID[e.source.ID] = e.desc
	}
	SortSources(sources, l.cfg.SortOrder, l.cfg.Collator)

	if settings != nil {
		sources = append([]search.Source{settings.source}, sources...)
		byID[settings.source.ID] = settings.desc
	}

	snap := &Snapshot{Sources: sources, Providers: NewRegistry()}
	for i := range sources {
		sources[i].Position = uint32(i)
		proxy := NewProxy(ctx, byID[sources[i].ID], l.cfg.Connector, logger)
		snap.Providers.Register(proxy)
		proxy.Start()
	}

	logger.Debug("search providers loaded", "count", len(sources))
	return snap
}
