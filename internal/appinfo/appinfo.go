// Package appinfo resolves desktop ids to application names and icons by
// reading desktop entry files from the XDG data directories.
package appinfo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/ini.v1"

	"github.com/phosh-mobile/searchd/internal/search"
)

const desktopEntryGroup = "Desktop Entry"

// ErrNotFound is returned when no installed desktop entry matches an id.
var ErrNotFound = errors.New("application not found")

// Resolver looks up applications in a list of data directories. Results
// are cached until Reset is called.
type Resolver struct {
	dataDirs []string

	mu    sync.Mutex
	cache map[string]cachedInfo
}

type cachedInfo struct {
	info search.AppInfo
	err  error
}

// NewResolver creates a resolver searching dataDirs in order.
func NewResolver(dataDirs []string) *Resolver {
	return &Resolver{
		dataDirs: dataDirs,
		cache:    make(map[string]cachedInfo),
	}
}

// Lookup returns the application for a desktop id such as
// "org.gnome.Contacts.desktop".
func (r *Resolver) Lookup(desktopID string) (search.AppInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.cache[desktopID]; ok {
		return c.info, c.err
	}
	info, err := r.lookup(desktopID)
	r.cache[desktopID] = cachedInfo{info: info, err: err}
	return info, err
}

// Resolve adapts Lookup to search.AppResolver.
func (r *Resolver) Resolve(desktopID string) (search.AppInfo, bool) {
	info, err := r.Lookup(desktopID)
	return info, err == nil
}

// Reset drops cached lookups so installs and removals are picked up.
func (r *Resolver) Reset() {
	r.mu.Lock()
	r.cache = make(map[string]cachedInfo)
	r.mu.Unlock()
}

func (r *Resolver) lookup(desktopID string) (search.AppInfo, error) {
	if desktopID == "" || strings.ContainsRune(desktopID, filepath.Separator) {
		return search.AppInfo{}, fmt.Errorf("invalid desktop id %q", desktopID)
	}

	for _, dir := range r.dataDirs {
		for _, rel := range candidatePaths(desktopID) {
			path := filepath.Join(dir, "applications", rel)
			info, err := ParseDesktopEntry(path, desktopID)
			if err == nil {
				return info, nil
			}
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			// A hidden or broken entry shadows entries in later dirs.
			return search.AppInfo{}, err
		}
	}
	return search.AppInfo{}, fmt.Errorf("%w: %s", ErrNotFound, desktopID)
}

// candidatePaths returns the relative file names a desktop id may live at:
// the id itself, then each dash-to-directory variant ("kde-foo.desktop"
// may be "kde/foo.desktop").
func candidatePaths(desktopID string) []string {
	paths := []string{desktopID}
	for i := 0; i < len(desktopID); i++ {
		if desktopID[i] != '-' {
			continue
		}
		paths = append(paths, filepath.Join(desktopID[:i], desktopID[i+1:]))
	}
	return paths
}

// ParseDesktopEntry reads a desktop entry file. Hidden entries are reported
// as not found.
func ParseDesktopEntry(path, desktopID string) (search.AppInfo, error) {
	if _, err := os.Stat(path); err != nil {
		return search.AppInfo{}, err
	}

	f, err := ini.LoadSources(ini.LoadOptions{
		IgnoreInlineComment:     true,
		SkipUnrecognizableLines: true,
	}, path)
	if err != nil {
		return search.AppInfo{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	sec, err := f.GetSection(desktopEntryGroup)
	if err != nil {
		return search.AppInfo{}, fmt.Errorf("%s: missing [%s] group", path, desktopEntryGroup)
	}
	if sec.Key("Hidden").MustBool(false) {
		return search.AppInfo{}, fmt.Errorf("%w: %s is hidden", ErrNotFound, desktopID)
	}

	name := sec.Key("Name").String()
	if name == "" {
		return search.AppInfo{}, fmt.Errorf("%s: missing Name", path)
	}

	info := search.AppInfo{ID: desktopID, Name: name}
	if iconName := sec.Key("Icon").String(); iconName != "" {
		if icon, err := search.IconFromString(iconName); err == nil {
			info.Icon = icon
		}
	}
	return info, nil
}
