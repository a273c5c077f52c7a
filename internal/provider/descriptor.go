package provider

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/godbus/dbus/v5"
	"gopkg.in/ini.v1"
)

// DescriptorGroup is the key-file group every provider descriptor carries.
const DescriptorGroup = "Shell Search Provider"

// ProtocolVersion is the provider interface version the daemon speaks.
const ProtocolVersion = 2

// ErrInvalidDescriptor marks a descriptor file that cannot be used.
var ErrInvalidDescriptor = errors.New("invalid search provider descriptor")

// Descriptor is one parsed search provider file.
type Descriptor struct {
	Path            string
	Version         int
	DesktopID       string
	BusName         string
	ObjectPath      string
	AutoStart       bool
	DefaultDisabled bool
}

// ParseDescriptor reads a provider descriptor. Errors wrap ErrInvalidDescriptor
// unless the file itself cannot be read.
func ParseDescriptor(path string) (Descriptor, error) {
	f, err := ini.LoadSources(ini.LoadOptions{SkipUnrecognizableLines: true}, path)
	if err != nil {
		if os.IsNotExist(err) || os.IsPermission(err) {
			return Descriptor{}, err
		}
		return Descriptor{}, fmt.Errorf("%w: %s: %v", ErrInvalidDescriptor, path, err)
	}

	sec, err := f.GetSection(DescriptorGroup)
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: %s: missing [%s] group", ErrInvalidDescriptor, path, DescriptorGroup)
	}

	d := Descriptor{Path: path, AutoStart: true}

	if !sec.HasKey("Version") {
		return Descriptor{}, fmt.Errorf("%w: %s: missing Version", ErrInvalidDescriptor, path)
	}
	d.Version, err = sec.Key("Version").Int()
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: %s: bad Version: %v", ErrInvalidDescriptor, path, err)
	}
	if d.Version < ProtocolVersion {
		return Descriptor{}, fmt.Errorf("%w: %s: unsupported version %d", ErrInvalidDescriptor, path, d.Version)
	}

	for _, req := range []struct {
		key string
		dst *string
	}{
		{"DesktopId", &d.DesktopID},
		{"BusName", &d.BusName},
		{"ObjectPath", &d.ObjectPath},
	} {
		v := strings.TrimSpace(sec.Key(req.key).String())
		if v == "" {
			return Descriptor{}, fmt.Errorf("%w: %s: missing %s", ErrInvalidDescriptor, path, req.key)
		}
		*req.dst = v
	}

	if !dbus.ObjectPath(d.ObjectPath).IsValid() {
		return Descriptor{}, fmt.Errorf("%w: %s: invalid object path %q", ErrInvalidDescriptor, path, d.ObjectPath)
	}

	if sec.HasKey("AutoStart") {
		if d.AutoStart, err = sec.Key("AutoStart").Bool(); err != nil {
			return Descriptor{}, fmt.Errorf("%w: %s: bad AutoStart: %v", ErrInvalidDescriptor, path, err)
		}
	}
	if sec.HasKey("DefaultDisabled") {
		if d.DefaultDisabled, err = sec.Key("DefaultDisabled").Bool(); err != nil {
			return Descriptor{}, fmt.Errorf("%w: %s: bad DefaultDisabled: %v", ErrInvalidDescriptor, path, err)
		}
	}

	return d, nil
}

// Discover collects the descriptors found in dirs, in order. Missing
// directories are skipped silently; unreadable ones and invalid files are
// logged and skipped. A later descriptor for an object path already seen
// is ignored.
func Discover(dirs []string, logger *slog.Logger) []Descriptor {
	if logger == nil {
		logger = slog.Default()
	}

	seen := make(map[string]string)
	var out []Descriptor

	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if !os.IsNotExist(err) {
				logger.Warn("failed to list search providers", "dir", dir, "error", err)
			}
			continue
		}

		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".ini") {
				continue
			}
			names = append(names, e.Name())
		}
		sort.Strings(names)

		for _, name := range names {
			path := filepath.Join(dir, name)
			d, err := ParseDescriptor(path)
			if err != nil {
				logger.Warn("skipping search provider", "path", path, "error", err)
				continue
			}
			if first, ok := seen[d.ObjectPath]; ok {
				logger.Debug("duplicate search provider", "path", path, "object_path", d.ObjectPath, "first", first)
				continue
			}
			seen[d.ObjectPath] = path
			out = append(out, d)
		}
	}

	return out
}
