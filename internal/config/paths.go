// Package config provides configuration management for phosh-searchd.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

const appDirName = "phosh-search"

// Paths holds the directories the daemon and its clients use.
type Paths struct {
	// ConfigDir is the directory for configuration files (~/.config/phosh-search)
	ConfigDir string

	// RuntimeDir holds the socket and lock file ($XDG_RUNTIME_DIR/phosh-search)
	RuntimeDir string

	// DataHome is the user data directory ($XDG_DATA_HOME, ~/.local/share)
	DataHome string

	// SystemDataDirs are the system data directories ($XDG_DATA_DIRS)
	SystemDataDirs []string
}

// DefaultPaths returns the default paths based on the XDG Base Directory spec.
func DefaultPaths() *Paths {
	home := homeDir()

	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		configHome = filepath.Join(home, ".config")
	}

	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		dataHome = filepath.Join(home, ".local", "share")
	}

	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir == "" {
		runtimeDir = filepath.Join(os.TempDir(), appDirName+"-"+currentUser())
	} else {
		runtimeDir = filepath.Join(runtimeDir, appDirName)
	}

	return &Paths{
		ConfigDir:      filepath.Join(configHome, appDirName),
		RuntimeDir:     runtimeDir,
		DataHome:       dataHome,
		SystemDataDirs: systemDataDirs(),
	}
}

// ConfigFile returns the path to the main configuration file.
func (p *Paths) ConfigFile() string {
	return filepath.Join(p.ConfigDir, "config.yaml")
}

// SocketFile returns the path to the Unix domain socket.
func (p *Paths) SocketFile() string {
	return filepath.Join(p.RuntimeDir, "searchd.sock")
}

// LockFile returns the path to the daemon lock file.
func (p *Paths) LockFile() string {
	return filepath.Join(p.RuntimeDir, "searchd.lock")
}

// DataDirs returns the data directories in lookup order: the user data
// directory first, then the system ones, without duplicates.
func (p *Paths) DataDirs() []string {
	seen := make(map[string]bool)
	var dirs []string
	for _, dir := range append([]string{p.DataHome}, p.SystemDataDirs...) {
		if dir == "" || seen[dir] {
			continue
		}
		seen[dir] = true
		dirs = append(dirs, dir)
	}
	return dirs
}

// SearchProviderDirs returns the provider descriptor directories for dataDirs.
func SearchProviderDirs(dataDirs []string) []string {
	dirs := make([]string, len(dataDirs))
	for i, dir := range dataDirs {
		dirs[i] = filepath.Join(dir, "gnome-shell", "search-providers")
	}
	return dirs
}

// ApplicationDirs returns the desktop entry directories for dataDirs.
func ApplicationDirs(dataDirs []string) []string {
	dirs := make([]string, len(dataDirs))
	for i, dir := range dataDirs {
		dirs[i] = filepath.Join(dir, "applications")
	}
	return dirs
}

func systemDataDirs() []string {
	env := os.Getenv("XDG_DATA_DIRS")
	if env == "" {
		env = "/usr/local/share:/usr/share"
	}
	var dirs []string
	for _, dir := range strings.Split(env, ":") {
		// Relative entries are invalid per the XDG spec.
		if filepath.IsAbs(dir) {
			dirs = append(dirs, dir)
		}
	}
	return dirs
}

// homeDir returns the user's home directory.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.Getenv("HOME")
	}
	return home
}

func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "user"
}
