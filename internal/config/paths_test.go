package config

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultPaths(t *testing.T) {
	paths := DefaultPaths()

	if paths.ConfigDir == "" {
		t.Error("ConfigDir is empty")
	}
	if paths.RuntimeDir == "" {
		t.Error("RuntimeDir is empty")
	}
	if !filepath.IsAbs(paths.ConfigDir) {
		t.Errorf("ConfigDir should be absolute: %s", paths.ConfigDir)
	}
}

func TestDefaultPaths_XDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	t.Setenv("XDG_DATA_HOME", "/custom/data")
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	t.Setenv("XDG_DATA_DIRS", "/opt/share:relative/share:/usr/share")

	paths := DefaultPaths()

	assert.Equal(t, "/custom/config/phosh-search", paths.ConfigDir)
	assert.Equal(t, "/run/user/1000/phosh-search", paths.RuntimeDir)
	assert.Equal(t, []string{"/custom/data", "/opt/share", "/usr/share"}, paths.DataDirs())
}

func TestDefaultPaths_DataDirsFallback(t *testing.T) {
	t.Setenv("XDG_DATA_DIRS", "")
	t.Setenv("XDG_DATA_HOME", "/home/u/.local/share")

	paths := DefaultPaths()

	assert.Equal(t, []string{"/home/u/.local/share", "/usr/local/share", "/usr/share"}, paths.DataDirs())
}

func TestPaths_DataDirsDeduplicates(t *testing.T) {
	paths := &Paths{DataHome: "/usr/share", SystemDataDirs: []string{"/usr/share", "", "/opt"}}
	assert.Equal(t, []string{"/usr/share", "/opt"}, paths.DataDirs())
}

func TestPaths_Files(t *testing.T) {
	paths := &Paths{ConfigDir: "/c", RuntimeDir: "/r"}

	assert.Equal(t, "/c/config.yaml", paths.ConfigFile())
	assert.True(t, strings.HasSuffix(paths.SocketFile(), "searchd.sock"))
	assert.Equal(t, "/r/searchd.lock", paths.LockFile())
}

func TestSearchProviderDirs(t *testing.T) {
	assert.Equal(t,
		[]string{"/a/gnome-shell/search-providers", "/b/gnome-shell/search-providers"},
		SearchProviderDirs([]string{"/a", "/b"}))
	assert.Equal(t, []string{"/a/applications"}, ApplicationDirs([]string{"/a"}))
}
