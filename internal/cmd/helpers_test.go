package cmd

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/phosh-mobile/searchd/internal/broker"
	"github.com/phosh-mobile/searchd/internal/config"
	"github.com/phosh-mobile/searchd/internal/ipc"
	"github.com/phosh-mobile/searchd/internal/search"
	"github.com/phosh-mobile/searchd/internal/searchclient"
)

// fakeBackend answers every query with its fixed results.
type fakeBackend struct {
	events  chan broker.Event
	sources []search.SourceTuple
	results map[string][]*search.ResultMeta

	mu        sync.Mutex
	queries   []string
	activated []string
	launched  []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{events: make(chan broker.Event, 32)}
}

func (f *fakeBackend) Query(_ context.Context, text string) (bool, error) {
	f.mu.Lock()
	f.queries = append(f.queries, text)
	f.mu.Unlock()

	ids := make([]string, 0, len(f.results))
	for id := range f.results {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		f.events <- broker.SourceResultsChanged{SourceID: id, Results: f.results[id]}
	}
	f.events <- broker.QueryFinished{}
	return true, nil
}

func (f *fakeBackend) GetSources(context.Context) ([]search.SourceTuple, error) {
	return f.sources, nil
}

func (f *fakeBackend) GetLastResults(context.Context) (map[string][]*search.ResultMeta, error) {
	return f.results, nil
}

func (f *fakeBackend) ActivateResult(_ context.Context, sourceID, resultID string, _ uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activated = append(f.activated, sourceID+" "+resultID)
	return nil
}

func (f *fakeBackend) LaunchSource(_ context.Context, sourceID string, _ uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.launched = append(f.launched, sourceID)
	return nil
}

func (f *fakeBackend) Events(context.Context) (<-chan broker.Event, error) {
	return f.events, nil
}

func (f *fakeBackend) Close() error { return nil }

// statusBackend adds the daemon status call of the socket transport.
type statusBackend struct {
	*fakeBackend
	status *ipc.Status
}

func (s statusBackend) GetStatus(context.Context) (*ipc.Status, error) {
	return s.status, nil
}

// setupCLI isolates the package globals and the XDG directories.
func setupCLI(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	t.Setenv("XDG_DATA_DIRS", filepath.Join(dir, "system"))
	t.Setenv("XDG_RUNTIME_DIR", filepath.Join(dir, "run"))
	t.Setenv("NO_COLOR", "1")
	t.Setenv("COLUMNS", "200")

	old := struct {
		transport, config, color, terms string
		json                            bool
		backend                         func(context.Context, *config.Config) (searchclient.Backend, error)
	}{transportName, configPath, colorMode, activateTerms, jsonOutput, newBackend}
	t.Cleanup(func() {
		transportName = old.transport
		configPath = old.config
		colorMode = old.color
		activateTerms = old.terms
		jsonOutput = old.json
		newBackend = old.backend
	})

	transportName = transportDBus
	configPath = ""
	colorMode = "auto"
	activateTerms = ""
	jsonOutput = false
	return dir
}

func useBackend(t *testing.T, b searchclient.Backend) {
	t.Helper()
	newBackend = func(context.Context, *config.Config) (searchclient.Backend, error) {
		return b, nil
	}
}

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetArgs(args)
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func writeDesktopEntry(t *testing.T, dataDir, id, name string) {
	t.Helper()
	dir := filepath.Join(dataDir, "applications")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	content := "[Desktop Entry]\nType=Application\nName=" + name + "\nIcon=" + id + "\n"
	if err := os.WriteFile(filepath.Join(dir, id), []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}
