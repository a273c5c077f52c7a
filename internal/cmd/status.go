package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/phosh-mobile/searchd/internal/config"
	"github.com/phosh-mobile/searchd/internal/ipc"
)

// statusSource is implemented by backends that report daemon state.
type statusSource interface {
	GetStatus(ctx context.Context) (*ipc.Status, error)
}

var statusCmd = &cobra.Command{
	Use:     "status",
	Short:   "Show the search daemon's state",
	GroupID: groupSetup,
	Long: `Show the state of the search daemon reached over the local socket:
its uptime, the current query and how many providers are ready.

Examples:
  phosh-search --transport socket status
  phosh-search --transport socket status --json`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

type statusOutput struct {
	Version        string   `json:"version"`
	UptimeSeconds  int64    `json:"uptime_seconds"`
	Query          string   `json:"query"`
	Terms          []string `json:"terms"`
	QueryID        string   `json:"query_id,omitempty"`
	Subsearch      bool     `json:"subsearch"`
	Outstanding    int      `json:"outstanding"`
	Providers      int      `json:"providers"`
	ReadyProviders int      `json:"ready_providers"`
	Subscribers    int      `json:"subscribers"`
	Requests       int64    `json:"requests"`

	ProviderReady map[string]bool `json:"provider_ready,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	if transportName != transportSocket {
		return errors.New("status needs the socket API: use --transport socket")
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx := cmd.Context()
	backend, err := newBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	src, ok := backend.(statusSource)
	if !ok {
		return errors.New("transport does not report status")
	}
	st, err := src.GetStatus(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), statusOutput{
			Version:        st.Version,
			UptimeSeconds:  int64(st.Uptime / time.Second),
			Query:          st.Query,
			Terms:          st.Terms,
			QueryID:        st.QueryID,
			Subsearch:      st.Subsearch,
			Outstanding:    st.Outstanding,
			Providers:      st.Providers,
			ReadyProviders: st.ReadyProviders,
			Subscribers:    st.Subscribers,
			Requests:       st.Requests,
			ProviderReady:  st.ProviderReady,
		})
	}

	printStatus(cmd, cfg, st)
	return nil
}

func printStatus(cmd *cobra.Command, cfg *config.Config, st *ipc.Status) {
	w := cmd.OutOrStdout()
	paths := config.DefaultPaths()

	fmt.Fprintln(w, styles.title.Render("phosh-searchd Status"))
	fmt.Fprintln(w, strings.Repeat("-", 40))

	fmt.Fprintf(w, "\n%s\n", styles.title.Render("Daemon:"))
	fmt.Fprintf(w, "  Status:      %s\n", styles.ok.Render("running"))
	fmt.Fprintf(w, "  Version:     %s\n", st.Version)
	fmt.Fprintf(w, "  Uptime:      %s\n", st.Uptime.Round(time.Second))
	fmt.Fprintf(w, "  Socket:      %s\n", cfg.ResolveSocketPath(paths))
	fmt.Fprintf(w, "  Subscribers: %d\n", st.Subscribers)
	fmt.Fprintf(w, "  Requests:    %d\n", st.Requests)

	fmt.Fprintf(w, "\n%s\n", styles.title.Render("Providers:"))
	ready := styles.ok.Render(fmt.Sprintf("%d", st.ReadyProviders))
	if st.ReadyProviders < st.Providers {
		ready = styles.warn.Render(fmt.Sprintf("%d", st.ReadyProviders))
	}
	fmt.Fprintf(w, "  Ready:       %s of %d\n", ready, st.Providers)
	ids := make([]string, 0, len(st.ProviderReady))
	for id := range st.ProviderReady {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		state := styles.ok.Render("ready")
		if !st.ProviderReady[id] {
			state = styles.warn.Render("not ready")
		}
		fmt.Fprintf(w, "    %s %s\n", id, state)
	}

	fmt.Fprintf(w, "\n%s\n", styles.title.Render("Query:"))
	if len(st.Terms) == 0 {
		fmt.Fprintf(w, "  Terms:       %s\n", styles.dim.Render("(none)"))
	} else {
		fmt.Fprintf(w, "  Terms:       %s\n", strings.Join(st.Terms, " "))
		fmt.Fprintf(w, "  Id:          %s\n", styles.dim.Render(st.QueryID))
		fmt.Fprintf(w, "  Subsearch:   %s\n", formatBool(st.Subsearch))
		fmt.Fprintf(w, "  In flight:   %d\n", st.Outstanding)
	}

	fmt.Fprintf(w, "\n%s\n", styles.title.Render("Configuration:"))
	configFile := configFilePath()
	if _, err := os.Stat(configFile); err == nil {
		fmt.Fprintf(w, "  File:        %s\n", configFile)
	} else {
		fmt.Fprintf(w, "  File:        %s (not found, using defaults)\n", configFile)
	}
}

func formatBool(b bool) string {
	if b {
		return styles.ok.Render("yes")
	}
	return styles.dim.Render("no")
}
