package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/phosh-mobile/searchd/internal/config"
)

// Transports a client can use to reach the search service.
const (
	transportDBus   = "dbus"
	transportSocket = "socket"
)

const (
	groupCore  = "core"
	groupSetup = "setup"
)

var (
	transportName string
	jsonOutput    bool
	configPath    string
)

var rootCmd = &cobra.Command{
	Use:   "phosh-search",
	Short: "Query the Phosh search service",
	Long: `phosh-search - talk to the Phosh search service from a terminal
  - search <term...> prints each provider's results as they arrive
  - activate and launch hand a result back to its provider`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		switch transportName {
		case transportDBus, transportSocket:
		default:
			return fmt.Errorf("invalid --transport %q (must be dbus or socket)", transportName)
		}
		applyColorMode()
		return nil
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&transportName, "transport", transportDBus, "how to reach the service: dbus or socket")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $XDG_CONFIG_HOME/phosh-search/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&colorMode, "color", "auto", "color output: auto, always, or never")

	rootCmd.AddGroup(
		&cobra.Group{ID: groupCore, Title: "Search Commands:"},
		&cobra.Group{ID: groupSetup, Title: "Setup Commands:"},
	)

	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(activateCmd)
	rootCmd.AddCommand(launchCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads the config file named by --config or the default one.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromFile(configPath)
	}
	return config.Load()
}

// configFilePath returns the file loadConfig reads.
func configFilePath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultPaths().ConfigFile()
}
