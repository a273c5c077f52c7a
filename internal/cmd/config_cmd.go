package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/phosh-mobile/searchd/internal/config"
)

var configCmd = &cobra.Command{
	Use:     "config",
	Short:   "Get or set configuration values",
	GroupID: groupSetup,
	Long: `Get or set phosh-search configuration values.

Configuration is stored in ~/.config/phosh-search/config.yaml (XDG compliant).
The daemon picks up changes on SIGHUP or when the file is rewritten.

Keys are in the format: section.key
Sections: daemon, search, client
Lists are given comma-separated; an empty value clears them.

Examples:
  phosh-search config list
  phosh-search config get search.sort_order
  phosh-search config set search.disabled org.gnome.Calculator.desktop
  phosh-search config set search.debounce_ms 100`,
	Args: cobra.NoArgs,
	RunE: runConfigList,
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all configuration keys",
	Args:  cobra.NoArgs,
	RunE:  runConfigList,
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Show a configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return getConfig(cmd, cfg, args[0])
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return setConfig(cmd, cfg, configFilePath(), args[0], args[1])
	},
}

func init() {
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
}

func runConfigList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	return listConfig(cmd, cfg, configFilePath())
}

func listConfig(cmd *cobra.Command, cfg *config.Config, path string) error {
	w := cmd.OutOrStdout()

	if jsonOutput {
		values := make(map[string]string)
		for _, key := range config.ListKeys() {
			if value, err := cfg.Get(key); err == nil {
				values[key] = value
			}
		}
		return writeJSON(w, values)
	}

	fmt.Fprintln(w, styles.title.Render("Configuration Keys"))
	fmt.Fprintln(w, strings.Repeat("-", 40))
	fmt.Fprintln(w)

	var failedKeys []string
	for _, key := range config.ListKeys() {
		value, err := cfg.Get(key)
		if err != nil {
			failedKeys = append(failedKeys, key)
			continue
		}

		displayValue := value
		if displayValue == "" {
			displayValue = styles.dim.Render("(not set)")
		}
		fmt.Fprintf(w, "  %s = %s\n", styles.id.Render(key), displayValue)
	}

	if len(failedKeys) > 0 {
		fmt.Fprintf(w, "\n%s Failed to retrieve keys: %s\n", styles.warn.Render("Warning:"), strings.Join(failedKeys, ", "))
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Config file: %s\n", path)
	return nil
}

func getConfig(cmd *cobra.Command, cfg *config.Config, key string) error {
	value, err := cfg.Get(key)
	if err != nil {
		return err
	}

	if value == "" {
		fmt.Fprintln(cmd.OutOrStdout(), styles.dim.Render("(not set)"))
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), value)
	}
	return nil
}

func setConfig(cmd *cobra.Command, cfg *config.Config, path, key, value string) error {
	if err := cfg.Set(key, value); err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := cfg.SaveToFile(path); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", styles.id.Render(key), value)
	fmt.Fprintf(cmd.OutOrStdout(), "Saved to: %s\n", path)
	return nil
}
