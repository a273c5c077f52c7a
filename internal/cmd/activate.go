package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/phosh-mobile/searchd/internal/searchclient"
)

var (
	activateTerms     string
	activateTimestamp uint32
)

var activateCmd = &cobra.Command{
	Use:     "activate <source-id> <result-id>",
	Short:   "Activate a search result",
	GroupID: groupCore,
	Long: `Ask the provider behind source-id to open result-id.

The service passes the terms of its current query to the provider. Use
--terms to run a query first when no search is active.

Examples:
  phosh-search activate /org/gnome/Settings/SearchProvider wifi --terms wifi`,
	Args: cobra.ExactArgs(2),
	RunE: runActivate,
}

var launchCmd = &cobra.Command{
	Use:     "launch <source-id>",
	Short:   "Open a provider's own search",
	GroupID: groupCore,
	Long: `Ask the provider behind source-id to open its application with the
terms of the current query.

Examples:
  phosh-search launch /org/gnome/Contacts/SearchProvider --terms alice`,
	Args: cobra.ExactArgs(1),
	RunE: runLaunch,
}

func init() {
	for _, c := range []*cobra.Command{activateCmd, launchCmd} {
		c.Flags().StringVar(&activateTerms, "terms", "", "run this query before handing over")
		c.Flags().Uint32Var(&activateTimestamp, "timestamp", 0, "user interaction timestamp passed to the provider")
	}
}

func runActivate(cmd *cobra.Command, args []string) error {
	return withTerms(cmd, func(ctx context.Context, client *searchclient.Client) error {
		if err := client.ActivateResult(ctx, args[0], args[1], activateTimestamp); err != nil {
			return fmt.Errorf("activate failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Activated %s in %s\n", styles.id.Render(args[1]), args[0])
		return nil
	})
}

func runLaunch(cmd *cobra.Command, args []string) error {
	return withTerms(cmd, func(ctx context.Context, client *searchclient.Client) error {
		if err := client.LaunchSource(ctx, args[0], activateTimestamp); err != nil {
			return fmt.Errorf("launch failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Launched %s\n", args[0])
		return nil
	})
}

// withTerms connects, runs the --terms query if given, then calls fn.
func withTerms(cmd *cobra.Command, fn func(context.Context, *searchclient.Client) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), searchTimeout)
	defer cancel()

	finished := newFinishSignal()
	client, err := openClient(ctx, cfg, searchclient.HandlerFuncs{OnFinished: finished.QueryFinished})
	if err != nil {
		return err
	}
	defer client.Close()

	if strings.TrimSpace(activateTerms) != "" {
		if err := runQuery(ctx, client, finished, activateTerms); err != nil {
			return err
		}
	}
	return fn(ctx, client)
}
