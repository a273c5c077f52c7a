package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var sourcesCmd = &cobra.Command{
	Use:     "sources",
	Short:   "List search providers in display order",
	GroupID: groupCore,
	Args:    cobra.NoArgs,
	RunE:    runSources,
}

func runSources(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx := cmd.Context()
	client, err := openClient(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer client.Close()

	sources, err := client.GetSources(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sources: %w", err)
	}

	if jsonOutput {
		out := make([]sourceOutput, len(sources))
		for i, src := range sources {
			out[i] = newSourceOutput(src)
		}
		return writeJSON(cmd.OutOrStdout(), out)
	}

	if len(sources) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No search providers.")
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, styles.title.Render("POS")+"\t"+styles.title.Render("APP")+"\t"+styles.title.Render("SOURCE"))
	for _, src := range sources {
		app := src.App.Name
		if app == "" {
			app = src.App.ID
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\n", src.Position, app, styles.dim.Render(src.ID))
	}
	return tw.Flush()
}
