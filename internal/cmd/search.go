package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/phosh-mobile/searchd/internal/search"
	"github.com/phosh-mobile/searchd/internal/searchclient"
)

var searchTimeout time.Duration

var searchCmd = &cobra.Command{
	Use:     "search <term...>",
	Short:   "Search all providers",
	GroupID: groupCore,
	Long: `Send a query to the search service and print each provider's results
as they arrive. The command exits once the service reports the query finished.

Examples:
  phosh-search search wifi
  phosh-search search --json firefox
  phosh-search --transport socket search calc`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().DurationVar(&searchTimeout, "timeout", 30*time.Second, "how long to wait for the query to finish")
}

// finishSignal turns QueryFinished events into a channel receive.
type finishSignal struct {
	once sync.Once
	ch   chan struct{}
}

func newFinishSignal() *finishSignal {
	return &finishSignal{ch: make(chan struct{})}
}

func (f *finishSignal) QueryFinished() {
	f.once.Do(func() { close(f.ch) })
}

// printingHandler prints results and signals the first QueryFinished.
type printingHandler struct {
	*resultPrinter
	finished *finishSignal
}

func (h printingHandler) QueryFinished() {
	h.finished.QueryFinished()
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), searchTimeout)
	defer cancel()

	printer := newResultPrinter(cmd.OutOrStdout(), jsonOutput, terminalWidth())
	finished := newFinishSignal()
	client, err := openClient(ctx, cfg, printingHandler{resultPrinter: printer, finished: finished})
	if err != nil {
		return err
	}
	defer client.Close()

	sources, err := client.GetSources(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sources: %w", err)
	}
	printer.setSources(sources)

	if err := runQuery(ctx, client, finished, strings.Join(args, " ")); err != nil {
		return err
	}
	return printer.flush()
}

// runQuery sends text and waits for the service to finish it.
func runQuery(ctx context.Context, client *searchclient.Client, finished *finishSignal, text string) error {
	if len(search.SplitTerms(text)) == 0 {
		return errors.New("search terms must not be empty")
	}
	if _, err := client.Query(ctx, text); err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	select {
	case <-finished.ch:
		return nil
	case <-client.Done():
		return errors.New("search service closed the event stream")
	case <-ctx.Done():
		return fmt.Errorf("query did not finish: %w", ctx.Err())
	}
}
