package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vikigenius/bugscraper/internal/bugzilla"
	"github.com/vikigenius/bugscraper/internal/partition"
	"github.com/vikigenius/bugscraper/internal/server"
)

type entryCommand struct {
	use   string
	short string
	kind  bugzilla.Kind
}

var (
	entryComments = entryCommand{
		use:   "comments <subdomain>",
		short: "Fetches comments for every bug in the ledger",
		kind:  bugzilla.KindComment,
	}
	entryHistory = entryCommand{
		use:   "history <subdomain>",
		short: "Fetches edit history for every bug in the ledger",
		kind:  bugzilla.KindHistory,
	}
)

// newEntryCmd creates a ledger-driven pass for ec.kind.
func newEntryCmd(ec entryCommand) *cobra.Command {
	cmd := &cobra.Command{
		Use:   ec.use,
		Short: ec.short,
		Long: `Walks the metadata ledger in order and fetches one bug at a time,
appending the result to <year>_comments.jsonl or <year>_history.jsonl. When the
ledger file is missing it is rebuilt from the existing <year>.jsonl files.`,
		Args: cobra.ExactArgs(1),
	}
	cmd.RunE = withApp(func(cmd *cobra.Command, args []string, app *server.App) error {
		logger := app.Logger()
		dir := app.Config().Scrape.BugsDir()
		w, err := partition.OpenForKind(dir, ec.kind, logger.Named("partition"))
		if err != nil {
			return err
		}
		defer func() {
			if cerr := w.Close(); cerr != nil {
				logger.Warn("Failed to close partitions", zap.Error(cerr))
			}
		}()

		driver, err := app.NewDriver(strings.ToLower(args[0]))
		if err != nil {
			return err
		}
		if err := app.Serve(cmd.Context()); err != nil {
			return err
		}
		stats, err := driver.RunEntryPass(cmd.Context(), w, ec.kind)
		report(cmd.Context(), app, stats)
		return sweepResult(logger, err)
	})
	return cmd
}
