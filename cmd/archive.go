package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vikigenius/bugscraper/internal/server"
)

// newArchiveCmd creates the 'archive' subcommand.
func newArchiveCmd() *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Uploads partition files and the ledger to the configured blob store",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = withApp(func(cmd *cobra.Command, _ []string, app *server.App) error {
		if !cmd.Flags().Changed("prefix") {
			prefix = app.Config().Archive.Prefix
		}
		up, err := app.Uploader(prefix)
		if err != nil {
			return err
		}
		uris, err := up.UploadDir(cmd.Context(), app.Config().Scrape.BugsDir())
		for _, uri := range uris {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), uri)
		}
		return err
	})
	cmd.Flags().StringVar(&prefix, "prefix", "", "object key prefix (default archive.prefix)")
	return cmd
}
