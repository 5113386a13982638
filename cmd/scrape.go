package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vikigenius/bugscraper/internal/config"
	"github.com/vikigenius/bugscraper/internal/partition"
	"github.com/vikigenius/bugscraper/internal/pipeline"
	"github.com/vikigenius/bugscraper/internal/server"
)

const reportTimeout = 15 * time.Second

type scrapeOptions struct {
	initID    int
	finID     int
	startYear int
	endYear   int
	chunkSize int
	resume    bool
}

// newScrapeCmd creates the 'scrape' subcommand: the bug pass.
func newScrapeCmd() *cobra.Command {
	opts := &scrapeOptions{}
	cmd := &cobra.Command{
		Use:   "scrape <subdomain>",
		Short: "Sweeps a bug id range and saves bugs into per-year partitions",
		Long: `Fetches bugs from the tracker in chunks of consecutive ids over the
half-open range [init-id, fin-id) and appends each bug to <year>.jsonl by its
creation year. Bugs already in the ledger are skipped, and the ledger is
checkpointed as the sweep progresses.

Years come from --syo/--eyo when given, then from the tracker's configured
range, then from the <year>.jsonl files already in the save directory.`,
		Args: cobra.ExactArgs(1),
	}
	cmd.RunE = withApp(func(cmd *cobra.Command, args []string, app *server.App) error {
		return runScrape(cmd, app, strings.ToLower(args[0]), opts)
	})

	flags := cmd.Flags()
	flags.IntVarP(&opts.initID, "init-id", "i", 0, "first bug id (default scrape.init_id)")
	flags.IntVarP(&opts.finID, "fin-id", "f", 0, "bug id the sweep stops before (default scrape.fin_id)")
	flags.IntVar(&opts.startYear, "syo", 0, "first creation year to keep")
	flags.IntVar(&opts.endYear, "eyo", 0, "year the kept range stops before")
	flags.IntVarP(&opts.chunkSize, "chunk-size", "c", 0, "bug ids per request (default scrape.chunk_size)")
	flags.BoolVar(&opts.resume, "resume", false, "start after the highest bug id already in the ledger")
	return cmd
}

func runScrape(cmd *cobra.Command, app *server.App, subdomain string, opts *scrapeOptions) error {
	cfg := app.Config()
	logger := app.Logger()
	flags := cmd.Flags()
	if flags.Changed("init-id") {
		cfg.Scrape.InitID = opts.initID
	}
	if flags.Changed("fin-id") {
		cfg.Scrape.FinID = opts.finID
	}
	if flags.Changed("chunk-size") {
		cfg.Scrape.ChunkSize = opts.chunkSize
	}

	dir := cfg.Scrape.BugsDir()
	years, err := resolveYears(cfg, subdomain, dir, opts, flags.Changed("syo") || flags.Changed("eyo"))
	if err != nil {
		return err
	}

	w, err := partition.OpenForBugs(dir, years, logger.Named("partition"))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := w.Close(); cerr != nil {
			logger.Warn("Failed to close partitions", zap.Error(cerr))
		}
	}()

	start := cfg.Scrape.InitID
	if opts.resume {
		start = pipeline.ResumeStart(w.Ledger(), start)
		logger.Info("Resuming bug sweep", zap.Int("start", start), zap.Int("ledger_entries", w.Ledger().Len()))
	}
	if start > cfg.Scrape.FinID {
		start = cfg.Scrape.FinID
	}
	ranges, err := pipeline.Chunks(start, cfg.Scrape.FinID, cfg.Scrape.ChunkSize)
	if err != nil {
		return err
	}

	driver, err := app.NewDriver(subdomain)
	if err != nil {
		return err
	}
	if err := app.Serve(cmd.Context()); err != nil {
		return err
	}
	stats, err := driver.RunBugPass(cmd.Context(), w, ranges)
	report(cmd.Context(), app, stats)
	return sweepResult(logger, err)
}

// resolveYears picks the creation years to open partitions for.
func resolveYears(cfg config.Config, subdomain, dir string, opts *scrapeOptions, override bool) ([]int, error) {
	if override {
		r, err := config.OverrideYears(opts.startYear, opts.endYear)
		if err != nil {
			return nil, fmt.Errorf("--syo/--eyo: %w", err)
		}
		return r.Years(), nil
	}
	if r, ok := cfg.YearsFor(subdomain); ok {
		return r.Years(), nil
	}
	years, err := partition.DiscoverYears(dir)
	if err != nil {
		return nil, err
	}
	if len(years) == 0 {
		return nil, fmt.Errorf("no year range known for %q: pass --syo and --eyo or configure trackers.%s.years", subdomain, subdomain)
	}
	return years, nil
}

func report(ctx context.Context, app *server.App, stats pipeline.Stats) {
	if stats.RunID == "" {
		return
	}
	reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
	defer cancel()
	app.Report(reportCtx, stats)
}

// sweepResult treats an interrupted sweep as a clean exit; its progress is
// already checkpointed.
func sweepResult(logger *zap.Logger, err error) error {
	if err != nil && errors.Is(err, context.Canceled) {
		logger.Info("Sweep interrupted, progress saved")
		return nil
	}
	return err
}
