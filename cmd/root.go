// Package cmd defines and implements the CLI commands for the bugscraper executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vikigenius/bugscraper/internal/config"
	"github.com/vikigenius/bugscraper/internal/logging"
	"github.com/vikigenius/bugscraper/internal/server"
)

const shutdownTimeout = 10 * time.Second

type rootOptions struct {
	cfgFile   string
	verbose   bool
	debugFile string
	saveDir   string
}

// appKeyType is the key for storing the App in the context.
type appKeyType string

const (
	appKey       appKeyType = "app"
	logCloserKey appKeyType = "log-closer"
)

// newApp is the application factory. It's a variable so tests can swap it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*server.App, error) {
	return server.Build(ctx, cfg, logger)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "bugscraper",
		Short: "Scrapes bugs, comments, and history from Bugzilla trackers.",
		Long: `bugscraper sweeps a Bugzilla tracker's REST API by bug id, writes every bug
into per-year JSON Lines partitions, and keeps a metadata ledger so later
comment and history passes can resume against the bugs already saved.`,
		SilenceUsage: true,

		// Builds the application before any subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			logger, closeLog, err := logging.New(cfg.Logging.Development,
				logging.WithVerbose(cfg.Logging.Verbose),
				logging.WithDebugFile(cfg.Logging.DebugFile),
			)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				closeLog()
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			ctx := context.WithValue(cmd.Context(), appKey, appInstance)
			cmd.SetContext(context.WithValue(ctx, logCloserKey, closeLog))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (YAML, TOML or JSON)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log at debug level")
	cmd.PersistentFlags().StringVar(&opts.debugFile, "debug-file", "", "also write debug logs as JSON to this file")
	cmd.PersistentFlags().StringVarP(&opts.saveDir, "save-dir", "s", "", "root directory; partitions live in <save-dir>/bugs")

	cmd.AddCommand(newScrapeCmd())
	cmd.AddCommand(newEntryCmd(entryComments))
	cmd.AddCommand(newEntryCmd(entryHistory))
	cmd.AddCommand(newArchiveCmd())

	return cmd
}

// loadConfig reads the config file and applies global flag overrides.
func loadConfig(cmd *cobra.Command, opts *rootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.cfgFile)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	flags := cmd.Flags()
	if flags.Changed("verbose") {
		cfg.Logging.Verbose = opts.verbose
	}
	if flags.Changed("debug-file") {
		cfg.Logging.DebugFile = opts.debugFile
	}
	if flags.Changed("save-dir") {
		cfg.Scrape.SaveDir = opts.saveDir
	}
	return cfg, cfg.Validate()
}

func resolveApp(ctx context.Context) (*server.App, error) {
	appInstance, ok := ctx.Value(appKey).(*server.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// withApp resolves the App for run and closes it on every exit path.
func withApp(run func(cmd *cobra.Command, args []string, app *server.App) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		appInstance, err := resolveApp(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { err = errors.Join(err, closeApp(cmd.Context(), appInstance)) }()
		return run(cmd, args, appInstance)
	}
}

func closeApp(ctx context.Context, appInstance *server.App) error {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	closeErr := appInstance.Close(shutdownCtx)
	if closeLog, ok := ctx.Value(logCloserKey).(func()); ok {
		closeLog()
	} else {
		_ = appInstance.Logger().Sync()
	}
	return closeErr
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
