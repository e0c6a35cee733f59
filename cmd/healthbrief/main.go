package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rahul/healthbrief/internal/observability"
	"github.com/rahul/healthbrief/pkg/config"
)

// app holds what every subcommand shares once flags are parsed.
type app struct {
	configPath string
	envFile    string
	outputDir  string
	verbose    bool

	cfg     *config.Config
	logger  *zap.Logger
	stats   *observability.Stats
	console *observability.Console
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{console: observability.NewConsole(os.Stdout)}
	if err := newRootCmd(a).ExecuteContext(ctx); err != nil {
		a.console.Fail("%v", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "healthbrief",
		Short:         "Customer health briefs and natural-language queries over a CData MCP endpoint",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "YAML or JSON configuration file")
	flags.StringVar(&a.envFile, "env", ".env", "dotenv file loaded over the process environment")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newRunCmd(a),
		newCacheCmd(a),
		newCheckCmd(a),
		newHistoryCmd(a),
	)
	return root
}

func (a *app) setup() error {
	cfg, err := config.Load(config.Options{Path: a.configPath, EnvFile: a.envFile})
	if err != nil {
		return err
	}
	if a.outputDir != "" {
		cfg.App.OutputDir = a.outputDir
	}

	logger, err := observability.NewLogger(cfg.App.LogLevel, a.verbose)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logger
	a.stats = observability.NewStats()
	return nil
}
