package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/upb/llm-router/config"
	"github.com/upb/llm-router/internal/observability"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// cli carries state shared by every subcommand
type cli struct {
	cfg    *config.Config
	logger *zap.Logger

	logLevel   string
	logFormat  string
	modelsFile string
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "llm-router",
		Short:         "Route generation and embedding calls across LLM backends with fallback",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.load(cmd.Context())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "Log level: debug|info|warn|error (defaults LOG_LEVEL or info)")
	root.PersistentFlags().StringVar(&c.logFormat, "log-format", "", "Log format: json|console (defaults LOG_FORMAT or json)")
	root.PersistentFlags().StringVar(&c.modelsFile, "models-file", "", "YAML, TOML or JSON model list (defaults ROUTER_MODELS_FILE)")

	root.AddCommand(
		newServeCmd(c),
		newModelsCmd(c),
		newGenerateCmd(c),
		newEmbedCmd(c),
		newCacheCmd(c),
	)
	return root
}

// load reads configuration, applies flag overrides and builds the logger
func (c *cli) load(ctx context.Context) error {
	cfg, err := config.New(ctx)
	if err != nil {
		return err
	}

	if c.logLevel != "" {
		cfg.Observability.LogLevel = c.logLevel
	}
	if c.logFormat != "" {
		cfg.Observability.LogFormat = c.logFormat
	}
	if c.modelsFile != "" {
		cfg.Router.ModelsFile = c.modelsFile
	}

	logger, err := initLogger(cfg)
	if err != nil {
		return err
	}

	c.cfg = cfg
	c.logger = logger
	return nil
}

func initLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("environment", cfg.Environment)), nil
}
