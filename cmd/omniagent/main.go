package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/v0xg/omniagent/internal/config"
	"github.com/v0xg/omniagent/internal/logging"
)

var (
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
)

func main() {
	// Load .env file if present (silently ignore if not found)
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "omniagent",
		Short: "Drive user interfaces from screenshots with an LLM planner",
		Long: `omniagent looks at the screen through an OmniParser service, asks a language
model for the next action and performs it with the mouse and keyboard, until
the goal is reached or the step budget runs out.

Example:
  omniagent run --url https://myapp.com "log in as demo@example.com and open settings"`,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
		PersistentPostRun: func(*cobra.Command, []string) { logging.Sync(logger) },
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: ./omniagent.yaml or ~/.config/omniagent/omniagent.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show debug logs")

	rootCmd.AddCommand(newRunCmd(), newDemoCmd(), newServeCmd(), newGifCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command, _ []string) error {
	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return err
	}
	if verbose {
		cfg.Logger.Level = "debug"
	}
	logger = logging.NewStderr(cfg.Logger)
	logger.Debug("configuration loaded", zap.String("command", cmd.Name()), zap.Any("config", cfg))
	return nil
}
