// Command aether runs the Aether website.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eringen/aether"
	"github.com/eringen/aether/content"
)

// version is set at build time via ldflags.
var version = "dev"

var (
	envFile string
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "aether",
	Short:         "Aether website: blog, chat and image panels",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
		log, err := newLogger(aether.EnvOr("LOG_LEVEL", "info"), aether.EnvOr("LOG_FORMAT", "json"))
		if err != nil {
			return err
		}
		logger = log
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the site until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := aether.LoadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		app := aether.New(cfg, aether.WithLogger(logger))
		defer app.Close()
		return app.Start(ctx)
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load the bundled posts into the database and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := aether.LoadConfig()
		if err != nil {
			return err
		}
		// New applies defaults; the rest of the config is not needed here.
		app := aether.New(cfg)
		store, err := aether.NewStore(app.Config.DatabasePath)
		if err != nil {
			return err
		}
		defer store.Close()

		site, err := content.Load()
		if err != nil {
			return err
		}
		n, err := content.Seed(store, site.Posts)
		if err != nil {
			return err
		}
		logger.Info("seeded posts", zap.Int("count", n), zap.String("db", app.Config.DatabasePath))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the aether version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("aether %s\n", version)
	},
}

func newLogger(level, format string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	config := zap.NewProductionConfig()
	if format == "console" {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	config.Level = lvl
	return config.Build()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file to load before reading config")
	rootCmd.AddCommand(serveCmd, seedCmd, versionCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
