package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jdziat/extractq/internal/config"
	"github.com/jdziat/extractq/pkg/storage"
)

var rootCmd = &cobra.Command{
	Use:   "extractqd",
	Short: "Per-tenant document extraction queue",
	Long: `extractqd accepts document extraction jobs over HTTP, runs at most one
job per user at a time in priority order, and streams stage progress to
listeners as server-sent events.

Configuration is read from extractq.yaml (or --config) and EXTRACTQ_*
environment variables, e.g. EXTRACTQ_DATABASE_DSN for database.dsn.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is ./extractq.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("db-driver", "", "database driver: sqlite or postgres")
	rootCmd.PersistentFlags().String("dsn", "", "database connection string")
}

// loadConfig builds the configuration for cmd. Flags override the file and
// the environment.
func loadConfig(cmd *cobra.Command, bindings map[string]string) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	v, err := config.New(path)
	if err != nil {
		return nil, err
	}

	flags := map[string]string{
		"logging.level":   "log-level",
		"database.driver": "db-driver",
		"database.dsn":    "dsn",
	}
	for key, name := range bindings {
		flags[key] = name
	}
	if err := bindFlags(v, cmd, flags); err != nil {
		return nil, err
	}

	return config.Load(v)
}

func bindFlags(v *viper.Viper, cmd *cobra.Command, flags map[string]string) error {
	for key, name := range flags {
		f := cmd.Flags().Lookup(name)
		if f == nil {
			return fmt.Errorf("unknown flag %q", name)
		}
		// Unset flags would shadow the file and the environment.
		if !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return err
		}
	}
	return nil
}

func setupLogger(cfg *config.Config) *slog.Logger {
	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)
	return logger
}

func openStore(cfg *config.Config) (*storage.GormStore, error) {
	pool, err := storage.PoolPreset(cfg.Database.Pool, cfg.Worker.Concurrency)
	if err != nil {
		return nil, err
	}
	return storage.Open(cfg.Database.Driver, cfg.Database.DSN, storage.WithPoolConfig(pool))
}
