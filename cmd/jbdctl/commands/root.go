// Package commands implements the jbdctl CLI.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/mit-pdos/go-jbd/config"
	"github.com/mit-pdos/go-jbd/image"
	"github.com/mit-pdos/go-jbd/internal/logger"
	"github.com/mit-pdos/go-jbd/metrics"
)

var (
	Version = "dev"
	Commit  = "none"

	// Global flags.
	cfgFile   string
	envFile   string
	logLevel  string
	logFormat string
	backend   string

	// cfg is loaded before any subcommand runs.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "jbdctl",
	Short: "Inspect and exercise jbd-format journals in disk images",
	Long: `jbdctl formats disk images carrying a jbd-format journal, commits
transactions into them and recovers them after a crash.

Use "jbdctl [command] --help" for more information about a command.`,
	Version:           Version,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

// Execute runs the root command; called by main.main.
func Execute() error {
	rootCmd.Version = Version + " (" + Commit + ")"
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for tests.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, toml or json)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with JBD_* variables")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (text|json)")
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "", "image store (file|badger|leveldb|mem)")

	rootCmd.AddCommand(formatCmd)
	rootCmd.AddCommand(recoverCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(writeCmd)
}

// setup loads configuration and initializes logging and metrics.
func setup(cmd *cobra.Command, args []string) error {
	// the default .env is optional, an explicit one is not
	if err := config.LoadEnvFile(envFile, cmd.Flags().Changed("env-file")); err != nil {
		return err
	}
	c, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		c.Logging.Level = logLevel
	}
	if logFormat != "" {
		c.Logging.Format = logFormat
	}
	if backend != "" {
		c.Image.Backend = backend
	}
	if err := config.Validate(c); err != nil {
		return err
	}
	if err := logger.Init(logger.Config{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
		Output: "stderr",
	}); err != nil {
		return err
	}
	if c.Metrics.Enabled {
		metrics.InitRegistry()
	} else {
		metrics.Disable()
	}
	cfg = c
	return nil
}

func imageBackend() image.Backend {
	return image.Backend(cfg.Image.Backend)
}
