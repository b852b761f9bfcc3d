package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kalambet/prodqa/internal/config"
	"github.com/kalambet/prodqa/internal/logging"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:           "prodqa",
	Short:         "Answer questions about a product catalogue",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor, _ := cmd.Flags().GetBool("no-color"); noColor {
			color.NoColor = true
		}
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("no-color", false, "disable colored output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

// setup loads the configuration and installs the default logger. The
// returned closer flushes the log file, if any.
func setup() (config.Config, io.Closer, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("loading config: %w", err)
	}
	closer := logging.Setup(os.Stderr, logging.Options{Level: cfg.Log.Level, File: cfg.Log.File})
	return cfg, closer, nil
}
