/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/stockroom/apiserver/config"
	"github.com/stockroom/apiserver/internal/logx"
	"go.uber.org/zap"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "stockroom",
	Short: "Inventory backend with accounts, products and image storage",
	Long: `stockroom serves the inventory HTTP API, runs the background
reset mailer and manages the database schema. Usage:

	stockroom server
	stockroom worker
	stockroom migrate up
`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	// Here you will define your flags and configuration settings.
	// Cobra supports persistent flags, which, if defined here,
	// will be global for your application.
}

// loadConfig reads and validates the environment and builds the process logger.
func loadConfig() (config.Config, *zap.Logger, error) {
	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		return cfg, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger, err := logx.New(logx.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		Development: !cfg.IsProduction(),
	})
	if err != nil {
		return cfg, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, nil
}
