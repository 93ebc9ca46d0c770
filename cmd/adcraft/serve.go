package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/foxzi/adcraft/internal/app"
	"github.com/foxzi/adcraft/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server and generation worker",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&configFile, "config", "c", defaultConfigPath, "Path to configuration file")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	logger := app.SetupLogger(cfg.Logging)
	slog.SetDefault(logger)

	a, err := app.New(cfg, version, logger)
	if err != nil {
		return err
	}
	return a.Run(context.Background())
}
