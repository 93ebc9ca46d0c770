package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/adcraft/internal/config"
	"github.com/foxzi/adcraft/internal/db"
	"github.com/foxzi/adcraft/internal/repository"
	"github.com/foxzi/adcraft/internal/tracking"
	"github.com/foxzi/adcraft/internal/worker"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove old jobs, their output and old tracking failures",
	RunE:  runCleanup,
}

var (
	cleanupJobsDays     int
	cleanupFailuresDays int
	cleanupDryRun       bool
)

func init() {
	cleanupCmd.Flags().IntVar(&cleanupJobsDays, "jobs-days", 30, "Delete finished jobs and their output older than N days")
	cleanupCmd.Flags().IntVar(&cleanupFailuresDays, "failures-days", 30, "Delete tracking failures older than N days")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Show what would be deleted without actually deleting")
	cleanupCmd.Flags().StringVarP(&configFile, "config", "c", defaultConfigPath, "Path to configuration file")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer database.Close()

	if cleanupDryRun {
		fmt.Println("Dry run mode - no data will be deleted")
		fmt.Println()
	}

	cutoff := time.Now().AddDate(0, 0, -cleanupJobsDays)
	n, err := worker.CleanupOutput(repository.NewJobRepository(database.DB), cutoff, cleanupDryRun)
	if err != nil {
		return fmt.Errorf("failed to cleanup jobs: %w", err)
	}
	fmt.Printf("Finished jobs older than %d days: %d\n", cleanupJobsDays, n)

	if cfg.Tracking.FailureLog != "" {
		if err := cleanupFailures(cfg.Tracking.FailureLog); err != nil {
			return fmt.Errorf("failed to cleanup tracking failures: %w", err)
		}
	}

	if !cleanupDryRun {
		fmt.Println("\nCleanup completed")
	}
	return nil
}

func cleanupFailures(path string) error {
	store, err := tracking.OpenFailureStore(path)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	maxAge := time.Duration(cleanupFailuresDays) * 24 * time.Hour

	if cleanupDryRun {
		count, err := store.Count(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Tracking failures stored: %d (older than %d days would be removed)\n", count, cleanupFailuresDays)
		return nil
	}

	n, err := store.Purge(ctx, maxAge)
	if err != nil {
		return err
	}
	fmt.Printf("Tracking failures older than %d days: %d deleted\n", cleanupFailuresDays, n)
	return nil
}
