package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/foxzi/adcraft/internal/config"
	"github.com/foxzi/adcraft/internal/tracking"
)

var trackingCmd = &cobra.Command{
	Use:   "tracking",
	Short: "Tracking failure log commands",
}

var trackingFailuresCmd = &cobra.Command{
	Use:   "failures",
	Short: "List failed event deliveries",
	RunE:  runTrackingFailures,
}

var (
	failuresBackend string
	failuresEvent   string
	failuresLimit   int
)

func init() {
	trackingFailuresCmd.Flags().StringVar(&failuresBackend, "backend", "", "Filter by backend (posthog, meta)")
	trackingFailuresCmd.Flags().StringVar(&failuresEvent, "event", "", "Filter by event name")
	trackingFailuresCmd.Flags().IntVarP(&failuresLimit, "limit", "n", 50, "Maximum number of failures to show")
	trackingFailuresCmd.Flags().StringVarP(&configFile, "config", "c", defaultConfigPath, "Path to configuration file")
	trackingCmd.AddCommand(trackingFailuresCmd)
}

func runTrackingFailures(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if cfg.Tracking.FailureLog == "" {
		return fmt.Errorf("tracking.failure_log is not configured")
	}
	if _, err := os.Stat(cfg.Tracking.FailureLog); os.IsNotExist(err) {
		fmt.Println("No tracking failures recorded")
		return nil
	}

	store, err := tracking.OpenFailureStore(cfg.Tracking.FailureLog)
	if err != nil {
		return err
	}
	defer store.Close()

	failures, err := store.List(context.Background(), tracking.FailureFilter{
		Backend: failuresBackend,
		Event:   failuresEvent,
		Limit:   failuresLimit,
	})
	if err != nil {
		return err
	}
	if len(failures) == 0 {
		fmt.Println("No tracking failures recorded")
		return nil
	}

	rows := make([][]string, 0, len(failures))
	for _, f := range failures {
		rows = append(rows, []string{
			f.FailedAt.Format("2006-01-02 15:04:05"),
			f.Backend,
			f.Event,
			f.EventID,
			truncate(f.Error, 60),
		})
	}
	fmt.Println(renderTable([]string{"Failed at", "Backend", "Event", "Event ID", "Error"}, rows, nil))
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
