package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

var configFile string

const defaultConfigPath = "/etc/adcraft/config.yaml"

var rootCmd = &cobra.Command{
	Use:   "adcraft",
	Short: "adcraft - campaign creative generator",
	Long: `adcraft renders every copy variant of an ad campaign at every selected size,
packages the result as a ZIP archive with a manifest and relays analytics events
to PostHog and the Meta Conversions API.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("adcraft %s (built %s)\n", version, buildTime)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(trackingCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
