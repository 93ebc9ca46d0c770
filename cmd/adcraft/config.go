package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/foxzi/adcraft/internal/config"
	adcraftTLS "github.com/foxzi/adcraft/internal/tls"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE:  runConfigValidate,
}

func init() {
	configValidateCmd.Flags().StringVarP(&configFile, "config", "c", defaultConfigPath, "Path to configuration file")
	configCmd.AddCommand(configValidateCmd)
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	fmt.Println("Configuration is valid")
	fmt.Printf("  API address: %s\n", cfg.API.ListenAddr)
	fmt.Printf("  API key: %v\n", cfg.API.APIKey != "")
	printTLSSummary(cfg.API.TLS)
	fmt.Printf("  Rate limiting: %v\n", cfg.API.RateLimit.Enabled)
	fmt.Printf("  Database path: %s\n", cfg.Database.Path)
	fmt.Printf("  Output root: %s\n", cfg.Output.Root)
	fmt.Printf("  Workers: %d\n", cfg.Worker.Concurrency)
	fmt.Printf("  Render timeout: %s\n", cfg.Render.Timeout)
	fmt.Printf("  PostHog: %v\n", cfg.Tracking.PostHog.APIKey != "")
	fmt.Printf("  Meta CAPI: %v\n", cfg.Tracking.Meta.PixelID != "")
	fmt.Printf("  Object storage: %v\n", cfg.ObjectStorage.Enabled)
	if cfg.ObjectStorage.Enabled {
		fmt.Printf("    - %s/%s\n", cfg.ObjectStorage.Endpoint, cfg.ObjectStorage.Bucket)
	}
	fmt.Printf("  SMTP notifications: %v\n", cfg.Notify.SMTP.Enabled)
	for _, to := range cfg.Notify.SMTP.To {
		fmt.Printf("    - %s\n", to)
	}
	fmt.Printf("  Metrics: %v\n", cfg.Metrics.Enabled)

	return nil
}

func printTLSSummary(cfg config.TLSConfig) {
	switch {
	case cfg.ACME.Enabled:
		fmt.Printf("  TLS: ACME (%s)\n", strings.Join(cfg.ACME.Domains, ", "))
		m := adcraftTLS.NewACMEManager(cfg.ACME.Email, cfg.ACME.Domains, cfg.ACME.CacheDir)
		for _, cert := range m.CachedCertificates(context.Background()) {
			fmt.Printf("    - %s: expires %s (%d days)\n", cert.Domain, cert.NotAfter.Format("2006-01-02"), cert.DaysLeft)
		}
	case cfg.CertFile != "":
		info, err := adcraftTLS.ReadCertificateInfo(cfg.CertFile)
		if err != nil {
			fmt.Printf("  TLS: manual certificate (%v)\n", err)
			return
		}
		fmt.Printf("  TLS: manual certificate for %s, expires %s (%d days)\n", info.Domain, info.NotAfter.Format("2006-01-02"), info.DaysLeft)
	default:
		fmt.Printf("  TLS: disabled\n")
	}
}
