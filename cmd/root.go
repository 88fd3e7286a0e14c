// Package cmd holds the cobra commands of the isbn-scraper binary.
package cmd

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/isbn-scraper/internal/app"
	"github.com/JakeFAU/isbn-scraper/internal/config"
)

// buildApp is the application factory. Tests replace it to inject options.
var buildApp = app.Build

type rootOptions struct {
	cfgFile string
	cfg     config.Config
}

// NewRootCmd creates the root command and its subcommands.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "isbn-scraper",
		Short: "Resolve ISBNs to bibliographic records across catalog sites and book APIs.",
		Long: `isbn-scraper looks ISBNs up across a prioritized set of catalog sites and
public book APIs. Each ISBN is tried against healthy resources until a
complete record is assembled, with retries, circuit breakers and a bounded
pool of browser tabs keeping the sources usable.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			// .env is optional.
			_ = godotenv.Load()
			cfg, err := config.Load(opts.cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			opts.cfg = cfg
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (yaml, json or toml)")

	cmd.AddCommand(newScrapeCmd(opts))
	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newResourcesCmd(opts))
	return cmd
}
