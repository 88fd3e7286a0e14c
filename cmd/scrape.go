package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/isbn-scraper/internal/book"
)

type scrapeOptions struct {
	file    string
	format  string
	timeout time.Duration
}

type scrapeOutput struct {
	Input  string       `json:"input" yaml:"input"`
	Record *book.Record `json:"record" yaml:"record"`
}

func newScrapeCmd(root *rootOptions) *cobra.Command {
	opts := &scrapeOptions{}
	cmd := &cobra.Command{
		Use:   "scrape [isbn...]",
		Short: "Resolve ISBNs once and print the records",
		Example: `  isbn-scraper scrape 9780134173276 0-306-40615-2
  isbn-scraper scrape --file isbns.txt --format yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			isbns := append([]string(nil), args...)
			if opts.file != "" {
				fromFile, err := readISBNFile(opts.file)
				if err != nil {
					return err
				}
				isbns = append(isbns, fromFile...)
			}
			if len(isbns) == 0 {
				return fmt.Errorf("no isbns given: pass them as arguments or with --file")
			}
			switch opts.format {
			case "json", "yaml":
			default:
				return fmt.Errorf("unknown format %q: want json or yaml", opts.format)
			}

			a, err := buildApp(cmd.Context(), root.cfg)
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				_ = a.Close(closeCtx)
			}()

			ctx := cmd.Context()
			if opts.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, opts.timeout)
				defer cancel()
			}
			records, scrapeErr := a.Scraper().Scrape(ctx, isbns)
			out := make([]scrapeOutput, len(isbns))
			for i, in := range isbns {
				out[i].Input = in
				if i < len(records) {
					out[i].Record = records[i]
				}
			}
			if err := writeOutput(cmd.OutOrStdout(), opts.format, out); err != nil {
				return err
			}
			if scrapeErr != nil {
				return fmt.Errorf("scrape incomplete: %w", scrapeErr)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "file with one ISBN per line")
	cmd.Flags().StringVar(&opts.format, "format", "json", "output format: json or yaml")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "overall deadline for the run (0 = none)")
	return cmd
}

// readISBNFile returns the non-empty, non-comment lines of path.
func readISBNFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open isbn file: %w", err)
	}
	defer f.Close()

	var isbns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		isbns = append(isbns, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read isbn file: %w", err)
	}
	return isbns, nil
}

func writeOutput(w io.Writer, format string, v any) error {
	if format == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}
