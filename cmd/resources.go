package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/isbn-scraper/internal/resource"
)

func newResourcesCmd(opts *rootOptions) *cobra.Command {
	var asYAML bool
	cmd := &cobra.Command{
		Use:   "resources",
		Short: "List the resources ISBNs are resolved against",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg := resource.Defaults()
			if opts.cfg.Resources.File != "" {
				var err error
				reg, err = resource.LoadFile(opts.cfg.Resources.File)
				if err != nil {
					return err
				}
			}
			if asYAML {
				return writeOutput(cmd.OutOrStdout(), "yaml", reg.All())
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tKIND\tPRIORITY\tURL")
			for _, d := range reg.All() {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", d.ID(), d.Kind(), d.Priority(), urlTemplate(d))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "print the full descriptors as yaml")
	return cmd
}

func urlTemplate(d resource.Descriptor) string {
	switch r := d.(type) {
	case *resource.WebResource:
		return r.URLTemplate
	case *resource.APIResource:
		return r.URLTemplate
	}
	return ""
}
