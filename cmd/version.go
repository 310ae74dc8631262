package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conneroisu/assetforge/internal/version"
)

func newVersionCommand() *cobra.Command {
	var (
		format   string
		short    bool
		detailed bool
	)

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long: `Show the version, commit and build time of this binary.

Examples:
  assetforge version              # Version and commit
  assetforge version --short      # Version only
  assetforge version --detailed   # Every build field
  assetforge version -o json      # Machine-readable`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch format {
			case "json", "yaml":
				return encode(out, format, version.Info())
			}

			switch {
			case short:
				fmt.Fprintln(out, version.Info().Version)
			case detailed:
				fmt.Fprintln(out, version.Detailed())
			default:
				fmt.Fprintf(out, "assetforge %s\n", version.Short())
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "output", "o", "text", "Output format (text|json|yaml)")
	cmd.Flags().BoolVar(&short, "short", false, "Print the version only")
	cmd.Flags().BoolVar(&detailed, "detailed", false, "Print every build field")
	cmd.MarkFlagsMutuallyExclusive("short", "detailed")
	addFlagValidation(cmd.Flags(), "output", func(s string) error {
		return validateFormat(s, []string{"text", "json", "yaml"})
	})
	return cmd
}
