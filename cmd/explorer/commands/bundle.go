package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"explorer/internal/engine"
	"explorer/internal/explore"
)

const flagOut = "out"

var errNoOut = errors.New("--out is required")

// NewBundleCommand converts a manifest's CSV tables into an Arrow bundle that
// later manifests can point at with "bundle:".
func NewBundleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bundle",
		Short: "Pack a manifest's tables into an Arrow bundle",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, _ := cmd.Flags().GetString(flagOut)
			if out == "" {
				return errNoOut
			}
			e, err := setup(cmd)
			if err != nil {
				return err
			}

			b, err := explore.BundleFromManifest(cmd.Context(), e.manifest)
			if err != nil {
				return err
			}
			if err := engine.SaveBundle(out, b); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d data and %d sample tables to %s\n", len(b.Data), len(b.Samples), out)
			return nil
		},
	}
	cmd.Flags().String(flagOut, "", "output directory")
	return cmd
}
