package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zeusync/vault/internal/config"
	"github.com/zeusync/vault/internal/injector"
)

func newRegionsCmd(load func() (config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "regions",
		Short: "List persisted regions and their object counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			backend, cleanup, err := injector.InitializeStorage(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := cmd.Context()
			regions, err := backend.ListRegions(ctx)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tKEY\tCENTER\tRADIUS\tOBJECTS")
			for _, r := range regions {
				n, err := backend.CountObjects(ctx, r.ID)
				if err != nil {
					return fmt.Errorf("count objects in %s: %w", r.ID, err)
				}
				fmt.Fprintf(w, "%s\t%s\t%g,%g,%g\t%g\t%d\n",
					r.ID, r.Key, r.Center.X, r.Center.Y, r.Center.Z, r.Radius, n)
			}
			return w.Flush()
		},
	}
}
