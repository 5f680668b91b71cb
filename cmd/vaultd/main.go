package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zeusync/vault/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "vaultd",
		Short:         "Spatial object vault",
		Long:          "vaultd keeps spatially indexed game objects in regions and serves them over a websocket RPC gateway.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML config (defaults apply when empty)")

	load := func() (config.Config, error) {
		return config.Load(configPath)
	}
	root.AddCommand(newServeCmd(load), newRegionsCmd(load))
	return root
}
