package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	_ "storefront/docs"
)

var Version = "dev"

// @title Storefront API
// @version 1.0
// @description Generic CRUD resources, order checkout and payment notifications.
// @host localhost:9091
// @BasePath /api/v1

func main() {
	var configPath string
	rootCmd := &cobra.Command{
		Use:           "storefront",
		Short:         "Storefront - e-commerce REST backend",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (yaml, json or toml)")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(purgeCmd(&configPath))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
