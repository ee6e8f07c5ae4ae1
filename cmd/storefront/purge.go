package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

func purgeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "purge [resource]",
		Short: "Delete every document of a resource",
		Long: `Delete every document of one resource collection.

Examples:
  storefront purge products --config config.yaml
  STOREFRONT_STORAGE_DRIVER=mongo storefront purge carts`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(*configPath)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			defer a.close(ctx)
			if err := a.openStorage(ctx); err != nil {
				return err
			}
			a.buildCatalog()

			engine, ok := a.catalog[args[0]]
			if !ok {
				names := make([]string, 0, len(a.catalog))
				for name := range a.catalog {
					names = append(names, name)
				}
				sort.Strings(names)
				return fmt.Errorf("unknown resource %q, expected one of: %s", args[0], strings.Join(names, ", "))
			}
			n, err := engine.DeleteAll(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d %s\n", n, args[0])
			return nil
		},
	}
}
