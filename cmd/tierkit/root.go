package main

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/tierkit/pkg/tier"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tierkit",
		Short:         "Tiered subscription entitlements backed by a billing provider",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newTiersCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "tierkit %s\n", Version)
			return err
		},
	}
}

func newTiersCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "tiers",
		Short: "Validate and print the tier catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadAppConfig()
			if err != nil {
				return err
			}
			if file != "" {
				cfg.TiersFile = file
			}
			catalog, err := loadCatalog(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			return printCatalog(cmd, catalog)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML catalog to load instead of TIERS_FILE")
	return cmd
}

func loadCatalog(ctx context.Context, cfg AppConfig) (*tier.Catalog, error) {
	src := tier.NewInMemSource(tier.DefaultTiers(cfg.ProPriceRef, cfg.PremiumPriceRef)...)
	if cfg.TiersFile != "" {
		src = tier.NewYAMLSource(cfg.TiersFile)
	}
	return tier.Load(ctx, src)
}

func printCatalog(cmd *cobra.Command, catalog *tier.Catalog) error {
	out := cmd.OutOrStdout()
	for _, t := range catalog.Tiers() {
		features, err := catalog.FeaturesUpTo(t.Name)
		if err != nil {
			return err
		}
		price := t.PriceRef
		if price == "" {
			price = "-"
		}
		fmt.Fprintf(out, "%s (rank %d, price %s)\n", t, t.Rank, price)
		fmt.Fprintf(out, "  features: %v\n", features)
		for _, name := range slices.Sorted(maps.Keys(t.Quotas)) {
			q := t.Quotas[name]
			limit := fmt.Sprint(q.Limit)
			if q.IsUnlimited() {
				limit = "unlimited"
			}
			fmt.Fprintf(out, "  quota %s: %s per %s\n", name, limit, q.Window)
		}
		for _, name := range slices.Sorted(maps.Keys(t.Caps)) {
			fmt.Fprintf(out, "  cap %s: %d\n", name, t.Caps[name])
		}
	}
	return nil
}
