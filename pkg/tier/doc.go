// Package tier defines the static subscription ladder: ranked tiers, the
// features each one adds, per-tier usage quotas with daily or monthly reset
// windows, static caps, and the billing provider price that sells each paid
// tier.
//
// A Catalog is built once at startup from a Source (in memory or YAML) and is
// read-only afterwards. Features are hierarchical: a tier grants everything
// granted by the tiers ranked below it.
//
//	catalog, err := tier.Load(ctx, tier.NewInMemSource(tier.DefaultTiers("price_pro", "price_premium")...))
//	if err != nil {
//		return err
//	}
//	features, _ := catalog.FeaturesUpTo(tier.Pro)
//
// Lookups of unknown names return ErrUnknownTier. Persisted data carrying an
// unknown tier must be treated as Free by the caller.
package tier
