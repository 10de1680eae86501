package tier

import "slices"

// Diff describes what changes for an account moving from one tier to another.
type Diff struct {
	From, To       Name
	Upgrade        bool
	GainedFeatures []Feature
	LostFeatures   []Feature
	QuotaIncreases map[QuotaName]QuotaChange
	QuotaDecreases map[QuotaName]QuotaChange
}

// QuotaChange is a before/after pair of quota limits.
type QuotaChange struct {
	From int64
	To   int64
}

// Diff compares the effective entitlements of two tiers, including inherited
// features.
func (c *Catalog) Diff(from, to Name) (*Diff, error) {
	fromTier, err := c.Lookup(from)
	if err != nil {
		return nil, err
	}
	toTier, err := c.Lookup(to)
	if err != nil {
		return nil, err
	}
	fromFeatures, _ := c.FeaturesUpTo(from)
	toFeatures, _ := c.FeaturesUpTo(to)

	d := &Diff{
		From:           from,
		To:             to,
		Upgrade:        toTier.Rank > fromTier.Rank,
		QuotaIncreases: make(map[QuotaName]QuotaChange),
		QuotaDecreases: make(map[QuotaName]QuotaChange),
	}

	for _, f := range toFeatures {
		if !slices.Contains(fromFeatures, f) {
			d.GainedFeatures = append(d.GainedFeatures, f)
		}
	}
	for _, f := range fromFeatures {
		if !slices.Contains(toFeatures, f) {
			d.LostFeatures = append(d.LostFeatures, f)
		}
	}

	for name, target := range toTier.Quotas {
		current, ok := fromTier.Quotas[name]
		if !ok || current.Limit == target.Limit {
			continue
		}
		change := QuotaChange{From: current.Limit, To: target.Limit}
		// Unlimited to limited always counts as a decrease.
		switch {
		case current.Limit == Unlimited:
			d.QuotaDecreases[name] = change
		case target.Limit == Unlimited, target.Limit > current.Limit:
			d.QuotaIncreases[name] = change
		default:
			d.QuotaDecreases[name] = change
		}
	}

	return d, nil
}
