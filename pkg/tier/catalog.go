package tier

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
)

// Catalog is the immutable, process-wide table of tiers. It is safe for
// concurrent use once built.
type Catalog struct {
	ordered []Tier
	byName  map[Name]int
	byPrice map[string]Name
}

// NewCatalog validates tiers and builds a catalog. It requires exactly one
// free tier at rank 0 without a price, unique ranks and unique price
// references on every paid tier.
func NewCatalog(tiers ...Tier) (*Catalog, error) {
	if len(tiers) == 0 {
		return nil, errors.Join(ErrInvalidConfiguration, errors.New("no tiers defined"))
	}

	ordered := make([]Tier, 0, len(tiers))
	for _, t := range tiers {
		ordered = append(ordered, clone(t))
	}
	slices.SortFunc(ordered, func(a, b Tier) int { return cmp.Compare(a.Rank, b.Rank) })

	c := &Catalog{
		ordered: ordered,
		byName:  make(map[Name]int, len(ordered)),
		byPrice: make(map[string]Name, len(ordered)),
	}

	for i, t := range ordered {
		if err := t.validate(); err != nil {
			return nil, errors.Join(ErrInvalidConfiguration, err)
		}
		if _, dup := c.byName[t.Name]; dup {
			return nil, errors.Join(ErrInvalidConfiguration, fmt.Errorf("duplicate tier %s", t.Name))
		}
		if i > 0 && ordered[i-1].Rank == t.Rank {
			return nil, errors.Join(ErrInvalidConfiguration,
				fmt.Errorf("tiers %s and %s share rank %d", ordered[i-1].Name, t.Name, t.Rank))
		}
		c.byName[t.Name] = i

		if t.Name == Free {
			continue
		}
		if t.PriceRef == "" {
			return nil, errors.Join(ErrInvalidConfiguration, fmt.Errorf("paid tier %s has no price reference", t.Name))
		}
		if other, dup := c.byPrice[t.PriceRef]; dup {
			return nil, errors.Join(ErrInvalidConfiguration,
				fmt.Errorf("tiers %s and %s share price %s", other, t.Name, t.PriceRef))
		}
		c.byPrice[t.PriceRef] = t.Name
	}

	free, ok := c.byName[Free]
	if !ok {
		return nil, errors.Join(ErrInvalidConfiguration, errors.New("free tier is required"))
	}
	if free != 0 || ordered[0].Rank != 0 {
		return nil, errors.Join(ErrInvalidConfiguration, errors.New("free tier must be the only tier at rank 0"))
	}
	if ordered[0].PriceRef != "" {
		return nil, errors.Join(ErrInvalidConfiguration, errors.New("free tier must not have a price reference"))
	}

	return c, nil
}

// Load builds a catalog from src.
func Load(ctx context.Context, src Source) (*Catalog, error) {
	tiers, err := src.Load(ctx)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoad, err)
	}
	return NewCatalog(tiers...)
}

// Lookup returns the tier called name. Callers resolving persisted data
// should treat ErrUnknownTier as Free rather than failing the request.
func (c *Catalog) Lookup(name Name) (Tier, error) {
	i, ok := c.byName[name]
	if !ok {
		return Tier{}, fmt.Errorf("%w: %q", ErrUnknownTier, name)
	}
	return clone(c.ordered[i]), nil
}

// Has reports whether name is a known tier.
func (c *Catalog) Has(name Name) bool {
	_, ok := c.byName[name]
	return ok
}

// Rank returns the rank of name.
func (c *Catalog) Rank(name Name) (int, error) {
	i, ok := c.byName[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownTier, name)
	}
	return c.ordered[i].Rank, nil
}

// Compare orders two tiers by rank: -1 if a < b, 0 if equal, +1 if a > b.
func (c *Catalog) Compare(a, b Name) (int, error) {
	ra, err := c.Rank(a)
	if err != nil {
		return 0, err
	}
	rb, err := c.Rank(b)
	if err != nil {
		return 0, err
	}
	return cmp.Compare(ra, rb), nil
}

// AtLeast reports whether have ranks at or above want. Unknown names never qualify.
func (c *Catalog) AtLeast(have, want Name) bool {
	n, err := c.Compare(have, want)
	return err == nil && n >= 0
}

// Tiers returns all tiers in ascending rank order.
func (c *Catalog) Tiers() []Tier {
	out := make([]Tier, 0, len(c.ordered))
	for _, t := range c.ordered {
		out = append(out, clone(t))
	}
	return out
}

// FeaturesUpTo returns the union of features of every tier ranked at or
// below name, sorted.
func (c *Catalog) FeaturesUpTo(name Name) ([]Feature, error) {
	i, ok := c.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTier, name)
	}
	set := make(map[Feature]struct{})
	for _, t := range c.ordered[:i+1] {
		for _, f := range t.Features {
			set[f] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(set)), nil
}

// RequiredTier returns the lowest-ranked tier that grants feature.
func (c *Catalog) RequiredTier(feature Feature) (Name, bool) {
	for _, t := range c.ordered {
		if slices.Contains(t.Features, feature) {
			return t.Name, true
		}
	}
	return "", false
}

// TierForPrice maps a billing provider price reference back to a tier.
func (c *Catalog) TierForPrice(priceRef string) (Name, error) {
	name, ok := c.byPrice[priceRef]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownPrice, priceRef)
	}
	return name, nil
}

// Quota returns the quota of tier name for quota q.
func (c *Catalog) Quota(name Name, q QuotaName) (Quota, bool) {
	i, ok := c.byName[name]
	if !ok {
		return Quota{}, false
	}
	quota, ok := c.ordered[i].Quotas[q]
	return quota, ok
}

// Cap returns the static ceiling of tier name for cap.
func (c *Catalog) Cap(name Name, capName CapName) (int64, bool) {
	i, ok := c.byName[name]
	if !ok {
		return 0, false
	}
	v, ok := c.ordered[i].Caps[capName]
	return v, ok
}

func clone(t Tier) Tier {
	t.Features = slices.Clone(t.Features)
	t.Quotas = maps.Clone(t.Quotas)
	t.Caps = maps.Clone(t.Caps)
	return t
}
