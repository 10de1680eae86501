package tier

import (
	"fmt"
	"time"
)

// Name identifies a tier, e.g. "free", "pro", "premium".
type Name string

// Free is the floor tier every account falls back to.
const Free Name = "free"

// Feature is a named capability granted by a tier.
type Feature string

// QuotaName identifies a metered, windowed counter such as api_calls.
type QuotaName string

// CapName identifies a static per-request ceiling such as max_file_size_mb.
type CapName string

// Unlimited disables a quota or cap.
const Unlimited int64 = -1

// Window is the reset period of a quota. Windows roll over on UTC wall-clock
// boundaries, not relative to first use.
type Window string

const (
	Daily   Window = "daily"
	Monthly Window = "monthly"
)

// Valid reports whether w is a known window.
func (w Window) Valid() bool {
	return w == Daily || w == Monthly
}

// Bounds returns the start and end of the window containing t.
func (w Window) Bounds(t time.Time) (start, end time.Time) {
	t = t.UTC()
	switch w {
	case Monthly:
		start = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 1, 0)
	default:
		start = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 0, 1)
	}
}

// Bucket returns a stable label for the window containing t, used in counter keys.
func (w Window) Bucket(t time.Time) string {
	start, _ := w.Bounds(t)
	if w == Monthly {
		return start.Format("2006-01")
	}
	return start.Format("2006-01-02")
}

// Quota is a ceiling on a counter within a window.
type Quota struct {
	Limit  int64  `yaml:"limit"`
	Window Window `yaml:"window"`
}

// IsUnlimited reports whether the quota never rejects.
func (q Quota) IsUnlimited() bool { return q.Limit == Unlimited }

// Tier describes one subscription level. Features lists only what the tier
// adds; lower-ranked tiers' features are inherited through the catalog.
type Tier struct {
	Name        Name                `yaml:"name"`
	DisplayName string              `yaml:"display_name"`
	Rank        int                 `yaml:"rank"`
	PriceRef    string              `yaml:"price_ref"`
	Features    []Feature           `yaml:"features"`
	Quotas      map[QuotaName]Quota `yaml:"quotas"`
	Caps        map[CapName]int64   `yaml:"caps"`
}

func (t Tier) String() string {
	if t.DisplayName != "" {
		return t.DisplayName
	}
	return string(t.Name)
}

func (t Tier) validate() error {
	if t.Name == "" {
		return fmt.Errorf("tier at rank %d has no name", t.Rank)
	}
	if t.Rank < 0 {
		return fmt.Errorf("tier %s has negative rank %d", t.Name, t.Rank)
	}
	for name, q := range t.Quotas {
		if !q.Window.Valid() {
			return fmt.Errorf("tier %s quota %s has invalid window %q", t.Name, name, q.Window)
		}
		if q.Limit < Unlimited {
			return fmt.Errorf("tier %s quota %s has invalid limit %d", t.Name, name, q.Limit)
		}
	}
	for name, v := range t.Caps {
		if v < Unlimited {
			return fmt.Errorf("tier %s cap %s has invalid value %d", t.Name, name, v)
		}
	}
	return nil
}
