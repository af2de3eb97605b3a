// Package retention decides which backup artifacts survive a
// Grandfather-Father-Son rotation.
package retention

import (
	"fmt"
	"sort"
	"time"

	"github.com/xtream1101/docker-backup-sidecar/internal/artifact"
)

// Tier names one retention tier.
type Tier string

const (
	TierRecent  Tier = "recent"
	TierDaily   Tier = "daily"
	TierWeekly  Tier = "weekly"
	TierMonthly Tier = "monthly"
	TierYearly  Tier = "yearly"
)

// Age units are fixed lengths, not calendar boundaries. Changing them would
// change which backups existing deployments keep.
const (
	day   = 24 * time.Hour
	week  = 7 * day
	month = 30 * day
	year  = 365 * day
)

// Policy holds the five tier counts. Zero disables a tier.
type Policy struct {
	Recent  int
	Daily   int
	Weekly  int
	Monthly int
	Yearly  int
}

// DefaultPolicy keeps 14 recent, 7 daily and 4 weekly backups.
func DefaultPolicy() Policy {
	return Policy{Recent: 14, Daily: 7, Weekly: 4}
}

// Validate rejects negative tier counts.
func (p Policy) Validate() error {
	for _, c := range []struct {
		tier  Tier
		count int
	}{
		{TierRecent, p.Recent},
		{TierDaily, p.Daily},
		{TierWeekly, p.Weekly},
		{TierMonthly, p.Monthly},
		{TierYearly, p.Yearly},
	} {
		if c.count < 0 {
			return fmt.Errorf("retention %s must not be negative, got %d", c.tier, c.count)
		}
	}
	return nil
}

func (p Policy) String() string {
	return fmt.Sprintf("recent=%d daily=%d weekly=%d monthly=%d yearly=%d",
		p.Recent, p.Daily, p.Weekly, p.Monthly, p.Yearly)
}

// Plan is the outcome of Classify. Keep and Delete hold recognized artifact
// names, newest first. Ignored holds names that did not parse; callers must
// leave those alone.
type Plan struct {
	Keep    []string
	Delete  []string
	Ignored []string
	// Reasons maps every kept name to the tiers that retained it.
	Reasons map[string][]Tier
}

type entry struct {
	name string
	at   time.Time
}

type periodTier struct {
	tier   Tier
	window int
	unit   time.Duration
	key    func(time.Time) string
}

// Classify splits names sharing the artifact prefix name into keep and delete
// sets. Timestamps are read in now's location.
func Classify(name string, names []string, policy Policy, now time.Time) Plan {
	plan := Plan{Reasons: make(map[string][]Tier)}

	entries := make([]entry, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		a, ok := artifact.Parse(name, n, now.Location())
		if !ok {
			plan.Ignored = append(plan.Ignored, n)
			continue
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		entries = append(entries, entry{name: n, at: a.Timestamp})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].at.After(entries[j].at)
	})

	keep := func(n string, t Tier) {
		plan.Reasons[n] = append(plan.Reasons[n], t)
	}

	for i := 0; i < policy.Recent && i < len(entries); i++ {
		keep(entries[i].name, TierRecent)
	}

	tiers := []periodTier{
		{TierDaily, policy.Daily, day, func(t time.Time) string { return t.Format("2006-01-02") }},
		{TierWeekly, policy.Weekly, week, isoWeekKey},
		{TierMonthly, policy.Monthly, month, func(t time.Time) string { return t.Format("2006-01") }},
		{TierYearly, policy.Yearly, year, func(t time.Time) string { return t.Format("2006") }},
	}
	for _, pt := range tiers {
		if pt.window <= 0 {
			continue
		}
		periods := make(map[string]bool)
		for _, e := range entries {
			if ageIn(now, e.at, pt.unit) > pt.window {
				continue
			}
			k := pt.key(e.at)
			if periods[k] {
				continue
			}
			periods[k] = true
			keep(e.name, pt.tier)
		}
	}

	for _, e := range entries {
		if _, ok := plan.Reasons[e.name]; ok {
			plan.Keep = append(plan.Keep, e.name)
		} else {
			plan.Delete = append(plan.Delete, e.name)
		}
	}
	return plan
}

// ageIn returns the whole number of units elapsed between at and now.
// Artifacts from the future have age 0.
func ageIn(now, at time.Time, unit time.Duration) int {
	elapsed := now.Sub(at)
	if elapsed < 0 {
		return 0
	}
	return int(elapsed / unit)
}

func isoWeekKey(t time.Time) string {
	y, w := t.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", y, w)
}
