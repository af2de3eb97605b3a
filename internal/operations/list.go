package operations

import (
	"context"
	"fmt"
	"path"
	"sort"
	"time"

	"github.com/xtream1101/docker-backup-sidecar/internal/artifact"
)

// Listing is one backup as seen across destinations.
type Listing struct {
	Filename  string
	Timestamp time.Time
	Encrypted bool
	// Locations names every destination holding the artifact.
	Locations []string
}

// List returns the artifacts stored for the configured name, newest first.
// A destination that cannot be listed is logged and skipped unless none can.
func (om *OperationManager) List(ctx context.Context) ([]Listing, error) {
	if err := om.cfg.Validate(); err != nil {
		return nil, err
	}
	set, err := om.open(om.cfg, om.log)
	if err != nil {
		return nil, err
	}

	prefix := artifact.Prefix(om.cfg.Name)
	byName := make(map[string]*Listing)
	answered := 0
	var lastErr error
	for _, b := range set.Backends() {
		keys, err := b.List(ctx, prefix)
		if err != nil {
			om.log.Warn("listing destination failed", "destination", b.Name(), "error", err)
			lastErr = err
			continue
		}
		answered++
		for _, key := range keys {
			if path.Dir(key)+"/" != prefix {
				continue
			}
			a, ok := artifact.Parse(om.cfg.Name, key, time.Local)
			if !ok {
				continue
			}
			l, seen := byName[a.Filename]
			if !seen {
				l = &Listing{Filename: a.Filename, Timestamp: a.Timestamp, Encrypted: a.Encrypted}
				byName[a.Filename] = l
			}
			l.Locations = append(l.Locations, b.Name())
		}
	}
	if answered == 0 {
		return nil, fmt.Errorf("list backups: %w", lastErr)
	}

	out := make([]Listing, 0, len(byName))
	for _, l := range byName {
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].Filename < out[j].Filename
	})
	return out, nil
}
