package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/xtream1101/docker-backup-sidecar/internal/logger"
)

// Set is the group of configured destinations, local first.
//
// With both backends configured a save must reach the local directory; an
// S3 failure after that is only logged. Loads and deletes go to the local
// copy when it holds the key and to S3 otherwise.
type Set struct {
	backends []Backend
	log      logger.Logger
}

// NewSet orders the backends local first. A nil entry is skipped so callers
// can pass optional backends directly.
func NewSet(log logger.Logger, backends ...Backend) (*Set, error) {
	if log == nil {
		log = logger.Nop()
	}
	active := make([]Backend, 0, len(backends))
	for _, b := range backends {
		if b == nil {
			continue
		}
		switch v := b.(type) {
		case *Local:
			if v == nil {
				continue
			}
		case *S3:
			if v == nil {
				continue
			}
		}
		active = append(active, b)
	}
	if len(active) == 0 {
		return nil, ErrNoDestination
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].Kind() == KindLocal && active[j].Kind() != KindLocal
	})
	return &Set{backends: active, log: log}, nil
}

// Backends returns the active backends, local first.
func (s *Set) Backends() []Backend {
	out := make([]Backend, len(s.backends))
	copy(out, s.backends)
	return out
}

// Save stores src on every backend. Only the first backend's error is fatal.
func (s *Set) Save(ctx context.Context, key string, src io.ReadSeeker) error {
	primary := s.backends[0]
	if err := primary.Save(ctx, key, src); err != nil {
		return err
	}
	s.log.Info("artifact stored", "destination", primary.Name(), "key", key)

	for _, b := range s.backends[1:] {
		if _, err := src.Seek(0, io.SeekStart); err != nil {
			s.log.Warn("artifact not stored on secondary destination", "destination", b.Name(), "key", key, "error", err)
			continue
		}
		if err := b.Save(ctx, key, src); err != nil {
			s.log.Warn("artifact not stored on secondary destination", "destination", b.Name(), "key", key, "error", err)
			continue
		}
		s.log.Info("artifact stored", "destination", b.Name(), "key", key)
	}
	return nil
}

// Load opens key from the first backend that holds it.
func (s *Set) Load(ctx context.Context, key string) (io.ReadCloser, Backend, error) {
	b, err := s.locate(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	rc, err := b.Load(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	return rc, b, nil
}

// Delete removes key from the first backend that holds it.
func (s *Set) Delete(ctx context.Context, key string) error {
	b, err := s.locate(ctx, key)
	if err != nil {
		return err
	}
	return b.Delete(ctx, key)
}

// Exists reports whether any backend holds key.
func (s *Set) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.locate(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// List returns the sorted union of keys under prefix. A backend that cannot
// be listed is skipped with a warning as long as another one answered.
func (s *Set) List(ctx context.Context, prefix string) ([]string, error) {
	seen := make(map[string]struct{})
	var firstErr error
	answered := 0
	for _, b := range s.backends {
		keys, err := b.List(ctx, prefix)
		if err != nil {
			s.log.Warn("listing destination failed", "destination", b.Name(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		answered++
		for _, k := range keys {
			seen[k] = struct{}{}
		}
	}
	if answered == 0 {
		return nil, firstErr
	}

	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

// locate returns the first backend holding key. A lookup failure is only
// returned when no backend could answer; otherwise the key is reported as
// not found so a transient S3 outage does not hide a local copy.
func (s *Set) locate(ctx context.Context, key string) (Backend, error) {
	var lastErr error
	answered := 0
	for _, b := range s.backends {
		ok, err := b.Exists(ctx, key)
		if err != nil {
			s.log.Warn("destination lookup failed", "destination", b.Name(), "key", key, "error", err)
			lastErr = err
			continue
		}
		answered++
		if ok {
			return b, nil
		}
	}
	if answered == 0 && lastErr != nil {
		return nil, lastErr
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
}
