// Package backup captures the configured units into a collection directory
// and restores them from one.
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xtream1101/docker-backup-sidecar/internal/archive"
	"github.com/xtream1101/docker-backup-sidecar/internal/database"
	"github.com/xtream1101/docker-backup-sidecar/internal/logger"
)

var (
	// ErrCollect wraps the failure of a required source.
	ErrCollect = errors.New("collection failed")
	// ErrNothingCollected means every unit was skipped or none was configured.
	ErrNothingCollected = errors.New("nothing was collected")
)

// Collector captures units. Any unit failure aborts the whole collection.
type Collector struct {
	tools *database.Toolbox
	log   logger.Logger
	now   func() time.Time
}

func NewCollector(tools *database.Toolbox, log logger.Logger) *Collector {
	if log == nil {
		log = logger.Nop()
	}
	return &Collector{tools: tools, log: log, now: time.Now}
}

// Collect captures every unit into dir, which must exist. Missing directory
// and file sources are skipped with a warning.
func (c *Collector) Collect(ctx context.Context, units []Unit, dir string) (*Metadata, error) {
	meta := &Metadata{RunAt: c.now()}

	for _, unit := range units {
		if err := ctx.Err(); err != nil {
			return meta, fmt.Errorf("%w: %v", ErrCollect, err)
		}
		started := c.now()
		output, skipped, err := c.collectOne(ctx, unit, dir)
		if err != nil {
			return meta, fmt.Errorf("%w: %s: %v", ErrCollect, unit, err)
		}
		record := UnitRecord{
			Kind:      unit.Kind(),
			Source:    unit.String(),
			Skipped:   skipped,
			StartedAt: started,
			Duration:  c.now().Sub(started),
		}
		if !skipped {
			record.Output = filepath.Base(output)
			record.SizeBytes = sizeOf(output)
		}
		meta.Units = append(meta.Units, record)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return meta, fmt.Errorf("%w: read collection directory: %v", ErrCollect, err)
	}
	if len(entries) == 0 {
		return meta, ErrNothingCollected
	}
	return meta, nil
}

func (c *Collector) collectOne(ctx context.Context, unit Unit, dir string) (output string, skipped bool, err error) {
	switch u := unit.(type) {
	case PostgresUnit:
		db, err := c.tools.InitPostgresInstance(u.URI)
		if err != nil {
			return "", false, err
		}
		return c.dump(ctx, db, dir)

	case MongoUnit:
		db, err := c.tools.InitMongoDBInstance(u.URI)
		if err != nil {
			return "", false, err
		}
		return c.dump(ctx, db, dir)

	case DirectoryUnit:
		return c.collectDirectory(u, dir)

	case FileUnit:
		return c.collectFile(u, dir)

	default:
		return "", false, fmt.Errorf("unsupported unit %T", unit)
	}
}

func (c *Collector) dump(ctx context.Context, db database.Database, dir string) (string, bool, error) {
	c.log.Info("dumping database", "engine", db.GetEngine(), "database", db.GetName())
	output, err := db.Backup(ctx, dir)
	return output, false, err
}

func (c *Collector) collectDirectory(u DirectoryUnit, dir string) (string, bool, error) {
	info, err := os.Stat(u.Path)
	if errors.Is(err, os.ErrNotExist) {
		c.log.Warn("directory not found, skipping", "path", u.Path, "name", u.Name)
		return "", true, nil
	}
	if err != nil {
		return "", false, err
	}
	if !info.IsDir() {
		return "", false, fmt.Errorf("%s is not a directory", u.Path)
	}

	output := filepath.Join(dir, u.Name+archive.Ext)
	if err := c.claim(output); err != nil {
		return "", false, err
	}

	c.log.Info("archiving directory", "path", u.Path, "name", u.Name)
	if err := archive.CreateTarGz(u.Path, output); err != nil {
		return "", false, err
	}
	return output, false, nil
}

func (c *Collector) collectFile(u FileUnit, dir string) (string, bool, error) {
	found, err := exists(u.Path)
	if err != nil {
		return "", false, err
	}
	if !found {
		c.log.Warn("file not found, skipping", "path", u.Path, "name", u.Name)
		return "", true, nil
	}

	output := filepath.Join(dir, u.Name)
	if err := c.claim(output); err != nil {
		return "", false, err
	}

	c.log.Info("copying file", "path", u.Path, "name", u.Name)
	if err := copyFile(u.Path, output); err != nil {
		return "", false, err
	}
	return output, false, nil
}

// claim fails when another unit already wrote output.
func (c *Collector) claim(output string) error {
	taken, err := exists(output)
	if err != nil {
		return err
	}
	if taken {
		return fmt.Errorf("output %s is already used by another unit", filepath.Base(output))
	}
	return nil
}
