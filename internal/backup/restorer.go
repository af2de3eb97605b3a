package backup

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/hashicorp/go-multierror"

	"github.com/xtream1101/docker-backup-sidecar/internal/archive"
	"github.com/xtream1101/docker-backup-sidecar/internal/database"
	"github.com/xtream1101/docker-backup-sidecar/internal/logger"
)

// Restorer puts units back from an extracted collection directory. Each unit
// is attempted independently; failures are aggregated.
type Restorer struct {
	tools *database.Toolbox
	log   logger.Logger
}

func NewRestorer(tools *database.Toolbox, log logger.Logger) *Restorer {
	if log == nil {
		log = logger.Nop()
	}
	return &Restorer{tools: tools, log: log}
}

// RestoreResult counts what happened to the units.
type RestoreResult struct {
	Restored int
	Missing  int
	Failed   int
}

// Restore walks units in order. A unit whose input is absent from dir is
// logged and skipped. The returned error, if any, is a *multierror.Error
// listing every failed unit.
func (r *Restorer) Restore(ctx context.Context, units []Unit, dir string) (RestoreResult, error) {
	var (
		result RestoreResult
		errs   *multierror.Error
	)
	for _, unit := range units {
		if err := ctx.Err(); err != nil {
			errs = multierror.Append(errs, err)
			break
		}
		found, err := r.restoreOne(ctx, unit, dir)
		switch {
		case err != nil:
			result.Failed++
			r.log.Error("unit restore failed", "unit", unit.String(), "error", err)
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", unit, err))
		case !found:
			result.Missing++
		default:
			result.Restored++
		}
	}
	return result, errs.ErrorOrNil()
}

func (r *Restorer) restoreOne(ctx context.Context, unit Unit, dir string) (bool, error) {
	switch u := unit.(type) {
	case PostgresUnit:
		db, err := r.tools.InitPostgresInstance(u.URI)
		if err != nil {
			return false, err
		}
		src := filepath.Join(dir, database.DumpFilename(db.GetName()))
		if ok, err := r.present(src, unit); !ok || err != nil {
			return false, err
		}
		return true, r.load(ctx, db, src)

	case MongoUnit:
		db, err := r.tools.InitMongoDBInstance(u.URI)
		if err != nil {
			return false, err
		}
		src := filepath.Join(dir, database.MongoDumpDir)
		if ok, err := r.present(src, unit); !ok || err != nil {
			return false, err
		}
		return true, r.load(ctx, db, src)

	case DirectoryUnit:
		src := filepath.Join(dir, u.Name+archive.Ext)
		if ok, err := r.present(src, unit); !ok || err != nil {
			return false, err
		}
		r.log.Info("restoring directory", "name", u.Name, "path", u.Path)
		return true, archive.ExtractTarGz(src, u.Path)

	case FileUnit:
		src := filepath.Join(dir, u.Name)
		if ok, err := r.present(src, unit); !ok || err != nil {
			return false, err
		}
		r.log.Info("restoring file", "name", u.Name, "path", u.Path)
		return true, copyFile(src, u.Path)

	default:
		return false, fmt.Errorf("unsupported unit %T", unit)
	}
}

func (r *Restorer) load(ctx context.Context, db database.Database, src string) error {
	r.log.Info("restoring database", "engine", db.GetEngine(), "database", db.GetName())
	return db.Restore(ctx, src)
}

func (r *Restorer) present(src string, unit Unit) (bool, error) {
	ok, err := exists(src)
	if err != nil {
		return false, err
	}
	if !ok {
		r.log.Warn("no backup found for unit, skipping", "unit", unit.String(), "expected", filepath.Base(src))
	}
	return ok, nil
}
