package database

import (
	"fmt"
	"time"

	"github.com/xtream1101/docker-backup-sidecar/internal/logger"
)

// Toolbox builds Postgres and MongoDB instances that share a runner, a
// per-command timeout and a version selector.
type Toolbox struct {
	Timeout  time.Duration
	Versions *VersionSelector
	Run      RunFunc
	Logger   logger.Logger
}

// NewToolbox returns a Toolbox running the real client binaries.
func NewToolbox(timeout time.Duration, binDirPattern string, log logger.Logger) *Toolbox {
	if log == nil {
		log = logger.Nop()
	}
	return &Toolbox{
		Timeout:  timeout,
		Versions: NewVersionSelector(binDirPattern),
		Run:      Exec,
		Logger:   log,
	}
}

// InitPostgresInstance builds a Postgres for uri.
func (t *Toolbox) InitPostgresInstance(uri string) (*Postgres, error) {
	db, err := NewPostgres(uri,
		WithPostgresTimeout(t.Timeout),
		WithPostgresVersions(t.Versions),
		WithPostgresRunner(t.Run),
		WithPostgresLogger(t.Logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres instance: %w", err)
	}
	return db, nil
}

// InitMongoDBInstance builds a MongoDB for uri.
func (t *Toolbox) InitMongoDBInstance(uri string) (*MongoDB, error) {
	db, err := NewMongoDB(uri,
		WithMongoTimeout(t.Timeout),
		WithMongoRunner(t.Run),
		WithMongoLogger(t.Logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize mongodb instance: %w", err)
	}
	return db, nil
}
