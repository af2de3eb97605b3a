package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"

	"github.com/xtream1101/docker-backup-sidecar/internal/logger"
)

// MongoDumpDir is the directory mongodump writes into inside the collection
// directory. All Mongo URIs of a run share it, one subdirectory per database.
const MongoDumpDir = "mongodb-dump"

// MongoDBOption defines a functional option for configuring a MongoDB instance.
type MongoDBOption func(*MongoDB)

// MongoDB dumps and restores the databases reachable through one URI.
type MongoDB struct {
	URI string
	// Database is empty when the URI names no database; the dump then covers
	// the whole deployment.
	Database string
	Timeout  time.Duration
	Run      RunFunc
	Logger   logger.Logger
}

// NewMongoDB validates uri with the driver's connection string parser.
func NewMongoDB(uri string, opts ...MongoDBOption) (*MongoDB, error) {
	cs, err := connstring.ParseAndValidate(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}
	m := &MongoDB{
		URI:      uri,
		Database: cs.Database,
		Run:      Exec,
		Logger:   logger.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func WithMongoTimeout(d time.Duration) MongoDBOption {
	return func(m *MongoDB) {
		m.Timeout = d
	}
}

func WithMongoRunner(run RunFunc) MongoDBOption {
	return func(m *MongoDB) {
		if run != nil {
			m.Run = run
		}
	}
}

func WithMongoLogger(log logger.Logger) MongoDBOption {
	return func(m *MongoDB) {
		if log != nil {
			m.Logger = log
		}
	}
}

// Backup runs mongodump into <outDir>/mongodb-dump.
func (m *MongoDB) Backup(ctx context.Context, outDir string) (backupPath string, err error) {
	log := m.Logger
	backupPath = filepath.Join(outDir, MongoDumpDir)
	if err := os.MkdirAll(backupPath, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	args := []string{
		"--uri=" + m.URI,
		"--out=" + backupPath,
		"--quiet",
	}

	ctx, cancel := withTimeout(ctx, m.Timeout)
	defer cancel()

	log.Info("backup started",
		"database", m.GetName(),
		"engine", EngineMongoDB,
		"path", backupPath,
	)
	startTime := time.Now()
	if err := m.Run(ctx, "mongodump", args...); err != nil {
		log.Error("backup failed",
			"database", m.GetName(),
			"engine", EngineMongoDB,
			"path", backupPath,
			"error", err.Error(),
		)
		return "", fmt.Errorf("%w: mongodump %s: %v", ErrBackupFailed, redact(m.URI), err)
	}

	log.Info("backup completed",
		"database", m.GetName(),
		"engine", EngineMongoDB,
		"path", backupPath,
		"duration", time.Since(startTime).String(),
	)
	return backupPath, nil
}

// Restore runs mongorestore with --drop from a dump directory.
func (m *MongoDB) Restore(ctx context.Context, sourceDir string) error {
	log := m.Logger
	if _, err := os.Stat(sourceDir); err != nil {
		return fmt.Errorf("backup source %q not found: %w", sourceDir, err)
	}

	args := []string{
		"--uri=" + m.URI,
		"--drop",
		"--quiet",
	}
	if m.Database != "" {
		// restore only this database's namespaces
		args = append(args, "--nsInclude="+m.Database+".*")
	}
	args = append(args, "--dir="+sourceDir)

	ctx, cancel := withTimeout(ctx, m.Timeout)
	defer cancel()

	log.Info("restore started",
		"database", m.GetName(),
		"engine", EngineMongoDB,
		"source", sourceDir,
	)
	startTime := time.Now()
	if err := m.Run(ctx, "mongorestore", args...); err != nil {
		return fmt.Errorf("%w: mongorestore %s: %v", ErrRestoreFailed, redact(m.URI), err)
	}

	log.Info("restore completed",
		"database", m.GetName(),
		"engine", EngineMongoDB,
		"source", sourceDir,
		"duration", time.Since(startTime).String(),
	)
	return nil
}

func (m *MongoDB) GetName() string {
	if m.Database == "" {
		return "*"
	}
	return m.Database
}

func (m *MongoDB) GetEngine() string {
	return EngineMongoDB
}
