package database

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xtream1101/docker-backup-sidecar/internal/logger"
)

// PostgresOption lets you override default settings on a Postgres.
type PostgresOption func(*Postgres)

// Postgres dumps and restores one database addressed by a postgres:// URI.
type Postgres struct {
	URI      string
	Database string
	Timeout  time.Duration
	Versions *VersionSelector
	Run      RunFunc
	Logger   logger.Logger
}

// NewPostgres parses uri and applies the overrides.
func NewPostgres(uri string, opts ...PostgresOption) (*Postgres, error) {
	name, err := postgresDatabase(uri)
	if err != nil {
		return nil, err
	}
	p := &Postgres{
		URI:      uri,
		Database: name,
		Versions: NewVersionSelector(""),
		Run:      Exec,
		Logger:   logger.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// WithPostgresTimeout bounds every pg_dump/pg_restore call.
func WithPostgresTimeout(d time.Duration) PostgresOption {
	return func(p *Postgres) {
		p.Timeout = d
	}
}

func WithPostgresVersions(v *VersionSelector) PostgresOption {
	return func(p *Postgres) {
		if v != nil {
			p.Versions = v
		}
	}
}

func WithPostgresRunner(run RunFunc) PostgresOption {
	return func(p *Postgres) {
		if run != nil {
			p.Run = run
		}
	}
}

func WithPostgresLogger(log logger.Logger) PostgresOption {
	return func(p *Postgres) {
		if log != nil {
			p.Logger = log
		}
	}
}

// DumpFilename is the file a database is dumped to inside the collection
// directory, e.g. "postgres-app.dump".
func DumpFilename(database string) string {
	return fmt.Sprintf("postgres-%s.dump", database)
}

// Backup runs pg_dump in custom format into outDir.
func (p *Postgres) Backup(ctx context.Context, outDir string) (backupPath string, err error) {
	log := p.Logger
	backupPath = filepath.Join(outDir, DumpFilename(p.Database))
	if _, err := os.Stat(backupPath); err == nil {
		return "", fmt.Errorf("%w: %s already collected by another uri", ErrBackupFailed, filepath.Base(backupPath))
	}

	binary := p.binary(ctx, "pg_dump")
	args := []string{
		"--dbname=" + p.URI,
		"-Fc",
		"-f", backupPath,
	}

	ctx, cancel := withTimeout(ctx, p.Timeout)
	defer cancel()

	log.Info("backup started",
		"database", p.Database,
		"engine", EnginePostgres,
		"binary", binary,
		"path", backupPath,
	)
	startTime := time.Now()
	if err := p.Run(ctx, binary, args...); err != nil {
		_ = os.Remove(backupPath)
		return "", fmt.Errorf("%w: %s: %v", ErrBackupFailed, p.Database, err)
	}

	log.Info("backup completed",
		"database", p.Database,
		"engine", EnginePostgres,
		"path", backupPath,
		"duration", time.Since(startTime).String(),
	)
	return backupPath, nil
}

// Restore runs pg_restore, dropping existing objects first.
func (p *Postgres) Restore(ctx context.Context, backupFile string) error {
	log := p.Logger
	if _, err := os.Stat(backupFile); err != nil {
		return fmt.Errorf("backup file %q not found: %w", backupFile, err)
	}

	binary := p.binary(ctx, "pg_restore")
	args := []string{
		"--clean",
		"--if-exists",
		"--no-owner",
		"-d", p.URI,
		backupFile,
	}

	ctx, cancel := withTimeout(ctx, p.Timeout)
	defer cancel()

	log.Info("restore started",
		"database", p.Database,
		"engine", EnginePostgres,
		"binary", binary,
		"source", backupFile,
	)
	startTime := time.Now()
	if err := p.Run(ctx, binary, args...); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrRestoreFailed, p.Database, err)
	}

	log.Info("restore completed",
		"database", p.Database,
		"engine", EnginePostgres,
		"source", backupFile,
		"duration", time.Since(startTime).String(),
	)
	return nil
}

func (p *Postgres) binary(ctx context.Context, tool string) string {
	major, err := p.Versions.Major(ctx, p.URI)
	if err != nil {
		p.Logger.Warn("could not determine server version, using default client",
			"database", p.Database,
			"uri", redact(p.URI),
			"major", major,
			"error", err,
		)
	} else {
		p.Logger.Debug("selected client version", "database", p.Database, "major", major)
	}
	return p.Versions.Binary(major, tool)
}

func (p *Postgres) GetName() string { return p.Database }

func (p *Postgres) GetEngine() string { return EnginePostgres }

// postgresDatabase extracts the database name; without one the server
// defaults to the user name.
func postgresDatabase(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURI, u.Scheme)
	}
	if name := strings.Trim(u.Path, "/"); name != "" {
		return name, nil
	}
	if u.User != nil && u.User.Username() != "" {
		return u.User.Username(), nil
	}
	return "postgres", nil
}
