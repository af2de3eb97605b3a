// Package database wraps the PostgreSQL and MongoDB client tools used to dump
// and restore databases.
package database

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os/exec"
	"strings"
	"time"
)

var (
	ErrTimeout       = errors.New("operation timed out")
	ErrBackupFailed  = errors.New("backup failed")
	ErrRestoreFailed = errors.New("restore failed")
	ErrInvalidURI    = errors.New("invalid connection uri")
)

const (
	EnginePostgres = "postgres"
	EngineMongoDB  = "mongodb"
)

var (
	_ Database = (*Postgres)(nil)
	_ Database = (*MongoDB)(nil)
)

// Database is one dumpable target behind a client tool.
type Database interface {
	GetName() string
	GetEngine() string
	// Backup dumps into outDir and returns the path it wrote.
	Backup(ctx context.Context, outDir string) (backupPath string, err error)
	Restore(ctx context.Context, source string) error
}

// RunFunc executes an external client tool.
type RunFunc func(ctx context.Context, name string, args ...string) error

// Exec runs the tool, discarding stdout. The tail of stderr is folded into
// the returned error.
func Exec(ctx context.Context, name string, args ...string) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if cause := context.Cause(ctx); cause != nil && errors.Is(cause, ErrTimeout) {
			return fmt.Errorf("%s: %w", name, ErrTimeout)
		}
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 512 {
			msg = "..." + msg[len(msg)-512:]
		}
		if msg != "" {
			return fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeoutCause(ctx, timeout, ErrTimeout)
}

// redact hides the password of a connection URI for logging.
func redact(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return "<unparseable uri>"
	}
	return u.Redacted()
}
