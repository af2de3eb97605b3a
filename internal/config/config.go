// Package config loads the sidecar settings once at start-up into an
// immutable Config.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/xtream1101/docker-backup-sidecar/internal/backup"
	"github.com/xtream1101/docker-backup-sidecar/internal/logger"
	"github.com/xtream1101/docker-backup-sidecar/internal/retention"
	"github.com/xtream1101/docker-backup-sidecar/internal/storage"
)

// Config is built by Load and passed by value to every component.
type Config struct {
	// Name prefixes artifacts and namespaces them in storage.
	Name string

	Postgres []string
	MongoDB  []string
	Dirs     []backup.Mount
	Files    []backup.Mount

	Local LocalConfig
	// S3 is disabled when S3.Bucket is empty.
	S3 storage.S3Config

	EncryptionKey string

	Services  ServicesConfig
	Retention retention.Policy
	Webhooks  WebhookConfig

	TmpDir         string
	ComposeProject string
	PGBinDir       string
	CommandTimeout time.Duration
	Cron           string

	Vault VaultConfig
	Log   logger.Options
}

// LocalConfig is disabled when Path is empty.
type LocalConfig struct {
	Path string
}

type ServicesConfig struct {
	Stop      []string
	StopWait  time.Duration
	StartWait time.Duration
}

type WebhookConfig struct {
	Success string
	Failure string
}

// VaultConfig is used only when the encryption key is not set directly.
type VaultConfig struct {
	Address  string
	Token    string
	RoleID   string
	RoleName string
	KeyPath  string
	KeyField string
}

// HasLocal reports whether the local destination is configured.
func (c Config) HasLocal() bool { return c.Local.Path != "" }

// HasS3 reports whether the S3 destination is configured.
func (c Config) HasS3() bool { return c.S3.Bucket != "" }

// UsesVault reports whether the passphrase must be fetched from Vault.
func (c Config) UsesVault() bool {
	return c.EncryptionKey == "" && c.Vault.KeyPath != ""
}

// Units lists the configured backup units in collection order.
func (c Config) Units() []backup.Unit {
	return backup.Units(c.Postgres, c.MongoDB, c.Dirs, c.Files)
}

// Validate checks the preconditions of every run. It has no side effects.
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: BACKUP_NAME is required", ErrValidateConfig)
	}
	if strings.ContainsAny(c.Name, `/\`) || c.Name == "." || c.Name == ".." {
		return fmt.Errorf("%w: BACKUP_NAME %q must not contain path separators", ErrValidateConfig, c.Name)
	}
	if !c.HasLocal() && !c.HasS3() {
		return fmt.Errorf("%w: %w: set BACKUP_LOCAL_PATH and/or BACKUP_S3_BUCKET", ErrValidateConfig, storage.ErrNoDestination)
	}
	if err := c.Retention.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidateConfig, err)
	}
	return nil
}
