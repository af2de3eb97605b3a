package operations

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xtream1101/docker-backup-sidecar/internal/archive"
	"github.com/xtream1101/docker-backup-sidecar/internal/artifact"
	"github.com/xtream1101/docker-backup-sidecar/internal/backup"
	"github.com/xtream1101/docker-backup-sidecar/internal/config"
	"github.com/xtream1101/docker-backup-sidecar/internal/encryption"
	"github.com/xtream1101/docker-backup-sidecar/internal/logger"
	"github.com/xtream1101/docker-backup-sidecar/internal/storage"
)

// Restore puts the backup taken at timestamp (YYYY-MM-DD-HHMMSS) back in
// place. Services are stopped only once the artifact has been fetched and
// unpacked, after a confirmation delay that cancelling ctx aborts.
func (om *OperationManager) Restore(ctx context.Context, timestamp string) error {
	log := om.log.With("run_id", uuid.NewString(), "name", om.cfg.Name, "timestamp", timestamp)

	result, err := om.restore(ctx, log, timestamp)
	if err != nil {
		return om.fail(ctx, log, "restore", err)
	}

	log.Info("restore completed", "restored", result.Restored, "missing", result.Missing)
	om.notifier.Success(ctx, om.cfg.Name, fmt.Sprintf("restore of %s completed (%d units restored, %d missing)",
		timestamp, result.Restored, result.Missing))
	return nil
}

func (om *OperationManager) restore(ctx context.Context, log logger.Logger, timestamp string) (backup.RestoreResult, error) {
	var none backup.RestoreResult
	cfg := om.cfg

	if err := cfg.Validate(); err != nil {
		return none, err
	}
	if _, err := time.ParseInLocation(artifact.TimestampLayout, timestamp, time.Local); err != nil {
		return none, fmt.Errorf("%w: timestamp %q must look like YYYY-MM-DD-HHMMSS", config.ErrValidateConfig, timestamp)
	}
	passphrase, err := om.encryptionKey(ctx)
	if err != nil {
		return none, err
	}

	lock, err := om.acquireLock()
	if err != nil {
		return none, err
	}
	defer om.releaseLock(lock)

	set, err := om.open(cfg, log)
	if err != nil {
		return none, err
	}

	key, err := om.findArtifact(ctx, set, timestamp)
	if err != nil {
		return none, err
	}

	workDir, err := os.MkdirTemp(cfg.TmpDir, fmt.Sprintf("%s-restore-%s-*", cfg.Name, timestamp))
	if err != nil {
		return none, fmt.Errorf("create work directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			log.Warn("failed to remove work directory", "path", workDir, "error", err)
		}
	}()

	local, err := om.fetch(ctx, set, key, workDir, log)
	if err != nil {
		return none, err
	}

	if strings.HasSuffix(local, encryption.Ext) {
		local, err = encryption.Open(local, passphrase)
		if err != nil {
			return none, fmt.Errorf("decrypt %s: %w", filepath.Base(key), err)
		}
	}

	collectDir := filepath.Join(workDir, "collect")
	if err := archive.ExtractTarGz(local, collectDir); err != nil {
		return none, fmt.Errorf("extract %s: %w", filepath.Base(key), err)
	}

	log.Warn("restore will overwrite live data", "key", key, "starting_in", om.confirm.String())
	if err := om.sleep(ctx, om.confirm); err != nil {
		return none, fmt.Errorf("restore aborted before any change: %w", err)
	}

	stopped := om.controller().Stop(ctx, cfg.Services.Stop)
	defer stopped.Release(ctx)

	result, err := backup.NewRestorer(om.tools, log).Restore(ctx, om.units(), collectDir)
	stopped.Release(ctx)
	return result, err
}

// findArtifact prefers the encrypted variant when both exist.
func (om *OperationManager) findArtifact(ctx context.Context, set *storage.Set, timestamp string) (string, error) {
	for _, filename := range artifact.Candidates(om.cfg.Name, timestamp) {
		key := artifact.Key(om.cfg.Name, filename)
		ok, err := set.Exists(ctx, key)
		if err != nil {
			return "", err
		}
		if ok {
			return key, nil
		}
	}
	return "", fmt.Errorf("%w: %s at %s", ErrArtifactNotFound, om.cfg.Name, timestamp)
}

func (om *OperationManager) fetch(ctx context.Context, set *storage.Set, key, dir string, log logger.Logger) (string, error) {
	rc, from, err := set.Load(ctx, key)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	dst := filepath.Join(dir, filepath.Base(key))
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		return "", fmt.Errorf("%w: download %s: %v", storage.ErrStorage, key, err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("write %s: %w", dst, err)
	}
	log.Info("artifact fetched", "destination", from.Name(), "key", key)
	return dst, nil
}
