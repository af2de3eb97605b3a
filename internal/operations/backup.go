package operations

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/xtream1101/docker-backup-sidecar/internal/archive"
	"github.com/xtream1101/docker-backup-sidecar/internal/artifact"
	"github.com/xtream1101/docker-backup-sidecar/internal/backup"
	"github.com/xtream1101/docker-backup-sidecar/internal/encryption"
	"github.com/xtream1101/docker-backup-sidecar/internal/storage"
)

// BackupResult describes a completed backup run.
type BackupResult struct {
	RunID     string
	Key       string
	Encrypted bool
	SizeBytes int64
	Captured  int
	Skipped   int
	Pruned    int
	Duration  time.Duration
}

// Backup runs one backup: validate, lock, stop services, collect, start
// services, archive, encrypt, store and apply retention. Every failure goes
// through fail; the returned error is for the exit status.
func (om *OperationManager) Backup(ctx context.Context) (*BackupResult, error) {
	runID := uuid.NewString()
	log := om.log.With("run_id", runID, "name", om.cfg.Name)
	startedAt := om.now()

	result, err := om.backup(ctx, runID, startedAt)
	if err != nil {
		return nil, om.fail(ctx, log, "backup", err)
	}

	result.Duration = om.now().Sub(startedAt)
	log.Info("backup completed",
		"key", result.Key,
		"encrypted", result.Encrypted,
		"size_bytes", result.SizeBytes,
		"pruned", result.Pruned,
		"duration", result.Duration.String(),
	)
	om.notifier.Success(ctx, om.cfg.Name, fmt.Sprintf("backup %s stored (%d units captured, %d skipped)",
		filepath.Base(result.Key), result.Captured, result.Skipped))
	return result, nil
}

func (om *OperationManager) backup(ctx context.Context, runID string, startedAt time.Time) (*BackupResult, error) {
	cfg := om.cfg
	log := om.log.With("run_id", runID, "name", cfg.Name)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	passphrase, err := om.encryptionKey(ctx)
	if err != nil {
		return nil, err
	}

	lock, err := om.acquireLock()
	if err != nil {
		return nil, err
	}
	defer om.releaseLock(lock)

	set, err := om.open(cfg, log)
	if err != nil {
		return nil, err
	}

	stamp := artifact.Timestamp(startedAt)
	workDir, err := os.MkdirTemp(cfg.TmpDir, fmt.Sprintf("%s-%s-*", cfg.Name, stamp))
	if err != nil {
		return nil, fmt.Errorf("create work directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			log.Warn("failed to remove work directory", "path", workDir, "error", err)
		}
	}()

	collectDir := filepath.Join(workDir, "collect")
	if err := backup.EnsureDirectoryExist(collectDir); err != nil {
		return nil, err
	}

	log.Info("backup started", "units", len(om.units()), "services", len(cfg.Services.Stop))

	stopped := om.controller().Stop(ctx, cfg.Services.Stop)
	defer stopped.Release(ctx)

	meta, err := backup.NewCollector(om.tools, log).Collect(ctx, om.units(), collectDir)
	stopped.Release(ctx)
	if err != nil {
		return nil, err
	}
	log.Info("collection completed",
		"captured", meta.Captured(),
		"skipped", meta.Skipped(),
		"size_bytes", meta.TotalBytes(),
	)

	archivePath := filepath.Join(workDir, artifact.Filename(cfg.Name, startedAt, false))
	if err := archive.CreateTarGz(collectDir, archivePath); err != nil {
		return nil, fmt.Errorf("archive collection: %w", err)
	}

	finalPath := archivePath
	encrypted := false
	if passphrase == "" {
		log.Warn("no encryption key configured, storing backup unencrypted")
	} else {
		finalPath, err = encryption.Seal(archivePath, passphrase)
		if err != nil {
			_ = os.Remove(archivePath)
			return nil, err
		}
		encrypted = true
	}

	key := artifact.Key(cfg.Name, filepath.Base(finalPath))
	size, err := om.store(ctx, set, key, finalPath)
	if err != nil {
		return nil, err
	}

	pruned, err := om.applyRetention(ctx, set, log)
	if err != nil {
		return nil, err
	}

	return &BackupResult{
		RunID:     runID,
		Key:       key,
		Encrypted: encrypted,
		SizeBytes: size,
		Captured:  meta.Captured(),
		Skipped:   meta.Skipped(),
		Pruned:    pruned,
	}, nil
}

func (om *OperationManager) store(ctx context.Context, set *storage.Set, key, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat artifact: %w", err)
	}
	if err := set.Save(ctx, key, f); err != nil {
		return 0, err
	}
	return info.Size(), nil
}
