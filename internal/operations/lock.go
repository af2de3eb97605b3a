package operations

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// LockPath is the advisory lock file serializing runs of one backup name on
// this host.
func LockPath(tmpDir, name string) string {
	return filepath.Join(tmpDir, name+".lock")
}

func (om *OperationManager) acquireLock() (*flock.Flock, error) {
	if err := os.MkdirAll(om.cfg.TmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("create temp directory: %w", err)
	}
	lock := flock.New(LockPath(om.cfg.TmpDir, om.cfg.Name))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunInProgress, lock.Path())
	}
	return lock, nil
}

func (om *OperationManager) releaseLock(lock *flock.Flock) {
	if err := lock.Unlock(); err != nil {
		om.log.Warn("failed to release run lock", "path", lock.Path(), "error", err)
	}
}
