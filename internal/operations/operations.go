// Package operations runs the backup, restore and listing pipelines.
package operations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xtream1101/docker-backup-sidecar/internal/backup"
	"github.com/xtream1101/docker-backup-sidecar/internal/config"
	"github.com/xtream1101/docker-backup-sidecar/internal/database"
	"github.com/xtream1101/docker-backup-sidecar/internal/logger"
	"github.com/xtream1101/docker-backup-sidecar/internal/notify"
	"github.com/xtream1101/docker-backup-sidecar/internal/services"
	"github.com/xtream1101/docker-backup-sidecar/internal/storage"
)

// ConfirmDelay is the pause before a restore starts overwriting data.
const ConfirmDelay = 10 * time.Second

var (
	ErrArtifactNotFound = errors.New("backup artifact not found")
	ErrRunInProgress    = errors.New("another run holds the lock")
)

// StorageOpener builds the destination set for a validated configuration.
type StorageOpener func(cfg config.Config, log logger.Logger) (*storage.Set, error)

// PassphraseSource fetches the encryption key when it is not configured
// directly, e.g. from Vault.
type PassphraseSource func(ctx context.Context) (string, error)

// OperationManager owns everything a run needs. It is safe to reuse across
// scheduled runs but not for concurrent ones; the run lock enforces that.
type OperationManager struct {
	cfg      config.Config
	log      logger.Logger
	runtime  services.Runtime
	tools    *database.Toolbox
	notifier notify.Notifier
	open     StorageOpener
	secret   PassphraseSource
	now      func() time.Time
	sleep    services.SleepFunc
	confirm  time.Duration
}

type Option func(*OperationManager)

func WithLogger(log logger.Logger) Option {
	return func(om *OperationManager) {
		if log != nil {
			om.log = log
		}
	}
}

// WithRuntime sets the container runtime used to stop and start services.
func WithRuntime(rt services.Runtime) Option {
	return func(om *OperationManager) { om.runtime = rt }
}

func WithToolbox(tb *database.Toolbox) Option {
	return func(om *OperationManager) {
		if tb != nil {
			om.tools = tb
		}
	}
}

func WithNotifier(n notify.Notifier) Option {
	return func(om *OperationManager) {
		if n != nil {
			om.notifier = n
		}
	}
}

func WithStorageOpener(open StorageOpener) Option {
	return func(om *OperationManager) {
		if open != nil {
			om.open = open
		}
	}
}

// WithPassphraseSource is consulted once per run when cfg carries no
// encryption key.
func WithPassphraseSource(src PassphraseSource) Option {
	return func(om *OperationManager) { om.secret = src }
}

func WithClock(now func() time.Time) Option {
	return func(om *OperationManager) { om.now = now }
}

// WithSleep replaces every wait: service grace windows and the restore
// confirmation delay.
func WithSleep(sleep services.SleepFunc) Option {
	return func(om *OperationManager) { om.sleep = sleep }
}

// NewOperationManager wires the components for cfg. cfg is not validated
// here; every operation validates it first.
func NewOperationManager(cfg config.Config, opts ...Option) *OperationManager {
	om := &OperationManager{
		cfg:     cfg,
		log:     logger.Nop(),
		now:     time.Now,
		sleep:   services.Sleep,
		open:    OpenStorage,
		confirm: ConfirmDelay,
	}
	for _, opt := range opts {
		opt(om)
	}
	if om.tools == nil {
		om.tools = database.NewToolbox(cfg.CommandTimeout, cfg.PGBinDir, om.log)
	}
	if om.notifier == nil {
		om.notifier = notify.NewWebhook(cfg.Webhooks.Success, cfg.Webhooks.Failure, om.log)
	}
	return om
}

// OpenStorage builds the local and/or S3 backends named by cfg.
func OpenStorage(cfg config.Config, log logger.Logger) (*storage.Set, error) {
	var backends []storage.Backend
	if cfg.HasLocal() {
		local, err := storage.NewLocal(cfg.Local.Path)
		if err != nil {
			return nil, err
		}
		backends = append(backends, local)
	}
	if cfg.HasS3() {
		s3, err := storage.NewS3(cfg.S3)
		if err != nil {
			return nil, err
		}
		backends = append(backends, s3)
	}
	return storage.NewSet(log, backends...)
}

func (om *OperationManager) controller() *services.Controller {
	return services.NewController(om.runtime, om.log,
		services.WithWaits(om.cfg.Services.StopWait, om.cfg.Services.StartWait),
		services.WithSleep(om.sleep),
	)
}

func (om *OperationManager) units() []backup.Unit {
	return om.cfg.Units()
}

func (om *OperationManager) encryptionKey(ctx context.Context) (string, error) {
	if om.cfg.EncryptionKey != "" || om.secret == nil {
		return om.cfg.EncryptionKey, nil
	}
	key, err := om.secret(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve encryption key: %w", err)
	}
	return key, nil
}

// fail is the single exit for every failed run: it logs and fires the
// failure webhook, then hands the error back for the exit status.
func (om *OperationManager) fail(ctx context.Context, log logger.Logger, op string, err error) error {
	log.Error(op+" failed", "error", err)
	om.notifier.Failure(context.WithoutCancel(ctx), om.cfg.Name, fmt.Sprintf("%s failed: %v", op, err))
	return err
}
