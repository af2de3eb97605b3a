package operations

import (
	"context"
	"fmt"
	"path"

	"github.com/hashicorp/go-multierror"

	"github.com/xtream1101/docker-backup-sidecar/internal/artifact"
	"github.com/xtream1101/docker-backup-sidecar/internal/logger"
	"github.com/xtream1101/docker-backup-sidecar/internal/retention"
	"github.com/xtream1101/docker-backup-sidecar/internal/storage"
)

// applyRetention prunes every destination independently. Failures on the
// primary destination fail the run; later destinations only warn.
func (om *OperationManager) applyRetention(ctx context.Context, set *storage.Set, log logger.Logger) (int, error) {
	var result *multierror.Error
	pruned := 0
	for i, b := range set.Backends() {
		n, err := om.pruneBackend(ctx, b, log.With("destination", b.Name()))
		pruned += n
		if err == nil {
			continue
		}
		if i == 0 {
			result = multierror.Append(result, err)
			continue
		}
		log.Warn("retention failed on secondary destination", "destination", b.Name(), "error", err)
	}
	return pruned, result.ErrorOrNil()
}

func (om *OperationManager) pruneBackend(ctx context.Context, b storage.Backend, log logger.Logger) (int, error) {
	name := om.cfg.Name
	prefix := artifact.Prefix(name)

	keys, err := b.List(ctx, prefix)
	if err != nil {
		return 0, fmt.Errorf("list %s: %w", b.Name(), err)
	}

	// Only direct children of the prefix belong to this backup name.
	direct := keys[:0:0]
	for _, k := range keys {
		if path.Dir(k)+"/" == prefix {
			direct = append(direct, k)
		}
	}

	plan := retention.Classify(name, direct, om.cfg.Retention, om.now())
	for _, ignored := range plan.Ignored {
		log.Debug("leaving unrecognized object alone", "key", ignored)
	}
	log.Info("retention evaluated",
		"policy", om.cfg.Retention.String(),
		"keep", len(plan.Keep),
		"delete", len(plan.Delete),
	)

	var result *multierror.Error
	deleted := 0
	for _, key := range plan.Delete {
		if err := b.Delete(ctx, key); err != nil {
			result = multierror.Append(result, fmt.Errorf("delete %s: %w", key, err))
			continue
		}
		deleted++
		log.Info("pruned backup", "key", key)
	}
	return deleted, result.ErrorOrNil()
}
