package scheduler

import (
	"context"
	"time"

	"github.com/ipsix/scamshield/internal/logging"
	"github.com/ipsix/scamshield/internal/storage"
)

const (
	JobPruneMirror = "prune-mirror"
	JobStorageGC   = "storage-gc"
)

// Pruner drops URL mirror records older than maxAge.
type Pruner interface {
	PruneMirror(maxAge time.Duration) (int, error)
}

// PruneMirrorTask removes mirror records past retention. A non-positive
// retention makes the task a no-op.
func PruneMirrorTask(p Pruner, retention time.Duration, logger *logging.Logger) Task {
	return func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		removed, err := p.PruneMirror(retention)
		if err != nil {
			return err
		}
		if removed > 0 && logger != nil {
			logger.Info("url mirror pruned", logging.F("removed", removed), logging.F("retention", retention.String()))
		}
		return nil
	}
}

// GarbageCollectTask reclaims backend space. The collector runs on its own
// goroutine so the job timeout still bounds the run.
func GarbageCollectTask(c storage.Collector) Task {
	return func(ctx context.Context) error {
		done := make(chan error, 1)
		go func() { done <- c.CollectGarbage() }()
		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
