package packer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/nspcc-dev/smallfiles/pkg/namespace"
	"github.com/nspcc-dev/smallfiles/pkg/recordstore"
	"go.uber.org/zap"
)

// Sanitize resets records locked by the instance back to new. It repairs
// the state left by an unclean shutdown and must run before any packer
// of the instance. Repeated calls are no-op.
func Sanitize(ctx context.Context, store recordstore.Store, instance string, log *zap.Logger) (int, error) {
	n, err := store.ResetLocks(ctx, instance)
	if err != nil {
		return 0, fmt.Errorf("reset records locked by %s: %w", instance, err)
	}

	if n > 0 {
		log.Warn("records of unfinished containers reset", zap.String("lock", instance), zap.Int("count", n))
	} else {
		log.Debug("no records to reset", zap.String("lock", instance))
	}

	return n, nil
}

// Cleanup removes the artifact of the container open at interruption and
// rolls its records back to new.
func Cleanup(ctx context.Context, store recordstore.Store, res Result, log *zap.Logger) error {
	if !res.ContainerOpen {
		return nil
	}

	log = log.With(zap.String("container", res.ContainerPath))

	err := os.Remove(res.ArtifactPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove interrupted container: %w", err)
	}

	n, err := store.Transition(ctx, recordstore.Added(res.ContainerPath), recordstore.New())
	if err != nil {
		return fmt.Errorf("roll back records of interrupted container: %w", err)
	}

	log.Info("interrupted container cleaned up", zap.Int("records", n))

	return nil
}

// CheckArchives reports registered containers whose files are missing
// in the local mount. Every missing container is logged as critical.
func CheckArchives(ctx context.Context, store recordstore.Store, r namespace.Resolver, log *zap.Logger) ([]recordstore.ArchiveRecord, error) {
	var missing []recordstore.ArchiveRecord

	err := store.IterateArchives(ctx, func(a recordstore.ArchiveRecord) error {
		_, err := os.Stat(r.LocalPath(a.Path))
		if err == nil {
			return nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("check container %s: %w", a.Path, err)
		}

		log.Error("CRITICAL: registered container file is missing",
			zap.String("pnfsid", a.ID), zap.String("container", a.Path))
		missing = append(missing, a)

		return nil
	})
	if err != nil {
		return missing, err
	}

	return missing, nil
}
