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

// seal closes and verifies the open container, commits its records and
// registers it.
func (r *run) seal(ctx context.Context) error {
	cnt := r.cnt
	l := r.log.With(zap.String("container", cnt.NamespacePath))

	if err := cnt.Close(); err != nil {
		return err
	}
	r.cnt = nil

	var (
		added    = recordstore.Added(cnt.NamespacePath)
		archived = recordstore.Archived(cnt.NamespacePath)
	)

	if !cnt.Verify(ctx, r.group.Verify) {
		l.Error("container verification failed, rolling back", zap.Stringer("mode", r.group.Verify))
		if r.rollback(cnt.NamespacePath, added) {
			if err := cnt.Remove(); err != nil {
				l.Error("failed to remove rejected container", zap.Error(err))
			}
		}
		r.metrics.IncContainers(r.group.Name, OutcomeRejected)
		return fmt.Errorf("%w: %s", ErrVerification, cnt.NamespacePath)
	}

	n, err := r.store.Transition(ctx, added, archived)
	if err != nil {
		// some records may already be archived, keep the artifact unless
		// all of them are back to new
		if r.rollback(cnt.NamespacePath, added, archived) {
			if rmErr := cnt.Remove(); rmErr != nil {
				l.Error("failed to remove container", zap.Error(rmErr))
			}
		}
		r.metrics.IncContainers(r.group.Name, OutcomeFailed)
		return fmt.Errorf("%w: mark records of %s archived: %w", ErrStore, cnt.NamespacePath, err)
	}

	if n != cnt.Count() {
		l.Warn("number of archived records differs from the number of files in container",
			zap.Int("records", n), zap.Int("files", cnt.Count()))
	}

	id, err := namespace.ID(cnt.LocalPath)
	if err != nil {
		if _, stErr := os.Stat(cnt.LocalPath); errors.Is(stErr, fs.ErrNotExist) {
			l.Error("CRITICAL: sealed container file is missing, archived records reference lost data",
				zap.String("local", cnt.LocalPath), zap.Int("records", n))
			return fmt.Errorf("sealed container %s is missing", cnt.NamespacePath)
		}

		if !errors.Is(err, namespace.ErrNoMetadata) {
			l.Warn("failed to read container id, using its name", zap.Error(err))
		}
		id = cnt.Name
	}

	err = r.store.PutArchive(ctx, recordstore.ArchiveRecord{ID: id, Path: cnt.NamespacePath})
	if err != nil {
		l.Error("failed to register archived container, rolling back",
			zap.String("pnfsid", id), zap.Error(err))
		if r.rollback(cnt.NamespacePath, archived, added) {
			if rmErr := cnt.Remove(); rmErr != nil {
				l.Error("failed to remove container", zap.Error(rmErr))
			}
		}
		r.metrics.IncContainers(r.group.Name, OutcomeFailed)
		return fmt.Errorf("%w: register container %s: %w", ErrStore, cnt.NamespacePath, err)
	}

	r.res.Containers++
	r.res.Files += cnt.Count()
	r.res.Bytes += cnt.Size()
	r.metrics.IncContainers(r.group.Name, OutcomeArchived)
	r.metrics.AddPackedFiles(r.group.Name, cnt.Count(), cnt.Size())

	l.Info("container archived",
		zap.String("pnfsid", id), zap.Int("files", cnt.Count()), zap.Uint64("size", cnt.Size()))

	if r.notifier != nil {
		ev := ArchiveEvent{
			Group: r.group.Name,
			ID:    id,
			Path:  cnt.NamespacePath,
			Files: cnt.Count(),
			Size:  cnt.Size(),
		}
		if err := r.notifier.Notify(ctx, ev); err != nil {
			l.Warn("failed to send archive notification", zap.Error(err))
		}
	}

	return nil
}
