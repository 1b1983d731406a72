package packer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"time"

	"github.com/nspcc-dev/smallfiles/pkg/dcap"
	"github.com/nspcc-dev/smallfiles/pkg/recordstore"
	"go.uber.org/zap"
)

// ErrInterrupted is returned by Loop when it was canceled in the middle of
// a packing cycle.
var ErrInterrupted = errors.New("packing interrupted")

// Loop runs packers of all groups periodically.
type Loop struct {
	store    recordstore.Store
	instance string
	packers  []*Packager
	delay    time.Duration
	log      *zap.Logger

	sanitized bool
	dirty     bool
}

// NewLoop returns Loop running packers one by one in the group name order
// every delay.
func NewLoop(store recordstore.Store, instance string, packers []*Packager, delay time.Duration, log *zap.Logger) *Loop {
	ps := append([]*Packager(nil), packers...)
	sort.Slice(ps, func(i, j int) bool { return ps[i].group.Name < ps[j].group.Name })

	return &Loop{
		store:    store,
		instance: instance,
		packers:  ps,
		delay:    delay,
		log:      log,
	}
}

// Run runs cycles until ctx is done. Cancellation while waiting for the
// next cycle is a normal exit, cancellation during a cycle returns
// ErrInterrupted once the interrupted container is cleaned up.
func (l *Loop) Run(ctx context.Context) error {
	t := time.NewTimer(0)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			l.log.Info("packing loop stopped")
			return nil
		case <-t.C:
		}

		err := l.Cycle(ctx)
		if errors.Is(err, ErrInterrupted) {
			return err
		}
		if err != nil {
			l.log.Error("packing cycle failed, retrying later", zap.Error(err), zap.Duration("delay", l.delay))
		}

		t.Reset(l.delay)
	}
}

// Cycle runs every packer once. Records of the instance are sanitized
// before the first cycle and after cycles which discarded containers.
func (l *Loop) Cycle(ctx context.Context) error {
	if !l.sanitized || l.dirty {
		if _, err := Sanitize(ctx, l.store, l.instance, l.log); err != nil {
			return err
		}
		l.sanitized, l.dirty = true, false
	}

	for _, p := range l.packers {
		if ctx.Err() != nil {
			return ErrInterrupted
		}

		res, err := p.Run(ctx)
		if res.Interrupted {
			l.cleanup(ctx, res)
			return ErrInterrupted
		}

		if len(res.Discarded) > 0 {
			l.dirty = true
		}

		if err != nil {
			if remoteFailure(err) {
				return fmt.Errorf("group %s: %w", p.group.Name, err)
			}
			l.log.Error("group packing failed",
				zap.String("group", p.group.Name), zap.Error(err))
			continue
		}

		l.log.Info("group packed",
			zap.String("group", p.group.Name), zap.Stringer("mode", res.Mode),
			zap.Int("containers", res.Containers), zap.Int("files", res.Files),
			zap.Uint64("bytes", res.Bytes), zap.Int("dropped", res.Dropped),
			zap.Uint64("prefetched", res.Prefetched), zap.Uint64("unopened", res.Unopened))
	}

	return nil
}

// remoteFailure reports whether err comes from the record store or the
// door, which are shared by all groups.
func remoteFailure(err error) bool {
	var netErr net.Error
	return errors.Is(err, ErrStore) || errors.Is(err, dcap.ErrConnectionBroken) || errors.As(err, &netErr)
}

func (l *Loop) cleanup(ctx context.Context, res Result) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
	defer cancel()

	if err := Cleanup(ctx, l.store, res, l.log); err != nil {
		l.log.Error("failed to clean up interrupted container, startup sanitation will reset its records",
			zap.String("container", res.ContainerPath), zap.Error(err))
	}
}
