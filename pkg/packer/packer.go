// Package packer implements the group packing state machine: it selects
// eligible file records, bin-packs them into containers of the target
// size, seals and verifies containers and commits record states to the
// shared record store.
//
// Record states move from "new" to "added: <container>" with the packer
// instance lock as soon as the file bytes are written into the container,
// and to "archived: <container>" once the container is verified. Broken
// containers roll their records back to "new". Records left locked by a
// crashed instance are reset by Sanitize.
package packer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/nspcc-dev/smallfiles/pkg/archive"
	"github.com/nspcc-dev/smallfiles/pkg/container"
	"github.com/nspcc-dev/smallfiles/pkg/prefetch"
	"github.com/nspcc-dev/smallfiles/pkg/recordstore"
	"go.uber.org/zap"
)

// Mode is the packing mode of a run.
type Mode uint8

const (
	// ModeSkip means there was not enough data to pack.
	ModeSkip Mode = iota
	// ModeNormal packs only full containers.
	ModeNormal
	// ModeOld seals the last undersized container to evacuate old files.
	ModeOld
)

func (m Mode) String() string {
	switch m {
	case ModeSkip:
		return "skip"
	case ModeNormal:
		return "normal"
	case ModeOld:
		return "old"
	default:
		return fmt.Sprintf("Mode(%d)", m)
	}
}

// ErrVerification is returned when a sealed container fails verification.
var ErrVerification = errors.New("container verification failed")

// ErrStore marks record store failures.
var ErrStore = errors.New("record store failure")

// Result is the outcome of a packing run.
type Result struct {
	Mode Mode

	// Interrupted is set when the run was canceled.
	Interrupted bool
	// ContainerOpen is set if a container was being filled at the moment
	// of interruption. ArtifactPath and ContainerPath locate it, the
	// caller must pass the Result to Cleanup.
	ContainerOpen bool
	ArtifactPath  string
	ContainerPath string

	// Discarded holds namespace paths of removed undersized containers
	// whose records were left in the added state.
	Discarded []string

	// Containers, Files and Bytes count archived data.
	Containers int
	Files      int
	Bytes      uint64
	// Dropped is the number of records removed because their files
	// could not be read.
	Dropped int

	// Prefetched and Unopened count files opened ahead of packing and
	// records whose files failed to open.
	Prefetched uint64
	Unopened   uint64
}

// Packager packs files of a single group. It is not safe for concurrent
// use.
type Packager struct {
	group    Group
	store    recordstore.Store
	factory  *container.Factory
	instance string

	log          *zap.Logger
	notifier     Notifier
	metrics      Metrics
	prefetchOpts []prefetch.Option
	now          func() time.Time
	opTimeout    time.Duration
}

// Option is a Packager option.
type Option func(*Packager)

// WithLogger sets logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Packager) {
		p.log = l
	}
}

// WithNotifier sets container registration notifier.
func WithNotifier(n Notifier) Option {
	return func(p *Packager) {
		p.notifier = n
	}
}

// WithMetrics sets metrics collector.
func WithMetrics(m Metrics) Option {
	return func(p *Packager) {
		p.metrics = m
	}
}

// WithPrefetchOptions sets options of the prefetch queue.
func WithPrefetchOptions(opts ...prefetch.Option) Option {
	return func(p *Packager) {
		p.prefetchOpts = opts
	}
}

// WithClock sets time source.
func WithClock(now func() time.Time) Option {
	return func(p *Packager) {
		p.now = now
	}
}

// New returns Packager of the group. Instance is the lock identifier of
// the packer process, it must be unique among processes sharing the store
// and stable across restarts.
func New(g Group, store recordstore.Store, f *container.Factory, instance string, opts ...Option) *Packager {
	p := &Packager{
		group:     g,
		store:     store,
		factory:   f,
		instance:  instance,
		log:       zap.NewNop(),
		metrics:   noopMetrics{},
		now:       time.Now,
		opTimeout: 30 * time.Second,
	}

	for i := range opts {
		opts[i](p)
	}

	p.log = p.log.With(zap.String("group", g.Name))

	return p
}

// Group returns packer's group.
func (p *Packager) Group() Group {
	return p.group
}

type plan struct {
	mode         Mode
	count        int
	size         uint64
	oldSize      uint64
	oldTriggered bool
}

// survey sums sizes of eligible records.
func (p *Packager) survey(ctx context.Context, f recordstore.Filter, now time.Time) (plan, error) {
	var (
		pl        plan
		oldBefore = now.Add(-p.group.MaxAge).Unix()
	)

	err := p.store.Select(ctx, f, func(rec recordstore.FileRecord) error {
		pl.count++
		pl.size += rec.Size
		if p.group.MaxAge > 0 && rec.CTime < oldBefore {
			pl.oldTriggered = true
			pl.oldSize += rec.Size
		}
		return nil
	})
	if err != nil {
		return pl, err
	}

	switch {
	case pl.oldTriggered && pl.oldSize < p.group.ArchiveSize:
		pl.mode = ModeOld
	case pl.oldTriggered:
		pl.mode = ModeNormal
	case pl.size < p.group.ArchiveSize:
		pl.mode = ModeSkip
	default:
		pl.mode = ModeNormal
	}

	return pl, nil
}

func (p *Packager) open(rec recordstore.FileRecord) (*os.File, error) {
	return os.Open(p.factory.Resolver.LocalPath(rec.Path))
}

// Run performs a single packing pass over the eligible records. Errors
// are returned for data store and door failures, which end the run.
// Cancellation of ctx is not an error: Result.Interrupted is set and the
// caller must run Cleanup.
func (p *Packager) Run(ctx context.Context) (Result, error) {
	var (
		res   Result
		start = p.now()
		f     = p.group.filter(start)
	)

	defer func() {
		p.metrics.ObserveRun(p.group.Name, res.Mode, time.Since(start))
	}()

	pl, err := p.survey(ctx, f, start)
	if err != nil {
		if ctx.Err() != nil {
			res.Interrupted = true
			return res, nil
		}
		return res, fmt.Errorf("%w: select eligible records: %w", ErrStore, err)
	}

	res.Mode = pl.mode

	p.log.Info("eligible records selected",
		zap.Int("count", pl.count), zap.Uint64("size", pl.size),
		zap.Bool("old", pl.oldTriggered), zap.Uint64("old_size", pl.oldSize),
		zap.Stringer("mode", pl.mode))

	if pl.mode == ModeSkip {
		return res, nil
	}

	r := &run{
		Packager:      p,
		res:           &res,
		plan:          pl,
		remainingN:    pl.count,
		remainingSize: pl.size,
		seen:          make(map[string]struct{}, pl.count),
	}

	return res, r.pack(ctx, f)
}

// run is the state of the mutating pass.
type run struct {
	*Packager

	res  *Result
	plan plan

	remainingN    int
	remainingSize uint64

	seen map[string]struct{}
	cnt  *container.Container
}

func (r *run) consume(rec recordstore.FileRecord) {
	r.remainingN--
	if rec.Size > r.remainingSize {
		r.remainingSize = 0
	} else {
		r.remainingSize -= rec.Size
	}
}

func (r *run) interrupt() {
	r.res.Interrupted = true
	if r.cnt == nil {
		return
	}

	if err := r.cnt.Close(); err != nil {
		r.log.Warn("failed to close interrupted container", zap.Error(err))
	}

	r.res.ContainerOpen = true
	r.res.ArtifactPath = r.cnt.LocalPath
	r.res.ContainerPath = r.cnt.NamespacePath
	r.cnt = nil
}

// drop removes the record of unreadable file.
func (r *run) drop(ctx context.Context, rec recordstore.FileRecord, cause error) error {
	r.log.Warn("file is unreadable, dropping its record",
		zap.String("pnfsid", rec.ID), zap.String("path", rec.Path), zap.Error(cause))

	err := r.store.Delete(ctx, rec.ID)
	if err != nil && !errors.Is(err, recordstore.ErrNotFound) {
		return fmt.Errorf("%w: delete record %s: %w", ErrStore, rec.ID, err)
	}

	r.res.Dropped++
	r.metrics.IncDroppedRecords(r.group.Name)

	return nil
}

func (r *run) pack(ctx context.Context, f recordstore.Filter) error {
	q := prefetch.New(r.open, append([]prefetch.Option{prefetch.WithLogger(r.log)}, r.prefetchOpts...)...)

	err := q.Start(ctx, func(ctx context.Context, fn func(recordstore.FileRecord) error) error {
		return r.store.Select(ctx, f, fn)
	})
	if err != nil {
		return err
	}
	defer func() {
		r.res.Prefetched, r.res.Unopened = q.Opened(), q.Failed()
		r.metrics.AddPrefetched(r.group.Name, r.res.Prefetched, r.res.Unopened)
	}()
	defer q.Close()

	for {
		if ctx.Err() != nil {
			r.interrupt()
			return nil
		}

		it, ok := q.Next()
		if !ok {
			break
		}

		err := r.step(ctx, it)
		if it.File != nil {
			_ = it.File.Close()
		}
		if errors.Is(err, errStop) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				r.interrupt()
				return nil
			}
			r.fail(err)
			return err
		}
	}

	if ctx.Err() != nil {
		r.interrupt()
		return nil
	}

	if err := q.Err(); err != nil && !errors.Is(err, prefetch.ErrTimeout) {
		err = fmt.Errorf("%w: select eligible records: %w", ErrStore, err)
		r.fail(err)
		return err
	}

	if r.cnt == nil {
		return nil
	}

	if r.plan.mode == ModeOld {
		return r.seal(ctx)
	}

	r.discard()
	return nil
}

var errStop = errors.New("stop")

// step handles a single prefetched record.
func (r *run) step(ctx context.Context, it prefetch.Item) error {
	rec := it.Record

	if _, ok := r.seen[rec.ID]; ok {
		return nil
	}
	r.seen[rec.ID] = struct{}{}

	if r.remainingN <= 0 || rec.Size > r.remainingSize {
		r.log.Debug("selection changed since survey, leaving the rest for the next run",
			zap.String("pnfsid", rec.ID))
		return errStop
	}

	if it.Err != nil {
		r.consume(rec)
		return r.drop(ctx, rec, it.Err)
	}

	if r.cnt == nil {
		if r.plan.mode != ModeOld && r.remainingSize < r.group.ArchiveSize {
			r.log.Debug("not enough data for another container", zap.Uint64("remaining", r.remainingSize))
			return errStop
		}

		cnt, err := r.factory.Create(ctx, r.group.ArchiveDir)
		if err != nil {
			return err
		}
		r.cnt = cnt
	}

	err := r.cnt.Add(it.File, rec.ID, rec.Size, rec.Path)
	r.consume(rec)
	if err != nil {
		var srcErr *archive.SourceError
		if errors.As(err, &srcErr) {
			return r.drop(ctx, rec, srcErr.Err)
		}
		return err
	}

	err = r.store.SetState(ctx, rec.ID, recordstore.Added(r.cnt.NamespacePath), r.instance)
	if err != nil {
		return fmt.Errorf("%w: mark record %s added: %w", ErrStore, rec.ID, err)
	}

	if r.cnt.Size() >= r.group.ArchiveSize {
		return r.seal(ctx)
	}

	return nil
}

// discard removes undersized container at the end of normal mode run.
func (r *run) discard() {
	r.log.Info("discarding undersized container",
		zap.String("container", r.cnt.NamespacePath),
		zap.Int("files", r.cnt.Count()), zap.Uint64("size", r.cnt.Size()))

	if err := r.cnt.Remove(); err != nil {
		r.log.Error("failed to remove discarded container",
			zap.String("container", r.cnt.NamespacePath), zap.Error(err))
	}

	r.res.Discarded = append(r.res.Discarded, r.cnt.NamespacePath)
	r.metrics.IncContainers(r.group.Name, OutcomeDiscarded)
	r.cnt = nil
}

// fail removes open container after a fatal error and rolls its records
// back.
func (r *run) fail(cause error) {
	if r.cnt == nil {
		return
	}

	cnt := r.cnt
	r.cnt = nil

	r.log.Error("container failed, rolling back",
		zap.String("container", cnt.NamespacePath), zap.Error(cause))

	if err := cnt.Remove(); err != nil {
		r.log.Error("failed to remove container", zap.String("container", cnt.NamespacePath), zap.Error(err))
	}

	r.rollback(cnt.NamespacePath, recordstore.Added(cnt.NamespacePath))
	r.metrics.IncContainers(r.group.Name, OutcomeFailed)
}

// rollback moves records of the container in the given states back to
// new. It is best effort and runs even if the run context is done.
func (r *run) rollback(path string, states ...recordstore.State) bool {
	ctx, cancel := context.WithTimeout(context.Background(), r.opTimeout)
	defer cancel()

	ok := true
	for _, st := range states {
		n, err := r.store.Transition(ctx, st, recordstore.New())
		if err != nil {
			r.log.Error("failed to roll back records, startup sanitation will reset them",
				zap.String("container", path), zap.Stringer("state", st), zap.Error(err))
			ok = false
			continue
		}
		r.log.Info("records rolled back", zap.String("container", path),
			zap.Stringer("state", st), zap.Int("count", n))
	}

	return ok
}
