// Package prefetch implements a bounded queue of opened files. A single
// producer opens files of the given records ahead of the consumer, so
// that opening and warming up the next file overlaps with processing of
// the current one.
package prefetch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/nspcc-dev/smallfiles/pkg/recordstore"
	"github.com/nspcc-dev/smallfiles/pkg/util"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Item is a record with its opened file. File is nil and Err is set if
// the file could not be opened.
type Item struct {
	Record recordstore.FileRecord
	File   *os.File
	Err    error
}

// Opener opens the file of the record for reading.
type Opener func(recordstore.FileRecord) (*os.File, error)

// Source feeds records to the producer until it is exhausted or fn
// returns an error.
type Source func(ctx context.Context, fn func(recordstore.FileRecord) error) error

const (
	// DefaultCapacity is the default number of opened files in the queue.
	DefaultCapacity = 100
	// DefaultTimeout is the default time the consumer waits for the next
	// file.
	DefaultTimeout = 30 * time.Second
)

// ErrTimeout is returned by Err when the consumer gave up waiting for the
// producer.
var ErrTimeout = errors.New("prefetch timeout")

type cfg struct {
	capacity int
	timeout  time.Duration
	pool     util.WorkerPool
	log      *zap.Logger
}

// Option is a Queue option.
type Option func(*cfg)

// WithCapacity sets queue capacity.
func WithCapacity(n int) Option {
	return func(c *cfg) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithTimeout sets time Next waits for the next item before reporting
// the end of input.
func WithTimeout(d time.Duration) Option {
	return func(c *cfg) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithWorkerPool sets pool running the producer. By default the producer
// runs in a dedicated goroutine.
func WithWorkerPool(p util.WorkerPool) Option {
	return func(c *cfg) {
		c.pool = p
	}
}

// WithLogger sets logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *cfg) {
		c.log = l
	}
}

// Queue is a single-producer single-consumer prefetch queue. It is
// single use: Start, then Next until false, then Close.
type Queue struct {
	*cfg

	open Opener

	items  chan Item
	cancel context.CancelFunc
	done   chan struct{}

	errMtx sync.Mutex
	err    error

	opened *atomic.Uint64
	failed *atomic.Uint64
}

// New returns new Queue opening files with open.
func New(open Opener, opts ...Option) *Queue {
	c := &cfg{
		capacity: DefaultCapacity,
		timeout:  DefaultTimeout,
		log:      zap.NewNop(),
	}

	for i := range opts {
		opts[i](c)
	}

	return &Queue{
		cfg:    c,
		open:   open,
		items:  make(chan Item, c.capacity),
		done:   make(chan struct{}),
		opened: atomic.NewUint64(0),
		failed: atomic.NewUint64(0),
	}
}

// Start starts the producer consuming src. The producer stops on ctx
// cancellation or when src is exhausted.
func (q *Queue) Start(ctx context.Context, src Source) error {
	ctx, q.cancel = context.WithCancel(ctx)

	produce := func() { q.produce(ctx, src) }

	if q.pool != nil {
		if err := q.pool.Submit(produce); err != nil {
			q.cancel()
			close(q.items)
			close(q.done)
			return fmt.Errorf("submit prefetch producer: %w", err)
		}
		return nil
	}

	go produce()

	return nil
}

func (q *Queue) produce(ctx context.Context, src Source) {
	defer close(q.done)
	defer close(q.items)

	err := src(ctx, func(rec recordstore.FileRecord) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		f, err := q.open(rec)
		if err != nil {
			q.failed.Inc()
			f = nil
		} else {
			q.opened.Inc()
			warmUp(f, q.log)
		}

		select {
		case q.items <- Item{Record: rec, File: f, Err: err}:
			return nil
		case <-ctx.Done():
			if f != nil {
				_ = f.Close()
			}
			return ctx.Err()
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		q.setErr(fmt.Errorf("read records: %w", err))
	}
}

func (q *Queue) setErr(err error) {
	q.errMtx.Lock()
	if q.err == nil {
		q.err = err
	}
	q.errMtx.Unlock()
}

// Next returns the next item. False is returned when the producer is
// done and the queue is drained, or when no item arrives in time.
func (q *Queue) Next() (Item, bool) {
	t := time.NewTimer(q.timeout)
	defer t.Stop()

	select {
	case it, ok := <-q.items:
		return it, ok
	case <-t.C:
		q.log.Warn("prefetch queue timed out", zap.Duration("timeout", q.timeout))
		q.setErr(ErrTimeout)
		return Item{}, false
	}
}

// Err returns the error which ended the input early: record source
// failure or consumer timeout.
func (q *Queue) Err() error {
	q.errMtx.Lock()
	defer q.errMtx.Unlock()
	return q.err
}

// Opened returns the number of files opened so far.
func (q *Queue) Opened() uint64 {
	return q.opened.Load()
}

// Failed returns the number of records which files could not be opened.
func (q *Queue) Failed() uint64 {
	return q.failed.Load()
}

// Close stops the producer, waits for it and closes files left in the
// queue.
func (q *Queue) Close() {
	if q.cancel == nil {
		return
	}
	q.cancel()

	for it := range q.items {
		if it.File != nil {
			_ = it.File.Close()
		}
	}
	<-q.done
}
