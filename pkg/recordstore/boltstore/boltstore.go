// Package boltstore implements recordstore.Store on top of a single bbolt
// database file. The database is locked by the opening process, so the
// backend serves deployments where every packer runs on one host.
//
// Records are kept as BSON documents of the same form as in MongoDB
// collections. Selection and bulk updates are full scans.
package boltstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"time"

	"github.com/nspcc-dev/smallfiles/pkg/recordstore"
	"github.com/nspcc-dev/smallfiles/pkg/recordstore/internal/document"
	"github.com/nspcc-dev/smallfiles/pkg/util"
	"go.etcd.io/bbolt"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

var (
	filesBucket    = []byte("files")
	archivesBucket = []byte("archives")
)

// Store is a bbolt-backed recordstore.Store.
type Store struct {
	path string
	perm fs.FileMode
	log  *zap.Logger

	timeout time.Duration
	db      *bbolt.DB
}

// Option is a Store constructor option.
type Option func(*Store)

// WithPermissions sets permission bits of the database file.
func WithPermissions(perm fs.FileMode) Option {
	return func(s *Store) {
		s.perm = perm
	}
}

// WithLogger sets logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		s.log = l
	}
}

// WithLockTimeout sets the time to wait for the database file lock.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// New returns new Store working with the database file at path. The
// file is not touched until Open.
func New(path string, opts ...Option) *Store {
	s := &Store{
		path:    path,
		perm:    0o600,
		log:     zap.NewNop(),
		timeout: time.Second,
	}

	for i := range opts {
		opts[i](s)
	}

	return s
}

// Open implements recordstore.Store.
func (s *Store) Open(context.Context) error {
	err := util.MkdirAllX(filepath.Dir(s.path), s.perm|0o700)
	if err != nil {
		return fmt.Errorf("can't create dir %s for record store: %w", s.path, err)
	}

	s.db, err = bbolt.Open(s.path, s.perm, &bbolt.Options{Timeout: s.timeout})
	if err != nil {
		return fmt.Errorf("can't open boltDB database: %w", err)
	}

	s.log.Debug("opened boltDB record store", zap.String("path", s.path))

	return nil
}

// Init implements recordstore.Store.
func (s *Store) Init(context.Context) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{filesBucket, archivesBucket} {
			_, err := tx.CreateBucketIfNotExists(name)
			if err != nil {
				return fmt.Errorf("could not create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// Close implements recordstore.Store.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func decodeFile(v []byte) (recordstore.FileRecord, error) {
	var d document.File
	err := bson.Unmarshal(v, &d)
	if err != nil {
		return recordstore.FileRecord{}, fmt.Errorf("decode file record: %w", err)
	}
	return d.FileRecord(), nil
}

func putFile(b *bbolt.Bucket, rec recordstore.FileRecord) error {
	v, err := bson.Marshal(document.FromFileRecord(rec))
	if err != nil {
		return fmt.Errorf("encode file record: %w", err)
	}
	return b.Put([]byte(rec.ID), v)
}

// Select implements recordstore.Store. Matching records are collected
// inside a read transaction which is released before fn is called, so
// fn may update the store.
func (s *Store) Select(ctx context.Context, f recordstore.Filter, fn func(recordstore.FileRecord) error) error {
	m, err := f.Compile()
	if err != nil {
		return fmt.Errorf("compile filter: %w", err)
	}

	var res []recordstore.FileRecord

	err = s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(filesBucket).ForEach(func(k, v []byte) error {
			rec, err := decodeFile(v)
			if err != nil {
				s.log.Warn("skip broken file record", zap.ByteString("pnfsid", k), zap.Error(err))
				return nil
			}
			if m.Match(rec) {
				res = append(res, rec)
			}
			return nil
		})
	})
	if err != nil {
		return err
	}

	sort.SliceStable(res, func(i, j int) bool { return res[i].CTime < res[j].CTime })

	for i := range res {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(res[i]); err != nil {
			return err
		}
	}

	return nil
}

// SetState implements recordstore.Store.
func (s *Store) SetState(_ context.Context, id string, st recordstore.State, lock string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(filesBucket)
		v := b.Get([]byte(id))
		if v == nil {
			return recordstore.ErrNotFound
		}

		rec, err := decodeFile(v)
		if err != nil {
			return err
		}

		rec.State, rec.Lock = st, lock

		return putFile(b, rec)
	})
}

// update rewrites every record for which modify returns true.
func (s *Store) update(modify func(*recordstore.FileRecord) bool) (int, error) {
	var n int

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(filesBucket)

		var changed []recordstore.FileRecord

		err := b.ForEach(func(_, v []byte) error {
			rec, err := decodeFile(v)
			if err != nil {
				return nil
			}
			if modify(&rec) {
				changed = append(changed, rec)
			}
			return nil
		})
		if err != nil {
			return err
		}

		// bucket must not be modified during ForEach
		for i := range changed {
			if err := putFile(b, changed[i]); err != nil {
				return err
			}
		}

		n = len(changed)
		return nil
	})

	return n, err
}

// Transition implements recordstore.Store.
func (s *Store) Transition(_ context.Context, from, to recordstore.State) (int, error) {
	return s.update(func(rec *recordstore.FileRecord) bool {
		if rec.State != from {
			return false
		}
		rec.State, rec.Lock = to, ""
		return true
	})
}

// ResetLocks implements recordstore.Store.
func (s *Store) ResetLocks(_ context.Context, lock string) (int, error) {
	if lock == "" {
		return 0, errors.New("empty lock")
	}
	return s.update(func(rec *recordstore.FileRecord) bool {
		if rec.Lock != lock {
			return false
		}
		rec.State, rec.Lock = recordstore.New(), ""
		return true
	})
}

// Delete implements recordstore.Store.
func (s *Store) Delete(_ context.Context, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(filesBucket)
		if b.Get([]byte(id)) == nil {
			return recordstore.ErrNotFound
		}
		return b.Delete([]byte(id))
	})
}

// PutArchive implements recordstore.Store.
func (s *Store) PutArchive(_ context.Context, a recordstore.ArchiveRecord) error {
	v, err := bson.Marshal(document.FromArchiveRecord(a))
	if err != nil {
		return fmt.Errorf("encode archive record: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(archivesBucket).Put([]byte(a.ID), v)
	})
}

// Put implements recordstore.Store.
func (s *Store) Put(_ context.Context, rec recordstore.FileRecord) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return putFile(tx.Bucket(filesBucket), rec)
	})
}

// Get implements recordstore.Store.
func (s *Store) Get(_ context.Context, id string) (recordstore.FileRecord, error) {
	var rec recordstore.FileRecord

	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(filesBucket).Get([]byte(id))
		if v == nil {
			return recordstore.ErrNotFound
		}

		var err error
		rec, err = decodeFile(v)
		return err
	})

	return rec, err
}

// IterateArchives implements recordstore.Store.
func (s *Store) IterateArchives(_ context.Context, fn func(recordstore.ArchiveRecord) error) error {
	var res []recordstore.ArchiveRecord

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(archivesBucket).ForEach(func(_, v []byte) error {
			var d document.Archive
			if err := bson.Unmarshal(v, &d); err != nil {
				return fmt.Errorf("decode archive record: %w", err)
			}
			res = append(res, d.ArchiveRecord())
			return nil
		})
	})
	if err != nil {
		return err
	}

	for i := range res {
		if err := fn(res[i]); err != nil {
			return err
		}
	}

	return nil
}
