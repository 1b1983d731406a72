package recordstore

import (
	"context"
	"errors"
	"path"
	"regexp"
)

// FileRecord is a tracked small file.
type FileRecord struct {
	// ID is a stable path-independent identifier (pnfsid).
	ID string
	// Path is the namespace path of the file.
	Path string
	// Parent is the namespace path of the parent directory.
	Parent string
	// Size in bytes.
	Size uint64
	// CTime is the creation time in seconds since the epoch.
	CTime int64
	// Group and Store are storage classification tags.
	Group string
	Store string

	State State
	// Lock identifies the packer instance holding the record. It is set
	// only for PhaseAdded records.
	Lock string
	// ArchiveURL is set once the location inside a container is known.
	ArchiveURL string
}

// ArchiveRecord describes a sealed container.
type ArchiveRecord struct {
	// ID is the pnfsid of the container file.
	ID string
	// Path is the namespace path of the container file.
	Path string
}

// ErrNotFound is returned when the requested record is missing.
var ErrNotFound = errors.New("record not found")

// Filter selects records eligible for packing. Empty patterns match
// everything. Only PhaseNew records are ever selected.
type Filter struct {
	// PathPattern is matched against FileRecord.Path.
	PathPattern string
	// FilePattern is matched against the base name of FileRecord.Path.
	FilePattern string
	// GroupPattern is matched against FileRecord.Group.
	GroupPattern string
	// StorePattern is matched against FileRecord.Store.
	StorePattern string
	// CTimeBefore limits selection to records with CTime strictly less
	// than the value. Zero means no limit.
	CTimeBefore int64
}

// Matcher is a compiled Filter.
type Matcher struct {
	path, file, group, store *regexp.Regexp
	ctimeBefore              int64
}

// Compile compiles filter patterns.
func (f Filter) Compile() (*Matcher, error) {
	var (
		m   = &Matcher{ctimeBefore: f.CTimeBefore}
		err error
	)

	for _, p := range []struct {
		dst **regexp.Regexp
		src string
	}{
		{&m.path, f.PathPattern},
		{&m.file, f.FilePattern},
		{&m.group, f.GroupPattern},
		{&m.store, f.StorePattern},
	} {
		if p.src == "" {
			continue
		}
		*p.dst, err = regexp.Compile(p.src)
		if err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Match checks whether rec satisfies every condition of the filter
// including the PhaseNew requirement.
func (m *Matcher) Match(rec FileRecord) bool {
	return rec.State.Phase == PhaseNew &&
		(m.ctimeBefore == 0 || rec.CTime < m.ctimeBefore) &&
		m.MatchFile(rec)
}

// MatchFile checks the name part of the filter only.
func (m *Matcher) MatchFile(rec FileRecord) bool {
	return (m.path == nil || m.path.MatchString(rec.Path)) &&
		(m.file == nil || m.file.MatchString(path.Base(rec.Path))) &&
		(m.group == nil || m.group.MatchString(rec.Group)) &&
		(m.store == nil || m.store.MatchString(rec.Store))
}

// Store is the narrow set of queries and updates the packing pipeline
// issues against the shared data store. Every mutation is a single
// document conditional update, there are no multi-document transactions.
type Store interface {
	// Open connects to or opens the underlying storage.
	Open(ctx context.Context) error
	// Init prepares collections, buckets or tables.
	Init(ctx context.Context) error
	// Close releases all resources.
	Close() error

	// Select calls fn for every record matching the filter in ascending
	// CTime order. Iteration stops on the first fn error which is
	// returned as is.
	Select(ctx context.Context, f Filter, fn func(FileRecord) error) error
	// SetState sets state and lock of the record. Empty lock unsets it.
	// Returns ErrNotFound if the record is missing.
	SetState(ctx context.Context, id string, st State, lock string) error
	// Transition moves every record in state from to state to and unsets
	// their locks. Returns the number of updated records.
	Transition(ctx context.Context, from, to State) (int, error)
	// ResetLocks moves every record locked by lock back to PhaseNew and
	// unsets its lock. Returns the number of updated records.
	ResetLocks(ctx context.Context, lock string) (int, error)
	// Delete removes the file record. Returns ErrNotFound if missing.
	Delete(ctx context.Context, id string) error
	// PutArchive stores a sealed container record.
	PutArchive(ctx context.Context, a ArchiveRecord) error

	// Put inserts or replaces the file record.
	Put(ctx context.Context, rec FileRecord) error
	// Get reads the file record. Returns ErrNotFound if missing.
	Get(ctx context.Context, id string) (FileRecord, error)
	// IterateArchives calls fn for every stored archive record.
	IterateArchives(ctx context.Context, fn func(ArchiveRecord) error) error
}
