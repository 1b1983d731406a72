// Package storetest contains tests shared by all recordstore.Store
// implementations.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/nspcc-dev/smallfiles/pkg/recordstore"
	"github.com/stretchr/testify/require"
)

// Constructor returns new unopened recordstore.Store instance.
type Constructor = func(t *testing.T) recordstore.Store

// Run runs all conformance tests against stores created by cons.
func Run(t *testing.T, cons Constructor) {
	t.Run("put and get", func(t *testing.T) { TestPutGet(t, cons) })
	t.Run("select", func(t *testing.T) { TestSelect(t, cons) })
	t.Run("set state", func(t *testing.T) { TestSetState(t, cons) })
	t.Run("transition", func(t *testing.T) { TestTransition(t, cons) })
	t.Run("reset locks", func(t *testing.T) { TestResetLocks(t, cons) })
	t.Run("delete", func(t *testing.T) { TestDelete(t, cons) })
	t.Run("archives", func(t *testing.T) { TestArchives(t, cons) })
}

func open(t *testing.T, cons Constructor) recordstore.Store {
	s := cons(t)
	ctx := context.Background()
	require.NoError(t, s.Open(ctx))
	require.NoError(t, s.Init(ctx))
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

// Record returns new PhaseNew record with the given index.
func Record(i int) recordstore.FileRecord {
	return recordstore.FileRecord{
		ID:     fmt.Sprintf("0000%032X", i),
		Path:   fmt.Sprintf("/data/exp/dir%d/file%d.dat", i%3, i),
		Parent: fmt.Sprintf("/data/exp/dir%d", i%3),
		Size:   uint64(1000 + i),
		CTime:  int64(1_600_000_000 + i),
		Group:  "exp",
		Store:  "tape",
		State:  recordstore.New(),
	}
}

func putAll(t *testing.T, s recordstore.Store, recs ...recordstore.FileRecord) {
	for i := range recs {
		require.NoError(t, s.Put(context.Background(), recs[i]))
	}
}

func selectAll(t *testing.T, s recordstore.Store, f recordstore.Filter) []recordstore.FileRecord {
	var res []recordstore.FileRecord
	require.NoError(t, s.Select(context.Background(), f, func(rec recordstore.FileRecord) error {
		res = append(res, rec)
		return nil
	}))
	return res
}

func TestPutGet(t *testing.T, cons Constructor) {
	s := open(t, cons)
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	require.ErrorIs(t, err, recordstore.ErrNotFound)

	rec := Record(1)
	rec.ArchiveURL = "dcache://dcache/?store=tape&group=exp&bfid=x:y"
	putAll(t, s, rec)

	res, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, rec, res)

	rec.Size = 42
	rec.State = recordstore.Added("/data/archives/a.darc")
	rec.Lock = "packer-1"
	putAll(t, s, rec)

	res, err = s.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, rec, res)
}

func TestSelect(t *testing.T, cons Constructor) {
	s := open(t, cons)

	// insert in reverse order to check sorting
	var recs []recordstore.FileRecord
	for i := 9; i >= 0; i-- {
		recs = append(recs, Record(i))
	}
	recs[0].Group = "theory"
	recs[1].State = recordstore.Added("/data/archives/a.darc")
	recs[1].Lock = "packer-1"
	putAll(t, s, recs...)

	t.Run("all new ordered by ctime", func(t *testing.T) {
		res := selectAll(t, s, recordstore.Filter{})
		require.Len(t, res, 9)
		for i := 1; i < len(res); i++ {
			require.Less(t, res[i-1].CTime, res[i].CTime)
		}
		for i := range res {
			require.Equal(t, recordstore.PhaseNew, res[i].State.Phase)
		}
	})

	t.Run("patterns", func(t *testing.T) {
		res := selectAll(t, s, recordstore.Filter{GroupPattern: "^exp$", PathPattern: "/dir1/"})
		for i := range res {
			require.Equal(t, "exp", res[i].Group)
			require.Contains(t, res[i].Path, "/dir1/")
		}
		require.Len(t, res, 3) // 1, 4, 7

		res = selectAll(t, s, recordstore.Filter{FilePattern: `^file[0-2]\.dat$`})
		require.Len(t, res, 3)
	})

	t.Run("ctime", func(t *testing.T) {
		res := selectAll(t, s, recordstore.Filter{CTimeBefore: Record(3).CTime})
		require.Len(t, res, 3)
	})

	t.Run("stop iteration", func(t *testing.T) {
		errStop := errors.New("stop")
		var n int
		err := s.Select(context.Background(), recordstore.Filter{}, func(recordstore.FileRecord) error {
			n++
			return errStop
		})
		require.ErrorIs(t, err, errStop)
		require.Equal(t, 1, n)
	})
}

func TestSetState(t *testing.T, cons Constructor) {
	s := open(t, cons)
	ctx := context.Background()
	rec := Record(1)
	putAll(t, s, rec)

	err := s.SetState(ctx, "missing", recordstore.New(), "")
	require.ErrorIs(t, err, recordstore.ErrNotFound)

	st := recordstore.Added("/data/archives/a.darc")
	require.NoError(t, s.SetState(ctx, rec.ID, st, "packer-1"))

	res, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, st, res.State)
	require.Equal(t, "packer-1", res.Lock)
	require.Equal(t, rec.Path, res.Path)

	require.NoError(t, s.SetState(ctx, rec.ID, recordstore.New(), ""))
	res, err = s.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, recordstore.New(), res.State)
	require.Empty(t, res.Lock)
}

func TestTransition(t *testing.T, cons Constructor) {
	s := open(t, cons)
	ctx := context.Background()

	const (
		pathA = "/data/archives/a.darc"
		pathB = "/data/archives/b.darc"
	)

	recs := []recordstore.FileRecord{Record(0), Record(1), Record(2), Record(3)}
	recs[0].State, recs[0].Lock = recordstore.Added(pathA), "packer-1"
	recs[1].State, recs[1].Lock = recordstore.Added(pathA), "packer-1"
	recs[2].State, recs[2].Lock = recordstore.Added(pathB), "packer-1"
	putAll(t, s, recs...)

	n, err := s.Transition(ctx, recordstore.Added(pathA), recordstore.Archived(pathA))
	require.NoError(t, err)
	require.Equal(t, 2, n)

	for i, exp := range []recordstore.State{
		recordstore.Archived(pathA),
		recordstore.Archived(pathA),
		recordstore.Added(pathB),
		recordstore.New(),
	} {
		res, err := s.Get(ctx, recs[i].ID)
		require.NoError(t, err)
		require.Equal(t, exp, res.State)
		if exp.Phase == recordstore.PhaseArchived {
			require.Empty(t, res.Lock)
		}
	}

	n, err = s.Transition(ctx, recordstore.Added(pathA), recordstore.New())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestResetLocks(t *testing.T, cons Constructor) {
	s := open(t, cons)
	ctx := context.Background()

	recs := []recordstore.FileRecord{Record(0), Record(1), Record(2)}
	recs[0].State, recs[0].Lock = recordstore.Added("/data/archives/a.darc"), "packer-1"
	recs[1].State, recs[1].Lock = recordstore.Added("/data/archives/b.darc"), "packer-2"
	putAll(t, s, recs...)

	n, err := s.ResetLocks(ctx, "packer-1")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	res, err := s.Get(ctx, recs[0].ID)
	require.NoError(t, err)
	require.Equal(t, recordstore.New(), res.State)
	require.Empty(t, res.Lock)

	res, err = s.Get(ctx, recs[1].ID)
	require.NoError(t, err)
	require.Equal(t, "packer-2", res.Lock)

	// second run is a no-op
	n, err = s.ResetLocks(ctx, "packer-1")
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestDelete(t *testing.T, cons Constructor) {
	s := open(t, cons)
	ctx := context.Background()
	rec := Record(1)
	putAll(t, s, rec, Record(2))

	require.NoError(t, s.Delete(ctx, rec.ID))
	_, err := s.Get(ctx, rec.ID)
	require.ErrorIs(t, err, recordstore.ErrNotFound)
	require.ErrorIs(t, s.Delete(ctx, rec.ID), recordstore.ErrNotFound)

	_, err = s.Get(ctx, Record(2).ID)
	require.NoError(t, err)
}

func TestArchives(t *testing.T, cons Constructor) {
	s := open(t, cons)
	ctx := context.Background()

	exp := map[string]recordstore.ArchiveRecord{}
	for i := 0; i < 3; i++ {
		a := recordstore.ArchiveRecord{
			ID:   fmt.Sprintf("0000ARC%d", i),
			Path: fmt.Sprintf("/data/archives/%d.darc", i),
		}
		exp[a.ID] = a
		require.NoError(t, s.PutArchive(ctx, a))
	}

	res := map[string]recordstore.ArchiveRecord{}
	require.NoError(t, s.IterateArchives(ctx, func(a recordstore.ArchiveRecord) error {
		res[a.ID] = a
		return nil
	}))
	require.Equal(t, exp, res)
}
