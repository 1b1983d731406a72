package boltstore_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nspcc-dev/smallfiles/pkg/recordstore"
	"github.com/nspcc-dev/smallfiles/pkg/recordstore/boltstore"
	"github.com/nspcc-dev/smallfiles/pkg/recordstore/storetest"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) recordstore.Store {
	return boltstore.New(filepath.Join(t.TempDir(), "records.db"))
}

func TestGeneric(t *testing.T) {
	storetest.Run(t, newStore)
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "records.db")
	ctx := context.Background()

	s := boltstore.New(path)
	require.NoError(t, s.Open(ctx))
	require.NoError(t, s.Init(ctx))
	rec := storetest.Record(7)
	require.NoError(t, s.Put(ctx, rec))
	require.NoError(t, s.Close())

	s = boltstore.New(path)
	require.NoError(t, s.Open(ctx))
	require.NoError(t, s.Init(ctx))
	t.Cleanup(func() { require.NoError(t, s.Close()) })

	res, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, rec, res)
}
