package sqlstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nspcc-dev/smallfiles/pkg/recordstore"
	"github.com/nspcc-dev/smallfiles/pkg/recordstore/storetest"
	"github.com/stretchr/testify/require"
)

func TestGenericSQLite(t *testing.T) {
	storetest.Run(t, func(t *testing.T) recordstore.Store {
		return New(SQLite, filepath.Join(t.TempDir(), "records.db"))
	})
}

// TestGenericMySQL runs against a real server when SMALLFILES_TEST_MYSQL_DSN
// is set. Every subtest starts with empty tables.
func TestGenericMySQL(t *testing.T) {
	dsn := os.Getenv("SMALLFILES_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("SMALLFILES_TEST_MYSQL_DSN is not set")
	}

	storetest.Run(t, func(t *testing.T) recordstore.Store {
		s := New(MySQL, dsn)
		ctx := context.Background()
		require.NoError(t, s.Open(ctx))
		require.NoError(t, s.Init(ctx))
		_, err := s.db.ExecContext(ctx, `DELETE FROM files`)
		require.NoError(t, err)
		_, err = s.db.ExecContext(ctx, `DELETE FROM archives`)
		require.NoError(t, err)
		require.NoError(t, s.Close())
		return New(MySQL, dsn)
	})
}

func TestUnsupportedDialect(t *testing.T) {
	s := New("postgres", "")
	require.Error(t, s.Open(context.Background()))
	require.NoError(t, s.Close())
}

func TestBrokenState(t *testing.T) {
	s := New(SQLite, filepath.Join(t.TempDir(), "records.db"))
	ctx := context.Background()
	require.NoError(t, s.Open(ctx))
	require.NoError(t, s.Init(ctx))
	t.Cleanup(func() { require.NoError(t, s.Close()) })

	rec := storetest.Record(1)
	require.NoError(t, s.Put(ctx, rec))

	_, err := s.db.ExecContext(ctx, `INSERT INTO files (`+fileColumns+`) VALUES ('broken', '/data/x', '/data', 1, 1, 'g', 's', 'garbage', '', '')`)
	require.NoError(t, err)

	_, err = s.Get(ctx, "broken")
	require.ErrorIs(t, err, recordstore.ErrInvalidState)

	var ids []string
	require.NoError(t, s.Select(ctx, recordstore.Filter{}, func(rec recordstore.FileRecord) error {
		ids = append(ids, rec.ID)
		return nil
	}))
	require.Equal(t, []string{rec.ID}, ids)
}
