package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nspcc-dev/smallfiles/cmd/internal/cmderr"
	"github.com/nspcc-dev/smallfiles/cmd/smallfiles-packer/config"
	"github.com/nspcc-dev/smallfiles/pkg/dcap/dcaptest"
	"github.com/nspcc-dev/smallfiles/pkg/recordstore"
	"github.com/nspcc-dev/smallfiles/pkg/recordstore/boltstore"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	var out bytes.Buffer

	command.SetOut(&out)
	command.SetErr(&out)
	command.SetArgs(args)
	t.Cleanup(func() {
		command.SetOut(os.Stdout)
		command.SetErr(nil)
		command.SetArgs(nil)
	})

	err := command.Execute()

	return out.String(), err
}

func writeConfig(t *testing.T, dir string, body string) string {
	p := filepath.Join(dir, "packer.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadExampleSettings(t *testing.T) {
	c, err := config.New(config.WithConfigFile("../../config/example/packer.yaml"))
	require.NoError(t, err)

	s, err := loadSettings(c, true)
	require.NoError(t, err)
	require.Equal(t, "packer-01", s.instance)
	require.Equal(t, "/pnfs/example.org/data", s.resolver.MountPoint())
	require.Len(t, s.groups, 2)
}

func TestConfigErrors(t *testing.T) {
	dir := t.TempDir()

	for name, body := range map[string]string{
		"no mount point":    "store:\n  type: bolt\n  path: /tmp/x.db\n",
		"relative mount":    "store:\n  type: bolt\n  path: /tmp/x.db\npacker:\n  mount_point: data\n",
		"unknown store":     "store:\n  type: redis\npacker:\n  mount_point: /data\n",
		"store without uri": "store:\n  type: mongo\npacker:\n  mount_point: /data\n",
		"bad mode":          "store:\n  type: bolt\n  path: /tmp/x.db\npacker:\n  mount_point: /data\n  archive_mode: rw\n",
		"bad compression":   "store:\n  type: bolt\n  path: /tmp/x.db\npacker:\n  mount_point: /data\n  compression: lz4\n",
		"bad door":          "store:\n  type: bolt\n  path: /tmp/x.db\npacker:\n  mount_point: /data\ndcap:\n  enabled: true\n  door: http://door\n",
		"no groups":         "store:\n  type: bolt\n  path: /tmp/x.db\npacker:\n  mount_point: /data\n",
		"bad group":         "store:\n  type: bolt\n  path: /tmp/x.db\npacker:\n  mount_point: /data\ngroups:\n  g:\n    archive_path: a\n",
	} {
		t.Run(name, func(t *testing.T) {
			p := writeConfig(t, t.TempDir(), body)

			_, err := execute(t, "run", "-c", p)
			require.Error(t, err)
			require.Equal(t, cmderr.CodeConfig, cmderr.Code(err))
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := execute(t, "run", "-c", filepath.Join(dir, "missing.yaml"))
		require.Equal(t, cmderr.CodeConfig, cmderr.Code(err))
	})
}

func TestRunOnce(t *testing.T) {
	var (
		dir   = t.TempDir()
		mount = filepath.Join(dir, "mnt")
		db    = filepath.Join(dir, "records.db")
		ctx   = context.Background()
	)

	p := writeConfig(t, dir, fmt.Sprintf(`
store:
  type: bolt
  path: %s
  timeout: 1s
packer:
  instance_id: test
  mount_point: %s
  data_root: /data
  compression: deflate
groups:
  exp:
    path: ^/data/exp/
    archive_path: archives/exp
    archive_size: 1M
`, db, mount))

	s := boltstore.New(db)
	require.NoError(t, s.Open(ctx))
	require.NoError(t, s.Init(ctx))

	require.NoError(t, os.MkdirAll(filepath.Join(mount, "exp"), 0o755))
	ids := make([]string, 3)
	for i := range ids {
		ids[i] = fmt.Sprintf("0000%032X", i)
		data := bytes.Repeat([]byte{byte('a' + i)}, 400_000)
		require.NoError(t, os.WriteFile(filepath.Join(mount, "exp", ids[i]), data, 0o644))
		require.NoError(t, s.Put(ctx, recordstore.FileRecord{
			ID:     ids[i],
			Path:   "/data/exp/" + ids[i],
			Parent: "/data/exp",
			Size:   uint64(len(data)),
			CTime:  time.Now().Add(-time.Hour).Unix() + int64(i),
			State:  recordstore.New(),
		}))
	}
	require.NoError(t, s.Close())

	_, err := execute(t, "run", "--once", "-c", p)
	require.NoError(t, err)

	require.NoError(t, s.Open(ctx))
	var archived string
	for _, id := range ids {
		rec, err := s.Get(ctx, id)
		require.NoError(t, err)
		require.Equal(t, recordstore.PhaseArchived, rec.State.Phase)
		archived = rec.State.Container
	}
	require.NoError(t, s.Close())

	require.True(t, strings.HasPrefix(archived, "/data/archives/exp/"))
	local := filepath.Join(mount, strings.TrimPrefix(archived, "/data/"))

	out, err := execute(t, "archive", "list", "--check", local)
	require.NoError(t, err)
	for _, id := range ids {
		require.Contains(t, out, id)
		require.Contains(t, out, "/data/exp/"+id)
	}

	out, err = execute(t, "sanitize", "--check-archives", "-c", p)
	require.NoError(t, err)
	require.Contains(t, out, "Records reset: 0")
	require.Contains(t, out, "All registered containers are present")

	require.NoError(t, os.Remove(local))
	_, err = execute(t, "sanitize", "--check-archives", "-c", p)
	require.Error(t, err)
	require.Equal(t, cmderr.CodeFailure, cmderr.Code(err))
}

func TestDCAPCommands(t *testing.T) {
	var (
		root = t.TempDir()
		dir  = t.TempDir()
		src  = filepath.Join(dir, "src")
		dst  = filepath.Join(dir, "dst")
		data = bytes.Repeat([]byte("dcap"), 100_000)
	)

	srv, err := dcaptest.New(root)
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	require.NoError(t, os.WriteFile(src, data, 0o600))
	p := writeConfig(t, dir, "dcap:\n  chunk_size: 64Ki\n")

	_, err = execute(t, "dcap", "put", "-c", p, "--door", srv.URL(), "--no-progress", src, "file1")
	require.NoError(t, err)

	_, err = execute(t, "dcap", "rename", "-c", p, "--door", srv.URL(), "file1", "file2")
	require.NoError(t, err)

	_, err = execute(t, "dcap", "get", "-c", p, "--door", srv.URL(), "--no-progress", "file2", dst)
	require.NoError(t, err)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, data, got)

	_, err = execute(t, "dcap", "get", "-c", p, "--door", "", "file2", dst+".1")
	require.Equal(t, cmderr.CodeConfig, cmderr.Code(err))
}
