package container

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nspcc-dev/smallfiles/pkg/archive"
	"github.com/nspcc-dev/smallfiles/pkg/dcap"
	"github.com/nspcc-dev/smallfiles/pkg/dcap/dcaptest"
	"github.com/nspcc-dev/smallfiles/pkg/namespace"
	"github.com/stretchr/testify/require"
)

type brokenReader struct{}

func (brokenReader) Read([]byte) (int, error) {
	return 0, errors.New("input/output error")
}

// newFactory returns factory with namespace root /data mounted at
// <tmp>/data.
func newFactory(t *testing.T) (*Factory, string) {
	root := t.TempDir()
	r, err := namespace.NewResolver(filepath.Join(root, "data"), "/data")
	require.NoError(t, err)

	return &Factory{Resolver: r, Mode: 0o640}, root
}

func addFiles(t *testing.T, c *Container, files map[string]string) {
	for id, content := range files {
		require.NoError(t, c.Add(strings.NewReader(content), id, uint64(len(content)), "/data/exp/"+id))
	}
}

func TestParseVerifyMode(t *testing.T) {
	for s, exp := range map[string]VerifyMode{
		"":         VerifyFilelist,
		"filelist": VerifyFilelist,
		"chksum":   VerifyChecksum,
		"off":      VerifyOff,
	} {
		m, err := ParseVerifyMode(s)
		require.NoError(t, err)
		require.Equal(t, exp, m)
	}

	_, err := ParseVerifyMode("sha256")
	require.Error(t, err)
}

func TestLocalContainer(t *testing.T) {
	f, root := newFactory(t)
	ctx := context.Background()

	c, err := f.Create(ctx, "/data/archives/exp")
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(c.Name, Suffix))
	require.Equal(t, "/data/archives/exp/"+c.Name, c.NamespacePath)
	require.Equal(t, filepath.Join(root, "data", "archives", "exp", c.Name), c.LocalPath)

	files := map[string]string{"0000A": "first", "0000B": "second file", "0000C": ""}
	addFiles(t, c, files)
	require.EqualValues(t, 16, c.Size())
	require.Equal(t, 3, c.Count())

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	fi, err := os.Stat(c.LocalPath)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o640), fi.Mode().Perm())

	for _, m := range []VerifyMode{VerifyFilelist, VerifyChecksum, VerifyOff} {
		require.True(t, c.Verify(ctx, m), m.String())
	}

	l, err := LocalSink{}.List(ctx, c.Artifact)
	require.NoError(t, err)
	require.Len(t, l.Entries, 3)
	require.Len(t, archive.ParseIndex(l.Index), 3)

	require.ErrorIs(t, c.Add(strings.NewReader("x"), "0000D", 1, "/data/exp/d"), archive.ErrClosed)

	require.NoError(t, c.Remove())
	_, err = os.Stat(c.LocalPath)
	require.ErrorIs(t, err, os.ErrNotExist)
	require.NoError(t, c.Remove())

	require.False(t, c.Verify(ctx, VerifyFilelist))
}

func TestUniqueNames(t *testing.T) {
	f, _ := newFactory(t)

	a, err := f.Create(context.Background(), "/data/archives")
	require.NoError(t, err)
	b, err := f.Create(context.Background(), "/data/archives")
	require.NoError(t, err)
	require.NotEqual(t, a.Name, b.Name)

	require.NoError(t, a.Remove())
	require.NoError(t, b.Remove())
}

func TestSourceFailure(t *testing.T) {
	f, _ := newFactory(t)
	ctx := context.Background()

	c, err := f.Create(ctx, "/data/archives")
	require.NoError(t, err)

	addFiles(t, c, map[string]string{"0000A": "content"})

	err = c.Add(brokenReader{}, "0000B", 10, "/data/exp/0000B")
	var srcErr *archive.SourceError
	require.ErrorAs(t, err, &srcErr)
	require.Equal(t, 1, c.Count())
	require.EqualValues(t, 7, c.Size())

	require.NoError(t, c.Close())

	// truncated entry stays in the archive and does not affect the others
	require.True(t, c.Verify(ctx, VerifyFilelist))

	l, err := LocalSink{}.List(ctx, c.Artifact)
	require.NoError(t, err)
	require.Len(t, l.Entries, 2)
	require.Len(t, archive.ParseIndex(l.Index), 1)

	require.NoError(t, c.Remove())
}

func TestVerifyNames(t *testing.T) {
	f, _ := newFactory(t)
	ctx := context.Background()

	c, err := f.Create(ctx, "/data/archives")
	require.NoError(t, err)

	addFiles(t, c, map[string]string{"0000A": "first", "0000B": "second"})
	require.NoError(t, c.Close())
	require.True(t, c.Verify(ctx, VerifyFilelist))

	// same number of entries under other names
	var buf bytes.Buffer
	w := archive.NewWriter(&buf)
	require.NoError(t, w.Add(strings.NewReader("first"), "0000A", 5, "/data/exp/0000A"))
	require.NoError(t, w.Add(strings.NewReader("second"), "0000X", 6, "/data/exp/0000X"))
	require.NoError(t, w.Close())
	require.NoError(t, os.WriteFile(c.LocalPath, buf.Bytes(), 0o640))

	require.False(t, c.Verify(ctx, VerifyFilelist))
	require.True(t, c.Verify(ctx, VerifyOff))

	require.NoError(t, c.Remove())
}

func TestStampOpenFile(t *testing.T) {
	f, _ := newFactory(t)
	f.Mode = 0o604

	c, err := f.Create(context.Background(), "/data/archives")
	require.NoError(t, err)
	_, ok := c.stream.(stamper)
	require.True(t, ok)

	addFiles(t, c, map[string]string{"0000A": "content"})
	require.NoError(t, c.Close())

	fi, err := os.Stat(c.LocalPath)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o604), fi.Mode().Perm())

	require.NoError(t, c.Remove())
}

func TestOwner(t *testing.T) {
	u, err := user.Current()
	if err != nil {
		t.Skip("current user is unknown:", err)
	}

	f, _ := newFactory(t)
	f.User = u.Username
	f.Owners = namespace.NewOwners()

	c, err := f.Create(context.Background(), "/data/archives")
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, c.Remove())

	f.Owners = nil
	c, err = f.Create(context.Background(), "/data/archives")
	require.NoError(t, err)
	require.Error(t, c.Close())
	require.NoError(t, c.Remove())
}

func TestDoorContainer(t *testing.T) {
	f, root := newFactory(t)
	ctx := context.Background()

	srv, err := dcaptest.New(root)
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	f.Sink = DoorSink{Door: srv.URL(), BufferSize: 1000, Options: []dcap.Option{dcap.WithChunkSize(100)}}
	f.Compression = archive.Zstd

	c, err := f.Create(ctx, "/data/archives")
	require.NoError(t, err)

	big := bytes.Repeat([]byte("0123456789"), 10_000)
	require.NoError(t, c.Add(bytes.NewReader(big), "0000A", uint64(len(big)), "/data/exp/big"))
	addFiles(t, c, map[string]string{"0000B": "small"})

	require.NoError(t, c.Close())
	require.Equal(t, []string{c.LocalPath}, srv.Opened())

	require.True(t, c.Verify(ctx, VerifyFilelist))

	// artifact is visible in the local mount
	fl, err := os.Open(c.LocalPath)
	require.NoError(t, err)
	defer fl.Close()
	fi, err := fl.Stat()
	require.NoError(t, err)

	l, err := archive.List(fl, fi.Size())
	require.NoError(t, err)
	require.Len(t, l.Entries, 2)

	rc, err := l.Open(0)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, big, got)

	require.NoError(t, c.Remove())
}

func TestDoorDenied(t *testing.T) {
	f, root := newFactory(t)

	srv, err := dcaptest.New(root)
	require.NoError(t, err)
	t.Cleanup(srv.Close)
	srv.DenyOpen("no-space")

	f.Sink = DoorSink{Door: srv.URL()}

	_, err = f.Create(context.Background(), "/data/archives")
	var openErr *dcap.OpenError
	require.ErrorAs(t, err, &openErr)
}
