package dcap

import (
	"bufio"
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nspcc-dev/smallfiles/pkg/dcap/dcaptest"
	"github.com/stretchr/testify/require"
)

func newDoor(t *testing.T) (*dcaptest.Server, string) {
	dir := t.TempDir()
	srv, err := dcaptest.New(dir)
	require.NoError(t, err)
	t.Cleanup(srv.Close)
	return srv, dir
}

func dial(t *testing.T, srv *dcaptest.Server, opts ...Option) *Client {
	c, err := Dial(context.Background(), srv.URL(), append([]Option{WithIOTimeout(10 * time.Second)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func randomBytes(t *testing.T, n int) []byte {
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func TestParseDoor(t *testing.T) {
	addr, root, err := ParseDoor("dcap://door.example.org/pnfs/example.org/data/")
	require.NoError(t, err)
	require.Equal(t, "door.example.org:22125", addr)
	require.Equal(t, "pnfs/example.org/data", root)

	addr, root, err = ParseDoor("dcap://127.0.0.1:2000")
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:2000", addr)
	require.Empty(t, root)

	_, _, err = ParseDoor("http://door/")
	require.Error(t, err)

	_, _, err = ParseDoor("dcap:///data")
	require.Error(t, err)
}

func TestRoundTrip(t *testing.T) {
	srv, dir := newDoor(t)
	c := dial(t, srv)
	ctx := context.Background()

	for _, tc := range []struct {
		name string
		size int
	}{
		{"empty", 0},
		{"one byte", 1},
		{"frame", DefaultChunkSize},
		{"frame and byte", DefaultChunkSize + 1},
		{"several frames", 3*DefaultChunkSize + 17},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var (
				data = randomBytes(t, tc.size)
				name = fmt.Sprintf("file%d", tc.size)
			)

			f, err := c.Open(ctx, name, ModeWrite)
			require.NoError(t, err)
			n, err := f.ReadFrom(bytes.NewReader(data))
			require.NoError(t, err)
			require.EqualValues(t, tc.size, n)
			require.NoError(t, f.Close())

			stored, err := os.ReadFile(filepath.Join(dir, name))
			require.NoError(t, err)
			require.True(t, bytes.Equal(data, stored))

			f, err = c.Open(ctx, name, ModeRead)
			require.NoError(t, err)
			got, err := io.ReadAll(f)
			require.NoError(t, err)
			require.NoError(t, f.Close())
			require.True(t, bytes.Equal(data, got))
		})
	}
}

func TestSmallChunks(t *testing.T) {
	srv, dir := newDoor(t)
	c := dial(t, srv, WithChunkSize(10))

	data := randomBytes(t, 1001)

	f, err := c.Open(context.Background(), "file", ModeWrite)
	require.NoError(t, err)
	n, err := f.Write(data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.NoError(t, f.Close())

	stored, err := os.ReadFile(filepath.Join(dir, "file"))
	require.NoError(t, err)
	require.Equal(t, data, stored)
}

func writeRemote(t *testing.T, dir, name string, data []byte) {
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
}

func TestReadv(t *testing.T) {
	srv, dir := newDoor(t)
	c := dial(t, srv)

	data := randomBytes(t, 100_000)
	writeRemote(t, dir, "ref", data)

	f, err := c.Open(context.Background(), "ref", ModeRead)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	vecs := []IOVec{
		{Offset: 0, Length: 10},
		{Offset: 5000, Length: 70_000},
		{Offset: 99_990, Length: 10},
	}

	var exp []byte
	for _, v := range vecs {
		exp = append(exp, data[v.Offset:v.Offset+uint64(v.Length)]...)
	}

	got, err := f.Readv(vecs)
	require.NoError(t, err)
	require.Equal(t, exp, got)

	t.Run("past the end", func(t *testing.T) {
		got, err := f.Readv([]IOVec{{Offset: 99_995, Length: 10}})
		require.ErrorIs(t, err, io.ErrUnexpectedEOF)
		require.Equal(t, data[99_995:], got)

		// data channel is still usable
		got, err = f.Readv([]IOVec{{Offset: 1, Length: 2}})
		require.NoError(t, err)
		require.Equal(t, data[1:3], got)
	})

	t.Run("reader at", func(t *testing.T) {
		sr := io.NewSectionReader(f, 0, int64(len(data)))
		got, err := io.ReadAll(sr)
		require.NoError(t, err)
		require.Equal(t, data, got)

		buf := make([]byte, 10)
		n, err := f.ReadAt(buf, int64(len(data))-4)
		require.ErrorIs(t, err, io.EOF)
		require.Equal(t, 4, n)
		require.Equal(t, data[len(data)-4:], buf[:n])
	})
}

func TestSeek(t *testing.T) {
	srv, dir := newDoor(t)
	c := dial(t, srv)

	data := randomBytes(t, 1000)
	writeRemote(t, dir, "ref", data)

	f, err := c.Open(context.Background(), "ref", ModeRead)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	off, err := f.Seek(10, SeekSet)
	require.NoError(t, err)
	require.EqualValues(t, 10, off)

	buf := make([]byte, 5)
	_, err = io.ReadFull(f, buf)
	require.NoError(t, err)
	require.Equal(t, data[10:15], buf)

	off, err = f.Tell()
	require.NoError(t, err)
	require.EqualValues(t, 15, off)

	off, err = f.Seek(5, SeekCur)
	require.NoError(t, err)
	require.EqualValues(t, 20, off)

	off, err = f.Seek(-5, SeekEnd)
	require.NoError(t, err)
	require.EqualValues(t, 995, off)

	rest, err := io.ReadAll(f)
	require.NoError(t, err)
	require.Equal(t, data[995:], rest)

	_, err = f.Seek(-5000, SeekSet)
	var ackErr *AckError
	require.ErrorAs(t, err, &ackErr)

	_, err = f.Seek(0, 7)
	require.Error(t, err)
}

func TestOpenErrors(t *testing.T) {
	srv, _ := newDoor(t)
	c := dial(t, srv)
	ctx := context.Background()

	var openErr *OpenError

	_, err := c.Open(ctx, "missing", ModeRead)
	require.ErrorAs(t, err, &openErr)
	require.Equal(t, "missing", openErr.Path)

	srv.DenyOpen(`"permission denied"`)
	_, err = c.Open(ctx, "file", ModeWrite)
	require.ErrorAs(t, err, &openErr)
	require.Contains(t, openErr.Detail, "permission denied")

	srv.DenyOpen("")
	f, err := c.Open(ctx, "file", ModeWrite)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.Len(t, srv.Opened(), 1)
}

func TestAckError(t *testing.T) {
	srv, _ := newDoor(t)
	c := dial(t, srv)

	f, err := c.Open(context.Background(), "file", ModeWrite)
	require.NoError(t, err)

	srv.FailNext(dcaptest.OpWrite, "no space left")
	_, err = f.Write([]byte("data"))

	var ackErr *AckError
	require.ErrorAs(t, err, &ackErr)
	require.Equal(t, "no space left", ackErr.Message)
	require.NoError(t, f.Close())

	_, err = f.Write([]byte("data"))
	require.ErrorIs(t, err, ErrClosed)
}

func TestRename(t *testing.T) {
	srv, dir := newDoor(t)
	c := dial(t, srv)

	writeRemote(t, dir, "a", []byte("content"))
	require.NoError(t, c.Rename(context.Background(), "a", "/b"))

	got, err := os.ReadFile(filepath.Join(dir, "b"))
	require.NoError(t, err)
	require.Equal(t, []byte("content"), got)

	var ctrlErr *ControlError
	require.ErrorAs(t, c.Rename(context.Background(), "a", "/c"), &ctrlErr)
}

func TestConnectionBroken(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		// consume hello and hang up
		_, _ = bufio.NewReader(conn).ReadString('\n')
		_ = conn.Close()
	}()

	_, err = Dial(context.Background(), "dcap://"+l.Addr().String()+"/")
	require.ErrorIs(t, err, ErrConnectionBroken)
}

func TestContextCancel(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		// never reply
		_, _ = io.Copy(io.Discard, conn)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err = Dial(ctx, "dcap://"+l.Addr().String()+"/")
	require.Error(t, err)

	var netErr net.Error
	require.True(t, errors.As(err, &netErr) && netErr.Timeout())
}
