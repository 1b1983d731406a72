package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type failingReader struct {
	data []byte
	err  error
}

func (f *failingReader) Read(p []byte) (int, error) {
	if len(f.data) == 0 {
		return 0, f.err
	}
	n := copy(p, f.data)
	f.data = f.data[n:]
	return n, nil
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("disk is on fire")
}

func TestParseCompression(t *testing.T) {
	for s, exp := range map[string]Compression{
		"":        Store,
		"none":    Store,
		"deflate": Deflate,
		"ZSTD":    Zstd,
	} {
		c, err := ParseCompression(s)
		require.NoError(t, err)
		require.Equal(t, exp, c)
	}

	_, err := ParseCompression("lz4")
	require.Error(t, err)
}

func TestWriteList(t *testing.T) {
	files := []struct {
		name, path string
		data       []byte
	}{
		{"0000A", "/data/exp/a.root", []byte("first file")},
		{"0000B", "/data/exp/b.root", bytes.Repeat([]byte("compressible "), 10_000)},
		{"0000C", "/data/exp/empty", nil},
	}

	for _, c := range []Compression{Store, Deflate, Zstd} {
		t.Run(c.String(), func(t *testing.T) {
			var buf bytes.Buffer
			w := NewWriter(&buf, WithCompression(c))

			for _, f := range files {
				require.NoError(t, w.Add(bytes.NewReader(f.data), f.name, uint64(len(f.data)), f.path))
			}
			require.Len(t, w.Entries(), len(files))
			require.NoError(t, w.Close())
			require.EqualValues(t, buf.Len(), w.Written())

			require.ErrorIs(t, w.Add(bytes.NewReader(nil), "x", 0, "/x"), ErrClosed)

			l, err := List(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
			require.NoError(t, err)
			require.Len(t, l.Entries, len(files))

			for i, f := range files {
				require.Equal(t, f.name, l.Entries[i].Name)
				require.EqualValues(t, len(f.data), l.Entries[i].Size)

				rc, err := l.Open(i)
				require.NoError(t, err)
				got, err := io.ReadAll(rc)
				require.NoError(t, err)
				require.NoError(t, rc.Close())
				require.Equal(t, len(f.data), len(got))
				require.True(t, bytes.Equal(f.data, got))
			}

			idx := ParseIndex(l.Index)
			require.Len(t, idx, len(files))
			for i, f := range files {
				require.Equal(t, IndexRecord{Name: f.name, Size: uint64(len(f.data)), Path: f.path}, idx[i])
			}
		})
	}
}

func TestIndexFormat(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.Add(strings.NewReader("abc"), "0000A", 3, "/data/file with spaces"))
	require.NoError(t, w.Close())

	l, err := List(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	require.Equal(t, "0000A:              3 /data/file with spaces\n", l.Index)
	require.Equal(t, []IndexRecord{{Name: "0000A", Size: 3, Path: "/data/file with spaces"}}, ParseIndex(l.Index))
}

func TestIndexLimit(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	longPath := "/data/" + strings.Repeat("d", 1000)
	for i := 0; i < 100; i++ {
		require.NoError(t, w.Add(strings.NewReader("x"), fmt.Sprintf("%08d", i), 1, longPath))
	}
	require.NoError(t, w.Close())
	require.Positive(t, w.IndexDropped())

	l, err := List(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	require.Len(t, l.Entries, 100)
	require.LessOrEqual(t, len(l.Index), MaxCommentSize)
	require.Len(t, ParseIndex(l.Index), 100-w.IndexDropped())
}

func TestSourceError(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	require.NoError(t, w.Add(strings.NewReader("good"), "0000A", 4, "/data/a"))

	errRead := errors.New("stale file handle")
	err := w.Add(&failingReader{data: []byte("partial"), err: errRead}, "0000B", 100, "/data/b")

	var srcErr *SourceError
	require.ErrorAs(t, err, &srcErr)
	require.Equal(t, "0000B", srcErr.Name)
	require.ErrorIs(t, err, errRead)

	require.NoError(t, w.Add(strings.NewReader("also good"), "0000C", 9, "/data/c"))
	require.NoError(t, w.Close())

	require.Len(t, w.Entries(), 2)
	require.Equal(t, []string{"0000B"}, w.Failed())

	// truncated entry is still present in the archive
	l, err := List(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	require.Len(t, l.Entries, 3)
	require.Len(t, ParseIndex(l.Index), 2)
}

func TestSinkError(t *testing.T) {
	w := NewWriter(failingWriter{})

	err := w.Add(bytes.NewReader(bytes.Repeat([]byte{1}, 1<<20)), "0000A", 1<<20, "/data/a")
	require.Error(t, err)

	var srcErr *SourceError
	require.False(t, errors.As(err, &srcErr))
}
