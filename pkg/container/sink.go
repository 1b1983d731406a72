package container

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/nspcc-dev/smallfiles/pkg/archive"
	"github.com/nspcc-dev/smallfiles/pkg/dcap"
	"golang.org/x/sys/unix"
)

// Artifact locates a container file.
type Artifact struct {
	// Name is the unique file name.
	Name string
	// LocalPath is the path in the local mount.
	LocalPath string
	// NamespacePath is the path in the storage namespace.
	NamespacePath string
}

// Sink stores container bytes.
type Sink interface {
	// Create opens new artifact for writing.
	Create(ctx context.Context, a Artifact) (io.WriteCloser, error)
	// List reads back entries of the written artifact. Entry payloads
	// are not readable through the returned listing.
	List(ctx context.Context, a Artifact) (*archive.Listing, error)
}

// LocalSink writes containers directly into the local mount.
type LocalSink struct{}

type localStream struct {
	*os.File
}

// Stamp changes ownership and permissions of the open file.
func (s localStream) Stamp(uid, gid int, mode fs.FileMode) error {
	fd := int(s.Fd())

	if uid >= 0 {
		if err := unix.Fchown(fd, uid, gid); err != nil {
			return fmt.Errorf("fchown %s: %w", s.Name(), err)
		}
	}
	if mode != 0 {
		if err := unix.Fchmod(fd, uint32(mode.Perm())); err != nil {
			return fmt.Errorf("fchmod %s: %w", s.Name(), err)
		}
	}

	return nil
}

func (s localStream) Close() error {
	if err := unix.Fsync(int(s.Fd())); err != nil {
		_ = s.File.Close()
		return fmt.Errorf("fsync %s: %w", s.Name(), err)
	}
	return s.File.Close()
}

// Create implements Sink.
func (LocalSink) Create(_ context.Context, a Artifact) (io.WriteCloser, error) {
	f, err := os.OpenFile(a.LocalPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, err
	}
	return localStream{f}, nil
}

// List implements Sink.
func (LocalSink) List(_ context.Context, a Artifact) (*archive.Listing, error) {
	f, err := os.Open(a.LocalPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}

	return archive.List(f, fi.Size())
}

// DoorSink streams containers through a DCAP door. Every container uses
// its own door connection.
type DoorSink struct {
	// Door is the door URL, see dcap.Dial.
	Door string
	// Options are passed to dcap.Dial.
	Options []dcap.Option
	// BufferSize is the size of write requests. Defaults to
	// dcap.DefaultChunkSize.
	BufferSize int
}

type doorStream struct {
	*bufio.Writer

	c *dcap.Client
	f *dcap.File
}

func (s *doorStream) Close() error {
	err := s.Flush()
	if cErr := s.f.Close(); err == nil {
		err = cErr
	}
	if cErr := s.c.Close(); err == nil {
		err = cErr
	}
	return err
}

func (s DoorSink) open(ctx context.Context, a Artifact, mode dcap.Mode) (*dcap.Client, *dcap.File, error) {
	c, err := dcap.Dial(ctx, s.Door, s.Options...)
	if err != nil {
		return nil, nil, err
	}

	f, err := c.Open(ctx, a.NamespacePath, mode)
	if err != nil {
		_ = c.Close()
		return nil, nil, err
	}

	return c, f, nil
}

// Create implements Sink.
func (s DoorSink) Create(ctx context.Context, a Artifact) (io.WriteCloser, error) {
	c, f, err := s.open(ctx, a, dcap.ModeWrite)
	if err != nil {
		return nil, err
	}

	sz := s.BufferSize
	if sz <= 0 {
		sz = dcap.DefaultChunkSize
	}

	return &doorStream{Writer: bufio.NewWriterSize(f, sz), c: c, f: f}, nil
}

// List implements Sink. The archive is read back through the door.
func (s DoorSink) List(ctx context.Context, a Artifact) (*archive.Listing, error) {
	c, f, err := s.open(ctx, a, dcap.ModeRead)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
		_ = c.Close()
	}()

	size, err := f.Seek(0, dcap.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("get size: %w", err)
	}

	return archive.List(f, size)
}
