// Package container manages the lifecycle of a single container archive:
// allocation of a unique artifact, streaming of files into it, sealing
// with ownership and permission stamping, verification and removal.
package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/nspcc-dev/smallfiles/pkg/archive"
	"github.com/nspcc-dev/smallfiles/pkg/namespace"
	"github.com/nspcc-dev/smallfiles/pkg/util"
	"go.uber.org/zap"
)

// Suffix is the file name suffix of container artifacts.
const Suffix = ".darc"

// Factory creates containers sharing the same settings.
type Factory struct {
	// Sink stores container bytes, LocalSink if nil.
	Sink Sink
	// Resolver maps namespace paths to the local mount.
	Resolver namespace.Resolver
	// Owners resolves User, required if User is set.
	Owners *namespace.Owners
	// User owning sealed artifacts. Empty value keeps the owner.
	User string
	// Mode is the permission bits of sealed artifacts. Zero value keeps
	// the permissions.
	Mode fs.FileMode
	// Compression of archive entries.
	Compression archive.Compression
	// Log is the logger, no-op if nil.
	Log *zap.Logger
}

// Container is an archive under construction. It is not safe for
// concurrent use.
type Container struct {
	Artifact

	f   *Factory
	log *zap.Logger

	stream io.WriteCloser
	w      *archive.Writer

	size   uint64
	count  int
	closed bool
}

// Create allocates new container in the namespace directory dir and
// opens it for writing.
func (f *Factory) Create(ctx context.Context, dir string) (*Container, error) {
	name := uuid.NewString() + Suffix
	nsPath := path.Join(dir, name)

	a := Artifact{
		Name:          name,
		NamespacePath: nsPath,
		LocalPath:     f.Resolver.LocalPath(nsPath),
	}

	if err := util.MkdirAllX(filepath.Dir(a.LocalPath), 0o755); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}

	sink := f.Sink
	if sink == nil {
		sink = LocalSink{}
	}

	stream, err := sink.Create(ctx, a)
	if err != nil {
		return nil, fmt.Errorf("create container %s: %w", a.NamespacePath, err)
	}

	log := f.Log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("container", a.NamespacePath))
	log.Debug("container created", zap.String("local", a.LocalPath))

	return &Container{
		Artifact: a,
		f:        f,
		log:      log,
		stream:   stream,
		w:        archive.NewWriter(stream, archive.WithCompression(f.Compression)),
	}, nil
}

// Add streams r into the container as an entry named id. Size and count
// are incremented only on success. Source failures are returned as
// *archive.SourceError, other errors mean the container is broken.
func (c *Container) Add(r io.Reader, id string, size uint64, nsPath string) error {
	if c.closed {
		return archive.ErrClosed
	}

	if err := c.w.Add(r, id, size, nsPath); err != nil {
		return err
	}

	c.size += size
	c.count++

	return nil
}

// Size returns the total size of added files.
func (c *Container) Size() uint64 {
	return c.size
}

// Count returns the number of added files.
func (c *Container) Count() int {
	return c.count
}

// Entries returns the added entries.
func (c *Container) Entries() []archive.Entry {
	return c.w.Entries()
}

// Close finalizes the archive, stamps ownership and permissions of the
// artifact and closes the sink stream. Repeated calls are no-op.
func (c *Container) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	err := c.w.Close()

	st, stampOpen := c.stream.(stamper)
	if err == nil && stampOpen {
		if err = c.stamp(st); err != nil {
			err = fmt.Errorf("stamp: %w", err)
		}
	}

	if sErr := c.stream.Close(); err == nil {
		err = sErr
	}
	if err != nil {
		return fmt.Errorf("close container %s: %w", c.NamespacePath, err)
	}

	if !stampOpen {
		if err := c.stamp(pathStamper(c.LocalPath)); err != nil {
			return fmt.Errorf("stamp container %s: %w", c.NamespacePath, err)
		}
	}

	if dropped := c.w.IndexDropped(); dropped > 0 {
		c.log.Info("archive index is incomplete", zap.Int("dropped", dropped))
	}

	c.log.Debug("container closed",
		zap.Int("files", c.count), zap.Uint64("size", c.size), zap.Uint64("written", c.w.Written()))

	return nil
}

// stamper changes ownership and permissions of an artifact. Negative uid
// keeps the owner, zero mode keeps the permissions.
type stamper interface {
	Stamp(uid, gid int, mode fs.FileMode) error
}

// pathStamper stamps artifacts written by other parties, e.g. by a door.
type pathStamper string

func (p pathStamper) Stamp(uid, gid int, mode fs.FileMode) error {
	if uid >= 0 {
		if err := os.Chown(string(p), uid, gid); err != nil {
			return err
		}
	}
	if mode != 0 {
		return os.Chmod(string(p), mode)
	}
	return nil
}

func (c *Container) stamp(st stamper) error {
	uid, gid := -1, -1

	if c.f.User != "" {
		if c.f.Owners == nil {
			return errors.New("owner resolver is not set")
		}

		own, err := c.f.Owners.Lookup(c.f.User)
		if err != nil {
			return err
		}
		uid, gid = own.UID, own.GID
	}

	if uid < 0 && c.f.Mode == 0 {
		return nil
	}

	return st.Stamp(uid, gid, c.f.Mode)
}

// Verify checks the sealed container. Verification errors are logged and
// reported as false.
func (c *Container) Verify(ctx context.Context, mode VerifyMode) bool {
	switch mode {
	case VerifyOff:
		return true
	case VerifyChecksum:
		c.log.Warn("checksum verification is unimplemented, container is accepted")
		return true
	case VerifyFilelist:
	default:
		c.log.Error("unknown verification mode", zap.Stringer("mode", mode))
		return false
	}

	sink := c.f.Sink
	if sink == nil {
		sink = LocalSink{}
	}

	l, err := sink.List(ctx, c.Artifact)
	if err != nil {
		c.log.Error("failed to read container back", zap.Error(err))
		return false
	}

	if len(l.Entries) != c.count+len(c.w.Failed()) {
		c.log.Error("container entry count mismatch",
			zap.Int("archived", len(l.Entries)), zap.Int("added", c.count), zap.Int("failed", len(c.w.Failed())))
		return false
	}

	// entries of failed sources are expected in the archive
	expected := make(map[string]int, len(l.Entries))
	for _, e := range c.w.Entries() {
		expected[e.Name]++
	}
	for _, name := range c.w.Failed() {
		expected[name]++
	}

	for _, e := range l.Entries {
		if expected[e.Name] == 0 {
			c.log.Error("unexpected container entry", zap.String("pnfsid", e.Name))
			return false
		}
		expected[e.Name]--
	}

	return true
}

// Remove closes the container if needed and deletes the artifact.
func (c *Container) Remove() error {
	if err := c.Close(); err != nil {
		c.log.Debug("close removed container", zap.Error(err))
	}

	if err := os.Remove(c.LocalPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove container %s: %w", c.NamespacePath, err)
	}

	c.log.Debug("container removed")

	return nil
}
