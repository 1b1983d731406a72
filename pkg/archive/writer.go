package archive

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
)

// Writer streams entries into a container archive. Entry payloads are
// followed by data descriptors carrying checksum and 64-bit sizes, so the
// sink needs to support sequential writes only.
type Writer struct {
	sink *countingWriter
	zw   *zip.Writer

	method  uint16
	entries []Entry
	failed  []string

	index   strings.Builder
	dropped int
	closed  bool
}

// Option is a Writer option.
type Option func(*Writer)

// WithCompression sets entry compression.
func WithCompression(c Compression) Option {
	return func(w *Writer) {
		w.method = c.method()
	}
}

// NewWriter returns Writer streaming archive bytes to w. Close must be
// called to write the central directory, w is not closed by the Writer.
func NewWriter(w io.Writer, opts ...Option) *Writer {
	res := &Writer{
		sink:   &countingWriter{w: w},
		method: zip.Store,
	}

	for i := range opts {
		opts[i](res)
	}

	res.zw = zip.NewWriter(res.sink)
	if res.method == zstd.ZipMethodWinZip {
		res.zw.RegisterCompressor(zstd.ZipMethodWinZip, zstd.ZipCompressor(zstd.WithEncoderConcurrency(1)))
	}

	return res
}

type countingWriter struct {
	w io.Writer
	n uint64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += uint64(n)
	return n, err
}

type sourceReader struct {
	r   io.Reader
	err error
}

func (s *sourceReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		s.err = err
	}
	return n, err
}

// Add streams r into a new entry named name. Size is the expected length
// of the source. It is used only in the index, the archive keeps the
// number of bytes actually read. origPath is recorded in the index.
//
// Failures of r are returned as *SourceError, any other error means the
// sink is broken and the archive must be dropped.
func (w *Writer) Add(r io.Reader, name string, size uint64, origPath string) error {
	if w.closed {
		return ErrClosed
	}

	hdr := &zip.FileHeader{
		Name:     name,
		Method:   w.method,
		Modified: time.Now(),
	}
	hdr.SetMode(0o644)

	ew, err := w.zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("create entry %s: %w", name, err)
	}

	src := &sourceReader{r: r}
	n, err := io.Copy(ew, src)
	if err != nil {
		if src.err != nil {
			// the entry stays in the central directory
			w.failed = append(w.failed, name)
			return &SourceError{Name: name, Err: src.err}
		}
		return fmt.Errorf("write entry %s: %w", name, err)
	}

	w.entries = append(w.entries, Entry{Name: name, Size: uint64(n), Path: origPath})
	w.addIndex(name, size, origPath)

	return nil
}

func (w *Writer) addIndex(name string, size uint64, origPath string) {
	line := fmt.Sprintf("%s:%15d %s\n", name, size, origPath)
	if w.dropped > 0 || w.index.Len()+len(line) > MaxCommentSize {
		w.dropped++
		return
	}
	w.index.WriteString(line)
}

// Entries returns successfully added entries in the order of addition.
func (w *Writer) Entries() []Entry {
	return w.entries
}

// Failed returns names of entries whose source failed. Such entries are
// present in the archive with truncated payloads.
func (w *Writer) Failed() []string {
	return w.failed
}

// Written returns the number of bytes written to the sink so far.
func (w *Writer) Written() uint64 {
	return w.sink.n
}

// IndexDropped returns the number of index lines which did not fit into
// the archive comment.
func (w *Writer) IndexDropped() int {
	return w.dropped
}

// Close writes the index and the central directory. Underlying writer
// is left open.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.zw.SetComment(w.index.String()); err != nil {
		return fmt.Errorf("set index: %w", err)
	}

	if err := w.zw.Close(); err != nil {
		return fmt.Errorf("write central directory: %w", err)
	}

	return nil
}
