package dcap

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"

	"go.uber.org/zap"
)

// IOVec is a single range of a vectored read.
type IOVec struct {
	Offset uint64
	Length uint32
}

// File is an open remote file. Its methods must not be called
// concurrently. Close confirmation is read from the control channel, so
// a Client must not have other exchanges in flight while a File is being
// closed.
type File struct {
	c       *Client
	conn    net.Conn
	r       *bufio.Reader
	session uint32
	path    string

	pos    int64
	wbuf   []byte
	closed bool
}

func newFile(c *Client, conn net.Conn, session uint32, p string) *File {
	return &File{
		c:       c,
		conn:    conn,
		r:       bufio.NewReaderSize(conn, 64<<10),
		session: session,
		path:    p,
		wbuf:    make([]byte, 4+c.chunkSize),
	}
}

// Path returns path the file was opened with.
func (f *File) Path() string {
	return f.path
}

func (f *File) begin() func() {
	return deadline(context.Background(), f.conn, f.c.ioTimeout)
}

// request writes fixed-size big-endian fields as a single message.
func (f *File) request(fields ...any) error {
	buf := make([]byte, 0, 24)
	for i := range fields {
		switch v := fields[i].(type) {
		case uint32:
			buf = binary.BigEndian.AppendUint32(buf, v)
		case uint64:
			buf = binary.BigEndian.AppendUint64(buf, v)
		case int64:
			buf = binary.BigEndian.AppendUint64(buf, uint64(v))
		default:
			panic(fmt.Sprintf("unsupported request field type %T", v))
		}
	}

	if _, err := f.conn.Write(buf); err != nil {
		return broken(err)
	}
	return nil
}

func (f *File) readUint32() (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(f.r, b[:]); err != nil {
		return 0, broken(err)
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

// ack reads acknowledgement frame of op and returns the payload following
// the result code.
func (f *File) ack(op uint32) ([]byte, error) {
	n, err := f.readUint32()
	if err != nil {
		return nil, err
	}
	if n < 12 {
		return nil, fmt.Errorf("%w: short acknowledgement of %s (%d bytes)", ErrProtocol, opName(op), n)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(f.r, payload); err != nil {
		return nil, broken(err)
	}

	if kind := binary.BigEndian.Uint32(payload); kind != opAck {
		return nil, fmt.Errorf("%w: unexpected reply %d instead of acknowledgement", ErrProtocol, kind)
	}
	if cmd := binary.BigEndian.Uint32(payload[4:]); cmd != op {
		return nil, fmt.Errorf("%w: acknowledgement of %s instead of %s", ErrProtocol, opName(cmd), opName(op))
	}
	if res := int32(binary.BigEndian.Uint32(payload[8:])); res != 0 {
		return nil, &AckError{Op: op, Result: res, Message: string(payload[12:])}
	}

	return payload[12:], nil
}

// Write sends p as a single write request split into data frames.
func (f *File) Write(p []byte) (int, error) {
	if f.closed {
		return 0, errClosed(f.path)
	}

	done := f.begin()
	defer done()

	if err := f.request(uint32(4), opWrite); err != nil {
		return 0, err
	}
	if _, err := f.ack(opWrite); err != nil {
		return 0, err
	}
	if err := f.request(uint32(4), opData); err != nil {
		return 0, err
	}

	var written int
	for written < len(p) {
		n := copy(f.wbuf[4:], p[written:])
		binary.BigEndian.PutUint32(f.wbuf, uint32(n))
		if _, err := f.conn.Write(f.wbuf[:4+n]); err != nil {
			return written, broken(err)
		}
		written += n
	}

	if err := f.request(endOfData); err != nil {
		return written, err
	}
	if _, err := f.ack(opWrite); err != nil {
		return written, err
	}

	f.pos += int64(written)
	return written, nil
}

// ReadFrom implements io.ReaderFrom. Source is sent in chunk-sized write
// requests.
func (f *File) ReadFrom(r io.Reader) (int64, error) {
	buf := make([]byte, f.c.chunkSize)

	var total int64
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if _, wErr := f.Write(buf[:n]); wErr != nil {
				return total, wErr
			}
			total += int64(n)
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return total, nil
			}
			return total, err
		}
	}
}

// readFrames reads data frames into p until end of data or until want
// bytes are read.
func (f *File) readFrames(p []byte, want int) (int, error) {
	var total int
	for total < want {
		n, err := f.readUint32()
		if err != nil {
			return total, err
		}
		if n == endOfData {
			return total, io.EOF
		}
		if int(n) > len(p)-total {
			return total, fmt.Errorf("%w: data frame of %d bytes exceeds requested size", ErrProtocol, n)
		}
		if _, err := io.ReadFull(f.r, p[total:total+int(n)]); err != nil {
			return total, broken(err)
		}
		total += int(n)
	}
	return total, nil
}

// Read reads up to len(p) bytes from the current position. io.EOF is
// returned at the end of the file.
func (f *File) Read(p []byte) (int, error) {
	if f.closed {
		return 0, errClosed(f.path)
	}
	if len(p) == 0 {
		return 0, nil
	}

	done := f.begin()
	defer done()

	if err := f.request(uint32(12), opRead, int64(len(p))); err != nil {
		return 0, err
	}
	if _, err := f.ack(opRead); err != nil {
		return 0, err
	}

	// data header: length and DATA opcode
	var hdr [8]byte
	if _, err := io.ReadFull(f.r, hdr[:]); err != nil {
		return 0, broken(err)
	}
	if op := binary.BigEndian.Uint32(hdr[4:]); op != opData {
		return 0, fmt.Errorf("%w: unexpected data header opcode %d", ErrProtocol, op)
	}

	n, err := f.readFrames(p, len(p))
	if err == nil {
		// whole request is served, sentinel follows
		var eod uint32
		eod, err = f.readUint32()
		if err == nil && eod != endOfData {
			err = fmt.Errorf("%w: missing end of data", ErrProtocol)
		}
	} else if errors.Is(err, io.EOF) {
		err = nil
	}
	if err != nil {
		return n, err
	}

	if _, err := f.ack(opRead); err != nil {
		return n, err
	}

	f.pos += int64(n)
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Readv performs vectored read of the given ranges and returns their
// concatenation. If the file ends before all ranges are served, the
// returned data is short and io.ErrUnexpectedEOF is returned.
func (f *File) Readv(vecs []IOVec) ([]byte, error) {
	if f.closed {
		return nil, errClosed(f.path)
	}

	done := f.begin()
	defer done()

	if err := f.request(uint32(8+len(vecs)*12), opReadv, uint32(len(vecs))); err != nil {
		return nil, err
	}

	var total int
	for i := range vecs {
		total += int(vecs[i].Length)
		if err := f.request(vecs[i].Offset, vecs[i].Length); err != nil {
			return nil, err
		}
		if _, err := f.ack(opReadv); err != nil {
			return nil, err
		}
	}

	buf := make([]byte, total)
	n, err := f.readFrames(buf, total)
	short := errors.Is(err, io.EOF)
	if err != nil && !short {
		return nil, err
	}

	if _, err := f.ack(opReadv); err != nil {
		return nil, err
	}

	if short {
		return buf[:n], io.ErrUnexpectedEOF
	}
	return buf, nil
}

// ReadAt implements io.ReaderAt with a single range vectored read.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("negative offset")
	}
	if len(p) == 0 {
		return 0, nil
	}

	var n int
	for n < len(p) {
		l := len(p) - n
		if l > f.c.chunkSize {
			l = f.c.chunkSize
		}

		data, err := f.Readv([]IOVec{{Offset: uint64(off) + uint64(n), Length: uint32(l)}})
		n += copy(p[n:], data)
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return n, io.EOF
			}
			return n, err
		}
	}

	return n, nil
}

// Seek implements io.Seeker.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	if f.closed {
		return 0, errClosed(f.path)
	}

	switch whence {
	case SeekSet, SeekCur, SeekEnd:
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}

	done := f.begin()
	defer done()

	if err := f.request(uint32(16), opSeek, offset, uint32(whence)); err != nil {
		return 0, err
	}

	rest, err := f.ack(opSeek)
	if err != nil {
		return 0, err
	}
	if len(rest) < 8 {
		return 0, fmt.Errorf("%w: missing offset in seek acknowledgement", ErrProtocol)
	}

	f.pos = int64(binary.BigEndian.Uint64(rest))
	return f.pos, nil
}

// Tell returns the current position as reported by the door.
func (f *File) Tell() (int64, error) {
	return f.Seek(0, SeekCur)
}

// Close closes the data session and waits for the door to confirm it on
// the control channel.
func (f *File) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true

	defer f.conn.Close()

	done := f.begin()
	err := f.request(uint32(4), opClose)
	if err == nil {
		_, err = f.ack(opClose)
	}
	done()
	if err != nil {
		return fmt.Errorf("close %s: %w", f.path, err)
	}

	if err := f.c.closeConfirmation(context.Background()); err != nil {
		return fmt.Errorf("close %s: %w", f.path, err)
	}

	f.c.log.Debug("closed remote file",
		zap.String("path", f.path), zap.Uint32("session", f.session), zap.Int64("position", f.pos))

	return nil
}

// ErrClosed is returned on operations with a closed File.
var ErrClosed = errors.New("file already closed")

func errClosed(p string) error {
	return fmt.Errorf("%s: %w", p, ErrClosed)
}
