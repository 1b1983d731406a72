// Package dcaptest provides an in-process DCAP door serving files of a
// local directory. It speaks the same control and data channel protocol
// as the dcap client and is meant for tests and local experiments.
package dcaptest

import (
	"bufio"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Data channel opcodes.
const (
	OpWrite uint32 = 1
	OpRead  uint32 = 2
	OpSeek  uint32 = 3
	OpClose uint32 = 4
	OpAck   uint32 = 6
	OpData  uint32 = 8
	OpReadv uint32 = 13
)

const (
	endOfData uint32 = 0xFFFFFFFF

	frameSize = 64 << 10
)

// Server is a fake DCAP door.
type Server struct {
	root string

	control net.Listener
	data    net.Listener

	wg sync.WaitGroup

	mu       sync.Mutex
	deny     string
	pending  map[uint32]*session
	opened   []string
	conns    map[net.Conn]struct{}
	closed   bool
	failNext map[uint32]string
}

type controlConn struct {
	mu sync.Mutex
	w  io.Writer
}

func (c *controlConn) reply(seq string, msg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.w, "%s 0 server %s\n", seq, msg)
	return err
}

type session struct {
	id        uint32
	challenge string
	file      *os.File
	ctrl      *controlConn
}

// New starts Server on a random loopback port serving files under root.
func New(root string) (*Server, error) {
	control, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	data, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		_ = control.Close()
		return nil, err
	}

	s := &Server{
		root:     root,
		control:  control,
		data:     data,
		pending:  make(map[uint32]*session),
		conns:    make(map[net.Conn]struct{}),
		failNext: make(map[uint32]string),
	}

	s.wg.Add(2)
	go s.serve(control, s.handleControl)
	go s.serve(data, s.handleData)

	return s, nil
}

// URL returns door URL with empty root.
func (s *Server) URL() string {
	return "dcap://" + s.control.Addr().String() + "/"
}

// DenyOpen makes the door reject every subsequent open with the given
// reason. Empty reason allows opens again.
func (s *Server) DenyOpen(reason string) {
	s.mu.Lock()
	s.deny = reason
	s.mu.Unlock()
}

// FailNext makes the door fail the next data channel request of the
// given opcode with the message.
func (s *Server) FailNext(op uint32, msg string) {
	s.mu.Lock()
	s.failNext[op] = msg
	s.mu.Unlock()
}

// Opened returns paths of all successfully opened files in open order.
func (s *Server) Opened() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.opened...)
}

// Close stops the door and breaks all connections.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	for c := range s.conns {
		_ = c.Close()
	}
	for _, sess := range s.pending {
		_ = sess.file.Close()
	}
	s.mu.Unlock()

	_ = s.control.Close()
	_ = s.data.Close()
	s.wg.Wait()
}

func (s *Server) serve(l net.Listener, handle func(net.Conn)) {
	defer s.wg.Done()

	for {
		conn, err := l.Accept()
		if err != nil {
			return
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.conns, conn)
				s.mu.Unlock()
				_ = conn.Close()
			}()
			handle(conn)
		}()
	}
}

func (s *Server) localPath(u string) (string, error) {
	parsed, err := url.Parse(u)
	if err != nil {
		return "", err
	}
	return s.localName(parsed.Path), nil
}

func (s *Server) localName(p string) string {
	return filepath.Join(s.root, filepath.FromSlash(filepath.Clean("/"+p)))
}

func (s *Server) handleControl(conn net.Conn) {
	var (
		r    = bufio.NewReader(conn)
		ctrl = &controlConn{w: conn}
	)

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}

		f := strings.Fields(line)
		if len(f) < 4 {
			return
		}
		seq := f[0]

		switch f[3] {
		case "hello":
			err = ctrl.reply(seq, "welcome 0 0")
		case "open":
			err = s.open(ctrl, f)
		case "rename":
			err = s.rename(ctrl, f)
		case "byebye":
			_ = ctrl.reply(seq, "byebye")
			return
		default:
			err = ctrl.reply(seq, "failed 1 \"unsupported command\"")
		}
		if err != nil {
			return
		}
	}
}

func (s *Server) open(ctrl *controlConn, f []string) error {
	seq := f[0]
	if len(f) < 6 {
		return ctrl.reply(seq, "failed 1 \"malformed open\"")
	}

	s.mu.Lock()
	deny := s.deny
	s.mu.Unlock()
	if deny != "" {
		return ctrl.reply(seq, "failed 13 "+deny)
	}

	p, err := s.localPath(f[4])
	if err != nil {
		return ctrl.reply(seq, "failed 1 \"malformed URL\"")
	}

	var file *os.File
	switch f[5] {
	case "r":
		file, err = os.Open(p)
	case "w":
		file, err = os.OpenFile(p, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	default:
		err = fmt.Errorf("unsupported mode %q", f[5])
	}
	if err != nil {
		return ctrl.reply(seq, "failed 2 \""+err.Error()+"\"")
	}

	var id uint32
	_, _ = fmt.Sscan(seq, &id)

	var b [8]byte
	_, _ = rand.Read(b[:])

	sess := &session{
		id:        id,
		challenge: hex.EncodeToString(b[:]),
		file:      file,
		ctrl:      ctrl,
	}

	host, port, _ := net.SplitHostPort(s.data.Addr().String())

	s.mu.Lock()
	s.pending[id] = sess
	s.opened = append(s.opened, p)
	s.mu.Unlock()

	return ctrl.reply(seq, fmt.Sprintf("connect %s %s %s", host, port, sess.challenge))
}

func (s *Server) rename(ctrl *controlConn, f []string) error {
	seq := f[0]
	if len(f) < 6 {
		return ctrl.reply(seq, "failed 1 \"malformed rename\"")
	}

	src, err := s.localPath(f[4])
	if err != nil {
		return ctrl.reply(seq, "failed 1 \"malformed URL\"")
	}

	if err := os.Rename(src, s.localName(f[5])); err != nil {
		return ctrl.reply(seq, "failed 2 \""+err.Error()+"\"")
	}
	return ctrl.reply(seq, "ok")
}

func (s *Server) handleData(conn net.Conn) {
	r := bufio.NewReader(conn)

	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return
	}

	id := binary.BigEndian.Uint32(hdr[:])
	challenge := make([]byte, binary.BigEndian.Uint32(hdr[4:]))
	if _, err := io.ReadFull(r, challenge); err != nil {
		return
	}

	s.mu.Lock()
	sess, ok := s.pending[id]
	if ok && sess.challenge == string(challenge) {
		delete(s.pending, id)
	} else {
		ok = false
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	d := &dataConn{s: s, sess: sess, r: r, w: conn}
	defer sess.file.Close()

	for {
		if err := d.serveRequest(); err != nil {
			return
		}
	}
}

type dataConn struct {
	s    *Server
	sess *session
	r    *bufio.Reader
	w    io.Writer
}

var errSessionClosed = errors.New("session closed")

func (d *dataConn) uint32() (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(d.r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func (d *dataConn) ack(op uint32, result int32, extra []byte) error {
	buf := binary.BigEndian.AppendUint32(nil, uint32(12+len(extra)))
	buf = binary.BigEndian.AppendUint32(buf, OpAck)
	buf = binary.BigEndian.AppendUint32(buf, op)
	buf = binary.BigEndian.AppendUint32(buf, uint32(result))
	buf = append(buf, extra...)
	_, err := d.w.Write(buf)
	return err
}

// failure returns injected failure message for op if any.
func (d *dataConn) failure(op uint32) (string, bool) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	msg, ok := d.s.failNext[op]
	if ok {
		delete(d.s.failNext, op)
	}
	return msg, ok
}

func (d *dataConn) sendFrames(data []byte) error {
	for len(data) > 0 {
		n := min(len(data), frameSize)
		buf := binary.BigEndian.AppendUint32(make([]byte, 0, 4+n), uint32(n))
		buf = append(buf, data[:n]...)
		if _, err := d.w.Write(buf); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

func (d *dataConn) serveRequest() error {
	size, err := d.uint32()
	if err != nil {
		return err
	}
	if size < 4 {
		return fmt.Errorf("short request of %d bytes", size)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(d.r, body); err != nil {
		return err
	}

	op := binary.BigEndian.Uint32(body)
	if msg, ok := d.failure(op); ok {
		return d.ack(op, -1, []byte(msg))
	}

	switch op {
	case OpWrite:
		return d.write()
	case OpRead:
		if len(body) < 12 {
			return fmt.Errorf("short read request")
		}
		return d.read(int64(binary.BigEndian.Uint64(body[4:])))
	case OpSeek:
		if len(body) < 16 {
			return fmt.Errorf("short seek request")
		}
		return d.seek(int64(binary.BigEndian.Uint64(body[4:])), int(binary.BigEndian.Uint32(body[12:])))
	case OpReadv:
		if len(body) < 8 {
			return fmt.Errorf("short readv request")
		}
		return d.readv(binary.BigEndian.Uint32(body[4:]))
	case OpClose:
		cErr := d.sess.file.Close()
		if err := d.ack(OpClose, 0, nil); err != nil {
			return err
		}
		if cErr != nil {
			_ = d.sess.ctrl.reply(fmt.Sprint(d.sess.id), "failed 5 \""+cErr.Error()+"\"")
		} else {
			_ = d.sess.ctrl.reply(fmt.Sprint(d.sess.id), "ok")
		}
		return errSessionClosed
	default:
		return d.ack(op, -1, []byte("unsupported request"))
	}
}

func (d *dataConn) write() error {
	if err := d.ack(OpWrite, 0, nil); err != nil {
		return err
	}

	// data header: length and DATA opcode
	var hdr [8]byte
	if _, err := io.ReadFull(d.r, hdr[:]); err != nil {
		return err
	}

	var wErr error
	for {
		n, err := d.uint32()
		if err != nil {
			return err
		}
		if n == endOfData {
			break
		}

		chunk := make([]byte, n)
		if _, err := io.ReadFull(d.r, chunk); err != nil {
			return err
		}
		if wErr == nil {
			_, wErr = d.sess.file.Write(chunk)
		}
	}

	if wErr != nil {
		return d.ack(OpWrite, 5, []byte(wErr.Error()))
	}
	return d.ack(OpWrite, 0, nil)
}

func (d *dataConn) read(count int64) error {
	if err := d.ack(OpRead, 0, nil); err != nil {
		return err
	}

	hdr := binary.BigEndian.AppendUint32(nil, 4)
	hdr = binary.BigEndian.AppendUint32(hdr, OpData)
	if _, err := d.w.Write(hdr); err != nil {
		return err
	}

	buf := make([]byte, count)
	n, err := io.ReadFull(d.sess.file, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return err
	}

	if err := d.sendFrames(buf[:n]); err != nil {
		return err
	}
	if _, err := d.w.Write(binary.BigEndian.AppendUint32(nil, endOfData)); err != nil {
		return err
	}
	return d.ack(OpRead, 0, nil)
}

func (d *dataConn) seek(offset int64, whence int) error {
	pos, err := d.sess.file.Seek(offset, whence)
	if err != nil {
		return d.ack(OpSeek, 22, []byte(err.Error()))
	}
	return d.ack(OpSeek, 0, binary.BigEndian.AppendUint64(nil, uint64(pos)))
}

func (d *dataConn) readv(n uint32) error {
	type vec struct {
		off uint64
		l   uint32
	}

	vecs := make([]vec, n)
	for i := range vecs {
		var b [12]byte
		if _, err := io.ReadFull(d.r, b[:]); err != nil {
			return err
		}
		vecs[i] = vec{off: binary.BigEndian.Uint64(b[:]), l: binary.BigEndian.Uint32(b[8:])}
		if err := d.ack(OpReadv, 0, nil); err != nil {
			return err
		}
	}

	for i := range vecs {
		buf := make([]byte, vecs[i].l)
		read, err := d.sess.file.ReadAt(buf, int64(vecs[i].off))
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		if err := d.sendFrames(buf[:read]); err != nil {
			return err
		}
		if read < len(buf) {
			if _, err := d.w.Write(binary.BigEndian.AppendUint32(nil, endOfData)); err != nil {
				return err
			}
			break
		}
	}

	return d.ack(OpReadv, 0, nil)
}
