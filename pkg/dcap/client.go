package dcap

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Client is a control channel connection to a DCAP door. It is safe for
// concurrent use, control exchanges are serialized.
type Client struct {
	*cfg

	// host:port of the door as written in open URLs.
	door string
	root string

	mu   sync.Mutex
	seq  uint32
	conn net.Conn
	r    *bufio.Reader
}

// ParseDoor splits door URL "dcap://host[:port]/root" into the network
// address and the namespace root.
func ParseDoor(door string) (string, string, error) {
	u, err := url.Parse(door)
	if err != nil {
		return "", "", fmt.Errorf("parse door URL: %w", err)
	}
	if u.Scheme != "dcap" {
		return "", "", fmt.Errorf("unsupported door URL scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return "", "", fmt.Errorf("missing host in door URL %q", door)
	}

	port := u.Port()
	if port == "" {
		port = strconv.Itoa(DefaultPort)
	}

	return net.JoinHostPort(u.Hostname(), port), strings.Trim(u.Path, "/"), nil
}

// Dial connects to the door at URL "dcap://host[:port]/root" and performs
// the hello handshake. All paths passed to the Client are relative to
// root.
func Dial(ctx context.Context, door string, opts ...Option) (*Client, error) {
	c := &Client{cfg: defaultCfg()}
	for i := range opts {
		opts[i](c.cfg)
	}

	var err error
	c.door, c.root, err = ParseDoor(door)
	if err != nil {
		return nil, err
	}

	d := net.Dialer{Timeout: c.dialTimeout}
	c.conn, err = d.DialContext(ctx, "tcp", c.door)
	if err != nil {
		return nil, fmt.Errorf("connect to door %s: %w", c.door, err)
	}
	c.r = bufio.NewReader(c.conn)

	_, err = c.command(ctx, "hello 0 0 0 0")
	if err != nil {
		_ = c.conn.Close()
		return nil, fmt.Errorf("hello: %w", err)
	}

	c.log.Debug("connected to DCAP door", zap.String("door", c.door))

	return c, nil
}

// deadline applies io timeout and context deadline to conn. Returned
// function must be called once the exchange is over.
func deadline(ctx context.Context, conn net.Conn, timeout time.Duration) func() {
	var t time.Time
	if timeout > 0 {
		t = time.Now().Add(timeout)
	}
	if d, ok := ctx.Deadline(); ok && (t.IsZero() || d.Before(t)) {
		t = d
	}
	_ = conn.SetDeadline(t)

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})

	return func() {
		stop()
		_ = conn.SetDeadline(time.Time{})
	}
}

// send writes control message with the next sequence number and returns
// the number. Must be called under mu.
func (c *Client) send(msg string) (uint32, error) {
	seq := c.seq
	line := strconv.FormatUint(uint64(seq), 10) + " 0 client " + msg + "\n"

	c.log.Debug("send control message", zap.String("msg", strings.TrimSpace(line)))

	_, err := c.conn.Write([]byte(line))
	if err != nil {
		return 0, broken(err)
	}
	c.seq++

	return seq, nil
}

// receive reads single control line. Must be called under mu.
func (c *Client) receive() (reply, error) {
	line, err := c.r.ReadString('\n')
	if err != nil {
		return nil, broken(err)
	}

	c.log.Debug("receive control message", zap.String("msg", strings.TrimSpace(line)))

	return parseReply(line)
}

// command sends control message and reads the reply, failed replies are
// returned as ControlError.
func (c *Client) command(ctx context.Context, msg string) (reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, _, err := c.exchange(ctx, msg)
	if err != nil {
		return nil, err
	}
	if r.failed() {
		name, _, _ := strings.Cut(msg, " ")
		return nil, &ControlError{Command: name, Detail: r.detail(4)}
	}

	return r, nil
}

// exchange must be called under mu.
func (c *Client) exchange(ctx context.Context, msg string) (reply, uint32, error) {
	done := deadline(ctx, c.conn, c.ioTimeout)
	defer done()

	seq, err := c.send(msg)
	if err != nil {
		return nil, 0, err
	}

	r, err := c.receive()
	if err != nil {
		return nil, 0, err
	}
	if r[0] != strconv.FormatUint(uint64(seq), 10) {
		return nil, 0, fmt.Errorf("%w: reply %q to message %d", ErrProtocol, r[0], seq)
	}

	return r, seq, nil
}

func (c *Client) url(p string) string {
	return "dcap://" + c.door + path.Join("/", c.root, p)
}

// Open opens remote file at path relative to the door root. Denied opens
// are returned as *OpenError.
func (c *Client) Open(ctx context.Context, p string, mode Mode) (*File, error) {
	c.mu.Lock()
	r, session, err := c.exchange(ctx, fmt.Sprintf("open %s %s localhost 1111 -passive -uid=%d -gid=%d",
		c.url(p), mode, c.uid, c.gid))
	c.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", p, err)
	}

	if r.failed() {
		return nil, &OpenError{Path: p, Detail: r.detail(5)}
	}
	if len(r) < 7 {
		return nil, fmt.Errorf("%w: short open reply %q", ErrProtocol, r.detail(0))
	}

	conn, err := c.dataConnection(ctx, session, r[4], r[5], r[6])
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", p, err)
	}

	c.log.Debug("opened remote file",
		zap.String("path", p), zap.String("mode", string(mode)), zap.Uint32("session", session))

	return newFile(c, conn, session, p), nil
}

func (c *Client) dataConnection(ctx context.Context, session uint32, host, port, challenge string) (net.Conn, error) {
	d := net.Dialer{Timeout: c.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, port))
	if err != nil {
		return nil, fmt.Errorf("connect data channel: %w", err)
	}

	msg := make([]byte, 8+len(challenge))
	binary.BigEndian.PutUint32(msg, session)
	binary.BigEndian.PutUint32(msg[4:], uint32(len(challenge)))
	copy(msg[8:], challenge)

	done := deadline(ctx, conn, c.ioTimeout)
	defer done()

	if _, err := conn.Write(msg); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("authenticate data channel: %w", broken(err))
	}

	return conn, nil
}

// closeConfirmation reads the control line confirming close of the data
// session.
func (c *Client) closeConfirmation(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	done := deadline(ctx, c.conn, c.ioTimeout)
	defer done()

	r, err := c.receive()
	if err != nil {
		return err
	}
	if r.failed() {
		return &ControlError{Command: "close", Detail: r.detail(4)}
	}
	return nil
}

// Rename renames remote file src relative to the door root into dst.
func (c *Client) Rename(ctx context.Context, src, dst string) error {
	_, err := c.command(ctx, fmt.Sprintf("rename %s %s", c.url(src), dst))
	if err != nil {
		return fmt.Errorf("rename %s: %w", src, err)
	}
	return nil
}

// Close says goodbye to the door and closes the control connection.
func (c *Client) Close() error {
	_, err := c.command(context.Background(), "byebye")
	cErr := c.conn.Close()
	if err != nil {
		return fmt.Errorf("byebye: %w", err)
	}
	return cErr
}
