package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nspcc-dev/smallfiles/pkg/packer"
	"go.uber.org/zap"
)

// DefaultTopic is the subject archive notifications are published to.
const DefaultTopic = "smallfiles.archives"

// Writer is a NATS archive notification writer.
// It handles NATS JetStream connections and publishes
// JSON encoded archive events to the configured topic.
//
// For correct operation must be created via New function.
// new(Writer) or Writer{} construction leads to undefined
// behaviour and is not safe.
type Writer struct {
	js nats.JetStreamContext
	nc *nats.Conn

	m             *sync.Mutex
	streamCreated bool
	opts
}

type opts struct {
	log     *zap.Logger
	topic   string
	timeout time.Duration
	nOpts   []nats.Option
}

// Option is a Writer option.
type Option func(*opts)

// WithLogger sets logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *opts) {
		o.log = l
	}
}

// WithTopic sets the subject of notifications.
func WithTopic(topic string) Option {
	return func(o *opts) {
		o.topic = topic
	}
}

// WithTimeout sets timeout of connection and publishing.
func WithTimeout(d time.Duration) Option {
	return func(o *opts) {
		o.timeout = d
		o.nOpts = append(o.nOpts, nats.Timeout(d))
	}
}

// WithClientCert sets client TLS certificate and key.
func WithClientCert(certPath, keyPath string) Option {
	return func(o *opts) {
		o.nOpts = append(o.nOpts, nats.ClientCert(certPath, keyPath))
	}
}

// WithRootCA sets root CA certificates used to verify the server.
func WithRootCA(paths ...string) Option {
	return func(o *opts) {
		o.nOpts = append(o.nOpts, nats.RootCAs(paths...))
	}
}

var errConnIsClosed = errors.New("connection to the server is closed")

// Notify publishes the archive event. Container pnfsid is used as a
// message ID to support 'exactly once' message delivery.
//
// Returns error only if:
// 1. underlying connection was closed and has not been established again;
// 2. NATS server could not respond that it has saved the message.
func (n *Writer) Notify(ctx context.Context, ev packer.ArchiveEvent) error {
	if n.nc == nil || !n.nc.IsConnected() {
		return errConnIsClosed
	}

	if err := n.ensureStream(); err != nil {
		return err
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}

	_, err = n.js.Publish(n.topic, payload, nats.MsgId(ev.ID), nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("publish to %s: %w", n.topic, err)
	}

	return nil
}

func (n *Writer) ensureStream() error {
	n.m.Lock()
	defer n.m.Unlock()

	if n.streamCreated {
		return nil
	}

	_, err := n.js.AddStream(&nats.StreamConfig{
		Name:     streamName(n.topic),
		Subjects: []string{n.topic},
	})
	if err != nil {
		return fmt.Errorf("could not add stream: %w", err)
	}

	n.streamCreated = true

	return nil
}

// streamName returns a valid JetStream stream name for the subject.
func streamName(topic string) string {
	return strings.NewReplacer(".", "_", "*", "_", ">", "_").Replace(topic)
}

// New creates new Writer.
func New(oo ...Option) *Writer {
	w := &Writer{
		m: &sync.Mutex{},
		opts: opts{
			log:   zap.NewNop(),
			topic: DefaultTopic,
			nOpts: make([]nats.Option, 0, len(oo)+3),
		},
	}

	for _, o := range oo {
		o(&w.opts)
	}

	w.opts.nOpts = append(w.opts.nOpts,
		nats.NoCallbacksAfterClientClose(), // do not call callbacks when it was planned writer stop
		nats.DisconnectErrHandler(func(conn *nats.Conn, err error) {
			w.log.Error("nats: connection was lost", zap.Error(err))
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			w.log.Warn("nats: reconnected to the server")
		}),
	)

	return w
}

// Connect tries to connect to a specified NATS endpoint.
//
// Connection is closed when passed context is done.
func (n *Writer) Connect(ctx context.Context, endpoint string) error {
	nc, err := nats.Connect(endpoint, n.opts.nOpts...)
	if err != nil {
		return fmt.Errorf("could not connect to server: %w", err)
	}

	n.nc = nc

	// usage w/o options is error-free
	n.js, _ = nc.JetStream()

	go func() {
		<-ctx.Done()
		n.opts.log.Info("nats: closing connection as the context is done")

		nc.Close()
	}()

	return nil
}
