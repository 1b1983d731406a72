package dcap

import (
	"os"
	"time"

	"go.uber.org/zap"
)

type cfg struct {
	dialTimeout time.Duration
	ioTimeout   time.Duration
	chunkSize   int
	uid, gid    int
	log         *zap.Logger
}

func defaultCfg() *cfg {
	return &cfg{
		dialTimeout: 10 * time.Second,
		chunkSize:   DefaultChunkSize,
		uid:         os.Getuid(),
		gid:         os.Getgid(),
		log:         zap.NewNop(),
	}
}

// Option is a Client option.
type Option func(*cfg)

// WithDialTimeout sets timeout of establishing both control and data
// connections.
func WithDialTimeout(d time.Duration) Option {
	return func(c *cfg) {
		if d > 0 {
			c.dialTimeout = d
		}
	}
}

// WithIOTimeout limits the duration of every single request-reply
// exchange. Zero disables the limit.
func WithIOTimeout(d time.Duration) Option {
	return func(c *cfg) {
		c.ioTimeout = d
	}
}

// WithChunkSize sets the maximum payload of a data frame sent by the
// write path.
func WithChunkSize(sz int) Option {
	return func(c *cfg) {
		if sz > 0 {
			c.chunkSize = sz
		}
	}
}

// WithIdentity sets numeric user and group sent in open requests. Process
// identity is used by default.
func WithIdentity(uid, gid int) Option {
	return func(c *cfg) {
		c.uid, c.gid = uid, gid
	}
}

// WithLogger sets logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *cfg) {
		c.log = l
	}
}
