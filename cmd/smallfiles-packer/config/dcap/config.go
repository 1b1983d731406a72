package dcapconfig

import (
	"time"

	"github.com/nspcc-dev/smallfiles/cmd/smallfiles-packer/config"
	"github.com/nspcc-dev/smallfiles/pkg/dcap"
)

const (
	subsection = "dcap"

	// DialTimeoutDefault is a default timeout of door connection.
	DialTimeoutDefault = 10 * time.Second
	// IOTimeoutDefault is a default timeout of a single door exchange.
	IOTimeoutDefault = time.Minute
	// ChunkSizeDefault is a default size of data frames.
	ChunkSizeDefault = dcap.DefaultChunkSize
)

// Enabled returns the value of "enabled" config parameter
// from "dcap" section. Containers are written through the door
// if it is set.
func Enabled(c *config.Config) bool {
	return config.BoolSafe(c.Sub(subsection), "enabled")
}

// Door returns the value of "door" config parameter
// from "dcap" section.
func Door(c *config.Config) string {
	return config.StringSafe(c.Sub(subsection), "door")
}

// DialTimeout returns the value of "dial_timeout" config parameter
// from "dcap" section.
//
// Returns DialTimeoutDefault if the value is not positive duration.
func DialTimeout(c *config.Config) time.Duration {
	v := config.DurationSafe(c.Sub(subsection), "dial_timeout")
	if v > 0 {
		return v
	}

	return DialTimeoutDefault
}

// IOTimeout returns the value of "io_timeout" config parameter
// from "dcap" section.
//
// Returns IOTimeoutDefault if the value is not positive duration.
func IOTimeout(c *config.Config) time.Duration {
	v := config.DurationSafe(c.Sub(subsection), "io_timeout")
	if v > 0 {
		return v
	}

	return IOTimeoutDefault
}

// ChunkSize returns the value of "chunk_size" config parameter
// from "dcap" section.
//
// Returns ChunkSizeDefault if the value is not set.
func ChunkSize(c *config.Config) int {
	v := config.SizeInBytesSafe(c.Sub(subsection), "chunk_size")
	if v > 0 {
		return int(v)
	}

	return ChunkSizeDefault
}
