package packerconfig

import (
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/nspcc-dev/smallfiles/cmd/smallfiles-packer/config"
	"github.com/nspcc-dev/smallfiles/pkg/archive"
)

const (
	subsection         = "packer"
	prefetchSubsection = "prefetch"

	// LoopDelayDefault is a default delay between packing cycles.
	LoopDelayDefault = 60 * time.Second
	// PrefetchCapacityDefault is a default number of files opened ahead.
	PrefetchCapacityDefault = 100
	// PrefetchTimeoutDefault is a default time to wait for the next file.
	PrefetchTimeoutDefault = 30 * time.Second
)

// InstanceID returns the value of "instance_id" config parameter
// from "packer" section. It is the lock identifier of the process.
//
// Returns host name if the value is not set.
func InstanceID(c *config.Config) string {
	v := config.StringSafe(c.Sub(subsection), "instance_id")
	if v != "" {
		return v
	}

	h, err := os.Hostname()
	if err != nil {
		panic(fmt.Errorf("instance_id is not set and host name is unavailable: %w", err))
	}

	return h
}

// MountPoint returns the value of "mount_point" config parameter
// from "packer" section: the local mount of the namespace.
func MountPoint(c *config.Config) string {
	return config.StringSafe(c.Sub(subsection), "mount_point")
}

// DataRoot returns the value of "data_root" config parameter
// from "packer" section: the namespace path of the mount point.
//
// Returns mount point if the value is not set.
func DataRoot(c *config.Config) string {
	v := config.StringSafe(c.Sub(subsection), "data_root")
	if v != "" {
		return v
	}

	return MountPoint(c)
}

// ArchiveUser returns the value of "archive_user" config parameter
// from "packer" section.
func ArchiveUser(c *config.Config) string {
	return config.StringSafe(c.Sub(subsection), "archive_user")
}

// ArchiveMode returns the value of "archive_mode" config parameter
// from "packer" section. The value is an octal string.
//
// Returns 0 if the value is not set. Panics if the value is not an
// octal permission mask.
func ArchiveMode(c *config.Config) fs.FileMode {
	v := config.StringSafe(c.Sub(subsection), "archive_mode")
	if v == "" {
		return 0
	}

	m, err := strconv.ParseUint(v, 8, 32)
	if err != nil || m > 0o7777 {
		panic(fmt.Errorf("invalid archive_mode %q", v))
	}

	return fs.FileMode(m)
}

// LoopDelay returns the value of "loop_delay" config parameter
// from "packer" section.
//
// Returns LoopDelayDefault if the value is not positive duration.
func LoopDelay(c *config.Config) time.Duration {
	v := config.Seconds(c.Sub(subsection), "loop_delay")
	if v > 0 {
		return v
	}

	return LoopDelayDefault
}

// Compression returns the value of "compression" config parameter
// from "packer" section.
//
// Panics if the value is not a supported compression.
func Compression(c *config.Config) archive.Compression {
	v, err := archive.ParseCompression(config.StringSafe(c.Sub(subsection), "compression"))
	if err != nil {
		panic(err)
	}

	return v
}

// PrefetchCapacity returns the value of "capacity" config parameter
// from "packer.prefetch" section.
//
// Returns PrefetchCapacityDefault if the value is not positive.
func PrefetchCapacity(c *config.Config) int {
	v := config.UintSafe(c.Sub(subsection).Sub(prefetchSubsection), "capacity")
	if v > 0 {
		return int(v)
	}

	return PrefetchCapacityDefault
}

// PrefetchTimeout returns the value of "timeout" config parameter
// from "packer.prefetch" section.
//
// Returns PrefetchTimeoutDefault if the value is not positive duration.
func PrefetchTimeout(c *config.Config) time.Duration {
	v := config.DurationSafe(c.Sub(subsection).Sub(prefetchSubsection), "timeout")
	if v > 0 {
		return v
	}

	return PrefetchTimeoutDefault
}
