package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nspcc-dev/smallfiles/cmd/smallfiles-packer/config/internal"
	"github.com/spf13/cast"
)

func panicOnErr(err error) {
	if err != nil {
		panic(err)
	}
}

// StringSlice reads configuration value
// from c by name and casts it to []string.
//
// Panics if value can not be casted.
func StringSlice(c *Config, name string) []string {
	x, err := cast.ToStringSliceE(c.Value(name))
	panicOnErr(err)

	return x
}

// StringSliceSafe reads configuration value
// from c by name and casts it to []string.
//
// Returns nil if value can not be casted.
func StringSliceSafe(c *Config, name string) []string {
	return cast.ToStringSlice(c.Value(name))
}

// String reads configuration value
// from c by name and casts it to string.
//
// Panics if value can not be casted.
func String(c *Config, name string) string {
	x, err := cast.ToStringE(c.Value(name))
	panicOnErr(err)

	return x
}

// StringSafe reads configuration value
// from c by name and casts it to string.
//
// Returns "" if value can not be casted.
func StringSafe(c *Config, name string) string {
	return cast.ToString(c.Value(name))
}

// Duration reads configuration value
// from c by name and casts it to time.Duration.
//
// Panics if value can not be casted.
func Duration(c *Config, name string) time.Duration {
	x, err := cast.ToDurationE(c.Value(name))
	panicOnErr(err)

	return x
}

// DurationSafe reads configuration value
// from c by name and casts it to time.Duration.
//
// Returns 0 if value can not be casted.
func DurationSafe(c *Config, name string) time.Duration {
	return cast.ToDuration(c.Value(name))
}

// Seconds reads configuration value from c by name as a time.Duration.
// Plain numbers are seconds, strings with units are parsed as
// durations.
//
// Panics if value can not be casted.
func Seconds(c *Config, name string) time.Duration {
	v := c.Value(name)

	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if _, err := strconv.ParseInt(s, 10, 64); err != nil {
			x, err := time.ParseDuration(s)
			panicOnErr(err)
			return x
		}
		v = s
	}

	x, err := cast.ToInt64E(v)
	panicOnErr(err)

	return time.Duration(x) * time.Second
}

// Bool reads configuration value
// from c by name and casts it to bool.
//
// Panics if value can not be casted.
func Bool(c *Config, name string) bool {
	x, err := cast.ToBoolE(c.Value(name))
	panicOnErr(err)

	return x
}

// BoolSafe reads configuration value
// from c by name and casts it to bool.
//
// Returns false if value can not be casted.
func BoolSafe(c *Config, name string) bool {
	return cast.ToBool(c.Value(name))
}

// Uint reads configuration value
// from c by name and casts it to uint64.
//
// Panics if value can not be casted.
func Uint(c *Config, name string) uint64 {
	x, err := cast.ToUint64E(c.Value(name))
	panicOnErr(err)

	return x
}

// UintSafe reads configuration value
// from c by name and casts it to uint64.
//
// Returns 0 if value can not be casted.
func UintSafe(c *Config, name string) uint64 {
	return cast.ToUint64(c.Value(name))
}

// SizeInBytes reads configuration value
// from c by name and casts it to size in bytes (uint64).
//
// The suffix can be single-letter (k, m, g, t) decimal or binary
// (ki, mi, gi, ti) with an optional "b" at the end.
//
// Panics if value can not be parsed.
func SizeInBytes(c *Config, name string) uint64 {
	s := cast.ToString(c.Value(name))
	if s == "" {
		return 0
	}

	x, err := internal.ParseSizeInBytes(s)
	if err != nil {
		panic(fmt.Errorf("%s: %w", c.key(name), err))
	}

	return x
}

// SizeInBytesSafe reads configuration value
// from c by name and casts it to size in bytes (uint64).
//
// Returns 0 if value can not be parsed.
func SizeInBytesSafe(c *Config, name string) uint64 {
	x, err := internal.ParseSizeInBytes(cast.ToString(c.Value(name)))
	if err != nil {
		return 0
	}

	return x
}
