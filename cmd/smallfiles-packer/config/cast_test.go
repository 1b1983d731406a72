package config_test

import (
	"testing"
	"time"

	"github.com/nspcc-dev/smallfiles/cmd/smallfiles-packer/config"
	configtest "github.com/nspcc-dev/smallfiles/cmd/smallfiles-packer/config/test"
	"github.com/stretchr/testify/require"
)

func TestStringSlice(t *testing.T) {
	configtest.ForEachFileType("test/config", func(c *config.Config) {
		cStringSlice := c.Sub("string_slice")

		val := config.StringSlice(cStringSlice, "empty")
		require.Empty(t, val)

		val = config.StringSlice(cStringSlice, "filled")
		require.Equal(t, []string{
			"string1",
			"string2",
		}, val)

		val = config.StringSliceSafe(cStringSlice, "filled")
		require.Len(t, val, 2)
	})
}

func TestString(t *testing.T) {
	configtest.ForEachFileType("test/config", func(c *config.Config) {
		c = c.Sub("string")

		val := config.String(c, "correct")
		require.Equal(t, "some string", val)

		require.Panics(t, func() {
			config.String(c, "incorrect")
		})

		val = config.StringSafe(c, "incorrect")
		require.Empty(t, val)
	})
}

func TestDuration(t *testing.T) {
	configtest.ForEachFileType("test/config", func(c *config.Config) {
		c = c.Sub("duration")

		val := config.Duration(c, "correct")
		require.Equal(t, 15*time.Minute, val)

		require.Panics(t, func() {
			config.Duration(c, "incorrect")
		})

		val = config.DurationSafe(c, "incorrect")
		require.Equal(t, time.Duration(0), val)
	})
}

func TestSeconds(t *testing.T) {
	configtest.ForEachFileType("test/config", func(c *config.Config) {
		c = c.Sub("duration")

		require.Equal(t, 15*time.Minute, config.Seconds(c, "correct"))
		require.Equal(t, 90*time.Second, config.Seconds(c, "seconds"))
		require.Equal(t, 90*time.Second, config.Seconds(c, "seconds_string"))
		require.Zero(t, config.Seconds(c, "missing"))

		require.Panics(t, func() {
			config.Seconds(c, "incorrect")
		})
	})
}

func TestBool(t *testing.T) {
	configtest.ForEachFileType("test/config", func(c *config.Config) {
		c = c.Sub("bool")

		require.True(t, config.Bool(c, "correct"))
		require.True(t, config.Bool(c, "correct_string"))

		require.Panics(t, func() {
			config.Bool(c, "incorrect")
		})

		require.False(t, config.BoolSafe(c, "incorrect"))
	})
}

func TestUint(t *testing.T) {
	configtest.ForEachFileType("test/config", func(c *config.Config) {
		c = c.Sub("uint")

		require.EqualValues(t, 42, config.Uint(c, "correct"))

		require.Panics(t, func() {
			config.Uint(c, "incorrect")
		})

		require.Zero(t, config.UintSafe(c, "incorrect"))
	})
}

func TestSizeInBytes(t *testing.T) {
	configtest.ForEachFileType("test/config", func(c *config.Config) {
		c = c.Sub("sizes")

		require.EqualValues(t, 1, config.SizeInBytes(c, "size_b"))
		require.EqualValues(t, 1000, config.SizeInBytes(c, "size_k"))
		require.EqualValues(t, 1024, config.SizeInBytes(c, "size_ki"))
		require.EqualValues(t, 4_000_000, config.SizeInBytes(c, "size_m"))
		require.EqualValues(t, 1_000_000_000, config.SizeInBytes(c, "size_g"))
		require.EqualValues(t, 1<<30, config.SizeInBytes(c, "size_gib"))
		require.EqualValues(t, 2048, config.SizeInBytes(c, "size_bytes"))
		require.Zero(t, config.SizeInBytes(c, "missing"))

		require.Panics(t, func() {
			config.SizeInBytes(c, "size_bad")
		})
		require.Zero(t, config.SizeInBytesSafe(c, "size_bad"))
	})
}

func TestKeys(t *testing.T) {
	configtest.ForEachFileType("test/config", func(c *config.Config) {
		require.Equal(t, []string{"bool", "duration", "sizes", "string", "string_slice", "uint"}, c.Keys())
		require.Equal(t, []string{"correct", "incorrect"}, c.Sub("uint").Keys())
		require.Empty(t, c.Sub("missing").Keys())
	})

	require.Empty(t, configtest.EmptyConfig().Keys())
}
