package packerconfig_test

import (
	"io/fs"
	"os"
	"testing"
	"time"

	"github.com/nspcc-dev/smallfiles/cmd/smallfiles-packer/config"
	packerconfig "github.com/nspcc-dev/smallfiles/cmd/smallfiles-packer/config/packer"
	configtest "github.com/nspcc-dev/smallfiles/cmd/smallfiles-packer/config/test"
	"github.com/nspcc-dev/smallfiles/pkg/archive"
	"github.com/stretchr/testify/require"
)

func TestPackerSection(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		empty := configtest.EmptyConfig()

		host, err := os.Hostname()
		require.NoError(t, err)

		require.Equal(t, host, packerconfig.InstanceID(empty))
		require.Empty(t, packerconfig.MountPoint(empty))
		require.Empty(t, packerconfig.DataRoot(empty))
		require.Empty(t, packerconfig.ArchiveUser(empty))
		require.Zero(t, packerconfig.ArchiveMode(empty))
		require.Equal(t, packerconfig.LoopDelayDefault, packerconfig.LoopDelay(empty))
		require.Equal(t, archive.Store, packerconfig.Compression(empty))
		require.Equal(t, packerconfig.PrefetchCapacityDefault, packerconfig.PrefetchCapacity(empty))
		require.Equal(t, packerconfig.PrefetchTimeoutDefault, packerconfig.PrefetchTimeout(empty))
	})

	const path = "../../../../config/example/packer"

	configtest.ForEachFileType(path, func(c *config.Config) {
		require.Equal(t, "packer-01", packerconfig.InstanceID(c))
		require.Equal(t, "/pnfs/example.org/data", packerconfig.MountPoint(c))
		require.Equal(t, "/pnfs/example.org/data", packerconfig.DataRoot(c))
		require.Equal(t, "root", packerconfig.ArchiveUser(c))
		require.Equal(t, fs.FileMode(0o644), packerconfig.ArchiveMode(c))
		require.Equal(t, time.Minute, packerconfig.LoopDelay(c))
		require.Equal(t, archive.Zstd, packerconfig.Compression(c))
		require.Equal(t, 64, packerconfig.PrefetchCapacity(c))
		require.Equal(t, 20*time.Second, packerconfig.PrefetchTimeout(c))
	})
}
