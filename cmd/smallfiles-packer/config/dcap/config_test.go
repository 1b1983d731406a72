package dcapconfig_test

import (
	"testing"
	"time"

	"github.com/nspcc-dev/smallfiles/cmd/smallfiles-packer/config"
	dcapconfig "github.com/nspcc-dev/smallfiles/cmd/smallfiles-packer/config/dcap"
	configtest "github.com/nspcc-dev/smallfiles/cmd/smallfiles-packer/config/test"
	"github.com/stretchr/testify/require"
)

func TestDCAPSection(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		empty := configtest.EmptyConfig()

		require.False(t, dcapconfig.Enabled(empty))
		require.Empty(t, dcapconfig.Door(empty))
		require.Equal(t, dcapconfig.DialTimeoutDefault, dcapconfig.DialTimeout(empty))
		require.Equal(t, dcapconfig.IOTimeoutDefault, dcapconfig.IOTimeout(empty))
		require.Equal(t, dcapconfig.ChunkSizeDefault, dcapconfig.ChunkSize(empty))
	})

	const path = "../../../../config/example/packer"

	configtest.ForEachFileType(path, func(c *config.Config) {
		require.True(t, dcapconfig.Enabled(c))
		require.Equal(t, "dcap://door.example.org:22125/", dcapconfig.Door(c))
		require.Equal(t, 5*time.Second, dcapconfig.DialTimeout(c))
		require.Equal(t, 2*time.Minute, dcapconfig.IOTimeout(c))
		require.Equal(t, 1<<20, dcapconfig.ChunkSize(c))
	})
}
