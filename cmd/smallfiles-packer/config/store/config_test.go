package storeconfig_test

import (
	"testing"
	"time"

	"github.com/nspcc-dev/smallfiles/cmd/smallfiles-packer/config"
	storeconfig "github.com/nspcc-dev/smallfiles/cmd/smallfiles-packer/config/store"
	configtest "github.com/nspcc-dev/smallfiles/cmd/smallfiles-packer/config/test"
	"github.com/stretchr/testify/require"
)

func TestStoreSection(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		empty := configtest.EmptyConfig()

		require.Equal(t, storeconfig.TypeDefault, storeconfig.Type(empty))
		require.Empty(t, storeconfig.URI(empty))
		require.Equal(t, storeconfig.DatabaseDefault, storeconfig.Database(empty))
		require.Empty(t, storeconfig.Path(empty))
		require.Equal(t, storeconfig.TimeoutDefault, storeconfig.Timeout(empty))
	})

	const path = "../../../../config/example/packer"

	configtest.ForEachFileType(path, func(c *config.Config) {
		require.Equal(t, storeconfig.TypeMongo, storeconfig.Type(c))
		require.Equal(t, "mongodb://localhost:27017", storeconfig.URI(c))
		require.Equal(t, "smallfiles", storeconfig.Database(c))
		require.Equal(t, "/var/lib/smallfiles/records.db", storeconfig.Path(c))
		require.Equal(t, 15*time.Second, storeconfig.Timeout(c))
	})
}
