package loggerconfig_test

import (
	"testing"

	"github.com/nspcc-dev/smallfiles/cmd/smallfiles-packer/config"
	loggerconfig "github.com/nspcc-dev/smallfiles/cmd/smallfiles-packer/config/logger"
	configtest "github.com/nspcc-dev/smallfiles/cmd/smallfiles-packer/config/test"
	"github.com/stretchr/testify/require"
)

func TestLoggerSection(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		empty := configtest.EmptyConfig()

		require.Equal(t, loggerconfig.LevelDefault, loggerconfig.Level(empty))
		require.Equal(t, loggerconfig.EncodingDefault, loggerconfig.Encoding(empty))
		require.False(t, loggerconfig.Sampling(empty))
	})

	const path = "../../../../config/example/packer"

	configtest.ForEachFileType(path, func(c *config.Config) {
		require.Equal(t, "debug", loggerconfig.Level(c))
		require.Equal(t, "json", loggerconfig.Encoding(c))
		require.True(t, loggerconfig.Sampling(c))
	})
}
