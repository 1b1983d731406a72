package cmderr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCode(t *testing.T) {
	cause := errors.New("missing mount point")

	require.Zero(t, Code(nil))
	require.Equal(t, CodeFailure, Code(cause))
	require.Equal(t, CodeConfig, Code(Config(cause)))
	require.Equal(t, CodeConfig, Code(fmt.Errorf("run: %w", Config(cause))))
	require.Equal(t, 7, Code(ExitErr{Code: 7, Cause: cause}))

	require.NoError(t, Config(nil))
	require.ErrorIs(t, Config(cause), cause)
}
