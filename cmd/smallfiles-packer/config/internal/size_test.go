package internal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseSizeInBytes(t *testing.T) {
	for s, exp := range map[string]uint64{
		"0":      0,
		"17":     17,
		"17b":    17,
		"1k":     1000,
		"1KB":    1000,
		"1ki":    1 << 10,
		"1KiB":   1 << 10,
		"4M":     4_000_000,
		"4 mib":  4 << 20,
		"1G":     1_000_000_000,
		"1Gi":    1 << 30,
		"2T":     2_000_000_000_000,
		" 12 m ": 12_000_000,
	} {
		v, err := ParseSizeInBytes(s)
		require.NoError(t, err, s)
		require.Equal(t, exp, v, s)
	}

	for _, s := range []string{"", "G", "1x", "1.5G", "-1", "1i", "99999999999T"} {
		_, err := ParseSizeInBytes(s)
		require.Error(t, err, s)
	}
}
