package internal

import (
	"errors"
	"fmt"
	"math/bits"
	"strconv"
	"strings"
	"unicode"
)

var errEmptySize = errors.New("empty size")

// safeMul returns size*multiplier.
// Returns 0 if overflow is detected.
func safeMul(size uint64, multiplier uint64) uint64 {
	hi, lo := bits.Mul64(size, multiplier)
	if hi != 0 {
		return 0
	}
	return lo
}

// ParseSizeInBytes converts strings like 1G, 1GB, 512Mi or 12 kib into
// a number of bytes. Single-letter suffixes are decimal as in the
// historical packer configuration, "i" suffixes are binary.
func ParseSizeInBytes(sizeStr string) (uint64, error) {
	s := strings.ToLower(strings.TrimSpace(sizeStr))
	if s == "" {
		return 0, errEmptySize
	}

	s = strings.TrimSuffix(s, "b")

	base := uint64(1000)
	if strings.HasSuffix(s, "i") {
		base = 1024
		s = strings.TrimSuffix(s, "i")
	}

	multiplier := uint64(1)
	if last := len(s) - 1; last >= 0 && unicode.IsLetter(rune(s[last])) {
		switch s[last] {
		case 'k':
			multiplier = base
		case 'm':
			multiplier = base * base
		case 'g':
			multiplier = base * base * base
		case 't':
			multiplier = base * base * base * base
		default:
			return 0, fmt.Errorf("invalid size suffix in %q", sizeStr)
		}
		s = strings.TrimSpace(s[:last])
	} else if base == 1024 {
		return 0, fmt.Errorf("invalid size suffix in %q", sizeStr)
	}

	size, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", sizeStr, err)
	}

	res := safeMul(size, multiplier)
	if res == 0 && size != 0 {
		return 0, fmt.Errorf("size %q overflows", sizeStr)
	}

	return res, nil
}
