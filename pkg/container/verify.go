package container

import (
	"fmt"
	"strings"
)

// VerifyMode is a sealed container verification method.
type VerifyMode uint8

const (
	// VerifyFilelist compares names of archive entries with the names of
	// added files.
	VerifyFilelist VerifyMode = iota
	// VerifyChecksum is reserved, verification always succeeds.
	VerifyChecksum
	// VerifyOff disables verification.
	VerifyOff
)

// ParseVerifyMode parses "filelist", "chksum" or "off". Empty string is
// VerifyFilelist.
func ParseVerifyMode(s string) (VerifyMode, error) {
	switch strings.ToLower(s) {
	case "", "filelist":
		return VerifyFilelist, nil
	case "chksum", "checksum":
		return VerifyChecksum, nil
	case "off", "none":
		return VerifyOff, nil
	default:
		return 0, fmt.Errorf("unknown verification mode %q", s)
	}
}

func (m VerifyMode) String() string {
	switch m {
	case VerifyFilelist:
		return "filelist"
	case VerifyChecksum:
		return "chksum"
	case VerifyOff:
		return "off"
	default:
		return fmt.Sprintf("VerifyMode(%d)", m)
	}
}
