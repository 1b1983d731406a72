// Package archive writes and lists container archives. A container is a
// ZIP64 file: every entry is named after the stable identifier of the
// packed file, and the archive comment holds a text index mapping the
// identifiers back to their namespace paths and sizes.
package archive

import (
	"errors"
	"fmt"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
)

// Compression is an entry compression method.
type Compression uint8

const (
	// Store keeps entry bytes as is.
	Store Compression = iota
	// Deflate compresses entries with DEFLATE.
	Deflate
	// Zstd compresses entries with Zstandard.
	Zstd
)

// ParseCompression parses compression name: "none", "deflate" or "zstd".
// Empty string means Store.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(s) {
	case "", "none", "store":
		return Store, nil
	case "deflate":
		return Deflate, nil
	case "zstd":
		return Zstd, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", s)
	}
}

func (c Compression) String() string {
	switch c {
	case Store:
		return "none"
	case Deflate:
		return "deflate"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("Compression(%d)", c)
	}
}

func (c Compression) method() uint16 {
	switch c {
	case Deflate:
		return zip.Deflate
	case Zstd:
		return zstd.ZipMethodWinZip
	default:
		return zip.Store
	}
}

// MaxCommentSize is the size limit of the index stored in the archive
// comment.
const MaxCommentSize = 1<<16 - 1

// Entry describes a single archived file.
type Entry struct {
	// Name is the stable identifier of the file.
	Name string
	// Size is the number of stored uncompressed bytes.
	Size uint64
	// Path is the namespace path of the file at the time of packing. It
	// is empty for entries read from an archive.
	Path string
}

// SourceError is returned when an entry source fails to deliver its
// bytes. The sink is still usable, though the archive contains a
// truncated entry for Name.
type SourceError struct {
	Name string
	Err  error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("read source of %s: %v", e.Name, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// ErrClosed is returned on writes to a closed Writer.
var ErrClosed = errors.New("archive writer is closed")
