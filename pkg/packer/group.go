package packer

import (
	"errors"
	"fmt"
	"time"

	"github.com/nspcc-dev/smallfiles/pkg/container"
	"github.com/nspcc-dev/smallfiles/pkg/recordstore"
)

// Group is the packing policy of a logical group of files.
type Group struct {
	Name string

	// PathPattern, FilePattern, StoreGroupPattern and StorePattern select
	// records, see recordstore.Filter.
	PathPattern       string
	FilePattern       string
	StoreGroupPattern string
	StorePattern      string

	// ArchiveDir is the namespace directory of the containers.
	ArchiveDir string
	// ArchiveSize is the target container size in bytes.
	ArchiveSize uint64
	// MinAge is the age a file must reach to be packed.
	MinAge time.Duration
	// MaxAge is the age after which a file is packed even into an
	// undersized container. Zero disables the old-file mode.
	MaxAge time.Duration
	// Verify is the verification mode of sealed containers.
	Verify container.VerifyMode
}

// Validate checks group settings.
func (g Group) Validate() error {
	if g.Name == "" {
		return errors.New("empty group name")
	}
	if g.ArchiveDir == "" {
		return fmt.Errorf("group %s: empty archive directory", g.Name)
	}
	if g.ArchiveSize == 0 {
		return fmt.Errorf("group %s: zero archive size", g.Name)
	}
	if g.MinAge < 0 || g.MaxAge < 0 {
		return fmt.Errorf("group %s: negative age", g.Name)
	}
	if _, err := g.filter(time.Now()).Compile(); err != nil {
		return fmt.Errorf("group %s: %w", g.Name, err)
	}
	return nil
}

func (g Group) filter(now time.Time) recordstore.Filter {
	return recordstore.Filter{
		PathPattern:  g.PathPattern,
		FilePattern:  g.FilePattern,
		GroupPattern: g.StoreGroupPattern,
		StorePattern: g.StorePattern,
		CTimeBefore:  now.Add(-g.MinAge).Unix(),
	}
}
