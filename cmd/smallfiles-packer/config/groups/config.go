package groupsconfig

import (
	"errors"
	"fmt"
	"path"

	"github.com/nspcc-dev/smallfiles/cmd/smallfiles-packer/config"
	packerconfig "github.com/nspcc-dev/smallfiles/cmd/smallfiles-packer/config/packer"
	"github.com/nspcc-dev/smallfiles/pkg/container"
	"github.com/nspcc-dev/smallfiles/pkg/packer"
)

const subsection = "groups"

// ErrNoGroups is returned when no group is configured.
var ErrNoGroups = errors.New("no packing groups configured")

// Names returns sorted names of the configured groups.
func Names(c *config.Config) []string {
	return c.Sub(subsection).Keys()
}

// Groups reads and validates every configured group.
//
// Relative "archive_path" values are resolved against the data root of
// "packer" section.
func Groups(c *config.Config) ([]packer.Group, error) {
	names := Names(c)
	if len(names) == 0 {
		return nil, ErrNoGroups
	}

	res := make([]packer.Group, 0, len(names))
	for _, name := range names {
		g, err := Group(c, name)
		if err != nil {
			return nil, err
		}
		res = append(res, g)
	}

	return res, nil
}

// Group reads and validates the named group.
func Group(c *config.Config, name string) (g packer.Group, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("group %s: %v", name, r)
		}
	}()

	s := c.Sub(subsection).Sub(name)

	g = packer.Group{
		Name:              name,
		PathPattern:       config.StringSafe(s, "path"),
		FilePattern:       config.StringSafe(s, "file"),
		StoreGroupPattern: config.StringSafe(s, "sgroup"),
		StorePattern:      config.StringSafe(s, "store"),
		ArchiveDir:        archiveDir(c, config.StringSafe(s, "archive_path")),
		ArchiveSize:       config.SizeInBytes(s, "archive_size"),
		MinAge:            config.Seconds(s, "min_age"),
		MaxAge:            config.Seconds(s, "max_age"),
	}

	g.Verify, err = container.ParseVerifyMode(config.StringSafe(s, "verify"))
	if err != nil {
		return g, fmt.Errorf("group %s: %w", name, err)
	}

	return g, g.Validate()
}

func archiveDir(c *config.Config, p string) string {
	if p == "" || path.IsAbs(p) {
		return p
	}

	return path.Join(packerconfig.DataRoot(c), p)
}
