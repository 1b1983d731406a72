package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/nspcc-dev/smallfiles/cmd/internal/cmderr"
	"github.com/nspcc-dev/smallfiles/cmd/smallfiles-packer/config"
	dcapconfig "github.com/nspcc-dev/smallfiles/cmd/smallfiles-packer/config/dcap"
	groupsconfig "github.com/nspcc-dev/smallfiles/cmd/smallfiles-packer/config/groups"
	loggerconfig "github.com/nspcc-dev/smallfiles/cmd/smallfiles-packer/config/logger"
	packerconfig "github.com/nspcc-dev/smallfiles/cmd/smallfiles-packer/config/packer"
	storeconfig "github.com/nspcc-dev/smallfiles/cmd/smallfiles-packer/config/store"
	"github.com/nspcc-dev/smallfiles/pkg/archive"
	"github.com/nspcc-dev/smallfiles/pkg/dcap"
	"github.com/nspcc-dev/smallfiles/pkg/namespace"
	"github.com/nspcc-dev/smallfiles/pkg/packer"
	"github.com/nspcc-dev/smallfiles/pkg/util/logger"
	"github.com/spf13/cobra"
)

const (
	configFlag        = "config"
	defaultConfigPath = "~/.config/smallfiles/packer.yaml"
)

// readConfig reads the file given by the config flag. Without the flag
// the default file is used if it exists, otherwise only ENV is read.
func readConfig(cmd *cobra.Command) (*config.Config, error) {
	p, _ := cmd.Flags().GetString(configFlag)
	explicit := p != ""
	if !explicit {
		p = defaultConfigPath
	}

	p, err := homedir.Expand(p)
	if err != nil {
		return nil, cmderr.Config(err)
	}

	if !explicit {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			p = ""
		}
	}

	var opts []config.Option
	if p != "" {
		opts = append(opts, config.WithConfigFile(p))
	}

	c, err := config.New(opts...)
	if err != nil {
		return nil, cmderr.Config(err)
	}

	return c, nil
}

// settings is the validated configuration of the packer.
type settings struct {
	log logger.Prm

	storeType     string
	storeURI      string
	storeDatabase string
	storePath     string
	storeTimeout  time.Duration

	instance    string
	resolver    namespace.Resolver
	archiveUser string
	archiveMode fs.FileMode
	compression archive.Compression
	loopDelay   time.Duration

	prefetchCapacity int
	prefetchTimeout  time.Duration

	groups []packer.Group
}

// loadSettings reads and validates everything the packer needs before
// any state changes. Errors are configuration errors.
func loadSettings(c *config.Config, withGroups bool) (s settings, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = cmderr.Config(fmt.Errorf("%v", r))
		}
	}()

	s.log = logger.Prm{
		Level:    loggerconfig.Level(c),
		Encoding: loggerconfig.Encoding(c),
		Sampling: loggerconfig.Sampling(c),
	}

	s.storeType = storeconfig.Type(c)
	s.storeURI = storeconfig.URI(c)
	s.storeDatabase = storeconfig.Database(c)
	s.storePath = storeconfig.Path(c)
	s.storeTimeout = storeconfig.Timeout(c)

	switch s.storeType {
	case storeconfig.TypeMongo, storeconfig.TypeMySQL:
		if s.storeURI == "" {
			return s, cmderr.Config(fmt.Errorf("store.uri is required for %s store", s.storeType))
		}
	case storeconfig.TypeBolt, storeconfig.TypeSQLite:
		if s.storePath == "" {
			return s, cmderr.Config(fmt.Errorf("store.path is required for %s store", s.storeType))
		}
	default:
		return s, cmderr.Config(fmt.Errorf("unsupported store type %q", s.storeType))
	}

	mount := packerconfig.MountPoint(c)
	if mount == "" {
		return s, cmderr.Config(errors.New("packer.mount_point is not set"))
	}

	s.resolver, err = namespace.NewResolver(mount, packerconfig.DataRoot(c))
	if err != nil {
		return s, cmderr.Config(err)
	}

	s.instance = packerconfig.InstanceID(c)
	s.archiveUser = packerconfig.ArchiveUser(c)
	s.archiveMode = packerconfig.ArchiveMode(c)
	s.compression = packerconfig.Compression(c)
	s.loopDelay = packerconfig.LoopDelay(c)
	s.prefetchCapacity = packerconfig.PrefetchCapacity(c)
	s.prefetchTimeout = packerconfig.PrefetchTimeout(c)

	if dcapconfig.Enabled(c) {
		if _, _, err := dcap.ParseDoor(dcapconfig.Door(c)); err != nil {
			return s, cmderr.Config(fmt.Errorf("dcap.door: %w", err))
		}
	}

	if withGroups {
		s.groups, err = groupsconfig.Groups(c)
		if err != nil {
			return s, cmderr.Config(err)
		}
	}

	return s, nil
}
