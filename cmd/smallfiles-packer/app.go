package main

import (
	"context"
	"fmt"

	"github.com/nspcc-dev/smallfiles/cmd/smallfiles-packer/config"
	dcapconfig "github.com/nspcc-dev/smallfiles/cmd/smallfiles-packer/config/dcap"
	storeconfig "github.com/nspcc-dev/smallfiles/cmd/smallfiles-packer/config/store"
	"github.com/nspcc-dev/smallfiles/pkg/container"
	"github.com/nspcc-dev/smallfiles/pkg/dcap"
	"github.com/nspcc-dev/smallfiles/pkg/namespace"
	"github.com/nspcc-dev/smallfiles/pkg/recordstore"
	"github.com/nspcc-dev/smallfiles/pkg/recordstore/boltstore"
	"github.com/nspcc-dev/smallfiles/pkg/recordstore/mongostore"
	"github.com/nspcc-dev/smallfiles/pkg/recordstore/sqlstore"
	"github.com/nspcc-dev/smallfiles/pkg/util/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type app struct {
	cfg *config.Config
	settings
	log *zap.Logger
}

// newApp reads configuration and builds the logger.
func newApp(cmd *cobra.Command, withGroups bool) (*app, error) {
	c, err := readConfig(cmd)
	if err != nil {
		return nil, err
	}

	s, err := loadSettings(c, withGroups)
	if err != nil {
		return nil, err
	}

	l, err := logger.NewLogger(s.log)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if p := c.Path(); p != "" {
		l.Debug("configuration loaded", zap.String("path", p))
	}

	return &app{cfg: c, settings: s, log: l}, nil
}

// openStore connects to the configured record store and prepares it.
func (a *app) openStore(ctx context.Context) (recordstore.Store, error) {
	var (
		s   recordstore.Store
		log = a.log.With(zap.String("store", a.storeType))
	)

	switch a.storeType {
	case storeconfig.TypeMongo:
		s = mongostore.New(a.storeURI,
			mongostore.WithDatabase(a.storeDatabase),
			mongostore.WithTimeout(a.storeTimeout),
			mongostore.WithLogger(log),
		)
	case storeconfig.TypeBolt:
		s = boltstore.New(a.storePath,
			boltstore.WithLockTimeout(a.storeTimeout),
			boltstore.WithLogger(log),
		)
	case storeconfig.TypeMySQL:
		s = sqlstore.New(sqlstore.MySQL, a.storeURI,
			sqlstore.WithTimeout(a.storeTimeout),
			sqlstore.WithLogger(log),
		)
	case storeconfig.TypeSQLite:
		s = sqlstore.New(sqlstore.SQLite, a.storePath,
			sqlstore.WithTimeout(a.storeTimeout),
			sqlstore.WithLogger(log),
		)
	default:
		return nil, fmt.Errorf("unsupported store type %q", a.storeType)
	}

	if err := s.Open(ctx); err != nil {
		return nil, fmt.Errorf("open %s store: %w", a.storeType, err)
	}

	if err := s.Init(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("init %s store: %w", a.storeType, err)
	}

	return s, nil
}

func (a *app) dcapOptions() []dcap.Option {
	return append(doorOptions(a.cfg),
		dcap.WithLogger(a.log.With(zap.String("door", dcapconfig.Door(a.cfg)))),
	)
}

// factory returns the container factory writing through the door if
// it is enabled or into the local mount otherwise.
func (a *app) factory() *container.Factory {
	f := &container.Factory{
		Resolver:    a.resolver,
		User:        a.archiveUser,
		Mode:        a.archiveMode,
		Compression: a.compression,
		Log:         a.log,
	}

	if a.archiveUser != "" {
		f.Owners = namespace.NewOwners()
	}

	if dcapconfig.Enabled(a.cfg) {
		f.Sink = container.DoorSink{
			Door:       dcapconfig.Door(a.cfg),
			Options:    a.dcapOptions(),
			BufferSize: dcapconfig.ChunkSize(a.cfg),
		}
	}

	return f
}
