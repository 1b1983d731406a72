package config

import (
	"fmt"
	"strings"

	"github.com/nspcc-dev/smallfiles/cmd/smallfiles-packer/config/internal"
	"github.com/spf13/viper"
)

// Config represents a group of named values structured
// by tree type.
//
// Sub-trees are named configuration sub-sections,
// leaves are named configuration values.
// Names are of string type.
type Config struct {
	v *viper.Viper

	path []string
}

const separator = "."

// Option is a Config option.
type Option func(*opts)

type opts struct {
	path string
}

func defaultOpts() *opts {
	return new(opts)
}

// WithConfigFile returns option to read configuration from the file.
// Format is detected by the file extension.
func WithConfigFile(path string) Option {
	return func(o *opts) {
		o.path = path
	}
}

// New creates a new Config instance.
//
// If file option is provided (WithConfigFile),
// configuration values are read from it.
// Otherwise, Config is a degenerate tree filled from ENV only.
func New(opts ...Option) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix(internal.EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(separator, internal.EnvSeparator))

	o := defaultOpts()
	for i := range opts {
		opts[i](o)
	}

	if o.path != "" {
		v.SetConfigFile(o.path)

		err := v.ReadInConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	return &Config{
		v: v,
	}, nil
}

// Path returns the file the config was read from, empty if none.
func (x *Config) Path() string {
	return x.v.ConfigFileUsed()
}
