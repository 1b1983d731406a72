package config

import (
	"sort"
	"strings"

	"github.com/spf13/cast"
)

// Sub returns subsection of the Config by name.
//
// Returns empty subsection if it is missing.
func (x *Config) Sub(name string) *Config {
	return &Config{
		v:    x.v,
		path: append(x.path[:len(x.path):len(x.path)], name),
	}
}

// Value returns configuration value by name.
//
// Result can be casted to a particular type
// via corresponding function (e.g. StringSlice).
// Note: casting via Go `.()` operator is not
// recommended.
func (x *Config) Value(name string) any {
	return x.v.Get(x.key(name))
}

// IsSet checks whether the value is present in the file or ENV.
func (x *Config) IsSet(name string) bool {
	return x.v.IsSet(x.key(name))
}

// Keys returns sorted names of the values and subsections of the
// Config. Only values read from the file are listed.
func (x *Config) Keys() []string {
	var m map[string]any
	if len(x.path) == 0 {
		m = x.v.AllSettings()
	} else {
		m = cast.ToStringMap(x.v.Get(strings.Join(x.path, separator)))
	}

	res := make([]string, 0, len(m))
	for k := range m {
		res = append(res, k)
	}
	sort.Strings(res)

	return res
}

func (x *Config) key(name string) string {
	return strings.Join(append(x.path[:len(x.path):len(x.path)], name), separator)
}
